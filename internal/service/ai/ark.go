package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/zhouzirui/z-relay/backend/internal/model/chat"
)

// ArkGenerator streams replies through an eino chain: prompt template, then
// the configured chat model.
type ArkGenerator struct {
	name    string
	timeout time.Duration
	chain   compose.Runnable[map[string]any, *schema.Message]
}

// NewArkGenerator compiles the chain around chatModel.
func NewArkGenerator(ctx context.Context, name string, chatModel model.BaseChatModel, timeout time.Duration) (*ArkGenerator, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ArkGenerator{name: name, timeout: timeout, chain: runnable}, nil
}

// Name identifies the backend in logs and spans.
func (g *ArkGenerator) Name() string {
	return "ark:" + g.name
}

// Stream implements Generator.
func (g *ArkGenerator) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithTimeoutCause(ctx, g.timeout, ErrTimeout)
		defer cancel()

		ctx, span := tracer.Start(ctx, "ark stream")
		defer span.End()
		span.SetAttributes(
			attribute.String("request.model", g.name),
			attribute.String("call.session_id", req.SessionID),
		)

		fail := func(err error) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield("", err)
		}
		finish := func() {
			if err := streamEnd(ctx); err != nil {
				fail(err)
			}
		}

		stream, err := g.chain.Stream(ctx, map[string]any{
			"system":  req.Instructions,
			"history": historyMessages(req.History),
			"query":   req.Input,
		})
		if err != nil {
			if ctx.Err() != nil {
				finish()
				return
			}
			fail(fmt.Errorf("failed to stream AI chain output: %w", err))
			return
		}
		defer stream.Close()

		for {
			chunk, recvErr := stream.Recv()
			if errors.Is(recvErr, io.EOF) {
				finish()
				return
			}
			if recvErr != nil {
				if ctx.Err() != nil {
					finish()
					return
				}
				fail(fmt.Errorf("ai stream recv failed: %w", recvErr))
				return
			}
			if ctx.Err() != nil {
				finish()
				return
			}
			if chunk == nil || chunk.Content == "" {
				continue
			}
			if !yield(chunk.Content, nil) {
				return
			}
		}
	}
}

func historyMessages(messages []chat.Message) []*schema.Message {
	messages = chat.Recent(messages, chat.HistoryLimit)
	if len(messages) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Sender {
		case chat.SenderUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.SenderAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
