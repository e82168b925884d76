package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/zhouzirui/z-relay/backend/internal/model/chat"
)

const (
	defaultResponsesBaseURL = "https://api.openai.com/v1"
	defaultTimeout          = 25 * time.Second

	doneSentinel = "[DONE]"
)

// ResponsesConfig configures the OpenAI Responses backend.
type ResponsesConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the instrumented default client.
	HTTPClient *http.Client
}

// ResponsesGenerator streams replies from the OpenAI Responses API.
type ResponsesGenerator struct {
	cfg    ResponsesConfig
	client *http.Client
}

// NewResponsesGenerator creates a generator; unset fields fall back to defaults.
func NewResponsesGenerator(cfg ResponsesConfig) *ResponsesGenerator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultResponsesBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return operation + " " + r.URL.Path
			}),
		)}
	}

	return &ResponsesGenerator{cfg: cfg, client: client}
}

// Name identifies the backend in logs and spans.
func (g *ResponsesGenerator) Name() string {
	return "openai:" + g.cfg.Model
}

type responsesRequest struct {
	Model  string           `json:"model"`
	Stream bool             `json:"stream"`
	Input  []responsesInput `json:"input"`
}

type responsesInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// streamEvent covers every event shape the adapter understands.
type streamEvent struct {
	Type    string `json:"type"`
	Delta   string `json:"delta"`
	Text    string `json:"text"`
	Message string `json:"message"`

	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`

	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Response *struct {
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"response"`
}

// Stream implements Generator.
func (g *ResponsesGenerator) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithTimeoutCause(ctx, g.cfg.Timeout, ErrTimeout)
		defer cancel()

		ctx, span := tracer.Start(ctx, "responses stream")
		defer span.End()
		span.SetAttributes(
			attribute.String("request.model", g.cfg.Model),
			attribute.String("call.session_id", req.SessionID),
			attribute.String("call.sid", req.CallSid),
		)

		fail := func(err error) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield("", err)
		}
		// finish ends the sequence after ctx expired: silently when the caller
		// cancelled, with ErrTimeout when our own budget ran out.
		finish := func() {
			if err := streamEnd(ctx); err != nil {
				fail(err)
			}
		}

		payload, err := json.Marshal(responsesRequest{
			Model:  g.cfg.Model,
			Stream: true,
			Input:  buildResponsesInput(req),
		})
		if err != nil {
			fail(fmt.Errorf("marshal responses request: %w", err))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/responses", bytes.NewReader(payload))
		if err != nil {
			fail(fmt.Errorf("create responses request: %w", err))
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

		resp, err := g.client.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				finish()
				return
			}
			fail(fmt.Errorf("send responses request: %w", err))
			return
		}
		defer resp.Body.Close()

		span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			fail(&StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))})
			return
		}

		frames := newFrameReader(resp.Body)
		sawText := false
		deltas := 0
		for {
			if ctx.Err() != nil {
				finish()
				return
			}

			frame, err := frames.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if ctx.Err() != nil {
					finish()
					return
				}
				fail(fmt.Errorf("read responses stream: %w", err))
				return
			}

			for _, data := range frame {
				if data == doneSentinel {
					span.SetAttributes(attribute.Int("response.deltas", deltas))
					return
				}

				var event streamEvent
				if err := json.Unmarshal([]byte(data), &event); err != nil {
					continue
				}

				text, seen, err := event.text(sawText)
				if err != nil {
					fail(err)
					return
				}
				if seen {
					sawText = true
				}
				if text == "" {
					continue
				}
				if deltas == 0 {
					span.AddEvent("received first delta")
				}
				deltas++
				if ctx.Err() != nil {
					finish()
					return
				}
				if !yield(text, nil) {
					return
				}
			}
		}

		if ctx.Err() != nil {
			finish()
			return
		}
		span.SetAttributes(attribute.Int("response.deltas", deltas))
		if deltas == 0 {
			log.Printf("[ai] responses stream for session=%s ended without text", req.SessionID)
		}
	}
}

// text extracts the reply text an event carries. seen reports whether the
// event carried reply text at all; full-text events only count while nothing
// has been seen, so the same text is never spoken twice.
func (e *streamEvent) text(sawText bool) (text string, seen bool, err error) {
	switch e.Type {
	case "response.output_text.delta":
		return e.Delta, e.Delta != "", nil
	case "response.output_text", "response.output_text.done":
		if sawText {
			return "", false, nil
		}
		return e.Text, e.Text != "", nil
	case "error", "response.failed":
		return "", false, e.failure()
	}

	if len(e.Choices) > 0 && e.Choices[0].Delta.Content != "" {
		return e.Choices[0].Delta.Content, true, nil
	}
	return "", false, nil
}

func (e *streamEvent) failure() error {
	message, code := e.Message, ""
	switch {
	case e.Error != nil && e.Error.Message != "":
		message, code = e.Error.Message, e.Error.Code
	case e.Response != nil && e.Response.Error != nil:
		message, code = e.Response.Error.Message, e.Response.Error.Code
	}
	if message == "" {
		message = "unknown error"
	}
	if code != "" {
		return fmt.Errorf("backend stream %s: %s (%s)", e.Type, message, code)
	}
	return fmt.Errorf("backend stream %s: %s", e.Type, message)
}

func buildResponsesInput(req Request) []responsesInput {
	input := make([]responsesInput, 0, len(req.History)+2)
	if req.Instructions != "" {
		input = append(input, responsesInput{Role: "system", Content: req.Instructions})
	}
	for _, msg := range chat.Recent(req.History, chat.HistoryLimit) {
		switch msg.Sender {
		case chat.SenderUser:
			input = append(input, responsesInput{Role: "user", Content: msg.Content})
		case chat.SenderAssistant:
			input = append(input, responsesInput{Role: "assistant", Content: msg.Content})
		}
	}
	return append(input, responsesInput{Role: "user", Content: req.Input})
}
