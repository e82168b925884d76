package ai_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-relay/backend/internal/model/chat"
	"github.com/zhouzirui/z-relay/backend/internal/service/ai"
)

type fakeChatModel struct {
	mu     sync.Mutex
	input  []*schema.Message
	chunks []string
	err    error
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.record(input)
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(strings.Join(f.chunks, ""), nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.record(input)
	if f.err != nil {
		return nil, f.err
	}
	messages := make([]*schema.Message, 0, len(f.chunks))
	for _, chunk := range f.chunks {
		messages = append(messages, schema.AssistantMessage(chunk, nil))
	}
	return schema.StreamReaderFromArray(messages), nil
}

func (f *fakeChatModel) record(input []*schema.Message) {
	f.mu.Lock()
	f.input = input
	f.mu.Unlock()
}

func TestArkGeneratorStreamsChunks(t *testing.T) {
	fake := &fakeChatModel{chunks: []string{"Labas", "", " rytas."}}
	gen, err := ai.NewArkGenerator(context.Background(), "doubao-test", fake, time.Second)
	if err != nil {
		t.Fatalf("NewArkGenerator err: %v", err)
	}

	req := ai.NewPromptBuilder("Tu esi testas.").Build("s1", "", "lt-LT", "Sveiki", []chat.Message{
		{Sender: chat.SenderUser, Content: "Ankstesnis klausimas"},
		{Sender: chat.SenderAssistant, Content: "Ankstesnis atsakymas"},
	})

	got, err := collect(gen.Stream(context.Background(), req))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Labas rytas." {
		t.Fatalf("unexpected text %q", got)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.input) != 4 {
		t.Fatalf("expected system, history and query messages, got %d", len(fake.input))
	}
	if fake.input[0].Role != schema.System || !strings.HasPrefix(fake.input[0].Content, "Tu esi testas.") {
		t.Fatalf("unexpected system message %+v", fake.input[0])
	}
	if fake.input[3].Content != "Skambutis (s1). Vartotojas pasakė: Sveiki" {
		t.Fatalf("unexpected query %q", fake.input[3].Content)
	}
	if gen.Name() != "ark:doubao-test" {
		t.Fatalf("unexpected name %q", gen.Name())
	}
}

func TestArkGeneratorReportsModelFailure(t *testing.T) {
	fake := &fakeChatModel{err: errors.New("quota exhausted")}
	gen, err := ai.NewArkGenerator(context.Background(), "doubao-test", fake, time.Second)
	if err != nil {
		t.Fatalf("NewArkGenerator err: %v", err)
	}

	_, err = collect(gen.Stream(context.Background(), ai.Request{Input: "x"}))
	if err == nil || !strings.Contains(err.Error(), "quota exhausted") {
		t.Fatalf("expected model error, got %v", err)
	}
}

func TestNewArkGeneratorRequiresModel(t *testing.T) {
	if _, err := ai.NewArkGenerator(context.Background(), "x", nil, time.Second); err == nil {
		t.Fatal("expected error without chat model")
	}
}
