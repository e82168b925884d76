package ai_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zhouzirui/z-relay/backend/internal/model/chat"
	"github.com/zhouzirui/z-relay/backend/internal/service/ai"
	"github.com/zhouzirui/z-relay/backend/pkg/utils"
)

type sseFrame struct {
	event string
	data  any
	raw   string
}

func delta(text string) sseFrame {
	return sseFrame{event: "response.output_text.delta", data: map[string]string{"type": "response.output_text.delta", "delta": text}}
}

func rawData(data string) sseFrame {
	return sseFrame{raw: data}
}

func newSSEServer(t *testing.T, frames ...sseFrame) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		utils.SetupSSEHeaders(w)
		for _, frame := range frames {
			var err error
			if frame.data != nil {
				err = utils.SendSSEEvent(w, flusher, frame.event, frame.data)
			} else {
				err = utils.SendSSEData(w, flusher, frame.raw)
			}
			if err != nil {
				t.Errorf("write frame: %v", err)
				return
			}
		}
	}))
}

func collect(seq func(func(string, error) bool)) (string, error) {
	var b strings.Builder
	for text, err := range seq {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

func newGenerator(url string, timeout time.Duration) *ai.ResponsesGenerator {
	return ai.NewResponsesGenerator(ai.ResponsesConfig{
		APIKey:     "test-key",
		Model:      "gpt-test",
		BaseURL:    url,
		Timeout:    timeout,
		HTTPClient: http.DefaultClient,
	})
}

func TestResponsesStreamsDeltasUntilSentinel(t *testing.T) {
	var captured struct {
		Model  string `json:"model"`
		Stream bool   `json:"stream"`
		Input  []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"input"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/responses" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode body: %v", err)
		}

		flusher, _ := w.(http.Flusher)
		utils.SetupSSEHeaders(w)
		_ = utils.SendSSEEvent(w, flusher, "response.created", map[string]string{"type": "response.created"})
		_ = utils.SendSSEEvent(w, flusher, "response.output_text.delta", map[string]string{"type": "response.output_text.delta", "delta": "Labas"})
		_ = utils.SendSSEData(w, flusher, "{not json")
		_ = utils.SendSSEEvent(w, flusher, "response.output_text.delta", map[string]string{"type": "response.output_text.delta", "delta": " rytas"})
		_ = utils.SendSSEData(w, flusher, "[DONE]")
		_ = utils.SendSSEEvent(w, flusher, "response.output_text.delta", map[string]string{"type": "response.output_text.delta", "delta": " po pabaigos"})
	}))
	defer srv.Close()

	req := ai.NewPromptBuilder("").Build("s1", "CA1", "lt-LT", "Labas", []chat.Message{
		{Sender: chat.SenderUser, Content: "Sveiki"},
		{Sender: chat.SenderAssistant, Content: "Sveiki, kuo galiu padėti?"},
	})

	got, err := collect(newGenerator(srv.URL, time.Second).Stream(context.Background(), req))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Labas rytas" {
		t.Fatalf("unexpected text %q", got)
	}

	if captured.Model != "gpt-test" || !captured.Stream {
		t.Fatalf("unexpected request %+v", captured)
	}
	if len(captured.Input) != 4 {
		t.Fatalf("expected system, two history turns and the user message, got %d", len(captured.Input))
	}
	if captured.Input[0].Role != "system" || captured.Input[2].Role != "assistant" {
		t.Fatalf("unexpected roles %+v", captured.Input)
	}
	if last := captured.Input[3]; last.Content != "Skambutis (CA1). Vartotojas pasakė: Labas" {
		t.Fatalf("unexpected user content %q", last.Content)
	}
}

func TestResponsesFullTextFallback(t *testing.T) {
	t.Run("used without deltas", func(t *testing.T) {
		srv := newSSEServer(t,
			sseFrame{event: "response.output_text.done", data: map[string]string{"type": "response.output_text.done", "text": "Sveiki."}},
		)
		defer srv.Close()

		got, err := collect(newGenerator(srv.URL, time.Second).Stream(context.Background(), ai.Request{Input: "x"}))
		if err != nil || got != "Sveiki." {
			t.Fatalf("got %q, %v", got, err)
		}
	})

	t.Run("ignored after deltas", func(t *testing.T) {
		srv := newSSEServer(t,
			delta("Sveiki."),
			sseFrame{event: "response.output_text.done", data: map[string]string{"type": "response.output_text.done", "text": "Sveiki."}},
		)
		defer srv.Close()

		got, err := collect(newGenerator(srv.URL, time.Second).Stream(context.Background(), ai.Request{Input: "x"}))
		if err != nil || got != "Sveiki." {
			t.Fatalf("got %q, %v", got, err)
		}
	})
}

func TestResponsesChatCompletionsShape(t *testing.T) {
	srv := newSSEServer(t,
		rawData(`{"choices":[{"delta":{"content":"Labas"}}]}`),
		rawData(`{"choices":[{"delta":{"content":"!"}}]}`),
		rawData("[DONE]"),
	)
	defer srv.Close()

	got, err := collect(newGenerator(srv.URL, time.Second).Stream(context.Background(), ai.Request{Input: "x"}))
	if err != nil || got != "Labas!" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestResponsesUnrecognizedEventsYieldNothing(t *testing.T) {
	srv := newSSEServer(t,
		rawData(`{"type":"response.in_progress"}`),
		rawData(`{"type":"something.else","payload":{"text":"nope"}}`),
	)
	defer srv.Close()

	got, err := collect(newGenerator(srv.URL, time.Second).Stream(context.Background(), ai.Request{Input: "x"}))
	if err != nil || got != "" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestResponsesStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		utils.RespondError(w, http.StatusTooManyRequests, "slow down")
	}))
	defer srv.Close()

	_, err := collect(newGenerator(srv.URL, time.Second).Stream(context.Background(), ai.Request{Input: "x"}))
	var statusErr *ai.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusTooManyRequests || !strings.Contains(statusErr.Body, "slow down") {
		t.Fatalf("unexpected status error %+v", statusErr)
	}
}

func TestResponsesErrorEvent(t *testing.T) {
	srv := newSSEServer(t,
		delta("Lab"),
		rawData(`{"type":"error","code":"rate_limit_exceeded","message":"too many requests"}`),
	)
	defer srv.Close()

	got, err := collect(newGenerator(srv.URL, time.Second).Stream(context.Background(), ai.Request{Input: "x"}))
	if err == nil || !strings.Contains(err.Error(), "too many requests") {
		t.Fatalf("expected stream error, got %v", err)
	}
	if got != "Lab" {
		t.Fatalf("expected text before the error, got %q", got)
	}
}

func blockingServer(first string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		utils.SetupSSEHeaders(w)
		_ = utils.SendSSEEvent(w, flusher, "", map[string]string{"type": "response.output_text.delta", "delta": first})
		<-r.Context().Done()
	}))
}

func TestResponsesTimeout(t *testing.T) {
	srv := blockingServer("Pala")
	defer srv.Close()

	got, err := collect(newGenerator(srv.URL, 50*time.Millisecond).Stream(context.Background(), ai.Request{Input: "x"}))
	if !errors.Is(err, ai.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if got != "Pala" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestResponsesExternalCancelIsSilent(t *testing.T) {
	srv := blockingServer("Pala")
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var deltas []string
	for text, err := range newGenerator(srv.URL, 5*time.Second).Stream(ctx, ai.Request{Input: "x"}) {
		if err != nil {
			t.Fatalf("cancellation must not surface as an error, got %v", err)
		}
		deltas = append(deltas, text)
		cancel()
	}
	if len(deltas) != 1 {
		t.Fatalf("expected exactly one delta, got %v", deltas)
	}
}

func TestResponsesTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := collect(newGenerator(url, time.Second).Stream(context.Background(), ai.Request{Input: "x"}))
	if err == nil || errors.Is(err, ai.ErrTimeout) || errors.Is(err, io.EOF) {
		t.Fatalf("expected a request error, got %v", err)
	}
}
