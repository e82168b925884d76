package ai

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"go.opentelemetry.io/otel"

	"github.com/zhouzirui/z-relay/backend/internal/model/chat"
)

const scopeName = "github.com/zhouzirui/z-relay/backend/internal/service/ai"

var tracer = otel.Tracer(scopeName)

// ErrTimeout ends a stream whose backend exceeded the generation budget.
var ErrTimeout = errors.New("generation timed out")

// Request is one reply to produce for a caller utterance.
type Request struct {
	SessionID    string
	CallSid      string
	Lang         string
	Instructions string
	History      []chat.Message
	// Input is the user content as sent to the backend.
	Input string
}

// Generator streams reply text for a request.
//
// The sequence yields text deltas in order. It ends without an error when the
// backend finished or ctx was cancelled by the caller, with ErrTimeout when the
// backend ran out of time, and with any other error when the backend failed.
type Generator interface {
	Stream(ctx context.Context, req Request) iter.Seq2[string, error]
	Name() string
}

// StatusError reports a non-success HTTP response from a backend.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Body)
}

// streamEnd classifies a finished context: ErrTimeout for our own deadline,
// nil for a cancellation that came from the caller.
func streamEnd(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	if errors.Is(context.Cause(ctx), ErrTimeout) {
		return ErrTimeout
	}
	return nil
}
