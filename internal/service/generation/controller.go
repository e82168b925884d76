package generation

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zhouzirui/z-relay/backend/internal/config"
	"github.com/zhouzirui/z-relay/backend/internal/service/ai"
	"github.com/zhouzirui/z-relay/backend/internal/service/session"
	"github.com/zhouzirui/z-relay/backend/internal/service/telemetry"
	"github.com/zhouzirui/z-relay/backend/internal/textproc"
)

const scopeName = "github.com/zhouzirui/z-relay/backend/internal/service/generation"

var tracer = otel.Tracer(scopeName)

// Cancellation causes.
var (
	ErrSuperseded  = errors.New("superseded by a newer prompt")
	ErrInterrupted = errors.New("interrupted by caller")
)

// EventRecorder receives pipeline events for observability.
type EventRecorder interface {
	Record(ctx context.Context, e telemetry.Event)
}

// Config wires a Controller.
type Config struct {
	Generator ai.Generator
	Prompts   *ai.PromptBuilder
	Segmenter *textproc.Segmenter
	Recorder  EventRecorder
	Phrases   config.Phrases
}

// Controller runs at most one generation per session and streams its output
// to the session's channel.
type Controller struct {
	gen      ai.Generator
	prompts  *ai.PromptBuilder
	seg      *textproc.Segmenter
	recorder EventRecorder
	phrases  config.Phrases

	wg sync.WaitGroup
}

// NewController creates a controller; unset collaborators get defaults.
func NewController(cfg Config) *Controller {
	if cfg.Prompts == nil {
		cfg.Prompts = ai.NewPromptBuilder("")
	}
	if cfg.Segmenter == nil {
		cfg.Segmenter = textproc.NewSegmenter(textproc.DefaultSegmenterConfig())
	}
	if cfg.Phrases.Repeat == "" {
		cfg.Phrases.Repeat = config.DefaultRepeat
	}
	if cfg.Phrases.Apology == "" {
		cfg.Phrases.Apology = config.DefaultApology
	}
	return &Controller{
		gen:      cfg.Generator,
		prompts:  cfg.Prompts,
		seg:      cfg.Segmenter,
		recorder: cfg.Recorder,
		phrases:  cfg.Phrases,
	}
}

// Start supersedes the session's running generation and starts a new one for
// input in the background. It returns the new generation id.
func (c *Controller) Start(ctx context.Context, s *session.Session, input string) uint64 {
	genCtx, id, superseded := s.BeginGeneration(ctx, ErrSuperseded)
	if superseded > 0 {
		log.Printf("[generation] %s: generation %d superseded by %d", s.Keys(), superseded, id)
	}

	c.wg.Add(1)
	go c.run(genCtx, s, id, input)
	return id
}

// Cancel stops the session's running generation, if any.
func (c *Controller) Cancel(s *session.Session, cause error) (uint64, bool) {
	id, ok := s.CancelGeneration(cause)
	if ok {
		log.Printf("[generation] %s: generation %d cancelled: %v", s.Keys(), id, cause)
	}
	return id, ok
}

// Wait blocks until every started generation has returned.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) run(ctx context.Context, s *session.Session, id uint64, input string) {
	defer c.wg.Done()
	defer s.FinishGeneration(id)

	keys := s.Keys()
	lang := s.Lang()

	ctx, span := tracer.Start(ctx, "relay.generation", trace.WithAttributes(
		attribute.String("call.session_id", keys.SessionID),
		attribute.String("call.sid", keys.CallSid),
		attribute.Int64("generation.id", int64(id)),
		attribute.String("generation.backend", c.gen.Name()),
		attribute.String("generation.lang", lang),
	))
	defer span.End()

	base := telemetry.Event{SessionID: keys.SessionID, CallSid: keys.CallSid, GenerationID: id}
	c.record(ctx, base, telemetry.GenerationStarted)

	out := &emitter{session: s, id: id, lang: lang}
	req := c.prompts.Build(keys.SessionID, keys.CallSid, lang, input, s.History())

	var (
		buffer    string
		reply     strings.Builder
		streamErr error
	)
	for delta, err := range c.gen.Stream(ctx, req) {
		if err != nil {
			streamErr = err
			break
		}
		if ctx.Err() != nil {
			break
		}
		reply.WriteString(delta)
		buffer += delta

		var sendErr error
		if buffer, sendErr = c.drain(out, buffer, false); sendErr != nil {
			c.abandon(ctx, span, base, sendErr)
			return
		}
	}

	if ctx.Err() != nil {
		c.abandon(ctx, span, base, context.Cause(ctx))
		return
	}

	timedOut := errors.Is(streamErr, ai.ErrTimeout)
	if streamErr == nil || timedOut {
		if _, err := c.drain(out, buffer, true); err != nil {
			c.abandon(ctx, span, base, err)
			return
		}
	}

	switch {
	case streamErr == nil:
		if err := out.finish(c.phrases.Repeat); err != nil {
			c.abandon(ctx, span, base, err)
			return
		}
		if text := strings.TrimSpace(reply.String()); text != "" {
			s.RecordTurn(input, text)
		}
		span.SetAttributes(attribute.Int("generation.chunks", out.sent))
		completed := base
		completed.Chunks = out.sent
		c.record(ctx, completed, telemetry.GenerationCompleted)

	case timedOut && out.produced():
		// 已经开始播报：把已有内容作为最后一段发出，不再追加道歉。
		if err := out.finish(c.phrases.Repeat); err != nil {
			c.abandon(ctx, span, base, err)
			return
		}
		c.fail(ctx, span, base, out, streamErr)

	default:
		if err := out.fail(c.phrases.Apology); err != nil {
			c.abandon(ctx, span, base, err)
			return
		}
		c.fail(ctx, span, base, out, streamErr)
	}
}

// drain cuts every available chunk out of buffer and hands it to out.
func (c *Controller) drain(out *emitter, buffer string, force bool) (string, error) {
	for {
		chunk, rest, ok := c.seg.Next(buffer, force)
		if !ok {
			return rest, nil
		}
		buffer = rest
		if err := out.push(chunk); err != nil {
			return buffer, err
		}
	}
}

func (c *Controller) fail(ctx context.Context, span trace.Span, base telemetry.Event, out *emitter, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	failed := base
	failed.Err = err
	failed.Chunks = out.sent
	failed.Reason = "backend"
	if errors.Is(err, ai.ErrTimeout) {
		failed.Reason = "timeout"
	}
	c.record(ctx, failed, telemetry.GenerationFailed)
}

// abandon ends a generation that lost its right to speak. Nothing is sent.
func (c *Controller) abandon(ctx context.Context, span trace.Span, base telemetry.Event, cause error) {
	reason := cancelReason(cause)
	span.SetAttributes(attribute.String("generation.cancel_reason", reason))
	cancelled := base
	cancelled.Reason = reason
	c.record(context.WithoutCancel(ctx), cancelled, telemetry.GenerationCancelled)
}

func (c *Controller) record(ctx context.Context, e telemetry.Event, name string) {
	if c.recorder == nil {
		return
	}
	e.Name = name
	c.recorder.Record(ctx, e)
}

func cancelReason(cause error) string {
	switch {
	case cause == nil:
		return "cancelled"
	case errors.Is(cause, ErrSuperseded):
		return "superseded"
	case errors.Is(cause, ErrInterrupted):
		return "interrupted"
	case errors.Is(cause, session.ErrClosed), errors.Is(cause, session.ErrChannelClosed):
		return "closed"
	case errors.Is(cause, session.ErrStale):
		return "stale"
	case errors.Is(cause, context.Canceled):
		return "cancelled"
	default:
		return cause.Error()
	}
}
