package telemetry

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/zhouzirui/z-relay/backend/internal/service/telemetry"

// Event names handed to the recorder.
const (
	GenerationStarted   = "generation.started"
	GenerationCompleted = "generation.completed"
	GenerationCancelled = "generation.cancelled"
	GenerationFailed    = "generation.failed"
	SessionCreated      = "session.created"
	SessionClosed       = "session.closed"
	RelayError          = "relay.error"
)

// Event is one structured observation from the call pipeline.
type Event struct {
	Name         string
	SessionID    string
	CallSid      string
	GenerationID uint64
	Reason       string
	Chunks       int
	Err          error
}

// Recorder logs events and counts them. The pipeline never depends on it
// succeeding.
type Recorder struct {
	events  metric.Int64Counter
	inbound metric.Int64Counter
	chunks  metric.Int64Counter
}

// knownInbound limits the cardinality of the inbound type label.
var knownInbound = map[string]bool{
	"setup": true, "prompt": true, "interrupt": true, "error": true,
	"dtmf": true, "ping": true, "heartbeat": true, "malformed": true,
}

// NewRecorder creates counters on the global meter provider.
func NewRecorder() *Recorder {
	meter := otel.Meter(scopeName)

	events, err := meter.Int64Counter("relay.events",
		metric.WithDescription("Pipeline events by name"))
	if err != nil {
		log.Printf("[telemetry] create events counter: %v", err)
	}
	inbound, err := meter.Int64Counter("relay.inbound.messages",
		metric.WithDescription("Inbound ConversationRelay messages by type"))
	if err != nil {
		log.Printf("[telemetry] create inbound counter: %v", err)
	}
	chunks, err := meter.Int64Counter("relay.outbound.chunks",
		metric.WithDescription("Text chunks sent to the relay"))
	if err != nil {
		log.Printf("[telemetry] create chunks counter: %v", err)
	}

	return &Recorder{events: events, inbound: inbound, chunks: chunks}
}

// Record logs e and counts it.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if r == nil {
		return
	}

	switch {
	case e.Err != nil:
		log.Printf("[telemetry] %s session=%s call=%s gen=%d reason=%s err=%v", e.Name, e.SessionID, e.CallSid, e.GenerationID, e.Reason, e.Err)
	case e.Name == GenerationCompleted:
		log.Printf("[telemetry] %s session=%s call=%s gen=%d chunks=%d", e.Name, e.SessionID, e.CallSid, e.GenerationID, e.Chunks)
	default:
		log.Printf("[telemetry] %s session=%s call=%s gen=%d reason=%s", e.Name, e.SessionID, e.CallSid, e.GenerationID, e.Reason)
	}

	if r.events != nil {
		r.events.Add(ctx, 1, metric.WithAttributes(attribute.String("event", e.Name)))
	}
	if r.chunks != nil && e.Chunks > 0 {
		r.chunks.Add(ctx, int64(e.Chunks))
	}
}

// Inbound counts one inbound message; unknown types share one label.
func (r *Recorder) Inbound(ctx context.Context, msgType string) {
	if r == nil || r.inbound == nil {
		return
	}
	if !knownInbound[msgType] {
		msgType = "other"
	}
	r.inbound.Add(ctx, 1, metric.WithAttributes(attribute.String("type", msgType)))
}
