package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/z-relay/backend/internal/model/chat"
)

var (
	// ErrStale is returned by Send when a newer generation (or a cancel) has
	// advanced the session past the caller's generation id.
	ErrStale = errors.New("generation is no longer current")
	// ErrChannelClosed is returned once the call's channel is gone.
	ErrChannelClosed = errors.New("outbound channel closed")
	// ErrNoChannel is returned when nothing is bound to receive output yet.
	ErrNoChannel = errors.New("no outbound channel bound")
	// ErrClosed is the cancellation cause used when a session is destroyed.
	ErrClosed = errors.New("session closed")
)

// Keys identifies a call. Either field may be empty until the relay reveals it.
type Keys struct {
	SessionID string
	CallSid   string
}

// IsZero reports whether no identifier is known.
func (k Keys) IsZero() bool {
	return k.SessionID == "" && k.CallSid == ""
}

func (k Keys) String() string {
	return fmt.Sprintf("session=%s call=%s", orDash(k.SessionID), orDash(k.CallSid))
}

func (k Keys) trimmed() Keys {
	return Keys{SessionID: strings.TrimSpace(k.SessionID), CallSid: strings.TrimSpace(k.CallSid)}
}

// Sink receives outbound protocol messages for one call.
type Sink interface {
	WriteJSON(v any) error
}

// Session is the per-call state shared by the dispatcher and the generation
// running for the call. Identity and activity timestamps are guarded by meta,
// everything else by mu. Send holds mu across the sink write, so the registry
// only ever takes meta.
type Session struct {
	meta           sync.Mutex
	keys           Keys
	createdAt      time.Time
	lastActivityAt time.Time

	mu sync.Mutex

	lang   string
	prompt strings.Builder

	generationID uint64
	cancel       context.CancelCauseFunc

	history []chat.Message
	sink    Sink
	closed  bool
}

func newSession(keys Keys, lang string, now time.Time) *Session {
	return &Session{
		keys:           keys,
		lang:           lang,
		createdAt:      now,
		lastActivityAt: now,
	}
}

// Keys returns the identifiers bound so far.
func (s *Session) Keys() Keys {
	s.meta.Lock()
	defer s.meta.Unlock()
	return s.keys
}

// ID returns the best identifier for logs: the session id, else the call sid.
func (s *Session) ID() string {
	keys := s.Keys()
	if keys.SessionID != "" {
		return keys.SessionID
	}
	return keys.CallSid
}

func (s *Session) setKeys(keys Keys) {
	s.meta.Lock()
	s.keys = keys
	s.meta.Unlock()
}

// Lang returns the language replies are produced in.
func (s *Session) Lang() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lang
}

// SetLang switches the reply language; empty values are ignored.
func (s *Session) SetLang(lang string) {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return
	}
	s.mu.Lock()
	s.lang = lang
	s.mu.Unlock()
}

// CreatedAt returns when the session was first resolved.
func (s *Session) CreatedAt() time.Time {
	s.meta.Lock()
	defer s.meta.Unlock()
	return s.createdAt
}

// LastActivityAt returns the last time the registry resolved the session.
func (s *Session) LastActivityAt() time.Time {
	s.meta.Lock()
	defer s.meta.Unlock()
	return s.lastActivityAt
}

func (s *Session) touch(now time.Time) {
	s.meta.Lock()
	s.lastActivityAt = now
	s.meta.Unlock()
}

// AppendPrompt adds a partial transcript fragment to the pending utterance.
func (s *Session) AppendPrompt(fragment string) {
	if fragment == "" {
		return
	}
	s.mu.Lock()
	s.prompt.WriteString(fragment)
	s.mu.Unlock()
}

// PendingPrompt returns the buffered utterance without consuming it.
func (s *Session) PendingPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompt.String()
}

// TakePrompt returns the buffered utterance with whitespace collapsed and
// clears the buffer.
func (s *Session) TakePrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	text := strings.Join(strings.Fields(s.prompt.String()), " ")
	s.prompt.Reset()
	return text
}

// ClearPrompt discards the buffered utterance.
func (s *Session) ClearPrompt() {
	s.mu.Lock()
	s.prompt.Reset()
	s.mu.Unlock()
}

// GenerationID returns the current generation counter.
func (s *Session) GenerationID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generationID
}

// Busy reports whether a generation currently owns the session.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// BeginGeneration supersedes the running generation, if any, with cause and
// starts a new one. It returns the new generation's context and id, and the id
// of the generation it replaced (zero when the session was idle).
func (s *Session) BeginGeneration(parent context.Context, cause error) (ctx context.Context, id, superseded uint64) {
	ctx, cancel := context.WithCancelCause(parent)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel(cause)
		superseded = s.generationID
	}
	s.generationID++
	id = s.generationID

	if s.closed {
		s.cancel = nil
		cancel(ErrChannelClosed)
		return ctx, id, superseded
	}
	s.cancel = cancel
	return ctx, id, superseded
}

// CancelGeneration signals the active generation with cause and advances the
// generation id so none of its pending output can be sent. ok is false when
// the session was idle.
func (s *Session) CancelGeneration(cause error) (cancelled uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(cause)
}

func (s *Session) cancelLocked(cause error) (uint64, bool) {
	if s.cancel == nil {
		return 0, false
	}
	cancelled := s.generationID
	s.cancel(cause)
	s.cancel = nil
	s.generationID++
	return cancelled, true
}

// FinishGeneration releases the handle if generation id still owns it.
func (s *Session) FinishGeneration(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generationID != id || s.cancel == nil {
		return false
	}
	s.cancel(nil)
	s.cancel = nil
	return true
}

// Bind attaches the outbound channel.
func (s *Session) Bind(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.sink = sink
}

// Send writes v for generation id. The id check and the write happen under
// the session lock, so once CancelGeneration or BeginGeneration has returned
// no message of an older generation can reach the channel.
func (s *Session) Send(id uint64, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generationID != id {
		return ErrStale
	}
	return s.writeLocked(v)
}

// Reply writes v outside any generation (greetings, fallbacks for empty
// prompts).
func (s *Session) Reply(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(v)
}

func (s *Session) writeLocked(v any) error {
	if s.closed {
		return ErrChannelClosed
	}
	if s.sink == nil {
		return ErrNoChannel
	}
	if err := s.sink.WriteJSON(v); err != nil {
		return fmt.Errorf("write outbound message: %w", err)
	}
	return nil
}

// History returns the most recent completed turns of this call.
func (s *Session) History() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	recent := chat.Recent(s.history, chat.HistoryLimit)
	copied := make([]chat.Message, len(recent))
	copy(copied, recent)
	return copied
}

// RecordTurn appends a completed exchange to the call history.
func (s *Session) RecordTurn(userText, assistantText string) {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.history = append(s.history,
		chat.Message{Sender: chat.SenderUser, Content: userText, CreatedAt: now},
		chat.Message{Sender: chat.SenderAssistant, Content: assistantText, CreatedAt: now},
	)
	s.history = chat.Recent(s.history, chat.HistoryLimit)
}

// Closed reports whether the session has been destroyed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// shutdown cancels any generation and marks the channel closed.
func (s *Session) shutdown(cause error) (cancelled uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancelled, ok = s.cancelLocked(cause)
	s.closed = true
	s.sink = nil
	s.prompt.Reset()
	s.history = nil
	return cancelled, ok
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
