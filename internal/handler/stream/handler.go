package stream

import (
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/zhouzirui/z-relay/backend/internal/model/relay"
	"github.com/zhouzirui/z-relay/backend/internal/service/generation"
	"github.com/zhouzirui/z-relay/backend/internal/service/session"
	"github.com/zhouzirui/z-relay/backend/pkg/utils"
)

// Handler previews replies over Server-Sent Events: a prompt goes through the
// same controller a call uses and every chunk the caller would hear is
// streamed back.
type Handler struct {
	registry   *session.Registry
	controller *generation.Controller
}

// New creates a new stream handler
func New(registry *session.Registry, controller *generation.Controller) *Handler {
	return &Handler{registry: registry, controller: controller}
}

// RegisterRoutes 注册预览路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/preview", h.handlePreview)
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	Event     string `json:"event"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Lang      string `json:"lang,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	text := strings.Join(strings.Fields(r.URL.Query().Get("text")), " ")
	if text == "" {
		utils.RespondError(w, http.StatusBadRequest, "text query parameter is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	s, _ := h.registry.Resolve(session.Keys{SessionID: "preview_" + uuid.NewString()}, session.Keys{}, true)
	defer h.registry.Destroy(s, "preview finished")
	s.SetLang(r.URL.Query().Get("lang"))

	sink := newSSESink(w, flusher, s.ID())
	s.Bind(sink)

	utils.SetupSSEHeaders(w)
	sink.send(StreamResponse{Event: "start", SessionID: s.ID(), Lang: s.Lang()})

	ctx := r.Context()
	h.controller.Start(ctx, s, text)

	select {
	case <-sink.done:
		sink.send(StreamResponse{Event: "end", SessionID: s.ID(), Finished: true})
		log.Printf("[stream] preview %s finished", s.ID())
	case <-ctx.Done():
		log.Printf("[stream] preview %s abandoned by client", s.ID())
	}
}

// sseSink turns relay text messages into SSE frames and reports the last one.
type sseSink struct {
	w         http.ResponseWriter
	flusher   http.Flusher
	sessionID string

	done chan struct{}
	once sync.Once
}

func newSSESink(w http.ResponseWriter, flusher http.Flusher, sessionID string) *sseSink {
	return &sseSink{w: w, flusher: flusher, sessionID: sessionID, done: make(chan struct{})}
}

func (s *sseSink) WriteJSON(v any) error {
	msg, ok := v.(relay.TextMessage)
	if !ok {
		return nil
	}
	if err := s.send(StreamResponse{
		Event:     "chunk",
		Content:   msg.Token,
		SessionID: s.sessionID,
		Lang:      msg.Lang,
		Finished:  msg.Last,
	}); err != nil {
		return err
	}
	if msg.Last {
		s.once.Do(func() { close(s.done) })
	}
	return nil
}

func (s *sseSink) send(resp StreamResponse) error {
	err := utils.SendSSEEvent(s.w, s.flusher, resp.Event, resp)
	if err != nil {
		log.Printf("[stream] failed to send SSE event: %v", err)
	}
	return err
}
