package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-relay/backend/internal/config"
	"github.com/zhouzirui/z-relay/backend/internal/service/generation"
	"github.com/zhouzirui/z-relay/backend/internal/service/session"
	"github.com/zhouzirui/z-relay/backend/internal/service/telemetry"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Recorder observes relay traffic.
type Recorder interface {
	Record(ctx context.Context, e telemetry.Event)
	Inbound(ctx context.Context, msgType string)
}

// Handler serves the ConversationRelay WebSocket and the TwiML that points
// Twilio at it.
type Handler struct {
	registry   *session.Registry
	controller *generation.Controller
	recorder   Recorder
	cfg        config.RelayConfig
	upgrader   websocket.Upgrader
}

// New 创建 relay 处理器
func New(registry *session.Registry, controller *generation.Controller, recorder Recorder, cfg config.RelayConfig) *Handler {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Handler{
		registry:   registry,
		controller: controller,
		recorder:   recorder,
		cfg:        cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册 relay 路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
	r.Get("/twiml", h.handleTwiML)
	r.Post("/twiml", h.handleTwiML)
	r.Get("/sessions/{key}", h.handleSession)
}

type noopRecorder struct{}

func (noopRecorder) Record(context.Context, telemetry.Event) {}
func (noopRecorder) Inbound(context.Context, string)         {}
