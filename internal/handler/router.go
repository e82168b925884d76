package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/z-relay/backend/internal/handler/relay"
	"github.com/zhouzirui/z-relay/backend/internal/handler/stream"
	"github.com/zhouzirui/z-relay/backend/pkg/utils"
)

const banner = "z-relay running. Use /twiml and /health"

// NewRouter wires HTTP routes to the relay. metrics may be nil when metrics
// are disabled.
func NewRouter(relayHandler *relay.Handler, previewHandler *stream.Handler, metrics http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondText(w, http.StatusOK, banner)
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondText(w, http.StatusOK, "ok")
	})

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	relayHandler.RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		previewHandler.RegisterRoutes(api)
	})

	return r
}
