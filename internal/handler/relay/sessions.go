package relay

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-relay/backend/pkg/utils"
)

type sessionResponse struct {
	SessionID      string    `json:"sessionId"`
	CallSid        string    `json:"callSid"`
	Lang           string    `json:"lang"`
	GenerationID   uint64    `json:"generationId"`
	Busy           bool      `json:"busy"`
	Turns          int       `json:"turns"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// handleSession 返回单个通话的诊断信息，key 可以是 session id 或 call sid。
func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	s, ok := h.registry.Lookup(key)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	keys := s.Keys()
	utils.RespondJSON(w, http.StatusOK, sessionResponse{
		SessionID:      keys.SessionID,
		CallSid:        keys.CallSid,
		Lang:           s.Lang(),
		GenerationID:   s.GenerationID(),
		Busy:           s.Busy(),
		Turns:          len(s.History()) / 2,
		CreatedAt:      s.CreatedAt(),
		LastActivityAt: s.LastActivityAt(),
	})
}
