package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	relayModel "github.com/zhouzirui/z-relay/backend/internal/model/relay"
	"github.com/zhouzirui/z-relay/backend/internal/service/generation"
	"github.com/zhouzirui/z-relay/backend/internal/service/session"
	"github.com/zhouzirui/z-relay/backend/internal/service/telemetry"
)

// connSink serializes writes to one WebSocket.
type connSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *connSink) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

func (c *connSink) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// connection is the dispatcher state of one relay WebSocket. Messages are
// handled one at a time in arrival order.
type connection struct {
	h       *Handler
	sink    *connSink
	session *session.Session
	bound   session.Keys
}

// handleWebSocket 处理 ConversationRelay 连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[relay] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[relay] new connection from %s", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &connection{h: h, sink: &connSink{conn: conn}}
	defer c.close(ctx)

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go c.pingLoop(ctx)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[relay] read error: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		var msg relayModel.InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			h.recorder.Inbound(ctx, "malformed")
			log.Printf("[relay] skipping malformed message (%d bytes)", len(data))
			continue
		}
		h.recorder.Inbound(ctx, msg.Type)
		c.dispatch(ctx, &msg)
	}
}

func (c *connection) dispatch(ctx context.Context, msg *relayModel.InboundMessage) {
	switch msg.Type {
	case relayModel.TypeSetup:
		c.handleSetup(ctx, msg)
	case relayModel.TypePrompt:
		c.handlePrompt(ctx, msg)
	case relayModel.TypeInterrupt:
		c.handleInterrupt(msg)
	case relayModel.TypeError:
		c.handleError(ctx, msg)
	case relayModel.TypePing, relayModel.TypeHeartbeat:
	default:
		log.Printf("[relay] ignoring %q message (%s)", msg.Type, c.bound)
	}
}

// resolve finds the session for msg and binds this connection to it.
func (c *connection) resolve(ctx context.Context, msg *relayModel.InboundMessage, create bool) *session.Session {
	sessionID, callSid := msg.Identifiers()
	s, created := c.h.registry.Resolve(session.Keys{SessionID: sessionID, CallSid: callSid}, c.bound, create)
	if s == nil {
		return nil
	}
	if s != c.session {
		c.session = s
		s.Bind(c.sink)
	}
	c.bound = s.Keys()

	if created {
		log.Printf("[relay] session created %s", c.bound)
		c.h.recorder.Record(ctx, telemetry.Event{
			Name:      telemetry.SessionCreated,
			SessionID: c.bound.SessionID,
			CallSid:   c.bound.CallSid,
			Reason:    msg.Type,
		})
	}
	return s
}

func (c *connection) handleSetup(ctx context.Context, msg *relayModel.InboundMessage) {
	s := c.resolve(ctx, msg, true)
	log.Printf("[relay] setup %s", c.bound)

	lang := s.Lang()
	if c.h.cfg.SendLanguageOnSetup {
		if err := s.Reply(relayModel.NewLanguage(lang)); err != nil {
			log.Printf("[relay] send language: %v", err)
		}
	}
	if c.h.cfg.GreetOnSetup && c.h.cfg.Welcome != "" {
		if err := s.Reply(relayModel.NewText(c.h.cfg.Welcome, true, lang)); err != nil {
			log.Printf("[relay] send greeting: %v", err)
		}
	}
}

func (c *connection) handlePrompt(ctx context.Context, msg *relayModel.InboundMessage) {
	s := c.resolve(ctx, msg, true)
	s.SetLang(msg.Lang)
	s.AppendPrompt(msg.UserText())
	if !msg.IsFinal() {
		return
	}

	text := s.TakePrompt()
	if text == "" {
		if err := s.Reply(relayModel.NewText(c.h.cfg.Phrases.Silence, true, s.Lang())); err != nil {
			log.Printf("[relay] send silence phrase: %v", err)
		}
		return
	}

	log.Printf("[relay] prompt %s: %q", c.bound, text)
	c.h.controller.Start(ctx, s, text)
}

func (c *connection) handleInterrupt(msg *relayModel.InboundMessage) {
	s := c.session
	if s == nil {
		return
	}
	log.Printf("[relay] interrupt %s after %dms: %q", c.bound, msg.DurationUntilInterruptMs, msg.UtteranceUntilInterrupt)
	c.h.controller.Cancel(s, generation.ErrInterrupted)
	s.ClearPrompt()
}

func (c *connection) handleError(ctx context.Context, msg *relayModel.InboundMessage) {
	reason := msg.ErrorDescription()
	if msg.Code != nil {
		reason = fmt.Sprintf("%v: %s", msg.Code, reason)
	}
	c.h.recorder.Record(ctx, telemetry.Event{
		Name:      telemetry.RelayError,
		SessionID: c.bound.SessionID,
		CallSid:   c.bound.CallSid,
		Reason:    reason,
	})
}

func (c *connection) close(ctx context.Context) {
	if c.session == nil {
		log.Printf("[relay] connection closed before setup")
		return
	}
	c.h.registry.Destroy(c.session, "connection closed")
	c.h.recorder.Record(context.WithoutCancel(ctx), telemetry.Event{
		Name:      telemetry.SessionClosed,
		SessionID: c.bound.SessionID,
		CallSid:   c.bound.CallSid,
	})
}

func (c *connection) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// 解除读循环的阻塞。
			c.sink.conn.Close()
			return
		case <-ticker.C:
			if err := c.sink.ping(); err != nil {
				return
			}
		}
	}
}
