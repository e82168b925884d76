package relay_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-relay/backend/internal/config"
	"github.com/zhouzirui/z-relay/backend/internal/handler/relay"
	"github.com/zhouzirui/z-relay/backend/internal/service/generation"
	"github.com/zhouzirui/z-relay/backend/internal/service/session"
)

func TestTwiMLUsesForwardedHost(t *testing.T) {
	cfg := testRelayConfig()
	r := chi.NewRouter()
	relay.New(session.NewRegistry(cfg.Language), generation.NewController(generation.Config{Generator: &fakeGenerator{}}), nil, cfg).RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/twiml", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "relay.example.com")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Fatalf("unexpected content type %q", ct)
	}
	body, _ := io.ReadAll(rr.Body)
	doc := string(body)
	for _, want := range []string{
		`<?xml version="1.0" encoding="UTF-8"?>`,
		"<Response>",
		"<Connect>",
		`url="wss://relay.example.com/ws"`,
		`language="lt-LT"`,
		`ttsProvider="Google"`,
		`welcomeGreeting="Labas, čia Paule!`,
	} {
		if !strings.Contains(doc, want) {
			t.Fatalf("twiml missing %q:\n%s", want, doc)
		}
	}
	if strings.Contains(doc, "voice=") {
		t.Fatalf("google twiml must not carry a voice:\n%s", doc)
	}
}

func TestTwiMLPlainHTTPUsesWS(t *testing.T) {
	cfg := testRelayConfig()
	r := chi.NewRouter()
	relay.New(session.NewRegistry(cfg.Language), generation.NewController(generation.Config{Generator: &fakeGenerator{}}), nil, cfg).RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "http://localhost:8080/twiml", nil)
	req.Header.Set("X-Forwarded-Proto", "http")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if !strings.Contains(rr.Body.String(), `url="ws://localhost:8080/ws"`) {
		t.Fatalf("unexpected twiml:\n%s", rr.Body.String())
	}
}

func TestBuildTwiMLElevenLabs(t *testing.T) {
	cfg := testRelayConfig()
	cfg.TTSProvider = config.TTSElevenLabs
	cfg.Eleven = config.ElevenConfig{
		VoiceID:    "voice123",
		ModelID:    "turbo_v2_5",
		Speed:      "1.0",
		Stability:  "0.45",
		Similarity: "0.92",
	}

	body, err := relay.BuildTwiML(cfg, "wss://relay.example.com/ws")
	if err != nil {
		t.Fatalf("BuildTwiML err: %v", err)
	}
	doc := string(body)
	if !strings.Contains(doc, `ttsProvider="ElevenLabs"`) || !strings.Contains(doc, `voice="voice123-turbo_v2_5-1.0_0.45_0.92"`) {
		t.Fatalf("unexpected eleven twiml:\n%s", doc)
	}

	cfg.Eleven.VoiceID = ""
	body, err = relay.BuildTwiML(cfg, "wss://relay.example.com/ws")
	if err != nil {
		t.Fatalf("BuildTwiML err: %v", err)
	}
	doc = string(body)
	if !strings.Contains(doc, `ttsProvider="Google"`) || strings.Contains(doc, "voice=") {
		t.Fatalf("expected a google fallback:\n%s", doc)
	}
}

func TestBuildTwiMLOmitsGreetingWhenSentOnSetup(t *testing.T) {
	cfg := testRelayConfig()
	cfg.GreetOnSetup = true

	body, err := relay.BuildTwiML(cfg, "wss://relay.example.com/ws")
	if err != nil {
		t.Fatalf("BuildTwiML err: %v", err)
	}
	if strings.Contains(string(body), "welcomeGreeting") {
		t.Fatalf("expected no welcomeGreeting:\n%s", body)
	}
}
