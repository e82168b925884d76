package config

import (
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "AI_PROVIDER", "GENERATION_TIMEOUT", "OPENAI_API_KEY", "OPENAI_MODEL",
		"ARK_API_KEY", "ARK_MODEL", "ARK_TEMPERATURE", "ARK_MAX_TOKENS",
		"RELAY_LANGUAGE", "TTS_PROVIDER", "VOICE_PROFILE", "WELCOME", "SYSTEM_PROMPT",
		"ELEVEN_VOICE_ID", "SEND_LANGUAGE_ON_SETUP", "GREET_ON_SETUP",
		"PHRASE_SILENCE", "PHRASE_REPEAT", "PHRASE_APOLOGY",
		"METRICS_ENABLED", "TRACE_STDOUT", "OTEL_SERVICE_NAME",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
	if cfg.AI.Provider != ProviderOpenAI || cfg.AI.OpenAI.Model != "gpt-5-mini" {
		t.Fatalf("unexpected ai config %+v", cfg.AI)
	}
	if cfg.AI.OpenAI.Enabled() {
		t.Fatal("expected OpenAI disabled without a key")
	}
	if cfg.AI.Timeout != 25*time.Second {
		t.Fatalf("unexpected timeout %s", cfg.AI.Timeout)
	}
	if cfg.Relay.Language != "lt-LT" || cfg.Relay.TTSProvider != TTSGoogle || cfg.Relay.VoiceProfile != "female" {
		t.Fatalf("unexpected relay config %+v", cfg.Relay)
	}
	if !cfg.Relay.SendLanguageOnSetup || cfg.Relay.GreetOnSetup {
		t.Fatalf("unexpected setup flags %+v", cfg.Relay)
	}
	if cfg.Relay.Phrases.Silence != DefaultSilence || cfg.Relay.Phrases.Apology != DefaultApology {
		t.Fatalf("unexpected phrases %+v", cfg.Relay.Phrases)
	}
	if cfg.Relay.Eleven.VoiceString() != "-turbo_v2_5-1.0_0.45_0.92" {
		t.Fatalf("unexpected voice string %q", cfg.Relay.Eleven.VoiceString())
	}
	if !cfg.Telemetry.MetricsEnabled || cfg.Telemetry.TraceStdout || cfg.Telemetry.ServiceName != "z-relay" {
		t.Fatalf("unexpected telemetry config %+v", cfg.Telemetry)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("AI_PROVIDER", "ARK")
	t.Setenv("ARK_API_KEY", "ark-key")
	t.Setenv("ARK_MODEL", "doubao-pro")
	t.Setenv("ARK_TEMPERATURE", "0.4")
	t.Setenv("ARK_MAX_TOKENS", "256")
	t.Setenv("GENERATION_TIMEOUT", "10")
	t.Setenv("RELAY_LANGUAGE", "en-US")
	t.Setenv("TTS_PROVIDER", "eleven")
	t.Setenv("ELEVEN_VOICE_ID", "abc")
	t.Setenv("GREET_ON_SETUP", "true")
	t.Setenv("PHRASE_REPEAT", "Please repeat.")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
	if cfg.AI.Provider != ProviderArk || !cfg.AI.Ark.Enabled() {
		t.Fatalf("expected ark provider enabled, got %+v", cfg.AI)
	}
	if cfg.AI.Ark.Temperature == nil || *cfg.AI.Ark.Temperature != 0.4 {
		t.Fatalf("unexpected temperature %v", cfg.AI.Ark.Temperature)
	}
	if cfg.AI.Ark.MaxTokens == nil || *cfg.AI.Ark.MaxTokens != 256 {
		t.Fatalf("unexpected max tokens %v", cfg.AI.Ark.MaxTokens)
	}
	if cfg.AI.Timeout != 10*time.Second {
		t.Fatalf("unexpected timeout %s", cfg.AI.Timeout)
	}
	if cfg.Relay.Language != "en-US" || cfg.Relay.TTSProvider != TTSElevenLabs {
		t.Fatalf("unexpected relay config %+v", cfg.Relay)
	}
	if !strings.HasPrefix(cfg.Relay.Eleven.VoiceString(), "abc-turbo_v2_5-") {
		t.Fatalf("unexpected voice string %q", cfg.Relay.Eleven.VoiceString())
	}
	if !cfg.Relay.GreetOnSetup || cfg.Relay.Phrases.Repeat != "Please repeat." {
		t.Fatalf("unexpected relay overrides %+v", cfg.Relay)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":               "80 80",
		"AI_PROVIDER":        "llama",
		"GENERATION_TIMEOUT": "0",
		"TTS_PROVIDER":       "polly",
		"VOICE_PROFILE":      "robot",
		"GREET_ON_SETUP":     "sometimes",
		"ARK_TEMPERATURE":    "warm",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", key, value)
			}
		})
	}
}
