package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// AI providers.
const (
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"
)

// TTS providers as named in TwiML.
const (
	TTSGoogle     = "Google"
	TTSElevenLabs = "ElevenLabs"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	AI        AIConfig
	Relay     RelayConfig
	Telemetry TelemetryConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	relay, err := loadRelayConfig()
	if err != nil {
		return nil, err
	}

	telemetry, err := loadTelemetryConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Relay: relay, Telemetry: telemetry}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider     string
	OpenAI       OpenAIConfig
	Ark          ArkConfig
	Timeout      time.Duration
	SystemPrompt string
}

// OpenAIConfig 描述 OpenAI Responses 接口配置。
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Enabled 表示是否提供了 API Key。
func (c OpenAIConfig) Enabled() bool {
	return c.APIKey != ""
}

// ArkConfig 描述火山方舟模型配置。
type ArkConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c ArkConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c ArkConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("AI_PROVIDER", ProviderOpenAI))
	if provider != ProviderOpenAI && provider != ProviderArk {
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value %q", provider)
	}

	timeout := 25 * time.Second
	if seconds, err := parseOptionalIntEnv("GENERATION_TIMEOUT"); err != nil {
		return AIConfig{}, err
	} else if seconds != nil {
		if *seconds < 1 {
			return AIConfig{}, fmt.Errorf("invalid GENERATION_TIMEOUT value %d", *seconds)
		}
		timeout = time.Duration(*seconds) * time.Second
	}

	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		Provider: provider,
		OpenAI: OpenAIConfig{
			APIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			Model:   getEnvOrDefault("OPENAI_MODEL", "gpt-5-mini"),
			BaseURL: getEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		},
		Ark: ArkConfig{
			APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
			AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
			SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
			Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
			BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
			Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
			Temperature: temperature,
			TopP:        topP,
			MaxTokens:   maxTokens,
		},
		Timeout:      timeout,
		SystemPrompt: strings.TrimSpace(os.Getenv("SYSTEM_PROMPT")),
	}, nil
}

// RelayConfig 描述 ConversationRelay 通话相关配置。
type RelayConfig struct {
	Language     string
	TTSProvider  string
	VoiceProfile string
	Welcome      string
	Eleven       ElevenConfig

	SendLanguageOnSetup bool
	GreetOnSetup        bool

	Phrases Phrases
}

// ElevenConfig 描述 ElevenLabs 音色参数。
type ElevenConfig struct {
	VoiceID    string
	ModelID    string
	Speed      string
	Stability  string
	Similarity string
}

// VoiceString 按 ConversationRelay 要求拼接音色：VOICEID-MODEL-SPEED_STABILITY_SIMILARITY。
func (c ElevenConfig) VoiceString() string {
	return fmt.Sprintf("%s-%s-%s_%s_%s", c.VoiceID, c.ModelID, c.Speed, c.Stability, c.Similarity)
}

// Phrases 是固定的兜底话术。
type Phrases struct {
	// Silence is spoken when a finished utterance carried no text.
	Silence string
	// Repeat is spoken when the backend produced nothing usable.
	Repeat string
	// Apology is spoken when the backend failed.
	Apology string
}

// Default phrases.
const (
	DefaultWelcome = "Labas, čia Paule! Girdžiu jus gerai. Dėl ko skambinate: pardavimai, klientų aptarnavimas ar registracija?"
	DefaultSilence = "Girdžiu tylą. Ar mane girdite?"
	DefaultRepeat  = "Supratau. Pakartokite, prašau."
	DefaultApology = "Atsiprašau, įvyko klaida. Pakartokite, prašau."
)

func loadRelayConfig() (RelayConfig, error) {
	sendLanguage, err := parseBoolEnv("SEND_LANGUAGE_ON_SETUP", true)
	if err != nil {
		return RelayConfig{}, err
	}

	greet, err := parseBoolEnv("GREET_ON_SETUP", false)
	if err != nil {
		return RelayConfig{}, err
	}

	provider := TTSGoogle
	switch raw := strings.ToLower(getEnvOrDefault("TTS_PROVIDER", "google")); raw {
	case "google":
	case "eleven", "elevenlabs":
		provider = TTSElevenLabs
	default:
		return RelayConfig{}, fmt.Errorf("invalid TTS_PROVIDER value %q", raw)
	}

	profile := strings.ToLower(getEnvOrDefault("VOICE_PROFILE", "female"))
	if profile != "female" && profile != "male" {
		return RelayConfig{}, fmt.Errorf("invalid VOICE_PROFILE value %q", profile)
	}

	return RelayConfig{
		// LANG 通常是终端 locale，这里使用独立的变量名。
		Language:     getEnvOrDefault("RELAY_LANGUAGE", "lt-LT"),
		TTSProvider:  provider,
		VoiceProfile: profile,
		Welcome:      getEnvOrDefault("WELCOME", DefaultWelcome),
		Eleven: ElevenConfig{
			VoiceID:    strings.TrimSpace(os.Getenv("ELEVEN_VOICE_ID")),
			ModelID:    getEnvOrDefault("ELEVEN_MODEL_ID", "turbo_v2_5"),
			Speed:      getEnvOrDefault("ELEVEN_SPEED", "1.0"),
			Stability:  getEnvOrDefault("ELEVEN_STABILITY", "0.45"),
			Similarity: getEnvOrDefault("ELEVEN_SIMILARITY", "0.92"),
		},
		SendLanguageOnSetup: sendLanguage,
		GreetOnSetup:        greet,
		Phrases: Phrases{
			Silence: getEnvOrDefault("PHRASE_SILENCE", DefaultSilence),
			Repeat:  getEnvOrDefault("PHRASE_REPEAT", DefaultRepeat),
			Apology: getEnvOrDefault("PHRASE_APOLOGY", DefaultApology),
		},
	}, nil
}

// TelemetryConfig 描述指标与链路追踪配置。
type TelemetryConfig struct {
	ServiceName    string
	Environment    string
	MetricsEnabled bool
	TraceStdout    bool
}

func loadTelemetryConfig() (TelemetryConfig, error) {
	metrics, err := parseBoolEnv("METRICS_ENABLED", true)
	if err != nil {
		return TelemetryConfig{}, err
	}

	traceStdout, err := parseBoolEnv("TRACE_STDOUT", false)
	if err != nil {
		return TelemetryConfig{}, err
	}

	return TelemetryConfig{
		ServiceName:    getEnvOrDefault("OTEL_SERVICE_NAME", "z-relay"),
		Environment:    getEnvOrDefault("DEPLOYMENT_ENVIRONMENT", "development"),
		MetricsEnabled: metrics,
		TraceStdout:    traceStdout,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
