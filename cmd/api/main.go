package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/z-relay/backend/internal/config"
	"github.com/zhouzirui/z-relay/backend/internal/handler"
	"github.com/zhouzirui/z-relay/backend/internal/handler/relay"
	"github.com/zhouzirui/z-relay/backend/internal/handler/stream"
	"github.com/zhouzirui/z-relay/backend/internal/service/ai"
	"github.com/zhouzirui/z-relay/backend/internal/service/generation"
	"github.com/zhouzirui/z-relay/backend/internal/service/session"
	"github.com/zhouzirui/z-relay/backend/internal/service/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	shutdownTelemetry, metricsHandler, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	recorder := telemetry.NewRecorder()

	generator := newGenerator(ctx, cfg.AI)
	log.Printf("generation backend: %s (timeout %s)", generator.Name(), cfg.AI.Timeout)
	log.Printf("relay: language=%s tts=%s voice=%s", cfg.Relay.Language, cfg.Relay.TTSProvider, cfg.Relay.VoiceProfile)

	registry := session.NewRegistry(cfg.Relay.Language)
	controller := generation.NewController(generation.Config{
		Generator: generator,
		Prompts:   ai.NewPromptBuilder(cfg.AI.SystemPrompt),
		Recorder:  recorder,
		Phrases:   cfg.Relay.Phrases,
	})

	router := handler.NewRouter(
		relay.New(registry, controller, recorder, cfg.Relay),
		stream.New(registry, controller),
		metricsHandler,
	)

	startServer(ctx, cfg.Server, router)

	controller.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTelemetry(flushCtx); err != nil {
		log.Printf("telemetry shutdown: %v", err)
	}
}

// newGenerator picks the backend: OpenAI when a key is set, Ark when it is
// selected and configured, otherwise a fixed reply naming the missing key.
func newGenerator(ctx context.Context, cfg config.AIConfig) ai.Generator {
	if cfg.Provider == config.ProviderArk {
		if !cfg.Ark.Enabled() {
			log.Println("Ark 凭证未配置，使用固定回复")
			return ai.NewStaticGenerator(ai.MissingKeyMessage)
		}
		chatModel, err := cfg.Ark.NewChatModel(ctx)
		if err != nil {
			log.Printf("warning: failed to create Ark chat model: %v", err)
			return ai.NewStaticGenerator(ai.MissingKeyMessage)
		}
		gen, err := ai.NewArkGenerator(ctx, cfg.Ark.Model, chatModel, cfg.Timeout)
		if err != nil {
			log.Printf("warning: failed to build Ark generator: %v", err)
			return ai.NewStaticGenerator(ai.MissingKeyMessage)
		}
		return gen
	}

	if !cfg.OpenAI.Enabled() {
		log.Println("OPENAI_API_KEY is not set, replying with a fixed message")
		return ai.NewStaticGenerator(ai.MissingKeyMessage)
	}
	return ai.NewResponsesGenerator(ai.ResponsesConfig{
		APIKey:  cfg.OpenAI.APIKey,
		Model:   cfg.OpenAI.Model,
		BaseURL: cfg.OpenAI.BaseURL,
		Timeout: cfg.Timeout,
	})
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		// 信号到达时让长连接上的请求上下文一并取消。
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	log.Printf("z-relay listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
