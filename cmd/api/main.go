// Package main is the entry point for the API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/flowbit-ai/chat-with-data/internal/config"
	"github.com/flowbit-ai/chat-with-data/internal/handler"
	"github.com/flowbit-ai/chat-with-data/internal/llm"
	natsclient "github.com/flowbit-ai/chat-with-data/internal/nats"
	"github.com/flowbit-ai/chat-with-data/internal/service"
	"github.com/flowbit-ai/chat-with-data/internal/store"
	"github.com/flowbit-ai/chat-with-data/internal/upstream"
	"github.com/flowbit-ai/chat-with-data/pkg/logger"
	"github.com/flowbit-ai/chat-with-data/pkg/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.Build(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	log.Info("starting API server", zap.String("store", cfg.StoreBackend))

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-with-data", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// NATS backs the KV store and the event stream; connect only when used.
	var natsClient *natsclient.Client
	if cfg.StoreBackend == config.StoreNATS || cfg.NATSEventsEnabled {
		var err error
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer natsClient.Close()
	}

	st, err := openStore(ctx, cfg, natsClient)
	if err != nil {
		return err
	}
	defer st.Close()

	var publisher service.EventPublisher
	if cfg.NATSEventsEnabled {
		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			return fmt.Errorf("failed to ensure stream: %w", err)
		}
		publisher = streamManager
	}

	upstreamClient := upstream.NewClient(upstream.Config{
		BaseURL:      cfg.UpstreamBaseURL,
		ServiceName:  cfg.UpstreamServiceName,
		ProbeTimeout: cfg.UpstreamProbeTimeout,
		QueryTimeout: cfg.UpstreamQueryTimeout,
	}, log)

	var explainer *service.Explainer
	llmClient, err := llm.FromKeys(cfg.AnthropicAPIKey, cfg.OpenAIAPIKey)
	switch {
	case errors.Is(err, llm.ErrNoProvider):
		log.Info("no LLM provider configured, SQL explanation disabled")
	case err != nil:
		log.Warn("failed to create LLM client, SQL explanation disabled", zap.Error(err))
	default:
		explainer = service.NewExplainer(llmClient, cfg.ExplainModel, log)
		log.Info("SQL explanation enabled", zap.String("provider", llmClient.Name()))
	}

	chat := service.NewChatService(upstreamClient, st, publisher, service.ChatConfig{
		Namespace:  cfg.StorageKey,
		InlineRows: cfg.InlineRows,
	}, log)
	defer chat.Close()

	restoreCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = chat.Restore(restoreCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to restore conversation: %w", err)
	}

	router := handler.NewRouter(handler.RouterConfig{
		JWTSecret:         cfg.JWTSecret,
		CORSOrigins:       cfg.CORSAllowedOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	}, handler.Deps{
		Chat:      chat,
		Explainer: explainer,
		Upstream:  upstreamClient,
		Logger:    log,
	})
	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET not set, API authentication disabled")
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, natsClient *natsclient.Client) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreRedis:
		return store.OpenRedis(ctx, store.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	case config.StoreNATS:
		kv, err := natsClient.KeyValue(ctx, cfg.NATSKVBucket)
		if err != nil {
			return nil, err
		}
		return store.NewKV(kv), nil
	case config.StoreMemory:
		return store.NewMemory(), nil
	default:
		return store.OpenBolt(cfg.BoltPath)
	}
}
