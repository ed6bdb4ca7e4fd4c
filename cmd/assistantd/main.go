package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cmskit/assistant-engine/internal/api"
	"github.com/cmskit/assistant-engine/internal/assistant"
	"github.com/cmskit/assistant-engine/internal/config"
	"github.com/cmskit/assistant-engine/internal/functions"
	"github.com/cmskit/assistant-engine/internal/openai"
	"github.com/cmskit/assistant-engine/internal/run"
	"github.com/cmskit/assistant-engine/internal/server"
	"github.com/cmskit/assistant-engine/internal/session"
	"github.com/cmskit/assistant-engine/internal/storage"
	"github.com/cmskit/assistant-engine/internal/storage/memory"
	"github.com/cmskit/assistant-engine/internal/storage/sqlite"
	"github.com/cmskit/assistant-engine/internal/telemetry"
	"github.com/cmskit/assistant-engine/internal/tokens"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer("assistant-engine", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.OpenAI.APIKey == "" {
		log.Fatal("openai.api_key is required")
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	var clientOpts []openai.ClientOption
	if cfg.OpenAI.BaseURL != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	client := openai.NewClient(cfg.OpenAI.APIKey, clientOpts...)

	svc := session.NewService(client, store, tokens.NewEstimator(), logger,
		cfg.Assistant.Model, cfg.Assistant.MaxMessageTokens)

	builtins, err := functions.Builtins(functions.SiteInfo{
		Name:        cfg.Site.Name,
		Description: cfg.Site.Description,
		URL:         cfg.Site.URL,
	})
	if err != nil {
		log.Fatalf("Failed to build functions: %v", err)
	}

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer bootCancel()

	registry := assistant.NewRegistry()
	if _, err := svc.EnsureAssistant(bootCtx, registry, session.BootstrapConfig{
		Name:            cfg.Assistant.Name,
		Description:     cfg.Assistant.Description,
		Instructions:    cfg.Assistant.Instructions,
		Model:           cfg.Assistant.Model,
		Functions:       builtins,
		CodeInterpreter: cfg.Assistant.CodeInterpreter,
	}); err != nil {
		log.Fatalf("Failed to provision assistant: %v", err)
	}

	engine := run.NewEngine(client, registry, logger,
		run.WithPollInterval(cfg.Run.PollInterval))

	srv := server.New(cfg.Server.Port, logger)
	api.NewHandler(svc, engine, logger).Mount(srv.Router)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	case <-sigChan:
	}

	logger.Info("Shutdown signal received, stopping server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Server shutdown complete")
}

func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.Storage.Type == "memory" {
		return memory.New(), nil
	}
	return sqlite.New(cfg.Storage.SQLite.Path)
}
