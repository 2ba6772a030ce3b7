package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"draftforge/internal/config"
	"draftforge/internal/server"
	"draftforge/internal/util"
	"draftforge/pkg/ai"
	"draftforge/pkg/events"
	"draftforge/pkg/status"
	"draftforge/pkg/storage"
	"draftforge/pkg/store"
	"draftforge/pkg/workflow"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	util.InitLogger(cfg.LogLevel)

	projects, err := newStore(cfg)
	if err != nil {
		fatal("failed to init store", err)
	}
	blobs, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		fatal("failed to init blob storage", err)
	}
	bus, err := newBus(cfg)
	if err != nil {
		fatal("failed to init event bus", err)
	}
	model, err := newModel(cfg)
	if err != nil {
		fatal("failed to init generation provider", err)
	}

	runner := workflow.NewRunner(workflow.RunnerConfig{
		Store:      projects,
		Blobs:      blobs,
		Generator:  workflow.NewLLMGenerator(model),
		GenTimeout: time.Duration(cfg.GenerationTimeoutSeconds) * time.Second,
	})
	projector := status.NewProjector(status.ProjectorConfig{
		Store:   projects,
		Blobs:   blobs,
		SignTTL: time.Duration(cfg.SignTTLMinutes) * time.Minute,
	})
	httpServer := server.New(server.Config{
		Store:     projects,
		Bus:       bus,
		Projector: projector,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus.Start(ctx, cfg.WorkerConcurrency, runner.Handle)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("draftforge listening", "addr", addr, "bus", cfg.BusProvider, "provider", cfg.GenerationProvider)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		fatal("server error", err)
	}
	slog.Info("draftforge stopped")
}

func newStore(cfg config.FileConfig) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("no databaseURL configured, using in-memory store")
		return store.NewMemoryStore(), nil
	}
	return store.NewGormStore(cfg.DatabaseURL)
}

func newBus(cfg config.FileConfig) (events.Bus, error) {
	if cfg.BusProvider == config.BusAMQP {
		return events.NewAMQPBus(cfg.AMQPURL, cfg.AMQPQueue)
	}
	return events.NewRedisBus(events.RedisBusConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Stream:   cfg.EventStream,
		Group:    cfg.EventGroup,
	})
}

func newModel(cfg config.FileConfig) (ai.TextGenerator, error) {
	switch cfg.GenerationProvider {
	case config.ProviderGemini:
		client, err := ai.NewGeminiClient(cfg.GenerationAPIKey)
		if err != nil {
			return nil, err
		}
		return ai.NewGeminiGenerator(client, cfg.GenerationModel), nil
	case config.ProviderOllama:
		return ai.NewOllamaGenerator(cfg.GenerationBaseURL, cfg.GenerationModel), nil
	case config.ProviderOpenAI:
		return ai.NewOpenAICompatGenerator(cfg.GenerationBaseURL, cfg.GenerationAPIKey, cfg.GenerationModel), nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.GenerationProvider)
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
