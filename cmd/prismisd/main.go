// Command prismisd is the Prismis daemon: it ingests subscribed sources on
// a schedule, enriches content through the configured LLM provider, and
// serves the REST API the CLI and UI talk to.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nickpending/prismis-sub000/internal/config"
	"github.com/nickpending/prismis-sub000/internal/fetcher"
	"github.com/nickpending/prismis-sub000/internal/llm"
	"github.com/nickpending/prismis-sub000/internal/notify"
	"github.com/nickpending/prismis-sub000/internal/observability"
	"github.com/nickpending/prismis-sub000/internal/orchestrator"
	"github.com/nickpending/prismis-sub000/internal/scheduler"
	"github.com/nickpending/prismis-sub000/internal/server"
	"github.com/nickpending/prismis-sub000/internal/storage"
	"github.com/nickpending/prismis-sub000/internal/telemetry"
	"github.com/nickpending/prismis-sub000/internal/usercontext"
)

// version is set at build time via -ldflags.
var version = "dev"

const (
	archivalInterval = 6 * time.Hour
	backfillInterval = 15 * time.Minute
	backfillBatch    = 100

	observabilityRetention = 30 * 24 * time.Hour
)

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("PRISMIS_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	configPath := flag.String("config", "", "config file path (default $XDG_CONFIG_HOME/prismis/config.toml)")
	testMode := flag.Bool("test-mode", false, "tick every 5 seconds instead of the configured interval")
	flag.Parse()

	// Load .env if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Info("prismisd starting", "version", version, "config", cfg.String())

	// Optional OTEL exporters.
	otelShutdown, err := telemetry.Init(ctx,
		os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), version,
		os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true")
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Observability event log.
	if err := observability.Init(config.ObservabilityDir()); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	obsLogger, err := observability.New(config.ObservabilityDir())
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}

	// Storage.
	dbPath := config.DatabasePath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	store, err := storage.Open(ctx, dbPath, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	// LLM providers. A provider that cannot answer a trivial prompt would
	// fail every item, so a failed health check aborts startup.
	chat, err := llm.NewChatProvider(cfg.LLM)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if err := llm.HealthCheck(ctx, chat); err != nil {
		return fmt.Errorf("llm health check: %w", err)
	}
	logger.Info("llm provider ready", "provider", chat.Name(), "model", cfg.LLM.Model)

	embeddingProvider, err := llm.NewEmbeddingProvider(cfg.LLM)
	if err != nil {
		return fmt.Errorf("llm embeddings: %w", err)
	}
	embedder := llm.NewEmbedder(embeddingProvider, cfg.LLM.EmbeddingModel)
	if embedder == nil {
		logger.Warn("embeddings disabled: semantic search will be unavailable",
			"provider", cfg.LLM.Provider)
	}

	// Fetchers.
	registry := fetcher.NewRegistry(
		fetcher.NewFeedFetcher(cfg.Daemon.MaxItemsRSS, cfg.Daemon.MaxDaysLookback),
		fetcher.NewRedditFetcher(fetcher.RedditCredentials{
			ClientID:     cfg.Reddit.ClientID,
			ClientSecret: cfg.Reddit.ClientSecret,
			UserAgent:    cfg.Reddit.UserAgent,
		}, cfg.Daemon.MaxItemsReddit, cfg.Daemon.MaxComments, cfg.Daemon.MaxDaysLookback),
		fetcher.NewYouTubeFetcher(cfg.Daemon.MaxItemsYouTube, cfg.Daemon.MaxDaysLookback),
		fetcher.NewFileFetcher(store),
	)

	contexts := usercontext.NewStore(config.ContextPath())
	notifier := notify.New(cfg.Notifications.Command, cfg.Notifications.HighPriorityOnly, logger)

	orch := orchestrator.New(store, registry, llm.NewAnalyzer(chat), llm.NewEvaluator(chat),
		embedder, contexts, notifier, cfg.Archival, logger)

	// One backfill pass at startup picks up items embedded while the
	// provider was down. Non-fatal.
	if processed, failed, err := orch.BackfillEmbeddings(ctx, backfillBatch); err != nil {
		logger.Warn("startup embedding backfill failed", "error", err)
	} else if processed > 0 || failed > 0 {
		logger.Info("startup embedding backfill", "processed", processed, "failed", failed)
	}

	fetchInterval := cfg.Daemon.FetchInterval()
	if *testMode {
		fetchInterval = 5 * time.Second
		logger.Warn("test interval active", "interval", fetchInterval)
	}

	jobs := scheduler.New(logger,
		scheduler.Job{
			Name:      "tick",
			Interval:  fetchInterval,
			Immediate: true,
			Timeout:   fetchInterval,
			Run: func(ctx context.Context) error {
				_, err := orch.RunOnce(ctx, false)
				return err
			},
		},
		scheduler.Job{
			Name:     "archival",
			Interval: archivalInterval,
			Timeout:  10 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := orch.Archive(ctx)
				return err
			},
		},
		scheduler.Job{
			Name:     "embedding-backfill",
			Interval: backfillInterval,
			Timeout:  backfillInterval,
			Run: func(ctx context.Context) error {
				_, _, err := orch.BackfillEmbeddings(ctx, backfillBatch)
				return err
			},
		},
		scheduler.Job{
			Name:      "observability-cleanup",
			Interval:  24 * time.Hour,
			Immediate: true,
			Timeout:   time.Minute,
			Run: func(ctx context.Context) error {
				_, err := obsLogger.Cleanup(observabilityRetention)
				return err
			},
		},
	)
	jobs.Start(ctx)

	srv := server.New(server.Config{
		Store:     store,
		Embedder:  embedder,
		Contexts:  contexts,
		Validator: server.NewValidator(cfg.Reddit.UserAgent),
		Archival:  cfg.Archival,
		AudioDir:  config.AudioDir(),
		APIKey:    cfg.API.Key,
		Host:      cfg.API.Host,
		Port:      cfg.API.Port,
		Version:   version,
		Logger:    logger,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown: stop accepting requests, then wait for the current
	// scheduler runs to observe cancellation.
	logger.Info("prismisd shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	jobs.Wait()
	logger.Info("prismisd stopped")
	return nil
}
