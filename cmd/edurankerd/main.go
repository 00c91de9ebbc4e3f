package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/eduranker/eduranker/internal/config"
	"github.com/eduranker/eduranker/internal/crossencoder"
	"github.com/eduranker/eduranker/internal/embedder"
	"github.com/eduranker/eduranker/internal/index"
	"github.com/eduranker/eduranker/internal/ingest"
	"github.com/eduranker/eduranker/internal/ledger"
	"github.com/eduranker/eduranker/internal/maintenance"
	"github.com/eduranker/eduranker/internal/repository"
	"github.com/eduranker/eduranker/internal/repository/postgres"
	"github.com/eduranker/eduranker/internal/reranker"
	"github.com/eduranker/eduranker/internal/server"
	"github.com/eduranker/eduranker/internal/service"
)

func main() {
	// Set up structured logging
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting recommendation service",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
	)

	// Initialize PostgreSQL
	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	slog.Info("connected to PostgreSQL")

	// Initialize repositories
	documentRepo := postgres.NewDocumentRepo(db)
	queryRepo := postgres.NewQueryRepo(db)
	inferenceRepo := postgres.NewInferenceRepo(db)

	// Initialize Ollama embedder
	embed := embedder.NewOllamaEmbedder(embedder.OllamaConfig{
		BaseURL:   cfg.OllamaURL,
		Model:     cfg.OllamaEmbeddingModel,
		Dimension: cfg.EmbeddingDimension,
		Timeout:   cfg.EmbedTimeout,
	})
	slog.Info("initialized Ollama embedder", "model", cfg.OllamaEmbeddingModel)

	// Initialize cross-encoder gateway
	scorer := crossencoder.NewHTTPGateway(ctx, crossencoder.HTTPConfig{
		BaseURL: cfg.CrossEncoderURL,
		Timeout: cfg.CrossEncoderTimeout,
	})
	slog.Info("initialized cross-encoder gateway",
		"url", cfg.CrossEncoderURL, "available", scorer.Available())

	// Initialize the vector index: reuse the persisted snapshot when one
	// exists, rebuild from the document store otherwise.
	idx := index.New(cfg.EmbeddingDimension, cfg.IndexPath, documentRepo)
	if !idx.Load() {
		count, err := idx.RebuildFromStore(ctx)
		if err != nil {
			return fmt.Errorf("failed to build vector index: %w", err)
		}
		slog.Info("vector index built from store", "vectors", count)
	}

	// Initialize ranking and feedback components
	rr := reranker.New(scorer, reranker.WithAlpha(cfg.Alpha))
	lg := ledger.New(inferenceRepo)

	// Initialize ingestion
	ingestor := ingest.NewIngestor(documentRepo, embed,
		ingest.NewWikipediaFetcher(cfg.WikipediaLanguage),
		ingest.NewGitHubFetcher(cfg.GitHubToken),
		ingest.NewBlogFetcher(),
	)

	// Initialize services
	querySvc := service.NewQueryService(queryRepo, embed, cfg.QueryDedupWindow)
	workflow := service.NewWorkflow(querySvc, ingestor, idx, rr, lg, documentRepo)

	// Initialize maintenance scheduler
	scheduler, err := maintenance.NewScheduler(idx, cfg.PersistCronSpec, cfg.RebuildCronSpec)
	if err != nil {
		return fmt.Errorf("failed to create maintenance scheduler: %w", err)
	}
	scheduler.Start()

	// Create HTTP server
	handler := server.NewHandler(workflow, lg, idx, cfg.RefinementMinPairs)
	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Logger:         slog.Default(),
		AllowedOrigins: []string{"*"}, // Configure in production
		Ready: func(ctx context.Context) error {
			return db.Pool.Ping(ctx)
		},
	}, handler)

	// Start server
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	// Graceful shutdown: stop scheduled jobs, drain HTTP, persist the
	// index, then close the pool (deferred).
	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}
	if err := idx.Persist(); err != nil {
		slog.Error("failed to persist vector index", "error", err)
	}

	slog.Info("server stopped")
	return nil
}

// Ensure interfaces are satisfied at compile time
var (
	_ repository.DocumentRepository  = (*postgres.DocumentRepo)(nil)
	_ repository.QueryRepository     = (*postgres.QueryRepo)(nil)
	_ repository.InferenceRepository = (*postgres.InferenceRepo)(nil)
	_ embedder.Embedder              = (*embedder.OllamaEmbedder)(nil)
	_ crossencoder.Gateway           = (*crossencoder.HTTPGateway)(nil)
	_ reranker.Reranker              = (*reranker.CrossEncoderReranker)(nil)
	_ service.VectorIndex            = (*index.Index)(nil)
	_ service.Ingestor               = (*ingest.Ingestor)(nil)
	_ server.IndexAdmin              = (*index.Index)(nil)
	_ maintenance.Index              = (*index.Index)(nil)
)
