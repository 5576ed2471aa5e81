// Command triaged runs the support-ticket triage service: the orchestration
// pipeline, the customer 360 aggregator, and their HTTP surface.
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

	"github.com/solvent-ai/triagekit/internal/cache"
	"github.com/solvent-ai/triagekit/internal/classify"
	"github.com/solvent-ai/triagekit/internal/config"
	"github.com/solvent-ai/triagekit/internal/core/domain"
	"github.com/solvent-ai/triagekit/internal/core/ports"
	"github.com/solvent-ai/triagekit/internal/customer"
	"github.com/solvent-ai/triagekit/internal/events"
	"github.com/solvent-ai/triagekit/internal/generate"
	"github.com/solvent-ai/triagekit/internal/guardrail"
	"github.com/solvent-ai/triagekit/internal/inference"
	"github.com/solvent-ai/triagekit/internal/orchestrator"
	"github.com/solvent-ai/triagekit/internal/retrieve"
	"github.com/solvent-ai/triagekit/internal/search"
	"github.com/solvent-ai/triagekit/internal/server"
	"github.com/solvent-ai/triagekit/internal/storage/sqldb"
	"github.com/solvent-ai/triagekit/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer("triagekit", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("tracer shutdown failed", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load(os.Getenv("TRIAGE_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := sqldb.New(sqldb.Config{Driver: cfg.Storage.Driver, DSN: cfg.Storage.DSN})
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	// Stubs stand in for inference and search until credentials are
	// configured, so the service is runnable out of the box.
	var inferenceClient ports.InferenceClient
	if cfg.Inference.APIKey != "" {
		opts := []inference.ClientOption{
			inference.WithModels(cfg.Inference.CostOptimizedModel, cfg.Inference.CapableModel),
		}
		if cfg.Inference.BaseURL != "" {
			opts = append(opts, inference.WithBaseURL(cfg.Inference.BaseURL))
		}
		inferenceClient = inference.NewClient(cfg.Inference.APIKey, opts...)
	} else {
		logger.Warn("no inference api key configured, using deterministic stub")
		inferenceClient = inference.NewStub()
	}

	var searcher ports.VectorSearcher
	if cfg.Search.BaseURL != "" {
		searcher = search.NewClient(cfg.Search.BaseURL, cfg.Search.APIKey)
	} else {
		logger.Warn("no search endpoint configured, using canned stub")
		searcher = search.NewStub()
	}

	var publisher ports.EventPublisher = events.NoopPublisher{}
	if cfg.Events.Enabled && len(cfg.Events.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic)
	}
	defer publisher.Close()

	classificationCache := cache.New[domain.ClassificationResult](
		cfg.Cache.ClassificationSize, time.Duration(cfg.Cache.ClassificationTTLSeconds)*time.Second)
	retrievalCache := cache.New[[]domain.ContextItem](
		cfg.Cache.RetrievalSize, time.Duration(cfg.Cache.RetrievalTTLSeconds)*time.Second)
	customerCache := cache.New[*domain.CustomerContext](
		cfg.Cache.CustomerSize, time.Duration(cfg.Cache.CustomerTTLSeconds)*time.Second)

	aggregator := customer.New(store, store, customerCache,
		customer.Options{HighValueThreshold: cfg.Customer.HighValueThreshold}, logger)

	classifier, err := classify.New(inferenceClient, classificationCache, logger)
	if err != nil {
		log.Fatalf("Failed to build classifier: %v", err)
	}

	retriever := retrieve.New(searcher, store, aggregator, retrievalCache, retrieve.Options{
		TopK:     cfg.Search.TopK,
		MinScore: cfg.Search.MinScore,
	}, logger)

	generator := generate.New(inferenceClient, generate.Options{
		MaxDrafts: cfg.Pipeline.MaxDrafts,
	}, logger)

	orc := orchestrator.New(
		classifier, retriever, generator, guardrail.New(), aggregator, publisher,
		orchestrator.Options{
			ConfidenceThreshold: cfg.Pipeline.ConfidenceThreshold,
			TotalBudget:         time.Duration(cfg.Pipeline.TotalBudgetMS) * time.Millisecond,
			ClassifyBudget:      time.Duration(cfg.Pipeline.ClassifyBudgetMS) * time.Millisecond,
			RetrieveBudget:      time.Duration(cfg.Pipeline.RetrieveBudgetMS) * time.Millisecond,
			GenerateBudget:      time.Duration(cfg.Pipeline.GenerateBudgetMS) * time.Millisecond,
		}, logger,
	)

	handlers := &server.Handlers{
		Orchestrator: orc,
		Aggregator:   aggregator,
		Tickets:      store,
		Publisher:    publisher,
		Caches: map[string]server.StatsSource{
			"classification": server.CacheSource(classificationCache),
			"retrieval":      server.CacheSource(retrievalCache),
			"customer":       server.CacheSource(customerCache),
		},
		Logger: logger,
	}

	srv := server.New(cfg.Server.Port, time.Duration(cfg.Server.TimeoutSeconds)*time.Second, logger)
	handlers.Mount(srv.Router)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
