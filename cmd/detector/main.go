package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"phishdetect/internal/api"
	"phishdetect/internal/capture"
	"phishdetect/internal/config"
	"phishdetect/internal/monitoring"
	"phishdetect/internal/pipeline"
	"phishdetect/internal/search"
	"phishdetect/internal/storage"
	"phishdetect/internal/tlsinspect"
	"phishdetect/internal/vision"
)

func main() {
	// Initialize structured logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("could not load config", zap.Error(err))
	}

	ctx := context.Background()

	// Initialize Storage Layer. The state store is required; without it no
	// pipeline progress is possible.
	pgStore, err := storage.NewPostgresStore(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pgStore.Close()
	redisStore := storage.NewRedisStore(cfg.RedisAddr)

	// Crash recovery: rows stuck in processing can only mean a prior run
	// died mid-pipeline. Purge them before accepting traffic.
	purged, err := pgStore.PurgeProcessing(ctx)
	if err != nil {
		logger.Fatal("failed to purge stale processing rows", zap.Error(err))
	}
	if purged > 0 {
		logger.Info("purged stale processing rows", zap.Int64("count", purged))
	}

	// Initialize Monitoring
	metrics := monitoring.NewMetrics()

	// Shared collaborators, constructed once and injected everywhere.
	renderer := capture.NewRenderer(cfg.RenderTimeoutDuration(), logger)
	sanResolver := tlsinspect.NewResolver(cfg.TLSTimeoutDuration(), metrics, logger)
	extractor := vision.NewExtractor(logger)
	comparer := vision.NewComparer(logger)

	var classifier search.Classifier = search.NoopClassifier{}
	if cfg.ClassifierURL != "" {
		classifier = search.NewHTTPClassifier(cfg.ClassifierURL)
	}
	engine := search.NewGoogleEngine(extractor, classifier, pgStore, logger)

	// Initialize Decision Pipeline
	engineOpts := pipeline.Options{
		DuplicateWait: cfg.DuplicateWaitDuration(),
		VerdictTTL:    time.Duration(cfg.VerdictTTLDays) * 24 * time.Hour,
		MaxConcurrent: cfg.PipelineWorkers,
	}
	decisionPipeline := pipeline.New(pgStore, redisStore, engine, renderer, comparer,
		sanResolver, capture.Decode, pipeline.DefaultFilter(), engineOpts, metrics, logger)

	// Initialize API Server
	server := api.NewServer(cfg, decisionPipeline, renderer, pgStore, redisStore, metrics, logger)

	// Graceful Shutdown
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("could not start server", zap.Error(err))
		}
	}()

	logger.Info("server started", zap.String("port", cfg.ServerPort))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exiting")
}
