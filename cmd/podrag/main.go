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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kailas-cloud/podrag/internal/config"
	"github.com/kailas-cloud/podrag/internal/db"
	dbQdrant "github.com/kailas-cloud/podrag/internal/db/qdrant"
	dbRedis "github.com/kailas-cloud/podrag/internal/db/redis"
	"github.com/kailas-cloud/podrag/internal/domain"
	logpkg "github.com/kailas-cloud/podrag/internal/logger"
	"github.com/kailas-cloud/podrag/internal/metrics"
	"github.com/kailas-cloud/podrag/internal/repository/embcache"
	searchrepo "github.com/kailas-cloud/podrag/internal/repository/search"
	chiTransport "github.com/kailas-cloud/podrag/internal/transport/chi"
	openaiTransport "github.com/kailas-cloud/podrag/internal/transport/openai"
	askuc "github.com/kailas-cloud/podrag/internal/usecase/ask"
	embeddinguc "github.com/kailas-cloud/podrag/internal/usecase/embedding"
	generationuc "github.com/kailas-cloud/podrag/internal/usecase/generation"
	healthuc "github.com/kailas-cloud/podrag/internal/usecase/health"
	"github.com/kailas-cloud/podrag/internal/version"
)

func main() {
	// A missing .env is fine: real deployments set the environment directly.
	_ = godotenv.Load()

	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting podrag API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.String("http_addr", cfg.HTTP.Addr()),
		zap.String("index_driver", cfg.Index.Driver),
		zap.Strings("index_addrs", cfg.Index.Addrs),
		zap.String("index_name", cfg.Index.Name),
		zap.String("namespace", cfg.Index.Namespace),
	)

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterSearchMetrics()
	metrics.RegisterGenerationMetrics()
	metrics.RegisterAskMetrics()
	metrics.RegisterHTTPMetrics()

	store, err := openStore(cfg.Index)
	if err != nil {
		logger.Fatal("Failed to create index store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	readiness := time.Duration(cfg.Index.ReadinessTimeout) * time.Second
	if err := store.WaitForReady(ctx, readiness); err != nil {
		logger.Fatal("Index not ready", zap.Error(err))
	}
	if err := checkIndexDimension(ctx, store, cfg.Index); err != nil {
		logger.Fatal("Index check failed", zap.Error(err))
	}
	logger.Info("Connected to index")

	base := openaiTransport.NewEmbedder(&openaiTransport.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   cfg.Embedding.Provider,
		Logger:     logger,
	})
	embedder := buildEmbedder(base, store, cfg.Embedding, logger)

	probeCtx, cancelProbe := context.WithTimeout(ctx, config.Millis(cfg.Embedding.TimeoutMs))
	err = embeddinguc.Probe(probeCtx, embedder, cfg.Index.Dimensions)
	cancelProbe()
	if err != nil {
		logger.Fatal("Embedding model check failed", zap.Error(err))
	}
	logger.Info("Embedder ready",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Index.Dimensions),
		zap.Bool("cache", cfg.Embedding.Cache.Enabled),
	)

	searcher := searchrepo.New(store, searchrepo.Options{
		Backend:     cfg.Index.Driver,
		IndexName:   cfg.Index.Name,
		Namespace:   cfg.Index.Namespace,
		VectorField: cfg.Index.VectorField,
		KeyPrefix:   cfg.Index.KeyPrefix,
		Dimensions:  cfg.Index.Dimensions,
		MaxTopK:     cfg.Retrieval.MaxTopK,
	}, searchrepo.Metrics{
		Requests: metrics.SearchRequestsTotal,
		Duration: metrics.SearchRequestDuration,
	})

	completer := openaiTransport.NewGenerator(&openaiTransport.GeneratorConfig{
		APIKey:    cfg.Generation.APIKey,
		BaseURL:   cfg.Generation.BaseURL,
		Model:     cfg.Generation.Model,
		MaxTokens: cfg.Generation.MaxTokens,
		Provider:  cfg.Generation.Provider,
		Logger:    logger,
	})
	breaker := generationuc.NewBreaker(generationuc.BreakerConfig{
		Name:        cfg.Generation.Provider,
		MaxFailures: cfg.Generation.Breaker.MaxFailures,
		OpenTimeout: time.Duration(cfg.Generation.Breaker.OpenTimeoutSec) * time.Second,
		HalfOpenMax: cfg.Generation.Breaker.HalfOpenMax,
	})
	generator := generationuc.New(completer, breaker, generationuc.Options{
		Timeout:      config.Millis(cfg.Generation.TimeoutMs),
		MaxRetries:   cfg.Generation.MaxRetries(),
		RetryBackoff: 200 * time.Millisecond,
	}, logger)

	askSvc := askuc.New(embedder, searcher, generator, askuc.Options{
		DefaultTopK:            cfg.Retrieval.TopK,
		MaxTopK:                cfg.Retrieval.MaxTopK,
		MaxContextChars:        cfg.Retrieval.MaxContextChars,
		DegradeOnSearchFailure: cfg.Retrieval.Degrade(),
		NoInformationAnswer:    cfg.Retrieval.NoInformationAnswer,
		EmbedTimeout:           config.Millis(cfg.Embedding.TimeoutMs),
		SearchTimeout:          config.Millis(cfg.Index.TimeoutMs),
	})
	healthSvc := healthuc.New(store, base, completer)

	server := chiTransport.NewServer(askSvc, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(chiTransport.JSONRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(chiTransport.WideEvent(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// openStore connects to the configured vector index backend.
func openStore(cfg config.IndexConfig) (db.Store, error) {
	// Return nil interfaces on error, not typed nil pointers.
	switch cfg.Driver {
	case config.DriverRedis, config.DriverValkey:
		s, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Addrs,
			Username: cfg.Username,
			Password: cfg.Password,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverQdrant:
		s, err := dbQdrant.NewStore(dbQdrant.Config{
			Addr:   cfg.Addrs[0],
			APIKey: cfg.APIKey,
			UseTLS: cfg.UseTLS,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown index driver %q", cfg.Driver)
	}
}

// checkIndexDimension fails fast when the index is missing or was built for another model.
func checkIndexDimension(ctx context.Context, store db.IndexInspector, cfg config.IndexConfig) error {
	dim, err := store.IndexDimension(ctx, cfg.Name)
	if err != nil {
		return fmt.Errorf("inspect index %s: %w", cfg.Name, err)
	}
	if dim != 0 && dim != cfg.Dimensions {
		return fmt.Errorf("index %s: %w: has %d, configured %d",
			cfg.Name, domain.ErrVectorDimMismatch, dim, cfg.Dimensions)
	}
	return nil
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instrumented -> Instruction
func buildEmbedder(
	base domain.Embedder,
	store db.Store,
	cfg config.EmbeddingConfig,
	logger *zap.Logger,
) domain.Embedder {
	var embedder domain.Embedder = base

	if kv, ok := store.(db.KVStore); ok && cfg.Cache.Enabled {
		embedder = embcache.New(embedder, kv, embcache.Options{
			TTL: time.Duration(cfg.Cache.TTLSec) * time.Second,
		}, metrics.EmbeddingCacheTotal, logger)
	}

	embedder = embeddinguc.NewInstrumentedEmbedder(embedder, cfg.Provider, cfg.Model, logger)

	// Instruction prefix is outermost so the cache key includes it.
	if cfg.QueryInstruction != "" {
		return domain.NewInstructionEmbedder(embedder, cfg.QueryInstruction)
	}
	return embedder
}
