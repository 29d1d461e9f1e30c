// Package main implements the docpilot API server: PDF ingestion jobs,
// progress streaming, and retrieval-augmented question answering.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/docpilot-ai/docpilot/engine/answer"
	"github.com/docpilot-ai/docpilot/engine/catalog"
	"github.com/docpilot-ai/docpilot/engine/ingest"
	"github.com/docpilot-ai/docpilot/engine/jobs"
	"github.com/docpilot-ai/docpilot/engine/progress"
	"github.com/docpilot-ai/docpilot/engine/semantic"
	"github.com/docpilot-ai/docpilot/pkg/llm"
	"github.com/docpilot-ai/docpilot/pkg/metrics"
	"github.com/docpilot-ai/docpilot/pkg/mid"
	"github.com/docpilot-ai/docpilot/pkg/resilience"
)

// Config holds all environment-based configuration.
type Config struct {
	Port           string
	Backend        string // "memory" or "qdrant"
	QdrantURL      string
	Collection     string
	Neo4jURL       string
	Neo4jUser      string
	Neo4jPass      string
	NATSURL        string
	GatewayURL     string
	EmbedModel     string
	GenerateModel  string
	EmbedDims      int
	CORSOrigin     string
	Concurrency    int
	FetchRate      float64
	EnableTracing  bool
	CatalogEnabled bool
}

func loadConfig() Config {
	return Config{
		Port:           envOr("PORT", "8080"),
		Backend:        envOr("VECTOR_BACKEND", "memory"),
		QdrantURL:      envOr("QDRANT_URL", "localhost:6334"),
		Collection:     envOr("QDRANT_COLLECTION", "docpilot"),
		Neo4jURL:       envOr("NEO4J_URL", ""),
		Neo4jUser:      envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:      envOr("NEO4J_PASS", "password"),
		NATSURL:        envOr("NATS_URL", ""),
		GatewayURL:     envOr("MODEL_GATEWAY_URL", ""),
		EmbedModel:     envOr("EMBED_MODEL", "titan-embed-v2"),
		GenerateModel:  envOr("GENERATE_MODEL", "claude-3-haiku"),
		EmbedDims:      envIntOr("EMBED_DIMS", llm.DefaultDims),
		CORSOrigin:     envOr("CORS_ORIGIN", "*"),
		Concurrency:    envIntOr("JOB_CONCURRENCY", jobs.DefaultConcurrency),
		FetchRate:      envFloatOr("FETCH_RATE", 2),
		EnableTracing:  envOr("OTEL_ENABLED", "") == "true",
		CatalogEnabled: envOr("NEO4J_URL", "") != "",
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()

	// --- Vector index ---
	var index semantic.Index
	switch cfg.Backend {
	case "qdrant":
		qi, err := semantic.NewQdrantIndex(cfg.QdrantURL, cfg.Collection, cfg.EmbedDims)
		if err != nil {
			return fmt.Errorf("qdrant connect: %w", err)
		}
		defer qi.Close()
		index = qi
	case "memory":
		index = semantic.NewMemoryIndex()
	default:
		return fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
	logger.Info("vector index ready", "backend", cfg.Backend)

	// --- Document catalog (optional) ---
	var cat *catalog.Store
	if cfg.CatalogEnabled {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
		if err != nil {
			return fmt.Errorf("neo4j driver: %w", err)
		}
		defer driver.Close(ctx)
		cat = catalog.New(driver)
	}

	// --- Model gateway ---
	var embedder ingest.Embedder
	var strategies []answer.Strategy
	if cfg.GatewayURL != "" {
		embedder = llm.NewEmbedClient(llm.EmbedOpts{
			BaseURL: cfg.GatewayURL,
			Model:   cfg.EmbedModel,
			Dims:    cfg.EmbedDims,
		})
		strategies = answer.NewStrategies(
			llm.NewClient(llm.InvokeOpts{BaseURL: cfg.GatewayURL}),
			cfg.GenerateModel, 0)
	} else {
		logger.Warn("MODEL_GATEWAY_URL unset, embeddings degrade to zero vectors")
		embedder = zeroEmbedder{dims: cfg.EmbedDims}
		strategies = answer.NewStrategies(nil, "", 0)
	}

	// --- Progress broadcaster (optional NATS bridge) ---
	progressOpts := []progress.Option{progress.WithLogger(logger)}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("docpilot-api"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
		progressOpts = append(progressOpts, progress.WithNATS(nc))
	}
	broadcaster := progress.New(progressOpts...)

	// --- Ingestion pipeline and job manager ---
	fetcher := ingest.NewHTTPFetcher(ingest.DefaultFetchOpts())
	pipeline := ingest.NewPipeline(ingest.Deps{
		Fetcher:  fetcher,
		Embedder: embedder,
		Index:    index,
		Catalog:  catalogOrNil(cat),
		Limiter:  resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.FetchRate, Burst: 1}),
		Logger:   logger,
	})
	manager := jobs.NewManager(pipeline, broadcaster, jobs.Options{
		Concurrency: cfg.Concurrency,
		Logger:      logger,
	})

	// --- Answer engine ---
	engine := answer.New(embedder, index, strategies, answer.DefaultOptions(), logger)

	// --- HTTP server ---
	srvDeps := serverDeps{
		manager:     manager,
		broadcaster: broadcaster,
		engine:      engine,
		index:       index,
		catalog:     cat,
		fetcher:     fetcher,
		metrics:     reg,
		logger:      logger,
	}

	middlewares := []mid.Middleware{
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
	}
	if cfg.EnableTracing {
		middlewares = append(middlewares, mid.OTel("docpilot-api"))
	}
	handler := mid.Chain(newMux(srvDeps), middlewares...)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams stay open
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// catalogOrNil keeps a typed nil *catalog.Store out of the Cataloger
// interface value.
func catalogOrNil(c *catalog.Store) ingest.Cataloger {
	if c == nil {
		return nil
	}
	return c
}

// zeroEmbedder stands in when no model gateway is configured, keeping the
// pipeline runnable for local development.
type zeroEmbedder struct{ dims int }

func (z zeroEmbedder) Embed(context.Context, string) ([]float32, error) {
	return make([]float32, z.dims), nil
}

func (z zeroEmbedder) Dims() int { return z.dims }
