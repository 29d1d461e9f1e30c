// Command ingest runs a one-shot batch of PDF URLs through the ingestion
// pipeline into the vector index and, optionally, the Neo4j catalog.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/docpilot-ai/docpilot/engine/catalog"
	"github.com/docpilot-ai/docpilot/engine/domain"
	"github.com/docpilot-ai/docpilot/engine/ingest"
	"github.com/docpilot-ai/docpilot/engine/jobs"
	"github.com/docpilot-ai/docpilot/engine/progress"
	"github.com/docpilot-ai/docpilot/engine/semantic"
	"github.com/docpilot-ai/docpilot/pkg/llm"
	"github.com/docpilot-ai/docpilot/pkg/metrics"
	"github.com/docpilot-ai/docpilot/pkg/resilience"
)

var met = metrics.New()

var (
	mItemsTotal   = met.Counter("docpilot_ingest_items_total", "URLs submitted for ingestion")
	mItemsOK      = met.Counter("docpilot_ingest_items_ok_total", "URLs ingested successfully")
	mItemsFailed  = met.Counter("docpilot_ingest_items_failed_total", "URLs that failed ingestion")
	mBatchSeconds = met.Histogram("docpilot_ingest_batch_duration_seconds", "End-to-end batch time", nil)
)

func main() {
	var (
		urlFile     = flag.String("file", "", "file with one PDF URL per line")
		pageURL     = flag.String("page", "", "HTML page to scan for PDF links")
		maxItems    = flag.Int("max", 0, "cap on number of URLs (0 = no cap)")
		concurrency = flag.Int("concurrency", jobs.DefaultConcurrency, "parallel document pipelines")
		backend     = flag.String("backend", envOr("VECTOR_BACKEND", "memory"), "vector backend: memory or qdrant")
		qdrantAddr  = flag.String("qdrant", envOr("QDRANT_URL", "localhost:6334"), "Qdrant gRPC address")
		collection  = flag.String("collection", envOr("QDRANT_COLLECTION", "docpilot"), "Qdrant collection name")
		gatewayURL  = flag.String("gateway", envOr("MODEL_GATEWAY_URL", ""), "model gateway base URL")
		embedModel  = flag.String("embed-model", envOr("EMBED_MODEL", "titan-embed-v2"), "embedding model name")
		embedDims   = flag.Int("dims", llm.DefaultDims, "embedding dimensionality")
		neo4jURL    = flag.String("neo4j", envOr("NEO4J_URL", ""), "Neo4j bolt URL (empty disables the catalog)")
		neo4jUser   = flag.String("neo4j-user", envOr("NEO4J_USER", "neo4j"), "Neo4j username")
		neo4jPass   = flag.String("neo4j-pass", envOr("NEO4J_PASS", "password"), "Neo4j password")
		fetchRate   = flag.Float64("rate", 2, "max document fetches per second")
		metricsPort = flag.Int("metrics-port", 9091, "metrics listen port (0 disables)")
	)
	_ = godotenv.Load()
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *metricsPort > 0 {
		met.CollectRuntime("docpilot_ingest", 15*time.Second)
		met.ServeAsync(*metricsPort)
	}

	urls := flag.Args()
	if *urlFile != "" {
		fromFile, err := readURLFile(*urlFile)
		if err != nil {
			log.Error("read url file failed", "error", err)
			os.Exit(1)
		}
		urls = append(urls, fromFile...)
	}

	fetcher := ingest.NewHTTPFetcher(ingest.DefaultFetchOpts())

	if *pageURL != "" {
		links, err := fetcher.DiscoverPDFs(ctx, *pageURL)
		if err != nil {
			log.Error("link discovery failed", "page", *pageURL, "error", err)
			os.Exit(1)
		}
		log.Info("discovered PDF links", "page", *pageURL, "count", len(links))
		for _, l := range links {
			urls = append(urls, l.URL)
		}
	}
	if *maxItems > 0 && len(urls) > *maxItems {
		urls = urls[:*maxItems]
	}
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "no URLs given: pass them as args, -file, or -page")
		os.Exit(2)
	}

	// Vector index
	var index semantic.Index
	switch *backend {
	case "qdrant":
		qi, err := semantic.NewQdrantIndex(*qdrantAddr, *collection, *embedDims)
		if err != nil {
			log.Error("qdrant connect failed", "error", err)
			os.Exit(1)
		}
		defer qi.Close()
		index = qi
		log.Info("connected to Qdrant", "collection", *collection, "dims", *embedDims)
	case "memory":
		index = semantic.NewMemoryIndex()
		log.Warn("using in-memory index, results are discarded on exit")
	default:
		log.Error("unknown backend", "backend", *backend)
		os.Exit(2)
	}

	// Catalog (optional)
	var cat ingest.Cataloger
	if *neo4jURL != "" {
		driver, err := neo4j.NewDriverWithContext(*neo4jURL, neo4j.BasicAuth(*neo4jUser, *neo4jPass, ""))
		if err != nil {
			log.Error("neo4j connect failed", "error", err)
			os.Exit(1)
		}
		defer driver.Close(ctx)
		if err := driver.VerifyConnectivity(ctx); err != nil {
			log.Error("neo4j verify failed", "error", err)
			os.Exit(1)
		}
		cat = catalog.New(driver)
		log.Info("connected to Neo4j")
	}

	// Embedder
	var embedder ingest.Embedder
	if *gatewayURL != "" {
		embedder = llm.NewEmbedClient(llm.EmbedOpts{
			BaseURL: *gatewayURL,
			Model:   *embedModel,
			Dims:    *embedDims,
		})
		log.Info("using gateway embeddings", "model", *embedModel)
	} else {
		log.Error("MODEL_GATEWAY_URL / -gateway required for ingestion")
		os.Exit(2)
	}

	pipeline := ingest.NewPipeline(ingest.Deps{
		Fetcher:  fetcher,
		Embedder: embedder,
		Index:    index,
		Catalog:  cat,
		Limiter:  resilience.NewLimiter(resilience.LimiterOpts{Rate: *fetchRate, Burst: 1}),
		Logger:   log,
	})

	broadcaster := progress.New(progress.WithLogger(log))
	manager := jobs.NewManager(pipeline, broadcaster, jobs.Options{
		Concurrency: *concurrency,
		Logger:      log,
	})

	mItemsTotal.Add(int64(len(urls)))
	start := time.Now()
	snap, err := manager.SubmitSync(ctx, urls)
	mBatchSeconds.Since(start)
	if err != nil {
		log.Error("batch rejected", "error", err)
		os.Exit(1)
	}

	for _, item := range snap.Results {
		if item.OK() {
			mItemsOK.Inc()
			fmt.Printf("ok    %s (document %s)\n", item.SourceURL, item.Detail)
		} else {
			mItemsFailed.Inc()
			fmt.Printf("fail  %s: %s\n", item.SourceURL, item.Detail)
		}
	}
	fmt.Printf("%s: %d/%d succeeded, %d failed in %s\n",
		snap.Status, snap.Processed, snap.Total, snap.Failed, time.Since(start).Round(time.Millisecond))

	if snap.Status == jobs.StatusFailed {
		os.Exit(1)
	}
}

func readURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := domain.ValidateSourceURL(line); err != nil {
			return nil, err
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
