package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docpilot-ai/docpilot/engine/domain"
	"github.com/docpilot-ai/docpilot/engine/semantic"
	"github.com/docpilot-ai/docpilot/pkg/fn"
	"github.com/docpilot-ai/docpilot/pkg/resilience"
)

const (
	// EmbedConcurrency bounds parallel embedding calls per document.
	EmbedConcurrency = 4
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dims() int
}

// Cataloger persists document metadata. Failures are logged, not fatal;
// the vector index remains the source of truth for retrieval.
type Cataloger interface {
	Save(ctx context.Context, doc domain.Document) error
}

// Deps holds the external dependencies for the ingestion pipeline.
type Deps struct {
	Fetcher  Fetcher
	Embedder Embedder
	Index    semantic.Index
	Catalog  Cataloger
	Limiter  *resilience.Limiter
	Logger   *slog.Logger

	ChunkSize      int
	Overlap        int
	BoundaryWindow int

	// Retry governs fetch attempts; zero MaxAttempts uses DefaultFetchRetry.
	Retry fn.RetryOpts
}

// DefaultFetchRetry retries transient download failures with short backoff.
// Each attempt still waits on the configured rate limiter.
var DefaultFetchRetry = fn.RetryOpts{
	MaxAttempts: 3,
	InitialWait: 500 * time.Millisecond,
	MaxWait:     5 * time.Second,
	Jitter:      true,
}

// SafeEmbedder wraps an Embedder so a failed call degrades to a zero vector
// instead of failing the document. Zero vectors score 0 on any search, so
// the chunk text is preserved but effectively unranked until re-embedded.
type SafeEmbedder struct {
	Inner  Embedder
	Logger *slog.Logger
}

// Embed returns the inner embedding, or a zero vector on error.
func (s SafeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.Inner.Embed(ctx, text)
	if err != nil {
		log := s.Logger
		if log == nil {
			log = slog.Default()
		}
		log.Warn("ingest: embed failed, using zero vector", "error", err)
		return make([]float32, s.Inner.Dims()), nil
	}
	return vec, nil
}

// Dims returns the inner dimensionality.
func (s SafeEmbedder) Dims() int { return s.Inner.Dims() }

// --- Pipeline Stages ---

// NewFetch creates a stage that downloads and extracts one PDF source.
func NewFetch(f Fetcher) fn.Stage[string, FetchedDoc] {
	return func(ctx context.Context, sourceURL string) fn.Result[FetchedDoc] {
		doc, err := f.Fetch(ctx, sourceURL)
		if err != nil {
			return fn.Err[FetchedDoc](err)
		}
		return fn.Ok(FetchedDoc{Document: doc})
	}
}

// NewChunk creates a stage that splits a document into chunks carrying
// deterministic IDs and retrieval metadata.
func NewChunk(size, overlap, window int) fn.Stage[FetchedDoc, ChunkedDoc] {
	return func(_ context.Context, fd FetchedDoc) fn.Result[ChunkedDoc] {
		texts := ChunkWords(fd.Document.RawText, size, overlap, window)
		if len(texts) == 0 {
			return fn.Err[ChunkedDoc](domain.ErrEmptyDocument)
		}
		chunks := make([]domain.Chunk, len(texts))
		for i, t := range texts {
			chunks[i] = domain.Chunk{
				ChunkID:    domain.ChunkUUID(fd.Document.ID, i),
				DocumentID: fd.Document.ID,
				Index:      i,
				Text:       t,
				Title:      fd.Document.Title,
				SourceURL:  fd.Document.SourceURL,
			}
		}
		return fn.Ok(ChunkedDoc{Document: fd.Document, Chunks: chunks})
	}
}

// NewEmbed creates a stage that embeds chunks with bounded parallelism.
func NewEmbed(e Embedder) fn.Stage[ChunkedDoc, EmbeddedDoc] {
	return func(ctx context.Context, cd ChunkedDoc) fn.Result[EmbeddedDoc] {
		results := fn.ParMapResult(cd.Chunks, EmbedConcurrency,
			func(c domain.Chunk) fn.Result[[]float32] {
				return fn.FromPair(e.Embed(ctx, c.Text))
			})
		vectors, err := fn.Collect(results).Unwrap()
		if err != nil {
			return fn.Err[EmbeddedDoc](fmt.Errorf("embed chunks: %w", err))
		}
		chunks := make([]domain.Chunk, len(cd.Chunks))
		for i, c := range cd.Chunks {
			c.Embedding = vectors[i]
			chunks[i] = c
		}
		return fn.Ok(EmbeddedDoc{Document: cd.Document, Chunks: chunks})
	}
}

// NewStore creates a stage that replaces the document's chunks in the vector
// index and records its metadata in the catalog.
func NewStore(index semantic.Index, catalog Cataloger, log *slog.Logger) fn.Stage[EmbeddedDoc, domain.Document] {
	return func(ctx context.Context, ed EmbeddedDoc) fn.Result[domain.Document] {
		if err := index.DeleteByDocument(ctx, ed.Document.ID); err != nil {
			return fn.Err[domain.Document](fmt.Errorf("clear previous chunks: %w", err))
		}
		if err := index.Upsert(ctx, ed.Chunks); err != nil {
			return fn.Err[domain.Document](fmt.Errorf("vector upsert: %w", err))
		}
		if catalog != nil {
			if err := catalog.Save(ctx, ed.Document); err != nil {
				log.Warn("ingest: catalog save failed", "error", err, "document_id", ed.Document.ID)
			}
		}
		return fn.Ok(ed.Document)
	}
}

// LoggedTap returns a stage that logs entry and exit with duration.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return func(ctx context.Context, t T) fn.Result[T] {
		log.Debug("stage.enter", "stage", name)
		start := time.Now()
		defer func() {
			log.Debug("stage.exit", "stage", name, "duration", time.Since(start))
		}()
		return fn.Ok(t)
	}
}

// NewPipeline composes Fetch, Chunk, Embed, and Store into one stage taking
// a source URL and returning the stored document. A configured rate limiter
// gates the fetch so batch ingestion does not hammer origin servers.
func NewPipeline(deps Deps) fn.Stage[string, domain.Document] {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	size, overlap, window := deps.ChunkSize, deps.Overlap, deps.BoundaryWindow
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap <= 0 {
		overlap = DefaultOverlap
	}
	if window <= 0 {
		window = DefaultBoundaryWindow
	}

	retry := deps.Retry
	if retry.MaxAttempts <= 0 {
		retry = DefaultFetchRetry
	}

	embedder := SafeEmbedder{Inner: deps.Embedder, Logger: log}

	fetch := NewFetch(deps.Fetcher)
	if deps.Limiter != nil {
		fetch = resilience.LimiterWaitStage(deps.Limiter, fetch)
	}
	fetch = fn.RetryStage(retry, fetch)

	fetched := fn.Then(LoggedTap[string]("fetch", log), fetch)
	chunked := fn.Then(fetched, fn.Then(LoggedTap[FetchedDoc]("chunk", log), NewChunk(size, overlap, window)))
	embedded := fn.Then(chunked, fn.Then(LoggedTap[ChunkedDoc]("embed", log), NewEmbed(embedder)))
	stored := fn.Then(embedded, fn.Then(LoggedTap[EmbeddedDoc]("store", log), NewStore(deps.Index, deps.Catalog, log)))

	return fn.TracedStage("ingest.document", stored)
}
