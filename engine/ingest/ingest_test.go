package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/docpilot-ai/docpilot/engine/domain"
	"github.com/docpilot-ai/docpilot/engine/semantic"
	"github.com/docpilot-ai/docpilot/pkg/fn"
)

type stubFetcher struct {
	doc domain.Document
	err error
}

func (s stubFetcher) Fetch(context.Context, string) (domain.Document, error) {
	return s.doc, s.err
}

type stubEmbedder struct {
	dims int
	err  error
	seen []string
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.seen = append(s.seen, text)
	if s.err != nil {
		return nil, s.err
	}
	vec := make([]float32, s.dims)
	vec[0] = 1
	return vec, nil
}

func (s *stubEmbedder) Dims() int { return s.dims }

type stubCatalog struct {
	saved []domain.Document
	err   error
}

func (s *stubCatalog) Save(_ context.Context, doc domain.Document) error {
	s.saved = append(s.saved, doc)
	return s.err
}

func testDoc() domain.Document {
	return domain.Document{
		ID:          domain.DocumentID("https://example.com/report.pdf"),
		SourceURL:   "https://example.com/report.pdf",
		Title:       "Report",
		RawText:     strings.Repeat("The report covers fiscal policy. ", 60),
		PageCount:   3,
		ProcessedAt: time.Now().UTC(),
	}
}

func TestChunkStage_DeterministicIDs(t *testing.T) {
	stage := NewChunk(50, 5, 10)
	first := stage(context.Background(), FetchedDoc{Document: testDoc()})
	second := stage(context.Background(), FetchedDoc{Document: testDoc()})
	if first.IsErr() || second.IsErr() {
		t.Fatal("chunk stage failed")
	}
	a, _ := first.Unwrap()
	b, _ := second.Unwrap()
	if len(a.Chunks) != len(b.Chunks) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a.Chunks), len(b.Chunks))
	}
	for i := range a.Chunks {
		if a.Chunks[i].ChunkID != b.Chunks[i].ChunkID {
			t.Errorf("chunk %d ID not deterministic", i)
		}
		if a.Chunks[i].Index != i {
			t.Errorf("chunk %d has index %d", i, a.Chunks[i].Index)
		}
		if a.Chunks[i].DocumentID != a.Document.ID {
			t.Errorf("chunk %d missing document back-reference", i)
		}
	}
}

func TestChunkStage_EmptyDocument(t *testing.T) {
	doc := testDoc()
	doc.RawText = "   "
	result := NewChunk(50, 5, 10)(context.Background(), FetchedDoc{Document: doc})
	if !result.IsErr() {
		t.Fatal("expected error for empty document")
	}
	_, err := result.Unwrap()
	if !errors.Is(err, domain.ErrEmptyDocument) {
		t.Fatalf("expected ErrEmptyDocument, got %v", err)
	}
}

func TestSafeEmbedder_ZeroVectorFallback(t *testing.T) {
	inner := &stubEmbedder{dims: 8, err: errors.New("gateway down")}
	safe := SafeEmbedder{Inner: inner}

	vec, err := safe.Embed(context.Background(), "some text")
	if err != nil {
		t.Fatalf("SafeEmbedder must not fail: %v", err)
	}
	if len(vec) != 8 {
		t.Fatalf("expected 8-dim zero vector, got %d", len(vec))
	}
	for i, v := range vec {
		if v != 0 {
			t.Errorf("component %d = %f, want 0", i, v)
		}
	}
}

func TestEmbedStage_PopulatesVectors(t *testing.T) {
	emb := &stubEmbedder{dims: 4}
	chunked, _ := NewChunk(50, 5, 10)(context.Background(), FetchedDoc{Document: testDoc()}).Unwrap()

	result := NewEmbed(emb)(context.Background(), chunked)
	if result.IsErr() {
		_, err := result.Unwrap()
		t.Fatalf("embed stage failed: %v", err)
	}
	ed, _ := result.Unwrap()
	if len(emb.seen) != len(chunked.Chunks) {
		t.Errorf("embedded %d texts, want %d", len(emb.seen), len(chunked.Chunks))
	}
	for i, c := range ed.Chunks {
		if len(c.Embedding) != 4 {
			t.Errorf("chunk %d embedding dims = %d", i, len(c.Embedding))
		}
	}
}

func TestPipeline_EndToEnd(t *testing.T) {
	index := semantic.NewMemoryIndex()
	cat := &stubCatalog{}
	pipeline := NewPipeline(Deps{
		Fetcher:  stubFetcher{doc: testDoc()},
		Embedder: &stubEmbedder{dims: 4},
		Index:    index,
		Catalog:  cat,
	})

	result := pipeline(context.Background(), "https://example.com/report.pdf")
	if result.IsErr() {
		_, err := result.Unwrap()
		t.Fatalf("pipeline failed: %v", err)
	}
	doc, _ := result.Unwrap()
	if doc.ID != testDoc().ID {
		t.Errorf("unexpected document ID %s", doc.ID)
	}

	count, _ := index.Count(context.Background())
	if count == 0 {
		t.Fatal("no chunks stored")
	}
	if len(cat.saved) != 1 {
		t.Fatalf("expected 1 catalog save, got %d", len(cat.saved))
	}

	// Re-ingesting replaces, never duplicates.
	if r := pipeline(context.Background(), "https://example.com/report.pdf"); r.IsErr() {
		t.Fatal("second ingest failed")
	}
	again, _ := index.Count(context.Background())
	if again != count {
		t.Errorf("re-ingest changed chunk count %d -> %d", count, again)
	}
}

func TestPipeline_FetchErrorPropagates(t *testing.T) {
	pipeline := NewPipeline(Deps{
		Fetcher:  stubFetcher{err: errors.New("connection refused")},
		Embedder: &stubEmbedder{dims: 4},
		Index:    semantic.NewMemoryIndex(),
		Retry:    fn.RetryOpts{MaxAttempts: 1},
	})

	result := pipeline(context.Background(), "https://example.com/report.pdf")
	if !result.IsErr() {
		t.Fatal("expected pipeline error")
	}
}

// flakyFetcher fails a fixed number of times before succeeding.
type flakyFetcher struct {
	doc      domain.Document
	failures int
	calls    int
}

func (f *flakyFetcher) Fetch(context.Context, string) (domain.Document, error) {
	f.calls++
	if f.calls <= f.failures {
		return domain.Document{}, errors.New("transient: connection reset")
	}
	return f.doc, nil
}

func TestPipeline_RetriesTransientFetch(t *testing.T) {
	fetcher := &flakyFetcher{doc: testDoc(), failures: 2}
	index := semantic.NewMemoryIndex()
	pipeline := NewPipeline(Deps{
		Fetcher:  fetcher,
		Embedder: &stubEmbedder{dims: 4},
		Index:    index,
		Retry:    fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond},
	})

	result := pipeline(context.Background(), "https://example.com/report.pdf")
	if result.IsErr() {
		_, err := result.Unwrap()
		t.Fatalf("pipeline should survive transient fetch failures: %v", err)
	}
	if fetcher.calls != 3 {
		t.Errorf("fetch attempts = %d, want 3", fetcher.calls)
	}
	count, _ := index.Count(context.Background())
	if count == 0 {
		t.Error("no chunks stored after retried fetch")
	}
}

func TestPipeline_CatalogFailureIsNonFatal(t *testing.T) {
	index := semantic.NewMemoryIndex()
	pipeline := NewPipeline(Deps{
		Fetcher:  stubFetcher{doc: testDoc()},
		Embedder: &stubEmbedder{dims: 4},
		Index:    index,
		Catalog:  &stubCatalog{err: errors.New("neo4j unavailable")},
	})

	result := pipeline(context.Background(), "https://example.com/report.pdf")
	if result.IsErr() {
		_, err := result.Unwrap()
		t.Fatalf("catalog failure must not fail the pipeline: %v", err)
	}
	count, _ := index.Count(context.Background())
	if count == 0 {
		t.Error("chunks not stored despite catalog failure")
	}
}
