package semantic

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/docpilot-ai/docpilot/engine/domain"
)

// MemoryIndex is an in-process Index. Entries live in insertion order so
// score ties resolve to the earliest-stored chunk. Dimensionality is pinned
// by the first stored chunk; later mismatches are rejected at Upsert.
type MemoryIndex struct {
	mu     sync.RWMutex
	order  []string
	chunks map[string]domain.Chunk
	dims   int
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{chunks: make(map[string]domain.Chunk)}
}

// Upsert stores chunks, overwriting entries with matching ChunkIDs. A chunk
// whose embedding length differs from the index's pinned dimensionality is
// rejected before anything in the batch is stored.
func (m *MemoryIndex) Upsert(_ context.Context, chunks []domain.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dims := m.dims
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return domain.ErrDimMismatch
		}
		if dims == 0 {
			dims = len(c.Embedding)
		}
		if len(c.Embedding) != dims {
			return domain.ErrDimMismatch
		}
	}
	m.dims = dims

	for _, c := range chunks {
		if _, ok := m.chunks[c.ChunkID]; !ok {
			m.order = append(m.order, c.ChunkID)
		}
		m.chunks[c.ChunkID] = c
	}
	return nil
}

// Search ranks stored chunks by cosine similarity, clamped to [0, 1].
func (m *MemoryIndex) Search(_ context.Context, embedding []float32, topK int) ([]domain.RetrievalResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if topK <= 0 || len(m.order) == 0 {
		return nil, nil
	}
	if len(embedding) != m.dims {
		return nil, domain.ErrDimMismatch
	}

	results := make([]domain.RetrievalResult, 0, len(m.order))
	for _, id := range m.order {
		c := m.chunks[id]
		results = append(results, domain.RetrievalResult{
			ChunkID:    c.ChunkID,
			DocumentID: c.DocumentID,
			Title:      c.Title,
			SourceURL:  c.SourceURL,
			Text:       c.Text,
			Score:      Cosine(embedding, c.Embedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// DeleteByDocument removes all chunks of a document.
func (m *MemoryIndex) DeleteByDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.order[:0]
	for _, id := range m.order {
		if m.chunks[id].DocumentID == documentID {
			delete(m.chunks, id)
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return nil
}

// DeleteAll clears the index and unpins its dimensionality.
func (m *MemoryIndex) DeleteAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order = nil
	m.chunks = make(map[string]domain.Chunk)
	m.dims = 0
	return nil
}

// Count reports the number of stored chunks.
func (m *MemoryIndex) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order), nil
}

// Cosine returns cosine similarity clamped to [0, 1]. Negative similarity
// and zero vectors both map to 0 so they can never pass a confidence gate.
func Cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if cos < 0 {
		return 0
	}
	if cos > 1 {
		return 1
	}
	return float32(cos)
}
