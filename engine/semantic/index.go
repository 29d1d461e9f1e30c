// Package semantic owns vector storage and similarity search. Two backends
// implement the same Index: an in-process store for tests and small
// deployments, and a Qdrant-backed store for everything else.
package semantic

import (
	"context"

	"github.com/docpilot-ai/docpilot/engine/domain"
)

// Index is the vector store contract the ingest and answer engines depend on.
type Index interface {
	// Upsert stores chunks keyed by ChunkID, replacing existing entries.
	Upsert(ctx context.Context, chunks []domain.Chunk) error

	// Search returns up to topK chunks ranked by similarity to the query
	// vector. Scores are in [0, 1], highest first.
	Search(ctx context.Context, embedding []float32, topK int) ([]domain.RetrievalResult, error)

	// DeleteByDocument removes every chunk belonging to a document.
	DeleteByDocument(ctx context.Context, documentID string) error

	// DeleteAll clears the index.
	DeleteAll(ctx context.Context) error

	// Count reports how many chunks the index holds.
	Count(ctx context.Context) (int, error)
}
