// Package ingest provides the document ingestion pipeline that processes
// PDF sources through fetch, extraction, chunking, embedding, and storage
// stages.
package ingest

import "github.com/docpilot-ai/docpilot/engine/domain"

// FetchedDoc is a PDF source after download and text extraction.
type FetchedDoc struct {
	Document domain.Document
}

// ChunkedDoc carries the document and its text chunks, pre-embedding.
type ChunkedDoc struct {
	Document domain.Document
	Chunks   []domain.Chunk
}

// EmbeddedDoc carries chunks with populated embedding vectors.
type EmbeddedDoc struct {
	Document domain.Document
	Chunks   []domain.Chunk
}
