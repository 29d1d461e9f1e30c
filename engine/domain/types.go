// Package domain defines core types, sentinel errors, and validation for
// the docpilot pipeline. It acts as the validation gate at API entry points.
package domain

import "time"

// Document is one successfully downloaded and text-extracted source.
// IDs derive from the source URL, so re-processing a URL replaces the
// previous version.
type Document struct {
	ID          string    `json:"id"`
	SourceURL   string    `json:"source_url"`
	Title       string    `json:"title"`
	RawText     string    `json:"raw_text,omitempty"`
	PageCount   int       `json:"page_count"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Chunk is a bounded contiguous slice of a document's text, the unit of
// embedding and retrieval. Index is the 0-based position within the parent
// document. DocumentID is a back-reference only; deletion is index-level.
type Chunk struct {
	ChunkID    string    `json:"chunk_id"`
	DocumentID string    `json:"document_id"`
	Index      int       `json:"index"`
	Text       string    `json:"text"`
	Title      string    `json:"title,omitempty"`
	SourceURL  string    `json:"source_url,omitempty"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

// RetrievalResult is a transient vector search hit, never persisted.
// Score is in [0,1], higher is more relevant.
type RetrievalResult struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title,omitempty"`
	SourceURL  string  `json:"source_url,omitempty"`
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
}

// ItemOutcome classifies the result of one batch item.
type ItemOutcome string

const (
	OutcomeSuccess ItemOutcome = "success"
	OutcomeFailure ItemOutcome = "failure"
)

// ItemResult records the outcome of processing a single source URL.
type ItemResult struct {
	SourceURL string      `json:"source_url"`
	Outcome   ItemOutcome `json:"outcome"`
	Detail    string      `json:"detail,omitempty"`
}

// OK reports whether the item succeeded.
func (r ItemResult) OK() bool { return r.Outcome == OutcomeSuccess }

// PDFLink is a candidate source discovered on a web page.
type PDFLink struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}
