// Package catalog persists document metadata in Neo4j, separate from the
// vector index. The catalog is the browsable record of what was ingested;
// retrieval never depends on it.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/docpilot-ai/docpilot/engine/domain"
)

// Store provides document metadata operations on top of Neo4j.
type Store struct {
	driver neo4j.DriverWithContext
}

// New creates a Store.
func New(driver neo4j.DriverWithContext) *Store {
	return &Store{driver: driver}
}

// Save creates or updates a document node. Raw text is never persisted
// here; the catalog holds metadata only.
func (s *Store) Save(ctx context.Context, doc domain.Document) error {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MERGE (d:Document {id: $id}) SET d += $props`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"id": doc.ID,
		"props": map[string]any{
			"source_url":   doc.SourceURL,
			"title":        doc.Title,
			"page_count":   doc.PageCount,
			"processed_at": doc.ProcessedAt.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("catalog: save %s: %w", doc.ID, err)
	}
	return nil
}

// Get returns a document's metadata by ID.
func (s *Store) Get(ctx context.Context, id string) (domain.Document, error) {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MATCH (d:Document {id: $id}) RETURN d`
	result, err := sess.Run(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return domain.Document{}, fmt.Errorf("catalog: get %s: %w", id, err)
	}
	if !result.Next(ctx) {
		return domain.Document{}, fmt.Errorf("catalog: get %s: %w", id, domain.ErrDocumentNotFound)
	}
	node, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "d")
	if err != nil {
		return domain.Document{}, fmt.Errorf("catalog: get %s: %w", id, err)
	}
	return documentFromProps(node.Props), nil
}

// List returns all catalogued documents, most recently processed first.
func (s *Store) List(ctx context.Context) ([]domain.Document, error) {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MATCH (d:Document) RETURN d ORDER BY d.processed_at DESC`
	result, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}

	var docs []domain.Document
	for result.Next(ctx) {
		node, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "d")
		if err != nil {
			return nil, fmt.Errorf("catalog: list: %w", err)
		}
		docs = append(docs, documentFromProps(node.Props))
	}
	return docs, nil
}

// DeleteAll removes every document node. Companion to the vector index's
// DeleteAll so a full reset clears both stores.
func (s *Store) DeleteAll(ctx context.Context) error {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	_, err := sess.Run(ctx, `MATCH (d:Document) DETACH DELETE d`, nil)
	if err != nil {
		return fmt.Errorf("catalog: delete all: %w", err)
	}
	return nil
}

func documentFromProps(props map[string]any) domain.Document {
	doc := domain.Document{
		ID:        strProp(props, "id"),
		SourceURL: strProp(props, "source_url"),
		Title:     strProp(props, "title"),
	}
	if v, ok := props["page_count"].(int64); ok {
		doc.PageCount = int(v)
	}
	if ts := strProp(props, "processed_at"); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			doc.ProcessedAt = t
		}
	}
	return doc
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}
