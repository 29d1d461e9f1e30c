package semantic

import (
	"context"
	"fmt"
	"strings"
	"sync"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/docpilot-ai/docpilot/engine/domain"
)

// QdrantIndex is the sole owner of all Qdrant operations.
type QdrantIndex struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	dims        int

	mu      sync.Mutex
	ensured bool
}

// NewQdrantIndex creates a QdrantIndex connected to Qdrant at the given gRPC
// address. The collection is created lazily on first write or search.
func NewQdrantIndex(addr, collection string, dims int) (*QdrantIndex, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &QdrantIndex{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		dims:        dims,
	}, nil
}

// Close closes the underlying gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.conn.Close()
}

// ensureCollection creates the collection if it doesn't exist yet. The result
// is cached; DeleteAll resets the cache.
func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ensured {
		return nil
	}

	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	exists := false
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			exists = true
			break
		}
	}

	if !exists {
		_, err = q.collections.Create(ctx, &pb.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: &pb.VectorsConfig{
				Config: &pb.VectorsConfig_Params{
					Params: &pb.VectorParams{
						Size:     uint64(q.dims),
						Distance: pb.Distance_Cosine,
					},
				},
			},
		})
		if err != nil {
			return fmt.Errorf("semantic: create collection %s: %w", q.collection, err)
		}
	}
	q.ensured = true
	return nil
}

// Upsert stores chunks as Qdrant points keyed by ChunkID.
func (q *QdrantIndex) Upsert(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := q.ensureCollection(ctx); err != nil {
		return err
	}

	points := make([]*pb.PointStruct, len(chunks))
	for i, c := range chunks {
		if len(c.Embedding) != q.dims {
			return domain.ErrDimMismatch
		}
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: c.ChunkID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: c.Embedding},
				},
			},
			Payload: map[string]*pb.Value{
				"content":     stringValue(c.Text),
				"doc_id":      stringValue(c.DocumentID),
				"title":       stringValue(c.Title),
				"source":      stringValue(c.SourceURL),
				"chunk_index": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(c.Index)}},
			},
		}
	}

	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(chunks), err)
	}
	return nil
}

// Search performs k-NN similarity search. A search that fails because the
// collection does not exist yet is retried once after creating it; a fresh
// deployment then answers with empty results instead of an error.
func (q *QdrantIndex) Search(ctx context.Context, embedding []float32, topK int) ([]domain.RetrievalResult, error) {
	if len(embedding) != q.dims {
		return nil, domain.ErrDimMismatch
	}
	if topK <= 0 {
		return nil, nil
	}

	resp, err := q.search(ctx, embedding, topK)
	if err != nil && isCollectionMissing(err) {
		q.mu.Lock()
		q.ensured = false
		q.mu.Unlock()
		if eerr := q.ensureCollection(ctx); eerr != nil {
			return nil, eerr
		}
		resp, err = q.search(ctx, embedding, topK)
	}
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	results := make([]domain.RetrievalResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		rr := domain.RetrievalResult{
			ChunkID: r.GetId().GetUuid(),
			Score:   clampScore(r.GetScore()),
		}
		for k, val := range r.GetPayload() {
			s := val.GetStringValue()
			switch k {
			case "content":
				rr.Text = s
			case "doc_id":
				rr.DocumentID = s
			case "title":
				rr.Title = s
			case "source":
				rr.SourceURL = s
			}
		}
		results[i] = rr
	}
	return results, nil
}

func (q *QdrantIndex) search(ctx context.Context, embedding []float32, topK int) (*pb.SearchResponse, error) {
	return q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
}

// DeleteByDocument removes all points matching a doc_id. Used for re-ingestion.
func (q *QdrantIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	if err := q.ensureCollection(ctx); err != nil {
		return err
	}
	wait := true
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{
						{
							ConditionOneOf: &pb.Condition_Field{
								Field: &pb.FieldCondition{
									Key: "doc_id",
									Match: &pb.Match{
										MatchValue: &pb.Match_Keyword{Keyword: documentID},
									},
								},
							},
						},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete by doc_id %s: %w", documentID, err)
	}
	return nil
}

// DeleteAll drops and recreates the collection.
func (q *QdrantIndex) DeleteAll(ctx context.Context) error {
	_, err := q.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: q.collection,
	})
	if err != nil && !isCollectionMissing(err) {
		return fmt.Errorf("semantic: delete collection %s: %w", q.collection, err)
	}
	q.mu.Lock()
	q.ensured = false
	q.mu.Unlock()
	return q.ensureCollection(ctx)
}

// Count reports the number of stored points.
func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	if err := q.ensureCollection(ctx); err != nil {
		return 0, err
	}
	exact := true
	resp, err := q.points.Count(ctx, &pb.CountPoints{
		CollectionName: q.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("semantic: count: %w", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func clampScore(s float32) float32 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func isCollectionMissing(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "doesn't exist") || strings.Contains(msg, "not_found")
}
