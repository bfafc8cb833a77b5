package vector

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

const upsertBatchSize = 100

// QdrantIndex stores all tenants in one collection; isolation is enforced
// by a namespace payload field added to every point and every filter.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dimension  uint64

	ensureOnce sync.Once
	ensureErr  error
}

var _ Index = (*QdrantIndex)(nil)

type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  int
}

func NewQdrantIndex(cfg QdrantConfig) (*QdrantIndex, error) {
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("vector.NewQdrantIndex: %w", err)
	}
	return &QdrantIndex{
		client:     client,
		collection: cfg.Collection,
		dimension:  uint64(cfg.Dimension),
	}, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	q.ensureOnce.Do(func() {
		exists, err := q.client.CollectionExists(ctx, q.collection)
		if err != nil {
			q.ensureErr = fmt.Errorf("vector: collection exists: %w", err)
			return
		}
		if exists {
			return
		}
		q.ensureErr = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     q.dimension,
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	return q.ensureErr
}

// pointID maps a logical id to the UUID point id the index requires. The
// namespace is part of the input so equal logical ids in different tenants
// never collide.
func pointID(namespace, logicalID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(namespace+"/"+logicalID)).String()
}

func (q *QdrantIndex) Upsert(ctx context.Context, namespace string, items []Item) error {
	if err := q.ensureCollection(ctx); err != nil {
		return err
	}
	for start := 0; start < len(items); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(items))
		points := make([]*qdrant.PointStruct, 0, end-start)
		for _, item := range items[start:end] {
			payload := SanitizeMetadata(item.Metadata)
			payload["vector_id"] = item.ID
			payload["namespace"] = namespace
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewID(pointID(namespace, item.ID)),
				Vectors: qdrant.NewVectors(item.Values...),
				Payload: qdrant.NewValueMap(payload),
			})
		}
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.collection,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return fmt.Errorf("vector.Upsert: %w", err)
		}
	}
	return nil
}

func (q *QdrantIndex) filterFor(namespace string, filter Filter) *qdrant.Filter {
	must := []*qdrant.Condition{qdrant.NewMatch("namespace", namespace)}
	for key, value := range filter {
		must = append(must, qdrant.NewMatch(key, value))
	}
	return &qdrant.Filter{Must: must}
}

func (q *QdrantIndex) Search(ctx context.Context, namespace string, values []float32, topK int, filter Filter) ([]Hit, error) {
	if err := q.ensureCollection(ctx); err != nil {
		return nil, err
	}
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(values...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		Filter:         q.filterFor(namespace, filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vector.Search: %w", err)
	}

	hits := make([]Hit, 0, len(points))
	for _, point := range points {
		metadata := payloadToMap(point.Payload)
		id, _ := metadata["vector_id"].(string)
		delete(metadata, "namespace")
		hits = append(hits, Hit{
			ID:       id,
			Score:    float64(point.Score),
			Metadata: metadata,
		})
	}
	return hits, nil
}

func (q *QdrantIndex) DeleteDocument(ctx context.Context, namespace, documentID string) error {
	return q.deleteByFilter(ctx, q.filterFor(namespace, Filter{"doc_id": documentID}))
}

func (q *QdrantIndex) Delete(ctx context.Context, namespace string, ids []string) error {
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewID(pointID(namespace, id))
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("vector.Delete: %w", err)
	}
	return nil
}

func (q *QdrantIndex) DeleteNamespace(ctx context.Context, namespace string) error {
	return q.deleteByFilter(ctx, q.filterFor(namespace, nil))
}

func (q *QdrantIndex) deleteByFilter(ctx context.Context, filter *qdrant.Filter) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelectorFilter(filter),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("vector: delete by filter: %w", err)
	}
	return nil
}

func (q *QdrantIndex) Count(ctx context.Context, namespace string) (uint64, error) {
	if err := q.ensureCollection(ctx); err != nil {
		return 0, err
	}
	count, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Filter:         q.filterFor(namespace, nil),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("vector.Count: %w", err)
	}
	return count, nil
}

func (q *QdrantIndex) Ping(ctx context.Context) error {
	if _, err := q.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("vector.Ping: %w", err)
	}
	return nil
}

func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		if v, ok := valueToAny(value); ok {
			out[key] = v
		}
	}
	return out
}

func valueToAny(value *qdrant.Value) (any, bool) {
	switch kind := value.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue, true
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue, true
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue, true
	case *qdrant.Value_BoolValue:
		return kind.BoolValue, true
	case *qdrant.Value_ListValue:
		values := kind.ListValue.GetValues()
		list := make([]any, 0, len(values))
		for _, elem := range values {
			if v, ok := valueToAny(elem); ok {
				list = append(list, v)
			}
		}
		return list, true
	default:
		return nil, false
	}
}
