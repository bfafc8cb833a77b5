package vector

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is an in-memory Index for tests and local development.
type MemoryIndex struct {
	mu         sync.Mutex
	namespaces map[string]map[string]Item
}

var _ Index = (*MemoryIndex)(nil)

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{namespaces: make(map[string]map[string]Item)}
}

func (m *MemoryIndex) Upsert(_ context.Context, namespace string, items []Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.namespaces[namespace]
	if !ok {
		ns = make(map[string]Item)
		m.namespaces[namespace] = ns
	}
	for _, item := range items {
		values := make([]float32, len(item.Values))
		copy(values, item.Values)
		ns[item.ID] = Item{ID: item.ID, Values: values, Metadata: SanitizeMetadata(item.Metadata)}
	}
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, namespace string, values []float32, topK int, filter Filter) ([]Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var hits []Hit
	for _, item := range m.namespaces[namespace] {
		if !matches(item.Metadata, filter) {
			continue
		}
		hits = append(hits, Hit{
			ID:       item.ID,
			Score:    cosineSimilarity(values, item.Values),
			Metadata: item.Metadata,
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func matches(metadata map[string]any, filter Filter) bool {
	for key, want := range filter {
		got, ok := metadata[key].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}

func (m *MemoryIndex) DeleteDocument(_ context.Context, namespace, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, item := range m.namespaces[namespace] {
		if docID, _ := item.Metadata["doc_id"].(string); docID == documentID {
			delete(m.namespaces[namespace], id)
		}
	}
	return nil
}

func (m *MemoryIndex) Delete(_ context.Context, namespace string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.namespaces[namespace], id)
	}
	return nil
}

func (m *MemoryIndex) DeleteNamespace(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.namespaces, namespace)
	return nil
}

func (m *MemoryIndex) Count(_ context.Context, namespace string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.namespaces[namespace])), nil
}

func (m *MemoryIndex) Ping(context.Context) error { return nil }

func (m *MemoryIndex) Close() error { return nil }

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
