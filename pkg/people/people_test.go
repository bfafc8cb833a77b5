package people

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowd-ai/knowd/pkg/vector"
)

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedQuery(context.Context, int64, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func TestSearchReturnsEmployeesOnly(t *testing.T) {
	ctx := context.Background()
	idx := vector.NewMemoryIndex()
	require.NoError(t, idx.Upsert(ctx, vector.Namespace(1), []vector.Item{
		{
			ID:     vector.EmployeeVectorID(7),
			Values: []float32{1, 0},
			Metadata: map[string]any{
				"kind": vector.KindEmployee, "user_id": int64(7),
				"name": "Alice Chen", "title": "Staff Engineer",
				"specialties": "distributed systems", "skills": "go",
			},
		},
		{
			ID:       "doc_x_chunk_0",
			Values:   []float32{1, 0},
			Metadata: map[string]any{"kind": vector.KindDocument, "doc_id": "x"},
		},
		{
			ID:       vector.EmployeeVectorID(8),
			Values:   []float32{0, 1},
			Metadata: map[string]any{"kind": vector.KindEmployee, "user_id": int64(8), "name": "Far Away"},
		},
	}))

	s := NewService(fakeEmbedder{}, idx, slog.New(slog.DiscardHandler), 0.5)
	matches, err := s.Search(ctx, 1, "who knows distributed systems?", 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, int64(7), matches[0].UserID)
	assert.Equal(t, "Alice Chen", matches[0].Name)
	assert.Equal(t, "Staff Engineer", matches[0].Title)
	assert.Greater(t, matches[0].Score, 0.9)
}

func TestSearchTenantIsolation(t *testing.T) {
	ctx := context.Background()
	idx := vector.NewMemoryIndex()
	require.NoError(t, idx.Upsert(ctx, vector.Namespace(2), []vector.Item{
		{ID: vector.EmployeeVectorID(9), Values: []float32{1, 0},
			Metadata: map[string]any{"kind": vector.KindEmployee, "user_id": int64(9), "name": "Other Org"}},
	}))

	s := NewService(fakeEmbedder{}, idx, slog.New(slog.DiscardHandler), 0.5)
	matches, err := s.Search(ctx, 1, "anyone?", 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}
