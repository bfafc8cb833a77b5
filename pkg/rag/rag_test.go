package rag

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowd-ai/knowd/pkg/llm"
	"github.com/knowd-ai/knowd/pkg/store"
	"github.com/knowd-ai/knowd/pkg/vector"
)

type fakeEmbedder struct {
	values []float32
}

func (f *fakeEmbedder) EmbedQuery(context.Context, int64, string) ([]float32, error) {
	return f.values, nil
}

type fakeLLM struct {
	content  string
	lastUser string
	calls    int
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.calls++
	f.lastUser = req.User
	return &llm.Response{Content: f.content}, nil
}

func seedIndex(t *testing.T, idx *vector.MemoryIndex, st *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()

	doc := &store.Document{ID: "doc-1", OrgID: 1, Filename: "roadmap.txt",
		FileType: store.FileTypeTXT, Status: store.DocumentProcessing}
	require.NoError(t, st.CreateDocument(ctx, doc))
	require.NoError(t, st.ReplaceChunks(ctx, doc.ID, []store.Chunk{
		{ID: "c0", DocumentID: doc.ID, Index: 0, Text: "The 2026 roadmap prioritizes search quality."},
	}))

	require.NoError(t, idx.Upsert(ctx, vector.Namespace(1), []vector.Item{
		{
			ID:     vector.DocumentVectorID(doc.ID, 0),
			Values: []float32{1, 0},
			Metadata: map[string]any{
				"kind": vector.KindDocument, "doc_id": doc.ID,
				"chunk_index": 0, "filename": "roadmap.txt",
				"file_type": "txt", "upload_date": "2026-03-01T09:00:00Z",
				"text": "truncated copy",
			},
		},
		{
			ID:       "emp_9",
			Values:   []float32{1, 0},
			Metadata: map[string]any{"kind": vector.KindEmployee, "name": "Alice"},
		},
		{
			ID:     vector.DocumentVectorID(doc.ID, 99),
			Values: []float32{0, 1}, // orthogonal, below the floor
			Metadata: map[string]any{
				"kind": vector.KindDocument, "doc_id": doc.ID,
				"chunk_index": 99, "filename": "roadmap.txt", "text": "far away",
			},
		},
	}))
}

func newEngine(st *store.MemoryStore, idx *vector.MemoryIndex, client llm.Client) *Engine {
	return NewEngine(&fakeEmbedder{values: []float32{1, 0}}, idx, st, client,
		slog.New(slog.DiscardHandler), 10, 0.7)
}

func TestRetrieveFiltersKindAndScore(t *testing.T) {
	st := store.NewMemoryStore()
	idx := vector.NewMemoryIndex()
	seedIndex(t, idx, st)
	engine := newEngine(st, idx, &fakeLLM{})

	sources, err := engine.Retrieve(context.Background(), 1, "roadmap?", 0)
	require.NoError(t, err)
	require.Len(t, sources, 1, "employee vector and low-score chunk excluded")
	assert.Equal(t, "doc-1", sources[0].DocumentID)
	assert.Equal(t, "txt", sources[0].FileType)
	assert.Equal(t, "2026-03-01T09:00:00Z", sources[0].UploadDate)
	assert.Equal(t, "The 2026 roadmap prioritizes search quality.", sources[0].Excerpt,
		"excerpt hydrated from the store, not the metadata copy")
}

func TestAnswerCitesSources(t *testing.T) {
	st := store.NewMemoryStore()
	idx := vector.NewMemoryIndex()
	seedIndex(t, idx, st)
	client := &fakeLLM{content: "Search quality is the 2026 priority [1]."}
	engine := newEngine(st, idx, client)

	answer, err := engine.Answer(context.Background(), 1, "What does the roadmap prioritize?")
	require.NoError(t, err)
	assert.Contains(t, answer.Text, "[1]")
	require.Len(t, answer.Sources, 1)
	assert.Contains(t, client.lastUser, "[1] (roadmap.txt)")
	assert.Contains(t, client.lastUser, "Question: What does the roadmap prioritize?")
}

func TestAnswerNoEvidence(t *testing.T) {
	st := store.NewMemoryStore()
	idx := vector.NewMemoryIndex()
	client := &fakeLLM{content: "should never be called"}
	engine := newEngine(st, idx, client)

	answer, err := engine.Answer(context.Background(), 1, "anything")
	require.NoError(t, err)
	assert.Equal(t, NoEvidenceAnswer, answer.Text)
	assert.Empty(t, answer.Sources)
	assert.Zero(t, client.calls, "no completion spent without evidence")
}
