package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowd-ai/knowd/pkg/apperr"
	"github.com/knowd-ai/knowd/pkg/blob"
	"github.com/knowd-ai/knowd/pkg/chunk"
	"github.com/knowd-ai/knowd/pkg/store"
	"github.com/knowd-ai/knowd/pkg/vector"
)

// fakeChunker splits on blank lines, one piece per paragraph.
type fakeChunker struct{}

func (fakeChunker) Split(text string) []chunk.Piece {
	var pieces []chunk.Piece
	for _, p := range strings.Split(strings.TrimSpace(text), "\n\n") {
		p = strings.TrimSpace(p)
		if p != "" {
			pieces = append(pieces, chunk.Piece{Text: p, TokenCount: len(strings.Fields(p))})
		}
	}
	return pieces
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, _ int64, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, orgID int64, query string) ([]float32, error) {
	results, err := f.EmbedTexts(ctx, orgID, []string{query})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

type fakeClassifier struct {
	invalidated int
}

func (f *fakeClassifier) Classify(_ context.Context, doc *store.Document, _ string) (*store.Classification, error) {
	return &store.Classification{
		DocumentID: doc.ID,
		OrgID:      doc.OrgID,
		Team:       "Engineering",
		Project:    "none",
		DocType:    "report",
		People:     []string{},
		Tags:       []string{},
		Confidence: map[string]float64{"team": 0.8},
	}, nil
}

func (f *fakeClassifier) InvalidateOrgContext(int64) { f.invalidated++ }

type testEnv struct {
	store    *store.MemoryStore
	blobs    *blob.MemoryStore
	index    *vector.MemoryIndex
	broker   *MemoryBroker
	embedder *fakeEmbedder
	pipeline *Pipeline
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    store.NewMemoryStore(),
		blobs:    blob.NewMemoryStore(),
		index:    vector.NewMemoryIndex(),
		broker:   NewMemoryBroker(),
		embedder: &fakeEmbedder{},
	}
	env.pipeline = NewPipeline(env.store, env.blobs, fakeChunker{}, env.embedder,
		env.index, &fakeClassifier{}, env.broker, slog.New(slog.DiscardHandler), time.Minute)
	return env
}

func (env *testEnv) uploadDoc(t *testing.T, orgID int64, content string) *store.Document {
	t.Helper()
	ctx := context.Background()
	key, err := env.blobs.Put(ctx, orgID, "notes.txt", "text/plain", []byte(content))
	require.NoError(t, err)

	doc := &store.Document{
		ID:         uuid.NewString(),
		OrgID:      orgID,
		Filename:   "notes.txt",
		FileType:   store.FileTypeTXT,
		SizeBytes:  int64(len(content)),
		StorageKey: key,
		UploadedAt: time.Now().UTC(),
		Status:     store.DocumentPending,
	}
	require.NoError(t, env.store.CreateDocument(ctx, doc))
	return doc
}

func processTask(doc *store.Document) *Task {
	payload, _ := json.Marshal(DocumentPayload{DocumentID: doc.ID})
	return &Task{ID: uuid.NewString(), Type: TypeProcessDocument, OrgID: doc.OrgID, Payload: payload}
}

func noProgress(int) {}

func TestProcessDocumentHappyPath(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	doc := env.uploadDoc(t, 1, "First paragraph of notes.\n\nSecond paragraph of notes.")

	result, err := env.pipeline.HandleProcessDocument(ctx, processTask(doc), noProgress)
	require.NoError(t, err)

	processed := result.(*ProcessResult)
	assert.Equal(t, doc.ID, processed.DocumentID)
	assert.Equal(t, 2, processed.ChunksCreated)
	assert.Positive(t, processed.CharCount)

	got, err := env.store.GetDocument(ctx, 1, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, store.DocumentCompleted, got.Status)

	chunks, err := env.store.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, vector.DocumentVectorID(doc.ID, 0), chunks[0].EmbeddingKey)

	n, err := env.index.Count(ctx, vector.Namespace(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	hits, err := env.index.Search(ctx, vector.Namespace(1), []float32{0, 1}, 1,
		vector.Filter{"kind": vector.KindDocument})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "notes.txt", hits[0].Metadata["filename"])
	assert.Equal(t, "txt", hits[0].Metadata["file_type"])
	assert.Equal(t, doc.UploadedAt.Format(time.RFC3339), hits[0].Metadata["upload_date"])

	cls, err := env.store.GetClassification(ctx, 1, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Engineering", cls.Team)
}

func TestProcessDocumentIdempotentRerun(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	doc := env.uploadDoc(t, 1, "One paragraph.\n\nTwo paragraph.\n\nThree paragraph.")

	_, err := env.pipeline.HandleProcessDocument(ctx, processTask(doc), noProgress)
	require.NoError(t, err)

	// Shrink the document and re-run; counts must match the new content.
	key, err := env.blobs.Put(ctx, 1, "notes.txt", "text/plain", []byte("Only paragraph."))
	require.NoError(t, err)
	doc.StorageKey = key
	require.NoError(t, env.store.HardDeleteDocument(ctx, doc.ID))
	require.NoError(t, env.store.CreateDocument(ctx, doc))

	_, err = env.pipeline.HandleProcessDocument(ctx, processTask(doc), noProgress)
	require.NoError(t, err)

	chunks, err := env.store.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)

	n, err := env.index.Count(ctx, vector.Namespace(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n, "stale vectors from the first run must be gone")
}

func TestProcessDocumentEmbedFailureLeavesNothing(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.embedder.err = apperr.New(apperr.BudgetExceeded, "over budget")
	doc := env.uploadDoc(t, 1, "Some content here.")

	_, err := env.pipeline.HandleProcessDocument(ctx, processTask(doc), noProgress)
	require.Error(t, err)
	assert.Equal(t, apperr.BudgetExceeded, apperr.KindOf(err))

	got, err := env.store.GetDocument(ctx, 1, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, store.DocumentFailed, got.Status)

	n, err := env.store.CountChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	count, err := env.index.Count(ctx, vector.Namespace(1))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestProcessDocumentCanceledBetweenStages(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	doc := env.uploadDoc(t, 1, "Some content here.")

	task := processTask(doc)
	require.NoError(t, env.broker.Cancel(ctx, task.ID))

	_, err := env.pipeline.HandleProcessDocument(ctx, task, noProgress)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "canceled")
	assert.Zero(t, env.embedder.calls, "canceled before the paid stage")

	got, err := env.store.GetDocument(ctx, 1, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, store.DocumentFailed, got.Status)
}

func TestHandleEmployeeEmbedding(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.store.PutEmployeeProfile(&store.EmployeeProfile{
		UserID: 7, OrgID: 1, Name: "Alice Chen", Title: "Staff Engineer",
		Specialties: "distributed systems", Skills: "go, postgres",
	})

	payload, _ := json.Marshal(EmployeePayload{UserID: 7})
	task := &Task{ID: uuid.NewString(), Type: TypeEmployeeEmbedding, OrgID: 1, Payload: payload}

	_, err := env.pipeline.HandleEmployeeEmbedding(ctx, task, noProgress)
	require.NoError(t, err)

	embedding, err := env.store.GetEmployeeEmbedding(ctx, 1, 7)
	require.NoError(t, err)
	assert.Equal(t, "emp_7", embedding.VectorID)
	assert.Contains(t, embedding.ProfileSnapshot, "Alice Chen")

	hits, err := env.index.Search(ctx, vector.Namespace(1), []float32{0, 1}, 5, vector.Filter{"kind": vector.KindEmployee})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "emp_7", hits[0].ID)
}

func TestHandleConsolidatePurges(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	doc := env.uploadDoc(t, 1, "Old content.")

	_, err := env.pipeline.HandleProcessDocument(ctx, processTask(doc), noProgress)
	require.NoError(t, err)
	require.NoError(t, env.store.SoftDeleteDocument(ctx, 1, doc.ID))

	// Backdate the deletion past retention.
	deleted, err := env.store.ListSoftDeleted(ctx, time.Now().UTC().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, deleted, 1)

	// The sweep with a fresh deletion purges nothing.
	result, err := env.pipeline.HandleConsolidate(ctx, &Task{ID: "t", OrgID: 1}, noProgress)
	require.NoError(t, err)
	assert.Equal(t, 0, result.(map[string]any)["purged"])
}

func TestHandlePurgeDocument(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	doc := env.uploadDoc(t, 1, "Content to purge.")

	_, err := env.pipeline.HandleProcessDocument(ctx, processTask(doc), noProgress)
	require.NoError(t, err)
	require.NoError(t, env.store.SoftDeleteDocument(ctx, 1, doc.ID))

	payload, _ := json.Marshal(DocumentPayload{DocumentID: doc.ID})
	task := &Task{ID: uuid.NewString(), Type: TypePurgeDocument, OrgID: 1, Payload: payload}
	_, err = env.pipeline.HandlePurgeDocument(ctx, task, noProgress)
	require.NoError(t, err)

	n, err := env.index.Count(ctx, vector.Namespace(1))
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = env.blobs.Get(ctx, doc.StorageKey)
	assert.ErrorIs(t, err, blob.ErrNotFound)

	deleted, err := env.store.ListSoftDeleted(ctx, time.Now().UTC().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, deleted)
}
