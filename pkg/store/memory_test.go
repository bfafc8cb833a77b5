package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDoc(orgID int64) *Document {
	return &Document{
		ID:         uuid.NewString(),
		OrgID:      orgID,
		Filename:   "report.pdf",
		FileType:   FileTypePDF,
		SizeBytes:  1024,
		StorageKey: "1/abc/report.pdf",
		UploadedBy: 7,
		UploadedAt: time.Now().UTC(),
		Status:     DocumentPending,
	}
}

func TestGetDocumentTenantScoped(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	doc := newDoc(1)
	require.NoError(t, s.CreateDocument(ctx, doc))

	got, err := s.GetDocument(ctx, 1, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.Filename, got.Filename)

	// Another tenant sees not-found, not forbidden.
	_, err = s.GetDocument(ctx, 2, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSoftDeleteHidesDocument(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	doc := newDoc(1)
	require.NoError(t, s.CreateDocument(ctx, doc))
	require.NoError(t, s.SoftDeleteDocument(ctx, 1, doc.ID))

	_, err := s.GetDocument(ctx, 1, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	docs, err := s.ListDocuments(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, docs)

	deleted, err := s.ListSoftDeleted(ctx, time.Now().UTC().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, doc.ID, deleted[0].ID)
}

func TestReplaceChunksFlipsStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	doc := newDoc(1)
	doc.Status = DocumentProcessing
	require.NoError(t, s.CreateDocument(ctx, doc))

	chunks := []Chunk{
		{ID: uuid.NewString(), DocumentID: doc.ID, Index: 1, Text: "second", EmbeddingKey: "doc_" + doc.ID + "_chunk_1"},
		{ID: uuid.NewString(), DocumentID: doc.ID, Index: 0, Text: "first", EmbeddingKey: "doc_" + doc.ID + "_chunk_0"},
	}
	require.NoError(t, s.ReplaceChunks(ctx, doc.ID, chunks))

	got, err := s.GetDocument(ctx, 1, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, DocumentCompleted, got.Status)

	listed, err := s.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	for i, c := range listed {
		assert.Equal(t, i, c.Index, "chunk indexes must be dense and ordered")
	}

	// Replace is idempotent with respect to prior contents.
	require.NoError(t, s.ReplaceChunks(ctx, doc.ID, chunks[:1]))
	n, err := s.CountChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFolderViewOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	put := func(team string) {
		doc := newDoc(1)
		doc.Status = DocumentCompleted
		require.NoError(t, s.CreateDocument(ctx, doc))
		require.NoError(t, s.UpsertClassification(ctx, &Classification{
			DocumentID: doc.ID,
			OrgID:      1,
			Team:       team,
			DocType:    "report",
		}))
	}
	put("Engineering")
	put("Engineering")
	put("Design")
	put("Archive") // same count as Design, sorts first alphabetically

	buckets, err := s.FolderView(ctx, 1, FacetTeam, "")
	require.NoError(t, err)
	require.Len(t, buckets, 3)
	assert.Equal(t, "Engineering", buckets[0].Value)
	assert.Equal(t, 2, buckets[0].Count)
	assert.Equal(t, "Archive", buckets[1].Value)
	assert.Equal(t, "Design", buckets[2].Value)

	filtered, err := s.FolderView(ctx, 1, FacetTeam, "Design")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "Design", filtered[0].Value)
}

func TestFolderViewByPersonFansOut(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	doc := newDoc(1)
	require.NoError(t, s.CreateDocument(ctx, doc))
	require.NoError(t, s.UpsertClassification(ctx, &Classification{
		DocumentID: doc.ID,
		OrgID:      1,
		People:     []string{"Alice", "Bob"},
	}))

	buckets, err := s.FolderView(ctx, 1, FacetPerson, "")
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, 1, buckets[0].Count)
	assert.Equal(t, 1, buckets[1].Count)
}

func TestOrgContextExcludesDefaults(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	doc := newDoc(1)
	require.NoError(t, s.CreateDocument(ctx, doc))
	require.NoError(t, s.UpsertClassification(ctx, &Classification{
		DocumentID: doc.ID, OrgID: 1,
		Team: "General", Project: "none", DocType: "other",
	}))
	doc2 := newDoc(1)
	require.NoError(t, s.CreateDocument(ctx, doc2))
	require.NoError(t, s.UpsertClassification(ctx, &Classification{
		DocumentID: doc2.ID, OrgID: 1,
		Team: "Engineering", Project: "atlas", DocType: "design_doc",
	}))

	octx, err := s.OrgContext(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Engineering"}, octx.Teams)
	assert.Equal(t, []string{"atlas"}, octx.Projects)
	assert.Equal(t, []string{"design_doc"}, octx.DocTypes)
}

func TestConversationTitleAndOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	older := &Conversation{ID: uuid.NewString(), OrgID: 1, UserID: 7, CreatedAt: time.Now().UTC()}
	newer := &Conversation{ID: uuid.NewString(), OrgID: 1, UserID: 7, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateConversation(ctx, older))
	require.NoError(t, s.CreateConversation(ctx, newer))

	require.NoError(t, s.AppendMessage(ctx, &Message{
		ID: uuid.NewString(), ConversationID: older.ID, Role: "user",
		Content:   "What did the Q3 board deck say about hiring?\nSecond line ignored.",
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	}))
	require.NoError(t, s.AppendMessage(ctx, &Message{
		ID: uuid.NewString(), ConversationID: newer.ID, Role: "user",
		Content:   "hello",
		CreatedAt: time.Now().UTC(),
	}))

	got, err := s.GetConversation(ctx, 1, older.ID)
	require.NoError(t, err)
	assert.Equal(t, "What did the Q3 board deck say about hiring?", got.Title)

	convs, err := s.ListConversations(ctx, 1, 7)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, newer.ID, convs[0].ID)
}

func TestJobProgressMonotonic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	job := &Job{ID: uuid.NewString(), OrgID: 1, Type: "process_document", Status: JobQueued, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.MarkJobRunning(ctx, job.ID))
	require.NoError(t, s.UpdateJobProgress(ctx, job.ID, 50))
	require.NoError(t, s.UpdateJobProgress(ctx, job.ID, 30))

	got, err := s.GetJob(ctx, 1, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.Progress)
	require.NotNil(t, got.StartedAt)

	require.NoError(t, s.MarkJobCompleted(ctx, job.ID, []byte(`{"chunks_created":3}`)))
	got, err = s.GetJob(ctx, 1, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.CompletedAt)
}

func TestMonthlyTokensWindow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	june := time.Date(2026, time.June, 15, 0, 0, 0, 0, time.UTC)
	july := time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.AddUsage(ctx, 1, june, 1000, 2, 0.00013))
	require.NoError(t, s.AddUsage(ctx, 1, june.AddDate(0, 0, 1), 500, 1, 0.000065))
	require.NoError(t, s.AddUsage(ctx, 1, july, 9999, 1, 0.0013))
	require.NoError(t, s.AddUsage(ctx, 2, june, 777, 1, 0.0001))

	got, err := s.MonthlyTokens(ctx, 1, june)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), got)

	tokens, cost, err := s.UsageTotals(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(11499), tokens)
	assert.InDelta(t, 0.001495, cost, 1e-9)
}

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, "short", DeriveTitle("short"))
	assert.Equal(t, "first", DeriveTitle("first\nsecond"))

	long := make([]rune, 120)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, []rune(DeriveTitle(string(long))), 80)
}
