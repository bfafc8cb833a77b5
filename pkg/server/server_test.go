package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowd-ai/knowd/pkg/agents"
	"github.com/knowd-ai/knowd/pkg/blob"
	"github.com/knowd-ai/knowd/pkg/folders"
	"github.com/knowd-ai/knowd/pkg/jobs"
	"github.com/knowd-ai/knowd/pkg/people"
	"github.com/knowd-ai/knowd/pkg/rag"
	"github.com/knowd-ai/knowd/pkg/store"
	"github.com/knowd-ai/knowd/pkg/vector"
)

var testSecret = []byte("test-session-secret")

type submission struct {
	orgID    int64
	taskType string
	payload  any
}

type fakeExecutor struct {
	submissions []submission
	canceled    []string
}

func (f *fakeExecutor) Submit(_ context.Context, orgID int64, taskType string, payload any) (*store.Job, error) {
	f.submissions = append(f.submissions, submission{orgID: orgID, taskType: taskType, payload: payload})
	return &store.Job{ID: uuid.NewString(), OrgID: orgID, Type: taskType, Status: store.JobQueued}, nil
}

func (f *fakeExecutor) Cancel(_ context.Context, taskID string) error {
	f.canceled = append(f.canceled, taskID)
	return nil
}

type fakeEngine struct {
	answer  *rag.Answer
	sources []rag.Source
}

func (f *fakeEngine) Answer(context.Context, int64, string) (*rag.Answer, error) {
	return f.answer, nil
}

func (f *fakeEngine) Retrieve(context.Context, int64, string, int) ([]rag.Source, error) {
	return f.sources, nil
}

type fakePeople struct {
	matches []people.Match
}

func (f *fakePeople) Search(context.Context, int64, string, int) ([]people.Match, error) {
	return f.matches, nil
}

type fakeResponder struct {
	result *agents.Result
}

func (f *fakeResponder) Respond(context.Context, int64, string) (*agents.Result, error) {
	return f.result, nil
}

type env struct {
	server   *Server
	store    *store.MemoryStore
	blobs    *blob.MemoryStore
	index    *vector.MemoryIndex
	executor *fakeExecutor
	engine   *fakeEngine
	people   *fakePeople
	chat     *fakeResponder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		store:    store.NewMemoryStore(),
		blobs:    blob.NewMemoryStore(),
		index:    vector.NewMemoryIndex(),
		executor: &fakeExecutor{},
		engine:   &fakeEngine{answer: &rag.Answer{Text: rag.NoEvidenceAnswer, Sources: []rag.Source{}}},
		people:   &fakePeople{},
		chat:     &fakeResponder{result: &agents.Result{Answer: rag.NoEvidenceAnswer}},
	}
	e.server = New(Deps{
		Store:          e.store,
		Blobs:          e.blobs,
		Index:          e.index,
		Broker:         jobs.NewMemoryBroker(),
		Executor:       e.executor,
		Engine:         e.engine,
		People:         e.people,
		Folders:        folders.NewService(e.store),
		Orchestrator:   e.chat,
		Logger:         slog.New(slog.DiscardHandler),
		SessionSecret:  testSecret,
		MaxUploadBytes: 1 << 20,
	})
	return e
}

func sessionCookie(t *testing.T, userID, orgID int64, admin bool) *http.Cookie {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":    strconv.FormatInt(userID, 10),
		"org_id": orgID,
		"admin":  admin,
		"exp":    time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(testSecret)
	require.NoError(t, err)
	return &http.Cookie{Name: SessionCookie, Value: signed}
}

func (e *env) do(t *testing.T, req *http.Request, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	if cookie != nil {
		req.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(recorder, req)
	return recorder
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	return body
}

func TestMissingSessionIsUnauthorized(t *testing.T) {
	e := newEnv(t)
	recorder := e.do(t, httptest.NewRequest("GET", "/api/documents", nil), nil)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestForgedSessionIsUnauthorized(t *testing.T) {
	e := newEnv(t)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "1", "org_id": 1,
	})
	signed, err := token.SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/documents", nil)
	recorder := e.do(t, req, &http.Cookie{Name: SessionCookie, Value: signed})
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestCrossTenantOrgIsForbidden(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest("GET", "/api/documents?org_id=2", nil)
	recorder := e.do(t, req, sessionCookie(t, 1, 1, false))
	assert.Equal(t, http.StatusForbidden, recorder.Code)
}

func multipartUpload(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("files", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest("POST", "/api/documents/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestUploadCreatesDocumentAndJob(t *testing.T) {
	e := newEnv(t)
	recorder := e.do(t, multipartUpload(t, "notes.txt", []byte("hiring policy effective 2024")), sessionCookie(t, 5, 1, false))
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

	body := decodeBody(t, recorder)
	uploaded := body["uploaded"].([]any)
	require.Len(t, uploaded, 1)
	entry := uploaded[0].(map[string]any)
	assert.Equal(t, "notes.txt", entry["filename"])
	assert.Equal(t, "txt", entry["file_type"])
	assert.Equal(t, "pending", entry["status"])
	assert.NotEmpty(t, entry["job_id"])
	assert.Empty(t, body["failed"])

	require.Len(t, e.executor.submissions, 1)
	assert.Equal(t, jobs.TypeProcessDocument, e.executor.submissions[0].taskType)
	assert.Equal(t, int64(1), e.executor.submissions[0].orgID)

	docs, err := e.store.ListDocuments(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, store.DocumentPending, docs[0].Status)
	assert.Equal(t, int64(5), docs[0].UploadedBy)

	data, err := e.blobs.Get(context.Background(), docs[0].StorageKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("hiring policy effective 2024"), data)
}

func TestUploadRejectsMismatchedMagic(t *testing.T) {
	e := newEnv(t)
	recorder := e.do(t, multipartUpload(t, "fake.pdf", []byte("plain text, not a pdf")), sessionCookie(t, 5, 1, false))
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Empty(t, body["uploaded"])
	failed := body["failed"].([]any)
	require.Len(t, failed, 1)
	assert.Equal(t, "fake.pdf", failed[0].(map[string]any)["filename"])
	assert.Empty(t, e.executor.submissions)
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	e := newEnv(t)
	recorder := e.do(t, multipartUpload(t, "binary.exe", []byte{0x4d, 0x5a}), sessionCookie(t, 5, 1, false))
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	failed := body["failed"].([]any)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].(map[string]any)["reason"], "unsupported file type")
}

func seedDocument(t *testing.T, e *env, orgID int64) *store.Document {
	t.Helper()
	doc := &store.Document{
		ID:         uuid.NewString(),
		OrgID:      orgID,
		Filename:   "notes.txt",
		FileType:   store.FileTypeTXT,
		SizeBytes:  10,
		StorageKey: "k",
		UploadedBy: 5,
		UploadedAt: time.Now().UTC(),
		Status:     store.DocumentCompleted,
	}
	require.NoError(t, e.store.CreateDocument(context.Background(), doc))
	return doc
}

func TestDeleteDocumentSoftDeletesAndEnqueuesPurge(t *testing.T) {
	e := newEnv(t)
	doc := seedDocument(t, e, 1)

	recorder := e.do(t, httptest.NewRequest("DELETE", "/api/documents/"+doc.ID, nil), sessionCookie(t, 5, 1, false))
	assert.Equal(t, http.StatusNoContent, recorder.Code)

	_, err := e.store.GetDocument(context.Background(), 1, doc.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.Len(t, e.executor.submissions, 1)
	assert.Equal(t, jobs.TypePurgeDocument, e.executor.submissions[0].taskType)
}

func TestGetDocumentAcrossTenantsIsNotFound(t *testing.T) {
	e := newEnv(t)
	doc := seedDocument(t, e, 2)

	recorder := e.do(t, httptest.NewRequest("GET", "/api/documents/"+doc.ID, nil), sessionCookie(t, 5, 1, false))
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestSearchDocuments(t *testing.T) {
	e := newEnv(t)
	e.engine.sources = []rag.Source{
		{DocumentID: "d1", Filename: "roadmap.pdf", FileType: "pdf",
			UploadDate: "2026-02-14T08:00:00Z", ChunkIndex: 0, Score: 0.9, Excerpt: "Launch in March."},
		{DocumentID: "d2", Filename: "old.pdf", FileType: "pdf",
			UploadDate: "2025-01-01T00:00:00Z", ChunkIndex: 3, Score: 0.72, Excerpt: "Old plan."},
	}

	req := jsonRequest(t, "POST", "/api/documents/search", map[string]any{
		"query": "launch date", "org_id": 1, "min_score": 0.8,
	})
	recorder := e.do(t, req, sessionCookie(t, 5, 1, false))
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, float64(1), body["results_count"])
	results := body["results"].([]any)
	require.Len(t, results, 1)
	result := results[0].(map[string]any)
	assert.Equal(t, "roadmap.pdf", result["filename"])
	assert.Equal(t, "pdf", result["file_type"])
	assert.Equal(t, "2026-02-14T08:00:00Z", result["upload_date"])
	assert.Equal(t, "Launch in March.", result["snippet"])
}

func TestSearchRejectsNegativeTopK(t *testing.T) {
	e := newEnv(t)
	req := jsonRequest(t, "POST", "/api/documents/search", map[string]any{"query": "x", "top_k": -1})
	recorder := e.do(t, req, sessionCookie(t, 5, 1, false))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestGenerateEmbeddingPermissions(t *testing.T) {
	e := newEnv(t)

	// Self-service is allowed.
	req := jsonRequest(t, "POST", "/api/embeddings/generate", map[string]any{"user_id": 5})
	recorder := e.do(t, req, sessionCookie(t, 5, 1, false))
	assert.Equal(t, http.StatusOK, recorder.Code)

	// A non-admin cannot target another user.
	req = jsonRequest(t, "POST", "/api/embeddings/generate", map[string]any{"user_id": 9})
	recorder = e.do(t, req, sessionCookie(t, 5, 1, false))
	assert.Equal(t, http.StatusForbidden, recorder.Code)

	// An admin can.
	req = jsonRequest(t, "POST", "/api/embeddings/generate", map[string]any{"user_id": 9})
	recorder = e.do(t, req, sessionCookie(t, 1, 1, true))
	assert.Equal(t, http.StatusOK, recorder.Code)

	require.Len(t, e.executor.submissions, 2)
	assert.Equal(t, jobs.TypeEmployeeEmbedding, e.executor.submissions[0].taskType)
}

func TestFolderView(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for i, team := range []string{"Engineering", "Legal", "Engineering"} {
		doc := seedDocument(t, e, 1)
		require.NoError(t, e.store.UpsertClassification(ctx, &store.Classification{
			DocumentID: doc.ID, OrgID: 1, Team: team, DocType: "policy",
			Confidentiality: "internal", ClassifiedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}))
	}

	recorder := e.do(t, httptest.NewRequest("GET", "/api/folders/by-team", nil), sessionCookie(t, 5, 1, false))
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, "team", body["facet"])
	buckets := body["folders"].([]any)
	require.Len(t, buckets, 2)
	first := buckets[0].(map[string]any)
	assert.Equal(t, "Engineering", first["value"])
	assert.Equal(t, float64(2), first["count"])
}

func TestFolderViewUnknownFacet(t *testing.T) {
	e := newEnv(t)
	recorder := e.do(t, httptest.NewRequest("GET", "/api/folders/by-color", nil), sessionCookie(t, 5, 1, false))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestChatTurnWithRAG(t *testing.T) {
	e := newEnv(t)
	e.engine.answer = &rag.Answer{
		Text:    "Per policy.txt, travel must be pre-approved.",
		Sources: []rag.Source{{DocumentID: "d1", Filename: "policy.txt", Score: 0.9, Excerpt: "Travel must be pre-approved."}},
	}

	cookie := sessionCookie(t, 5, 1, false)
	recorder := e.do(t, jsonRequest(t, "POST", "/api/chat/conversations", map[string]any{}), cookie)
	require.Equal(t, http.StatusOK, recorder.Code)
	conversationID := decodeBody(t, recorder)["conversation_id"].(string)

	recorder = e.do(t, jsonRequest(t, "POST", "/api/chat/"+conversationID+"/messages", map[string]any{
		"message": "what is our travel policy?", "use_rag": true,
	}), cookie)
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, "Per policy.txt, travel must be pre-approved.", body["answer"])
	sources := body["sources"].(map[string]any)
	require.Len(t, sources["documents"].([]any), 1)

	messages, err := e.store.ListMessages(context.Background(), conversationID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "assistant", messages[1].Role)
	assert.NotEmpty(t, messages[1].Sources)

	conversation, err := e.store.GetConversation(context.Background(), 1, conversationID)
	require.NoError(t, err)
	assert.Equal(t, "what is our travel policy?", conversation.Title)
}

func TestChatTurnOrchestrated(t *testing.T) {
	e := newEnv(t)
	e.chat.result = &agents.Result{
		Answer:     "Ask Alice Chen.",
		Confidence: 0.3,
		Reasoning:  []string{"Planned query", "Searched employee profiles: 1 matches"},
		Employees:  []people.Match{{UserID: 7, Name: "Alice Chen", Score: 0.92}},
	}

	cookie := sessionCookie(t, 5, 1, false)
	recorder := e.do(t, jsonRequest(t, "POST", "/api/chat/conversations", map[string]any{}), cookie)
	conversationID := decodeBody(t, recorder)["conversation_id"].(string)

	recorder = e.do(t, jsonRequest(t, "POST", "/api/chat/"+conversationID+"/messages", map[string]any{
		"message": "who knows billing?",
	}), cookie)
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, "Ask Alice Chen.", body["answer"])
	assert.Equal(t, 0.3, body["confidence"])
	assert.Len(t, body["reasoning_steps"].([]any), 2)
	sources := body["sources"].(map[string]any)
	require.Len(t, sources["employees"].([]any), 1)
}

func TestConversationsArePerUser(t *testing.T) {
	e := newEnv(t)
	e.engine.answer = &rag.Answer{Text: "answer", Sources: []rag.Source{}}

	owner := sessionCookie(t, 5, 1, false)
	recorder := e.do(t, jsonRequest(t, "POST", "/api/chat/conversations", map[string]any{}), owner)
	require.Equal(t, http.StatusOK, recorder.Code)
	conversationID := decodeBody(t, recorder)["conversation_id"].(string)

	// A colleague in the same tenant cannot read, post into, or archive it.
	colleague := sessionCookie(t, 6, 1, false)
	recorder = e.do(t, httptest.NewRequest("GET", "/api/chat/"+conversationID+"/messages", nil), colleague)
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	recorder = e.do(t, jsonRequest(t, "POST", "/api/chat/"+conversationID+"/messages", map[string]any{
		"message": "hi", "use_rag": true,
	}), colleague)
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	recorder = e.do(t, httptest.NewRequest("POST", "/api/chat/"+conversationID+"/archive", nil), colleague)
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	messages, err := e.store.ListMessages(context.Background(), conversationID)
	require.NoError(t, err)
	assert.Empty(t, messages, "rejected post must not append a message")

	// The owner still has full access.
	recorder = e.do(t, httptest.NewRequest("GET", "/api/chat/"+conversationID+"/messages", nil), owner)
	assert.Equal(t, http.StatusOK, recorder.Code)
	recorder = e.do(t, httptest.NewRequest("POST", "/api/chat/"+conversationID+"/archive", nil), owner)
	assert.Equal(t, http.StatusNoContent, recorder.Code)
}

func TestJobStatusAndCancel(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	job := &store.Job{ID: uuid.NewString(), OrgID: 1, Type: jobs.TypeProcessDocument,
		Status: store.JobQueued, CreatedAt: time.Now().UTC()}
	require.NoError(t, e.store.CreateJob(ctx, job))

	cookie := sessionCookie(t, 5, 1, false)
	recorder := e.do(t, httptest.NewRequest("GET", "/api/jobs/"+job.ID+"/status", nil), cookie)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "queued", decodeBody(t, recorder)["status"])

	recorder = e.do(t, httptest.NewRequest("POST", "/api/jobs/"+job.ID+"/cancel", nil), cookie)
	assert.Equal(t, http.StatusNoContent, recorder.Code)
	assert.Equal(t, []string{job.ID}, e.executor.canceled)

	require.NoError(t, e.store.MarkJobCompleted(ctx, job.ID, nil))
	recorder = e.do(t, httptest.NewRequest("POST", "/api/jobs/"+job.ID+"/cancel", nil), cookie)
	assert.Equal(t, http.StatusConflict, recorder.Code)
}

func TestHealthUnauthenticated(t *testing.T) {
	e := newEnv(t)
	recorder := e.do(t, httptest.NewRequest("GET", "/api/health", nil), nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, "healthy", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["database"])
	assert.Equal(t, "ok", checks["queue"])
	assert.Equal(t, "ok", checks["vector_index"])
	assert.Equal(t, "unconfigured", checks["llm"])
}

func TestSystemStatus(t *testing.T) {
	e := newEnv(t)
	seedDocument(t, e, 1)

	recorder := e.do(t, httptest.NewRequest("GET", "/api/system/status", nil), sessionCookie(t, 5, 1, false))
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, float64(1), decodeBody(t, recorder)["documents"])
}
