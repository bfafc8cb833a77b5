package server

import (
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/knowd-ai/knowd/pkg/apperr"
	"github.com/knowd-ai/knowd/pkg/blob"
	"github.com/knowd-ai/knowd/pkg/extract"
	"github.com/knowd-ai/knowd/pkg/jobs"
	"github.com/knowd-ai/knowd/pkg/store"
)

// maxUploadFiles caps a single multipart upload request.
const maxUploadFiles = 10

type uploadedFile struct {
	DocID    string `json:"doc_id"`
	Filename string `json:"filename"`
	FileType string `json:"file_type"`
	Status   string `json:"status"`
	JobID    string `json:"job_id"`
}

type failedFile struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

func (s *Server) uploadDocuments(c echo.Context) error {
	orgID, err := resolveOrg(c, formInt64(c, "org_id"))
	if err != nil {
		return s.respondError(c, err)
	}

	form, err := c.MultipartForm()
	if err != nil {
		return s.respondError(c, apperr.Wrap(apperr.Validation, err, "malformed multipart body"))
	}
	files := form.File["files"]
	if len(files) == 0 {
		return s.respondError(c, apperr.New(apperr.Validation, "no files provided"))
	}
	if len(files) > maxUploadFiles {
		return s.respondError(c, apperr.New(apperr.Validation, "too many files: %d (max %d)", len(files), maxUploadFiles))
	}

	uploaded := []uploadedFile{}
	failed := []failedFile{}
	for _, header := range files {
		entry, err := s.storeUpload(c, orgID, header)
		if err != nil {
			failed = append(failed, failedFile{Filename: header.Filename, Reason: err.Error()})
			continue
		}
		uploaded = append(uploaded, *entry)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"uploaded": uploaded,
		"failed":   failed,
	})
}

// storeUpload validates one file, writes the blob and the pending document
// row, and enqueues the processing job. Returned errors carry messages safe
// to echo back per-file.
func (s *Server) storeUpload(c echo.Context, orgID int64, header *multipart.FileHeader) (*uploadedFile, error) {
	ctx := c.Request().Context()

	if header.Size > s.deps.MaxUploadBytes {
		return nil, apperr.New(apperr.Validation, "file exceeds %d bytes", s.deps.MaxUploadBytes)
	}
	fileType := store.FileType(strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), "."))
	if !store.AllowedFileTypes[fileType] {
		return nil, apperr.New(apperr.Validation, "unsupported file type %q", fileType)
	}

	file, err := header.Open()
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, "unreadable file")
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, s.deps.MaxUploadBytes+1))
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, "unreadable file")
	}
	if int64(len(data)) > s.deps.MaxUploadBytes {
		return nil, apperr.New(apperr.Validation, "file exceeds %d bytes", s.deps.MaxUploadBytes)
	}
	if err := extract.VerifyMagic(fileType, data); err != nil {
		return nil, err
	}

	key, err := s.deps.Blobs.Put(ctx, orgID, header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, err, "blob write failed")
	}

	doc := &store.Document{
		ID:         uuid.NewString(),
		OrgID:      orgID,
		Filename:   blob.SanitizeFilename(header.Filename),
		FileType:   fileType,
		SizeBytes:  int64(len(data)),
		StorageKey: key,
		UploadedBy: session(c).UserID,
		UploadedAt: time.Now().UTC(),
		Status:     store.DocumentPending,
	}
	if err := s.deps.Store.CreateDocument(ctx, doc); err != nil {
		return nil, apperr.Wrap(apperr.Transient, err, "document write failed")
	}

	job, err := s.deps.Executor.Submit(ctx, orgID, jobs.TypeProcessDocument, jobs.DocumentPayload{DocumentID: doc.ID})
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, err, "enqueue failed")
	}

	return &uploadedFile{
		DocID:    doc.ID,
		Filename: doc.Filename,
		FileType: string(doc.FileType),
		Status:   string(doc.Status),
		JobID:    job.ID,
	}, nil
}

func (s *Server) listDocuments(c echo.Context) error {
	orgID, err := resolveOrg(c, queryInt64(c, "org_id"))
	if err != nil {
		return s.respondError(c, err)
	}
	docs, err := s.deps.Store.ListDocuments(c.Request().Context(), orgID)
	if err != nil {
		return s.respondError(c, err)
	}
	if docs == nil {
		docs = []store.Document{}
	}
	return c.JSON(http.StatusOK, docs)
}

func (s *Server) getDocument(c echo.Context) error {
	ctx := c.Request().Context()
	orgID := session(c).OrgID

	doc, err := s.deps.Store.GetDocument(ctx, orgID, c.Param("id"))
	if err != nil {
		return s.respondError(c, err)
	}

	response := map[string]any{"document": doc}
	if classification, err := s.deps.Store.GetClassification(ctx, orgID, doc.ID); err == nil {
		response["classification"] = classification
	}
	return c.JSON(http.StatusOK, response)
}

func (s *Server) downloadDocument(c echo.Context) error {
	ctx := c.Request().Context()

	doc, err := s.deps.Store.GetDocument(ctx, session(c).OrgID, c.Param("id"))
	if err != nil {
		return s.respondError(c, err)
	}
	url, err := s.deps.Blobs.PresignGet(ctx, doc.StorageKey, blob.DefaultPresignTTL)
	if err != nil {
		return s.respondError(c, apperr.Wrap(apperr.Transient, err, "presign failed"))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"download_url": url,
		"expires_in":   int(blob.DefaultPresignTTL.Seconds()),
	})
}

func (s *Server) deleteDocument(c echo.Context) error {
	ctx := c.Request().Context()
	orgID := session(c).OrgID
	id := c.Param("id")

	if _, err := s.deps.Store.GetDocument(ctx, orgID, id); err != nil {
		return s.respondError(c, err)
	}
	if err := s.deps.Store.SoftDeleteDocument(ctx, orgID, id); err != nil {
		return s.respondError(c, err)
	}
	// Vector and blob cleanup happens asynchronously; search convergence is
	// bounded by the queue, not the request.
	if _, err := s.deps.Executor.Submit(ctx, orgID, jobs.TypePurgeDocument, jobs.DocumentPayload{DocumentID: id}); err != nil {
		s.deps.Logger.Error("enqueue purge", "error", err, "doc_id", id)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getClassification(c echo.Context) error {
	classification, err := s.deps.Store.GetClassification(c.Request().Context(), session(c).OrgID, c.Param("id"))
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, classification)
}

func (s *Server) reclassifyDocument(c echo.Context) error {
	ctx := c.Request().Context()
	orgID := session(c).OrgID
	id := c.Param("id")

	if _, err := s.deps.Store.GetDocument(ctx, orgID, id); err != nil {
		return s.respondError(c, err)
	}
	job, err := s.deps.Executor.Submit(ctx, orgID, jobs.TypeReclassify, jobs.DocumentPayload{DocumentID: id})
	if err != nil {
		return s.respondError(c, apperr.Wrap(apperr.Transient, err, "enqueue failed"))
	}
	return c.JSON(http.StatusOK, map[string]string{"task_id": job.ID})
}

type searchRequest struct {
	Query    string  `json:"query"`
	OrgID    int64   `json:"org_id"`
	TopK     int     `json:"top_k"`
	MinScore float64 `json:"min_score"`
}

type searchResult struct {
	DocID      string  `json:"doc_id"`
	Filename   string  `json:"filename"`
	FileType   string  `json:"file_type"`
	UploadDate string  `json:"upload_date"`
	ChunkIndex int     `json:"chunk_index"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}

const maxSearchTopK = 100

func (s *Server) searchDocuments(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return s.respondError(c, apperr.Wrap(apperr.Validation, err, "malformed request"))
	}
	if strings.TrimSpace(req.Query) == "" {
		return s.respondError(c, apperr.New(apperr.Validation, "query is required"))
	}
	if req.TopK < 0 {
		return s.respondError(c, apperr.New(apperr.Validation, "top_k must be non-negative"))
	}
	if req.TopK > maxSearchTopK {
		req.TopK = maxSearchTopK
	}
	orgID, err := resolveOrg(c, req.OrgID)
	if err != nil {
		return s.respondError(c, err)
	}

	sources, err := s.deps.Engine.Retrieve(c.Request().Context(), orgID, req.Query, req.TopK)
	if err != nil {
		return s.respondError(c, err)
	}

	results := []searchResult{}
	for _, source := range sources {
		if source.Score < req.MinScore {
			continue
		}
		results = append(results, searchResult{
			DocID:      source.DocumentID,
			Filename:   source.Filename,
			FileType:   source.FileType,
			UploadDate: source.UploadDate,
			ChunkIndex: source.ChunkIndex,
			Snippet:    source.Excerpt,
			Score:      source.Score,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"results_count": len(results),
		"results":       results,
	})
}

func formInt64(c echo.Context, name string) int64 {
	n, _ := strconv.ParseInt(c.FormValue(name), 10, 64)
	return n
}

func queryInt64(c echo.Context, name string) int64 {
	n, _ := strconv.ParseInt(c.QueryParam(name), 10, 64)
	return n
}
