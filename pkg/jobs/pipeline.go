package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/knowd-ai/knowd/pkg/apperr"
	"github.com/knowd-ai/knowd/pkg/blob"
	"github.com/knowd-ai/knowd/pkg/chunk"
	"github.com/knowd-ai/knowd/pkg/classify"
	"github.com/knowd-ai/knowd/pkg/extract"
	"github.com/knowd-ai/knowd/pkg/store"
	"github.com/knowd-ai/knowd/pkg/vector"
)

// Progress milestones of the ingestion pipeline.
const (
	progressDownloaded = 10
	progressExtracted  = 30
	progressChunked    = 50
	progressEmbedded   = 70
	progressIndexed    = 85
	progressClassified = 95
)

// softDeleteRetention is how long soft-deleted documents linger before the
// consolidation sweep purges them for good.
const softDeleteRetention = 30 * 24 * time.Hour

// ProcessResult is the completed payload of a process_document job.
type ProcessResult struct {
	DocumentID    string `json:"doc_id"`
	Filename      string `json:"filename"`
	ChunksCreated int    `json:"chunks_created"`
	CharCount     int    `json:"char_count"`
}

// Chunker is the slice of pkg/chunk the pipeline needs.
type Chunker interface {
	Split(text string) []chunk.Piece
}

// Embedder is the slice of pkg/embed the pipeline needs.
type Embedder interface {
	EmbedTexts(ctx context.Context, orgID int64, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, orgID int64, query string) ([]float32, error)
}

// Classifier is the slice of pkg/classify the pipeline needs.
type Classifier interface {
	Classify(ctx context.Context, doc *store.Document, text string) (*store.Classification, error)
	InvalidateOrgContext(orgID int64)
}

// Pipeline wires the ingestion stages and the other background handlers.
type Pipeline struct {
	store          store.Store
	blobs          blob.Store
	chunker        Chunker
	embedder       Embedder
	index          vector.Index
	classifier     Classifier
	broker         Broker
	logger         *slog.Logger
	extractTimeout time.Duration
	connectors     map[string]Connector
}

func NewPipeline(
	st store.Store,
	blobs blob.Store,
	chunker Chunker,
	embedder Embedder,
	index vector.Index,
	classifier Classifier,
	broker Broker,
	logger *slog.Logger,
	extractTimeout time.Duration,
) *Pipeline {
	return &Pipeline{
		store:          st,
		blobs:          blobs,
		chunker:        chunker,
		embedder:       embedder,
		index:          index,
		classifier:     classifier,
		broker:         broker,
		logger:         logger,
		extractTimeout: extractTimeout,
	}
}

// RegisterAll binds every handler to the executor.
func (p *Pipeline) RegisterAll(executor *Executor) {
	executor.Register(TypeProcessDocument, p.HandleProcessDocument)
	executor.Register(TypeReclassify, p.HandleReclassify)
	executor.Register(TypeEmployeeEmbedding, p.HandleEmployeeEmbedding)
	executor.Register(TypeSyncExternal, p.HandleSyncExternal)
	executor.Register(TypeConsolidate, p.HandleConsolidate)
	executor.Register(TypePurgeDocument, p.HandlePurgeDocument)
}

func (p *Pipeline) checkpoint(ctx context.Context, task *Task) error {
	canceled, err := p.broker.IsCanceled(ctx, task.ID)
	if err != nil {
		return nil // cancellation check failing is not worth killing the run
	}
	if canceled {
		return apperr.New(apperr.Permanent, "canceled")
	}
	return ctx.Err()
}

// HandleProcessDocument runs the full ingestion pipeline:
// download, extract, chunk, embed, index, persist, classify.
// Re-running it for the same document is safe: vectors and chunks are
// replaced wholesale.
func (p *Pipeline) HandleProcessDocument(ctx context.Context, task *Task, report ProgressFunc) (any, error) {
	var payload DocumentPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, apperr.Wrap(apperr.Permanent, err, "decode payload")
	}

	doc, err := p.store.GetDocument(ctx, task.OrgID, payload.DocumentID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Permanent, err, "load document %s", payload.DocumentID)
	}
	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, store.DocumentProcessing); err != nil {
		return nil, err
	}
	// Any failure from here leaves the document failed, not stuck processing.
	defer func() {
		if err != nil {
			if statusErr := p.store.UpdateDocumentStatus(context.WithoutCancel(ctx), doc.ID, store.DocumentFailed); statusErr != nil {
				p.logger.Error("mark document failed", "error", statusErr, "document_id", doc.ID)
			}
		}
	}()

	data, err := p.blobs.Get(ctx, doc.StorageKey)
	if err != nil {
		err = apperr.Wrap(apperr.Transient, err, "download %s", doc.StorageKey)
		return nil, err
	}
	report(progressDownloaded)
	if err = p.checkpoint(ctx, task); err != nil {
		return nil, err
	}

	extractCtx, cancel := context.WithTimeout(ctx, p.extractTimeout)
	result, extractErr := p.extractWithTimeout(extractCtx, doc.FileType, data)
	cancel()
	if extractErr != nil {
		err = extractErr
		return nil, err
	}
	if len(result.Metadata) > 0 {
		merged := doc.Metadata
		if merged == nil {
			merged = map[string]any{}
		}
		for key, value := range result.Metadata {
			merged[key] = value
		}
		if metaErr := p.store.UpdateDocumentMetadata(ctx, doc.ID, merged); metaErr != nil {
			p.logger.Warn("update document metadata", "error", metaErr, "document_id", doc.ID)
		}
	}
	report(progressExtracted)
	if err = p.checkpoint(ctx, task); err != nil {
		return nil, err
	}

	pieces := p.chunker.Split(result.Text)
	if len(pieces) == 0 {
		err = apperr.New(apperr.EmptyDocument, "no chunkable text")
		return nil, err
	}
	report(progressChunked)
	if err = p.checkpoint(ctx, task); err != nil {
		return nil, err
	}

	texts := make([]string, len(pieces))
	for i, piece := range pieces {
		texts[i] = piece.Text
	}
	embeddings, err := p.embedder.EmbedTexts(ctx, task.OrgID, texts)
	if err != nil {
		return nil, err
	}
	report(progressEmbedded)
	if err = p.checkpoint(ctx, task); err != nil {
		return nil, err
	}

	namespace := vector.Namespace(task.OrgID)
	// Drop any vectors from a previous run first so a re-process with fewer
	// chunks leaves no orphans.
	if err = p.index.DeleteDocument(ctx, namespace, doc.ID); err != nil {
		err = apperr.Wrap(apperr.Transient, err, "clear previous vectors")
		return nil, err
	}

	items := make([]vector.Item, len(pieces))
	chunks := make([]store.Chunk, len(pieces))
	for i, piece := range pieces {
		id := vector.DocumentVectorID(doc.ID, i)
		items[i] = vector.Item{
			ID:     id,
			Values: embeddings[i],
			Metadata: map[string]any{
				"kind":        vector.KindDocument,
				"doc_id":      doc.ID,
				"chunk_index": i,
				"filename":    doc.Filename,
				"file_type":   string(doc.FileType),
				"upload_date": doc.UploadedAt.UTC().Format(time.RFC3339),
				"text":        piece.Text,
			},
		}
		chunks[i] = store.Chunk{
			ID:           uuid.NewString(),
			DocumentID:   doc.ID,
			Index:        i,
			Text:         piece.Text,
			TokenCount:   piece.TokenCount,
			EmbeddingKey: id,
		}
	}
	if err = p.index.Upsert(ctx, namespace, items); err != nil {
		// Leave no half-indexed document behind.
		p.rollbackVectors(ctx, namespace, doc.ID)
		err = apperr.Wrap(apperr.Transient, err, "index vectors")
		return nil, err
	}
	report(progressIndexed)

	if err = p.store.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		p.rollbackVectors(ctx, namespace, doc.ID)
		return nil, err
	}

	// Classification failure downgrades to default labels; the document is
	// already searchable at this point.
	classification, classifyErr := p.classifier.Classify(ctx, doc, result.Text)
	if classifyErr != nil {
		p.logger.Warn("classification failed, using fallback", "error", classifyErr, "document_id", doc.ID)
		classification = classify.Fallback(doc, result.Text)
	}
	if upsertErr := p.store.UpsertClassification(ctx, classification); upsertErr != nil {
		p.logger.Error("persist classification", "error", upsertErr, "document_id", doc.ID)
	} else {
		p.classifier.InvalidateOrgContext(task.OrgID)
	}
	report(progressClassified)

	return &ProcessResult{
		DocumentID:    doc.ID,
		Filename:      doc.Filename,
		ChunksCreated: len(chunks),
		CharCount:     len(result.Text),
	}, nil
}

// extractWithTimeout runs extraction in a goroutine so a pathological file
// cannot wedge a worker past the configured deadline.
func (p *Pipeline) extractWithTimeout(ctx context.Context, fileType store.FileType, data []byte) (*extract.Result, error) {
	type outcome struct {
		result *extract.Result
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		result, err := extract.Extract(fileType, data)
		ch <- outcome{result: result, err: err}
	}()
	select {
	case o := <-ch:
		return o.result, o.err
	case <-ctx.Done():
		return nil, apperr.Wrap(apperr.Extraction, ctx.Err(), "extraction timed out")
	}
}

func (p *Pipeline) rollbackVectors(ctx context.Context, namespace, documentID string) {
	if err := p.index.DeleteDocument(context.WithoutCancel(ctx), namespace, documentID); err != nil {
		p.logger.Error("rollback vectors", "error", err, "document_id", documentID)
	}
}

// HandleReclassify re-runs classification over the stored chunks without
// touching vectors or chunk rows.
func (p *Pipeline) HandleReclassify(ctx context.Context, task *Task, report ProgressFunc) (any, error) {
	var payload DocumentPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, apperr.Wrap(apperr.Permanent, err, "decode payload")
	}

	doc, err := p.store.GetDocument(ctx, task.OrgID, payload.DocumentID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Permanent, err, "load document %s", payload.DocumentID)
	}
	chunks, err := p.store.ListChunks(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, apperr.New(apperr.Validation, "document %s has no processed text", doc.ID)
	}
	report(progressChunked)

	var text string
	for _, c := range chunks {
		text += c.Text + "\n\n"
	}
	classification, err := p.classifier.Classify(ctx, doc, text)
	if err != nil {
		return nil, err
	}
	if err := p.store.UpsertClassification(ctx, classification); err != nil {
		return nil, err
	}
	p.classifier.InvalidateOrgContext(task.OrgID)
	report(progressClassified)

	return map[string]any{
		"doc_id":   doc.ID,
		"doc_type": classification.DocType,
		"team":     classification.Team,
	}, nil
}

// HandleEmployeeEmbedding builds the profile snapshot, embeds it and upserts
// the emp_{user} vector.
func (p *Pipeline) HandleEmployeeEmbedding(ctx context.Context, task *Task, report ProgressFunc) (any, error) {
	var payload EmployeePayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, apperr.Wrap(apperr.Permanent, err, "decode payload")
	}

	profile, err := p.store.GetEmployeeProfile(ctx, task.OrgID, payload.UserID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Permanent, err, "load profile %d", payload.UserID)
	}
	snapshot := ProfileSnapshot(profile)
	report(progressChunked)

	values, err := p.embedder.EmbedQuery(ctx, task.OrgID, snapshot)
	if err != nil {
		return nil, err
	}
	report(progressEmbedded)

	id := vector.EmployeeVectorID(profile.UserID)
	err = p.index.Upsert(ctx, vector.Namespace(task.OrgID), []vector.Item{{
		ID:     id,
		Values: values,
		Metadata: map[string]any{
			"kind":        vector.KindEmployee,
			"user_id":     profile.UserID,
			"name":        profile.Name,
			"title":       profile.Title,
			"specialties": profile.Specialties,
			"skills":      profile.Skills,
		},
	}})
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, err, "index profile vector")
	}
	report(progressIndexed)

	err = p.store.UpsertEmployeeEmbedding(ctx, &store.EmployeeEmbedding{
		UserID:          profile.UserID,
		OrgID:           task.OrgID,
		VectorID:        id,
		ProfileSnapshot: snapshot,
		LastUpdated:     time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{"user_id": profile.UserID, "vector_id": id}, nil
}

// ProfileSnapshot is the text actually embedded for an employee.
func ProfileSnapshot(profile *store.EmployeeProfile) string {
	return fmt.Sprintf("Name: %s\nTitle: %s\nSpecialties: %s\nSkills: %s",
		profile.Name, profile.Title, profile.Specialties, profile.Skills)
}

// Connector pulls documents from an external system into the corpus.
type Connector interface {
	Name() string
	Sync(ctx context.Context, orgID int64) (imported int, err error)
}

// RegisterConnector adds an external source. Called during wiring, before
// the executor starts.
func (p *Pipeline) RegisterConnector(connector Connector) {
	if p.connectors == nil {
		p.connectors = map[string]Connector{}
	}
	p.connectors[connector.Name()] = connector
}

// HandleSyncExternal runs one external source sync.
func (p *Pipeline) HandleSyncExternal(ctx context.Context, task *Task, report ProgressFunc) (any, error) {
	var payload SyncPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, apperr.Wrap(apperr.Permanent, err, "decode payload")
	}
	connector, ok := p.connectors[payload.Source]
	if !ok {
		return nil, apperr.New(apperr.Validation, "no connector for source %q", payload.Source)
	}
	report(progressDownloaded)

	imported, err := connector.Sync(ctx, task.OrgID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, err, "sync %s", payload.Source)
	}
	return map[string]any{"source": payload.Source, "imported": imported}, nil
}

// HandleConsolidate purges soft-deleted documents past retention:
// vectors first, then the blob, then the rows, so a crash between steps
// re-purges cleanly on the next sweep.
func (p *Pipeline) HandleConsolidate(ctx context.Context, task *Task, report ProgressFunc) (any, error) {
	cutoff := time.Now().UTC().Add(-softDeleteRetention)
	docs, err := p.store.ListSoftDeleted(ctx, cutoff, 500)
	if err != nil {
		return nil, err
	}

	purged := 0
	for i, doc := range docs {
		if err := p.purgeDocument(ctx, doc); err != nil {
			p.logger.Error("purge document", "error", err, "document_id", doc.ID)
			continue
		}
		purged++
		report(i * 100 / len(docs))
	}
	return map[string]any{"purged": purged}, nil
}

// HandlePurgeDocument removes one soft-deleted document's vectors, blob and
// rows immediately.
func (p *Pipeline) HandlePurgeDocument(ctx context.Context, task *Task, report ProgressFunc) (any, error) {
	var payload DocumentPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, apperr.Wrap(apperr.Permanent, err, "decode payload")
	}

	docs, err := p.store.ListSoftDeleted(ctx, time.Now().UTC().Add(time.Minute), 500)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		if doc.ID != payload.DocumentID || doc.OrgID != task.OrgID {
			continue
		}
		if err := p.purgeDocument(ctx, doc); err != nil {
			return nil, apperr.Wrap(apperr.Transient, err, "purge %s", doc.ID)
		}
		report(progressClassified)
		return map[string]any{"doc_id": doc.ID}, nil
	}
	return nil, apperr.New(apperr.NotFound, "document %s is not pending purge", payload.DocumentID)
}

func (p *Pipeline) purgeDocument(ctx context.Context, doc store.Document) error {
	namespace := vector.Namespace(doc.OrgID)
	if err := p.index.DeleteDocument(ctx, namespace, doc.ID); err != nil {
		return fmt.Errorf("vectors: %w", err)
	}
	if err := p.blobs.Delete(ctx, doc.StorageKey); err != nil {
		return fmt.Errorf("blob: %w", err)
	}
	if err := p.store.HardDeleteDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("rows: %w", err)
	}
	return nil
}
