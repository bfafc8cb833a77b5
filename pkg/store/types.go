package store

import (
	"encoding/json"
	"time"
)

// DocumentStatus tracks a document through the ingestion pipeline.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentProcessing DocumentStatus = "processing"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed"
)

// FileType is the declared upload format.
type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypeDOCX FileType = "docx"
	FileTypeTXT  FileType = "txt"
	FileTypeMD   FileType = "md"
	FileTypeCSV  FileType = "csv"
)

// AllowedFileTypes is the upload allow-list.
var AllowedFileTypes = map[FileType]bool{
	FileTypePDF:  true,
	FileTypeDOCX: true,
	FileTypeTXT:  true,
	FileTypeMD:   true,
	FileTypeCSV:  true,
}

// Document is a tenant-owned uploaded file and its pipeline state.
type Document struct {
	ID         string         `json:"id"`
	OrgID      int64          `json:"org_id"`
	Filename   string         `json:"filename"`
	FileType   FileType       `json:"file_type"`
	SizeBytes  int64          `json:"size_bytes"`
	StorageKey string         `json:"-"`
	UploadedBy int64          `json:"uploaded_by"`
	UploadedAt time.Time      `json:"upload_date"`
	Status     DocumentStatus `json:"status"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	IsDeleted  bool           `json:"-"`
	DeletedAt  *time.Time     `json:"-"`
}

// Chunk is the unit of retrieval. Chunks are immutable once written and
// their Index values are dense per document.
type Chunk struct {
	ID           string         `json:"id"`
	DocumentID   string         `json:"document_id"`
	Index        int            `json:"chunk_index"`
	Text         string         `json:"text"`
	TokenCount   int            `json:"token_count"`
	EmbeddingKey string         `json:"embedding_key"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Classification is the multi-dimensional label attached to a document.
// At most one row exists per document; re-classification replaces it.
type Classification struct {
	DocumentID      string             `json:"document_id"`
	OrgID           int64              `json:"org_id"`
	Team            string             `json:"team,omitempty"`
	Project         string             `json:"project,omitempty"`
	DocType         string             `json:"doc_type"`
	TimePeriod      string             `json:"time_period,omitempty"`
	Confidentiality string             `json:"confidentiality"`
	People          []string           `json:"people"`
	Tags            []string           `json:"tags"`
	Summary         string             `json:"summary"`
	Confidence      map[string]float64 `json:"confidence"`
	ClassifiedAt    time.Time          `json:"classified_at"`
}

// FolderBucket is one facet value of a smart-folder view with its documents.
type FolderBucket struct {
	Value     string     `json:"value"`
	Count     int        `json:"count"`
	Documents []Document `json:"documents"`
}

// Conversation groups chat messages for one user within a tenant.
type Conversation struct {
	ID            string    `json:"id"`
	OrgID         int64     `json:"org_id"`
	UserID        int64     `json:"user_id"`
	Title         string    `json:"title"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
	Archived      bool      `json:"archived"`
}

// Message is an append-only chat turn.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Role           string          `json:"role"` // user | assistant
	Content        string          `json:"content"`
	Reasoning      []string        `json:"reasoning,omitempty"`
	Sources        json.RawMessage `json:"sources,omitempty"`
	CreatedAt      time.Time       `json:"timestamp"`
}

// JobStatus is the lifecycle of a background task record.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is the durable record of a background task. Progress is monotonic
// non-decreasing; StartedAt and CompletedAt bracket the running window.
type Job struct {
	ID          string          `json:"job_id"`
	OrgID       int64           `json:"org_id"`
	Type        string          `json:"type"`
	Status      JobStatus       `json:"status"`
	Progress    int             `json:"progress"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Usage is a per-tenant daily aggregate of embedding/LLM spend.
type Usage struct {
	OrgID         int64     `json:"org_id"`
	Day           time.Time `json:"date"`
	Tokens        int64     `json:"tokens"`
	APICalls      int64     `json:"api_calls"`
	EstimatedCost float64   `json:"estimated_cost"`
}

// EmployeeProfile is the read model of a tenant member, populated by the
// external directory collaborator. Used to build employee embeddings.
type EmployeeProfile struct {
	UserID      int64  `json:"user_id"`
	OrgID       int64  `json:"org_id"`
	Name        string `json:"name"`
	Title       string `json:"title"`
	Email       string `json:"email"`
	Specialties string `json:"specialties"`
	Skills      string `json:"skills"`
}

// EmployeeEmbedding records that a profile vector exists in the index.
type EmployeeEmbedding struct {
	UserID          int64     `json:"user_id"`
	OrgID           int64     `json:"org_id"`
	VectorID        string    `json:"vector_id"`
	ProfileSnapshot string    `json:"profile_snapshot"`
	LastUpdated     time.Time `json:"last_updated"`
}

// OrgContext is the soft-state snapshot of a tenant's known facet values,
// fed to the classifier prompt.
type OrgContext struct {
	Teams    []string
	Projects []string
	DocTypes []string
}

// SystemStats aggregates tenant counters for the status endpoint.
type SystemStats struct {
	Documents     int64            `json:"documents"`
	Chunks        int64            `json:"chunks"`
	Conversations int64            `json:"conversations"`
	JobsByStatus  map[string]int64 `json:"jobs_by_status"`
	TokensTotal   int64            `json:"tokens_total"`
	CostTotal     float64          `json:"estimated_cost_total"`
}
