// Package store persists the relational half of the corpus: documents,
// chunks, classifications, conversations, jobs and usage counters. Two
// implementations exist: Postgres (production) and in-memory (tests).
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Facet names accepted by FolderView.
const (
	FacetTeam    = "team"
	FacetProject = "project"
	FacetType    = "type"
	FacetDate    = "date"
	FacetPerson  = "person"
)

type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *Document) error
	// GetDocument returns ErrNotFound for unknown ids and for documents
	// owned by a different tenant, so existence never leaks across orgs.
	GetDocument(ctx context.Context, orgID int64, id string) (*Document, error)
	ListDocuments(ctx context.Context, orgID int64) ([]Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status DocumentStatus) error
	UpdateDocumentMetadata(ctx context.Context, id string, metadata map[string]any) error
	SoftDeleteDocument(ctx context.Context, orgID int64, id string) error
	// HardDeleteDocument removes the row and its chunks and classification.
	// Vectors must already have been removed by the caller.
	HardDeleteDocument(ctx context.Context, id string) error
	// ListSoftDeleted returns soft-deleted documents across all tenants,
	// oldest first, for the administrative sweep.
	ListSoftDeleted(ctx context.Context, olderThan time.Time, limit int) ([]Document, error)
}

type ChunkStore interface {
	// ReplaceChunks atomically deletes any existing chunks for the
	// document, inserts the new batch and flips the document status to
	// completed. This is the single multi-row transaction of the pipeline.
	ReplaceChunks(ctx context.Context, documentID string, chunks []Chunk) error
	GetChunk(ctx context.Context, documentID string, index int) (*Chunk, error)
	ListChunks(ctx context.Context, documentID string) ([]Chunk, error)
	DeleteChunks(ctx context.Context, documentID string) error
	CountChunks(ctx context.Context, documentID string) (int, error)
}

type ClassificationStore interface {
	// UpsertClassification replaces the document's classification wholesale.
	UpsertClassification(ctx context.Context, c *Classification) error
	GetClassification(ctx context.Context, orgID int64, documentID string) (*Classification, error)
	// OrgContext returns the tenant's distinct teams, projects and doc
	// types, excluding the classifier's defaults.
	OrgContext(ctx context.Context, orgID int64) (*OrgContext, error)
	// FolderView aggregates completed documents by facet. filter narrows
	// the result to a single bucket when non-empty. Buckets are ordered by
	// count descending, then facet value ascending.
	FolderView(ctx context.Context, orgID int64, facet, filter string) ([]FolderBucket, error)
}

type ConversationStore interface {
	CreateConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, orgID int64, id string) (*Conversation, error)
	// ListConversations returns the user's conversations, newest message first.
	ListConversations(ctx context.Context, orgID, userID int64) ([]Conversation, error)
	// AppendMessage stores the message and advances the conversation's
	// last_message_at. A conversation without a title gets one derived from
	// the first user message.
	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	SetConversationArchived(ctx context.Context, orgID int64, id string, archived bool) error
}

type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, orgID int64, id string) (*Job, error)
	MarkJobRunning(ctx context.Context, id string) error
	// UpdateJobProgress never lowers progress.
	UpdateJobProgress(ctx context.Context, id string, progress int) error
	MarkJobCompleted(ctx context.Context, id string, result []byte) error
	MarkJobFailed(ctx context.Context, id string, errMsg string) error
	MarkJobQueued(ctx context.Context, id string) error
	CountJobsByStatus(ctx context.Context, orgID int64) (map[string]int64, error)
}

type UsageStore interface {
	// AddUsage accumulates into the tenant's daily row.
	AddUsage(ctx context.Context, orgID int64, day time.Time, tokens, apiCalls int64, cost float64) error
	// MonthlyTokens sums tokens for the calendar month containing ref (UTC).
	MonthlyTokens(ctx context.Context, orgID int64, ref time.Time) (int64, error)
	UsageTotals(ctx context.Context, orgID int64) (tokens int64, cost float64, err error)
}

type EmployeeStore interface {
	GetEmployeeProfile(ctx context.Context, orgID, userID int64) (*EmployeeProfile, error)
	UpsertEmployeeEmbedding(ctx context.Context, e *EmployeeEmbedding) error
	GetEmployeeEmbedding(ctx context.Context, orgID, userID int64) (*EmployeeEmbedding, error)
}

// Store is the full relational surface.
type Store interface {
	DocumentStore
	ChunkStore
	ClassificationStore
	ConversationStore
	JobStore
	UsageStore
	EmployeeStore

	SystemStats(ctx context.Context, orgID int64) (*SystemStats, error)
	Ping(ctx context.Context) error
	Close()
}

// DeriveTitle builds a conversation title from the first user message:
// the first line, truncated to 80 characters.
func DeriveTitle(content string) string {
	line := content
	for i := 0; i < len(line); i++ {
		if line[i] == '\n' || line[i] == '\r' {
			line = line[:i]
			break
		}
	}
	runes := []rune(line)
	if len(runes) > 80 {
		runes = runes[:80]
	}
	return string(runes)
}
