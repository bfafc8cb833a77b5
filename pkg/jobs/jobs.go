// Package jobs runs the background tier: a durable task queue and the
// handlers behind it, chiefly the document ingestion pipeline.
package jobs

import (
	"context"
	"encoding/json"
	"time"
)

// Task types.
const (
	TypeProcessDocument   = "process_document"
	TypeReclassify        = "reclassify_document"
	TypeEmployeeEmbedding = "generate_employee_embedding"
	TypeSyncExternal      = "sync_external_source"
	TypeConsolidate       = "consolidate_memories"
	TypePurgeDocument     = "purge_document"
)

// maxAttempts bounds retries of transient failures per task.
const maxAttempts = 3

// Task is the queued unit of work. Its ID doubles as the job record id.
type Task struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OrgID      int64           `json:"org_id"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Broker moves tasks between the API and worker tiers. Delivery is
// at-least-once: a task stays on a processing list until acked, so handlers
// must be idempotent.
type Broker interface {
	Enqueue(ctx context.Context, task *Task) error
	// Dequeue blocks until a task is available or the context ends.
	Dequeue(ctx context.Context) (*Task, error)
	// Ack removes a delivered task from the processing list.
	Ack(ctx context.Context, task *Task) error
	// Requeue schedules a delivered task to run again after delay.
	Requeue(ctx context.Context, task *Task, delay time.Duration) error
	// Cancel raises the cooperative cancellation flag for a task.
	Cancel(ctx context.Context, taskID string) error
	IsCanceled(ctx context.Context, taskID string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// Payloads per task type.

type DocumentPayload struct {
	DocumentID string `json:"document_id"`
}

type EmployeePayload struct {
	UserID int64 `json:"user_id"`
}

type SyncPayload struct {
	Source string `json:"source"`
}
