package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

func (s *PostgresStore) CreateJob(ctx context.Context, job *Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, org_id, type, status, progress, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.OrgID, job.Type, job.Status, job.Progress, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("store.CreateJob: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, orgID int64, id string) (*Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, org_id, type, status, progress, result, error, created_at, started_at, completed_at
		FROM jobs WHERE id = $1 AND org_id = $2`, id, orgID)

	var job Job
	var result []byte
	err := row.Scan(&job.ID, &job.OrgID, &job.Type, &job.Status, &job.Progress,
		&result, &job.Error, &job.CreatedAt, &job.StartedAt, &job.CompletedAt)
	if err != nil {
		return nil, mapScanErr("store.GetJob", err)
	}
	job.Result = json.RawMessage(result)
	return &job, nil
}

func (s *PostgresStore) MarkJobRunning(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, started_at = COALESCE(started_at, $3)
		WHERE id = $1`, id, JobRunning, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store.MarkJobRunning: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET progress = GREATEST(progress, $2) WHERE id = $1`, id, progress)
	if err != nil {
		return fmt.Errorf("store.UpdateJobProgress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkJobCompleted(ctx context.Context, id string, result []byte) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, progress = 100, result = $3, completed_at = $4
		WHERE id = $1`, id, JobCompleted, result, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store.MarkJobCompleted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, error = $3, completed_at = $4 WHERE id = $1`,
		id, JobFailed, errMsg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store.MarkJobFailed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkJobQueued(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE jobs SET status = $2 WHERE id = $1`, id, JobQueued)
	if err != nil {
		return fmt.Errorf("store.MarkJobQueued: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CountJobsByStatus(ctx context.Context, orgID int64) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, count(*) FROM jobs WHERE org_id = $1 GROUP BY status`, orgID)
	if err != nil {
		return nil, fmt.Errorf("store.CountJobsByStatus: %w", err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("store.CountJobsByStatus: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}
