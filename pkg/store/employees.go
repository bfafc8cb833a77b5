package store

import (
	"context"
	"fmt"
	"time"
)

func (s *PostgresStore) GetEmployeeProfile(ctx context.Context, orgID, userID int64) (*EmployeeProfile, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, org_id, name, title, email, specialties, skills
		FROM employee_profiles WHERE org_id = $1 AND user_id = $2`, orgID, userID)

	var p EmployeeProfile
	err := row.Scan(&p.UserID, &p.OrgID, &p.Name, &p.Title, &p.Email, &p.Specialties, &p.Skills)
	if err != nil {
		return nil, mapScanErr("store.GetEmployeeProfile", err)
	}
	return &p, nil
}

func (s *PostgresStore) UpsertEmployeeEmbedding(ctx context.Context, e *EmployeeEmbedding) error {
	if e.LastUpdated.IsZero() {
		e.LastUpdated = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO employee_embeddings (user_id, org_id, vector_id, profile_snapshot, last_updated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (org_id, user_id) DO UPDATE SET
			vector_id = EXCLUDED.vector_id,
			profile_snapshot = EXCLUDED.profile_snapshot,
			last_updated = EXCLUDED.last_updated`,
		e.UserID, e.OrgID, e.VectorID, e.ProfileSnapshot, e.LastUpdated)
	if err != nil {
		return fmt.Errorf("store.UpsertEmployeeEmbedding: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetEmployeeEmbedding(ctx context.Context, orgID, userID int64) (*EmployeeEmbedding, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, org_id, vector_id, profile_snapshot, last_updated
		FROM employee_embeddings WHERE org_id = $1 AND user_id = $2`, orgID, userID)

	var e EmployeeEmbedding
	err := row.Scan(&e.UserID, &e.OrgID, &e.VectorID, &e.ProfileSnapshot, &e.LastUpdated)
	if err != nil {
		return nil, mapScanErr("store.GetEmployeeEmbedding", err)
	}
	return &e, nil
}

func (s *PostgresStore) SystemStats(ctx context.Context, orgID int64) (*SystemStats, error) {
	stats := &SystemStats{JobsByStatus: map[string]int64{}}

	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
		       COALESCE((SELECT count(*) FROM chunks
		                 JOIN documents d ON d.id = chunks.document_id
		                 WHERE d.org_id = $1 AND NOT d.is_deleted), 0)
		FROM documents WHERE org_id = $1 AND NOT is_deleted`, orgID).
		Scan(&stats.Documents, &stats.Chunks)
	if err != nil {
		return nil, fmt.Errorf("store.SystemStats: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT count(*) FROM conversations WHERE org_id = $1`, orgID).Scan(&stats.Conversations)
	if err != nil {
		return nil, fmt.Errorf("store.SystemStats: %w", err)
	}

	jobs, err := s.CountJobsByStatus(ctx, orgID)
	if err != nil {
		return nil, err
	}
	stats.JobsByStatus = jobs

	tokens, cost, err := s.UsageTotals(ctx, orgID)
	if err != nil {
		return nil, err
	}
	stats.TokensTotal = tokens
	stats.CostTotal = cost
	return stats, nil
}
