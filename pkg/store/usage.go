package store

import (
	"context"
	"fmt"
	"time"
)

func (s *PostgresStore) AddUsage(ctx context.Context, orgID int64, day time.Time, tokens, apiCalls int64, cost float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO usage_daily (org_id, day, tokens, api_calls, estimated_cost)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (org_id, day) DO UPDATE SET
			tokens = usage_daily.tokens + EXCLUDED.tokens,
			api_calls = usage_daily.api_calls + EXCLUDED.api_calls,
			estimated_cost = usage_daily.estimated_cost + EXCLUDED.estimated_cost`,
		orgID, day.UTC().Format("2006-01-02"), tokens, apiCalls, cost)
	if err != nil {
		return fmt.Errorf("store.AddUsage: %w", err)
	}
	return nil
}

func (s *PostgresStore) MonthlyTokens(ctx context.Context, orgID int64, ref time.Time) (int64, error) {
	ref = ref.UTC()
	start := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	var total int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(sum(tokens), 0) FROM usage_daily
		WHERE org_id = $1 AND day >= $2 AND day < $3`,
		orgID, start.Format("2006-01-02"), end.Format("2006-01-02")).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("store.MonthlyTokens: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) UsageTotals(ctx context.Context, orgID int64) (int64, float64, error) {
	var tokens int64
	var cost float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(sum(tokens), 0), COALESCE(sum(estimated_cost), 0)
		FROM usage_daily WHERE org_id = $1`, orgID).Scan(&tokens, &cost)
	if err != nil {
		return 0, 0, fmt.Errorf("store.UsageTotals: %w", err)
	}
	return tokens, cost, nil
}
