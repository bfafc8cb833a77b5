package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

func (s *PostgresStore) ReplaceChunks(ctx context.Context, documentID string, chunks []Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store.ReplaceChunks: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("store.ReplaceChunks: clear: %w", err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		metadata, err := json.Marshal(orEmpty(c.Metadata))
		if err != nil {
			return fmt.Errorf("store.ReplaceChunks: %w", err)
		}
		batch.Queue(`
			INSERT INTO chunks (id, document_id, chunk_index, text, token_count, embedding_key, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			c.ID, documentID, c.Index, c.Text, c.TokenCount, c.EmbeddingKey, metadata)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("store.ReplaceChunks: insert: %w", err)
	}

	tag, err := tx.Exec(ctx, `UPDATE documents SET status = $2 WHERE id = $1`, documentID, DocumentCompleted)
	if err != nil {
		return fmt.Errorf("store.ReplaceChunks: status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store.ReplaceChunks: commit: %w", err)
	}
	return nil
}

const chunkColumns = `id, document_id, chunk_index, text, token_count, embedding_key, metadata`

func scanChunk(row pgx.Row) (*Chunk, error) {
	var c Chunk
	var metadata []byte
	if err := row.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Text, &c.TokenCount, &c.EmbeddingKey, &metadata); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func (s *PostgresStore) GetChunk(ctx context.Context, documentID string, index int) (*Chunk, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+chunkColumns+` FROM chunks
		WHERE document_id = $1 AND chunk_index = $2`, documentID, index)
	c, err := scanChunk(row)
	if err != nil {
		return nil, mapScanErr("store.GetChunk", err)
	}
	return c, nil
}

func (s *PostgresStore) ListChunks(ctx context.Context, documentID string) ([]Chunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+chunkColumns+` FROM chunks
		WHERE document_id = $1
		ORDER BY chunk_index ASC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("store.ListChunks: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("store.ListChunks: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteChunks(ctx context.Context, documentID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("store.DeleteChunks: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountChunks(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chunks WHERE document_id = $1`, documentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store.CountChunks: %w", err)
	}
	return n, nil
}
