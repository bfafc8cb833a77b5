package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const documentColumns = `id, org_id, filename, file_type, size_bytes, storage_key,
	uploaded_by, uploaded_at, status, metadata, is_deleted, deleted_at`

// documentColumnsQualified disambiguates columns like org_id in queries that
// join documents against another table.
const documentColumnsQualified = `documents.id, documents.org_id, documents.filename,
	documents.file_type, documents.size_bytes, documents.storage_key, documents.uploaded_by,
	documents.uploaded_at, documents.status, documents.metadata, documents.is_deleted,
	documents.deleted_at`

func scanDocument(row pgx.Row) (*Document, error) {
	var doc Document
	var metadata []byte
	err := row.Scan(&doc.ID, &doc.OrgID, &doc.Filename, &doc.FileType, &doc.SizeBytes,
		&doc.StorageKey, &doc.UploadedBy, &doc.UploadedAt, &doc.Status, &metadata,
		&doc.IsDeleted, &doc.DeletedAt)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &doc.Metadata); err != nil {
			return nil, err
		}
	}
	return &doc, nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *Document) error {
	metadata, err := json.Marshal(orEmpty(doc.Metadata))
	if err != nil {
		return fmt.Errorf("store.CreateDocument: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO documents (id, org_id, filename, file_type, size_bytes, storage_key,
			uploaded_by, uploaded_at, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		doc.ID, doc.OrgID, doc.Filename, doc.FileType, doc.SizeBytes, doc.StorageKey,
		doc.UploadedBy, doc.UploadedAt, doc.Status, metadata)
	if err != nil {
		return fmt.Errorf("store.CreateDocument: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, orgID int64, id string) (*Document, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE id = $1 AND org_id = $2 AND NOT is_deleted`, id, orgID)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, mapScanErr("store.GetDocument", err)
	}
	return doc, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, orgID int64) ([]Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE org_id = $1 AND NOT is_deleted
		ORDER BY uploaded_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("store.ListDocuments: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("store.ListDocuments: %w", err)
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateDocumentStatus(ctx context.Context, id string, status DocumentStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE documents SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("store.UpdateDocumentStatus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateDocumentMetadata(ctx context.Context, id string, metadata map[string]any) error {
	raw, err := json.Marshal(orEmpty(metadata))
	if err != nil {
		return fmt.Errorf("store.UpdateDocumentMetadata: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE documents SET metadata = $2 WHERE id = $1`, id, raw)
	if err != nil {
		return fmt.Errorf("store.UpdateDocumentMetadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SoftDeleteDocument(ctx context.Context, orgID int64, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE documents SET is_deleted = TRUE, deleted_at = $3
		WHERE id = $1 AND org_id = $2 AND NOT is_deleted`,
		id, orgID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store.SoftDeleteDocument: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) HardDeleteDocument(ctx context.Context, id string) error {
	// Chunks and the classification cascade with the row.
	if _, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("store.HardDeleteDocument: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSoftDeleted(ctx context.Context, olderThan time.Time, limit int) ([]Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE is_deleted AND deleted_at < $1
		ORDER BY deleted_at ASC
		LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("store.ListSoftDeleted: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("store.ListSoftDeleted: %w", err)
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
