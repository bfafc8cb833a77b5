package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

func (s *PostgresStore) UpsertClassification(ctx context.Context, c *Classification) error {
	people, err := json.Marshal(orEmptyStrings(c.People))
	if err != nil {
		return fmt.Errorf("store.UpsertClassification: %w", err)
	}
	tags, err := json.Marshal(orEmptyStrings(c.Tags))
	if err != nil {
		return fmt.Errorf("store.UpsertClassification: %w", err)
	}
	confidence, err := json.Marshal(c.Confidence)
	if err != nil {
		return fmt.Errorf("store.UpsertClassification: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO classifications (document_id, org_id, team, project, doc_type,
			time_period, confidentiality, people, tags, summary, confidence, classified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (document_id) DO UPDATE SET
			team = EXCLUDED.team,
			project = EXCLUDED.project,
			doc_type = EXCLUDED.doc_type,
			time_period = EXCLUDED.time_period,
			confidentiality = EXCLUDED.confidentiality,
			people = EXCLUDED.people,
			tags = EXCLUDED.tags,
			summary = EXCLUDED.summary,
			confidence = EXCLUDED.confidence,
			classified_at = EXCLUDED.classified_at`,
		c.DocumentID, c.OrgID, c.Team, c.Project, c.DocType, c.TimePeriod,
		c.Confidentiality, people, tags, c.Summary, confidence, c.ClassifiedAt)
	if err != nil {
		return fmt.Errorf("store.UpsertClassification: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetClassification(ctx context.Context, orgID int64, documentID string) (*Classification, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT document_id, org_id, team, project, doc_type, time_period,
			confidentiality, people, tags, summary, confidence, classified_at
		FROM classifications
		WHERE document_id = $1 AND org_id = $2`, documentID, orgID)

	var c Classification
	var people, tags, confidence []byte
	err := row.Scan(&c.DocumentID, &c.OrgID, &c.Team, &c.Project, &c.DocType,
		&c.TimePeriod, &c.Confidentiality, &people, &tags, &c.Summary,
		&confidence, &c.ClassifiedAt)
	if err != nil {
		return nil, mapScanErr("store.GetClassification", err)
	}
	if err := json.Unmarshal(people, &c.People); err != nil {
		return nil, fmt.Errorf("store.GetClassification: %w", err)
	}
	if err := json.Unmarshal(tags, &c.Tags); err != nil {
		return nil, fmt.Errorf("store.GetClassification: %w", err)
	}
	if err := json.Unmarshal(confidence, &c.Confidence); err != nil {
		return nil, fmt.Errorf("store.GetClassification: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) OrgContext(ctx context.Context, orgID int64) (*OrgContext, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT team, project, doc_type FROM classifications WHERE org_id = $1`, orgID)
	if err != nil {
		return nil, fmt.Errorf("store.OrgContext: %w", err)
	}
	defer rows.Close()

	teams := map[string]bool{}
	projects := map[string]bool{}
	docTypes := map[string]bool{}
	for rows.Next() {
		var team, project, docType string
		if err := rows.Scan(&team, &project, &docType); err != nil {
			return nil, fmt.Errorf("store.OrgContext: %w", err)
		}
		if team != "" && team != "General" {
			teams[team] = true
		}
		if project != "" && project != "none" {
			projects[project] = true
		}
		if docType != "" && docType != "other" {
			docTypes[docType] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store.OrgContext: %w", err)
	}
	return &OrgContext{
		Teams:    sortedKeys(teams),
		Projects: sortedKeys(projects),
		DocTypes: sortedKeys(docTypes),
	}, nil
}

// facetExpr maps a facet name to the SQL expression producing its values.
// by_person fans a document out into one row per listed person.
func facetExpr(facet string) (string, bool) {
	switch facet {
	case FacetTeam:
		return "c.team", false
	case FacetProject:
		return "c.project", false
	case FacetType:
		return "c.doc_type", false
	case FacetDate:
		return "c.time_period", false
	case FacetPerson:
		return "jsonb_array_elements_text(c.people)", true
	default:
		return "", false
	}
}

func (s *PostgresStore) FolderView(ctx context.Context, orgID int64, facet, filter string) ([]FolderBucket, error) {
	expr, fanOut := facetExpr(facet)
	if expr == "" {
		return nil, fmt.Errorf("store.FolderView: unknown facet %q", facet)
	}

	query := `
		SELECT ` + expr + ` AS facet_value, ` + documentColumnsQualified + `
		FROM classifications c
		JOIN documents ON documents.id = c.document_id
		WHERE c.org_id = $1 AND NOT documents.is_deleted`
	args := []any{orgID}
	if filter != "" {
		if fanOut {
			query += ` AND c.people ? $2`
		} else {
			query += ` AND ` + expr + ` = $2`
		}
		args = append(args, filter)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store.FolderView: %w", err)
	}
	defer rows.Close()

	buckets := map[string][]Document{}
	for rows.Next() {
		var value string
		var doc Document
		var metadata []byte
		err := rows.Scan(&value, &doc.ID, &doc.OrgID, &doc.Filename, &doc.FileType,
			&doc.SizeBytes, &doc.StorageKey, &doc.UploadedBy, &doc.UploadedAt,
			&doc.Status, &metadata, &doc.IsDeleted, &doc.DeletedAt)
		if err != nil {
			return nil, fmt.Errorf("store.FolderView: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("store.FolderView: %w", err)
			}
		}
		if value == "" {
			continue
		}
		// Fanned-out rows can include people other than the filter target.
		if filter != "" && value != filter {
			continue
		}
		buckets[value] = append(buckets[value], doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store.FolderView: %w", err)
	}

	out := make([]FolderBucket, 0, len(buckets))
	for value, docs := range buckets {
		sort.Slice(docs, func(i, j int) bool { return docs[i].UploadedAt.After(docs[j].UploadedAt) })
		out = append(out, FolderBucket{Value: value, Count: len(docs), Documents: docs})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	return out, nil
}

func orEmptyStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
