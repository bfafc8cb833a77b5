// Package vector abstracts the tenant-isolated vector index. Every item
// lives in exactly one tenant namespace; no operation crosses namespaces.
package vector

import (
	"context"
	"fmt"
	"unicode/utf8"
)

// Kinds stored in item metadata under the "kind" key, used to search
// documents and employee profiles separately within one namespace.
const (
	KindDocument = "document"
	KindEmployee = "employee"
)

// Maximum bytes kept for any single string metadata value.
const maxMetadataString = 2048

// Item is one embedded vector with its logical id and flat metadata.
type Item struct {
	ID       string
	Values   []float32
	Metadata map[string]any
}

// Hit is a search result, highest similarity first.
type Hit struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// Filter narrows a search by exact metadata matches. A nil or empty filter
// matches everything in the namespace.
type Filter map[string]string

// Index is the vector store surface. Implementations: Qdrant (production)
// and in-memory (tests).
type Index interface {
	// Upsert writes items into the tenant namespace, batching internally.
	// Re-upserting an id overwrites the stored vector and metadata.
	Upsert(ctx context.Context, namespace string, items []Item) error
	// Search returns up to topK nearest items by cosine similarity,
	// restricted to the namespace and the filter.
	Search(ctx context.Context, namespace string, values []float32, topK int, filter Filter) ([]Hit, error)
	// DeleteDocument removes every vector whose doc_id metadata matches.
	DeleteDocument(ctx context.Context, namespace, documentID string) error
	// Delete removes items by logical id.
	Delete(ctx context.Context, namespace string, ids []string) error
	// DeleteNamespace removes the whole tenant namespace.
	DeleteNamespace(ctx context.Context, namespace string) error
	// Count returns the number of vectors in the namespace.
	Count(ctx context.Context, namespace string) (uint64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Namespace returns the tenant namespace for an organization.
func Namespace(orgID int64) string {
	return fmt.Sprintf("tenant_%d", orgID)
}

// DocumentVectorID is the logical id of a document chunk vector.
func DocumentVectorID(documentID string, chunkIndex int) string {
	return fmt.Sprintf("doc_%s_chunk_%d", documentID, chunkIndex)
}

// EmployeeVectorID is the logical id of an employee profile vector.
func EmployeeVectorID(userID int64) string {
	return fmt.Sprintf("emp_%d", userID)
}

// SanitizeMetadata keeps only values the index can store: strings, numbers,
// booleans and flat arrays of strings or numbers. Long strings are truncated
// at a rune boundary; everything else is dropped.
func SanitizeMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		switch v := value.(type) {
		case string:
			out[key] = truncateString(v)
		case bool, int, int32, int64, float32, float64:
			out[key] = v
		case []string:
			cp := make([]string, len(v))
			for i, s := range v {
				cp[i] = truncateString(s)
			}
			out[key] = cp
		case []any:
			if flat := flatArray(v); flat != nil {
				out[key] = flat
			}
		}
	}
	return out
}

func flatArray(in []any) []any {
	out := make([]any, 0, len(in))
	for _, elem := range in {
		switch e := elem.(type) {
		case string:
			out = append(out, truncateString(e))
		case bool, int, int32, int64, float32, float64:
			out = append(out, e)
		default:
			return nil
		}
	}
	return out
}

func truncateString(s string) string {
	if len(s) <= maxMetadataString {
		return s
	}
	cut := maxMetadataString
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
