// Package blob stores raw uploaded files. Keys are namespaced per tenant so
// listing or deleting one organization never touches another.
package blob

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultPresignTTL is how long a download link stays valid.
const DefaultPresignTTL = time.Hour

// Store is the blob storage surface. Implementations: S3-compatible
// (production) and in-memory (tests).
type Store interface {
	// Put writes the blob and returns its storage key.
	Put(ctx context.Context, orgID int64, filename, contentType string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	// PresignGet returns a time-limited download URL for the key.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// Key builds the storage key for an upload: the tenant id, a fresh UUID and
// the sanitized filename. The UUID segment makes re-uploads of the same
// filename distinct.
func Key(orgID int64, filename string) string {
	return fmt.Sprintf("%d/%s/%s", orgID, uuid.NewString(), SanitizeFilename(filename))
}

// SanitizeFilename strips path separators and control characters so user
// input cannot escape its key prefix.
func SanitizeFilename(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':':
			return '_'
		case r < 0x20 || r == 0x7f:
			return -1
		default:
			return r
		}
	}, name)
	name = strings.Trim(name, ". ")
	if name == "" {
		return "unnamed"
	}
	return name
}
