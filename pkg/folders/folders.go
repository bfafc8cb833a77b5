// Package folders serves the smart-folder views: virtual groupings of
// documents by classification facet. Folders are computed from labels at
// query time; nothing is materialized.
package folders

import (
	"context"

	"github.com/knowd-ai/knowd/pkg/apperr"
	"github.com/knowd-ai/knowd/pkg/store"
)

// Facets in the order the sidebar presents them.
var Facets = []string{
	store.FacetTeam,
	store.FacetProject,
	store.FacetType,
	store.FacetDate,
	store.FacetPerson,
}

type Service struct {
	store store.ClassificationStore
}

func NewService(st store.ClassificationStore) *Service {
	return &Service{store: st}
}

// View returns the buckets for one facet, optionally narrowed to a single
// facet value.
func (s *Service) View(ctx context.Context, orgID int64, facet, filter string) ([]store.FolderBucket, error) {
	if !ValidFacet(facet) {
		return nil, apperr.New(apperr.Validation, "unknown facet %q", facet)
	}
	buckets, err := s.store.FolderView(ctx, orgID, facet, filter)
	if err != nil {
		return nil, err
	}
	if buckets == nil {
		buckets = []store.FolderBucket{}
	}
	return buckets, nil
}

func ValidFacet(facet string) bool {
	for _, f := range Facets {
		if f == facet {
			return true
		}
	}
	return false
}
