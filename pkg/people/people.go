// Package people searches employee profiles by semantic similarity. Profile
// vectors are built by the background tier; this package only queries them.
package people

import (
	"context"
	"log/slog"

	"github.com/knowd-ai/knowd/pkg/vector"
)

// Match is one employee returned by a search.
type Match struct {
	UserID      int64   `json:"user_id"`
	Name        string  `json:"name"`
	Title       string  `json:"title"`
	Specialties string  `json:"specialties"`
	Skills      string  `json:"skills"`
	Score       float64 `json:"score"`
}

// QueryEmbedder is the slice of pkg/embed the search needs.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, orgID int64, query string) ([]float32, error)
}

type Service struct {
	embedder QueryEmbedder
	index    vector.Index
	logger   *slog.Logger
	minScore float64
}

func NewService(embedder QueryEmbedder, index vector.Index, logger *slog.Logger, minScore float64) *Service {
	return &Service{embedder: embedder, index: index, logger: logger, minScore: minScore}
}

// Search returns employees whose profiles match the query, best first.
func (s *Service) Search(ctx context.Context, orgID int64, query string, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 5
	}
	values, err := s.embedder.EmbedQuery(ctx, orgID, query)
	if err != nil {
		return nil, err
	}

	hits, err := s.index.Search(ctx, vector.Namespace(orgID), values, topK,
		vector.Filter{"kind": vector.KindEmployee})
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < s.minScore {
			continue
		}
		match := Match{Score: hit.Score}
		switch id := hit.Metadata["user_id"].(type) {
		case int64:
			match.UserID = id
		case int:
			match.UserID = int64(id)
		case float64:
			match.UserID = int64(id)
		}
		match.Name, _ = hit.Metadata["name"].(string)
		match.Title, _ = hit.Metadata["title"].(string)
		match.Specialties, _ = hit.Metadata["specialties"].(string)
		match.Skills, _ = hit.Metadata["skills"].(string)
		matches = append(matches, match)
	}
	return matches, nil
}
