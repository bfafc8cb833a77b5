// Package rag answers questions from the tenant's own documents: embed the
// query, retrieve the nearest chunks, and ground a completion on them with
// stable [n] citations.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/knowd-ai/knowd/pkg/llm"
	"github.com/knowd-ai/knowd/pkg/store"
	"github.com/knowd-ai/knowd/pkg/vector"
)

// NoEvidenceAnswer is returned verbatim when retrieval finds nothing above
// the score floor. Clients key off this string; do not reword it.
const NoEvidenceAnswer = "I don't know based on the available documents."

// Source is one retrieved chunk backing an answer.
type Source struct {
	DocumentID string  `json:"doc_id"`
	Filename   string  `json:"filename"`
	FileType   string  `json:"file_type"`
	UploadDate string  `json:"upload_date"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
	Excerpt    string  `json:"excerpt"`
}

// Answer is a grounded completion with the sources that informed it.
type Answer struct {
	Text    string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// QueryEmbedder is the slice of pkg/embed the engine needs.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, orgID int64, query string) ([]float32, error)
}

type Engine struct {
	embedder QueryEmbedder
	index    vector.Index
	chunks   store.ChunkStore
	client   llm.Client
	logger   *slog.Logger
	topK     int
	minScore float64
}

func NewEngine(embedder QueryEmbedder, index vector.Index, chunks store.ChunkStore, client llm.Client, logger *slog.Logger, topK int, minScore float64) *Engine {
	return &Engine{
		embedder: embedder,
		index:    index,
		chunks:   chunks,
		client:   client,
		logger:   logger,
		topK:     topK,
		minScore: minScore,
	}
}

// Retrieve returns the document chunks nearest the query, best first,
// dropping anything below the score floor.
func (e *Engine) Retrieve(ctx context.Context, orgID int64, query string, topK int) ([]Source, error) {
	if topK <= 0 {
		topK = e.topK
	}
	values, err := e.embedder.EmbedQuery(ctx, orgID, query)
	if err != nil {
		return nil, err
	}

	hits, err := e.index.Search(ctx, vector.Namespace(orgID), values, topK,
		vector.Filter{"kind": vector.KindDocument})
	if err != nil {
		return nil, err
	}

	sources := make([]Source, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < e.minScore {
			continue
		}
		sources = append(sources, e.hydrate(ctx, hit))
	}
	return sources, nil
}

// hydrate prefers the stored chunk text over the truncated metadata copy.
func (e *Engine) hydrate(ctx context.Context, hit vector.Hit) Source {
	source := Source{
		Score: hit.Score,
	}
	source.DocumentID, _ = hit.Metadata["doc_id"].(string)
	source.Filename, _ = hit.Metadata["filename"].(string)
	source.FileType, _ = hit.Metadata["file_type"].(string)
	source.UploadDate, _ = hit.Metadata["upload_date"].(string)
	switch idx := hit.Metadata["chunk_index"].(type) {
	case int:
		source.ChunkIndex = idx
	case int64:
		source.ChunkIndex = int(idx)
	case float64:
		source.ChunkIndex = int(idx)
	}
	source.Excerpt, _ = hit.Metadata["text"].(string)

	if source.DocumentID != "" {
		if chunk, err := e.chunks.GetChunk(ctx, source.DocumentID, source.ChunkIndex); err == nil {
			source.Excerpt = chunk.Text
		}
	}
	return source
}

const answerSystemPrompt = `You answer questions using only the provided document excerpts.
Cite the excerpts you use with their bracketed numbers, like [1] or [2].
If the excerpts do not contain the answer, say so plainly instead of guessing.`

// Answer runs single-shot retrieval-augmented answering. No retrieved
// evidence short-circuits to the fixed no-evidence answer without spending
// a completion.
func (e *Engine) Answer(ctx context.Context, orgID int64, query string) (*Answer, error) {
	sources, err := e.Retrieve(ctx, orgID, query, e.topK)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return &Answer{Text: NoEvidenceAnswer, Sources: []Source{}}, nil
	}

	var sb strings.Builder
	for i, source := range sources {
		fmt.Fprintf(&sb, "[%d] (%s)\n%s\n\n", i+1, source.Filename, source.Excerpt)
	}
	fmt.Fprintf(&sb, "Question: %s", query)

	response, err := e.client.Complete(ctx, llm.Request{
		System:      answerSystemPrompt,
		User:        sb.String(),
		Temperature: 0.2,
		MaxTokens:   1200,
	})
	if err != nil {
		return nil, err
	}
	return &Answer{Text: response.Content, Sources: sources}, nil
}
