package embed

import (
	"context"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/knowd-ai/knowd/pkg/apperr"
)

// BatchResult is the embeddings for one upstream call plus its token bill.
type BatchResult struct {
	Embeddings [][]float32
	Tokens     int64
}

// Provider is one upstream embedding API call. The Embedder layers batching,
// rate limiting, retries and budget enforcement on top.
type Provider interface {
	EmbedBatch(ctx context.Context, texts []string) (*BatchResult, error)
	Dimension() int
}

// OpenAIProvider embeds through any OpenAI-compatible endpoint.
type OpenAIProvider struct {
	client    openai.Client
	model     string
	dimension int
}

var _ Provider = (*OpenAIProvider)(nil)

func NewOpenAIProvider(apiKey, baseURL, model string, dimension int) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{
		client:    openai.NewClient(opts...),
		model:     model,
		dimension: dimension,
	}
}

func (p *OpenAIProvider) Dimension() int { return p.dimension }

func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) (*BatchResult, error) {
	response, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, err, "embed.EmbedBatch")
	}
	if len(response.Data) != len(texts) {
		return nil, apperr.New(apperr.Transient, "embed.EmbedBatch: got %d embeddings for %d inputs", len(response.Data), len(texts))
	}

	embeddings := make([][]float32, len(response.Data))
	for _, item := range response.Data {
		values := make([]float32, len(item.Embedding))
		for i, v := range item.Embedding {
			values[i] = float32(v)
		}
		embeddings[item.Index] = values
	}
	return &BatchResult{
		Embeddings: embeddings,
		Tokens:     response.Usage.TotalTokens,
	}, nil
}
