package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/knowd-ai/knowd/pkg/apperr"
)

// WebSource is an external finding with a rank-decayed relevance score.
type WebSource struct {
	URL       string  `json:"url"`
	Snippet   string  `json:"snippet,omitempty"`
	Relevance float64 `json:"relevance"`
}

// ResearchAgent queries a Perplexity-compatible online search model. With no
// API key configured the agent is disabled and returns nothing.
type ResearchAgent struct {
	httpClient *http.Client
	apiKey     string
	endpoint   string
	model      string
}

func NewResearchAgent(httpClient *http.Client, apiKey, endpoint string) *ResearchAgent {
	return &ResearchAgent{
		httpClient: httpClient,
		apiKey:     apiKey,
		endpoint:   endpoint,
		model:      "sonar",
	}
}

// Enabled reports whether external research is configured.
func (r *ResearchAgent) Enabled() bool {
	return r != nil && r.apiKey != ""
}

type researchRequest struct {
	Model    string            `json:"model"`
	Messages []researchMessage `json:"messages"`
}

type researchMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type researchResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
}

// Search asks the online model and shapes its citations into ranked
// sources: the first citation scores 1.0, each following one 0.1 less.
func (r *ResearchAgent) Search(ctx context.Context, query string) (string, []WebSource, error) {
	if !r.Enabled() {
		return "", nil, nil
	}

	body, err := json.Marshal(researchRequest{
		Model: r.model,
		Messages: []researchMessage{
			{Role: "system", Content: "Answer concisely with sources."},
			{Role: "user", Content: query},
		},
	})
	if err != nil {
		return "", nil, fmt.Errorf("agents.Search: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", nil, fmt.Errorf("agents.Search: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+r.apiKey)
	request.Header.Set("Content-Type", "application/json")

	response, err := r.httpClient.Do(request)
	if err != nil {
		return "", nil, apperr.Wrap(apperr.Transient, err, "research request")
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return "", nil, apperr.Wrap(apperr.Transient, err, "research response")
	}
	if response.StatusCode != http.StatusOK {
		return "", nil, apperr.New(apperr.Transient, "research API status %d", response.StatusCode)
	}

	var parsed researchResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", nil, apperr.Wrap(apperr.Transient, err, "decode research response")
	}
	if len(parsed.Choices) == 0 {
		return "", nil, nil
	}

	sources := make([]WebSource, 0, len(parsed.Citations))
	for rank, url := range parsed.Citations {
		relevance := 1.0 - 0.1*float64(rank)
		if relevance < 0 {
			relevance = 0
		}
		sources = append(sources, WebSource{URL: url, Relevance: relevance})
	}
	return parsed.Choices[0].Message.Content, sources, nil
}
