package agents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowd-ai/knowd/pkg/apperr"
)

func TestResearchDisabledWithoutKey(t *testing.T) {
	agent := NewResearchAgent(http.DefaultClient, "", "http://unused")
	assert.False(t, agent.Enabled())

	answer, sources, err := agent.Search(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, answer)
	assert.Empty(t, sources)
}

func TestResearchShapesCitations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req researchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sonar", req.Model)

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "Vector databases are growing."}},
			},
			"citations": []string{
				"https://example.com/a",
				"https://example.com/b",
				"https://example.com/c",
			},
		})
	}))
	defer server.Close()

	agent := NewResearchAgent(server.Client(), "test-key", server.URL)
	answer, sources, err := agent.Search(context.Background(), "vector db market")
	require.NoError(t, err)
	assert.Equal(t, "Vector databases are growing.", answer)
	require.Len(t, sources, 3)
	assert.Equal(t, "https://example.com/a", sources[0].URL)
	assert.InDelta(t, 1.0, sources[0].Relevance, 1e-9)
	assert.InDelta(t, 0.9, sources[1].Relevance, 1e-9)
	assert.InDelta(t, 0.8, sources[2].Relevance, 1e-9)
}

func TestResearchServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	agent := NewResearchAgent(server.Client(), "test-key", server.URL)
	_, _, err := agent.Search(context.Background(), "anything")
	require.Error(t, err)
	assert.Equal(t, apperr.Transient, apperr.KindOf(err))
}
