package agents

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowd-ai/knowd/pkg/llm"
)

type fakeLLM struct {
	responses []string
	err       error
	calls     int
	requests  []llm.Request
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.calls++
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	content := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return &llm.Response{Content: content}, nil
}

func TestPlannerUsesModelDecision(t *testing.T) {
	client := &fakeLLM{responses: []string{
		`{"needs_employee_search": true, "needs_external_search": false, "query_type": "people"}`,
	}}
	p := NewPlanner(client, slog.New(slog.DiscardHandler))

	plan := p.Plan(context.Background(), "who owns the billing service?")
	assert.True(t, plan.NeedsEmployeeSearch)
	assert.False(t, plan.NeedsExternalSearch)
	assert.Equal(t, "people", plan.QueryType)
	require.Len(t, client.requests, 1)
	assert.NotNil(t, client.requests[0].JSONSchema)
}

func TestPlannerFallsBackOnModelError(t *testing.T) {
	client := &fakeLLM{err: errors.New("model down")}
	p := NewPlanner(client, slog.New(slog.DiscardHandler))

	plan := p.Plan(context.Background(), "what are the latest industry trends?")
	assert.True(t, plan.NeedsExternalSearch)
	assert.Equal(t, "external", plan.QueryType)
}

func TestPlannerFallsBackOnMalformedOutput(t *testing.T) {
	client := &fakeLLM{responses: []string{"not json"}}
	p := NewPlanner(client, slog.New(slog.DiscardHandler))

	plan := p.Plan(context.Background(), "summarize the onboarding doc")
	assert.False(t, plan.NeedsEmployeeSearch)
	assert.False(t, plan.NeedsExternalSearch)
	assert.Equal(t, "documents", plan.QueryType)
}

func TestHeuristicPlan(t *testing.T) {
	cases := []struct {
		query string
		want  Plan
	}{
		{"summarize the Q3 roadmap", Plan{QueryType: "documents"}},
		{"who is the expert on kubernetes?", Plan{NeedsEmployeeSearch: true, QueryType: "people"}},
		{"latest market news on vector databases", Plan{NeedsExternalSearch: true, QueryType: "external"}},
		{"which team member follows recent competitor moves?", Plan{
			NeedsEmployeeSearch: true, NeedsExternalSearch: true, QueryType: "mixed",
		}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HeuristicPlan(tc.query), "query: %s", tc.query)
	}
}
