package agents

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/knowd-ai/knowd/pkg/llm"
)

// Plan decides which agents a turn needs. Document retrieval always runs;
// the flags add the optional agents.
type Plan struct {
	NeedsEmployeeSearch bool   `json:"needs_employee_search"`
	NeedsExternalSearch bool   `json:"needs_external_search"`
	QueryType           string `json:"query_type"`
}

const plannerSystemPrompt = `You route questions inside an organizational knowledge assistant.
Decide what the question needs beyond the internal document search that always runs:
- needs_employee_search: true when the question asks about people, expertise or team membership.
- needs_external_search: true when the question needs current public information the organization would not have internally.
- query_type: one of "documents", "people", "external", "mixed".`

var plannerSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"needs_employee_search": map[string]any{"type": "boolean"},
		"needs_external_search": map[string]any{"type": "boolean"},
		"query_type": map[string]any{
			"type": "string",
			"enum": []string{"documents", "people", "external", "mixed"},
		},
	},
	"required":             []string{"needs_employee_search", "needs_external_search", "query_type"},
	"additionalProperties": false,
}

type Planner struct {
	client llm.Client
	logger *slog.Logger
}

func NewPlanner(client llm.Client, logger *slog.Logger) *Planner {
	return &Planner{client: client, logger: logger}
}

// Plan asks the model; any failure degrades to the keyword heuristic so a
// planner outage never blocks a turn.
func (p *Planner) Plan(ctx context.Context, query string) Plan {
	response, err := p.client.Complete(ctx, llm.Request{
		System:      plannerSystemPrompt,
		User:        query,
		Temperature: 0,
		MaxTokens:   100,
		JSONSchema: &llm.JSONSchema{
			Name:        "query_plan",
			Description: "Routing decision for an assistant turn",
			Schema:      plannerSchema,
		},
	})
	if err != nil {
		p.logger.Warn("planner call failed, using heuristic", "error", err)
		return HeuristicPlan(query)
	}

	var plan Plan
	if err := json.Unmarshal([]byte(response.Content), &plan); err != nil {
		p.logger.Warn("planner output malformed, using heuristic", "error", err)
		return HeuristicPlan(query)
	}
	if plan.QueryType == "" {
		plan.QueryType = "documents"
	}
	return plan
}

var (
	employeeKeywords = []string{"who ", "whom ", "whose ", "team", "expert", "people", "person", "colleague", "hire"}
	externalKeywords = []string{"latest", "news", "market", "industry", "competitor", "current", "recent", "trend"}
)

// HeuristicPlan is the keyword fallback.
func HeuristicPlan(query string) Plan {
	q := strings.ToLower(query)
	plan := Plan{QueryType: "documents"}
	for _, keyword := range employeeKeywords {
		if strings.Contains(q, keyword) {
			plan.NeedsEmployeeSearch = true
			plan.QueryType = "people"
			break
		}
	}
	for _, keyword := range externalKeywords {
		if strings.Contains(q, keyword) {
			plan.NeedsExternalSearch = true
			if plan.NeedsEmployeeSearch {
				plan.QueryType = "mixed"
			} else {
				plan.QueryType = "external"
			}
			break
		}
	}
	return plan
}
