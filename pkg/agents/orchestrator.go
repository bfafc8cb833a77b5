// Package agents answers complex turns with a small multi-agent pipeline:
// a planner routes the query, specialist agents search documents, employees
// and the web concurrently, and a synthesizer writes the final answer.
package agents

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/knowd-ai/knowd/pkg/llm"
	"github.com/knowd-ai/knowd/pkg/people"
	"github.com/knowd-ai/knowd/pkg/rag"
)

// Result is one orchestrated turn.
type Result struct {
	Answer     string         `json:"answer"`
	Confidence float64        `json:"confidence"`
	QueryType  string         `json:"query_type"`
	Reasoning  []string       `json:"reasoning"`
	Documents  []rag.Source   `json:"documents"`
	Employees  []people.Match `json:"employees"`
	External   []WebSource    `json:"external"`
}

// DocumentRetriever is the slice of pkg/rag the orchestrator needs.
type DocumentRetriever interface {
	Retrieve(ctx context.Context, orgID int64, query string, topK int) ([]rag.Source, error)
}

// EmployeeSearcher is the slice of pkg/people the orchestrator needs.
type EmployeeSearcher interface {
	Search(ctx context.Context, orgID int64, query string, topK int) ([]people.Match, error)
}

type Orchestrator struct {
	planner     *Planner
	retriever   DocumentRetriever
	employees   EmployeeSearcher
	research    *ResearchAgent
	synthesizer *Synthesizer
	logger      *slog.Logger
	turnTimeout time.Duration
}

func NewOrchestrator(
	client llm.Client,
	retriever DocumentRetriever,
	employees EmployeeSearcher,
	research *ResearchAgent,
	logger *slog.Logger,
	turnTimeout time.Duration,
) *Orchestrator {
	return &Orchestrator{
		planner:     NewPlanner(client, logger),
		retriever:   retriever,
		employees:   employees,
		research:    research,
		synthesizer: NewSynthesizer(client),
		logger:      logger,
		turnTimeout: turnTimeout,
	}
}

// Respond runs one turn under the turn deadline. Specialist agents run
// concurrently; an agent failing or timing out drops its findings but never
// fails the turn. Synthesis works with whatever completed.
func (o *Orchestrator) Respond(ctx context.Context, orgID int64, query string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, o.turnTimeout)
	defer cancel()

	plan := o.planner.Plan(ctx, query)
	findings := &Findings{Query: query}

	var mu sync.Mutex
	var reasoning []string
	step := func(format string, args ...any) {
		mu.Lock()
		reasoning = append(reasoning, fmt.Sprintf(format, args...))
		mu.Unlock()
	}
	step("Planned query as %q (employees=%v, external=%v)",
		plan.QueryType, plan.NeedsEmployeeSearch, plan.NeedsExternalSearch)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		documents, err := o.retriever.Retrieve(ctx, orgID, query, 0)
		if err != nil {
			o.logger.Warn("document search failed", "error", err, "org_id", orgID)
			step("Document search failed: %v", err)
			return
		}
		mu.Lock()
		findings.Documents = documents
		mu.Unlock()
		step("Searched internal documents: %d relevant chunks", len(documents))
	}()

	if plan.NeedsEmployeeSearch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			matches, err := o.employees.Search(ctx, orgID, query, 5)
			if err != nil {
				o.logger.Warn("employee search failed", "error", err, "org_id", orgID)
				step("Employee search failed: %v", err)
				return
			}
			mu.Lock()
			findings.Employees = matches
			mu.Unlock()
			step("Searched employee profiles: %d matches", len(matches))
		}()
	}

	if plan.NeedsExternalSearch && !o.research.Enabled() {
		step("External research skipped: no credentials configured")
	}
	if plan.NeedsExternalSearch && o.research.Enabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			answer, sources, err := o.research.Search(ctx, query)
			if err != nil {
				o.logger.Warn("external research failed", "error", err)
				step("External research failed: %v", err)
				return
			}
			mu.Lock()
			findings.WebAnswer = answer
			findings.External = sources
			mu.Unlock()
			step("Researched externally: %d sources", len(sources))
		}()
	}
	wg.Wait()

	answer, err := o.synthesizer.Synthesize(ctx, findings)
	if err != nil {
		return nil, err
	}
	step("Synthesized answer from %d documents, %d employees, %d external sources",
		len(findings.Documents), len(findings.Employees), len(findings.External))

	cited := CitedSources(answer, findings)
	return &Result{
		Answer:     answer,
		Confidence: findings.Confidence(),
		QueryType:  plan.QueryType,
		Reasoning:  reasoning,
		Documents:  cited.Documents,
		Employees:  cited.Employees,
		External:   cited.External,
	}, nil
}
