// Package classify labels documents along the facets the smart folders are
// built from: team, project, document type, time period, confidentiality,
// people and tags. Labels come from the LLM; a keyword fallback keeps the
// pipeline moving when the model misbehaves.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/knowd-ai/knowd/pkg/apperr"
	"github.com/knowd-ai/knowd/pkg/llm"
	"github.com/knowd-ai/knowd/pkg/store"
)

// DocTypes is the closed taxonomy. The model must pick one; anything else is
// coerced to "other".
var DocTypes = []string{
	"meeting_notes", "design_doc", "product_spec", "report", "presentation",
	"invoice", "contract", "policy", "runbook", "postmortem", "roadmap",
	"okr", "research", "onboarding_guide", "faq", "email_thread",
	"survey_results", "budget", "legal_memo", "press_release", "other",
}

// Confidentialities accepted from the model.
var Confidentialities = []string{"public", "internal", "confidential", "restricted"}

const (
	DefaultTeam            = "General"
	DefaultProject         = "none"
	DefaultDocType         = "other"
	DefaultTimePeriod      = "ongoing"
	DefaultConfidentiality = "internal"

	maxTags        = 5
	maxPeople      = 10
	maxPromptChars = 6000

	orgContextTTL = 5 * time.Minute
)

// ContextSource supplies the tenant's known facet values for the prompt.
type ContextSource interface {
	OrgContext(ctx context.Context, orgID int64) (*store.OrgContext, error)
}

type Classifier struct {
	client llm.Client
	source ContextSource
	logger *slog.Logger

	mu    sync.Mutex
	cache map[int64]cachedContext
}

type cachedContext struct {
	value   *store.OrgContext
	expires time.Time
}

func New(client llm.Client, source ContextSource, logger *slog.Logger) *Classifier {
	return &Classifier{
		client: client,
		source: source,
		logger: logger,
		cache:  make(map[int64]cachedContext),
	}
}

// InvalidateOrgContext drops the cached facet values for a tenant. Called
// after every classification write so new teams and projects show up in the
// next prompt.
func (c *Classifier) InvalidateOrgContext(orgID int64) {
	c.mu.Lock()
	delete(c.cache, orgID)
	c.mu.Unlock()
}

func (c *Classifier) orgContext(ctx context.Context, orgID int64) (*store.OrgContext, error) {
	c.mu.Lock()
	cached, ok := c.cache[orgID]
	c.mu.Unlock()
	if ok && time.Now().Before(cached.expires) {
		return cached.value, nil
	}

	value, err := c.source.OrgContext(ctx, orgID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.cache[orgID] = cachedContext{value: value, expires: time.Now().Add(orgContextTTL)}
	c.mu.Unlock()
	return value, nil
}

// Classify labels one document. The model gets one retry on malformed
// output; after that the keyword fallback applies so ingestion never blocks
// on classification.
func (c *Classifier) Classify(ctx context.Context, doc *store.Document, text string) (*store.Classification, error) {
	orgCtx, err := c.orgContext(ctx, doc.OrgID)
	if err != nil {
		c.logger.Warn("org context unavailable, classifying without it", "error", err, "document_id", doc.ID)
		orgCtx = &store.OrgContext{}
	}

	request := c.buildRequest(doc, text, orgCtx)
	for attempt := 0; attempt < 2; attempt++ {
		response, err := c.client.Complete(ctx, request)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("classification call failed", "error", err, "document_id", doc.ID, "attempt", attempt)
			continue
		}
		result, err := c.parseResult(doc, response.Content)
		if err != nil {
			c.logger.Warn("classification output rejected", "error", err, "document_id", doc.ID, "attempt", attempt)
			continue
		}
		return result, nil
	}

	c.logger.Info("falling back to keyword classification", "document_id", doc.ID)
	return Fallback(doc, text), nil
}

func (c *Classifier) buildRequest(doc *store.Document, text string, orgCtx *store.OrgContext) llm.Request {
	content := text
	if len(content) > maxPromptChars {
		content = content[:maxPromptChars]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Filename: %s\n", doc.Filename)
	if len(orgCtx.Teams) > 0 {
		fmt.Fprintf(&sb, "Known teams in this organization: %s\n", strings.Join(orgCtx.Teams, ", "))
	}
	if len(orgCtx.Projects) > 0 {
		fmt.Fprintf(&sb, "Known projects: %s\n", strings.Join(orgCtx.Projects, ", "))
	}
	fmt.Fprintf(&sb, "\nDocument content:\n%s", content)

	return llm.Request{
		System:      systemPrompt,
		User:        sb.String(),
		Temperature: 0.3,
		MaxTokens:   800,
		JSONSchema: &llm.JSONSchema{
			Name:        "document_classification",
			Description: "Multi-dimensional labels for an organizational document",
			Schema:      resultSchema,
		},
	}
}

var systemPrompt = fmt.Sprintf(`You classify internal company documents.

Return JSON with these fields:
- team: the owning team, or %q if unclear. Prefer a known team when one fits.
- project: the related project, or %q if none applies.
- doc_type: one of: %s
- time_period: a quarter like "2026-Q1", a month like "2026-03", a year, or %q.
- confidentiality: one of: %s. Default to %q when unsure.
- people: full names mentioned as participants or owners, at most %d.
- tags: short lowercase topic tags, at most %d.
- summary: two sentences at most.
- confidence: a number between 0 and 1 for each of team, project, doc_type, time_period and confidentiality.

Be conservative: low confidence beats a wrong guess.`,
	DefaultTeam, DefaultProject, strings.Join(DocTypes, ", "), DefaultTimePeriod,
	strings.Join(Confidentialities, ", "), DefaultConfidentiality, maxPeople, maxTags)

var resultSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"team":            map[string]any{"type": "string"},
		"project":         map[string]any{"type": "string"},
		"doc_type":        map[string]any{"type": "string", "enum": DocTypes},
		"time_period":     map[string]any{"type": "string"},
		"confidentiality": map[string]any{"type": "string", "enum": Confidentialities},
		"people":          map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"tags":            map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"summary":         map[string]any{"type": "string"},
		"confidence": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"team":            map[string]any{"type": "number"},
				"project":         map[string]any{"type": "number"},
				"doc_type":        map[string]any{"type": "number"},
				"time_period":     map[string]any{"type": "number"},
				"confidentiality": map[string]any{"type": "number"},
			},
			"required":             []string{"team", "project", "doc_type", "time_period", "confidentiality"},
			"additionalProperties": false,
		},
	},
	"required": []string{"team", "project", "doc_type", "time_period", "confidentiality",
		"people", "tags", "summary", "confidence"},
	"additionalProperties": false,
}

type rawResult struct {
	Team            string             `json:"team"`
	Project         string             `json:"project"`
	DocType         string             `json:"doc_type"`
	TimePeriod      string             `json:"time_period"`
	Confidentiality string             `json:"confidentiality"`
	People          []string           `json:"people"`
	Tags            []string           `json:"tags"`
	Summary         string             `json:"summary"`
	Confidence      map[string]float64 `json:"confidence"`
}

func (c *Classifier) parseResult(doc *store.Document, content string) (*store.Classification, error) {
	var raw rawResult
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, apperr.Wrap(apperr.Classifier, err, "parse classification")
	}
	if err := validateConfidence(raw.Confidence); err != nil {
		return nil, err
	}

	result := &store.Classification{
		DocumentID:      doc.ID,
		OrgID:           doc.OrgID,
		Team:            orDefault(raw.Team, DefaultTeam),
		Project:         orDefault(raw.Project, DefaultProject),
		DocType:         raw.DocType,
		TimePeriod:      orDefault(raw.TimePeriod, DefaultTimePeriod),
		Confidentiality: raw.Confidentiality,
		People:          clampList(raw.People, maxPeople),
		Tags:            lowercase(clampList(raw.Tags, maxTags)),
		Summary:         strings.TrimSpace(raw.Summary),
		Confidence:      raw.Confidence,
		ClassifiedAt:    time.Now().UTC(),
	}
	if !contains(DocTypes, result.DocType) {
		result.DocType = DefaultDocType
	}
	if !contains(Confidentialities, result.Confidentiality) {
		result.Confidentiality = DefaultConfidentiality
	}
	return result, nil
}

// validateConfidence rejects the whole result when any score is missing or
// out of range; a model inventing its own scale is not trustworthy on the
// labels either.
func validateConfidence(confidence map[string]float64) error {
	for _, facet := range []string{"team", "project", "doc_type", "time_period", "confidentiality"} {
		score, ok := confidence[facet]
		if !ok {
			return apperr.New(apperr.Classifier, "confidence missing facet %q", facet)
		}
		if score < 0 || score > 1 {
			return apperr.New(apperr.Classifier, "confidence for %q out of range: %v", facet, score)
		}
	}
	return nil
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

func clampList(values []string, limit int) []string {
	out := make([]string, 0, limit)
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
		if len(out) == limit {
			break
		}
	}
	return out
}

func lowercase(values []string) []string {
	for i := range values {
		values[i] = strings.ToLower(values[i])
	}
	return values
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
