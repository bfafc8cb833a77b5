package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/knowd-ai/knowd/pkg/llm"
	"github.com/knowd-ai/knowd/pkg/people"
	"github.com/knowd-ai/knowd/pkg/rag"
)

// Findings is everything the specialist agents gathered for one turn.
type Findings struct {
	Query     string
	Documents []rag.Source
	Employees []people.Match
	External  []WebSource
	WebAnswer string
}

// Empty reports whether nothing at all was found.
func (f *Findings) Empty() bool {
	return len(f.Documents) == 0 && len(f.Employees) == 0 && len(f.External) == 0
}

// Confidence scores how well grounded a synthesized answer can be:
// the average of the top document scores carries half the weight, employee
// and external corroboration add fixed boosts.
func (f *Findings) Confidence() float64 {
	var docScore float64
	n := min(len(f.Documents), 3)
	for i := 0; i < n; i++ {
		docScore += f.Documents[i].Score
	}
	if n > 0 {
		docScore /= float64(n)
	}

	confidence := docScore * 0.5
	if len(f.Employees) > 0 {
		confidence += 0.3
	}
	if len(f.External) > 0 {
		confidence += 0.2
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}

const synthesisSystemPrompt = `You are an organizational knowledge assistant.
Synthesize one answer from the internal document excerpts, the employee directory matches
and the external research provided. Prefer internal sources; attribute claims to their
source by filename, person name or URL. Do not invent sources.`

// Synthesizer produces the final answer from the findings.
type Synthesizer struct {
	client llm.Client
}

func NewSynthesizer(client llm.Client) *Synthesizer {
	return &Synthesizer{client: client}
}

func (s *Synthesizer) Synthesize(ctx context.Context, findings *Findings) (string, error) {
	if findings.Empty() {
		return rag.NoEvidenceAnswer, nil
	}

	var sb strings.Builder
	if len(findings.Documents) > 0 {
		sb.WriteString("Internal documents:\n")
		for i, doc := range findings.Documents {
			fmt.Fprintf(&sb, "[%d] %s (score %.2f)\n%s\n\n", i+1, doc.Filename, doc.Score, doc.Excerpt)
		}
	}
	if len(findings.Employees) > 0 {
		sb.WriteString("Employee matches:\n")
		for _, match := range findings.Employees {
			fmt.Fprintf(&sb, "- %s, %s. Specialties: %s. Skills: %s\n",
				match.Name, match.Title, match.Specialties, match.Skills)
		}
		sb.WriteString("\n")
	}
	if len(findings.External) > 0 {
		sb.WriteString("External research:\n")
		if findings.WebAnswer != "" {
			sb.WriteString(findings.WebAnswer + "\n")
		}
		for _, source := range findings.External {
			fmt.Fprintf(&sb, "- %s (relevance %.1f)\n", source.URL, source.Relevance)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Question: %s", findings.Query)

	response, err := s.client.Complete(ctx, llm.Request{
		System:      synthesisSystemPrompt,
		User:        sb.String(),
		Temperature: 0.3,
		MaxTokens:   1200,
	})
	if err != nil {
		return "", err
	}
	return response.Content, nil
}

// CitedSources keeps only the findings the answer actually references, by
// filename, person name or URL.
func CitedSources(answer string, findings *Findings) *Findings {
	cited := &Findings{Query: findings.Query, WebAnswer: findings.WebAnswer}
	for _, doc := range findings.Documents {
		if doc.Filename != "" && strings.Contains(answer, doc.Filename) {
			cited.Documents = append(cited.Documents, doc)
		}
	}
	for _, match := range findings.Employees {
		if match.Name != "" && strings.Contains(answer, match.Name) {
			cited.Employees = append(cited.Employees, match)
		}
	}
	for _, source := range findings.External {
		if source.URL != "" && strings.Contains(answer, source.URL) {
			cited.External = append(cited.External, source)
		}
	}

	// An answer that cites nothing explicitly still rests on everything
	// retrieved; keep the full set rather than claiming zero sources.
	if len(cited.Documents) == 0 && len(cited.Employees) == 0 && len(cited.External) == 0 {
		return findings
	}
	return cited
}
