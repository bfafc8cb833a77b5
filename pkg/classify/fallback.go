package classify

import (
	"regexp"
	"strings"
	"time"

	"github.com/knowd-ai/knowd/pkg/store"
)

// keywordTypes maps filename and content keywords to document types, checked
// in order. First match wins.
var keywordTypes = []struct {
	keywords []string
	docType  string
}{
	{[]string{"meeting", "minutes", "standup", "sync"}, "meeting_notes"},
	{[]string{"design doc", "design_doc", "rfc", "architecture"}, "design_doc"},
	{[]string{"spec", "requirements", "prd"}, "product_spec"},
	{[]string{"invoice", "receipt"}, "invoice"},
	{[]string{"contract", "agreement", "nda"}, "contract"},
	{[]string{"policy", "handbook", "guidelines"}, "policy"},
	{[]string{"runbook", "playbook", "on-call", "oncall"}, "runbook"},
	{[]string{"postmortem", "post-mortem", "incident"}, "postmortem"},
	{[]string{"roadmap"}, "roadmap"},
	{[]string{"okr", "objectives"}, "okr"},
	{[]string{"onboarding"}, "onboarding_guide"},
	{[]string{"faq"}, "faq"},
	{[]string{"survey"}, "survey_results"},
	{[]string{"budget", "forecast"}, "budget"},
	{[]string{"press release"}, "press_release"},
	{[]string{"report", "summary", "review"}, "report"},
}

var quarterPattern = regexp.MustCompile(`(?i)\b(20\d{2})[ -]?Q([1-4])\b|\bQ([1-4])[ -]?(20\d{2})\b`)

// Fallback classifies by filename and content keywords when the model is
// unavailable or keeps returning garbage. Confidence scores are deliberately
// low so downstream consumers can tell these labels apart from real ones.
func Fallback(doc *store.Document, text string) *store.Classification {
	haystack := strings.ToLower(doc.Filename + " " + head(text, 2000))

	docType := DefaultDocType
	docTypeConfidence := 0.1
	for _, entry := range keywordTypes {
		for _, keyword := range entry.keywords {
			if strings.Contains(haystack, keyword) {
				docType = entry.docType
				docTypeConfidence = 0.3
				break
			}
		}
		if docType != DefaultDocType {
			break
		}
	}

	timePeriod := DefaultTimePeriod
	timeConfidence := 0.1
	if m := quarterPattern.FindStringSubmatch(doc.Filename + " " + head(text, 500)); m != nil {
		year, quarter := m[1], m[2]
		if year == "" {
			year, quarter = m[4], m[3]
		}
		timePeriod = year + "-Q" + quarter
		timeConfidence = 0.3
	}

	return &store.Classification{
		DocumentID:      doc.ID,
		OrgID:           doc.OrgID,
		Team:            DefaultTeam,
		Project:         DefaultProject,
		DocType:         docType,
		TimePeriod:      timePeriod,
		Confidentiality: DefaultConfidentiality,
		People:          []string{},
		Tags:            []string{},
		Summary:         "",
		Confidence: map[string]float64{
			"team":            0.1,
			"project":         0.1,
			"doc_type":        docTypeConfidence,
			"time_period":     timeConfidence,
			"confidentiality": 0.2,
		},
		ClassifiedAt: time.Now().UTC(),
	}
}

func head(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit]
}
