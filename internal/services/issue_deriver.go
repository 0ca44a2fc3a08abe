package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/incidentsuite/backend/internal/models"
)

// IssueDeriver groups actionable log records into remediable issues.
type IssueDeriver struct {
	analyzer Analyzer
}

func NewIssueDeriver(analyzer Analyzer) *IssueDeriver {
	return &IssueDeriver{analyzer: analyzer}
}

type derivedIssue struct {
	Issue          string `json:"issue"`
	Severity       string `json:"severity"`
	RecommendedFix string `json:"recommended_fix"`
	Rationale      string `json:"rationale"`
	SourceEntries  []int  `json:"source_entries"`
}

// Derive sends only CRITICAL/ERROR/WARN/WARNING records to the analyzer. With
// none present it returns an empty list without a call.
func (d *IssueDeriver) Derive(ctx context.Context, records []models.LogRecord) ([]models.Issue, error) {
	actionable := models.FilterActionable(records)
	if len(actionable) == 0 {
		return []models.Issue{}, nil
	}

	response, err := d.analyzer.Analyze(ctx, AnalyzerRequest{
		Task:    CallIssueDerivation,
		System:  ISSUE_DERIVATION_PROMPT,
		Payload: actionable,
	})
	if err != nil {
		return []models.Issue{}, fmt.Errorf("issue derivation: analyzer call failed: %w", err)
	}

	text := StripCodeFence(response)
	var parsed []derivedIssue
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return []models.Issue{}, malformedOutput("issue derivation: analyzer returned invalid JSON: %s", truncate(text, 200))
	}

	issues := make([]models.Issue, 0, len(parsed))
	for _, item := range parsed {
		lines := item.SourceEntries
		if lines == nil {
			lines = []int{}
		}
		issues = append(issues, models.Issue{
			Description:       item.Issue,
			Severity:          models.NormalizeSeverity(item.Severity),
			RecommendedFix:    item.RecommendedFix,
			Rationale:         item.Rationale,
			SourceLineNumbers: lines,
		})
	}
	return issues, nil
}
