package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/incidentsuite/backend/internal/models"
)

// AllClearRunbook is returned when a run found no issues.
const AllClearRunbook = "# Incident Remediation Runbook\n\nNo actionable issues detected. All systems appear healthy."

var (
	checklistLine = regexp.MustCompile(`^- \[[ xX]\] `)
	indentedLine  = regexp.MustCompile(`^[ \t]+\S`)
)

// RunbookBuilder turns issues into a markdown remediation checklist.
type RunbookBuilder struct {
	analyzer Analyzer
}

func NewRunbookBuilder(analyzer Analyzer) *RunbookBuilder {
	return &RunbookBuilder{analyzer: analyzer}
}

// Build returns the all-clear document for an empty issue list without an
// analyzer call. On analyzer failure the runbook is empty.
func (b *RunbookBuilder) Build(ctx context.Context, issues []models.Issue) (string, error) {
	if len(issues) == 0 {
		return AllClearRunbook, nil
	}

	response, err := b.analyzer.Analyze(ctx, AnalyzerRequest{
		Task:    CallRunbook,
		System:  RUNBOOK_PROMPT,
		Payload: models.SortBySeverity(issues),
	})
	if err != nil {
		return "", fmt.Errorf("runbook: analyzer call failed: %w", err)
	}
	return NormalizeRunbookSpacing(StripCodeFence(response)), nil
}

// NormalizeRunbookSpacing enforces the checklist layout: exactly one blank
// line between consecutive issue blocks, none inside a block, and runs of
// blank lines elsewhere collapsed to one. An issue block is a checklist line
// followed by its indented sub-items.
func NormalizeRunbookSpacing(md string) string {
	lines := strings.Split(strings.ReplaceAll(md, "\r\n", "\n"), "\n")

	out := make([]string, 0, len(lines))
	inBlock := false
	pendingBlank := false
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			pendingBlank = true
			continue
		}

		switch {
		case checklistLine.MatchString(line):
			// a new block always starts after exactly one blank line,
			// unless it directly follows a heading or starts the document
			if inBlock || (pendingBlank && len(out) > 0) {
				out = append(out, "")
			}
			inBlock = true
		case inBlock && indentedLine.MatchString(line):
			// stays inside the block, drop any blank lines before it
		default:
			if pendingBlank && len(out) > 0 {
				out = append(out, "")
			}
			inBlock = false
		}
		pendingBlank = false
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
