package models

import (
	"sort"
	"strings"
)

type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// NormalizeSeverity folds an analyzer-supplied severity onto the four
// canonical values. Anything unrecognized becomes MEDIUM.
func NormalizeSeverity(raw string) Severity {
	switch Severity(strings.ToUpper(strings.TrimSpace(raw))) {
	case SeverityCritical:
		return SeverityCritical
	case SeverityHigh:
		return SeverityHigh
	case SeverityLow:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// Rank orders severities, CRITICAL highest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Ticketable reports whether issues of this severity get a ticket.
func (s Severity) Ticketable() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// Issue is a remediation finding derived from one pipeline run.
type Issue struct {
	Description       string   `json:"issue"`
	Severity          Severity `json:"severity"`
	RecommendedFix    string   `json:"recommended_fix"`
	Rationale         string   `json:"rationale"`
	SourceLineNumbers []int    `json:"source_entries"`
}

// SortBySeverity returns a copy of issues ordered CRITICAL > HIGH > MEDIUM > LOW.
// Issues of equal severity keep their relative order.
func SortBySeverity(issues []Issue) []Issue {
	sorted := make([]Issue, len(issues))
	copy(sorted, issues)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Severity.Rank() > sorted[j].Severity.Rank()
	})
	return sorted
}

// SeverityCounts tallies issues per severity.
func SeverityCounts(issues []Issue) map[Severity]int {
	counts := map[Severity]int{
		SeverityCritical: 0,
		SeverityHigh:     0,
		SeverityMedium:   0,
		SeverityLow:      0,
	}
	for _, issue := range issues {
		counts[issue.Severity]++
	}
	return counts
}
