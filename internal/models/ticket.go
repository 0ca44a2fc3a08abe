package models

import "strings"

type TicketPriority string

const (
	TicketPriorityHighest TicketPriority = "Highest"
	TicketPriorityHigh    TicketPriority = "High"
	TicketPriorityMedium  TicketPriority = "Medium"
	TicketPriorityLow     TicketPriority = "Low"
)

// TicketStatusMock is stamped on every ticket; no tracker is ever contacted.
const TicketStatusMock = "CREATED (mock)"

// DefaultTicketLabels are used when the analyzer omits labels.
var DefaultTicketLabels = []string{"incident", "auto-detected"}

// NormalizeTicketPriority validates a priority against the closed set,
// falling back to High.
func NormalizeTicketPriority(raw string) TicketPriority {
	switch TicketPriority(strings.TrimSpace(raw)) {
	case TicketPriorityHighest:
		return TicketPriorityHighest
	case TicketPriorityHigh:
		return TicketPriorityHigh
	case TicketPriorityMedium:
		return TicketPriorityMedium
	case TicketPriorityLow:
		return TicketPriorityLow
	default:
		return TicketPriorityHigh
	}
}

// Ticket is a simulated issue-tracker payload for a CRITICAL or HIGH issue.
type Ticket struct {
	Summary          string         `json:"summary"`
	Description      string         `json:"description"`
	Priority         TicketPriority `json:"priority"`
	Labels           []string       `json:"labels"`
	StepsToReproduce string         `json:"steps_to_reproduce"`
	Status           string         `json:"status"`
}
