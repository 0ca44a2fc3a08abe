package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/incidentsuite/backend/internal/models"
)

// TicketBuilder drafts mock tracker tickets for CRITICAL and HIGH issues.
type TicketBuilder struct {
	analyzer Analyzer
}

func NewTicketBuilder(analyzer Analyzer) *TicketBuilder {
	return &TicketBuilder{analyzer: analyzer}
}

type draftTicket struct {
	Summary          string   `json:"summary"`
	Description      string   `json:"description"`
	Priority         string   `json:"priority"`
	Labels           []string `json:"labels"`
	StepsToReproduce string   `json:"steps_to_reproduce"`
}

// Build skips the analyzer when no issue qualifies. Every ticket is stamped
// with the mock status; nothing is filed anywhere.
func (b *TicketBuilder) Build(ctx context.Context, issues []models.Issue) ([]models.Ticket, error) {
	ticketable := make([]models.Issue, 0, len(issues))
	for _, issue := range issues {
		if issue.Severity.Ticketable() {
			ticketable = append(ticketable, issue)
		}
	}
	if len(ticketable) == 0 {
		return []models.Ticket{}, nil
	}

	response, err := b.analyzer.Analyze(ctx, AnalyzerRequest{
		Task:    CallTickets,
		System:  TICKET_PROMPT,
		Payload: ticketable,
	})
	if err != nil {
		return []models.Ticket{}, fmt.Errorf("tickets: analyzer call failed: %w", err)
	}

	text := StripCodeFence(response)
	var parsed []draftTicket
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return []models.Ticket{}, malformedOutput("tickets: analyzer returned invalid JSON: %s", truncate(text, 200))
	}

	tickets := make([]models.Ticket, 0, len(parsed))
	for _, item := range parsed {
		labels := item.Labels
		if labels == nil {
			labels = append([]string(nil), models.DefaultTicketLabels...)
		}
		tickets = append(tickets, models.Ticket{
			Summary:          item.Summary,
			Description:      item.Description,
			Priority:         models.NormalizeTicketPriority(item.Priority),
			Labels:           labels,
			StepsToReproduce: item.StepsToReproduce,
			Status:           models.TicketStatusMock,
		})
	}
	return tickets, nil
}
