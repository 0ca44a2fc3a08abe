package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/incidentsuite/backend/internal/models"
)

const (
	maxNotifiedIssues = 5

	NoIssuesSummary = "No actionable issues detected."
)

// Notifier writes the chat alert for a run and hands it to a Deliverer.
type Notifier struct {
	analyzer  Analyzer
	deliverer Deliverer
	channel   string
}

func NewNotifier(analyzer Analyzer, deliverer Deliverer, channel string) *Notifier {
	if channel == "" {
		channel = models.DefaultChannel
	}
	if deliverer == nil {
		deliverer = NewSlackWebhook("")
	}
	return &Notifier{analyzer: analyzer, deliverer: deliverer, channel: channel}
}

// Notify always returns a notification. An analyzer failure yields a dry-run
// notification with a locally built summary alongside the error.
func (n *Notifier) Notify(ctx context.Context, issues []models.Issue) (*models.Notification, error) {
	if len(issues) == 0 {
		return &models.Notification{
			Channel: n.channel,
			Summary: NoIssuesSummary,
			Payload: map[string]any{},
			Sent:    false,
			Mode:    models.DeliveryDryRun,
		}, nil
	}

	top := models.SortBySeverity(issues)
	if len(top) > maxNotifiedIssues {
		top = top[:maxNotifiedIssues]
	}

	response, err := n.analyzer.Analyze(ctx, AnalyzerRequest{
		Task:   CallNotification,
		System: NOTIFICATION_PROMPT,
		Payload: map[string]any{
			"total_issues": len(issues),
			"issues":       top,
		},
	})
	if err != nil {
		summary := FallbackNotificationSummary(top, len(issues))
		return &models.Notification{
			Channel: n.channel,
			Summary: summary,
			Payload: SlackPayload(n.channel, summary),
			Sent:    false,
			Mode:    models.DeliveryDryRun,
		}, fmt.Errorf("notification: analyzer call failed: %w", err)
	}

	summary := StripCodeFence(response)
	payload := SlackPayload(n.channel, summary)
	sent, mode := n.deliverer.Deliver(ctx, payload, n.channel)

	return &models.Notification{
		Channel: n.channel,
		Summary: summary,
		Payload: payload,
		Sent:    sent,
		Mode:    mode,
	}, nil
}

// SlackPayload wraps text in a single mrkdwn section block.
func SlackPayload(channel, text string) map[string]any {
	return map[string]any{
		"channel": channel,
		"text":    text,
		"blocks": []any{
			map[string]any{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
		},
	}
}

// FallbackNotificationSummary lists issues without the analyzer. top must
// already be severity ordered.
func FallbackNotificationSummary(top []models.Issue, total int) string {
	var sb strings.Builder
	highest := models.SeverityLow
	if len(top) > 0 {
		highest = top[0].Severity
	}
	fmt.Fprintf(&sb, "*Incident alert: %d issue(s) detected, highest severity %s*\n", total, highest)
	for _, issue := range top {
		fmt.Fprintf(&sb, "\n- *[%s]* %s\n", issue.Severity, issue.Description)
		if issue.RecommendedFix != "" {
			fmt.Fprintf(&sb, "  Action: %s\n", issue.RecommendedFix)
		}
	}
	if total > len(top) {
		fmt.Fprintf(&sb, "\n_%d more issue(s) in the full runbook._", total-len(top))
	}
	return strings.TrimRight(sb.String(), "\n")
}
