package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/incidentsuite/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyIssuesNeedNoAnalyzer(t *testing.T) {
	fake := newFakeAnalyzer()
	deliverer := &recordingDeliverer{}
	ctx := context.Background()

	runbook, err := NewRunbookBuilder(fake).Build(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, AllClearRunbook, runbook)

	tickets, err := NewTicketBuilder(fake).Build(ctx, []models.Issue{})
	require.NoError(t, err)
	assert.Empty(t, tickets)
	assert.NotNil(t, tickets)

	notification, err := NewNotifier(fake, deliverer, "").Notify(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, NoIssuesSummary, notification.Summary)
	assert.Equal(t, models.DeliveryDryRun, notification.Mode)
	assert.Equal(t, models.DefaultChannel, notification.Channel)
	assert.False(t, notification.Sent)

	assert.Zero(t, fake.total())
	assert.Empty(t, deliverer.payloads)
}

func TestRunbookSortsIssuesAndNormalizesSpacing(t *testing.T) {
	fake := newFakeAnalyzer().respond(CallRunbook, "```markdown\n# Incident Remediation Runbook\n\n## Priority: CRITICAL\n- [ ] **Pool**\n\n  - **Action:** raise\n- [ ] **Auth**\n  - **Action:** check\n```")

	runbook, err := NewRunbookBuilder(fake).Build(context.Background(), sampleIssues())
	require.NoError(t, err)
	assert.Equal(t, "# Incident Remediation Runbook\n\n## Priority: CRITICAL\n- [ ] **Pool**\n  - **Action:** raise\n\n- [ ] **Auth**\n  - **Action:** check", runbook)

	sent := fake.requests[0].Payload.([]models.Issue)
	assert.Equal(t, models.SeverityCritical, sent[0].Severity)
	assert.Equal(t, models.SeverityHigh, sent[1].Severity)
	assert.Equal(t, models.SeverityMedium, sent[2].Severity)
	assert.Equal(t, models.SeverityLow, sent[3].Severity)
}

func TestRunbookAnalyzerErrorIsNotAllClear(t *testing.T) {
	fake := newFakeAnalyzer().fail(CallRunbook, errors.New("rate limited"))
	runbook, err := NewRunbookBuilder(fake).Build(context.Background(), sampleIssues())
	require.Error(t, err)
	assert.Empty(t, runbook)
}

func TestNormalizeRunbookSpacing(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "blank inside block removed",
			in:   "- [ ] **A**\n\n  - **Action:** x\n\n  - **Expected outcome:** y",
			want: "- [ ] **A**\n  - **Action:** x\n  - **Expected outcome:** y",
		},
		{
			name: "blank inserted between blocks",
			in:   "- [ ] **A**\n  - **Action:** x\n- [x] **B**\n  - **Action:** y",
			want: "- [ ] **A**\n  - **Action:** x\n\n- [x] **B**\n  - **Action:** y",
		},
		{
			name: "blank runs collapsed",
			in:   "# Title\n\n\n\n## Priority: HIGH\n- [ ] **A**\n  - **Action:** x\n\n\n\n## Summary\n- Total issues: 1",
			want: "# Title\n\n## Priority: HIGH\n- [ ] **A**\n  - **Action:** x\n\n## Summary\n- Total issues: 1",
		},
		{
			name: "indented checkboxes stay inside their block",
			in:   "- [ ] **DB pool exhausted**\n  - [ ] Increase pool size\n  - [ ] Restart service\n- [ ] **Disk full**\n  - [ ] Rotate logs",
			want: "- [ ] **DB pool exhausted**\n  - [ ] Increase pool size\n  - [ ] Restart service\n\n- [ ] **Disk full**\n  - [ ] Rotate logs",
		},
		{
			name: "numbered steps and continuation text are sub-items",
			in:   "- [ ] **A**\n\n  1. step one\n\n  2. step two\n\n     run `kubectl rollout restart`\n\n- [ ] **B**",
			want: "- [ ] **A**\n  1. step one\n  2. step two\n     run `kubectl rollout restart`\n\n- [ ] **B**",
		},
		{
			name: "leading and trailing blanks dropped",
			in:   "\n\n- [ ] **A**\n  - **Action:** x\n\n",
			want: "- [ ] **A**\n  - **Action:** x",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeRunbookSpacing(tt.in))
		})
	}
}

func TestTicketsOnlyForCriticalAndHigh(t *testing.T) {
	fake := newFakeAnalyzer()
	low := []models.Issue{
		{Description: "a", Severity: models.SeverityLow},
		{Description: "b", Severity: models.SeverityMedium},
	}
	tickets, err := NewTicketBuilder(fake).Build(context.Background(), low)
	require.NoError(t, err)
	assert.Empty(t, tickets)
	assert.Zero(t, fake.total())

	fake.respond(CallTickets, `[
		{"summary": "Pool exhausted", "description": "d1", "priority": "Highest", "labels": ["incident", "db"], "steps_to_reproduce": "s1"},
		{"summary": "Auth timeouts", "description": "d2", "priority": "P1"}
	]`)
	tickets, err = NewTicketBuilder(fake).Build(context.Background(), sampleIssues())
	require.NoError(t, err)
	require.Len(t, tickets, 2)

	sent := fake.requests[0].Payload.([]models.Issue)
	assert.Len(t, sent, 2)

	assert.Equal(t, models.TicketPriorityHighest, tickets[0].Priority)
	assert.Equal(t, []string{"incident", "db"}, tickets[0].Labels)
	assert.Equal(t, models.TicketPriorityHigh, tickets[1].Priority)
	assert.Equal(t, models.DefaultTicketLabels, tickets[1].Labels)
	for _, ticket := range tickets {
		assert.Equal(t, models.TicketStatusMock, ticket.Status)
	}
}

func TestTicketsMalformedOutput(t *testing.T) {
	fake := newFakeAnalyzer().respond(CallTickets, `{"summary": "not an array"}`)
	tickets, err := NewTicketBuilder(fake).Build(context.Background(), sampleIssues())
	assert.ErrorIs(t, err, ErrMalformedAnalyzerOutput)
	assert.Empty(t, tickets)
}

func TestNotifierDeliversTopIssues(t *testing.T) {
	fake := newFakeAnalyzer().respond(CallNotification, ":rotating_light: *CRITICAL* pool exhausted")
	deliverer := &recordingDeliverer{sent: true, mode: models.DeliveryLive}

	var issues []models.Issue
	for i := 0; i < 4; i++ {
		issues = append(issues, sampleIssues()...)
	}

	notification, err := NewNotifier(fake, deliverer, "#ops").Notify(context.Background(), issues)
	require.NoError(t, err)
	assert.True(t, notification.Sent)
	assert.Equal(t, models.DeliveryLive, notification.Mode)
	assert.Equal(t, "#ops", notification.Channel)

	payload := notification.Payload
	assert.Equal(t, "#ops", payload["channel"])
	assert.Equal(t, notification.Summary, payload["text"])
	blocks := payload["blocks"].([]any)
	require.Len(t, blocks, 1)
	block := blocks[0].(map[string]any)
	assert.Equal(t, "section", block["type"])
	assert.Equal(t, "mrkdwn", block["text"].(map[string]any)["type"])

	sent := fake.requests[0].Payload.(map[string]any)
	top := sent["issues"].([]models.Issue)
	require.Len(t, top, maxNotifiedIssues)
	for _, issue := range top[:4] {
		assert.Equal(t, models.SeverityCritical, issue.Severity)
	}
	assert.Equal(t, 16, sent["total_issues"])
	require.Len(t, deliverer.payloads, 1)
}

func TestNotifierAnalyzerFailureFallsBackToDryRun(t *testing.T) {
	fake := newFakeAnalyzer().fail(CallNotification, errors.New("unreachable"))
	deliverer := &recordingDeliverer{sent: true, mode: models.DeliveryLive}

	notification, err := NewNotifier(fake, deliverer, "#ops").Notify(context.Background(), sampleIssues())
	require.Error(t, err)
	require.NotNil(t, notification)
	assert.Equal(t, models.DeliveryDryRun, notification.Mode)
	assert.False(t, notification.Sent)
	assert.Empty(t, deliverer.payloads)

	lines := strings.Split(notification.Summary, "\n")
	assert.Contains(t, lines[0], "4 issue(s)")
	assert.Contains(t, lines[0], "CRITICAL")
	assert.Contains(t, notification.Summary, "*[CRITICAL]* Database connection pool exhausted")
}

func TestNotifierDeliveryFailureIsNotAnError(t *testing.T) {
	fake := newFakeAnalyzer().respond(CallNotification, "alert")
	deliverer := &recordingDeliverer{sent: false, mode: models.DeliveryDryRunFailed}

	notification, err := NewNotifier(fake, deliverer, "#ops").Notify(context.Background(), sampleIssues())
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryDryRunFailed, notification.Mode)
	assert.False(t, notification.Sent)
}
