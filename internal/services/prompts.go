package services

// Analyzer instructions for each pipeline task

const (
	// ENTRY_FALLBACK_PROMPT asks for structured records when no built-in line format matched
	ENTRY_FALLBACK_PROMPT = `You are a log classification assistant in a DevOps incident pipeline.

Parse every non-empty line of the input into a structured record with the fields:
  line_number, timestamp, level, service, message

RULES:
- line_number is the 1-based position of the line in the input, counting blank lines
- Use uppercase levels: CRITICAL, ERROR, WARN, WARNING, INFO, DEBUG or UNKNOWN
- Use an empty string when no timestamp is present and "unknown" when no service is present
- Keep the original message text

Return ONLY a JSON array of objects with exactly those keys. No markdown fences, no commentary.`

	// ISSUE_DERIVATION_PROMPT groups actionable records into remediable issues
	ISSUE_DERIVATION_PROMPT = `You are a Site Reliability Engineer triaging classified log records.

The input holds only CRITICAL, ERROR and WARN/WARNING records. For every distinct problem:
1. Describe the issue
2. Assign a severity: CRITICAL, HIGH, MEDIUM or LOW
3. Recommend a concrete fix
4. Give a short rationale for the fix

SEVERITY GUIDE:
- CRITICAL: outage, data loss or a security breach (OOM kills, full disks, auth bypass)
- HIGH: degraded service or repeated failures (timeouts, repeated auth failures)
- MEDIUM: warnings likely to escalate (low disk space, deprecated APIs)
- LOW: minor findings (slow queries, cosmetic config warnings)

Merge records that share a root cause into one issue.

Return ONLY a JSON array of objects with the keys:
  issue, severity, recommended_fix, rationale, source_entries
where source_entries lists the line_number values of the related records.`

	// RUNBOOK_PROMPT produces the markdown remediation checklist
	RUNBOOK_PROMPT = `You are writing an incident remediation runbook for on-call engineers.

The issues are already ordered by severity. Produce a markdown checklist that:
1. Groups related issues under "## Priority: <SEVERITY>" headings, CRITICAL first
2. Uses one "- [ ] **Title** - short description" line per issue
3. Follows each issue line directly with indented sub-items:
   - **Action:** the fix, step by step
   - **Expected outcome:** what success looks like
   - **Related log lines:** the line numbers
4. Ends with a "## Summary" section with totals per severity

Start with "# Incident Remediation Runbook". Return ONLY markdown.`

	// TICKET_PROMPT produces one ticket per CRITICAL or HIGH issue
	TICKET_PROMPT = `You are filing issue-tracker tickets for incidents found in production logs.

For every issue in the input produce exactly one ticket with:
- summary: a concise title, at most 100 characters
- description: compact description covering the issue, its impact and the recommended fix
- priority: "Highest" for CRITICAL issues, "High" for HIGH issues
- labels: e.g. ["incident", "auto-detected", "<service>"]
- steps_to_reproduce: how to observe the problem in the logs

Return ONLY a JSON array of objects with the keys:
  summary, description, priority, labels, steps_to_reproduce`

	// NOTIFICATION_PROMPT produces the chat alert text
	NOTIFICATION_PROMPT = `You are writing a chat alert for the on-call channel.

Using Slack mrkdwn:
- Open with a short header reflecting the highest severity present
- List each issue with its severity and recommended action
- Keep an issue and its details together, with a blank line between issues
- End with a pointer to the full remediation runbook

Keep it short and scannable. Return ONLY the message text.`
)
