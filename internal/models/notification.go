package models

type DeliveryMode string

const (
	DeliveryLive         DeliveryMode = "live"
	DeliveryDryRun       DeliveryMode = "dry-run"
	DeliveryDryRunFailed DeliveryMode = "dry-run-failed"
)

// DefaultChannel is the chat channel used when none is configured.
const DefaultChannel = "#devops-alerts"

// Notification is the chat message produced for one run.
type Notification struct {
	Channel string         `json:"channel"`
	Summary string         `json:"summary"`
	Payload map[string]any `json:"payload"`
	Sent    bool           `json:"sent"`
	Mode    DeliveryMode   `json:"mode"`
}
