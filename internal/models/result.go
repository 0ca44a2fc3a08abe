package models

import (
	"math"
	"time"
)

type Origin string

const (
	OriginUpload  Origin = "upload"
	OriginSample  Origin = "sample"
	OriginWatcher Origin = "watcher"
	OriginCLI     Origin = "cli"
)

type Stage string

const (
	StageIdle            Stage = "idle"
	StageParsing         Stage = "parsing"
	StageDeriving        Stage = "deriving"
	StageBuildingRunbook Stage = "building_runbook"
	StageBuildingTickets Stage = "building_tickets"
	StageNotifying       Stage = "notifying"
	StageComplete        Stage = "complete"
)

// PipelineResult is the outcome of one pipeline invocation. The ingestion
// fields (filename, processed time, elapsed seconds, origin) are attached by
// the caller through WithIngestion, never by the pipeline itself.
type PipelineResult struct {
	RunID        string        `json:"run_id"`
	LogRecords   []LogRecord   `json:"log_entries"`
	Issues       []Issue       `json:"issues"`
	Runbook      string        `json:"cookbook"`
	Tickets      []Ticket      `json:"jira_tickets"`
	Notification *Notification `json:"notification"`
	Error        string        `json:"error,omitempty"`
	CurrentStage Stage         `json:"current_stage"`

	SourceFilename        string    `json:"filename,omitempty"`
	ProcessedAt           time.Time `json:"processed_at"`
	ProcessingTimeSeconds float64   `json:"processing_time_seconds,omitempty"`
	Origin                Origin    `json:"origin,omitempty"`

	// RecordID is the storage key, filled in when a result is read back.
	RecordID string `json:"record_id,omitempty"`
}

// WithIngestion returns a copy of r carrying ingestion metadata. The elapsed
// time is rounded to two decimals.
func (r PipelineResult) WithIngestion(filename string, processedAt time.Time, elapsed time.Duration, origin Origin) PipelineResult {
	r.SourceFilename = filename
	r.ProcessedAt = processedAt.UTC()
	r.ProcessingTimeSeconds = math.Round(elapsed.Seconds()*100) / 100
	r.Origin = origin
	return r
}
