package models

import "strings"

type LogLevel string

const (
	LogLevelCritical LogLevel = "CRITICAL"
	LogLevelError    LogLevel = "ERROR"
	LogLevelWarn     LogLevel = "WARN"
	LogLevelWarning  LogLevel = "WARNING"
	LogLevelInfo     LogLevel = "INFO"
	LogLevelDebug    LogLevel = "DEBUG"
	LogLevelUnknown  LogLevel = "UNKNOWN"
)

// DefaultService is used when a log line names no service or component.
const DefaultService = "unknown"

// ParseLogLevel maps a raw level token onto the closed LogLevel set.
// WARN and WARNING stay distinct so the record keeps what the source wrote.
func ParseLogLevel(raw string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "critical":
		return LogLevelCritical
	case "error", "err":
		return LogLevelError
	case "warn":
		return LogLevelWarn
	case "warning":
		return LogLevelWarning
	case "info":
		return LogLevelInfo
	case "debug":
		return LogLevelDebug
	default:
		return LogLevelUnknown
	}
}

// IsActionable reports whether entries at this level feed issue derivation.
func (l LogLevel) IsActionable() bool {
	switch l {
	case LogLevelCritical, LogLevelError, LogLevelWarn, LogLevelWarning:
		return true
	}
	return false
}

// LogRecord is one structured line of an input. Records are values and are
// never modified after the parser creates them.
type LogRecord struct {
	LineNumber int      `json:"line_number"`
	Timestamp  string   `json:"timestamp"`
	Level      LogLevel `json:"level"`
	Service    string   `json:"service"`
	Message    string   `json:"message"`
	Raw        string   `json:"raw"`
}

// FilterActionable returns the records whose level is actionable, in input order.
func FilterActionable(records []LogRecord) []LogRecord {
	actionable := make([]LogRecord, 0, len(records))
	for _, r := range records {
		if r.Level.IsActionable() {
			actionable = append(actionable, r)
		}
	}
	return actionable
}
