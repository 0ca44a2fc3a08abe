package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/incidentsuite/backend/internal/config"
	"github.com/incidentsuite/backend/internal/logger"
	"github.com/incidentsuite/backend/internal/models"
)

type linePattern struct {
	name     string
	re       *regexp.Regexp
	priority int
}

// Built-in line formats, tried in order.
var builtinPatterns = []linePattern{
	{
		// 2024-01-15 10:23:45 ERROR [auth-service] token validation failed
		name: "iso",
		re: regexp.MustCompile(`^(?P<timestamp>\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2}(?:[.,]\d+)?(?:\s?(?:Z|UTC|GMT|[+-]\d{2}:?\d{2}))?)\s+` +
			`(?P<level>(?i:CRITICAL|ERROR|ERR|WARNING|WARN|INFO|DEBUG))\s+` +
			`(?:\[(?P<service>[^\]]+)\]\s*)?` +
			`(?P<message>.+)$`),
	},
	{
		// [Tue Jan 15 10:23:45 2024] [error] [client 1.2.3.4] File does not exist
		name: "bracketed",
		re: regexp.MustCompile(`^\[(?P<timestamp>[^\]]+)\]\s+` +
			`\[(?P<level>\w+)\]\s+` +
			`(?:\[(?P<service>[^\]]*)\]\s*)?` +
			`(?P<message>.+)$`),
	},
}

// JSON-lines field aliases, first present key wins.
var (
	jsonTimestampKeys = []string{"timestamp", "ts", "time", "@timestamp"}
	jsonLevelKeys     = []string{"level", "severity", "log_level", "lvl"}
	jsonMessageKeys   = []string{"message", "msg", "log"}
	jsonServiceKeys   = []string{"service", "component", "logger"}
)

// ParseResult is the entry parser's output for one input.
type ParseResult struct {
	Records []models.LogRecord
	// Deterministic is true when every line matched a known format and the
	// analyzer was not consulted.
	Deterministic bool
}

// EntryParser turns raw log text into LogRecords. Known formats are parsed
// locally; if any line is unrecognised the whole input goes to the analyzer.
type EntryParser struct {
	analyzer Analyzer
	custom   []linePattern
}

// NewEntryParser builds a parser with the built-in formats followed by extra
// formats in descending priority.
func NewEntryParser(analyzer Analyzer, extra []config.PatternConfig) (*EntryParser, error) {
	custom := make([]linePattern, 0, len(extra))
	for _, pc := range extra {
		if err := pc.Check(); err != nil {
			return nil, err
		}
		custom = append(custom, linePattern{name: pc.Name, re: regexp.MustCompile(pc.Pattern), priority: pc.Priority})
	}
	sort.SliceStable(custom, func(i, j int) bool { return custom[i].priority > custom[j].priority })

	return &EntryParser{analyzer: analyzer, custom: custom}, nil
}

// Parse never fails outright: a failed fallback yields no records and an
// error describing what went wrong.
func (p *EntryParser) Parse(ctx context.Context, raw string) (ParseResult, error) {
	lines := splitLines(raw)

	nonEmpty := 0
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			nonEmpty++
		}
	}
	if nonEmpty == 0 {
		return ParseResult{Records: []models.LogRecord{}, Deterministic: true}, nil
	}

	if records, ok := p.parseDeterministic(lines); ok {
		return ParseResult{Records: records, Deterministic: true}, nil
	}

	logger.Debug("Input has unrecognised lines, using analyzer fallback", map[string]interface{}{
		"lines": nonEmpty,
	})
	records, err := p.parseWithAnalyzer(ctx, raw, lines)
	if err != nil {
		return ParseResult{Records: []models.LogRecord{}}, err
	}
	return ParseResult{Records: records}, nil
}

// parseDeterministic is all-or-nothing: one unmatched line discards the rest.
func (p *EntryParser) parseDeterministic(lines []string) ([]models.LogRecord, bool) {
	records := make([]models.LogRecord, 0, len(lines))
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		record, ok := p.matchLine(line)
		if !ok {
			return nil, false
		}
		record.LineNumber = i + 1
		records = append(records, record)
	}
	return records, true
}

// matchLine tries the built-in text formats, then JSON lines, then custom formats.
func (p *EntryParser) matchLine(line string) (models.LogRecord, bool) {
	for _, pattern := range builtinPatterns {
		if record, ok := matchPattern(pattern.re, line); ok {
			return record, true
		}
	}
	if record, ok := parseJSONLine(line); ok {
		return record, true
	}
	for _, pattern := range p.custom {
		if record, ok := matchPattern(pattern.re, line); ok {
			return record, true
		}
	}
	return models.LogRecord{}, false
}

func matchPattern(re *regexp.Regexp, line string) (models.LogRecord, bool) {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return models.LogRecord{}, false
	}
	group := func(name string) string {
		idx := re.SubexpIndex(name)
		if idx < 0 || idx >= len(m) {
			return ""
		}
		return strings.TrimSpace(m[idx])
	}
	message := group("message")
	if message == "" {
		return models.LogRecord{}, false
	}
	return models.LogRecord{
		Timestamp: group("timestamp"),
		Level:     models.ParseLogLevel(group("level")),
		Service:   serviceOrDefault(group("service")),
		Message:   message,
		Raw:       line,
	}, true
}

func parseJSONLine(line string) (models.LogRecord, bool) {
	if !strings.HasPrefix(line, "{") {
		return models.LogRecord{}, false
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(line), &parsed); err != nil {
		return models.LogRecord{}, false
	}
	message := getString(parsed, jsonMessageKeys...)
	if message == "" {
		return models.LogRecord{}, false
	}
	return models.LogRecord{
		Timestamp: getString(parsed, jsonTimestampKeys...),
		Level:     models.ParseLogLevel(getString(parsed, jsonLevelKeys...)),
		Service:   serviceOrDefault(getString(parsed, jsonServiceKeys...)),
		Message:   message,
		Raw:       line,
	}, true
}

func getString(parsed map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		v, ok := parsed[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			return strings.TrimSpace(val)
		case float64:
			return strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(val)
		}
	}
	return ""
}

type fallbackRecord struct {
	LineNumber int    `json:"line_number"`
	Timestamp  string `json:"timestamp"`
	Level      string `json:"level"`
	Service    string `json:"service"`
	Message    string `json:"message"`
}

func (p *EntryParser) parseWithAnalyzer(ctx context.Context, raw string, lines []string) ([]models.LogRecord, error) {
	response, err := p.analyzer.Analyze(ctx, AnalyzerRequest{
		Task:    CallEntryFallback,
		System:  ENTRY_FALLBACK_PROMPT,
		Payload: "Parse these log lines:\n\n" + raw,
	})
	if err != nil {
		return nil, fmt.Errorf("entry parsing: analyzer call failed: %w", err)
	}

	text := StripCodeFence(response)
	var parsed []fallbackRecord
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, malformedOutput("entry parsing: analyzer returned invalid JSON: %s", truncate(text, 200))
	}

	records := make([]models.LogRecord, 0, len(parsed))
	seen := make(map[int]bool, len(parsed))
	dropped := 0
	for _, item := range parsed {
		// line numbers identify records, so they must be positive and unique
		if item.LineNumber < 1 || seen[item.LineNumber] {
			dropped++
			continue
		}
		seen[item.LineNumber] = true

		rawLine := ""
		if item.LineNumber >= 1 && item.LineNumber <= len(lines) {
			rawLine = strings.TrimSpace(lines[item.LineNumber-1])
		}
		if rawLine == "" {
			rawLine = item.Message
		}
		records = append(records, models.LogRecord{
			LineNumber: item.LineNumber,
			Timestamp:  item.Timestamp,
			Level:      models.ParseLogLevel(item.Level),
			Service:    serviceOrDefault(item.Service),
			Message:    item.Message,
			Raw:        rawLine,
		})
	}
	if dropped > 0 {
		logger.Warn("Dropped analyzer records with invalid or duplicate line numbers", map[string]interface{}{
			"dropped": dropped,
			"kept":    len(records),
		})
	}
	return records, nil
}

// splitLines splits on \r\n, \n and \r, keeping blank lines so that indexes
// match positions in the source text.
func splitLines(raw string) []string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	return strings.Split(normalized, "\n")
}

func serviceOrDefault(service string) string {
	service = strings.TrimSpace(service)
	if service == "" {
		return models.DefaultService
	}
	return service
}
