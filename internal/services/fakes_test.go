package services

import (
	"context"
	"sync"

	"github.com/incidentsuite/backend/internal/models"
)

// fakeAnalyzer answers from canned responses per task and counts calls.
type fakeAnalyzer struct {
	mu        sync.Mutex
	responses map[CallType]string
	errs      map[CallType]error
	panics    map[CallType]bool
	calls     map[CallType]int
	requests  []AnalyzerRequest
}

func newFakeAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{
		responses: map[CallType]string{},
		errs:      map[CallType]error{},
		panics:    map[CallType]bool{},
		calls:     map[CallType]int{},
	}
}

func (f *fakeAnalyzer) respond(task CallType, response string) *fakeAnalyzer {
	f.responses[task] = response
	return f
}

func (f *fakeAnalyzer) fail(task CallType, err error) *fakeAnalyzer {
	f.errs[task] = err
	return f
}

func (f *fakeAnalyzer) Analyze(_ context.Context, req AnalyzerRequest) (string, error) {
	f.mu.Lock()
	f.calls[req.Task]++
	f.requests = append(f.requests, req)
	shouldPanic := f.panics[req.Task]
	resp, err := f.responses[req.Task], f.errs[req.Task]
	f.mu.Unlock()

	if shouldPanic {
		panic("analyzer exploded")
	}
	return resp, err
}

func (f *fakeAnalyzer) count(task CallType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[task]
}

func (f *fakeAnalyzer) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// recordingDeliverer captures payloads and returns a fixed outcome.
type recordingDeliverer struct {
	mu       sync.Mutex
	sent     bool
	mode     models.DeliveryMode
	payloads []map[string]any
}

func (d *recordingDeliverer) Deliver(_ context.Context, payload map[string]any, _ string) (bool, models.DeliveryMode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.payloads = append(d.payloads, payload)
	return d.sent, d.mode
}

func sampleIssues() []models.Issue {
	return []models.Issue{
		{Description: "Slow query on orders table", Severity: models.SeverityLow, RecommendedFix: "Add index", SourceLineNumbers: []int{4}},
		{Description: "Database connection pool exhausted", Severity: models.SeverityCritical, RecommendedFix: "Raise pool size", SourceLineNumbers: []int{1, 2}},
		{Description: "Disk usage at 85%", Severity: models.SeverityMedium, RecommendedFix: "Rotate logs", SourceLineNumbers: []int{3}},
		{Description: "Repeated auth timeouts", Severity: models.SeverityHigh, RecommendedFix: "Check identity provider", SourceLineNumbers: []int{5}},
	}
}
