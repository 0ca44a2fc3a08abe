package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/incidentsuite/backend/internal/config"
	"github.com/incidentsuite/backend/internal/logger"
	"github.com/incidentsuite/backend/internal/metrics"
	"github.com/incidentsuite/backend/internal/models"
	"golang.org/x/sync/errgroup"
)

// StageOutput is one stage's contribution to the run state. Zero-valued
// fields contribute nothing.
type StageOutput struct {
	Stage        models.Stage
	LogRecords   []models.LogRecord
	Issues       []models.Issue
	Runbook      string
	Tickets      []models.Ticket
	Notification *models.Notification
	Error        string
}

// State accumulates stage outputs for a single run. List fields
// concatenate, scalar fields keep the latest non-empty value. It is only
// touched by the orchestrating goroutine.
type State struct {
	result models.PipelineResult
}

func NewState(runID string) *State {
	return &State{result: models.PipelineResult{
		RunID:        runID,
		LogRecords:   []models.LogRecord{},
		Issues:       []models.Issue{},
		Tickets:      []models.Ticket{},
		CurrentStage: models.StageIdle,
	}}
}

// Merge applies out to the state.
func (s *State) Merge(out StageOutput) {
	s.result.LogRecords = append(s.result.LogRecords, out.LogRecords...)
	s.result.Issues = append(s.result.Issues, out.Issues...)
	s.result.Tickets = append(s.result.Tickets, out.Tickets...)

	if out.Runbook != "" {
		s.result.Runbook = out.Runbook
	}
	if out.Notification != nil {
		s.result.Notification = out.Notification
	}
	if out.Error != "" {
		s.result.Error = out.Error
	}
	if out.Stage != "" {
		s.result.CurrentStage = out.Stage
	}
}

// Result returns the accumulated result.
func (s *State) Result() *models.PipelineResult {
	r := s.result
	return &r
}

// PipelineConfig wires a Pipeline.
type PipelineConfig struct {
	// Settings is read once per run; a change applies to the next run.
	Settings      *config.Holder
	Factory       AnalyzerFactory
	Deliverer     Deliverer
	Channel       string
	ExtraPatterns []config.PatternConfig
}

// Pipeline runs parse, derive and the three synthesizers for one input.
// It holds no per-run state, so concurrent runs are independent.
type Pipeline struct {
	settings  *config.Holder
	factory   AnalyzerFactory
	deliverer Deliverer
	channel   string
	patterns  []config.PatternConfig
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	factory := cfg.Factory
	if factory == nil {
		factory = NewAnalyzerFactory(nil)
	}
	settings := cfg.Settings
	if settings == nil {
		settings = config.NewHolder(config.AnalyzerConfig{})
	}
	deliverer := cfg.Deliverer
	if deliverer == nil {
		deliverer = NewSlackWebhook("")
	}
	return &Pipeline{
		settings:  settings,
		factory:   factory,
		deliverer: deliverer,
		channel:   cfg.Channel,
		patterns:  cfg.ExtraPatterns,
	}
}

// Run processes raw log text. It never fails: stage problems are reported
// through the result's Error field and later stages still run.
func (p *Pipeline) Run(ctx context.Context, raw, filename string) (result *models.PipelineResult) {
	runID := uuid.NewString()
	log := logger.WithRun(runID, filename)
	state := NewState(runID)
	startTime := time.Now()
	ctx = ContextWithRunID(ctx, runID)

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error("Pipeline aborted unexpectedly")
			state.Merge(StageOutput{Error: fmt.Sprintf("pipeline: unexpected failure: %v", r)})
		}
		state.Merge(StageOutput{Stage: models.StageComplete})
		result = state.Result()

		outcome := metrics.OutcomeSuccess
		if result.Error != "" {
			outcome = metrics.OutcomeError
		}
		metrics.ObservePipelineRun(outcome)
		log.WithFields(map[string]interface{}{
			"records":  len(result.LogRecords),
			"issues":   len(result.Issues),
			"tickets":  len(result.Tickets),
			"duration": time.Since(startTime).String(),
			"outcome":  outcome,
		}).Info("Pipeline run complete")
	}()

	stages := p.newStages(log.Data)

	state.Merge(p.runStage(runID, models.StageParsing, func() StageOutput {
		parsed, err := stages.parser.Parse(ctx, raw)
		return StageOutput{LogRecords: parsed.Records, Error: errorNote(err)}
	}))

	records := state.result.LogRecords
	state.Merge(p.runStage(runID, models.StageDeriving, func() StageOutput {
		issues, err := stages.deriver.Derive(ctx, records)
		return StageOutput{Issues: issues, Error: errorNote(err)}
	}))

	issues := state.result.Issues
	var (
		g       errgroup.Group
		outputs [3]StageOutput
	)
	g.Go(func() error {
		snapshot := copyIssues(issues)
		outputs[0] = p.runStage(runID, models.StageBuildingRunbook, func() StageOutput {
			runbook, err := stages.runbook.Build(ctx, snapshot)
			return StageOutput{Runbook: runbook, Error: errorNote(err)}
		})
		return nil
	})
	g.Go(func() error {
		snapshot := copyIssues(issues)
		outputs[1] = p.runStage(runID, models.StageBuildingTickets, func() StageOutput {
			tickets, err := stages.tickets.Build(ctx, snapshot)
			return StageOutput{Tickets: tickets, Error: errorNote(err)}
		})
		return nil
	})
	g.Go(func() error {
		snapshot := copyIssues(issues)
		outputs[2] = p.runStage(runID, models.StageNotifying, func() StageOutput {
			notification, err := stages.notifier.Notify(ctx, snapshot)
			return StageOutput{Notification: notification, Error: errorNote(err)}
		})
		return nil
	})
	_ = g.Wait()

	for _, out := range outputs {
		state.Merge(out)
	}
	return state.Result()
}

type runStages struct {
	parser   *EntryParser
	deriver  *IssueDeriver
	runbook  *RunbookBuilder
	tickets  *TicketBuilder
	notifier *Notifier
}

// newStages builds fresh components around a fresh analyzer client.
func (p *Pipeline) newStages(fields map[string]interface{}) runStages {
	settings := p.settings.Get()
	analyzer, err := p.factory(settings)
	if err != nil {
		logger.WithContext(fields).WithError(err).Warn("Analyzer unavailable for this run")
		analyzer = unavailableAnalyzer{err: err}
	}

	parser, err := NewEntryParser(analyzer, p.patterns)
	if err != nil {
		logger.WithContext(fields).WithError(err).Warn("Ignoring extra parser patterns")
		parser, _ = NewEntryParser(analyzer, nil)
	}

	return runStages{
		parser:   parser,
		deriver:  NewIssueDeriver(analyzer),
		runbook:  NewRunbookBuilder(analyzer),
		tickets:  NewTicketBuilder(analyzer),
		notifier: NewNotifier(analyzer, p.deliverer, p.channel),
	}
}

// runStage times fn and turns a panic into an error note.
func (p *Pipeline) runStage(runID string, stage models.Stage, fn func() StageOutput) (out StageOutput) {
	log := logger.WithStage(runID, string(stage))
	startTime := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out = StageOutput{Error: fmt.Sprintf("%s: unexpected failure: %v", stage, r)}
		}
		out.Stage = stage
		metrics.ObserveStage(string(stage), time.Since(startTime))
		if out.Error != "" {
			log.WithField("error", out.Error).Warn("Stage reported an error")
		} else {
			log.WithField("duration", time.Since(startTime).String()).Debug("Stage complete")
		}
	}()
	return fn()
}

// unavailableAnalyzer stands in when no client could be built, so stages
// that need the analyzer degrade the same way as on a failed call.
type unavailableAnalyzer struct {
	err error
}

func (u unavailableAnalyzer) Analyze(context.Context, AnalyzerRequest) (string, error) {
	return "", fmt.Errorf("analyzer unavailable: %w", u.err)
}

func errorNote(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func copyIssues(issues []models.Issue) []models.Issue {
	out := make([]models.Issue, len(issues))
	copy(out, issues)
	return out
}
