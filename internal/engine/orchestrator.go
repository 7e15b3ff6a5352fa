package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/t-hamamura/market-research-system/internal/llm"
	"github.com/t-hamamura/market-research-system/internal/prompts"
)

// RunStatus is the durable lifecycle of a persisted run record.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunRecord is the durable row for one pipeline invocation. The engine
// writes it best-effort for observability and run listing; resumption
// correctness depends only on workspace lookups, never on this table.
type RunRecord struct {
	ID           string    `json:"id"`
	BusinessName string    `json:"business_name"`
	ResumeOffset int       `json:"resume_offset"`
	Status       RunStatus `json:"status"`
	StartedAt    time.Time `json:"started_at"`
}

// RunStore is the subset of store.Store the engine needs (avoids an import
// cycle). All calls are best-effort; a nil store disables persistence.
type RunStore interface {
	CreateRun(rec RunRecord) error
	UpdateRunStatus(runID string, status RunStatus, message string) error
	SaveArtifact(runID string, a ArtifactSummary) error
	SaveEvent(runID string, ev ProgressEvent) error
	CompleteRun(runID string, synthesisURL string, elapsed time.Duration) error
}

// AggregateResult is returned from a completed run, success or degraded.
type AggregateResult struct {
	RunID        string            `json:"runId"`
	Request      ResearchRequest   `json:"request"`
	Artifacts    []ArtifactSummary `json:"artifacts"`
	Results      []StepResult      `json:"results"`
	Synthesis    string            `json:"synthesis"`
	SynthesisURL string            `json:"synthesisUrl"`
	ResumeOffset int               `json:"resumeOffset"`
	StartedAt    time.Time         `json:"startedAt"`
	Elapsed      time.Duration     `json:"elapsed"`
}

// Options tunes engine timing. Zero values pick production defaults.
type Options struct {
	// GenTimeout bounds each individual generation attempt.
	GenTimeout time.Duration
	// SuccessDelay and FailureDelay are the inter-step pauses after a
	// successful and a failed step respectively.
	SuccessDelay time.Duration
	FailureDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.GenTimeout <= 0 {
		o.GenTimeout = 3 * time.Minute
	}
	if o.SuccessDelay <= 0 {
		o.SuccessDelay = 2 * time.Second
	}
	if o.FailureDelay <= 0 {
		o.FailureDelay = 8 * time.Second
	}
	return o
}

// Engine sequences the 20-step research pipeline: setup, 16 analysis steps,
// synthesis. One Engine serves many runs; per-run state lives on the stack.
// Concurrent runs serialize on the shared invoker's spacing clock.
type Engine struct {
	gen   Generator
	docs  Workspace
	inv   *llm.Invoker
	store RunStore
	bus   *EventBus
	log   *zap.Logger
	opts  Options

	sleep func(ctx context.Context, d time.Duration)
}

// New creates an engine. store may be nil.
func New(gen Generator, docs Workspace, inv *llm.Invoker, store RunStore, log *zap.Logger, opts Options) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		gen:   gen,
		docs:  docs,
		inv:   inv,
		store: store,
		bus:   NewEventBus(),
		log:   log.Named("engine"),
		opts:  opts.withDefaults(),
		sleep: func(ctx context.Context, d time.Duration) {
			if d <= 0 {
				return
			}
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		},
	}
}

// Bus exposes the engine's event bus for fan-out subscribers.
func (e *Engine) Bus() *EventBus { return e.bus }

// Run executes one pipeline invocation. resumeOffset is the 0-based analysis
// step index to start at; 0 means a fresh run including the setup phase.
//
// Only validation failures and setup failures return an error. Every other
// failure is absorbed into per-artifact status and fallback results, and the
// run ends with a terminal complete event.
func (e *Engine) Run(ctx context.Context, req ResearchRequest, sink Sink, resumeOffset int) (*AggregateResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if resumeOffset < 0 {
		resumeOffset = 0
	}
	if resumeOffset > AnalysisStepCount {
		resumeOffset = AnalysisStepCount
	}

	runID := uuid.New().String()[:8]
	startedAt := time.Now()
	log := e.log.With(zap.String("run_id", runID), zap.String("business", req.BusinessName))
	em := &emitter{sink: sink, bus: e.bus, store: e.store, runID: runID, log: log}

	if e.store != nil {
		if err := e.store.CreateRun(RunRecord{
			ID:           runID,
			BusinessName: req.BusinessName,
			ResumeOffset: resumeOffset,
			Status:       RunRunning,
			StartedAt:    startedAt,
		}); err != nil {
			log.Warn("failed to persist run record", zap.Error(err))
		}
	}

	// artifacts[0..15] are the analysis records, artifacts[16] is synthesis.
	artifacts := make([]*ArtifactRecord, AnalysisStepCount+1)

	if resumeOffset == 0 {
		if err := e.setup(ctx, req, artifacts, em, log); err != nil {
			em.emit(ProgressEvent{Type: EventError, Step: 0, Message: fmt.Sprintf("Setup failed: %v", err)})
			e.markRunFailed(runID, err, log)
			return nil, eris.Wrap(err, "engine: setup phase failed")
		}
	} else {
		e.rehydrate(ctx, req, artifacts, log)
	}

	exec := &stepExecutor{
		gen:          e.gen,
		docs:         e.docs,
		inv:          e.inv,
		log:          log,
		genTimeout:   e.opts.GenTimeout,
		successDelay: e.opts.SuccessDelay,
		failureDelay: e.opts.FailureDelay,
		sleep:        e.sleep,
	}

	results := make([]StepResult, 0, AnalysisStepCount-resumeOffset)
	for i := resumeOffset; i < AnalysisStepCount; i++ {
		if err := ctx.Err(); err != nil {
			em.emit(ProgressEvent{Type: EventError, Step: AnalysisStep(i), Message: "Research cancelled"})
			e.markRunFailed(runID, err, log)
			return nil, eris.Wrap(err, "engine: run cancelled")
		}

		def := stepDefinitions[i]
		em.emit(ProgressEvent{
			Type:         EventProgress,
			Step:         AnalysisStep(i),
			Message:      fmt.Sprintf("Analyzing: %s", def.Title),
			ResearchType: def.Title,
		})

		res := exec.Execute(ctx, def, artifacts[i], req)
		results = append(results, res)
		e.saveArtifact(runID, summaryOf(def.ID, artifacts[i], def.Title), log)
	}

	em.emit(ProgressEvent{Type: EventProgress, Step: stepSynthesis, Message: "Synthesizing research summary"})
	synthesis, synthesisURL := e.synthesize(ctx, req, results, artifacts[AnalysisStepCount], log)
	e.saveArtifact(runID, summaryOf(AnalysisStepCount+1, artifacts[AnalysisStepCount], SynthesisTitle), log)

	elapsed := time.Since(startedAt)
	em.emit(ProgressEvent{
		Type:      EventComplete,
		Step:      stepSynthesis,
		Message:   fmt.Sprintf("Research completed in %s", elapsed.Round(time.Second)),
		NotionURL: synthesisURL,
	})
	if e.store != nil {
		if err := e.store.CompleteRun(runID, synthesisURL, elapsed); err != nil {
			log.Warn("failed to persist run completion", zap.Error(err))
		}
	}
	log.Info("run completed",
		zap.Int("results", len(results)),
		zap.Int("resume_offset", resumeOffset),
		zap.Duration("elapsed", elapsed),
	)

	return &AggregateResult{
		RunID:        runID,
		Request:      req,
		Artifacts:    e.summaries(artifacts, resumeOffset),
		Results:      results,
		Synthesis:    synthesis,
		SynthesisURL: synthesisURL,
		ResumeOffset: resumeOffset,
		StartedAt:    startedAt,
		Elapsed:      elapsed,
	}, nil
}

// setup pre-creates every artifact before any analysis runs. Lookup before
// create keeps accidental replays from duplicating documents. Any failure
// here is fatal to the run.
func (e *Engine) setup(ctx context.Context, req ResearchRequest, artifacts []*ArtifactRecord, em *emitter, log *zap.Logger) error {
	em.emit(ProgressEvent{
		Type:    EventProgress,
		Step:    stepSetupInit,
		Message: fmt.Sprintf("Initializing research pipeline for %q", req.BusinessName),
	})

	for i, def := range stepDefinitions {
		rec, err := e.obtainArtifact(ctx, req.BusinessName, def.Title)
		if err != nil {
			return eris.Wrapf(err, "prepare document for %q", def.Title)
		}
		artifacts[i] = rec
	}
	em.emit(ProgressEvent{
		Type:    EventProgress,
		Step:    stepSetupArtifacts,
		Message: fmt.Sprintf("Prepared %d research documents", AnalysisStepCount),
	})

	rec, err := e.obtainArtifact(ctx, req.BusinessName, SynthesisTitle)
	if err != nil {
		return eris.Wrap(err, "prepare synthesis document")
	}
	artifacts[AnalysisStepCount] = rec
	em.emit(ProgressEvent{
		Type:    EventProgress,
		Step:    stepSetupSynthesis,
		Message: "Prepared synthesis placeholder",
	})
	log.Info("setup phase complete")
	return nil
}

// obtainArtifact finds an existing workspace document or creates one.
func (e *Engine) obtainArtifact(ctx context.Context, businessName, title string) (*ArtifactRecord, error) {
	page, err := e.docs.FindArtifact(ctx, businessName, title)
	if err != nil {
		return nil, err
	}
	if page == nil {
		page, err = e.docs.CreateArtifact(ctx, businessName, title, title)
		if err != nil {
			return nil, err
		}
	}
	url := page.URL
	if url == "" {
		url = e.docs.URLFor(page.ID)
	}
	return &ArtifactRecord{PageID: page.ID, URL: url, Title: title, Category: title, Status: StatusPending}, nil
}

// rehydrate rebuilds artifact records by workspace lookup on resume. Misses
// and lookup errors produce unresolved records instead of failing the run.
func (e *Engine) rehydrate(ctx context.Context, req ResearchRequest, artifacts []*ArtifactRecord, log *zap.Logger) {
	titles := make([]string, 0, AnalysisStepCount+1)
	for _, def := range stepDefinitions {
		titles = append(titles, def.Title)
	}
	titles = append(titles, SynthesisTitle)

	for i, title := range titles {
		rec := &ArtifactRecord{PageID: PageUnresolved, Title: title, Category: title, Status: StatusPending}
		page, err := e.docs.FindArtifact(ctx, req.BusinessName, title)
		switch {
		case err != nil:
			log.Warn("rehydrate lookup failed, leaving unresolved", zap.String("title", title), zap.Error(err))
		case page == nil:
			log.Warn("rehydrate miss, leaving unresolved", zap.String("title", title))
		default:
			rec.PageID = page.ID
			rec.URL = page.URL
			if rec.URL == "" {
				rec.URL = e.docs.URLFor(page.ID)
			}
		}
		artifacts[i] = rec
	}
}

// synthesize builds and runs the synthesis step, falling back to the
// deterministic template when generation fails. Write-back is best-effort.
func (e *Engine) synthesize(ctx context.Context, req ResearchRequest, results []StepResult, rec *ArtifactRecord, log *zap.Logger) (string, string) {
	excerpts := make([]prompts.Excerpt, 0, len(results))
	for _, r := range results {
		excerpts = append(excerpts, prompts.Excerpt{Title: r.Title, Text: r.Text})
	}
	prompt := prompts.Synthesis(req.BusinessName, excerpts)

	status := StatusCompleted
	text, err := e.inv.Invoke(ctx, func(c context.Context) (string, error) {
		return llm.WithTimeout(c, e.opts.GenTimeout, func(tc context.Context) (string, error) {
			return e.gen.Generate(tc, prompt)
		})
	})
	if err != nil {
		log.Warn("synthesis generation failed, using template fallback", zap.Error(err))
		text = SynthesisFallback(req.BusinessName, results)
		status = StatusFailed
	}

	if rec.Resolved() {
		if werr := e.docs.UpdateContent(ctx, rec.PageID, text); werr != nil {
			log.Warn("synthesis content write failed", zap.Error(werr))
			status = StatusFailed
		}
		if serr := e.docs.UpdateStatus(ctx, rec.PageID, status); serr != nil {
			log.Warn("synthesis status write failed", zap.Error(serr))
		}
	}
	rec.Status = status
	return text, rec.URL
}

// summaries assembles the 17 per-artifact summaries; analysis steps below
// the resume offset are reported as skipped.
func (e *Engine) summaries(artifacts []*ArtifactRecord, resumeOffset int) []ArtifactSummary {
	out := make([]ArtifactSummary, 0, len(artifacts))
	for i, def := range stepDefinitions {
		s := summaryOf(def.ID, artifacts[i], def.Title)
		if i < resumeOffset {
			s.Status = StatusSkipped
		}
		out = append(out, s)
	}
	out = append(out, summaryOf(AnalysisStepCount+1, artifacts[AnalysisStepCount], SynthesisTitle))
	return out
}

func summaryOf(step int, rec *ArtifactRecord, title string) ArtifactSummary {
	s := ArtifactSummary{Step: step, Title: title}
	if rec != nil {
		s.Status = rec.Status
		s.URL = rec.URL
	}
	return s
}

func (e *Engine) saveArtifact(runID string, s ArtifactSummary, log *zap.Logger) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveArtifact(runID, s); err != nil {
		log.Warn("failed to persist artifact summary", zap.Int("step", s.Step), zap.Error(err))
	}
}

func (e *Engine) markRunFailed(runID string, cause error, log *zap.Logger) {
	if e.store == nil {
		return
	}
	if err := e.store.UpdateRunStatus(runID, RunFailed, cause.Error()); err != nil {
		log.Warn("failed to persist run failure", zap.Error(err))
	}
}

// emitter enforces the progress protocol: events flow to the caller's sink,
// the event bus, and the store; at most one terminal event is ever sent.
type emitter struct {
	sink  Sink
	bus   *EventBus
	store RunStore
	runID string
	log   *zap.Logger

	terminalSent bool
	lastStep     int
}

func (em *emitter) emit(ev ProgressEvent) {
	if em.terminalSent {
		em.log.Warn("dropping event after terminal", zap.String("type", string(ev.Type)), zap.Int("step", ev.Step))
		return
	}
	ev.Total = TotalSteps
	ev.Timestamp = time.Now()
	if ev.Terminal() {
		em.terminalSent = true
	}
	// Steps never go backwards; error events keep their reported step.
	if ev.Type != EventError && ev.Step < em.lastStep {
		em.log.Warn("clamping regressed step", zap.Int("step", ev.Step), zap.Int("last", em.lastStep))
		ev.Step = em.lastStep
	}
	if ev.Step > em.lastStep {
		em.lastStep = ev.Step
	}

	if em.sink != nil {
		em.sink(ev)
	}
	if em.bus != nil {
		em.bus.Publish(ev)
	}
	if em.store != nil {
		if err := em.store.SaveEvent(em.runID, ev); err != nil {
			em.log.Warn("failed to persist event", zap.Error(err))
		}
	}
}
