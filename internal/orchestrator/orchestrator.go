// Package orchestrator runs the exploration loop: plan once, then for a
// bounded number of cycles ask for a step and its code, execute the code and
// feed the outcome back to the oracle.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iambrandonn/datascout/internal/channel"
	"github.com/iambrandonn/datascout/internal/checksum"
	"github.com/iambrandonn/datascout/internal/eventlog"
	"github.com/iambrandonn/datascout/internal/execution"
	"github.com/iambrandonn/datascout/internal/fsutil"
	"github.com/iambrandonn/datascout/internal/interrupt"
	"github.com/iambrandonn/datascout/internal/metrics"
	"github.com/iambrandonn/datascout/internal/observability"
	"github.com/iambrandonn/datascout/internal/runstate"
	"github.com/iambrandonn/datascout/internal/session"
	"github.com/iambrandonn/datascout/internal/transcript"
)

// DefaultMaxSteps bounds the number of step cycles
const DefaultMaxSteps = 10

// ErrAborted is returned when the session context is cancelled
var ErrAborted = errors.New("session aborted")

// State is the orchestrator state
type State string

const (
	StatePlanning  State = "planning"
	StateStepping  State = "stepping"
	StateCoding    State = "coding"
	StateExecuting State = "executing"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

var allStates = []State{StatePlanning, StateStepping, StateCoding, StateExecuting, StateDone, StateFailed}

// Planner proposes the plan, each step and its code
type Planner interface {
	Plan(ctx context.Context, dataset string) (string, error)
	NextStep(ctx context.Context) (string, error)
	Code(ctx context.Context) (string, error)
	Observe(report string)
}

// Executor runs code on the backend
type Executor interface {
	Execute(ctx context.Context, code string) (execution.Outcome, error)
}

// Options configures a run
type Options struct {
	MaxSteps     int
	NotebookPath string // empty: the transcript is built but not written
	StatePath    string // empty: no run state file
	Observer     observability.Observer
	EventLog     *eventlog.EventLog
	Interrupts   *interrupt.Controller

	// Dataset, if set, is recorded in the notebook metadata and the ledger
	Dataset *checksum.Fingerprint
}

// Result summarizes a finished run
type Result struct {
	State    State
	Steps    []session.Step
	Notebook *fsutil.Artifact
}

// Orchestrator owns one session from planning to the written notebook
type Orchestrator struct {
	planner    Planner
	executor   Executor
	session    *session.Session
	transcript *transcript.Builder
	opts       Options
	logger     *slog.Logger

	state    State
	runState *runstate.RunState
}

// New creates an orchestrator for sess
func New(planner Planner, executor Executor, sess *session.Session, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.Observer == nil {
		opts.Observer = observability.NoOpObserver{}
	}

	tb := transcript.NewBuilder()
	tb.SetMetadata("session_id", sess.ID)
	tb.SetMetadata("dataset", sess.Dataset)
	if opts.Dataset != nil {
		tb.SetMetadata("dataset_sha256", opts.Dataset.SHA256)
	}

	return &Orchestrator{
		planner:    planner,
		executor:   executor,
		session:    sess,
		transcript: tb,
		opts:       opts,
		logger:     logger,
		runState:   runstate.NewRunState(sess.ID, sess.Dataset, opts.MaxSteps),
	}
}

// Transcript returns the transcript being built
func (o *Orchestrator) Transcript() *transcript.Builder {
	return o.transcript
}

// State returns the current state
func (o *Orchestrator) State() State {
	return o.state
}

// Run drives the session to completion. The notebook is written when the
// bound is reached, and on a best-effort basis when the run fails or is
// aborted; the returned result is valid in every case.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	o.emit(ctx, observability.EventSessionStart, observability.LevelInfo, map[string]any{
		"session_id": o.session.ID,
		"dataset":    o.session.Dataset,
		"max_steps":  o.opts.MaxSteps,
	})
	o.writeLedger(func(l *eventlog.EventLog) error {
		data := map[string]any{"event": "start", "dataset": o.session.Dataset, "max_steps": o.opts.MaxSteps}
		if fp := o.opts.Dataset; fp != nil {
			data["dataset_sha256"] = fp.SHA256
			data["dataset_size"] = fp.Size
		}
		return l.WriteSession(data)
	})

	o.transition(ctx, StatePlanning)
	plan, err := o.planner.Plan(ctx, o.session.Dataset)
	if err != nil {
		return o.stop(ctx, err)
	}
	if err := o.session.SetPlan(plan); err != nil {
		return o.stop(ctx, err)
	}
	o.note(fmt.Sprintf("# Plan to explore dataset:\n%s", plan))
	o.emit(ctx, observability.EventPlanReady, observability.LevelInfo, map[string]any{"plan": plan})

	for i := 1; i <= o.opts.MaxSteps; i++ {
		if err := o.cycle(ctx, i); err != nil {
			return o.stop(ctx, err)
		}
		// an interrupted step leaves the session context alone
		if ctx.Err() != nil {
			return o.stop(ctx, ctx.Err())
		}
	}

	return o.finish(ctx)
}

// cycle runs one Stepping → Coding → Executing round
func (o *Orchestrator) cycle(ctx context.Context, index int) error {
	o.transition(ctx, StateStepping)
	step, err := o.planner.NextStep(ctx)
	if err != nil {
		return err
	}
	o.note(fmt.Sprintf("# Next step: %s", step))
	o.emit(ctx, observability.EventStepReady, observability.LevelInfo, map[string]any{"step": index, "description": step})

	o.transition(ctx, StateCoding)
	code, err := o.planner.Code(ctx)
	if err != nil {
		return err
	}
	o.emit(ctx, observability.EventCodeReady, observability.LevelVerbose, map[string]any{"step": index, "code": code})

	o.transition(ctx, StateExecuting)
	outcome, execErr := o.execute(ctx, code)

	fatal := false
	if execErr != nil {
		o.logger.Error("execution channel failed", "step", index, "error", execErr)
		if outcome.Error == nil {
			outcome.Error = &execution.StructuredError{Summary: "ChannelError", Value: execErr.Error()}
		}
		fatal = errors.Is(execErr, channel.ErrClosed)
	}

	recorded, err := o.session.AddStep(session.NewStep(step, code, outcome))
	if err != nil {
		return err
	}
	if err := o.transcript.AddStep(recorded); err != nil {
		return err
	}
	o.planner.Observe(outcome.Verbalize())

	o.runState.RecordStep(outcome.ExecutionID)
	o.saveRunState()
	o.writeLedger(func(l *eventlog.EventLog) error {
		rec := eventlog.Outcome{
			Step:        recorded.Index,
			ExecutionID: outcome.ExecutionID,
			Status:      outcome.Status(),
			Output:      outcome.Output,
			DurationMS:  outcome.Duration.Milliseconds(),
		}
		if outcome.Error != nil {
			rec.Error = outcome.Error.Error()
		}
		return l.WriteOutcome(rec)
	})
	o.emit(ctx, observability.EventStepComplete, observability.LevelInfo, map[string]any{
		"step":    recorded.Index,
		"outcome": outcome,
	})

	if fatal {
		return fmt.Errorf("backend unavailable: %w", execErr)
	}
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, code string) (execution.Outcome, error) {
	if o.opts.Interrupts == nil {
		return o.executor.Execute(ctx, code)
	}
	stepCtx, release := o.opts.Interrupts.Step(ctx)
	defer release()
	return o.executor.Execute(stepCtx, code)
}

func (o *Orchestrator) note(text string) {
	if err := o.transcript.AddNote(text); err != nil {
		o.logger.Warn("failed to add transcript note", "error", err)
	}
}

func (o *Orchestrator) transition(ctx context.Context, next State) {
	prev := o.state
	o.state = next

	for _, s := range allStates {
		v := 0.0
		if s == next {
			v = 1
		}
		metrics.SessionState.WithLabelValues(string(s)).Set(v)
	}

	o.runState.SetStage(runstate.Stage(next))
	o.saveRunState()
	o.writeLedger(func(l *eventlog.EventLog) error {
		return l.WriteState(string(next), map[string]any{"from": string(prev), "steps": len(o.session.Steps())})
	})
	o.emit(ctx, observability.EventStateChange, observability.LevelVerbose, map[string]any{
		"from": string(prev),
		"to":   string(next),
	})
}

// finish closes the session and writes the notebook
func (o *Orchestrator) finish(ctx context.Context) (*Result, error) {
	o.session.Close()

	var artifact fsutil.Artifact
	var err error
	if o.opts.NotebookPath == "" {
		o.transcript.Build()
	} else {
		artifact, err = o.transcript.Finalize(o.opts.NotebookPath)
	}
	if err != nil {
		o.transition(ctx, StateFailed)
		o.runState.MarkFailed(err)
		o.saveRunState()
		return o.result(nil), err
	}

	o.transition(ctx, StateDone)
	o.runState.MarkCompleted()
	o.runState.Notebook = artifact.Path
	o.saveRunState()

	var written *fsutil.Artifact
	if o.opts.NotebookPath != "" {
		written = o.saved(ctx, artifact)
	}
	res := o.result(written)
	o.writeLedger(func(l *eventlog.EventLog) error {
		return l.WriteSession(map[string]any{"event": "done", "steps": len(res.Steps)})
	})
	o.emit(ctx, observability.EventSessionDone, observability.LevelInfo, map[string]any{
		"steps":    len(res.Steps),
		"notebook": artifact.Path,
	})
	return res, nil
}

// stop ends the session early, flushing what was recorded so far
func (o *Orchestrator) stop(ctx context.Context, cause error) (*Result, error) {
	aborted := ctx.Err() != nil
	o.session.Close()

	o.transition(ctx, StateFailed)
	if aborted {
		o.runState.MarkAborted()
		cause = fmt.Errorf("%w: %v", ErrAborted, cause)
	} else {
		o.runState.MarkFailed(cause)
	}
	o.saveRunState()

	var artifact *fsutil.Artifact
	if o.opts.NotebookPath != "" {
		a, err := o.transcript.Finalize(o.opts.NotebookPath)
		if err != nil {
			o.logger.Error("failed to flush partial transcript", "path", o.opts.NotebookPath, "error", err)
		} else {
			artifact = o.saved(ctx, a)
		}
	} else {
		o.transcript.Build()
	}

	o.writeLedger(func(l *eventlog.EventLog) error {
		return l.WriteSession(map[string]any{"event": "stopped", "error": cause.Error(), "aborted": aborted})
	})
	o.emit(ctx, observability.EventSessionFailed, observability.LevelError, map[string]any{
		"error":   cause.Error(),
		"aborted": aborted,
		"steps":   len(o.session.Steps()),
	})

	return o.result(artifact), cause
}

func (o *Orchestrator) saved(ctx context.Context, a fsutil.Artifact) *fsutil.Artifact {
	o.emit(ctx, observability.EventNotebookSaved, observability.LevelInfo, map[string]any{
		"artifact": a,
		"cells":    o.transcript.Len(),
	})
	return &a
}

func (o *Orchestrator) result(artifact *fsutil.Artifact) *Result {
	return &Result{
		State:    o.state,
		Steps:    o.session.Steps(),
		Notebook: artifact,
	}
}

func (o *Orchestrator) saveRunState() {
	if o.opts.StatePath == "" {
		return
	}
	if err := runstate.SaveRunState(o.runState, o.opts.StatePath); err != nil {
		o.logger.Warn("failed to save run state", "path", o.opts.StatePath, "error", err)
	}
}

func (o *Orchestrator) writeLedger(write func(*eventlog.EventLog) error) {
	if o.opts.EventLog == nil {
		return
	}
	if err := write(o.opts.EventLog); err != nil {
		o.logger.Warn("failed to write event log", "error", err)
	}
}

func (o *Orchestrator) emit(ctx context.Context, typ observability.EventType, level observability.Level, data map[string]any) {
	o.opts.Observer.OnEvent(ctx, observability.Event{
		Type:      typ,
		Level:     level,
		Timestamp: time.Now(),
		Source:    "orchestrator",
		Data:      data,
	})
}
