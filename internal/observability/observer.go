// Package observability carries orchestrator lifecycle events to logs and
// the console.
package observability

import (
	"context"
	"log/slog"
	"time"
)

// Level represents event severity
type Level int

const (
	LevelVerbose Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

// SlogLevel maps this level to the corresponding slog.Level
func (l Level) SlogLevel() slog.Level {
	switch l {
	case LevelVerbose:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// EventType identifies the kind of event
type EventType string

const (
	EventSessionStart  EventType = "session.start"
	EventStateChange   EventType = "session.state"
	EventPlanReady     EventType = "plan.ready"
	EventStepReady     EventType = "step.ready"
	EventCodeReady     EventType = "code.ready"
	EventStepComplete  EventType = "step.complete"
	EventNotebookSaved EventType = "notebook.saved"
	EventSessionDone   EventType = "session.done"
	EventSessionFailed EventType = "session.failed"
)

// Event is one lifecycle event. Data holds event-specific values.
type Event struct {
	Type      EventType
	Level     Level
	Timestamp time.Time
	Source    string
	Data      map[string]any
}

// Observer receives lifecycle events
type Observer interface {
	OnEvent(ctx context.Context, event Event)
}

// SlogObserver emits events to a slog.Logger. The event type becomes the
// log message and Data keys become attributes.
type SlogObserver struct {
	logger *slog.Logger
}

// NewSlogObserver creates a SlogObserver that emits to the given logger
func NewSlogObserver(logger *slog.Logger) *SlogObserver {
	return &SlogObserver{logger: logger}
}

func (o *SlogObserver) OnEvent(ctx context.Context, event Event) {
	attrs := make([]slog.Attr, 0, len(event.Data)+1)
	attrs = append(attrs, slog.String("source", event.Source))
	for k, v := range event.Data {
		attrs = append(attrs, slog.Any(k, v))
	}

	o.logger.LogAttrs(ctx, event.Level.SlogLevel(), string(event.Type), attrs...)
}

// NoOpObserver discards all events
type NoOpObserver struct{}

func (NoOpObserver) OnEvent(ctx context.Context, event Event) {}

// MultiObserver fans out events to multiple observers
type MultiObserver struct {
	observers []Observer
}

// NewMultiObserver forwards events to all non-nil observers
func NewMultiObserver(observers ...Observer) *MultiObserver {
	filtered := make([]Observer, 0, len(observers))
	for _, obs := range observers {
		if obs != nil {
			filtered = append(filtered, obs)
		}
	}
	return &MultiObserver{observers: filtered}
}

func (m *MultiObserver) OnEvent(ctx context.Context, event Event) {
	for _, obs := range m.observers {
		obs.OnEvent(ctx, event)
	}
}

// Recorder keeps every event it sees, for tests
type Recorder struct {
	Events []Event
}

func (r *Recorder) OnEvent(ctx context.Context, event Event) {
	r.Events = append(r.Events, event)
}

// Types returns the recorded event types in order
func (r *Recorder) Types() []EventType {
	out := make([]EventType, len(r.Events))
	for i, e := range r.Events {
		out[i] = e.Type
	}
	return out
}
