package observability

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlogObserver(t *testing.T) {
	var buf bytes.Buffer
	obs := NewSlogObserver(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))

	obs.OnEvent(context.Background(), Event{
		Type:   EventStepComplete,
		Level:  LevelInfo,
		Source: "orchestrator",
		Data:   map[string]any{"step": 2},
	})
	obs.OnEvent(context.Background(), Event{Type: EventStateChange, Level: LevelVerbose})

	out := buf.String()
	assert.Contains(t, out, "msg=step.complete")
	assert.Contains(t, out, "source=orchestrator")
	assert.Contains(t, out, "step=2")
	assert.NotContains(t, out, "session.state", "verbose events stay below info")
}

func TestMultiObserver(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	multi := NewMultiObserver(a, nil, b)

	multi.OnEvent(context.Background(), Event{Type: EventPlanReady})

	assert.Equal(t, []EventType{EventPlanReady}, a.Types())
	assert.Equal(t, []EventType{EventPlanReady}, b.Types())
}

func TestLevels(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LevelVerbose.SlogLevel())
	assert.Equal(t, slog.LevelWarn, LevelWarning.SlogLevel())
	assert.Equal(t, slog.LevelError, LevelError.SlogLevel())
	NoOpObserver{}.OnEvent(context.Background(), Event{})
}
