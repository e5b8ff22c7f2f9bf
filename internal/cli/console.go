package cli

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/iambrandonn/datascout/internal/execution"
	"github.com/iambrandonn/datascout/internal/fsutil"
	"github.com/iambrandonn/datascout/internal/observability"
	"github.com/iambrandonn/datascout/internal/protocol"
	"github.com/iambrandonn/datascout/internal/transcript"
)

// consoleObserver prints session progress for a human watching the run
type consoleObserver struct {
	mu        sync.Mutex
	w         io.Writer
	formatter *transcript.Formatter
	verbose   bool
}

func newConsoleObserver(w io.Writer, verbose bool) *consoleObserver {
	return &consoleObserver{w: w, formatter: transcript.NewFormatter(), verbose: verbose}
}

func (c *consoleObserver) OnEvent(ctx context.Context, event observability.Event) {
	var line string

	switch event.Type {
	case observability.EventSessionStart:
		line = fmt.Sprintf("Exploring %v (up to %v steps)", event.Data["dataset"], event.Data["max_steps"])
	case observability.EventPlanReady:
		plan, _ := event.Data["plan"].(string)
		line = c.formatter.FormatPlan(plan)
	case observability.EventStepReady:
		index, _ := event.Data["step"].(int)
		desc, _ := event.Data["description"].(string)
		line = c.formatter.FormatStep(index, desc)
	case observability.EventCodeReady:
		code, _ := event.Data["code"].(string)
		line = c.formatter.FormatCode(code)
	case observability.EventStepComplete:
		if out, ok := event.Data["outcome"].(execution.Outcome); ok {
			line = c.formatter.FormatOutcome(out)
		}
	case observability.EventNotebookSaved:
		if a, ok := event.Data["artifact"].(fsutil.Artifact); ok {
			line = c.formatter.FormatArtifact(a)
		}
	case observability.EventSessionFailed:
		line = fmt.Sprintf("Session stopped after %v step(s): %v", event.Data["steps"], event.Data["error"])
	case observability.EventSessionDone:
		line = fmt.Sprintf("Session complete: %v step(s)", event.Data["steps"])
	}

	if line == "" {
		return
	}
	c.print(line)
}

// onMessage echoes raw kernel traffic in verbose mode
func (c *consoleObserver) onMessage(msg *protocol.Message) {
	if !c.verbose {
		return
	}
	c.print(c.formatter.FormatMessage(msg))
}

func (c *consoleObserver) print(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, line)
}
