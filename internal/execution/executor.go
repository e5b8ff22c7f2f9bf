package execution

import (
	"context"
	"log/slog"

	"github.com/iambrandonn/datascout/internal/channel"
	"github.com/iambrandonn/datascout/internal/classify"
	"github.com/iambrandonn/datascout/internal/metrics"
)

// Executor runs code through a reader and reduces the burst
type Executor struct {
	reader *channel.Reader
	logger *slog.Logger
}

// NewExecutor creates an executor over reader
func NewExecutor(reader *channel.Reader, logger *slog.Logger) *Executor {
	return &Executor{reader: reader, logger: logger}
}

// Execute submits code and accumulates events until the burst ends.
//
// An outcome is always returned, holding whatever arrived before the burst
// ended. The error is the reader's, set only for a failed submit or a
// non-retryable receive error; cancellation of ctx is reported through
// Outcome.Interrupted instead.
func (e *Executor) Execute(ctx context.Context, code string) (Outcome, error) {
	acc := &Accumulator{
		Skipped: func(evt classify.Event) {
			if evt.Kind == classify.KindUnknown {
				e.logger.Debug("ignoring unknown message", "msg_type", evt.Raw.Type())
			}
		},
	}

	summary, err := e.reader.Read(ctx, code, func(evt classify.Event) bool {
		return !acc.Add(evt)
	})

	outcome := acc.Outcome()
	outcome.ExecutionID = summary.ExecutionID
	outcome.Interrupted = summary.Interrupted
	outcome.Exhausted = summary.Exhausted
	outcome.Duration = summary.Duration

	if summary.ExecutionID != "" {
		metrics.ExecutionDuration.Observe(summary.Duration.Seconds())
	}
	metrics.StepsTotal.WithLabelValues(outcome.Status()).Inc()

	e.logger.Debug("execution finished",
		"execution_id", outcome.ExecutionID,
		"status", outcome.Status(),
		"events", summary.Events,
		"attempts", summary.Attempts,
		"stale", summary.Stale,
		"duration", summary.Duration)

	return outcome, err
}
