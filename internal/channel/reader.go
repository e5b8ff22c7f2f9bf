package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iambrandonn/datascout/internal/classify"
	"github.com/iambrandonn/datascout/internal/metrics"
	"github.com/iambrandonn/datascout/internal/protocol"
)

// DefaultWait is the bounded wait of a single receive attempt
const DefaultWait = time.Second

// interruptTimeout bounds the best-effort interrupt_request sent on cancel
const interruptTimeout = 2 * time.Second

// Summary describes how a burst ended
type Summary struct {
	ExecutionID string
	Events      int           // classified events delivered to the consumer
	Attempts    int           // receive attempts, including empty waits
	Stale       int           // messages dropped as belonging to another request
	Interrupted bool          // ended by cancellation of the step context
	Exhausted   bool          // ended by MaxAttempts
	Duration    time.Duration // submit to termination
}

// Reader drives the receive loop for one code submission at a time
type Reader struct {
	ch     Channel
	logger *slog.Logger

	// Wait bounds each receive attempt. Zero means DefaultWait.
	Wait time.Duration

	// MaxAttempts bounds the number of receive attempts per burst.
	// Zero means unbounded: the loop ends only on idle or cancellation.
	MaxAttempts int

	// OnMessage, if set, sees every accepted inbound message before it is
	// classified
	OnMessage func(*protocol.Message)
}

// NewReader creates a reader over ch
func NewReader(ch Channel, logger *slog.Logger) *Reader {
	return &Reader{
		ch:     ch,
		logger: logger,
		Wait:   DefaultWait,
	}
}

// Read submits code and delivers each classified event to fn in arrival
// order. fn returning false stops the loop early. The loop also stops after
// delivering a StatusIdle event, when ctx is cancelled, or when MaxAttempts
// is exhausted; none of those is an error.
//
// The returned error is non-nil only when Submit fails or Receive returns an
// error outside the retryable set. The summary is valid in every case.
func (r *Reader) Read(ctx context.Context, code string, fn func(classify.Event) bool) (Summary, error) {
	start := time.Now()
	var summary Summary

	if ctx.Err() != nil {
		summary.Interrupted = true
		return summary, nil
	}

	id, err := r.ch.Submit(ctx, code)
	if err != nil {
		summary.Duration = time.Since(start)
		return summary, fmt.Errorf("failed to submit code: %w", err)
	}
	summary.ExecutionID = id

	r.logger.Debug("code submitted", "execution_id", id, "code_bytes", len(code))

	for {
		if ctx.Err() != nil {
			r.interrupt(id)
			summary.Interrupted = true
			break
		}

		if r.MaxAttempts > 0 && summary.Attempts >= r.MaxAttempts {
			r.logger.Warn("receive attempts exhausted",
				"execution_id", id,
				"attempts", summary.Attempts)
			summary.Exhausted = true
			break
		}

		summary.Attempts++
		msg, err := r.ch.Receive(ctx, r.wait())
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			if IsRetryable(err) {
				if errors.Is(err, ErrNoMessage) {
					metrics.ReceiveAttempts.WithLabelValues("empty").Inc()
				} else {
					metrics.ReceiveAttempts.WithLabelValues("transient").Inc()
					r.logger.Debug("transient channel error, retrying",
						"execution_id", id,
						"error", err)
				}
				continue
			}

			metrics.ReceiveAttempts.WithLabelValues("failed").Inc()
			summary.Duration = time.Since(start)
			return summary, fmt.Errorf("failed to receive message: %w", err)
		}

		if parent := msg.ParentID(); parent != "" && parent != id {
			metrics.ReceiveAttempts.WithLabelValues("stale").Inc()
			r.logger.Debug("dropping message for another request",
				"execution_id", id,
				"parent_id", parent,
				"msg_type", msg.Type())
			summary.Stale++
			continue
		}

		metrics.ReceiveAttempts.WithLabelValues("message").Inc()
		if r.OnMessage != nil {
			r.OnMessage(msg)
		}

		evt := classify.Classify(msg)
		summary.Events++
		metrics.MessagesTotal.WithLabelValues(evt.Kind.String()).Inc()

		if !fn(evt) || evt.Kind == classify.KindStatusIdle {
			break
		}
	}

	summary.Duration = time.Since(start)
	return summary, nil
}

// Collect reads one burst and returns its events as a slice
func Collect(ctx context.Context, r *Reader, code string) ([]classify.Event, Summary, error) {
	var events []classify.Event
	summary, err := r.Read(ctx, code, func(evt classify.Event) bool {
		events = append(events, evt)
		return true
	})
	return events, summary, err
}

func (r *Reader) wait() time.Duration {
	if r.Wait <= 0 {
		return DefaultWait
	}
	return r.Wait
}

// interrupt forwards the cancellation to the backend when it supports it.
// Failure only costs us the backend finishing the cell on its own.
func (r *Reader) interrupt(id string) {
	r.logger.Info("execution interrupted", "execution_id", id)

	in, ok := r.ch.(Interrupter)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), interruptTimeout)
	defer cancel()

	if err := in.Interrupt(ctx); err != nil {
		r.logger.Warn("failed to forward interrupt to backend", "execution_id", id, "error", err)
	}
}
