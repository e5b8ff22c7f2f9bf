// Package channel reads one execution burst from an asynchronous kernel
// message channel.
//
// A Reader submits code, then polls the channel with a bounded wait until the
// backend reports idle or the caller cancels. Gaps between messages are
// normal for long-running cells, so an empty wait is retried without limit
// unless Reader.MaxAttempts says otherwise. Receive errors in the retryable
// set are swallowed and retried; anything else is returned.
package channel

import (
	"context"
	"errors"
	"time"

	"github.com/iambrandonn/datascout/internal/protocol"
)

var (
	// ErrNoMessage reports that a bounded wait expired with nothing to read
	ErrNoMessage = errors.New("no message available")

	// ErrClosed reports that the backend side of the channel is gone
	ErrClosed = errors.New("channel closed")
)

// Channel is a bidirectional path to an execution backend
type Channel interface {
	// Submit sends code for execution and returns the request's msg_id
	Submit(ctx context.Context, code string) (string, error)

	// Receive waits at most wait for the next inbound message. It returns
	// ErrNoMessage when the wait expires.
	Receive(ctx context.Context, wait time.Duration) (*protocol.Message, error)
}

// Interrupter is implemented by channels that can ask the backend to stop
// the code currently running
type Interrupter interface {
	Interrupt(ctx context.Context) error
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return "transient: " + e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as channel noise that the reader should retry
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsRetryable reports whether err belongs to the retryable set: an empty wait
// or an error marked Transient.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrNoMessage) {
		return true
	}
	var te *transientError
	return errors.As(err, &te)
}
