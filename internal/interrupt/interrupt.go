// Package interrupt routes user interrupts to the code currently executing.
//
// The first SIGINT while a step runs cancels that step only; the session
// carries on with the next step. A SIGINT with no step running, or a
// SIGTERM, cancels the whole session.
package interrupt

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"syscall"
)

// Controller hands out one step context at a time
type Controller struct {
	mu            sync.Mutex
	stepCancel    context.CancelFunc
	stepID        uint64
	sessionCancel context.CancelFunc
	logger        *slog.Logger
}

// NewController creates a controller. sessionCancel ends the whole session.
func NewController(sessionCancel context.CancelFunc, logger *slog.Logger) *Controller {
	return &Controller{sessionCancel: sessionCancel, logger: logger}
}

// Step derives the context of one execution from parent. The returned
// release must be called when the step ends.
func (c *Controller) Step(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	c.mu.Lock()
	c.stepID++
	id := c.stepID
	c.stepCancel = cancel
	c.mu.Unlock()

	return ctx, func() {
		c.mu.Lock()
		if c.stepID == id {
			c.stepCancel = nil
		}
		c.mu.Unlock()
		cancel()
	}
}

// Interrupt cancels the running step and reports whether one was running
func (c *Controller) Interrupt() bool {
	c.mu.Lock()
	cancel := c.stepCancel
	c.stepCancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// Abort cancels the session
func (c *Controller) Abort() {
	c.Interrupt()
	if c.sessionCancel != nil {
		c.sessionCancel()
	}
}

// Handle applies one signal
func (c *Controller) Handle(sig os.Signal) {
	if sig == os.Interrupt && c.Interrupt() {
		c.logger.Warn("interrupt received, stopping current step")
		return
	}
	c.logger.Warn("signal received, ending session", "signal", sig.String())
	c.Abort()
}

// Watch handles signals from sigs until ctx is done
func (c *Controller) Watch(ctx context.Context, sigs <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-sigs:
			if !ok {
				return
			}
			c.Handle(sig)
		}
	}
}

// Signals lists the signals Watch expects to be notified of
var Signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
