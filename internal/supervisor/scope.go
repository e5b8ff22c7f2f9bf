package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Acquire starts the backend and waits until it reports ready. On failure
// the process is already stopped.
func Acquire(ctx context.Context, s *KernelSupervisor, readyTimeout time.Duration) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	if err := s.WaitReady(ctx, readyTimeout); err != nil {
		release(s)
		return fmt.Errorf("failed to acquire kernel: %w", err)
	}
	return nil
}

// Run acquires the backend, hands it to fn and releases it exactly once when
// fn returns or panics
func Run(ctx context.Context, s *KernelSupervisor, readyTimeout time.Duration, fn func(context.Context, *KernelSupervisor) error) error {
	if err := Acquire(ctx, s, readyTimeout); err != nil {
		return err
	}
	defer release(s)

	return fn(ctx, s)
}

func release(s *KernelSupervisor) {
	ctx, cancel := context.WithTimeout(context.Background(), StopTimeout+time.Second)
	defer cancel()

	if err := s.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("failed to release kernel", "error", err)
	}
}
