// Command mockkernel is a scripted execution backend for tests. It speaks
// the NDJSON bridge protocol on stdin/stdout; see testharness.FakeKernel for
// the directives it understands.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iambrandonn/datascout/pkg/testharness"
)

func main() {
	readyDelay := flag.Duration("ready-delay", 0, "Delay before the first status message")
	noReady := flag.Bool("no-ready", false, "Never report ready")
	flag.Parse()

	// stderr for diagnostics, stdout for protocol
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("mock kernel starting",
		"pid", os.Getpid(),
		"session", os.Getenv("DATASCOUT_KERNEL_SESSION"))

	kernel := testharness.NewFakeKernel(os.Stdin, os.Stdout, logger)
	kernel.ReadyDelay = *readyDelay
	kernel.NoReady = *noReady

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SIGINT is how a real kernel is interrupted; the mock takes
	// interrupt_request instead and ignores the signal.
	signal.Ignore(syscall.SIGINT)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal", "signal", sig)
		cancel()
	}()

	start := time.Now()
	err := kernel.Run(ctx)
	switch {
	case errors.Is(err, testharness.ErrExit):
		logger.Warn("exit requested by executed code")
		os.Exit(3)
	case err != nil && !errors.Is(err, context.Canceled):
		logger.Error("mock kernel failed", "error", err)
		os.Exit(1)
	}

	logger.Info("mock kernel stopped", "uptime", time.Since(start).Round(time.Millisecond))
}
