package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/iambrandonn/datascout/internal/channel"
	"github.com/iambrandonn/datascout/internal/checksum"
	"github.com/iambrandonn/datascout/internal/config"
	"github.com/iambrandonn/datascout/internal/conversation"
	"github.com/iambrandonn/datascout/internal/eventlog"
	"github.com/iambrandonn/datascout/internal/execution"
	"github.com/iambrandonn/datascout/internal/interrupt"
	"github.com/iambrandonn/datascout/internal/metrics"
	"github.com/iambrandonn/datascout/internal/observability"
	"github.com/iambrandonn/datascout/internal/oracle"
	"github.com/iambrandonn/datascout/internal/orchestrator"
	"github.com/iambrandonn/datascout/internal/protocol"
	"github.com/iambrandonn/datascout/internal/session"
	"github.com/iambrandonn/datascout/internal/supervisor"
	"github.com/iambrandonn/datascout/internal/workspace"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Explore a dataset and save the session as a notebook",
	Long: `Start an exploration session. The oracle proposes a plan, then one step
at a time asks for code which runs on the kernel. Press Ctrl-C once to stop
the running step, again (or with no step running) to end the session; the
notebook is written either way.`,
	RunE: runRun,
}

func init() {
	addRunFlags(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("dataset", "f", "", "CSV file to explore (overrides config and $FILE)")
	cmd.Flags().StringP("model", "m", "", "Oracle model (overrides config and $MODEL)")
	cmd.Flags().String("provider", "", "Oracle provider: openai, gemini, command or script")
	cmd.Flags().String("script", "", "Replay oracle replies from a YAML file (implies --provider script)")
	cmd.Flags().StringP("output", "o", "", "Notebook to write")
	cmd.Flags().Int("max-steps", 0, "Number of steps to run")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().BoolP("verbose", "v", false, "Print every kernel message")
}

func runRun(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	cfg, cfgPath, err := loadConfig(cmd, os.Getenv)
	if err != nil {
		return err
	}
	if cfgPath != "" {
		logger.Info("loaded configuration", "path", cfgPath)
	}

	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		stop := serveMetrics(addr, logger)
		defer stop()
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	interrupts := interrupt.NewController(cancel, logger)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, interrupt.Signals...)
	defer signal.Stop(sigs)
	go interrupts.Watch(ctx, sigs)

	verbose, _ := cmd.Flags().GetBool("verbose")
	return runSession(ctx, cfg, interrupts, newConsoleObserver(out, verbose), logger)
}

// runSession wires one session: oracle, kernel, ledger and orchestrator
func runSession(ctx context.Context, cfg *config.Config, interrupts *interrupt.Controller, console *consoleObserver, logger *slog.Logger) error {
	o, err := oracle.New(ctx, oracleOptions(cfg), logger)
	if err != nil {
		return fmt.Errorf("failed to create oracle: %w", err)
	}

	conv := conversation.New(oracle.SystemPrompt)
	sess := session.New(cfg.Dataset, conv)
	logger.Info("session started", "session_id", sess.ID, "dataset", cfg.Dataset)

	if err := workspace.Initialize(cfg.StateDir); err != nil {
		return err
	}

	var dataset *checksum.Fingerprint
	if fp, err := checksum.FingerprintFile(cfg.Dataset); err == nil {
		dataset = &fp
	} else {
		// the kernel may see files this process cannot
		logger.Warn("dataset not readable locally, skipping fingerprint", "dataset", cfg.Dataset, "error", err)
	}

	evtLog, err := eventlog.NewEventLog(cfg.EventLogPath(sess.ID), sess.ID, logger)
	if err != nil {
		return fmt.Errorf("failed to create event log: %w", err)
	}
	defer evtLog.Close()

	sup := supervisor.NewKernelSupervisor(cfg.Kernel.Cmd, cfg.Kernel.Env, logger)
	sup.OnSend = func(msg *protocol.Message) {
		if err := evtLog.WriteRequest(msg); err != nil {
			logger.Warn("failed to log request", "error", err)
		}
	}

	err = supervisor.Run(ctx, sup, cfg.ReadyTimeout(), func(ctx context.Context, sup *supervisor.KernelSupervisor) error {
		reader := channel.NewReader(sup, logger)
		reader.Wait = cfg.PollWait()
		reader.MaxAttempts = cfg.Kernel.MaxAttempts
		reader.OnMessage = func(msg *protocol.Message) {
			if err := evtLog.WriteMessage(msg); err != nil {
				logger.Warn("failed to log message", "error", err)
			}
			console.onMessage(msg)
		}

		planner := oracle.NewPlanner(o, conv, logger)
		planner.OnExchange = func(ex oracle.Exchange) {
			rec := eventlog.Oracle{
				Prompt:     ex.Prompt,
				Kind:       ex.Kind,
				Reply:      ex.Reply,
				DurationMS: ex.Duration.Milliseconds(),
			}
			if ex.Err != nil {
				rec.Error = ex.Err.Error()
			}
			if err := evtLog.WriteOracle(rec); err != nil {
				logger.Warn("failed to log oracle exchange", "error", err)
			}
		}

		orch := orchestrator.New(planner, execution.NewExecutor(reader, logger), sess, orchestrator.Options{
			MaxSteps:     cfg.MaxSteps,
			NotebookPath: cfg.Output,
			StatePath:    cfg.StatePath(sess.ID),
			Observer:     observability.NewMultiObserver(console, observability.NewSlogObserver(logger)),
			EventLog:     evtLog,
			Interrupts:   interrupts,
			Dataset:      dataset,
		}, logger)

		_, err := orch.Run(ctx)
		if errors.Is(err, channel.ErrClosed) {
			for _, line := range sup.StderrTail() {
				logger.Error("kernel stderr", "line", line)
			}
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("session %s failed: %w", sess.ID, err)
	}
	return nil
}

func oracleOptions(cfg *config.Config) oracle.Options {
	return oracle.Options{
		Provider:          cfg.Oracle.Provider,
		Model:             cfg.Oracle.Model,
		APIKey:            cfg.Oracle.APIKey,
		BaseURL:           cfg.Oracle.BaseURL,
		Command:           cfg.Oracle.Command,
		ScriptPath:        cfg.Oracle.Script,
		Timeout:           cfg.OracleTimeout(),
		RequestsPerMinute: cfg.Oracle.RequestsPerMinute,
	}
}

// loadConfig layers defaults, the config file, the environment and flags,
// then validates the result
func loadConfig(cmd *cobra.Command, getenv func(string) string) (*config.Config, string, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, "", err
	}
	if configPath == "" {
		if configPath, err = findConfigInTree(); err != nil {
			return nil, "", err
		}
	}

	cfg, err := config.Load(configPath, getenv)
	if err != nil {
		return nil, "", err
	}

	if err := applyFlags(cmd, cfg); err != nil {
		return nil, "", err
	}
	cfg.ResolveAPIKey(getenv)

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, configPath, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	stringFlags := map[string]*string{
		"dataset":  &cfg.Dataset,
		"model":    &cfg.Oracle.Model,
		"provider": &cfg.Oracle.Provider,
		"output":   &cfg.Output,
		"script":   &cfg.Oracle.Script,
	}
	for name, dst := range stringFlags {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetString(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	if flags.Changed("script") && !flags.Changed("provider") {
		cfg.Oracle.Provider = oracle.ProviderScript
	}

	if flags.Changed("max-steps") {
		n, err := flags.GetInt("max-steps")
		if err != nil {
			return err
		}
		cfg.MaxSteps = n
	}
	return nil
}

// findConfigInTree searches up the directory tree for a datascout config
func findConfigInTree() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}

	for {
		for _, name := range []string{config.DefaultFileName, "datascout.yaml", "datascout.yml"} {
			configPath := filepath.Join(dir, name)
			if _, err := os.Stat(configPath); err == nil {
				return configPath, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// serveMetrics exposes /metrics until the returned stop is called
func serveMetrics(addr string, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
