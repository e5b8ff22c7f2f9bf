package testharness

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/iambrandonn/datascout/internal/config"
	"github.com/iambrandonn/datascout/internal/fsutil"
	"github.com/iambrandonn/datascout/internal/notebook"
	"github.com/iambrandonn/datascout/internal/runstate"
)

// Scenario defines a deterministic smoke-test session: scripted oracle
// replies run against the mock kernel.
type Scenario struct {
	Name       string
	Dataset    string
	MaxSteps   int
	Replies    []string
	KernelArgs []string
}

var (
	// ScenarioTwoSteps exercises the happy path plan -> step -> code twice,
	// the second step failing in the kernel.
	ScenarioTwoSteps = Scenario{
		Name:     "two-steps",
		Dataset:  "penguins.csv",
		MaxSteps: 2,
		Replies: []string{
			"1. Load the data\n2. Look for missing keys",
			"Load the data and count the rows",
			"```python\nprint rows 344\nresult 344\n```",
			"Look up a column that does not exist",
			"raise KeyError: 'beak'",
		},
	}
	// ScenarioKernelExit validates that a dying kernel ends the session and
	// still leaves a notebook behind.
	ScenarioKernelExit = Scenario{
		Name:     "kernel-exit",
		Dataset:  "penguins.csv",
		MaxSteps: 3,
		Replies: []string{
			"1. Load the data",
			"Load the data",
			"print partial\nexit",
		},
	}
)

// SmokeOptions configures RunSmoke.
type SmokeOptions struct {
	Scenario         Scenario
	DatascoutBinary  string
	MockKernelBinary string
	WorkspaceDir     string
	Env              map[string]string
}

// SmokeResult captures the outcome of a smoke scenario.
type SmokeResult struct {
	Scenario   Scenario
	Workspace  string
	Stdout     string
	Stderr     string
	RunErr     error
	RunState   *runstate.RunState
	Notebook   *notebook.Notebook
	ConfigPath string
	LedgerPath string
}

// RunSmoke executes a smoke scenario using the provided binaries.
func RunSmoke(ctx context.Context, opts SmokeOptions) (*SmokeResult, error) {
	if opts.DatascoutBinary == "" {
		return nil, fmt.Errorf("datascout binary path is required")
	}
	if opts.MockKernelBinary == "" {
		return nil, fmt.Errorf("mockkernel binary path is required")
	}
	if len(opts.Scenario.Replies) == 0 {
		return nil, fmt.Errorf("scenario %q has no oracle replies", opts.Scenario.Name)
	}

	workspace := opts.WorkspaceDir
	var err error
	if workspace == "" {
		workspace, err = os.MkdirTemp("", "datascout-smoke-")
		if err != nil {
			return nil, fmt.Errorf("failed to create workspace: %w", err)
		}
	} else {
		if err := os.MkdirAll(workspace, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create workspace directory: %w", err)
		}
	}

	scriptPath := filepath.Join(workspace, "replies.yaml")
	if err := writeScript(scriptPath, opts.Scenario.Replies); err != nil {
		return nil, err
	}

	cfg := config.GenerateDefault()
	cfg.Dataset = opts.Scenario.Dataset
	cfg.MaxSteps = opts.Scenario.MaxSteps
	cfg.Output = "notebook.ipynb"
	cfg.Oracle.Provider = "script"
	cfg.Oracle.Script = scriptPath
	cfg.Kernel.Cmd = append([]string{opts.MockKernelBinary}, opts.Scenario.KernelArgs...)
	cfg.Kernel.PollWaitMs = 200
	cfg.Kernel.ReadyTimeoutS = 10

	configPath := filepath.Join(workspace, "datascout-smoke.yaml")
	if err := cfg.SaveToFile(configPath); err != nil {
		return nil, err
	}

	stdOut := &bytes.Buffer{}
	stdErr := &bytes.Buffer{}

	cmd := exec.CommandContext(ctx, opts.DatascoutBinary, "run", "--config", configPath)
	cmd.Dir = workspace
	cmd.Stdout = stdOut
	cmd.Stderr = stdErr
	// caller overrides of dataset, model or provider must not leak into the scenario
	env := mergeEnv(os.Environ(), map[string]string{"FILE": "", "MODEL": "", "DATASCOUT_PROVIDER": ""})
	cmd.Env = mergeEnv(env, opts.Env)

	runErr := cmd.Run()

	result := &SmokeResult{
		Scenario:   opts.Scenario,
		Workspace:  workspace,
		Stdout:     stdOut.String(),
		Stderr:     stdErr.String(),
		RunErr:     runErr,
		ConfigPath: configPath,
	}

	// one session per workspace, so the only state file is ours
	states, _ := filepath.Glob(filepath.Join(workspace, cfg.StateDir, "state", "*.json"))
	if len(states) == 1 {
		if st, err := runstate.LoadRunState(states[0]); err == nil {
			result.RunState = st
			result.LedgerPath = filepath.Join(workspace, cfg.EventLogPath(st.SessionID))
		}
	}

	if nb, err := notebook.Read(filepath.Join(workspace, cfg.Output)); err == nil {
		result.Notebook = nb
	}

	return result, nil
}

func writeScript(path string, replies []string) error {
	data, err := yaml.Marshal(map[string][]string{"replies": replies})
	if err != nil {
		return fmt.Errorf("failed to marshal oracle script: %w", err)
	}
	return fsutil.AtomicWrite(path, data, fsutil.Private)
}

// DetectRepoRoot locates the repository root by searching for go.mod.
func DetectRepoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found (starting from %s)", dir)
		}
		dir = parent
	}
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	result := append([]string{}, base...)
	for k, v := range overrides {
		result = setEnv(result, k, v)
	}
	return result
}
