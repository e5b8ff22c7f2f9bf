package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iambrandonn/datascout/internal/fsutil"
)

// DefaultFileName is the config file looked up when --config is not given
const DefaultFileName = "datascout.json"

// Defaults for fields left empty
const (
	DefaultDataset  = "bird_migration.csv"
	DefaultModel    = "gpt-3.5-turbo"
	DefaultOutput   = "data_exploration.ipynb"
	DefaultProvider = "openai"
	DefaultMaxSteps = 10
)

// Config represents the datascout configuration file
type Config struct {
	Version  string `json:"version" yaml:"version"`
	Dataset  string `json:"dataset" yaml:"dataset"`
	Output   string `json:"output" yaml:"output"`
	MaxSteps int    `json:"max_steps" yaml:"max_steps"`
	StateDir string `json:"state_dir" yaml:"state_dir"`
	Oracle   Oracle `json:"oracle" yaml:"oracle"`
	Kernel   Kernel `json:"kernel" yaml:"kernel"`
}

// Oracle configures the language model that plans and writes code
type Oracle struct {
	Provider          string   `json:"provider" yaml:"provider"`
	Model             string   `json:"model" yaml:"model"`
	APIKey            string   `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL           string   `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Command           []string `json:"command,omitempty" yaml:"command,omitempty"`
	Script            string   `json:"script,omitempty" yaml:"script,omitempty"`
	TimeoutS          int      `json:"timeout_s" yaml:"timeout_s"`
	RequestsPerMinute int      `json:"requests_per_minute" yaml:"requests_per_minute"`
}

// Kernel configures the execution backend
type Kernel struct {
	Cmd           []string          `json:"cmd" yaml:"cmd"`
	Env           map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	PollWaitMs    int               `json:"poll_wait_ms" yaml:"poll_wait_ms"`
	MaxAttempts   int               `json:"max_attempts" yaml:"max_attempts"`
	ReadyTimeoutS int               `json:"ready_timeout_s" yaml:"ready_timeout_s"`
}

// GenerateDefault creates a new Config with default values
func GenerateDefault() *Config {
	return &Config{
		Version:  "1.0",
		Dataset:  DefaultDataset,
		Output:   DefaultOutput,
		MaxSteps: DefaultMaxSteps,
		StateDir: ".datascout",
		Oracle: Oracle{
			Provider:          DefaultProvider,
			Model:             DefaultModel,
			TimeoutS:          120,
			RequestsPerMinute: 0,
		},
		Kernel: Kernel{
			Cmd:           []string{"python3", "scripts/kernel_bridge.py"},
			PollWaitMs:    1000,
			MaxAttempts:   0,
			ReadyTimeoutS: 60,
		},
	}
}

// ApplyDefaults fills empty fields with their default values
func (c *Config) ApplyDefaults() {
	d := GenerateDefault()

	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Dataset == "" {
		c.Dataset = d.Dataset
	}
	if c.Output == "" {
		c.Output = d.Output
	}
	if c.MaxSteps == 0 {
		c.MaxSteps = d.MaxSteps
	}
	if c.Oracle.Provider == "" {
		c.Oracle.Provider = d.Oracle.Provider
	}
	if c.Oracle.Model == "" {
		c.Oracle.Model = d.Oracle.Model
	}
	if c.Oracle.TimeoutS == 0 {
		c.Oracle.TimeoutS = d.Oracle.TimeoutS
	}
	if len(c.Kernel.Cmd) == 0 {
		c.Kernel.Cmd = d.Kernel.Cmd
	}
	if c.Kernel.PollWaitMs == 0 {
		c.Kernel.PollWaitMs = d.Kernel.PollWaitMs
	}
	if c.Kernel.ReadyTimeoutS == 0 {
		c.Kernel.ReadyTimeoutS = d.Kernel.ReadyTimeoutS
	}
}

// ApplyEnv overrides fields from the environment: FILE (dataset), MODEL and
// DATASCOUT_PROVIDER. Credentials are resolved separately by ResolveAPIKey
// once the provider is final.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("FILE"); v != "" {
		c.Dataset = v
	}
	if v := getenv("MODEL"); v != "" {
		c.Oracle.Model = v
	}
	if v := getenv("DATASCOUT_PROVIDER"); v != "" {
		c.Oracle.Provider = strings.ToLower(v)
	}
}

// ResolveAPIKey takes the credential of the configured provider from the
// environment when set there
func (c *Config) ResolveAPIKey(getenv func(string) string) {
	var name string
	switch c.Oracle.Provider {
	case "openai":
		name = "OPENAI_API_KEY"
	case "gemini":
		name = "GEMINI_API_KEY"
	default:
		return
	}
	if v := getenv(name); v != "" {
		c.Oracle.APIKey = v
	}
}

// Validate checks the configuration for errors and returns user-friendly error messages
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("configuration error: missing required field 'version'\n\nHint: Add a version field like:\n  \"version\": \"1.0\"")
	}

	if c.MaxSteps < 0 {
		return fmt.Errorf("configuration error: invalid 'max_steps' value: %d\n\nHint: Use a positive number of steps, or 0 for the default of %d:\n  \"max_steps\": 10", c.MaxSteps, DefaultMaxSteps)
	}

	if err := c.Oracle.Validate(); err != nil {
		return err
	}

	return c.Kernel.Validate()
}

// Validate checks the oracle configuration for errors
func (o *Oracle) Validate() error {
	switch o.Provider {
	case "openai":
		if o.APIKey == "" {
			return fmt.Errorf("configuration error: oracle provider 'openai' has no API key\n\nHint: Export your key:\n  export OPENAI_API_KEY=sk-...")
		}
	case "gemini":
		if o.APIKey == "" {
			return fmt.Errorf("configuration error: oracle provider 'gemini' has no API key\n\nHint: Export your key:\n  export GEMINI_API_KEY=...")
		}
	case "command":
		if len(o.Command) == 0 {
			return fmt.Errorf("configuration error: oracle provider 'command' has empty 'oracle.command' field\n\nHint: Specify the CLI that answers prompts on stdin:\n  \"oracle\": {\n    \"provider\": \"command\",\n    \"command\": [\"llm\", \"-m\", \"gpt-4o\"]\n  }")
		}
	case "script":
		if o.Script == "" {
			return fmt.Errorf("configuration error: oracle provider 'script' has empty 'oracle.script' field\n\nHint: Point it at a YAML file of canned replies:\n  \"oracle\": {\n    \"provider\": \"script\",\n    \"script\": \"replies.yaml\"\n  }")
		}
	default:
		return fmt.Errorf("configuration error: unknown oracle provider '%s'\n\nHint: Use one of openai, gemini, command or script:\n  \"oracle\": {\n    \"provider\": \"openai\"\n  }", o.Provider)
	}

	if o.RequestsPerMinute < 0 {
		return fmt.Errorf("configuration error: invalid 'oracle.requests_per_minute' value: %d\n\nHint: Use 0 to disable rate limiting", o.RequestsPerMinute)
	}
	return nil
}

// Validate checks the kernel configuration for errors
func (k *Kernel) Validate() error {
	if len(k.Cmd) == 0 {
		return fmt.Errorf("configuration error: kernel has empty 'cmd' field\n\nHint: Specify the command that starts the kernel bridge:\n  \"kernel\": {\n    \"cmd\": [\"python3\", \"scripts/kernel_bridge.py\"]\n  }")
	}
	if k.MaxAttempts < 0 {
		return fmt.Errorf("configuration error: invalid 'kernel.max_attempts' value: %d\n\nHint: Use 0 to wait for the kernel without limit", k.MaxAttempts)
	}
	return nil
}

// OracleTimeout returns the per-request oracle timeout
func (c *Config) OracleTimeout() time.Duration {
	return time.Duration(c.Oracle.TimeoutS) * time.Second
}

// PollWait returns the bounded wait of one receive
func (c *Config) PollWait() time.Duration {
	return time.Duration(c.Kernel.PollWaitMs) * time.Millisecond
}

// ReadyTimeout returns how long to wait for the kernel to come up
func (c *Config) ReadyTimeout() time.Duration {
	return time.Duration(c.Kernel.ReadyTimeoutS) * time.Second
}

// StatePath returns the run state file of a session
func (c *Config) StatePath(sessionID string) string {
	return filepath.Join(c.StateDir, "state", sessionID+".json")
}

// EventLogPath returns the event ledger of a session
func (c *Config) EventLogPath(sessionID string) string {
	return filepath.Join(c.StateDir, "events", sessionID+".ndjson")
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadFromFile loads a configuration from a JSON or YAML file, chosen by
// extension
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if isYAML(path) {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return &cfg, nil
}

// SaveToFile writes the configuration as JSON or YAML, chosen by extension,
// with 0600 permissions
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := fsutil.AtomicWrite(path, data, fsutil.Private); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}

	return nil
}

// Load builds the effective configuration: defaults, then the file at path
// (skipped when path is empty), then the environment. Flags are applied by
// the caller afterwards.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg := GenerateDefault()
	if path != "" {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		cfg.ApplyDefaults()
	}

	cfg.ApplyEnv(getenv)
	return cfg, nil
}
