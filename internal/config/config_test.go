package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func validConfig() *Config {
	cfg := GenerateDefault()
	cfg.Oracle.APIKey = "sk-test"
	return cfg
}

func TestGenerateDefault(t *testing.T) {
	cfg := GenerateDefault()

	assert.Equal(t, "1.0", cfg.Version)
	assert.Equal(t, "bird_migration.csv", cfg.Dataset)
	assert.Equal(t, "data_exploration.ipynb", cfg.Output)
	assert.Equal(t, 10, cfg.MaxSteps)
	assert.Equal(t, "openai", cfg.Oracle.Provider)
	assert.Equal(t, "gpt-3.5-turbo", cfg.Oracle.Model)
	assert.Empty(t, cfg.Oracle.APIKey)
	assert.Equal(t, []string{"python3", "scripts/kernel_bridge.py"}, cfg.Kernel.Cmd)

	assert.Equal(t, time.Second, cfg.PollWait())
	assert.Equal(t, time.Minute, cfg.ReadyTimeout())
	assert.Equal(t, 2*time.Minute, cfg.OracleTimeout())
}

func TestGenerateDefaultMatchesGoldenFile(t *testing.T) {
	goldenPath := filepath.Join("..", "..", "testdata", "golden_config.json")
	goldenBytes, err := os.ReadFile(goldenPath)
	require.NoError(t, err, "Failed to read golden config file")

	var goldenCfg Config
	require.NoError(t, json.Unmarshal(goldenBytes, &goldenCfg), "Failed to parse golden config")

	generatedJSON, err := json.MarshalIndent(GenerateDefault(), "", "  ")
	require.NoError(t, err)

	goldenJSON, err := json.MarshalIndent(goldenCfg, "", "  ")
	require.NoError(t, err)

	assert.JSONEq(t, string(goldenJSON), string(generatedJSON),
		"Generated config should match golden file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing version", func(c *Config) { c.Version = "" }, "version"},
		{"negative steps", func(c *Config) { c.MaxSteps = -1 }, "max_steps"},
		{"openai without key", func(c *Config) { c.Oracle.APIKey = "" }, "OPENAI_API_KEY"},
		{"gemini without key", func(c *Config) { c.Oracle.Provider = "gemini"; c.Oracle.APIKey = "" }, "GEMINI_API_KEY"},
		{"command without argv", func(c *Config) { c.Oracle.Provider = "command" }, "oracle.command"},
		{"command", func(c *Config) { c.Oracle.Provider = "command"; c.Oracle.Command = []string{"llm"} }, ""},
		{"script without file", func(c *Config) { c.Oracle.Provider = "script" }, "oracle.script"},
		{"unknown provider", func(c *Config) { c.Oracle.Provider = "palm" }, "unknown oracle provider"},
		{"negative rate", func(c *Config) { c.Oracle.RequestsPerMinute = -5 }, "requests_per_minute"},
		{"empty kernel cmd", func(c *Config) { c.Kernel.Cmd = nil }, "cmd"},
		{"negative attempts", func(c *Config) { c.Kernel.MaxAttempts = -1 }, "max_attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Contains(t, err.Error(), "Hint:")
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{Dataset: "penguins.csv"}
	cfg.ApplyDefaults()

	assert.Equal(t, "penguins.csv", cfg.Dataset)
	assert.Equal(t, DefaultOutput, cfg.Output)
	assert.Equal(t, DefaultMaxSteps, cfg.MaxSteps)
	assert.Equal(t, DefaultModel, cfg.Oracle.Model)
	assert.NotEmpty(t, cfg.Kernel.Cmd)
}

func TestApplyEnv(t *testing.T) {
	cfg := GenerateDefault()
	cfg.ApplyEnv(env(map[string]string{
		"FILE":               "penguins.csv",
		"MODEL":              "gpt-4o",
		"DATASCOUT_PROVIDER": "Gemini",
	}))

	assert.Equal(t, "penguins.csv", cfg.Dataset)
	assert.Equal(t, "gpt-4o", cfg.Oracle.Model)
	assert.Equal(t, "gemini", cfg.Oracle.Provider)

	// unset variables leave values alone
	cfg.ApplyEnv(env(nil))
	assert.Equal(t, "penguins.csv", cfg.Dataset)
}

func TestResolveAPIKey(t *testing.T) {
	vars := env(map[string]string{"OPENAI_API_KEY": "sk-env", "GEMINI_API_KEY": "g-env"})

	cfg := GenerateDefault()
	cfg.Oracle.APIKey = "sk-file"
	cfg.ResolveAPIKey(vars)
	assert.Equal(t, "sk-env", cfg.Oracle.APIKey, "environment wins over the file")

	cfg.Oracle.Provider = "gemini"
	cfg.ResolveAPIKey(vars)
	assert.Equal(t, "g-env", cfg.Oracle.APIKey)

	cfg = GenerateDefault()
	cfg.Oracle.Provider = "script"
	cfg.ResolveAPIKey(vars)
	assert.Empty(t, cfg.Oracle.APIKey)
}

func TestLoadFromFile_ValidFile(t *testing.T) {
	cfg, err := LoadFromFile(filepath.Join("..", "..", "testdata", "golden_config.json"))
	require.NoError(t, err)
	assert.Equal(t, "1.0", cfg.Version)
	assert.Equal(t, DefaultDataset, cfg.Dataset)
}

func TestLoadFromFile_YAML(t *testing.T) {
	cfg, err := LoadFromFile(filepath.Join("..", "..", "testdata", "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "penguins.csv", cfg.Dataset)
	assert.Equal(t, 3, cfg.MaxSteps)
	assert.Equal(t, "script", cfg.Oracle.Provider)
	assert.Equal(t, "replies.yaml", cfg.Oracle.Script)
	assert.Equal(t, []string{"./mockkernel"}, cfg.Kernel.Cmd)
	assert.Equal(t, "debug", cfg.Kernel.Env["KERNEL_LOG"])
}

func TestLoadFromFile_NonExistent(t *testing.T) {
	cfg, err := LoadFromFile("/nonexistent/path/config.json")
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoadFromFile_InvalidJSON(t *testing.T) {
	invalidFile := filepath.Join(t.TempDir(), "invalid.json")
	require.NoError(t, os.WriteFile(invalidFile, []byte("{invalid json"), 0600))

	cfg, err := LoadFromFile(invalidFile)
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoadLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datascout.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dataset: file.csv\noracle:\n  model: from-file\n"), 0600))

	cfg, err := Load(path, env(map[string]string{"MODEL": "from-env"}))
	require.NoError(t, err)

	assert.Equal(t, "file.csv", cfg.Dataset, "file overrides defaults")
	assert.Equal(t, "from-env", cfg.Oracle.Model, "environment overrides file")
	assert.Equal(t, DefaultOutput, cfg.Output, "empty fields fall back to defaults")
	assert.Equal(t, DefaultProvider, cfg.Oracle.Provider)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("", env(map[string]string{"FILE": "x.csv"}))
	require.NoError(t, err)
	assert.Equal(t, "x.csv", cfg.Dataset)
	assert.Equal(t, DefaultModel, cfg.Oracle.Model)
}

func TestSaveToFile(t *testing.T) {
	for _, name := range []string{"datascout.json", "datascout.yaml"} {
		t.Run(name, func(t *testing.T) {
			cfg := GenerateDefault()
			cfg.Kernel.Env = map[string]string{"A": "b"}
			configPath := filepath.Join(t.TempDir(), name)

			require.NoError(t, cfg.SaveToFile(configPath))

			loaded, err := LoadFromFile(configPath)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)

			info, err := os.Stat(configPath)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
		})
	}
}

func TestPaths(t *testing.T) {
	cfg := GenerateDefault()
	assert.Equal(t, filepath.Join(".datascout", "state", "abc.json"), cfg.StatePath("abc"))
	assert.Equal(t, filepath.Join(".datascout", "events", "abc.ndjson"), cfg.EventLogPath("abc"))
}
