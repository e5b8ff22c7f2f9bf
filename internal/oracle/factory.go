package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Provider names
const (
	ProviderOpenAI  = "openai"
	ProviderGemini  = "gemini"
	ProviderCommand = "command"
	ProviderScript  = "script"
)

// Options selects and configures a provider
type Options struct {
	Provider          string
	Model             string
	APIKey            string
	BaseURL           string
	Command           []string // command provider: argv
	ScriptPath        string   // script provider: YAML replies file
	Timeout           time.Duration
	RequestsPerMinute int
}

// New builds the configured provider, wrapped in a rate limiter when a rate
// is set
func New(ctx context.Context, opts Options, logger *slog.Logger) (Oracle, error) {
	var (
		o   Oracle
		err error
	)

	switch strings.ToLower(opts.Provider) {
	case "", ProviderOpenAI:
		o = NewOpenAI(opts.APIKey, opts.Model, opts.BaseURL, opts.Timeout)

	case ProviderGemini:
		model := opts.Model
		if model == "" || strings.HasPrefix(model, "gpt-") {
			model = DefaultGeminiModel
		}
		o, err = NewGemini(ctx, opts.APIKey, model)

	case ProviderCommand:
		if len(opts.Command) == 0 {
			return nil, fmt.Errorf("command provider requires oracle.command")
		}
		cfg := DefaultCommandConfig(opts.Command[0])
		cfg.Args = opts.Command[1:]
		if opts.Timeout > 0 {
			cfg.Timeout = opts.Timeout
		}
		o = NewCommand(cfg, logger)

	case ProviderScript:
		o, err = LoadScript(opts.ScriptPath)

	default:
		return nil, fmt.Errorf("unknown oracle provider %q (expected openai, gemini, command or script)", opts.Provider)
	}
	if err != nil {
		return nil, err
	}

	logger.Debug("oracle provider ready", "provider", opts.Provider, "model", opts.Model, "requests_per_minute", opts.RequestsPerMinute)
	return Limited(o, opts.RequestsPerMinute), nil
}
