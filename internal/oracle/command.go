package oracle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/iambrandonn/datascout/internal/conversation"
)

// CommandConfig describes an external LLM CLI
type CommandConfig struct {
	Path           string
	Args           []string
	Timeout        time.Duration
	MaxOutputBytes int64
}

// DefaultCommandConfig returns limits suited to interactive CLIs
func DefaultCommandConfig(path string) CommandConfig {
	return CommandConfig{
		Path:           path,
		Timeout:        180 * time.Second,
		MaxOutputBytes: 1024 * 1024,
	}
}

// Command completes conversations by running an external CLI with the
// rendered conversation on stdin and reading the reply from stdout
type Command struct {
	cfg    CommandConfig
	logger *slog.Logger
}

// NewCommand creates a command provider
func NewCommand(cfg CommandConfig, logger *slog.Logger) *Command {
	return &Command{cfg: cfg, logger: logger}
}

// Complete implements Oracle
func (c *Command) Complete(ctx context.Context, entries []conversation.Entry) (string, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.cfg.Path, c.cfg.Args...)
	cmd.Stdin = strings.NewReader(conversation.Render(entries))
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	limit := c.cfg.MaxOutputBytes
	if limit <= 0 {
		limit = 1024 * 1024
	}
	cmd.Stdout = &cappedWriter{w: &stdout, limit: limit}
	cmd.Stderr = &stderr

	err := cmd.Run()
	if stderr.Len() > 0 {
		c.logger.Debug("oracle command stderr", "command", c.cfg.Path, "stderr", strings.TrimSpace(stderr.String()))
	}
	if cw := cmd.Stdout.(*cappedWriter); cw.exceeded {
		return "", fmt.Errorf("oracle command output exceeds size limit of %d bytes", limit)
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("oracle command %s: %w", c.cfg.Path, ctx.Err())
		}
		return "", fmt.Errorf("oracle command %s: %w", c.cfg.Path, err)
	}

	return strings.TrimSpace(stdout.String()), nil
}

type cappedWriter struct {
	w        io.Writer
	limit    int64
	written  int64
	exceeded bool
}

func (c *cappedWriter) Write(p []byte) (int, error) {
	if c.written+int64(len(p)) > c.limit {
		c.exceeded = true
		return 0, fmt.Errorf("output exceeds %d bytes", c.limit)
	}
	n, err := c.w.Write(p)
	c.written += int64(n)
	return n, err
}
