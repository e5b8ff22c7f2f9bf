package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/iambrandonn/datascout/internal/conversation"
	"github.com/iambrandonn/datascout/internal/metrics"
)

// Exchange is one prompt and its reply, reported to Planner.OnExchange
type Exchange struct {
	Prompt   string
	Kind     string // plan, step, code
	Reply    string
	Err      error
	Duration time.Duration
}

// Planner asks the oracle for the plan, steps and code, keeping the
// conversation in order: each prompt is appended before the call and each
// reply after it.
type Planner struct {
	oracle Oracle
	conv   *conversation.Context
	logger *slog.Logger

	// OnExchange, if set, sees every completed exchange
	OnExchange func(Exchange)
}

// NewPlanner creates a planner over conv
func NewPlanner(o Oracle, conv *conversation.Context, logger *slog.Logger) *Planner {
	return &Planner{oracle: o, conv: conv, logger: logger}
}

// Plan asks for the exploration plan of dataset
func (p *Planner) Plan(ctx context.Context, dataset string) (string, error) {
	return p.ask(ctx, "plan", fmt.Sprintf(PlanPrompt, dataset))
}

// NextStep asks for the next step
func (p *Planner) NextStep(ctx context.Context) (string, error) {
	return p.ask(ctx, "step", StepPrompt)
}

// Code asks for the code of the step just decided, with fences removed
func (p *Planner) Code(ctx context.Context) (string, error) {
	reply, err := p.ask(ctx, "code", CodePrompt)
	if err != nil {
		return "", err
	}
	return StripCodeFences(reply), nil
}

// Observe appends an execution report as a user message
func (p *Planner) Observe(report string) {
	p.conv.Append(conversation.RoleUser, report)
}

func (p *Planner) ask(ctx context.Context, kind, prompt string) (string, error) {
	p.conv.Append(conversation.RoleUser, prompt)

	start := time.Now()
	reply, err := p.oracle.Complete(ctx, p.conv.Entries())
	elapsed := time.Since(start)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = ErrEmptyResponse
	}

	metrics.OracleDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	if p.OnExchange != nil {
		p.OnExchange(Exchange{Prompt: prompt, Kind: kind, Reply: reply, Err: err, Duration: elapsed})
	}

	if err != nil {
		metrics.OracleRequests.WithLabelValues(kind, "error").Inc()
		p.logger.Error("oracle request failed", "prompt", kind, "error", err)
		return "", fmt.Errorf("oracle %s request failed: %w", kind, err)
	}

	metrics.OracleRequests.WithLabelValues(kind, "ok").Inc()
	p.logger.Debug("oracle replied", "prompt", kind, "reply_bytes", len(reply), "duration", elapsed)

	p.conv.Append(conversation.RoleAssistant, reply)
	return reply, nil
}
