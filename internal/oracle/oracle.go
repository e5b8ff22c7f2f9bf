// Package oracle talks to the planning oracle: the language model that
// proposes the exploration plan, each next step and the code to run.
package oracle

import (
	"context"
	"errors"
	"strings"

	"github.com/iambrandonn/datascout/internal/conversation"
)

// ErrEmptyResponse is returned when the oracle answers with nothing
var ErrEmptyResponse = errors.New("oracle returned an empty response")

// Oracle completes a conversation with the next assistant message
type Oracle interface {
	Complete(ctx context.Context, entries []conversation.Entry) (string, error)
}

// Func adapts a function to Oracle
type Func func(ctx context.Context, entries []conversation.Entry) (string, error)

func (f Func) Complete(ctx context.Context, entries []conversation.Entry) (string, error) {
	return f(ctx, entries)
}

// Prompts sent to the oracle
const (
	SystemPrompt = "You are a data scientist and you have been tasked with exploring a dataset represented by CSV, using Jupyter Notebook."
	PlanPrompt   = "I have a dataset represented by CSV to explore. CSV file name is %s. What is your plan? Give me the list of steps only and no other information."
	StepPrompt   = "Given the history of our conversation, what is the next step?"
	CodePrompt   = "Given the step you just decided, give me the piece of Python code to run. Raw code only, no other information. Remove formatting like ```python and ```."
)

// StripCodeFences removes a leading ``` line (with or without a language tag)
// and a trailing ``` line. Models add them despite being asked not to.
func StripCodeFences(code string) string {
	trimmed := strings.TrimSpace(code)
	lines := strings.Split(trimmed, "\n")

	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[0]), "```") {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}

	return strings.TrimRight(strings.Join(lines, "\n"), " \t\r\n")
}
