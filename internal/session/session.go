// Package session holds the state of one exploration run.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iambrandonn/datascout/internal/conversation"
	"github.com/iambrandonn/datascout/internal/execution"
)

// ErrClosed is returned when adding to a closed session
var ErrClosed = errors.New("session closed")

// Step is one executed plan step
type Step struct {
	Index       int                        `json:"index"`
	Description string                     `json:"description"`
	Code        string                     `json:"code"`
	Output      string                     `json:"output"`
	Result      string                     `json:"result,omitempty"`
	Error       *execution.StructuredError `json:"error,omitempty"`
	Interrupted bool                       `json:"interrupted,omitempty"`
	Duration    time.Duration              `json:"duration"`
}

// NewStep builds a step from the outcome of executing code
func NewStep(description, code string, outcome execution.Outcome) Step {
	return Step{
		Description: description,
		Code:        code,
		Output:      outcome.Output,
		Result:      outcome.Result,
		Error:       outcome.Error,
		Interrupted: outcome.Interrupted,
		Duration:    outcome.Duration,
	}
}

// Session is one run against one dataset
type Session struct {
	ID        string
	Dataset   string
	StartedAt time.Time

	mu     sync.Mutex
	conv   *conversation.Context
	plan   string
	steps  []Step
	closed bool
}

// New creates an open session
func New(dataset string, conv *conversation.Context) *Session {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &Session{
		ID:        id.String(),
		Dataset:   dataset,
		StartedAt: time.Now().UTC(),
		conv:      conv,
	}
}

// Conversation returns the session's conversation context
func (s *Session) Conversation() *conversation.Context {
	return s.conv
}

// SetPlan records the exploration plan
func (s *Session) SetPlan(plan string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.plan = plan
	return nil
}

// Plan returns the recorded plan
func (s *Session) Plan() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan
}

// AddStep appends a step and assigns its index
func (s *Session) AddStep(step Step) (Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Step{}, ErrClosed
	}
	step.Index = len(s.steps) + 1
	s.steps = append(s.steps, step)
	return step, nil
}

// Steps returns a copy of the steps so far
func (s *Session) Steps() []Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Step(nil), s.steps...)
}

// Close ends the session. Closing twice is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Closed reports whether Close has been called
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
