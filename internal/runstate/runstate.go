package runstate

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/iambrandonn/datascout/internal/fsutil"
)

// Status represents the overall state of a session
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Stage mirrors the orchestrator state
type Stage string

const (
	StagePlanning  Stage = "planning"
	StageStepping  Stage = "stepping"
	StageCoding    Stage = "coding"
	StageExecuting Stage = "executing"
	StageDone      Stage = "done"
	StageFailed    Stage = "failed"
)

// RunState is the persisted progress of one session
type RunState struct {
	SessionID       string     `json:"session_id"`
	Status          Status     `json:"status"`
	Dataset         string     `json:"dataset"`
	CurrentStage    Stage      `json:"current_stage"`
	StepsCompleted  int        `json:"steps_completed"`
	MaxSteps        int        `json:"max_steps"`
	StartedAt       time.Time  `json:"started_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	LastExecutionID string     `json:"last_execution_id,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	Notebook        string     `json:"notebook,omitempty"`
}

// NewRunState creates a running state
func NewRunState(sessionID, dataset string, maxSteps int) *RunState {
	now := time.Now().UTC()
	return &RunState{
		SessionID:    sessionID,
		Status:       StatusRunning,
		Dataset:      dataset,
		CurrentStage: StagePlanning,
		MaxSteps:     maxSteps,
		StartedAt:    now,
		UpdatedAt:    now,
	}
}

// SaveRunState writes run state to disk atomically
func SaveRunState(state *RunState, path string) error {
	return fsutil.AtomicWriteJSON(path, state, fsutil.Private)
}

// LoadRunState reads run state from disk
func LoadRunState(path string) (*RunState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run state: %w", err)
	}

	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run state: %w", err)
	}

	return &state, nil
}

// MarkCompleted marks the session as completed
func (s *RunState) MarkCompleted() {
	s.Status = StatusCompleted
	s.CurrentStage = StageDone
	s.finish()
}

// MarkFailed marks the session as failed with err
func (s *RunState) MarkFailed(err error) {
	s.Status = StatusFailed
	s.CurrentStage = StageFailed
	if err != nil {
		s.LastError = err.Error()
	}
	s.finish()
}

// MarkAborted marks the session as cancelled by the user
func (s *RunState) MarkAborted() {
	s.Status = StatusAborted
	s.finish()
}

func (s *RunState) finish() {
	now := time.Now().UTC()
	s.CompletedAt = &now
	s.UpdatedAt = now
}

// SetStage updates the current stage
func (s *RunState) SetStage(stage Stage) {
	s.CurrentStage = stage
	s.UpdatedAt = time.Now().UTC()
}

// RecordStep records a completed step
func (s *RunState) RecordStep(executionID string) {
	s.StepsCompleted++
	s.LastExecutionID = executionID
	s.UpdatedAt = time.Now().UTC()
}
