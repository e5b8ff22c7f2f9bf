package eventlog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/iambrandonn/datascout/internal/ndjson"
	"github.com/iambrandonn/datascout/internal/protocol"
)

// Kind tags a ledger record
type Kind string

const (
	KindSession Kind = "session" // session start and end
	KindState   Kind = "state"   // orchestrator transition
	KindOracle  Kind = "oracle"  // one prompt/reply exchange
	KindRequest Kind = "request" // outbound kernel message
	KindMessage Kind = "message" // inbound kernel message
	KindOutcome Kind = "outcome" // reduced execution result
)

// Record is one line of the ledger
type Record struct {
	Kind      Kind              `json:"kind"`
	Time      time.Time         `json:"ts"`
	SessionID string            `json:"session_id,omitempty"`
	State     string            `json:"state,omitempty"`
	Message   *protocol.Message `json:"message,omitempty"`
	Oracle    *Oracle           `json:"oracle,omitempty"`
	Outcome   *Outcome          `json:"outcome,omitempty"`
	Data      map[string]any    `json:"data,omitempty"`
}

// Oracle records one planning exchange
type Oracle struct {
	Prompt     string `json:"prompt"`
	Kind       string `json:"kind"`
	Reply      string `json:"reply,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Outcome records the reduced result of a step
type Outcome struct {
	Step        int    `json:"step"`
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
	Output      string `json:"output"`
	Error       string `json:"error,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
}

// EventLog writes session records to an NDJSON file as they happen
type EventLog struct {
	file      *os.File
	encoder   *ndjson.Encoder
	logger    *slog.Logger
	sessionID string
	mu        sync.Mutex
}

// NewEventLog opens logPath for appending
func NewEventLog(logPath, sessionID string, logger *slog.Logger) (*EventLog, error) {
	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &EventLog{
		file:      file,
		encoder:   ndjson.NewEncoder(file, logger),
		logger:    logger,
		sessionID: sessionID,
	}, nil
}

func (l *EventLog) write(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("event log closed")
	}

	rec.Time = time.Now().UTC()
	rec.SessionID = l.sessionID
	return l.encoder.Encode(rec)
}

// WriteSession records a session lifecycle point
func (l *EventLog) WriteSession(data map[string]any) error {
	return l.write(Record{Kind: KindSession, Data: data})
}

// WriteState records an orchestrator transition
func (l *EventLog) WriteState(state string, data map[string]any) error {
	return l.write(Record{Kind: KindState, State: state, Data: data})
}

// WriteOracle records a planning exchange
func (l *EventLog) WriteOracle(o Oracle) error {
	return l.write(Record{Kind: KindOracle, Oracle: &o})
}

// WriteRequest records an outbound kernel message
func (l *EventLog) WriteRequest(msg *protocol.Message) error {
	return l.write(Record{Kind: KindRequest, Message: msg})
}

// WriteMessage records an inbound kernel message
func (l *EventLog) WriteMessage(msg *protocol.Message) error {
	return l.write(Record{Kind: KindMessage, Message: msg})
}

// WriteOutcome records a step outcome
func (l *EventLog) WriteOutcome(o Outcome) error {
	return l.write(Record{Kind: KindOutcome, Outcome: &o})
}

// Close closes the event log file
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}
