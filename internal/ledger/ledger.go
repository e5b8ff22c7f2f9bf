package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/iambrandonn/datascout/internal/classify"
	"github.com/iambrandonn/datascout/internal/eventlog"
	"github.com/iambrandonn/datascout/internal/execution"
	"github.com/iambrandonn/datascout/internal/ndjson"
	"github.com/iambrandonn/datascout/internal/protocol"
)

// Ledger is a parsed session event log
type Ledger struct {
	SessionID string
	Records   []eventlog.Record
	Requests  []*protocol.Message
	Messages  []*protocol.Message
	Oracle    []eventlog.Oracle
	Outcomes  []eventlog.Outcome
}

// Burst is the inbound traffic answering one execute request
type Burst struct {
	ExecutionID string
	Code        string
	Messages    []*protocol.Message
}

// Replayed is a burst reduced again through the classifier and accumulator
type Replayed struct {
	Burst
	Outcome execution.Outcome
}

// ReadLedger reads and parses an NDJSON ledger file
func ReadLedger(path string) (*Ledger, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer file.Close()

	ledger := &Ledger{}

	scanner := bufio.NewScanner(file)
	// Display payloads can be large; match the NDJSON protocol limit
	scanner.Buffer(make([]byte, 64*1024), ndjson.MaxMessageSize)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec eventlog.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("line %d: failed to parse record: %w", lineNum, err)
		}

		if ledger.SessionID == "" {
			ledger.SessionID = rec.SessionID
		}
		ledger.Records = append(ledger.Records, rec)

		switch rec.Kind {
		case eventlog.KindRequest:
			if rec.Message == nil {
				return nil, fmt.Errorf("line %d: request record without message", lineNum)
			}
			ledger.Requests = append(ledger.Requests, rec.Message)

		case eventlog.KindMessage:
			if rec.Message == nil {
				return nil, fmt.Errorf("line %d: message record without message", lineNum)
			}
			ledger.Messages = append(ledger.Messages, rec.Message)

		case eventlog.KindOracle:
			if rec.Oracle != nil {
				ledger.Oracle = append(ledger.Oracle, *rec.Oracle)
			}

		case eventlog.KindOutcome:
			if rec.Outcome != nil {
				ledger.Outcomes = append(ledger.Outcomes, *rec.Outcome)
			}

		case eventlog.KindSession, eventlog.KindState:

		default:
			return nil, fmt.Errorf("line %d: unknown record kind: %s", lineNum, rec.Kind)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading ledger: %w", err)
	}

	return ledger, nil
}

// Dataset returns the dataset path and digest recorded at session start.
// The digest is empty when the dataset was not readable locally.
func (l *Ledger) Dataset() (path, sha string) {
	for _, rec := range l.Records {
		if rec.Kind != eventlog.KindSession || rec.Data["event"] != "start" {
			continue
		}
		path, _ = rec.Data["dataset"].(string)
		sha, _ = rec.Data["dataset_sha256"].(string)
		return path, sha
	}
	return "", ""
}

// Bursts groups inbound messages by the execute request they answer, in
// request order. Messages answering no recorded execute request are dropped.
func (l *Ledger) Bursts() []Burst {
	index := make(map[string]int)
	bursts := make([]Burst, 0)

	for _, req := range l.Requests {
		if req.Type() != protocol.MessageTypeExecuteRequest {
			continue
		}
		code, _ := req.Content["code"].(string)
		index[req.Header.MsgID] = len(bursts)
		bursts = append(bursts, Burst{ExecutionID: req.Header.MsgID, Code: code})
	}

	for _, msg := range l.Messages {
		if i, ok := index[msg.ParentID()]; ok {
			bursts[i].Messages = append(bursts[i].Messages, msg)
		}
	}

	return bursts
}

// Replay re-reduces every burst
func (l *Ledger) Replay() []Replayed {
	bursts := l.Bursts()
	out := make([]Replayed, len(bursts))

	for i, b := range bursts {
		events := make([]classify.Event, len(b.Messages))
		for j, msg := range b.Messages {
			events[j] = classify.Classify(msg)
		}
		outcome := execution.Reduce(events)
		outcome.ExecutionID = b.ExecutionID
		out[i] = Replayed{Burst: b, Outcome: outcome}
	}

	return out
}

// Pending returns execute requests whose burst never reached idle, which is
// where an interrupted or crashed session stopped
func (l *Ledger) Pending() []Burst {
	pending := make([]Burst, 0)
	for _, b := range l.Bursts() {
		idle := false
		for _, msg := range b.Messages {
			if classify.Classify(msg).Kind == classify.KindStatusIdle {
				idle = true
				break
			}
		}
		if !idle {
			pending = append(pending, b)
		}
	}
	return pending
}
