package eventlog

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/iambrandonn/datascout/internal/ndjson"
	"github.com/iambrandonn/datascout/internal/protocol"
)

func TestEventLogWriteRead(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "events", "session.ndjson")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	eventLog, err := NewEventLog(logPath, "sess-1", logger)
	if err != nil {
		t.Fatalf("failed to create event log: %v", err)
	}

	req := protocol.NewExecuteRequest("sess-1", "print('hi')")
	if err := eventLog.WriteRequest(req); err != nil {
		t.Fatalf("failed to write request: %v", err)
	}

	reply := &protocol.Message{
		Header:       protocol.NewHeader(protocol.MessageTypeStream, "kernel"),
		ParentHeader: req.Header,
		Content:      map[string]any{"name": "stdout", "text": "hi\n"},
	}
	if err := eventLog.WriteMessage(reply); err != nil {
		t.Fatalf("failed to write message: %v", err)
	}

	if err := eventLog.WriteOracle(Oracle{Prompt: "next?", Kind: "step", Reply: "Load", DurationMS: 12}); err != nil {
		t.Fatalf("failed to write oracle exchange: %v", err)
	}
	if err := eventLog.WriteOutcome(Outcome{Step: 1, ExecutionID: req.Header.MsgID, Status: "ok", Output: "hi\n"}); err != nil {
		t.Fatalf("failed to write outcome: %v", err)
	}
	if err := eventLog.WriteState("executing", map[string]any{"step": 1}); err != nil {
		t.Fatalf("failed to write state: %v", err)
	}

	if err := eventLog.Close(); err != nil {
		t.Fatalf("failed to close event log: %v", err)
	}

	file, err := os.Open(logPath)
	if err != nil {
		t.Fatalf("failed to open log file: %v", err)
	}
	defer file.Close()

	decoder := ndjson.NewDecoder(file, logger)

	var kinds []Kind
	for {
		var rec Record
		if err := decoder.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			t.Fatalf("failed to decode record: %v", err)
		}
		if rec.SessionID != "sess-1" {
			t.Errorf("session id = %q, want sess-1", rec.SessionID)
		}
		if rec.Time.IsZero() {
			t.Error("record without timestamp")
		}
		kinds = append(kinds, rec.Kind)

		if rec.Kind == KindMessage && rec.Message.ParentID() != req.Header.MsgID {
			t.Errorf("parent id not preserved: %q", rec.Message.ParentID())
		}
	}

	want := []Kind{KindRequest, KindMessage, KindOracle, KindOutcome, KindState}
	if len(kinds) != len(want) {
		t.Fatalf("got %d records, want %d", len(kinds), len(want))
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("record %d kind = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestEventLogAppends(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "session.ndjson")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for i := 0; i < 2; i++ {
		eventLog, err := NewEventLog(logPath, "s", logger)
		if err != nil {
			t.Fatalf("failed to create event log: %v", err)
		}
		if err := eventLog.WriteSession(map[string]any{"run": i}); err != nil {
			t.Fatalf("failed to write: %v", err)
		}
		eventLog.Close()
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 2 {
		t.Errorf("got %d lines, want 2", lines)
	}
}

func TestEventLogWriteAfterClose(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eventLog, err := NewEventLog(filepath.Join(t.TempDir(), "e.ndjson"), "s", logger)
	if err != nil {
		t.Fatalf("failed to create event log: %v", err)
	}

	if err := eventLog.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := eventLog.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
	if err := eventLog.WriteSession(nil); err == nil {
		t.Error("write after close should fail")
	}
}
