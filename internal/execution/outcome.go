package execution

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// StructuredError is the backend's report of a failed execution
type StructuredError struct {
	Summary string   // error name, e.g. ZeroDivisionError
	Value   string   // error message
	Trace   []string // traceback lines, possibly with terminal escapes
}

func (e *StructuredError) Error() string {
	if e.Value == "" {
		return e.Summary
	}
	return e.Summary + ": " + e.Value
}

// Outcome is the reduced result of one execution burst
type Outcome struct {
	ExecutionID string
	Output      string
	Error       *StructuredError
	Result      string // plain-text value of the last execute_result
	HasResult   bool
	Interrupted bool
	Exhausted   bool
	Events      int
	Duration    time.Duration
}

// Failed reports whether the backend recorded an error
func (o Outcome) Failed() bool {
	return o.Error != nil
}

// Status is the short label used for metrics and the event log
func (o Outcome) Status() string {
	switch {
	case o.Interrupted:
		return "interrupted"
	case o.Exhausted:
		return "exhausted"
	case o.Error != nil:
		return "error"
	default:
		return "ok"
	}
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// StripANSI removes terminal escape sequences, which kernels put in
// tracebacks for coloring
func StripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

// Verbalize renders the outcome as the message fed back to the oracle
func (o Outcome) Verbalize() string {
	errText := "None"
	if o.Error != nil {
		errText = o.Error.Error()
		if len(o.Error.Trace) > 0 {
			lines := make([]string, len(o.Error.Trace))
			for i, line := range o.Error.Trace {
				lines[i] = StripANSI(line)
			}
			errText += "\n" + strings.Join(lines, "\n")
		}
	}

	msg := fmt.Sprintf("This is the execution result: Output: %s. Error: %s", o.Output, errText)

	switch {
	case o.Interrupted:
		msg += "\nThe execution was interrupted by the user before it finished."
	case o.Exhausted:
		msg += "\nThe execution did not finish in time; output may be incomplete."
	}
	return msg
}
