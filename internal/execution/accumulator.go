// Package execution folds the classified events of one burst into an Outcome
// and drives a channel reader to produce them.
package execution

import (
	"fmt"
	"sort"
	"strings"

	"github.com/iambrandonn/datascout/internal/classify"
	"github.com/iambrandonn/datascout/internal/protocol"
)

// Accumulator reduces one burst. The zero value is ready to use.
type Accumulator struct {
	out    strings.Builder
	err    *StructuredError
	result string
	hasRes bool
	events int
	done   bool

	// Skipped, if set, is told about events that contribute nothing
	Skipped func(classify.Event)
}

// Add folds one event and reports whether the burst has ended. Events after
// StatusIdle are ignored.
func (a *Accumulator) Add(evt classify.Event) bool {
	if a.done {
		return true
	}
	a.events++

	switch evt.Kind {
	case classify.KindResult:
		text, ok := a.payload("execute_result", evt)
		if ok {
			a.result = text
			a.hasRes = true
		}

	case classify.KindDisplay:
		a.payload("display_data", evt)

	case classify.KindStreamText:
		if evt.Malformed {
			a.line("non-text output (malformed stream)")
		} else {
			a.line(evt.Text)
		}

	case classify.KindError:
		if a.err == nil {
			a.err = &StructuredError{
				Summary: evt.Summary,
				Value:   evt.Value,
				Trace:   append([]string{}, evt.Trace...),
			}
		}

	case classify.KindStatusIdle:
		a.done = true

	default:
		if a.Skipped != nil {
			a.Skipped(evt)
		}
	}

	return a.done
}

// payload appends each content kind of a result or display payload and
// returns the plain-text value, if any
func (a *Accumulator) payload(event string, evt classify.Event) (string, bool) {
	if evt.Malformed {
		a.line(fmt.Sprintf("non-text output (malformed %s)", event))
		return "", false
	}

	var (
		plain    string
		hasPlain bool
	)
	if v, ok := evt.Payload[protocol.MimeTextPlain]; ok {
		if text, ok := classify.Text(v); ok {
			plain, hasPlain = text, true
			a.line(text)
		} else {
			a.line(fmt.Sprintf("non-text output (malformed %s)", event))
		}
	}

	kinds := make([]string, 0, len(evt.Payload))
	for kind := range evt.Payload {
		if kind != protocol.MimeTextPlain {
			kinds = append(kinds, kind)
		}
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		a.line(fmt.Sprintf("non-text output (%s)", kind))
	}

	return plain, hasPlain
}

func (a *Accumulator) line(s string) {
	a.out.WriteString(s)
	a.out.WriteString("\n")
}

// Done reports whether StatusIdle has been seen
func (a *Accumulator) Done() bool {
	return a.done
}

// Outcome returns what has been accumulated so far
func (a *Accumulator) Outcome() Outcome {
	return Outcome{
		Output:    a.out.String(),
		Error:     a.err,
		Result:    a.result,
		HasResult: a.hasRes,
		Events:    a.events,
	}
}

// Reduce folds a complete event sequence
func Reduce(events []classify.Event) Outcome {
	var acc Accumulator
	for _, evt := range events {
		if acc.Add(evt) {
			break
		}
	}
	return acc.Outcome()
}
