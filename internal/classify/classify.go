// Package classify maps kernel protocol messages onto a closed set of events.
//
// Classification is pure and total: every message, including nil and
// malformed ones, yields exactly one Event and nothing is ever returned as an
// error. Payloads are carried through untouched; reducing them into output
// text is the accumulator's job.
package classify

import (
	"fmt"
	"strings"

	"github.com/iambrandonn/datascout/internal/protocol"
)

// Kind tags an Event
type Kind int

const (
	KindUnknown Kind = iota
	KindInputStarted
	KindResult
	KindDisplay
	KindStatusIdle
	KindStatusOther
	KindStreamText
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindInputStarted:
		return "input_started"
	case KindResult:
		return "result"
	case KindDisplay:
		return "display"
	case KindStatusIdle:
		return "status_idle"
	case KindStatusOther:
		return "status_other"
	case KindStreamText:
		return "stream_text"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is the classified form of one inbound message. Which fields are set
// depends on Kind:
//
//	KindResult, KindDisplay  Payload (content-kind → value)
//	KindStatusOther          State
//	KindStreamText           Text, Stream
//	KindError                Summary, Value, Trace
//	KindUnknown              Raw
//
// Malformed is set when the message had the right type but a field of the
// wrong shape.
type Event struct {
	Kind      Kind
	Payload   map[string]any
	State     string
	Text      string
	Stream    string
	Summary   string
	Value     string
	Trace     []string
	Malformed bool
	Raw       *protocol.Message
}

// Classify maps one inbound message to exactly one Event
func Classify(msg *protocol.Message) Event {
	if msg == nil {
		return Event{Kind: KindUnknown}
	}

	switch msg.Header.MsgType {
	case protocol.MessageTypeExecuteInput:
		return Event{Kind: KindInputStarted}

	case protocol.MessageTypeExecuteResult:
		return payloadEvent(KindResult, msg)

	case protocol.MessageTypeDisplayData:
		return payloadEvent(KindDisplay, msg)

	case protocol.MessageTypeStatus:
		state, ok := msg.Content["execution_state"].(string)
		if ok && state == protocol.ExecutionStateIdle {
			return Event{Kind: KindStatusIdle}
		}
		return Event{Kind: KindStatusOther, State: state, Malformed: !ok}

	case protocol.MessageTypeStream:
		name, _ := msg.Content["name"].(string)
		text, ok := Text(msg.Content["text"])
		return Event{Kind: KindStreamText, Text: text, Stream: name, Malformed: !ok}

	case protocol.MessageTypeError:
		return errorEvent(msg)

	default:
		return Event{Kind: KindUnknown, Raw: msg}
	}
}

func payloadEvent(kind Kind, msg *protocol.Message) Event {
	data, ok := msg.Content["data"].(map[string]any)
	return Event{Kind: kind, Payload: data, Malformed: !ok}
}

func errorEvent(msg *protocol.Message) Event {
	evt := Event{Kind: KindError}

	ename, nameOK := msg.Content["ename"].(string)
	evalue, _ := msg.Content["evalue"].(string)
	if !nameOK || ename == "" {
		ename = "Error"
	}
	evt.Summary = ename
	evt.Value = evalue

	switch tb := msg.Content["traceback"].(type) {
	case []any:
		evt.Trace = make([]string, 0, len(tb))
		for _, line := range tb {
			s, ok := line.(string)
			if !ok {
				s = fmt.Sprint(line)
				evt.Malformed = true
			}
			evt.Trace = append(evt.Trace, s)
		}
	case []string:
		evt.Trace = append([]string(nil), tb...)
	case nil:
		evt.Trace = []string{}
	default:
		evt.Trace = []string{fmt.Sprint(tb)}
		evt.Malformed = true
	}

	return evt
}

// Text interprets a text field. Strings pass through; a list of strings (the
// notebook multiline form) is joined. Anything else reports false.
func Text(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []any:
		var b strings.Builder
		for _, part := range t {
			s, ok := part.(string)
			if !ok {
				return "", false
			}
			b.WriteString(s)
		}
		return b.String(), true
	case []string:
		return strings.Join(t, ""), true
	default:
		return "", false
	}
}
