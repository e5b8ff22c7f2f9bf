// Package channeltest provides a scripted in-memory channel for tests.
package channeltest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/iambrandonn/datascout/internal/channel"
	"github.com/iambrandonn/datascout/internal/protocol"
)

// Response is one scripted Receive result. Do, if set, runs before the
// result is returned.
type Response struct {
	Msg *protocol.Message
	Err error
	Do  func()
}

// Fake is a channel.Channel whose inbound traffic is scripted per
// submission. Each Submit starts the next scripted burst; when a burst runs
// dry Receive reports channel.ErrNoMessage without sleeping.
//
// Messages scripted without a parent header are stamped with the msg_id of
// the submission that started their burst.
type Fake struct {
	mu         sync.Mutex
	bursts     [][]Response
	queue      []Response
	current    string
	seq        int
	submitted  []string
	interrupts int

	// SubmitErr, if set, is returned by every Submit
	SubmitErr error

	// InterruptErr, if set, is returned by every Interrupt
	InterruptErr error
}

// New creates a fake with one burst per argument
func New(bursts ...[]Response) *Fake {
	return &Fake{bursts: bursts}
}

// Script appends a burst
func (f *Fake) Script(burst ...Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bursts = append(f.bursts, burst)
}

// Submit implements channel.Channel
func (f *Fake) Submit(ctx context.Context, code string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SubmitErr != nil {
		return "", f.SubmitErr
	}

	f.seq++
	f.current = fmt.Sprintf("exec-%d", f.seq)
	f.submitted = append(f.submitted, code)

	f.queue = nil
	if len(f.bursts) > 0 {
		f.queue = f.bursts[0]
		f.bursts = f.bursts[1:]
	}

	return f.current, nil
}

// Receive implements channel.Channel
func (f *Fake) Receive(ctx context.Context, wait time.Duration) (*protocol.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	if len(f.queue) == 0 {
		f.mu.Unlock()
		return nil, channel.ErrNoMessage
	}
	resp := f.queue[0]
	f.queue = f.queue[1:]
	current := f.current
	f.mu.Unlock()

	if resp.Do != nil {
		resp.Do()
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	if resp.Msg != nil && resp.Msg.ParentHeader.MsgID == "" {
		stamped := *resp.Msg
		stamped.ParentHeader = protocol.Header{MsgID: current, MsgType: protocol.MessageTypeExecuteRequest}
		return &stamped, nil
	}
	return resp.Msg, nil
}

// Interrupt implements channel.Interrupter
func (f *Fake) Interrupt(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupts++
	return f.InterruptErr
}

// Submitted returns the code of every submission so far
func (f *Fake) Submitted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.submitted...)
}

// Interrupts returns how many times Interrupt was called
func (f *Fake) Interrupts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interrupts
}

// Message wraps msg in a Response
func Message(msg *protocol.Message) Response {
	return Response{Msg: msg}
}

// Fail scripts a Receive error
func Fail(err error) Response {
	return Response{Err: err}
}

// Empty scripts one expired wait
func Empty() Response {
	return Response{Err: channel.ErrNoMessage}
}

func build(msgType protocol.MessageType, content map[string]any) *protocol.Message {
	return &protocol.Message{
		Header:  protocol.NewHeader(msgType, "channeltest"),
		Content: content,
	}
}

// Busy builds a status busy message
func Busy() Response {
	return Message(build(protocol.MessageTypeStatus, map[string]any{"execution_state": protocol.ExecutionStateBusy}))
}

// Idle builds a status idle message
func Idle() Response {
	return Message(build(protocol.MessageTypeStatus, map[string]any{"execution_state": protocol.ExecutionStateIdle}))
}

// Input builds an execute_input message
func Input(code string) Response {
	return Message(build(protocol.MessageTypeExecuteInput, map[string]any{"code": code}))
}

// Stream builds a stdout stream message
func Stream(text string) Response {
	return Message(build(protocol.MessageTypeStream, map[string]any{"name": "stdout", "text": text}))
}

// Result builds an execute_result message
func Result(data map[string]any) Response {
	return Message(build(protocol.MessageTypeExecuteResult, map[string]any{"data": data, "execution_count": 1}))
}

// Display builds a display_data message
func Display(data map[string]any) Response {
	return Message(build(protocol.MessageTypeDisplayData, map[string]any{"data": data}))
}

// Error builds an error message
func Error(ename, evalue string, traceback ...string) Response {
	tb := make([]any, len(traceback))
	for i, line := range traceback {
		tb[i] = line
	}
	return Message(build(protocol.MessageTypeError, map[string]any{
		"ename":     ename,
		"evalue":    evalue,
		"traceback": tb,
	}))
}

// Burst wraps the usual busy, input, ..., idle frame around body
func Burst(code string, body ...Response) []Response {
	out := []Response{Busy(), Input(code)}
	out = append(out, body...)
	return append(out, Idle())
}
