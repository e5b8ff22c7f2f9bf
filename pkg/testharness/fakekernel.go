package testharness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iambrandonn/datascout/internal/ndjson"
	"github.com/iambrandonn/datascout/internal/protocol"
)

// ErrExit is returned by FakeKernel.Run when executed code asked the kernel to
// die mid-burst
var ErrExit = errors.New("kernel exit requested")

// FakeKernel is an in-process scripted kernel speaking the NDJSON bridge
// protocol. Submitted code is not Python: each line is one directive.
//
//	print <text>        stream "<text>\n" on stdout
//	result <text>       execute_result with text/plain
//	display <mime>      display_data carrying only <mime>
//	raise <Name>: <v>   error with a colored traceback; later lines are skipped
//	sleep <duration>    block; an interrupt_request ends it with KeyboardInterrupt
//	stale               a stream message addressed to another request
//	unknown             a message of a type the client does not know
//	garbage             a line that is not JSON
//	oversized           a display_data line longer than ndjson.MaxMessageSize
//	exit                stop the kernel without finishing the burst
//
// Blank lines and anything else are ignored.
type FakeKernel struct {
	// ReadyDelay postpones the first status message
	ReadyDelay time.Duration

	// NoReady suppresses the first status message
	NoReady bool

	stdin   io.Reader
	stdout  io.Writer
	encoder *ndjson.Encoder
	logger  *slog.Logger
	session string

	mu         sync.Mutex
	count      int
	interrupts chan struct{}
}

// NewFakeKernel creates a fake kernel reading requests from stdin and writing
// messages to stdout
func NewFakeKernel(stdin io.Reader, stdout io.Writer, logger *slog.Logger) *FakeKernel {
	return &FakeKernel{
		stdin:      stdin,
		stdout:     stdout,
		encoder:    ndjson.NewEncoder(stdout, logger),
		logger:     logger,
		session:    uuid.NewString(),
		interrupts: make(chan struct{}, 1),
	}
}

// Run serves requests until stdin is closed, ctx is cancelled or an exit
// directive runs
func (k *FakeKernel) Run(ctx context.Context) error {
	if !k.NoReady {
		if k.ReadyDelay > 0 {
			select {
			case <-time.After(k.ReadyDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := k.send(k.status(protocol.ExecutionStateStarting, nil)); err != nil {
			return err
		}
		if err := k.send(k.status(protocol.ExecutionStateIdle, nil)); err != nil {
			return err
		}
	}

	requests := make(chan *protocol.Message)
	readErr := make(chan error, 1)
	go k.readRequests(ctx, requests, readErr)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case req := <-requests:
			if err := k.execute(ctx, req); err != nil {
				return err
			}
		}
	}
}

// readRequests decodes stdin. Interrupts are routed straight to the running
// execution; everything else is queued for Run.
func (k *FakeKernel) readRequests(ctx context.Context, requests chan<- *protocol.Message, readErr chan<- error) {
	decoder := ndjson.NewDecoder(k.stdin, k.logger)
	for {
		msg, err := decoder.DecodeMessage()
		if err != nil {
			if errors.Is(err, ndjson.ErrMalformed) {
				k.logger.Warn("ignoring malformed request", "error", err)
				continue
			}
			readErr <- err
			return
		}

		switch msg.Type() {
		case protocol.MessageTypeInterruptRequest:
			k.logger.Info("interrupt requested")
			select {
			case k.interrupts <- struct{}{}:
			default:
			}
		case protocol.MessageTypeExecuteRequest:
			select {
			case requests <- msg:
			case <-ctx.Done():
				return
			}
		default:
			k.logger.Warn("ignoring request", "msg_type", msg.Type())
		}
	}
}

func (k *FakeKernel) execute(ctx context.Context, req *protocol.Message) error {
	// an interrupt that arrived while idle does not carry over
	select {
	case <-k.interrupts:
	default:
	}

	k.mu.Lock()
	k.count++
	count := k.count
	k.mu.Unlock()

	code, _ := req.Content["code"].(string)
	parent := req.Header

	if err := k.send(k.status(protocol.ExecutionStateBusy, &parent)); err != nil {
		return err
	}
	if err := k.send(k.reply(protocol.MessageTypeExecuteInput, &parent, map[string]any{
		"code":            code,
		"execution_count": count,
	})); err != nil {
		return err
	}

	status := "ok"
	for _, line := range strings.Split(code, "\n") {
		stop, err := k.directive(ctx, &parent, count, strings.TrimSpace(line))
		if err != nil {
			return err
		}
		if stop {
			status = "error"
			break
		}
	}

	reply := k.reply(protocol.MessageTypeExecuteReply, &parent, map[string]any{
		"status":          status,
		"execution_count": count,
	})
	reply.Channel = protocol.ChannelShell
	if err := k.send(reply); err != nil {
		return err
	}
	return k.send(k.status(protocol.ExecutionStateIdle, &parent))
}

// directive runs one line of code and reports whether execution stops there
func (k *FakeKernel) directive(ctx context.Context, parent *protocol.Header, count int, line string) (bool, error) {
	verb, arg, _ := strings.Cut(line, " ")

	switch verb {
	case "print":
		return false, k.send(k.reply(protocol.MessageTypeStream, parent, map[string]any{
			"name": "stdout",
			"text": arg + "\n",
		}))

	case "result":
		return false, k.send(k.reply(protocol.MessageTypeExecuteResult, parent, map[string]any{
			"data":            map[string]any{protocol.MimeTextPlain: arg},
			"metadata":        map[string]any{},
			"execution_count": count,
		}))

	case "display":
		return false, k.send(k.reply(protocol.MessageTypeDisplayData, parent, map[string]any{
			"data":     map[string]any{arg: "payload"},
			"metadata": map[string]any{},
		}))

	case "raise":
		name, value, _ := strings.Cut(arg, ":")
		return true, k.raise(parent, strings.TrimSpace(name), strings.TrimSpace(value))

	case "sleep":
		d, err := time.ParseDuration(arg)
		if err != nil {
			return true, k.raise(parent, "ValueError", fmt.Sprintf("bad duration %q", arg))
		}
		select {
		case <-time.After(d):
			return false, nil
		case <-k.interrupts:
			return true, k.raise(parent, "KeyboardInterrupt", "")
		case <-ctx.Done():
			return true, ctx.Err()
		}

	case "stale":
		other := protocol.NewHeader(protocol.MessageTypeExecuteRequest, k.session)
		return false, k.send(k.reply(protocol.MessageTypeStream, &other, map[string]any{
			"name": "stdout",
			"text": "late output from an earlier request\n",
		}))

	case "unknown":
		return false, k.send(k.reply("comm_open", parent, map[string]any{"comm_id": uuid.NewString()}))

	case "garbage":
		_, err := io.WriteString(k.stdout, "{not json\n")
		return false, err

	case "oversized":
		// the encoder refuses lines this long, so write it raw
		data, err := json.Marshal(k.reply(protocol.MessageTypeDisplayData, parent, map[string]any{
			"data":     map[string]any{"image/png": strings.Repeat("A", ndjson.MaxMessageSize)},
			"metadata": map[string]any{},
		}))
		if err != nil {
			return true, err
		}
		_, err = k.stdout.Write(append(data, '\n'))
		return false, err

	case "exit":
		return true, ErrExit
	}

	return false, nil
}

func (k *FakeKernel) raise(parent *protocol.Header, name, value string) error {
	return k.send(k.reply(protocol.MessageTypeError, parent, map[string]any{
		"ename":  name,
		"evalue": value,
		"traceback": []any{
			"\x1b[0;31m---------------------------------------------------------------------------\x1b[0m",
			fmt.Sprintf("\x1b[0;31m%s\x1b[0m: %s", name, value),
		},
	}))
}

func (k *FakeKernel) status(state string, parent *protocol.Header) *protocol.Message {
	return k.reply(protocol.MessageTypeStatus, parent, map[string]any{"execution_state": state})
}

func (k *FakeKernel) reply(msgType protocol.MessageType, parent *protocol.Header, content map[string]any) *protocol.Message {
	msg := &protocol.Message{
		Header:  protocol.NewHeader(msgType, k.session),
		Channel: protocol.ChannelIOPub,
		Content: content,
	}
	msg.Header.Username = "kernel"
	if parent != nil {
		msg.ParentHeader = *parent
	}
	return msg
}

func (k *FakeKernel) send(msg *protocol.Message) error {
	if err := k.encoder.Encode(msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Type(), err)
	}
	return nil
}
