package testharness

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iambrandonn/datascout/internal/ndjson"
	"github.com/iambrandonn/datascout/internal/protocol"
)

type kernelConn struct {
	requests *ndjson.Encoder
	messages *ndjson.Decoder
	stdin    *io.PipeWriter
	done     chan error
}

func startFakeKernel(t *testing.T) *kernelConn {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	conn := &kernelConn{
		requests: ndjson.NewEncoder(inW, logger),
		messages: ndjson.NewDecoder(outR, logger),
		stdin:    inW,
		done:     make(chan error, 1),
	}

	kernel := NewFakeKernel(inR, outW, logger)
	go func() {
		err := kernel.Run(ctx)
		outW.Close()
		conn.done <- err
	}()

	t.Cleanup(func() {
		cancel()
		inW.Close()
		outR.Close()
	})
	return conn
}

// until reads messages up to and including the first one of type stop
func (c *kernelConn) until(t *testing.T, stop protocol.MessageType, state string) []*protocol.Message {
	t.Helper()

	var msgs []*protocol.Message
	for {
		msg, err := c.messages.DecodeMessage()
		require.NoError(t, err)
		msgs = append(msgs, msg)
		if msg.Type() == stop && (state == "" || msg.Content["execution_state"] == state) {
			return msgs
		}
	}
}

func types(msgs []*protocol.Message) []protocol.MessageType {
	out := make([]protocol.MessageType, len(msgs))
	for i, msg := range msgs {
		out[i] = msg.Type()
	}
	return out
}

func TestFakeKernelReadyThenExecute(t *testing.T) {
	conn := startFakeKernel(t)

	ready := conn.until(t, protocol.MessageTypeStatus, protocol.ExecutionStateIdle)
	assert.Equal(t, protocol.ExecutionStateStarting, ready[0].Content["execution_state"])

	req := protocol.NewExecuteRequest("test", "print hello\nresult 42")
	require.NoError(t, conn.requests.Encode(req))

	burst := conn.until(t, protocol.MessageTypeStatus, protocol.ExecutionStateIdle)
	assert.Equal(t, []protocol.MessageType{
		protocol.MessageTypeStatus,
		protocol.MessageTypeExecuteInput,
		protocol.MessageTypeStream,
		protocol.MessageTypeExecuteResult,
		protocol.MessageTypeExecuteReply,
		protocol.MessageTypeStatus,
	}, types(burst))

	for _, msg := range burst {
		assert.Equal(t, req.Header.MsgID, msg.ParentID())
	}
	assert.Equal(t, "hello\n", burst[2].Content["text"])

	// closing stdin ends the kernel cleanly
	require.NoError(t, conn.stdin.Close())
	select {
	case err := <-conn.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("kernel did not stop after stdin closed")
	}
}

func TestFakeKernelRaiseStopsExecution(t *testing.T) {
	conn := startFakeKernel(t)
	conn.until(t, protocol.MessageTypeStatus, protocol.ExecutionStateIdle)

	require.NoError(t, conn.requests.Encode(protocol.NewExecuteRequest("test", "raise KeyError: 'x'\nprint never")))
	burst := conn.until(t, protocol.MessageTypeStatus, protocol.ExecutionStateIdle)

	var reply *protocol.Message
	for _, msg := range burst {
		assert.NotEqual(t, protocol.MessageTypeStream, msg.Type())
		if msg.Type() == protocol.MessageTypeExecuteReply {
			reply = msg
		}
	}
	require.NotNil(t, reply)
	assert.Equal(t, "error", reply.Content["status"])
}

func TestFakeKernelInterruptEndsSleep(t *testing.T) {
	conn := startFakeKernel(t)
	conn.until(t, protocol.MessageTypeStatus, protocol.ExecutionStateIdle)

	require.NoError(t, conn.requests.Encode(protocol.NewExecuteRequest("test", "sleep 30s")))
	conn.until(t, protocol.MessageTypeExecuteInput, "")
	require.NoError(t, conn.requests.Encode(protocol.NewInterruptRequest("test")))

	burst := conn.until(t, protocol.MessageTypeStatus, protocol.ExecutionStateIdle)
	require.Equal(t, protocol.MessageTypeError, burst[0].Type())
	assert.Equal(t, "KeyboardInterrupt", burst[0].Content["ename"])
}

func TestFakeKernelExit(t *testing.T) {
	conn := startFakeKernel(t)
	conn.until(t, protocol.MessageTypeStatus, protocol.ExecutionStateIdle)

	require.NoError(t, conn.requests.Encode(protocol.NewExecuteRequest("test", "print last\nexit")))
	conn.until(t, protocol.MessageTypeStream, "")

	select {
	case err := <-conn.done:
		assert.ErrorIs(t, err, ErrExit)
	case <-time.After(5 * time.Second):
		t.Fatal("kernel did not exit")
	}
}
