// Package supervisor runs the execution backend as a subprocess and exposes
// it as a channel.Channel speaking NDJSON over stdin/stdout.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iambrandonn/datascout/internal/channel"
	"github.com/iambrandonn/datascout/internal/ndjson"
	"github.com/iambrandonn/datascout/internal/protocol"
)

const (
	// DefaultReadyTimeout bounds WaitReady when no timeout is given
	DefaultReadyTimeout = 60 * time.Second

	// StopTimeout is how long Stop waits after closing stdin before killing
	StopTimeout = 5 * time.Second

	stderrTail = 20
)

// ErrNotReady is returned by WaitReady when the backend never reports status
var ErrNotReady = errors.New("kernel not ready")

// KernelSupervisor manages a single backend subprocess
type KernelSupervisor struct {
	cmd     []string
	env     map[string]string
	logger  *slog.Logger
	session string

	// OnSend, if set, sees every request before it is written
	OnSend func(*protocol.Message)

	mu       sync.Mutex
	sendMu   sync.Mutex
	process  *exec.Cmd
	encoder  *ndjson.Encoder
	decoder  *ndjson.Decoder
	stdin    io.WriteCloser
	stderr   io.ReadCloser
	running  bool
	exitChan chan error // result of proc.Wait() from waitForExit
	tail     []string

	messages chan *protocol.Message
}

// NewKernelSupervisor creates a supervisor for the backend started by cmd
func NewKernelSupervisor(cmd []string, env map[string]string, logger *slog.Logger) *KernelSupervisor {
	return &KernelSupervisor{
		cmd:      cmd,
		env:      env,
		logger:   logger,
		session:  uuid.NewString(),
		messages: make(chan *protocol.Message, 256),
	}
}

// Session returns the protocol session id stamped on every request
func (s *KernelSupervisor) Session() string {
	return s.session
}

// Start launches the backend subprocess
func (s *KernelSupervisor) Start(ctx context.Context) error {
	if len(s.cmd) == 0 {
		return fmt.Errorf("kernel command is empty")
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("kernel already running")
	}
	s.mu.Unlock()

	s.logger.Info("starting kernel", "cmd", s.cmd)

	proc := exec.CommandContext(ctx, s.cmd[0], s.cmd[1:]...)

	proc.Env = os.Environ()
	proc.Env = append(proc.Env, fmt.Sprintf("DATASCOUT_KERNEL_SESSION=%s", s.session))
	for k, v := range s.env {
		proc.Env = append(proc.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := proc.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	// Plain pipes rather than StdoutPipe: Wait must not close the read side
	// before everything the kernel wrote has been decoded.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		stdoutW.Close()
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	proc.Stdout = stdoutW
	proc.Stderr = stderrW

	err = proc.Start()
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("failed to start kernel: %w", err)
	}

	s.mu.Lock()
	s.process = proc
	s.stdin = stdin
	s.stderr = stderr
	s.encoder = ndjson.NewEncoder(stdin, s.logger)
	s.decoder = ndjson.NewDecoder(stdout, s.logger)
	s.running = true
	s.exitChan = make(chan error, 1)
	s.mu.Unlock()

	s.logger.Info("kernel started", "pid", proc.Process.Pid, "session", s.session)

	go s.readStdout(ctx, stdout)
	go s.readStderr()
	go s.waitForExit()

	return nil
}

// Stop closes the backend's stdin and waits for it to exit, killing it when
// ctx ends or StopTimeout passes first
func (s *KernelSupervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}

	proc := s.process
	stdin := s.stdin
	exitChan := s.exitChan
	s.mu.Unlock()

	s.logger.Info("stopping kernel")

	if stdin != nil {
		stdin.Close()
	}

	select {
	case <-ctx.Done():
		if proc.Process != nil {
			proc.Process.Kill()
		}
		return ctx.Err()
	case err := <-exitChan:
		if err != nil {
			s.logger.Warn("kernel exited with error", "error", err)
		} else {
			s.logger.Info("kernel stopped")
		}
		return err
	case <-time.After(StopTimeout):
		s.logger.Warn("kernel did not stop gracefully, killing")
		if proc.Process != nil {
			proc.Process.Kill()
		}
		return fmt.Errorf("kernel stop timeout")
	}
}

// Submit implements channel.Channel
func (s *KernelSupervisor) Submit(ctx context.Context, code string) (string, error) {
	msg := protocol.NewExecuteRequest(s.session, code)
	if err := s.send(msg); err != nil {
		return "", err
	}
	return msg.Header.MsgID, nil
}

// Interrupt implements channel.Interrupter
func (s *KernelSupervisor) Interrupt(ctx context.Context) error {
	return s.send(protocol.NewInterruptRequest(s.session))
}

// Receive implements channel.Channel. Messages already queued are delivered
// even after the backend has exited; after that Receive reports
// channel.ErrClosed.
func (s *KernelSupervisor) Receive(ctx context.Context, wait time.Duration) (*protocol.Message, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case msg, ok := <-s.messages:
		if !ok {
			return nil, s.closedErr()
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, channel.ErrNoMessage
	}
}

// WaitReady blocks until the backend reports an idle status. Anything that
// arrives before it is discarded.
func (s *KernelSupervisor) WaitReady(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		select {
		case msg, ok := <-s.messages:
			if !ok {
				return fmt.Errorf("%w: %w", ErrNotReady, s.closedErr())
			}
			// an idle left in the queue would end the first burst
			if msg.Type() == protocol.MessageTypeStatus && msg.Content["execution_state"] == protocol.ExecutionStateIdle {
				s.logger.Info("kernel ready")
				return nil
			}
			s.logger.Debug("discarding message before ready", "msg_type", msg.Type(), "execution_state", msg.Content["execution_state"])
		case <-ctx.Done():
			return fmt.Errorf("%w after %s: %w", ErrNotReady, timeout, ctx.Err())
		}
	}
}

// IsRunning returns true if the backend process is alive
func (s *KernelSupervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// StderrTail returns the last lines the backend wrote to stderr
func (s *KernelSupervisor) StderrTail() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tail...)
}

func (s *KernelSupervisor) send(msg *protocol.Message) error {
	s.mu.Lock()
	encoder := s.encoder
	running := s.running
	s.mu.Unlock()

	if !running || encoder == nil {
		return fmt.Errorf("kernel not running: %w", channel.ErrClosed)
	}

	if s.OnSend != nil {
		s.OnSend(msg)
	}

	s.logger.Debug("sending request", "msg_type", msg.Type(), "msg_id", msg.Header.MsgID)

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := encoder.Encode(msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Type(), errors.Join(err, channel.ErrClosed))
	}
	return nil
}

func (s *KernelSupervisor) closedErr() error {
	if tail := s.StderrTail(); len(tail) > 0 {
		return fmt.Errorf("%w (last stderr: %s)", channel.ErrClosed, tail[len(tail)-1])
	}
	return channel.ErrClosed
}

func (s *KernelSupervisor) readStdout(ctx context.Context, stdout io.Closer) {
	defer close(s.messages)
	defer stdout.Close()

	for {
		msg, err := s.decoder.DecodeMessage()
		if err == io.EOF {
			s.logger.Info("kernel stdout closed")
			return
		}
		if err != nil {
			if errors.Is(err, ndjson.ErrMalformed) {
				s.logger.Warn("skipping malformed message from kernel", "error", err)
				continue
			}
			s.logger.Error("failed to read from kernel", "error", err)
			return
		}

		select {
		case s.messages <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (s *KernelSupervisor) readStderr() {
	s.mu.Lock()
	stderr := s.stderr
	s.mu.Unlock()

	if stderr == nil {
		return
	}

	defer stderr.Close()

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 4096), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		s.logger.Debug("kernel stderr", "line", line)

		s.mu.Lock()
		s.tail = append(s.tail, line)
		if len(s.tail) > stderrTail {
			s.tail = s.tail[len(s.tail)-stderrTail:]
		}
		s.mu.Unlock()
	}

	if err := scanner.Err(); err != nil {
		s.logger.Debug("error reading kernel stderr", "error", err)
	}
}

func (s *KernelSupervisor) waitForExit() {
	s.mu.Lock()
	proc := s.process
	exitChan := s.exitChan
	s.mu.Unlock()

	if proc == nil {
		return
	}

	err := proc.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	if exitChan != nil {
		exitChan <- err
	}

	if err != nil {
		s.logger.Warn("kernel process exited", "error", err)
	} else {
		s.logger.Info("kernel process exited cleanly")
	}
}
