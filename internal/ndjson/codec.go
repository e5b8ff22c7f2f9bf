package ndjson

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/iambrandonn/datascout/internal/protocol"
)

// MaxMessageSize is the maximum NDJSON message size (8 MiB). Rich display
// payloads (base64 images) routinely exceed the usual 256 KiB.
const MaxMessageSize = 8 * 1024 * 1024

// ErrMalformed marks a line that was read completely but could not be decoded.
// The stream itself is still usable after it.
var ErrMalformed = errors.New("malformed message")

// ErrOversized marks a line longer than MaxMessageSize. It wraps ErrMalformed:
// the line is skipped and the next one is read normally.
var ErrOversized = fmt.Errorf("%w: exceeds %d bytes", ErrMalformed, MaxMessageSize)

// Encoder writes NDJSON messages to an output stream
type Encoder struct {
	writer *bufio.Writer
	logger *slog.Logger
}

// NewEncoder creates a new NDJSON encoder
func NewEncoder(w io.Writer, logger *slog.Logger) *Encoder {
	return &Encoder{
		writer: bufio.NewWriter(w),
		logger: logger,
	}
}

// Encode writes a message as a single JSON line
func (e *Encoder) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if len(data) > MaxMessageSize {
		e.logger.Error("message exceeds size limit",
			"size", len(data),
			"limit", MaxMessageSize,
			"overflow", len(data)-MaxMessageSize)
		return fmt.Errorf("message size %d exceeds limit %d", len(data), MaxMessageSize)
	}

	if _, err := e.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := e.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	// Flush immediately; the backend waits on each request
	if err := e.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}

	return nil
}

// Decoder reads NDJSON messages from an input stream
type Decoder struct {
	reader  *bufio.Reader
	logger  *slog.Logger
	lineNum int
}

// NewDecoder creates a new NDJSON decoder
func NewDecoder(r io.Reader, logger *slog.Logger) *Decoder {
	return &Decoder{
		reader: bufio.NewReaderSize(r, 64*1024),
		logger: logger,
	}
}

// Line returns the number of the last line read
func (d *Decoder) Line() int {
	return d.lineNum
}

// readLine returns the next line without its terminator. A line longer than
// MaxMessageSize is consumed to its end and reported as oversized, with its
// length, so the stream stays aligned on the following line.
func (d *Decoder) readLine() ([]byte, int, bool, error) {
	var (
		line      []byte
		size      int
		oversized bool
	)
	for {
		chunk, err := d.reader.ReadSlice('\n')
		size += len(chunk)
		if !oversized {
			if len(line)+len(chunk) > MaxMessageSize+2 {
				oversized = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}

		switch {
		case err == bufio.ErrBufferFull:
			continue
		case err == io.EOF:
			// final line without a terminator
			if size == 0 {
				return nil, 0, false, io.EOF
			}
		case err != nil:
			return nil, size, false, err
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(line) > MaxMessageSize {
			oversized = true
			line = nil
		}
		return line, size, oversized, nil
	}
}

// Decode reads the next NDJSON value into v, skipping blank lines.
// A line that is not valid JSON yields an error wrapping ErrMalformed, and so
// does a line over MaxMessageSize (ErrOversized).
func (d *Decoder) Decode(v any) error {
	for {
		data, size, oversized, err := d.readLine()
		if err == io.EOF {
			return io.EOF
		}
		if err != nil {
			return fmt.Errorf("read error at line %d: %w", d.lineNum, err)
		}

		d.lineNum++
		if oversized {
			d.logger.Warn("discarding oversized line",
				"line", d.lineNum,
				"size", size,
				"limit", MaxMessageSize)
			return fmt.Errorf("line %d (%d bytes): %w", d.lineNum, size, ErrOversized)
		}
		if len(data) == 0 {
			continue
		}

		if err := json.Unmarshal(data, v); err != nil {
			d.logger.Debug("failed to unmarshal JSON",
				"line", d.lineNum,
				"error", err,
				"data", string(data[:min(100, len(data))]))
			return fmt.Errorf("line %d: %w: %v", d.lineNum, ErrMalformed, err)
		}
		return nil
	}
}

// DecodeMessage reads the next kernel protocol message. Unknown message types
// are returned as-is; deciding what they mean is left to the classifier.
func (d *Decoder) DecodeMessage() (*protocol.Message, error) {
	var msg protocol.Message
	if err := d.Decode(&msg); err != nil {
		return nil, err
	}

	if msg.Header.MsgType == "" {
		return nil, fmt.Errorf("line %d: %w: missing header.msg_type", d.lineNum, ErrMalformed)
	}

	return &msg, nil
}
