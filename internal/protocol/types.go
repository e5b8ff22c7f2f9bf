package protocol

import (
	"time"

	"github.com/google/uuid"
)

// MessageType identifies a kernel protocol message
type MessageType string

const (
	// Outbound (datascout → backend)
	MessageTypeExecuteRequest   MessageType = "execute_request"
	MessageTypeInterruptRequest MessageType = "interrupt_request"

	// Inbound (backend → datascout)
	MessageTypeExecuteInput  MessageType = "execute_input"
	MessageTypeExecuteResult MessageType = "execute_result"
	MessageTypeDisplayData   MessageType = "display_data"
	MessageTypeStatus        MessageType = "status"
	MessageTypeStream        MessageType = "stream"
	MessageTypeError         MessageType = "error"
	MessageTypeExecuteReply  MessageType = "execute_reply"
)

// Channel names a logical kernel socket. The NDJSON bridge multiplexes all of
// them over one stream and tags each message.
type Channel string

const (
	ChannelShell   Channel = "shell"
	ChannelIOPub   Channel = "iopub"
	ChannelControl Channel = "control"
)

// ExecutionState values carried by status messages
const (
	ExecutionStateStarting = "starting"
	ExecutionStateBusy     = "busy"
	ExecutionStateIdle     = "idle"
)

// MimeTextPlain is the canonical plain-text content kind in result/display payloads
const MimeTextPlain = "text/plain"

// Header identifies a message and its type
type Header struct {
	MsgID    string      `json:"msg_id"`
	MsgType  MessageType `json:"msg_type"`
	Session  string      `json:"session,omitempty"`
	Username string      `json:"username,omitempty"`
	Date     string      `json:"date,omitempty"`
	Version  string      `json:"version,omitempty"`
}

// Message is one kernel protocol message. Content is kept as a generic
// mapping because its shape varies by message type; interpretation is the
// classifier's job.
type Message struct {
	Header       Header         `json:"header"`
	ParentHeader Header         `json:"parent_header"`
	Channel      Channel        `json:"channel,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Content      map[string]any `json:"content"`
}

// Type returns the message type, tolerating a nil message
func (m *Message) Type() MessageType {
	if m == nil {
		return ""
	}
	return m.Header.MsgType
}

// ParentID returns the msg_id of the request this message answers
func (m *Message) ParentID() string {
	if m == nil {
		return ""
	}
	return m.ParentHeader.MsgID
}

// ProtocolVersion is the kernel messaging protocol version we speak
const ProtocolVersion = "5.3"

// NewHeader builds a header with a fresh msg_id
func NewHeader(msgType MessageType, session string) Header {
	return Header{
		MsgID:    uuid.New().String(),
		MsgType:  msgType,
		Session:  session,
		Username: "datascout",
		Date:     time.Now().UTC().Format(time.RFC3339Nano),
		Version:  ProtocolVersion,
	}
}

// NewExecuteRequest builds an execute_request for the given code
func NewExecuteRequest(session, code string) *Message {
	return &Message{
		Header:  NewHeader(MessageTypeExecuteRequest, session),
		Channel: ChannelShell,
		Content: map[string]any{
			"code":             code,
			"silent":           false,
			"store_history":    true,
			"user_expressions": map[string]any{},
			"allow_stdin":      false,
			"stop_on_error":    true,
		},
	}
}

// NewInterruptRequest builds an interrupt_request for the control channel
func NewInterruptRequest(session string) *Message {
	return &Message{
		Header:  NewHeader(MessageTypeInterruptRequest, session),
		Channel: ChannelControl,
		Content: map[string]any{},
	}
}
