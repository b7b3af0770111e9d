package domain

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"websocket-proto/pkg/protocol"
)

// MessageType represents the type of WebSocket message
type MessageType int

const (
	// MessageTypeText represents a text message
	MessageTypeText MessageType = iota
	// MessageTypeBinary represents a binary message
	MessageTypeBinary
	// MessageTypePing represents a ping control message
	MessageTypePing
	// MessageTypePong represents a pong control message
	MessageTypePong
	// MessageTypeClose represents a close control message
	MessageTypeClose
)

// String returns the string representation of the message type
func (m MessageType) String() string {
	switch m {
	case MessageTypeText:
		return "Text"
	case MessageTypeBinary:
		return "Binary"
	case MessageTypePing:
		return "Ping"
	case MessageTypePong:
		return "Pong"
	case MessageTypeClose:
		return "Close"
	default:
		return fmt.Sprintf("Unknown(%d)", int(m))
	}
}

// Message represents an application-level WebSocket message. Every message
// travels in exactly one frame.
type Message struct {
	Type    MessageType  // Message type
	Payload []byte       // Message payload, unused for Close
	Reason  *CloseReason // Close reason, Close only and optional
}

// NewTextMessage creates a new text message
func NewTextMessage(text string) *Message {
	return &Message{
		Type:    MessageTypeText,
		Payload: []byte(text),
	}
}

// NewBinaryMessage creates a new binary message
func NewBinaryMessage(payload []byte) *Message {
	return &Message{
		Type:    MessageTypeBinary,
		Payload: payload,
	}
}

// NewPingMessage creates a new ping message
func NewPingMessage(payload []byte) *Message {
	return &Message{Type: MessageTypePing, Payload: payload}
}

// NewPongMessage creates a new pong message
func NewPongMessage(payload []byte) *Message {
	return &Message{Type: MessageTypePong, Payload: payload}
}

// NewCloseMessage creates a new close message, reason may be nil
func NewCloseMessage(reason *CloseReason) *Message {
	return &Message{Type: MessageTypeClose, Reason: reason}
}

// Validate checks that the message can be sent as a single frame
func (m *Message) Validate() error {
	switch m.Type {
	case MessageTypeText:
		if !utf8.Valid(m.Payload) {
			return ErrBadEncoding
		}
	case MessageTypeBinary:
	case MessageTypePing, MessageTypePong:
		if len(m.Payload) > protocol.MaxControlFramePayloadSize {
			return InvalidLengthError(uint64(len(m.Payload)))
		}
	case MessageTypeClose:
		if m.Reason != nil {
			return m.Reason.Validate()
		}
	default:
		return ErrBadOpCode
	}
	return nil
}

// Text returns the payload of a text message as a string
func (m *Message) Text() string {
	return string(m.Payload)
}

// IsText returns true if this is a text message
func (m *Message) IsText() bool {
	return m.Type == MessageTypeText
}

// IsBinary returns true if this is a binary message
func (m *Message) IsBinary() bool {
	return m.Type == MessageTypeBinary
}

// IsControl returns true for ping, pong and close messages
func (m *Message) IsControl() bool {
	return m.Type == MessageTypePing || m.Type == MessageTypePong || m.Type == MessageTypeClose
}

// Equal reports whether two messages carry the same type and content
func (m *Message) Equal(other *Message) bool {
	if m == nil || other == nil {
		return m == other
	}
	if m.Type != other.Type {
		return false
	}
	if m.Type == MessageTypeClose {
		if m.Reason == nil || other.Reason == nil {
			return m.Reason == other.Reason
		}
		return *m.Reason == *other.Reason
	}
	return bytes.Equal(m.Payload, other.Payload)
}

// ToOpcode converts the message type to the corresponding frame opcode
func (m *Message) ToOpcode() (Opcode, error) {
	switch m.Type {
	case MessageTypeText:
		return OpcodeText, nil
	case MessageTypeBinary:
		return OpcodeBinary, nil
	case MessageTypePing:
		return OpcodePing, nil
	case MessageTypePong:
		return OpcodePong, nil
	case MessageTypeClose:
		return OpcodeClose, nil
	default:
		return 0, ErrBadOpCode
	}
}

// FramePayload returns the bytes carried on the wire for this message
func (m *Message) FramePayload() []byte {
	if m.Type == MessageTypeClose {
		if m.Reason == nil {
			return nil
		}
		return m.Reason.Payload()
	}
	return m.Payload
}

// MessageFromFrame converts a complete, unmasked frame into a message,
// applying the per-opcode payload rules.
func MessageFromFrame(f *Frame) (*Message, error) {
	if !f.FIN || f.Opcode == OpcodeContinuation {
		return nil, ErrNoContinuation
	}
	switch f.Opcode {
	case OpcodeText:
		if !utf8.Valid(f.Payload) {
			return nil, ErrBadEncoding
		}
		return &Message{Type: MessageTypeText, Payload: f.Payload}, nil
	case OpcodeBinary:
		return NewBinaryMessage(f.Payload), nil
	case OpcodePing:
		return NewPingMessage(f.Payload), nil
	case OpcodePong:
		return NewPongMessage(f.Payload), nil
	case OpcodeClose:
		reason, err := ParseCloseReason(f.Payload)
		if err != nil {
			return nil, err
		}
		return NewCloseMessage(reason), nil
	default:
		return nil, ErrBadOpCode
	}
}
