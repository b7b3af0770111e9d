package domain

import "fmt"

// Opcode represents the WebSocket frame opcode
type Opcode byte

// WebSocket frame opcodes as defined in RFC 6455
const (
	OpcodeContinuation Opcode = 0x0
	OpcodeText         Opcode = 0x1
	OpcodeBinary       Opcode = 0x2
	OpcodeClose        Opcode = 0x8
	OpcodePing         Opcode = 0x9
	OpcodePong         Opcode = 0xA
)

// IsValid reports whether the opcode is one of the six opcodes defined by RFC 6455.
// 0x3-0x7 and 0xB-0xF are reserved and always invalid.
func (o Opcode) IsValid() bool {
	return o.IsControl() || o.IsData()
}

// IsControl returns true if the opcode is a control frame
func (o Opcode) IsControl() bool {
	switch o {
	case OpcodeClose, OpcodePing, OpcodePong:
		return true
	default:
		return false
	}
}

// IsData returns true if the opcode is a data frame
func (o Opcode) IsData() bool {
	return o <= OpcodeBinary
}

// String returns the string representation of the opcode
func (o Opcode) String() string {
	switch o {
	case OpcodeContinuation:
		return "Continuation"
	case OpcodeText:
		return "Text"
	case OpcodeBinary:
		return "Binary"
	case OpcodeClose:
		return "Close"
	case OpcodePing:
		return "Ping"
	case OpcodePong:
		return "Pong"
	default:
		return fmt.Sprintf("Unknown(0x%X)", byte(o))
	}
}

// Role is the side of the connection an endpoint plays. It decides the
// masking direction: clients mask everything they send, servers never do.
type Role int

const (
	// RoleServer decodes masked frames and encodes unmasked ones
	RoleServer Role = iota
	// RoleClient decodes unmasked frames and encodes masked ones
	RoleClient
)

// String returns the string representation of the role
func (r Role) String() string {
	switch r {
	case RoleServer:
		return "Server"
	case RoleClient:
		return "Client"
	default:
		return fmt.Sprintf("Unknown(%d)", int(r))
	}
}

// ExpectsMaskedInput reports whether frames received by this role must be masked.
func (r Role) ExpectsMaskedInput() bool {
	return r == RoleServer
}

// MasksOutput reports whether frames sent by this role must be masked.
func (r Role) MasksOutput() bool {
	return r == RoleClient
}

// Frame represents a WebSocket frame as defined in RFC 6455
type Frame struct {
	FIN        bool    // Final fragment flag
	RSV1       bool    // Reserved bit 1
	RSV2       bool    // Reserved bit 2
	RSV3       bool    // Reserved bit 3
	Opcode     Opcode  // Frame opcode
	Masked     bool    // Payload is masked
	PayloadLen uint64  // Payload length
	MaskingKey [4]byte // Masking key (if masked)
	Payload    []byte  // Payload data
}

// NewFrame creates a new final, unmasked frame with the given opcode and payload
func NewFrame(opcode Opcode, payload []byte) *Frame {
	return &Frame{
		FIN:        true,
		Opcode:     opcode,
		PayloadLen: uint64(len(payload)),
		Payload:    payload,
	}
}

// NewMaskedFrame creates a new final frame that will be masked with key on the wire
func NewMaskedFrame(opcode Opcode, payload []byte, key [4]byte) *Frame {
	f := NewFrame(opcode, payload)
	f.Masked = true
	f.MaskingKey = key
	return f
}

// Validate checks if the frame is valid according to RFC 6455
func (f *Frame) Validate() error {
	if !f.Opcode.IsValid() {
		return InvalidOpcodeError(byte(f.Opcode))
	}

	// Reserved bits must be 0, no extensions are negotiated
	if f.RSV1 || f.RSV2 || f.RSV3 {
		return ErrReservedBits
	}

	if f.IsControlFrame() {
		if f.PayloadLen > 125 {
			return InvalidLengthError(f.PayloadLen)
		}
		if !f.FIN {
			return ErrNoContinuation
		}
	}

	if uint64(len(f.Payload)) != f.PayloadLen {
		return InvalidLengthError(f.PayloadLen)
	}

	return nil
}

// IsControlFrame returns true if this is a control frame
func (f *Frame) IsControlFrame() bool {
	return f.Opcode.IsControl()
}
