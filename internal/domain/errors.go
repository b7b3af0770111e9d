package domain

import (
	"errors"
	"fmt"
)

// ProtocolErrorKind identifies a data-plane failure. Every kind is fatal to
// the connection it was produced on.
type ProtocolErrorKind int

const (
	// KindUnmaskedFrame: a server received an unmasked frame
	KindUnmaskedFrame ProtocolErrorKind = iota + 1
	// KindMaskedFrame: a client received a masked frame
	KindMaskedFrame
	// KindInvalidOpcode: a reserved opcode was received, the raw code is kept
	KindInvalidOpcode
	// KindInvalidLength: a control frame or close payload has an illegal length
	KindInvalidLength
	// KindBadOpCode: coarse form of KindInvalidOpcode
	KindBadOpCode
	// KindOverflow: a payload exceeds the configured maximum
	KindOverflow
	// KindNoContinuation: a fragmented message was received
	KindNoContinuation
	// KindBadEncoding: a text payload or close reason is not UTF-8
	KindBadEncoding
	// KindReservedBits: RSV1-3 set without a negotiated extension
	KindReservedBits
	// KindInvalidCloseCode: a close frame carries a code that may not appear on the wire
	KindInvalidCloseCode
	// KindParserFailed: the parser already failed and refuses further input
	KindParserFailed
	// KindIo wraps a transport failure
	KindIo
)

// String returns the display text of the kind. The mapping is total.
func (k ProtocolErrorKind) String() string {
	switch k {
	case KindUnmaskedFrame:
		return "Received an unmasked frame from client"
	case KindMaskedFrame:
		return "Received a masked frame from server"
	case KindInvalidOpcode:
		return "Invalid opcode"
	case KindInvalidLength:
		return "Invalid control frame length"
	case KindBadOpCode:
		return "Bad web socket op code"
	case KindOverflow:
		return "A payload reached size limit."
	case KindNoContinuation:
		return "Continuation is not supported."
	case KindBadEncoding:
		return "Bad utf-8 encoding."
	case KindReservedBits:
		return "Reserved bits are set"
	case KindInvalidCloseCode:
		return "Invalid close code"
	case KindParserFailed:
		return "Parser is in failed state"
	case KindIo:
		return "io error"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// ProtocolError is a data-plane error produced while decoding or encoding frames.
type ProtocolError struct {
	Kind   ProtocolErrorKind
	Opcode byte      // raw opcode, KindInvalidOpcode only
	Length uint64    // offending length, KindInvalidLength only
	Code   CloseCode // offending code, KindInvalidCloseCode only
	Err    error     // cause, KindIo and KindParserFailed only
}

// Protocol error sentinels, compared by kind with errors.Is
var (
	ErrUnmaskedFrame    = &ProtocolError{Kind: KindUnmaskedFrame}
	ErrMaskedFrame      = &ProtocolError{Kind: KindMaskedFrame}
	ErrInvalidOpcode    = &ProtocolError{Kind: KindInvalidOpcode}
	ErrInvalidLength    = &ProtocolError{Kind: KindInvalidLength}
	ErrBadOpCode        = &ProtocolError{Kind: KindBadOpCode}
	ErrOverflow         = &ProtocolError{Kind: KindOverflow}
	ErrNoContinuation   = &ProtocolError{Kind: KindNoContinuation}
	ErrBadEncoding      = &ProtocolError{Kind: KindBadEncoding}
	ErrReservedBits     = &ProtocolError{Kind: KindReservedBits}
	ErrInvalidCloseCode = &ProtocolError{Kind: KindInvalidCloseCode}
	ErrParserFailed     = &ProtocolError{Kind: KindParserFailed}
	ErrIo               = &ProtocolError{Kind: KindIo}
)

// InvalidOpcodeError returns a KindInvalidOpcode error carrying the raw code
func InvalidOpcodeError(code byte) *ProtocolError {
	return &ProtocolError{Kind: KindInvalidOpcode, Opcode: code}
}

// InvalidLengthError returns a KindInvalidLength error carrying the length
func InvalidLengthError(n uint64) *ProtocolError {
	return &ProtocolError{Kind: KindInvalidLength, Length: n}
}

// InvalidCloseCodeError returns a KindInvalidCloseCode error carrying the code
func InvalidCloseCodeError(code CloseCode) *ProtocolError {
	return &ProtocolError{Kind: KindInvalidCloseCode, Code: code}
}

// IoError wraps a transport failure. A nil err yields nil.
func IoError(err error) error {
	if err == nil {
		return nil
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return err
	}
	return &ProtocolError{Kind: KindIo, Err: err}
}

// Error implements error
func (e *ProtocolError) Error() string {
	switch e.Kind {
	case KindInvalidOpcode:
		return fmt.Sprintf("%s: %d", e.Kind, e.Opcode)
	case KindInvalidLength:
		return fmt.Sprintf("%s: %d", e.Kind, e.Length)
	case KindInvalidCloseCode:
		return fmt.Sprintf("%s: %d", e.Kind, uint16(e.Code))
	case KindIo, KindParserFailed:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
	}
	return e.Kind.String()
}

// Unwrap returns the cause, if any
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Is matches protocol errors by kind. An InvalidOpcode error also matches
// ErrBadOpCode for callers that only need the coarse classification.
func (e *ProtocolError) Is(target error) bool {
	t, ok := target.(*ProtocolError)
	if !ok {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return t.Kind == KindBadOpCode && e.Kind == KindInvalidOpcode
}

// CloseCode returns the status a peer should be sent before the connection
// is dropped because of this error.
func (e *ProtocolError) CloseCode() CloseCode {
	switch e.Kind {
	case KindBadEncoding:
		return CloseInvalidPayload
	case KindOverflow:
		return CloseTooBig
	case KindIo:
		return CloseAbnormal
	default:
		return CloseProtocol
	}
}

// HandshakeErrorKind identifies a control-plane failure of the opening handshake.
type HandshakeErrorKind int

const (
	// KindGetMethodRequired: only GET may be upgraded
	KindGetMethodRequired HandshakeErrorKind = iota + 1
	// KindNoWebsocketUpgrade: Upgrade header missing or not websocket
	KindNoWebsocketUpgrade
	// KindNoConnectionUpgrade: Connection header does not request an upgrade
	KindNoConnectionUpgrade
	// KindNoVersionHeader: Sec-WebSocket-Version missing
	KindNoVersionHeader
	// KindUnsupportedVersion: Sec-WebSocket-Version not 13, 8 or 7
	KindUnsupportedVersion
	// KindBadWebsocketKey: Sec-WebSocket-Key missing
	KindBadWebsocketKey
)

// String returns the display text of the kind
func (k HandshakeErrorKind) String() string {
	switch k {
	case KindGetMethodRequired:
		return "Method not allowed"
	case KindNoWebsocketUpgrade:
		return "Websocket upgrade is expected"
	case KindNoConnectionUpgrade:
		return "Connection upgrade is expected"
	case KindNoVersionHeader:
		return "Websocket version header is required"
	case KindUnsupportedVersion:
		return "Unsupported version"
	case KindBadWebsocketKey:
		return "Unknown websocket key"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// HandshakeError is returned when a request cannot be upgraded. It is always
// recoverable by answering with an HTTP error response.
type HandshakeError struct {
	Kind HandshakeErrorKind
}

// Handshake error sentinels
var (
	ErrGetMethodRequired   = &HandshakeError{Kind: KindGetMethodRequired}
	ErrNoWebsocketUpgrade  = &HandshakeError{Kind: KindNoWebsocketUpgrade}
	ErrNoConnectionUpgrade = &HandshakeError{Kind: KindNoConnectionUpgrade}
	ErrNoVersionHeader     = &HandshakeError{Kind: KindNoVersionHeader}
	ErrUnsupportedVersion  = &HandshakeError{Kind: KindUnsupportedVersion}
	ErrBadWebsocketKey     = &HandshakeError{Kind: KindBadWebsocketKey}
)

// Error implements error
func (e *HandshakeError) Error() string {
	return e.Kind.String()
}

// Is matches handshake errors by kind
func (e *HandshakeError) Is(target error) bool {
	t, ok := target.(*HandshakeError)
	return ok && t.Kind == e.Kind
}

// Connection errors
var (
	ErrConnectionClosed = errors.New("connection is closed")
	ErrInvalidState     = errors.New("invalid connection state")
)
