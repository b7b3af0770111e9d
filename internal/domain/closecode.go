package domain

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"websocket-proto/pkg/protocol"
)

// CloseCode is the status code carried by a Close frame
type CloseCode uint16

// Close codes defined by RFC 6455 section 7.4.1 and the IANA registry
const (
	CloseNormal         CloseCode = protocol.StatusNormalClosure
	CloseAway           CloseCode = protocol.StatusGoingAway
	CloseProtocol       CloseCode = protocol.StatusProtocolError
	CloseUnsupported    CloseCode = protocol.StatusUnsupportedData
	CloseReserved       CloseCode = protocol.StatusReserved
	CloseNoStatus       CloseCode = protocol.StatusNoStatusReceived
	CloseAbnormal       CloseCode = protocol.StatusAbnormalClosure
	CloseInvalidPayload CloseCode = protocol.StatusInvalidFramePayloadData
	ClosePolicy         CloseCode = protocol.StatusPolicyViolation
	CloseTooBig         CloseCode = protocol.StatusMessageTooBig
	CloseExtension      CloseCode = protocol.StatusMandatoryExtension
	CloseError          CloseCode = protocol.StatusInternalServerError
	CloseRestart        CloseCode = protocol.StatusServiceRestart
	CloseAgain          CloseCode = protocol.StatusTryAgainLater
	CloseBadGateway     CloseCode = protocol.StatusBadGateway
	CloseTLSHandshake   CloseCode = protocol.StatusTLSHandshake
)

// IsValid reports whether the code may appear in a Close frame on the wire.
// 1004-1006 and 1015 are reserved for local use, 1016-2999 are unassigned,
// 3000-4999 belong to libraries and applications.
func (c CloseCode) IsValid() bool {
	switch {
	case c >= 1000 && c <= 1003:
		return true
	case c >= 1007 && c <= 1014:
		return true
	case c >= 3000 && c <= 4999:
		return true
	default:
		return false
	}
}

// String returns the string representation of the close code
func (c CloseCode) String() string {
	switch c {
	case CloseNormal:
		return "Normal"
	case CloseAway:
		return "Away"
	case CloseProtocol:
		return "Protocol"
	case CloseUnsupported:
		return "Unsupported"
	case CloseReserved:
		return "Reserved"
	case CloseNoStatus:
		return "NoStatus"
	case CloseAbnormal:
		return "Abnormal"
	case CloseInvalidPayload:
		return "Invalid"
	case ClosePolicy:
		return "Policy"
	case CloseTooBig:
		return "Size"
	case CloseExtension:
		return "Extension"
	case CloseError:
		return "Error"
	case CloseRestart:
		return "Restart"
	case CloseAgain:
		return "Again"
	case CloseBadGateway:
		return "BadGateway"
	case CloseTLSHandshake:
		return "TlsHandshake"
	default:
		return fmt.Sprintf("Other(%d)", uint16(c))
	}
}

// CloseReason is the optional body of a Close frame. It is immutable once built.
type CloseReason struct {
	Code        CloseCode
	Description string
}

// NewCloseReason creates a close reason with a code and an optional description
func NewCloseReason(code CloseCode, description string) *CloseReason {
	return &CloseReason{Code: code, Description: description}
}

// Validate checks that the reason can be sent in a single control frame
func (r *CloseReason) Validate() error {
	if !r.Code.IsValid() {
		return InvalidCloseCodeError(r.Code)
	}
	if len(r.Description) > protocol.MaxCloseReasonSize {
		return InvalidLengthError(uint64(2 + len(r.Description)))
	}
	if !utf8.ValidString(r.Description) {
		return ErrBadEncoding
	}
	return nil
}

// Payload returns the Close frame payload: the big-endian code followed by the description
func (r *CloseReason) Payload() []byte {
	buf := make([]byte, 2+len(r.Description))
	binary.BigEndian.PutUint16(buf, uint16(r.Code))
	copy(buf[2:], r.Description)
	return buf
}

// ParseCloseReason decodes a Close frame payload. An empty payload yields a nil
// reason; otherwise the payload must hold a valid code and a UTF-8 description.
func ParseCloseReason(payload []byte) (*CloseReason, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	if len(payload) < 2 {
		return nil, InvalidLengthError(uint64(len(payload)))
	}
	code := CloseCode(binary.BigEndian.Uint16(payload))
	if !code.IsValid() {
		return nil, InvalidCloseCodeError(code)
	}
	desc := payload[2:]
	if !utf8.Valid(desc) {
		return nil, ErrBadEncoding
	}
	return &CloseReason{Code: code, Description: string(desc)}, nil
}
