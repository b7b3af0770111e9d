package infrastructure

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/pkg/errors"

	"websocket-proto/internal/domain"
	"websocket-proto/pkg/protocol"
)

// ParserState is the position of a FrameParser inside the frame it is decoding
type ParserState int

const (
	// StateAwaitingHeader waits for the two fixed header bytes
	StateAwaitingHeader ParserState = iota
	// StateAwaitingExtendedLength waits for the 16 or 64 bit length
	StateAwaitingExtendedLength
	// StateAwaitingMaskKey waits for the masking key
	StateAwaitingMaskKey
	// StateAwaitingPayload waits for the payload bytes
	StateAwaitingPayload
	// StateFrameComplete is entered after a frame was emitted
	StateFrameComplete
	// StateFailed is terminal; the stream can no longer be trusted
	StateFailed
)

// String returns the string representation of the parser state
func (s ParserState) String() string {
	switch s {
	case StateAwaitingHeader:
		return "AwaitingHeader"
	case StateAwaitingExtendedLength:
		return "AwaitingExtendedLength"
	case StateAwaitingMaskKey:
		return "AwaitingMaskKey"
	case StateAwaitingPayload:
		return "AwaitingPayload"
	case StateFrameComplete:
		return "FrameComplete"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// FrameParser incrementally decodes WebSocket frames for one connection.
//
// Parse is handed the unconsumed input each time, starting at the first byte
// of the current frame. When the input is short it returns no frame and
// consumes nothing; the header fields decoded so far are kept, so the next
// call with a longer buffer resumes where the previous one stopped.
type FrameParser struct {
	role           domain.Role
	maxPayloadSize uint64

	state  ParserState
	frame  domain.Frame
	len7   byte
	offset int
	err    error

	// bytes ReadFrame received for a frame it could not finish
	partial []byte
}

// NewFrameParser creates a new frame parser decoding frames received by role.
// A maxPayloadSize of 0 selects protocol.MaxPayloadSize; values above
// math.MaxInt32 are capped to it so a payload always fits a slice.
func NewFrameParser(role domain.Role, maxPayloadSize uint64) *FrameParser {
	if maxPayloadSize == 0 {
		maxPayloadSize = protocol.MaxPayloadSize
	}
	if maxPayloadSize > math.MaxInt32 {
		maxPayloadSize = math.MaxInt32
	}
	return &FrameParser{
		role:           role,
		maxPayloadSize: maxPayloadSize,
	}
}

// Role returns the role the parser decodes for
func (fp *FrameParser) Role() domain.Role {
	return fp.role
}

// MaxPayloadSize returns the largest payload the parser accepts
func (fp *FrameParser) MaxPayloadSize() uint64 {
	return fp.maxPayloadSize
}

// State returns the current parser state
func (fp *FrameParser) State() ParserState {
	return fp.state
}

// Err returns the error that moved the parser to StateFailed
func (fp *FrameParser) Err() error {
	return fp.err
}

// Reset drops any partially decoded frame and clears a failure
func (fp *FrameParser) Reset() {
	fp.state = StateAwaitingHeader
	fp.frame = domain.Frame{}
	fp.len7 = 0
	fp.offset = 0
	fp.err = nil
	fp.partial = nil
}

// Parse decodes the frame at the start of buf. It returns the frame and the
// number of bytes it occupied, or (nil, 0, nil) if buf does not hold the whole
// frame yet. After an error every call fails with ErrParserFailed.
func (fp *FrameParser) Parse(buf []byte) (*domain.Frame, int, error) {
	if fp.state == StateFailed {
		return nil, 0, &domain.ProtocolError{Kind: domain.KindParserFailed, Err: fp.err}
	}
	if fp.state == StateFrameComplete {
		fp.state = StateAwaitingHeader
	}

	for {
		switch fp.state {
		case StateAwaitingHeader:
			if len(buf) < 2 {
				return nil, 0, nil
			}
			if err := fp.parseHeader(buf[0], buf[1]); err != nil {
				return fp.fail(err)
			}

		case StateAwaitingExtendedLength:
			n := 2
			if fp.len7 == protocol.PayloadLen64Bit {
				n = 8
			}
			if len(buf) < fp.offset+n {
				return nil, 0, nil
			}
			var length uint64
			if n == 2 {
				length = uint64(binary.BigEndian.Uint16(buf[fp.offset:]))
			} else {
				length = binary.BigEndian.Uint64(buf[fp.offset:])
			}
			fp.offset += n
			if err := fp.setLength(length); err != nil {
				return fp.fail(err)
			}

		case StateAwaitingMaskKey:
			if fp.frame.Masked != fp.role.ExpectsMaskedInput() {
				if fp.frame.Masked {
					return fp.fail(domain.ErrMaskedFrame)
				}
				return fp.fail(domain.ErrUnmaskedFrame)
			}
			if fp.frame.Masked {
				if len(buf) < fp.offset+4 {
					return nil, 0, nil
				}
				copy(fp.frame.MaskingKey[:], buf[fp.offset:fp.offset+4])
				fp.offset += 4
			}
			fp.state = StateAwaitingPayload

		case StateAwaitingPayload:
			end := fp.offset + int(fp.frame.PayloadLen)
			if len(buf) < end {
				return nil, 0, nil
			}
			frame := fp.frame
			frame.Payload = make([]byte, frame.PayloadLen)
			copy(frame.Payload, buf[fp.offset:end])
			if frame.Masked {
				Mask(frame.MaskingKey, frame.Payload)
				frame.MaskingKey = [4]byte{}
			}

			fp.frame = domain.Frame{}
			fp.offset = 0
			fp.state = StateFrameComplete
			return &frame, end, nil

		default:
			return fp.fail(fmt.Errorf("unexpected parser state %s", fp.state))
		}
	}
}

// parseHeader decodes the two fixed header bytes
func (fp *FrameParser) parseHeader(b0, b1 byte) error {
	fp.frame = domain.Frame{
		FIN:    b0&0x80 != 0,
		RSV1:   b0&0x40 != 0,
		RSV2:   b0&0x20 != 0,
		RSV3:   b0&0x10 != 0,
		Opcode: domain.Opcode(b0 & 0x0F),
		Masked: b1&0x80 != 0,
	}
	fp.len7 = b1 & 0x7F
	fp.offset = 2

	if !fp.frame.Opcode.IsValid() {
		return domain.InvalidOpcodeError(byte(fp.frame.Opcode))
	}

	// Reserved bits must be 0, no extensions are negotiated
	if fp.frame.RSV1 || fp.frame.RSV2 || fp.frame.RSV3 {
		return domain.ErrReservedBits
	}

	if fp.len7 >= protocol.PayloadLen16Bit {
		fp.state = StateAwaitingExtendedLength
		return nil
	}
	return fp.setLength(uint64(fp.len7))
}

// setLength records the resolved payload length and enforces the size ceiling
// before any payload byte is looked at
func (fp *FrameParser) setLength(length uint64) error {
	if length > fp.maxPayloadSize {
		return domain.ErrOverflow
	}
	if fp.frame.IsControlFrame() && length > protocol.MaxControlFramePayloadSize {
		return domain.InvalidLengthError(length)
	}
	fp.frame.PayloadLen = length
	fp.state = StateAwaitingMaskKey
	return nil
}

func (fp *FrameParser) fail(err error) (*domain.Frame, int, error) {
	fp.state = StateFailed
	fp.err = err
	return nil, 0, err
}

// missing returns how many more bytes the parser needs, given that buffered
// bytes are available, to advance past its current state
func (fp *FrameParser) missing(buffered int) int {
	var need int
	switch fp.state {
	case StateAwaitingHeader, StateFrameComplete:
		need = 2
	case StateAwaitingExtendedLength:
		need = fp.offset + 2
		if fp.len7 == protocol.PayloadLen64Bit {
			need = fp.offset + 8
		}
	case StateAwaitingMaskKey:
		need = fp.offset
		if fp.frame.Masked {
			need += 4
		}
	case StateAwaitingPayload:
		need = fp.offset + int(fp.frame.PayloadLen)
	}
	if need <= buffered {
		return 0
	}
	return need - buffered
}

// ReadFrame reads exactly one frame from reader, blocking until it is complete.
// It never reads past the end of the frame. When reader fails part way through
// a frame, the bytes already read are kept and the next call resumes the same
// frame, so a read deadline can be retried.
func (fp *FrameParser) ReadFrame(reader io.Reader) (*domain.Frame, error) {
	buf := fp.partial
	fp.partial = nil
	if buf == nil {
		buf = make([]byte, 0, protocol.MaxFrameHeaderSize)
	}
	for {
		frame, _, err := fp.Parse(buf)
		if err != nil {
			return nil, err
		}
		if frame != nil {
			return frame, nil
		}

		n := fp.missing(len(buf))
		if n == 0 {
			continue
		}
		start := len(buf)
		buf = append(buf, make([]byte, n)...)
		read, err := io.ReadFull(reader, buf[start:])
		if err != nil {
			if start+read > 0 {
				fp.partial = buf[:start+read]
			}
			return nil, domain.IoError(errors.Wrap(err, "read frame"))
		}
	}
}

// WriteFrame writes a WebSocket frame to the writer
func WriteFrame(writer io.Writer, frame *domain.Frame) error {
	out, err := AppendFrame(nil, frame)
	if err != nil {
		return err
	}
	if _, err := writer.Write(out); err != nil {
		return domain.IoError(errors.Wrap(err, "write frame"))
	}
	return nil
}

// AppendFrame appends the wire encoding of frame to dst. The frame's payload
// is left untouched; masking is applied to the copy in dst.
func AppendFrame(dst []byte, frame *domain.Frame) ([]byte, error) {
	if err := frame.Validate(); err != nil {
		return dst, err
	}

	// First byte: FIN, RSV1-3, Opcode
	firstByte := byte(frame.Opcode)
	if frame.FIN {
		firstByte |= 0x80
	}
	if frame.RSV1 {
		firstByte |= 0x40
	}
	if frame.RSV2 {
		firstByte |= 0x20
	}
	if frame.RSV3 {
		firstByte |= 0x10
	}
	dst = append(dst, firstByte)

	// Second byte: MASK, Payload length
	payloadLen := frame.PayloadLen
	secondByte := byte(0)
	if frame.Masked {
		secondByte |= 0x80
	}

	switch {
	case payloadLen <= 125:
		dst = append(dst, secondByte|byte(payloadLen))
	case payloadLen <= math.MaxUint16:
		dst = append(dst, secondByte|protocol.PayloadLen16Bit)
		dst = binary.BigEndian.AppendUint16(dst, uint16(payloadLen))
	default:
		dst = append(dst, secondByte|protocol.PayloadLen64Bit)
		dst = binary.BigEndian.AppendUint64(dst, payloadLen)
	}

	if frame.Masked {
		dst = append(dst, frame.MaskingKey[:]...)
	}

	start := len(dst)
	dst = append(dst, frame.Payload...)
	if frame.Masked {
		Mask(frame.MaskingKey, dst[start:])
	}
	return dst, nil
}
