package infrastructure

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"websocket-proto/internal/domain"
	"websocket-proto/pkg/protocol"
)

var testMaskKey = [4]byte{0x12, 0x34, 0x56, 0x78}

// rawFrame builds frame bytes by hand, bypassing any validation
func rawFrame(firstByte byte, masked bool, payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(firstByte)

	secondByte := byte(0)
	if masked {
		secondByte |= 0x80
	}
	n := len(payload)
	switch {
	case n <= 125:
		buf.WriteByte(secondByte | byte(n))
	case n <= 65535:
		buf.WriteByte(secondByte | protocol.PayloadLen16Bit)
		binary.Write(&buf, binary.BigEndian, uint16(n))
	default:
		buf.WriteByte(secondByte | protocol.PayloadLen64Bit)
		binary.Write(&buf, binary.BigEndian, uint64(n))
	}

	if masked {
		buf.Write(testMaskKey[:])
		maskedPayload := make([]byte, n)
		copy(maskedPayload, payload)
		Mask(testMaskKey, maskedPayload)
		buf.Write(maskedPayload)
	} else {
		buf.Write(payload)
	}
	return buf.Bytes()
}

func TestProperty_FrameHeaderParsingCorrectness(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	validOpcodes := []domain.Opcode{
		domain.OpcodeContinuation,
		domain.OpcodeText,
		domain.OpcodeBinary,
		domain.OpcodeClose,
		domain.OpcodePing,
		domain.OpcodePong,
	}

	properties.Property("parsing frame header extracts all fields correctly", prop.ForAll(
		func(fin bool, opcodeIdx int, server bool, payloadLen int) bool {
			frameOpcode := validOpcodes[opcodeIdx]
			if frameOpcode.IsControl() && payloadLen > 125 {
				payloadLen = 125
			}

			payload := make([]byte, payloadLen)
			for i := range payload {
				payload[i] = byte(i % 256)
			}

			firstByte := byte(frameOpcode)
			if fin {
				firstByte |= 0x80
			}

			role := domain.RoleClient
			if server {
				role = domain.RoleServer
			}
			// servers receive masked frames, clients unmasked ones
			data := rawFrame(firstByte, server, payload)

			parser := NewFrameParser(role, protocol.MaxPayloadSize)
			frame, n, err := parser.Parse(data)
			if err != nil {
				t.Logf("Error parsing frame: %v", err)
				return false
			}
			if frame == nil || n != len(data) {
				t.Logf("expected a complete frame of %d bytes, got %v after %d", len(data), frame, n)
				return false
			}

			if frame.FIN != fin {
				t.Logf("FIN mismatch: expected %v, got %v", fin, frame.FIN)
				return false
			}
			if frame.Opcode != frameOpcode {
				t.Logf("Opcode mismatch: expected %v, got %v", frameOpcode, frame.Opcode)
				return false
			}
			if frame.Masked != server {
				t.Logf("Masked mismatch: expected %v, got %v", server, frame.Masked)
				return false
			}
			if frame.PayloadLen != uint64(payloadLen) {
				t.Logf("PayloadLen mismatch: expected %v, got %v", payloadLen, frame.PayloadLen)
				return false
			}
			if !bytes.Equal(frame.Payload, payload) {
				t.Logf("Payload mismatch")
				return false
			}
			return parser.State() == StateFrameComplete
		},
		gen.Bool(),
		gen.IntRange(0, 5),
		gen.Bool(),
		gen.IntRange(0, 70000),
	))

	properties.TestingRun(t)
}

// Bytes may arrive in arbitrary chunks; nothing is consumed until a frame is whole
func TestProperty_StreamingResumption(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("frames are emitted only once complete", prop.ForAll(
		func(payloadLen int, chunk int) bool {
			payload := bytes.Repeat([]byte{'a'}, payloadLen)
			data := rawFrame(0x82, true, payload)

			parser := NewFrameParser(domain.RoleServer, 0)
			for end := chunk; ; end += chunk {
				if end > len(data) {
					end = len(data)
				}
				frame, n, err := parser.Parse(data[:end])
				if err != nil {
					t.Logf("unexpected error: %v", err)
					return false
				}
				if end < len(data) {
					if frame != nil || n != 0 {
						t.Logf("frame emitted from %d of %d bytes", end, len(data))
						return false
					}
					continue
				}
				return frame != nil && n == len(data) && bytes.Equal(frame.Payload, payload)
			}
		},
		gen.IntRange(0, 300),
		gen.IntRange(1, 17),
	))

	properties.TestingRun(t)
}

func TestFrameParser_ConsecutiveFrames(t *testing.T) {
	var stream []byte
	stream = append(stream, rawFrame(0x81, true, []byte("one"))...)
	stream = append(stream, rawFrame(0x89, true, []byte("ping"))...)
	stream = append(stream, rawFrame(0x82, true, []byte{1, 2, 3})...)

	parser := NewFrameParser(domain.RoleServer, 0)
	var opcodes []domain.Opcode
	for len(stream) > 0 {
		frame, n, err := parser.Parse(stream)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if frame == nil {
			t.Fatalf("incomplete frame with %d bytes left", len(stream))
		}
		opcodes = append(opcodes, frame.Opcode)
		stream = stream[n:]
	}

	want := []domain.Opcode{domain.OpcodeText, domain.OpcodePing, domain.OpcodeBinary}
	if len(opcodes) != len(want) {
		t.Fatalf("got %v, want %v", opcodes, want)
	}
	for i := range want {
		if opcodes[i] != want[i] {
			t.Errorf("frame %d: got %v, want %v", i, opcodes[i], want[i])
		}
	}
}

func TestFrameParser_States(t *testing.T) {
	data := rawFrame(0x82, true, make([]byte, 300))
	parser := NewFrameParser(domain.RoleServer, 0)

	steps := []struct {
		end  int
		want ParserState
	}{
		{1, StateAwaitingHeader},
		{2, StateAwaitingExtendedLength},
		{4, StateAwaitingMaskKey},
		{8, StateAwaitingPayload},
		{100, StateAwaitingPayload},
		{len(data), StateFrameComplete},
	}
	for _, step := range steps {
		if _, _, err := parser.Parse(data[:step.end]); err != nil {
			t.Fatalf("unexpected error at %d bytes: %v", step.end, err)
		}
		if got := parser.State(); got != step.want {
			t.Errorf("after %d bytes: state = %s, want %s", step.end, got, step.want)
		}
	}
}

func TestFrameParser_MaskingDirection(t *testing.T) {
	server := NewFrameParser(domain.RoleServer, 0)
	_, _, err := server.Parse(rawFrame(0x81, false, []byte("hi")))
	if !errors.Is(err, domain.ErrUnmaskedFrame) {
		t.Errorf("server: expected ErrUnmaskedFrame, got %v", err)
	}

	client := NewFrameParser(domain.RoleClient, 0)
	_, _, err = client.Parse(rawFrame(0x81, true, []byte("hi")))
	if !errors.Is(err, domain.ErrMaskedFrame) {
		t.Errorf("client: expected ErrMaskedFrame, got %v", err)
	}
}

func TestFrameParser_ControlFrameLength(t *testing.T) {
	tests := []struct {
		name   string
		header []byte
		kind   domain.ProtocolErrorKind
		length uint64
	}{
		{"16-bit length 126", []byte{0x80 | 126, 0x00, 126}, domain.KindInvalidLength, 126},
		{"16-bit length 300", []byte{0x80 | 126, 0x01, 0x2C}, domain.KindInvalidLength, 300},
		{"64-bit length 200", []byte{0x80 | 127, 0, 0, 0, 0, 0, 0, 0, 200}, domain.KindInvalidLength, 200},
		{"64-bit length over the ceiling", []byte{0x80 | 127, 0, 0, 0, 1, 0, 0, 0, 0}, domain.KindOverflow, 0},
	}

	for _, opcode := range []domain.Opcode{domain.OpcodeClose, domain.OpcodePing, domain.OpcodePong} {
		for _, tt := range tests {
			t.Run(opcode.String()+"/"+tt.name, func(t *testing.T) {
				parser := NewFrameParser(domain.RoleServer, 0)
				// header only, none of the declared payload bytes follow
				buf := append([]byte{0x80 | byte(opcode)}, tt.header...)
				_, _, err := parser.Parse(buf)

				var pe *domain.ProtocolError
				if !errors.As(err, &pe) || pe.Kind != tt.kind || pe.Length != tt.length {
					t.Errorf("expected %s(%d), got %v", tt.kind, tt.length, err)
				}
				if parser.State() != StateFailed {
					t.Errorf("expected Failed state, got %s", parser.State())
				}
			})
		}
	}
}

func TestFrameParser_ControlFrameLengthNeedsExtendedBytes(t *testing.T) {
	parser := NewFrameParser(domain.RoleServer, 0)
	frame, n, err := parser.Parse([]byte{0x89, 0x80 | 126, 0x00})
	if frame != nil || n != 0 || err != nil {
		t.Fatalf("expected more input to be needed, got %v, %d, %v", frame, n, err)
	}
	if parser.State() != StateAwaitingExtendedLength {
		t.Errorf("expected AwaitingExtendedLength, got %s", parser.State())
	}
}

func TestProperty_MaximumPayloadSizeEnforcement(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("frames exceeding max payload size are rejected", prop.ForAll(
		func(excessSize uint64) bool {
			maxSize := uint64(1000)
			parser := NewFrameParser(domain.RoleServer, maxSize)
			payloadLen := maxSize + excessSize + 1

			// header and extended length only, no mask key or payload
			var buf bytes.Buffer
			buf.WriteByte(0x82)
			if payloadLen <= 65535 {
				buf.WriteByte(0x80 | 126)
				binary.Write(&buf, binary.BigEndian, uint16(payloadLen))
			} else {
				buf.WriteByte(0x80 | 127)
				binary.Write(&buf, binary.BigEndian, payloadLen)
			}

			_, n, err := parser.Parse(buf.Bytes())
			if !errors.Is(err, domain.ErrOverflow) {
				t.Logf("Expected ErrOverflow, got: %v", err)
				return false
			}
			return n == 0
		},
		gen.UInt64Range(0, 1<<40),
	))

	properties.TestingRun(t)
}

func TestFrameParser_InvalidOpcodes(t *testing.T) {
	for _, code := range []byte{3, 4, 5, 6, 7, 11, 12, 13, 14, 15} {
		parser := NewFrameParser(domain.RoleServer, 0)
		_, _, err := parser.Parse([]byte{0x80 | code, 0x80})

		var pe *domain.ProtocolError
		if !errors.As(err, &pe) || pe.Kind != domain.KindInvalidOpcode || pe.Opcode != code {
			t.Errorf("opcode %d: expected InvalidOpcode(%d), got %v", code, code, err)
		}
		if !errors.Is(err, domain.ErrBadOpCode) {
			t.Errorf("opcode %d: expected match on ErrBadOpCode", code)
		}
	}
}

func TestFrameParser_ReservedBits(t *testing.T) {
	for _, first := range []byte{0xC1, 0xA1, 0x91} {
		parser := NewFrameParser(domain.RoleServer, 0)
		_, _, err := parser.Parse(rawFrame(first, true, []byte("x")))
		if !errors.Is(err, domain.ErrReservedBits) {
			t.Errorf("first byte %#x: expected ErrReservedBits, got %v", first, err)
		}
	}
}

func TestFrameParser_FailedStateIsTerminal(t *testing.T) {
	parser := NewFrameParser(domain.RoleServer, 0)
	if _, _, err := parser.Parse(rawFrame(0x81, false, nil)); err == nil {
		t.Fatal("expected an error for an unmasked frame")
	}
	if parser.State() != StateFailed {
		t.Fatalf("state = %s, want Failed", parser.State())
	}

	_, _, err := parser.Parse(rawFrame(0x81, true, []byte("fine")))
	if !errors.Is(err, domain.ErrParserFailed) {
		t.Errorf("expected ErrParserFailed, got %v", err)
	}
	if !errors.Is(err, domain.ErrUnmaskedFrame) {
		t.Errorf("expected original cause to be kept, got %v", err)
	}

	parser.Reset()
	if frame, _, err := parser.Parse(rawFrame(0x81, true, []byte("fine"))); err != nil || frame == nil {
		t.Errorf("after Reset: got %v, %v", frame, err)
	}
}

func TestFrameParser_ReadFrameErrors(t *testing.T) {
	parser := NewFrameParser(domain.RoleClient, 0)
	_, err := parser.ReadFrame(bytes.NewReader(nil))
	if !errors.Is(err, domain.ErrIo) || !errors.Is(err, io.EOF) {
		t.Errorf("empty input: expected Io wrapping EOF, got %v", err)
	}

	truncated := rawFrame(0x82, false, make([]byte, 50))[:20]
	parser = NewFrameParser(domain.RoleClient, 0)
	_, err = parser.ReadFrame(bytes.NewReader(truncated))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("truncated input: expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestFrameParser_ReadFrameStopsAtFrameEnd(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(rawFrame(0x81, false, []byte("first")))
	stream.Write(rawFrame(0x81, false, []byte("second")))

	parser := NewFrameParser(domain.RoleClient, 0)
	for _, want := range []string{"first", "second"} {
		frame, err := parser.ReadFrame(&stream)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(frame.Payload) != want {
			t.Errorf("got %q, want %q", frame.Payload, want)
		}
	}
}

var errReadTimeout = errors.New("i/o timeout")

// stallingReader hands out its chunks one per Read and fails once after the
// first stallAfter chunks
type stallingReader struct {
	chunks     [][]byte
	stallAfter int
	reads      int
	stalled    bool
}

func (r *stallingReader) Read(p []byte) (int, error) {
	if !r.stalled && r.reads == r.stallAfter {
		r.stalled = true
		return 0, errReadTimeout
	}
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if len(r.chunks[0]) == 0 {
		r.chunks = r.chunks[1:]
	}
	r.reads++
	return n, nil
}

func TestFrameParser_ReadFrameResumesAfterReadError(t *testing.T) {
	var stream []byte
	stream = append(stream, rawFrame(0x81, false, []byte("first-frame"))...)
	stream = append(stream, rawFrame(0x81, false, []byte("second-frame"))...)

	// 2 header bytes, then 3 payload bytes, then the reader times out
	reader := &stallingReader{
		chunks:     [][]byte{stream[:2], stream[2:5], stream[5:]},
		stallAfter: 2,
	}
	parser := NewFrameParser(domain.RoleClient, 0)

	_, err := parser.ReadFrame(reader)
	if !errors.Is(err, domain.ErrIo) || !errors.Is(err, errReadTimeout) {
		t.Fatalf("expected Io wrapping the timeout, got %v", err)
	}
	if parser.State() != StateAwaitingPayload {
		t.Fatalf("expected AwaitingPayload, got %s", parser.State())
	}

	for _, want := range []string{"first-frame", "second-frame"} {
		frame, err := parser.ReadFrame(reader)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(frame.Payload) != want {
			t.Errorf("got %q, want %q", frame.Payload, want)
		}
	}
}

func TestFrameParser_ResetDropsPartialFrame(t *testing.T) {
	frame := rawFrame(0x82, false, []byte("payload"))
	reader := &stallingReader{chunks: [][]byte{frame[:4]}, stallAfter: 1}
	parser := NewFrameParser(domain.RoleClient, 0)
	if _, err := parser.ReadFrame(reader); !errors.Is(err, errReadTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}

	parser.Reset()
	got, err := parser.ReadFrame(bytes.NewReader(rawFrame(0x81, false, []byte("fresh"))))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got.Payload) != "fresh" {
		t.Errorf("got %q, want %q", got.Payload, "fresh")
	}
}

func TestWriteFrame_LengthEncoding(t *testing.T) {
	tests := []struct {
		payloadLen int
		headerLen  int
		len7       byte
	}{
		{0, 2, 0},
		{125, 2, 125},
		{126, 4, 126},
		{65535, 4, 126},
		{65536, 10, 127},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		if err := WriteFrame(&buf, domain.NewFrame(domain.OpcodeBinary, make([]byte, tt.payloadLen))); err != nil {
			t.Fatalf("WriteFrame(%d): %v", tt.payloadLen, err)
		}
		out := buf.Bytes()
		if got := len(out) - tt.payloadLen; got != tt.headerLen {
			t.Errorf("payload %d: header length %d, want %d", tt.payloadLen, got, tt.headerLen)
		}
		if got := out[1] & 0x7F; got != tt.len7 {
			t.Errorf("payload %d: length field %d, want %d", tt.payloadLen, got, tt.len7)
		}
	}
}

func TestAppendFrame_MaskedLeavesPayloadIntact(t *testing.T) {
	payload := []byte("Hello")
	frame := domain.NewMaskedFrame(domain.OpcodeText, payload, [4]byte{0x37, 0xfa, 0x21, 0x3d})

	out, err := AppendFrame(nil, frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []byte{0x81, 0x85, 0x37, 0xfa, 0x21, 0x3d, 0x7f, 0x9f, 0x4d, 0x51, 0x58}
	if !bytes.Equal(out, want) {
		t.Errorf("AppendFrame() = %x, want %x", out, want)
	}
	if string(payload) != "Hello" {
		t.Errorf("payload was modified: %q", payload)
	}
}

func TestWriteFrame_RejectsInvalidFrame(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, domain.NewFrame(domain.OpcodePing, make([]byte, 126)))
	if !errors.Is(err, domain.ErrInvalidLength) {
		t.Errorf("expected ErrInvalidLength, got %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected nothing written, got %d bytes", buf.Len())
	}
}

// Unit tests for frame type support

func TestFrameParser_FrameTypes(t *testing.T) {
	tests := []struct {
		opcode  domain.Opcode
		payload []byte
	}{
		{domain.OpcodeText, []byte("Hello, WebSocket!")},
		{domain.OpcodeBinary, []byte{0x00, 0x01, 0x02, 0xFF, 0xFE, 0xFD}},
		{domain.OpcodeClose, []byte{0x03, 0xE8}},
		{domain.OpcodePing, []byte("ping")},
		{domain.OpcodePong, []byte("pong")},
	}

	for _, tt := range tests {
		t.Run(tt.opcode.String(), func(t *testing.T) {
			var buf bytes.Buffer
			frame := domain.NewMaskedFrame(tt.opcode, tt.payload, testMaskKey)
			if err := WriteFrame(&buf, frame); err != nil {
				t.Fatalf("Failed to write frame: %v", err)
			}

			parser := NewFrameParser(domain.RoleServer, protocol.MaxPayloadSize)
			parsedFrame, err := parser.ReadFrame(&buf)
			if err != nil {
				t.Fatalf("Failed to read frame: %v", err)
			}
			if parsedFrame.Opcode != tt.opcode {
				t.Errorf("Expected opcode %v, got %v", tt.opcode, parsedFrame.Opcode)
			}
			if !bytes.Equal(parsedFrame.Payload, tt.payload) {
				t.Errorf("Payload mismatch")
			}
			if parsedFrame.MaskingKey != ([4]byte{}) {
				t.Errorf("mask key should be discarded after unmasking")
			}
		})
	}
}
