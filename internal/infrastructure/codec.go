package infrastructure

import (
	"bytes"
	"crypto/rand"
	"io"

	"github.com/pkg/errors"

	"websocket-proto/internal/domain"
	"websocket-proto/pkg/protocol"
)

// Codec converts between the byte stream of one connection and messages.
// It is not safe for concurrent use; a connection owns exactly one codec.
type Codec struct {
	role           domain.Role
	maxPayloadSize uint64
	random         io.Reader
	parser         *FrameParser
}

// CodecOption configures a Codec
type CodecOption func(*Codec)

// WithMaxPayloadSize sets the largest payload accepted or produced. Sizes
// above math.MaxInt32 are capped to it.
func WithMaxPayloadSize(n uint64) CodecOption {
	return func(c *Codec) {
		c.maxPayloadSize = n
	}
}

// WithRandom sets the source of client masking keys
func WithRandom(r io.Reader) CodecOption {
	return func(c *Codec) {
		c.random = r
	}
}

// NewCodec creates a codec for the given side of the connection
func NewCodec(role domain.Role, opts ...CodecOption) *Codec {
	c := &Codec{
		role:           role,
		maxPayloadSize: protocol.MaxPayloadSize,
		random:         rand.Reader,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.parser = NewFrameParser(role, c.maxPayloadSize)
	c.maxPayloadSize = c.parser.MaxPayloadSize()
	return c
}

// Role returns the side of the connection the codec works for
func (c *Codec) Role() domain.Role {
	return c.role
}

// MaxPayloadSize returns the largest payload the codec decodes or encodes
func (c *Codec) MaxPayloadSize() uint64 {
	return c.maxPayloadSize
}

// Failed reports whether a decode error has poisoned the codec
func (c *Codec) Failed() bool {
	return c.parser.State() == StateFailed
}

// Decode takes the next message off the front of buf. It returns nil, nil and
// leaves buf untouched when buf does not hold a complete frame yet.
func (c *Codec) Decode(buf *bytes.Buffer) (*domain.Message, error) {
	frame, n, err := c.parser.Parse(buf.Bytes())
	if err != nil {
		return nil, err
	}
	if frame == nil {
		return nil, nil
	}
	buf.Next(n)

	msg, err := domain.MessageFromFrame(frame)
	if err != nil {
		c.parser.fail(err)
		return nil, err
	}
	return msg, nil
}

// Encode appends msg to dst as a single final frame, masked when the codec
// works for the client side.
func (c *Codec) Encode(msg *domain.Message, dst *bytes.Buffer) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	opcode, err := msg.ToOpcode()
	if err != nil {
		return err
	}
	payload := msg.FramePayload()
	if uint64(len(payload)) > c.maxPayloadSize {
		return domain.ErrOverflow
	}

	frame := domain.NewFrame(opcode, payload)
	if c.role.MasksOutput() {
		key, err := c.newMaskKey()
		if err != nil {
			return err
		}
		frame.Masked = true
		frame.MaskingKey = key
	}

	dst.Grow(protocol.MaxFrameHeaderSize + len(payload))
	out, err := AppendFrame(dst.AvailableBuffer(), frame)
	if err != nil {
		return err
	}
	dst.Write(out)
	return nil
}

func (c *Codec) newMaskKey() ([4]byte, error) {
	var key [4]byte
	if _, err := io.ReadFull(c.random, key[:]); err != nil {
		return key, domain.IoError(errors.Wrap(err, "generate mask key"))
	}
	return key, nil
}
