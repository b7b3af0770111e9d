package infrastructure

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/eapache/queue"
	"github.com/pkg/errors"

	"websocket-proto/internal/domain"
)

const defaultReadSize = 4096

// deadliner is implemented by net.Conn
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Transport drives a Codec over an upgraded byte stream. Received bytes are
// appended to an input buffer and decoded in arrival order; outgoing messages
// wait in a FIFO until Flush encodes and writes them.
//
// A Transport is owned by one goroutine. Any decode error is fatal: the
// stream is closed and every later call fails.
type Transport struct {
	conn  *domain.Connection
	rw    io.ReadWriteCloser
	codec *Codec

	in      bytes.Buffer
	out     bytes.Buffer
	pending *queue.Queue
	readBuf []byte
	err     error

	// AutoPong answers every Ping with a Pong carrying the same payload
	AutoPong bool
	// CloseOnError sends a Close frame with the matching status before
	// dropping the stream after a protocol error
	CloseOnError bool
}

// NewTransport wraps rw for the connection and marks the connection open
func NewTransport(rw io.ReadWriteCloser, conn *domain.Connection, opts ...CodecOption) *Transport {
	t := &Transport{
		conn:         conn,
		rw:           rw,
		codec:        NewCodec(conn.Role, opts...),
		pending:      queue.New(),
		readBuf:      make([]byte, defaultReadSize),
		AutoPong:     true,
		CloseOnError: true,
	}
	if conn.State == domain.StateConnecting {
		_ = conn.TransitionTo(domain.StateOpen)
	}
	return t
}

// Connection returns the connection the transport drives
func (t *Transport) Connection() *domain.Connection {
	return t.conn
}

// Feed appends bytes that were read from the stream elsewhere, for example
// bytes buffered by the HTTP server before the upgrade
func (t *Transport) Feed(p []byte) {
	t.in.Write(p)
}

// Buffered returns the number of received bytes not yet decoded
func (t *Transport) Buffered() int {
	return t.in.Len()
}

// Next decodes the next message from already received bytes. It returns
// nil, nil when they do not hold a complete frame.
func (t *Transport) Next() (*domain.Message, error) {
	if t.err != nil {
		return nil, t.err
	}
	msg, err := t.codec.Decode(&t.in)
	if err != nil {
		t.fail(err)
		return nil, err
	}
	if msg != nil {
		t.conn.UpdateActivity()
		if err := t.handleControl(msg); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// ReadMessage returns the next message, reading from the stream as needed.
// Cancellation relies on the stream supporting read deadlines.
func (t *Transport) ReadMessage(ctx context.Context) (*domain.Message, error) {
	if d, ok := t.rw.(deadliner); ok {
		if deadline, ok := ctx.Deadline(); ok {
			_ = d.SetReadDeadline(deadline)
			defer d.SetReadDeadline(time.Time{})
		}
	}

	for {
		msg, err := t.Next()
		if err != nil || msg != nil {
			return msg, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if t.conn.IsClosed() {
			return nil, domain.ErrConnectionClosed
		}

		n, err := t.rw.Read(t.readBuf)
		if n > 0 {
			t.in.Write(t.readBuf[:n])
		}
		if err != nil {
			if n > 0 {
				// decode what arrived before reporting the failure
				if msg, derr := t.Next(); derr != nil || msg != nil {
					return msg, derr
				}
			}
			err = domain.IoError(errors.Wrap(err, "read"))
			t.fail(err)
			return nil, err
		}
	}
}

// handleControl applies the connection-level effect of control messages
func (t *Transport) handleControl(msg *domain.Message) error {
	switch msg.Type {
	case domain.MessageTypePing:
		if t.AutoPong && !t.conn.CloseSent {
			if err := t.Send(domain.NewPongMessage(msg.Payload)); err != nil {
				return err
			}
			return t.Flush()
		}
	case domain.MessageTypeClose:
		t.conn.MarkCloseReceived(msg.Reason)
		if !t.conn.CloseSent {
			reply := domain.NewCloseMessage(nil)
			if msg.Reason != nil {
				reply = domain.NewCloseMessage(domain.NewCloseReason(msg.Reason.Code, ""))
			}
			if err := t.Send(reply); err != nil {
				return err
			}
			if err := t.Flush(); err != nil {
				return err
			}
		}
		if t.conn.CloseHandshakeDone() {
			t.shutdown()
		}
	}
	return nil
}

// Send queues msg for the next Flush. Nothing may follow a Close message.
func (t *Transport) Send(msg *domain.Message) error {
	if t.err != nil {
		return t.err
	}
	if !(t.conn.IsOpen() || t.conn.IsClosing()) || t.conn.CloseSent || t.closeQueued() {
		return domain.ErrConnectionClosed
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if uint64(len(msg.FramePayload())) > t.codec.MaxPayloadSize() {
		return domain.ErrOverflow
	}
	t.pending.Add(msg)
	return nil
}

func (t *Transport) closeQueued() bool {
	n := t.pending.Length()
	if n == 0 {
		return false
	}
	last := t.pending.Get(n - 1).(*domain.Message)
	return last.Type == domain.MessageTypeClose
}

// Pending returns the number of queued messages
func (t *Transport) Pending() int {
	return t.pending.Length()
}

// Flush encodes every queued message in order and writes them to the stream.
// A message that fails to encode is dropped; the others are still written and
// the first encode error is returned.
func (t *Transport) Flush() error {
	if t.err != nil {
		return t.err
	}
	var encodeErr error
	closing := false
	for t.pending.Length() > 0 {
		msg := t.pending.Remove().(*domain.Message)
		if err := t.codec.Encode(msg, &t.out); err != nil {
			if encodeErr == nil {
				encodeErr = err
			}
			continue
		}
		if msg.Type == domain.MessageTypeClose {
			closing = true
		}
	}
	if t.out.Len() > 0 {
		if _, err := t.out.WriteTo(t.rw); err != nil {
			err = domain.IoError(errors.Wrap(err, "write"))
			t.fail(err)
			return err
		}
		t.conn.UpdateActivity()
		if closing {
			t.conn.MarkCloseSent()
		}
	}
	return encodeErr
}

// Close starts the closing handshake with reason, which may be nil. The
// stream is released once the peer answers, or right away if it already did.
func (t *Transport) Close(reason *domain.CloseReason) error {
	if t.conn.IsClosed() {
		return nil
	}
	if !t.conn.CloseSent {
		if err := t.Send(domain.NewCloseMessage(reason)); err != nil {
			return err
		}
		if err := t.Flush(); err != nil {
			return err
		}
	}
	if t.conn.CloseHandshakeDone() {
		t.shutdown()
	}
	return nil
}

// Abort releases the stream without a closing handshake
func (t *Transport) Abort() error {
	if t.conn.IsClosed() {
		return nil
	}
	_ = t.conn.TransitionTo(domain.StateClosed)
	return t.rw.Close()
}

func (t *Transport) shutdown() {
	_ = t.conn.TransitionTo(domain.StateClosed)
	_ = t.rw.Close()
}

// fail poisons the transport. For protocol violations a Close frame carrying
// the matching status is attempted first.
func (t *Transport) fail(err error) {
	if t.err != nil {
		return
	}
	t.err = err

	var pe *domain.ProtocolError
	if t.CloseOnError && !t.conn.CloseSent && errors.As(err, &pe) && pe.Kind != domain.KindIo {
		var frame bytes.Buffer
		if t.codec.Encode(domain.NewCloseMessage(domain.NewCloseReason(pe.CloseCode(), "")), &frame) == nil {
			if _, werr := frame.WriteTo(t.rw); werr == nil {
				t.conn.MarkCloseSent()
			}
		}
	}
	if !t.conn.IsClosed() {
		t.shutdown()
	}
}
