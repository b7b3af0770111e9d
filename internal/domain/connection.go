package domain

import (
	"fmt"
	"time"
)

// ConnectionState represents the state of a WebSocket connection
type ConnectionState int

const (
	// StateConnecting indicates the opening handshake has not completed
	StateConnecting ConnectionState = iota
	// StateOpen indicates frames may flow in both directions
	StateOpen
	// StateClosing indicates a Close frame has been sent or received
	StateClosing
	// StateClosed indicates the underlying stream is gone
	StateClosed
)

// String returns the string representation of the connection state
func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateOpen:
		return "Open"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Connection tracks one upgraded stream. It is owned by a single driver and
// is not safe for concurrent use.
type Connection struct {
	ID           string          // Unique connection identifier
	RemoteAddr   string          // Remote address
	Role         Role            // Side this endpoint plays
	State        ConnectionState // Current connection state
	LastActivity time.Time       // Last time a frame was read or written
	CloseSent    bool            // A Close frame was written
	CloseRecv    bool            // A Close frame was read
	PeerReason   *CloseReason    // Reason carried by the peer's Close frame, may be nil
}

// NewConnection creates a new connection in the Connecting state
func NewConnection(id, remoteAddr string, role Role) *Connection {
	return &Connection{
		ID:           id,
		RemoteAddr:   remoteAddr,
		Role:         role,
		State:        StateConnecting,
		LastActivity: time.Now(),
	}
}

// CanTransitionTo checks if the connection can transition to the given state
func (c *Connection) CanTransitionTo(newState ConnectionState) bool {
	switch c.State {
	case StateConnecting:
		return newState == StateOpen || newState == StateClosed
	case StateOpen:
		return newState == StateClosing || newState == StateClosed
	case StateClosing:
		return newState == StateClosed
	default:
		return false
	}
}

// TransitionTo transitions the connection to the given state
func (c *Connection) TransitionTo(newState ConnectionState) error {
	if !c.CanTransitionTo(newState) {
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidState, c.State, newState)
	}
	c.State = newState
	return nil
}

// MarkCloseSent records an outgoing Close frame and moves an open connection to Closing
func (c *Connection) MarkCloseSent() {
	c.CloseSent = true
	if c.State == StateOpen {
		c.State = StateClosing
	}
}

// MarkCloseReceived records an incoming Close frame and moves an open connection to Closing
func (c *Connection) MarkCloseReceived(reason *CloseReason) {
	c.CloseRecv = true
	c.PeerReason = reason
	if c.State == StateOpen {
		c.State = StateClosing
	}
}

// CloseHandshakeDone reports whether Close frames went both ways
func (c *Connection) CloseHandshakeDone() bool {
	return c.CloseSent && c.CloseRecv
}

// UpdateActivity updates the last activity timestamp
func (c *Connection) UpdateActivity() {
	c.LastActivity = time.Now()
}

// IsOpen returns true if the connection is open
func (c *Connection) IsOpen() bool {
	return c.State == StateOpen
}

// IsClosed returns true if the connection is closed
func (c *Connection) IsClosed() bool {
	return c.State == StateClosed
}

// IsClosing returns true if the connection is closing
func (c *Connection) IsClosing() bool {
	return c.State == StateClosing
}
