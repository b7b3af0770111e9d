package infrastructure

import (
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/pkg/errors"

	"websocket-proto/internal/domain"
)

var connectionSeq atomic.Uint64

// Upgrader promotes net/http requests to server-side transports
type Upgrader struct {
	// MaxPayloadSize bounds received and sent payloads, 0 selects the default
	MaxPayloadSize uint64
}

// NewUpgrader creates an Upgrader with the given payload ceiling
func NewUpgrader(maxPayloadSize uint64) *Upgrader {
	return &Upgrader{MaxPayloadSize: maxPayloadSize}
}

// Upgrade performs the opening handshake on r. When the request cannot be
// upgraded the matching error response is written to w and the
// *domain.HandshakeError is returned.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*Transport, error) {
	resp, err := Handshake(HTTPRequest{r})
	if err != nil {
		var he *domain.HandshakeError
		if errors.As(err, &he) {
			ErrorResponse(he).Respond(w)
		}
		return nil, err
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return nil, errors.New("response writer does not support hijacking")
	}
	netConn, brw, err := hj.Hijack()
	if err != nil {
		return nil, errors.Wrap(err, "hijack connection")
	}

	if err := resp.Write(brw.Writer); err != nil {
		netConn.Close()
		return nil, errors.Wrap(err, "write handshake response")
	}
	if err := brw.Writer.Flush(); err != nil {
		netConn.Close()
		return nil, errors.Wrap(err, "flush handshake response")
	}

	id := fmt.Sprintf("conn-%d", connectionSeq.Add(1))
	conn := domain.NewConnection(id, r.RemoteAddr, domain.RoleServer)
	t := NewTransport(netConn, conn, WithMaxPayloadSize(u.MaxPayloadSize))

	// frames the client sent right behind its request
	if n := brw.Reader.Buffered(); n > 0 {
		early, _ := brw.Reader.Peek(n)
		t.Feed(early)
	}
	return t, nil
}
