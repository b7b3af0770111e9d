package infrastructure

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"websocket-proto/internal/domain"
	"websocket-proto/pkg/protocol"
)

// Request is the read-only view of an HTTP request the handshake needs.
// Implementations are borrowed for the duration of a call only.
type Request interface {
	Method() string
	Header(name string) (string, bool)
	// Upgrade reports whether the request asks for a connection upgrade
	Upgrade() bool
}

// HTTPRequest adapts a net/http request to Request
type HTTPRequest struct {
	Request *http.Request
}

// Method returns the request method
func (r HTTPRequest) Method() string {
	return r.Request.Method
}

// Header returns the first value of the named header
func (r HTTPRequest) Header(name string) (string, bool) {
	values := r.Request.Header.Values(name)
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// Upgrade reports whether the Connection header carries the upgrade token
func (r HTTPRequest) Upgrade() bool {
	for _, v := range r.Request.Header.Values(protocol.HeaderConnection) {
		if containsToken(v, protocol.HeaderValueUpgrade) {
			return true
		}
	}
	return false
}

// Response is an HTTP response produced by the handshake, handed to the
// caller for transmission
type Response struct {
	Status int
	Header http.Header
	Reason string
}

func newResponse(status int) *Response {
	return &Response{Status: status, Header: make(http.Header)}
}

// Respond sends the response through w
func (r *Response) Respond(w http.ResponseWriter) {
	for name, values := range r.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	if r.Reason != "" {
		http.Error(w, r.Reason, r.Status)
		return
	}
	w.WriteHeader(r.Status)
}

// Write serializes the response as an HTTP/1.1 status line and headers,
// for use on a hijacked connection
func (r *Response) Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", r.Status, http.StatusText(r.Status)); err != nil {
		return err
	}
	if err := r.Header.Write(w); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

// VerifyHandshake checks that req may be upgraded. The checks run in a fixed
// order and the first failure is returned.
func VerifyHandshake(req Request) error {
	// WebSocket accepts only GET
	if req.Method() != http.MethodGet {
		return domain.ErrGetMethodRequired
	}

	upgrade, ok := req.Header(protocol.HeaderUpgrade)
	if !ok || !strings.Contains(strings.ToLower(upgrade), protocol.HeaderValueWebSocket) {
		return domain.ErrNoWebsocketUpgrade
	}

	if !req.Upgrade() {
		return domain.ErrNoConnectionUpgrade
	}

	version, ok := req.Header(protocol.HeaderSecWebSocketVersion)
	if !ok {
		return domain.ErrNoVersionHeader
	}
	if !protocol.IsSupportedVersion(version) {
		return domain.ErrUnsupportedVersion
	}

	if _, ok := req.Header(protocol.HeaderSecWebSocketKey); !ok {
		return domain.ErrBadWebsocketKey
	}
	return nil
}

// HandshakeResponse builds the 101 response for a verified request. A request
// without a Sec-WebSocket-Key yields ErrBadWebsocketKey.
func HandshakeResponse(req Request) (*Response, error) {
	key, ok := req.Header(protocol.HeaderSecWebSocketKey)
	if !ok {
		return nil, domain.ErrBadWebsocketKey
	}

	resp := newResponse(http.StatusSwitchingProtocols)
	resp.Header.Set(protocol.HeaderUpgrade, protocol.HeaderValueWebSocket)
	resp.Header.Set(protocol.HeaderConnection, protocol.HeaderValueUpgrade)
	resp.Header.Set(protocol.HeaderSecWebSocketAccept, GenerateAcceptKey(key))
	return resp, nil
}

// Handshake verifies req and builds its 101 response
func Handshake(req Request) (*Response, error) {
	if err := VerifyHandshake(req); err != nil {
		return nil, err
	}
	return HandshakeResponse(req)
}

// handshakeErrorResponses maps each handshake failure to the response sent
// when no upgrade takes place
var handshakeErrorResponses = map[domain.HandshakeErrorKind]struct {
	status int
	reason string
}{
	domain.KindGetMethodRequired:   {http.StatusMethodNotAllowed, ""},
	domain.KindNoWebsocketUpgrade:  {http.StatusBadRequest, "No WebSocket UPGRADE header found"},
	domain.KindNoConnectionUpgrade: {http.StatusBadRequest, "No CONNECTION upgrade"},
	domain.KindNoVersionHeader:     {http.StatusBadRequest, "Websocket version header is required"},
	domain.KindUnsupportedVersion:  {http.StatusBadRequest, "Unsupported version"},
	domain.KindBadWebsocketKey:     {http.StatusBadRequest, "Handshake error"},
}

// ErrorResponse returns the HTTP response for a failed handshake
func ErrorResponse(err *domain.HandshakeError) *Response {
	entry, ok := handshakeErrorResponses[err.Kind]
	if !ok {
		entry.status = http.StatusBadRequest
		entry.reason = err.Error()
	}
	resp := newResponse(entry.status)
	resp.Reason = entry.reason
	if err.Kind == domain.KindGetMethodRequired {
		resp.Header.Set(protocol.HeaderAllow, http.MethodGet)
	}
	return resp
}

// GenerateAcceptKey generates the Sec-WebSocket-Accept value from the client's key
// According to RFC 6455: base64(SHA1(key + "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"))
func GenerateAcceptKey(key string) string {
	hash := sha1.Sum([]byte(key + protocol.WebSocketGUID))
	return base64.StdEncoding.EncodeToString(hash[:])
}

// NewClientKey returns a fresh Sec-WebSocket-Key: 16 random bytes, base64 encoded
func NewClientKey(random io.Reader) (string, error) {
	if random == nil {
		random = rand.Reader
	}
	var nonce [16]byte
	if _, err := io.ReadFull(random, nonce[:]); err != nil {
		return "", errors.Wrap(err, "generate websocket key")
	}
	return base64.StdEncoding.EncodeToString(nonce[:]), nil
}

// VerifyAccept reports whether accept is the server's answer to key
func VerifyAccept(key, accept string) bool {
	return accept == GenerateAcceptKey(key)
}

// containsToken checks if a comma-separated header value contains a specific token (case-insensitive)
func containsToken(header, token string) bool {
	tokens := strings.Split(header, ",")
	for _, t := range tokens {
		if strings.EqualFold(strings.TrimSpace(t), token) {
			return true
		}
	}
	return false
}
