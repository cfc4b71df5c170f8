// Package websocket provides a transport for bus gateways reached over
// WebSocket. Credentials travel as HTTP basic auth on the upgrade request and
// the resource as the ResourceHeader header.
package websocket

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/gorilla/websocket"

	"github.com/drblury/srfbus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "websocket"

// ResourceHeader carries the resource on the upgrade request.
const ResourceHeader = "X-Srfbus-Resource"

// Path is the gateway endpoint path.
const Path = "/srfbus"

// closeGrace bounds the close handshake on Disconnect.
const closeGrace = time.Second

// Dialer allows overriding the WebSocket dialer for testing.
var Dialer = func(handshakeTimeout time.Duration) *websocket.Dialer {
	return &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
}

func init() {
	Register()
}

// Register registers the WebSocket transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.WebSocketCapabilities)
}

// Build creates an unconnected WebSocket transport.
func Build(ep transport.Endpoint, logger watermill.LoggerAdapter) (transport.Transport, error) {
	return &Transport{endpoint: ep, logger: logger}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.WebSocketCapabilities
}

// Transport is one WebSocket session with a bus gateway.
type Transport struct {
	endpoint transport.Endpoint
	logger   watermill.LoggerAdapter

	mu   sync.Mutex
	conn *websocket.Conn
}

var (
	_ transport.Transport            = (*Transport)(nil)
	_ transport.ConnectionChecker    = (*Transport)(nil)
	_ transport.CapabilitiesProvider = (*Transport)(nil)
)

// URL returns the gateway URL for the endpoint.
func (t *Transport) URL() string {
	u := url.URL{Scheme: "ws", Host: t.endpoint.Address(), Path: Path}
	return u.String()
}

// Header builds the upgrade request header for creds.
func Header(creds transport.Credentials) http.Header {
	req := http.Request{Header: http.Header{}}
	req.SetBasicAuth(creds.Username, creds.Password)
	req.Header.Set(ResourceHeader, creds.Resource)
	return req.Header
}

// Connect performs the WebSocket upgrade. The gateway authenticates the
// request; a rejected upgrade surfaces as the dial error.
func (t *Transport) Connect(ctx context.Context, creds transport.Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return transport.ErrAlreadyOpen
	}

	var timeout time.Duration
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	conn, resp, err := Dialer(timeout).DialContext(ctx, t.URL(), Header(creds))
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return err
	}

	t.conn = conn
	t.logger.Info("Connected to bus gateway", watermill.LogFields{
		"url":      t.URL(),
		"resource": creds.Resource,
	})
	return nil
}

// Disconnect sends a normal close frame, then closes the socket.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}

	conn := t.conn
	t.conn = nil

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace)); err != nil {
		t.logger.Debug("Close frame not sent", watermill.LogFields{"error": err.Error()})
	}
	return conn.Close()
}

// IsConnected reports whether the socket is open.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Capabilities returns the capabilities of this transport.
func (t *Transport) Capabilities() transport.Capabilities {
	return transport.WebSocketCapabilities
}
