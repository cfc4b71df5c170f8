package runtime

import (
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/srfbus/internal/runtime/config"
	"github.com/drblury/srfbus/internal/runtime/execctx"
	"github.com/drblury/srfbus/internal/runtime/ids"
	"github.com/drblury/srfbus/internal/runtime/logging"
	"github.com/drblury/srfbus/transport"
)

// ErrPubSubUnsupported is returned by ActiveConnection.Publisher and
// Subscriber when the backend does not expose a Watermill pub/sub pair.
var ErrPubSubUnsupported = errors.New("srfbus: transport does not expose a publisher/subscriber")

// ActiveConnection is an authenticated bus connection owned by one execution
// context.
type ActiveConnection struct {
	ID            string
	ContextID     execctx.ID
	Resource      string
	TransportName string
	Host          string
	Port          int
	Username      string
	ConnectedAt   time.Time

	handle transport.Transport
	source config.Source
}

// ConnectionInfo is a credential-free description of an ActiveConnection.
type ConnectionInfo struct {
	ID           string                 `json:"id"`
	ContextID    string                 `json:"context_id"`
	Resource     string                 `json:"resource"`
	Transport    string                 `json:"transport"`
	Address      string                 `json:"address"`
	Username     string                 `json:"username"`
	ConnectedAt  time.Time              `json:"connected_at"`
	Connected    bool                   `json:"connected"`
	Capabilities transport.Capabilities `json:"capabilities"`
}

// NewActiveConnection wraps a connected handle.
func NewActiveConnection(contextID execctx.ID, transportName string, ep transport.Endpoint, creds transport.Credentials, handle transport.Transport) *ActiveConnection {
	now := time.Now().UTC()
	return &ActiveConnection{
		ID:            ids.NewConnectionID(now),
		ContextID:     contextID,
		Resource:      creds.Resource,
		TransportName: transportName,
		Host:          ep.Host,
		Port:          ep.Port,
		Username:      creds.Username,
		ConnectedAt:   now,
		handle:        handle,
	}
}

// Transport returns the underlying handle for the RPC layer.
func (c *ActiveConnection) Transport() transport.Transport {
	return c.handle
}

// Config returns the parsed configuration the connection was bootstrapped
// from, so other settings can be read without parsing the file again. It is
// nil for connections not created by a Bootstrapper.
func (c *ActiveConnection) Config() config.Source {
	return c.source
}

// Endpoint returns the address the connection was opened against.
func (c *ActiveConnection) Endpoint() transport.Endpoint {
	return transport.Endpoint{Host: c.Host, Port: c.Port}
}

// Connected reports whether the session is still up. Backends that cannot
// tell are assumed connected while registered.
func (c *ActiveConnection) Connected() bool {
	if checker, ok := c.handle.(transport.ConnectionChecker); ok {
		return checker.IsConnected()
	}
	return c.handle != nil
}

// Publisher returns the Watermill publisher bound to this connection.
func (c *ActiveConnection) Publisher() (message.Publisher, error) {
	ps, ok := c.handle.(transport.PubSub)
	if !ok {
		return nil, ErrPubSubUnsupported
	}
	return ps.Publisher()
}

// Subscriber returns the Watermill subscriber bound to this connection.
func (c *ActiveConnection) Subscriber() (message.Subscriber, error) {
	ps, ok := c.handle.(transport.PubSub)
	if !ok {
		return nil, ErrPubSubUnsupported
	}
	return ps.Subscriber()
}

// Info returns a snapshot suitable for logs and the status API.
func (c *ActiveConnection) Info() ConnectionInfo {
	caps := transport.GetCapabilities(c.TransportName)
	if provider, ok := c.handle.(transport.CapabilitiesProvider); ok {
		caps = provider.Capabilities()
	}
	return ConnectionInfo{
		ID:           c.ID,
		ContextID:    c.ContextID.String(),
		Resource:     c.Resource,
		Transport:    c.TransportName,
		Address:      c.Endpoint().Address(),
		Username:     c.Username,
		ConnectedAt:  c.ConnectedAt,
		Connected:    c.Connected(),
		Capabilities: caps,
	}
}

func (c *ActiveConnection) logFields() logging.LogFields {
	return logging.LogFields{
		"connection_id": c.ID,
		"context_id":    c.ContextID.String(),
		"resource":      c.Resource,
		"transport":     c.TransportName,
		"address":       c.Endpoint().Address(),
	}
}
