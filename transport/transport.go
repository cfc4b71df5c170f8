// Package transport defines the connection contract every message bus backend
// satisfies. Each backend (nats, rabbitmq, kafka, ...) lives in its own
// sub-package and registers a Builder with the transport registry.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

var (
	// ErrAlreadyOpen is returned by Connect on a handle that is already connected.
	ErrAlreadyOpen = errors.New("srfbus: transport already connected")
	// ErrClosed is returned when a connected-only operation runs on a closed handle.
	ErrClosed = errors.New("srfbus: transport not connected")
)

// Endpoint is the network location of the bus.
type Endpoint struct {
	Host string
	Port int
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Credentials authenticate one connection. Resource is the identity the
// connection announces to the bus and must be unique across the federation.
type Credentials struct {
	Username string
	Password string
	Resource string
}

func (c Credentials) String() string {
	pw := ""
	if c.Password != "" {
		pw = "***REDACTED***"
	}
	return fmt.Sprintf("{Username:%s Password:%s Resource:%s}", c.Username, pw, c.Resource)
}

// Transport is one stateful bus connection. A handle is connected at most
// once; Disconnect is safe to call on a handle that never connected.
type Transport interface {
	// Connect opens the network session and authenticates with creds. It
	// honours ctx cancellation and deadlines.
	Connect(ctx context.Context, creds Credentials) error
	Disconnect() error
}

// Builder constructs an unconnected Transport for ep.
type Builder func(ep Endpoint, logger watermill.LoggerAdapter) (Transport, error)

// PubSub is implemented by transports that expose the connection to the RPC
// layer as a Watermill publisher and subscriber. Both are created on first use
// with the credentials of the connected session.
type PubSub interface {
	Publisher() (message.Publisher, error)
	Subscriber() (message.Subscriber, error)
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// ConnectionChecker is implemented by transports that can report whether the
// underlying session is still up.
type ConnectionChecker interface {
	IsConnected() bool
}
