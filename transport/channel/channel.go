// Package channel provides an in-process bus transport backed by Watermill's
// Go channel pub/sub. Connections to the same endpoint share one bus, which
// makes it the transport of choice for tests and local development.
package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/srfbus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// ErrResourceInUse is returned by Connect when another live connection on the
// same bus already announced the resource.
var ErrResourceInUse = errors.New("srfbus: resource already bound on channel bus")

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	Register()
}

// Register registers the channel transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates an unconnected channel transport.
func Build(ep transport.Endpoint, logger watermill.LoggerAdapter) (transport.Transport, error) {
	return &Transport{endpoint: ep, logger: logger}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}

type bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	resources  map[string]struct{}
}

var (
	busesMu sync.Mutex
	buses   = make(map[string]*bus)
)

// ActiveResources returns the number of resources bound on the bus at address.
func ActiveResources(address string) int {
	busesMu.Lock()
	defer busesMu.Unlock()
	if b, ok := buses[address]; ok {
		return len(b.resources)
	}
	return 0
}

// Transport is one connection to an in-process bus.
type Transport struct {
	endpoint transport.Endpoint
	logger   watermill.LoggerAdapter

	mu       sync.Mutex
	bus      *bus
	resource string
}

var (
	_ transport.Transport            = (*Transport)(nil)
	_ transport.PubSub               = (*Transport)(nil)
	_ transport.ConnectionChecker    = (*Transport)(nil)
	_ transport.CapabilitiesProvider = (*Transport)(nil)
)

// Connect binds creds.Resource on the bus for the endpoint, creating the bus
// on first use.
func (t *Transport) Connect(ctx context.Context, creds transport.Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bus != nil {
		return transport.ErrAlreadyOpen
	}

	address := t.endpoint.Address()

	busesMu.Lock()
	defer busesMu.Unlock()

	b, ok := buses[address]
	if !ok {
		pub, sub := Factory(gochannel.Config{}, t.logger)
		b = &bus{publisher: pub, subscriber: sub, resources: make(map[string]struct{})}
		buses[address] = b
	}
	if _, taken := b.resources[creds.Resource]; taken {
		return ErrResourceInUse
	}
	b.resources[creds.Resource] = struct{}{}

	t.bus = b
	t.resource = creds.Resource
	t.logger.Debug("Bound resource on channel bus", watermill.LogFields{
		"address":  address,
		"resource": creds.Resource,
	})
	return nil
}

// Disconnect releases the resource. The bus is closed when its last
// connection leaves.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bus == nil {
		return nil
	}

	address := t.endpoint.Address()

	busesMu.Lock()
	defer busesMu.Unlock()

	b := t.bus
	delete(b.resources, t.resource)
	t.bus = nil
	t.resource = ""

	if len(b.resources) > 0 {
		return nil
	}
	if buses[address] == b {
		delete(buses, address)
	}
	return b.close()
}

func (b *bus) close() error {
	err := b.publisher.Close()
	// gochannel hands back the same value for both sides.
	if any(b.subscriber) != any(b.publisher) {
		err = errors.Join(err, b.subscriber.Close())
	}
	return err
}

// Publisher returns the bus publisher.
func (t *Transport) Publisher() (message.Publisher, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bus == nil {
		return nil, transport.ErrClosed
	}
	return t.bus.publisher, nil
}

// Subscriber returns the bus subscriber.
func (t *Transport) Subscriber() (message.Subscriber, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bus == nil {
		return nil, transport.ErrClosed
	}
	return t.bus.subscriber, nil
}

// IsConnected reports whether the resource is currently bound.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bus != nil
}

// Capabilities returns the capabilities of this transport.
func (t *Transport) Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
