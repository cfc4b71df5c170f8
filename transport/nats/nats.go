// Package nats provides a NATS Core transport. The resource string is sent as
// the client connection name, so it shows up in the server's connz listing.
package nats

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsio "github.com/nats-io/nats.go"

	"github.com/drblury/srfbus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// Conn is the part of *natsio.Conn the transport relies on.
type Conn interface {
	Close()
	IsConnected() bool
}

// ConnectFactory allows overriding the server handshake for testing.
var ConnectFactory = func(url string, opts ...natsio.Option) (Conn, error) {
	return natsio.Connect(url, opts...)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the NATS transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Build creates an unconnected NATS transport.
func Build(ep transport.Endpoint, logger watermill.LoggerAdapter) (transport.Transport, error) {
	return &Transport{endpoint: ep, logger: logger}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}

// Transport is one NATS client session.
type Transport struct {
	endpoint transport.Endpoint
	logger   watermill.LoggerAdapter

	mu         sync.Mutex
	conn       Conn
	options    []natsio.Option
	publisher  message.Publisher
	subscriber message.Subscriber
}

var (
	_ transport.Transport            = (*Transport)(nil)
	_ transport.PubSub               = (*Transport)(nil)
	_ transport.ConnectionChecker    = (*Transport)(nil)
	_ transport.CapabilitiesProvider = (*Transport)(nil)
)

// URL returns the server URL for the endpoint.
func (t *Transport) URL() string {
	return "nats://" + t.endpoint.Address()
}

// Connect dials the server and authenticates. The remaining time on ctx, if
// any, bounds the handshake.
func (t *Transport) Connect(ctx context.Context, creds transport.Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return transport.ErrAlreadyOpen
	}

	opts := ClientOptions(ctx, creds)
	conn, err := ConnectFactory(t.URL(), opts...)
	if err != nil {
		return err
	}

	t.conn = conn
	t.options = credentialOptions(creds)
	t.logger.Info("Connected to NATS", watermill.LogFields{
		"server":   t.URL(),
		"resource": creds.Resource,
	})
	return nil
}

// ClientOptions maps creds and the ctx deadline onto NATS client options.
func ClientOptions(ctx context.Context, creds transport.Credentials) []natsio.Option {
	opts := credentialOptions(creds)
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			opts = append(opts, natsio.Timeout(remaining))
		}
	}
	return opts
}

// Disconnect closes the Watermill publisher and subscriber, if created, then
// the session itself.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}

	var errs []error
	if t.publisher != nil {
		errs = append(errs, t.publisher.Close())
	}
	if t.subscriber != nil {
		errs = append(errs, t.subscriber.Close())
	}
	t.conn.Close()

	t.conn = nil
	t.options = nil
	t.publisher = nil
	t.subscriber = nil
	return errors.Join(errs...)
}

// IsConnected reports whether the session is up.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil && t.conn.IsConnected()
}

// Publisher returns a Watermill publisher using the session's credentials.
func (t *Transport) Publisher() (message.Publisher, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, transport.ErrClosed
	}
	if t.publisher != nil {
		return t.publisher, nil
	}

	pub, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         t.URL(),
			NatsOptions: t.options,
			Marshaler:   &nats.NATSMarshaler{},
			JetStream:   nats.JetStreamConfig{Disabled: true},
		},
		t.logger,
	)
	if err != nil {
		return nil, err
	}
	t.publisher = pub
	return pub, nil
}

// Subscriber returns a Watermill subscriber using the session's credentials.
func (t *Transport) Subscriber() (message.Subscriber, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, transport.ErrClosed
	}
	if t.subscriber != nil {
		return t.subscriber, nil
	}

	sub, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:         t.URL(),
			NatsOptions: t.options,
			Unmarshaler: &nats.NATSMarshaler{},
			JetStream:   nats.JetStreamConfig{Disabled: true},
		},
		t.logger,
	)
	if err != nil {
		return nil, err
	}
	t.subscriber = sub
	return sub, nil
}

func credentialOptions(creds transport.Credentials) []natsio.Option {
	return []natsio.Option{
		natsio.Name(creds.Resource),
		natsio.UserInfo(creds.Username, creds.Password),
	}
}

// Capabilities returns the capabilities of this transport.
func (t *Transport) Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
