// Package rabbitmq provides a RabbitMQ/AMQP 0-9-1 transport. The resource is
// announced as the client connection name and suffixes the queues created for
// the connection's subscriber.
package rabbitmq

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/drblury/srfbus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "rabbitmq"

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// CloseConnection allows overriding connection shutdown for testing.
var CloseConnection = func(conn *amqp.ConnectionWrapper) error {
	return conn.Close()
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

func init() {
	Register()
}

// Register registers the RabbitMQ transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

// Build creates an unconnected RabbitMQ transport.
func Build(ep transport.Endpoint, logger watermill.LoggerAdapter) (transport.Transport, error) {
	return &Transport{endpoint: ep, logger: logger}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}

// Transport is one AMQP connection.
type Transport struct {
	endpoint transport.Endpoint
	logger   watermill.LoggerAdapter

	mu         sync.Mutex
	conn       *amqp.ConnectionWrapper
	uri        string
	resource   string
	publisher  message.Publisher
	subscriber message.Subscriber
}

var (
	_ transport.Transport            = (*Transport)(nil)
	_ transport.PubSub               = (*Transport)(nil)
	_ transport.CapabilitiesProvider = (*Transport)(nil)
)

// URI builds the AMQP URI for the endpoint with creds embedded.
func URI(ep transport.Endpoint, creds transport.Credentials) string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(creds.Username, creds.Password),
		Host:   ep.Address(),
		Path:   "/",
	}
	return u.String()
}

// ClientConfig returns the AMQP client configuration announcing the resource
// as the connection name. The remaining time on ctx, if any, bounds the dial.
func ClientConfig(ctx context.Context, creds transport.Credentials) *amqp091.Config {
	props := amqp091.NewConnectionProperties()
	props.SetClientConnectionName(creds.Resource)

	cfg := &amqp091.Config{Properties: props}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			cfg.Dial = amqp091.DefaultDial(remaining)
		}
	}
	return cfg
}

// Connect opens the AMQP connection and authenticates.
func (t *Transport) Connect(ctx context.Context, creds transport.Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return transport.ErrAlreadyOpen
	}

	uri := URI(t.endpoint, creds)
	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:    uri,
		TLSConfig:  nil,
		AmqpConfig: ClientConfig(ctx, creds),
		Reconnect:  amqp.DefaultReconnectConfig(),
	}, t.logger)
	if err != nil {
		return err
	}

	t.conn = conn
	t.uri = uri
	t.resource = creds.Resource
	t.logger.Info("Connected to RabbitMQ", watermill.LogFields{
		"server":   t.endpoint.Address(),
		"resource": creds.Resource,
	})
	return nil
}

// Disconnect closes the publisher and subscriber, if created, then the
// connection.
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
	errs = append(errs, CloseConnection(t.conn))

	t.conn = nil
	t.uri = ""
	t.resource = ""
	t.publisher = nil
	t.subscriber = nil
	return errors.Join(errs...)
}

func (t *Transport) pubSubConfig() amqp.Config {
	return amqp.NewDurablePubSubConfig(
		t.uri,
		amqp.GenerateQueueNameTopicNameWithSuffix("_"+t.resource),
	)
}

// Publisher returns a Watermill publisher sharing the connection.
func (t *Transport) Publisher() (message.Publisher, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, transport.ErrClosed
	}
	if t.publisher == nil {
		pub, err := PublisherFactory(t.pubSubConfig(), t.logger, t.conn)
		if err != nil {
			return nil, err
		}
		t.publisher = pub
	}
	return t.publisher, nil
}

// Subscriber returns a Watermill subscriber sharing the connection. Queues
// are suffixed with the resource so each connection gets its own.
func (t *Transport) Subscriber() (message.Subscriber, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, transport.ErrClosed
	}
	if t.subscriber == nil {
		sub, err := SubscriberFactory(t.pubSubConfig(), t.logger, t.conn)
		if err != nil {
			return nil, err
		}
		t.subscriber = sub
	}
	return t.subscriber, nil
}

// Capabilities returns the capabilities of this transport.
func (t *Transport) Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}
