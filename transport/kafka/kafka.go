// Package kafka provides a Kafka transport. The resource becomes the sarama
// client ID, so it is visible in broker request logs and quotas.
package kafka

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/srfbus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

// Client is the part of sarama.Client the transport relies on.
type Client interface {
	Close() error
	Closed() bool
}

// ClientFactory allows overriding the broker handshake for testing.
var ClientFactory = func(brokers []string, cfg *sarama.Config) (Client, error) {
	return sarama.NewClient(brokers, cfg)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the Kafka transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaCapabilities)
}

// Build creates an unconnected Kafka transport.
func Build(ep transport.Endpoint, logger watermill.LoggerAdapter) (transport.Transport, error) {
	return &Transport{endpoint: ep, logger: logger}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}

// Transport is one Kafka client session.
type Transport struct {
	endpoint transport.Endpoint
	logger   watermill.LoggerAdapter

	mu         sync.Mutex
	client     Client
	creds      transport.Credentials
	publisher  message.Publisher
	subscriber message.Subscriber
}

var (
	_ transport.Transport            = (*Transport)(nil)
	_ transport.PubSub               = (*Transport)(nil)
	_ transport.ConnectionChecker    = (*Transport)(nil)
	_ transport.CapabilitiesProvider = (*Transport)(nil)
)

// ClientID maps a resource onto the character set Kafka accepts for client
// IDs. Anything else becomes '-'.
func ClientID(resource string) string {
	id := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		}
		return '-'
	}, resource)
	if id == "" {
		return "srfbus"
	}
	return id
}

// ApplyCredentials sets the client ID, SASL/PLAIN credentials and dial
// timeout on cfg.
func ApplyCredentials(cfg *sarama.Config, creds transport.Credentials, dialTimeout time.Duration) *sarama.Config {
	cfg.ClientID = ClientID(creds.Resource)
	if creds.Username != "" {
		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		cfg.Net.SASL.User = creds.Username
		cfg.Net.SASL.Password = creds.Password
	}
	if dialTimeout > 0 {
		cfg.Net.DialTimeout = dialTimeout
	}
	return cfg
}

// Connect opens a client against the endpoint broker, which fetches cluster
// metadata and so proves reachability and credentials.
func (t *Transport) Connect(ctx context.Context, creds transport.Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return transport.ErrAlreadyOpen
	}

	var dialTimeout time.Duration
	if deadline, ok := ctx.Deadline(); ok {
		dialTimeout = time.Until(deadline)
	}

	client, err := ClientFactory(t.brokers(), ApplyCredentials(sarama.NewConfig(), creds, dialTimeout))
	if err != nil {
		return err
	}

	t.client = client
	t.creds = creds
	t.logger.Info("Connected to Kafka", watermill.LogFields{
		"broker":    t.endpoint.Address(),
		"client_id": ClientID(creds.Resource),
	})
	return nil
}

func (t *Transport) brokers() []string {
	return []string{t.endpoint.Address()}
}

// Disconnect closes the publisher and subscriber, if created, then the client.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}

	var errs []error
	if t.publisher != nil {
		errs = append(errs, t.publisher.Close())
	}
	if t.subscriber != nil {
		errs = append(errs, t.subscriber.Close())
	}
	if !t.client.Closed() {
		errs = append(errs, t.client.Close())
	}

	t.client = nil
	t.creds = transport.Credentials{}
	t.publisher = nil
	t.subscriber = nil
	return errors.Join(errs...)
}

// IsConnected reports whether the client is open.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client != nil && !t.client.Closed()
}

// Publisher returns a synchronous Watermill publisher using the session's
// identity and credentials.
func (t *Transport) Publisher() (message.Publisher, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil, transport.ErrClosed
	}
	if t.publisher == nil {
		pub, err := PublisherFactory(
			kafka.PublisherConfig{
				Brokers:               t.brokers(),
				Marshaler:             kafka.DefaultMarshaler{},
				OverwriteSaramaConfig: ApplyCredentials(kafka.DefaultSaramaSyncPublisherConfig(), t.creds, 0),
			},
			t.logger,
		)
		if err != nil {
			return nil, err
		}
		t.publisher = pub
	}
	return t.publisher, nil
}

// Subscriber returns a Watermill subscriber consuming in a group named after
// the resource.
func (t *Transport) Subscriber() (message.Subscriber, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil, transport.ErrClosed
	}
	if t.subscriber == nil {
		sub, err := SubscriberFactory(
			kafka.SubscriberConfig{
				Brokers:               t.brokers(),
				Unmarshaler:           kafka.DefaultMarshaler{},
				OverwriteSaramaConfig: ApplyCredentials(kafka.DefaultSaramaSubscriberConfig(), t.creds, 0),
				ConsumerGroup:         ClientID(t.creds.Resource),
			},
			t.logger,
		)
		if err != nil {
			return nil, err
		}
		t.subscriber = sub
	}
	return t.subscriber, nil
}

// Capabilities returns the capabilities of this transport.
func (t *Transport) Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}
