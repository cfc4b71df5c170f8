package transport

// Capabilities describes how a backend maps the connection contract onto its
// broker. Use this to introspect backends at runtime.
type Capabilities struct {
	// Name is the registry name of the transport.
	Name string `json:"name"`

	// Scheme is the URL scheme used to reach the broker.
	Scheme string `json:"scheme"`

	// DefaultPort is the broker's conventional port (0 = none).
	DefaultPort int `json:"default_port,omitempty"`

	// BindsResource indicates the resource string is announced to the broker,
	// as a client ID, connection name or header.
	BindsResource bool `json:"binds_resource"`

	// UniqueResource indicates the broker evicts or rejects a second session
	// announcing the same resource.
	UniqueResource bool `json:"unique_resource"`

	// SupportsAuth indicates username and password are sent to the broker.
	SupportsAuth bool `json:"supports_auth"`

	// ProvidesPubSub indicates the transport implements PubSub.
	ProvidesPubSub bool `json:"provides_pubsub"`
}

// RequiresUniqueResource reports whether two live connections with the same
// resource would interfere with each other on this broker.
func (c Capabilities) RequiresUniqueResource() bool {
	return c.BindsResource && c.UniqueResource
}

// Predefined capability sets for the built-in transports.
var (
	// ChannelCapabilities for the in-process Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:           "channel",
		Scheme:         "mem",
		BindsResource:  false,
		UniqueResource: false,
		SupportsAuth:   false,
		ProvidesPubSub: true,
	}

	// NATSCapabilities for NATS Core.
	NATSCapabilities = Capabilities{
		Name:           "nats",
		Scheme:         "nats",
		DefaultPort:    4222,
		BindsResource:  true,
		UniqueResource: false,
		SupportsAuth:   true,
		ProvidesPubSub: true,
	}

	// RabbitMQCapabilities for RabbitMQ/AMQP 0-9-1.
	RabbitMQCapabilities = Capabilities{
		Name:           "rabbitmq",
		Scheme:         "amqp",
		DefaultPort:    5672,
		BindsResource:  true,
		UniqueResource: false,
		SupportsAuth:   true,
		ProvidesPubSub: true,
	}

	// KafkaCapabilities for Apache Kafka.
	KafkaCapabilities = Capabilities{
		Name:           "kafka",
		Scheme:         "kafka",
		DefaultPort:    9092,
		BindsResource:  true,
		UniqueResource: false,
		SupportsAuth:   true,
		ProvidesPubSub: true,
	}

	// MQTTCapabilities for MQTT 3.1.1 brokers. Brokers disconnect the older
	// session when a client ID is reused.
	MQTTCapabilities = Capabilities{
		Name:           "mqtt",
		Scheme:         "tcp",
		DefaultPort:    1883,
		BindsResource:  true,
		UniqueResource: true,
		SupportsAuth:   true,
		ProvidesPubSub: false,
	}

	// WebSocketCapabilities for bus gateways reached over WebSocket.
	WebSocketCapabilities = Capabilities{
		Name:           "websocket",
		Scheme:         "ws",
		DefaultPort:    7682,
		BindsResource:  true,
		UniqueResource: true,
		SupportsAuth:   true,
		ProvidesPubSub: false,
	}
)

// GetCapabilities returns the capabilities for a transport by name.
// Uses the registry to look up capabilities registered by each transport package.
// Returns a Capabilities with only Name set if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
