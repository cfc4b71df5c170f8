// Package mqtt provides an MQTT 3.1.1 transport built on the Eclipse Paho
// client. The MQTT client ID is derived from the resource; brokers drop the
// older session when a client ID is reused, which is why resources must be
// unique.
//
// MQTT 3.1.1 only obliges brokers to accept client IDs of 1 to 23
// alphanumeric characters. Resources outside that range are replaced by a
// 23 character ID hashed from the resource, see ClientID.
package mqtt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/drblury/srfbus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "mqtt"

// MaxClientIDLength is the longest client ID every MQTT 3.1.1 broker must
// accept.
const MaxClientIDLength = 23

// DisconnectQuiesce is how long Disconnect lets in-flight work finish, in
// milliseconds.
const DisconnectQuiesce uint = 250

// Client is the part of paho.Client the transport relies on.
type Client interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	IsConnected() bool
}

// ClientFactory allows overriding client creation for testing.
var ClientFactory = func(opts *paho.ClientOptions) Client {
	return paho.NewClient(opts)
}

func init() {
	Register()
}

// Register registers the MQTT transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.MQTTCapabilities)
}

// Build creates an unconnected MQTT transport.
func Build(ep transport.Endpoint, logger watermill.LoggerAdapter) (transport.Transport, error) {
	return &Transport{endpoint: ep, logger: logger}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.MQTTCapabilities
}

// Transport is one MQTT client session.
type Transport struct {
	endpoint transport.Endpoint
	logger   watermill.LoggerAdapter

	mu     sync.Mutex
	client Client
}

var (
	_ transport.Transport            = (*Transport)(nil)
	_ transport.ConnectionChecker    = (*Transport)(nil)
	_ transport.CapabilitiesProvider = (*Transport)(nil)
)

// ClientID returns resource when it is a client ID every broker accepts.
// Otherwise it returns "r" followed by the first 22 hex digits of the
// resource's SHA-256, which stays stable for the same resource.
func ClientID(resource string) string {
	if len(resource) > 0 && len(resource) <= MaxClientIDLength && isAlphanumeric(resource) {
		return resource
	}
	sum := sha256.Sum256([]byte(resource))
	return "r" + hex.EncodeToString(sum[:])[:MaxClientIDLength-1]
}

func isAlphanumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

// ClientOptions maps the endpoint and creds onto Paho options.
func ClientOptions(ep transport.Endpoint, creds transport.Credentials, connectTimeout time.Duration) *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker("tcp://" + ep.Address()).
		SetClientID(ClientID(creds.Resource)).
		SetUsername(creds.Username).
		SetPassword(creds.Password).
		SetAutoReconnect(true)
	if connectTimeout > 0 {
		opts.SetConnectTimeout(connectTimeout)
	}
	return opts
}

// Connect performs the MQTT CONNECT exchange. It returns early with ctx's
// error if ctx ends first, tearing the half-open client down.
func (t *Transport) Connect(ctx context.Context, creds transport.Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return transport.ErrAlreadyOpen
	}

	var timeout time.Duration
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	client := ClientFactory(ClientOptions(t.endpoint, creds, timeout))
	token := client.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		go client.Disconnect(0)
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return err
	}

	t.client = client
	t.logger.Info("Connected to MQTT broker", watermill.LogFields{
		"broker":    t.endpoint.Address(),
		"client_id": ClientID(creds.Resource),
		"resource":  creds.Resource,
	})
	return nil
}

// Disconnect sends DISCONNECT after a short quiesce period.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	t.client.Disconnect(DisconnectQuiesce)
	t.client = nil
	return nil
}

// IsConnected reports whether the client session is up.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client != nil && t.client.IsConnected()
}

// Capabilities returns the capabilities of this transport.
func (t *Transport) Capabilities() transport.Capabilities {
	return transport.MQTTCapabilities
}
