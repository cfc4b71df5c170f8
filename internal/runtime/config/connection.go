package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	srferrors "github.com/drblury/srfbus/internal/runtime/errors"
)

// Lookup keys, relative to the configuration context.
const (
	KeyUsername       = "/username"
	KeyPassword       = "/passwd"
	KeyDomain         = "/domains/domain"
	KeyPort           = "/port"
	KeyTransport      = "/transport"
	KeyConnectTimeout = "/connect_timeout"
)

const (
	// DefaultTransport is used when the document names no transport.
	DefaultTransport = "nats"
	// DefaultConnectTimeout bounds the handshake when none is configured.
	DefaultConnectTimeout = 10 * time.Second
)

// Connection groups the parameters one bootstrap derives from configuration.
type Connection struct {
	Username string
	Password string
	// Host is the first configured bus domain.
	Host      string
	Port      int
	Transport string
	// ConnectTimeout bounds connect and authentication together.
	ConnectTimeout time.Duration
}

// FromSource reads a Connection from src, applies defaults and validates it.
// Lookup failures are returned as *errors.ConfigError. Validation failures are
// joined and wrap errors.ErrInvalidValue.
func FromSource(src Source) (Connection, error) {
	var (
		conn Connection
		err  error
	)

	if conn.Username, err = src.GetString(KeyUsername); err != nil {
		return Connection{}, srferrors.NewConfigError("", KeyUsername, err)
	}
	if conn.Password, err = src.GetString(KeyPassword); err != nil {
		return Connection{}, srferrors.NewConfigError("", KeyPassword, err)
	}
	if conn.Host, err = src.GetFirst(KeyDomain); err != nil {
		return Connection{}, srferrors.NewConfigError("", KeyDomain, err)
	}
	if conn.Port, err = src.GetInt(KeyPort); err != nil {
		return Connection{}, srferrors.NewConfigError("", KeyPort, err)
	}

	if conn.Transport, err = optionalString(src, KeyTransport); err != nil {
		return Connection{}, srferrors.NewConfigError("", KeyTransport, err)
	}
	rawTimeout, err := optionalString(src, KeyConnectTimeout)
	if err != nil {
		return Connection{}, srferrors.NewConfigError("", KeyConnectTimeout, err)
	}
	if rawTimeout != "" {
		if conn.ConnectTimeout, err = ParseTimeout(rawTimeout); err != nil {
			return Connection{}, srferrors.NewConfigError("", KeyConnectTimeout, err)
		}
	}

	conn.ApplyDefaults()
	if err := conn.Validate(); err != nil {
		return Connection{}, err
	}
	return conn, nil
}

// Load parses the document at path below configContext and reads a
// Connection from it. Every failure is a *errors.ConfigError.
func Load(path, configContext string) (Connection, error) {
	doc := NewDocument(configContext)
	if err := doc.Parse(path); err != nil {
		return Connection{}, err
	}
	conn, err := FromSource(doc)
	if err != nil {
		return Connection{}, srferrors.NewConfigError(path, "", err)
	}
	return conn, nil
}

func optionalString(src Source, key string) (string, error) {
	v, err := src.GetString(key)
	if errors.Is(err, srferrors.ErrKeyNotFound) {
		return "", nil
	}
	return v, err
}

// ParseTimeout accepts a Go duration ("1500ms", "10s") or a bare number of
// seconds.
func ParseTimeout(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a duration", srferrors.ErrInvalidValue, raw)
	}
	return d, nil
}

// ApplyDefaults fills the optional fields.
func (c *Connection) ApplyDefaults() {
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	if c.Transport == "" {
		c.Transport = DefaultTransport
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
}

// Validate reports every problem with c at once.
func (c *Connection) Validate() error {
	var errs []error
	if c.Username == "" {
		errs = append(errs, fmt.Errorf("%w: username is required", srferrors.ErrInvalidValue))
	}
	if c.Password == "" {
		errs = append(errs, fmt.Errorf("%w: password is required", srferrors.ErrInvalidValue))
	}
	if c.Host == "" {
		errs = append(errs, fmt.Errorf("%w: domain is required", srferrors.ErrInvalidValue))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: invalid port %d", srferrors.ErrInvalidValue, c.Port))
	}
	if c.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("%w: connect timeout cannot be negative", srferrors.ErrInvalidValue))
	}
	return errors.Join(errs...)
}

// Address returns host:port.
func (c Connection) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Connection) String() string {
	redacted := c
	if redacted.Password != "" {
		redacted.Password = "***REDACTED***"
	}
	type connectionAlias Connection
	return fmt.Sprintf("%+v", connectionAlias(redacted))
}
