package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrAlreadyConnected   = sterrors.New("srfbus: execution context already has an active connection")
	ErrNotConnected       = sterrors.New("srfbus: execution context has no active connection")
	ErrNoExecutionContext = sterrors.New("srfbus: context carries no execution context id")
	ErrKeyNotFound        = sterrors.New("srfbus: configuration key not found")
	ErrInvalidValue       = sterrors.New("srfbus: configuration value is malformed")
	ErrUnknownTransport   = sterrors.New("srfbus: unknown transport")
	ErrRegistryRequired   = sterrors.New("srfbus: connection registry is required")
)

// ConfigError reports configuration that is missing or malformed. It is
// always returned before any network action takes place.
type ConfigError struct {
	// Path is the configuration file being loaded, when known.
	Path string
	// Key is the lookup path that failed, when the failure is key specific.
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	msg := "srfbus: invalid configuration"
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Key != "" {
		msg += " (" + e.Key + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError wraps err into a ConfigError. A nil err yields nil, and an
// err that already is a ConfigError is returned unchanged.
func NewConfigError(path, key string, err error) error {
	if err == nil {
		return nil
	}
	var cfgErr *ConfigError
	if sterrors.As(err, &cfgErr) {
		return err
	}
	return &ConfigError{Path: path, Key: key, Err: err}
}

// SessionError wraps a transport failure raised while constructing,
// connecting or authenticating a bus connection. Err holds the original cause.
type SessionError struct {
	Transport string
	Address   string
	Resource  string
	Err       error
}

func (e *SessionError) Error() string {
	target := e.Transport
	if e.Address != "" {
		target = fmt.Sprintf("%s %s", e.Transport, e.Address)
	}
	if e.Err == nil {
		return fmt.Sprintf("srfbus: unable to bootstrap client: %s", target)
	}
	return fmt.Sprintf("srfbus: unable to bootstrap client: %s: %v", target, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
