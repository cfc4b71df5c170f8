package transport

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"

	srferrors "github.com/drblury/srfbus/internal/runtime/errors"
)

// Registry names the available backends. The name is the value of the
// /transport configuration key, matched case-insensitively.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

type registryEntry struct {
	build Builder
	caps  Capabilities
}

// DefaultRegistry receives the backends registered by the transport
// sub-packages from their init functions.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register binds name to builder. Capabilities reported for name only carry
// the name; use RegisterWithCapabilities to describe the backend.
func (r *Registry) Register(name string, builder Builder) {
	r.RegisterWithCapabilities(name, builder, Capabilities{})
}

// RegisterWithCapabilities binds name to builder and describes the backend.
// A later registration under the same name replaces the earlier one.
func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	key := normalizeName(name)
	if caps.Name == "" {
		caps.Name = key
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = registryEntry{build: builder, caps: caps}
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

// GetCapabilities describes the backend registered as name. Unknown names get
// a Capabilities carrying only the name.
func (r *Registry) GetCapabilities(name string) Capabilities {
	if e, ok := r.lookup(name); ok {
		return e.caps
	}
	return Capabilities{Name: name}
}

// Build returns an unconnected transport from the backend registered as
// name. A nil logger discards the backend's logs.
func (r *Registry) Build(name string, ep Endpoint, logger watermill.LoggerAdapter) (Transport, error) {
	e, ok := r.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %s)", srferrors.ErrUnknownTransport, name, strings.Join(r.Names(), ", "))
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return e.build(ep, logger)
}

// Names lists the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *Registry) lookup(name string) (registryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[normalizeName(name)]
	return e, ok
}

// Register binds name in DefaultRegistry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// RegisterWithCapabilities binds and describes name in DefaultRegistry.
func RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, builder, caps)
}

// Build builds name from DefaultRegistry.
func Build(name string, ep Endpoint, logger watermill.LoggerAdapter) (Transport, error) {
	return DefaultRegistry.Build(name, ep, logger)
}
