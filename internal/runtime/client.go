package runtime

import (
	"context"

	"github.com/drblury/srfbus/internal/runtime/config"
	"github.com/drblury/srfbus/internal/runtime/execctx"
	"github.com/drblury/srfbus/internal/runtime/logging"
)

// Client bundles one Registry with the Bootstrapper and ShutdownHandler
// operating on it.
type Client struct {
	registry     *Registry
	metrics      *Metrics
	bootstrapper *Bootstrapper
	shutdown     *ShutdownHandler
}

// NewClient wires a Client. A nil deps.Registry gets a fresh one.
func NewClient(log logging.ServiceLogger, deps Dependencies) (*Client, error) {
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	log = loggerOrNop(log)
	deps = deps.withDefaults(log)

	if err := deps.Metrics.Register(); err != nil {
		return nil, err
	}

	bootstrapper, err := NewBootstrapper(log, deps)
	if err != nil {
		return nil, err
	}
	shutdown, err := NewShutdownHandler(log, deps)
	if err != nil {
		return nil, err
	}
	return &Client{
		registry:     deps.Registry,
		metrics:      deps.Metrics,
		bootstrapper: bootstrapper,
		shutdown:     shutdown,
	}, nil
}

// Bootstrap connects the execution context of ctx. See Bootstrapper.Bootstrap.
func (c *Client) Bootstrap(ctx context.Context, configPath, configContext string) error {
	return c.bootstrapper.Bootstrap(ctx, configPath, configContext)
}

// Shutdown disconnects the execution context of ctx. See ShutdownHandler.Shutdown.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.shutdown.Shutdown(ctx)
}

// ShutdownAll disconnects every execution context.
func (c *Client) ShutdownAll(ctx context.Context) error {
	return c.shutdown.ShutdownAll(ctx)
}

// Current returns the connection owned by the execution context of ctx.
func (c *Client) Current(ctx context.Context) (*ActiveConnection, bool) {
	id, ok := execctx.FromContext(ctx)
	if !ok {
		return nil, false
	}
	return c.registry.Get(id)
}

// Connections describes every active connection.
func (c *Client) Connections() []ConnectionInfo {
	return c.registry.Snapshot()
}

// Config returns the configuration the execution context of ctx was
// bootstrapped from.
func (c *Client) Config(ctx context.Context) (config.Source, bool) {
	conn, ok := c.Current(ctx)
	if !ok || conn.Config() == nil {
		return nil, false
	}
	return conn.Config(), true
}

// Registry returns the registry shared by the Bootstrapper and the
// ShutdownHandler.
func (c *Client) Registry() *Registry { return c.registry }

// Metrics returns the collectors the client records into.
func (c *Client) Metrics() *Metrics { return c.metrics }
