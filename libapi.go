package srfbus

import (
	"context"

	runtimepkg "github.com/drblury/srfbus/internal/runtime"
	configpkg "github.com/drblury/srfbus/internal/runtime/config"
	errspkg "github.com/drblury/srfbus/internal/runtime/errors"
	"github.com/drblury/srfbus/internal/runtime/execctx"
	idspkg "github.com/drblury/srfbus/internal/runtime/ids"
	jsoncodec "github.com/drblury/srfbus/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/srfbus/internal/runtime/logging"
	"github.com/drblury/srfbus/transport"
	_ "github.com/drblury/srfbus/transport/transports"
)

type (
	Client           = runtimepkg.Client
	Dependencies     = runtimepkg.Dependencies
	Registry         = runtimepkg.Registry
	Bootstrapper     = runtimepkg.Bootstrapper
	ShutdownHandler  = runtimepkg.ShutdownHandler
	ActiveConnection = runtimepkg.ActiveConnection
	ConnectionInfo   = runtimepkg.ConnectionInfo
	SourceFactory    = runtimepkg.SourceFactory

	Metrics         = runtimepkg.Metrics
	MetricsSnapshot = runtimepkg.MetricsSnapshot
	StatusHandler   = runtimepkg.StatusHandler
	StatusOptions   = runtimepkg.StatusOptions

	ExecutionContextID = execctx.ID

	ConfigSource     = configpkg.Source
	ConfigDocument   = configpkg.Document
	ConnectionConfig = configpkg.Connection

	ResourceGenerator = idspkg.ResourceGenerator

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigError  = errspkg.ConfigError
	SessionError = errspkg.SessionError

	Transport         = transport.Transport
	TransportBuilder  = transport.Builder
	TransportRegistry = transport.Registry
	Endpoint          = transport.Endpoint
	Credentials       = transport.Credentials
	Capabilities      = transport.Capabilities
)

var (
	NewClient          = runtimepkg.NewClient
	NewRegistry        = runtimepkg.NewRegistry
	NewBootstrapper    = runtimepkg.NewBootstrapper
	NewShutdownHandler = runtimepkg.NewShutdownHandler
	NewMetrics         = runtimepkg.NewMetrics
	NewStatusHandler   = runtimepkg.NewStatusHandler

	NewConfigDocument    = configpkg.NewDocument
	LoadConnectionConfig = configpkg.Load

	NewResourceGenerator = idspkg.NewResourceGenerator

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewNopServiceLogger       = loggingpkg.NewNopServiceLogger

	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	GetCapabilities          = transport.GetCapabilities

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal

	ErrAlreadyConnected   = errspkg.ErrAlreadyConnected
	ErrNotConnected       = errspkg.ErrNotConnected
	ErrNoExecutionContext = errspkg.ErrNoExecutionContext
	ErrKeyNotFound        = errspkg.ErrKeyNotFound
	ErrInvalidValue       = errspkg.ErrInvalidValue
	ErrUnknownTransport   = errspkg.ErrUnknownTransport
	ErrRegistryRequired   = errspkg.ErrRegistryRequired
	ErrPubSubUnsupported  = runtimepkg.ErrPubSubUnsupported
)

// Default is the process-wide client used by the package-level functions.
// Replace it before the first Bootstrap to change logging, metrics or
// transports.
var Default = mustNewClient()

func mustNewClient() *Client {
	c, err := runtimepkg.NewClient(loggingpkg.NewNopServiceLogger(), Dependencies{})
	if err != nil {
		panic(err)
	}
	return c
}

// Bootstrap connects the execution context carried by ctx using Default.
// It returns nil without doing anything when the context is already
// connected. Failures are a *ConfigError, a *SessionError or
// ErrNoExecutionContext.
func Bootstrap(ctx context.Context, configFile, configContext string) error {
	return Default.Bootstrap(ctx, configFile, configContext)
}

// Shutdown disconnects the execution context carried by ctx. It returns
// ErrNotConnected when there is nothing to disconnect.
func Shutdown(ctx context.Context) error {
	return Default.Shutdown(ctx)
}

// ShutdownAll disconnects every execution context of Default.
func ShutdownAll(ctx context.Context) error {
	return Default.ShutdownAll(ctx)
}

// Current returns the connection owned by the execution context of ctx.
func Current(ctx context.Context) (*ActiveConnection, bool) {
	return Default.Current(ctx)
}

// Config returns the parsed configuration the execution context of ctx was
// bootstrapped from on Default.
func Config(ctx context.Context) (ConfigSource, bool) {
	return Default.Config(ctx)
}

// WithExecutionContext attaches id to ctx.
func WithExecutionContext(ctx context.Context, id ExecutionContextID) context.Context {
	return execctx.WithID(ctx, id)
}

// NewExecutionContext returns a child of ctx carrying a fresh execution
// context ID.
func NewExecutionContext(ctx context.Context) (context.Context, ExecutionContextID) {
	id := execctx.New()
	return execctx.WithID(ctx, id), id
}

// ExecutionContextFrom returns the execution context ID carried by ctx.
func ExecutionContextFrom(ctx context.Context) (ExecutionContextID, bool) {
	return execctx.FromContext(ctx)
}
