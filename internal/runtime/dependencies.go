package runtime

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/srfbus/internal/runtime/config"
	"github.com/drblury/srfbus/internal/runtime/ids"
	"github.com/drblury/srfbus/internal/runtime/logging"
	"github.com/drblury/srfbus/transport"
)

const tracerName = "github.com/drblury/srfbus"

// SourceFactory returns an unparsed configuration source rooted at
// configContext.
type SourceFactory func(configContext string) config.Source

// Dependencies holds the collaborators shared by the Bootstrapper and the
// ShutdownHandler. Leave optional fields nil to get the defaults.
type Dependencies struct {
	// Registry is required by NewBootstrapper and NewShutdownHandler.
	// NewClient creates one when nil.
	Registry *Registry
	// Transports defaults to transport.DefaultRegistry.
	Transports *transport.Registry
	// SourceFactory defaults to config.NewDocument.
	SourceFactory SourceFactory
	// Resources generates connection identities. When nil a generator using
	// ResourcePrefix is created.
	Resources      *ids.ResourceGenerator
	ResourcePrefix string
	// Metrics is optional; nil records nothing.
	Metrics *Metrics
	// Tracer defaults to the global otel tracer provider.
	Tracer trace.Tracer
}

func (d Dependencies) withDefaults(log logging.ServiceLogger) Dependencies {
	if d.Transports == nil {
		d.Transports = transport.DefaultRegistry
	}
	if d.SourceFactory == nil {
		d.SourceFactory = func(configContext string) config.Source {
			return config.NewDocument(configContext)
		}
	}
	if d.Resources == nil {
		d.Resources = &ids.ResourceGenerator{
			Prefix: d.ResourcePrefix,
			OnHostAddressError: func(err error) {
				log.Error("Unable to resolve local host address, omitting it from resource", err, nil)
			},
		}
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer(tracerName)
	}
	return d
}

func loggerOrNop(log logging.ServiceLogger) logging.ServiceLogger {
	if log == nil {
		return logging.NewNopServiceLogger()
	}
	return log
}
