package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/srfbus/internal/runtime/config"
	srferrors "github.com/drblury/srfbus/internal/runtime/errors"
	"github.com/drblury/srfbus/internal/runtime/execctx"
	"github.com/drblury/srfbus/internal/runtime/ids"
	"github.com/drblury/srfbus/internal/runtime/logging"
	"github.com/drblury/srfbus/transport"
)

// Bootstrapper establishes the bus connection of an execution context.
type Bootstrapper struct {
	registry   *Registry
	transports *transport.Registry
	newSource  SourceFactory
	resources  *ids.ResourceGenerator
	metrics    *Metrics
	tracer     trace.Tracer
	logger     logging.ServiceLogger
}

// NewBootstrapper wires a Bootstrapper. deps.Registry is required.
func NewBootstrapper(log logging.ServiceLogger, deps Dependencies) (*Bootstrapper, error) {
	if deps.Registry == nil {
		return nil, srferrors.ErrRegistryRequired
	}
	log = loggerOrNop(log)
	deps = deps.withDefaults(log)
	return &Bootstrapper{
		registry:   deps.Registry,
		transports: deps.Transports,
		newSource:  deps.SourceFactory,
		resources:  deps.Resources,
		metrics:    deps.Metrics,
		tracer:     deps.Tracer,
		logger:     log,
	}, nil
}

// Bootstrap connects the execution context carried by ctx using the
// configuration found below configContext in configPath. It is a no-op when
// the context is already connected.
//
// Configuration problems yield a *errors.ConfigError before any network
// activity. Transport construction, connect and authentication failures,
// including the connect timeout, yield a *errors.SessionError.
func (b *Bootstrapper) Bootstrap(ctx context.Context, configPath, configContext string) error {
	id, ok := execctx.FromContext(ctx)
	if !ok {
		return srferrors.ErrNoExecutionContext
	}

	ctx, span := b.tracer.Start(ctx, "srfbus.bootstrap",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("srfbus.context_id", id.String()),
			attribute.String("srfbus.config_path", configPath),
			attribute.String("srfbus.config_context", configContext),
		),
	)
	defer span.End()

	unlock := b.registry.Lock(id)
	defer unlock()

	log := b.logger.With(logging.LogFields{"context_id": id.String()})

	if b.registry.HasActive(id) {
		log.Debug("Execution context already has a bus connection", nil)
		b.finish(span, "", OutcomeNoop, nil)
		return nil
	}

	src, cfg, err := b.loadConfig(configPath, configContext)
	if err != nil {
		log.Error("Invalid bus configuration", err, logging.LogFields{"config_path": configPath})
		b.finish(span, "", OutcomeConfigError, err)
		return err
	}

	ep := transport.Endpoint{Host: cfg.Host, Port: cfg.Port}
	creds := transport.Credentials{
		Username: cfg.Username,
		Password: cfg.Password,
		Resource: b.resources.Generate(id.String()),
	}
	span.SetAttributes(
		attribute.String("srfbus.transport", cfg.Transport),
		attribute.String("srfbus.address", ep.Address()),
		attribute.String("srfbus.resource", creds.Resource),
	)

	log = log.With(logging.LogFields{"transport": cfg.Transport, "address": ep.Address()})
	log.Info("Bootstrapping bus connection", logging.LogFields{"resource": creds.Resource})

	sessionErr := func(err error) error {
		return &srferrors.SessionError{
			Transport: cfg.Transport,
			Address:   ep.Address(),
			Resource:  creds.Resource,
			Err:       err,
		}
	}

	handle, err := b.transports.Build(cfg.Transport, ep, logging.NewWatermillAdapter(log))
	if err != nil {
		err = sessionErr(err)
		log.Error("Unable to construct transport", err, nil)
		b.finish(span, cfg.Transport, OutcomeSessionError, err)
		return err
	}

	started := time.Now()
	if err := connectWithin(ctx, handle, creds, cfg.ConnectTimeout, func(lateErr error) {
		b.metrics.RecordDisconnect(cfg.Transport, lateErr)
		if lateErr != nil {
			log.Error("Failed to close connection that completed after the timeout", lateErr, nil)
			return
		}
		log.Debug("Closed connection that completed after the timeout", nil)
	}); err != nil {
		err = sessionErr(err)
		log.Error("Unable to bootstrap bus connection", err, logging.LogFields{"resource": creds.Resource})
		b.finish(span, cfg.Transport, OutcomeSessionError, err)
		return err
	}
	b.metrics.ObserveConnect(cfg.Transport, time.Since(started))

	conn := NewActiveConnection(id, cfg.Transport, ep, creds, handle)
	conn.source = src
	if err := b.registry.Register(id, conn); err != nil {
		if !errors.Is(err, srferrors.ErrAlreadyConnected) {
			b.finish(span, cfg.Transport, OutcomeSessionError, err)
			return err
		}
		derr := handle.Disconnect()
		b.metrics.RecordDisconnect(cfg.Transport, derr)
		if derr != nil {
			log.Error("Failed to close connection that lost the registration race", derr, conn.logFields())
		} else {
			log.Info("Discarded connection that lost the registration race", conn.logFields())
		}
		b.finish(span, cfg.Transport, OutcomeRaceDiscarded, nil)
		return nil
	}

	b.metrics.SetActive(b.registry.Len())
	span.SetAttributes(attribute.String("srfbus.connection_id", conn.ID))
	log.Info("Bus connection established", conn.logFields())
	b.finish(span, cfg.Transport, OutcomeSuccess, nil)
	return nil
}

func (b *Bootstrapper) loadConfig(configPath, configContext string) (config.Source, config.Connection, error) {
	src := b.newSource(configContext)
	if err := src.Parse(configPath); err != nil {
		return nil, config.Connection{}, withConfigPath(configPath, srferrors.NewConfigError(configPath, "", err))
	}
	cfg, err := config.FromSource(src)
	if err != nil {
		return nil, config.Connection{}, withConfigPath(configPath, srferrors.NewConfigError(configPath, "", err))
	}
	if !b.transports.Has(cfg.Transport) {
		return nil, config.Connection{}, &srferrors.ConfigError{
			Path: configPath,
			Key:  config.KeyTransport,
			Err:  fmt.Errorf("%w: %q", srferrors.ErrUnknownTransport, cfg.Transport),
		}
	}
	return src, cfg, nil
}

// withConfigPath fills in the file path of a key-level ConfigError.
func withConfigPath(path string, err error) error {
	var cfgErr *srferrors.ConfigError
	if errors.As(err, &cfgErr) && cfgErr.Path == "" {
		cfgErr.Path = path
	}
	return err
}

func (b *Bootstrapper) finish(span trace.Span, transportName, outcome string, err error) {
	b.metrics.RecordBootstrap(transportName, outcome)
	span.SetAttributes(attribute.String("srfbus.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, outcome)
}

// connectWithin runs Connect bounded by timeout (no bound when timeout <= 0).
// When the bound fires first it returns the context error and hands any
// connect that still succeeds to onLate after disconnecting it.
func connectWithin(ctx context.Context, handle transport.Transport, creds transport.Credentials, timeout time.Duration, onLate func(error)) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- handle.Connect(ctx, creds)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		go func() {
			if err := <-done; err == nil {
				derr := handle.Disconnect()
				if onLate != nil {
					onLate(derr)
				}
			}
		}()
		return ctx.Err()
	}
}
