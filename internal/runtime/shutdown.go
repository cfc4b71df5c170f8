package runtime

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	srferrors "github.com/drblury/srfbus/internal/runtime/errors"
	"github.com/drblury/srfbus/internal/runtime/execctx"
	"github.com/drblury/srfbus/internal/runtime/logging"
)

// ShutdownHandler tears down bus connections.
type ShutdownHandler struct {
	registry *Registry
	metrics  *Metrics
	tracer   trace.Tracer
	logger   logging.ServiceLogger
}

// NewShutdownHandler wires a ShutdownHandler. deps.Registry is required.
func NewShutdownHandler(log logging.ServiceLogger, deps Dependencies) (*ShutdownHandler, error) {
	if deps.Registry == nil {
		return nil, srferrors.ErrRegistryRequired
	}
	log = loggerOrNop(log)
	deps = deps.withDefaults(log)
	return &ShutdownHandler{
		registry: deps.Registry,
		metrics:  deps.Metrics,
		tracer:   deps.Tracer,
		logger:   log,
	}, nil
}

// Shutdown disconnects and unregisters the connection of the execution
// context carried by ctx. It returns ErrNotConnected when there is none. A
// failing disconnect is logged; the entry is removed regardless.
func (h *ShutdownHandler) Shutdown(ctx context.Context) error {
	id, ok := execctx.FromContext(ctx)
	if !ok {
		return srferrors.ErrNoExecutionContext
	}

	_, span := h.tracer.Start(ctx, "srfbus.shutdown",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("srfbus.context_id", id.String())),
	)
	defer span.End()

	unlock := h.registry.Lock(id)
	defer unlock()

	conn, ok := h.registry.take(id)
	if !ok {
		span.SetStatus(codes.Error, srferrors.ErrNotConnected.Error())
		return srferrors.ErrNotConnected
	}
	h.metrics.SetActive(h.registry.Len())

	if err := h.disconnect(conn); err != nil {
		span.RecordError(err)
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// ShutdownAll drains the registry and disconnects every connection
// concurrently. Every disconnect is attempted; the first failure is returned.
func (h *ShutdownHandler) ShutdownAll(ctx context.Context) error {
	_, span := h.tracer.Start(ctx, "srfbus.shutdown_all")
	defer span.End()

	conns := h.registry.Drain()
	h.metrics.SetActive(h.registry.Len())
	span.SetAttributes(attribute.Int("srfbus.connections", len(conns)))

	var g errgroup.Group
	for _, conn := range conns {
		g.Go(func() error {
			return h.disconnect(conn)
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	h.logger.Info("All bus connections closed", logging.LogFields{"count": len(conns)})
	return nil
}

func (h *ShutdownHandler) disconnect(conn *ActiveConnection) error {
	var err error
	if handle := conn.Transport(); handle != nil {
		err = handle.Disconnect()
	}
	h.metrics.RecordDisconnect(conn.TransportName, err)
	if err != nil {
		h.logger.Error("Bus disconnect failed", err, conn.logFields())
		return err
	}
	h.logger.Info("Bus connection closed", conn.logFields())
	return nil
}
