package runtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	srferrors "github.com/drblury/srfbus/internal/runtime/errors"
	"github.com/drblury/srfbus/internal/runtime/execctx"
	"github.com/drblury/srfbus/internal/runtime/ids"
	"github.com/drblury/srfbus/internal/runtime/logging"
	"github.com/drblury/srfbus/transport"
)

type bootstrapFixture struct {
	backend  *fakeBackend
	registry *Registry
	metrics  *Metrics
	client   *Client
	capture  *watermill.CaptureLoggerAdapter
}

func newBootstrapFixture(t *testing.T, mutate func(*Dependencies)) *bootstrapFixture {
	t.Helper()
	f := &bootstrapFixture{
		backend:  &fakeBackend{},
		registry: NewRegistry(),
		metrics:  NewMetrics(prometheus.NewRegistry()),
		capture:  watermill.NewCaptureLogger(),
	}
	deps := Dependencies{
		Registry:   f.registry,
		Transports: newFakeTransports(f.backend),
		Metrics:    f.metrics,
		Resources: &ids.ResourceGenerator{
			HostAddress: func() (string, error) { return "10.0.0.1", nil },
		},
	}
	if mutate != nil {
		mutate(&deps)
	}
	client, err := NewClient(logging.NewWatermillServiceLogger(f.capture), deps)
	require.NoError(t, err)
	f.client = client
	return f
}

func hasLog(capture *watermill.CaptureLoggerAdapter, level watermill.LogLevel, msg string) bool {
	for _, m := range capture.Captured()[level] {
		if m.Msg == msg {
			return true
		}
	}
	return false
}

func TestBootstrapRoundTrip(t *testing.T) {
	f := newBootstrapFixture(t, nil)
	path := writeConfig(t, "opensrf.xml", xmlConfig(fakeTransportName, "5222"))
	ctx := withContext("ctx-1")

	require.NoError(t, f.client.Bootstrap(ctx, path, testContext))

	require.Equal(t, 1, f.backend.builds())
	h := f.backend.handle(0)
	assert.Equal(t, transport.Endpoint{Host: "bus.example.org", Port: 5222}, h.ep)
	creds := h.lastCreds()
	assert.Equal(t, "u", creds.Username)
	assert.Equal(t, "p", creds.Password)
	assert.True(t, strings.HasPrefix(creds.Resource, "go_10.0.0.1_"), creds.Resource)
	assert.True(t, strings.HasSuffix(creds.Resource, "_tctx-1"), creds.Resource)

	conn, ok := f.client.Current(ctx)
	require.True(t, ok)
	assert.Equal(t, execctx.ID("ctx-1"), conn.ContextID)
	assert.Equal(t, creds.Resource, conn.Resource)
	assert.Equal(t, fakeTransportName, conn.TransportName)
	assert.Same(t, h, conn.Transport())
	assert.Len(t, conn.ID, 26)
	assert.True(t, hasLog(f.capture, watermill.InfoLogLevel, "Bootstrapping bus connection"))

	require.NoError(t, f.client.Shutdown(ctx))
	connects, disconnects := h.stats()
	assert.Equal(t, 1, connects)
	assert.Equal(t, 1, disconnects)
	assert.Equal(t, 0, f.registry.Len())
	_, ok = f.client.Current(ctx)
	assert.False(t, ok)
}

func TestBootstrapKeepsParsedConfig(t *testing.T) {
	f := newBootstrapFixture(t, nil)
	body := strings.Replace(xmlConfig(fakeTransportName, "5222"),
		"</opensrf>", "  <router_name>router</router_name>\n    <settings><cache_ttl>300</cache_ttl></settings>\n  </opensrf>", 1)
	path := writeConfig(t, "opensrf.xml", body)
	ctx := withContext("ctx-cfg")

	_, ok := f.client.Config(ctx)
	assert.False(t, ok)

	require.NoError(t, f.client.Bootstrap(ctx, path, testContext))

	src, ok := f.client.Config(ctx)
	require.True(t, ok)
	name, err := src.GetString("/router_name")
	require.NoError(t, err)
	assert.Equal(t, "router", name)
	ttl, err := src.GetInt("/settings/cache_ttl")
	require.NoError(t, err)
	assert.Equal(t, 300, ttl)

	conn, ok := f.client.Current(ctx)
	require.True(t, ok)
	assert.Same(t, src, conn.Config())

	require.NoError(t, f.client.Shutdown(ctx))
	_, ok = f.client.Config(ctx)
	assert.False(t, ok)
}

func TestBootstrapIsIdempotentPerContext(t *testing.T) {
	f := newBootstrapFixture(t, nil)
	path := writeConfig(t, "opensrf.xml", xmlConfig(fakeTransportName, "5222"))
	ctx := withContext("ctx-1")

	require.NoError(t, f.client.Bootstrap(ctx, path, testContext))
	first, _ := f.client.Current(ctx)
	require.NoError(t, f.client.Bootstrap(ctx, path, testContext))
	// A broken config is not even read once connected.
	require.NoError(t, f.client.Bootstrap(ctx, "/does/not/exist.xml", testContext))

	assert.Equal(t, 1, f.backend.builds())
	second, _ := f.client.Current(ctx)
	assert.Same(t, first, second)

	snap := f.metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.Outcomes[OutcomeSuccess])
	assert.Equal(t, uint64(2), snap.Outcomes[OutcomeNoop])
}

func TestBootstrapUniqueResourcePerContext(t *testing.T) {
	f := newBootstrapFixture(t, nil)
	path := writeConfig(t, "opensrf.xml", xmlConfig(fakeTransportName, "5222"))

	require.NoError(t, f.client.Bootstrap(withContext("a"), path, testContext))
	require.NoError(t, f.client.Bootstrap(withContext("b"), path, testContext))

	require.Equal(t, 2, f.backend.builds())
	ra := f.backend.handle(0).lastCreds().Resource
	rb := f.backend.handle(1).lastCreds().Resource
	assert.NotEqual(t, ra, rb)
	assert.Equal(t, 2, f.registry.Len())
}

func TestBootstrapResourcePrefix(t *testing.T) {
	f := newBootstrapFixture(t, func(d *Dependencies) {
		d.Resources = nil
		d.ResourcePrefix = "opensrf.settings_listener"
	})
	path := writeConfig(t, "opensrf.xml", xmlConfig(fakeTransportName, "5222"))

	require.NoError(t, f.client.Bootstrap(withContext("x"), path, testContext))
	res := f.backend.handle(0).lastCreds().Resource
	assert.True(t, strings.HasPrefix(res, "opensrf.settings_listener_"), res)
}

func TestBootstrapMissingPortFailsBeforeTransport(t *testing.T) {
	f := newBootstrapFixture(t, nil)
	path := writeConfig(t, "opensrf.xml", xmlConfig(fakeTransportName, ""))

	err := f.client.Bootstrap(withContext("ctx-1"), path, testContext)
	require.Error(t, err)

	var cfgErr *srferrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, path, cfgErr.Path)
	assert.ErrorIs(t, err, srferrors.ErrKeyNotFound)
	assert.Contains(t, err.Error(), "port")

	assert.Equal(t, 0, f.backend.builds())
	assert.Equal(t, 0, f.registry.Len())
	assert.Equal(t, uint64(1), f.metrics.Snapshot().Outcomes[OutcomeConfigError])
}

func TestBootstrapConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		is   error
	}{
		{name: "malformed port", body: xmlConfig(fakeTransportName, "abc"), is: srferrors.ErrInvalidValue},
		{name: "port out of range", body: xmlConfig(fakeTransportName, "70000"), is: srferrors.ErrInvalidValue},
		{name: "unknown transport", body: xmlConfig("carrier-pigeon", "5222"), is: srferrors.ErrUnknownTransport},
		{name: "missing username", body: strings.Replace(xmlConfig(fakeTransportName, "5222"), "<username>u</username>", "", 1), is: srferrors.ErrKeyNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBootstrapFixture(t, nil)
			path := writeConfig(t, "opensrf.xml", tt.body)

			err := f.client.Bootstrap(withContext("ctx"), path, testContext)
			var cfgErr *srferrors.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.ErrorIs(t, err, tt.is)
			assert.Equal(t, 0, f.backend.builds())
			assert.Equal(t, 0, f.registry.Len())
		})
	}
}

func TestBootstrapUnreadableConfigFile(t *testing.T) {
	f := newBootstrapFixture(t, nil)

	err := f.client.Bootstrap(withContext("ctx"), "/does/not/exist.xml", testContext)
	var cfgErr *srferrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "/does/not/exist.xml", cfgErr.Path)
	assert.Equal(t, 0, f.backend.builds())
}

func TestBootstrapWrongContextIsConfigError(t *testing.T) {
	f := newBootstrapFixture(t, nil)
	path := writeConfig(t, "opensrf.xml", xmlConfig(fakeTransportName, "5222"))

	err := f.client.Bootstrap(withContext("ctx"), path, "/config/elsewhere")
	var cfgErr *srferrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, srferrors.ErrKeyNotFound)
}

func TestBootstrapConnectFailureWrapsCause(t *testing.T) {
	refused := errors.New("connection refused")
	f := newBootstrapFixture(t, nil)
	f.backend.configure = func(h *fakeTransport) { h.connectErr = refused }
	path := writeConfig(t, "opensrf.xml", xmlConfig(fakeTransportName, "5222"))

	err := f.client.Bootstrap(withContext("ctx-1"), path, testContext)
	require.Error(t, err)

	var sessErr *srferrors.SessionError
	require.ErrorAs(t, err, &sessErr)
	assert.Same(t, refused, sessErr.Err)
	assert.ErrorIs(t, err, refused)
	assert.Equal(t, fakeTransportName, sessErr.Transport)
	assert.Equal(t, "bus.example.org:5222", sessErr.Address)
	assert.True(t, strings.HasSuffix(sessErr.Resource, "_tctx-1"))
	assert.Contains(t, err.Error(), "unable to bootstrap client")

	assert.Equal(t, 0, f.registry.Len())
	assert.Equal(t, uint64(1), f.metrics.Snapshot().Outcomes[OutcomeSessionError])
}

func TestBootstrapBuildFailureIsSessionError(t *testing.T) {
	boom := errors.New("no route")
	f := newBootstrapFixture(t, nil)
	f.backend.buildErr = boom
	path := writeConfig(t, "opensrf.xml", xmlConfig(fakeTransportName, "5222"))

	err := f.client.Bootstrap(withContext("ctx"), path, testContext)
	var sessErr *srferrors.SessionError
	require.ErrorAs(t, err, &sessErr)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, f.registry.Len())
}

func TestBootstrapConnectTimeout(t *testing.T) {
	release := make(chan struct{})
	f := newBootstrapFixture(t, nil)
	f.backend.configure = func(h *fakeTransport) {
		// Ignores ctx so the connect completes after the timeout.
		h.connectHook = func(context.Context) error {
			<-release
			return nil
		}
	}
	body := strings.Replace(xmlConfig(fakeTransportName, "5222"), "</opensrf>", "<connect_timeout>50ms</connect_timeout></opensrf>", 1)
	path := writeConfig(t, "opensrf.xml", body)

	start := time.Now()
	err := f.client.Bootstrap(withContext("ctx"), path, testContext)
	assert.Less(t, time.Since(start), 5*time.Second)

	var sessErr *srferrors.SessionError
	require.ErrorAs(t, err, &sessErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, f.registry.Len())

	close(release)
	h := f.backend.handle(0)
	assert.Eventually(t, func() bool {
		_, disconnects := h.stats()
		return disconnects == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, f.registry.Len())
}

func TestBootstrapHonoursCallerDeadline(t *testing.T) {
	f := newBootstrapFixture(t, nil)
	f.backend.configure = func(h *fakeTransport) {
		h.connectHook = func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}
	}
	path := writeConfig(t, "opensrf.xml", xmlConfig(fakeTransportName, "5222"))

	ctx, cancel := context.WithTimeout(withContext("ctx"), 20*time.Millisecond)
	defer cancel()
	err := f.client.Bootstrap(ctx, path, testContext)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var sessErr *srferrors.SessionError
	assert.ErrorAs(t, err, &sessErr)
}

func TestBootstrapRequiresExecutionContext(t *testing.T) {
	f := newBootstrapFixture(t, nil)
	err := f.client.Bootstrap(context.Background(), "x.xml", testContext)
	assert.ErrorIs(t, err, srferrors.ErrNoExecutionContext)
	assert.Equal(t, 0, f.backend.builds())
}

func TestBootstrapConcurrentSameContext(t *testing.T) {
	f := newBootstrapFixture(t, nil)
	f.backend.configure = func(h *fakeTransport) {
		h.connectHook = func(context.Context) error {
			time.Sleep(10 * time.Millisecond)
			return nil
		}
	}
	path := writeConfig(t, "opensrf.xml", xmlConfig(fakeTransportName, "5222"))
	ctx := withContext("shared")

	const callers = 16
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.client.Bootstrap(ctx, path, testContext)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, f.backend.builds())
	assert.Equal(t, 1, f.registry.Len())
	assert.Equal(t, 0, f.registry.lockCount())
}

func TestBootstrapDiscardsLoserOfRegistrationRace(t *testing.T) {
	f := newBootstrapFixture(t, nil)
	winner := &ActiveConnection{ID: "winner", ContextID: "ctx", handle: &fakeTransport{}}
	f.backend.configure = func(h *fakeTransport) {
		// A competing registration that does not go through the context lock.
		h.connectHook = func(context.Context) error {
			return f.registry.Register("ctx", winner)
		}
	}
	path := writeConfig(t, "opensrf.xml", xmlConfig(fakeTransportName, "5222"))

	require.NoError(t, f.client.Bootstrap(withContext("ctx"), path, testContext))

	_, disconnects := f.backend.handle(0).stats()
	assert.Equal(t, 1, disconnects)
	got, ok := f.registry.Get("ctx")
	require.True(t, ok)
	assert.Same(t, winner, got)
	assert.Equal(t, uint64(1), f.metrics.Snapshot().Outcomes[OutcomeRaceDiscarded])
}

func TestNewBootstrapperRequiresRegistry(t *testing.T) {
	_, err := NewBootstrapper(nil, Dependencies{})
	assert.ErrorIs(t, err, srferrors.ErrRegistryRequired)

	_, err = NewShutdownHandler(nil, Dependencies{})
	assert.ErrorIs(t, err, srferrors.ErrRegistryRequired)
}

func TestConnectWithin(t *testing.T) {
	t.Run("no timeout", func(t *testing.T) {
		h := &fakeTransport{}
		require.NoError(t, connectWithin(context.Background(), h, transport.Credentials{}, 0, nil))
		assert.True(t, h.IsConnected())
	})

	t.Run("error passes through", func(t *testing.T) {
		boom := errors.New("boom")
		h := &fakeTransport{connectErr: boom}
		assert.Same(t, boom, connectWithin(context.Background(), h, transport.Credentials{}, time.Second, nil))
	})

	t.Run("late failure is not disconnected", func(t *testing.T) {
		release := make(chan struct{})
		h := &fakeTransport{connectErr: errors.New("late"), connectHook: func(context.Context) error {
			<-release
			return nil
		}}
		late := make(chan error, 1)
		err := connectWithin(context.Background(), h, transport.Credentials{}, 10*time.Millisecond, func(err error) { late <- err })
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		close(release)
		select {
		case <-late:
			t.Fatal("unexpected late disconnect")
		case <-time.After(50 * time.Millisecond):
		}
		_, disconnects := h.stats()
		assert.Equal(t, 0, disconnects)
	})
}
