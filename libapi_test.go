package srfbus

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const channelConfig = `<config>
  <opensrf>
    <username>router</username>
    <passwd>secret</passwd>
    <domains><domain>localhost</domain></domains>
    <port>47201</port>
    <transport>channel</transport>
  </opensrf>
</config>`

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "opensrf_core.xml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestPackageLevelRoundTrip(t *testing.T) {
	path := writeTestConfig(t, channelConfig)
	ctx, id := NewExecutionContext(context.Background())

	if err := Bootstrap(ctx, path, "/config/opensrf"); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	t.Cleanup(func() { _ = ShutdownAll(context.Background()) })

	conn, ok := Current(ctx)
	if !ok {
		t.Fatal("expected a current connection")
	}
	if conn.ContextID != id {
		t.Fatalf("expected context %q, got %q", id, conn.ContextID)
	}
	if _, err := conn.Publisher(); err != nil {
		t.Fatalf("channel connection should expose a publisher: %v", err)
	}
	src, ok := Config(ctx)
	if !ok {
		t.Fatal("expected the bootstrap configuration to be available")
	}
	if transportName, err := src.GetString("/transport"); err != nil || transportName != "channel" {
		t.Fatalf("expected transport %q from config, got %q (%v)", "channel", transportName, err)
	}

	if err := Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if err := Shutdown(ctx); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestPackageLevelErrors(t *testing.T) {
	if err := Bootstrap(context.Background(), "missing.xml", "/config/opensrf"); !errors.Is(err, ErrNoExecutionContext) {
		t.Fatalf("expected ErrNoExecutionContext, got %v", err)
	}

	ctx := WithExecutionContext(context.Background(), "cfg-test")
	err := Bootstrap(ctx, filepath.Join(t.TempDir(), "missing.xml"), "/config/opensrf")
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if _, ok := Current(ctx); ok {
		t.Fatal("failed bootstrap must not register a connection")
	}
}

func TestBuiltinTransportsRegistered(t *testing.T) {
	for _, name := range []string{"nats", "rabbitmq", "kafka", "mqtt", "websocket", "channel"} {
		if !DefaultTransportRegistry.Has(name) {
			t.Fatalf("transport %q not registered", name)
		}
		if caps := GetCapabilities(name); caps.Name != name {
			t.Fatalf("capabilities for %q report name %q", name, caps.Name)
		}
	}
}

func TestExecutionContextHelpers(t *testing.T) {
	ctx := WithExecutionContext(context.Background(), "worker-7")
	id, ok := ExecutionContextFrom(ctx)
	if !ok || id != "worker-7" {
		t.Fatalf("expected worker-7, got %q (%v)", id, ok)
	}
	if _, ok := ExecutionContextFrom(context.Background()); ok {
		t.Fatal("background context carries no execution context")
	}
}

func TestEncodingExportAliases(t *testing.T) {
	payload := map[string]string{"hello": "world"}
	if _, err := Marshal(payload); err != nil {
		t.Fatalf("marshal alias failed: %v", err)
	}
	if _, err := MarshalIndent(payload, "", "  "); err != nil {
		t.Fatalf("marshal indent alias failed: %v", err)
	}
	if err := Unmarshal([]byte(`{"hello":"world"}`), &payload); err != nil {
		t.Fatalf("unmarshal alias failed: %v", err)
	}
}
