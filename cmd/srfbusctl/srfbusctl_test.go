package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/srfbus"
	"github.com/drblury/srfbus/internal/runtime/jsoncodec"
)

const channelConfig = `<config>
  <opensrf>
    <username>router</username>
    <passwd>secret</passwd>
    <domains><domain>localhost</domain></domains>
    <port>47301</port>
    <transport>channel</transport>
  </opensrf>
</config>`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "opensrf_core.xml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestResourceCommand(t *testing.T) {
	out, _, err := run(t, "resource", "--prefix", "opensrf.math_listener", "--execution-context", "42")
	require.NoError(t, err)
	res := strings.TrimSpace(out)
	assert.True(t, strings.HasPrefix(res, "opensrf.math_listener_"), res)
	assert.True(t, strings.HasSuffix(res, "_t42"), res)
}

func TestResourceCommandJSON(t *testing.T) {
	out, _, err := run(t, "resource", "--json", "--execution-context", "abc")
	require.NoError(t, err)

	var payload map[string]string
	require.NoError(t, jsoncodec.Unmarshal([]byte(out), &payload))
	assert.Equal(t, "abc", payload["context_id"])
	assert.True(t, strings.HasPrefix(payload["resource"], "go_"))
}

func TestCheckCommandSuccess(t *testing.T) {
	path := writeConfig(t, channelConfig)
	out, _, err := run(t, "check", "-c", path, "-x", "/config/opensrf", "--json")
	require.NoError(t, err)

	var report checkReport
	require.NoError(t, jsoncodec.Unmarshal([]byte(out), &report))
	assert.Equal(t, "ok", report.Status)
	require.NotNil(t, report.Connection)
	assert.Equal(t, "channel", report.Connection.Transport)
	assert.Equal(t, "localhost:47301", report.Connection.Address)
	assert.NotContains(t, out, "secret")
}

func TestCheckCommandTextOutput(t *testing.T) {
	path := writeConfig(t, channelConfig)
	out, _, err := run(t, "check", "-c", path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "ok channel localhost:47301 as router"), out)
}

func TestCheckCommandConfigError(t *testing.T) {
	path := writeConfig(t, strings.Replace(channelConfig, "<port>47301</port>", "", 1))
	out, _, err := run(t, "check", "-c", path, "--json")

	var cfgErr *srfbus.ConfigError
	require.ErrorAs(t, err, &cfgErr)

	var report checkReport
	require.NoError(t, jsoncodec.Unmarshal([]byte(out), &report))
	assert.Equal(t, "error", report.Status)
	assert.Equal(t, "config", report.Kind)
}

func TestCheckCommandRequiresConfig(t *testing.T) {
	_, _, err := run(t, "check")
	require.Error(t, err)
}

func TestUnknownLogFormat(t *testing.T) {
	_, _, err := run(t, "resource", "--log-format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown log format")
}

func TestHoldUntilDone(t *testing.T) {
	client, err := srfbus.NewClient(nil, srfbus.Dependencies{})
	require.NoError(t, err)
	path := writeConfig(t, strings.Replace(channelConfig, "47301", "47302", 1))

	ctx, _ := srfbus.NewExecutionContext(context.Background())
	require.NoError(t, client.Bootstrap(ctx, path, "/config/opensrf"))

	holdCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- holdUntilDone(holdCtx, client, srfbus.NewNopServiceLogger(), "127.0.0.1:0", srfbus.StatusOptions{})
	}()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("hold did not return after cancellation")
	}
	assert.Empty(t, client.Connections())
}

func TestHoldUntilDoneBadAddress(t *testing.T) {
	client, err := srfbus.NewClient(nil, srfbus.Dependencies{})
	require.NoError(t, err)

	err = holdUntilDone(context.Background(), client, srfbus.NewNopServiceLogger(), "not-an-address", srfbus.StatusOptions{})
	require.Error(t, err)
}
