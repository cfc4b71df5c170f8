package runtime

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/require"

	"github.com/drblury/srfbus/internal/runtime/execctx"
	"github.com/drblury/srfbus/transport"
)

const (
	testContext       = "/config/opensrf"
	fakeTransportName = "fake"
)

type fakeTransport struct {
	mu sync.Mutex

	ep            transport.Endpoint
	connectErr    error
	disconnectErr error
	// connectHook runs inside Connect before it returns.
	connectHook func(ctx context.Context) error

	connects    int
	disconnects int
	creds       []transport.Credentials
	connected   bool
}

func (f *fakeTransport) Connect(ctx context.Context, creds transport.Credentials) error {
	f.mu.Lock()
	f.connects++
	f.creds = append(f.creds, creds)
	hook := f.connectHook
	connectErr := f.connectErr
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return err
		}
	}
	if connectErr != nil {
		return connectErr
	}

	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
	return f.disconnectErr
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) stats() (connects, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects
}

func (f *fakeTransport) lastCreds() transport.Credentials {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.creds) == 0 {
		return transport.Credentials{}
	}
	return f.creds[len(f.creds)-1]
}

// fakeBackend hands out fakeTransports and remembers every one it built.
type fakeBackend struct {
	mu       sync.Mutex
	buildErr error
	// configure customises each new handle.
	configure func(*fakeTransport)
	handles   []*fakeTransport
}

func (b *fakeBackend) build(ep transport.Endpoint, _ watermill.LoggerAdapter) (transport.Transport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buildErr != nil {
		return nil, b.buildErr
	}
	h := &fakeTransport{ep: ep}
	if b.configure != nil {
		b.configure(h)
	}
	b.handles = append(b.handles, h)
	return h, nil
}

func (b *fakeBackend) builds() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handles)
}

func (b *fakeBackend) handle(i int) *fakeTransport {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handles[i]
}

func newFakeTransports(backend *fakeBackend) *transport.Registry {
	reg := transport.NewRegistry()
	reg.Register(fakeTransportName, backend.build)
	return reg
}

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func xmlConfig(transportName, port string) string {
	body := `<?xml version="1.0"?>
<config>
  <opensrf>
    <username>u</username>
    <passwd>p</passwd>
    <domains>
      <domain>bus.example.org</domain>
      <domain>backup.example.org</domain>
    </domains>`
	if port != "" {
		body += "\n    <port>" + port + "</port>"
	}
	if transportName != "" {
		body += "\n    <transport>" + transportName + "</transport>"
	}
	return body + "\n  </opensrf>\n</config>\n"
}

func withContext(id string) context.Context {
	return execctx.WithID(context.Background(), execctx.ID(id))
}
