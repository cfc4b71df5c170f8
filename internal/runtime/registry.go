package runtime

import (
	"slices"
	"strings"
	"sync"

	srferrors "github.com/drblury/srfbus/internal/runtime/errors"
	"github.com/drblury/srfbus/internal/runtime/execctx"
)

// Registry maps execution contexts to their active bus connection. It also
// hands out per-context locks so a check followed by a registration can run
// atomically for one context without serialising unrelated contexts.
type Registry struct {
	mu    sync.RWMutex
	conns map[execctx.ID]*ActiveConnection

	locksMu sync.Mutex
	locks   map[execctx.ID]*contextLock
}

type contextLock struct {
	mu   sync.Mutex
	refs int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[execctx.ID]*ActiveConnection),
		locks: make(map[execctx.ID]*contextLock),
	}
}

// HasActive reports whether id currently owns a connection.
func (r *Registry) HasActive(id execctx.ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[id]
	return ok
}

// Get returns the connection owned by id.
func (r *Registry) Get(id execctx.ID) (*ActiveConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// Register stores conn as the connection of id. It fails with
// ErrAlreadyConnected when id already owns one; the existing entry is kept.
func (r *Registry) Register(id execctx.ID, conn *ActiveConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; ok {
		return srferrors.ErrAlreadyConnected
	}
	r.conns[id] = conn
	return nil
}

// Remove drops the entry of id. Removing an absent entry is a no-op.
func (r *Registry) Remove(id execctx.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

// take removes and returns the entry of id.
func (r *Registry) take(id execctx.ID) (*ActiveConnection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	return conn, ok
}

// Len returns the number of active connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot describes every active connection, oldest first.
func (r *Registry) Snapshot() []ConnectionInfo {
	r.mu.RLock()
	infos := make([]ConnectionInfo, 0, len(r.conns))
	for _, conn := range r.conns {
		infos = append(infos, conn.Info())
	}
	r.mu.RUnlock()

	slices.SortFunc(infos, func(a, b ConnectionInfo) int {
		if c := a.ConnectedAt.Compare(b.ConnectedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return infos
}

// Drain removes and returns every entry.
func (r *Registry) Drain() []*ActiveConnection {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := make([]*ActiveConnection, 0, len(r.conns))
	for id, conn := range r.conns {
		conns = append(conns, conn)
		delete(r.conns, id)
	}
	return conns
}

// Lock acquires the lock of id and returns the function releasing it. The
// returned function is safe to call more than once.
func (r *Registry) Lock(id execctx.ID) (unlock func()) {
	r.locksMu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &contextLock{}
		r.locks[id] = l
	}
	l.refs++
	r.locksMu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			r.locksMu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(r.locks, id)
			}
			r.locksMu.Unlock()
		})
	}
}

// lockCount is the number of lock entries currently held or waited on.
func (r *Registry) lockCount() int {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	return len(r.locks)
}
