// Package execctx names the unit of concurrency that owns a bus connection.
//
// Goroutines have no identity of their own, so callers attach an ID to the
// context.Context they pass around. Every goroutine or task that should own a
// separate connection gets its own ID; code running on behalf of that task
// finds the connection again through the same context.
package execctx

import (
	"context"

	"github.com/google/uuid"
)

// ID identifies one execution context. The zero value is not a valid ID.
type ID string

func (id ID) String() string { return string(id) }

type ctxKey struct{}

// New mints a fresh, random execution context ID.
func New() ID {
	return ID(uuid.NewString())
}

// WithID returns a copy of ctx carrying id.
func WithID(ctx context.Context, id ID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the ID attached to ctx, if any.
func FromContext(ctx context.Context) (ID, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(ctxKey{}).(ID)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Ensure returns ctx unchanged when it already carries an ID, otherwise a
// child context with a newly minted one.
func Ensure(ctx context.Context) (context.Context, ID) {
	if id, ok := FromContext(ctx); ok {
		return ctx, id
	}
	id := New()
	return WithID(ctx, id), id
}
