// Package groutine spawns named goroutines. Every long-lived task in the
// daemon (device actors, per-connection IPC handlers) goes through Go so
// that a pprof goroutine dump of a wedged daemon shows which device or
// connection each goroutine belongs to.
package groutine

import (
	"context"
	"runtime/pprof"
)

type ctxKey struct{}

// Go runs fn on a new goroutine labelled name. The label is attached both
// as a pprof label and on the context fn receives, so log lines and
// profiles can be correlated. A nil parentCtx means context.Background().
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)
	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		fn(context.WithValue(ctx, ctxKey{}, name))
	})
}

// Name returns the name a goroutine was spawned under, or "" for a context
// that did not come through Go.
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(ctxKey{}).(string); ok {
		return s
	}
	return ""
}
