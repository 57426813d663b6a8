package singleflight

import (
	"context"
	"sync"
)

type call[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// Group deduplicates concurrent calls by key: while a call for a key is in
// flight, later callers wait for and share the same result instead of
// starting a second execution. Used to prevent duplicate session handshakes
// racing on the same auth material.
type Group[V any] struct {
	mu    sync.Mutex
	calls map[string]*call[V]
}

// NewGroup creates an empty group.
func NewGroup[V any]() *Group[V] {
	return &Group[V]{calls: make(map[string]*call[V])}
}

// Do executes fn for key, or joins an in-flight execution of the same key.
// The second return value reports whether this caller shared another caller's
// result. Waiting callers respect ctx cancellation; the in-flight fn itself
// runs to completion with its initiator's context.
func (g *Group[V]) Do(ctx context.Context, key string, fn func() (V, error)) (V, bool, error) {
	g.mu.Lock()
	if c, ok := g.calls[key]; ok {
		g.mu.Unlock()
		select {
		case <-c.done:
			return c.val, true, c.err
		case <-ctx.Done():
			var zero V
			return zero, true, ctx.Err()
		}
	}

	c := &call[V]{done: make(chan struct{})}
	g.calls[key] = c
	g.mu.Unlock()

	c.val, c.err = fn()

	g.mu.Lock()
	delete(g.calls, key)
	g.mu.Unlock()
	close(c.done)

	return c.val, false, c.err
}

// InFlight reports whether an execution for key is currently running.
func (g *Group[V]) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.calls[key]
	return ok
}
