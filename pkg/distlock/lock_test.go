package distlock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memEntry struct {
	value     string
	expiresAt time.Time
}

// memKV is an in-memory KV with real TTL semantics for tests.
type memKV struct {
	mu      sync.Mutex
	entries map[string]memEntry
	failAll bool
}

func newMemKV() *memKV {
	return &memKV{entries: make(map[string]memEntry)}
}

func (m *memKV) expired(e memEntry) bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

func (m *memKV) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return false, errors.New("kv unavailable")
	}
	if e, ok := m.entries[key]; ok && !m.expired(e) {
		return false, nil
	}
	m.entries[key] = memEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return true, nil
}

func (m *memKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return "", errors.New("kv unavailable")
	}
	e, ok := m.entries[key]
	if !ok || m.expired(e) {
		return "", ErrNotFound
	}
	return e.value, nil
}

func (m *memKV) CompareAndExpire(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return false, errors.New("kv unavailable")
	}
	e, ok := m.entries[key]
	if !ok || m.expired(e) || e.value != token {
		return false, nil
	}
	e.expiresAt = time.Now().Add(ttl)
	m.entries[key] = e
	return true, nil
}

func (m *memKV) CompareAndDelete(_ context.Context, key, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return false, errors.New("kv unavailable")
	}
	e, ok := m.entries[key]
	if !ok || m.expired(e) || e.value != token {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

func TestLock_SingleHolder(t *testing.T) {
	kv := newMemKV()
	ctx := context.Background()

	a := New(kv, "restore", time.Minute)
	b := New(kv, "restore", time.Minute)

	gotA, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, gotA)
	assert.Equal(t, StateHeld, a.State())

	gotB, err := b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, gotB, "second process must not acquire a held lock")
	assert.Equal(t, StateUnlocked, b.State())

	require.NoError(t, a.Release(ctx))
	assert.Equal(t, StateReleased, a.State())

	gotB, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, gotB, "released lock is acquirable again")
	require.NoError(t, b.Release(ctx))
}

func TestLock_TTLLapseAllowsTakeover(t *testing.T) {
	kv := newMemKV()
	ctx := context.Background()

	a := New(kv, "restore", 30*time.Millisecond)
	got, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, got)

	// Simulate a crashed holder: drop the heartbeat by marking released
	// without deleting the key, then wait out the TTL.
	a.mu.Lock()
	close(a.stopBeat)
	a.state = StateReleased
	a.mu.Unlock()
	time.Sleep(50 * time.Millisecond)

	b := New(kv, "restore", time.Minute)
	got, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, got, "lapsed TTL makes the lock available without explicit release")
	require.NoError(t, b.Release(ctx))
}

func TestLock_AcquireIdempotentWhileHeld(t *testing.T) {
	kv := newMemKV()
	ctx := context.Background()

	l := New(kv, "restore", time.Minute)
	got, err := l.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, got)

	got, err = l.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, got, "re-acquiring a held lock is a no-op success")
	require.NoError(t, l.Release(ctx))
}

func TestLock_InfraFailureSurfacesError(t *testing.T) {
	kv := newMemKV()
	kv.failAll = true

	l := New(kv, "restore", time.Minute)
	got, err := l.TryAcquire(context.Background())
	assert.False(t, got)
	assert.Error(t, err, "caller distinguishes contention from infra failure")
	assert.Equal(t, StateUnlocked, l.State())
}

func TestLock_ReleaseOnlyDeletesOwnToken(t *testing.T) {
	kv := newMemKV()
	ctx := context.Background()

	a := New(kv, "restore", 30*time.Millisecond)
	got, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, got)

	// Let the TTL lapse and a new owner take over.
	time.Sleep(50 * time.Millisecond)
	b := New(kv, "restore", time.Minute)
	got, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, got)

	// a's release must not delete b's lock.
	require.NoError(t, a.Release(ctx))
	val, err := kv.Get(ctx, "restore")
	require.NoError(t, err)
	assert.NotEmpty(t, val)
	require.NoError(t, b.Release(ctx))
}
