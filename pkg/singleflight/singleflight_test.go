package singleflight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroup_ConcurrentCallsShareOneExecution(t *testing.T) {
	g := NewGroup[string]()
	var executions int64

	const callers = 10
	var wg sync.WaitGroup
	results := make([]string, callers)
	shared := make([]bool, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			val, wasShared, err := g.Do(context.Background(), "conn-1", func() (string, error) {
				atomic.AddInt64(&executions, 1)
				time.Sleep(50 * time.Millisecond)
				return "session", nil
			})
			require.NoError(t, err)
			results[idx] = val
			shared[idx] = wasShared
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&executions), "only one underlying execution")
	sharedCount := 0
	for i := 0; i < callers; i++ {
		assert.Equal(t, "session", results[i])
		if shared[i] {
			sharedCount++
		}
	}
	assert.Equal(t, callers-1, sharedCount, "exactly one caller ran the function")
}

func TestGroup_ErrorsAreShared(t *testing.T) {
	g := NewGroup[int]()
	wantErr := errors.New("handshake failed")

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _, _ = g.Do(context.Background(), "k", func() (int, error) {
			close(started)
			<-release
			return 0, wantErr
		})
	}()

	<-started
	done := make(chan error, 1)
	go func() {
		_, shared, err := g.Do(context.Background(), "k", func() (int, error) {
			t.Error("second fn must not run")
			return 0, nil
		})
		assert.True(t, shared)
		done <- err
	}()

	close(release)
	assert.Equal(t, wantErr, <-done)
}

func TestGroup_DistinctKeysRunIndependently(t *testing.T) {
	g := NewGroup[int]()
	var executions int64

	var wg sync.WaitGroup
	for _, key := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			_, _, err := g.Do(context.Background(), k, func() (int, error) {
				atomic.AddInt64(&executions, 1)
				return 1, nil
			})
			require.NoError(t, err)
		}(key)
	}
	wg.Wait()
	assert.Equal(t, int64(3), atomic.LoadInt64(&executions))
}

func TestGroup_WaiterHonorsContextCancel(t *testing.T) {
	g := NewGroup[int]()

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _, _ = g.Do(context.Background(), "k", func() (int, error) {
			close(started)
			<-release
			return 0, nil
		})
	}()
	<-started
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := g.Do(ctx, "k", func() (int, error) { return 0, nil })
	assert.ErrorIs(t, err, context.Canceled)
}
