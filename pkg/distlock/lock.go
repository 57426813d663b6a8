package distlock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// KV is the minimal key-value contract the lock needs. Implementations must
// make SetNX atomic and must compare the owner token before delete/expire so
// a lapsed holder can never release or renew somebody else's lock.
type KV interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	CompareAndExpire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, token string) (bool, error)
}

// ErrNotFound is returned by KV.Get when the key does not exist.
var ErrNotFound = errors.New("distlock: key not found")

// State is the lock's lifecycle position.
type State string

const (
	StateUnlocked  State = "unlocked"
	StateAcquiring State = "acquiring"
	StateHeld      State = "held"
	StateRenewing  State = "renewing"
	StateReleased  State = "released"
)

// Lock is a single-holder distributed lock with TTL and heartbeat renewal.
// The TTL protects against crashed holders: once it lapses the lock is
// acquirable again even without an explicit release.
type Lock struct {
	kv  KV
	key string
	ttl time.Duration

	mu       sync.Mutex
	state    State
	token    string
	stopBeat chan struct{}
	beatDone chan struct{}
}

// New creates a lock over the given key. ttl bounds how long a crashed
// holder can block other processes.
func New(kv KV, key string, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Lock{kv: kv, key: key, ttl: ttl, state: StateUnlocked}
}

// State returns the current lifecycle state.
func (l *Lock) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// TryAcquire attempts a single set-if-not-exists with a fresh random owner
// token. On success it starts a heartbeat that renews the TTL until Release.
// Returns (false, nil) when another process holds the lock and
// (false, err) when the KV itself is unreachable — callers decide whether to
// favor availability and proceed without coordination in that case.
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	if l.state == StateHeld || l.state == StateRenewing {
		l.mu.Unlock()
		return true, nil
	}
	l.state = StateAcquiring
	token := uuid.New().String()
	l.mu.Unlock()

	ok, err := l.kv.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		l.mu.Lock()
		l.state = StateUnlocked
		l.mu.Unlock()
		return false, err
	}
	if !ok {
		l.mu.Lock()
		l.state = StateUnlocked
		l.mu.Unlock()
		return false, nil
	}

	l.mu.Lock()
	l.token = token
	l.state = StateHeld
	l.stopBeat = make(chan struct{})
	l.beatDone = make(chan struct{})
	stop, done := l.stopBeat, l.beatDone
	l.mu.Unlock()

	go l.heartbeat(stop, done)
	logrus.WithField("key", l.key).Debug("[DISTLOCK] acquired")
	return true, nil
}

// heartbeat renews the TTL at a third of its duration. A renewal that finds
// the token gone means the lock lapsed and was taken over; the heartbeat
// stops and the lock degrades to unlocked.
func (l *Lock) heartbeat(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := l.ttl / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			if l.state != StateHeld {
				l.mu.Unlock()
				return
			}
			l.state = StateRenewing
			token := l.token
			l.mu.Unlock()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			renewed, err := l.kv.CompareAndExpire(ctx, l.key, token, l.ttl)
			cancel()

			l.mu.Lock()
			switch {
			case err != nil:
				// Infra hiccup: keep holding, the TTL still covers us until
				// the next tick.
				logrus.WithError(err).Warn("[DISTLOCK] heartbeat renewal failed")
				l.state = StateHeld
			case !renewed:
				logrus.WithField("key", l.key).Warn("[DISTLOCK] lock lapsed and was taken over")
				l.state = StateUnlocked
				l.token = ""
				l.mu.Unlock()
				return
			default:
				l.state = StateHeld
			}
			l.mu.Unlock()
		}
	}
}

// Release stops the heartbeat and deletes the key if we still own it.
// Safe to call on shutdown signals regardless of current state.
func (l *Lock) Release(ctx context.Context) error {
	l.mu.Lock()
	if l.state != StateHeld && l.state != StateRenewing {
		l.state = StateReleased
		l.mu.Unlock()
		return nil
	}
	token := l.token
	stop, done := l.stopBeat, l.beatDone
	l.state = StateReleased
	l.token = ""
	l.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	released, err := l.kv.CompareAndDelete(ctx, l.key, token)
	if err != nil {
		return err
	}
	if !released {
		logrus.WithField("key", l.key).Debug("[DISTLOCK] key already expired or re-owned at release")
	}
	return nil
}
