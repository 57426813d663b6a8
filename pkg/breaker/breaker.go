package breaker

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultThreshold = 5
	DefaultCooldown  = 60 * time.Second
)

// Stats is a snapshot of one provider's breaker state.
type Stats struct {
	Provider     string    `json:"provider"`
	FailureCount int       `json:"failure_count"`
	Open         bool      `json:"open"`
	OpenUntil    time.Time `json:"open_until,omitempty"`
	LastFailure  time.Time `json:"last_failure,omitempty"`
}

type providerState struct {
	failureCount int
	openUntil    time.Time
	lastFailure  time.Time
}

// Registry tracks an open/closed circuit per external provider. State is
// process-local: each process independently protects its own outbound calls.
type Registry struct {
	mu        sync.Mutex
	providers map[string]*providerState
	now       func() time.Time
}

// NewRegistry creates an empty registry. Unknown providers are lazily
// initialized on first use.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]*providerState),
		now:       time.Now,
	}
}

func (r *Registry) state(provider string) *providerState {
	st, ok := r.providers[provider]
	if !ok {
		st = &providerState{}
		r.providers[provider] = st
	}
	return st
}

// IsOpen reports whether calls to the provider should be rejected. Once
// openUntil has passed the circuit is implicitly half-open: the next call is
// allowed through and its outcome decides whether the circuit re-opens.
func (r *Registry) IsOpen(provider string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.state(provider)
	return st.openUntil.After(r.now())
}

// RecordFailure increments the provider's failure count and opens the circuit
// when the threshold is reached. Returns true if this call just opened it.
func (r *Registry) RecordFailure(provider string, threshold int, cooldown time.Duration) bool {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state(provider)
	st.failureCount++
	st.lastFailure = r.now()

	wasOpen := st.openUntil.After(r.now())
	if st.failureCount >= threshold && !wasOpen {
		st.openUntil = r.now().Add(cooldown)
		logrus.WithFields(logrus.Fields{
			"provider": provider,
			"failures": st.failureCount,
			"cooldown": cooldown,
		}).Warn("[BREAKER] circuit opened")
		return true
	}
	return false
}

// RecordSuccess resets the failure count, closing the circuit.
func (r *Registry) RecordSuccess(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.state(provider)
	st.failureCount = 0
	st.openUntil = time.Time{}
}

// Trip forces the circuit open for the given cooldown regardless of counts.
func (r *Registry) Trip(provider string, cooldown time.Duration) {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.state(provider)
	st.openUntil = r.now().Add(cooldown)
	logrus.WithField("provider", provider).Warn("[BREAKER] circuit tripped manually")
}

// Reset clears all state for the provider.
func (r *Registry) Reset(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, provider)
}

// GetStats returns a snapshot for the provider.
func (r *Registry) GetStats(provider string) Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.state(provider)
	return Stats{
		Provider:     provider,
		FailureCount: st.failureCount,
		Open:         st.openUntil.After(r.now()),
		OpenUntil:    st.openUntil,
		LastFailure:  st.lastFailure,
	}
}

var (
	defaultRegistry *Registry
	defaultOnce     sync.Once
)

// Default returns the process-wide registry singleton.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}
