// Package resilience provides per-endpoint circuit breaking and transport
// error classification for remote prediction calls.
package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// State is the state of a circuit breaker.
type State int

const (
	// StateClosed lets calls through.
	StateClosed State = iota
	// StateOpen rejects calls until the reset timeout elapses.
	StateOpen
	// StateHalfOpen lets probe calls through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned when a call is rejected because the breaker is open.
var ErrOpen = eris.New("resilience: circuit open")

// BreakerConfig controls breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker. Zero disables breaking.
	FailureThreshold int
	// ResetTimeout is how long the breaker stays open before probing.
	ResetTimeout time.Duration
	// OnStateChange is called on every transition.
	OnStateChange func(name string, from, to State)
}

// DefaultBreakerConfig returns the defaults used for prediction endpoints.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// Breaker tracks failures for one endpoint.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time

	nowFunc func() time.Time
}

func newBreaker(name string, cfg BreakerConfig, now func() time.Time) *Breaker {
	return &Breaker{name: name, cfg: cfg, state: StateClosed, nowFunc: now}
}

// Allow returns ErrOpen when the call must be skipped.
func (b *Breaker) Allow() error {
	if b.cfg.FailureThreshold <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.nowFunc().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return eris.Wrapf(ErrOpen, "endpoint %s", b.name)
		}
		b.transition(StateHalfOpen)
	}
	return nil
}

// Record registers the outcome of a call.
func (b *Breaker) Record(err error) {
	if b.cfg.FailureThreshold <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.consecutiveFailures = 0
		if b.state != StateClosed {
			b.transition(StateClosed)
		}
		return
	}

	b.consecutiveFailures++
	switch b.state {
	case StateHalfOpen:
		b.openedAt = b.nowFunc()
		b.transition(StateOpen)
	case StateClosed:
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.openedAt = b.nowFunc()
			b.transition(StateOpen)
		}
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.nowFunc().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

// Breakers is a registry of per-endpoint breakers.
type Breakers struct {
	cfg BreakerConfig

	mu       sync.RWMutex
	breakers map[string]*Breaker

	nowFunc func() time.Time
}

// NewBreakers creates an empty registry.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
		nowFunc:  time.Now,
	}
}

// Get returns the breaker for an endpoint, creating it on first use.
func (r *Breakers) Get(endpoint string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[endpoint]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[endpoint]; ok {
		return b
	}
	b = newBreaker(endpoint, r.cfg, r.nowFunc)
	r.breakers[endpoint] = b
	return b
}

// States returns a snapshot of every breaker state.
func (r *Breakers) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}
