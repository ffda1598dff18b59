// Package circuit provides a three-state circuit breaker around unreliable
// outbound calls. The breaker only looks at "returned an error or not"; the
// caller decides what counts as an error before returning it.
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // Requests pass, failures counted
	StateOpen                  // Requests fail fast
	StateHalfOpen              // Probing: limited requests pass
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

// Config represents circuit breaker configuration
type Config struct {
	FailureThreshold int           // Consecutive failures to open the circuit
	SuccessThreshold int           // Consecutive half-open successes to close it
	RecoveryTimeout  time.Duration // Open duration before the next call may probe
	RequestTimeout   time.Duration // Per-call deadline
}

// DefaultConfig suits the flaky scrapers this service fronts.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  60 * time.Second,
		RequestTimeout:   30 * time.Second,
	}
}

// Breaker represents a circuit breaker
type Breaker struct {
	mu              sync.RWMutex
	config          Config
	state           State
	failures        int       // Consecutive failure count
	successes       int       // Consecutive success count in half-open state
	openedAt        time.Time // When the circuit last opened
	lastStateChange time.Time
	totalRequests   int64
	totalSuccesses  int64
	totalFailures   int64
	totalRejections int64 // Calls refused while open
}

// NewBreaker creates a new circuit breaker with the specified configuration
func NewBreaker(config Config) *Breaker {
	return &Breaker{
		config:          config,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Execute runs fn under the breaker. While open it fails fast with
// domain.ErrCircuitOpen. A call abandoned by parent-context cancellation is
// neither a success nor a failure; a call that hits the per-request deadline
// counts as a failure.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.allowRequest() {
		b.mu.Lock()
		b.totalRejections++
		b.mu.Unlock()
		return domain.ErrCircuitOpen
	}

	b.mu.Lock()
	b.totalRequests++
	b.mu.Unlock()

	callCtx := ctx
	var cancel context.CancelFunc
	if b.config.RequestTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, b.config.RequestTimeout)
		defer cancel()
	}

	err := fn(callCtx)
	if err == nil {
		b.onSuccess()
		return nil
	}

	// The caller going away mid-flight says nothing about vendor health.
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}

	b.onFailure()
	return err
}

// allowRequest determines if a request should be allowed based on state.
// The Open to HalfOpen transition happens lazily here, on the first call
// after the recovery timeout.
func (b *Breaker) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.config.RecoveryTimeout {
			b.setState(StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalSuccesses++

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.setState(StateClosed)
			b.failures = 0
			b.successes = 0
		}
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailures++

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.setState(StateOpen)
			b.openedAt = time.Now()
		}
	case StateHalfOpen:
		b.setState(StateOpen)
		b.openedAt = time.Now()
		b.successes = 0
	}
}

// setState changes state and stamps the transition. Callers hold the lock.
func (b *Breaker) setState(state State) {
	if b.state != state {
		b.state = state
		b.lastStateChange = time.Now()

		if state == StateHalfOpen {
			b.failures = 0
		}
	}
}

// State returns the current circuit breaker state
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Reset resets the circuit breaker to its initial state
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.totalRequests = 0
	b.totalSuccesses = 0
	b.totalFailures = 0
	b.totalRejections = 0
	b.lastStateChange = time.Now()
	b.openedAt = time.Time{}
}

// Stats represents circuit breaker statistics
type Stats struct {
	State                string    `json:"state"`
	TotalRequests        int64     `json:"total_requests"`
	TotalSuccesses       int64     `json:"total_successes"`
	TotalFailures        int64     `json:"total_failures"`
	TotalRejections      int64     `json:"total_rejections"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastStateChange      time.Time `json:"last_state_change"`
}

// Stats returns current circuit breaker statistics
func (b *Breaker) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return Stats{
		State:                b.state.String(),
		TotalRequests:        b.totalRequests,
		TotalSuccesses:       b.totalSuccesses,
		TotalFailures:        b.totalFailures,
		TotalRejections:      b.totalRejections,
		ConsecutiveFailures:  b.failures,
		ConsecutiveSuccesses: b.successes,
		LastStateChange:      b.lastStateChange,
	}
}

// Manager manages circuit breakers for different vendors
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewManager creates a new circuit breaker manager
func NewManager() *Manager {
	return &Manager{breakers: make(map[string]*Breaker)}
}

// AddVendor adds a circuit breaker for a specific vendor
func (m *Manager) AddVendor(name string, config Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakers[name] = NewBreaker(config)
}

// Get returns the circuit breaker for a specific vendor
func (m *Manager) Get(name string) (*Breaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.breakers[name]
	return b, ok
}

// Execute runs fn through the vendor's breaker. An unconfigured vendor
// executes directly.
func (m *Manager) Execute(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	b, ok := m.Get(name)
	if !ok {
		return fn(ctx)
	}
	return b.Execute(ctx, fn)
}

// Stats returns statistics for all vendors
func (m *Manager) Stats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]Stats, len(m.breakers))
	for name, b := range m.breakers {
		stats[name] = b.Stats()
	}
	return stats
}
