package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/casare-rpa/robot/pkg/log"
	"github.com/casare-rpa/robot/pkg/metrics"
	"github.com/rs/zerolog"
)

// State is the circuit's failure-gate position
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	}
	return "unknown"
}

// OpenError is returned when a call is blocked by an open circuit
type OpenError struct {
	Circuit   string
	Remaining time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit %s is open (%.1fs remaining)", e.Circuit, e.Remaining.Seconds())
}

// Config tunes a circuit breaker
type Config struct {
	FailureThreshold int           // consecutive failures before opening (default 5)
	SuccessThreshold int           // consecutive half-open successes before closing (default 2)
	OpenTimeout      time.Duration // how long the circuit stays open (default 60s)
	HalfOpenMaxCalls int           // concurrent probes admitted while half-open (default 3)
}

// DefaultConfig returns the documented defaults
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      60 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 60 * time.Second
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 3
	}
	return c
}

// Stats are the breaker's monotonic counters. At all times
// TotalCalls >= SuccessfulCalls + FailedCalls + BlockedCalls holds.
type Stats struct {
	TotalCalls      int64 `json:"total_calls"`
	SuccessfulCalls int64 `json:"successful_calls"`
	FailedCalls     int64 `json:"failed_calls"`
	BlockedCalls    int64 `json:"blocked_calls"`
	TimesOpened     int64 `json:"times_opened"`
}

// Status is a point-in-time snapshot for observability
type Status struct {
	Name             string    `json:"name"`
	State            string    `json:"state"`
	FailureCount     int       `json:"failure_count"`
	SuccessCount     int       `json:"success_count"`
	OpenedAt         time.Time `json:"opened_at,omitempty"`
	RemainingSeconds float64   `json:"remaining_open_seconds,omitempty"`
	Stats            Stats     `json:"stats"`
}

// StateChangeFunc observes circuit transitions
type StateChangeFunc func(name string, from, to State)

// Breaker is a three-state failure gate. Calls pass through while closed,
// fail fast while open, and probe with bounded concurrency while
// half-open. All transitions happen under one mutex; the wrapped operation
// itself runs outside it.
type Breaker struct {
	name    string
	config  Config
	onState StateChangeFunc
	logger  zerolog.Logger

	mu            sync.Mutex
	state         State
	failureCount  int
	successCount  int
	openedAt      time.Time
	halfOpenCalls int
	stats         Stats

	// now is swappable for tests
	now func() time.Time
}

// New creates a circuit breaker in the closed state
func New(name string, config Config, onState StateChangeFunc) *Breaker {
	return &Breaker{
		name:    name,
		config:  config.withDefaults(),
		onState: onState,
		logger:  log.WithComponent("breaker"),
		state:   StateClosed,
		now:     time.Now,
	}
}

// Name returns the circuit's registry name
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state, applying the open-timeout transition
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

// IsOpen reports whether calls would currently be blocked outright
func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

// Call runs op through the circuit. While open it fails fast with
// *OpenError without invoking op; while half-open it admits at most
// HalfOpenMaxCalls concurrent probes.
func (b *Breaker) Call(op func() error) error {
	b.mu.Lock()
	b.maybeHalfOpen()

	switch b.state {
	case StateOpen:
		b.stats.TotalCalls++
		b.stats.BlockedCalls++
		err := &OpenError{Circuit: b.name, Remaining: b.remainingOpen()}
		b.mu.Unlock()
		return err

	case StateHalfOpen:
		if b.halfOpenCalls >= b.config.HalfOpenMaxCalls {
			b.stats.TotalCalls++
			b.stats.BlockedCalls++
			b.mu.Unlock()
			return &OpenError{Circuit: b.name}
		}
		b.halfOpenCalls++
	}

	b.stats.TotalCalls++
	b.mu.Unlock()

	err := op()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.halfOpenCalls--
	}

	if err != nil {
		b.stats.FailedCalls++
		b.onFailure()
		return err
	}

	b.stats.SuccessfulCalls++
	b.onSuccess()
	return nil
}

// Reset forces the circuit closed and clears counters
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.setState(StateClosed)
	b.failureCount = 0
	b.successCount = 0
	b.halfOpenCalls = 0
}

// ForceOpen forces the circuit open
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateOpen)
}

// GetStatus returns an observability snapshot
func (b *Breaker) GetStatus() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()

	s := Status{
		Name:         b.name,
		State:        b.state.String(),
		FailureCount: b.failureCount,
		SuccessCount: b.successCount,
		Stats:        b.stats,
	}
	if b.state == StateOpen {
		s.OpenedAt = b.openedAt
		s.RemainingSeconds = b.remainingOpen().Seconds()
	}
	return s
}

// onSuccess and onFailure run with the mutex held

func (b *Breaker) onSuccess() {
	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.config.SuccessThreshold {
			b.setState(StateClosed)
			b.failureCount = 0
		}
	}
}

func (b *Breaker) onFailure() {
	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.config.FailureThreshold {
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.setState(StateOpen)
	}
}

// maybeHalfOpen applies the open-timeout transition; mutex held
func (b *Breaker) maybeHalfOpen() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.config.OpenTimeout {
		b.setState(StateHalfOpen)
	}
}

func (b *Breaker) remainingOpen() time.Duration {
	remaining := b.config.OpenTimeout - b.now().Sub(b.openedAt)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// setState transitions and fires observers; mutex held
func (b *Breaker) setState(newState State) {
	if b.state == newState {
		return
	}
	oldState := b.state
	b.state = newState

	switch newState {
	case StateOpen:
		b.openedAt = b.now()
		b.stats.TimesOpened++
		metrics.CircuitOpenedTotal.WithLabelValues(b.name).Inc()
	case StateHalfOpen:
		b.halfOpenCalls = 0
		b.successCount = 0
	case StateClosed:
		b.failureCount = 0
	}

	metrics.CircuitState.WithLabelValues(b.name).Set(stateGauge(newState))

	b.logger.Warn().
		Str("circuit", b.name).
		Str("from", oldState.String()).
		Str("to", newState.String()).
		Msg("Circuit state changed")

	if b.onState != nil {
		b.onState(b.name, oldState, newState)
	}
}

func stateGauge(s State) float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	}
	return 0
}
