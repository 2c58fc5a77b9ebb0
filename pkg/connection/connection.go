package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/casare-rpa/robot/pkg/backend"
	"github.com/casare-rpa/robot/pkg/log"
	"github.com/casare-rpa/robot/pkg/metrics"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// ErrNotConnected is returned when an operation is attempted and the
// backend session cannot be established.
var ErrNotConnected = errors.New("not connected to backend")

// State is the logical connection state
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// Config tunes reconnect and operation behavior
type Config struct {
	InitialDelay         time.Duration // first reconnect delay (default 1s)
	MaxDelay             time.Duration // backoff cap (default 300s)
	BackoffMultiplier    float64       // per-attempt multiplier (default 2.0)
	Jitter               bool          // ±25% randomization
	MaxReconnectAttempts int           // 0 = infinite
	ConnectTimeout       time.Duration // per-connect timeout (default 30s)
	OperationTimeout     time.Duration // per-operation timeout (default 10s)
}

// DefaultConfig returns the documented defaults
func DefaultConfig() Config {
	return Config{
		InitialDelay:      time.Second,
		MaxDelay:          300 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		ConnectTimeout:    30 * time.Second,
		OperationTimeout:  10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 300 * time.Second
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = 2.0
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 10 * time.Second
	}
	return c
}

// Stats counts connection and operation outcomes
type Stats struct {
	ConnectionAttempts    int64 `json:"connection_attempts"`
	SuccessfulConnections int64 `json:"successful_connections"`
	FailedConnections     int64 `json:"failed_connections"`
	SuccessfulOperations  int64 `json:"successful_operations"`
	FailedOperations      int64 `json:"failed_operations"`
	TotalReconnects       int64 `json:"total_reconnects"`
}

// Status is a point-in-time connection snapshot
type Status struct {
	State               State     `json:"state"`
	Connected           bool      `json:"is_connected"`
	ReconnectAttempt    int       `json:"reconnect_attempt"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastSuccessfulOp    time.Time `json:"last_successful_operation,omitempty"`
	Stats               Stats     `json:"stats"`
}

// Callbacks observe connection state changes
type Callbacks struct {
	OnConnected    func()
	OnDisconnected func()
	OnReconnecting func(attempt int)
}

// Operation is one backend call run through the manager
type Operation func(ctx context.Context, b backend.Backend) error

// Manager maintains the logical backend session: it connects lazily,
// reconnects with exponential backoff, and runs operations under a
// timeout with an optional single retry after reconnect.
type Manager struct {
	backend   backend.Backend
	config    Config
	callbacks Callbacks
	logger    zerolog.Logger

	mu                  sync.Mutex
	state               State
	reconnectAttempt    int
	consecutiveFailures int
	lastSuccess         time.Time
	stats               Stats
}

// NewManager creates a manager in the disconnected state
func NewManager(b backend.Backend, config Config, callbacks Callbacks) *Manager {
	return &Manager{
		backend:   b,
		config:    config.withDefaults(),
		callbacks: callbacks,
		logger:    log.WithComponent("connection"),
		state:     StateDisconnected,
	}
}

// State returns the current connection state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the session is live
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Connect establishes the backend session
func (m *Manager) Connect(ctx context.Context) error {
	m.setState(StateConnecting)
	m.mu.Lock()
	m.stats.ConnectionAttempts++
	m.mu.Unlock()

	connectCtx, cancel := context.WithTimeout(ctx, m.config.ConnectTimeout)
	defer cancel()

	if err := m.backend.Connect(connectCtx); err != nil {
		m.mu.Lock()
		m.stats.FailedConnections++
		m.mu.Unlock()
		m.setState(StateDisconnected)
		return fmt.Errorf("backend connect failed: %w", err)
	}

	m.mu.Lock()
	m.stats.SuccessfulConnections++
	m.reconnectAttempt = 0
	m.mu.Unlock()
	m.setState(StateConnected)
	return nil
}

// Reconnect tears down the session and retries Connect with exponential
// backoff until it succeeds, the attempt cap is hit, or ctx is done.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.setState(StateReconnecting)
	m.backend.Close()

	bo := m.newBackoff()

	for attempt := 1; ; attempt++ {
		if m.config.MaxReconnectAttempts > 0 && attempt > m.config.MaxReconnectAttempts {
			m.setState(StateFailed)
			return fmt.Errorf("reconnect gave up after %d attempts", m.config.MaxReconnectAttempts)
		}

		m.mu.Lock()
		m.reconnectAttempt = attempt
		m.stats.TotalReconnects++
		m.mu.Unlock()
		metrics.ReconnectsTotal.Inc()

		if m.callbacks.OnReconnecting != nil {
			m.callbacks.OnReconnecting(attempt)
		}

		delay := bo.NextBackOff()
		m.logger.Warn().
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Reconnecting to backend")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			m.setState(StateDisconnected)
			return ctx.Err()
		}

		if err := m.Connect(ctx); err != nil {
			m.logger.Warn().Err(err).Int("attempt", attempt).Msg("Reconnect attempt failed")
			m.setState(StateReconnecting)
			continue
		}
		return nil
	}
}

// Disconnect closes the session
func (m *Manager) Disconnect() {
	m.backend.Close()
	m.setState(StateDisconnected)
}

// Execute runs op through the live session under the operation timeout.
// With retryOnFailure, a failed operation triggers one reconnect and one
// retry; the retry's error (or the original) surfaces to the caller.
func (m *Manager) Execute(ctx context.Context, op Operation, retryOnFailure bool) error {
	if !m.IsConnected() {
		if err := m.Connect(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
	}

	err := m.runOnce(ctx, op)
	if err == nil {
		return nil
	}

	if !retryOnFailure {
		return err
	}

	m.logger.Warn().Err(err).Msg("Operation failed, attempting reconnection")
	m.setState(StateDisconnected)
	if m.callbacks.OnDisconnected != nil {
		m.callbacks.OnDisconnected()
	}

	if rerr := m.Reconnect(ctx); rerr != nil {
		return err
	}
	return m.runOnce(ctx, op)
}

func (m *Manager) runOnce(ctx context.Context, op Operation) error {
	opCtx, cancel := context.WithTimeout(ctx, m.config.OperationTimeout)
	defer cancel()

	err := op(opCtx, m.backend)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.consecutiveFailures++
		m.stats.FailedOperations++
		metrics.BackendOperations.WithLabelValues("failure").Inc()
		return err
	}
	m.consecutiveFailures = 0
	m.lastSuccess = time.Now().UTC()
	m.stats.SuccessfulOperations++
	metrics.BackendOperations.WithLabelValues("success").Inc()
	return nil
}

// HealthCheck probes the backend under the operation timeout
func (m *Manager) HealthCheck(ctx context.Context) bool {
	if !m.IsConnected() {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.config.OperationTimeout)
	defer cancel()

	if err := m.backend.Ping(probeCtx); err != nil {
		m.logger.Warn().Err(err).Msg("Health check failed")
		return false
	}
	return true
}

// GetStatus returns a snapshot for observability
func (m *Manager) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Status{
		State:               m.state,
		Connected:           m.state == StateConnected,
		ReconnectAttempt:    m.reconnectAttempt,
		ConsecutiveFailures: m.consecutiveFailures,
		LastSuccessfulOp:    m.lastSuccess,
		Stats:               m.stats,
	}
}

func (m *Manager) newBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.config.InitialDelay
	bo.MaxInterval = m.config.MaxDelay
	bo.Multiplier = m.config.BackoffMultiplier
	bo.MaxElapsedTime = 0 // retry forever, the attempt cap is enforced above
	if m.config.Jitter {
		bo.RandomizationFactor = 0.25
	} else {
		bo.RandomizationFactor = 0
	}
	bo.Reset()
	return bo
}

func (m *Manager) setState(newState State) {
	m.mu.Lock()
	oldState := m.state
	m.state = newState
	m.mu.Unlock()

	if oldState == newState {
		return
	}

	m.logger.Info().
		Str("from", string(oldState)).
		Str("to", string(newState)).
		Msg("Connection state changed")

	switch newState {
	case StateConnected:
		if m.callbacks.OnConnected != nil {
			m.callbacks.OnConnected()
		}
	case StateDisconnected:
		if oldState == StateConnected && m.callbacks.OnDisconnected != nil {
			m.callbacks.OnDisconnected()
		}
	}
}
