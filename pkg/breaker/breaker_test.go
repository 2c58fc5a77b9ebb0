package breaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend unavailable")

func failing() error { return errBackend }
func succeeding() error { return nil }

func newTestBreaker(cfg Config) (*Breaker, *time.Time) {
	b := New("test", cfg, nil)
	now := time.Now()
	b.now = func() time.Time { return now }
	return b, &now
}

func TestOpensAfterFailureThreshold(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3, OpenTimeout: 5 * time.Second})

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Call(failing), errBackend)
	}
	assert.Equal(t, StateOpen, b.State())

	// The next call is blocked without invoking the operation
	invoked := false
	err := b.Call(func() error {
		invoked = true
		return nil
	})

	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "test", openErr.Circuit)
	assert.False(t, invoked)
}

func TestHalfOpenAfterTimeout(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: 5 * time.Second})

	require.Error(t, b.Call(failing))
	require.Equal(t, StateOpen, b.State())

	*now = now.Add(6 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	// Two successful probes close the circuit
	require.NoError(t, b.Call(succeeding))
	assert.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, b.Call(succeeding))
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, OpenTimeout: 5 * time.Second})

	require.Error(t, b.Call(failing))
	*now = now.Add(6 * time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	require.Error(t, b.Call(failing))
	assert.Equal(t, StateOpen, b.State())
}

func TestHalfOpenConcurrencyLimit(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 10, OpenTimeout: time.Second, HalfOpenMaxCalls: 1})

	require.Error(t, b.Call(failing))
	*now = now.Add(2 * time.Second)

	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Call(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// One probe in flight: the next call is blocked
	var openErr *OpenError
	err := b.Call(succeeding)
	require.ErrorAs(t, err, &openErr)

	close(release)
	wg.Wait()
}

func TestStatsMonotonicity(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 2, OpenTimeout: time.Minute})

	b.Call(succeeding)
	b.Call(failing)
	b.Call(failing)
	b.Call(succeeding) // blocked
	b.Call(succeeding) // blocked

	s := b.GetStatus().Stats
	assert.GreaterOrEqual(t, s.TotalCalls, s.SuccessfulCalls+s.FailedCalls+s.BlockedCalls)
	assert.Equal(t, int64(1), s.SuccessfulCalls)
	assert.Equal(t, int64(2), s.FailedCalls)
	assert.Equal(t, int64(2), s.BlockedCalls)
	assert.Equal(t, int64(1), s.TimesOpened)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 2})

	require.Error(t, b.Call(failing))
	require.NoError(t, b.Call(succeeding))
	require.Error(t, b.Call(failing))

	// Failure streak was broken; still closed
	assert.Equal(t, StateClosed, b.State())
}

func TestResetAndForceOpen(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1})

	b.ForceOpen()
	assert.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	require.NoError(t, b.Call(succeeding))
}

func TestStateChangeCallback(t *testing.T) {
	var transitions []string
	b := New("cb", Config{FailureThreshold: 1, OpenTimeout: time.Minute}, func(name string, from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})
	now := time.Now()
	b.now = func() time.Time { return now }

	require.Error(t, b.Call(failing))
	assert.Equal(t, []string{"closed->open"}, transitions)
}

func TestRegistrySharesInstances(t *testing.T) {
	r := NewRegistry()

	b1 := r.GetOrCreate("robot-1", DefaultConfig(), nil)
	b2 := r.GetOrCreate("robot-1", Config{FailureThreshold: 99}, nil)
	assert.Same(t, b1, b2)

	assert.Nil(t, r.Get("missing"))
	assert.Len(t, r.All(), 1)
}
