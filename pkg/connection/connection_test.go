package connection

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/casare-rpa/robot/pkg/backend"
	"github.com/casare-rpa/robot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend counts calls and fails on demand
type fakeBackend struct {
	connectErr error
	pingErr    error
	connects   int
	closes     int
}

func (f *fakeBackend) Connect(ctx context.Context) error {
	f.connects++
	return f.connectErr
}
func (f *fakeBackend) Close()                          { f.closes++ }
func (f *fakeBackend) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeBackend) ClaimJob(ctx context.Context, robotID, environment string) (*types.Job, error) {
	return nil, nil
}
func (f *fakeBackend) ExtendLease(ctx context.Context, jobID string, d time.Duration) error {
	return nil
}
func (f *fakeBackend) ReleaseJob(ctx context.Context, jobID string) error { return nil }
func (f *fakeBackend) CompleteJob(ctx context.Context, jobID string, result types.JobResult) error {
	return nil
}
func (f *fakeBackend) FailJob(ctx context.Context, jobID, errMsg string) error { return nil }
func (f *fakeBackend) UpdateProgress(ctx context.Context, jobID string, progress json.RawMessage) error {
	return nil
}
func (f *fakeBackend) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	return false, nil
}
func (f *fakeBackend) SubmitJob(ctx context.Context, job *types.Job) error { return nil }
func (f *fakeBackend) UpsertRegistration(ctx context.Context, reg *types.Registration) error {
	return nil
}
func (f *fakeBackend) UpdateRobotStatus(ctx context.Context, robotID string, status types.RobotStatus) error {
	return nil
}
func (f *fakeBackend) UpdatePresence(ctx context.Context, robotID string, presence types.Presence) error {
	return nil
}

var _ backend.Backend = (*fakeBackend)(nil)

func fastConfig() Config {
	return Config{
		InitialDelay:         time.Millisecond,
		MaxDelay:             5 * time.Millisecond,
		BackoffMultiplier:    2.0,
		MaxReconnectAttempts: 2,
	}
}

func TestConnectTransitionsState(t *testing.T) {
	fb := &fakeBackend{}
	var connected bool
	m := NewManager(fb, fastConfig(), Callbacks{OnConnected: func() { connected = true }})

	assert.Equal(t, StateDisconnected, m.State())
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateConnected, m.State())
	assert.True(t, connected)
	assert.EqualValues(t, 1, m.GetStatus().Stats.SuccessfulConnections)
}

func TestExecuteConnectsLazily(t *testing.T) {
	fb := &fakeBackend{}
	m := NewManager(fb, fastConfig(), Callbacks{})

	called := false
	err := m.Execute(context.Background(), func(ctx context.Context, b backend.Backend) error {
		called = true
		return nil
	}, false)

	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, 1, fb.connects)
}

func TestExecuteFailsWhenConnectFails(t *testing.T) {
	fb := &fakeBackend{connectErr: errors.New("refused")}
	m := NewManager(fb, fastConfig(), Callbacks{})

	err := m.Execute(context.Background(), func(ctx context.Context, b backend.Backend) error {
		t.Fatal("operation must not run without a session")
		return nil
	}, false)

	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestExecuteRetriesOnceAfterReconnect(t *testing.T) {
	fb := &fakeBackend{}
	var attempts []int
	m := NewManager(fb, fastConfig(), Callbacks{OnReconnecting: func(a int) { attempts = append(attempts, a) }})
	require.NoError(t, m.Connect(context.Background()))

	calls := 0
	err := m.Execute(context.Background(), func(ctx context.Context, b backend.Backend) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	}, true)

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []int{1}, attempts)
}

func TestExecuteNoRetryWithoutFlag(t *testing.T) {
	fb := &fakeBackend{}
	m := NewManager(fb, fastConfig(), Callbacks{})
	require.NoError(t, m.Connect(context.Background()))

	calls := 0
	err := m.Execute(context.Background(), func(ctx context.Context, b backend.Backend) error {
		calls++
		return errors.New("transient")
	}, false)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.EqualValues(t, 1, m.GetStatus().Stats.FailedOperations)
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	fb := &fakeBackend{connectErr: errors.New("refused")}
	cfg := fastConfig()
	m := NewManager(fb, cfg, Callbacks{})

	err := m.Reconnect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, m.State())
}

func TestHealthCheck(t *testing.T) {
	fb := &fakeBackend{}
	m := NewManager(fb, fastConfig(), Callbacks{})

	assert.False(t, m.HealthCheck(context.Background()), "disconnected manager is unhealthy")

	require.NoError(t, m.Connect(context.Background()))
	assert.True(t, m.HealthCheck(context.Background()))

	fb.pingErr = errors.New("gone")
	assert.False(t, m.HealthCheck(context.Background()))
}
