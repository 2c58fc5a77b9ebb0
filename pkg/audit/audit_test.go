package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	dir := t.TempDir()
	l, err := New("robot-1", Config{Dir: dir, RecentLimit: 5})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, dir
}

func TestEntriesAreJSONL(t *testing.T) {
	l, dir := newTestLogger(t)

	l.JobClaimed("j1")
	l.JobCompleted("j1", 1234)
	require.NoError(t, l.Close())

	files, err := filepath.Glob(filepath.Join(dir, "audit_*.jsonl"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	f, err := os.Open(files[0])
	require.NoError(t, err)
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.Len(t, entries, 2)

	assert.Equal(t, EventJobClaimed, entries[0].EventType)
	assert.Equal(t, "robot-1", entries[0].RobotID)
	assert.Equal(t, "j1", entries[0].JobID)
	assert.Equal(t, SeverityInfo, entries[0].Severity)
	assert.Equal(t, EventJobCompleted, entries[1].EventType)
	assert.EqualValues(t, 1234, entries[1].Details["duration_ms"])
}

func TestRecentRingIsBounded(t *testing.T) {
	l, _ := newTestLogger(t)

	for i := 0; i < 10; i++ {
		l.JobClaimed("j")
	}
	recent := l.Recent(0)
	assert.Len(t, recent, 5)
}

func TestQueryFilters(t *testing.T) {
	l, _ := newTestLogger(t)

	l.JobClaimed("j1")
	l.JobFailed("j2", "boom", 10)
	l.JobClaimed("j2")

	byType := l.Query(EventJobClaimed, "", time.Time{})
	assert.Len(t, byType, 2)

	byJob := l.Query("", "j2", time.Time{})
	assert.Len(t, byJob, 2)

	both := l.Query(EventJobClaimed, "j2", time.Time{})
	require.Len(t, both, 1)
	assert.Equal(t, "j2", both[0].JobID)
}

func TestCheckpointRestoredDetails(t *testing.T) {
	l, _ := newTestLogger(t)

	l.CheckpointRestored("j1", "cp-9", "B")

	entries := l.Query(EventCheckpointRest, "j1", time.Time{})
	require.Len(t, entries, 1)
	assert.Equal(t, "B", entries[0].Details["restored_at_node"])
}
