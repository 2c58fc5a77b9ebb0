package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketCachedJobs  = []byte("cached_jobs")
	bucketCheckpoints = []byte("job_checkpoints")
	bucketHistory     = []byte("execution_history")
)

// BoltStore implements Store using a single BoltDB file. Checkpoints live
// in per-job nested buckets keyed by insertion sequence, which keeps
// per-job ordering monotonic without comparing timestamps.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the offline store backing file. A file
// that cannot be opened or whose buckets cannot be created is treated as
// corrupt and refuses to initialize.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open offline store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketCachedJobs, bucketCheckpoints, bucketHistory} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// CacheJob inserts a claimed job into the local cache
func (s *BoltStore) CacheJob(jobID string, workflowJSON []byte, originalStatus string) error {
	job := &CachedJob{
		JobID:          jobID,
		WorkflowJSON:   workflowJSON,
		OriginalStatus: originalStatus,
		Status:         CacheStatusCached,
		CachedAt:       time.Now().UTC(),
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCachedJobs)
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return b.Put([]byte(jobID), data)
	})
}

// MarkInProgress transitions a cached job to in_progress
func (s *BoltStore) MarkInProgress(jobID string) error {
	return s.updateJob(jobID, func(job *CachedJob) {
		job.Status = CacheStatusInProgress
		job.StartedAt = time.Now().UTC()
	})
}

// MarkCompleted records the job outcome. Idempotent: a re-call with the
// same job-id overwrites the previous outcome.
func (s *BoltStore) MarkCompleted(jobID string, success bool, result []byte, errMsg string) error {
	return s.updateJob(jobID, func(job *CachedJob) {
		if success {
			job.Status = CacheStatusCompleted
		} else {
			job.Status = CacheStatusFailed
		}
		job.Success = success
		job.Result = result
		job.ErrorMessage = errMsg
		job.CompletedAt = time.Now().UTC()
	})
}

// MarkSynced flags a completed job as acknowledged by the backend
func (s *BoltStore) MarkSynced(jobID string) error {
	return s.updateJob(jobID, func(job *CachedJob) {
		job.Status = CacheStatusSynced
	})
}

// IncrementSyncAttempts bumps the sync attempt counter
func (s *BoltStore) IncrementSyncAttempts(jobID string) error {
	return s.updateJob(jobID, func(job *CachedJob) {
		job.SyncAttempts++
	})
}

// JobsToSync returns completed or failed jobs not yet acknowledged by the
// backend, ordered by completion time.
func (s *BoltStore) JobsToSync() ([]*CachedJob, error) {
	jobs, err := s.filterJobs(func(job *CachedJob) bool {
		return job.Status == CacheStatusCompleted || job.Status == CacheStatusFailed
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CompletedAt.Before(jobs[j].CompletedAt)
	})
	return jobs, nil
}

// InProgressJobs returns jobs interrupted mid-execution, for crash recovery
func (s *BoltStore) InProgressJobs() ([]*CachedJob, error) {
	return s.filterJobs(func(job *CachedJob) bool {
		return job.Status == CacheStatusInProgress
	})
}

// CachedJobs returns every cached job record
func (s *BoltStore) CachedJobs() ([]*CachedJob, error) {
	return s.filterJobs(func(*CachedJob) bool { return true })
}

// GetCachedJob returns one cached job, or nil if absent
func (s *BoltStore) GetCachedJob(jobID string) (*CachedJob, error) {
	var job *CachedJob
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCachedJobs).Get([]byte(jobID))
		if data == nil {
			return nil
		}
		job = &CachedJob{}
		return json.Unmarshal(data, job)
	})
	return job, err
}

// CleanupOldSyncedJobs removes synced jobs older than maxAge and returns
// the number deleted.
func (s *BoltStore) CleanupOldSyncedJobs(maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCachedJobs)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var job CachedJob
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			if job.Status == CacheStatusSynced && job.CompletedAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// SaveCheckpoint appends a checkpoint blob for the job. Sequence keys make
// per-job checkpoint order monotonic.
func (s *BoltStore) SaveCheckpoint(jobID, checkpointID, nodeID string, state []byte) error {
	rec := &CheckpointRecord{
		CheckpointID: checkpointID,
		JobID:        jobID,
		NodeID:       nodeID,
		State:        state,
		CreatedAt:    time.Now().UTC(),
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		parent := tx.Bucket(bucketCheckpoints)
		b, err := parent.CreateBucketIfNotExists([]byte(jobID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
}

// LatestCheckpoint returns the most recent checkpoint for the job, or nil
// if none exists.
func (s *BoltStore) LatestCheckpoint(jobID string) (*CheckpointRecord, error) {
	var rec *CheckpointRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCheckpoints).Bucket([]byte(jobID))
		if b == nil {
			return nil
		}
		_, v := b.Cursor().Last()
		if v == nil {
			return nil
		}
		rec = &CheckpointRecord{}
		return json.Unmarshal(v, rec)
	})
	return rec, err
}

// ClearCheckpoints drops every checkpoint for the job. A second call for
// the same job is a no-op.
func (s *BoltStore) ClearCheckpoints(jobID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		parent := tx.Bucket(bucketCheckpoints)
		if parent.Bucket([]byte(jobID)) == nil {
			return nil
		}
		return parent.DeleteBucket([]byte(jobID))
	})
}

// CheckpointCount returns the number of stored checkpoints for the job
func (s *BoltStore) CheckpointCount(jobID string) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCheckpoints).Bucket([]byte(jobID))
		if b == nil {
			return nil
		}
		count = b.Stats().KeyN
		return nil
	})
	return count, err
}

// LogEvent appends one execution history entry
func (s *BoltStore) LogEvent(jobID, eventType string, payload []byte) error {
	rec := &EventRecord{
		JobID:     jobID,
		EventType: eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
}

// JobHistory returns all history entries for a job in insertion order
func (s *BoltStore) JobHistory(jobID string) ([]*EventRecord, error) {
	var events []*EventRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHistory).ForEach(func(k, v []byte) error {
			var rec EventRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.JobID == jobID {
				events = append(events, &rec)
			}
			return nil
		})
	})
	return events, err
}

// QueueStats counts cached jobs per status
func (s *BoltStore) QueueStats() (map[CacheStatus]int, error) {
	stats := make(map[CacheStatus]int)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCachedJobs).ForEach(func(k, v []byte) error {
			var job CachedJob
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			stats[job.Status]++
			return nil
		})
	})
	return stats, err
}

func (s *BoltStore) updateJob(jobID string, mutate func(*CachedJob)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCachedJobs)
		data := b.Get([]byte(jobID))
		if data == nil {
			return fmt.Errorf("cached job not found: %s", jobID)
		}
		var job CachedJob
		if err := json.Unmarshal(data, &job); err != nil {
			return err
		}
		mutate(&job)
		updated, err := json.Marshal(&job)
		if err != nil {
			return err
		}
		return b.Put([]byte(jobID), updated)
	})
}

func (s *BoltStore) filterJobs(keep func(*CachedJob) bool) ([]*CachedJob, error) {
	var jobs []*CachedJob
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCachedJobs).ForEach(func(k, v []byte) error {
			var job CachedJob
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			if keep(&job) {
				jobs = append(jobs, &job)
			}
			return nil
		})
	})
	return jobs, err
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
