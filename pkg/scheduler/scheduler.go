package scheduler

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/casare-rpa/robot/pkg/log"
	"github.com/casare-rpa/robot/pkg/metrics"
	"github.com/casare-rpa/robot/pkg/types"
	"github.com/casare-rpa/robot/pkg/workflow"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// ExecuteFunc dispatches one resolved workflow fire. The agent wires this
// to backend job submission; tests substitute fakes.
type ExecuteFunc func(ctx context.Context, scheduleID string, doc *workflow.Document, vars map[string]types.Variable) error

// Callbacks observe schedule execution lifecycle
type Callbacks struct {
	OnStart    func(scheduleID string)
	OnComplete func(scheduleID string, e Entry)
	OnError    func(scheduleID string, err error)
}

// Config tunes the scheduler service
type Config struct {
	CheckInterval           time.Duration // due-schedule poll (default 60s)
	MaxConcurrentExecutions int           // dispatch semaphore (default 3)
	ExecutionTimeout        time.Duration // per-fire cap (default 3600s)
	MaxRetries              int           // retries per failed fire
	RetryDelay              time.Duration // delay between retries (default 60s)
	HistoryMaxEntries       int
	HistoryMaxAge           time.Duration
}

func (c Config) withDefaults() Config {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 60 * time.Second
	}
	if c.MaxConcurrentExecutions <= 0 {
		c.MaxConcurrentExecutions = 3
	}
	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = 3600 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 60 * time.Second
	}
	return c
}

// Scheduler converts time-based schedule definitions into workflow
// dispatches. A background loop checks for due schedules on a fixed
// interval and fires each under a concurrency semaphore. Overlapping
// fires of one schedule coalesce: while a fire is still executing the
// schedule is skipped, and the next check picks it up again if it is
// still due.
type Scheduler struct {
	config  Config
	execute ExecuteFunc
	cbs     Callbacks
	history *History
	logger  zerolog.Logger

	mu        sync.Mutex
	schedules map[string]*Schedule
	executing map[string]bool
	running   bool

	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New creates a scheduler service
func New(config Config, execute ExecuteFunc, cbs Callbacks) *Scheduler {
	cfg := config.withDefaults()
	return &Scheduler{
		config:    cfg,
		execute:   execute,
		cbs:       cbs,
		history:   NewHistory(cfg.HistoryMaxEntries, cfg.HistoryMaxAge),
		logger:    log.WithComponent("scheduler"),
		schedules: make(map[string]*Schedule),
		executing: make(map[string]bool),
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrentExecutions)),
		stopCh:    make(chan struct{}),
	}
}

// History exposes the execution history store
func (s *Scheduler) History() *History {
	return s.history
}

// Add validates and registers a schedule
func (s *Scheduler) Add(schedule *Schedule) error {
	if err := schedule.Validate(); err != nil {
		return err
	}
	schedule.NextRun = schedule.NextAfter(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[schedule.ID]; ok {
		return fmt.Errorf("schedule %s already registered", schedule.ID)
	}
	s.schedules[schedule.ID] = schedule
	s.logger.Info().
		Str("schedule_id", schedule.ID).
		Str("kind", string(schedule.Kind)).
		Time("next_run", schedule.NextRun).
		Msg("Schedule registered")
	return nil
}

// Remove unregisters a schedule
func (s *Scheduler) Remove(scheduleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[scheduleID]; !ok {
		return false
	}
	delete(s.schedules, scheduleID)
	return true
}

// Get returns a copy of the schedule, if registered
func (s *Scheduler) Get(scheduleID string) (Schedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[scheduleID]
	if !ok {
		return Schedule{}, false
	}
	return *sched, true
}

// Pause disables a schedule without removing it
func (s *Scheduler) Pause(scheduleID string) bool {
	return s.setEnabled(scheduleID, false)
}

// Resume re-enables a paused schedule
func (s *Scheduler) Resume(scheduleID string) bool {
	return s.setEnabled(scheduleID, true)
}

func (s *Scheduler) setEnabled(scheduleID string, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[scheduleID]
	if !ok {
		return false
	}
	sched.Enabled = enabled
	if enabled {
		sched.NextRun = sched.NextAfter(time.Now())
	}
	return true
}

// Start launches the trigger evaluation loop
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.checkLoop()
}

// Stop halts the loop and waits for in-flight executions
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
}

// ActiveExecutions returns the number of fires currently running
func (s *Scheduler) ActiveExecutions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.executing)
}

func (s *Scheduler) checkLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.fireDue(time.Now())
		case <-s.stopCh:
			return
		}
	}
}

// fireDue dispatches every due schedule. The loop calls it once per check
// interval; tests in this package call it directly.
func (s *Scheduler) fireDue(now time.Time) {
	s.mu.Lock()
	var due []*Schedule
	for _, sched := range s.schedules {
		if !sched.Enabled || sched.NextRun.IsZero() || sched.NextRun.After(now) {
			continue
		}
		if s.executing[sched.ID] {
			// Previous fire still running; coalesce
			continue
		}
		s.executing[sched.ID] = true
		due = append(due, sched)
	}
	s.mu.Unlock()

	for _, sched := range due {
		s.wg.Add(1)
		go func(sc *Schedule) {
			defer s.wg.Done()
			if err := s.sem.Acquire(context.Background(), 1); err != nil {
				return
			}
			defer s.sem.Release(1)
			s.runOnce(sc)
		}(sched)
	}
}

// runOnce executes one schedule fire, including the retry policy
func (s *Scheduler) runOnce(sched *Schedule) {
	defer func() {
		s.mu.Lock()
		delete(s.executing, sched.ID)
		s.mu.Unlock()
	}()

	if s.cbs.OnStart != nil {
		s.cbs.OnStart(sched.ID)
	}

	entry := Entry{
		ExecutionID:  uuid.New().String(),
		ScheduleID:   sched.ID,
		ScheduleName: sched.Name,
		WorkflowPath: sched.WorkflowPath,
		StartedAt:    time.Now().UTC(),
	}

	success, errMsg := s.attemptWithRetries(sched)

	entry.CompletedAt = time.Now().UTC()
	entry.DurationMS = entry.CompletedAt.Sub(entry.StartedAt).Milliseconds()
	entry.Success = success
	entry.ErrorMessage = errMsg
	s.history.Add(entry)

	now := time.Now()
	s.mu.Lock()
	sched.LastRun = now
	sched.RunCount++
	if success {
		sched.SuccessCount++
	} else {
		sched.FailureCount++
	}
	sched.NextRun = sched.NextAfter(now)
	s.mu.Unlock()

	if success {
		metrics.ScheduleFires.WithLabelValues("success").Inc()
		if s.cbs.OnComplete != nil {
			s.cbs.OnComplete(sched.ID, entry)
		}
	} else {
		metrics.ScheduleFires.WithLabelValues("failure").Inc()
		if s.cbs.OnError != nil {
			s.cbs.OnError(sched.ID, fmt.Errorf("%s", errMsg))
		}
		s.logger.Error().
			Str("schedule_id", sched.ID).
			Str("error", errMsg).
			Msg("Schedule execution failed")
	}
}

// attemptWithRetries runs the fire, retrying failures per the config
func (s *Scheduler) attemptWithRetries(sched *Schedule) (bool, string) {
	var lastErr string
	for attempt := 0; ; attempt++ {
		success, errMsg := s.attempt(sched)
		if success {
			return true, ""
		}
		lastErr = errMsg

		if attempt >= s.config.MaxRetries {
			return false, lastErr
		}
		s.logger.Warn().
			Str("schedule_id", sched.ID).
			Int("attempt", attempt+1).
			Str("error", errMsg).
			Msg("Schedule fire failed, retrying")

		select {
		case <-time.After(s.config.RetryDelay):
		case <-s.stopCh:
			return false, lastErr
		}
	}
}

func (s *Scheduler) attempt(sched *Schedule) (bool, string) {
	data, err := os.ReadFile(sched.WorkflowPath)
	if err != nil {
		return false, fmt.Sprintf("workflow file not found: %s", sched.WorkflowPath)
	}
	doc, err := workflow.Parse(data)
	if err != nil {
		return false, err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ExecutionTimeout)
	defer cancel()

	err = s.execute(ctx, sched.ID, doc, doc.Variables)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return false, "timed out"
		}
		return false, err.Error()
	}
	return true, ""
}
