package progress

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/casare-rpa/robot/pkg/backend"
	"github.com/casare-rpa/robot/pkg/connection"
	"github.com/casare-rpa/robot/pkg/log"
	"github.com/rs/zerolog"
)

// CancellationChecker polls the backend's cancel_requested flag for one
// job. Once the flag is observed set it latches; the executor's run loop
// watches IsCancelled and halts the engine.
type CancellationChecker struct {
	conn     *connection.Manager
	interval time.Duration
	logger   zerolog.Logger

	cancelled atomic.Bool

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewCancellationChecker creates a checker polling at interval
// (default 2s).
func NewCancellationChecker(conn *connection.Manager, interval time.Duration) *CancellationChecker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &CancellationChecker{
		conn:     conn,
		interval: interval,
		logger:   log.WithComponent("cancellation"),
	}
}

// IsCancelled reports whether cancellation has been observed
func (c *CancellationChecker) IsCancelled() bool {
	return c.cancelled.Load()
}

// Start begins polling for the job. Stop must be called when the job ends.
func (c *CancellationChecker) Start(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopCh != nil {
		return
	}
	c.cancelled.Store(false)
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	go c.checkLoop(jobID, c.stopCh, c.doneCh)
}

// Stop halts polling and waits for the loop to exit
func (c *CancellationChecker) Stop() {
	c.mu.Lock()
	stopCh, doneCh := c.stopCh, c.doneCh
	c.stopCh, c.doneCh = nil, nil
	c.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-doneCh
	}
}

// CheckOnce reads the flag immediately. The read goes through the
// connection manager without retry; a failed read is not a cancellation.
func (c *CancellationChecker) CheckOnce(ctx context.Context, jobID string) bool {
	var requested bool
	err := c.conn.Execute(ctx, func(ctx context.Context, b backend.Backend) error {
		var err error
		requested, err = b.CancelRequested(ctx, jobID)
		return err
	}, false)
	if err != nil {
		c.logger.Debug().Err(err).Str("job_id", jobID).Msg("Cancellation check failed")
		return c.cancelled.Load()
	}
	if requested {
		c.cancelled.Store(true)
	}
	return c.cancelled.Load()
}

func (c *CancellationChecker) checkLoop(jobID string, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if c.CheckOnce(context.Background(), jobID) {
				c.logger.Info().Str("job_id", jobID).Msg("Cancellation requested by backend")
				return
			}
		case <-stopCh:
			return
		}
	}
}
