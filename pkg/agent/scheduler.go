package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/casare-rpa/robot/pkg/backend"
	"github.com/casare-rpa/robot/pkg/scheduler"
	"github.com/casare-rpa/robot/pkg/types"
	"github.com/casare-rpa/robot/pkg/workflow"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// startScheduler loads the schedule definitions file and runs the
// scheduler. Each fire is converted into a pending job on the backend
// queue; any robot in the environment may claim it.
func (a *Agent) startScheduler() error {
	data, err := os.ReadFile(a.config.SchedulesFile)
	if err != nil {
		return fmt.Errorf("failed to read schedules file: %w", err)
	}
	var schedules []*scheduler.Schedule
	if err := yaml.Unmarshal(data, &schedules); err != nil {
		return fmt.Errorf("failed to parse schedules file: %w", err)
	}

	a.scheduler = scheduler.New(scheduler.Config{}, a.enqueueScheduledJob, scheduler.Callbacks{
		OnError: func(scheduleID string, err error) {
			a.logger.Error().Err(err).Str("schedule_id", scheduleID).Msg("Scheduled fire failed")
		},
	})

	for _, sched := range schedules {
		if err := a.scheduler.Add(sched); err != nil {
			return fmt.Errorf("invalid schedule: %w", err)
		}
	}

	a.scheduler.Start()
	a.logger.Info().Int("schedules", len(schedules)).Msg("Scheduler started")
	return nil
}

// enqueueScheduledJob submits one fire as a pending job on the queue
func (a *Agent) enqueueScheduledJob(ctx context.Context, scheduleID string, doc *workflow.Document, vars map[string]types.Variable) error {
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	job := &types.Job{
		ID:           uuid.New().String(),
		WorkflowName: doc.Metadata.Name,
		WorkflowJSON: docJSON,
		Variables:    vars,
		Environment:  a.config.Environment,
		Status:       types.JobStatusPending,
	}
	return a.conn.Execute(ctx, func(ctx context.Context, b backend.Backend) error {
		return b.SubmitJob(ctx, job)
	}, true)
}
