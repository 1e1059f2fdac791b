// Package monitor periodically reports jobs that stopped moving and publishes
// per-status job counts.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/RezaEskandarii/csvimport/internal/constants"
	"github.com/RezaEskandarii/csvimport/internal/lock"
	"github.com/RezaEskandarii/csvimport/internal/metrics"
	"github.com/RezaEskandarii/csvimport/internal/state"
	"github.com/RezaEskandarii/csvimport/internal/store"
	"github.com/RezaEskandarii/csvimport/types"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultSchedule   = "@every 1m"
	DefaultStuckAfter = 15 * time.Minute

	runTimeout = 30 * time.Second
)

// Report is the outcome of one monitor run.
type Report struct {
	Counts map[state.JobStatus]int
	Stuck  []types.Job
	// Skipped is set when another instance held the monitor lock.
	Skipped bool
}

type Monitor struct {
	jobs       store.JobStore
	lock       lock.DistributedLockManager
	stuckAfter time.Duration
	cron       *cron.Cron
}

func NewMonitor(jobs store.JobStore, lock lock.DistributedLockManager, stuckAfter time.Duration) *Monitor {
	if stuckAfter <= 0 {
		stuckAfter = DefaultStuckAfter
	}
	return &Monitor{
		jobs:       jobs,
		lock:       lock,
		stuckAfter: stuckAfter,
		cron:       cron.New(),
	}
}

// Start schedules RunOnce with a cron expression or descriptor such as "@every 1m".
func (m *Monitor) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	_, err := m.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		if _, err := m.RunOnce(ctx); err != nil {
			log.Errorf("monitor: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid monitor schedule %q: %w", schedule, err)
	}
	m.cron.Start()
	log.WithField("schedule", schedule).Info("monitor started")
	return nil
}

// Stop halts the schedule and waits for a running report to finish.
func (m *Monitor) Stop() {
	<-m.cron.Stop().Done()
}

// RunOnce counts jobs by status and lists jobs that are not terminal and have
// not been updated for longer than the stuck threshold. Only one instance
// reports at a time.
func (m *Monitor) RunOnce(ctx context.Context) (*Report, error) {
	acquired, err := m.lock.TryAcquire(constants.MonitorLock)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return &Report{Skipped: true}, nil
	}
	defer func() {
		if err := m.lock.Release(constants.MonitorLock); err != nil {
			log.Warnf("monitor: %v", err)
		}
	}()

	counts, err := m.jobs.CountAllJobsGroupedByStatus(ctx)
	if err != nil {
		return nil, err
	}
	metrics.SetJobCounts(counts)

	stuck, err := m.jobs.FindStuckJobs(ctx, m.stuckAfter)
	if err != nil {
		return nil, err
	}
	for _, job := range stuck {
		log.WithFields(log.Fields{
			"job_id":     job.ID,
			"status":     job.Status,
			"attempts":   job.Attempts,
			"updated_at": job.UpdatedAt,
		}).Warn("job has not progressed")
	}

	return &Report{Counts: counts, Stuck: stuck}, nil
}
