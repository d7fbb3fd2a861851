package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MentalVibez/fleetdex/internal/cache"
)

// defaultScanIntervalMinutes is the fallback when the configured interval
// does not evenly divide 60.
const defaultScanIntervalMinutes = 15

// lockTTL bounds how long a scheduler lock can outlive a crashed instance.
const lockTTL = 10 * time.Minute

// MinuteSet derives the minutes-of-hour a scan interval fires on. An interval
// that does not evenly divide 60 cannot produce a stable hourly schedule, so
// it falls back to the default with a loud warning instead of failing boot.
func MinuteSet(intervalMinutes int, logger *slog.Logger) []int {
	if intervalMinutes <= 0 || intervalMinutes > 60 || 60%intervalMinutes != 0 {
		logger.Warn("scan interval must evenly divide 60, falling back to default",
			"configured_minutes", intervalMinutes,
			"fallback_minutes", defaultScanIntervalMinutes)
		intervalMinutes = defaultScanIntervalMinutes
	}

	minutes := make([]int, 0, 60/intervalMinutes)
	for m := 0; m < 60; m += intervalMinutes {
		minutes = append(minutes, m)
	}
	sort.Ints(minutes)
	return minutes
}

// CronSpec renders a minute set as a standard five-field cron expression.
func CronSpec(minutes []int) string {
	parts := make([]string, 0, len(minutes))
	for _, m := range minutes {
		parts = append(parts, strconv.Itoa(m))
	}
	return strings.Join(parts, ",") + " * * * *"
}

// Job is one scheduled unit of work. Each invocation stands alone; a failed
// run is logged and retried on the next tick.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler drives the periodic scan and sweep jobs. A cache-backed lock
// keeps concurrent instances from double-running a job.
type Scheduler struct {
	cron   *cron.Cron
	locks  cache.Provider
	logger *slog.Logger
}

// New builds an empty scheduler. locks may be a NoopProvider for
// single-instance deployments.
func New(locks cache.Provider, logger *slog.Logger) *Scheduler {
	if locks == nil {
		locks = cache.NoopProvider{}
	}
	return &Scheduler{
		cron:   cron.New(),
		locks:  locks,
		logger: logger,
	}
}

// Add registers a job. The wrapping closure owns lock acquisition and error
// containment so a panicking or failing job never takes down the scheduler.
func (s *Scheduler) Add(ctx context.Context, job Job) error {
	_, err := s.cron.AddFunc(job.Spec, func() {
		s.runLocked(ctx, job)
	})
	if err != nil {
		return fmt.Errorf("schedule job %s (%q): %w", job.Name, job.Spec, err)
	}
	s.logger.Info("job scheduled", "job", job.Name, "spec", job.Spec)
	return nil
}

// Start begins dispatching ticks. It returns immediately.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts dispatch and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runLocked(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}

	lockKey := "fleetdex:lock:" + job.Name
	acquired, err := s.locks.SetNX(ctx, lockKey, []byte(time.Now().UTC().Format(time.RFC3339)), lockTTL)
	if err != nil {
		s.logger.Error("scheduler lock acquisition failed", "job", job.Name, "error", err)
		return
	}
	if !acquired {
		s.logger.Debug("job already running elsewhere, skipping tick", "job", job.Name)
		return
	}
	defer func() {
		if err := s.locks.Del(context.WithoutCancel(ctx), lockKey); err != nil {
			s.logger.Warn("scheduler lock release failed", "job", job.Name, "error", err)
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled job panicked", "job", job.Name, "panic", r)
		}
	}()

	started := time.Now()
	if err := job.Run(ctx); err != nil {
		s.logger.Error("scheduled job failed, will retry on next tick",
			"job", job.Name, "error", err, "duration", time.Since(started))
		return
	}
	s.logger.Debug("scheduled job finished", "job", job.Name, "duration", time.Since(started))
}
