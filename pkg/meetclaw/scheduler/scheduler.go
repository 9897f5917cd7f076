// Package scheduler runs periodic maintenance jobs (duplicate-agent sweeps,
// media sync) on robfig/cron. Jobs are registered in code and are not
// persisted; every instance may run them since each job is idempotent.
package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrAlreadyRunning is returned when a job is started while its previous
// run is still in progress.
var ErrAlreadyRunning = errors.New("job already running")

// JobFunc is the work of a job. The returned summary is logged.
type JobFunc func(ctx context.Context) (string, error)

// Job is a recurring maintenance task.
type Job struct {
	// ID is the unique job identifier.
	ID string `json:"id"`

	// Schedule is a 5-field cron expression or descriptor (@every 1m, @hourly).
	Schedule string `json:"schedule"`

	Enabled bool `json:"enabled"`

	// Timeout overrides the scheduler's job timeout.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Exact disables the stagger applied to top-of-hour schedules.
	Exact bool `json:"exact,omitempty"`

	LastRunAt       *time.Time    `json:"last_run_at,omitempty"`
	LastError       string        `json:"last_error,omitempty"`
	LastRunDuration time.Duration `json:"last_run_duration,omitempty"`
	RunCount        int           `json:"run_count"`

	fn JobFunc
}

// Scheduler manages maintenance jobs.
type Scheduler struct {
	jobs    map[string]*Job
	cron    *cron.Cron
	cronIDs map[string]cron.EntryID

	// runningJobs prevents overlapping runs of the same job.
	runningJobs map[string]bool

	jobTimeout time.Duration

	logger *slog.Logger
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler.
func New(jobTimeout time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}
	return &Scheduler{
		jobs:        make(map[string]*Job),
		cronIDs:     make(map[string]cron.EntryID),
		runningJobs: make(map[string]bool),
		jobTimeout:  jobTimeout,
		logger:      logger.With("component", "scheduler"),
	}
}

// Add registers a job. Jobs added after Start are scheduled immediately.
func (s *Scheduler) Add(job *Job, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %q already exists", job.ID)
	}
	if job.Schedule == "" {
		return fmt.Errorf("job schedule is required")
	}
	if fn == nil {
		return fmt.Errorf("job %q has no function", job.ID)
	}
	job.fn = fn

	if s.cron != nil && job.Enabled {
		if err := s.scheduleCronJob(job); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", job.Schedule, err)
		}
	}
	s.jobs[job.ID] = job

	s.logger.Info("job added", "id", job.ID, "schedule", job.Schedule, "enabled", job.Enabled)
	return nil
}

// Remove deletes a job by ID.
func (s *Scheduler) Remove(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[jobID]; !exists {
		return fmt.Errorf("job %q not found", jobID)
	}
	if entryID, ok := s.cronIDs[jobID]; ok {
		s.cron.Remove(entryID)
		delete(s.cronIDs, jobID)
	}
	delete(s.jobs, jobID)
	s.logger.Info("job removed", "id", jobID)
	return nil
}

// List returns a snapshot of all jobs sorted by ID.
func (s *Scheduler) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// Start builds the cron runner and schedules every enabled job.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))

	for _, job := range s.jobs {
		if !job.Enabled {
			continue
		}
		if err := s.scheduleCronJob(job); err != nil {
			return fmt.Errorf("job %q: invalid schedule %q: %w", job.ID, job.Schedule, err)
		}
	}
	s.cron.Start()

	s.logger.Info("scheduler started", "jobs", len(s.jobs), "cron_entries", len(s.cron.Entries()))
	return nil
}

// Stop halts cron and waits up to 10s for running jobs.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		select {
		case <-ctx.Done():
		case <-time.After(10 * time.Second):
			s.logger.Warn("scheduler stop timed out")
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("scheduler stopped")
}

// RunNow executes a job synchronously, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, jobID string) error {
	s.mu.RLock()
	job, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %q not found", jobID)
	}
	return s.run(ctx, job)
}

// ---------- Internal ----------

func (s *Scheduler) scheduleCronJob(job *Job) error {
	entryID, err := s.cron.AddFunc(job.Schedule, func() {
		s.executeJob(job)
	})
	if err != nil {
		return err
	}
	s.cronIDs[job.ID] = entryID
	return nil
}

// minJobInterval is the minimum time between consecutive cron runs of the
// same job.
const minJobInterval = 2 * time.Second

// executeJob is the cron entry point: stagger, then run.
func (s *Scheduler) executeJob(job *Job) {
	s.mu.RLock()
	last := job.LastRunAt
	s.mu.RUnlock()
	if last != nil && time.Since(*last) < minJobInterval {
		s.logger.Debug("skipping job (ran too recently)", "id", job.ID)
		return
	}

	if stagger := resolveStagger(job); stagger > 0 {
		select {
		case <-time.After(stagger):
		case <-s.ctx.Done():
			return
		}
	}
	_ = s.run(s.ctx, job)
}

// run executes job.fn with overlap protection, panic recovery and timeout.
func (s *Scheduler) run(parent context.Context, job *Job) (err error) {
	s.mu.Lock()
	if s.runningJobs[job.ID] {
		s.mu.Unlock()
		s.logger.Warn("skipping job (already running)", "id", job.ID)
		return fmt.Errorf("%s: %w", job.ID, ErrAlreadyRunning)
	}
	s.runningJobs[job.ID] = true
	now := time.Now()
	job.LastRunAt = &now
	job.RunCount++
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.logger.Error("scheduled job panicked", "id", job.ID, "panic", r)
		}
		s.mu.Lock()
		delete(s.runningJobs, job.ID)
		if err != nil {
			job.LastError = err.Error()
		} else {
			job.LastError = ""
		}
		s.mu.Unlock()
	}()

	timeout := s.jobTimeout
	if job.Timeout > 0 {
		timeout = job.Timeout
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	start := time.Now()
	summary, err := job.fn(ctx)
	dur := time.Since(start)

	s.mu.Lock()
	job.LastRunDuration = dur
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("scheduled job failed", "id", job.ID, "error", err, "duration", dur)
		return err
	}
	s.logger.Info("scheduled job completed", "id", job.ID, "result", summary, "duration", dur)
	return nil
}

// resolveStagger spreads top-of-hour jobs over five minutes by a stable
// hash of the job ID.
func resolveStagger(job *Job) time.Duration {
	if job.Exact || !isTopOfHourSchedule(job.Schedule) {
		return 0
	}
	return resolveStableCronOffset(job.ID, 5*time.Minute)
}

func resolveStableCronOffset(jobID string, maxStagger time.Duration) time.Duration {
	h := sha256.Sum256([]byte(jobID))
	n := binary.BigEndian.Uint32(h[:4])
	ms := int64(n) % maxStagger.Milliseconds()
	return time.Duration(ms) * time.Millisecond
}

// isTopOfHourSchedule detects schedules that fire at minute zero.
func isTopOfHourSchedule(schedule string) bool {
	s := strings.TrimSpace(strings.ToLower(schedule))
	switch s {
	case "@hourly", "@daily", "@weekly", "@monthly", "@yearly", "@annually":
		return true
	}
	fields := strings.Fields(s)
	return len(fields) >= 5 && fields[0] == "0"
}
