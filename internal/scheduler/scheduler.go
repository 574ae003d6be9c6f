// Package scheduler runs unattended jobs on a fixed interval and records
// one service log entry per job run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/KafClaw/sysclaw/internal/metrics"
	"github.com/KafClaw/sysclaw/internal/servicelog"
)

// DefaultInterval is the tick period when none is configured.
const DefaultInterval = 5 * time.Minute

// DetailStillRunning is recorded when a tick finds the previous run of the
// same job unfinished.
const DetailStillRunning = "previous tick still running"

// ErrLocked is returned by Run when another worker holds the lock.
var ErrLocked = errors.New("another service worker holds the scheduler lock")

// Job is a unit of unattended work. Run returns the record to append; the
// scheduler fills in the timestamp, job name and duration.
type Job struct {
	Name string
	// Every runs the job on every Nth tick. Values below 2 mean every tick.
	Every int
	Run   func(ctx context.Context) servicelog.Record
}

// Config holds scheduler settings.
type Config struct {
	Interval time.Duration `json:"interval"`
	LockPath string        `json:"lockPath"`
	// RunOnStart fires the first tick immediately instead of after Interval.
	RunOnStart bool `json:"runOnStart"`
	// JobTimeout bounds a single job run. Zero means Interval.
	JobTimeout time.Duration `json:"jobTimeout"`
}

// DefaultConfig returns the scheduler defaults.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Interval:   DefaultInterval,
		LockPath:   filepath.Join(home, ".sysclaw", "scheduler.lock"),
		RunOnStart: true,
	}
}

// Scheduler owns the tick loop.
type Scheduler struct {
	cfg     Config
	log     servicelog.Appender
	metrics *metrics.Metrics
	logger  *slog.Logger
	lock    *FileLock

	mu      sync.RWMutex
	jobs    []*Job
	running map[string]*Semaphore
	ticks   int
	wg      sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetrics records tick outcomes.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Scheduler) { s.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// New creates a Scheduler appending to log.
func New(cfg Config, log servicelog.Appender, opts ...Option) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = cfg.Interval
	}
	if cfg.LockPath == "" {
		cfg.LockPath = DefaultConfig().LockPath
	}
	s := &Scheduler{
		cfg:     cfg,
		log:     log,
		logger:  slog.Default(),
		lock:    NewFileLock(cfg.LockPath),
		running: make(map[string]*Semaphore),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a job. Names must be unique.
func (s *Scheduler) Register(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[job.Name]; ok {
		return fmt.Errorf("job %q already registered", job.Name)
	}
	s.jobs = append(s.jobs, job)
	s.running[job.Name] = NewSemaphore(1)
	s.logger.Info("Scheduler job registered", "name", job.Name, "every", max(job.Every, 1))
	return nil
}

// Jobs returns the registered jobs in registration order.
func (s *Scheduler) Jobs() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Job, len(s.jobs))
	copy(out, s.jobs)
	return out
}

// Run holds the worker lock and ticks until ctx is cancelled. In-flight
// jobs are waited for before it returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	acquired, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("scheduler lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("%w (%s)", ErrLocked, s.lock.Path())
	}
	defer s.lock.Unlock()

	s.logger.Info("Scheduler started", "interval", s.cfg.Interval, "jobs", len(s.Jobs()))
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	if s.cfg.RunOnStart {
		s.tick(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("Scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick starts every due job in its own goroutine.
func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	s.ticks++
	n := s.ticks
	jobs := make([]*Job, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	for _, job := range jobs {
		if job.Every > 1 && (n-1)%job.Every != 0 {
			continue
		}
		s.dispatch(ctx, job)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, job *Job) {
	s.mu.RLock()
	sem := s.running[job.Name]
	s.mu.RUnlock()

	if !sem.TryAcquire() {
		s.logger.Warn("Scheduler tick skipped: job still running", "job", job.Name)
		s.record(ctx, job, servicelog.Record{Outcome: servicelog.OutcomeError, Detail: DetailStillRunning}, 0)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer sem.Release()

		start := time.Now()
		rec := s.runJob(ctx, job)
		s.record(ctx, job, rec, time.Since(start))
	}()
}

// runJob isolates one job run. Panics become error records.
func (s *Scheduler) runJob(ctx context.Context, job *Job) (rec servicelog.Record) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduler job panicked", "job", job.Name, "panic", r, "stack", string(debug.Stack()))
			rec = servicelog.Record{Outcome: servicelog.OutcomeError, Detail: fmt.Sprintf("job panicked: %v", r)}
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()
	return job.Run(jobCtx)
}

func (s *Scheduler) record(ctx context.Context, job *Job, rec servicelog.Record, d time.Duration) {
	if rec.Outcome == "" {
		rec.Outcome = servicelog.OutcomeError
		if rec.Detail == "" {
			rec.Detail = "job returned no outcome"
		}
	}
	rec.Job = job.Name
	if d > 0 {
		rec.DurationMs = d.Milliseconds()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	s.metrics.Tick(string(rec.Outcome))

	// The record must land even when shutdown cancelled the job.
	if err := s.log.Append(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Error("Failed to append service log record", "job", job.Name, "outcome", rec.Outcome, "error", err)
		return
	}
	s.logger.Info("Scheduler tick recorded", "job", job.Name, "outcome", rec.Outcome, "detail", rec.Detail, "duration_ms", rec.DurationMs)
}
