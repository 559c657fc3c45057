// Package scheduler runs the worker's jobs on fixed intervals. Each job has
// its own goroutine and runs of the same job never overlap, whether they come
// from the ticker or from an external trigger.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gridsense/pdmon/internal/metrics"
	"github.com/gridsense/pdmon/internal/utils"
	"go.uber.org/zap"
)

var (
	// ErrJobRunning is returned when a run is requested while the job is running
	ErrJobRunning = errors.New("job is already running")
	// ErrUnknownJob is returned for a job name that was never registered
	ErrUnknownJob = errors.New("unknown job")
	// ErrNotStarted is returned by Trigger before Start
	ErrNotStarted = errors.New("scheduler is not started")
)

// Result is the outcome of one job run
type Result struct {
	RunID      string         `json:"run_id"`
	Job        string         `json:"job"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Success    bool           `json:"success"`
	Summary    string         `json:"summary"`
	Counts     map[string]int `json:"counts,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Duration returns how long the run took
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunFunc executes one run of a job. It may return a partially filled Result
// together with an error.
type RunFunc func(ctx context.Context) (*Result, error)

// Job is a named unit of recurring work. A zero Interval registers a job that
// only runs on demand.
type Job struct {
	Name     string
	Interval time.Duration
	Run      RunFunc
}

type jobState struct {
	job     Job
	mu      sync.Mutex
	running bool
	last    *Result
}

func (j *jobState) claim() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return false
	}
	j.running = true
	return true
}

func (j *jobState) finish(result *Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.running = false
	j.last = result
}

// Scheduler owns the job goroutines
type Scheduler struct {
	jobs    map[string]*jobState
	logger  *utils.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates an empty scheduler
func New(logger *utils.Logger, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		jobs:    make(map[string]*jobState),
		logger:  logger.Named("scheduler"),
		metrics: m,
	}
}

// Register adds a job. Jobs must be registered before Start.
func (s *Scheduler) Register(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("cannot register job %s while scheduler is running", job.Name)
	}
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job needs a name and a run function")
	}
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %s already registered", job.Name)
	}

	s.jobs[job.Name] = &jobState{job: job}
	return nil
}

// Start launches one goroutine per interval job. Each job runs once right
// away and then on every tick.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler is already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	for _, state := range s.jobs {
		if state.job.Interval <= 0 {
			continue
		}
		s.wg.Add(1)
		go s.loop(s.ctx, state)
	}

	s.logger.Info("Scheduler started", zap.Strings("jobs", s.Jobs()))
	return nil
}

// Stop cancels running jobs and waits for every goroutine to exit
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, state *jobState) {
	defer s.wg.Done()

	ticker := time.NewTicker(state.job.Interval)
	defer ticker.Stop()

	for {
		if state.claim() {
			s.execute(ctx, state)
		} else {
			s.logger.Debug("Skipping tick, previous run still active", zap.String("job", state.job.Name))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunNow runs the job synchronously on ctx
func (s *Scheduler) RunNow(ctx context.Context, name string) (*Result, error) {
	state, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if !state.claim() {
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	return s.execute(ctx, state), nil
}

// Trigger starts a run in the background on the context of the current
// Start; a later Stop cancels it
func (s *Scheduler) Trigger(name string) error {
	state, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return ErrNotStarted
	}
	if !state.claim() {
		return fmt.Errorf("%w: %s", ErrJobRunning, name)
	}

	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(ctx, state)
	}()
	return nil
}

// execute runs a claimed job and records its result
func (s *Scheduler) execute(ctx context.Context, state *jobState) *Result {
	result := Execute(ctx, state.job, s.logger, s.metrics)
	state.finish(result)
	return result
}

// Execute performs a single run outside of any schedule. The returned Result
// is always non-nil.
func Execute(ctx context.Context, job Job, logger *utils.Logger, m *metrics.Metrics) *Result {
	started := time.Now().UTC()
	runID := uuid.NewString()
	log := logger.With(zap.String("job", job.Name), zap.String("run_id", runID))

	log.Info("Job started")

	result, err := job.Run(ctx)
	if result == nil {
		result = &Result{}
	}
	result.RunID = runID
	result.Job = job.Name
	result.StartedAt = started
	result.FinishedAt = time.Now().UTC()
	result.Success = err == nil

	if err != nil {
		result.Error = err.Error()
		log.Error("Job failed", zap.Error(err), zap.Duration("duration", result.Duration()))
	} else {
		log.Info("Job finished",
			zap.String("summary", result.Summary),
			zap.Duration("duration", result.Duration()),
		)
	}

	m.ObserveJob(job.Name, result.Success, result.Duration())
	return result
}

// LastResult returns the result of the job's most recent completed run
func (s *Scheduler) LastResult(name string) (*Result, bool) {
	state, ok := s.jobs[name]
	if !ok {
		return nil, false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.last, state.last != nil
}

// IsRunning reports whether a run of the job is in progress
func (s *Scheduler) IsRunning(name string) bool {
	state, ok := s.jobs[name]
	if !ok {
		return false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.running
}

// Jobs returns the registered job names in alphabetical order
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a job is registered
func (s *Scheduler) Has(name string) bool {
	_, ok := s.jobs[name]
	return ok
}
