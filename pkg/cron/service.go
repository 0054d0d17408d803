package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job is the work executed on every tick.
type Job func(ctx context.Context) error

// Service runs one job on a schedule. Runs never overlap: the next run is
// scheduled only after the current one finishes.
type Service struct {
	schedule Schedule
	job      Job
	logger   zerolog.Logger
	maxRuns  int
	now      func() time.Time

	mu      sync.Mutex
	state   JobState
	timer   *time.Timer
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMaxRuns stops the service after n runs; 0 means unlimited.
func WithMaxRuns(n int) Option {
	return func(s *Service) { s.maxRuns = n }
}

// NewService creates a scheduler service for job
func NewService(schedule Schedule, job Job, opts ...Option) (*Service, error) {
	if job == nil {
		return nil, fmt.Errorf("job is required")
	}
	if err := schedule.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		schedule: schedule,
		job:      job,
		logger:   zerolog.Nop(),
		now:      time.Now,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxRuns < 0 {
		return nil, fmt.Errorf("max runs cannot be negative")
	}
	return s, nil
}

// Start schedules the first run. The context bounds every run.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	go func(ctx context.Context) {
		<-ctx.Done()
		s.Stop()
	}(s.ctx)

	s.scheduleLocked()
	return nil
}

// Done is closed when the service stops, either by Stop, context
// cancellation, or running out of runs.
func (s *Service) Done() <-chan struct{} {
	return s.done
}

// Stop cancels the pending run and any run in progress
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Service) stopLocked() {
	if s.stopped {
		return
	}
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	close(s.done)
	s.logger.Info().Int("runs", s.state.Runs).Msg("Scheduler stopped")
}

// State returns a snapshot of the job state
func (s *Service) State() JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// scheduleLocked arms the timer for the next run (must hold lock)
func (s *Service) scheduleLocked() {
	if s.stopped {
		return
	}
	if s.maxRuns > 0 && s.state.Runs >= s.maxRuns {
		s.stopLocked()
		return
	}
	if s.schedule.Kind == ScheduleKindAt && s.state.Runs > 0 {
		s.stopLocked()
		return
	}

	now := s.now()
	next, err := s.schedule.Next(now)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to calculate next run")
		s.stopLocked()
		return
	}
	s.state.NextRunAt = next

	delay := next.Sub(now)
	if delay < 0 {
		delay = 0
	}
	s.timer = time.AfterFunc(delay, s.execute)

	s.logger.Debug().
		Dur("delay", delay).
		Time("next_run", next).
		Msg("Run scheduled")
}

func (s *Service) execute() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.mu.Unlock()

	start := s.now()
	s.logger.Info().Str("schedule", s.schedule.String()).Msg("Executing scheduled run")
	err := s.job(ctx)
	duration := s.now().Sub(start)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Runs++
	s.state.LastRunAt = start
	s.state.LastDuration = duration
	if err != nil {
		s.state.LastStatus = "error"
		s.state.LastError = err.Error()
		s.state.ConsecutiveErrors++
		s.logger.Error().
			Err(err).
			Int("consecutive_errors", s.state.ConsecutiveErrors).
			Msg("Scheduled run failed")
	} else {
		s.state.LastStatus = "ok"
		s.state.LastError = ""
		s.state.ConsecutiveErrors = 0
		s.logger.Info().Dur("duration", duration).Msg("Scheduled run completed")
	}

	s.scheduleLocked()
}
