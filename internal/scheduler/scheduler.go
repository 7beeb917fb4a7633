// Package scheduler fires scheduled job executions from per-job cron timers.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/datafactory/internal/apperrors"
	"github.com/stanstork/datafactory/internal/models"
	"github.com/stanstork/datafactory/internal/schedule"
)

// Dispatcher hands a due job to whatever runs it. It must not block on the
// execution itself.
type Dispatcher interface {
	Dispatch(ctx context.Context, job models.Job) error
}

// JobLister supplies the job set loaded at Start.
type JobLister interface {
	List(ctx context.Context) ([]models.Job, error)
}

// Gauge is told how many jobs hold a timer.
type Gauge interface {
	SetScheduledJobs(n int)
}

type entry struct {
	job      models.Job
	schedule schedule.Schedule
	next     time.Time
	timer    *clock.Timer
	// bumped on every re-arm so a stale callback can tell it lost the race
	gen uint64
}

type Scheduler struct {
	clock      clock.Clock
	loc        *time.Location
	dispatcher Dispatcher
	gauge      Gauge
	logger     zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	entries map[int64]*entry
	paused  bool
	stopped bool
}

type Option func(*Scheduler)

// WithClock replaces the wall clock, typically with clock.NewMock() in tests.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLocation sets the zone cron expressions are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithGauge(g Gauge) Option {
	return func(s *Scheduler) { s.gauge = g }
}

func New(dispatcher Dispatcher, logger zerolog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:      clock.New(),
		loc:        time.UTC,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "scheduler").Logger(),
		ctx:        context.Background(),
		entries:    make(map[int64]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers every enabled job that carries a schedule. Jobs whose
// schedule no longer parses are logged and left out.
func (s *Scheduler) Start(ctx context.Context, lister JobLister) error {
	jobs, err := lister.List(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load jobs for scheduling")
	}

	s.mu.Lock()
	s.ctx = context.WithoutCancel(ctx)
	s.stopped = false
	s.mu.Unlock()

	for _, job := range jobs {
		if !job.Scheduled() {
			continue
		}
		if err := s.Register(job); err != nil {
			s.logger.Error().Err(err).Int64("job_id", job.ID).Msg("Failed to register job")
		}
	}
	s.logger.Info().Int("jobs", s.count()).Msg("Scheduler started")
	return nil
}

// Register arms a timer for job, replacing any existing one. A disabled job
// or one without a schedule is unregistered instead.
func (s *Scheduler) Register(job models.Job) error {
	if !job.Scheduled() {
		s.Unregister(job.ID)
		return nil
	}
	sched, err := schedule.Parse(job.Schedule)
	if err != nil {
		return apperrors.Wrap(apperrors.KindValidation, err, "invalid schedule "+job.Schedule)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return apperrors.Statef("scheduler is stopped")
	}

	e, ok := s.entries[job.ID]
	if ok {
		stopTimer(e)
	} else {
		e = &entry{}
		s.entries[job.ID] = e
	}
	e.job = job
	e.schedule = sched
	if !s.paused {
		s.arm(job.ID, e)
	}
	s.updateGauge()

	s.logger.Info().
		Int64("job_id", job.ID).
		Str("job_name", job.Name).
		Str("schedule", job.Schedule).
		Time("next_fire_time", e.next).
		Msg("Job scheduled")
	return nil
}

func (s *Scheduler) Unregister(jobID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[jobID]
	if !ok {
		return
	}
	stopTimer(e)
	delete(s.entries, jobID)
	s.updateGauge()
	s.logger.Info().Int64("job_id", jobID).Msg("Job unscheduled")
}

// Pause suspends every timer. The registered set is kept.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return
	}
	s.paused = true
	for _, e := range s.entries {
		stopTimer(e)
	}
	s.logger.Info().Msg("Scheduler paused")
}

// Resume re-arms all registered jobs from the current time. Fire times that
// passed while paused are not replayed.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return
	}
	s.paused = false
	if s.stopped {
		return
	}
	for id, e := range s.entries {
		s.arm(id, e)
	}
	s.logger.Info().Msg("Scheduler resumed")
}

func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// ListScheduled returns the registered jobs ordered by id. NextFireTime is
// nil while the scheduler is paused.
func (s *Scheduler) ListScheduled() []models.ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.ScheduledJob, 0, len(s.entries))
	for id, e := range s.entries {
		sj := models.ScheduledJob{JobID: id, JobName: e.job.Name, Schedule: e.job.Schedule}
		if !s.paused && e.timer != nil {
			next := e.next
			sj.NextFireTime = &next
		}
		out = append(out, sj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

// Stop disarms all timers and drops the registered set. Executions already
// dispatched are not affected.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	for id, e := range s.entries {
		stopTimer(e)
		delete(s.entries, id)
	}
	s.updateGauge()
	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

func (s *Scheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// arm computes the next fire time and starts the timer. A schedule with no
// future fire time is left without a timer. Caller holds s.mu.
func (s *Scheduler) arm(jobID int64, e *entry) {
	now := s.clock.Now().In(s.loc)
	e.next = e.schedule.Next(now)
	e.gen++
	if e.next.IsZero() {
		e.timer = nil
		s.logger.Warn().
			Int64("job_id", jobID).
			Str("schedule", e.job.Schedule).
			Msg("Schedule has no future fire time, job not armed")
		return
	}
	gen := e.gen
	e.timer = s.clock.AfterFunc(e.next.Sub(now), func() { s.fire(jobID, gen) })
}

func (s *Scheduler) fire(jobID int64, gen uint64) {
	s.mu.Lock()
	e, ok := s.entries[jobID]
	if !ok || e.gen != gen || s.paused || s.stopped {
		s.mu.Unlock()
		return
	}
	job := e.job
	s.arm(jobID, e)
	ctx := s.ctx
	s.mu.Unlock()

	log := s.logger.With().Int64("job_id", job.ID).Str("job_name", job.Name).Logger()
	log.Info().Msg("Triggering scheduled execution")
	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		log.Warn().Err(err).Msg("Scheduled execution skipped")
	}
}

func (s *Scheduler) updateGauge() {
	if s.gauge != nil {
		s.gauge.SetScheduledJobs(len(s.entries))
	}
}

func stopTimer(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}
