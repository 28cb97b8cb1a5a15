// Package scheduler runs callbacks on cron schedules. A single loop sleeps
// until the earliest job is due, fires every due job in order and goes back
// to sleep.
package scheduler

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/fpt/signal-bot/pkg/clock"
	"github.com/fpt/signal-bot/pkg/cron"
	pkgLogger "github.com/fpt/signal-bot/pkg/logger"
)

// ErrRunning is returned by Run when the scheduler is already running.
var ErrRunning = errors.New("scheduler: already running")

// Func is the work a job performs each time it fires.
type Func func(ctx context.Context) error

// FaultHandler receives errors and recovered panics from job functions.
// Whatever it does, the job stays scheduled.
type FaultHandler func(ctx context.Context, job *Job, err error)

// ScheduleError reports an expression rejected at registration.
type ScheduleError struct {
	Name string
	Expr string
	Err  error
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("schedule %q (%s): %v", e.Name, e.Expr, e.Err)
}

func (e *ScheduleError) Unwrap() error { return e.Err }

// Job is a registered schedule.
type Job struct {
	name     string
	schedule cron.Schedule
	fn       Func
	seq      uint64

	// guarded by Scheduler.mu
	next    time.Time
	removed bool
}

func (j *Job) Name() string { return j.name }

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock, typically with a clock.Fake in tests.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithLogger(l *pkgLogger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l.WithComponent("scheduler")
		}
	}
}

func WithFaultHandler(h FaultHandler) Option {
	return func(s *Scheduler) {
		if h != nil {
			s.fault = h
		}
	}
}

// WithLocation sets the zone expressions are evaluated in. The default is UTC.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// Scheduler is safe for concurrent use. Jobs may be added or removed while
// Run is active, including from inside a job.
type Scheduler struct {
	clock  clock.Clock
	logger *pkgLogger.Logger
	fault  FaultHandler
	loc    *time.Location

	mu      sync.Mutex
	jobs    []*Job
	seq     uint64
	running bool
	wake    chan struct{}
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:  clock.Real(),
		logger: pkgLogger.NewComponentLogger("scheduler"),
		loc:    time.UTC,
		wake:   make(chan struct{}, 1),
	}
	s.fault = s.logFault
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule registers fn to run whenever expr matches. An invalid expression
// returns a *ScheduleError and nothing is registered.
func (s *Scheduler) Schedule(expr, name string, fn Func) (*Job, error) {
	if fn == nil {
		return nil, &ScheduleError{Name: name, Expr: expr, Err: errors.New("nil job function")}
	}
	sched, next, err := compile(name, expr, s.loc, s.clock.Now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.seq++
	job := &Job{name: name, schedule: sched, fn: fn, seq: s.seq, next: next}
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()

	s.logger.DebugWithIntention(pkgLogger.IntentionCron, "Job scheduled",
		"job", name, "expr", expr, "next", next.Format(time.RFC3339))
	s.nudge()
	return job, nil
}

// Validate reports whether expr parses in loc and fires at least once after
// now. A rejected expression yields a *ScheduleError naming name.
func Validate(name, expr string, loc *time.Location, now time.Time) error {
	_, _, err := compile(name, expr, loc, now)
	return err
}

func compile(name, expr string, loc *time.Location, now time.Time) (cron.Schedule, time.Time, error) {
	sched, err := cron.ParseInLocation(expr, loc)
	if err != nil {
		return cron.Schedule{}, time.Time{}, &ScheduleError{Name: name, Expr: expr, Err: err}
	}
	next, err := sched.Next(now)
	if err != nil {
		return cron.Schedule{}, time.Time{}, &ScheduleError{Name: name, Expr: expr, Err: err}
	}
	return sched, next, nil
}

// Remove unschedules job. It reports whether the job was registered.
func (s *Scheduler) Remove(job *Job) bool {
	s.mu.Lock()
	idx := slices.Index(s.jobs, job)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	job.removed = true
	s.jobs = slices.Delete(s.jobs, idx, idx+1)
	s.mu.Unlock()
	s.nudge()
	return true
}

// Next returns when job fires next, or false if it is no longer scheduled.
func (s *Scheduler) Next(job *Job) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.removed || !slices.Contains(s.jobs, job) {
		return time.Time{}, false
	}
	return job.next, true
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Run drives the schedule until ctx is done. Jobs run on the calling
// goroutine, one at a time.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrRunning
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.InfoWithIntention(pkgLogger.IntentionCron, "Scheduler started", "jobs", s.Len())
	for {
		var (
			timer *clock.Timer
			fire  <-chan time.Time
		)
		if earliest, ok := s.earliest(); ok {
			timer = s.clock.NewTimer(earliest.Sub(s.clock.Now()))
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			s.logger.InfoWithIntention(pkgLogger.IntentionCancel, "Scheduler stopped")
			return nil
		case <-s.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-fire:
			s.fireDue(ctx)
		}
	}
}

func (s *Scheduler) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) earliest() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		first time.Time
		found bool
	)
	for _, j := range s.jobs {
		if !found || j.next.Before(first) {
			first, found = j.next, true
		}
	}
	return first, found
}

// fireDue runs every job due at the current time, ordered by fire time and
// then registration order.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := s.clock.Now()

	s.mu.Lock()
	var due []*Job
	for _, j := range s.jobs {
		if !j.next.After(now) {
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	slices.SortFunc(due, func(a, b *Job) int {
		if c := a.next.Compare(b.next); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})

	for _, j := range due {
		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		removed := j.removed
		s.mu.Unlock()
		if removed {
			continue
		}

		s.logger.DebugWithIntention(pkgLogger.IntentionCron, "Firing job", "job", j.name)
		if err := s.invoke(ctx, j); err != nil {
			s.fault(ctx, j, err)
		}
		s.reschedule(j)
	}
}

func (s *Scheduler) invoke(ctx context.Context, j *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic in job %q: %v", j.name, r)
		}
	}()
	return j.fn(ctx)
}

func (s *Scheduler) reschedule(j *Job) {
	next, err := j.schedule.Next(s.clock.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if j.removed {
		return
	}
	if err != nil {
		s.logger.Error("Dropping job with no future fire time", "job", j.name, "error", err)
		if idx := slices.Index(s.jobs, j); idx >= 0 {
			s.jobs = slices.Delete(s.jobs, idx, idx+1)
		}
		j.removed = true
		return
	}
	j.next = next
}

func (s *Scheduler) logFault(_ context.Context, job *Job, err error) {
	s.logger.Error("Job failed", "job", job.name, "error", err)
}
