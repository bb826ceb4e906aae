// Package scheduler drives one-shot, absolute-time, and recurring jobs for
// the daemon — the expiry sweep, the bandwidth/cert/bruteforce monitors,
// and any one-shot deferral such as "unblock this address at its
// scheduled_unblock time".
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wardline/wardline/internal/clock"
	"github.com/wardline/wardline/internal/logging"
)

// JobFunc is the work a scheduled job performs. It receives a context
// derived from the scheduler's own, cancelled on Stop or on Cancel.
type JobFunc func(ctx context.Context) error

// Schedule defines when a wall-clock-anchored task should next run. Kept
// for periodic tasks (C10) layered on top of job-based scheduling — see
// Every/Daily/Weekly/Cron in schedule.go.
type Schedule interface {
	Next(after time.Time) time.Time
}

type job struct {
	id     string
	fn     JobFunc
	period time.Duration // zero means one-shot
	sched  Schedule      // set instead of period for wall-clock-anchored jobs

	mu        sync.Mutex
	timer     *time.Timer
	paused    bool
	cancelled bool
	inFlight  sync.WaitGroup
}

// Scheduler manages the lifetime of scheduled jobs. Each job is timed
// independently (its own time.Timer) so that a dense schedule of jobs
// does not serialize through a single polling tick, and so that
// sub-second recurring periods behave reasonably.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*job
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	clk     clock.Clock
	log     *slog.Logger
}

// New creates a Scheduler. If logger is nil, the default logger is used.
func New(logger *logging.Logger) *Scheduler {
	var l *slog.Logger
	if logger == nil {
		l = slog.Default()
	} else {
		l = logger.Logger
	}
	return &Scheduler{
		jobs: make(map[string]*job),
		clk:  &clock.RealClock{},
		log:  l.With("component", "scheduler"),
	}
}

// Start begins honoring cancellation of parent; all jobs scheduled before
// or after Start derive their cancellation from it.
func (s *Scheduler) Start(parent context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	if parent == nil {
		parent = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(parent)
	s.running = true
	s.log.Info("scheduler started")
}

// Stop cancels every job's context and waits for in-flight fires to
// return before returning itself.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	for _, j := range jobs {
		j.stopTimer()
		j.inFlight.Wait()
	}
	s.log.Info("scheduler stopped")
}

func (j *job) stopTimer() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.timer != nil {
		j.timer.Stop()
	}
}

// ScheduleOnce runs fn once after delay and returns its Job ID.
func (s *Scheduler) ScheduleOnce(delay time.Duration, fn JobFunc) string {
	return s.scheduleAt(s.clk.Now().Add(delay), 0, fn)
}

// ScheduleOnceAt runs fn once at the given absolute UTC time.
func (s *Scheduler) ScheduleOnceAt(at time.Time, fn JobFunc) string {
	return s.scheduleAt(at, 0, fn)
}

// ScheduleRecurring runs fn first at due, then every period thereafter.
// Drift is tolerated: each fire reschedules relative to when it actually
// ran, not to the original grid; at most one missed fire is coalesced — a
// job that could not run for several periods fires once on resumption,
// never once per missed period.
func (s *Scheduler) ScheduleRecurring(due time.Time, period time.Duration, fn JobFunc) string {
	return s.scheduleAt(due, period, fn)
}

// ScheduleWith runs fn according to sched (see Every/Daily/Weekly/Cron/
// DuringHours in schedule.go), re-arming from sched.Next after every
// fire so the job stays anchored to the wall clock rather than to a
// fixed period from whenever it happened to last run.
func (s *Scheduler) ScheduleWith(sched Schedule, fn JobFunc) string {
	id := uuid.NewString()
	first := sched.Next(s.clk.Now())
	if first.IsZero() {
		// The schedule never runs (e.g. Weekly with no days).
		return id
	}
	j := &job{id: id, fn: fn, sched: sched}

	s.mu.Lock()
	s.jobs[id] = j
	s.mu.Unlock()

	j.arm(s, first)
	return id
}

func (s *Scheduler) scheduleAt(at time.Time, period time.Duration, fn JobFunc) string {
	id := uuid.NewString()
	j := &job{id: id, fn: fn, period: period}

	s.mu.Lock()
	s.jobs[id] = j
	running := s.running
	s.mu.Unlock()

	if running {
		j.arm(s, at)
	} else {
		// Scheduler not started yet: the job is armed now, with the delay
		// computed against the clock at schedule time. Jobs created before
		// Start are rare in practice (construction order keeps Start
		// first); arming immediately against a background context keeps
		// them from being silently dropped.
		j.arm(s, at)
	}
	return id
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

func (j *job) arm(s *Scheduler, at time.Time) {
	delay := at.Sub(s.clk.Now())
	if delay < 0 {
		delay = 0
	}

	j.mu.Lock()
	if j.cancelled {
		j.mu.Unlock()
		return
	}
	j.timer = time.AfterFunc(delay, func() { s.fire(j) })
	j.mu.Unlock()
}

func (s *Scheduler) fire(j *job) {
	j.mu.Lock()
	if j.cancelled {
		j.mu.Unlock()
		return
	}
	if j.paused {
		j.mu.Unlock()
		return
	}
	j.inFlight.Add(1)
	j.mu.Unlock()

	func() {
		defer j.inFlight.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("job panicked", "id", j.id, "recovered", fmt.Sprintf("%v", r))
			}
		}()
		if err := j.fn(s.jobContext()); err != nil {
			s.log.Warn("job returned error", "id", j.id, "error", err)
		}
	}()

	j.mu.Lock()
	cancelled, paused, period, sched := j.cancelled, j.paused, j.period, j.sched
	j.mu.Unlock()

	if cancelled {
		return
	}
	if paused {
		return // Resume() will re-arm
	}

	if sched != nil {
		next := sched.Next(s.clk.Now())
		if next.IsZero() {
			s.mu.Lock()
			delete(s.jobs, j.id)
			s.mu.Unlock()
			return
		}
		j.arm(s, next)
		return
	}

	if period <= 0 {
		s.mu.Lock()
		delete(s.jobs, j.id)
		s.mu.Unlock()
		return
	}
	j.arm(s, s.clk.Now().Add(period))
}

// Pause prevents a job's future fires until Resume is called. A fire
// already in flight is allowed to complete.
func (s *Scheduler) Pause(id string) error {
	j, err := s.get(id)
	if err != nil {
		return err
	}
	j.mu.Lock()
	j.paused = true
	if j.timer != nil {
		j.timer.Stop()
	}
	j.mu.Unlock()
	return nil
}

// Resume re-arms a paused job. For a recurring job the next fire is
// period from now; for a Schedule-driven job it is sched.Next(now); for
// a one-shot not yet fired, it fires immediately.
func (s *Scheduler) Resume(id string) error {
	j, err := s.get(id)
	if err != nil {
		return err
	}
	j.mu.Lock()
	if !j.paused {
		j.mu.Unlock()
		return nil
	}
	j.paused = false
	period, sched := j.period, j.sched
	j.mu.Unlock()

	next := s.clk.Now()
	switch {
	case sched != nil:
		next = sched.Next(next)
	case period > 0:
		next = next.Add(period)
	}
	j.arm(s, next)
	return nil
}

// Cancel stops a job's future fires. Idempotent: cancelling an unknown or
// already-cancelled ID is not an error. Returns once no further fire for
// id can begin; a fire already in flight is allowed to complete.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if ok {
		delete(s.jobs, id)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	j.mu.Lock()
	j.cancelled = true
	if j.timer != nil {
		j.timer.Stop()
	}
	j.mu.Unlock()

	j.inFlight.Wait()
	return nil
}

// CancelAll cancels every job currently known to the scheduler.
func (s *Scheduler) CancelAll() {
	for _, id := range s.ListIDs() {
		_ = s.Cancel(id)
	}
}

// ListIDs returns the IDs of all jobs not yet cancelled.
func (s *Scheduler) ListIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}

func (s *Scheduler) get(id string) (*job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s not found", id)
	}
	return j, nil
}

// ScopedScheduler wraps an inner Scheduler but tracks only the jobs it
// created, so a plugin's CancelAll unwinds just its own work without
// touching jobs belonging to other callers of the shared Scheduler.
type ScopedScheduler struct {
	inner *Scheduler
	mu    sync.Mutex
	owned map[string]struct{}
}

// NewScoped wraps inner in a scope that tracks its own job IDs.
func NewScoped(inner *Scheduler) *ScopedScheduler {
	return &ScopedScheduler{inner: inner, owned: make(map[string]struct{})}
}

func (s *ScopedScheduler) own(id string) string {
	s.mu.Lock()
	s.owned[id] = struct{}{}
	s.mu.Unlock()
	return id
}

func (s *ScopedScheduler) ScheduleOnce(delay time.Duration, fn JobFunc) string {
	return s.own(s.inner.ScheduleOnce(delay, fn))
}

func (s *ScopedScheduler) ScheduleOnceAt(at time.Time, fn JobFunc) string {
	return s.own(s.inner.ScheduleOnceAt(at, fn))
}

func (s *ScopedScheduler) ScheduleRecurring(due time.Time, period time.Duration, fn JobFunc) string {
	return s.own(s.inner.ScheduleRecurring(due, period, fn))
}

func (s *ScopedScheduler) ScheduleWith(sched Schedule, fn JobFunc) string {
	return s.own(s.inner.ScheduleWith(sched, fn))
}

func (s *ScopedScheduler) Pause(id string) error  { return s.inner.Pause(id) }
func (s *ScopedScheduler) Resume(id string) error { return s.inner.Resume(id) }

func (s *ScopedScheduler) Cancel(id string) error {
	s.mu.Lock()
	delete(s.owned, id)
	s.mu.Unlock()
	return s.inner.Cancel(id)
}

// CancelAll cancels only jobs created through this scope.
func (s *ScopedScheduler) CancelAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.owned))
	for id := range s.owned {
		ids = append(ids, id)
	}
	s.owned = make(map[string]struct{})
	s.mu.Unlock()

	for _, id := range ids {
		_ = s.inner.Cancel(id)
	}
}

// ListIDs returns only the IDs created through this scope.
func (s *ScopedScheduler) ListIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.owned))
	for id := range s.owned {
		ids = append(ids, id)
	}
	return ids
}
