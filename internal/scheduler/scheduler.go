// Package scheduler advances every user's queue once a day at their chosen
// local time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jdholdren/deepstudy/internal/deepstudy"
	"github.com/jdholdren/deepstudy/internal/processor"
)

type (
	Schedules interface {
		ListAll(ctx context.Context) ([]deepstudy.ScheduleSetting, error)
	}

	QueuedUsers interface {
		QueuedUsers(ctx context.Context) ([]int64, error)
	}

	Processor interface {
		ProcessOneTopic(ctx context.Context, userID int64, mode processor.Mode) processor.Outcome
	}
)

// Trigger is one (user, local time) pair the loop fires on.
type Trigger struct {
	UserID int64
	Hour   int
	Minute int
}

type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler checks the trigger set at the top of every minute and spawns a
// scheduled run for each user whose trigger matches.
type Scheduler struct {
	schedules Schedules
	users     QueuedUsers
	proc      Processor
	loc       *time.Location
	now       func() time.Time

	mu        sync.Mutex
	lastFired time.Time
	// Local wall clock minutes already fired on firedDay. A repeated hour at
	// a DST fall-back must not fire again.
	firedDay  string
	firedMins map[int]struct{}
	runs      sync.WaitGroup

	// Set by Start.
	workCtx    context.Context
	cancelWork context.CancelFunc
	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

func New(schedules Schedules, users QueuedUsers, proc Processor, loc *time.Location, opts ...Option) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}

	s := &Scheduler{
		schedules: schedules,
		users:     users,
		proc:      proc,
		loc:       loc,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// EffectiveTriggers is every stored setting plus the default time for users
// that have queued topics but never picked a time.
func (s *Scheduler) EffectiveTriggers(ctx context.Context) ([]Trigger, error) {
	settings, err := s.schedules.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing schedules: %w", err)
	}
	users, err := s.users.QueuedUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing queued users: %w", err)
	}

	triggers := make([]Trigger, 0, len(settings)+len(users))
	configured := make(map[int64]struct{}, len(settings))
	for _, st := range settings {
		configured[st.UserID] = struct{}{}
		triggers = append(triggers, Trigger{UserID: st.UserID, Hour: st.Hour, Minute: st.Minute})
	}
	for _, uid := range users {
		if _, ok := configured[uid]; ok {
			continue
		}
		triggers = append(triggers, Trigger{UserID: uid, Hour: deepstudy.DefaultHour, Minute: deepstudy.DefaultMinute})
	}

	return triggers, nil
}

// Tick evaluates the trigger set against `now` and spawns a scheduled run for
// every match without waiting on it. It returns the users it fired for.
//
// A minute that already fired is skipped, and so is a local hh:mm that
// already fired on the same local date.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) []int64 {
	var (
		local  = now.In(s.loc)
		minute = local.Truncate(time.Minute)
		day    = local.Format(time.DateOnly)
		clock  = local.Hour()*60 + local.Minute()
	)

	s.mu.Lock()
	if day != s.firedDay {
		s.firedDay = day
		s.firedMins = make(map[int]struct{})
	}
	if _, ok := s.firedMins[clock]; ok || !minute.After(s.lastFired) {
		s.mu.Unlock()
		return nil
	}
	s.lastFired = minute
	s.firedMins[clock] = struct{}{}
	s.mu.Unlock()

	triggers, err := s.EffectiveTriggers(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "error building triggers", "error", err)
		return nil
	}

	var fired []int64
	for _, t := range triggers {
		if t.Hour != local.Hour() || t.Minute != local.Minute() {
			continue
		}

		fired = append(fired, t.UserID)
		s.spawn(ctx, t.UserID)
	}
	if len(fired) > 0 {
		slog.InfoContext(ctx, "triggered scheduled runs", "users", fired, "local_time", local.Format("15:04"))
	}

	return fired
}

func (s *Scheduler) spawn(ctx context.Context, userID int64) {
	work := context.WithoutCancel(ctx)
	s.mu.Lock()
	if s.workCtx != nil {
		work = s.workCtx
	}
	s.mu.Unlock()

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		s.proc.ProcessOneTopic(work, userID, processor.ModeScheduled)
	}()
}

// Run ticks at every minute boundary until ctx is done. Runs already spawned
// keep going: use [Scheduler.Wait] or [Scheduler.Stop] to wait for them.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "scheduler started", "timezone", s.loc.String())

	for {
		now := s.now()
		next := now.Truncate(time.Minute).Add(time.Minute)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.InfoContext(ctx, "scheduler shutting down")
			return nil
		case <-timer.C:
		}

		s.Tick(ctx, s.now())
	}
}

// Wait blocks until every spawned run returned or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var ErrAlreadyStarted = errors.New("scheduler already started")

// Start runs the loop in the background. Spawned runs get a context that is
// only canceled when Stop gives up waiting on them.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loopDone != nil {
		return ErrAlreadyStarted
	}

	loopCtx, cancelLoop := context.WithCancel(ctx)
	s.workCtx, s.cancelWork = context.WithCancel(context.WithoutCancel(ctx))
	s.cancelLoop = cancelLoop
	s.loopDone = make(chan struct{})

	go func() {
		defer close(s.loopDone)
		_ = s.Run(loopCtx)
	}()

	return nil
}

// Stop ends the loop and waits for in flight runs until ctx is done, at which
// point they are canceled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancelLoop, cancelWork, loopDone := s.cancelLoop, s.cancelWork, s.loopDone
	s.mu.Unlock()

	if loopDone == nil {
		return nil
	}

	cancelLoop()
	<-loopDone

	err := s.Wait(ctx)
	cancelWork()
	if err != nil {
		return fmt.Errorf("error waiting on scheduled runs: %w", err)
	}

	return nil
}
