package main

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const disabledPollInterval = time.Hour

// Scheduler fires a composition once per day at a configurable wall-clock
// time in a fixed timezone. While autoposting is disabled it sleeps in
// coarse increments and rechecks, so re-enabling takes effect within that
// granularity. Rescheduling cancels the running loop and awaits its exit
// before starting a fresh one, so a time change never double-fires.
type Scheduler struct {
	mu           sync.Mutex
	hour         int
	minute       int
	enabled      bool
	loc          *time.Location
	fire         func(ctx context.Context)
	cancel       context.CancelFunc
	done         chan struct{}
	disabledPoll time.Duration
}

func NewScheduler(loc *time.Location, hour, minute int, enabled bool, fire func(ctx context.Context)) *Scheduler {
	return &Scheduler{
		hour:         hour,
		minute:       minute,
		enabled:      enabled,
		loc:          loc,
		fire:         fire,
		disabledPoll: disabledPollInterval,
	}
}

// Start launches the timer loop. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go s.run(ctx, done)
}

// Stop cancels the timer loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Reschedule moves the daily fire time and restarts the loop with a fresh
// next-fire computation.
func (s *Scheduler) Reschedule(hour, minute int) {
	s.Stop()

	s.mu.Lock()
	s.hour, s.minute = hour, minute
	s.mu.Unlock()

	s.Start()
	slog.Info("Posting time changed", "hour", hour, "minute", minute)
}

// SetEnabled flips autoposting; returns false when the flag already had the
// requested value.
func (s *Scheduler) SetEnabled(enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled == enabled {
		return false
	}
	s.enabled = enabled
	return true
}

func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// PostTime returns the configured daily wall-clock time.
func (s *Scheduler) PostTime() (hour, minute int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hour, s.minute
}

// NextFireTime computes today at the configured time when that is still in
// the future, otherwise tomorrow.
func (s *Scheduler) NextFireTime(now time.Time) time.Time {
	hour, minute := s.PostTime()
	now = now.In(s.loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, s.loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if !s.Enabled() {
			if !sleepCtx(ctx, s.disabledPoll) {
				return
			}
			continue
		}

		next := s.NextFireTime(time.Now())
		slog.Info("Next post scheduled", "at", next.Format("02.01.2006 15:04"), "tz", s.loc.String())

		if !sleepCtx(ctx, time.Until(next)) {
			return
		}
		if !s.Enabled() {
			continue
		}

		s.fire(ctx)
	}
}

// sleepCtx blocks for d; returns false when the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
