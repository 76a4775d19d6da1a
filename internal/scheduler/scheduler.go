package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	applog "inkcal/internal/log"
)

// Phase is the scheduler's coarse lifecycle state.
type Phase int

const (
	// PhaseIdle means constructed but not started.
	PhaseIdle Phase = iota
	// PhaseRunning means the tick loop is active.
	PhaseRunning
	// PhaseStopped is terminal: shutdown was acknowledged.
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Scheduler repeats refresh cycles on a fixed interval or a cron schedule
// until stopped. Cycles are strictly sequential: the loop runs one cycle to
// completion before waiting for the next tick, and shutdown is only
// observed at the wait points.
type Scheduler struct {
	cycle    *Cycle
	interval time.Duration
	// cronSched, when non-nil, drives tick times instead of interval. The
	// cron library is used as a schedule calculator only; ticks still fire
	// on this loop's own timer so cycles never overlap.
	cronSched cron.Schedule

	stopOnce sync.Once
	stopCh   chan struct{}

	mu    sync.Mutex
	phase Phase
	st    State
}

// New builds a Scheduler. cronExpr is optional; when non-empty it must be a
// standard 5-field cron expression and takes precedence over interval.
func New(cycle *Cycle, interval time.Duration, cronExpr string) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("scheduler: interval must be > 0")
	}

	var sched cron.Schedule
	if cronExpr != "" {
		parsed, err := cron.ParseStandard(cronExpr)
		if err != nil {
			return nil, fmt.Errorf("scheduler: invalid cron expression %q: %w", cronExpr, err)
		}
		sched = parsed
	}

	return &Scheduler{
		cycle:     cycle,
		interval:  interval,
		cronSched: sched,
		stopCh:    make(chan struct{}),
		phase:     PhaseIdle,
	}, nil
}

// Run executes one cycle immediately, then ticks until Stop is called or
// ctx is canceled. It returns nil on a clean stop; a cycle's failure never
// terminates the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	return s.loop(ctx, s.runCycle)
}

// RunFetchOnly is the headless variant: the same wait/tick structure, but
// each tick only refreshes the cache without rendering.
func (s *Scheduler) RunFetchOnly(ctx context.Context) error {
	return s.loop(ctx, s.runFetchOnlyCycle)
}

func (s *Scheduler) loop(ctx context.Context, tick func(context.Context)) error {
	s.mu.Lock()
	if s.phase != PhaseIdle {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: already started (phase %s)", s.phase)
	}
	s.phase = PhaseRunning
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.phase = PhaseStopped
		s.mu.Unlock()
		applog.Info().Msg("scheduler stopped")
	}()

	// First cycle runs synchronously so the display reflects current data
	// without waiting a full interval.
	tick(ctx)

	for {
		wait := s.nextWait(time.Now())
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-s.stopCh:
			timer.Stop()
			return nil
		case <-timer.C:
			tick(ctx)
		}
	}
}

// Stop requests shutdown. Idempotent and safe to call from any goroutine;
// a cycle in flight finishes before the loop observes the signal.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// Phase returns the current lifecycle phase.
func (s *Scheduler) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Snapshot returns a copy of the failure bookkeeping for status reporting.
func (s *Scheduler) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

func (s *Scheduler) runCycle(ctx context.Context) {
	s.mu.Lock()
	st := s.st
	s.mu.Unlock()

	s.cycle.Run(ctx, &st)

	s.mu.Lock()
	s.st = st
	s.mu.Unlock()
}

func (s *Scheduler) runFetchOnlyCycle(ctx context.Context) {
	s.mu.Lock()
	st := s.st
	s.mu.Unlock()

	s.cycle.RunFetchOnly(ctx, &st)

	s.mu.Lock()
	s.st = st
	s.mu.Unlock()
}

// nextWait computes the delay until the next tick: the cron schedule when
// configured, otherwise the fixed interval.
func (s *Scheduler) nextWait(now time.Time) time.Duration {
	if s.cronSched == nil {
		return s.interval
	}
	next := s.cronSched.Next(now)
	wait := next.Sub(now)
	if wait <= 0 {
		// Degenerate schedule; fall back to the interval rather than
		// spinning.
		return s.interval
	}
	return wait
}
