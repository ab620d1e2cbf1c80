// Package scheduler fires recurring callbacks under named timers. Timers can
// start with an initial delay so periodic work phase-aligns to wall-clock
// hour boundaries regardless of process start time.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pricehelm/pricehelm/pkg/log"
)

// State is the lifecycle state of a named timer.
type State int

const (
	StateIdle State = iota
	StateWaitingInitialDelay
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateWaitingInitialDelay:
		return "waitingInitialDelay"
	case StateRunning:
		return "running"
	default:
		return "idle"
	}
}

// Callback is invoked on every timer fire.
type Callback func(ctx context.Context)

type namedTimer struct {
	state  State
	cancel context.CancelFunc
}

// Scheduler tracks independently named recurring timers. One instance exists
// per device; there are no process-wide timers.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*namedTimer
}

// New creates an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{timers: make(map[string]*namedTimer)}
}

// Schedule starts the named timer. With initialDelay > 0 the timer waits,
// invokes cb once on expiry, then repeats every period. With initialDelay ==
// 0 it goes straight to the repeating trigger. Scheduling a key that is
// already running replaces the previous timer.
func (s *Scheduler) Schedule(ctx context.Context, key string, cb Callback, period, initialDelay time.Duration) {
	s.mu.Lock()
	if existing, ok := s.timers[key]; ok {
		existing.cancel()
	}
	timerCtx, cancel := context.WithCancel(ctx)
	nt := &namedTimer{cancel: cancel}
	if initialDelay > 0 {
		nt.state = StateWaitingInitialDelay
	} else {
		nt.state = StateRunning
	}
	s.timers[key] = nt
	s.mu.Unlock()

	log.Ctx(ctx).DebugContext(
		ctx,
		"timer scheduled",
		slog.String("key", key),
		slog.Duration("period", period),
		slog.Duration("initialDelay", initialDelay),
	)

	go s.run(timerCtx, key, nt, cb, period, initialDelay)
}

func (s *Scheduler) run(ctx context.Context, key string, nt *namedTimer, cb Callback, period, initialDelay time.Duration) {
	if initialDelay > 0 {
		timer := time.NewTimer(initialDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.setState(key, nt, StateRunning)
		cb(ctx)
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cb(ctx)
		}
	}
}

// setState updates the state only if nt is still the timer registered for
// key; a goroutine whose timer was replaced must not touch the replacement.
func (s *Scheduler) setState(key string, nt *namedTimer, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.timers[key]; ok && current == nt {
		nt.state = state
	}
}

// Cancel clears both the pending initial-delay timer and the repeating timer
// for key, returning it to Idle. Canceling an unknown key is a no-op.
func (s *Scheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nt, ok := s.timers[key]
	if !ok {
		return
	}
	nt.cancel()
	delete(s.timers, key)
}

// Stop cancels every timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, nt := range s.timers {
		nt.cancel()
		delete(s.timers, key)
	}
}

// State returns the current state of the named timer.
func (s *Scheduler) State(key string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if nt, ok := s.timers[key]; ok {
		return nt.state
	}
	return StateIdle
}

// DelayToNextHour returns the time remaining until the next wall-clock hour
// boundary. A time exactly on the boundary gets a full hour. The boundary is
// built from the local clock components rather than Truncate, which rounds on
// absolute time and misses the hour in zones with a fractional UTC offset.
func DelayToNextHour(now time.Time) time.Duration {
	onTheHour := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
	return onTheHour.Add(time.Hour).Sub(now)
}
