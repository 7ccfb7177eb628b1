// Package scheduler keeps the feed fresh across day boundaries.
//
// Lifecycle:
//
//	Idle --Start/Restart--> (rebuild) --> ArmedOnce
//	ArmedOnce --one-shot fires--> (rebuild) --> Recurring
//	Recurring --every 24h--> (rebuild) --> Recurring
//	any --Restart--> Idle --> mount sequence
//	any --Stop--> Idle
//
// The first firing is anchored to the next local midnight; only after that
// anchor does the fixed 24h cadence take over. A rebuild always completes
// before the next timer is armed.
package scheduler

import (
	"context"
	"sync"
	"time"

	"yomtov/internal/dateutil"
	appLog "yomtov/internal/log"
)

// Period is the recurring cadence after the midnight anchor.
const Period = 24 * time.Hour

type State int

const (
	Idle State = iota
	ArmedOnce
	Recurring
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ArmedOnce:
		return "armed_once"
	case Recurring:
		return "recurring"
	default:
		return "unknown"
	}
}

// RebuildFunc rebuilds the feed as of now. Its error is logged; it never
// stops the state machine.
type RebuildFunc func(ctx context.Context, now time.Time) error

// Status is a point-in-time view of the scheduler.
type Status struct {
	State   string    `json:"state"`
	NextRun time.Time `json:"next_run,omitempty"`
	LastRun time.Time `json:"last_run,omitempty"`
	Runs    int       `json:"runs"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithPeriod replaces the 24h recurring cadence.
func WithPeriod(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.period = d
		}
	}
}

// Scheduler owns the one-shot and recurring timers. At most one timer of
// each kind is live at any time.
type Scheduler struct {
	rebuild RebuildFunc
	timers  Timers
	now     func() time.Time
	period  time.Duration

	mu    sync.Mutex
	state State
	once  Handle
	every Handle
	// gen invalidates callbacks of cancelled timers that already fired.
	gen uint64
	ctx context.Context

	// busy is set while a rebuild runs; requests arriving meanwhile are
	// folded into a single pending restart.
	busy          bool
	stopped       bool
	pending       bool
	pendingCtx    context.Context
	pendingReason string

	nextRun time.Time
	lastRun time.Time
	runs    int
}

func New(rebuild RebuildFunc, timers Timers, opts ...Option) *Scheduler {
	s := &Scheduler{
		rebuild: rebuild,
		timers:  timers,
		now:     time.Now,
		period:  Period,
		ctx:     context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start performs the mount sequence: cancel timers, rebuild synchronously,
// then arm the one-shot for the next local midnight.
func (s *Scheduler) Start(ctx context.Context) {
	s.resume()
	s.mount(ctx, "mount")
}

// Restart cancels every timer and reruns the mount sequence. Used for
// configuration changes.
func (s *Scheduler) Restart(ctx context.Context) {
	s.resume()
	s.mount(ctx, "restart")
}

func (s *Scheduler) resume() {
	s.mu.Lock()
	s.stopped = false
	s.mu.Unlock()
}

// RequestRefresh handles a manual refresh. It is a no-op while Idle with no
// rebuild running, i.e. before Start or after Stop. A request arriving while
// a rebuild runs, including the one inside a mount, is coalesced into it.
// It reports whether the request was accepted.
func (s *Scheduler) RequestRefresh(ctx context.Context) bool {
	s.mu.Lock()
	if s.stopped || (s.state == Idle && !s.busy) {
		s.mu.Unlock()
		appLog.Debug("manual refresh ignored while idle")
		return false
	}
	s.mu.Unlock()
	s.mount(ctx, "manual")
	return true
}

// Stop cancels both timers. No rebuild happens.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	s.state = Idle
	s.stopped = true
	s.nextRun = time.Time{}
	s.pending = false
	s.pendingCtx = nil
	appLog.Info("refresh scheduler stopped")
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:   s.state.String(),
		NextRun: s.nextRun,
		LastRun: s.lastRun,
		Runs:    s.runs,
	}
}

func (s *Scheduler) mount(ctx context.Context, reason string) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.busy {
		s.pending = true
		s.pendingCtx = ctx
		s.pendingReason = reason
		s.mu.Unlock()
		appLog.Debug("refresh coalesced into in-flight rebuild", "reason", reason)
		return
	}
	s.busy = true
	s.cancelLocked()
	s.state = Idle
	s.ctx = ctx
	gen := s.gen
	s.mu.Unlock()

	s.runRebuild(ctx, reason)

	s.mu.Lock()
	if s.gen == gen {
		delay := dateutil.UntilNextMidnight(s.now())
		s.once = s.timers.AfterFunc(delay, func() { s.fireOnce(gen) })
		s.state = ArmedOnce
		s.nextRun = s.now().Add(delay)
		appLog.Info("refresh armed for next midnight", "reason", reason, "delay", delay.String())
	}
	s.mu.Unlock()

	s.finish()
}

func (s *Scheduler) fireOnce(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state != ArmedOnce || s.busy {
		s.mu.Unlock()
		return
	}
	s.busy = true
	s.once = nil
	ctx := s.ctx
	s.mu.Unlock()

	s.runRebuild(ctx, "midnight")

	s.mu.Lock()
	if s.gen == gen {
		if s.every != nil {
			s.every.Stop()
			s.every = nil
		}
		s.every = s.timers.Every(s.period, func() { s.fireRecurring(gen) })
		s.state = Recurring
		s.nextRun = s.now().Add(s.period)
		appLog.Info("refresh switched to recurring cadence", "period", s.period.String())
	}
	s.mu.Unlock()

	s.finish()
}

func (s *Scheduler) fireRecurring(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state != Recurring {
		s.mu.Unlock()
		return
	}
	if s.busy {
		s.mu.Unlock()
		appLog.Warn("recurring refresh skipped; rebuild already running")
		return
	}
	s.busy = true
	ctx := s.ctx
	s.mu.Unlock()

	s.runRebuild(ctx, "recurring")

	s.mu.Lock()
	if s.gen == gen {
		s.nextRun = s.now().Add(s.period)
	}
	s.mu.Unlock()

	s.finish()
}

// finish clears busy and replays a coalesced request, if any.
func (s *Scheduler) finish() {
	s.mu.Lock()
	s.busy = false
	if !s.pending || s.stopped {
		s.pending = false
		s.mu.Unlock()
		return
	}
	ctx, reason := s.pendingCtx, s.pendingReason
	s.pending = false
	s.pendingCtx = nil
	s.mu.Unlock()

	s.mount(ctx, reason)
}

func (s *Scheduler) runRebuild(ctx context.Context, reason string) {
	now := s.now()
	err := s.rebuild(ctx, now)

	s.mu.Lock()
	s.lastRun = now
	s.runs++
	s.mu.Unlock()

	if err != nil {
		appLog.Error("feed rebuild failed", err, "reason", reason)
		return
	}
	appLog.Debug("feed rebuilt", "reason", reason)
}

func (s *Scheduler) cancelLocked() {
	if s.once != nil {
		s.once.Stop()
		s.once = nil
	}
	if s.every != nil {
		s.every.Stop()
		s.every = nil
	}
	s.gen++
}
