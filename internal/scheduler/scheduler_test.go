package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	owner *fakeTimers
	delay time.Duration
	fn    func()
	done  bool
}

func (h *fakeHandle) Stop() {
	h.owner.mu.Lock()
	defer h.owner.mu.Unlock()
	h.done = true
}

// fakeTimers records armed timers; tests fire them by hand.
type fakeTimers struct {
	mu    sync.Mutex
	once  []*fakeHandle
	every []*fakeHandle
}

func (f *fakeTimers) AfterFunc(d time.Duration, fn func()) Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &fakeHandle{owner: f, delay: d, fn: fn}
	f.once = append(f.once, h)
	return h
}

func (f *fakeTimers) Every(d time.Duration, fn func()) Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &fakeHandle{owner: f, delay: d, fn: fn}
	f.every = append(f.every, h)
	return h
}

func (f *fakeTimers) active() (once, every int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.once {
		if !h.done {
			once++
		}
	}
	for _, h := range f.every {
		if !h.done {
			every++
		}
	}
	return once, every
}

func (f *fakeTimers) live(list *[]*fakeHandle) *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(*list) - 1; i >= 0; i-- {
		if !(*list)[i].done {
			return (*list)[i]
		}
	}
	return nil
}

// fireOnce fires the live one-shot the way time.AfterFunc would.
func (f *fakeTimers) fireOnce(t *testing.T) {
	t.Helper()
	h := f.live(&f.once)
	require.NotNil(t, h, "no live one-shot timer")
	f.mu.Lock()
	h.done = true
	f.mu.Unlock()
	h.fn()
}

func (f *fakeTimers) fireEvery(t *testing.T) {
	t.Helper()
	h := f.live(&f.every)
	require.NotNil(t, h, "no live recurring timer")
	h.fn()
}

type counter struct {
	calls atomic.Int32
	err   error
}

func (c *counter) rebuild(_ context.Context, _ time.Time) error {
	c.calls.Add(1)
	return c.err
}

func fixedClock() func() time.Time {
	loc := time.FixedZone("IST", 2*3600)
	now := time.Date(2025, time.March, 14, 23, 59, 58, 0, loc)
	return func() time.Time { return now }
}

func TestStartArmsOneShotAtMidnight(t *testing.T) {
	ft := &fakeTimers{}
	c := &counter{}
	s := New(c.rebuild, ft, WithClock(fixedClock()))

	s.Start(context.Background())

	assert.EqualValues(t, 1, c.calls.Load(), "mount rebuilds synchronously")
	assert.Equal(t, ArmedOnce, s.State())
	once, every := ft.active()
	assert.Equal(t, 1, once)
	assert.Equal(t, 0, every)
	assert.Equal(t, 2*time.Second, ft.live(&ft.once).delay)
}

func TestOneShotThenRecurring(t *testing.T) {
	ft := &fakeTimers{}
	c := &counter{}
	s := New(c.rebuild, ft, WithClock(fixedClock()))
	s.Start(context.Background())

	ft.fireOnce(t)
	assert.EqualValues(t, 2, c.calls.Load())
	assert.Equal(t, Recurring, s.State())
	once, every := ft.active()
	assert.Equal(t, 0, once)
	assert.Equal(t, 1, every)
	assert.Equal(t, Period, ft.live(&ft.every).delay)

	ft.fireEvery(t)
	ft.fireEvery(t)
	assert.EqualValues(t, 4, c.calls.Load())
	assert.Equal(t, Recurring, s.State())
	_, every = ft.active()
	assert.Equal(t, 1, every)

	st := s.Status()
	assert.Equal(t, "recurring", st.State)
	assert.Equal(t, 4, st.Runs)
}

func TestRestartLeavesSingleOneShot(t *testing.T) {
	ft := &fakeTimers{}
	c := &counter{}
	s := New(c.rebuild, ft, WithClock(fixedClock()))
	s.Start(context.Background())

	s.Restart(context.Background())
	once, every := ft.active()
	assert.Equal(t, 1, once)
	assert.Equal(t, 0, every)

	// Reach Recurring, then hammer config changes.
	ft.fireOnce(t)
	for i := 0; i < 5; i++ {
		s.Restart(context.Background())
	}
	once, every = ft.active()
	assert.Equal(t, 1, once, "exactly one one-shot after repeated restarts")
	assert.Equal(t, 0, every, "no recurring timers survive a restart")
	assert.Equal(t, ArmedOnce, s.State())
	assert.EqualValues(t, 1+1+1+5, c.calls.Load())
}

func TestStaleTimerIsIgnored(t *testing.T) {
	ft := &fakeTimers{}
	c := &counter{}
	s := New(c.rebuild, ft, WithClock(fixedClock()))
	s.Start(context.Background())

	stale := ft.live(&ft.once)
	s.Restart(context.Background())
	before := c.calls.Load()

	// A callback that was already running when the timer was cancelled.
	stale.fn()
	assert.Equal(t, before, c.calls.Load())
	assert.Equal(t, ArmedOnce, s.State())
	_, every := ft.active()
	assert.Equal(t, 0, every)
}

func TestStopCancelsEverything(t *testing.T) {
	ft := &fakeTimers{}
	c := &counter{}
	s := New(c.rebuild, ft, WithClock(fixedClock()))
	s.Start(context.Background())
	ft.fireOnce(t)

	s.Stop()
	once, every := ft.active()
	assert.Equal(t, 0, once)
	assert.Equal(t, 0, every)
	assert.Equal(t, Idle, s.State())
	assert.EqualValues(t, 2, c.calls.Load(), "teardown does not rebuild")
}

func TestManualRefreshWhileIdleIsNoop(t *testing.T) {
	ft := &fakeTimers{}
	c := &counter{}
	s := New(c.rebuild, ft, WithClock(fixedClock()))

	assert.False(t, s.RequestRefresh(context.Background()))
	assert.EqualValues(t, 0, c.calls.Load())
	once, every := ft.active()
	assert.Zero(t, once+every)
}

func TestManualRefreshRestarts(t *testing.T) {
	ft := &fakeTimers{}
	c := &counter{}
	s := New(c.rebuild, ft, WithClock(fixedClock()))
	s.Start(context.Background())
	ft.fireOnce(t)

	assert.True(t, s.RequestRefresh(context.Background()))
	assert.EqualValues(t, 3, c.calls.Load())
	assert.Equal(t, ArmedOnce, s.State())
	once, every := ft.active()
	assert.Equal(t, 1, once)
	assert.Equal(t, 0, every)
}

func TestFailedRebuildStillAdvances(t *testing.T) {
	ft := &fakeTimers{}
	c := &counter{err: errors.New("calendar down")}
	s := New(c.rebuild, ft, WithClock(fixedClock()))

	s.Start(context.Background())
	assert.Equal(t, ArmedOnce, s.State())

	ft.fireOnce(t)
	assert.Equal(t, Recurring, s.State())
	assert.EqualValues(t, 2, c.calls.Load())
}

func TestManualRefreshesCoalesceDuringRebuild(t *testing.T) {
	ft := &fakeTimers{}

	var calls atomic.Int32
	var block atomic.Bool
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	rebuild := func(context.Context, time.Time) error {
		calls.Add(1)
		if block.CompareAndSwap(true, false) {
			started <- struct{}{}
			<-release
		}
		return nil
	}

	s := New(rebuild, ft, WithClock(fixedClock()))
	s.Start(context.Background())

	block.Store(true)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ft.fireOnce(t)
	}()
	<-started

	for i := 0; i < 3; i++ {
		assert.True(t, s.RequestRefresh(context.Background()))
	}
	close(release)
	wg.Wait()

	// mount + midnight + one coalesced restart
	assert.EqualValues(t, 3, calls.Load())
	once, every := ft.active()
	assert.Equal(t, 1, once)
	assert.Equal(t, 0, every)
	assert.Equal(t, ArmedOnce, s.State())
}

func TestRealTimers(t *testing.T) {
	rt := NewRealTimers(time.UTC)
	defer rt.Close()

	fired := make(chan struct{}, 1)
	h := rt.AfterFunc(10*time.Millisecond, func() { fired <- struct{}{} })
	defer h.Stop()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("one-shot did not fire")
	}

	stopped := rt.AfterFunc(time.Hour, func() {})
	stopped.Stop()
	stopped.Stop()

	every := rt.Every(time.Hour, func() {})
	every.Stop()
	assert.Empty(t, rt.cron.Entries())
}

// blockingRebuild blocks the next rebuild once armed until release is closed.
type blockingRebuild struct {
	calls   atomic.Int32
	block   atomic.Bool
	started chan struct{}
	release chan struct{}
}

func newBlockingRebuild() *blockingRebuild {
	return &blockingRebuild{started: make(chan struct{}, 1), release: make(chan struct{})}
}

func (b *blockingRebuild) rebuild(context.Context, time.Time) error {
	b.calls.Add(1)
	if b.block.CompareAndSwap(true, false) {
		b.started <- struct{}{}
		<-b.release
	}
	return nil
}

func TestManualRefreshDuringRestartIsCoalesced(t *testing.T) {
	ft := &fakeTimers{}
	b := newBlockingRebuild()
	s := New(b.rebuild, ft, WithClock(fixedClock()))
	s.Start(context.Background())

	b.block.Store(true)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Restart(context.Background())
	}()
	<-b.started

	assert.True(t, s.RequestRefresh(context.Background()), "a mount in progress is not idle")
	close(b.release)
	<-done

	// mount + restart + coalesced manual refresh
	assert.EqualValues(t, 3, b.calls.Load())
	assert.Equal(t, ArmedOnce, s.State())
	once, every := ft.active()
	assert.Equal(t, 1, once)
	assert.Equal(t, 0, every)
}

func TestStopDropsCoalescedRefresh(t *testing.T) {
	ft := &fakeTimers{}
	b := newBlockingRebuild()
	s := New(b.rebuild, ft, WithClock(fixedClock()))
	s.Start(context.Background())

	b.block.Store(true)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Restart(context.Background())
	}()
	<-b.started

	assert.True(t, s.RequestRefresh(context.Background()))
	s.Stop()
	close(b.release)
	<-done

	assert.EqualValues(t, 2, b.calls.Load(), "no rebuild after teardown")
	assert.Equal(t, Idle, s.State())
	once, every := ft.active()
	assert.Zero(t, once+every)
	assert.False(t, s.RequestRefresh(context.Background()))
}
