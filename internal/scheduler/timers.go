package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	appLog "yomtov/internal/log"
)

// Handle cancels an armed timer. Stop is idempotent.
type Handle interface {
	Stop()
}

// Timers arms one-shot and recurring callbacks.
type Timers interface {
	AfterFunc(d time.Duration, f func()) Handle
	Every(d time.Duration, f func()) Handle
}

// RealTimers arms one-shots with time.AfterFunc and recurring callbacks as
// constant-delay entries on a cron runner.
type RealTimers struct {
	cron *cron.Cron
}

// NewRealTimers starts a cron runner in loc. Close stops it.
func NewRealTimers(loc *time.Location) *RealTimers {
	if loc == nil {
		loc = time.Local
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(appLog.CronLogger{}),
		cron.WithChain(cron.Recover(appLog.CronLogger{})),
	)
	c.Start()
	return &RealTimers{cron: c}
}

func (t *RealTimers) AfterFunc(d time.Duration, f func()) Handle {
	return afterHandle{timer: time.AfterFunc(d, f)}
}

func (t *RealTimers) Every(d time.Duration, f func()) Handle {
	id := t.cron.Schedule(cron.Every(d), cron.FuncJob(f))
	return &cronHandle{cron: t.cron, id: id}
}

// Close stops the cron runner and waits for running jobs.
func (t *RealTimers) Close() {
	<-t.cron.Stop().Done()
}

type afterHandle struct {
	timer *time.Timer
}

func (h afterHandle) Stop() {
	h.timer.Stop()
}

type cronHandle struct {
	cron *cron.Cron
	id   cron.EntryID
}

func (h *cronHandle) Stop() {
	h.cron.Remove(h.id)
}
