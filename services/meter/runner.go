// services/meter/runner.go
package meter

import (
	"context"
	"sync"
	"time"
)

type deferred struct {
	due time.Time
	f   func()
}

// Runner is a single-goroutine scheduler for one or more meters. Deferred
// start-up work and periodic ticks all run on the goroutine calling Run, so a
// meter's bus transactions never interleave.
type Runner struct {
	mu      sync.Mutex
	pending []deferred
	wake    chan struct{}
	now     func() time.Time
}

func NewRunner() *Runner {
	return &Runner{wake: make(chan struct{}, 1), now: time.Now}
}

// AfterFunc queues f to run on the Run goroutine after d. It is safe to call
// from any goroutine.
func (r *Runner) AfterFunc(d time.Duration, f func()) {
	r.mu.Lock()
	r.pending = append(r.pending, deferred{due: r.now().Add(d), f: f})
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// takeDue removes and returns the deferred work due at now, in queue order,
// plus the earliest remaining due time.
func (r *Runner) takeDue(now time.Time) (due []func(), next time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	keep := r.pending[:0]
	for _, p := range r.pending {
		if !now.Before(p.due) {
			due = append(due, p.f)
			continue
		}
		keep = append(keep, p)
		if next.IsZero() || p.due.Before(next) {
			next = p.due
		}
	}
	r.pending = keep
	return due, next
}

// Run calls OnSetup on each meter and then drives deferred work and ticks
// until ctx is done. The first tick of a meter fires one update interval
// after Run starts.
func (r *Runner) Run(ctx context.Context, meters ...*Meter) error {
	nextTick := make([]time.Time, len(meters))
	start := r.now()
	for i, m := range meters {
		if err := m.OnSetup(r); err != nil {
			return err
		}
		nextTick[i] = start.Add(m.UpdateInterval())
	}

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		drainTimer(timer)
	}
	defer timer.Stop()

	for {
		now := r.now()
		fns, next := r.takeDue(now)
		for _, f := range fns {
			f()
		}
		for i, m := range meters {
			if !now.Before(nextTick[i]) {
				m.OnTick()
				// Skip missed ticks rather than bursting.
				for !now.Before(nextTick[i]) {
					nextTick[i] = nextTick[i].Add(m.UpdateInterval())
				}
			}
			if next.IsZero() || nextTick[i].Before(next) {
				next = nextTick[i]
			}
		}
		if len(fns) > 0 {
			// Deferred work may have queued more.
			continue
		}

		wait := time.Hour
		if !next.IsZero() {
			wait = next.Sub(r.now())
		}
		resetTimer(timer, wait)

		select {
		case <-ctx.Done():
			for _, m := range meters {
				m.publishStatus()
			}
			return ctx.Err()
		case <-r.wake:
		case <-timer.C:
		}
	}
}
