// Package scheduler runs callbacks after a delay. The engines depend on the
// Scheduler interface only, so tests can swap in Manual and drive timers by hand.
package scheduler

import (
	"sync"
	"time"
)

// Scheduler runs fn once after delay. The returned cancel func prevents fn from
// running if it has not started yet; it is idempotent and safe after firing.
type Scheduler interface {
	Schedule(fn func(), delay time.Duration) (cancel func())
}

// Real implements Scheduler on top of time.AfterFunc.
type Real struct{}

// Schedule arms a runtime timer; fn runs on its own goroutine.
func (Real) Schedule(fn func(), delay time.Duration) func() {
	if delay < 0 {
		delay = 0
	}
	t := time.AfterFunc(delay, fn)
	var once sync.Once
	return func() { once.Do(func() { t.Stop() }) }
}
