// Package timers implements a named, cancelable timer container (spec
// §4.3). The cache schedules its reissue/expiry callbacks on it; the proto
// and fsm actors do not use it and time their retransmissions and timeouts
// with their own timers.
//
// Two timer classes are supported. Normal timers always fire. Lazy timers
// are for callbacks whose lateness makes them meaningless — most
// prominently retransmission timers that should simply be skipped, not
// fired late and doubled up, if the process was suspended (e.g. a laptop
// sleeping) past their deadline. A lazy timer records the wall-clock
// deadline it was scheduled against; if it fires more than
// protocol.LazyTimerSlack after that deadline, its callback is dropped
// rather than invoked late.
package timers

import (
	"sync"
	"time"

	"github.com/onoffswitch/beacon/internal/protocol"
)

// Container owns a set of named, cancelable timers. It is safe for
// concurrent use: multiple goroutines may schedule and cancel timers on a
// shared Container.
type Container struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	now    func() time.Time
}

// New creates an empty timer Container.
func New() *Container {
	return &Container{timers: make(map[string]*time.Timer), now: time.Now}
}

// After schedules fn to run after d, under name id. Scheduling a new timer
// under an id already in use cancels the previous one first.
func (c *Container) After(id string, d time.Duration, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.timers[id]; ok {
		old.Stop()
	}
	c.timers[id] = time.AfterFunc(d, func() {
		c.mu.Lock()
		delete(c.timers, id)
		c.mu.Unlock()
		fn()
	})
}

// AfterLazy schedules fn under name id like After, but drops the call if it
// fires more than protocol.LazyTimerSlack after its original deadline —
// RFC 6762 §8.1's retransmission timers are lazy, since a doubled-up burst
// of stale retransmissions after a suspend/resume is actively harmful.
func (c *Container) AfterLazy(id string, d time.Duration, fn func()) {
	deadline := c.now().Add(d)
	c.After(id, d, func() {
		if c.now().Sub(deadline) > protocol.LazyTimerSlack {
			return
		}
		fn()
	})
}

// Cancel stops and forgets the timer named id, if any. Canceling an unknown
// id is a no-op.
func (c *Container) Cancel(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[id]; ok {
		t.Stop()
		delete(c.timers, id)
	}
}

// CancelAll stops and forgets every timer in the container, used when an
// owning actor shuts down.
func (c *Container) CancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
}

// Len reports the number of live timers, for tests.
func (c *Container) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}
