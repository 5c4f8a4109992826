// Package sleepdetect implements a wall-clock jump detector: a periodic
// probe that notices when far more wall-clock time has elapsed than the
// probe interval accounts for, the signature of a host waking from suspend.
// Interested code receives wake signals through Subscribe; no actor in
// this library subscribes, so a wake does not by itself re-probe or
// re-query anything.
package sleepdetect

import (
	"sync"
	"time"
)

// DefaultInterval is how often the detector samples the wall clock.
const DefaultInterval = 2 * time.Second

// DefaultSlack is how far past Interval the gap between samples must be
// before it's considered a sleep/wake event rather than scheduler jitter.
const DefaultSlack = 3 * time.Second

// Detector samples the clock on a ticker every Interval and broadcasts a
// wake signal when the gap between two successive samples exceeds
// Interval+Slack.
type Detector struct {
	Interval time.Duration
	Slack    time.Duration

	mu        sync.Mutex
	listeners []chan struct{}
	stop      chan struct{}
	now       func() time.Time
}

// New creates a Detector with the default interval/slack.
func New() *Detector {
	return &Detector{
		Interval: DefaultInterval,
		Slack:    DefaultSlack,
		stop:     make(chan struct{}),
		now:      time.Now,
	}
}

// Subscribe returns a channel that receives a value each time a wake is
// detected. The channel is buffered (size 1) so a slow reader doesn't block
// detection.
func (d *Detector) Subscribe() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := make(chan struct{}, 1)
	d.listeners = append(d.listeners, ch)
	return ch
}

// Run samples the wall clock every Interval until Stop is called. Intended
// to be run in its own goroutine: `go detector.Run()`.
func (d *Detector) Run() {
	last := d.now()
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case now := <-ticker.C:
			gap := now.Sub(last)
			if gap > d.Interval+d.Slack {
				d.broadcast()
			}
			last = now
		}
	}
}

// Stop halts the detector's sampling loop. Safe to call once.
func (d *Detector) Stop() { close(d.stop) }

func (d *Detector) broadcast() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
