package sleepdetect

import (
	"testing"
	"time"
)

// TestBroadcast_ReachesAllSubscribers checks the fan-out behavior directly,
// without depending on Run's ticker timing.
func TestBroadcast_ReachesAllSubscribers(t *testing.T) {
	d := New()
	ch1 := d.Subscribe()
	ch2 := d.Subscribe()

	d.broadcast()

	select {
	case <-ch1:
	case <-time.After(time.Second):
		t.Error("subscriber 1 did not receive wake signal")
	}
	select {
	case <-ch2:
	case <-time.After(time.Second):
		t.Error("subscriber 2 did not receive wake signal")
	}
}

// TestBroadcast_NonBlockingOnFullChannel ensures a slow subscriber can't
// stall detection of subsequent wakes.
func TestBroadcast_NonBlockingOnFullChannel(t *testing.T) {
	d := New()
	ch := d.Subscribe()

	done := make(chan struct{})
	go func() {
		d.broadcast()
		d.broadcast()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full subscriber channel")
	}
	<-ch
}
