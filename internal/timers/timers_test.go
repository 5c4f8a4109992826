package timers

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestAfter_Fires(t *testing.T) {
	c := New()
	var fired int32
	c.After("t1", 10*time.Millisecond, func() { atomic.StoreInt32(&fired, 1) })

	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 1 {
		t.Error("timer did not fire")
	}
}

func TestCancel_PreventsFire(t *testing.T) {
	c := New()
	var fired int32
	c.After("t1", 20*time.Millisecond, func() { atomic.StoreInt32(&fired, 1) })
	c.Cancel("t1")

	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Error("timer fired after cancel")
	}
}

func TestAfter_RescheduleCancelsPrevious(t *testing.T) {
	c := New()
	var count int32
	c.After("t1", 10*time.Millisecond, func() { atomic.AddInt32(&count, 1) })
	c.After("t1", 10*time.Millisecond, func() { atomic.AddInt32(&count, 1) })

	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("fired %d times, want 1 (rescheduling should replace, not add)", count)
	}
}

func TestCancelAll(t *testing.T) {
	c := New()
	var fired int32
	c.After("a", 10*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	c.After("b", 10*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	c.CancelAll()

	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Error("timers fired after CancelAll")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after CancelAll, want 0", c.Len())
	}
}
