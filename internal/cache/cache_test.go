package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/onoffswitch/beacon/internal/protocol"
	"github.com/onoffswitch/beacon/internal/records"
)

// fakeScheduler records every scheduled timer id without ever invoking the
// callback, so tests can assert on what the cache scheduled without waiting
// on real timers or triggering cascading removals.
type fakeScheduler struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeScheduler) After(id string, d time.Duration, fn func()) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	f.mu.Unlock()
}

func (f *fakeScheduler) Cancel(id string) {}

func aRecord(name string) records.Record {
	return records.Record{Name: name, Type: protocol.TypePTR, Class: protocol.ClassIN, TTL: 120, PTR: "x." + name}
}

func TestAdd_SchedulesReissueAndExpireTimers(t *testing.T) {
	sched := &fakeScheduler{}
	c := New(sched, nil)
	c.Add(aRecord("_svc._tcp.local."))

	// 4 reissue fractions + 1 expire timer.
	if len(sched.calls) != 5 {
		t.Fatalf("got %d scheduled timers, want 5", len(sched.calls))
	}
	if c.Len() != 1 {
		t.Fatalf("got cache len %d, want 1", c.Len())
	}
}

func TestAdd_TTLZeroSchedulesOnlyGoodbye(t *testing.T) {
	sched := &fakeScheduler{}
	c := New(sched, nil)
	rec := aRecord("_svc._tcp.local.")
	rec.TTL = 0
	c.Add(rec)

	if len(sched.calls) != 1 {
		t.Fatalf("got %d scheduled timers, want 1 (goodbye only)", len(sched.calls))
	}
}

func TestFind_MatchesNameTypeClass(t *testing.T) {
	sched := &fakeScheduler{}
	c := New(sched, nil)
	c.Add(aRecord("_svc._tcp.local."))

	got := c.Find("_SVC._TCP.LOCAL.", protocol.TypePTR, protocol.ClassIN, 0)
	if len(got) != 1 {
		t.Fatalf("got %d matches, want 1", len(got))
	}

	none := c.Find("_svc._tcp.local.", protocol.TypeSRV, protocol.ClassIN, 0)
	if len(none) != 0 {
		t.Fatalf("got %d matches for wrong type, want 0", len(none))
	}
}

func TestFind_CutoffExcludesStaleRecords(t *testing.T) {
	sched := &fakeScheduler{}
	c := New(sched, nil)
	rec := aRecord("_svc._tcp.local.")
	c.Add(rec)

	// A cutoff of 1.0 demands the record have 100% of its TTL remaining,
	// which is only true at the instant of insertion under a fake (real)
	// clock -- use Find with cutoff 0 to confirm the entry exists at
	// all, and a clearly unreachable cutoff to confirm exclusion works.
	if got := c.Find("_svc._tcp.local.", protocol.TypePTR, protocol.ClassIN, 2.0); len(got) != 0 {
		t.Errorf("cutoff above 1.0 should exclude everything, got %d", len(got))
	}
	if got := c.Find("_svc._tcp.local.", protocol.TypePTR, protocol.ClassIN, 0); len(got) != 1 {
		t.Errorf("cutoff 0 should include the fresh record, got %d", len(got))
	}
}

func TestFlushRelated_SchedulesRemovalOfOthersNotSelf(t *testing.T) {
	sched := &fakeScheduler{}
	c := New(sched, nil)

	// Two distinct A records sharing the same owner name (hence NameHash)
	// but different addresses (hence different Hash).
	first := records.Record{Name: "host.local.", Type: protocol.TypeA, Class: protocol.ClassIN, TTL: 120}
	first.A = []byte{10, 0, 0, 1}
	second := first
	second.A = []byte{10, 0, 0, 2}

	c.Add(first)
	c.Add(second)
	beforeFlush := len(sched.calls)

	// The >1s-old guard (spec §4.2) only lets FlushRelated schedule removal
	// of entries inserted a while ago; simulate that by moving the cache's
	// clock forward rather than waiting on a real timer.
	c.now = func() time.Time { return time.Now().Add(2 * time.Second) }

	flushing := first
	flushing.Flush = true
	c.FlushRelated(flushing)

	if len(sched.calls) != beforeFlush+1 {
		t.Errorf("got %d new scheduled timers after FlushRelated, want 1 (for the other record)", len(sched.calls)-beforeFlush)
	}
}

func TestFlushRelated_SkipsRecordsYoungerThanOneSecond(t *testing.T) {
	sched := &fakeScheduler{}
	c := New(sched, nil)

	first := records.Record{Name: "host.local.", Type: protocol.TypeA, Class: protocol.ClassIN, TTL: 120}
	first.A = []byte{10, 0, 0, 1}
	second := first
	second.A = []byte{10, 0, 0, 2}

	c.Add(first)
	c.Add(second)
	beforeFlush := len(sched.calls)

	flushing := first
	flushing.Flush = true
	c.FlushRelated(flushing)

	if len(sched.calls) != beforeFlush {
		t.Errorf("got %d new scheduled timers for a record inserted <1s ago, want 0", len(sched.calls)-beforeFlush)
	}
}
