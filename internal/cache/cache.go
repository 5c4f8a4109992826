// Package cache implements the per-interface expiring record cache: a
// store of learned records that schedules its own TTL-driven reissue
// queries and expiry, per spec §3/§4.2 and RFC 6762 §5.2/§10.1.
package cache

import (
	"math/rand"
	"time"

	"github.com/onoffswitch/beacon/internal/protocol"
	"github.com/onoffswitch/beacon/internal/records"
)

// Event is emitted by the cache when a record's lifecycle reaches a point
// the owning actor needs to react to.
type Event struct {
	Kind   EventKind
	Record records.Record
}

// EventKind distinguishes the cache lifecycle events.
type EventKind int

const (
	// EventReissue fires at 80/85/90/95% of TTL (+jitter): "go ask again".
	EventReissue EventKind = iota
	// EventExpire fires at 100% of TTL: the record is gone, notify holders.
	EventExpire
)

// entry is one cached record plus its scheduling state.
type entry struct {
	record     records.Record
	storedAt   time.Time
	originalTTL uint32
	flushAt    time.Time // zero unless a cache-flush eviction is pending
	timers     []string  // timer IDs registered for this record's hash
}

// Cache is an expiring store of records.Record keyed by identity hash, with
// a "related" index grouping by NameHash for cache-flush handling. It is
// NOT safe for concurrent use: per spec §5/SPEC_FULL §15 exactly one
// goroutine (an interface's dispatch loop) is meant to own a Cache.
type Cache struct {
	byHash  map[uint64]*entry
	related map[uint64]map[uint64]bool // namehash -> set of record hashes

	now func() time.Time

	// Timers is how the cache schedules reissue/expire callbacks. It is
	// satisfied by *timers.Container; kept as an interface here to avoid an
	// import cycle (timers doesn't need to know about cache).
	Timers Scheduler

	events chan Event
}

// Scheduler is the subset of timers.Container the cache needs: schedule a
// named, cancelable, one-shot callback.
type Scheduler interface {
	After(id string, d time.Duration, fn func())
	Cancel(id string)
}

// New creates an empty Cache. events is the channel the dispatch goroutine
// drains for reissue/expire notifications; it must have a sensible buffer
// or an attentive reader since the cache's sends on it (made from its timer
// callbacks) block until received.
func New(sched Scheduler, events chan Event) *Cache {
	return &Cache{
		byHash:  make(map[uint64]*entry),
		related: make(map[uint64]map[uint64]bool),
		now:     time.Now,
		Timers:  sched,
		events:  events,
	}
}

// Add inserts or refreshes r, (re)scheduling its reissue and expire timers
// from r.TTL. A TTL of 0 ("goodbye") instead expires the record with a
// short RFC 6762 §10.1 grace period so dependents see one final event.
func (c *Cache) Add(r records.Record) {
	h := r.Hash()
	nh := r.NameHash()

	if existing, ok := c.byHash[h]; ok {
		c.clearTimers(existing)
	}

	e := &entry{record: r, storedAt: c.now(), originalTTL: r.TTL}
	c.byHash[h] = e
	if c.related[nh] == nil {
		c.related[nh] = make(map[uint64]bool)
	}
	c.related[nh][h] = true

	if r.TTL == 0 {
		c.scheduleGoodbye(h, e)
		return
	}
	c.scheduleLifecycle(h, e)
}

func (c *Cache) scheduleLifecycle(h uint64, e *entry) {
	ttl := time.Duration(e.record.TTL) * time.Second
	for i, frac := range protocol.ReissueFractions {
		jitter := time.Duration(rand.Float64() * 0.02 * float64(ttl)) //nolint:gosec // jitter, not a security boundary
		delay := time.Duration(frac*float64(ttl)) + jitter
		id := reissueTimerID(h, i)
		e.timers = append(e.timers, id)
		kind := i
		c.Timers.After(id, delay, func() { c.fireReissue(h, kind) })
	}
	expireID := expireTimerID(h)
	e.timers = append(e.timers, expireID)
	c.Timers.After(expireID, ttl, func() { c.fireExpire(h) })
}

func (c *Cache) scheduleGoodbye(h uint64, e *entry) {
	id := expireTimerID(h)
	e.timers = append(e.timers, id)
	c.Timers.After(id, protocol.GoodbyeGrace, func() { c.fireExpire(h) })
}

func (c *Cache) fireReissue(h uint64, _ int) {
	e, ok := c.byHash[h]
	if !ok {
		return
	}
	c.emit(Event{Kind: EventReissue, Record: e.record})
}

func (c *Cache) fireExpire(h uint64) {
	e, ok := c.byHash[h]
	if !ok {
		return
	}
	c.remove(h, e)
	c.emit(Event{Kind: EventExpire, Record: e.record})
}

func (c *Cache) emit(ev Event) {
	if c.events == nil {
		return
	}
	c.events <- ev
}

func (c *Cache) remove(h uint64, e *entry) {
	c.clearTimers(e)
	delete(c.byHash, h)
	nh := e.record.NameHash()
	if set, ok := c.related[nh]; ok {
		delete(set, h)
		if len(set) == 0 {
			delete(c.related, nh)
		}
	}
}

func (c *Cache) clearTimers(e *entry) {
	for _, id := range e.timers {
		c.Timers.Cancel(id)
	}
	e.timers = nil
}

// FlushRelated marks every record sharing r's NameHash except r itself for
// deferred removal after protocol.CacheFlushGrace, per RFC 6762 §10.2: a
// cache-flush record asserts "this is now the complete set for this name",
// but the 1-second grace avoids a race against in-flight duplicate
// announcements from the same responder. A related record inserted less
// than 1s ago is left alone — it's almost certainly part of the same
// announcement burst as r, not a stale entry being superseded (spec §4.2).
func (c *Cache) FlushRelated(r records.Record) {
	if !r.Flush {
		return
	}
	nh := r.NameHash()
	keep := r.Hash()
	now := c.now()
	for h := range c.related[nh] {
		if h == keep {
			continue
		}
		e, ok := c.byHash[h]
		if !ok {
			continue
		}
		if now.Sub(e.storedAt) <= time.Second {
			continue
		}
		c.clearTimers(e)
		id := expireTimerID(h)
		e.timers = append(e.timers, id)
		c.Timers.After(id, protocol.CacheFlushGrace, func(hh uint64) func() {
			return func() { c.fireExpire(hh) }
		}(h))
	}
}

// Find returns every cached record matching q whose remaining TTL fraction
// is at least cutoff (a value in [0,1]); this is the basis for known-answer
// suppression (want the full remaining TTL, cutoff=0) and "give up a record
// as stale" checks (cutoff=protocol.FindCutoff).
func (c *Cache) Find(name string, rtype protocol.RRType, class protocol.Class, cutoff float64) []records.Record {
	var out []records.Record
	now := c.now()
	for _, e := range c.byHash {
		if !matches(e.record, name, rtype, class) {
			continue
		}
		if remainingFraction(e, now) < cutoff {
			continue
		}
		out = append(out, withAdjustedTTL(e.record, e.storedAt, now))
	}
	return out
}

// GetAboveTTL returns every cached record whose remaining TTL fraction
// is at least cutoff, with TTL adjusted to the actual remaining time — used to
// answer with the records we can still vouch for rather than their
// original, now-stale TTL.
func (c *Cache) GetAboveTTL(cutoff float64) []records.Record {
	var out []records.Record
	now := c.now()
	for _, e := range c.byHash {
		if remainingFraction(e, now) < cutoff {
			continue
		}
		out = append(out, withAdjustedTTL(e.record, e.storedAt, now))
	}
	return out
}

func matches(r records.Record, name string, rtype protocol.RRType, class protocol.Class) bool {
	if !equalFold(r.Name, name) {
		return false
	}
	if rtype != protocol.TypeANY && r.Type != rtype {
		return false
	}
	if class != protocol.ClassANY && r.Class != class {
		return false
	}
	return true
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func remainingFraction(e *entry, now time.Time) float64 {
	if e.originalTTL == 0 {
		return 0
	}
	total := time.Duration(e.originalTTL) * time.Second
	elapsed := now.Sub(e.storedAt)
	remaining := total - elapsed
	if remaining <= 0 {
		return 0
	}
	return float64(remaining) / float64(total)
}

func withAdjustedTTL(r records.Record, storedAt, now time.Time) records.Record {
	elapsed := int64(now.Sub(storedAt) / time.Second)
	remaining := int64(r.TTL) - elapsed
	if remaining < 0 {
		remaining = 0
	}
	adjusted := r
	adjusted.TTL = uint32(remaining)
	return adjusted
}

// Len reports the number of cached records, for tests and diagnostics.
func (c *Cache) Len() int { return len(c.byHash) }

func reissueTimerID(h uint64, idx int) string {
	return timerIDPrefix(h) + ":reissue:" + itoa(idx)
}

func expireTimerID(h uint64) string {
	return timerIDPrefix(h) + ":expire"
}

func timerIDPrefix(h uint64) string {
	return "cache:" + uitoa(h)
}

func uitoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func itoa(v int) string {
	return uitoa(uint64(v))
}
