// Package fsm implements the two composite state machines spec §4.8-§4.9
// build from the proto actors: Responder (probe -> announce -> defend ->
// goodbye) and ServiceResolver (unresolved -> resolved, tracking a single
// service instance's SRV/TXT/address records across their cache
// lifetimes).
package fsm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/onoffswitch/beacon/internal/message"
	"github.com/onoffswitch/beacon/internal/protocol"
	"github.com/onoffswitch/beacon/internal/proto"
	"github.com/onoffswitch/beacon/internal/records"
	"github.com/onoffswitch/beacon/internal/transport"
)

// ResponderState names the Responder FSM's states per spec §4.8.
type ResponderState int

const (
	StateProbing ResponderState = iota
	StateResponding
	StateConflict
	StateGoodbying
	StateStopped
)

func (s ResponderState) String() string {
	switch s {
	case StateProbing:
		return "probing"
	case StateResponding:
		return "responding"
	case StateConflict:
		return "conflict"
	case StateGoodbying:
		return "goodbying"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Renamer produces a new candidate name after a probe conflict, per
// spec §4.8/§8 Scenario 2: "X" -> "X (2)", "X (n)" -> "X (n+1)".
type Renamer func(base string, attempt int) string

// DefaultRenamer rewrites the owner name's first label, stripping any
// existing " (n)" suffix and appending " (attempt+2)" — attempt 0 (the
// first conflict) yields "X (2)", matching RFC 6762 §9's convention.
func DefaultRenamer(base string, attempt int) string {
	label, rest := splitFirstLabel(base)
	label = stripRenameSuffix(label)
	return fmt.Sprintf("%s (%d)%s", label, attempt+2, rest)
}

// splitFirstLabel splits name into its leading label and the remainder
// (including the separating dot), e.g. "box.local." -> ("box", ".local.").
func splitFirstLabel(name string) (label, rest string) {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i], name[i:]
	}
	return name, ""
}

// stripRenameSuffix removes a trailing " (n)" (n numeric) from label, if
// present, so repeated conflicts renumber instead of accumulating suffixes.
func stripRenameSuffix(label string) string {
	if !strings.HasSuffix(label, ")") {
		return label
	}
	open := strings.LastIndex(label, " (")
	if open < 0 {
		return label
	}
	digits := label[open+2 : len(label)-1]
	if digits == "" {
		return label
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return label
		}
	}
	return label[:open]
}

// Responder drives exactly one owner name's unique record set (spec §4.8:
// "Input records must contain exactly one unique base name") through
// RFC 6762 §8-§10: probe for uniqueness, announce, defend against later
// conflicting probes, and withdraw via goodbye on Stop. Non-unique records
// sharing a different owner name (e.g. the PTR records that ride alongside
// a service's SRV/TXT) are carried as Shared: announced and defended
// together with the unique set, but never probed or conflict-checked.
type Responder struct {
	mu    sync.Mutex
	state ResponderState

	Socket *transport.Socket
	In     <-chan *message.Packet
	Rename Renamer

	fullName   string // owner name of the unique record set; "" if none
	unique     []records.Record
	shared     []records.Record
	bridgeable []records.Record

	conflictCount int
	onRename      func(oldName, newName string)
	onStateChange func(ResponderState)

	runCtx context.Context
	cancel context.CancelFunc
}

// NewResponder constructs a Responder for recs, a mix of unique records
// (all sharing one owner name) and shared records riding along with them.
// bridgeable lists records this same owner already advertises on another
// local interface, exempted from conflict detection per spec §4.5. Call Run
// to start the probe/announce cycle in its own goroutine.
func NewResponder(sock *transport.Socket, recs []records.Record, bridgeable []records.Record, in <-chan *message.Packet) *Responder {
	r := &Responder{
		Socket:     sock,
		In:         in,
		Rename:     DefaultRenamer,
		state:      StateProbing,
		bridgeable: append([]records.Record(nil), bridgeable...),
	}
	for _, rec := range recs {
		if rec.IsUnique() {
			r.unique = append(r.unique, rec)
		} else {
			r.shared = append(r.shared, rec)
		}
	}
	if len(r.unique) > 0 {
		r.fullName = r.unique[0].Name
	}
	return r
}

// OnRename registers a callback invoked whenever a probe conflict forces a
// rename, with the old and new owner name.
func (r *Responder) OnRename(fn func(oldName, newName string)) { r.onRename = fn }

// OnStateChange registers a callback invoked on every state transition.
func (r *Responder) OnStateChange(fn func(ResponderState)) { r.onStateChange = fn }

// State returns the Responder's current state.
func (r *Responder) State() ResponderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// FullName returns the unique owner name this Responder currently claims.
func (r *Responder) FullName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fullName
}

func (r *Responder) setState(s ResponderState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	if r.onStateChange != nil {
		r.onStateChange(s)
	}
}

// Run drives the Responder until ctx is canceled or Stop is called. It
// blocks, so callers run it in its own goroutine.
func (r *Responder) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.runCtx = ctx
	defer cancel()

	for attempt := 0; ; attempt++ {
		r.mu.Lock()
		unique := append([]records.Record(nil), r.unique...)
		bridgeable := append([]records.Record(nil), r.bridgeable...)
		r.mu.Unlock()

		probeCtx, probeCancel := context.WithTimeout(ctx, protocol.ProbeAbortTimeout)
		p := proto.NewProbe(r.Socket, unique, bridgeable, r.In)
		go p.Run(probeCtx)

		select {
		case result := <-p.Done:
			probeCancel()
			switch result.Outcome {
			case proto.ProbeAborted:
				r.setState(StateStopped)
				return
			case proto.ProbeLost:
				r.handleConflict(attempt)
				continue
			}
		case <-ctx.Done():
			probeCancel()
			r.setState(StateStopped)
			return
		}
		break
	}

	r.setState(StateResponding)
	r.announce(ctx)
	r.defend(ctx)
}

func (r *Responder) announce(ctx context.Context) {
	if err := proto.Announce(ctx, r.Socket, r.allRecords()); err != nil && ctx.Err() != nil {
		return
	}
}

// allRecords returns the unique and shared records together, the set
// actually advertised and defended on the wire.
func (r *Responder) allRecords() []records.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]records.Record, 0, len(r.unique)+len(r.shared))
	out = append(out, r.unique...)
	out = append(out, r.shared...)
	return out
}

// handleConflict implements spec §4.8's conflict.enter: rename the owner
// name, then rewrite every occurrence of the old name — in Name, and in
// any field that references it by value (NSEC.NextName, PTR target, SRV
// target) — across the unique, shared, and bridgeable sets, via an
// updateWith-style in-place rewrite. Record identity hashes are computed
// from current field values on demand, so there is no separate "rehash"
// step beyond mutating the fields themselves.
func (r *Responder) handleConflict(attempt int) {
	r.setState(StateConflict)

	r.mu.Lock()
	oldName := r.fullName
	var newName string
	if oldName != "" {
		newName = r.Rename(oldName, attempt)
	}
	rewrite := func(rec *records.Record) {
		if oldName == "" {
			return
		}
		if rec.Name == oldName {
			rec.Name = newName
		}
		switch rec.Type {
		case protocol.TypeNSEC:
			if rec.NSEC.NextName == oldName {
				rec.NSEC.NextName = newName
			}
		case protocol.TypePTR:
			if rec.PTR == oldName {
				rec.PTR = newName
			}
		case protocol.TypeSRV:
			if rec.SRV.Target == oldName {
				rec.SRV.Target = newName
			}
		}
	}
	for i := range r.unique {
		rewrite(&r.unique[i])
	}
	for i := range r.shared {
		rewrite(&r.shared[i])
	}
	for i := range r.bridgeable {
		rewrite(&r.bridgeable[i])
	}
	r.fullName = newName
	r.conflictCount++
	r.mu.Unlock()

	if r.onRename != nil && oldName != "" {
		r.onRename(oldName, newName)
	}
	r.setState(StateProbing)
}

// UpdateEach applies mutator to every record of rtype across the unique,
// shared, and bridgeable sets, then re-announces if already responding,
// per spec §4.8's updateEach(rrtype, mutator). This is how a sibling
// Responder's rename propagates: e.g. the hostname Responder renaming
// drives a service Responder's UpdateEach(TypeSRV, ...) to rewrite its SRV
// target.
func (r *Responder) UpdateEach(rtype protocol.RRType, mutator func(*records.Record)) {
	r.mu.Lock()
	apply := func(set []records.Record) {
		for i := range set {
			if set[i].Type == rtype {
				mutator(&set[i])
			}
		}
	}
	apply(r.unique)
	apply(r.shared)
	apply(r.bridgeable)
	state := r.state
	ctx := r.runCtx
	r.mu.Unlock()

	if state == StateResponding && ctx != nil {
		go r.announce(ctx)
	}
}

// defend listens for later probes/queries for our records and answers them
// until ctx is canceled (Stop): probes under RFC 6762 §6.2's relaxed 250ms
// probe-defense rate limit, queries under the ordinary per-record limit.
func (r *Responder) defend(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.goodbye()
			r.setState(StateStopped)
			return
		case pkt, ok := <-r.In:
			if !ok {
				continue
			}
			r.handleInbound(ctx, pkt)
		}
	}
}

func (r *Responder) handleInbound(ctx context.Context, pkt *message.Packet) {
	all := r.allRecords()
	if pkt.IsProbe() {
		// A later competing probe for our name: defend immediately.
		for _, q := range pkt.Questions {
			var matching []records.Record
			for _, rec := range all {
				if equalFoldName(rec.Name, q.Name) {
					matching = append(matching, rec)
				}
			}
			if len(matching) > 0 {
				_ = proto.RespondMulticast(ctx, r.Socket, matching, protocol.DefensiveRateLimitWindow, false)
			}
		}
		return
	}
	if pkt.Header.IsQuery() {
		for _, q := range pkt.Questions {
			var matching []records.Record
			for _, rec := range all {
				if rec.Answers(q) {
					matching = append(matching, rec)
				}
			}
			if len(matching) > 0 {
				_ = proto.RespondMulticast(ctx, r.Socket, matching, protocol.RateLimitWindow, true)
			}
		}
	}
}

func (r *Responder) goodbye() {
	_ = proto.Goodbye(r.Socket, r.allRecords())
}

// Stop withdraws the Responder's records (sending a goodbye) and halts it.
func (r *Responder) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func equalFoldName(a, b string) bool {
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
