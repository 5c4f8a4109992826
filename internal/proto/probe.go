// Package proto implements the three wire-level actors spec §4.5-§4.7
// build the Responder and ServiceResolver FSMs out of: Probe (uniqueness
// probing, RFC 6762 §8.1-8.2), Query (one-shot and continuous lookups,
// RFC 6762 §5), and Response (multicast announce, goodbye, and unicast
// reply, RFC 6762 §6/§8.3/§10.1).
//
// Every actor here runs as its own goroutine, reading from a subscription
// channel fed by an interface's single dispatch loop and writing outbound
// packets through a transport.Socket; none of them touch shared state
// directly, matching the concurrency model of SPEC_FULL §15.
package proto

import (
	"context"
	"math/rand"
	"time"

	"github.com/onoffswitch/beacon/internal/message"
	"github.com/onoffswitch/beacon/internal/protocol"
	"github.com/onoffswitch/beacon/internal/records"
	"github.com/onoffswitch/beacon/internal/transport"
)

// ProbeOutcome is the terminal result of a Probe run.
type ProbeOutcome int

const (
	// ProbeWon means no conflicting claim was seen; the records are safe
	// to announce as-is.
	ProbeWon ProbeOutcome = iota
	// ProbeLost means another host's tiebreak-winning claim was seen; the
	// caller must rename and probe again.
	ProbeLost
	// ProbeAborted means ctx was canceled before the probe completed.
	ProbeAborted
)

// ProbeResult is delivered on a Probe's Done channel.
type ProbeResult struct {
	Outcome  ProbeOutcome
	Conflict records.Record // set when Outcome == ProbeLost
}

// Probe runs RFC 6762 §8.1-8.2 uniqueness probing for a set of records on
// one socket: up to protocol.ProbeCount queries spaced protocol.ProbeInterval
// apart, each carrying the candidate records in the authority section, with
// simultaneous-probe tiebreaking against any competing probe seen on the
// wire for the same name.
//
// Bridgeable holds records the enclosing Responder already advertises on
// another logical interface (e.g. the host's own A record on a second NIC).
// A conflicting record that matches one of these is our own traffic looping
// back, not a genuine naming conflict, per spec §4.5.
type Probe struct {
	Socket     *transport.Socket
	Records    []records.Record
	Bridgeable []records.Record

	In   <-chan *message.Packet // inbound packets for this interface, as delivered by the caller
	Done chan ProbeResult
}

// NewProbe constructs a Probe. Call Run in its own goroutine.
func NewProbe(sock *transport.Socket, recs []records.Record, bridgeable []records.Record, in <-chan *message.Packet) *Probe {
	return &Probe{Socket: sock, Records: recs, Bridgeable: bridgeable, In: in, Done: make(chan ProbeResult, 1)}
}

// Run executes the probe cycle until it completes, loses to a conflicting
// claim, or ctx is canceled (protocol.ProbeAbortTimeout is the caller's
// usual ctx deadline, per the Responder FSM's probing-state watchdog).
func (p *Probe) Run(ctx context.Context) {
	initialDelay := time.Duration(rand.Int63n(int64(protocol.ProbeMaxInitialDelay))) //nolint:gosec // jitter only
	select {
	case <-time.After(initialDelay):
	case <-ctx.Done():
		p.finish(ProbeResult{Outcome: ProbeAborted})
		return
	}

	for i := 0; i < protocol.ProbeCount; i++ {
		if err := p.sendProbe(); err != nil {
			continue
		}

		timeout := time.After(protocol.ProbeInterval)
		for {
			select {
			case <-ctx.Done():
				p.finish(ProbeResult{Outcome: ProbeAborted})
				return
			case <-timeout:
				goto nextProbe
			case pkt, ok := <-p.In:
				if !ok {
					continue
				}
				if conflict, lost := p.evaluate(pkt); lost {
					p.finish(ProbeResult{Outcome: ProbeLost, Conflict: conflict})
					return
				}
			}
		}
	nextProbe:
	}

	p.finish(ProbeResult{Outcome: ProbeWon})
}

func (p *Probe) finish(r ProbeResult) {
	select {
	case p.Done <- r:
	default:
	}
}

func (p *Probe) sendProbe() error {
	pkt := message.NewQuery(0)
	seen := make(map[string]bool)
	for _, r := range p.Records {
		if !seen[r.Name] {
			seen[r.Name] = true
			pkt.AddQuestion(message.Question{Name: r.Name, Type: protocol.TypeANY, Class: protocol.ClassIN})
		}
		rr, _, err := records.ToRR(r, nil, nil)
		if err != nil {
			return err
		}
		pkt.AddAuthority(rr)
	}
	return p.Socket.SendMulticast(pkt, nil, 0)
}

// evaluate inspects an inbound packet for a simultaneous probe (another
// host probing the same name, requiring tiebreak) or a completed claim
// (another host already answering authoritatively for the name we're
// probing, which is an outright conflict since we haven't announced yet).
// It returns the record we lost to, if any.
func (p *Probe) evaluate(pkt *message.Packet) (records.Record, bool) {
	var theirRecords []records.Record
	for _, rr := range pkt.Authorities {
		if rec, err := records.FromRR(pkt.Raw, rr); err == nil {
			theirRecords = append(theirRecords, rec)
		}
	}
	for _, rr := range pkt.Answers {
		if rec, err := records.FromRR(pkt.Raw, rr); err == nil {
			theirRecords = append(theirRecords, rec)
		}
	}

	for _, mine := range p.Records {
		for _, theirs := range theirRecords {
			if mine.NameHash() != theirs.NameHash() {
				continue
			}
			if mine.RDataHash() == theirs.RDataHash() {
				continue // same data, not a conflict
			}
			if p.isBridged(theirs) {
				continue // our own record, bridged back from another interface
			}
			if !pkt.IsProbe() {
				// They've already announced this name with different data: outright loss.
				return theirs, true
			}
			// Simultaneous probe: RFC 6762 §8.2 tiebreak — lexicographically
			// later record set wins; if theirs wins, we lost and must rename.
			if theirs.Compare(mine) > 0 {
				return theirs, true
			}
		}
	}
	return records.Record{}, false
}

// isBridged reports whether rec is one of our own records advertised on
// another local interface (spec §4.5's bridgeable set), identified by full
// record identity rather than name alone.
func (p *Probe) isBridged(rec records.Record) bool {
	for _, b := range p.Bridgeable {
		if b.Hash() == rec.Hash() {
			return true
		}
	}
	return false
}
