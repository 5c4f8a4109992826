package proto

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/onoffswitch/beacon/internal/message"
	"github.com/onoffswitch/beacon/internal/protocol"
	"github.com/onoffswitch/beacon/internal/records"
	"github.com/onoffswitch/beacon/internal/transport"
)

// Mode distinguishes a Query's lifecycle.
type Mode int

const (
	// OneShot sends (at most) one outbound query and keeps listening until
	// ctx's deadline passes or the caller cancels ctx — the querier
	// package's usage.
	OneShot Mode = iota
	// Continuous keeps re-querying with exponentially doubling backoff
	// (RFC 6762 §5.2) until canceled — the browser/resolver usage.
	Continuous
)

// Answer is a record Query observed on the wire that satisfies its
// question. The caller already knows which interface this Query runs on
// (it supplied the Socket), so Answer carries only the record itself.
type Answer struct {
	Record records.Record
}

// Query runs a (optionally continuous) mDNS lookup per RFC 6762 §5,
// performing known-answer suppression against a supplied cache lookup
// function. Duplicate-question suppression is not performed: every send
// carries all Questions, whatever other hosts have recently asked.
type Query struct {
	Socket    *transport.Socket
	Questions []message.Question
	Mode      Mode

	// KnownAnswers, if set, returns the records the cache already holds for
	// a question above the find cutoff — included in the outbound query so
	// RFC 6762 §7.1 known-answer suppression lets other responders skip
	// answering.
	KnownAnswers func(message.Question) []records.Record

	In      <-chan *message.Packet
	Answers chan Answer
	Done    chan struct{}
}

// NewQuery constructs a Query actor. Call Run in its own goroutine.
func NewQuery(sock *transport.Socket, questions []message.Question, mode Mode, known func(message.Question) []records.Record, in <-chan *message.Packet) *Query {
	return &Query{
		Socket:       sock,
		Questions:    questions,
		Mode:         mode,
		KnownAnswers: known,
		In:           in,
		Answers:      make(chan Answer, 16),
		Done:         make(chan struct{}),
	}
}

// Run drives the query until ctx is canceled or its deadline passes.
// Continuous re-sends on a doubling interval; OneShot sends once and then
// only listens.
func (q *Query) Run(ctx context.Context) {
	defer close(q.Done)

	initial := protocol.QueryInitialDelayMin + time.Duration(rand.Int63n(int64(protocol.QueryInitialDelayMax-protocol.QueryInitialDelayMin))) //nolint:gosec // jitter only
	select {
	case <-time.After(initial):
	case <-ctx.Done():
		return
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = protocol.QueryMinInterval
	bo.MaxInterval = protocol.QueryMaxInterval
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0 // never gives up on its own; ctx cancellation stops Continuous mode
	bo.Reset()

	for {
		_ = q.send()

		interval := bo.NextBackOff()
		timer := time.NewTimer(interval)
		listening := true
		for listening {
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				// OneShot keeps listening after its single send until ctx ends.
				listening = q.Mode == OneShot
			case pkt, ok := <-q.In:
				if !ok {
					continue
				}
				q.observe(pkt)
			}
		}

		if q.Mode == OneShot {
			return
		}
	}
}

func (q *Query) send() error {
	pkt := message.NewQuery(0)
	for _, question := range q.Questions {
		pkt.AddQuestion(question)
		if q.KnownAnswers == nil {
			continue
		}
		for _, known := range q.KnownAnswers(question) {
			rr, _, err := records.ToRR(known, nil, nil)
			if err == nil {
				pkt.AddAnswer(rr)
			}
		}
	}
	return q.Socket.SendMulticast(pkt, nil, 0)
}

func (q *Query) observe(pkt *message.Packet) {
	if !pkt.Header.IsResponse() {
		return
	}
	for _, rr := range pkt.Answers {
		rec, err := records.FromRR(pkt.Raw, rr)
		if err != nil {
			continue
		}
		for _, question := range q.Questions {
			if rec.Answers(question) {
				select {
				case q.Answers <- Answer{Record: rec}:
				default:
				}
			}
		}
	}
}
