package proto

import (
	"context"
	"math/rand"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/onoffswitch/beacon/internal/message"
	"github.com/onoffswitch/beacon/internal/protocol"
	"github.com/onoffswitch/beacon/internal/records"
	"github.com/onoffswitch/beacon/internal/transport"
)

// Announce multicasts rec's record set unsolicited, repeated
// protocol.AnnounceRepeat times with doubling delays starting at
// protocol.AnnounceInitialDelay, per RFC 6762 §8.3. It blocks until all
// repeats are sent or ctx is canceled.
func Announce(ctx context.Context, sock *transport.Socket, recs []records.Record) error {
	pkt := message.NewResponse(0)
	hashes := make([]uint64, 0, len(recs))
	for _, r := range recs {
		rr, _, err := records.ToRR(r, nil, nil)
		if err != nil {
			return err
		}
		pkt.AddAnswer(rr)
		hashes = append(hashes, r.Hash())
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = protocol.AnnounceInitialDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.Reset()

	for i := 0; i < protocol.AnnounceRepeat; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(bo.NextBackOff()):
		}
		if err := sock.SendMulticast(pkt, hashes, protocol.RateLimitWindow); err != nil {
			return err
		}
	}
	return nil
}

// reservedGoodbyeNames excludes the DNS-SD enumerator name and its
// well-known siblings from goodbye per spec §4.8's canGoodbye(): these
// names are shared infrastructure other responders still advertise
// against, so withdrawing our contribution to them on Stop would be
// misleading rather than informative.
var reservedGoodbyeNames = map[string]bool{
	"_services._dns-sd._udp.local.": true,
	"_tcp.local.":                   true,
	"_udp.local.":                   true,
	"b._dns-sd._udp.local.":         true,
	"db._dns-sd._udp.local.":        true,
	"lb._dns-sd._udp.local.":        true,
}

// canGoodbye reports whether name is eligible for a goodbye announcement,
// per spec §4.8.
func canGoodbye(name string) bool {
	return !reservedGoodbyeNames[lowerName(name)]
}

func lowerName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// Goodbye multicasts recs with TTL=0, the "I'm leaving" signal of
// RFC 6762 §10.1, so other caches expire the records promptly instead of
// waiting out their original TTL. Records whose name fails canGoodbye are
// silently dropped from the packet rather than withdrawn.
func Goodbye(sock *transport.Socket, recs []records.Record) error {
	pkt := message.NewResponse(0)
	var any bool
	for _, r := range recs {
		if !canGoodbye(r.Name) {
			continue
		}
		goodbye := r
		goodbye.TTL = 0
		rr, _, err := records.ToRR(goodbye, nil, nil)
		if err != nil {
			return err
		}
		pkt.AddAnswer(rr)
		any = true
	}
	if !any {
		return nil
	}
	return sock.SendMulticast(pkt, nil, 0)
}

// RespondMulticast sends an unsolicited-looking but request-triggered
// multicast answer carrying recs, honoring the RFC 6762 §6.2 per-record
// rate limit (or the relaxed §6.2 250ms probe-defense window when
// defending, selected via minGap) and the RFC 6762 §6 jittered delay for
// shared records so multiple responders don't answer in lockstep.
func RespondMulticast(ctx context.Context, sock *transport.Socket, recs []records.Record, minGap time.Duration, jitter bool) error {
	pkt := message.NewResponse(0)
	hashes := make([]uint64, 0, len(recs))
	for _, r := range recs {
		rr, _, err := records.ToRR(r, nil, nil)
		if err != nil {
			return err
		}
		pkt.AddAnswer(rr)
		hashes = append(hashes, r.Hash())
	}

	if jitter {
		d := protocol.ResponseMulticastDelayMin + randDuration(protocol.ResponseMulticastDelayMax-protocol.ResponseMulticastDelayMin)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}

	return sock.SendMulticast(pkt, hashes, minGap)
}

// RespondUnicast answers a legacy or QU-flagged query directly to dest,
// bypassing multicast rate limiting since a unicast reply doesn't compete
// for the shared multicast channel, per RFC 6762 §6.7/§5.4.
func RespondUnicast(sock *transport.Socket, recs []records.Record, dest net.Addr) error {
	pkt := message.NewResponse(0)
	for _, r := range recs {
		rr, _, err := records.ToRR(r, nil, nil)
		if err != nil {
			return err
		}
		pkt.AddAnswer(rr)
	}
	return sock.SendUnicast(pkt, dest)
}

func randDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max))) //nolint:gosec // jitter only
}
