package proto

import (
	"net"
	"testing"

	"github.com/onoffswitch/beacon/internal/message"
	"github.com/onoffswitch/beacon/internal/protocol"
	"github.com/onoffswitch/beacon/internal/records"
)

func aRecord(name string, ip net.IP) records.Record {
	return records.Record{Name: name, Type: protocol.TypeA, Class: protocol.ClassIN, TTL: 120, Flush: true, A: ip}
}

func encodeAnswerPacket(t *testing.T, recs []records.Record, isProbe bool) *message.Packet {
	t.Helper()
	var pkt *message.Packet
	if isProbe {
		pkt = message.NewQuery(0)
		pkt.AddQuestion(message.Question{Name: recs[0].Name, Type: protocol.TypeANY, Class: protocol.ClassIN})
	} else {
		pkt = message.NewResponse(0)
	}
	for _, r := range recs {
		rr, _, err := records.ToRR(r, nil, nil)
		if err != nil {
			t.Fatalf("ToRR: %v", err)
		}
		if isProbe {
			pkt.AddAuthority(rr)
		} else {
			pkt.AddAnswer(rr)
		}
	}
	wire, err := message.Encode(pkt)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := message.Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return decoded
}

// TestProbe_Evaluate_NoConflictOnIdenticalData checks that a probe response
// carrying our own data back (e.g. multicast loopback) is not a conflict.
func TestProbe_Evaluate_NoConflictOnIdenticalData(t *testing.T) {
	mine := aRecord("host.local.", net.IPv4(10, 0, 0, 1))
	p := &Probe{Records: []records.Record{mine}}

	pkt := encodeAnswerPacket(t, []records.Record{mine}, true)
	_, conflict := p.evaluate(pkt)
	if conflict {
		t.Error("identical data should not be treated as a conflict")
	}
}

// TestProbe_Evaluate_OutrightLossAgainstExistingAnswer checks that an
// already-announced conflicting record (not itself a probe) is an outright
// loss, no tiebreak needed.
func TestProbe_Evaluate_OutrightLossAgainstExistingAnswer(t *testing.T) {
	mine := aRecord("host.local.", net.IPv4(10, 0, 0, 1))
	theirs := aRecord("host.local.", net.IPv4(10, 0, 0, 99))
	p := &Probe{Records: []records.Record{mine}}

	pkt := encodeAnswerPacket(t, []records.Record{theirs}, false)
	_, conflict := p.evaluate(pkt)
	if !conflict {
		t.Error("expected outright loss against an existing conflicting answer")
	}
}

// TestProbe_Evaluate_Tiebreak checks the lexicographic tiebreak: whichever
// record set compares greater wins; the loser must detect the loss.
func TestProbe_Evaluate_Tiebreak(t *testing.T) {
	low := aRecord("host.local.", net.IPv4(1, 0, 0, 1))
	high := aRecord("host.local.", net.IPv4(255, 0, 0, 1))

	// We hold "low"; a simultaneous probe for "high" arrives. high > low,
	// so we lose.
	p := &Probe{Records: []records.Record{low}}
	pkt := encodeAnswerPacket(t, []records.Record{high}, true)
	_, conflict := p.evaluate(pkt)
	if !conflict {
		t.Error("expected to lose tiebreak against lexicographically greater record")
	}

	// We hold "high"; a simultaneous probe for "low" arrives. We win, so no
	// conflict is reported (we keep probing/announcing as-is).
	p2 := &Probe{Records: []records.Record{high}}
	pkt2 := encodeAnswerPacket(t, []records.Record{low}, true)
	_, conflict2 := p2.evaluate(pkt2)
	if conflict2 {
		t.Error("should win tiebreak against lexicographically lesser record")
	}
}

// TestProbe_Evaluate_BridgedRecordIsNotAConflict checks that a conflicting
// answer matching the Bridgeable set (our own address on another local
// interface) is treated as loopback, not a naming conflict.
func TestProbe_Evaluate_BridgedRecordIsNotAConflict(t *testing.T) {
	mine := aRecord("host.local.", net.IPv4(10, 0, 0, 1))
	otherIface := aRecord("host.local.", net.IPv4(10, 0, 1, 1))
	p := &Probe{Records: []records.Record{mine}, Bridgeable: []records.Record{otherIface}}

	pkt := encodeAnswerPacket(t, []records.Record{otherIface}, false)
	_, conflict := p.evaluate(pkt)
	if conflict {
		t.Error("a record in the bridgeable set should not be treated as a conflict")
	}
}
