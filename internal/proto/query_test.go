package proto

import (
	"net"
	"testing"

	"github.com/onoffswitch/beacon/internal/message"
	"github.com/onoffswitch/beacon/internal/protocol"
	"github.com/onoffswitch/beacon/internal/records"
)

// TestQuery_Observe_MatchesQuestion checks that an answer record matching a
// pending question is surfaced on the Answers channel.
func TestQuery_Observe_MatchesQuestion(t *testing.T) {
	q := &Query{
		Questions: []message.Question{{Name: "host.local.", Type: protocol.TypeA, Class: protocol.ClassIN}},
		Answers:   make(chan Answer, 4),
	}

	rec := aRecord("host.local.", net.IPv4(10, 0, 0, 5))
	pkt := encodeAnswerPacket(t, []records.Record{rec}, false)
	q.observe(pkt)

	select {
	case ans := <-q.Answers:
		if !ans.Record.A.Equal(net.IPv4(10, 0, 0, 5)) {
			t.Errorf("answer IP = %v", ans.Record.A)
		}
	default:
		t.Error("expected an answer to be surfaced")
	}
}

// TestQuery_Observe_IgnoresQueries checks that Query.observe never treats an
// inbound query packet as an answer source.
func TestQuery_Observe_IgnoresQueries(t *testing.T) {
	q := &Query{
		Questions: []message.Question{{Name: "host.local.", Type: protocol.TypeA, Class: protocol.ClassIN}},
		Answers:   make(chan Answer, 4),
	}
	pkt := message.NewQuery(0)
	pkt.AddQuestion(message.Question{Name: "host.local.", Type: protocol.TypeA, Class: protocol.ClassIN})

	q.observe(pkt)
	select {
	case <-q.Answers:
		t.Error("query packet should not produce an answer")
	default:
	}
}
