package message

import (
	"net"
	"testing"

	"github.com/onoffswitch/beacon/internal/protocol"
)

// TestRoundTrip_AQuery covers the canonical "ask for printer.local A" case:
// encode a query, decode it back, and check the question survives intact.
func TestRoundTrip_AQuery(t *testing.T) {
	p := NewQuery(0)
	p.AddQuestion(Question{Name: "printer.local.", Type: protocol.TypeA, Class: protocol.ClassIN})

	wire, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded.Questions) != 1 {
		t.Fatalf("got %d questions, want 1", len(decoded.Questions))
	}
	q := decoded.Questions[0]
	if q.Name != "printer.local" && q.Name != "printer.local." {
		t.Errorf("question name = %q", q.Name)
	}
	if q.Type != protocol.TypeA || q.Class != protocol.ClassIN {
		t.Errorf("question type/class = %v/%v", q.Type, q.Class)
	}
}

// TestRoundTrip_AnswerWithCacheFlush confirms the cache-flush bit survives
// encode/decode independent of the class value, per RFC 6762 §10.2.
func TestRoundTrip_AnswerWithCacheFlush(t *testing.T) {
	p := NewResponse(0)
	rdata, err := EncodeA(net.IPv4(192, 168, 1, 50))
	if err != nil {
		t.Fatalf("EncodeA: %v", err)
	}
	p.AddAnswer(RR{
		Name:       "printer.local.",
		Type:       protocol.TypeA,
		Class:      protocol.ClassIN,
		CacheFlush: true,
		TTL:        120,
		RData:      rdata,
	})

	wire, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded.Answers) != 1 {
		t.Fatalf("got %d answers, want 1", len(decoded.Answers))
	}
	ans := decoded.Answers[0]
	if !ans.CacheFlush {
		t.Error("cache-flush bit lost in round trip")
	}
	ip, err := DecodeA(ans.RData)
	if err != nil {
		t.Fatalf("DecodeA: %v", err)
	}
	if !ip.Equal(net.IPv4(192, 168, 1, 50)) {
		t.Errorf("decoded IP = %v, want 192.168.1.50", ip)
	}
}

// TestCompression_SharedSuffixIsTwoBytes is the compression invariant from
// the testable properties list: when two records share a name suffix
// (".local."), the second occurrence must compress to a 2-byte pointer
// rather than repeating the labels.
func TestCompression_SharedSuffixIsTwoBytes(t *testing.T) {
	p := NewResponse(0)
	aData, _ := EncodeA(net.IPv4(10, 0, 0, 1))
	p.AddAnswer(RR{Name: "host1.local.", Type: protocol.TypeA, Class: protocol.ClassIN, TTL: 120, RData: aData})
	p.AddAnswer(RR{Name: "host2.local.", Type: protocol.TypeA, Class: protocol.ClassIN, TTL: 120, RData: aData})

	compressed, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Uncompressed: a 12-byte header, then per record a 13-byte wire name,
	// 10 bytes of type/class/TTL/rdlength and 4 bytes of rdata. Compression
	// replaces the second record's 7-byte ".local." with a 2-byte pointer.
	uncompressedLen := 12 + 2*(len("host1.local.")+1+10+4)
	if want := uncompressedLen - 5; len(compressed) != want {
		t.Errorf("encoded length %d, want %d (uncompressed %d less the 5 bytes the pointer saves)", len(compressed), want, uncompressedLen)
	}

	decoded, err := Decode(compressed)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Answers[0].Name != "host1.local" || decoded.Answers[1].Name != "host2.local" {
		t.Errorf("decoded names %q, %q, want host1.local, host2.local", decoded.Answers[0].Name, decoded.Answers[1].Name)
	}
}

// TestPacket_IsProbe checks the probe/answer classification predicates spec
// §4.1 requires of the Packet type.
func TestPacket_IsProbe(t *testing.T) {
	tests := []struct {
		name    string
		build   func() *Packet
		isProbe bool
		isAns   bool
	}{
		{
			name: "plain query is not a probe",
			build: func() *Packet {
				p := NewQuery(0)
				p.AddQuestion(Question{Name: "a.local.", Type: protocol.TypeA, Class: protocol.ClassIN})
				return p
			},
			isProbe: false,
			isAns:   false,
		},
		{
			name: "query with authority section is a probe",
			build: func() *Packet {
				p := NewQuery(0)
				p.AddQuestion(Question{Name: "a.local.", Type: protocol.TypeANY, Class: protocol.ClassIN})
				rdata, _ := EncodeA(net.IPv4(1, 2, 3, 4))
				p.AddAuthority(RR{Name: "a.local.", Type: protocol.TypeA, Class: protocol.ClassIN, TTL: 120, RData: rdata})
				return p
			},
			isProbe: true,
			isAns:   false,
		},
		{
			name: "response with answers is an answer",
			build: func() *Packet {
				p := NewResponse(0)
				rdata, _ := EncodeA(net.IPv4(1, 2, 3, 4))
				p.AddAnswer(RR{Name: "a.local.", Type: protocol.TypeA, Class: protocol.ClassIN, TTL: 120, RData: rdata})
				return p
			},
			isProbe: false,
			isAns:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.build()
			if got := p.IsProbe(); got != tt.isProbe {
				t.Errorf("IsProbe() = %v, want %v", got, tt.isProbe)
			}
			if got := p.IsAnswer(); got != tt.isAns {
				t.Errorf("IsAnswer() = %v, want %v", got, tt.isAns)
			}
		})
	}
}

// TestSplit_RespectsMaxAnswers covers the EMSGSIZE fallback path.
func TestSplit_RespectsMaxAnswers(t *testing.T) {
	p := NewResponse(0)
	rdata, _ := EncodeA(net.IPv4(1, 2, 3, 4))
	for i := 0; i < 5; i++ {
		p.AddAnswer(RR{Name: "a.local.", Type: protocol.TypeA, Class: protocol.ClassIN, TTL: 120, RData: rdata})
	}

	frags := p.Split(2)
	if len(frags) != 3 {
		t.Fatalf("got %d fragments, want 3", len(frags))
	}
	total := 0
	for i, f := range frags {
		total += len(f.Answers)
		if i < len(frags)-1 && f.Header.Flags&protocol.FlagTC == 0 {
			t.Errorf("fragment %d missing TC bit", i)
		}
	}
	if total != 5 {
		t.Errorf("total answers across fragments = %d, want 5", total)
	}
}

// TestSRV_RoundTrip exercises SRV rdata whose target name is written
// uncompressed (the fresh compressor holds no earlier names to point at).
func TestSRV_RoundTrip(t *testing.T) {
	p := NewResponse(0)
	c := newNameCompressor()
	buf := []byte{}
	buf, err := EncodeSRV(c, buf, SRVData{Priority: 0, Weight: 0, Port: 8080, Target: "host1.local."})
	if err != nil {
		t.Fatalf("EncodeSRV: %v", err)
	}
	p.AddAnswer(RR{Name: "_svc._tcp.local.", Type: protocol.TypeSRV, Class: protocol.ClassIN, TTL: 120, RData: buf})

	wire, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ans := decoded.Answers[0]
	srv, err := DecodeSRV(decoded.Raw, ans.RDataOffset, ans.RData)
	if err != nil {
		t.Fatalf("DecodeSRV: %v", err)
	}
	if srv.Port != 8080 || srv.Target != "host1.local" && srv.Target != "host1.local." {
		t.Errorf("decoded SRV = %+v", srv)
	}
}

// TestTXT_RoundTrip covers present/empty/flag key forms per RFC 6763 §6.3.
func TestTXT_RoundTrip(t *testing.T) {
	pairs := []TXTPair{
		{Key: "txtvers", Value: "1"},
		{Key: "empty", Value: ""},
		{Key: "flagonly", Flag: true},
	}
	rdata := EncodeTXT(pairs)
	decoded, err := DecodeTXT(rdata)
	if err != nil {
		t.Fatalf("DecodeTXT: %v", err)
	}
	if len(decoded) != 3 {
		t.Fatalf("got %d pairs, want 3", len(decoded))
	}
	if decoded[0].Value != "1" {
		t.Errorf("txtvers value = %q", decoded[0].Value)
	}
	if decoded[1].Flag {
		t.Error("empty pair misclassified as flag")
	}
	if !decoded[2].Flag {
		t.Error("flag-only pair misclassified as key=value")
	}
}

// TestTXT_EmptySetEncodesSingleZeroByte covers the degenerate "no data" TXT
// record RFC 6763 §6.1 mandates.
func TestTXT_EmptySetEncodesSingleZeroByte(t *testing.T) {
	rdata := EncodeTXT(nil)
	if len(rdata) != 1 || rdata[0] != 0 {
		t.Errorf("empty TXT rdata = %v, want [0]", rdata)
	}
}
