package message

import (
	"testing"

	"github.com/onoffswitch/beacon/internal/protocol"
)

// TestNSEC_RoundTrip covers the block-0 bitmap encode/decode path, the only
// form this implementation supports (types > 255 are out of scope).
func TestNSEC_RoundTrip(t *testing.T) {
	c := newNameCompressor()
	rdata, err := EncodeNSEC(c, nil, "host1.local.", []protocol.RRType{protocol.TypeA, protocol.TypeAAAA})
	if err != nil {
		t.Fatalf("EncodeNSEC: %v", err)
	}

	next, types, err := DecodeNSEC(rdata, 0, rdata)
	if err != nil {
		t.Fatalf("DecodeNSEC: %v", err)
	}
	if next != "host1.local" && next != "host1.local." {
		t.Errorf("next name = %q", next)
	}
	want := map[protocol.RRType]bool{protocol.TypeA: true, protocol.TypeAAAA: true}
	if len(types) != len(want) {
		t.Fatalf("got %d types, want %d", len(types), len(want))
	}
	for _, ty := range types {
		if !want[ty] {
			t.Errorf("unexpected type %v in bitmap", ty)
		}
	}
}

// TestDecodeA_RejectsWrongLength guards against malformed rdata panicking
// the parser instead of returning a WireFormatError.
func TestDecodeA_RejectsWrongLength(t *testing.T) {
	if _, err := DecodeA([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for 3-byte A rdata")
	}
}
