package responder

import (
	"net"
	"testing"

	"github.com/onoffswitch/beacon/internal/netiface"
	"github.com/onoffswitch/beacon/internal/protocol"
)

func TestEnsureLocalSuffix(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"myhost", "myhost.local."},
		{"myhost.local", "myhost.local."},
		{"myhost.local.", "myhost.local."},
		{"myhost.", "myhost.local."},
	}
	for _, tt := range tests {
		if got := ensureLocalSuffix(tt.in); got != tt.want {
			t.Errorf("ensureLocalSuffix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHostRecords_MatchesFamily(t *testing.T) {
	a := New("myhost")
	iface := netiface.Interface{Name: "eth0", Address: net.IPv4(10, 0, 0, 5), Family: netiface.FamilyIPv4}

	recs := a.hostRecords(iface)

	var gotA, gotNSEC bool
	for _, r := range recs {
		switch r.Type {
		case protocol.TypeA:
			gotA = true
			if !r.A.Equal(net.IPv4(10, 0, 0, 5)) {
				t.Errorf("A record address = %v", r.A)
			}
		case protocol.TypeNSEC:
			gotNSEC = true
		}
	}
	if !gotA || !gotNSEC {
		t.Errorf("expected A and NSEC records, got %+v", recs)
	}
}

func TestServiceRecords_BuildsPTRSRVTXT(t *testing.T) {
	a := New("myhost")
	svc := Service{Instance: "My Printer", Type: "_ipp._tcp", Port: 631, TXT: map[string]string{"path": "/"}}

	recs := a.serviceRecords(svc)

	var sawPTR, sawSRV, sawTXT bool
	for _, r := range recs {
		switch r.Type {
		case protocol.TypePTR:
			sawPTR = true
			if r.Name != "_ipp._tcp.local." {
				t.Errorf("PTR owner = %q", r.Name)
			}
		case protocol.TypeSRV:
			sawSRV = true
			if r.SRV.Port != 631 || r.SRV.Target != a.hostname {
				t.Errorf("SRV = %+v", r.SRV)
			}
		case protocol.TypeTXT:
			sawTXT = true
		}
	}
	if !sawPTR || !sawSRV || !sawTXT {
		t.Errorf("expected PTR, SRV, TXT records, got %+v", recs)
	}
}

func TestBridgeableRecords_ExcludesCurrentIncludesOthers(t *testing.T) {
	a := New("myhost")
	eth0 := netiface.Interface{Name: "eth0", Address: net.IPv4(10, 0, 0, 5), Family: netiface.FamilyIPv4}
	eth1 := netiface.Interface{Name: "eth1", Address: net.IPv4(10, 0, 0, 6), Family: netiface.FamilyIPv4}

	bridgeable := a.bridgeableRecords([]netiface.Interface{eth0, eth1}, eth0)

	if len(bridgeable) != 1 {
		t.Fatalf("got %d bridgeable records, want 1", len(bridgeable))
	}
	if !bridgeable[0].A.Equal(net.IPv4(10, 0, 0, 6)) {
		t.Errorf("bridgeable record address = %v, want eth1's", bridgeable[0].A)
	}
}

func TestValidateTXT_RejectsOversizedKey(t *testing.T) {
	if err := validateTXT(map[string]string{"way-too-long-a-key": "v"}); err == nil {
		t.Error("expected an error for a key longer than 9 bytes")
	}
}

func TestValidateTXT_RejectsKeyWithEquals(t *testing.T) {
	if err := validateTXT(map[string]string{"a=b": "v"}); err == nil {
		t.Error("expected an error for a key containing '='")
	}
}

func TestValidateTXT_AcceptsOrdinaryPairs(t *testing.T) {
	if err := validateTXT(map[string]string{"path": "/", "v": "1.0"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestServiceRecords_Subtype(t *testing.T) {
	a := New("myhost")
	svc := Service{Instance: "My Printer", Type: "_ipp._tcp", Port: 631, Subtypes: []string{"_printer"}}

	recs := a.serviceRecords(svc)

	var sawSubtypePTR bool
	for _, r := range recs {
		if r.Type == protocol.TypePTR && r.Name == "_printer._sub._ipp._tcp.local." {
			sawSubtypePTR = true
		}
	}
	if !sawSubtypePTR {
		t.Errorf("expected a subtype PTR record, got %+v", recs)
	}
}
