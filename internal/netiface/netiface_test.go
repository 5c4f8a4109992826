package netiface

import "testing"

func TestIsVPN(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"utun3", true},
		{"tailscale0", true},
		{"wg0", true},
		{"eth0", false},
		{"en0", false},
	}
	for _, tt := range tests {
		if got := isVPN(tt.name); got != tt.want {
			t.Errorf("isVPN(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestIsContainer(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"docker0", true},
		{"veth1234", true},
		{"br-abcdef", true},
		{"eth0", false},
	}
	for _, tt := range tests {
		if got := isContainer(tt.name); got != tt.want {
			t.Errorf("isContainer(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestByName_EmptyReturnsAll(t *testing.T) {
	ifaces := []Interface{{Name: "eth0"}, {Name: "eth1"}}
	got := ByName(ifaces, nil)
	if len(got) != 2 {
		t.Errorf("ByName with empty filter returned %d, want 2", len(got))
	}
}

func TestByName_Filters(t *testing.T) {
	ifaces := []Interface{{Name: "eth0"}, {Name: "eth1"}}
	got := ByName(ifaces, []string{"eth1"})
	if len(got) != 1 || got[0].Name != "eth1" {
		t.Errorf("ByName filter = %v, want [eth1]", got)
	}
}

func TestFamily_String(t *testing.T) {
	if FamilyIPv4.String() != "ipv4" {
		t.Errorf("FamilyIPv4.String() = %q", FamilyIPv4.String())
	}
	if FamilyIPv6.String() != "ipv6" {
		t.Errorf("FamilyIPv6.String() = %q", FamilyIPv6.String())
	}
}
