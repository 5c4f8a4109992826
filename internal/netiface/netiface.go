// Package netiface projects the operating system's network interfaces down
// to the {name, address, family, internal} tuple spec §1 scopes interface
// enumeration to, and applies the "smart defaults" filter (exclude VPN,
// container, loopback, and down interfaces) so advertisements don't leak
// onto tunnels by default.
package netiface

import (
	"net"
	"strings"

	"github.com/onoffswitch/beacon/internal/errors"
)

// Family distinguishes IPv4 from IPv6 addressing.
type Family int

const (
	FamilyIPv4 Family = iota
	FamilyIPv6
)

func (f Family) String() string {
	if f == FamilyIPv6 {
		return "ipv6"
	}
	return "ipv4"
}

// Interface is the {name, address, family, internal} projection spec §1
// bounds this library's view of the host's network interfaces to.
type Interface struct {
	Name     string
	Address  net.IP
	Family   Family
	Internal bool // loopback or otherwise non-routable
	index    int
}

// Index returns the OS interface index, needed to join multicast groups.
func (i Interface) Index() int { return i.index }

var vpnPrefixes = []string{"utun", "tun", "ppp", "wg", "tailscale", "wireguard"}
var containerPrefixes = []string{"veth", "br-"}

func isVPN(name string) bool {
	for _, p := range vpnPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func isContainer(name string) bool {
	if name == "docker0" {
		return true
	}
	for _, p := range containerPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Default enumerates host interfaces and returns one Interface entry per
// (interface, address family) pair suitable for mDNS multicast: UP,
// MULTICAST-capable, not loopback, not a VPN or container interface. Each
// qualifying interface contributes at most one IPv4 and one IPv6 entry
// (its first address of each family), matching the "bridgeable set = one
// A/AAAA pair per local interface" model spec §4.11 describes.
func Default() ([]Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, &errors.NetworkError{Operation: "enumerate interfaces", Err: err}
	}

	var out []Interface
	for _, iface := range all {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if isVPN(iface.Name) || isContainer(iface.Name) {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		var gotV4, gotV6 bool
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP
			if ip.IsLinkLocalMulticast() || ip.IsMulticast() {
				continue
			}
			switch {
			case ip.To4() != nil && !gotV4:
				gotV4 = true
				out = append(out, Interface{Name: iface.Name, Address: ip, Family: FamilyIPv4, index: iface.Index})
			case ip.To4() == nil && ip.To16() != nil && !gotV6:
				gotV6 = true
				out = append(out, Interface{Name: iface.Name, Address: ip, Family: FamilyIPv6, index: iface.Index})
			}
		}
	}

	if len(out) == 0 {
		return nil, &errors.NetworkError{Operation: "enumerate interfaces", Err: errNoUsableInterfaces}
	}
	return out, nil
}

// All enumerates every interface without applying the VPN/container/
// loopback filter, for callers that pass an explicit interface allowlist
// and want to resolve it by name (spec §6: "an explicit interface list
// overrides the default filter").
func All() ([]Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, &errors.NetworkError{Operation: "enumerate interfaces", Err: err}
	}
	var out []Interface
	for _, iface := range all {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		internal := iface.Flags&net.FlagLoopback != 0
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP
			fam := FamilyIPv4
			if ip.To4() == nil {
				if ip.To16() == nil {
					continue
				}
				fam = FamilyIPv6
			}
			out = append(out, Interface{Name: iface.Name, Address: ip, Family: fam, Internal: internal, index: iface.Index})
		}
	}
	return out, nil
}

// ByName filters a set of Interfaces down to those whose Name is in names.
func ByName(ifaces []Interface, names []string) []Interface {
	if len(names) == 0 {
		return ifaces
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []Interface
	for _, i := range ifaces {
		if want[i.Name] {
			out = append(out, i)
		}
	}
	return out
}

type usableInterfacesError struct{}

func (usableInterfacesError) Error() string { return "no usable multicast interfaces found" }

var errNoUsableInterfaces = usableInterfacesError{}
