// Package transport owns the UDP multicast sockets mDNS runs over: a
// shared, ref-counted socket per local interface/family pair used by every
// long-lived actor, and disposable ephemeral-port sockets for one-shot
// queries. It dispatches inbound datagrams to a single per-interface
// channel (the "single task" spec §5/SPEC_FULL §15 requires owns the cache)
// and enforces the outbound multicast rate limit of RFC 6762 §6.2.
package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/google/uuid"

	"github.com/onoffswitch/beacon/internal/errors"
	"github.com/onoffswitch/beacon/internal/message"
	"github.com/onoffswitch/beacon/internal/netiface"
	"github.com/onoffswitch/beacon/internal/protocol"
)

// Inbound is one received datagram, handed from a socket's read loop to the
// owning interface's dispatch goroutine.
type Inbound struct {
	Packet   *message.Packet
	SrcAddr  net.Addr
	SrcPort  int
	Iface    netiface.Interface
	Received time.Time
}

// Socket is a bound mDNS multicast socket for one local interface/family
// pair. Shared sockets are reference-counted across every actor using that
// interface; disposable sockets back one-shot queries and are closed when
// that query finishes.
type Socket struct {
	ID     string // uuid identifying this socket
	Iface  netiface.Interface
	conn   net.PacketConn
	pconn4 *ipv4.PacketConn
	pconn6 *ipv6.PacketConn

	refs      int
	shared    bool
	closeOnce sync.Once

	mu      sync.Mutex
	history map[uint64]time.Time // record hash -> last multicast time, RFC 6762 §6.2
}

// Open binds a multicast socket on iface. shared sockets bind to the mDNS
// port (5353) so they can both send and receive multicast traffic;
// disposable sockets bind an ephemeral port, used by one-shot queriers that
// only need to send a query and read unicast/multicast replies, per spec
// §4.4.
func Open(iface netiface.Interface, shared bool) (*Socket, error) {
	network := "udp4"
	if iface.Family == netiface.FamilyIPv6 {
		network = "udp6"
	}

	port := 0
	if shared {
		port = protocol.Port
	}

	lc := net.ListenConfig{Control: PlatformControl}
	addr := net.JoinHostPort("", strconv.Itoa(port))
	if network == "udp4" {
		addr = net.JoinHostPort("0.0.0.0", strconv.Itoa(port))
	} else {
		addr = net.JoinHostPort("::", strconv.Itoa(port))
	}

	conn, err := lc.ListenPacket(context.Background(), network, addr)
	if err != nil {
		return nil, &errors.NetworkError{Operation: "open socket", Err: err, Details: fmt.Sprintf("bind %s %s", network, addr)}
	}

	s := &Socket{ID: uuid.NewString(), Iface: iface, conn: conn, shared: shared, history: make(map[uint64]time.Time)}

	if network == "udp4" {
		s.pconn4 = ipv4.NewPacketConn(conn)
		if shared {
			group := &net.UDPAddr{IP: net.ParseIP(protocol.MulticastAddrIPv4)}
			ifi := &net.Interface{Index: iface.Index()}
			if err := s.pconn4.JoinGroup(ifi, group); err != nil {
				_ = conn.Close()
				return nil, &errors.NetworkError{Operation: "join multicast group", Err: err, Details: iface.Name}
			}
		}
		_ = s.pconn4.SetMulticastTTL(255)
		_ = s.pconn4.SetMulticastLoopback(true)
		if iface.Index() != 0 {
			_ = s.pconn4.SetMulticastInterface(&net.Interface{Index: iface.Index()})
		}
	} else {
		s.pconn6 = ipv6.NewPacketConn(conn)
		if shared {
			group := &net.UDPAddr{IP: net.ParseIP(protocol.MulticastAddrIPv6)}
			ifi := &net.Interface{Index: iface.Index()}
			if err := s.pconn6.JoinGroup(ifi, group); err != nil {
				_ = conn.Close()
				return nil, &errors.NetworkError{Operation: "join multicast group", Err: err, Details: iface.Name}
			}
		}
		_ = s.pconn6.SetMulticastHopLimit(255)
		_ = s.pconn6.SetMulticastLoopback(true)
		if iface.Index() != 0 {
			_ = s.pconn6.SetMulticastInterface(&net.Interface{Index: iface.Index()})
		}
	}

	return s, nil
}

// Retain increments the shared socket's reference count.
func (s *Socket) Retain() { s.mu.Lock(); s.refs++; s.mu.Unlock() }

// Release decrements the reference count and closes the socket once it
// reaches zero, reporting whether this call was the one that closed it (the
// Registry uses that to know when to drop its map entry). Disposable
// sockets ignore reference counting and close immediately.
func (s *Socket) Release() (closed bool, err error) {
	if !s.shared {
		return true, s.Close()
	}
	s.mu.Lock()
	s.refs--
	done := s.refs <= 0
	s.mu.Unlock()
	if done {
		return true, s.Close()
	}
	return false, nil
}

// Close closes the underlying connection, idempotently.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.conn.Close() })
	return err
}

// destAddr returns the multicast group address for s's family.
func (s *Socket) destAddr() (net.Addr, error) {
	group := protocol.MulticastAddrIPv4
	network := "udp4"
	if s.Iface.Family == netiface.FamilyIPv6 {
		group = protocol.MulticastAddrIPv6
		network = "udp6"
	}
	return net.ResolveUDPAddr(network, net.JoinHostPort(group, strconv.Itoa(protocol.Port)))
}

// SendMulticast sends pkt to the mDNS multicast group on s, enforcing the
// per-record rate limit of RFC 6762 §6.2 across the given record hashes (an
// empty hashes slice skips rate limiting, used for queries, which §5.2
// rate-limits differently via backoff rather than per-record history).
// Any send error, EMSGSIZE included, is returned to the caller; no caller
// splits an oversized packet with message.Packet.Split and resends it.
func (s *Socket) SendMulticast(pkt *message.Packet, recordHashes []uint64, minGap time.Duration) error {
	if !s.canSend(recordHashes, minGap) {
		return nil
	}
	dest, err := s.destAddr()
	if err != nil {
		return &errors.NetworkError{Operation: "resolve multicast destination", Err: err}
	}
	if err := s.send(pkt, dest); err != nil {
		return err
	}
	s.recordSent(recordHashes)
	return nil
}

// SendUnicast sends pkt directly to dest, used for legacy (non-5353-port)
// query replies and QU-flagged unicast-preferred replies, per RFC 6762 §6.7.
func (s *Socket) SendUnicast(pkt *message.Packet, dest net.Addr) error {
	return s.send(pkt, dest)
}

func (s *Socket) send(pkt *message.Packet, dest net.Addr) error {
	wire, err := message.Encode(pkt)
	if err != nil {
		return &errors.WireFormatError{Operation: "encode outbound packet", Message: err.Error()}
	}
	_, err = s.conn.WriteTo(wire, dest)
	if err != nil {
		return &errors.NetworkError{Operation: "send", Err: err, Details: dest.String()}
	}
	return nil
}

func (s *Socket) canSend(hashes []uint64, minGap time.Duration) bool {
	if len(hashes) == 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, h := range hashes {
		if last, ok := s.history[h]; ok && now.Sub(last) < minGap {
			return false
		}
	}
	return true
}

func (s *Socket) recordSent(hashes []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, h := range hashes {
		s.history[h] = now
	}
}

// HasRecentlySent reports whether any of hashes was sent within minGap,
// without recording a new send — used by actors deciding whether to
// suppress a response they were about to make (RFC 6762 §6.2's "someone
// else already answered this").
func (s *Socket) HasRecentlySent(hashes []uint64, minGap time.Duration) bool {
	return !s.canSend(hashes, minGap)
}

// ReadLoop reads datagrams from s until ctx is done or the socket closes,
// parsing each into a message.Packet and sending it on out. Malformed
// datagrams are dropped (and should be logged by the caller via a wrapped
// out channel or a logger passed through a closure); ReadLoop never
// propagates a parse error as fatal since a single garbled packet on the
// wire must not take down the listener, per RFC 6762 §18's tolerant-parsing
// posture.
func (s *Socket) ReadLoop(ctx context.Context, out chan<- Inbound, onError func(error)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		bufPtr := GetBuffer()
		n, addr, err := s.conn.ReadFrom(*bufPtr)
		if err != nil {
			PutBuffer(bufPtr)
			select {
			case <-ctx.Done():
				return
			default:
			}
			if onError != nil {
				onError(&errors.NetworkError{Operation: "read", Err: err})
			}
			return
		}

		raw := append([]byte(nil), (*bufPtr)[:n]...)
		PutBuffer(bufPtr)

		pkt, err := message.Decode(raw)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			continue
		}

		srcPort := 0
		if udpAddr, ok := addr.(*net.UDPAddr); ok {
			srcPort = udpAddr.Port
		}

		inbound := Inbound{Packet: pkt, SrcAddr: addr, SrcPort: srcPort, Iface: s.Iface, Received: time.Now()}
		select {
		case out <- inbound:
		case <-ctx.Done():
			return
		}
	}
}
