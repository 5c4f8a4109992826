// Package querier implements the one-shot mDNS resolve API: ask once for an
// A/AAAA/SRV/TXT record, or a fully resolved service instance, and return
// whatever answers arrive before a deadline.
package querier

import (
	"context"
	"net"
	"time"

	"github.com/onoffswitch/beacon/internal/errors"
	"github.com/onoffswitch/beacon/internal/message"
	"github.com/onoffswitch/beacon/internal/netiface"
	"github.com/onoffswitch/beacon/internal/protocol"
	"github.com/onoffswitch/beacon/internal/proto"
	"github.com/onoffswitch/beacon/internal/records"
	"github.com/onoffswitch/beacon/internal/transport"
	"github.com/onoffswitch/beacon/logging"
)

var log = logging.New("querier")

// Option configures a one-shot resolve call.
type Option func(*config)

type config struct {
	timeout time.Duration
	iface   *netiface.Interface
}

func newConfig() *config {
	return &config{timeout: 3 * time.Second}
}

// WithTimeout overrides the default 3-second resolve deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithInterface pins the query to a specific interface rather than the
// first usable default interface.
func WithInterface(iface netiface.Interface) Option {
	return func(c *config) { c.iface = &iface }
}

func (c *config) resolveInterface() (netiface.Interface, error) {
	if c.iface != nil {
		return *c.iface, nil
	}
	ifaces, err := netiface.Default()
	if err != nil {
		return netiface.Interface{}, err
	}
	return ifaces[0], nil
}

func run(ctx context.Context, questions []message.Question, opts ...Option) ([]records.Record, error) {
	cfg := newConfig()
	for _, o := range opts {
		o(cfg)
	}

	iface, err := cfg.resolveInterface()
	if err != nil {
		return nil, err
	}

	sock, err := transport.Open(iface, false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = sock.Close() }()

	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	in := make(chan *message.Packet, 32)
	go readLoop(ctx, sock, in)

	q := proto.NewQuery(sock, questions, proto.OneShot, nil, in)
	go q.Run(ctx)

	var out []records.Record
	for {
		select {
		case <-ctx.Done():
			return out, nil
		case <-q.Done:
			return out, nil
		case ans, ok := <-q.Answers:
			if !ok {
				continue
			}
			out = append(out, ans.Record)
		}
	}
}

func readLoop(ctx context.Context, sock *transport.Socket, out chan<- *message.Packet) {
	raw := make(chan transport.Inbound, 32)
	go sock.ReadLoop(ctx, raw, func(err error) { log.WithError(err).Debug("read error") })
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-raw:
			if !ok {
				return
			}
			select {
			case out <- in.Packet:
			case <-ctx.Done():
				return
			}
		}
	}
}

// ResolveA resolves name's IPv4 addresses.
func ResolveA(ctx context.Context, name string, opts ...Option) ([]net.IP, error) {
	recs, err := run(ctx, []message.Question{{Name: name, Type: protocol.TypeA, Class: protocol.ClassIN}}, opts...)
	if err != nil {
		return nil, err
	}
	var out []net.IP
	for _, r := range recs {
		if r.Type == protocol.TypeA {
			out = append(out, r.A)
		}
	}
	return out, nil
}

// ResolveAAAA resolves name's IPv6 addresses.
func ResolveAAAA(ctx context.Context, name string, opts ...Option) ([]net.IP, error) {
	recs, err := run(ctx, []message.Question{{Name: name, Type: protocol.TypeAAAA, Class: protocol.ClassIN}}, opts...)
	if err != nil {
		return nil, err
	}
	var out []net.IP
	for _, r := range recs {
		if r.Type == protocol.TypeAAAA {
			out = append(out, r.AAAA)
		}
	}
	return out, nil
}

// ResolveSRV resolves name's SRV target/port.
func ResolveSRV(ctx context.Context, name string, opts ...Option) ([]message.SRVData, error) {
	recs, err := run(ctx, []message.Question{{Name: name, Type: protocol.TypeSRV, Class: protocol.ClassIN}}, opts...)
	if err != nil {
		return nil, err
	}
	var out []message.SRVData
	for _, r := range recs {
		if r.Type == protocol.TypeSRV {
			out = append(out, r.SRV)
		}
	}
	return out, nil
}

// ResolveTXT resolves name's TXT key/value set.
func ResolveTXT(ctx context.Context, name string, opts ...Option) ([][]message.TXTPair, error) {
	recs, err := run(ctx, []message.Question{{Name: name, Type: protocol.TypeTXT, Class: protocol.ClassIN}}, opts...)
	if err != nil {
		return nil, err
	}
	var out [][]message.TXTPair
	for _, r := range recs {
		if r.Type == protocol.TypeTXT {
			out = append(out, r.TXT)
		}
	}
	return out, nil
}

// ResolveService resolves a single fully-qualified service instance name
// (e.g. "My Printer._ipp._tcp.local.") to its SRV target/port, TXT records,
// and host addresses in one call, by issuing SRV+TXT first and then a
// follow-up address query for whatever target SRV returns.
func ResolveService(ctx context.Context, instance string, opts ...Option) (*message.SRVData, []message.TXTPair, []net.IP, error) {
	recs, err := run(ctx, []message.Question{
		{Name: instance, Type: protocol.TypeSRV, Class: protocol.ClassIN},
		{Name: instance, Type: protocol.TypeTXT, Class: protocol.ClassIN},
	}, opts...)
	if err != nil {
		return nil, nil, nil, err
	}

	var srv *message.SRVData
	var txt []message.TXTPair
	for _, r := range recs {
		switch r.Type {
		case protocol.TypeSRV:
			s := r.SRV
			srv = &s
		case protocol.TypeTXT:
			txt = r.TXT
		}
	}
	if srv == nil {
		return nil, txt, nil, &errors.ValidationError{Field: "instance", Value: instance, Message: "no SRV record found within timeout"}
	}

	addrs, err := ResolveA(ctx, srv.Target, opts...)
	if err != nil {
		return srv, txt, nil, err
	}
	return srv, txt, addrs, nil
}
