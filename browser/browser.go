// Package browser implements the continuous DNS-SD service browser of
// spec §4.10: a standing PTR query for a service type (or subtype) that
// discovers instances as they come and go, optionally resolving each one
// fully (SRV/TXT/addresses) as it's found.
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/onoffswitch/beacon/internal/cache"
	"github.com/onoffswitch/beacon/internal/fsm"
	"github.com/onoffswitch/beacon/internal/message"
	"github.com/onoffswitch/beacon/internal/netiface"
	"github.com/onoffswitch/beacon/internal/protocol"
	"github.com/onoffswitch/beacon/internal/proto"
	"github.com/onoffswitch/beacon/internal/records"
	"github.com/onoffswitch/beacon/internal/timers"
	"github.com/onoffswitch/beacon/internal/transport"
	"github.com/onoffswitch/beacon/logging"
)

var log = logging.New("browser")

// EventKind distinguishes the lifecycle events a Browser emits.
type EventKind int

const (
	// ServiceAdded fires the first time an instance name is seen.
	ServiceAdded EventKind = iota
	// ServiceUpdated fires each time an instance's resolver processes a
	// record (address, TXT, or SRV target/port), carrying the instance view
	// known so far, which may still be partial.
	ServiceUpdated
	// ServiceRemoved fires when an instance's PTR record expires from the
	// cache (a goodbye, or simple TTL expiry).
	ServiceRemoved
)

// Event is one instance-lifecycle notification.
type Event struct {
	Kind     EventKind
	Instance fsm.ServiceInstance
}

// Option configures a Browser.
type Option func(*config)

type config struct {
	ifaceNames []string
	resolve    bool
}

func newConfig() *config {
	return &config{resolve: true}
}

// WithInterfaces restricts browsing to the named interfaces instead of
// every usable default interface.
func WithInterfaces(names ...string) Option {
	return func(c *config) { c.ifaceNames = names }
}

// WithoutResolve makes the Browser report bare instance names (enumerator
// mode) without spawning a ServiceResolver for each one.
func WithoutResolve() Option {
	return func(c *config) { c.resolve = false }
}

// Browser runs a standing PTR query against one service type (e.g.
// "_http._tcp.local." or a subtype "_printer._sub._http._tcp.local.") across
// every configured interface, emitting Events as instances appear, update,
// and disappear.
type Browser struct {
	serviceType string
	cfg         *config

	mu        sync.Mutex
	resolvers map[string]*fsm.ServiceResolver
	seen      map[string]bool

	registry *transport.Registry
	events   chan Event
	cancel   context.CancelFunc
}

// New constructs a Browser for serviceType. Call Run to start browsing.
func New(serviceType string, opts ...Option) *Browser {
	cfg := newConfig()
	for _, o := range opts {
		o(cfg)
	}
	return &Browser{
		serviceType: serviceType,
		cfg:         cfg,
		resolvers:   make(map[string]*fsm.ServiceResolver),
		seen:        make(map[string]bool),
		registry:    transport.NewRegistry(),
		events:      make(chan Event, 64),
	}
}

// Events returns the channel Events are delivered on. Callers must drain
// it; Run drops an event rather than block if the channel is full.
func (b *Browser) Events() <-chan Event { return b.events }

// Run starts browsing on every matching interface and blocks until ctx is
// canceled or Stop is called.
func (b *Browser) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	defer cancel()

	ifaces, err := b.interfaces()
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, iface := range ifaces {
		iface := iface
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.runOnInterface(ctx, iface); err != nil {
				log.WithError(err).WithField("interface", iface.Name).Debug("browser interface stopped")
			}
		}()
	}
	wg.Wait()
	return nil
}

func (b *Browser) interfaces() ([]netiface.Interface, error) {
	if len(b.cfg.ifaceNames) > 0 {
		all, err := netiface.All()
		if err != nil {
			return nil, err
		}
		return netiface.ByName(all, b.cfg.ifaceNames), nil
	}
	return netiface.Default()
}

func (b *Browser) runOnInterface(ctx context.Context, iface netiface.Interface) error {
	sock, err := b.registry.Acquire(iface)
	if err != nil {
		return err
	}
	defer b.registry.Release(iface, sock)

	sched := timers.New()
	cacheEvents := make(chan cache.Event, 64)
	c := cache.New(sched, cacheEvents)

	raw := make(chan transport.Inbound, 64)
	go sock.ReadLoop(ctx, raw, func(err error) { log.WithError(err).Debug("read error") })

	in := make(chan *message.Packet, 64)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case inb, ok := <-raw:
				if !ok {
					return
				}
				select {
				case in <- inb.Packet:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	known := func(q message.Question) []records.Record {
		return c.Find(q.Name, q.Type, q.Class, protocol.FindCutoff)
	}

	q := proto.NewQuery(sock, []message.Question{{Name: b.serviceType, Type: protocol.TypePTR, Class: protocol.ClassIN}}, proto.Continuous, known, in)
	go q.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ans, ok := <-q.Answers:
			if !ok {
				return nil
			}
			if ans.Record.Type != protocol.TypePTR {
				continue
			}
			c.Add(ans.Record)
			b.handlePTR(ctx, sock, in, ans.Record)
		case ev := <-cacheEvents:
			if ev.Kind != cache.EventExpire || ev.Record.Type != protocol.TypePTR {
				continue
			}
			b.mu.Lock()
			live := b.seen[ev.Record.PTR]
			b.mu.Unlock()
			if live {
				gone := ev.Record
				gone.TTL = 0
				b.handlePTR(ctx, sock, in, gone)
			}
		}
	}
}

func (b *Browser) handlePTR(ctx context.Context, sock *transport.Socket, in <-chan *message.Packet, rec records.Record) {
	instance := rec.PTR
	if instance == "" {
		return
	}

	if rec.TTL == 0 {
		b.mu.Lock()
		delete(b.seen, instance)
		resolver, had := b.resolvers[instance]
		delete(b.resolvers, instance)
		b.mu.Unlock()
		if had {
			resolver.Stop()
		}
		b.emit(Event{Kind: ServiceRemoved, Instance: fsm.ServiceInstance{InstanceName: instance}})
		return
	}

	b.mu.Lock()
	alreadySeen := b.seen[instance]
	b.seen[instance] = true
	b.mu.Unlock()

	if !alreadySeen {
		b.emit(Event{Kind: ServiceAdded, Instance: fsm.ServiceInstance{InstanceName: instance}})
	}

	if !b.cfg.resolve {
		return
	}

	b.mu.Lock()
	_, resolving := b.resolvers[instance]
	b.mu.Unlock()
	if resolving {
		return
	}

	resolver := fsm.NewServiceResolver(sock, instance, in, nil)
	resolver.OnUpdate(func(inst fsm.ServiceInstance) {
		b.emit(Event{Kind: ServiceUpdated, Instance: inst})
	})

	b.mu.Lock()
	b.resolvers[instance] = resolver
	b.mu.Unlock()

	go resolver.Run(ctx)
}

func (b *Browser) emit(e Event) {
	select {
	case b.events <- e:
	default:
		log.WithField("instance", e.Instance.InstanceName).Warn("dropping browser event, channel full")
	}
}

// Stop halts browsing on every interface.
func (b *Browser) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
}

// SubtypeQuestion builds the service type string for browsing a subtype of
// baseType (e.g. SubtypeQuestion("_printer", "_http._tcp.local.") yields
// "_printer._sub._http._tcp.local.", RFC 6763 §7.1).
func SubtypeQuestion(subtype, baseType string) string {
	return fmt.Sprintf("%s._sub.%s", subtype, baseType)
}
