// Package responder implements the Advertisement orchestrator of spec
// §4.11/§6: given a hostname and zero or more services, it builds the
// record sets (A/AAAA/NSEC for the host, PTR/SRV/TXT/subtype-PTR per
// service) and drives one fsm.Responder per owner name — a hostname
// Responder, then one service Responder per configured Service, started
// only once the hostname Responder finishes probing — across every
// configured interface.
package responder

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/onoffswitch/beacon/internal/errors"
	"github.com/onoffswitch/beacon/internal/fsm"
	"github.com/onoffswitch/beacon/internal/message"
	"github.com/onoffswitch/beacon/internal/netiface"
	"github.com/onoffswitch/beacon/internal/protocol"
	"github.com/onoffswitch/beacon/internal/records"
	"github.com/onoffswitch/beacon/internal/transport"
	"github.com/onoffswitch/beacon/logging"
)

var log = logging.New("responder")

// Service describes one DNS-SD service instance to advertise.
type Service struct {
	// Instance is the user-facing instance label (e.g. "Office Printer"),
	// not including the service type suffix.
	Instance string
	// Type is the service type ("_http._tcp" or "_http._tcp.local."; the
	// trailing ".local." is appended if missing).
	Type string
	// Port is the TCP/UDP port the service listens on.
	Port uint16
	// TXT is the service's key/value metadata (RFC 6763 §6).
	TXT map[string]string
	// Subtypes lists additional selector strings (RFC 6763 §7.1) advertised
	// alongside the service's primary type, e.g. "_printer".
	Subtypes []string
}

// key identifies a configured Service independent of any probe-forced
// rename, for UpdateTXT lookups and per-interface Responder bookkeeping.
func (s Service) key() string {
	return s.Instance + "|" + ensureLocalSuffix(s.Type)
}

// Option configures an Advertisement.
type Option func(*config)

type config struct {
	ifaceNames []string
	services   []Service
}

func newConfig() *config { return &config{} }

// WithInterfaces restricts advertising to the named interfaces instead of
// every usable default interface.
func WithInterfaces(names ...string) Option {
	return func(c *config) { c.ifaceNames = names }
}

// WithService adds a service instance to advertise alongside the hostname.
func WithService(s Service) Option {
	return func(c *config) { c.services = append(c.services, s) }
}

// Advertisement owns every record set and Responder FSM needed to announce
// a hostname (and its services) on the network, and to withdraw them
// cleanly on Stop.
type Advertisement struct {
	hostname string
	cfg      *config
	registry *transport.Registry

	mu                sync.Mutex
	ifaceSockets      []ifaceSocket
	hostResponders    []*fsm.Responder
	serviceResponders map[string][]*fsm.Responder
	cancel            context.CancelFunc
	currentHostname   string
}

type ifaceSocket struct {
	iface netiface.Interface
	sock  *transport.Socket
}

// New constructs an Advertisement for hostname (e.g. "my-printer.local.";
// the trailing ".local." is appended if missing). Call Run to start
// advertising.
func New(hostname string, opts ...Option) *Advertisement {
	cfg := newConfig()
	for _, o := range opts {
		o(cfg)
	}
	return &Advertisement{
		hostname:          ensureLocalSuffix(hostname),
		cfg:               cfg,
		registry:          transport.NewRegistry(),
		serviceResponders: make(map[string][]*fsm.Responder),
		currentHostname:   ensureLocalSuffix(hostname),
	}
}

func ensureLocalSuffix(name string) string {
	if strings.HasSuffix(name, ".") {
		if strings.HasSuffix(name, ".local.") {
			return name
		}
		return name + "local."
	}
	if strings.HasSuffix(name, ".local") {
		return name + "."
	}
	return name + ".local."
}

// Run starts advertising on every matching interface, probing, announcing,
// and defending until ctx is canceled or Stop is called. It blocks.
func (a *Advertisement) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
	defer cancel()

	ifaces, err := a.interfaces()
	if err != nil {
		return err
	}
	if len(ifaces) == 0 {
		return &errors.ValidationError{Field: "interfaces", Message: "no usable interfaces to advertise on"}
	}

	var wg sync.WaitGroup
	for _, iface := range ifaces {
		iface := iface
		sock, err := a.registry.Acquire(iface)
		if err != nil {
			log.WithError(err).WithField("interface", iface.Name).Warn("skipping interface")
			continue
		}

		a.mu.Lock()
		a.ifaceSockets = append(a.ifaceSockets, ifaceSocket{iface: iface, sock: sock})
		a.mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			a.runInterface(ctx, iface, ifaces, sock)
		}()
	}

	wg.Wait()
	return nil
}

// runInterface sequences spec §4.11's start sequence for one interface:
// start the hostname Responder, wait for its probingComplete, then start
// one Responder per configured service. All of them share the interface's
// inbound packet stream, fanned out so every Responder sees every packet.
func (a *Advertisement) runInterface(ctx context.Context, iface netiface.Interface, allIfaces []netiface.Interface, sock *transport.Socket) {
	hostIn := make(chan *message.Packet, 64)
	serviceIns := make([]chan *message.Packet, len(a.cfg.services))
	subscribers := []chan<- *message.Packet{hostIn}
	for i := range a.cfg.services {
		serviceIns[i] = make(chan *message.Packet, 64)
		subscribers = append(subscribers, serviceIns[i])
	}
	go a.dispatch(ctx, sock, subscribers)

	hostRecs := a.hostRecords(iface)
	bridgeable := a.bridgeableRecords(allIfaces, iface)

	hostResponder := fsm.NewResponder(sock, hostRecs, bridgeable, hostIn)
	hostResponder.OnRename(a.onHostRename)

	probingComplete := make(chan struct{})
	var closeOnce sync.Once
	hostResponder.OnStateChange(func(s fsm.ResponderState) {
		if s == fsm.StateResponding {
			closeOnce.Do(func() { close(probingComplete) })
		}
	})

	a.mu.Lock()
	a.hostResponders = append(a.hostResponders, hostResponder)
	a.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hostResponder.Run(ctx)
	}()

	select {
	case <-probingComplete:
	case <-ctx.Done():
		wg.Wait()
		return
	}

	for i, svc := range a.cfg.services {
		svc := svc
		recs := a.serviceRecords(svc)
		rsp := fsm.NewResponder(sock, recs, nil, serviceIns[i])
		rsp.OnRename(func(oldName, newName string) {
			log.WithField("old", oldName).WithField("new", newName).Info("service instance renamed after probe conflict")
		})

		a.mu.Lock()
		a.serviceResponders[svc.key()] = append(a.serviceResponders[svc.key()], rsp)
		a.mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			rsp.Run(ctx)
		}()
	}

	wg.Wait()
}

// onHostRename fires when the hostname Responder renames after a probe
// conflict: it updates the tracked current hostname and propagates the new
// target into every service Responder's SRV records via UpdateEach, per
// spec §4.11: "On hostname rename(newHost): update the service Responder's
// SRV records' target via updateEach."
func (a *Advertisement) onHostRename(oldName, newName string) {
	log.WithField("old", oldName).WithField("new", newName).Info("renamed after probe conflict")

	a.mu.Lock()
	if oldName == a.currentHostname {
		a.currentHostname = newName
	}
	var services []*fsm.Responder
	for _, set := range a.serviceResponders {
		services = append(services, set...)
	}
	a.mu.Unlock()

	for _, rsp := range services {
		rsp.UpdateEach(protocol.TypeSRV, func(rec *records.Record) {
			if rec.SRV.Target == oldName {
				rec.SRV.Target = newName
			}
		})
	}
}

// dispatch reads inbound packets from sock and fans each one out to every
// subscriber (the hostname Responder and every service Responder sharing
// this interface), since a plain channel send only reaches one receiver.
func (a *Advertisement) dispatch(ctx context.Context, sock *transport.Socket, subscribers []chan<- *message.Packet) {
	raw := make(chan transport.Inbound, 64)
	go sock.ReadLoop(ctx, raw, func(err error) { log.WithError(err).Debug("read error") })
	for {
		select {
		case <-ctx.Done():
			return
		case inb, ok := <-raw:
			if !ok {
				return
			}
			for _, sub := range subscribers {
				select {
				case sub <- inb.Packet:
				case <-ctx.Done():
					return
				default:
					// A slow subscriber doesn't get to stall the others.
				}
			}
		}
	}
}

func (a *Advertisement) interfaces() ([]netiface.Interface, error) {
	if len(a.cfg.ifaceNames) > 0 {
		all, err := netiface.All()
		if err != nil {
			return nil, err
		}
		return netiface.ByName(all, a.cfg.ifaceNames), nil
	}
	return netiface.Default()
}

// hostRecords builds the hostname's address/NSEC records, bound to iface's
// address.
func (a *Advertisement) hostRecords(iface netiface.Interface) []records.Record {
	var recs []records.Record

	hostRec := records.Record{Name: a.hostname, Class: protocol.ClassIN, TTL: protocol.TTLUnique, Flush: true}
	var nsecTypes []protocol.RRType
	if iface.Family == netiface.FamilyIPv4 {
		hostRec.Type = protocol.TypeA
		hostRec.A = iface.Address
		nsecTypes = []protocol.RRType{protocol.TypeA}
	} else {
		hostRec.Type = protocol.TypeAAAA
		hostRec.AAAA = iface.Address
		nsecTypes = []protocol.RRType{protocol.TypeAAAA}
	}
	recs = append(recs, hostRec)
	recs = append(recs, records.Record{
		Name: a.hostname, Type: protocol.TypeNSEC, Class: protocol.ClassIN, TTL: protocol.TTLUnique, Flush: true,
		NSEC: records.NSECData{NextName: a.hostname, Types: nsecTypes},
	})
	return recs
}

// bridgeableRecords builds the "our own address on another local
// interface" set spec §4.11 step 3 requires (IPv4 always, IPv6 only
// link-local), so the hostname Responder never treats its own multi-homed
// addresses as a naming conflict.
func (a *Advertisement) bridgeableRecords(allIfaces []netiface.Interface, current netiface.Interface) []records.Record {
	var out []records.Record
	for _, iface := range allIfaces {
		if iface.Name == current.Name && iface.Family == current.Family {
			continue
		}
		if iface.Family == netiface.FamilyIPv6 && !iface.Address.IsLinkLocalUnicast() {
			continue
		}
		rec := records.Record{Name: a.hostname, Class: protocol.ClassIN, TTL: protocol.TTLUnique, Flush: true}
		if iface.Family == netiface.FamilyIPv4 {
			rec.Type = protocol.TypeA
			rec.A = iface.Address
		} else {
			rec.Type = protocol.TypeAAAA
			rec.AAAA = iface.Address
		}
		out = append(out, rec)
	}
	return out
}

func (a *Advertisement) serviceRecords(svc Service) []records.Record {
	svcType := ensureLocalSuffix(svc.Type)
	label := svc.Instance
	if label == "" {
		label = instanceUUIDFallback()
	}
	instanceName := fmt.Sprintf("%s.%s", label, svcType)

	var recs []records.Record

	recs = append(recs, records.Record{
		Name: svcType, Type: protocol.TypePTR, Class: protocol.ClassIN, TTL: protocol.TTLShared,
		PTR: instanceName,
	})
	for _, sub := range svc.Subtypes {
		recs = append(recs, records.Record{
			Name: fmt.Sprintf("%s._sub.%s", sub, svcType), Type: protocol.TypePTR, Class: protocol.ClassIN, TTL: protocol.TTLShared,
			PTR: instanceName,
		})
	}

	recs = append(recs, records.Record{
		Name: instanceName, Type: protocol.TypeSRV, Class: protocol.ClassIN, TTL: protocol.TTLUnique, Flush: true,
		SRV: message.SRVData{Priority: 0, Weight: 0, Port: svc.Port, Target: a.hostname},
	})

	pairs := make([]message.TXTPair, 0, len(svc.TXT))
	for k, v := range svc.TXT {
		pairs = append(pairs, message.TXTPair{Key: k, Value: v})
	}
	recs = append(recs, records.Record{
		Name: instanceName, Type: protocol.TypeTXT, Class: protocol.ClassIN, TTL: protocol.TTLUnique, Flush: true,
		TXT: pairs,
	})

	return recs
}

// Hostname returns the advertised hostname, reflecting any rename a probe
// conflict has forced.
func (a *Advertisement) Hostname() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentHostname
}

// UpdateTXT replaces the TXT record for the named service instance (per
// Service.Instance/Service.Type as originally configured, not any renamed
// form) and re-announces it on every interface, per spec §6's
// updateTXT(obj). Unlike the single-service model spec §6 describes, an
// Advertisement here may carry several services, so the instance/type pair
// identifies which one to update.
func (a *Advertisement) UpdateTXT(instance, serviceType string, txt map[string]string) error {
	if err := validateTXT(txt); err != nil {
		return err
	}
	pairs := make([]message.TXTPair, 0, len(txt))
	for k, v := range txt {
		pairs = append(pairs, message.TXTPair{Key: k, Value: v})
	}

	key := Service{Instance: instance, Type: serviceType}.key()
	a.mu.Lock()
	responders := append([]*fsm.Responder(nil), a.serviceResponders[key]...)
	a.mu.Unlock()
	if len(responders) == 0 {
		return &errors.ValidationError{Field: "instance", Value: instance, Message: "no advertised service instance with that name/type"}
	}

	for _, rsp := range responders {
		rsp.UpdateEach(protocol.TypeTXT, func(rec *records.Record) { rec.TXT = pairs })
	}
	return nil
}

// validateTXT enforces spec §6's TXT validation: keys 1-9 bytes of
// printable ASCII without '=', unique case-insensitively; each key/value
// pair at most 255 bytes; the whole set at most 1300 bytes.
func validateTXT(txt map[string]string) error {
	seen := make(map[string]bool, len(txt))
	total := 0
	for k, v := range txt {
		lower := strings.ToLower(k)
		if seen[lower] {
			return &errors.ValidationError{Field: "txt", Value: k, Message: "duplicate TXT key (case-insensitive)"}
		}
		seen[lower] = true

		if len(k) == 0 || len(k) > 9 {
			return &errors.ValidationError{Field: "txt", Value: k, Message: "TXT key must be 1-9 bytes"}
		}
		if strings.ContainsRune(k, '=') {
			return &errors.ValidationError{Field: "txt", Value: k, Message: "TXT key must not contain '='"}
		}
		for _, c := range k {
			if c < 0x20 || c > 0x7e {
				return &errors.ValidationError{Field: "txt", Value: k, Message: "TXT key must be printable ASCII"}
			}
		}

		pair := len(k) + len(v)
		if v != "" {
			pair++ // '=' separator
		}
		if pair > 255 {
			return &errors.ValidationError{Field: "txt", Value: k, Message: "TXT key/value pair exceeds 255 bytes"}
		}
		total += pair
	}
	if total > 1300 {
		return &errors.ValidationError{Field: "txt", Message: "TXT record set exceeds 1300 bytes"}
	}
	return nil
}

// Stop withdraws every advertised record (sending goodbyes) and halts
// advertising on every interface.
func (a *Advertisement) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	sockets := append([]ifaceSocket(nil), a.ifaceSockets...)
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, is := range sockets {
		a.registry.Release(is.iface, is.sock)
	}
}

// instanceUUIDFallback generates a unique placeholder instance label when a
// caller supplies an empty Service.Instance, so two anonymous services on
// the same host don't collide under the same owner name.
func instanceUUIDFallback() string {
	return uuid.NewString()
}
