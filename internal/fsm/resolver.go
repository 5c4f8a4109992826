package fsm

import (
	"context"
	"sync"
	"time"

	"github.com/onoffswitch/beacon/internal/message"
	"github.com/onoffswitch/beacon/internal/protocol"
	"github.com/onoffswitch/beacon/internal/proto"
	"github.com/onoffswitch/beacon/internal/records"
	"github.com/onoffswitch/beacon/internal/transport"
)

// ResolverState names the ServiceResolver FSM's states per spec §4.9.
type ResolverState int

const (
	StateUnresolved ResolverState = iota
	StateResolved
	StateResolverStopped
)

// ServiceInstance is the resolved address/port/metadata view of a single
// DNS-SD service instance (spec §4.9's resolution target): the SRV target
// and port, the TXT key/value set, and every A/AAAA address learned for
// the target host.
type ServiceInstance struct {
	InstanceName string
	Target       string
	Port         uint16
	TXT          []message.TXTPair
	Addrs        []records.Record // A/AAAA records for Target
}

// ServiceResolver tracks one service instance name (e.g.
// "My Printer._ipp._tcp.local.") from first sighting through to a fully
// resolved ServiceInstance, re-querying for whatever piece (SRV, TXT,
// address) is still missing. It does not watch the cache: a constituent
// record reaching its reissue point or expiring neither triggers a re-query
// nor returns the instance to unresolved.
type ServiceResolver struct {
	mu    sync.Mutex
	state ResolverState

	Socket       *transport.Socket
	InstanceName string
	In           <-chan *message.Packet
	KnownAnswers func(message.Question) []records.Record
	Timeout      time.Duration

	instance ServiceInstance
	onUpdate func(ServiceInstance)

	cancel context.CancelFunc
}

// NewServiceResolver constructs a resolver for instanceName. Call Run in
// its own goroutine.
func NewServiceResolver(sock *transport.Socket, instanceName string, in <-chan *message.Packet, known func(message.Question) []records.Record) *ServiceResolver {
	return &ServiceResolver{
		Socket:       sock,
		InstanceName: instanceName,
		In:           in,
		KnownAnswers: known,
		Timeout:      protocol.ResolverTimeout,
		state:        StateUnresolved,
		instance:     ServiceInstance{InstanceName: instanceName},
	}
}

// OnUpdate registers a callback invoked every time the resolver learns
// something new, with the current (possibly still partial) instance view.
func (sr *ServiceResolver) OnUpdate(fn func(ServiceInstance)) { sr.onUpdate = fn }

// State returns the resolver's current state.
func (sr *ServiceResolver) State() ResolverState {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.state
}

// Run drives the resolver: issue SRV/TXT queries for InstanceName, then
// address queries once a target host is known, processing inbound answers,
// until ctx is canceled or Timeout elapses while still unresolved. The
// queries re-send on their own continuous backoff; there is no batching of
// re-queries.
func (sr *ServiceResolver) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	sr.cancel = cancel
	defer cancel()

	timeoutCtx, timeoutCancel := context.WithTimeout(ctx, sr.Timeout)
	defer timeoutCancel()

	questions := []message.Question{
		{Name: sr.InstanceName, Type: protocol.TypeSRV, Class: protocol.ClassIN},
		{Name: sr.InstanceName, Type: protocol.TypeTXT, Class: protocol.ClassIN},
	}
	q := proto.NewQuery(sr.Socket, questions, proto.Continuous, sr.KnownAnswers, sr.In)
	go q.Run(timeoutCtx)

	addrQueryStarted := false
	var addrQuery *proto.Query

	for {
		select {
		case <-ctx.Done():
			sr.setState(StateResolverStopped)
			return
		case <-timeoutCtx.Done():
			sr.mu.Lock()
			resolved := sr.state == StateResolved
			sr.mu.Unlock()
			if !resolved {
				sr.setState(StateResolverStopped)
				return
			}
		case ans, ok := <-q.Answers:
			if !ok {
				continue
			}
			sr.processRecord(ans.Record)
		}

		sr.mu.Lock()
		needAddr := sr.instance.Target != "" && len(sr.instance.Addrs) == 0
		sr.mu.Unlock()
		if needAddr && !addrQueryStarted {
			addrQueryStarted = true
			addrQuestions := []message.Question{
				{Name: sr.instance.Target, Type: protocol.TypeA, Class: protocol.ClassIN},
				{Name: sr.instance.Target, Type: protocol.TypeAAAA, Class: protocol.ClassIN},
			}
			addrQuery = proto.NewQuery(sr.Socket, addrQuestions, proto.Continuous, sr.KnownAnswers, sr.In)
			go addrQuery.Run(timeoutCtx)
			go sr.drainAddrAnswers(addrQuery)
		}

		if sr.isComplete() {
			sr.setState(StateResolved)
		}
	}
}

func (sr *ServiceResolver) drainAddrAnswers(q *proto.Query) {
	for ans := range q.Answers {
		sr.processRecord(ans.Record)
	}
}

func (sr *ServiceResolver) processRecord(rec records.Record) {
	sr.mu.Lock()
	switch rec.Type {
	case protocol.TypeSRV:
		sr.instance.Target = rec.SRV.Target
		sr.instance.Port = rec.SRV.Port
	case protocol.TypeTXT:
		sr.instance.TXT = rec.TXT
	case protocol.TypeA, protocol.TypeAAAA:
		sr.instance.Addrs = appendUniqueAddr(sr.instance.Addrs, rec)
	}
	snapshot := sr.instance
	sr.mu.Unlock()

	if sr.onUpdate != nil {
		sr.onUpdate(snapshot)
	}
}

func appendUniqueAddr(addrs []records.Record, rec records.Record) []records.Record {
	for _, a := range addrs {
		if a.Hash() == rec.Hash() {
			return addrs
		}
	}
	return append(addrs, rec)
}

func (sr *ServiceResolver) isComplete() bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.instance.Target != "" && len(sr.instance.Addrs) > 0
}

func (sr *ServiceResolver) setState(s ResolverState) {
	sr.mu.Lock()
	sr.state = s
	sr.mu.Unlock()
}

// Instance returns a snapshot of what the resolver currently knows,
// complete or not.
func (sr *ServiceResolver) Instance() ServiceInstance {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.instance
}

// Stop halts the resolver.
func (sr *ServiceResolver) Stop() {
	if sr.cancel != nil {
		sr.cancel()
	}
}
