package transport

import (
	"sync"

	"github.com/onoffswitch/beacon/internal/netiface"
)

// Registry is the shared-socket owner spec §4.4 describes: "maintains
// reference count of users; the last stopUsing() closes sockets." Every
// long-lived actor on an interface (a Responder, a Browser's query) calls
// Acquire instead of Open so they multiplex one bound multicast socket per
// (interface, family) pair rather than each binding SO_REUSEPORT sockets of
// their own.
type Registry struct {
	mu      sync.Mutex
	sockets map[string]*Socket
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sockets: make(map[string]*Socket)}
}

// Acquire returns the shared socket for iface, opening and joining its
// multicast group on first use and retaining (ref-counting) it on every
// subsequent call. Pair every Acquire with a Release.
func (reg *Registry) Acquire(iface netiface.Interface) (*Socket, error) {
	key := registryKey(iface)

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if s, ok := reg.sockets[key]; ok {
		s.Retain()
		return s, nil
	}

	s, err := Open(iface, true)
	if err != nil {
		return nil, err
	}
	s.Retain()
	reg.sockets[key] = s
	return s, nil
}

// Release gives back one reference acquired for iface; the socket closes
// once its last holder releases it.
func (reg *Registry) Release(iface netiface.Interface, s *Socket) {
	key := registryKey(iface)

	reg.mu.Lock()
	defer reg.mu.Unlock()

	closed, _ := s.Release()
	if closed {
		delete(reg.sockets, key)
	}
}

func registryKey(iface netiface.Interface) string {
	return iface.Name + "/" + iface.Family.String()
}
