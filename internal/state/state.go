// Package state 保存所有转发连接共享的计数器和对端地址
package state

import (
	"log/slog"
	"net/netip"
	"slices"
	"sync"
	"time"
)

// Result is what a finished connection reports when it deregisters.
type Result struct {
	BytesUp   int64
	BytesDown int64
	Err       error
}

// Snapshot is a coherent copy of State taken under a single lock.
type Snapshot struct {
	ActiveConnections    int
	CompletedConnections uint64
	FailedConnections    uint64
	BytesUpstream        uint64
	BytesDownstream      uint64
	PeerAddresses        []netip.AddrPort
	StartedAt            time.Time
}

type State struct {
	mu        sync.Mutex
	active    int
	completed uint64
	failed    uint64
	bytesUp   uint64
	bytesDown uint64
	peers     map[netip.AddrPort]struct{}
	startedAt time.Time
}

func New() *State {
	return &State{
		peers:     make(map[netip.AddrPort]struct{}),
		startedAt: time.Now(),
	}
}

// Register counts a connection as active and records its peer.
// Peers are never removed.
func (s *State) Register(peer netip.AddrPort) {
	peer = normalize(peer)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active++
	if peer.IsValid() {
		s.peers[peer] = struct{}{}
	}
}

// Deregister moves a connection from active to completed.
func (s *State) Deregister(r Result) {
	if s.deregister(r) {
		slog.Warn("Deregister without matching Register")
	}
}

func (s *State) deregister(r Result) (unmatched bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == 0 {
		unmatched = true
	} else {
		s.active--
	}
	s.completed++
	if r.Err != nil {
		s.failed++
	}
	if r.BytesUp > 0 {
		s.bytesUp += uint64(r.BytesUp)
	}
	if r.BytesDown > 0 {
		s.bytesDown += uint64(r.BytesDown)
	}
	return unmatched
}

func (s *State) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *State) Completed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

func (s *State) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

func (s *State) HasPeer(peer netip.AddrPort) bool {
	peer = normalize(peer)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.peers[peer]
	return ok
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		ActiveConnections:    s.active,
		CompletedConnections: s.completed,
		FailedConnections:    s.failed,
		BytesUpstream:        s.bytesUp,
		BytesDownstream:      s.bytesDown,
		PeerAddresses:        make([]netip.AddrPort, 0, len(s.peers)),
		StartedAt:            s.startedAt,
	}
	for p := range s.peers {
		snap.PeerAddresses = append(snap.PeerAddresses, p)
	}
	s.mu.Unlock()

	slices.SortFunc(snap.PeerAddresses, func(a, b netip.AddrPort) int {
		return a.Compare(b)
	})
	return snap
}

// normalize strips the IPv4-in-IPv6 prefix so one client maps to one key.
func normalize(p netip.AddrPort) netip.AddrPort {
	if !p.IsValid() {
		return p
	}
	return netip.AddrPortFrom(p.Addr().Unmap(), p.Port())
}
