package registry

import (
	"fmt"
	"sync"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
)

// PeerMember is an ML peer as the device table sees it.
type PeerMember interface {
	MLDAddress() domain.MAC
	Snapshot() domain.PeerSnapshot
}

// PeerList is the set of ML peers of one device, keyed by peer MLD address.
type PeerList struct {
	mu    sync.RWMutex
	peers map[domain.MAC]PeerMember
}

func newPeerList() *PeerList {
	return &PeerList{peers: make(map[domain.MAC]PeerMember)}
}

func (l *PeerList) Add(p PeerMember) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	addr := p.MLDAddress()
	if _, ok := l.peers[addr]; ok {
		return fmt.Errorf("%w: peer %s already on this device", domain.ErrDuplicateMldAddress, addr)
	}
	l.peers[addr] = p
	return nil
}

// Remove drops p if it is the member registered under its address.
func (l *PeerList) Remove(p PeerMember) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	addr := p.MLDAddress()
	if cur, ok := l.peers[addr]; ok && cur == p {
		delete(l.peers, addr)
		return true
	}
	return false
}

func (l *PeerList) Find(addr domain.MAC) (PeerMember, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.peers[addr]
	return p, ok
}

func (l *PeerList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.peers)
}

// All returns the members in no particular order.
func (l *PeerList) All() []PeerMember {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]PeerMember, 0, len(l.peers))
	for _, p := range l.peers {
		out = append(out, p)
	}
	return out
}
