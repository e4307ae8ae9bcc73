// Package objmgr is an in-memory object manager holding the link vdevs and
// link peers the MLO manager refers to by handle.
package objmgr

import (
	"fmt"
	"sync"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
	"github.com/lcalzada-xor/mlomgr/internal/core/ports"
)

type vdevObj struct {
	info     domain.VdevInfo
	refs     int
	deleting bool
}

type peerObj struct {
	info     domain.LinkPeerInfo
	refs     int
	deleting bool
}

// Arena implements ports.ObjectManager. Destroyed objects stay reachable
// until their last reference is released, but no new reference is handed
// out once destruction started.
type Arena struct {
	mu       sync.Mutex
	vdevs    map[domain.VdevHandle]*vdevObj
	peers    map[domain.PeerHandle]*peerObj
	nextVdev domain.VdevHandle
	nextPeer domain.PeerHandle
}

func New() *Arena {
	return &Arena{
		vdevs: make(map[domain.VdevHandle]*vdevObj),
		peers: make(map[domain.PeerHandle]*peerObj),
	}
}

// CreateVdev stores info under a fresh handle and returns it.
func (a *Arena) CreateVdev(info domain.VdevInfo) domain.VdevHandle {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextVdev++
	info.Handle = a.nextVdev
	a.vdevs[info.Handle] = &vdevObj{info: info}
	return info.Handle
}

// UpdateVdev edits the stored view of vdev h.
func (a *Arena) UpdateVdev(h domain.VdevHandle, fn func(*domain.VdevInfo)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.vdevs[h]
	if !ok {
		return fmt.Errorf("%w: vdev %d", domain.ErrNotFound, h)
	}
	fn(&v.info)
	v.info.Handle = h
	return nil
}

// Vdev returns the stored view of vdev h.
func (a *Arena) Vdev(h domain.VdevHandle) (domain.VdevInfo, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.vdevs[h]
	if !ok {
		return domain.VdevInfo{}, false
	}
	return v.info, true
}

// DestroyVdev starts the destruction of vdev h.
func (a *Arena) DestroyVdev(h domain.VdevHandle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.vdevs[h]
	if !ok || v.deleting {
		return fmt.Errorf("%w: vdev %d", domain.ErrNotFound, h)
	}
	v.deleting = true
	if v.refs == 0 {
		delete(a.vdevs, h)
	}
	return nil
}

// CreatePeer stores a link peer attached to info.Vdev, counting it against
// the vdev's peers.
func (a *Arena) CreatePeer(info domain.LinkPeerInfo) (domain.PeerHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.vdevs[info.Vdev]
	if !ok || v.deleting {
		return 0, fmt.Errorf("%w: vdev %d", domain.ErrRefUnavailable, info.Vdev)
	}
	a.nextPeer++
	info.Handle = a.nextPeer
	a.peers[info.Handle] = &peerObj{info: info}
	v.info.PeerCount++
	return info.Handle, nil
}

// DestroyPeer starts the destruction of link peer h.
func (a *Arena) DestroyPeer(h domain.PeerHandle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.peers[h]
	if !ok || p.deleting {
		return fmt.Errorf("%w: peer %d", domain.ErrNotFound, h)
	}
	p.deleting = true
	if v, ok := a.vdevs[p.info.Vdev]; ok && v.info.PeerCount > 0 {
		v.info.PeerCount--
	}
	if p.refs == 0 {
		delete(a.peers, h)
	}
	return nil
}

// VdevRefs returns the number of outstanding references on vdev h.
func (a *Arena) VdevRefs(h domain.VdevHandle) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if v, ok := a.vdevs[h]; ok {
		return v.refs
	}
	return 0
}

// PeerRefs returns the number of outstanding references on peer h.
func (a *Arena) PeerRefs(h domain.PeerHandle) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.peers[h]; ok {
		return p.refs
	}
	return 0
}

func (a *Arena) TryAcquireVdev(h domain.VdevHandle) (ports.VdevRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.vdevs[h]
	if !ok || v.deleting {
		return nil, fmt.Errorf("%w: vdev %d", domain.ErrRefUnavailable, h)
	}
	v.refs++
	return &vdevRef{arena: a, h: h, info: v.info}, nil
}

func (a *Arena) TryAcquirePeer(h domain.PeerHandle) (ports.PeerRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.peers[h]
	if !ok || p.deleting {
		return nil, fmt.Errorf("%w: peer %d", domain.ErrRefUnavailable, h)
	}
	p.refs++
	return &peerRef{arena: a, h: h, info: p.info}, nil
}

func (a *Arena) releaseVdev(h domain.VdevHandle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.vdevs[h]
	if !ok {
		return
	}
	v.refs--
	if v.refs == 0 && v.deleting {
		delete(a.vdevs, h)
	}
}

func (a *Arena) releasePeer(h domain.PeerHandle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.peers[h]
	if !ok {
		return
	}
	p.refs--
	if p.refs == 0 && p.deleting {
		delete(a.peers, h)
	}
}

type vdevRef struct {
	arena *Arena
	h     domain.VdevHandle
	info  domain.VdevInfo
	once  sync.Once
}

func (r *vdevRef) Info() domain.VdevInfo { return r.info }

func (r *vdevRef) Release() {
	r.once.Do(func() { r.arena.releaseVdev(r.h) })
}

type peerRef struct {
	arena *Arena
	h     domain.PeerHandle
	info  domain.LinkPeerInfo
	once  sync.Once
}

func (r *peerRef) Info() domain.LinkPeerInfo { return r.info }

func (r *peerRef) Release() {
	r.once.Do(func() { r.arena.releasePeer(r.h) })
}
