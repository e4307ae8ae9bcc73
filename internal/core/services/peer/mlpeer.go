package peer

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
	"github.com/lcalzada-xor/mlomgr/internal/core/services/registry"
)

// LinkEntry is one link peer attached to an ML peer.
type LinkEntry struct {
	Peer     domain.PeerHandle
	Vdev     domain.VdevHandle
	LinkAddr domain.MAC
	// Slot is the index of Vdev in the owning device's link array.
	Slot      int
	LinkID    uint8
	HwLinkID  uint16
	ChipID    uint8
	Primary   bool
	AssocLink bool
	assocResp []byte
}

// PendingAuth is an authentication request deferred while the ML peer of
// the same MLD address is being deleted.
type PendingAuth struct {
	Vdev     domain.VdevHandle
	LinkAddr domain.MAC
	Frame    []byte
}

// MlPeer is one associated multi-link station.
type MlPeer struct {
	dev     *registry.Device
	mldAddr domain.MAC
	peerID  uint16
	release func(*MlPeer)

	// refs counts the peer table, each attached link and each notification
	// in flight.
	refs atomic.Int32

	mu          sync.Mutex
	aid         uint16
	aidOwned    bool
	state       domain.PeerState
	maxLinks    int
	links       [domain.MaxLinkPeers]*LinkEntry
	linkCount   int
	primaryChip uint8
	loadRSSI    int
	loadCounted bool
	passThrough bool
	assocPosted bool
	detached    bool
	partner     domain.PartnerInfo
	prefersT2LM bool
	pendingAuth [domain.MaxPendingAuth]*PendingAuth
}

func (p *MlPeer) MLDAddress() domain.MAC { return p.mldAddr }

func (p *MlPeer) PeerID() uint16 { return p.peerID }

func (p *MlPeer) Device() *registry.Device { return p.dev }

func (p *MlPeer) AID() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.aid
}

func (p *MlPeer) State() domain.PeerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *MlPeer) LinkCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.linkCount
}

func (p *MlPeer) MaxLinks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxLinks
}

// PrimaryChip returns domain.InvalidChipID until a primary link is chosen.
func (p *MlPeer) PrimaryChip() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.primaryChip
}

// Partner returns the partner links negotiated at creation.
func (p *MlPeer) Partner() domain.PartnerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.PartnerInfo{Links: slices.Clone(p.partner.Links)}
}

// Refs returns the current reference count.
func (p *MlPeer) Refs() int {
	return int(p.refs.Load())
}

func (p *MlPeer) get() {
	p.refs.Add(1)
}

func (p *MlPeer) put() {
	if p.refs.Add(-1) == 0 && p.release != nil {
		p.release(p)
	}
}

// Links returns copies of the attached entries in entry order.
func (p *MlPeer) Links() []LinkEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]LinkEntry, 0, p.linkCount)
	for _, e := range p.links {
		if e != nil {
			c := *e
			c.assocResp = nil
			out = append(out, c)
		}
	}
	return out
}

func (p *MlPeer) entryLocked(h domain.PeerHandle) (int, *LinkEntry) {
	for i, e := range p.links {
		if e != nil && e.Peer == h {
			return i, e
		}
	}
	return -1, nil
}

func (p *MlPeer) assocEntryLocked() *LinkEntry {
	for _, e := range p.links {
		if e != nil && e.AssocLink {
			return e
		}
	}
	for _, e := range p.links {
		if e != nil {
			return e
		}
	}
	return nil
}

// markPrimaryLocked flags the first entry on the primary chip.
func (p *MlPeer) markPrimaryLocked() {
	if p.primaryChip == domain.InvalidChipID {
		return
	}
	for _, e := range p.links {
		if e != nil && e.Primary {
			return
		}
	}
	for _, e := range p.links {
		if e != nil && e.ChipID == p.primaryChip {
			e.Primary = true
			return
		}
	}
}

// completeLocked moves a fully attached peer to AssocDone and reports
// whether the association response is due.
func (p *MlPeer) completeLocked() (done bool, sendResp bool) {
	if p.state != domain.PeerCreated || p.linkCount != p.maxLinks {
		return false, false
	}
	p.state = domain.PeerAssocDone
	return true, p.dev.IsAP() && !p.passThrough
}

func (p *MlPeer) Snapshot() domain.PeerSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := domain.PeerSnapshot{
		MLDAddr:     p.mldAddr,
		PeerID:      p.peerID,
		AID:         p.aid,
		State:       p.state.String(),
		MaxLinks:    p.maxLinks,
		PrimaryChip: p.primaryChip,
	}
	for i, e := range p.links {
		if e == nil {
			continue
		}
		snap.Links = append(snap.Links, domain.PeerLinkSnapshot{
			LinkPeer:  e.Peer,
			Vdev:      e.Vdev,
			LinkAddr:  e.LinkAddr,
			LinkIndex: i,
			HwLinkID:  e.HwLinkID,
			IsPrimary: e.Primary,
		})
	}
	return snap
}
