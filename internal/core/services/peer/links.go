package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
)

// DeferAuth parks an authentication frame received on vdev from linkAddr
// while p is going away. A newer frame from the same link address replaces
// the parked one. Parked frames are posted as pending-auth notifications
// once the last link of p detaches.
func (c *Coordinator) DeferAuth(ctx context.Context, p *MlPeer, vdev domain.VdevHandle, linkAddr domain.MAC, frame []byte) error {
	if p == nil {
		return fmt.Errorf("%w: ML peer", domain.ErrNullInput)
	}
	if !c.mgr.Features().AuthDefer {
		return fmt.Errorf("%w: deferred authentication", domain.ErrNotSupported)
	}
	pa := &PendingAuth{Vdev: vdev, LinkAddr: linkAddr, Frame: slices.Clone(frame)}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.detached {
		return fmt.Errorf("%w: ML peer %s already cleaned up", domain.ErrInvalidState, p.mldAddr)
	}
	free := -1
	for i, cur := range p.pendingAuth {
		if cur == nil {
			if free < 0 {
				free = i
			}
			continue
		}
		if cur.LinkAddr == linkAddr {
			p.pendingAuth[i] = pa
			return nil
		}
	}
	if free < 0 {
		return fmt.Errorf("%w: %d authentications already pending for %s", domain.ErrOutOfCapacity, len(p.pendingAuth), p.mldAddr)
	}
	p.pendingAuth[free] = pa
	return nil
}

// PendingAuthCount returns the number of parked authentication frames.
func (p *MlPeer) PendingAuthCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, pa := range p.pendingAuth {
		if pa != nil {
			n++
		}
	}
	return n
}

// drainPendingAuth hands every deferred authentication of p back to the MLME
// layer. Entries that cannot be delivered are dropped.
func (c *Coordinator) drainPendingAuth(p *MlPeer) error {
	p.mu.Lock()
	pending := p.pendingAuth
	p.pendingAuth = [domain.MaxPendingAuth]*PendingAuth{}
	p.mu.Unlock()

	var errs []error
	for _, pa := range pending {
		if pa == nil {
			continue
		}
		vref, err := c.mgr.Objects().TryAcquireVdev(pa.Vdev)
		if err != nil {
			errs = append(errs, fmt.Errorf("vdev %d: %w", pa.Vdev, err))
			continue
		}
		n := domain.NewNotification(domain.NotifyPendingAuth, pa.Vdev)
		n.LinkAddr = pa.LinkAddr
		n.Frame = pa.Frame
		if err := c.post(p, n, vref); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeleteIsAllowed reports whether link peer h may be deleted on its own
// while its link is being removed from the MLD. Outside link removal any
// link peer may go.
func (c *Coordinator) DeleteIsAllowed(p *MlPeer, h domain.PeerHandle, linkRemoval bool) bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, e := p.entryLocked(h)
	if e == nil {
		return false
	}
	if !linkRemoval {
		return true
	}
	if p.linkCount == 1 {
		return false
	}
	return e.Primary
}

// AssocResponseBuffer returns a copy of the association response cached for
// link peer h.
func (c *Coordinator) AssocResponseBuffer(p *MlPeer, h domain.PeerHandle) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, e := p.entryLocked(h)
	if e == nil {
		return nil, fmt.Errorf("%w: link peer %d on %s", domain.ErrNotFound, h, p.mldAddr)
	}
	if e.assocResp == nil {
		return nil, fmt.Errorf("%w: no association response cached for link peer %d", domain.ErrNotFound, h)
	}
	return slices.Clone(e.assocResp), nil
}

// SetAssocResponseBuffer replaces the cached association response of link
// peer h. A nil frame drops it.
func (c *Coordinator) SetAssocResponseBuffer(p *MlPeer, h domain.PeerHandle, frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, e := p.entryLocked(h)
	if e == nil {
		return fmt.Errorf("%w: link peer %d on %s", domain.ErrNotFound, h, p.mldAddr)
	}
	e.assocResp = slices.Clone(frame)
	return nil
}

// AssocRequestBuffer returns the association request received on the
// association link.
func (c *Coordinator) AssocRequestBuffer(p *MlPeer) ([]byte, error) {
	p.mu.Lock()
	e := p.assocEntryLocked()
	var h domain.PeerHandle
	if e != nil {
		h = e.Peer
	}
	p.mu.Unlock()
	if e == nil {
		return nil, fmt.Errorf("%w: ML peer %s has no links", domain.ErrNotFound, p.mldAddr)
	}
	return c.mgr.ExtOps().AssocReqBuffer(h)
}

// PartnerLinksInfo describes every attached link except exclude. It is
// empty once p started disconnecting.
func (c *Coordinator) PartnerLinksInfo(p *MlPeer, exclude domain.PeerHandle) []domain.PeerLinkSnapshot {
	snap := p.Snapshot()
	if snap.State == domain.PeerDisconnectInitiated.String() {
		return nil
	}
	out := make([]domain.PeerLinkSnapshot, 0, len(snap.Links))
	for _, l := range snap.Links {
		if l.LinkPeer != exclude {
			out = append(out, l)
		}
	}
	return out
}

// PrimaryLinkID returns the IEEE link id of the primary link of p.
func (c *Coordinator) PrimaryLinkID(p *MlPeer) (uint8, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == domain.PeerDisconnectInitiated {
		return domain.InvalidLinkID, fmt.Errorf("%w: ML peer %s is %s", domain.ErrInvalidState, p.mldAddr, p.state)
	}
	for _, e := range p.links {
		if e != nil && e.Primary {
			return e.LinkID, nil
		}
	}
	return domain.InvalidLinkID, fmt.Errorf("%w: ML peer %s has no primary link", domain.ErrNotFound, p.mldAddr)
}
