package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
	"github.com/lcalzada-xor/mlomgr/internal/core/ports"
	"github.com/lcalzada-xor/mlomgr/internal/core/services/journal"
	"github.com/lcalzada-xor/mlomgr/internal/telemetry"
)

// post hands n to the notifier. The peer and vref, if any, stay referenced
// until the consumer calls Done. On failure they are released before post
// returns.
func (c *Coordinator) post(p *MlPeer, n domain.Notification, vref ports.VdevRef) error {
	n.PeerMLD = p.mldAddr
	n.PeerID = p.peerID
	n.AID = p.AID()

	p.get()
	var once sync.Once
	n.Done = func() {
		once.Do(func() {
			if vref != nil {
				vref.Release()
			}
			p.put()
		})
	}

	var err error
	if c.notify == nil {
		err = c.mgr.ExtOps().Dispatch(n)
		n.Done()
	} else if err = c.notify.Post(n); err != nil {
		n.Done()
	}
	if err != nil {
		telemetry.FanoutFailures.WithLabelValues(n.Kind.String()).Inc()
		journal.Emit(c.mgr.Journal(), domain.EventFanoutFailure, p.mldAddr.String(), -1,
			fmt.Sprintf("%s on vdev %d: %v", n.Kind, n.Vdev, err))
		slog.Warn("peer: notification not delivered", "kind", n.Kind.String(), "peer_mld", p.mldAddr,
			"vdev", n.Vdev, "error", err)
		return fmt.Errorf("%s on vdev %d: %w", n.Kind, n.Vdev, err)
	}
	return nil
}

// postLink posts a notification for one attached link peer, holding its
// vdev for the lifetime of the notification.
func (c *Coordinator) postLink(p *MlPeer, kind domain.NotificationKind, e LinkEntry, disassoc bool) error {
	vref, err := c.mgr.Objects().TryAcquireVdev(e.Vdev)
	if err != nil {
		telemetry.FanoutFailures.WithLabelValues(kind.String()).Inc()
		return fmt.Errorf("%s on vdev %d: %w", kind, e.Vdev, err)
	}
	n := domain.NewNotification(kind, e.Vdev)
	n.LinkPeer = e.Peer
	n.LinkAddr = e.LinkAddr
	n.Disassoc = disassoc
	return c.post(p, n, vref)
}

// postCreate asks partner vdev info to create its link peer for p.
func (c *Coordinator) postCreate(p *MlPeer, info domain.VdevInfo, params CreateParams) error {
	vref, err := c.mgr.Objects().TryAcquireVdev(info.Handle)
	if err != nil {
		telemetry.FanoutFailures.WithLabelValues(domain.NotifyPeerCreate.String()).Inc()
		return fmt.Errorf("%s on vdev %d: %w", domain.NotifyPeerCreate, info.Handle, err)
	}
	n := domain.NewNotification(domain.NotifyPeerCreate, info.Handle)
	for _, pl := range params.Partner.Links {
		if pl.LinkID == info.LinkID {
			n.LinkAddr = pl.LinkAddr
			break
		}
	}
	n.Frame = slices.Clone(params.Frame)
	return c.post(p, n, vref)
}

// AssocPost tells every link other than the association link that the
// association completed. It runs once per peer.
func (c *Coordinator) AssocPost(ctx context.Context, p *MlPeer) error {
	if p == nil {
		return fmt.Errorf("%w: ML peer", domain.ErrNullInput)
	}
	p.mu.Lock()
	if p.state != domain.PeerAssocDone || p.assocPosted {
		st, posted := p.state, p.assocPosted
		p.mu.Unlock()
		return fmt.Errorf("%w: ML peer %s is %s (posted=%t)", domain.ErrInvalidState, p.mldAddr, st, posted)
	}
	p.assocPosted = true
	p.mu.Unlock()

	var errs []error
	for _, e := range p.Links() {
		if e.AssocLink {
			continue
		}
		if err := c.mgr.ExtOps().CloneSecurity(e.Vdev, p.mldAddr); err != nil {
			slog.Warn("peer: security clone failed", "peer_mld", p.mldAddr, "vdev", e.Vdev, "error", err)
		}
		if err := c.postLink(p, domain.NotifyPeerAssoc, e, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// disconnectLocked moves p to DisconnectInitiated and reports whether it
// was already there.
func (p *MlPeer) disconnectLocked() (already bool) {
	if p.state == domain.PeerDisconnectInitiated {
		return true
	}
	p.state = domain.PeerDisconnectInitiated
	return false
}

func (c *Coordinator) onDisconnect(p *MlPeer, reason string) {
	telemetry.PeerTransitions.WithLabelValues(domain.PeerDisconnectInitiated.String()).Inc()
	journal.Emit(c.mgr.Journal(), domain.EventPeerDisconnect, p.mldAddr.String(), -1, reason)
	slog.Info("ML peer disconnecting", "peer_mld", p.mldAddr, "reason", reason)
}

// NotifyCreateFailed reports a failed association: the first link peer
// gets an association failure, the others a disconnect. Repeated calls do
// nothing.
func (c *Coordinator) NotifyCreateFailed(ctx context.Context, p *MlPeer) error {
	if p == nil {
		return fmt.Errorf("%w: ML peer", domain.ErrNullInput)
	}
	p.mu.Lock()
	already := p.disconnectLocked()
	p.mu.Unlock()
	if already {
		return nil
	}
	c.onDisconnect(p, "create failed")

	var errs []error
	for i, e := range p.Links() {
		kind := domain.NotifyPeerDisconnect
		if i == 0 {
			kind = domain.NotifyPeerAssocFail
		}
		if err := c.postLink(p, kind, e, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeauthInit starts a disconnect of every link of p. Exactly one link gets
// a deauth: trigger when it is attached, else the first link. The rest get
// a disconnect. Repeated calls do nothing.
func (c *Coordinator) DeauthInit(ctx context.Context, p *MlPeer, trigger domain.PeerHandle, disassoc bool) error {
	if p == nil {
		return fmt.Errorf("%w: ML peer", domain.ErrNullInput)
	}
	p.mu.Lock()
	already := p.disconnectLocked()
	p.mu.Unlock()
	if already {
		return nil
	}
	reason := "deauth"
	if disassoc {
		reason = "disassoc"
	}
	c.onDisconnect(p, reason)

	links := p.Links()
	target := 0
	for i, e := range links {
		if e.Peer == trigger {
			target = i
			break
		}
	}
	var errs []error
	for i, e := range links {
		kind := domain.NotifyPeerDisconnect
		if i == target {
			kind = domain.NotifyPeerDeauth
		}
		if err := c.postLink(p, kind, e, disassoc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DisconnectNotify handles link peer src going away on its own. On an AP
// MLD the other links are told to disconnect; an STA MLD only records the
// state.
func (c *Coordinator) DisconnectNotify(ctx context.Context, p *MlPeer, src domain.PeerHandle) error {
	if p == nil {
		return fmt.Errorf("%w: ML peer", domain.ErrNullInput)
	}
	p.mu.Lock()
	already := p.disconnectLocked()
	p.mu.Unlock()
	if already {
		return nil
	}
	c.onDisconnect(p, "link disconnect")
	if !p.dev.IsAP() {
		return nil
	}

	var errs []error
	for _, e := range p.Links() {
		if e.Peer == src {
			continue
		}
		if err := c.postLink(p, domain.NotifyPeerDisconnect, e, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
