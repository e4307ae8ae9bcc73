// Package peer drives the lifecycle of multi-link peers and the cross-link
// notifications that keep their links in step.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
	"github.com/lcalzada-xor/mlomgr/internal/core/ports"
	"github.com/lcalzada-xor/mlomgr/internal/core/services/journal"
	"github.com/lcalzada-xor/mlomgr/internal/core/services/registry"
	"github.com/lcalzada-xor/mlomgr/internal/telemetry"
)

// CreateParams describes the association that creates an ML peer.
type CreateParams struct {
	LinkPeer domain.PeerHandle
	Partner  domain.PartnerInfo
	// Frame is the triggering association frame. Partner links get a copy.
	Frame []byte
	// AID is domain.AllocateAID or an AID chosen elsewhere, e.g. by firmware.
	AID         uint16
	PrefersT2LM bool
}

// Coordinator owns the ML peers of every device of one Manager.
type Coordinator struct {
	mgr    *registry.Manager
	notify ports.Notifier
	policy ports.PrimaryLinkPolicy

	mu     sync.Mutex
	loads  [domain.MaxMLOChips]ports.ChipLoad
	byLink map[domain.PeerHandle]*MlPeer
}

// NewCoordinator wires the coordinator. A nil notifier delivers
// notifications inline through the registered MLME callbacks; a nil policy
// means DefaultPolicy.
func NewCoordinator(mgr *registry.Manager, notify ports.Notifier, policy ports.PrimaryLinkPolicy) *Coordinator {
	if policy == nil {
		policy = DefaultPolicy{}
	}
	return &Coordinator{
		mgr:    mgr,
		notify: notify,
		policy: policy,
		byLink: make(map[domain.PeerHandle]*MlPeer),
	}
}

// Find returns the ML peer with MLD address addr on dev.
func (c *Coordinator) Find(dev *registry.Device, addr domain.MAC) (*MlPeer, bool) {
	m, ok := dev.Peers().Find(addr)
	if !ok {
		return nil, false
	}
	p, ok := m.(*MlPeer)
	return p, ok
}

// ByLinkPeer returns the ML peer link peer h is attached to.
func (c *Coordinator) ByLinkPeer(h domain.PeerHandle) (*MlPeer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.byLink[h]
	return p, ok
}

// Loads returns the per-chip primary link load.
func (c *Coordinator) Loads() [domain.MaxMLOChips]ports.ChipLoad {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}

// Create builds the ML peer for the link peer that just associated on dev
// and asks every partner link to create its own link peer. A non-nil error
// together with a non-nil peer reports partner links that could not be
// notified; the peer itself exists.
func (c *Coordinator) Create(ctx context.Context, dev *registry.Device, params CreateParams) (*MlPeer, error) {
	if dev == nil {
		return nil, fmt.Errorf("%w: device", domain.ErrNullInput)
	}
	ctx, span := otel.Tracer("peer-coordinator").Start(ctx, "Create")
	defer span.End()

	objs := c.mgr.Objects()
	lref, err := objs.TryAcquirePeer(params.LinkPeer)
	if err != nil {
		return nil, fmt.Errorf("link peer %d: %w", params.LinkPeer, err)
	}
	defer lref.Release()
	linfo := lref.Info()
	mld := linfo.MLDAddr
	if mld.IsZero() {
		return nil, fmt.Errorf("%w: link peer %d has no MLD address", domain.ErrInvalidArgument, params.LinkPeer)
	}
	span.SetAttributes(attribute.String("peer_mld", mld.String()), attribute.String("mld", dev.MLDAddr().String()))

	vref, err := objs.TryAcquireVdev(linfo.Vdev)
	if err != nil {
		return nil, fmt.Errorf("vdev %d: %w", linfo.Vdev, err)
	}
	defer vref.Release()
	trigger := vref.Info()
	if dev.SlotOf(trigger.Handle) < 0 {
		return nil, fmt.Errorf("%w: vdev %d is not a link of %s", domain.ErrInvalidArgument, trigger.Handle, dev.MLDAddr())
	}

	if dev.IsAP() {
		if c.mgr.MLDAddressInUse(mld) {
			err := fmt.Errorf("%w: peer %s", domain.ErrDuplicateMldAddress, mld)
			span.RecordError(err)
			return nil, err
		}
	} else {
		if err := c.mgr.ExtOps().ValidateConnect(trigger, mld); err != nil {
			return nil, fmt.Errorf("connect to %s rejected: %w", mld, err)
		}
		if p, ok := c.Find(dev, mld); ok {
			return c.reattach(ctx, p, params)
		}
	}

	partners, err := c.resolvePartners(dev, trigger, params.Partner)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer func() {
		for _, r := range partners {
			r.Release()
		}
	}()
	cands := make([]domain.VdevInfo, 0, len(partners)+1)
	cands = append(cands, trigger)
	for _, r := range partners {
		cands = append(cands, r.Info())
	}

	if dev.IsAP() {
		if err := admit(trigger, cands[1:]); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	peerID, err := c.mgr.PeerIDs().Alloc()
	if err != nil {
		return nil, err
	}
	p := &MlPeer{
		dev:         dev,
		mldAddr:     mld,
		peerID:      peerID,
		release:     c.free,
		state:       domain.PeerCreated,
		maxLinks:    max(len(params.Partner.Links), 1),
		primaryChip: domain.InvalidChipID,
		partner:     domain.PartnerInfo{Links: slices.Clone(params.Partner.Links)},
		prefersT2LM: params.PrefersT2LM,
	}
	feats := c.mgr.Features()
	p.passThrough = (feats.NAWDS && trigger.NAWDS) || (feats.Mesh && trigger.Mesh)

	if dev.IsAP() {
		if err := c.assignAID(p, params.AID); err != nil {
			c.freePeerID(peerID)
			span.RecordError(err)
			return nil, err
		}
	}

	if err := dev.Peers().Add(p); err != nil {
		c.releaseAID(p)
		c.freePeerID(peerID)
		return nil, err
	}
	p.refs.Store(1)
	telemetry.LivePeers.Inc()

	// the link count goes to one and the state is Created, so this cannot fail
	p.mu.Lock()
	entry := c.attachLocked(p, linfo, trigger, dev.SlotOf(trigger.Handle), nil)
	entry.AssocLink = true
	p.mu.Unlock()

	ix := c.policy.SelectPrimary(ports.PrimaryLinkRequest{
		AssocIndex: 0,
		AssocRSSI:  linfo.RSSI,
		Candidates: cands,
		Loads:      c.Loads(),
	})
	if ix < 0 || ix >= len(cands) {
		ix = 0
	}
	c.setPrimary(p, cands[ix].ChipID, ImpliedRSSI(trigger, cands[ix], linfo.RSSI))

	slog.Info("ML peer created", "mld", dev.MLDAddr(), "peer_mld", mld, "peer_id", peerID,
		"aid", p.AID(), "links", p.MaxLinks(), "primary_chip", p.PrimaryChip())
	telemetry.PeerTransitions.WithLabelValues(domain.PeerCreated.String()).Inc()
	journal.Emit(c.mgr.Journal(), domain.EventPeerCreated, mld.String(), int(trigger.LinkID),
		fmt.Sprintf("peer_id=%d aid=%d", peerID, p.AID()))

	var fanout error
	if dev.IsAP() {
		for _, info := range cands[1:] {
			if err := c.postCreate(p, info, params); err != nil {
				fanout = errors.Join(fanout, err)
			}
		}
	}

	p.mu.Lock()
	done, sendResp := p.completeLocked()
	p.mu.Unlock()
	if done {
		c.onAssocDone(p, sendResp)
	}
	return p, fanout
}

// reattach reuses the ML peer of an STA MLD roaming to an AP MLD with the
// same address.
func (c *Coordinator) reattach(ctx context.Context, p *MlPeer, params CreateParams) (*MlPeer, error) {
	p.mu.Lock()
	p.state = domain.PeerCreated
	p.maxLinks = max(len(params.Partner.Links), 1)
	p.partner = domain.PartnerInfo{Links: slices.Clone(params.Partner.Links)}
	p.assocPosted = false
	p.mu.Unlock()
	slog.Debug("ML peer reattached", "peer_mld", p.mldAddr)
	if err := c.AttachLink(ctx, p, params.LinkPeer, nil); err != nil {
		return nil, err
	}
	return p, nil
}

// resolvePartners takes a reference on the vdev of every partner link other
// than the triggering one. Nothing is held on error.
func (c *Coordinator) resolvePartners(dev *registry.Device, trigger domain.VdevInfo, partner domain.PartnerInfo) ([]ports.VdevRef, error) {
	var refs []ports.VdevRef
	fail := func(err error) ([]ports.VdevRef, error) {
		for _, r := range refs {
			r.Release()
		}
		return nil, err
	}
	for _, pl := range partner.Links {
		info, ok := dev.LinkByID(pl.LinkID)
		if !ok {
			return fail(fmt.Errorf("%w: partner link %d not on %s", domain.ErrInvalidArgument, pl.LinkID, dev.MLDAddr()))
		}
		if info.Handle == trigger.Handle {
			continue
		}
		r, err := c.mgr.Objects().TryAcquireVdev(info.Handle)
		if err != nil {
			return fail(fmt.Errorf("partner link %d: %w", pl.LinkID, err))
		}
		refs = append(refs, r)
	}
	return refs, nil
}

func admit(trigger domain.VdevInfo, partners []domain.VdevInfo) error {
	for _, v := range append([]domain.VdevInfo{trigger}, partners...) {
		if !v.PeerCreateAllowed {
			return fmt.Errorf("%w: peer creation not allowed on vdev %d", domain.ErrInvalidState, v.Handle)
		}
	}
	for _, v := range partners {
		if v.MaxPeers > 0 && v.PeerCount >= v.MaxPeers {
			return fmt.Errorf("%w: vdev %d has %d of %d peers", domain.ErrOutOfCapacity, v.Handle, v.PeerCount, v.MaxPeers)
		}
	}
	return nil
}

func (c *Coordinator) assignAID(p *MlPeer, requested uint16) error {
	pool, err := p.dev.AIDPool()
	if err != nil {
		return err
	}
	if requested != domain.AllocateAID {
		err := pool.SetReserved(requested)
		switch {
		case err == nil:
			p.aidOwned = true
		case errors.Is(err, domain.ErrInvalidState):
			// already reserved by whoever picked it
		default:
			return fmt.Errorf("reserve AID %d: %w", requested, err)
		}
		p.aid = requested
		return nil
	}

	a, err := pool.AllocMLD(p.prefersT2LM)
	if err != nil {
		telemetry.AIDAllocations.WithLabelValues("mld", "failed").Inc()
		return fmt.Errorf("allocate AID for %s: %w", p.mldAddr, err)
	}
	telemetry.AIDAllocations.WithLabelValues("mld", "ok").Inc()
	p.aid, p.aidOwned = a, true
	return nil
}

func (c *Coordinator) releaseAID(p *MlPeer) {
	p.mu.Lock()
	a, owned := p.aid, p.aidOwned
	p.aidOwned = false
	p.mu.Unlock()
	if !owned {
		return
	}
	pool, err := p.dev.AIDPool()
	if err != nil {
		return
	}
	// the pool is reset when its device is destroyed
	if set, err := pool.IsSet(a); err != nil || !set {
		return
	}
	if err := pool.Free(a, -1); err != nil {
		slog.Warn("peer: AID free failed", "peer_mld", p.mldAddr, "aid", a, "error", err)
	}
}

func (c *Coordinator) freePeerID(id uint16) {
	if err := c.mgr.PeerIDs().Free(id); err != nil {
		slog.Warn("peer: ML peer ID free failed", "peer_id", id, "error", err)
	}
}

// free runs when the last reference goes away.
func (c *Coordinator) free(p *MlPeer) {
	c.freePeerID(p.peerID)
	telemetry.LivePeers.Dec()
	slog.Debug("ML peer freed", "peer_mld", p.mldAddr, "peer_id", p.peerID)
}

func (c *Coordinator) setPrimary(p *MlPeer, chip uint8, implied float64) {
	p.mu.Lock()
	p.primaryChip = chip
	p.markPrimaryLocked()
	counted := int(chip) < domain.MaxMLOChips
	if counted {
		p.loadRSSI = int(math.Round(implied))
		p.loadCounted = true
	}
	rssi := p.loadRSSI
	p.mu.Unlock()

	if counted {
		c.mu.Lock()
		c.loads[chip].Peers++
		c.loads[chip].RSSISum += rssi
		c.mu.Unlock()
	}
}

// attachLocked fills the first free entry. The caller checked state and
// capacity.
func (c *Coordinator) attachLocked(p *MlPeer, linfo domain.LinkPeerInfo, vinfo domain.VdevInfo, slot int, frame []byte) *LinkEntry {
	e := &LinkEntry{
		Peer:      linfo.Handle,
		Vdev:      vinfo.Handle,
		LinkAddr:  linfo.LinkAddr,
		Slot:      slot,
		LinkID:    vinfo.LinkID,
		HwLinkID:  vinfo.HwLinkID,
		ChipID:    vinfo.ChipID,
		assocResp: slices.Clone(frame),
	}
	for i := range p.links {
		if p.links[i] == nil {
			p.links[i] = e
			break
		}
	}
	p.linkCount++
	p.get()
	p.markPrimaryLocked()

	c.mu.Lock()
	c.byLink[linfo.Handle] = p
	c.mu.Unlock()
	return e
}

// AttachLink adds link peer h to p. frame, when given, is cached as the
// association response of that link. The association response goes out on
// the association link once every negotiated link is attached.
func (c *Coordinator) AttachLink(ctx context.Context, p *MlPeer, h domain.PeerHandle, frame []byte) error {
	if p == nil {
		return fmt.Errorf("%w: ML peer", domain.ErrNullInput)
	}
	objs := c.mgr.Objects()
	lref, err := objs.TryAcquirePeer(h)
	if err != nil {
		return fmt.Errorf("link peer %d: %w", h, err)
	}
	defer lref.Release()
	linfo := lref.Info()
	if linfo.MLDAddr != p.mldAddr {
		return fmt.Errorf("%w: link peer %d belongs to %s, not %s", domain.ErrInvalidArgument, h, linfo.MLDAddr, p.mldAddr)
	}
	vref, err := objs.TryAcquireVdev(linfo.Vdev)
	if err != nil {
		return fmt.Errorf("vdev %d: %w", linfo.Vdev, err)
	}
	defer vref.Release()
	vinfo := vref.Info()
	slot := p.dev.SlotOf(vinfo.Handle)
	if slot < 0 {
		return fmt.Errorf("%w: vdev %d is not a link of %s", domain.ErrInvalidArgument, vinfo.Handle, p.dev.MLDAddr())
	}

	p.mu.Lock()
	if p.state != domain.PeerCreated {
		st := p.state
		p.mu.Unlock()
		return fmt.Errorf("%w: ML peer %s is %s", domain.ErrInvalidState, p.mldAddr, st)
	}
	if ix, _ := p.entryLocked(h); ix >= 0 {
		p.mu.Unlock()
		return fmt.Errorf("%w: link peer %d already attached", domain.ErrInvalidState, h)
	}
	if p.linkCount >= domain.MaxLinkPeers {
		p.mu.Unlock()
		return fmt.Errorf("%w: ML peer %s has %d links", domain.ErrOutOfCapacity, p.mldAddr, p.linkCount)
	}
	e := c.attachLocked(p, linfo, vinfo, slot, frame)
	if p.linkCount == 1 {
		e.AssocLink = true
	}
	done, sendResp := p.completeLocked()
	p.mu.Unlock()

	slog.Debug("link peer attached", "peer_mld", p.mldAddr, "link_peer", h, "link_id", vinfo.LinkID)
	if done {
		c.onAssocDone(p, sendResp)
	}
	return nil
}

func (c *Coordinator) onAssocDone(p *MlPeer, sendResp bool) {
	telemetry.PeerTransitions.WithLabelValues(domain.PeerAssocDone.String()).Inc()
	journal.Emit(c.mgr.Journal(), domain.EventPeerAssocDone, p.mldAddr.String(), -1,
		fmt.Sprintf("links=%d", p.LinkCount()))
	if !sendResp {
		return
	}
	p.mu.Lock()
	e := p.assocEntryLocked()
	var vdev domain.VdevHandle
	var peer domain.PeerHandle
	var frame []byte
	if e != nil {
		vdev, peer, frame = e.Vdev, e.Peer, slices.Clone(e.assocResp)
	}
	p.mu.Unlock()
	if e == nil {
		return
	}
	if err := c.mgr.ExtOps().SendAssocResp(vdev, peer, frame); err != nil {
		slog.Warn("peer: association response failed", "peer_mld", p.mldAddr, "vdev", vdev, "error", err)
	}
}

// DeleteLink detaches link peer h. Removing the last link takes the peer
// off its device; the object goes away with its last reference.
func (c *Coordinator) DeleteLink(ctx context.Context, p *MlPeer, h domain.PeerHandle) error {
	if p == nil {
		return fmt.Errorf("%w: ML peer", domain.ErrNullInput)
	}
	p.mu.Lock()
	ix, e := p.entryLocked(h)
	if e == nil {
		p.mu.Unlock()
		return fmt.Errorf("%w: link peer %d on %s", domain.ErrNotFound, h, p.mldAddr)
	}
	p.links[ix] = nil
	p.linkCount--
	last := p.linkCount == 0 && !p.detached
	if last {
		p.detached = true
	}
	p.mu.Unlock()

	c.mu.Lock()
	if c.byLink[h] == p {
		delete(c.byLink, h)
	}
	c.mu.Unlock()

	slog.Debug("link peer detached", "peer_mld", p.mldAddr, "link_peer", h, "link_id", e.LinkID)
	if last {
		c.cleanup(ctx, p)
	}
	p.put()
	return nil
}

// cleanup takes a peer without links off its device.
func (c *Coordinator) cleanup(ctx context.Context, p *MlPeer) {
	p.dev.Peers().Remove(p)
	if err := c.drainPendingAuth(p); err != nil {
		slog.Warn("peer: pending auth dropped", "peer_mld", p.mldAddr, "error", err)
	}
	c.releaseAID(p)

	p.mu.Lock()
	chip, rssi, counted := p.primaryChip, p.loadRSSI, p.loadCounted
	p.loadCounted = false
	p.mu.Unlock()
	if counted {
		c.mu.Lock()
		c.loads[chip].Peers--
		c.loads[chip].RSSISum -= rssi
		c.mu.Unlock()
	}

	slog.Info("ML peer deleted", "mld", p.dev.MLDAddr(), "peer_mld", p.mldAddr, "peer_id", p.peerID)
	journal.Emit(c.mgr.Journal(), domain.EventPeerDeleted, p.mldAddr.String(), -1, fmt.Sprintf("peer_id=%d", p.peerID))
	p.put()
	c.mgr.PeerDetached(ctx, p.dev)
}

// DeletePeer asks the MLME layer to delete every link peer of p. Each
// deletion comes back through DeleteLink.
func (c *Coordinator) DeletePeer(p *MlPeer) error {
	var errs error
	for _, e := range p.Links() {
		if err := c.mgr.ExtOps().DeletePeer(e.Peer); err != nil {
			errs = errors.Join(errs, fmt.Errorf("delete link peer %d: %w", e.Peer, err))
		}
	}
	return errs
}
