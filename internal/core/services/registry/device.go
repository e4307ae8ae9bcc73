package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
	"github.com/lcalzada-xor/mlomgr/internal/core/ports"
	"github.com/lcalzada-xor/mlomgr/internal/core/services/aid"
)

type linkSlot struct {
	info domain.VdevInfo
}

// Device is the context of one MLD. Its link slots and role are guarded by
// mu; the peer list has its own lock.
type Device struct {
	mu        sync.RWMutex
	addr      domain.MAC
	slots     [domain.MaxLinks]*linkSlot
	vdevCount int
	role      Role
	peers     *PeerList
	listed    bool
	destroyed bool
}

func newDevice(addr domain.MAC, info domain.VdevInfo, cfg Config) (*Device, error) {
	d := &Device{addr: addr, peers: newPeerList()}
	switch info.OpMode {
	case domain.OpModeAP:
		ap, err := newApContext(cfg.AIDStart, cfg.AIDMax, cfg.Features.T2LM)
		if err != nil {
			return nil, err
		}
		d.role = ap
	case domain.OpModeSTA:
		d.role = &StaContext{}
	default:
		return nil, fmt.Errorf("%w: operating mode %d", domain.ErrInvalidArgument, info.OpMode)
	}
	return d, nil
}

func (d *Device) MLDAddr() domain.MAC {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.addr
}

func (d *Device) Mode() domain.OpMode {
	return d.role.Mode()
}

func (d *Device) IsAP() bool {
	return d.role.Mode() == domain.OpModeAP
}

// Listed reports whether the device made it into the registry table.
func (d *Device) Listed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.listed
}

// AIDPool returns the shared AID pool of an AP MLD.
func (d *Device) AIDPool() (*aid.Pool, error) {
	ap, ok := d.role.(*ApContext)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an AP MLD", domain.ErrInvalidState, d.MLDAddr())
	}
	return ap.AIDs, nil
}

func (d *Device) Peers() *PeerList {
	return d.peers
}

func (d *Device) VdevCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.vdevCount
}

// Links returns the attached vdevs in slot order.
func (d *Device) Links() []domain.VdevInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domain.VdevInfo, 0, d.vdevCount)
	for _, s := range d.slots {
		if s != nil {
			out = append(out, s.info)
		}
	}
	return out
}

// LinkByID finds the attached vdev advertising IEEE link id linkID.
func (d *Device) LinkByID(linkID uint8) (domain.VdevInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.slots {
		if s != nil && s.info.LinkID == linkID {
			return s.info, true
		}
	}
	return domain.VdevInfo{}, false
}

func (d *Device) hasLinkLocked(linkID uint8) bool {
	for _, s := range d.slots {
		if s != nil && s.info.LinkID == linkID {
			return true
		}
	}
	return false
}

// SlotOf returns the slot index holding vdev h, or -1.
func (d *Device) SlotOf(h domain.VdevHandle) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.slotOfLocked(h)
}

func (d *Device) slotOfLocked(h domain.VdevHandle) int {
	for i, s := range d.slots {
		if s != nil && s.info.Handle == h {
			return i
		}
	}
	return -1
}

func (d *Device) handlesLocked() []domain.VdevHandle {
	out := make([]domain.VdevHandle, 0, d.vdevCount)
	for _, s := range d.slots {
		if s != nil {
			out = append(out, s.info.Handle)
		}
	}
	return out
}

// checkCompatibleLocked validates a new vdev against the links already
// attached. Nothing is changed.
func (d *Device) checkCompatibleLocked(info domain.VdevInfo, multiChip bool) error {
	if info.OpMode != d.role.Mode() {
		return fmt.Errorf("%w: vdev %d is %s, MLD %s is %s",
			domain.ErrIncompatibleConfig, info.Handle, info.OpMode, d.addr, d.role.Mode())
	}
	for _, s := range d.slots {
		if s == nil {
			continue
		}
		if s.info.Handle == info.Handle {
			return fmt.Errorf("%w: vdev %d already attached to %s", domain.ErrInvalidState, info.Handle, d.addr)
		}
		if multiChip && s.info.GroupID != info.GroupID {
			return fmt.Errorf("%w: vdev %d in MLO group %d, MLD %s in group %d",
				domain.ErrIncompatibleConfig, info.Handle, info.GroupID, d.addr, s.info.GroupID)
		}
	}
	return nil
}

func (d *Device) attachLocked(info domain.VdevInfo, multiChip bool) (int, error) {
	if err := d.checkCompatibleLocked(info, multiChip); err != nil {
		return -1, err
	}
	ix := -1
	for i, s := range d.slots {
		if s == nil {
			ix = i
			break
		}
	}
	if ix < 0 {
		return -1, fmt.Errorf("%w: MLD %s has no free link slot", domain.ErrOutOfCapacity, d.addr)
	}

	if ap, ok := d.role.(*ApContext); ok {
		var err error
		if info.MBSSNonTx {
			tx := d.slotOfLocked(info.TxVdev)
			if tx < 0 {
				return -1, fmt.Errorf("%w: transmitting vdev %d of %d not attached", domain.ErrInvalidState, info.TxVdev, info.Handle)
			}
			err = ap.AIDs.ShareLink(ix, tx)
		} else {
			err = ap.AIDs.AttachLink(ix, info.AIDStart, info.AIDMax)
		}
		if err != nil {
			return -1, fmt.Errorf("attach AID space of vdev %d: %w", info.Handle, err)
		}
		ap.activeLinks++
	}
	d.slots[ix] = &linkSlot{info: info}
	d.vdevCount++
	return ix, nil
}

func (d *Device) detachLocked(ix int) {
	switch r := d.role.(type) {
	case *ApContext:
		if err := r.AIDs.DetachLink(ix); err != nil {
			slog.Warn("registry: AID link detach failed", "mld", d.addr, "slot", ix, "error", err)
		}
		r.quiet.Clear(ix)
		r.activeLinks--
	case *StaContext:
		r.connectReq[ix] = nil
		r.disconnectReq[ix] = nil
		r.csa[ix] = nil
		r.bpccValid[ix] = false
	}
	d.slots[ix] = nil
	d.vdevCount--
}

// SetLinkQuiet mutes or unmutes link slot ix of an AP MLD.
func (d *Device) SetLinkQuiet(ix int, quiet bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ap, ok := d.role.(*ApContext)
	if !ok {
		return fmt.Errorf("%w: quiet links need an AP MLD", domain.ErrNotSupported)
	}
	if ix < 0 || ix >= domain.MaxLinks || d.slots[ix] == nil {
		return fmt.Errorf("%w: link slot %d", domain.ErrInvalidArgument, ix)
	}
	if quiet {
		ap.quiet.Set(ix)
	} else {
		ap.quiet.Clear(ix)
	}
	return nil
}

// ActiveLinks is the number of links of an AP MLD that are not quiet.
func (d *Device) ActiveLinks() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ap, ok := d.role.(*ApContext)
	if !ok {
		return 0
	}
	return ap.activeLinks - ap.quiet.Count()
}

func (d *Device) staLocked() (*StaContext, error) {
	sta, ok := d.role.(*StaContext)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an STA MLD", domain.ErrInvalidState, d.addr)
	}
	return sta, nil
}

// SaveConnectRequest keeps a private copy of the connect request issued on
// vdev h. The first one is also kept as the original request for retries.
// Every partner link of the request with no vdev attached yet is then handed
// to the CreateLinkVdev hook, outside the device lock so the hook may attach
// the new vdev before returning.
func (d *Device) SaveConnectRequest(ops *ports.MlmeExtOps, h domain.VdevHandle, req []byte, partners []domain.PartnerLink) error {
	d.mu.Lock()
	sta, err := d.staLocked()
	if err != nil {
		d.mu.Unlock()
		return err
	}
	ix := d.slotOfLocked(h)
	if ix < 0 {
		d.mu.Unlock()
		return fmt.Errorf("%w: vdev %d on %s", domain.ErrNotFound, h, d.addr)
	}
	sta.connectReq[ix] = cloneBytes(req)
	if sta.origConnReq == nil {
		sta.origConnReq = cloneBytes(req)
	}
	var missing []domain.PartnerLink
	for _, pl := range partners {
		if !d.hasLinkLocked(pl.LinkID) {
			missing = append(missing, pl)
		}
	}
	mld := d.addr
	d.mu.Unlock()

	var errs []error
	for _, pl := range missing {
		if err := ops.CreateVdev(mld, pl); err != nil {
			slog.Warn("Partner vdev creation failed", "mld", mld, "link_id", pl.LinkID, "error", err)
			errs = append(errs, fmt.Errorf("link %d: %w", pl.LinkID, err))
		}
	}
	return errors.Join(errs...)
}

// SaveDisconnectRequest keeps a private copy of a pending disconnect.
func (d *Device) SaveDisconnectRequest(h domain.VdevHandle, req []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	sta, err := d.staLocked()
	if err != nil {
		return err
	}
	ix := d.slotOfLocked(h)
	if ix < 0 {
		return fmt.Errorf("%w: vdev %d on %s", domain.ErrNotFound, h, d.addr)
	}
	sta.disconnectReq[ix] = cloneBytes(req)
	return nil
}

// ConnectRequest returns the saved request for vdev h, falling back to the
// original one.
func (d *Device) ConnectRequest(h domain.VdevHandle) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sta, err := d.staLocked()
	if err != nil {
		return nil, err
	}
	if ix := d.slotOfLocked(h); ix >= 0 && sta.connectReq[ix] != nil {
		return cloneBytes(sta.connectReq[ix]), nil
	}
	if sta.origConnReq == nil {
		return nil, fmt.Errorf("%w: no connect request saved on %s", domain.ErrNotFound, d.addr)
	}
	return cloneBytes(sta.origConnReq), nil
}

// HandleCSA records a channel switch seen for one link of an STA MLD and
// hands it to the MLME layer when that link is attached. A switch for a link
// not yet connected is only shadowed.
func (d *Device) HandleCSA(ops *ports.MlmeExtOps, csa domain.CSAParams) error {
	d.mu.Lock()
	sta, err := d.staLocked()
	if err != nil {
		d.mu.Unlock()
		return err
	}
	target := domain.VdevHandle(0)
	found := false
	for i, s := range d.slots {
		if s != nil && s.info.LinkID == csa.LinkID {
			c := csa
			sta.csa[i] = &c
			target, found = s.info.Handle, true
			break
		}
	}
	d.mu.Unlock()

	if !found {
		return nil
	}
	return ops.StaCSA(target, csa)
}

// UpdateBPCC stores the BSS Parameters Change Count seen for linkID and
// reports whether it differs from the previous value, i.e. a critical update
// happened on that link.
func (d *Device) UpdateBPCC(linkID uint8, count uint8) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sta, err := d.staLocked()
	if err != nil {
		return false, err
	}
	for i, s := range d.slots {
		if s == nil || s.info.LinkID != linkID {
			continue
		}
		changed := sta.bpccValid[i] && sta.bpcc[i] != count
		sta.bpcc[i], sta.bpccValid[i] = count, true
		return changed, nil
	}
	return false, fmt.Errorf("%w: link %d on %s", domain.ErrNotFound, linkID, d.addr)
}

// SetLinkStateHandler registers the callback used to query firmware link
// state for an STA MLD.
func (d *Device) SetLinkStateHandler(fn func(vdev domain.VdevHandle) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	sta, err := d.staLocked()
	if err != nil {
		return err
	}
	sta.linkState = fn
	return nil
}

// QueryLinkState invokes the registered link state callback for vdev h.
func (d *Device) QueryLinkState(h domain.VdevHandle) error {
	d.mu.RLock()
	sta, err := d.staLocked()
	if err != nil {
		d.mu.RUnlock()
		return err
	}
	fn := sta.linkState
	d.mu.RUnlock()
	if fn == nil {
		return fmt.Errorf("%w: no link state handler on %s", domain.ErrNotSupported, d.MLDAddr())
	}
	return fn(h)
}

// Snapshot copies the device for diagnostics.
func (d *Device) Snapshot() domain.DeviceSnapshot {
	d.mu.RLock()
	snap := domain.DeviceSnapshot{
		MLDAddr: d.addr,
		Role:    d.role.Mode().String(),
		Listed:  d.listed,
	}
	var quiet *domain.BitSet
	if ap, ok := d.role.(*ApContext); ok {
		quiet = ap.quiet
	}
	for i, s := range d.slots {
		if s == nil {
			continue
		}
		snap.Links = append(snap.Links, domain.LinkSnapshot{
			Slot:     i,
			Vdev:     s.info.Handle,
			LinkAddr: s.info.LinkAddr,
			LinkID:   s.info.LinkID,
			HwLinkID: s.info.HwLinkID,
			ChipID:   s.info.ChipID,
			Quiet:    quiet != nil && quiet.Test(i),
		})
	}
	d.mu.RUnlock()

	for _, p := range d.peers.All() {
		snap.Peers = append(snap.Peers, p.Snapshot())
	}
	return snap
}
