// Package registry keeps the process-wide table of MLD device contexts and
// the Manager context shared by the MLO services.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
	"github.com/lcalzada-xor/mlomgr/internal/core/ports"
	"github.com/lcalzada-xor/mlomgr/internal/core/services/aid"
	"github.com/lcalzada-xor/mlomgr/internal/core/services/journal"
)

// Config is resolved once at startup.
type Config struct {
	Features domain.FeatureSet
	AIDStart uint16
	AIDMax   uint16
	// MaxDevices bounds the registry table. Devices created past it stay
	// usable by their creating vdev but cannot be looked up.
	MaxDevices int
}

func DefaultConfig() Config {
	return Config{
		Features:   domain.DefaultFeatures(),
		AIDStart:   1,
		AIDMax:     2008,
		MaxDevices: 2,
	}
}

// Manager is the MLO manager context. Lock order is Manager.mu, then
// Device.mu, then PeerList.mu.
type Manager struct {
	cfg     Config
	objs    ports.ObjectManager
	hooks   *ports.DataPlaneHooks
	journal ports.EventJournal
	subject *RegistrySubject
	peerIDs *aid.PeerIDPool
	extOps  atomic.Pointer[ports.MlmeExtOps]

	mu       sync.RWMutex
	devices  []*Device
	unlisted map[domain.VdevHandle]*Device
}

// NewManager builds the context. hooks and j may be nil.
func NewManager(cfg Config, objs ports.ObjectManager, hooks *ports.DataPlaneHooks, j ports.EventJournal) *Manager {
	m := &Manager{
		cfg:      cfg,
		objs:     objs,
		hooks:    hooks,
		journal:  j,
		subject:  NewRegistrySubject(),
		peerIDs:  aid.NewPeerIDPool(),
		unlisted: make(map[domain.VdevHandle]*Device),
	}
	m.subject.AddObserver(gaugeObserver{})
	return m
}

func (m *Manager) Features() domain.FeatureSet { return m.cfg.Features }
func (m *Manager) PeerIDs() *aid.PeerIDPool { return m.peerIDs }
func (m *Manager) Journal() ports.EventJournal { return m.journal }
func (m *Manager) Objects() ports.ObjectManager { return m.objs }
func (m *Manager) Hooks() *ports.DataPlaneHooks { return m.hooks }
func (m *Manager) AddObserver(obs DeviceObserver) { m.subject.AddObserver(obs) }
func (m *Manager) ExtOps() *ports.MlmeExtOps { return m.extOps.Load() }
func (m *Manager) RegisterExtOps(ops *ports.MlmeExtOps) { m.extOps.Store(ops) }

func (m *Manager) findLocked(addr domain.MAC) *Device {
	for _, d := range m.devices {
		if d.MLDAddr() == addr {
			return d
		}
	}
	return nil
}

// liveLocked returns listed and unlisted devices.
func (m *Manager) liveLocked() []*Device {
	out := slices.Clone(m.devices)
	for _, d := range m.unlisted {
		if !slices.Contains(out, d) {
			out = append(out, d)
		}
	}
	return out
}

// OnVdevCreated attaches vdev h to the MLD mld, creating the device context
// for the first link. A zero MLD address marks a non-MLO vdev and is ignored.
func (m *Manager) OnVdevCreated(ctx context.Context, h domain.VdevHandle, mld domain.MAC) error {
	if mld.IsZero() {
		return nil
	}
	if !m.cfg.Features.MLO11be {
		return fmt.Errorf("%w: 802.11be MLO disabled", domain.ErrNotSupported)
	}

	ctx, span := otel.Tracer("mld-registry").Start(ctx, "OnVdevCreated")
	defer span.End()
	span.SetAttributes(attribute.String("mld", mld.String()), attribute.Int("vdev", int(h)))

	ref, err := m.objs.TryAcquireVdev(h)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("vdev %d: %w", h, err)
	}
	defer ref.Release()
	info := ref.Info()

	m.mu.Lock()
	dev := m.findLocked(mld)
	created := dev == nil
	if created {
		if dev, err = newDevice(mld, info, m.cfg); err != nil {
			m.mu.Unlock()
			span.RecordError(err)
			return fmt.Errorf("create MLD %s: %w", mld, err)
		}
	}

	dev.mu.Lock()
	slot, err := dev.attachLocked(info, m.cfg.Features.MultiChip)
	if err != nil {
		dev.mu.Unlock()
		m.mu.Unlock()
		span.RecordError(err)
		return fmt.Errorf("attach vdev %d to %s: %w", h, mld, err)
	}
	if created {
		if len(m.devices) < m.cfg.MaxDevices {
			m.devices = append(m.devices, dev)
			dev.listed = true
		} else {
			m.unlisted[h] = dev
			slog.Warn("registry: device table full, MLD not listed",
				"mld", mld, "vdev", h, "max_devices", m.cfg.MaxDevices)
		}
	}
	handles := dev.handlesLocked()
	dev.mu.Unlock()
	m.mu.Unlock()

	if err := m.hooks.PartnerVdevs(mld, handles); err != nil {
		slog.Warn("registry: partner vdev update failed", "mld", mld, "error", err)
	}
	if created {
		slog.Info("MLD created", "mld", mld, "role", info.OpMode, "vdev", h)
		journal.Emit(m.journal, domain.EventDeviceCreated, mld.String(), int(info.LinkID), info.OpMode.String())
		m.subject.NotifyAdded(ctx, dev)
	}
	slog.Debug("link attached", "mld", mld, "vdev", h, "slot", slot, "link_id", info.LinkID)
	journal.Emit(m.journal, domain.EventLinkAttached, mld.String(), int(info.LinkID), fmt.Sprintf("vdev=%d slot=%d", h, slot))
	return nil
}

// OnVdevDestroyed detaches vdev h. The device goes away with its last vdev
// unless peers are still attached; PeerDetached finishes the job then.
func (m *Manager) OnVdevDestroyed(ctx context.Context, h domain.VdevHandle, mld domain.MAC) error {
	if mld.IsZero() {
		return nil
	}

	ctx, span := otel.Tracer("mld-registry").Start(ctx, "OnVdevDestroyed")
	defer span.End()
	span.SetAttributes(attribute.String("mld", mld.String()), attribute.Int("vdev", int(h)))

	m.mu.Lock()
	dev, ok := m.unlisted[h]
	if !ok {
		dev = m.findLocked(mld)
	}
	if dev == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: MLD %s", domain.ErrNotFound, mld)
	}

	dev.mu.Lock()
	ix := dev.slotOfLocked(h)
	if ix < 0 {
		dev.mu.Unlock()
		m.mu.Unlock()
		return fmt.Errorf("%w: vdev %d not attached to %s", domain.ErrNotFound, h, mld)
	}
	linkID := dev.slots[ix].info.LinkID
	dev.detachLocked(ix)
	handles := dev.handlesLocked()
	destroyed := m.destroyIfEmptyLocked(dev)
	dev.mu.Unlock()
	m.mu.Unlock()

	journal.Emit(m.journal, domain.EventLinkDetached, mld.String(), int(linkID), fmt.Sprintf("vdev=%d slot=%d", h, ix))
	if destroyed {
		m.onDestroyed(ctx, dev)
		return nil
	}
	if err := m.hooks.PartnerVdevs(mld, handles); err != nil {
		slog.Warn("registry: partner vdev update failed", "mld", mld, "error", err)
	}
	return nil
}

// PeerDetached is called once a peer has left dev's peer list. It destroys
// a device whose vdevs are already gone.
func (m *Manager) PeerDetached(ctx context.Context, dev *Device) {
	m.mu.Lock()
	dev.mu.Lock()
	destroyed := m.destroyIfEmptyLocked(dev)
	dev.mu.Unlock()
	m.mu.Unlock()
	if destroyed {
		m.onDestroyed(ctx, dev)
	}
}

// destroyIfEmptyLocked needs both m.mu and dev.mu.
func (m *Manager) destroyIfEmptyLocked(dev *Device) bool {
	if dev.destroyed || dev.vdevCount > 0 || dev.peers.Len() > 0 {
		return false
	}
	dev.destroyed = true
	dev.role.release()
	m.devices = slices.DeleteFunc(m.devices, func(d *Device) bool { return d == dev })
	for h, d := range m.unlisted {
		if d == dev {
			delete(m.unlisted, h)
		}
	}
	return true
}

func (m *Manager) onDestroyed(ctx context.Context, dev *Device) {
	addr := dev.MLDAddr()
	slog.Info("MLD destroyed", "mld", addr, "role", dev.Mode())
	journal.Emit(m.journal, domain.EventDeviceDestroyed, addr.String(), -1, dev.Mode().String())
	m.subject.NotifyRemoved(ctx, addr, dev.Mode())
}

// Lookup finds a listed device by MLD address.
func (m *Manager) Lookup(addr domain.MAC) (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d := m.findLocked(addr)
	return d, d != nil
}

// LookupByHwLinkID finds the device with a link on hardware link hwLinkID of
// MLO group groupID and returns the slot index of that link.
func (m *Manager) LookupByHwLinkID(groupID uint8, hwLinkID uint16) (*Device, int, error) {
	if !m.cfg.Features.MultiChip {
		return nil, -1, fmt.Errorf("%w: multi-chip MLO disabled", domain.ErrNotSupported)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.devices {
		d.mu.RLock()
		for i, s := range d.slots {
			if s != nil && s.info.GroupID == groupID && s.info.HwLinkID == hwLinkID {
				d.mu.RUnlock()
				return d, i, nil
			}
		}
		d.mu.RUnlock()
	}
	return nil, -1, fmt.Errorf("%w: hw link %d in group %d", domain.ErrNotFound, hwLinkID, groupID)
}

// UpdateMLDAddress rewrites the address of the device known as old.
func (m *Manager) UpdateMLDAddress(old, updated domain.MAC) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dev := m.findLocked(old)
	if dev == nil {
		return fmt.Errorf("%w: MLD %s", domain.ErrNotFound, old)
	}
	if old == updated {
		return nil
	}
	if m.addressInUseLocked(updated) {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateMldAddress, updated)
	}
	dev.mu.Lock()
	dev.addr = updated
	for _, s := range dev.slots {
		if s != nil {
			s.info.MLDAddr = updated
		}
	}
	dev.mu.Unlock()
	slog.Info("MLD address updated", "old", old, "new", updated)
	return nil
}

// MLDAddressInUse reports whether addr names a device or a peer MLD of any
// device.
func (m *Manager) MLDAddressInUse(addr domain.MAC) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.addressInUseLocked(addr)
}

func (m *Manager) addressInUseLocked(addr domain.MAC) bool {
	for _, d := range m.liveLocked() {
		if d.MLDAddr() == addr {
			return true
		}
		if _, ok := d.peers.Find(addr); ok {
			return true
		}
	}
	return false
}

// PeerExistsOnOtherDevice reports whether a peer with MLD address addr is
// attached to a device other than dev.
func (m *Manager) PeerExistsOnOtherDevice(addr domain.MAC, dev *Device) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.liveLocked() {
		if d == dev {
			continue
		}
		if _, ok := d.peers.Find(addr); ok {
			return true
		}
	}
	return false
}

// StaMLDCount returns the number of listed STA MLDs.
func (m *Manager) StaMLDCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, d := range m.devices {
		if d.Mode() == domain.OpModeSTA {
			n++
		}
	}
	return n
}

// Len returns the number of listed devices.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices)
}

// Snapshots copies every live device, listed or not, ordered by address.
func (m *Manager) Snapshots() []domain.DeviceSnapshot {
	m.mu.RLock()
	devs := m.liveLocked()
	m.mu.RUnlock()

	out := make([]domain.DeviceSnapshot, 0, len(devs))
	for _, d := range devs {
		out = append(out, d.Snapshot())
	}
	slices.SortFunc(out, func(a, b domain.DeviceSnapshot) int {
		return slices.Compare(a.MLDAddr[:], b.MLDAddr[:])
	})
	return out
}
