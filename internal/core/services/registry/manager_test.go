package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/mlomgr/internal/adapters/objmgr"
	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
	"github.com/lcalzada-xor/mlomgr/internal/core/ports"
	"github.com/lcalzada-xor/mlomgr/internal/core/services/journal"
)

var (
	apMLD  = domain.MustParseMAC("02:00:00:00:00:01")
	apMLD2 = domain.MustParseMAC("02:00:00:00:00:02")
	staMLD = domain.MustParseMAC("02:00:00:00:00:10")
)

type fakePeer struct {
	addr domain.MAC
}

func (p *fakePeer) MLDAddress() domain.MAC { return p.addr }
func (p *fakePeer) Snapshot() domain.PeerSnapshot {
	return domain.PeerSnapshot{MLDAddr: p.addr}
}

type recordingObserver struct {
	added   []domain.MAC
	removed []domain.MAC
}

func (o *recordingObserver) OnDeviceAdded(_ context.Context, dev *Device) {
	o.added = append(o.added, dev.MLDAddr())
}

func (o *recordingObserver) OnDeviceRemoved(_ context.Context, addr domain.MAC, _ domain.OpMode) {
	o.removed = append(o.removed, addr)
}

func newTestManager(t *testing.T, mutate func(*Config)) (*Manager, *objmgr.Arena, *journal.Journal) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Features.MultiChip = true
	if mutate != nil {
		mutate(&cfg)
	}
	arena := objmgr.New()
	j := journal.New(nil, 1)
	return NewManager(cfg, arena, nil, j), arena, j
}

func apVdev(arena *objmgr.Arena, mld domain.MAC, linkID uint8) domain.VdevHandle {
	return arena.CreateVdev(domain.VdevInfo{
		LinkAddr: domain.MAC{0x02, 0, 0, 0, 1, linkID},
		MLDAddr:  mld,
		OpMode:   domain.OpModeAP,
		LinkID:   linkID,
		HwLinkID: uint16(linkID) + 10,
		ChipID:   linkID,
	})
}

func TestManager_OnVdevCreated_ZeroAddressIsNoop(t *testing.T) {
	m, arena, _ := newTestManager(t, nil)
	h := apVdev(arena, domain.ZeroMAC, 0)

	require.NoError(t, m.OnVdevCreated(context.Background(), h, domain.ZeroMAC))
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 0, arena.VdevRefs(h))
}

func TestManager_OnVdevCreated_FeatureDisabled(t *testing.T) {
	m, arena, _ := newTestManager(t, func(c *Config) { c.Features.MLO11be = false })
	h := apVdev(arena, apMLD, 0)
	assert.ErrorIs(t, m.OnVdevCreated(context.Background(), h, apMLD), domain.ErrNotSupported)
}

func TestManager_AttachAndDetachLinks(t *testing.T) {
	m, arena, j := newTestManager(t, nil)
	obs := &recordingObserver{}
	m.AddObserver(obs)
	ctx := context.Background()

	h0 := apVdev(arena, apMLD, 0)
	h1 := apVdev(arena, apMLD, 1)
	require.NoError(t, m.OnVdevCreated(ctx, h0, apMLD))
	require.NoError(t, m.OnVdevCreated(ctx, h1, apMLD))

	dev, ok := m.Lookup(apMLD)
	require.True(t, ok)
	assert.True(t, dev.IsAP())
	assert.True(t, dev.Listed())
	assert.Equal(t, 2, dev.VdevCount())
	assert.Equal(t, 1, dev.SlotOf(h1))
	assert.Equal(t, 0, arena.VdevRefs(h0), "registry must not keep vdev references")

	pool, err := dev.AIDPool()
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Stats().Links)

	link, ok := dev.LinkByID(1)
	require.True(t, ok)
	assert.Equal(t, h1, link.Handle)

	require.NoError(t, m.OnVdevDestroyed(ctx, h0, apMLD))
	_, ok = m.Lookup(apMLD)
	assert.True(t, ok, "device survives while a vdev is attached")

	require.NoError(t, m.OnVdevDestroyed(ctx, h1, apMLD))
	_, ok = m.Lookup(apMLD)
	assert.False(t, ok)

	assert.Equal(t, []domain.MAC{apMLD}, obs.added)
	assert.Equal(t, []domain.MAC{apMLD}, obs.removed)

	events, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventDeviceDestroyed, events[0].Kind)
}

func TestManager_DuplicateVdev(t *testing.T) {
	m, arena, _ := newTestManager(t, nil)
	h := apVdev(arena, apMLD, 0)
	require.NoError(t, m.OnVdevCreated(context.Background(), h, apMLD))
	assert.ErrorIs(t, m.OnVdevCreated(context.Background(), h, apMLD), domain.ErrInvalidState)
}

func TestManager_IncompatibleConfigLeavesDeviceUntouched(t *testing.T) {
	m, arena, _ := newTestManager(t, nil)
	ctx := context.Background()
	require.NoError(t, m.OnVdevCreated(ctx, apVdev(arena, apMLD, 0), apMLD))

	sta := arena.CreateVdev(domain.VdevInfo{MLDAddr: apMLD, OpMode: domain.OpModeSTA, LinkID: 1})
	assert.ErrorIs(t, m.OnVdevCreated(ctx, sta, apMLD), domain.ErrIncompatibleConfig)

	otherGroup := arena.CreateVdev(domain.VdevInfo{MLDAddr: apMLD, OpMode: domain.OpModeAP, LinkID: 2, GroupID: 1})
	assert.ErrorIs(t, m.OnVdevCreated(ctx, otherGroup, apMLD), domain.ErrIncompatibleConfig)

	dev, _ := m.Lookup(apMLD)
	assert.Equal(t, 1, dev.VdevCount())
	pool, _ := dev.AIDPool()
	assert.Equal(t, 1, pool.Stats().Links)
}

func TestManager_GroupIgnoredWithoutMultiChip(t *testing.T) {
	m, arena, _ := newTestManager(t, func(c *Config) { c.Features.MultiChip = false })
	ctx := context.Background()
	require.NoError(t, m.OnVdevCreated(ctx, apVdev(arena, apMLD, 0), apMLD))
	h := arena.CreateVdev(domain.VdevInfo{MLDAddr: apMLD, OpMode: domain.OpModeAP, LinkID: 2, GroupID: 1})
	assert.NoError(t, m.OnVdevCreated(ctx, h, apMLD))

	_, _, err := m.LookupByHwLinkID(0, 10)
	assert.ErrorIs(t, err, domain.ErrNotSupported)
}

func TestManager_OutOfLinkSlots(t *testing.T) {
	m, arena, _ := newTestManager(t, nil)
	ctx := context.Background()
	for i := 0; i < domain.MaxLinks; i++ {
		require.NoError(t, m.OnVdevCreated(ctx, apVdev(arena, apMLD, uint8(i)), apMLD))
	}
	extra := apVdev(arena, apMLD, 7)
	assert.ErrorIs(t, m.OnVdevCreated(ctx, extra, apMLD), domain.ErrOutOfCapacity)
}

func TestManager_RefUnavailable(t *testing.T) {
	m, arena, _ := newTestManager(t, nil)
	h := apVdev(arena, apMLD, 0)
	require.NoError(t, arena.DestroyVdev(h))
	assert.ErrorIs(t, m.OnVdevCreated(context.Background(), h, apMLD), domain.ErrRefUnavailable)
	assert.Equal(t, 0, m.Len())
}

func TestManager_MBSSNonTxSharesAIDSpace(t *testing.T) {
	m, arena, _ := newTestManager(t, nil)
	ctx := context.Background()
	tx := apVdev(arena, apMLD, 0)
	require.NoError(t, m.OnVdevCreated(ctx, tx, apMLD))

	nonTx := arena.CreateVdev(domain.VdevInfo{MLDAddr: apMLD, OpMode: domain.OpModeAP, LinkID: 1, MBSSNonTx: true, TxVdev: tx})
	require.NoError(t, m.OnVdevCreated(ctx, nonTx, apMLD))

	dev, _ := m.Lookup(apMLD)
	pool, _ := dev.AIDPool()
	a, err := pool.AllocLink(0, false)
	require.NoError(t, err)
	set, err := pool.IsSet(a)
	require.NoError(t, err)
	assert.True(t, set)
	assert.Equal(t, 1, pool.LinkCount(1), "non-transmitting VAP sees the shared map")

	require.NoError(t, pool.Free(a, 1))
	set, _ = pool.IsSet(a)
	assert.False(t, set)
	assert.Equal(t, 0, pool.LinkCount(0))

	orphan := arena.CreateVdev(domain.VdevInfo{MLDAddr: apMLD2, OpMode: domain.OpModeAP, MBSSNonTx: true, TxVdev: 999})
	assert.ErrorIs(t, m.OnVdevCreated(ctx, orphan, apMLD2), domain.ErrInvalidState)
	assert.Equal(t, 1, m.Len(), "failed first attach must not register a device")
}

func TestManager_TableFullKeepsUnlistedDevice(t *testing.T) {
	m, arena, _ := newTestManager(t, func(c *Config) { c.MaxDevices = 1 })
	ctx := context.Background()
	require.NoError(t, m.OnVdevCreated(ctx, apVdev(arena, apMLD, 0), apMLD))

	h := apVdev(arena, apMLD2, 0)
	require.NoError(t, m.OnVdevCreated(ctx, h, apMLD2))

	_, ok := m.Lookup(apMLD2)
	assert.False(t, ok, "device past the table bound is not listed")
	assert.Equal(t, 1, m.Len())
	assert.True(t, m.MLDAddressInUse(apMLD2))
	assert.Len(t, m.Snapshots(), 2)

	require.NoError(t, m.OnVdevDestroyed(ctx, h, apMLD2))
	assert.False(t, m.MLDAddressInUse(apMLD2))
	assert.Len(t, m.Snapshots(), 1)
}

func TestManager_DeviceLingersWhilePeersAttached(t *testing.T) {
	m, arena, _ := newTestManager(t, nil)
	ctx := context.Background()
	h := apVdev(arena, apMLD, 0)
	require.NoError(t, m.OnVdevCreated(ctx, h, apMLD))
	dev, _ := m.Lookup(apMLD)

	peer := &fakePeer{addr: staMLD}
	require.NoError(t, dev.Peers().Add(peer))
	require.NoError(t, m.OnVdevDestroyed(ctx, h, apMLD))
	_, ok := m.Lookup(apMLD)
	assert.True(t, ok)

	m.PeerDetached(ctx, dev)
	_, ok = m.Lookup(apMLD)
	assert.True(t, ok, "peer is still on the list")

	assert.True(t, dev.Peers().Remove(peer))
	m.PeerDetached(ctx, dev)
	_, ok = m.Lookup(apMLD)
	assert.False(t, ok)
}

func TestManager_OnVdevDestroyed_NotFound(t *testing.T) {
	m, arena, _ := newTestManager(t, nil)
	ctx := context.Background()
	assert.ErrorIs(t, m.OnVdevDestroyed(ctx, 1, apMLD), domain.ErrNotFound)

	require.NoError(t, m.OnVdevCreated(ctx, apVdev(arena, apMLD, 0), apMLD))
	assert.ErrorIs(t, m.OnVdevDestroyed(ctx, 999, apMLD), domain.ErrNotFound)
	assert.NoError(t, m.OnVdevDestroyed(ctx, 999, domain.ZeroMAC))
}

func TestManager_UpdateMLDAddress(t *testing.T) {
	m, arena, _ := newTestManager(t, nil)
	ctx := context.Background()
	require.NoError(t, m.OnVdevCreated(ctx, apVdev(arena, apMLD, 0), apMLD))
	require.NoError(t, m.OnVdevCreated(ctx, apVdev(arena, apMLD2, 0), apMLD2))

	newAddr := domain.MustParseMAC("06:00:00:00:00:01")
	assert.ErrorIs(t, m.UpdateMLDAddress(staMLD, newAddr), domain.ErrNotFound)
	assert.ErrorIs(t, m.UpdateMLDAddress(apMLD, apMLD2), domain.ErrDuplicateMldAddress)
	require.NoError(t, m.UpdateMLDAddress(apMLD, newAddr))

	_, ok := m.Lookup(apMLD)
	assert.False(t, ok)
	dev, ok := m.Lookup(newAddr)
	require.True(t, ok)
	assert.Equal(t, newAddr, dev.Links()[0].MLDAddr)
}

func TestManager_PeerAddressQueries(t *testing.T) {
	m, arena, _ := newTestManager(t, nil)
	ctx := context.Background()
	require.NoError(t, m.OnVdevCreated(ctx, apVdev(arena, apMLD, 0), apMLD))
	require.NoError(t, m.OnVdevCreated(ctx, apVdev(arena, apMLD2, 0), apMLD2))
	dev1, _ := m.Lookup(apMLD)
	dev2, _ := m.Lookup(apMLD2)

	require.NoError(t, dev1.Peers().Add(&fakePeer{addr: staMLD}))
	assert.ErrorIs(t, dev1.Peers().Add(&fakePeer{addr: staMLD}), domain.ErrDuplicateMldAddress)

	assert.True(t, m.MLDAddressInUse(staMLD))
	assert.True(t, m.MLDAddressInUse(apMLD))
	assert.False(t, m.MLDAddressInUse(domain.MustParseMAC("0a:0a:0a:0a:0a:0a")))
	assert.True(t, m.PeerExistsOnOtherDevice(staMLD, dev2))
	assert.False(t, m.PeerExistsOnOtherDevice(staMLD, dev1))
}

func TestManager_LookupByHwLinkID(t *testing.T) {
	m, arena, _ := newTestManager(t, nil)
	ctx := context.Background()
	require.NoError(t, m.OnVdevCreated(ctx, apVdev(arena, apMLD, 0), apMLD))
	require.NoError(t, m.OnVdevCreated(ctx, apVdev(arena, apMLD, 1), apMLD))

	dev, slot, err := m.LookupByHwLinkID(0, 11)
	require.NoError(t, err)
	assert.Equal(t, apMLD, dev.MLDAddr())
	assert.Equal(t, 1, slot)

	_, _, err = m.LookupByHwLinkID(0, 42)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestManager_StaMLDCount(t *testing.T) {
	m, arena, _ := newTestManager(t, func(c *Config) { c.MaxDevices = 4 })
	ctx := context.Background()
	require.NoError(t, m.OnVdevCreated(ctx, apVdev(arena, apMLD, 0), apMLD))
	sta := arena.CreateVdev(domain.VdevInfo{MLDAddr: staMLD, OpMode: domain.OpModeSTA})
	require.NoError(t, m.OnVdevCreated(ctx, sta, staMLD))
	assert.Equal(t, 1, m.StaMLDCount())

	dev, _ := m.Lookup(staMLD)
	_, err := dev.AIDPool()
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestManager_PartnerVdevHook(t *testing.T) {
	var updates [][]domain.VdevHandle
	hooks := &ports.DataPlaneHooks{
		UpdatePartnerVdevList: func(_ domain.MAC, vdevs []domain.VdevHandle) error {
			updates = append(updates, vdevs)
			return nil
		},
	}
	arena := objmgr.New()
	m := NewManager(DefaultConfig(), arena, hooks, nil)
	ctx := context.Background()

	h0 := apVdev(arena, apMLD, 0)
	h1 := apVdev(arena, apMLD, 1)
	require.NoError(t, m.OnVdevCreated(ctx, h0, apMLD))
	require.NoError(t, m.OnVdevCreated(ctx, h1, apMLD))
	require.NoError(t, m.OnVdevDestroyed(ctx, h0, apMLD))

	assert.Equal(t, [][]domain.VdevHandle{{h0}, {h0, h1}, {h1}}, updates)
}

func TestManager_ExtOpsRegistration(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	assert.Nil(t, m.ExtOps())

	first := &ports.MlmeExtOps{}
	second := &ports.MlmeExtOps{}
	m.RegisterExtOps(first)
	m.RegisterExtOps(second)
	assert.Same(t, second, m.ExtOps())
}
