package objmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
)

func TestArena_VdevRefCounting(t *testing.T) {
	a := New()
	h := a.CreateVdev(domain.VdevInfo{LinkID: 2})

	ref, err := a.TryAcquireVdev(h)
	require.NoError(t, err)
	assert.Equal(t, h, ref.Info().Handle)
	assert.Equal(t, uint8(2), ref.Info().LinkID)
	assert.Equal(t, 1, a.VdevRefs(h))

	require.NoError(t, a.DestroyVdev(h))
	_, err = a.TryAcquireVdev(h)
	assert.ErrorIs(t, err, domain.ErrRefUnavailable)

	_, stillThere := a.Vdev(h)
	assert.True(t, stillThere, "object lives until the last reference goes")

	ref.Release()
	ref.Release()
	_, stillThere = a.Vdev(h)
	assert.False(t, stillThere)
}

func TestArena_PeerCountsAgainstVdev(t *testing.T) {
	a := New()
	v := a.CreateVdev(domain.VdevInfo{})
	p, err := a.CreatePeer(domain.LinkPeerInfo{Vdev: v, RSSI: -40})
	require.NoError(t, err)

	info, _ := a.Vdev(v)
	assert.Equal(t, 1, info.PeerCount)

	ref, err := a.TryAcquirePeer(p)
	require.NoError(t, err)
	assert.Equal(t, -40, ref.Info().RSSI)
	assert.Equal(t, 1, a.PeerRefs(p))

	require.NoError(t, a.DestroyPeer(p))
	assert.ErrorIs(t, a.DestroyPeer(p), domain.ErrNotFound)
	info, _ = a.Vdev(v)
	assert.Equal(t, 0, info.PeerCount)
	ref.Release()
	assert.Equal(t, 0, a.PeerRefs(p))
}

func TestArena_CreatePeerOnDeletedVdev(t *testing.T) {
	a := New()
	v := a.CreateVdev(domain.VdevInfo{})
	require.NoError(t, a.DestroyVdev(v))
	_, err := a.CreatePeer(domain.LinkPeerInfo{Vdev: v})
	assert.ErrorIs(t, err, domain.ErrRefUnavailable)
}

func TestArena_UpdateVdev(t *testing.T) {
	a := New()
	v := a.CreateVdev(domain.VdevInfo{})
	require.NoError(t, a.UpdateVdev(v, func(i *domain.VdevInfo) {
		i.PeerCreateAllowed = true
		i.Handle = 99
	}))
	info, _ := a.Vdev(v)
	assert.True(t, info.PeerCreateAllowed)
	assert.Equal(t, v, info.Handle)
	assert.ErrorIs(t, a.UpdateVdev(1234, func(*domain.VdevInfo) {}), domain.ErrNotFound)
}
