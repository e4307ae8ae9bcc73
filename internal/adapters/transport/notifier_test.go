package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
	"github.com/lcalzada-xor/mlomgr/internal/core/ports"
)

type staticOps struct {
	ops *ports.MlmeExtOps
}

func (s staticOps) ExtOps() *ports.MlmeExtOps { return s.ops }

func TestNotifier_DispatchesAndCompletes(t *testing.T) {
	var mu sync.Mutex
	var got []domain.NotificationKind
	ops := &ports.MlmeExtOps{
		PeerCreate: func(n domain.Notification) error {
			mu.Lock()
			got = append(got, n.Kind)
			mu.Unlock()
			return nil
		},
		PeerDisconnect: func(n domain.Notification) error {
			return errors.New("vdev gone")
		},
	}
	q := NewNotifier(staticOps{ops}, 8, 2)
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)

	var done atomic.Int32
	for _, k := range []domain.NotificationKind{domain.NotifyPeerCreate, domain.NotifyPeerDisconnect, domain.NotifyPeerAssoc} {
		n := domain.NewNotification(k, 1)
		n.Done = func() { done.Add(1) }
		require.NoError(t, q.Post(n))
	}

	assert.Eventually(t, func() bool { return done.Load() == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	q.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.NotificationKind{domain.NotifyPeerCreate}, got)
}

func TestNotifier_QueueFull(t *testing.T) {
	q := NewNotifier(staticOps{}, 1, 1)

	require.NoError(t, q.Post(domain.NewNotification(domain.NotifyPeerAssoc, 1)))
	err := q.Post(domain.NewNotification(domain.NotifyPeerAssoc, 1))
	assert.ErrorIs(t, err, domain.ErrOutOfCapacity)
}

func TestNotifier_DrainsOnStop(t *testing.T) {
	q := NewNotifier(staticOps{}, 4, 1)
	var done atomic.Int32
	for i := 0; i < 3; i++ {
		n := domain.NewNotification(domain.NotifyPeerDeauth, 2)
		n.Done = func() { done.Add(1) }
		require.NoError(t, q.Post(n))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q.Start(ctx)
	q.Wait()

	assert.EqualValues(t, 3, done.Load())
	assert.ErrorIs(t, q.Post(domain.NewNotification(domain.NotifyPeerDeauth, 2)), domain.ErrInvalidState)
}
