package journal

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
)

// MockRepository implements ports.EventRepository for testing
type MockRepository struct {
	mu      sync.Mutex
	saved   []domain.Event
	batches int
}

func (m *MockRepository) SaveEvents(ctx context.Context, events []domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, events...)
	m.batches++
	return nil
}

func (m *MockRepository) ListEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Event, 0, limit)
	for i := len(m.saved) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.saved[i])
	}
	return out, nil
}

func (m *MockRepository) Close() error { return nil }

func (m *MockRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

func event(t *testing.T, i int) domain.Event {
	ev, err := domain.NewEvent(domain.EventPeerCreated, fmt.Sprintf("00:00:00:00:00:%02x", i), 0, "")
	require.NoError(t, err)
	return *ev
}

func TestJournal_Batching(t *testing.T) {
	repo := &MockRepository{}
	j := New(repo, 10)
	j.SetBatching(5, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	j.Start(ctx)

	for i := 0; i < 4; i++ {
		j.Record(event(t, i))
	}
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, repo.count(), "batch below threshold must not flush")

	j.Record(event(t, 4))
	assert.Eventually(t, func() bool { return repo.count() == 5 }, time.Second, 10*time.Millisecond)
}

func TestJournal_FlushOnCancel(t *testing.T) {
	repo := &MockRepository{}
	j := New(repo, 10)
	j.SetBatching(100, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	j.Start(ctx)
	j.Record(event(t, 1))
	j.Record(event(t, 2))
	cancel()

	select {
	case <-j.Done():
	case <-time.After(time.Second):
		t.Fatal("journal loop did not exit")
	}
	assert.Equal(t, 2, repo.count())
}

func TestJournal_DisabledSkipsStorage(t *testing.T) {
	repo := &MockRepository{}
	j := New(repo, 1)
	j.SetEnabled(false)
	assert.False(t, j.IsEnabled())

	j.Record(event(t, 1))
	j.Record(event(t, 2))
	assert.Zero(t, j.Dropped())
	assert.Len(t, j.queue, 0)
}

func TestJournal_DropsWhenQueueFull(t *testing.T) {
	j := New(&MockRepository{}, 1)
	j.Record(event(t, 1))
	j.Record(event(t, 2))
	assert.Equal(t, uint64(1), j.Dropped())
}

func TestJournal_RecentInMemory(t *testing.T) {
	j := New(nil, 1)
	for i := 0; i < recentCap+10; i++ {
		j.Record(event(t, i%256))
	}

	got, err := j.Recent(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	newest := recentCap + 9
	for i, ev := range got {
		assert.Equal(t, fmt.Sprintf("00:00:00:00:00:%02x", (newest-i)%256), ev.Subject)
	}

	all, err := j.Recent(context.Background(), 10000)
	require.NoError(t, err)
	assert.Len(t, all, recentCap)
}

func TestJournal_RecentBeforeWrap(t *testing.T) {
	j := New(nil, 1)
	j.Record(event(t, 1))
	j.Record(event(t, 2))

	got, err := j.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "00:00:00:00:00:02", got[0].Subject)
	assert.Equal(t, "00:00:00:00:00:01", got[1].Subject)
}

func TestJournal_Subscribe(t *testing.T) {
	j := New(nil, 1)
	var got []domain.EventKind
	cancel := j.Subscribe(func(ev domain.Event) { got = append(got, ev.Kind) })

	Emit(j, domain.EventDeviceCreated, "aa:bb:cc:dd:ee:ff", 0, "")
	cancel()
	Emit(j, domain.EventDeviceDestroyed, "aa:bb:cc:dd:ee:ff", 0, "")

	assert.Equal(t, []domain.EventKind{domain.EventDeviceCreated}, got)
}

func TestEmit_InvalidEventIsDropped(t *testing.T) {
	j := New(nil, 1)
	Emit(j, domain.EventDeviceCreated, "", 0, "")
	Emit(nil, domain.EventDeviceCreated, "x", 0, "")

	got, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
