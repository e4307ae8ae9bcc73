package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupInMemoryDB creates a new SQLiteAdapter used for testing
func setupInMemoryDB(t *testing.T) *SQLiteAdapter {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)

	adapter, err := newAdapter(db)
	require.NoError(t, err)
	return adapter
}

func event(t *testing.T, kind domain.EventKind, subject string, at time.Time) domain.Event {
	ev, err := domain.NewEvent(kind, subject, 1, "")
	require.NoError(t, err)
	ev.Timestamp = at
	return *ev
}

func TestSaveAndListEvents(t *testing.T) {
	adapter := setupInMemoryDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	batch := []domain.Event{
		event(t, domain.EventDeviceCreated, "00:03:7f:00:00:01", base),
		event(t, domain.EventPeerCreated, "02:aa:00:00:00:01", base.Add(time.Second)),
		event(t, domain.EventGroupReady, "group-0", base.Add(2*time.Second)),
	}
	require.NoError(t, adapter.SaveEvents(ctx, batch))

	got, err := adapter.ListEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, domain.EventGroupReady, got[0].Kind)
	assert.Equal(t, domain.EventDeviceCreated, got[2].Kind)
	assert.Equal(t, batch[1].ID, got[1].ID)
	assert.True(t, base.Equal(got[2].Timestamp))

	limited, err := adapter.ListEvents(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSaveEvents_Duplicate(t *testing.T) {
	adapter := setupInMemoryDB(t)
	ctx := context.Background()
	ev := event(t, domain.EventPeerDeleted, "02:aa:00:00:00:01", time.Now().UTC())

	require.NoError(t, adapter.SaveEvents(ctx, []domain.Event{ev}))
	require.NoError(t, adapter.SaveEvents(ctx, []domain.Event{ev}))
	require.NoError(t, adapter.SaveEvents(ctx, nil))

	got, err := adapter.ListEvents(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestListSubjectEvents(t *testing.T) {
	adapter := setupInMemoryDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, adapter.SaveEvents(ctx, []domain.Event{
		event(t, domain.EventPeerCreated, "02:aa:00:00:00:01", now),
		event(t, domain.EventPeerCreated, "02:bb:00:00:00:01", now),
		event(t, domain.EventPeerDeleted, "02:aa:00:00:00:01", now.Add(time.Second)),
	}))

	got, err := adapter.ListSubjectEvents(ctx, "02:aa:00:00:00:01", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.EventPeerDeleted, got[0].Kind)
}

func TestPrune(t *testing.T) {
	adapter := setupInMemoryDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, adapter.SaveEvents(ctx, []domain.Event{
		event(t, domain.EventLinkAttached, "00:03:7f:00:00:01", now.Add(-2*time.Hour)),
		event(t, domain.EventLinkDetached, "00:03:7f:00:00:01", now),
	}))

	n, err := adapter.Prune(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := adapter.ListEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.EventLinkDetached, got[0].Kind)
}

func TestNewSQLiteAdapter_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	store, err := NewSQLiteAdapter(path)
	require.NoError(t, err)
	ev := event(t, domain.EventGroupTeardown, "group-1", time.Now().UTC())
	require.NoError(t, store.SaveEvents(ctx, []domain.Event{ev}))
	require.NoError(t, store.Close())

	store, err = NewSQLiteAdapter(path)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.ListEvents(ctx, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ev.ID, got[0].ID)
	assert.Equal(t, "group-1", got[0].Subject)
}
