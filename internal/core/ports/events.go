package ports

import (
	"context"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
)

// EventJournal records lifecycle events of devices, peers and groups.
// Record never blocks the caller on storage.
type EventJournal interface {
	Record(ev domain.Event)

	// Recent returns the newest events first.
	Recent(ctx context.Context, limit int) ([]domain.Event, error)

	// Subscribe registers a listener for every recorded event. The returned
	// function removes it.
	Subscribe(fn func(domain.Event)) (cancel func())
}

// EventRepository handles the low-level persistence of journal events.
type EventRepository interface {
	// SaveEvents persists a batch in one transaction.
	SaveEvents(ctx context.Context, events []domain.Event) error

	// ListEvents retrieves events with a result limit, newest first.
	ListEvents(ctx context.Context, limit int) ([]domain.Event, error)

	Close() error
}
