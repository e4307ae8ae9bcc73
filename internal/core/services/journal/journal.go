// Package journal keeps the lifecycle event log of the MLO manager and
// writes it to storage in the background.
package journal

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
	"github.com/lcalzada-xor/mlomgr/internal/core/ports"
)

const recentCap = 256

// Journal implements ports.EventJournal. Recorded events are kept in a small
// in-memory ring, handed to subscribers and queued for batched persistence.
type Journal struct {
	repo      ports.EventRepository
	queue     chan domain.Event
	batchSize int
	interval  time.Duration
	dropped   atomic.Uint64

	mu      sync.RWMutex
	enabled bool
	ring    []domain.Event
	head    int

	subMu   sync.RWMutex
	subs    map[int]func(domain.Event)
	nextSub int

	done chan struct{}
}

// New creates a journal. A nil repository keeps events in memory only.
func New(repo ports.EventRepository, bufferSize int) *Journal {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Journal{
		repo:      repo,
		queue:     make(chan domain.Event, bufferSize),
		batchSize: 100,
		interval:  5 * time.Second,
		enabled:   true,
		ring:      make([]domain.Event, 0, recentCap),
		subs:      make(map[int]func(domain.Event)),
		done:      make(chan struct{}),
	}
}

// SetBatching overrides the flush thresholds. Call before Start.
func (j *Journal) SetBatching(size int, interval time.Duration) {
	if size > 0 {
		j.batchSize = size
	}
	if interval > 0 {
		j.interval = interval
	}
}

// IsEnabled returns the current persistence status.
func (j *Journal) IsEnabled() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.enabled
}

// SetEnabled toggles persistence. Events are still kept in memory and
// delivered to subscribers while disabled.
func (j *Journal) SetEnabled(enabled bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.enabled = enabled
}

// Dropped returns how many events could not be queued for storage.
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

func (j *Journal) Record(ev domain.Event) {
	j.mu.Lock()
	if len(j.ring) < recentCap {
		j.ring = append(j.ring, ev)
	} else {
		j.ring[j.head] = ev
		j.head = (j.head + 1) % recentCap
	}
	persist := j.enabled && j.repo != nil
	j.mu.Unlock()

	j.subMu.RLock()
	for _, fn := range j.subs {
		fn(ev)
	}
	j.subMu.RUnlock()

	if !persist {
		return
	}
	select {
	case j.queue <- ev:
	default:
		// never block a lifecycle path on storage
		j.dropped.Add(1)
	}
}

// Recent returns the newest events first. With a repository attached the
// answer comes from storage and lags Record by up to one flush interval.
func (j *Journal) Recent(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	if j.repo != nil {
		return j.repo.ListEvents(ctx, limit)
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	n := len(j.ring)
	if limit > n {
		limit = n
	}
	out := make([]domain.Event, 0, limit)
	for i := 0; i < limit; i++ {
		// newest entry sits just before head once the ring has wrapped
		ix := (j.head - 1 - i + 2*n) % n
		if n < recentCap {
			ix = n - 1 - i
		}
		out = append(out, j.ring[ix])
	}
	return out, nil
}

// Subscribe registers fn for every recorded event. fn runs on the recording
// goroutine and must not block.
func (j *Journal) Subscribe(fn func(domain.Event)) func() {
	j.subMu.Lock()
	id := j.nextSub
	j.nextSub++
	j.subs[id] = fn
	j.subMu.Unlock()

	return func() {
		j.subMu.Lock()
		delete(j.subs, id)
		j.subMu.Unlock()
	}
}

// Start begins the persistence loop. The remaining buffer is flushed when
// ctx is cancelled; Done is closed afterwards.
func (j *Journal) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	buffer := make([]domain.Event, 0, j.batchSize)

	go func() {
		defer close(j.done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				for {
					select {
					case ev := <-j.queue:
						buffer = append(buffer, ev)
						continue
					default:
					}
					break
				}
				j.flush(buffer)
				return
			case ev := <-j.queue:
				buffer = append(buffer, ev)
				if len(buffer) >= j.batchSize {
					j.flush(buffer)
					buffer = make([]domain.Event, 0, j.batchSize)
				}
			case <-ticker.C:
				if len(buffer) > 0 {
					j.flush(buffer)
					buffer = make([]domain.Event, 0, j.batchSize)
				}
			}
		}
	}()
}

// Done is closed once the loop started by Start has exited.
func (j *Journal) Done() <-chan struct{} {
	return j.done
}

func (j *Journal) flush(batch []domain.Event) {
	if len(batch) == 0 || j.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := j.repo.SaveEvents(ctx, batch); err != nil {
		slog.Error("journal: batch save failed", "events", len(batch), "error", err)
	}
}

// Emit builds an event and records it on j. A nil journal discards it.
func Emit(j ports.EventJournal, kind domain.EventKind, subject string, linkID int, detail string) {
	if j == nil {
		return
	}
	ev, err := domain.NewEvent(kind, subject, linkID, detail)
	if err != nil {
		slog.Warn("journal: dropping event", "kind", kind, "error", err)
		return
	}
	j.Record(*ev)
}
