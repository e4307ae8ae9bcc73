// Package transport delivers the asynchronous messages of the MLO manager on
// worker goroutines: cross-link notifications up to the MLME hooks and
// multi-chip commands down to a loopback radio.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
	"github.com/lcalzada-xor/mlomgr/internal/core/ports"
	"github.com/lcalzada-xor/mlomgr/internal/telemetry"
)

// Notifier implements ports.Notifier with a bounded queue drained by a pool
// of workers. Every queued notification is dispatched to the registered
// MLME hooks and then marked done, including the ones still queued when the
// notifier stops.
type Notifier struct {
	ops     ports.ExtOpsSource
	queue   chan domain.Notification
	workers int

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

func NewNotifier(ops ports.ExtOpsSource, queueSize, workers int) *Notifier {
	if queueSize <= 0 {
		queueSize = 64
	}
	if workers <= 0 {
		workers = 1
	}
	return &Notifier{
		ops:     ops,
		queue:   make(chan domain.Notification, queueSize),
		workers: workers,
	}
}

// Post queues n. It fails when the queue is full or the notifier stopped.
func (q *Notifier) Post(n domain.Notification) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return fmt.Errorf("%w: notifier stopped", domain.ErrInvalidState)
	}
	select {
	case q.queue <- n:
		return nil
	default:
		return fmt.Errorf("%w: notification queue full (%d)", domain.ErrOutOfCapacity, cap(q.queue))
	}
}

// Start launches the workers. They exit once ctx is cancelled and the queue
// is drained.
func (q *Notifier) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	slog.Info("Starting notification workers", "count", q.workers)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for n := range q.queue {
				q.deliver(n)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		q.mu.Lock()
		q.closed = true
		close(q.queue)
		q.mu.Unlock()
	}()
}

// Wait blocks until every worker has exited.
func (q *Notifier) Wait() {
	q.wg.Wait()
}

func (q *Notifier) deliver(n domain.Notification) {
	defer func() {
		if n.Done != nil {
			n.Done()
		}
	}()
	if err := q.ops.ExtOps().Dispatch(n); err != nil {
		telemetry.NotificationsDelivered.WithLabelValues(n.Kind.String(), "error").Inc()
		slog.Warn("transport: MLME hook failed", "kind", n.Kind, "vdev", n.Vdev, "peer_mld", n.PeerMLD, "error", err)
		return
	}
	telemetry.NotificationsDelivered.WithLabelValues(n.Kind.String(), "ok").Inc()
}

var _ ports.Notifier = (*Notifier)(nil)
