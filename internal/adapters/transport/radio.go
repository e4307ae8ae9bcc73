package transport

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
	"github.com/lcalzada-xor/mlomgr/internal/core/ports"
	"github.com/lcalzada-xor/mlomgr/internal/telemetry"
)

type radioOp uint8

const (
	opSetupComplete radioOp = iota
	opTeardownComplete
)

func (o radioOp) String() string {
	if o == opSetupComplete {
		return "setup_complete"
	}
	return "teardown_complete"
}

type radioMsg struct {
	op   radioOp
	pdev domain.PdevInfo
}

// RadioLoopback implements ports.RadioTransport without hardware: every
// link named in a setup or teardown request answers with its completion
// after Latency, in request order, on a single worker goroutine.
type RadioLoopback struct {
	latency time.Duration
	queue   chan radioMsg

	// muteTeardown drops teardown completions, leaving the caller to time out.
	muteTeardown atomic.Bool

	mu         sync.Mutex
	closed     bool
	ready      map[uint8]int
	linkStates []domain.VdevHandle
	done       chan struct{}
}

func NewRadioLoopback(latency time.Duration, queueSize int) *RadioLoopback {
	if queueSize <= 0 {
		queueSize = 32
	}
	return &RadioLoopback{
		latency: latency,
		queue:   make(chan radioMsg, queueSize),
		ready:   make(map[uint8]int),
		done:    make(chan struct{}),
	}
}

// MuteTeardown makes the radio ignore teardown requests.
func (r *RadioLoopback) MuteTeardown(mute bool) {
	r.muteTeardown.Store(mute)
}

// Start delivers completions to events until ctx is cancelled.
func (r *RadioLoopback) Start(ctx context.Context, events ports.RadioEvents) {
	go func() {
		defer close(r.done)
		for {
			select {
			case <-ctx.Done():
				r.mu.Lock()
				r.closed = true
				r.mu.Unlock()
				return
			case m := <-r.queue:
				if r.latency > 0 {
					t := time.NewTimer(r.latency)
					select {
					case <-ctx.Done():
						t.Stop()
						continue
					case <-t.C:
					}
				}
				r.complete(ctx, events, m)
			}
		}
	}()
}

// Done is closed once the worker started by Start has exited.
func (r *RadioLoopback) Done() <-chan struct{} {
	return r.done
}

func (r *RadioLoopback) complete(ctx context.Context, events ports.RadioEvents, m radioMsg) {
	telemetry.RadioMessages.WithLabelValues(m.op.String()).Inc()
	var err error
	switch m.op {
	case opSetupComplete:
		err = events.LinkSetupComplete(ctx, m.pdev)
	case opTeardownComplete:
		err = events.LinkTeardownComplete(ctx, m.pdev)
	}
	if err != nil {
		slog.Warn("transport: radio completion rejected", "op", m.op, "group", m.pdev.GroupID, "pdev", m.pdev.ID, "error", err)
	}
}

func (r *RadioLoopback) enqueue(ctx context.Context, op radioOp, links []domain.PdevInfo) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: radio stopped", domain.ErrInvalidState)
	}
	for _, l := range links {
		select {
		case r.queue <- radioMsg{op: op, pdev: l}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *RadioLoopback) SendSetupRequest(ctx context.Context, groupID uint8, links []domain.PdevInfo) error {
	telemetry.RadioMessages.WithLabelValues("setup_request").Inc()
	slog.Debug("radio: setup request", "group", groupID, "links", len(links))
	return r.enqueue(ctx, opSetupComplete, links)
}

func (r *RadioLoopback) SendReadyNotification(_ context.Context, groupID uint8, links []domain.PdevInfo) error {
	telemetry.RadioMessages.WithLabelValues("ready").Inc()
	r.mu.Lock()
	r.ready[groupID]++
	r.mu.Unlock()
	slog.Debug("radio: group ready", "group", groupID, "links", len(links))
	return nil
}

func (r *RadioLoopback) SendTeardownRequest(ctx context.Context, groupID uint8, links []domain.PdevInfo, reason domain.TeardownReason) error {
	telemetry.RadioMessages.WithLabelValues("teardown_request").Inc()
	slog.Debug("radio: teardown request", "group", groupID, "links", len(links), "ssr", reason == domain.TeardownSSR)
	if r.muteTeardown.Load() {
		return nil
	}
	return r.enqueue(ctx, opTeardownComplete, links)
}

func (r *RadioLoopback) RequestLinkStateInfo(_ context.Context, vdev domain.VdevHandle) error {
	telemetry.RadioMessages.WithLabelValues("link_state").Inc()
	r.mu.Lock()
	r.linkStates = append(r.linkStates, vdev)
	r.mu.Unlock()
	return nil
}

// ReadyCount returns how many ready notifications group received.
func (r *RadioLoopback) ReadyCount(groupID uint8) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready[groupID]
}

// LinkStateRequests returns the vdevs whose link state was queried.
func (r *RadioLoopback) LinkStateRequests() []domain.VdevHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.linkStates)
}

var _ ports.RadioTransport = (*RadioLoopback)(nil)
