package registry

import (
	"context"
	"sync"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
	"github.com/lcalzada-xor/mlomgr/internal/telemetry"
)

// DeviceObserver is told when an MLD device context appears or goes away.
type DeviceObserver interface {
	OnDeviceAdded(ctx context.Context, dev *Device)
	OnDeviceRemoved(ctx context.Context, addr domain.MAC, mode domain.OpMode)
}

// RegistrySubject manages observers and notifies them of events.
type RegistrySubject struct {
	observers []DeviceObserver
	mu        sync.RWMutex
}

// NewRegistrySubject creates a new subject.
func NewRegistrySubject() *RegistrySubject {
	return &RegistrySubject{
		observers: make([]DeviceObserver, 0),
	}
}

// AddObserver registers a new observer.
func (s *RegistrySubject) AddObserver(observer DeviceObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, observer)
}

// NotifyAdded runs every observer in registration order. Callers must not
// hold registry locks.
func (s *RegistrySubject) NotifyAdded(ctx context.Context, dev *Device) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, obs := range s.observers {
		obs.OnDeviceAdded(ctx, dev)
	}
}

// NotifyRemoved runs every observer in registration order.
func (s *RegistrySubject) NotifyRemoved(ctx context.Context, addr domain.MAC, mode domain.OpMode) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, obs := range s.observers {
		obs.OnDeviceRemoved(ctx, addr, mode)
	}
}

// gaugeObserver keeps the live device gauge in step with the registry.
type gaugeObserver struct{}

func (gaugeObserver) OnDeviceAdded(_ context.Context, dev *Device) {
	telemetry.LiveDevices.WithLabelValues(dev.Mode().String()).Inc()
}

func (gaugeObserver) OnDeviceRemoved(_ context.Context, _ domain.MAC, mode domain.OpMode) {
	telemetry.LiveDevices.WithLabelValues(mode.String()).Dec()
}
