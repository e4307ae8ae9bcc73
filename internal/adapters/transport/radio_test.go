package transport

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
)

// MockRadioEvents is a mock implementation of ports.RadioEvents
type MockRadioEvents struct {
	mock.Mock
}

func (m *MockRadioEvents) LinkSetupComplete(ctx context.Context, pdev domain.PdevInfo) error {
	return m.Called(pdev).Error(0)
}

func (m *MockRadioEvents) LinkTeardownComplete(ctx context.Context, pdev domain.PdevInfo) error {
	return m.Called(pdev).Error(0)
}

var (
	pdevA = domain.PdevInfo{ID: 100, ChipID: 0, HwLinkID: 0}
	pdevB = domain.PdevInfo{ID: 101, ChipID: 1, HwLinkID: 3}
)

func TestRadioLoopback_SetupCompletes(t *testing.T) {
	var calls atomic.Int32
	count := func(mock.Arguments) { calls.Add(1) }
	events := new(MockRadioEvents)
	events.On("LinkSetupComplete", pdevA).Return(nil).Run(count).Once()
	events.On("LinkSetupComplete", pdevB).Return(nil).Run(count).Once()

	r := NewRadioLoopback(time.Millisecond, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx, events)

	require.NoError(t, r.SendSetupRequest(ctx, 0, []domain.PdevInfo{pdevA, pdevB}))
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	events.AssertExpectations(t)

	require.NoError(t, r.SendReadyNotification(ctx, 0, []domain.PdevInfo{pdevA, pdevB}))
	assert.Equal(t, 1, r.ReadyCount(0))
	assert.Equal(t, 0, r.ReadyCount(1))
}

func TestRadioLoopback_TeardownMuted(t *testing.T) {
	var calls atomic.Int32
	events := new(MockRadioEvents)
	r := NewRadioLoopback(0, 4)
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx, events)

	r.MuteTeardown(true)
	require.NoError(t, r.SendTeardownRequest(ctx, 0, []domain.PdevInfo{pdevA}, domain.TeardownNormal))

	r.MuteTeardown(false)
	events.On("LinkTeardownComplete", pdevB).Return(nil).Run(func(mock.Arguments) { calls.Add(1) }).Once()
	require.NoError(t, r.SendTeardownRequest(ctx, 0, []domain.PdevInfo{pdevB}, domain.TeardownNormal))
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-r.Done()
	events.AssertExpectations(t)
	assert.ErrorIs(t, r.SendSetupRequest(context.Background(), 0, []domain.PdevInfo{pdevA}), domain.ErrInvalidState)
}

func TestRadioLoopback_LinkStateRequests(t *testing.T) {
	r := NewRadioLoopback(0, 1)

	require.NoError(t, r.RequestLinkStateInfo(context.Background(), 7))
	require.NoError(t, r.RequestLinkStateInfo(context.Background(), 9))
	assert.Equal(t, []domain.VdevHandle{7, 9}, r.LinkStateRequests())
}
