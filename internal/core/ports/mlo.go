package ports

import (
	"context"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
)

// VdevRef is a counted reference to a link vdev. Release must be called
// exactly once.
type VdevRef interface {
	Info() domain.VdevInfo
	Release()
}

// PeerRef is a counted reference to a link peer.
type PeerRef interface {
	Info() domain.LinkPeerInfo
	Release()
}

// ObjectManager owns the vdev and peer objects the MLO manager refers to by
// handle. TryAcquire fails with domain.ErrRefUnavailable while the object is
// being destroyed.
type ObjectManager interface {
	TryAcquireVdev(h domain.VdevHandle) (VdevRef, error)
	TryAcquirePeer(h domain.PeerHandle) (PeerRef, error)
}

// Notifier posts cross-link notifications. A nil error means the
// notification was queued and its Done will be called once consumed.
type Notifier interface {
	Post(n domain.Notification) error
}

// RadioTransport carries multi-chip setup commands to the radio firmware.
// Completions come back asynchronously through RadioEvents.
type RadioTransport interface {
	SendSetupRequest(ctx context.Context, groupID uint8, links []domain.PdevInfo) error
	SendReadyNotification(ctx context.Context, groupID uint8, links []domain.PdevInfo) error
	SendTeardownRequest(ctx context.Context, groupID uint8, links []domain.PdevInfo, reason domain.TeardownReason) error
	RequestLinkStateInfo(ctx context.Context, vdev domain.VdevHandle) error
}

// RadioEvents receives the completions of RadioTransport requests.
type RadioEvents interface {
	LinkSetupComplete(ctx context.Context, pdev domain.PdevInfo) error
	LinkTeardownComplete(ctx context.Context, pdev domain.PdevInfo) error
}

// PrimaryLinkRequest is the input of a primary link decision.
type PrimaryLinkRequest struct {
	// AssocIndex is the candidate that carried the association.
	AssocIndex int
	AssocRSSI  int
	Candidates []domain.VdevInfo
	// Loads is indexed by chip ID.
	Loads [domain.MaxMLOChips]ChipLoad
}

// ChipLoad summarizes the ML peers whose primary link is on one chip.
type ChipLoad struct {
	Peers   int
	RSSISum int
}

// PrimaryLinkPolicy picks the candidate index that hosts a peer's primary
// link.
type PrimaryLinkPolicy interface {
	SelectPrimary(req PrimaryLinkRequest) int
}
