package domain

import "github.com/google/uuid"

// NotificationKind enumerates the cross-link messages posted by the peer
// coordinator.
type NotificationKind uint8

const (
	NotifyPeerCreate NotificationKind = iota
	NotifyPeerAssoc
	NotifyPeerAssocFail
	NotifyPeerDeauth
	NotifyPeerDisconnect
	NotifyPendingAuth
)

func (k NotificationKind) String() string {
	switch k {
	case NotifyPeerCreate:
		return "peer_create"
	case NotifyPeerAssoc:
		return "peer_assoc"
	case NotifyPeerAssocFail:
		return "peer_assoc_fail"
	case NotifyPeerDeauth:
		return "peer_deauth"
	case NotifyPeerDisconnect:
		return "peer_disconnect"
	case NotifyPendingAuth:
		return "pending_auth"
	default:
		return "unknown"
	}
}

// Notification is an asynchronous message for one link.
// Done must be called exactly once by whoever consumes it.
type Notification struct {
	ID       uuid.UUID
	Kind     NotificationKind
	Vdev     VdevHandle
	LinkPeer PeerHandle
	PeerMLD  MAC
	PeerID   uint16
	AID      uint16
	// Frame is a private copy of the triggering frame, when there is one.
	Frame []byte
	// LinkAddr is the partner link address for peer create and the
	// requesting link address for pending auth.
	LinkAddr MAC
	Disassoc bool
	Done     func()
}

// NewNotification stamps a fresh ID.
func NewNotification(kind NotificationKind, vdev VdevHandle) Notification {
	return Notification{ID: uuid.New(), Kind: kind, Vdev: vdev, Done: func() {}}
}
