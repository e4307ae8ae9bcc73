package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// EventKind identifies a lifecycle transition recorded in the journal.
type EventKind string

// Journal event kinds
const (
	EventDeviceCreated     EventKind = "MLD_CREATED"
	EventDeviceDestroyed   EventKind = "MLD_DESTROYED"
	EventLinkAttached      EventKind = "LINK_ATTACHED"
	EventLinkDetached      EventKind = "LINK_DETACHED"
	EventPeerCreated       EventKind = "PEER_CREATED"
	EventPeerAssocDone     EventKind = "PEER_ASSOC_DONE"
	EventPeerDisconnect    EventKind = "PEER_DISCONNECT"
	EventPeerDeleted       EventKind = "PEER_DELETED"
	EventGroupSetupRequest EventKind = "GROUP_SETUP_REQUEST"
	EventGroupReady        EventKind = "GROUP_READY"
	EventGroupTeardown     EventKind = "GROUP_TEARDOWN"
	EventFanoutFailure     EventKind = "FANOUT_FAILURE"
)

// Domain Errors
var (
	ErrInvalidEventKind = errors.New("invalid event kind")
	ErrMissingSubject   = errors.New("event subject is required")
)

// Event is a journal record of one MLO lifecycle transition.
// Storage keeps its own model; this type carries no persistence tags.
type Event struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	Subject   string    `json:"subject"` // MLD or peer MLD address, or group id
	LinkID    int       `json:"link_id"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent is the designated factory for journal events.
func NewEvent(kind EventKind, subject string, linkID int, detail string) (*Event, error) {
	if subject == "" {
		return nil, ErrMissingSubject
	}
	if !isValidEventKind(kind) {
		return nil, ErrInvalidEventKind
	}
	return &Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Subject:   subject,
		LinkID:    linkID,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}, nil
}

func isValidEventKind(kind EventKind) bool {
	switch kind {
	case EventDeviceCreated, EventDeviceDestroyed, EventLinkAttached,
		EventLinkDetached, EventPeerCreated, EventPeerAssocDone,
		EventPeerDisconnect, EventPeerDeleted, EventGroupSetupRequest,
		EventGroupReady, EventGroupTeardown, EventFanoutFailure:
		return true
	}
	return false
}
