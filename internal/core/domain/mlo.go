package domain

// Fixed capacities of the MLO manager.
const (
	MaxLinks        = 3
	MaxLinkPeers    = MaxLinks
	MaxPartnerLinks = MaxLinks
	MaxMLPeerIDs    = 128
	MaxMLOChips     = 5
	MaxPendingAuth  = MaxLinks
	MaxMLOGroups    = 2
	MaxGroupLinks   = 7
)

// Sentinels.
const (
	InvalidPeerID uint16 = 0xFFFF
	InvalidLinkID uint8  = 0xFF
	InvalidChipID uint8  = 0xFF
	InvalidHwLink uint16 = 0xFFFF
	// AllocateAID asks the peer coordinator to allocate an AID itself.
	AllocateAID uint16 = 0xFFFF
)

// OpMode is the operating mode of a link vdev.
type OpMode uint8

const (
	OpModeSTA OpMode = iota
	OpModeAP
)

func (m OpMode) String() string {
	switch m {
	case OpModeSTA:
		return "sta"
	case OpModeAP:
		return "ap"
	default:
		return "unknown"
	}
}

// VdevHandle identifies a link vdev owned by the object manager.
type VdevHandle uint32

// PeerHandle identifies a link peer owned by the object manager.
type PeerHandle uint32

// VdevInfo is the view of a link vdev taken when a reference is acquired.
type VdevInfo struct {
	Handle   VdevHandle
	LinkAddr MAC
	MLDAddr  MAC
	OpMode   OpMode
	// LinkID is the IEEE link id advertised in Multi-Link elements.
	LinkID   uint8
	HwLinkID uint16
	ChipID   uint8
	GroupID  uint8
	FreqMHz  uint32
	// MaxTxPowerDbm is the regulatory limit of the operating channel.
	MaxTxPowerDbm int
	MaxPeers      int
	PeerCount     int
	// PeerCreateAllowed is cleared by the vdev while it cannot admit peers,
	// e.g. during a channel switch.
	PeerCreateAllowed bool
	NAWDS             bool
	Mesh              bool
	// MBSSNonTx marks a non-transmitting VAP that shares TxVdev's AID space.
	MBSSNonTx bool
	TxVdev    VdevHandle
	// AIDStart and AIDMax bound this link's own AID space. Zero means the
	// MLD-wide defaults.
	AIDStart uint16
	AIDMax   uint16
}

// LinkPeerInfo is the view of a link peer taken when a reference is acquired.
type LinkPeerInfo struct {
	Handle   PeerHandle
	Vdev     VdevHandle
	LinkAddr MAC
	MLDAddr  MAC
	// RSSI of the last received frame, in dBm.
	RSSI int
}

// PartnerLink is one partner link announced by a peer MLD.
type PartnerLink struct {
	LinkID   uint8 `json:"link_id"`
	LinkAddr MAC   `json:"link_addr"`
}

// PartnerInfo lists the partner links negotiated with a peer MLD.
type PartnerInfo struct {
	Links []PartnerLink `json:"links"`
}

// NumLinks returns the number of partner links.
func (p PartnerInfo) NumLinks() int {
	return len(p.Links)
}

// PeerState is the lifecycle state of a multi-link peer.
type PeerState uint8

const (
	PeerCreated PeerState = iota
	PeerAssocDone
	PeerDisconnectInitiated
)

func (s PeerState) String() string {
	switch s {
	case PeerCreated:
		return "created"
	case PeerAssocDone:
		return "assoc_done"
	case PeerDisconnectInitiated:
		return "disconnect_initiated"
	default:
		return "unknown"
	}
}

// LinkState is the multi-chip setup state of one physical link.
type LinkState uint8

const (
	LinkUninitialized LinkState = iota
	LinkSetupInit
	LinkSetupDone
	LinkReady
	LinkTeardown
)

func (s LinkState) String() string {
	switch s {
	case LinkUninitialized:
		return "uninitialized"
	case LinkSetupInit:
		return "setup_init"
	case LinkSetupDone:
		return "setup_done"
	case LinkReady:
		return "ready"
	case LinkTeardown:
		return "teardown"
	default:
		return "unknown"
	}
}

// TeardownReason tells the multi-chip coordinator why a group goes down.
type TeardownReason uint8

const (
	TeardownNormal TeardownReason = iota
	// TeardownSSR is a subsystem restart; the caller cannot wait.
	TeardownSSR
)

// PdevInfo identifies one physical link radio for the multi-chip coordinator.
type PdevInfo struct {
	ID       uint32 `json:"id"`
	ChipID   uint8  `json:"chip_id"`
	HwLinkID uint16 `json:"hw_link_id"`
	GroupID  uint8  `json:"group_id"`
}

// CSAParams is a channel switch announcement seen on one link of an STA MLD.
type CSAParams struct {
	LinkID      uint8  `json:"link_id"`
	FreqMHz     uint32 `json:"freq_mhz"`
	SwitchCount uint8  `json:"switch_count"`
}
