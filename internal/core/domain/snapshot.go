package domain

// LinkSnapshot describes one occupied link slot of an MLD.
type LinkSnapshot struct {
	Slot     int        `json:"slot"`
	Vdev     VdevHandle `json:"vdev"`
	LinkAddr MAC        `json:"link_addr"`
	LinkID   uint8      `json:"link_id"`
	HwLinkID uint16     `json:"hw_link_id"`
	ChipID   uint8      `json:"chip_id"`
	Quiet    bool       `json:"quiet,omitempty"`
}

// PeerLinkSnapshot describes one attached link peer.
type PeerLinkSnapshot struct {
	LinkPeer  PeerHandle `json:"link_peer"`
	Vdev      VdevHandle `json:"vdev"`
	LinkAddr  MAC        `json:"link_addr"`
	LinkIndex int        `json:"link_index"`
	HwLinkID  uint16     `json:"hw_link_id"`
	IsPrimary bool       `json:"is_primary"`
}

// PeerSnapshot is a read-only copy of an ML peer.
type PeerSnapshot struct {
	MLDAddr     MAC                `json:"mld_addr"`
	PeerID      uint16             `json:"peer_id"`
	AID         uint16             `json:"aid"`
	State       string             `json:"state"`
	MaxLinks    int                `json:"max_links"`
	PrimaryChip uint8              `json:"primary_chip"`
	Links       []PeerLinkSnapshot `json:"links"`
}

// DeviceSnapshot is a read-only copy of an MLD device context.
type DeviceSnapshot struct {
	MLDAddr MAC            `json:"mld_addr"`
	Role    string         `json:"role"`
	Links   []LinkSnapshot `json:"links"`
	Peers   []PeerSnapshot `json:"peers"`
	Listed  bool           `json:"listed"`
}

// GroupSnapshot is a read-only copy of a multi-chip group.
type GroupSnapshot struct {
	ID             uint8             `json:"id"`
	TotalSocs      int               `json:"total_socs"`
	ProbedSocs     int               `json:"probed_socs"`
	TotalLinks     int               `json:"total_links"`
	ProbedLinks    int               `json:"probed_links"`
	ValidHwLinks   []int             `json:"valid_hw_links"`
	LinkStates     map[string]string `json:"link_states"`
	SetupRequested bool              `json:"setup_requested"`
	Ready          bool              `json:"ready"`
}
