package ports

import (
	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
)

// MlmeExtOps is the callback table registered by the MLME layer above the
// MLO manager. Every hook is optional: a nil hook is a silent no-op.
type MlmeExtOps struct {
	ValidateConnectRequest func(vdev domain.VdevInfo, peerMLD domain.MAC) error
	CreateLinkVdev         func(mld domain.MAC, link domain.PartnerLink) error
	PeerCreate             func(n domain.Notification) error
	PeerAssoc              func(n domain.Notification) error
	PeerAssocFail          func(n domain.Notification) error
	PeerDelete             func(peer domain.PeerHandle) error
	SendAssocResponse      func(vdev domain.VdevHandle, peer domain.PeerHandle, frame []byte) error
	GetLinkAssocReqBuffer  func(peer domain.PeerHandle) ([]byte, error)
	PeerDeauth             func(n domain.Notification) error
	PeerDisconnect         func(n domain.Notification) error
	CloneSecurityParams    func(vdev domain.VdevHandle, peerMLD domain.MAC) error
	HandleStaCSAParam      func(vdev domain.VdevHandle, csa domain.CSAParams) error
	ProcessDeferredAuth    func(n domain.Notification) error
}

// Dispatch hands a notification to the hook of its kind.
func (o *MlmeExtOps) Dispatch(n domain.Notification) error {
	if o == nil {
		return nil
	}
	var hook func(domain.Notification) error
	switch n.Kind {
	case domain.NotifyPeerCreate:
		hook = o.PeerCreate
	case domain.NotifyPeerAssoc:
		hook = o.PeerAssoc
	case domain.NotifyPeerAssocFail:
		hook = o.PeerAssocFail
	case domain.NotifyPeerDeauth:
		hook = o.PeerDeauth
	case domain.NotifyPeerDisconnect:
		hook = o.PeerDisconnect
	case domain.NotifyPendingAuth:
		hook = o.ProcessDeferredAuth
	}
	if hook == nil {
		return nil
	}
	return hook(n)
}

func (o *MlmeExtOps) SendAssocResp(vdev domain.VdevHandle, peer domain.PeerHandle, frame []byte) error {
	if o == nil || o.SendAssocResponse == nil {
		return nil
	}
	return o.SendAssocResponse(vdev, peer, frame)
}

func (o *MlmeExtOps) ValidateConnect(vdev domain.VdevInfo, peerMLD domain.MAC) error {
	if o == nil || o.ValidateConnectRequest == nil {
		return nil
	}
	return o.ValidateConnectRequest(vdev, peerMLD)
}

func (o *MlmeExtOps) CreateVdev(mld domain.MAC, link domain.PartnerLink) error {
	if o == nil || o.CreateLinkVdev == nil {
		return nil
	}
	return o.CreateLinkVdev(mld, link)
}

func (o *MlmeExtOps) DeletePeer(peer domain.PeerHandle) error {
	if o == nil || o.PeerDelete == nil {
		return nil
	}
	return o.PeerDelete(peer)
}

// AssocReqBuffer returns nil when no hook is registered.
func (o *MlmeExtOps) AssocReqBuffer(peer domain.PeerHandle) ([]byte, error) {
	if o == nil || o.GetLinkAssocReqBuffer == nil {
		return nil, nil
	}
	return o.GetLinkAssocReqBuffer(peer)
}

func (o *MlmeExtOps) CloneSecurity(vdev domain.VdevHandle, peerMLD domain.MAC) error {
	if o == nil || o.CloneSecurityParams == nil {
		return nil
	}
	return o.CloneSecurityParams(vdev, peerMLD)
}

func (o *MlmeExtOps) StaCSA(vdev domain.VdevHandle, csa domain.CSAParams) error {
	if o == nil || o.HandleStaCSAParam == nil {
		return nil
	}
	return o.HandleStaCSAParam(vdev, csa)
}

// ExtOpsSource returns the currently registered callback table, or nil.
type ExtOpsSource interface {
	ExtOps() *MlmeExtOps
}

// DataPlaneHooks are the data-plane attach points invoked at link and SoC
// boundaries. Nil hooks are skipped.
type DataPlaneHooks struct {
	MLOCtxtAttach         func(groupID uint8) error
	MLOCtxtDetach         func(groupID uint8) error
	SocSetup              func(groupID, chipID uint8) error
	SocTeardown           func(groupID, chipID uint8, forced bool) error
	UpdatePartnerVdevList func(mld domain.MAC, vdevs []domain.VdevHandle) error
}

func (h *DataPlaneHooks) CtxtAttach(groupID uint8) error {
	if h == nil || h.MLOCtxtAttach == nil {
		return nil
	}
	return h.MLOCtxtAttach(groupID)
}

func (h *DataPlaneHooks) CtxtDetach(groupID uint8) error {
	if h == nil || h.MLOCtxtDetach == nil {
		return nil
	}
	return h.MLOCtxtDetach(groupID)
}

func (h *DataPlaneHooks) Setup(groupID, chipID uint8) error {
	if h == nil || h.SocSetup == nil {
		return nil
	}
	return h.SocSetup(groupID, chipID)
}

func (h *DataPlaneHooks) Teardown(groupID, chipID uint8, forced bool) error {
	if h == nil || h.SocTeardown == nil {
		return nil
	}
	return h.SocTeardown(groupID, chipID, forced)
}

func (h *DataPlaneHooks) PartnerVdevs(mld domain.MAC, vdevs []domain.VdevHandle) error {
	if h == nil || h.UpdatePartnerVdevList == nil {
		return nil
	}
	return h.UpdatePartnerVdevList(mld, vdevs)
}
