package mlie

import (
	"encoding/binary"
	"fmt"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
)

// BasicElement is the input of BuildBasic. Common.MLDAddr is always encoded;
// the other Common fields are encoded when their Has flag is set.
type BasicElement struct {
	Common   CommonInfo
	Profiles []PerSTAProfile
}

// ProbeReqElement is the input of BuildProbeRequest.
type ProbeReqElement struct {
	MLDID    uint8
	HasMLDID bool
	Profiles []ProbeReqProfile
}

// ReconfigElement is the input of BuildReconfig.
type ReconfigElement struct {
	MLDAddr    domain.MAC
	HasMLDAddr bool
	Links      []ReconfigLink
}

func le16(b []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(b, v)
}

func checkLinkID(id uint8) error {
	if id > staCtrlLinkIDMask {
		return fmt.Errorf("%w: link ID %d does not fit in 4 bits", domain.ErrInvalidArgument, id)
	}
	return nil
}

// BuildBasic encodes a Basic variant Multi-Link element, fragmenting the
// element and its Per-STA Profiles as needed.
func BuildBasic(e BasicElement) ([]byte, error) {
	c := e.Common
	var pbm uint16
	cinfo := []byte{0}
	cinfo = append(cinfo, c.MLDAddr[:]...)
	if c.HasLinkID {
		if err := checkLinkID(c.LinkID); err != nil {
			return nil, err
		}
		pbm |= PresLinkIDInfo
		cinfo = append(cinfo, c.LinkID)
	}
	if c.HasBSSParamChangeCount {
		pbm |= PresBSSParamChangeCnt
		cinfo = append(cinfo, c.BSSParamChangeCount)
	}
	if c.HasMediumSyncDelay {
		pbm |= PresMediumSyncDelay
		cinfo = le16(cinfo, c.MediumSyncDelay.encode())
	}
	if c.HasEMLCap {
		pbm |= PresEMLCap
		cinfo = le16(cinfo, c.EMLCap)
	}
	if c.HasMLDCap {
		pbm |= PresMLDCapAndOp
		cinfo = le16(cinfo, c.MLDCap.encode())
	}
	if c.HasMLDID {
		pbm |= PresMLDID
		cinfo = append(cinfo, c.MLDID)
	}
	cinfo[0] = uint8(len(cinfo))

	payload := le16(nil, uint16(VariantBasic)|pbm<<ctrlPBMShift)
	payload = append(payload, cinfo...)
	for _, p := range e.Profiles {
		sub, err := encodePerSTAProfile(p)
		if err != nil {
			return nil, err
		}
		payload = append(payload, FragmentSubelement(SubelemPerSTAProfile, sub)...)
	}
	return FragmentExtensionElement(ExtIDMultiLink, payload), nil
}

func encodePerSTAProfile(p PerSTAProfile) ([]byte, error) {
	if err := checkLinkID(p.LinkID); err != nil {
		return nil, err
	}
	ctrl := uint16(p.LinkID)
	if p.Complete {
		ctrl |= staCtrlComplete
	}
	info := []byte{0}
	if p.HasMACAddr {
		ctrl |= staCtrlMACAddrP
		info = append(info, p.MACAddr[:]...)
	}
	if p.HasBeaconInterval {
		ctrl |= staCtrlBcnIntP
		info = le16(info, p.BeaconInterval)
	}
	if p.HasTSFOffset {
		if !p.Complete {
			return nil, fmt.Errorf("%w: TSF offset requires a complete profile", domain.ErrInvalidArgument)
		}
		ctrl |= staCtrlTSFOffsetP
		info = binary.LittleEndian.AppendUint64(info, uint64(p.TSFOffset))
	}
	if p.HasDTIMInfo {
		ctrl |= staCtrlDTIMInfoP
		info = append(info, p.DTIMCount, p.DTIMPeriod)
	}
	switch p.NSTRBitmapLen {
	case 0:
	case 1, 2:
		if !p.Complete {
			return nil, fmt.Errorf("%w: NSTR bitmap requires a complete profile", domain.ErrInvalidArgument)
		}
		ctrl |= staCtrlNSTRLinkPairP
		if p.NSTRBitmapLen == 2 {
			ctrl |= staCtrlNSTRBmSize2
			info = le16(info, p.NSTRBitmap)
		} else {
			info = append(info, uint8(p.NSTRBitmap))
		}
	default:
		return nil, fmt.Errorf("%w: NSTR bitmap length %d", domain.ErrInvalidArgument, p.NSTRBitmapLen)
	}
	if p.HasBSSParamChangeCount {
		ctrl |= staCtrlBPCCP
		info = append(info, p.BSSParamChangeCount)
	}
	info[0] = uint8(len(info))

	out := le16(nil, ctrl)
	out = append(out, info...)
	return append(out, p.Profile...), nil
}

// BuildProbeRequest encodes a Probe Request variant Multi-Link element.
func BuildProbeRequest(e ProbeReqElement) ([]byte, error) {
	var pbm uint16
	cinfo := []byte{0}
	if e.HasMLDID {
		pbm |= PresPRMLDID
		cinfo = append(cinfo, e.MLDID)
	}
	cinfo[0] = uint8(len(cinfo))

	payload := le16(nil, uint16(VariantProbeReq)|pbm<<ctrlPBMShift)
	payload = append(payload, cinfo...)
	for _, p := range e.Profiles {
		if err := checkLinkID(p.LinkID); err != nil {
			return nil, err
		}
		ctrl := uint16(p.LinkID)
		if p.Complete {
			ctrl |= staCtrlComplete
		}
		sub := append(le16(nil, ctrl), p.Profile...)
		payload = append(payload, FragmentSubelement(SubelemPerSTAProfile, sub)...)
	}
	return FragmentExtensionElement(ExtIDMultiLink, payload), nil
}

// BuildReconfig encodes a Reconfiguration variant Multi-Link element.
func BuildReconfig(e ReconfigElement) ([]byte, error) {
	var pbm uint16
	var cinfo []byte
	if e.HasMLDAddr {
		pbm |= PresRVMLDMACAddr
		cinfo = append(cinfo, e.MLDAddr[:]...)
	}
	payload := le16(nil, uint16(VariantReconfig)|pbm<<ctrlPBMShift)
	payload = append(payload, cinfo...)
	for _, l := range e.Links {
		if err := checkLinkID(l.LinkID); err != nil {
			return nil, err
		}
		ctrl := uint16(l.LinkID)
		if l.Complete {
			ctrl |= staCtrlComplete
		}
		var info []byte
		if l.HasLinkAddr {
			ctrl |= rvStaCtrlMACAddrP
			info = append(info, l.LinkAddr[:]...)
		}
		if l.HasAPRemovalTimer {
			ctrl |= rvStaCtrlAPRemovalTimerP
			info = le16(info, l.APRemovalTimer)
		}
		sub := append(le16(nil, ctrl), info...)
		payload = append(payload, FragmentSubelement(SubelemPerSTAProfile, sub)...)
	}
	return FragmentExtensionElement(ExtIDMultiLink, payload), nil
}

// BuildFromPartnerInfo encodes a Basic variant element advertising mld and
// one complete Per-STA Profile with a MAC address per partner link.
func BuildFromPartnerInfo(mld domain.MAC, info domain.PartnerInfo) ([]byte, error) {
	e := BasicElement{Common: CommonInfo{MLDAddr: mld, HasMLDAddr: true}}
	for _, l := range info.Links {
		e.Profiles = append(e.Profiles, PerSTAProfile{
			LinkID:     l.LinkID,
			Complete:   true,
			MACAddr:    l.LinkAddr,
			HasMACAddr: true,
		})
	}
	return BuildBasic(e)
}
