package mlie

import (
	"fmt"
	"log/slog"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
)

// PerSTAProfile is a decoded Basic variant Per-STA Profile subelement.
type PerSTAProfile struct {
	LinkID   uint8 `json:"link_id"`
	Complete bool  `json:"complete"`

	// STAInfoLength is the declared STA Info length, carried as received.
	STAInfoLength uint8 `json:"sta_info_length"`

	MACAddr    domain.MAC `json:"mac_addr"`
	HasMACAddr bool       `json:"has_mac_addr"`

	BeaconInterval    uint16 `json:"beacon_interval"`
	HasBeaconInterval bool   `json:"has_beacon_interval"`

	// TSFOffset is in units of 2 microseconds, two's complement.
	TSFOffset    int64 `json:"tsf_offset"`
	HasTSFOffset bool  `json:"has_tsf_offset"`

	DTIMCount   uint8 `json:"dtim_count"`
	DTIMPeriod  uint8 `json:"dtim_period"`
	HasDTIMInfo bool  `json:"has_dtim_info"`

	// NSTRBitmapLen is 0 when no NSTR Indication Bitmap is present.
	NSTRBitmap    uint16 `json:"nstr_bitmap"`
	NSTRBitmapLen int    `json:"nstr_bitmap_len"`

	BSSParamChangeCount    uint8 `json:"bss_param_change_count"`
	HasBSSParamChangeCount bool  `json:"has_bss_param_change_count"`

	// Profile holds the STA Profile field: fixed fields followed by elements.
	Profile []byte `json:"profile,omitempty"`
}

// ProbeReqProfile is a Probe Request variant Per-STA Profile subelement.
type ProbeReqProfile struct {
	LinkID   uint8  `json:"link_id"`
	Complete bool   `json:"complete"`
	Profile  []byte `json:"profile,omitempty"`
}

// ProbeReqInfo is the content of a Probe Request variant element.
type ProbeReqInfo struct {
	MLDID    uint8   `json:"mld_id"`
	HasMLDID bool    `json:"has_mld_id"`
	LinkIDs  []uint8 `json:"link_ids"`
}

// ReconfigLink is one link of a Reconfiguration variant element.
type ReconfigLink struct {
	LinkID            uint8      `json:"link_id"`
	Complete          bool       `json:"complete"`
	LinkAddr          domain.MAC `json:"link_addr"`
	HasLinkAddr       bool       `json:"has_link_addr"`
	APRemovalTimer    uint16     `json:"ap_removal_timer"`
	HasAPRemovalTimer bool       `json:"has_ap_removal_timer"`
}

// ReconfigInfo is the content of a Reconfiguration variant element.
type ReconfigInfo struct {
	MLDAddr    domain.MAC     `json:"mld_addr"`
	HasMLDAddr bool           `json:"has_mld_addr"`
	Links      []ReconfigLink `json:"links"`
}

// IterateSubelements calls fn for each subelement of a Link Info field.
// Fragmented subelements are reassembled into a private buffer first.
func IterateSubelements(linkInfo []byte, fn func(id uint8, payload []byte) error) error {
	pos := 0
	for pos < len(linkInfo) {
		if len(linkInfo)-pos < ieHeaderLen {
			return domain.Protocolf("link info has %d octets left, subelement header needs %d", len(linkInfo)-pos, ieHeaderLen)
		}
		info, err := SubelementFragSeq(linkInfo[pos:])
		if err != nil {
			return err
		}
		var payload []byte
		if info.Fragmented {
			if info.PayloadLen == 0 {
				return fmt.Errorf("%w: fragmented subelement with empty payload", domain.ErrAssertionFailed)
			}
			if payload, err = subelementUnit.defrag(linkInfo[pos:], info); err != nil {
				return err
			}
		} else {
			payload = linkInfo[pos+ieHeaderLen : pos+info.TotalLen]
		}
		if err := fn(linkInfo[pos], payload); err != nil {
			return err
		}
		pos += info.TotalLen
	}
	return nil
}

// ParsePerSTAProfile decodes the payload of a Basic variant Per-STA Profile.
func ParsePerSTAProfile(payload []byte) (PerSTAProfile, error) {
	var p PerSTAProfile
	if len(payload) == 0 {
		return p, domain.Protocolf("empty Per-STA Profile")
	}
	r := newReader(payload)
	ctrl, err := r.u16("STA control")
	if err != nil {
		return p, err
	}
	p.LinkID = uint8(ctrl & staCtrlLinkIDMask)
	p.Complete = ctrl&staCtrlComplete != 0

	if p.STAInfoLength, err = r.u8("STA info length"); err != nil {
		return p, err
	}
	if ctrl&staCtrlMACAddrP != 0 {
		if p.MACAddr, err = r.mac("STA MAC address"); err != nil {
			return p, err
		}
		p.HasMACAddr = true
	}
	if ctrl&staCtrlBcnIntP != 0 {
		if p.BeaconInterval, err = r.u16("beacon interval"); err != nil {
			return p, err
		}
		p.HasBeaconInterval = true
	}
	if ctrl&staCtrlTSFOffsetP != 0 {
		if !p.Complete {
			return p, domain.Protocolf("TSF offset present in partial profile for link %d", p.LinkID)
		}
		v, err := r.u64("TSF offset")
		if err != nil {
			return p, err
		}
		p.TSFOffset, p.HasTSFOffset = int64(v), true
	}
	if ctrl&staCtrlDTIMInfoP != 0 {
		if p.DTIMCount, err = r.u8("DTIM count"); err != nil {
			return p, err
		}
		if p.DTIMPeriod, err = r.u8("DTIM period"); err != nil {
			return p, err
		}
		p.HasDTIMInfo = true
	}
	if p.Complete && ctrl&staCtrlNSTRLinkPairP != 0 {
		if ctrl&staCtrlNSTRBmSize2 != 0 {
			if p.NSTRBitmap, err = r.u16("NSTR indication bitmap"); err != nil {
				return p, err
			}
			p.NSTRBitmapLen = 2
		} else {
			v, err := r.u8("NSTR indication bitmap")
			if err != nil {
				return p, err
			}
			p.NSTRBitmap, p.NSTRBitmapLen = uint16(v), 1
		}
	}
	if ctrl&staCtrlBPCCP != 0 {
		if p.BSSParamChangeCount, err = r.u8("BSS parameters change count"); err != nil {
			return p, err
		}
		p.HasBSSParamChangeCount = true
	}
	if r.remaining() > 0 {
		p.Profile = r.rest()
	}
	return p, nil
}

// ParseProbeReqProfile decodes the payload of a Probe Request variant
// Per-STA Profile.
func ParseProbeReqProfile(payload []byte) (ProbeReqProfile, error) {
	var p ProbeReqProfile
	if len(payload) == 0 {
		return p, domain.Protocolf("empty Per-STA Profile")
	}
	r := newReader(payload)
	ctrl, err := r.u16("STA control")
	if err != nil {
		return p, err
	}
	p.LinkID = uint8(ctrl & staCtrlLinkIDMask)
	p.Complete = ctrl&staCtrlComplete != 0
	if r.remaining() > 0 {
		p.Profile = r.rest()
	}
	return p, nil
}

// ParseReconfigProfile decodes the payload of a Reconfiguration variant
// Per-STA Profile.
func ParseReconfigProfile(payload []byte) (ReconfigLink, error) {
	var l ReconfigLink
	if len(payload) == 0 {
		return l, domain.Protocolf("empty Per-STA Profile")
	}
	r := newReader(payload)
	ctrl, err := r.u16("STA control")
	if err != nil {
		return l, err
	}
	l.LinkID = uint8(ctrl & staCtrlLinkIDMask)
	l.Complete = ctrl&staCtrlComplete != 0
	if ctrl&rvStaCtrlMACAddrP != 0 {
		if l.LinkAddr, err = r.mac("STA MAC address"); err != nil {
			return l, err
		}
		l.HasLinkAddr = true
	}
	if ctrl&rvStaCtrlAPRemovalTimerP != 0 {
		if l.APRemovalTimer, err = r.u16("AP removal timer"); err != nil {
			return l, err
		}
		l.HasAPRemovalTimer = true
	}
	return l, nil
}

// PerSTAProfiles returns every Per-STA Profile of a Basic variant element.
func PerSTAProfiles(seq []byte) ([]PerSTAProfile, error) {
	el, err := parseVariant(seq, VariantBasic)
	if err != nil {
		return nil, err
	}
	return basicProfiles(el.LinkInfo)
}

func basicProfiles(linkInfo []byte) ([]PerSTAProfile, error) {
	var out []PerSTAProfile
	err := IterateSubelements(linkInfo, func(id uint8, payload []byte) error {
		if id != SubelemPerSTAProfile {
			return nil
		}
		p, err := ParsePerSTAProfile(payload)
		if err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

// findProfile returns the first Per-STA Profile for linkID.
func findProfile(linkInfo []byte, linkID uint8) (PerSTAProfile, error) {
	var (
		found PerSTAProfile
		ok    bool
	)
	err := IterateSubelements(linkInfo, func(id uint8, payload []byte) error {
		if ok || id != SubelemPerSTAProfile {
			return nil
		}
		p, err := ParsePerSTAProfile(payload)
		if err != nil {
			return err
		}
		if p.LinkID == linkID {
			found, ok = p, true
		}
		return nil
	})
	if err != nil {
		return found, err
	}
	if !ok {
		return found, domain.Protocolf("no Per-STA Profile for link %d", linkID)
	}
	return found, nil
}

// GetPartnerLinkInfo extracts the link ID and MAC address of every partner
// link from a Basic variant element. Profiles without a MAC address are
// skipped.
func GetPartnerLinkInfo(seq []byte) (domain.PartnerInfo, error) {
	var info domain.PartnerInfo
	el, err := parseVariant(seq, VariantBasic)
	if err != nil {
		return info, err
	}
	err = IterateSubelements(el.LinkInfo, func(id uint8, payload []byte) error {
		if id != SubelemPerSTAProfile {
			return nil
		}
		p, err := ParsePerSTAProfile(payload)
		if err != nil {
			return err
		}
		if !p.HasMACAddr {
			slog.Warn("Per-STA profile without MAC address skipped", "link_id", p.LinkID)
			return nil
		}
		if len(info.Links) >= domain.MaxPartnerLinks {
			return fmt.Errorf("%w: more than %d partner links", domain.ErrOutOfCapacity, domain.MaxPartnerLinks)
		}
		info.Links = append(info.Links, domain.PartnerLink{LinkID: p.LinkID, LinkAddr: p.MACAddr})
		return nil
	})
	if err != nil {
		return domain.PartnerInfo{}, err
	}
	return info, nil
}

// GetProbeReqLinkIDs extracts the requested link IDs of a Probe Request
// variant element.
func GetProbeReqLinkIDs(seq []byte) (ProbeReqInfo, error) {
	var info ProbeReqInfo
	el, err := parseVariant(seq, VariantProbeReq)
	if err != nil {
		return info, err
	}
	info.MLDID, info.HasMLDID = el.Common.MLDID, el.Common.HasMLDID
	err = IterateSubelements(el.LinkInfo, func(id uint8, payload []byte) error {
		if id != SubelemPerSTAProfile {
			return nil
		}
		p, err := ParseProbeReqProfile(payload)
		if err != nil {
			return err
		}
		if len(info.LinkIDs) >= domain.MaxPartnerLinks {
			return fmt.Errorf("%w: more than %d requested links", domain.ErrOutOfCapacity, domain.MaxPartnerLinks)
		}
		info.LinkIDs = append(info.LinkIDs, p.LinkID)
		return nil
	})
	if err != nil {
		return ProbeReqInfo{}, err
	}
	return info, nil
}

// GetReconfigLinkInfo extracts the links announced by a Reconfiguration
// variant element.
func GetReconfigLinkInfo(seq []byte) (ReconfigInfo, error) {
	var info ReconfigInfo
	el, err := parseVariant(seq, VariantReconfig)
	if err != nil {
		return info, err
	}
	info.MLDAddr, info.HasMLDAddr = el.Common.MLDAddr, el.Common.HasMLDAddr
	err = IterateSubelements(el.LinkInfo, func(id uint8, payload []byte) error {
		if id != SubelemPerSTAProfile {
			return nil
		}
		l, err := ParseReconfigProfile(payload)
		if err != nil {
			return err
		}
		if !l.HasAPRemovalTimer {
			slog.Debug("reconfiguration profile without AP removal timer", "link_id", l.LinkID)
		}
		if len(info.Links) >= domain.MaxPartnerLinks {
			return fmt.Errorf("%w: more than %d reconfigured links", domain.ErrOutOfCapacity, domain.MaxPartnerLinks)
		}
		info.Links = append(info.Links, l)
		return nil
	})
	if err != nil {
		return ReconfigInfo{}, err
	}
	return info, nil
}
