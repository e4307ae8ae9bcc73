package mlie

import (
	"fmt"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
)

// Decoded is a variant independent summary of a Multi-Link element, used by
// the diagnostics API and the capture dump tool.
type Decoded struct {
	Variant    string     `json:"variant"`
	Presence   uint16     `json:"presence"`
	Fragmented bool       `json:"fragmented"`
	Length     int        `json:"length"`
	Common     CommonInfo `json:"common"`

	Profiles []PerSTAProfile      `json:"profiles,omitempty"`
	Probe    *ProbeReqInfo        `json:"probe,omitempty"`
	Reconfig []ReconfigLink       `json:"reconfig,omitempty"`
	Partners []domain.PartnerLink `json:"partners,omitempty"`
}

// Decode parses the first Multi-Link element found in an IE section.
func Decode(ies []byte) (*Decoded, error) {
	span, found, err := Find(ies)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: no Multi-Link element", domain.ErrNotFound)
	}
	return DecodeElement(span.Of(ies))
}

// DecodeElement parses a Multi-Link element sequence starting at seq[0].
func DecodeElement(seq []byte) (*Decoded, error) {
	info, err := ElementFragSeq(seq)
	if err != nil {
		return nil, err
	}
	el, err := Parse(seq)
	if err != nil {
		return nil, err
	}
	d := &Decoded{
		Variant:    el.Variant.String(),
		Presence:   el.Presence,
		Fragmented: info.Fragmented,
		Length:     info.TotalLen,
		Common:     el.Common,
	}
	switch el.Variant {
	case VariantBasic:
		if d.Profiles, err = basicProfiles(el.LinkInfo); err != nil {
			return nil, err
		}
		for _, p := range d.Profiles {
			if p.HasMACAddr {
				d.Partners = append(d.Partners, domain.PartnerLink{LinkID: p.LinkID, LinkAddr: p.MACAddr})
			}
		}
	case VariantProbeReq:
		pr, err := GetProbeReqLinkIDs(seq)
		if err != nil {
			return nil, err
		}
		d.Probe = &pr
	case VariantReconfig:
		rc, err := GetReconfigLinkInfo(seq)
		if err != nil {
			return nil, err
		}
		d.Reconfig = rc.Links
	}
	return d, nil
}
