package mlie

import (
	"encoding/binary"
	"fmt"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
)

// Span locates an element sequence (lead element plus fragments) in a buffer.
type Span struct {
	Offset int
	Length int
}

// Of returns the bytes covered by s.
func (s Span) Of(buf []byte) []byte {
	return buf[s.Offset : s.Offset+s.Length]
}

// MediumSyncDelay is the Medium Synchronization Delay Information subfield.
type MediumSyncDelay struct {
	Duration        uint8 `json:"duration"`
	OFDMEDThreshold uint8 `json:"ofdm_ed_threshold"`
	MaxTXOPs        uint8 `json:"max_txops"`
}

func (m MediumSyncDelay) encode() uint16 {
	return uint16(m.Duration) | uint16(m.OFDMEDThreshold&0x0f)<<8 | uint16(m.MaxTXOPs&0x0f)<<12
}

func decodeMediumSyncDelay(v uint16) MediumSyncDelay {
	return MediumSyncDelay{
		Duration:        uint8(v & 0xff),
		OFDMEDThreshold: uint8(v>>8) & 0x0f,
		MaxTXOPs:        uint8(v>>12) & 0x0f,
	}
}

// MLDCapability is the MLD Capabilities And Operations subfield.
type MLDCapability struct {
	MaxSimultaneousLinks uint8 `json:"max_simultaneous_links"`
	SRS                  bool  `json:"srs"`
	T2LMNegotiation      uint8 `json:"t2lm_negotiation"`
	FreqSepSTR           uint8 `json:"freq_sep_str"`
	AAR                  bool  `json:"aar"`
}

func (c MLDCapability) encode() uint16 {
	v := uint16(c.MaxSimultaneousLinks & 0x0f)
	if c.SRS {
		v |= 1 << 4
	}
	v |= uint16(c.T2LMNegotiation&0x03) << 5
	v |= uint16(c.FreqSepSTR&0x1f) << 7
	if c.AAR {
		v |= 1 << 12
	}
	return v
}

func decodeMLDCapability(v uint16) MLDCapability {
	return MLDCapability{
		MaxSimultaneousLinks: uint8(v & 0x0f),
		SRS:                  v&(1<<4) != 0,
		T2LMNegotiation:      uint8(v>>5) & 0x03,
		FreqSepSTR:           uint8(v>>7) & 0x1f,
		AAR:                  v&(1<<12) != 0,
	}
}

// CommonInfo holds the Common Info field of any variant. Has* flags mirror
// the presence bitmap.
type CommonInfo struct {
	// Length is the declared Common Info length. Zero for Reconfiguration.
	Length uint8 `json:"length"`

	MLDAddr    domain.MAC `json:"mld_addr"`
	HasMLDAddr bool       `json:"has_mld_addr"`

	LinkID    uint8 `json:"link_id"`
	HasLinkID bool  `json:"has_link_id"`

	BSSParamChangeCount    uint8 `json:"bss_param_change_count"`
	HasBSSParamChangeCount bool  `json:"has_bss_param_change_count"`

	MediumSyncDelay    MediumSyncDelay `json:"medium_sync_delay"`
	HasMediumSyncDelay bool            `json:"has_medium_sync_delay"`

	EMLCap    uint16 `json:"eml_cap"`
	HasEMLCap bool   `json:"has_eml_cap"`

	MLDCap    MLDCapability `json:"mld_cap"`
	HasMLDCap bool          `json:"has_mld_cap"`

	MLDID    uint8 `json:"mld_id"`
	HasMLDID bool  `json:"has_mld_id"`
}

// Element is a parsed Multi-Link element.
type Element struct {
	Variant  Variant
	Presence uint16
	Common   CommonInfo
	// LinkInfo is the defragmented Link Info field, nil when absent.
	LinkInfo []byte
}

// Find locates the first Multi-Link element in an IE buffer. The returned
// span covers the lead element and every Fragment element after it. An
// absent element is reported with found == false and a nil error.
func Find(buf []byte) (Span, bool, error) {
	if len(buf) == 0 {
		return Span{}, false, domain.ErrNullInput
	}
	return find(buf, 0)
}

func find(buf []byte, from int) (Span, bool, error) {
	pos := from
	for pos < len(buf) {
		if pos+ieHeaderLen > len(buf) {
			return Span{}, false, domain.Protocolf("element header at offset %d exceeds buffer of %d octets", pos, len(buf))
		}
		l := int(buf[pos+1])
		if pos+ieHeaderLen+l > len(buf) {
			return Span{}, false, domain.Protocolf("element %d at offset %d declares %d octets, %d remaining", buf[pos], pos, l, len(buf)-pos-ieHeaderLen)
		}
		if buf[pos] == TagExtension && l >= 1 && buf[pos+ieHeaderLen] == ExtIDMultiLink {
			if ieHeaderLen+l < mlFixedLen {
				return Span{}, false, domain.Protocolf("Multi-Link element of %d octets is shorter than %d", ieHeaderLen+l, mlFixedLen)
			}
			info, err := ElementFragSeq(buf[pos:])
			if err != nil {
				return Span{}, false, err
			}
			return Span{Offset: pos, Length: info.TotalLen}, true, nil
		}
		pos += ieHeaderLen + l
	}
	return Span{}, false, nil
}

// FindByVariant returns the first Multi-Link element of the given variant.
// Unlike Find, running out of elements is an error (ErrNotFound), even when
// the buffer holds no Multi-Link element at all.
func FindByVariant(buf []byte, v Variant) (Span, error) {
	if len(buf) == 0 {
		return Span{}, domain.ErrNullInput
	}
	pos := 0
	for pos < len(buf) {
		span, ok, err := find(buf, pos)
		if err != nil {
			return Span{}, err
		}
		if !ok {
			break
		}
		got, err := GetVariant(span.Of(buf))
		if err != nil {
			return Span{}, err
		}
		if got == v {
			return span, nil
		}
		pos = span.Offset + span.Length
	}
	return Span{}, fmt.Errorf("%w: no %s Multi-Link element", domain.ErrNotFound, v)
}

func checkHeader(seq []byte) error {
	if len(seq) == 0 {
		return domain.ErrNullInput
	}
	if len(seq) < mlFixedLen {
		return domain.Protocolf("Multi-Link element of %d octets is shorter than %d", len(seq), mlFixedLen)
	}
	if seq[0] != TagExtension || seq[2] != ExtIDMultiLink {
		return fmt.Errorf("%w: element %d/%d is not a Multi-Link element", domain.ErrInvalidArgument, seq[0], seq[2])
	}
	return nil
}

// GetVariant reads the Type subfield of the ML Control field.
func GetVariant(seq []byte) (Variant, error) {
	if err := checkHeader(seq); err != nil {
		return 0, err
	}
	ctrl := binary.LittleEndian.Uint16(seq[3:5])
	t := ctrl & ctrlTypeMask
	if t >= variantsValid {
		return 0, domain.Protocolf("invalid Multi-Link variant %d", t)
	}
	return Variant(t), nil
}

// Parse defragments a Multi-Link element sequence and decodes its ML Control
// and Common Info fields. The declared Common Info length must match the
// fields enabled by the presence bitmap exactly.
func Parse(seq []byte) (*Element, error) {
	v, err := GetVariant(seq)
	if err != nil {
		return nil, err
	}
	payload, err := DefragmentElement(seq)
	if err != nil {
		return nil, err
	}
	return parsePayload(v, payload)
}

func parsePayload(v Variant, payload []byte) (*Element, error) {
	r := newReader(payload)
	ctrl, err := r.u16("ML control")
	if err != nil {
		return nil, err
	}
	el := &Element{Variant: v, Presence: ctrl >> ctrlPBMShift}

	switch v {
	case VariantBasic:
		err = parseBasicCommon(r, el)
	case VariantProbeReq:
		err = parseProbeReqCommon(r, el)
	case VariantReconfig:
		err = parseReconfigCommon(r, el)
	}
	if err != nil {
		return nil, err
	}
	if r.remaining() > 0 {
		el.LinkInfo = r.rest()
	}
	return el, nil
}

func parseBasicCommon(r *reader, el *Element) error {
	c := &el.Common
	var err error
	if c.Length, err = r.u8("common info length"); err != nil {
		return err
	}
	if c.MLDAddr, err = r.mac("MLD MAC address"); err != nil {
		return err
	}
	c.HasMLDAddr = true
	pbm := el.Presence
	if pbm&PresLinkIDInfo != 0 {
		v, err := r.u8("link ID info")
		if err != nil {
			return err
		}
		c.LinkID, c.HasLinkID = v&0x0f, true
	}
	if pbm&PresBSSParamChangeCnt != 0 {
		if c.BSSParamChangeCount, err = r.u8("BSS parameters change count"); err != nil {
			return err
		}
		c.HasBSSParamChangeCount = true
	}
	if pbm&PresMediumSyncDelay != 0 {
		v, err := r.u16("medium sync delay info")
		if err != nil {
			return err
		}
		c.MediumSyncDelay, c.HasMediumSyncDelay = decodeMediumSyncDelay(v), true
	}
	if pbm&PresEMLCap != 0 {
		if c.EMLCap, err = r.u16("EML capabilities"); err != nil {
			return err
		}
		c.HasEMLCap = true
	}
	if pbm&PresMLDCapAndOp != 0 {
		v, err := r.u16("MLD capabilities and operations")
		if err != nil {
			return err
		}
		c.MLDCap, c.HasMLDCap = decodeMLDCapability(v), true
	}
	if pbm&PresMLDID != 0 {
		if c.MLDID, err = r.u8("MLD ID"); err != nil {
			return err
		}
		c.HasMLDID = true
	}
	if exp := r.off - mlCtrlLen; int(c.Length) != exp {
		return domain.Protocolf("common info length %d does not match %d octets of enabled fields", c.Length, exp)
	}
	return nil
}

func parseProbeReqCommon(r *reader, el *Element) error {
	c := &el.Common
	var err error
	if c.Length, err = r.u8("common info length"); err != nil {
		return err
	}
	if el.Presence&PresPRMLDID != 0 {
		if c.MLDID, err = r.u8("MLD ID"); err != nil {
			return err
		}
		c.HasMLDID = true
	}
	if exp := r.off - mlCtrlLen; int(c.Length) != exp {
		return domain.Protocolf("common info length %d does not match %d octets of enabled fields", c.Length, exp)
	}
	return nil
}

func parseReconfigCommon(r *reader, el *Element) error {
	if el.Presence&PresRVMLDMACAddr == 0 {
		return nil
	}
	mac, err := r.mac("MLD MAC address")
	if err != nil {
		return err
	}
	el.Common.MLDAddr, el.Common.HasMLDAddr = mac, true
	return nil
}

func parseVariant(seq []byte, want Variant) (*Element, error) {
	v, err := GetVariant(seq)
	if err != nil {
		return nil, err
	}
	if v != want {
		return nil, fmt.Errorf("%w: %s Multi-Link element where %s is required", domain.ErrNotSupported, v, want)
	}
	return Parse(seq)
}

// GetCommonInfoLength returns the declared Common Info length of a Basic
// variant element.
func GetCommonInfoLength(seq []byte) (uint8, error) {
	v, err := GetVariant(seq)
	if err != nil {
		return 0, err
	}
	if v != VariantBasic {
		return 0, fmt.Errorf("%w: common info length of %s variant", domain.ErrNotSupported, v)
	}
	payload, err := DefragmentElement(seq)
	if err != nil {
		return 0, err
	}
	r := newReader(payload)
	if err := r.skip(mlCtrlLen, "ML control"); err != nil {
		return 0, err
	}
	return r.u8("common info length")
}

// GetMLDMACAddress returns the MLD MAC address of a Basic variant element.
func GetMLDMACAddress(seq []byte) (domain.MAC, error) {
	el, err := parseVariant(seq, VariantBasic)
	if err != nil {
		return domain.MAC{}, err
	}
	return el.Common.MLDAddr, nil
}

// GetPrimaryLinkID returns the link ID of the reporting link, if present.
func GetPrimaryLinkID(seq []byte) (bool, uint8, error) {
	el, err := parseVariant(seq, VariantBasic)
	if err != nil {
		return false, 0, err
	}
	return el.Common.HasLinkID, el.Common.LinkID, nil
}

// GetBSSParamChangeCount returns the BSS Parameters Change Count, if present.
func GetBSSParamChangeCount(seq []byte) (bool, uint8, error) {
	el, err := parseVariant(seq, VariantBasic)
	if err != nil {
		return false, 0, err
	}
	return el.Common.HasBSSParamChangeCount, el.Common.BSSParamChangeCount, nil
}

// GetMediumSyncDelay returns the Medium Synchronization Delay Information.
func GetMediumSyncDelay(seq []byte) (bool, MediumSyncDelay, error) {
	el, err := parseVariant(seq, VariantBasic)
	if err != nil {
		return false, MediumSyncDelay{}, err
	}
	return el.Common.HasMediumSyncDelay, el.Common.MediumSyncDelay, nil
}

// GetEMLCapability returns the raw EML Capabilities subfield.
func GetEMLCapability(seq []byte) (bool, uint16, error) {
	el, err := parseVariant(seq, VariantBasic)
	if err != nil {
		return false, 0, err
	}
	return el.Common.HasEMLCap, el.Common.EMLCap, nil
}

// GetMLDCapability returns the MLD Capabilities And Operations subfield.
func GetMLDCapability(seq []byte) (bool, MLDCapability, error) {
	el, err := parseVariant(seq, VariantBasic)
	if err != nil {
		return false, MLDCapability{}, err
	}
	return el.Common.HasMLDCap, el.Common.MLDCap, nil
}

// GetMLDID returns the MLD ID of a Probe Request variant element.
func GetMLDID(seq []byte) (bool, uint8, error) {
	el, err := parseVariant(seq, VariantProbeReq)
	if err != nil {
		return false, 0, err
	}
	return el.Common.HasMLDID, el.Common.MLDID, nil
}

// GetReconfigMLDMACAddress returns the MLD MAC address of a Reconfiguration
// variant element when its presence bit is set.
func GetReconfigMLDMACAddress(seq []byte) (bool, domain.MAC, error) {
	el, err := parseVariant(seq, VariantReconfig)
	if err != nil {
		return false, domain.MAC{}, err
	}
	return el.Common.HasMLDAddr, el.Common.MLDAddr, nil
}
