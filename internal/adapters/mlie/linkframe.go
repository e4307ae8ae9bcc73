package mlie

import (
	"encoding/binary"
	"fmt"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
)

// FrameSubtype selects the management frame a link specific frame is
// generated for.
type FrameSubtype uint8

const (
	SubtypeAssocReq FrameSubtype = iota
	SubtypeReassocReq
	SubtypeAssocResp
	SubtypeReassocResp
	SubtypeProbeResp
)

func (s FrameSubtype) String() string {
	switch s {
	case SubtypeAssocReq:
		return "assoc_req"
	case SubtypeReassocReq:
		return "reassoc_req"
	case SubtypeAssocResp:
		return "assoc_resp"
	case SubtypeReassocResp:
		return "reassoc_resp"
	case SubtypeProbeResp:
		return "probe_resp"
	default:
		return "unknown"
	}
}

func (s FrameSubtype) isRequest() bool {
	return s == SubtypeAssocReq || s == SubtypeReassocReq
}

func (s FrameSubtype) isResponse() bool {
	return s == SubtypeAssocResp || s == SubtypeReassocResp
}

// frameControl returns the first Frame Control octet of the generated frame.
func (s FrameSubtype) frameControl() uint8 {
	switch {
	case s.isRequest():
		return 0x00
	case s == SubtypeProbeResp:
		return 0x50
	default:
		return 0x10
	}
}

func (s FrameSubtype) ieOffset() (int, bool) {
	switch s {
	case SubtypeAssocReq:
		return assocReqIEOffset, true
	case SubtypeReassocReq:
		return reassocReqIEOffset, true
	case SubtypeAssocResp, SubtypeReassocResp:
		return assocRespIEOffset, true
	case SubtypeProbeResp:
		return probeRespIEOffset, true
	}
	return 0, false
}

// frameWriter appends to a frame bounded by max octets.
type frameWriter struct {
	buf []byte
	max int
}

func (w *frameWriter) put(what string, b []byte) error {
	if avail := w.max - len(w.buf); len(b) > avail {
		return &domain.SpaceError{What: what, Required: len(b), Available: avail}
	}
	w.buf = append(w.buf, b...)
	return nil
}

// GenerateLinkSpecificFrame synthesizes the management frame the reported
// STA identified by linkID would have sent on its own link, from the frame
// body of the reporting STA. frame starts at the fixed fields; the result
// carries a 24 octet MAC header followed by the body and is at most maxSize
// octets long.
//
// Fixed fields come from the Per-STA Profile where they are link specific
// (Capability Information, Status Code) and from the reporting frame where
// they are common (Listen Interval, Current AP Address, AID). Elements of the
// reporting frame are inherited in their original order unless the profile
// carries its own copy or names them in a Non-Inheritance element; elements
// only present in the profile are appended.
func GenerateLinkSpecificFrame(frame []byte, subtype FrameSubtype, linkID uint8, linkAddr domain.MAC, maxSize int) ([]byte, error) {
	if len(frame) == 0 {
		return nil, domain.ErrNullInput
	}
	off, ok := subtype.ieOffset()
	if !ok {
		return nil, fmt.Errorf("%w: frame subtype %d", domain.ErrInvalidArgument, subtype)
	}
	if maxSize <= 0 {
		return nil, fmt.Errorf("%w: destination size %d", domain.ErrInvalidArgument, maxSize)
	}
	if len(frame) <= off {
		return nil, fmt.Errorf("%w: %s frame of %d octets has no elements after offset %d", domain.ErrInvalidArgument, subtype, len(frame), off)
	}
	section := frame[off:]

	span, found, err := Find(section)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: no Multi-Link element in %s frame", domain.ErrInvalidArgument, subtype)
	}
	el, err := Parse(span.Of(section))
	if err != nil {
		return nil, err
	}
	if el.Variant != VariantBasic {
		return nil, domain.Protocolf("%s Multi-Link element in %s frame", el.Variant, subtype)
	}
	if len(el.LinkInfo) == 0 {
		return nil, domain.Protocolf("Multi-Link element in %s frame has no link info", subtype)
	}
	prof, err := findProfile(el.LinkInfo, linkID)
	if err != nil {
		return nil, err
	}
	if subtype == SubtypeProbeResp && !prof.Complete {
		return nil, fmt.Errorf("%w: probe response from partial profile of link %d", domain.ErrNotSupported, linkID)
	}
	if len(prof.Profile) == 0 {
		return nil, domain.Protocolf("Per-STA Profile of link %d has no STA profile", linkID)
	}
	if !prof.HasMACAddr {
		return nil, domain.Protocolf("Per-STA Profile of link %d has no MAC address", linkID)
	}

	w := &frameWriter{max: maxSize}
	if err := w.put("MAC header", make([]byte, macHeaderLen)); err != nil {
		return nil, err
	}
	pr := newReader(prof.Profile)
	if err := writeFixedFields(w, pr, frame, subtype, prof); err != nil {
		return nil, err
	}

	profIEs, err := SplitIEs(pr.rest())
	if err != nil {
		return nil, err
	}
	repIEs, err := SplitIEs(section)
	if err != nil {
		return nil, err
	}
	nonInherit, _, err := ParseNonInheritance(profIEs)
	if err != nil {
		return nil, err
	}

	ssid := FindIE(repIEs, TagSSID)
	switch {
	case subtype.isResponse():
		if ssid != nil || FindIE(profIEs, TagSSID) != nil {
			return nil, domain.Protocolf("SSID element present in %s frame", subtype)
		}
	case ssid == nil:
		return nil, domain.Protocolf("SSID element missing from %s frame", subtype)
	}

	if err := mergeIEs(w, repIEs, profIEs, nonInherit, span, subtype, el.Common, prof.LinkID); err != nil {
		return nil, err
	}

	writeHeader(w.buf, subtype, linkAddr, prof.MACAddr)
	return w.buf, nil
}

func writeFixedFields(w *frameWriter, pr *reader, frame []byte, subtype FrameSubtype, prof PerSTAProfile) error {
	switch {
	case subtype.isRequest():
		capInfo, err := pr.bytes(capabilityLen, "STA profile capability info")
		if err != nil {
			return err
		}
		if err := w.put("capability info", capInfo); err != nil {
			return err
		}
		if err := w.put("listen interval", frame[capabilityLen:capabilityLen+listenIntervalLen]); err != nil {
			return err
		}
		if subtype == SubtypeReassocReq {
			start := capabilityLen + listenIntervalLen
			if err := w.put("current AP address", frame[start:start+macLen]); err != nil {
				return err
			}
		}
	case subtype.isResponse():
		capStatus, err := pr.bytes(capabilityLen+statusCodeLen, "STA profile capability info and status code")
		if err != nil {
			return err
		}
		if err := w.put("capability info and status code", capStatus); err != nil {
			return err
		}
		start := capabilityLen + statusCodeLen
		if err := w.put("AID", frame[start:start+aidLen]); err != nil {
			return err
		}
	default:
		tsf := binary.LittleEndian.Uint64(frame[:timestampLen])
		if prof.HasTSFOffset {
			tsf += uint64(prof.TSFOffset * 2)
		}
		if err := w.put("timestamp", binary.LittleEndian.AppendUint64(nil, tsf)); err != nil {
			return err
		}
		if !prof.HasBeaconInterval {
			return domain.Protocolf("beacon interval missing from Per-STA Profile of link %d", prof.LinkID)
		}
		if err := w.put("beacon interval", binary.LittleEndian.AppendUint16(nil, prof.BeaconInterval)); err != nil {
			return err
		}
		capInfo, err := pr.bytes(capabilityLen, "STA profile capability info")
		if err != nil {
			return err
		}
		if err := w.put("capability info", capInfo); err != nil {
			return err
		}
	}
	return nil
}

func mergeIEs(w *frameWriter, repIEs, profIEs []IE, nonInherit NonInheritance, ml Span, subtype FrameSubtype, common CommonInfo, linkID uint8) error {
	used := make([]bool, len(profIEs))
	for _, rep := range repIEs {
		if rep.Offset >= ml.Offset && rep.Offset < ml.Offset+ml.Length {
			if rep.Offset == ml.Offset && subtype == SubtypeProbeResp {
				if err := writeProbeRespML(w, common, linkID); err != nil {
					return err
				}
			}
			continue
		}

		match := -1
		for i, p := range profIEs {
			if !used[i] && rep.sameAs(p) {
				match = i
				break
			}
		}
		switch {
		case match < 0:
			if nonInherit.Excludes(rep) {
				continue
			}
			if err := w.put(fmt.Sprintf("element %d", rep.ID), rep.Raw); err != nil {
				return err
			}
		case rep.ID == TagVendor:
			// The profile's own copy is appended with the remaining
			// profile elements.
		default:
			if err := w.put(fmt.Sprintf("element %d", profIEs[match].ID), profIEs[match].Raw); err != nil {
				return err
			}
			used[match] = true
		}
	}
	for i, p := range profIEs {
		if used[i] {
			continue
		}
		if err := w.put(fmt.Sprintf("element %d", p.ID), p.Raw); err != nil {
			return err
		}
	}
	return nil
}

// writeProbeRespML adds a Basic Multi-Link element carrying the reporting
// element's Common Info with the Link ID Info of the reported link.
func writeProbeRespML(w *frameWriter, common CommonInfo, linkID uint8) error {
	common.LinkID, common.HasLinkID = linkID, true
	ml, err := BuildBasic(BasicElement{Common: common})
	if err != nil {
		return err
	}
	return w.put("Multi-Link element", ml)
}

func writeHeader(buf []byte, subtype FrameSubtype, linkAddr, reported domain.MAC) {
	buf[0] = subtype.frameControl()
	buf[1] = 0
	addr1, addr2, addr3 := linkAddr, reported, reported
	if subtype.isRequest() {
		addr3 = linkAddr
	}
	copy(buf[4:10], addr1[:])
	copy(buf[10:16], addr2[:])
	copy(buf[16:22], addr3[:])
}
