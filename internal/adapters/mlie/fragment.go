package mlie

import (
	"fmt"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
)

// unit selects between element and subelement fragmentation rules. Both use
// a two octet header and differ in the identifier of their fragments.
type unit struct {
	fragID  uint8
	subelem bool
	name    string
}

var (
	elementUnit    = unit{fragID: TagFragment, name: "element"}
	subelementUnit = unit{fragID: SubelemFragment, subelem: true, name: "subelement"}
)

// FragSeq describes an element or subelement and the fragments that follow it.
type FragSeq struct {
	Fragmented bool
	// TotalLen spans the lead and every fragment, headers included.
	TotalLen int
	// PayloadLen excludes all headers and, for extension elements, the
	// element ID extension octet.
	PayloadLen int
}

func (u unit) leadPayloadLen(buf []byte, at int) int {
	l := int(buf[at+1])
	if !u.subelem && buf[at] == TagExtension && l > 0 {
		return l - 1
	}
	return l
}

// successor returns the offset of the fragment that follows the unit at cur,
// or -1 when the next unit is not a fragment or the buffer ends.
func (u unit) successor(buf []byte, cur int) (int, error) {
	if cur+ieHeaderLen > len(buf) {
		return -1, domain.Protocolf("%s header at offset %d exceeds buffer of %d octets", u.name, cur, len(buf))
	}
	curTotal := ieHeaderLen + int(buf[cur+1])
	if cur+curTotal > len(buf) {
		return -1, domain.Protocolf("%s at offset %d with %d octets exceeds buffer of %d octets", u.name, cur, curTotal, len(buf))
	}
	next := cur + curTotal
	if next == len(buf) {
		return -1, nil
	}
	if next+ieHeaderLen > len(buf) {
		return -1, domain.Protocolf("%s header at offset %d exceeds buffer of %d octets", u.name, next, len(buf))
	}
	if next+ieHeaderLen+int(buf[next+1]) > len(buf) {
		return -1, domain.Protocolf("%s at offset %d exceeds buffer of %d octets", u.name, next, len(buf))
	}
	if buf[next] != u.fragID {
		return -1, nil
	}
	if buf[cur+1] != MaxIELen {
		return -1, domain.Protocolf("%s fragment at offset %d follows a unit of length %d, want %d", u.name, next, buf[cur+1], MaxIELen)
	}
	if buf[next+1] == 0 {
		return -1, domain.Protocolf("%s fragment at offset %d has zero length", u.name, next)
	}
	return next, nil
}

func (u unit) seqInfo(buf []byte) (FragSeq, error) {
	if len(buf) == 0 {
		return FragSeq{}, domain.ErrNullInput
	}
	next, err := u.successor(buf, 0)
	if err != nil {
		return FragSeq{}, err
	}
	info := FragSeq{
		TotalLen:   ieHeaderLen + int(buf[1]),
		PayloadLen: u.leadPayloadLen(buf, 0),
	}
	for next >= 0 {
		info.Fragmented = true
		info.TotalLen += ieHeaderLen + int(buf[next+1])
		info.PayloadLen += int(buf[next+1])
		if next, err = u.successor(buf, next); err != nil {
			return FragSeq{}, err
		}
	}
	return info, nil
}

// defrag concatenates the payloads of the lead unit and its fragments.
func (u unit) defrag(buf []byte, info FragSeq) ([]byte, error) {
	if info.TotalLen > len(buf) {
		return nil, fmt.Errorf("%w: %s sequence of %d octets exceeds buffer of %d", domain.ErrAssertionFailed, u.name, info.TotalLen, len(buf))
	}
	out := make([]byte, 0, info.PayloadLen)
	pos := 0
	for pos < info.TotalLen {
		l := int(buf[pos+1])
		body := buf[pos+ieHeaderLen : pos+ieHeaderLen+l]
		if pos == 0 && !u.subelem && buf[0] == TagExtension && l > 0 {
			body = body[1:]
		}
		out = append(out, body...)
		pos += ieHeaderLen + l
	}
	if len(out) != info.PayloadLen {
		return nil, fmt.Errorf("%w: defragmented %d octets, expected %d", domain.ErrAssertionFailed, len(out), info.PayloadLen)
	}
	return out, nil
}

// ElementFragSeq inspects the element at the start of buf.
func ElementFragSeq(buf []byte) (FragSeq, error) {
	return elementUnit.seqInfo(buf)
}

// SubelementFragSeq inspects the subelement at the start of buf.
func SubelementFragSeq(buf []byte) (FragSeq, error) {
	return subelementUnit.seqInfo(buf)
}

// DefragmentElement returns the payload of the element at the start of buf
// with every fragment header removed. For extension elements the element ID
// extension is stripped too.
func DefragmentElement(buf []byte) ([]byte, error) {
	info, err := elementUnit.seqInfo(buf)
	if err != nil {
		return nil, err
	}
	return elementUnit.defrag(buf, info)
}

// DefragmentSubelement returns the payload of the subelement at the start of
// buf and the number of octets its fragment sequence occupies.
func DefragmentSubelement(buf []byte) ([]byte, int, error) {
	info, err := subelementUnit.seqInfo(buf)
	if err != nil {
		return nil, 0, err
	}
	payload, err := subelementUnit.defrag(buf, info)
	if err != nil {
		return nil, 0, err
	}
	return payload, info.TotalLen, nil
}

// FragmentExtensionElement encodes payload as an extension element with the
// given extension ID, splitting it into Fragment elements when it does not
// fit into one element.
func FragmentExtensionElement(extID uint8, payload []byte) []byte {
	body := make([]byte, 0, len(payload)+1)
	body = append(body, extID)
	body = append(body, payload...)
	return fragmentBody(TagExtension, TagFragment, body)
}

// FragmentSubelement encodes payload as a subelement with the given ID,
// splitting it into subelement fragments when needed.
func FragmentSubelement(id uint8, payload []byte) []byte {
	return fragmentBody(id, SubelemFragment, payload)
}

func fragmentBody(leadID, fragID uint8, body []byte) []byte {
	n := len(body) / MaxIELen
	out := make([]byte, 0, len(body)+ieHeaderLen*(n+1))
	id := leadID
	for first := true; first || len(body) > 0; first = false {
		chunk := body
		if len(chunk) > MaxIELen {
			chunk = chunk[:MaxIELen]
		}
		out = append(out, id, uint8(len(chunk)))
		out = append(out, chunk...)
		body = body[len(chunk):]
		id = fragID
	}
	return out
}
