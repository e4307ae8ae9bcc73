package mlie

import (
	"bytes"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
)

// IE is one information element inside an IE section.
type IE struct {
	ID    uint8
	ExtID uint8 // valid when ID == TagExtension
	// Raw is the whole element, header included.
	Raw    []byte
	Offset int
}

// Body returns the element content after the length octet.
func (e IE) Body() []byte {
	return e.Raw[ieHeaderLen:]
}

// sameAs reports whether o is an occurrence of the same element. Vendor
// specific elements match on OUI and vendor type.
func (e IE) sameAs(o IE) bool {
	if e.ID != o.ID {
		return false
	}
	switch e.ID {
	case TagExtension:
		return e.ExtID == o.ExtID
	case TagVendor:
		a, b := e.Body(), o.Body()
		if len(a) < minVendorLen || len(b) < minVendorLen {
			return len(a) >= 3 && len(b) >= 3 && bytes.Equal(a[:3], b[:3])
		}
		return bytes.Equal(a[:minVendorLen], b[:minVendorLen])
	}
	return true
}

// SplitIEs validates an IE section and returns its elements in order.
func SplitIEs(section []byte) ([]IE, error) {
	var out []IE
	pos := 0
	for pos < len(section) {
		if pos+ieHeaderLen > len(section) {
			return nil, domain.Protocolf("element header at offset %d exceeds section of %d octets", pos, len(section))
		}
		id, l := section[pos], int(section[pos+1])
		if pos+ieHeaderLen+l > len(section) {
			return nil, domain.Protocolf("element %d at offset %d declares %d octets, %d remaining", id, pos, l, len(section)-pos-ieHeaderLen)
		}
		ie := IE{ID: id, Raw: section[pos : pos+ieHeaderLen+l], Offset: pos}
		switch id {
		case TagExtension:
			if l < 1 {
				return nil, domain.Protocolf("extension element at offset %d has no extension ID", pos)
			}
			ie.ExtID = section[pos+ieHeaderLen]
		case TagVendor:
			if l < 3 {
				return nil, domain.Protocolf("vendor element at offset %d shorter than an OUI", pos)
			}
		}
		out = append(out, ie)
		pos += ieHeaderLen + l
	}
	return out, nil
}

// FindIE returns the first element with the given ID, or nil.
func FindIE(ies []IE, id uint8) *IE {
	for i := range ies {
		if ies[i].ID == id {
			return &ies[i]
		}
	}
	return nil
}
