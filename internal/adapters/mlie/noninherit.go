package mlie

import (
	"fmt"
	"slices"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
)

// NonInheritance lists the elements a reported STA does not inherit from
// the reporting STA.
type NonInheritance struct {
	ElementIDs    []uint8 `json:"element_ids"`
	ExtElementIDs []uint8 `json:"ext_element_ids"`
}

// Excludes reports whether the element is named by the lists.
func (n NonInheritance) Excludes(ie IE) bool {
	if ie.ID == TagExtension {
		return slices.Contains(n.ExtElementIDs, ie.ExtID)
	}
	return slices.Contains(n.ElementIDs, ie.ID)
}

// ParseNonInheritance decodes the Non-Inheritance element found in ies.
// found is false when there is none.
func ParseNonInheritance(ies []IE) (n NonInheritance, found bool, err error) {
	for _, ie := range ies {
		if ie.ID != TagExtension || ie.ExtID != ExtIDNonInheritance {
			continue
		}
		r := newReader(ie.Body()[1:])
		cnt, err := r.u8("element ID list length")
		if err != nil {
			return n, false, err
		}
		ids, err := r.bytes(int(cnt), "element ID list")
		if err != nil {
			return n, false, err
		}
		cnt, err = r.u8("element ID extension list length")
		if err != nil {
			return n, false, err
		}
		ext, err := r.bytes(int(cnt), "element ID extension list")
		if err != nil {
			return n, false, err
		}
		n.ElementIDs = slices.Clone(ids)
		n.ExtElementIDs = slices.Clone(ext)
		return n, true, nil
	}
	return n, false, nil
}

// BuildNonInheritance encodes a Non-Inheritance element.
func BuildNonInheritance(n NonInheritance) ([]byte, error) {
	if len(n.ElementIDs)+len(n.ExtElementIDs) > MaxIELen-3 {
		return nil, fmt.Errorf("%w: %d element IDs do not fit in one element", domain.ErrOutOfCapacity, len(n.ElementIDs)+len(n.ExtElementIDs))
	}
	body := []byte{ExtIDNonInheritance, uint8(len(n.ElementIDs))}
	body = append(body, n.ElementIDs...)
	body = append(body, uint8(len(n.ExtElementIDs)))
	body = append(body, n.ExtElementIDs...)
	return append([]byte{TagExtension, uint8(len(body))}, body...), nil
}
