package peer

import (
	"math"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
	"github.com/lcalzada-xor/mlomgr/internal/core/ports"
)

// DefaultPolicy places the primary link of a new peer.
//
// A single candidate, or candidates all on one chip, keep the association
// link. A forced chip wins next. Otherwise the peer goes to the chip whose
// average primary-link RSSI is closest to the RSSI this peer is expected to
// have there, so each chip ends up with peers of similar signal quality.
type DefaultPolicy struct {
	Force     bool
	ForceChip uint8
	// ChipCapacity is the number of primary peers a chip takes before it is
	// skipped. Zero means unbounded.
	ChipCapacity int
}

func (p DefaultPolicy) SelectPrimary(req ports.PrimaryLinkRequest) int {
	cands := req.Candidates
	assoc := req.AssocIndex
	if assoc < 0 || assoc >= len(cands) {
		assoc = 0
	}
	if len(cands) <= 1 || sameChip(cands) {
		return assoc
	}

	if p.Force {
		for i, c := range cands {
			if c.ChipID == p.ForceChip {
				return i
			}
		}
		return 0
	}

	best, bestDiff := -1, math.MaxFloat64
	for i, c := range cands {
		if int(c.ChipID) >= domain.MaxMLOChips {
			continue
		}
		load := req.Loads[c.ChipID]
		if p.ChipCapacity > 0 && load.Peers >= p.ChipCapacity {
			continue
		}
		diff := 0.0
		if load.Peers > 0 {
			avg := float64(load.RSSISum) / float64(load.Peers)
			diff = math.Abs(avg - ImpliedRSSI(cands[assoc], c, req.AssocRSSI))
		}
		if best < 0 || diff < bestDiff || (diff == bestDiff && c.ChipID < cands[best].ChipID) {
			best, bestDiff = i, diff
		}
	}
	if best < 0 {
		return assoc
	}
	return best
}

func sameChip(cands []domain.VdevInfo) bool {
	for _, c := range cands[1:] {
		if c.ChipID != cands[0].ChipID {
			return false
		}
	}
	return true
}

// ImpliedRSSI estimates the RSSI a peer measured at rssi on the assoc link
// would show on cand: free-space path loss scales with 20*log10 of the
// frequency ratio, and the regulatory power difference adds directly.
func ImpliedRSSI(assoc, cand domain.VdevInfo, rssi int) float64 {
	v := float64(rssi)
	if assoc.FreqMHz > 0 && cand.FreqMHz > 0 {
		v -= 20 * math.Log10(float64(cand.FreqMHz)/float64(assoc.FreqMHz))
	}
	return v + float64(cand.MaxTxPowerDbm-assoc.MaxTxPowerDbm)
}
