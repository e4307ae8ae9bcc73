// Package aid allocates Association IDs shared by the links of one MLD and
// the process-wide ML peer IDs.
package aid

import (
	"fmt"
	"sync"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
)

// linkMap is the AID space of one link vdev. A non-transmitting MBSSID VAP
// points at the map of its transmitting VAP.
type linkMap struct {
	bits   *domain.BitSet
	start  uint16
	max    uint16
	shared bool
	// count is shared with the transmitting link's map
	count *int
}

// Pool is the AID space of one MLD. The aggregate map has a bit set exactly
// when at least one link map has it set; every mutating method keeps that
// true under the pool lock.
type Pool struct {
	mu sync.Mutex

	baseStart uint16
	baseMax   uint16
	start     uint16
	max       uint16
	bucketed  bool

	aggregate *domain.BitSet
	mlo       *domain.BitSet
	links     [domain.MaxLinks]*linkMap
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	Start     uint16 `json:"start"`
	Max       uint16 `json:"max"`
	Allocated int    `json:"allocated"`
	MLO       int    `json:"mlo"`
	Links     int    `json:"links"`
}

// NewPool creates a pool handing out AIDs in [start, max). When bucketed is
// set, the space is split in three buckets that keep T2LM capable peers
// apart from the others.
func NewPool(start, max uint16, bucketed bool) (*Pool, error) {
	if start == 0 || start >= max {
		return nil, fmt.Errorf("%w: AID range [%d, %d)", domain.ErrInvalidArgument, start, max)
	}
	return &Pool{
		baseStart: start,
		baseMax:   max,
		start:     start,
		max:       max,
		bucketed:  bucketed,
		aggregate: domain.NewBitSet(int(max)),
		mlo:       domain.NewBitSet(int(max)),
	}, nil
}

func (p *Pool) checkSlot(ix int) error {
	if ix < 0 || ix >= domain.MaxLinks {
		return fmt.Errorf("%w: link index %d", domain.ErrInvalidArgument, ix)
	}
	return nil
}

// AttachLink gives link ix its own map. Zero bounds inherit the pool's.
// AIDs already allocated to whole MLD peers are reserved on the new link.
func (p *Pool) AttachLink(ix int, start, max uint16) error {
	if err := p.checkSlot(ix); err != nil {
		return err
	}
	if start == 0 {
		start = p.baseStart
	}
	if max == 0 || max > p.baseMax {
		max = p.baseMax
	}
	if start >= max {
		return fmt.Errorf("%w: link AID range [%d, %d)", domain.ErrInvalidArgument, start, max)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.links[ix] != nil {
		return fmt.Errorf("%w: link index %d already attached", domain.ErrInvalidState, ix)
	}
	lm := &linkMap{bits: domain.NewBitSet(int(p.baseMax)), start: start, max: max}
	lm.bits.Union(p.mlo)
	n := lm.bits.Count()
	lm.count = &n
	p.links[ix] = lm
	p.aggregate.Union(lm.bits)
	p.recomputeBounds()
	return nil
}

// ShareLink makes link ix use the map of link txIx.
func (p *Pool) ShareLink(ix, txIx int) error {
	if err := p.checkSlot(ix); err != nil {
		return err
	}
	if err := p.checkSlot(txIx); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.links[ix] != nil {
		return fmt.Errorf("%w: link index %d already attached", domain.ErrInvalidState, ix)
	}
	tx := p.links[txIx]
	if tx == nil {
		return fmt.Errorf("%w: transmitting link %d not attached", domain.ErrInvalidState, txIx)
	}
	p.links[ix] = &linkMap{bits: tx.bits, start: tx.start, max: tx.max, shared: true, count: tx.count}
	return nil
}

// DetachLink drops link ix. Per-link AIDs it held are released. Whole MLD
// AIDs outlive the last link since their peers may still be attached; Reset
// drops them.
func (p *Pool) DetachLink(ix int) error {
	if err := p.checkSlot(ix); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.links[ix] == nil {
		return fmt.Errorf("%w: link index %d not attached", domain.ErrInvalidState, ix)
	}
	p.links[ix] = nil
	p.recomputeAggregate()
	p.recomputeBounds()
	return nil
}

// Reset forgets every allocation. The MLD must have no links and no peers.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.links = [domain.MaxLinks]*linkMap{}
	p.aggregate.Reset()
	p.mlo.Reset()
	p.recomputeBounds()
}

func (p *Pool) attached() int {
	n := 0
	for _, l := range p.links {
		if l != nil {
			n++
		}
	}
	return n
}

// recomputeBounds narrows the pool to the highest link start and lowest
// link max.
func (p *Pool) recomputeBounds() {
	p.start, p.max = p.baseStart, p.baseMax
	for _, l := range p.links {
		if l == nil {
			continue
		}
		if l.start > p.start {
			p.start = l.start
		}
		if l.max < p.max {
			p.max = l.max
		}
	}
}

func (p *Pool) recomputeAggregate() {
	p.aggregate.Reset()
	for _, l := range p.links {
		if l != nil {
			p.aggregate.Union(l.bits)
		}
	}
}

func (p *Pool) inRange(aid uint16) bool {
	return aid >= p.start && aid < p.max
}

// AllocMLD allocates an AID valid on every attached link.
func (p *Pool) AllocMLD(prefersT2LM bool) (uint16, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.attached() == 0 {
		return 0, fmt.Errorf("%w: no link attached to the AID pool", domain.ErrInvalidState)
	}
	for _, r := range p.scanOrder(prefersT2LM) {
		for i := range r.indexes() {
			if p.aggregate.Test(i) || p.mlo.Test(i) {
				continue
			}
			for ix, l := range p.links {
				if l != nil && l.bits.Test(i) {
					return 0, fmt.Errorf("%w: AID %d free in aggregate but set on link %d", domain.ErrAIDBitmapDrift, i, ix)
				}
			}
			p.mlo.Set(i)
			for _, l := range p.links {
				if l != nil && !l.bits.Test(i) {
					l.bits.Set(i)
					*l.count++
				}
			}
			p.aggregate.Set(i)
			return uint16(i), nil
		}
	}
	return 0, fmt.Errorf("%w: no free MLD AID in [%d, %d)", domain.ErrExhausted, p.start, p.max)
}

// AllocLink allocates an AID for a single link peer. The AID is also kept
// free of every other link's peers.
func (p *Pool) AllocLink(ix int, prefersT2LM bool) (uint16, error) {
	if err := p.checkSlot(ix); err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	l := p.links[ix]
	if l == nil {
		return 0, fmt.Errorf("%w: link index %d not attached", domain.ErrInvalidArgument, ix)
	}
	for _, r := range p.scanOrder(prefersT2LM) {
		for i := range r.indexes() {
			if i < int(l.start) || i >= int(l.max) || p.aggregate.Test(i) {
				continue
			}
			l.bits.Set(i)
			*l.count++
			p.aggregate.Set(i)
			return uint16(i), nil
		}
	}
	return 0, fmt.Errorf("%w: no free AID on link %d", domain.ErrExhausted, ix)
}

// Free releases aid. Whole MLD AIDs are cleared everywhere; a per-link AID
// is cleared from the link given by linkHint.
func (p *Pool) Free(aid uint16, linkHint int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := int(aid)
	if p.mlo.Test(i) {
		p.mlo.Clear(i)
		for _, l := range p.links {
			if l != nil && l.bits.Test(i) {
				l.bits.Clear(i)
				*l.count--
			}
		}
		p.aggregate.Clear(i)
		return nil
	}
	if linkHint < 0 || linkHint >= domain.MaxLinks || p.links[linkHint] == nil {
		return fmt.Errorf("%w: AID %d with link hint %d", domain.ErrInvalidArgument, aid, linkHint)
	}
	l := p.links[linkHint]
	if l.bits.Test(i) {
		l.bits.Clear(i)
		*l.count--
	}
	p.aggregate.Clear(i)
	for _, o := range p.links {
		if o != nil && o.bits.Test(i) {
			p.aggregate.Set(i)
			break
		}
	}
	return nil
}

// SetReserved marks aid allocated on every attached link, e.g. to mirror an
// AID chosen by firmware.
func (p *Pool) SetReserved(aid uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.inRange(aid) {
		return fmt.Errorf("%w: AID %d outside [%d, %d)", domain.ErrOutOfRange, aid, p.start, p.max)
	}
	if p.attached() == 0 {
		return fmt.Errorf("%w: no link attached to the AID pool", domain.ErrInvalidState)
	}
	i := int(aid)
	if p.aggregate.Test(i) {
		return fmt.Errorf("%w: AID %d already allocated", domain.ErrInvalidState, aid)
	}
	p.mlo.Set(i)
	for _, l := range p.links {
		if l != nil && !l.bits.Test(i) {
			l.bits.Set(i)
			*l.count++
		}
	}
	p.aggregate.Set(i)
	return nil
}

// IsSet reports whether aid is allocated anywhere in the MLD, including
// whole MLD AIDs kept while no link is attached.
func (p *Pool) IsSet(aid uint16) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.inRange(aid) {
		return false, fmt.Errorf("%w: AID %d outside [%d, %d)", domain.ErrOutOfRange, aid, p.start, p.max)
	}
	return p.aggregate.Test(int(aid)) || p.mlo.Test(int(aid)), nil
}

// CheckInvariant verifies that the aggregate map is the union of the link
// maps and that whole MLD AIDs are set on every link.
func (p *Pool) CheckInvariant() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	union := domain.NewBitSet(int(p.baseMax))
	for ix, l := range p.links {
		if l == nil {
			continue
		}
		union.Union(l.bits)
		for _, i := range p.mlo.Members() {
			if !l.bits.Test(i) {
				return fmt.Errorf("%w: MLD AID %d missing on link %d", domain.ErrAIDBitmapDrift, i, ix)
			}
		}
	}
	for i := 0; i < int(p.baseMax); i++ {
		if union.Test(i) != p.aggregate.Test(i) {
			return fmt.Errorf("%w: AID %d aggregate=%t links=%t", domain.ErrAIDBitmapDrift, i, p.aggregate.Test(i), union.Test(i))
		}
	}
	return nil
}

// LinkCount returns the number of AIDs held on link ix.
func (p *Pool) LinkCount(ix int) int {
	if p.checkSlot(ix) != nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.links[ix] == nil {
		return 0
	}
	return *p.links[ix].count
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Start:     p.start,
		Max:       p.max,
		Allocated: p.aggregate.Count(),
		MLO:       p.mlo.Count(),
		Links:     p.attached(),
	}
}
