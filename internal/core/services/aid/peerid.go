package aid

import (
	"fmt"
	"sync"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
)

// PeerIDPool hands out the process-wide ML peer IDs.
type PeerIDPool struct {
	mu   sync.Mutex
	bits *domain.BitSet
	next int
}

func NewPeerIDPool() *PeerIDPool {
	return &PeerIDPool{bits: domain.NewBitSet(domain.MaxMLPeerIDs)}
}

// Alloc returns the lowest free ID at or after the last one handed out,
// wrapping once.
func (p *PeerIDPool) Alloc() (uint16, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for n := 0; n < domain.MaxMLPeerIDs; n++ {
		id := (p.next + n) % domain.MaxMLPeerIDs
		if !p.bits.Test(id) {
			p.bits.Set(id)
			p.next = (id + 1) % domain.MaxMLPeerIDs
			return uint16(id), nil
		}
	}
	return domain.InvalidPeerID, fmt.Errorf("%w: all %d ML peer IDs in use", domain.ErrExhausted, domain.MaxMLPeerIDs)
}

func (p *PeerIDPool) Free(id uint16) error {
	if int(id) >= domain.MaxMLPeerIDs {
		return fmt.Errorf("%w: ML peer ID %d", domain.ErrOutOfRange, id)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.bits.Test(int(id)) {
		return fmt.Errorf("%w: ML peer ID %d not allocated", domain.ErrInvalidState, id)
	}
	p.bits.Clear(int(id))
	return nil
}

func (p *PeerIDPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bits.Count()
}
