package registry

import (
	"slices"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
	"github.com/lcalzada-xor/mlomgr/internal/core/services/aid"
)

// Role is the role specific part of a device: *ApContext or *StaContext.
type Role interface {
	Mode() domain.OpMode
	release()
}

// ApContext is the AP MLD state. Fields other than AIDs are guarded by the
// owning device's lock.
type ApContext struct {
	AIDs        *aid.Pool
	activeLinks int
	quiet       *domain.BitSet
}

func newApContext(start, max uint16, bucketed bool) (*ApContext, error) {
	pool, err := aid.NewPool(start, max, bucketed)
	if err != nil {
		return nil, err
	}
	return &ApContext{AIDs: pool, quiet: domain.NewBitSet(domain.MaxLinks)}, nil
}

func (*ApContext) Mode() domain.OpMode { return domain.OpModeAP }

func (a *ApContext) release() {
	a.AIDs.Reset()
	a.quiet.Reset()
	a.activeLinks = 0
}

// StaContext is the STA MLD state kept across connect attempts.
type StaContext struct {
	connectReq    [domain.MaxLinks][]byte
	disconnectReq [domain.MaxLinks][]byte
	origConnReq   []byte
	csa           [domain.MaxLinks]*domain.CSAParams
	// bpcc shadows the last BSS Parameters Change Count seen per link.
	bpcc      [domain.MaxLinks]uint8
	bpccValid [domain.MaxLinks]bool
	linkState func(vdev domain.VdevHandle) error
}

func (*StaContext) Mode() domain.OpMode { return domain.OpModeSTA }

func (s *StaContext) release() {
	*s = StaContext{}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return slices.Clone(b)
}
