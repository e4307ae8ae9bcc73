package aid

import "iter"

// scanRange is a half open index range walked in one direction.
type scanRange struct {
	lo, hi  int
	reverse bool
}

func (r scanRange) indexes() iter.Seq[int] {
	return func(yield func(int) bool) {
		if r.reverse {
			for i := r.hi - 1; i >= r.lo; i-- {
				if !yield(i) {
					return
				}
			}
			return
		}
		for i := r.lo; i < r.hi; i++ {
			if !yield(i) {
				return
			}
		}
	}
}

// scanOrder returns the ranges an allocation walks. With bucketing the
// space [start, max) is cut in three equal buckets: peers without T2LM try
// bucket 1, then 3, then 2 from the top; T2LM peers try bucket 2, then 3,
// then 1 from the top.
func (p *Pool) scanOrder(prefersT2LM bool) []scanRange {
	start, max := int(p.start), int(p.max)
	if !p.bucketed {
		return []scanRange{{lo: start, hi: max}}
	}
	third := (max - start) / 3
	end1 := start + third
	end2 := start + 2*third
	if third == 0 || start > end1 || end1 > end2 {
		return []scanRange{{lo: start, hi: max}}
	}
	if prefersT2LM {
		return []scanRange{
			{lo: end1, hi: end2},
			{lo: end2, hi: max},
			{lo: start, hi: end1, reverse: true},
		}
	}
	return []scanRange{
		{lo: start, hi: end1},
		{lo: end2, hi: max},
		{lo: end1, hi: end2, reverse: true},
	}
}
