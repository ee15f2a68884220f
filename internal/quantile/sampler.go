package quantile

import "math/rand"

// sampler thins the stream reaching a compactor's first level. It holds a
// single weighted slot: every maxWeight raw values it is offered collapse
// into one emitted value, chosen so that each of the maxWeight candidates
// was equally likely to survive (reservoir sampling of size one).
//
// During a merge, a victim sketch's partially-filled sampler and its
// lowest, not-yet-promoted levels are absorbed into the survivor's sampler
// via sampleWeighted, which treats an already-weighted candidate the same
// way A-Res weighted reservoir sampling would.
type sampler struct {
	count        uint64
	maxWeight    uint64
	storedValue  uint64
	storedWeight uint64
}

func newSampler() sampler {
	return sampler{maxWeight: 1}
}

// setMaxWeight changes the group size used by subsequent sample calls. It
// must only be called when the sampler holds no partial accumulation,
// mirroring the reference sketch's level transitions (which only grow the
// sampler's weight at a compaction boundary, never mid-group).
func (s *sampler) setMaxWeight(w uint64) {
	if w == 0 {
		w = 1
	}
	s.maxWeight = w
}

// sample offers val to the sampler. It returns a value to insert into the
// sketch once maxWeight values have been offered since the last emission.
func (s *sampler) sample(val uint64) (uint64, bool) {
	return s.sampleWeighted(val, 1)
}

// sampleWeighted offers an already-weighted candidate (used when absorbing
// another sketch's sampler state during merge).
func (s *sampler) sampleWeighted(val uint64, weight uint64) (uint64, bool) {
	if weight == 0 {
		return 0, false
	}

	prevCount := s.count
	s.count += weight
	// Replace the stored candidate with probability weight/count, so every
	// unit of weight offered so far has equal chance of surviving.
	if prevCount == 0 || uint64(rand.Int63n(int64(s.count))) < weight {
		s.storedValue = val
	}
	s.storedWeight = weight

	if s.count >= s.maxWeight {
		out := s.storedValue
		s.count = 0
		s.storedWeight = 0
		return out, true
	}
	return 0, false
}

// storedValueVal returns the value currently held in the sampler's single
// slot, valid only when storedWeightVal() > 0.
func (s *sampler) storedValueVal() uint64 {
	return s.storedValue
}

// storedWeightVal returns the accumulated weight not yet emitted.
func (s *sampler) storedWeightVal() uint64 {
	return s.count
}
