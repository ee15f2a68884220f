// Package quantile implements a mergeable approximate-quantile sketch over
// uint64 values, following Karnin, Lang, and Liberty's KLL compactor
// hierarchy ("Optimal quantile approximation in streams", FOCS 2016).
package quantile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// levelLimit bounds how many compactor levels a sketch may grow. It is a
// correctness backstop, not a tuning knob: reaching it requires roughly
// 2^58 samples given the capacity table below, far beyond any realistic
// deployment.
const levelLimit = 64

// capacityAtDepth gives each compactor's capacity, indexed by depth from
// the sketch's current top level (depth 0 is the top level, not level 0).
// Tuned for a normalized rank error epsilon around 1.5e-2 with failure
// probability delta = 1e-7.
var capacityAtDepth = [levelLimit]int{
	200, 200, 200, 200, 200, 27, 18, 12, 8, 6, 4, 3, 2, 2, 2, 2,
	2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2,
	2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2,
	2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2,
}

var (
	// ErrEmptySketch is returned by Quantile/MultiQuantile on a sketch
	// that has never received a value.
	ErrEmptySketch = errors.New("quantile: sketch is empty")
	// ErrLevelLimit is returned by Insert/Merge if growth would exceed
	// levelLimit compactor levels.
	ErrLevelLimit = errors.New("quantile: level limit exceeded")
	// ErrBadFormat is returned by UnmarshalBinary on malformed or
	// unrecognized-version input.
	ErrBadFormat = errors.New("quantile: malformed sketch encoding")
)

const (
	wireMagic   uint32 = 0x4353_4B31 // "CSK1"
	wireVersion uint8  = 1
)

// Sketch is a mergeable, serializable approximate-quantile summary over
// uint64 values. The zero value is not usable; construct with New.
type Sketch struct {
	count      uint64
	level      uint8
	size       int
	capacity   int
	minmax     minMax
	sampler    sampler
	compactors []*compactor // compactors[i] is the level (s.level + i) buffer
}

// New returns an empty sketch.
func New() *Sketch {
	return &Sketch{
		minmax:     newMinMax(),
		sampler:    newSampler(),
		compactors: []*compactor{newCompactor()},
		capacity:   capacityAtDepth[0],
	}
}

// Count returns the number of values ever inserted into the sketch
// (including values later thinned away by the sampler).
func (s *Sketch) Count() uint64 {
	return s.count
}

// SizeBytes estimates the sketch's in-memory footprint, dominated by the
// retained values across all compactor levels.
func (s *Sketch) SizeBytes() int {
	const perValue = 8
	const overhead = 64
	return overhead + s.size*perValue
}

// Insert adds val to the sketch in amortized O(log(1/epsilon)) time.
func (s *Sketch) Insert(val uint64) error {
	s.count++
	s.minmax.update(val)
	if v, ok := s.sampler.sample(val); ok {
		s.compactors[0].insert(v)
		s.size++
		return s.compress()
	}
	return nil
}

// Merge absorbs other into s. The result approximates the quantiles of
// the concatenation of both sketches' inputs; merge is associative and
// commutative up to the random choices made during compaction. other is
// left unmodified.
func (s *Sketch) Merge(other *Sketch) error {
	if other == nil || other.count == 0 {
		return nil
	}
	if s.count == 0 {
		*s = *other.clone()
		return nil
	}

	var victim sketchState
	if s.level <= other.level {
		victim = s.snapshot()
		s.copyFrom(other)
	} else {
		victim = other.snapshot()
	}
	return s.absorb(victim)
}

// Quantile returns the approximate value at normalized rank phi in (0,1).
func (s *Sketch) Quantile(phi float64) (uint64, error) {
	results, err := s.MultiQuantile(phi)
	if err != nil {
		return 0, err
	}
	return results[0], nil
}

// MultiQuantile answers several quantile queries with a single sort pass
// over the sketch's flattened, weighted values.
func (s *Sketch) MultiQuantile(phis ...float64) ([]uint64, error) {
	for _, phi := range phis {
		if phi <= 0 || phi >= 1 {
			return nil, fmt.Errorf("quantile: phi must be in (0,1), got %v", phi)
		}
	}
	if s.count == 0 {
		return nil, ErrEmptySketch
	}

	vals := s.flatten()
	var totalWeight uint64
	for _, v := range vals {
		totalWeight += v.weight
	}

	results := make([]uint64, len(phis))
	for i, phi := range phis {
		target := phi * float64(totalWeight)
		answer := vals[len(vals)-1].value
		var cum uint64
		for _, v := range vals {
			cum += v.weight
			if float64(cum) >= target {
				answer = v.value
				break
			}
		}
		results[i] = answer
	}
	return results, nil
}

type weightedValue struct {
	value  uint64
	weight uint64
}

func (s *Sketch) flatten() []weightedValue {
	vals := make([]weightedValue, 0, s.size+1)
	if w := s.sampler.storedWeightVal(); w > 0 {
		vals = append(vals, weightedValue{value: s.sampler.storedValueVal(), weight: w})
	}
	for i, c := range s.compactors {
		weight := uint64(1) << (s.level + uint8(i))
		for _, v := range c.iterValues() {
			vals = append(vals, weightedValue{value: v, weight: weight})
		}
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i].value < vals[j].value })
	return vals
}

// topLevel is the highest level currently backed by a compactor.
func (s *Sketch) topLevel() uint8 {
	return s.level + uint8(len(s.compactors)) - 1
}

func (s *Sketch) capacityAtLevel(level uint8) int {
	depth := s.topLevel() - level
	return capacityAtDepth[depth]
}

func (s *Sketch) compactorAt(level uint8) *compactor {
	return s.compactors[level-s.level]
}

func (s *Sketch) calculateSize() int {
	total := 0
	for _, c := range s.compactors {
		total += c.size()
	}
	return total
}

func (s *Sketch) calculateCapacity() int {
	total := 0
	for level := s.level; level <= s.topLevel(); level++ {
		total += s.capacityAtLevel(level)
	}
	return total
}

func (s *Sketch) addCompactor() error {
	if int(s.topLevel())+1 >= levelLimit {
		return ErrLevelLimit
	}
	s.compactors = append(s.compactors, newCompactor())
	s.capacity = s.calculateCapacity()
	return nil
}

func (s *Sketch) compress() error {
	for s.size > s.capacity {
		if err := s.compactLevels(); err != nil {
			return err
		}
	}
	s.absorbLowLevelsIntoSampler()
	return nil
}

// compactLevels runs a single cascade step: it compacts the first
// over-capacity level it finds and pushes the overflow into the next
// level up, adding a new top level if necessary.
func (s *Sketch) compactLevels() error {
	var overflow []uint64
	for level := s.level; level <= s.topLevel(); level++ {
		capacity := s.capacityAtLevel(level)
		c := s.compactorAt(level)
		if len(overflow) > 0 {
			c.insertSorted(overflow)
			overflow = nil
			break
		}
		if c.size() > capacity {
			overflow = c.compact()
		}
	}

	if len(overflow) > 0 {
		if err := s.addCompactor(); err != nil {
			return err
		}
		top := s.topLevel()
		s.compactorAt(top).insertSorted(overflow)
	}

	s.size = s.calculateSize()
	s.capacity = s.calculateCapacity()
	return nil
}

// absorbLowLevelsIntoSampler drops empty, floor-capacity levels at the
// bottom of the hierarchy back into the sampler, keeping the active level
// range bounded as the sketch accumulates more values.
func (s *Sketch) absorbLowLevelsIntoSampler() {
	for len(s.compactors) > 1 {
		capacity := s.capacityAtLevel(s.level)
		size := s.compactors[0].size()
		if capacity != 2 || size != 0 {
			break
		}
		s.level++
		s.compactors = s.compactors[1:]
		s.size = s.calculateSize()
		s.sampler.setMaxWeight(uint64(1) << s.level)
	}
}

// sketchState is a deep, detached copy of a sketch's fields, used as the
// "victim" side of a merge so the original sketch is never mutated.
type sketchState struct {
	count      uint64
	level      uint8
	minmax     minMax
	sampler    sampler
	compactors []*compactor
}

func (s *Sketch) snapshot() sketchState {
	compactors := make([]*compactor, len(s.compactors))
	for i, c := range s.compactors {
		compactors[i] = c.clone()
	}
	return sketchState{
		count:      s.count,
		level:      s.level,
		minmax:     s.minmax,
		sampler:    s.sampler,
		compactors: compactors,
	}
}

func (s *Sketch) copyFrom(other *Sketch) {
	snap := other.snapshot()
	s.count = snap.count
	s.level = snap.level
	s.minmax = snap.minmax
	s.sampler = snap.sampler
	s.compactors = snap.compactors
	s.size = s.calculateSize()
	s.capacity = s.calculateCapacity()
}

func (s *Sketch) clone() *Sketch {
	out := &Sketch{}
	out.copyFrom(s)
	return out
}

// Clone returns a deep copy that shares no state with s.
func (s *Sketch) Clone() *Sketch {
	return s.clone()
}

// absorb merges victim into survivor s, where s.level >= victim.level.
// Victim's levels below s.level have no structural home in s, so they are
// re-thinned through s's sampler; victim's levels at or above s.level are
// merged compactor-to-compactor.
func (s *Sketch) absorb(victim sketchState) error {
	var sampled []uint64

	if w := victim.sampler.storedWeightVal(); w > 0 {
		if v, ok := s.sampler.sampleWeighted(victim.sampler.storedValueVal(), w); ok {
			sampled = append(sampled, v)
		}
	}

	victimTop := victim.level + uint8(len(victim.compactors)) - 1
	upperBound := s.level
	if int(victimTop)+1 < int(upperBound) {
		upperBound = victimTop + 1
	}
	for level := victim.level; level < upperBound; level++ {
		weight := uint64(1) << level
		c := victim.compactors[level-victim.level]
		for _, val := range c.iterValues() {
			if v, ok := s.sampler.sampleWeighted(val, weight); ok {
				sampled = append(sampled, v)
			}
		}
	}

	if len(sampled) > 0 {
		sort.Slice(sampled, func(i, j int) bool { return sampled[i] < sampled[j] })
		s.compactorAt(s.level).insertSorted(sampled)
	}

	if victimTop > s.topLevel() {
		numToAdd := int(victimTop) - int(s.topLevel())
		for i := 0; i < numToAdd; i++ {
			if err := s.addCompactor(); err != nil {
				return err
			}
		}
	}

	for level := s.level; level <= victimTop && level >= victim.level; level++ {
		if level < s.level {
			continue
		}
		idx := level - victim.level
		if int(idx) >= len(victim.compactors) {
			break
		}
		s.compactorAt(level).insertFromOther(victim.compactors[idx])
	}

	s.minmax.updateFrom(victim.minmax)
	s.count += victim.count

	s.size = s.calculateSize()
	return s.compress()
}

// MarshalBinary encodes the sketch as:
//
//	magic(4 BE) | version(1) | count(8 BE) | level(1) |
//	min(8 BE) | max(8 BE) | samplerWeight(8 BE) | samplerValue(8 BE) |
//	numCompactors(1) | { size(4 BE) | values(size x 8 BE) } ...
//
// Compactors are always encoded sorted ascending.
func (s *Sketch) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], wireMagic)
	buf.Write(hdr[:])
	buf.WriteByte(wireVersion)

	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], s.count)
	buf.Write(u64[:])
	buf.WriteByte(s.level)

	binary.BigEndian.PutUint64(u64[:], s.minmax.min)
	buf.Write(u64[:])
	binary.BigEndian.PutUint64(u64[:], s.minmax.max)
	buf.Write(u64[:])

	binary.BigEndian.PutUint64(u64[:], s.sampler.storedWeightVal())
	buf.Write(u64[:])
	binary.BigEndian.PutUint64(u64[:], s.sampler.storedValueVal())
	buf.Write(u64[:])

	if len(s.compactors) > 255 {
		return nil, fmt.Errorf("quantile: too many compactor levels to encode (%d)", len(s.compactors))
	}
	buf.WriteByte(byte(len(s.compactors)))

	var u32 [4]byte
	for _, c := range s.compactors {
		values := c.iterValues()
		binary.BigEndian.PutUint32(u32[:], uint32(len(values)))
		buf.Write(u32[:])
		for _, v := range values {
			binary.BigEndian.PutUint64(u64[:], v)
			buf.Write(u64[:])
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a sketch previously written by MarshalBinary.
func (s *Sketch) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)

	var hdr [4]byte
	if _, err := r.Read(hdr[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	if binary.BigEndian.Uint32(hdr[:]) != wireMagic {
		return fmt.Errorf("%w: bad magic", ErrBadFormat)
	}

	version, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	if version != wireVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrBadFormat, version)
	}

	readU64 := func() (uint64, error) {
		var b [8]byte
		if _, err := r.Read(b[:]); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBadFormat, err)
		}
		return binary.BigEndian.Uint64(b[:]), nil
	}

	count, err := readU64()
	if err != nil {
		return err
	}
	level, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	min, err := readU64()
	if err != nil {
		return err
	}
	max, err := readU64()
	if err != nil {
		return err
	}
	samplerWeight, err := readU64()
	if err != nil {
		return err
	}
	samplerValue, err := readU64()
	if err != nil {
		return err
	}

	numCompactors, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	if numCompactors < 1 {
		return fmt.Errorf("%w: must have at least one compactor level", ErrBadFormat)
	}

	compactors := make([]*compactor, numCompactors)
	for i := range compactors {
		var sizeBuf [4]byte
		if _, err := r.Read(sizeBuf[:]); err != nil {
			return fmt.Errorf("%w: %v", ErrBadFormat, err)
		}
		size := binary.BigEndian.Uint32(sizeBuf[:])
		c := newCompactor()
		c.data = make([]uint64, size)
		for j := range c.data {
			v, err := readU64()
			if err != nil {
				return err
			}
			c.data[j] = v
		}
		compactors[i] = c
	}

	if int(level)+len(compactors) > levelLimit {
		return fmt.Errorf("%w: level value too large", ErrBadFormat)
	}

	s.count = count
	s.level = level
	s.minmax = minMax{min: min, max: max}
	s.sampler = newSampler()
	s.sampler.setMaxWeight(uint64(1) << level)
	if samplerWeight > 0 {
		s.sampler.count = samplerWeight
		s.sampler.storedValue = samplerValue
		s.sampler.storedWeight = samplerWeight
	}
	s.compactors = compactors
	s.size = s.calculateSize()
	s.capacity = s.calculateCapacity()
	return nil
}
