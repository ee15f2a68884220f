package quantile

import "testing"

// TestCompactOddSizeNeverDuplicatesLeftoverIntoOverflow guards against a
// regression where compact(), on an odd-sized buffer with the matching
// random parity, included the retained leftover's index in the promoted
// overflow slice too — double-counting its weight. Run many trials since
// the parity is chosen by rand.Intn(2) and the bug only fires on one of
// the two outcomes.
func TestCompactOddSizeNeverDuplicatesLeftoverIntoOverflow(t *testing.T) {
	values := []uint64{1, 2, 3, 4, 5}
	leftoverCandidate := values[len(values)-1]

	for trial := 0; trial < 200; trial++ {
		c := newCompactor()
		for _, v := range values {
			c.insert(v)
		}

		overflow := c.compact()

		if len(overflow) != len(values)/2 {
			t.Fatalf("trial %d: expected %d overflow elements, got %d: %v", trial, len(values)/2, len(overflow), overflow)
		}
		if c.size() != 1 {
			t.Fatalf("trial %d: expected exactly one retained leftover, got %d", trial, c.size())
		}
		if c.data[0] != leftoverCandidate {
			t.Fatalf("trial %d: expected leftover %d, got %d", trial, leftoverCandidate, c.data[0])
		}
		for _, v := range overflow {
			if v == leftoverCandidate {
				t.Fatalf("trial %d: leftover value %d was double-counted into overflow %v", trial, leftoverCandidate, overflow)
			}
		}
	}
}

// TestCompactEvenSizeProducesNoLeftover confirms the even-size path,
// unaffected by the odd-size bug, still halves exactly with nothing
// retained.
func TestCompactEvenSizeProducesNoLeftover(t *testing.T) {
	for trial := 0; trial < 20; trial++ {
		c := newCompactor()
		for _, v := range []uint64{1, 2, 3, 4, 5, 6} {
			c.insert(v)
		}

		overflow := c.compact()

		if len(overflow) != 3 {
			t.Fatalf("trial %d: expected 3 overflow elements, got %d: %v", trial, len(overflow), overflow)
		}
		if c.size() != 0 {
			t.Fatalf("trial %d: expected nothing retained, got %d", trial, c.size())
		}
	}
}
