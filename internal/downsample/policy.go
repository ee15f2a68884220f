// Package downsample implements the background tiered-retention task
// that merges old windows into coarser ones.
package downsample

import (
	"github.com/wedaly/caesium/internal/config"
	"github.com/wedaly/caesium/internal/storage/store"
)

// mergeGroup is a contiguous run of windows (by index into the slice
// passed to planMerges) that should be collapsed into one.
type mergeGroup struct {
	from, to int // inclusive indices
}

// span reports the merged group's resulting [start, end) span given the
// original windows.
func (g mergeGroup) span(windows []store.Window) (uint64, uint64) {
	return windows[g.from].Start, windows[g.to].End
}

// eligibleEndRange converts a tier's age bounds into an absolute
// [lo, hi) range on a window's End timestamp: a window belongs to the
// tier when lowerAge <= now-window.End (< upperAge, if the tier has
// one). empty is true when now hasn't yet reached lowerAge, so the
// tier has no eligible windows at all.
func eligibleEndRange(now, lowerAge, upperAge uint64, hasUpper bool) (lo, hi uint64, empty bool) {
	if now < lowerAge {
		return 0, 0, true
	}
	hi = now - lowerAge
	if hasUpper && now > upperAge {
		lo = now - upperAge
	}
	return lo, hi, false
}

// planMerges greedily groups consecutive windows (already sorted
// ascending by Start) into runs, growing each run until its combined
// span reaches at least targetSpan seconds, treating two windows as
// mergeable when they are contiguous (next.Start == acc.End) or
// separated by no more than gapTolerance seconds. A gap larger than that
// tolerance closes the current group even if it has not yet reached
// targetSpan, matching the policy's "contiguous or within a gap
// tolerance" merge condition; running out of windows does the same, so
// the last group can also span less than targetSpan.
// Groups of a single window are omitted since replacing a window with
// itself is a no-op.
func planMerges(windows []store.Window, targetSpan, gapTolerance uint64) []mergeGroup {
	var groups []mergeGroup

	i := 0
	for i < len(windows) {
		start := i
		accEnd := windows[i].End
		j := i + 1
		for j < len(windows) {
			gap := windows[j].Start - accEnd
			if windows[j].Start < accEnd {
				// overlapping windows should never occur in a well-formed
				// store; stop growing the group rather than miscompute a gap.
				break
			}
			if gap > gapTolerance {
				break
			}
			if accEnd-windows[start].Start >= targetSpan {
				break
			}
			accEnd = windows[j].End
			j++
		}
		if j-1 > start {
			groups = append(groups, mergeGroup{from: start, to: j - 1})
		}
		i = j
	}

	return groups
}

// tierBounds returns, for tier index idx in cfg.Tiers (sorted by
// increasing age threshold), the inclusive lower and exclusive upper
// age bound the tier applies to. A tier's own AgeThreshold is its lower
// bound — windows younger than that stay untouched (or belong to an
// earlier, finer tier) — and the next tier's AgeThreshold is its upper
// bound. The oldest tier has no upper bound.
func tierBounds(tiers []config.TierConfig, idx int) (lowerAge uint64, upperAge uint64, hasUpper bool) {
	lowerAge = uint64(tiers[idx].AgeThreshold.Seconds())
	if idx+1 < len(tiers) {
		upperAge = uint64(tiers[idx+1].AgeThreshold.Seconds())
		hasUpper = true
	}
	return lowerAge, upperAge, hasUpper
}
