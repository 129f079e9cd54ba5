package satrange

import (
	"fmt"

	"github.com/ordindexer/ordindexer/internal/ordinal/entry"
)

// Queue is a FIFO of satoshi ranges, consumed strictly front to back and
// split exactly at whatever boundary a caller's requested length lands
// on. It models the same walk the original indexer performs over its
// VecDeque<(u64,u64)> input_sat_ranges, generalized into a reusable type
// instead of an inline loop.
type Queue struct {
	ranges []entry.SatRange
}

// NewQueue builds a Queue from one or more range lists, concatenated in
// the order given — e.g. a coinbase's freshly minted subsidy followed by
// the block's accumulated fee ranges.
func NewQueue(lists ...[]entry.SatRange) *Queue {
	q := &Queue{}
	for _, l := range lists {
		q.ranges = append(q.ranges, l...)
	}
	return q
}

// Append adds ranges to the back of the queue.
func (q *Queue) Append(ranges []entry.SatRange) {
	q.ranges = append(q.ranges, ranges...)
}

// Length returns the total number of satoshis still queued.
func (q *Queue) Length() uint64 {
	return entry.TotalLength(q.ranges)
}

// Remaining returns whatever ranges are left in the queue, in order.
func (q *Queue) Remaining() []entry.SatRange {
	return q.ranges
}

// Take pops ranges from the front of the queue totaling exactly n
// satoshis, splitting the last range it consumes if n lands inside it.
// It returns an error if fewer than n satoshis remain.
func (q *Queue) Take(n uint64) ([]entry.SatRange, error) {
	if n == 0 {
		return nil, nil
	}

	var out []entry.SatRange
	var taken uint64
	for taken < n {
		if len(q.ranges) == 0 {
			return nil, fmt.Errorf("satrange: requested %d sats, only %d available", n, taken)
		}

		r := q.ranges[0]
		need := n - taken
		length := r.Length()

		if length <= need {
			out = append(out, r)
			taken += length
			q.ranges = q.ranges[1:]
			continue
		}

		split := r.Start + need
		out = append(out, entry.SatRange{Start: r.Start, End: split})
		q.ranges[0] = entry.SatRange{Start: split, End: r.End}
		taken += need
	}
	return out, nil
}

// SatAtOffset finds the ordinal located offset satoshis into the
// concatenation of ranges. Used by the inscription tracker to tag a
// freshly created inscription with the sat it inhabits. The second
// return value is false if offset falls outside the ranges' total
// length.
func SatAtOffset(ranges []entry.SatRange, offset uint64) (entry.Sat, bool) {
	var cursor uint64
	for _, r := range ranges {
		size := r.Length()
		if cursor+size > offset {
			return entry.Sat(r.Start + (offset - cursor)), true
		}
		cursor += size
	}
	return 0, false
}

// OffsetOfSat is SatAtOffset's inverse: it reports how many satoshis into
// the concatenation of ranges the given sat falls, for the read API's
// Find operation.
func OffsetOfSat(ranges []entry.SatRange, sat entry.Sat) (uint64, bool) {
	var cursor uint64
	for _, r := range ranges {
		if uint64(sat) >= r.Start && uint64(sat) < r.End {
			return cursor + (uint64(sat) - r.Start), true
		}
		cursor += r.Length()
	}
	return 0, false
}
