package satrange

import "github.com/ordindexer/ordindexer/internal/ordinal/entry"

// BlockAllocator runs a single block's transactions through the range
// engine: every non-coinbase transaction's leftover ranges become fees,
// and the coinbase receives freshly minted subsidy ranges followed by
// the accumulated fees, in that order. Any ranges the coinbase's own
// outputs don't consume become lost sats.
type BlockAllocator struct {
	fees []entry.SatRange
	lost []entry.SatRange
}

// NewBlockAllocator starts a fresh per-block accumulator.
func NewBlockAllocator() *BlockAllocator {
	return &BlockAllocator{}
}

// AllocateTx splits a non-coinbase transaction's concatenated input
// ranges across its outputs, in input order then output-index order.
// Ranges left over once every output is satisfied are the transaction's
// fee and are queued for the coinbase.
func (a *BlockAllocator) AllocateTx(inputRanges []entry.SatRange, outputValues []uint64) ([][]entry.SatRange, error) {
	q := NewQueue(inputRanges)

	outputs := make([][]entry.SatRange, len(outputValues))
	for i, value := range outputValues {
		ranges, err := q.Take(value)
		if err != nil {
			return nil, err
		}
		outputs[i] = ranges
	}

	a.fees = append(a.fees, q.Remaining()...)
	return outputs, nil
}

// AllocateCoinbase mints height's subsidy, concatenates it with every
// fee collected from this block's other transactions, and splits the
// result across the coinbase transaction's outputs. Whatever remains
// unconsumed is returned as lost sats, destined for the null outpoint.
func (a *BlockAllocator) AllocateCoinbase(height entry.Height, outputValues []uint64) ([][]entry.SatRange, []entry.SatRange, error) {
	start := FirstSatOfHeight(height)
	subsidy := Subsidy(height)

	q := NewQueue([]entry.SatRange{{Start: start, End: start + subsidy}})
	q.Append(a.fees)

	outputs := make([][]entry.SatRange, len(outputValues))
	for i, value := range outputValues {
		ranges, err := q.Take(value)
		if err != nil {
			return nil, nil, err
		}
		outputs[i] = ranges
	}

	a.lost = q.Remaining()
	return outputs, a.lost, nil
}
