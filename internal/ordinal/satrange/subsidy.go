// Package satrange implements the FIFO range-splitting algorithm that
// tracks individual satoshis as they move from transaction inputs to
// outputs, plus the block subsidy schedule that mints new ranges at each
// coinbase. Grounded on the original indexer's VecDeque<(u64,u64)>
// consumption in inscription_updater.rs, generalized from a single
// offset lookup into the full per-output split the updater needs.
package satrange

import "github.com/ordindexer/ordindexer/internal/ordinal/entry"

// Coin is the number of satoshis in one whole coin.
const Coin = 100_000_000

// SubsidyHalvingInterval is the number of blocks between halvings.
const SubsidyHalvingInterval = 210_000

// maxHalvings is the epoch at which the subsidy has floored to zero;
// summing epochs beyond it contributes nothing, so loops can stop here.
const maxHalvings = 64

// Subsidy returns the block reward for height, before fees: 50 coins,
// halved every SubsidyHalvingInterval blocks, floored at zero.
func Subsidy(height entry.Height) uint64 {
	halvings := uint64(height) / SubsidyHalvingInterval
	if halvings >= maxHalvings {
		return 0
	}
	return (50 * Coin) >> halvings
}

// FirstSatOfHeight returns the ordinal number of the first satoshi
// minted by height's coinbase: the total number of satoshis minted by
// every block before it. Purely a function of height, so the indexer
// never needs to persist a running "next sat" counter.
func FirstSatOfHeight(height entry.Height) uint64 {
	epoch := uint64(height) / SubsidyHalvingInterval
	within := uint64(height) % SubsidyHalvingInterval

	var total uint64
	for e := uint64(0); e < epoch && e < maxHalvings; e++ {
		total += SubsidyHalvingInterval * ((50 * Coin) >> e)
	}
	total += within * Subsidy(height)
	return total
}
