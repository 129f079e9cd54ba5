// Package fetcher streams blocks and resolves missing output values from
// the node ahead of the updater, so the updater's single consumer
// goroutine never blocks on network round trips. Both pipelines are
// bounded channels fed by a small worker pool, with results reordered
// back into the sequence the caller asked for.
package fetcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/ordindexer/ordindexer/internal/ordinal/entry"
	"github.com/ordindexer/ordindexer/internal/ordlog"
	"github.com/ordindexer/ordindexer/internal/rpcclient"
	"github.com/ordindexer/ordindexer/pkg/logging"
)

// Config controls pipeline width and depth.
type Config struct {
	Client *rpcclient.Client
	// Concurrency is the worker pool size for both pipelines. Default 16.
	Concurrency int
	// Capacity is the bounded channel depth (K). Default 32.
	Capacity int
	Logger   *logging.Logger
}

// Fetcher streams blocks and resolves missing values ahead of the updater.
type Fetcher struct {
	client      *rpcclient.Client
	concurrency int
	capacity    int
	log         *logging.Logger
}

// New constructs a Fetcher from cfg, applying defaults for zero fields.
func New(cfg Config) *Fetcher {
	concurrency := cfg.Concurrency
	if concurrency == 0 {
		concurrency = 16
	}
	capacity := cfg.Capacity
	if capacity == 0 {
		capacity = 32
	}
	log := cfg.Logger
	if log == nil {
		log = ordlog.For(ordlog.Fetcher)
	}
	return &Fetcher{
		client:      cfg.Client,
		concurrency: concurrency,
		capacity:    capacity,
		log:         log,
	}
}

// Block is one entry of the ordered block stream Blocks emits.
type Block struct {
	Height entry.Height
	Hash   chainhash.Hash
	Block  *wire.MsgBlock
}

type blockResult struct {
	height entry.Height
	hash   chainhash.Hash
	block  *wire.MsgBlock
}

// Blocks streams blocks for heights [start, limit) in strict ascending
// order. limit == 0 means stream until ctx is cancelled (tip-following).
// The returned error channel carries at most one error and is never
// closed; the block channel closes once streaming stops, whether at
// limit, on cancellation, or after an error.
func (f *Fetcher) Blocks(ctx context.Context, start, limit entry.Height) (<-chan Block, <-chan error) {
	out := make(chan Block, f.capacity)
	errCh := make(chan error, 1)

	ctx, cancel := context.WithCancel(ctx)
	var failOnce sync.Once
	fail := func(err error) {
		failOnce.Do(func() {
			errCh <- err
			cancel()
		})
	}

	jobs := make(chan entry.Height, f.capacity)
	go func() {
		defer close(jobs)
		for h := start; limit == 0 || h < limit; h++ {
			select {
			case jobs <- h:
			case <-ctx.Done():
				return
			}
		}
	}()

	results := make(chan blockResult, f.capacity)
	var wg sync.WaitGroup
	for i := 0; i < f.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for h := range jobs {
				hash, err := f.client.GetBlockHash(ctx, int64(h))
				if err != nil {
					fail(fmt.Errorf("fetch block hash at height %d: %w", h, err))
					return
				}
				block, err := f.client.GetBlock(ctx, hash)
				if err != nil {
					fail(fmt.Errorf("fetch block %s at height %d: %w", hash, h, err))
					return
				}
				select {
				case results <- blockResult{height: h, hash: hash, block: block}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	go func() {
		defer close(out)
		defer cancel()

		pending := make(map[entry.Height]blockResult)
		next := start
		for {
			if r, ok := pending[next]; ok {
				delete(pending, next)
				select {
				case out <- Block{Height: r.height, Hash: r.hash, Block: r.block}:
					next++
					continue
				case <-ctx.Done():
					return
				}
			}

			select {
			case r, ok := <-results:
				if !ok {
					return
				}
				pending[r.height] = r
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errCh
}

// ValueRequest asks for the output value at Outpoint, tagged with Seq so
// the reorder stage can restore the caller's original request order.
type ValueRequest struct {
	Outpoint entry.OutPoint
	Seq      uint64
}

// ValueResult is MissingValues' answer to a ValueRequest.
type ValueResult struct {
	Outpoint entry.OutPoint
	Value    uint64
	Seq      uint64
}

// MissingValues resolves output values for outpoints whose creating
// transaction predates first-inscription-height and was never indexed,
// via one getrawtransaction call per request, run concurrently across the
// worker pool; requests are not batched into a single RPC. Ordering is the correctness
// contract: requests must be read off the channel in the exact order the
// updater needs them (blocks→transactions→inputs), and results are
// reordered back into that same sequence before being emitted.
func (f *Fetcher) MissingValues(ctx context.Context, requests <-chan ValueRequest) (<-chan ValueResult, <-chan error) {
	out := make(chan ValueResult, f.capacity)
	errCh := make(chan error, 1)

	ctx, cancel := context.WithCancel(ctx)
	var failOnce sync.Once
	fail := func(err error) {
		failOnce.Do(func() {
			errCh <- err
			cancel()
		})
	}

	jobs := make(chan ValueRequest, f.capacity)
	go func() {
		defer close(jobs)
		for {
			select {
			case req, ok := <-requests:
				if !ok {
					return
				}
				select {
				case jobs <- req:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	results := make(chan ValueResult, f.capacity)
	var wg sync.WaitGroup
	for i := 0; i < f.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for req := range jobs {
				tx, err := f.client.GetRawTransaction(ctx, req.Outpoint.Hash)
				if err != nil {
					fail(fmt.Errorf("fetch value for outpoint %s: %w", req.Outpoint.Hash, err))
					return
				}
				if int(req.Outpoint.Index) >= len(tx.TxOut) {
					fail(fmt.Errorf("outpoint %s:%d has no such output (tx has %d outputs)",
						req.Outpoint.Hash, req.Outpoint.Index, len(tx.TxOut)))
					return
				}
				value := uint64(tx.TxOut[req.Outpoint.Index].Value)
				select {
				case results <- ValueResult{Outpoint: req.Outpoint, Value: value, Seq: req.Seq}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	go func() {
		defer close(out)
		defer cancel()

		pending := make(map[uint64]ValueResult)
		var next uint64
		for {
			if r, ok := pending[next]; ok {
				delete(pending, next)
				select {
				case out <- r:
					next++
					continue
				case <-ctx.Done():
					return
				}
			}

			select {
			case r, ok := <-results:
				if !ok {
					return
				}
				pending[r.Seq] = r
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errCh
}
