// Package updater drives the indexing loop: it pulls blocks off the
// fetcher in order, runs each transaction through the sat-range
// allocator and the inscription tracker, and commits the results in
// bounded write-transaction windows. The long-lived-orchestrator-with-
// its-own-context-and-background-loop shape and the Config-with-
// defaults/ticker-free select loop idiom follow the same pattern used
// throughout this codebase's other background workers.
package updater

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"

	"github.com/ordindexer/ordindexer/internal/mirror"
	"github.com/ordindexer/ordindexer/internal/ordinal/entry"
	"github.com/ordindexer/ordindexer/internal/ordinal/fetcher"
	"github.com/ordindexer/ordindexer/internal/ordinal/inscription"
	"github.com/ordindexer/ordindexer/internal/ordinal/satrange"
	"github.com/ordindexer/ordindexer/internal/ordinal/store"
	"github.com/ordindexer/ordindexer/internal/ordlog"
	"github.com/ordindexer/ordindexer/pkg/logging"
)

// ProgressFunc receives an indexing progress update at no more than 1 Hz.
type ProgressFunc func(height, tip entry.Height, bytesWritten uint64)

// Config controls the updater's commit-window policy.
type Config struct {
	Store   *store.Store
	Fetcher *fetcher.Fetcher

	// FirstInscriptionHeight gates detection of brand-new inscriptions;
	// sat-range accounting always runs regardless of this height.
	FirstInscriptionHeight entry.Height

	// CommitInterval bounds a commit window by block count. Default 5000.
	CommitInterval entry.Height
	// CommitTimeout bounds a commit window by wall-clock time. Default 5s.
	CommitTimeout time.Duration

	// Mirror, if set, receives every commit window's inscription moves
	// for an external read sink. Nil disables mirroring.
	Mirror *mirror.Sink
	// ChainParams selects the network used to resolve output addresses
	// for the mirror sink. Defaults to mainnet.
	ChainParams *chaincfg.Params

	Progress ProgressFunc
	Logger   *logging.Logger
}

// Updater runs the commit-window indexing loop: pull blocks in order,
// run each transaction through sat-range accounting and inscription
// tracking, and commit in bounded windows.
type Updater struct {
	store   *store.Store
	fetcher *fetcher.Fetcher

	indexSats              bool
	firstInscriptionHeight entry.Height
	commitInterval         entry.Height
	commitTimeout          time.Duration

	mirrorSink  *mirror.Sink
	chainParams *chaincfg.Params

	progress     ProgressFunc
	lastProgress time.Time
	log          *logging.Logger
}

// New constructs an Updater from cfg, applying defaults for zero fields.
func New(cfg Config) *Updater {
	interval := cfg.CommitInterval
	if interval == 0 {
		interval = 5000
	}
	timeout := cfg.CommitTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = ordlog.For(ordlog.Updater)
	}
	params := cfg.ChainParams
	if params == nil {
		params = &chaincfg.MainNetParams
	}
	return &Updater{
		store:                  cfg.Store,
		fetcher:                cfg.Fetcher,
		indexSats:              cfg.Store.IndexSats(),
		firstInscriptionHeight: cfg.FirstInscriptionHeight,
		commitInterval:         interval,
		commitTimeout:          timeout,
		mirrorSink:             cfg.Mirror,
		chainParams:            params,
		progress:               cfg.Progress,
		log:                    log,
	}
}

// errReorg carries the height at which the fetched chain diverged from
// the indexed chain, discovered mid-window. Returning it from the
// store.Update closure aborts the transaction untouched.
type errReorg struct {
	height entry.Height
}

func (e *errReorg) Error() string {
	return fmt.Sprintf("updater: block at height %d does not extend the indexed chain", e.height)
}

// IndexToTip runs commit windows until the index has caught up to
// tipHeight (inclusive) or ctx is cancelled. Call it again later, with a
// freshly queried tip, to continue following the chain.
func (u *Updater) IndexToTip(ctx context.Context, tipHeight entry.Height) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := u.resumeReorgIfNeeded(ctx); err != nil {
			return fmt.Errorf("resume interrupted reorg recovery: %w", err)
		}

		start, err := u.currentHeight()
		if err != nil {
			return err
		}
		if start > tipHeight {
			return nil
		}

		reached, err := u.commitWindow(ctx, start, tipHeight)
		if err != nil {
			var re *errReorg
			if errors.As(err, &re) {
				target, rerr := u.planReorgTarget(re.height)
				if rerr != nil {
					return fmt.Errorf("determine reorg target: %w", rerr)
				}
				u.log.Warn("reorg detected", "height", re.height, "rollback_to", target)
				if err := u.recoverFromReorg(target); err != nil {
					return fmt.Errorf("reorg recovery: %w", err)
				}
				continue
			}
			return err
		}
		if reached {
			return nil
		}
	}
}

func (u *Updater) currentHeight() (entry.Height, error) {
	var h entry.Height
	err := u.store.View(func(r *store.ReadTx) error {
		h = r.BlockCount()
		return nil
	})
	return h, err
}

// commitWindow fetches blocks starting at start, up to and including
// tipHeight, and applies as many as fit within one commit interval or
// commit-timeout budget into a single write transaction. It returns true
// once the fetched range has been exhausted (the index has caught up to
// tipHeight).
func (u *Updater) commitWindow(ctx context.Context, start, tipHeight entry.Height) (bool, error) {
	windowCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	blocks, errCh := u.fetcher.Blocks(windowCtx, start, tipHeight+1)

	reachedTip := false
	var bytesWritten uint64
	var moves []mirror.Move

	err := u.store.Update(func(w *store.WriteTx) error {
		startTime := time.Now()
		if err := w.PutWriteTxStart(start, uint64(startTime.UnixMicro())); err != nil {
			return err
		}

		allocator := satrange.NewBlockAllocator()
		height := start
		processed := entry.Height(0)

	window:
		for processed < u.commitInterval && time.Since(startTime) < u.commitTimeout {
			select {
			case block, ok := <-blocks:
				if !ok {
					reachedTip = true
					break window
				}
				n, blockMoves, err := u.applyBlock(w, allocator, block)
				if err != nil {
					return err
				}
				bytesWritten += n
				moves = append(moves, blockMoves...)
				height = block.Height + 1
				processed++
				u.maybeReportProgress(height, tipHeight, bytesWritten)
			case err, ok := <-errCh:
				if ok && err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return w.IncrStatistic(store.StatisticCommits, 1)
	})
	if err != nil {
		return false, err
	}

	if u.mirrorSink != nil && len(moves) > 0 {
		if err := u.mirrorSink.Apply(moves); err != nil {
			u.log.Warn("mirror sink apply failed", "error", err)
		}
	}

	u.progressNow(tipHeight, bytesWritten)
	return reachedTip, nil
}

func (u *Updater) maybeReportProgress(height, tip entry.Height, bytesWritten uint64) {
	if u.progress == nil {
		return
	}
	if time.Since(u.lastProgress) < time.Second {
		return
	}
	u.lastProgress = time.Now()
	u.progress(height, tip, bytesWritten)
}

func (u *Updater) progressNow(tip entry.Height, bytesWritten uint64) {
	if u.progress == nil {
		return
	}
	u.lastProgress = time.Now()
	u.progress(tip, tip, bytesWritten)
}

// applyBlock runs one fetched block's transactions through the sat-range
// allocator and inscription tracker and records its hash. It returns the
// approximate number of index bytes written, for progress reporting, and
// the inscription moves landed in this block, for an optional mirror
// sink.
func (u *Updater) applyBlock(w *store.WriteTx, allocator *satrange.BlockAllocator, block fetcher.Block) (uint64, []mirror.Move, error) {
	if block.Height > 0 {
		prevHash, ok := w.Reader().BlockHash(block.Height - 1)
		if !ok || prevHash != block.Block.Header.PrevBlock {
			return 0, nil, &errReorg{height: block.Height}
		}
	}

	if len(block.Block.Transactions) == 0 {
		return 0, nil, fmt.Errorf("block at height %d has no transactions", block.Height)
	}

	var pkScripts map[entry.OutPoint][]byte
	if u.mirrorSink != nil {
		pkScripts = make(map[entry.OutPoint][]byte)
	}

	tracker := inscription.New(w, u.indexSats, u.firstInscriptionHeight)
	coinbase := block.Block.Transactions[0]
	var carried []inscription.Flotsam
	// reward starts at the block subsidy and accumulates each
	// transaction's fee as it's processed, so AdjustForCoinbase can
	// re-express a carried flotsam's offset in the coinbase's own input
	// space (subsidy, then fees in transaction order).
	reward := satrange.Subsidy(block.Height)
	var bytesWritten uint64

	timestamp := uint32(block.Block.Header.Timestamp.Unix())

	for _, tx := range block.Block.Transactions[1:] {
		txid := tx.TxHash()

		inputs := make([]inscription.TxInput, len(tx.TxIn))
		var inputRanges []entry.SatRange
		for i, in := range tx.TxIn {
			op := toEntryOutPoint(in.PreviousOutPoint)
			value, ranges, err := u.takeSpentOutput(w, op)
			if err != nil {
				return 0, nil, fmt.Errorf("tx %s input %d: %w", txid, i, err)
			}
			inputs[i] = inscription.TxInput{Outpoint: op, Value: value, Witness: in.Witness}
			inputRanges = append(inputRanges, ranges...)
		}

		outputs := make([]inscription.TxOutput, len(tx.TxOut))
		outputValues := make([]uint64, len(tx.TxOut))
		for i, out := range tx.TxOut {
			outputs[i] = inscription.TxOutput{Value: uint64(out.Value)}
			outputValues[i] = uint64(out.Value)
		}

		leftover, err := tracker.ProcessTransaction(block.Height, timestamp, txid, inputs, outputs, inputRanges)
		if err != nil {
			return 0, nil, fmt.Errorf("process tx %s: %w", txid, err)
		}

		var inputValue uint64
		for _, in := range inputs {
			inputValue += in.Value
		}
		var outputValue uint64
		for _, v := range outputValues {
			outputValue += v
		}
		fee := uint64(0)
		if inputValue > outputValue {
			fee = inputValue - outputValue
		}

		for _, f := range leftover {
			carried = append(carried, inscription.AdjustForCoinbase(f, outputValue, reward))
		}
		reward += fee

		var outputRanges [][]entry.SatRange
		if u.indexSats {
			outputRanges, err = allocator.AllocateTx(inputRanges, outputValues)
			if err != nil {
				return 0, nil, fmt.Errorf("allocate sat ranges for tx %s: %w", txid, err)
			}
		}

		for i, out := range tx.TxOut {
			op := entry.OutPoint{Hash: txid, Index: uint32(i)}
			if pkScripts != nil {
				pkScripts[op] = out.PkScript
			}
			if u.indexSats {
				if err := w.PutOutpointSatRanges(op, outputRanges[i]); err != nil {
					return 0, nil, err
				}
				bytesWritten += uint64(11 * len(outputRanges[i]))
			} else {
				if err := w.PutOutpointValue(op, uint64(out.Value)); err != nil {
					return 0, nil, err
				}
				bytesWritten += entry.OutPointLength + 8
			}
		}
	}

	coinbaseOutputs := make([]inscription.TxOutput, len(coinbase.TxOut))
	coinbaseOutputValues := make([]uint64, len(coinbase.TxOut))
	for i, out := range coinbase.TxOut {
		coinbaseOutputs[i] = inscription.TxOutput{Value: uint64(out.Value)}
		coinbaseOutputValues[i] = uint64(out.Value)
	}

	var coinbaseRanges []entry.SatRange
	lostSatsBase := uint64(0)
	if u.indexSats {
		var allocated [][]entry.SatRange
		var lost []entry.SatRange
		var err error
		allocated, lost, err = allocator.AllocateCoinbase(block.Height, coinbaseOutputValues)
		if err != nil {
			return 0, nil, fmt.Errorf("allocate coinbase sat ranges: %w", err)
		}
		coinbaseRanges = flatten(allocated)

		lostBefore, err := w.Reader().Statistic(store.StatisticLostSats)
		if err != nil {
			return 0, nil, err
		}
		lostSatsBase = lostBefore

		for i, out := range coinbase.TxOut {
			op := entry.OutPoint{Hash: coinbase.TxHash(), Index: uint32(i)}
			if pkScripts != nil {
				pkScripts[op] = out.PkScript
			}
			if err := w.PutOutpointSatRanges(op, allocated[i]); err != nil {
				return 0, nil, err
			}
		}
		if len(lost) > 0 {
			if err := w.AppendNullOutpointRanges(lost); err != nil {
				return 0, nil, err
			}
			lostLen := entry.TotalLength(lost)
			if err := w.IncrStatistic(store.StatisticLostSats, lostLen); err != nil {
				return 0, nil, err
			}
		}
	} else {
		for i, out := range coinbase.TxOut {
			op := entry.OutPoint{Hash: coinbase.TxHash(), Index: uint32(i)}
			if pkScripts != nil {
				pkScripts[op] = out.PkScript
			}
			if err := w.PutOutpointValue(op, uint64(out.Value)); err != nil {
				return 0, nil, err
			}
		}
	}

	// A reveal envelope in the coinbase's own first-input witness mints
	// directly into the coinbase, same as any other transaction's input
	// 0 — check it before peeling, alongside whatever fee-paid flotsam
	// other transactions carried in.
	if block.Height >= u.firstInscriptionHeight && len(coinbase.TxIn) > 0 {
		if env, ok := inscription.FindEnvelope(coinbase.TxIn[0].Witness); ok {
			_ = env
			alreadyAtZero := false
			for _, f := range carried {
				if f.Offset == 0 {
					alreadyAtZero = true
					break
				}
			}
			if !alreadyAtZero {
				var coinbaseOutputTotal uint64
				for _, v := range coinbaseOutputValues {
					coinbaseOutputTotal += v
				}
				subsidy := satrange.Subsidy(block.Height)
				var fee uint64
				if subsidy > coinbaseOutputTotal {
					fee = subsidy - coinbaseOutputTotal
				}
				carried = append(carried, inscription.Flotsam{
					InscriptionID: entry.InscriptionId{TxID: coinbase.TxHash(), Index: 0},
					Offset:        0,
					Origin:        inscription.Origin{Kind: inscription.OriginNew, Fee: fee},
				})
			}
		}
	}

	if err := tracker.ProcessCoinbase(block.Height, timestamp, coinbase.TxHash(), carried, coinbaseOutputs, coinbaseRanges, lostSatsBase); err != nil {
		return 0, nil, fmt.Errorf("process coinbase: %w", err)
	}

	var hash [entry.BlockHashLength]byte
	copy(hash[:], block.Hash[:])
	if err := w.PutBlockHash(block.Height, hash); err != nil {
		return 0, nil, err
	}
	bytesWritten += entry.BlockHashLength

	var moves []mirror.Move
	if u.mirrorSink != nil {
		for _, landing := range tracker.Landed() {
			move := mirror.Move{InscriptionID: landing.InscriptionID, Satpoint: landing.Satpoint}
			if pk, ok := pkScripts[landing.Satpoint.OutPoint]; ok {
				if addr, ok := mirror.AddressFromPkScript(pk, u.chainParams); ok {
					move.Address = addr
				}
			}
			moves = append(moves, move)
		}
	}

	return bytesWritten, moves, nil
}

// takeSpentOutput resolves the value (and, if the sat index is on, the
// sat ranges) of the output a transaction input spends, removing it from
// its bucket since it is now spent. Outputs this indexer never recorded
// (created before it started running) are resolved on demand from the
// node via the fetcher's missing-value pipeline.
func (u *Updater) takeSpentOutput(w *store.WriteTx, op entry.OutPoint) (uint64, []entry.SatRange, error) {
	if u.indexSats {
		ranges, ok, err := w.TakeOutpointSatRanges(op)
		if err != nil {
			return 0, nil, err
		}
		if ok {
			return entry.TotalLength(ranges), ranges, nil
		}
	} else {
		value, ok, err := w.TakeOutpointValue(op)
		if err != nil {
			return 0, nil, err
		}
		if ok {
			return value, nil, nil
		}
	}

	value, err := u.fetchMissingValue(op)
	if err != nil {
		return 0, nil, err
	}
	return value, nil, nil
}

// fetchMissingValue asks the node directly for a single output's value,
// reusing the fetcher's ordered pipeline with a single in-flight request.
func (u *Updater) fetchMissingValue(op entry.OutPoint) (uint64, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	requests := make(chan fetcher.ValueRequest, 1)
	results, errCh := u.fetcher.MissingValues(ctx, requests)
	requests <- fetcher.ValueRequest{Outpoint: op, Seq: 0}
	close(requests)

	select {
	case r, ok := <-results:
		if !ok {
			return 0, fmt.Errorf("resolve value for outpoint %s: no result", op.Hash)
		}
		return r.Value, nil
	case err := <-errCh:
		return 0, err
	}
}

func toEntryOutPoint(o wire.OutPoint) entry.OutPoint {
	return entry.OutPoint{Hash: o.Hash, Index: o.Index}
}

func flatten(groups [][]entry.SatRange) []entry.SatRange {
	var out []entry.SatRange
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
