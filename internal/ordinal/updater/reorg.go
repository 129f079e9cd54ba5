package updater

import (
	"context"
	"errors"
	"fmt"

	"github.com/ordindexer/ordindexer/internal/ordinal/entry"
	"github.com/ordindexer/ordindexer/internal/ordinal/store"
)

// MaxReorgDepth bounds how far recoverFromReorg will walk back looking
// for the point the indexed chain and the fetched chain agree again.
const MaxReorgDepth entry.Height = 1000

// ErrReorgTooDeep is returned when a detected fork would require rolling
// back more than MaxReorgDepth blocks.
var ErrReorgTooDeep = errors.New("updater: reorg exceeds maximum depth")

// reorgBatchSize bounds how many heights' worth of rows are deleted per
// write transaction during recovery, so a very deep rollback still
// commits incrementally and can resume after a crash.
const reorgBatchSize entry.Height = 5000

// planReorgTarget picks the height to roll back to given that the block
// fetched at divergedHeight does not extend the indexed chain. The
// fetcher only streams forward from a known starting height, so instead
// of walking the remote chain backward to find the exact fork point, the
// updater retreats one block at a time: each retreat is cheap (a few
// thousand row deletions at most) and IndexToTip will detect and react
// again immediately if the retreat wasn't deep enough.
func (u *Updater) planReorgTarget(divergedHeight entry.Height) (entry.Height, error) {
	if divergedHeight == 0 {
		return 0, fmt.Errorf("block at height 0 does not match genesis: %w", ErrReorgTooDeep)
	}
	return divergedHeight - 1, nil
}

// recoverFromReorg deletes every height-indexed row at or above target,
// rolling the index back so IndexToTip resumes forward indexing from
// target. The rollback is split into reorgBatchSize-sized write
// transactions, each guarded by a STATISTIC_TO_COUNT[ReorgCheckpoint]
// row recording the rollback target, so a crash mid-rollback
// is resumed (not silently left half-done) the next time the index is
// opened.
func (u *Updater) recoverFromReorg(target entry.Height) error {
	count, err := u.currentHeight()
	if err != nil {
		return err
	}
	if count <= target {
		return nil
	}
	if count-target > MaxReorgDepth {
		return fmt.Errorf("rollback from %d to %d: %w", count, target, ErrReorgTooDeep)
	}
	return u.rollback(target, count)
}

func (u *Updater) resumeReorgIfNeeded(ctx context.Context) error {
	var checkpoint, count uint64
	if err := u.store.View(func(r *store.ReadTx) error {
		var err error
		checkpoint, err = r.Statistic(store.StatisticReorgCheckpoint)
		if err != nil {
			return err
		}
		count = uint64(r.BlockCount())
		return nil
	}); err != nil {
		return err
	}
	if checkpoint == 0 {
		return nil
	}
	u.log.Warn("resuming reorg recovery interrupted by a previous crash", "target", checkpoint)
	return u.rollback(entry.Height(checkpoint), entry.Height(count))
}

// rollback deletes height-indexed rows for every height in [target,
// count) in reorgBatchSize chunks, starting from the top of the range
// each time (so partial progress is never lost: the checkpoint names
// target, and a resumed rollback continues from the current block count
// down to it).
func (u *Updater) rollback(target, count entry.Height) error {
	from := count
	for from > target {
		batchStart := target
		if from-target > reorgBatchSize {
			batchStart = from - reorgBatchSize
		}

		done := batchStart == target
		if err := u.store.Update(func(w *store.WriteTx) error {
			if !done {
				if err := w.SetStatistic(store.StatisticReorgCheckpoint, uint64(target)); err != nil {
					return err
				}
			}
			if err := u.deleteHeightsFrom(w, batchStart); err != nil {
				return err
			}
			if done {
				if err := w.DeleteStatistic(store.StatisticReorgCheckpoint); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return err
		}
		from = batchStart
	}
	return nil
}

// deleteHeightsFrom removes every row this index keyed by height >= from:
// block hashes, and the inscriptions first revealed at or above that
// height (re-deriving next_number from whatever remains, per §4.6.1).
// Sat-range and value rows for outputs created at or above from are left
// for the fetcher to re-supply naturally as the replayed blocks' outputs
// are recreated; any not yet spent are simply overwritten on replay.
func (u *Updater) deleteHeightsFrom(w *store.WriteTx, from entry.Height) error {
	var toDelete []entry.InscriptionId
	var numbersToDelete []uint64

	if err := w.Reader().ForEachInscriptionEntry(func(id entry.InscriptionId, e entry.InscriptionEntry) error {
		if e.Height >= from {
			toDelete = append(toDelete, id)
			numbersToDelete = append(numbersToDelete, e.Number)
		}
		return nil
	}); err != nil {
		return err
	}

	for i, id := range toDelete {
		sp, ok, err := w.Reader().InscriptionSatpoint(id)
		if err != nil {
			return err
		}
		if ok {
			if err := w.RemoveInscriptionLocation(id, sp); err != nil {
				return err
			}
		}
		if err := w.DeleteInscriptionEntry(id); err != nil {
			return err
		}
		if err := w.DeleteInscriptionNumber(numbersToDelete[i]); err != nil {
			return err
		}
	}

	return w.DeleteBlockHashesFrom(from)
}
