package store

import (
	"bytes"

	bolt "go.etcd.io/bbolt"

	"github.com/ordindexer/ordindexer/internal/ordinal/entry"
)

// ReadTx is a consistent snapshot over the index, independent of any
// concurrent writer. It never blocks and is never blocked.
type ReadTx struct {
	tx *bolt.Tx
}

// WriteTx is the single writer transaction. Mutations are only visible to
// readers, and durable, once the Store.Update call running it returns
// nil; any other exit path
// leaves the on-disk state untouched.
type WriteTx struct {
	tx *bolt.Tx
}

// View opens a read snapshot and runs fn against it.
func (s *Store) View(fn func(*ReadTx) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&ReadTx{tx: tx})
	})
}

// Update opens the single write transaction, runs fn, and commits on a
// nil return (or rolls back automatically on error/panic, per bbolt's
// Update contract).
func (s *Store) Update(fn func(*WriteTx) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&WriteTx{tx: tx})
	})
}

func (w *WriteTx) read() *ReadTx { return &ReadTx{tx: w.tx} }

// Reader exposes the read-side accessors (Get*, ForEach*) against this
// same in-flight write transaction, for callers (C4/C5) that only need
// to look rows up, not mutate them.
func (w *WriteTx) Reader() *ReadTx { return w.read() }

// ---- HEIGHT_TO_BLOCK_HASH ----

func (w *WriteTx) PutBlockHash(h entry.Height, hash [entry.BlockHashLength]byte) error {
	b := w.tx.Bucket(bucketHeightToBlockHash)
	return b.Put(h.Store(), hash[:])
}

func (w *WriteTx) DeleteBlockHash(h entry.Height) error {
	return w.tx.Bucket(bucketHeightToBlockHash).Delete(h.Store())
}

func (r *ReadTx) BlockHash(h entry.Height) ([entry.BlockHashLength]byte, bool) {
	var out [entry.BlockHashLength]byte
	v := r.tx.Bucket(bucketHeightToBlockHash).Get(h.Store())
	if v == nil {
		return out, false
	}
	copy(out[:], v)
	return out, true
}

// BlockCount returns one past the highest indexed height, i.e. the
// height the indexer should fetch next.
func (r *ReadTx) BlockCount() entry.Height {
	c := r.tx.Bucket(bucketHeightToBlockHash).Cursor()
	k, _ := c.Last()
	if k == nil {
		return 0
	}
	h, err := entry.LoadHeight(k)
	if err != nil {
		return 0
	}
	return h + 1
}

// DeleteBlockHashesFrom removes every HEIGHT_TO_BLOCK_HASH row with
// height >= from, used by reorg recovery. bbolt's Cursor.Delete keeps
// the cursor positioned on the following key, so a single forward walk
// is enough; we collect keys first to avoid relying on that for
// portability across bbolt releases.
func (w *WriteTx) DeleteBlockHashesFrom(from entry.Height) error {
	b := w.tx.Bucket(bucketHeightToBlockHash)
	c := b.Cursor()
	start := from.Store()

	var keys [][]byte
	for k, _ := c.Seek(start); k != nil; k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// ---- OUTPOINT_TO_VALUE ----

func (w *WriteTx) PutOutpointValue(op entry.OutPoint, value uint64) error {
	return w.tx.Bucket(bucketOutpointToValue).Put(op.Store(), entry.Height(value).Store())
}

func (r *ReadTx) OutpointValue(op entry.OutPoint) (uint64, bool, error) {
	v := r.tx.Bucket(bucketOutpointToValue).Get(op.Store())
	if v == nil {
		return 0, false, nil
	}
	h, err := entry.LoadHeight(v)
	return uint64(h), true, err
}

// TakeOutpointValue reads and deletes an OUTPOINT_TO_VALUE row, matching
// the lifecycle rule that outpoint rows are removed the moment they are
// spent.
func (w *WriteTx) TakeOutpointValue(op entry.OutPoint) (uint64, bool, error) {
	b := w.tx.Bucket(bucketOutpointToValue)
	k := op.Store()
	v := b.Get(k)
	if v == nil {
		return 0, false, nil
	}
	h, err := entry.LoadHeight(v)
	if err != nil {
		return 0, false, err
	}
	if err := b.Delete(k); err != nil {
		return 0, false, err
	}
	return uint64(h), true, nil
}

// ---- OUTPOINT_TO_SAT_RANGES ----

func (w *WriteTx) PutOutpointSatRanges(op entry.OutPoint, ranges []entry.SatRange) error {
	return w.tx.Bucket(bucketOutpointToSatRanges).Put(op.Store(), entry.EncodeSatRanges(ranges))
}

func (r *ReadTx) OutpointSatRanges(op entry.OutPoint) ([]entry.SatRange, bool, error) {
	v := r.tx.Bucket(bucketOutpointToSatRanges).Get(op.Store())
	if v == nil {
		return nil, false, nil
	}
	ranges, err := entry.DecodeSatRanges(v)
	return ranges, true, err
}

// TakeOutpointSatRanges reads and deletes an OUTPOINT_TO_SAT_RANGES row.
func (w *WriteTx) TakeOutpointSatRanges(op entry.OutPoint) ([]entry.SatRange, bool, error) {
	b := w.tx.Bucket(bucketOutpointToSatRanges)
	k := op.Store()
	v := b.Get(k)
	if v == nil {
		return nil, false, nil
	}
	ranges, err := entry.DecodeSatRanges(v)
	if err != nil {
		return nil, false, err
	}
	if err := b.Delete(k); err != nil {
		return nil, false, err
	}
	return ranges, true, nil
}

// AppendNullOutpointRanges adds ranges to the lost-sats bucket, which
// accumulates monotonically and is never cleared.
func (w *WriteTx) AppendNullOutpointRanges(ranges []entry.SatRange) error {
	existing, _, err := w.read().OutpointSatRanges(entry.NullOutPoint)
	if err != nil {
		return err
	}
	return w.PutOutpointSatRanges(entry.NullOutPoint, append(existing, ranges...))
}

// ForEachOutpointSatRanges walks every row of OUTPOINT_TO_SAT_RANGES in
// key order, for C7's diagnostic Find scan.
func (r *ReadTx) ForEachOutpointSatRanges(fn func(entry.OutPoint, []entry.SatRange) error) error {
	b := r.tx.Bucket(bucketOutpointToSatRanges)
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		op, err := entry.LoadOutPoint(k)
		if err != nil {
			return err
		}
		ranges, err := entry.DecodeSatRanges(v)
		if err != nil {
			return err
		}
		if err := fn(op, ranges); err != nil {
			return err
		}
	}
	return nil
}

// ---- INSCRIPTION_ID_TO_INSCRIPTION_ENTRY ----

func (w *WriteTx) PutInscriptionEntry(id entry.InscriptionId, e entry.InscriptionEntry) error {
	return w.tx.Bucket(bucketInscriptionIDToEntry).Put(id.Store(), e.Store())
}

func (r *ReadTx) InscriptionEntry(id entry.InscriptionId) (entry.InscriptionEntry, bool, error) {
	v := r.tx.Bucket(bucketInscriptionIDToEntry).Get(id.Store())
	if v == nil {
		return entry.InscriptionEntry{}, false, nil
	}
	e, err := entry.LoadInscriptionEntry(v)
	return e, true, err
}

func (w *WriteTx) DeleteInscriptionEntry(id entry.InscriptionId) error {
	return w.tx.Bucket(bucketInscriptionIDToEntry).Delete(id.Store())
}

// ForEachInscriptionEntry walks every row of
// INSCRIPTION_ID_TO_INSCRIPTION_ENTRY in key order, for reorg recovery's
// height-filtered rollback scan.
func (r *ReadTx) ForEachInscriptionEntry(fn func(entry.InscriptionId, entry.InscriptionEntry) error) error {
	b := r.tx.Bucket(bucketInscriptionIDToEntry)
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		id, err := entry.LoadInscriptionId(k)
		if err != nil {
			return err
		}
		e, err := entry.LoadInscriptionEntry(v)
		if err != nil {
			return err
		}
		if err := fn(id, e); err != nil {
			return err
		}
	}
	return nil
}

// ---- INSCRIPTION_ID_TO_SATPOINT / SATPOINT_TO_INSCRIPTION_ID ----

func (w *WriteTx) PutInscriptionSatpoint(id entry.InscriptionId, sp entry.SatPoint) error {
	if err := w.tx.Bucket(bucketInscriptionIDToSatpoint).Put(id.Store(), sp.Store()); err != nil {
		return err
	}
	return w.tx.Bucket(bucketSatpointToInscriptionID).Put(sp.Store(), id.Store())
}

func (r *ReadTx) InscriptionSatpoint(id entry.InscriptionId) (entry.SatPoint, bool, error) {
	v := r.tx.Bucket(bucketInscriptionIDToSatpoint).Get(id.Store())
	if v == nil {
		return entry.SatPoint{}, false, nil
	}
	sp, err := entry.LoadSatPoint(v)
	return sp, true, err
}

func (r *ReadTx) SatpointInscription(sp entry.SatPoint) (entry.InscriptionId, bool, error) {
	v := r.tx.Bucket(bucketSatpointToInscriptionID).Get(sp.Store())
	if v == nil {
		return entry.InscriptionId{}, false, nil
	}
	id, err := entry.LoadInscriptionId(v)
	return id, true, err
}

// RemoveInscriptionLocation deletes both halves of the inscription ↔
// satpoint mapping for the given old location, maintaining invariant I2.
func (w *WriteTx) RemoveInscriptionLocation(id entry.InscriptionId, sp entry.SatPoint) error {
	if err := w.tx.Bucket(bucketInscriptionIDToSatpoint).Delete(id.Store()); err != nil {
		return err
	}
	return w.tx.Bucket(bucketSatpointToInscriptionID).Delete(sp.Store())
}

// InscriptionsOnOutpoint range-scans SATPOINT_TO_INSCRIPTION_ID for every
// satpoint whose outpoint matches op, i.e. the key range
// [(op,0), (op,MAX)]. Keys are ordered big-endian, so this is a single
// prefix scan.
func (r *ReadTx) InscriptionsOnOutpoint(op entry.OutPoint) ([]struct {
	Satpoint entry.SatPoint
	ID       entry.InscriptionId
}, error) {
	prefix := op.Store()
	b := r.tx.Bucket(bucketSatpointToInscriptionID)
	c := b.Cursor()

	var out []struct {
		Satpoint entry.SatPoint
		ID       entry.InscriptionId
	}
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		sp, err := entry.LoadSatPoint(k)
		if err != nil {
			return nil, err
		}
		id, err := entry.LoadInscriptionId(v)
		if err != nil {
			return nil, err
		}
		out = append(out, struct {
			Satpoint entry.SatPoint
			ID       entry.InscriptionId
		}{sp, id})
	}
	return out, nil
}

// ---- INSCRIPTION_NUMBER_TO_INSCRIPTION_ID ----

func (w *WriteTx) PutInscriptionNumber(number uint64, id entry.InscriptionId) error {
	return w.tx.Bucket(bucketInscriptionNumberToID).Put(entry.Height(number).Store(), id.Store())
}

func (r *ReadTx) InscriptionByNumber(number uint64) (entry.InscriptionId, bool, error) {
	v := r.tx.Bucket(bucketInscriptionNumberToID).Get(entry.Height(number).Store())
	if v == nil {
		return entry.InscriptionId{}, false, nil
	}
	id, err := entry.LoadInscriptionId(v)
	return id, true, err
}

// NextInscriptionNumber re-derives the next monotonic number from the
// table's max key, per the design note that the counter is never stored
// directly.
func (r *ReadTx) NextInscriptionNumber() (uint64, error) {
	c := r.tx.Bucket(bucketInscriptionNumberToID).Cursor()
	k, _ := c.Last()
	if k == nil {
		return 0, nil
	}
	h, err := entry.LoadHeight(k)
	if err != nil {
		return 0, err
	}
	return uint64(h) + 1, nil
}

// DeleteInscriptionNumber removes a single
// INSCRIPTION_NUMBER_TO_INSCRIPTION_ID row; used by reorg recovery,
// driven one inscription at a time from the updater, which already has
// each id's InscriptionEntry in hand.
func (w *WriteTx) DeleteInscriptionNumber(number uint64) error {
	return w.tx.Bucket(bucketInscriptionNumberToID).Delete(entry.Height(number).Store())
}

// HighestInscriptionNumber returns the greatest key present in
// INSCRIPTION_NUMBER_TO_INSCRIPTION_ID, or ok=false if the table is empty.
func (r *ReadTx) HighestInscriptionNumber() (number uint64, ok bool, err error) {
	c := r.tx.Bucket(bucketInscriptionNumberToID).Cursor()
	k, _ := c.Last()
	if k == nil {
		return 0, false, nil
	}
	h, err := entry.LoadHeight(k)
	if err != nil {
		return 0, false, err
	}
	return uint64(h), true, nil
}

// ForEachInscriptionNumberDesc walks INSCRIPTION_NUMBER_TO_INSCRIPTION_ID
// in descending number order, starting at from inclusive (or at the
// highest number present if from is nil), calling fn for each row until
// it returns cont=false or the table is exhausted. Backs the read API's
// reverse-chronological pagination, matching the range(..=from).rev()
// query shape the original indexer uses for the same listing.
func (r *ReadTx) ForEachInscriptionNumberDesc(from *uint64, fn func(number uint64, id entry.InscriptionId) (cont bool, err error)) error {
	c := r.tx.Bucket(bucketInscriptionNumberToID).Cursor()

	var k, v []byte
	if from == nil {
		k, v = c.Last()
	} else {
		seekKey := entry.Height(*from).Store()
		k, v = c.Seek(seekKey)
		if k == nil {
			// No key >= from: every key is at or below it.
			k, v = c.Last()
		} else if !bytes.Equal(k, seekKey) {
			// Seek landed on the next key above from; back up once.
			k, v = c.Prev()
		}
	}

	for k != nil {
		h, err := entry.LoadHeight(k)
		if err != nil {
			return err
		}
		id, err := entry.LoadInscriptionId(v)
		if err != nil {
			return err
		}
		cont, err := fn(uint64(h), id)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
		k, v = c.Prev()
	}
	return nil
}

// ---- SAT_TO_INSCRIPTION_ID / SAT_TO_SATPOINT ----

func (w *WriteTx) PutSatInscription(sat entry.Sat, id entry.InscriptionId) error {
	return w.tx.Bucket(bucketSatToInscriptionID).Put(entry.Height(sat).Store(), id.Store())
}

func (r *ReadTx) SatInscription(sat entry.Sat) (entry.InscriptionId, bool, error) {
	v := r.tx.Bucket(bucketSatToInscriptionID).Get(entry.Height(sat).Store())
	if v == nil {
		return entry.InscriptionId{}, false, nil
	}
	id, err := entry.LoadInscriptionId(v)
	return id, true, err
}

func (w *WriteTx) PutSatSatpoint(sat entry.Sat, sp entry.SatPoint) error {
	return w.tx.Bucket(bucketSatToSatpoint).Put(entry.Height(sat).Store(), sp.Store())
}

func (r *ReadTx) SatSatpoint(sat entry.Sat) (entry.SatPoint, bool, error) {
	v := r.tx.Bucket(bucketSatToSatpoint).Get(entry.Height(sat).Store())
	if v == nil {
		return entry.SatPoint{}, false, nil
	}
	sp, err := entry.LoadSatPoint(v)
	return sp, true, err
}

func (r *ReadTx) ForEachSatSatpoint(fn func(entry.Sat, entry.SatPoint) error) error {
	b := r.tx.Bucket(bucketSatToSatpoint)
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		h, err := entry.LoadHeight(k)
		if err != nil {
			return err
		}
		sp, err := entry.LoadSatPoint(v)
		if err != nil {
			return err
		}
		if err := fn(entry.Sat(h), sp); err != nil {
			return err
		}
	}
	return nil
}

// ---- STATISTIC_TO_COUNT ----

func (r *ReadTx) Statistic(stat Statistic) (uint64, error) {
	v, _, err := getStatistic(r.tx.Bucket(bucketStatisticToCount), stat)
	return v, err
}

func (w *WriteTx) SetStatistic(stat Statistic, count uint64) error {
	return putStatistic(w.tx.Bucket(bucketStatisticToCount), stat, count)
}

func (w *WriteTx) IncrStatistic(stat Statistic, delta uint64) error {
	b := w.tx.Bucket(bucketStatisticToCount)
	cur, _, err := getStatistic(b, stat)
	if err != nil {
		return err
	}
	return putStatistic(b, stat, cur+delta)
}

func (w *WriteTx) DeleteStatistic(stat Statistic) error {
	return w.tx.Bucket(bucketStatisticToCount).Delete(entry.Height(stat).Store())
}

// ---- WRITE_TX_START_TIMESTAMPS ----

func (w *WriteTx) PutWriteTxStart(height entry.Height, microsSinceEpoch uint64) error {
	// Stored as a 128-bit big-endian value per the data model; the high
	// 64 bits are unused at current timestamp magnitudes but reserved so
	// the table's value width matches the documented u128.
	b := make([]byte, 16)
	copy(b[8:], entry.Height(microsSinceEpoch).Store())
	return w.tx.Bucket(bucketWriteTxStartTimestamps).Put(height.Store(), b)
}

func (r *ReadTx) ForEachWriteTxStart(fn func(entry.Height, uint64) error) error {
	b := r.tx.Bucket(bucketWriteTxStartTimestamps)
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		h, err := entry.LoadHeight(k)
		if err != nil {
			return err
		}
		micros, err := entry.LoadHeight(v[8:])
		if err != nil {
			return err
		}
		if err := fn(h, uint64(micros)); err != nil {
			return err
		}
	}
	return nil
}
