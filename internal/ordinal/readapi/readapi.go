// Package readapi exposes snapshot reads over an index: one Reader
// wrapping a *store.Store's read-transaction opener, following the
// teacher's internal/rpc/handlers.go GetX/ListX naming convention. It
// has no HTTP transport of its own; a server would wrap it directly.
package readapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/ordindexer/ordindexer/internal/ordinal/entry"
	"github.com/ordindexer/ordindexer/internal/ordinal/inscription"
	"github.com/ordindexer/ordindexer/internal/ordinal/satrange"
	"github.com/ordindexer/ordindexer/internal/ordinal/store"
	"github.com/ordindexer/ordindexer/internal/rpcclient"
)

// Reader serves snapshot reads over an index. Client is optional: without
// one, GetInscriptionByID still returns an inscription's metadata, just
// not its reconstructed content.
type Reader struct {
	store  *store.Store
	client *rpcclient.Client
}

// New constructs a Reader. client may be nil.
func New(s *store.Store, client *rpcclient.Client) *Reader {
	return &Reader{store: s, client: client}
}

// Inscription is an inscription's full content, reconstructed live from
// its revealing transaction rather than duplicated into the index, the
// same way the tracker itself inspects a reveal at mint time.
type Inscription struct {
	Id       entry.InscriptionId
	Entry    entry.InscriptionEntry
	Satpoint entry.SatPoint

	ContentType     []byte
	ContentEncoding []byte
	Metadata        []byte
	Metaprotocol    []byte
	Parent          []byte
	Delegate        []byte
	Body            []byte
}

// ListResult answers List: whether the outpoint has since been spent,
// and the sat ranges it held while it was the index's responsibility to
// track (empty once spent, since TakeOutpointSatRanges removes the row).
// A nil *ListResult (with a nil error) means a configured node client
// reported the outpoint's transaction as not found; without a client, an
// outpoint that was never seen is reported as Spent.
type ListResult struct {
	Spent  bool
	Ranges []entry.SatRange
}

// BlockCount returns the number of blocks currently indexed.
func (r *Reader) BlockCount() (entry.Height, error) {
	var h entry.Height
	err := r.store.View(func(tx *store.ReadTx) error {
		h = tx.BlockCount()
		return nil
	})
	return h, err
}

// Height returns the highest indexed height, or false if nothing is
// indexed yet.
func (r *Reader) Height() (entry.Height, bool, error) {
	count, err := r.BlockCount()
	if err != nil || count == 0 {
		return 0, false, err
	}
	return count - 1, true, nil
}

// GetInscriptionEntry returns an inscription's immutable mint-time
// metadata.
func (r *Reader) GetInscriptionEntry(id entry.InscriptionId) (*entry.InscriptionEntry, bool, error) {
	var e entry.InscriptionEntry
	var ok bool
	err := r.store.View(func(tx *store.ReadTx) error {
		var err error
		e, ok, err = tx.InscriptionEntry(id)
		return err
	})
	if err != nil || !ok {
		return nil, ok, err
	}
	return &e, true, nil
}

// GetInscriptionSatpointByID returns an inscription's current location.
func (r *Reader) GetInscriptionSatpointByID(id entry.InscriptionId) (entry.SatPoint, bool, error) {
	var sp entry.SatPoint
	var ok bool
	err := r.store.View(func(tx *store.ReadTx) error {
		var err error
		sp, ok, err = tx.InscriptionSatpoint(id)
		return err
	})
	return sp, ok, err
}

// GetInscriptionByID returns an inscription's metadata, current
// satpoint, and — when a node client is configured — its content,
// reconstructed by re-fetching the revealing transaction and re-running
// envelope parsing against input 0's witness, exactly the input the
// tracker itself inspects (see inscription.FindEnvelope's caller in
// flotsam.go). Without a client, only metadata and satpoint are filled
// in.
func (r *Reader) GetInscriptionByID(ctx context.Context, id entry.InscriptionId) (*Inscription, bool, error) {
	e, ok, err := r.GetInscriptionEntry(id)
	if err != nil || !ok {
		return nil, ok, err
	}
	sp, _, err := r.GetInscriptionSatpointByID(id)
	if err != nil {
		return nil, false, err
	}

	out := &Inscription{Id: id, Entry: *e, Satpoint: sp}
	if r.client == nil {
		return out, true, nil
	}

	tx, err := r.client.GetRawTransaction(ctx, id.TxID)
	if err != nil {
		return out, true, fmt.Errorf("readapi: fetch revealing transaction %s: %w", id.TxID, err)
	}
	if len(tx.TxIn) == 0 {
		return out, true, nil
	}
	env, ok := inscription.FindEnvelope(tx.TxIn[0].Witness)
	if !ok {
		return out, true, nil
	}
	out.ContentType = env.ContentType
	out.ContentEncoding = env.ContentEncoding
	out.Metadata = env.Metadata
	out.Metaprotocol = env.Metaprotocol
	out.Parent = env.Parent
	out.Delegate = env.Delegate
	out.Body = env.Body
	return out, true, nil
}

// GetLatestInscriptions lists up to n inscriptions in reverse-chronological
// (descending number) order, covering numbers [0, from] (from defaults to
// the highest number present). prev, if not nil, continues the listing
// toward older numbers (from-n); next, if not nil, jumps back toward
// newer ones (from+n, capped at the highest number) — so at the newest
// page, next is nil and prev is the one direction there is to page in.
// Mirrors the original indexer's get_latest_inscriptions_with_prev_and_next.
func (r *Reader) GetLatestInscriptions(n int, from *uint64) (ids []entry.InscriptionId, prev, next *uint64, err error) {
	if n <= 0 {
		n = 100
	}

	err = r.store.View(func(tx *store.ReadTx) error {
		latest, ok, err := tx.HighestInscriptionNumber()
		if err != nil || !ok {
			return err
		}

		start := latest
		if from != nil {
			start = *from
		}

		if start >= uint64(n) {
			candidate := start - uint64(n)
			if _, ok, err := tx.InscriptionByNumber(candidate); err != nil {
				return err
			} else if ok {
				p := candidate
				prev = &p
			}
		}

		if start < latest {
			nextVal := start + uint64(n)
			if nextVal > latest || nextVal < start {
				nextVal = latest
			}
			next = &nextVal
		}

		return tx.ForEachInscriptionNumberDesc(&start, func(_ uint64, id entry.InscriptionId) (bool, error) {
			if len(ids) >= n {
				return false, nil
			}
			ids = append(ids, id)
			return true, nil
		})
	})
	return ids, prev, next, err
}

// GetInscriptionsOnOutput lists every inscription currently located on
// outpoint, ordered by offset.
func (r *Reader) GetInscriptionsOnOutput(op entry.OutPoint) ([]entry.InscriptionId, error) {
	var ids []entry.InscriptionId
	err := r.store.View(func(tx *store.ReadTx) error {
		rows, err := tx.InscriptionsOnOutpoint(op)
		if err != nil {
			return err
		}
		for _, row := range rows {
			ids = append(ids, row.ID)
		}
		return nil
	})
	return ids, err
}

// List reports the sat ranges an outpoint held, and whether it has since
// been spent (a spent outpoint's row no longer exists, since the
// updater's TakeOutpointSatRanges removes it when the input is consumed).
// OUTPOINT_TO_SAT_RANGES alone can't tell a spent outpoint from one that
// was never indexed at all — both are simply absent — so a miss is
// resolved against the node when a client is configured: if the
// outpoint's own transaction doesn't exist on chain, List returns a nil
// result (None) rather than reporting it Spent. Without a client, a miss
// is reported as Spent, the same as the index's own treatment of a
// now-removed row. Requires the sat index.
func (r *Reader) List(ctx context.Context, op entry.OutPoint) (*ListResult, error) {
	if !r.store.IndexSats() {
		return nil, fmt.Errorf("readapi: List requires the sat index")
	}
	var ranges []entry.SatRange
	var ok bool
	err := r.store.View(func(tx *store.ReadTx) error {
		var err error
		ranges, ok, err = tx.OutpointSatRanges(op)
		return err
	})
	if err != nil {
		return nil, err
	}
	if ok {
		return &ListResult{Ranges: ranges}, nil
	}

	if r.client != nil {
		if _, err := r.client.GetRawTransactionInfo(ctx, op.Hash); errors.Is(err, rpcclient.ErrNotFound) {
			return nil, nil
		} else if err != nil {
			return nil, fmt.Errorf("readapi: look up outpoint transaction %s: %w", op.Hash, err)
		}
	}
	return &ListResult{Spent: true}, nil
}

var errFound = fmt.Errorf("readapi: sat found")

// Find locates a sat by scanning every OUTPOINT_TO_SAT_RANGES row for the
// one containing it. O(N) in the number of unspent outputs; a diagnostic
// operation, not a hot path. Requires the sat index.
func (r *Reader) Find(sat entry.Sat) (*entry.SatPoint, bool, error) {
	if !r.store.IndexSats() {
		return nil, false, fmt.Errorf("readapi: Find requires the sat index")
	}

	var found *entry.SatPoint
	err := r.store.View(func(tx *store.ReadTx) error {
		err := tx.ForEachOutpointSatRanges(func(op entry.OutPoint, ranges []entry.SatRange) error {
			offset, ok := satrange.OffsetOfSat(ranges, sat)
			if !ok {
				return nil
			}
			sp := entry.SatPoint{OutPoint: op, Offset: offset}
			found = &sp
			return errFound
		})
		if err == errFound {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return found, found != nil, nil
}

// RareSatSatpoints lists every sat this index has recorded a specific
// satpoint for — every inscribed sat, per SAT_TO_SATPOINT's population
// in applyFlotsam (flotsam.go); the table records an inscribed sat's
// location at mint time and is not kept current as the inscription
// later moves. Requires the sat index.
func (r *Reader) RareSatSatpoints() ([]entry.SatPoint, error) {
	if !r.store.IndexSats() {
		return nil, fmt.Errorf("readapi: RareSatSatpoints requires the sat index")
	}
	var out []entry.SatPoint
	err := r.store.View(func(tx *store.ReadTx) error {
		return tx.ForEachSatSatpoint(func(_ entry.Sat, sp entry.SatPoint) error {
			out = append(out, sp)
			return nil
		})
	})
	return out, err
}

// RareSatSatpoint looks up a single sat's recorded satpoint.
func (r *Reader) RareSatSatpoint(sat entry.Sat) (*entry.SatPoint, bool, error) {
	if !r.store.IndexSats() {
		return nil, false, fmt.Errorf("readapi: RareSatSatpoint requires the sat index")
	}
	var sp entry.SatPoint
	var ok bool
	err := r.store.View(func(tx *store.ReadTx) error {
		var err error
		sp, ok, err = tx.SatSatpoint(sat)
		return err
	})
	if err != nil || !ok {
		return nil, ok, err
	}
	return &sp, true, nil
}

// Info returns a diagnostic snapshot of the index's on-disk shape.
func (r *Reader) Info() (*store.IndexInfo, error) {
	return r.store.Info()
}
