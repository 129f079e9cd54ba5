package readapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/ordindexer/ordindexer/internal/ordinal/entry"
	"github.com/ordindexer/ordindexer/internal/ordinal/store"
	"github.com/ordindexer/ordindexer/internal/rpcclient"
)

func hashFromByte(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	return h
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.bolt")
	s, err := store.Open(store.Config{Path: path, IndexSats: true})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBlockCountAndHeight(t *testing.T) {
	s := openTestStore(t)
	r := New(s, nil)

	if h, ok, err := r.Height(); err != nil || ok {
		t.Fatalf("Height on empty index = (%d, %v, %v), want (_, false, nil)", h, ok, err)
	}

	if err := s.Update(func(w *store.WriteTx) error {
		for i := entry.Height(0); i < 3; i++ {
			var hash [entry.BlockHashLength]byte
			hash[0] = byte(i)
			if err := w.PutBlockHash(i, hash); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	count, err := r.BlockCount()
	if err != nil || count != 3 {
		t.Fatalf("BlockCount = (%d, %v), want (3, nil)", count, err)
	}
	height, ok, err := r.Height()
	if err != nil || !ok || height != 2 {
		t.Fatalf("Height = (%d, %v, %v), want (2, true, nil)", height, ok, err)
	}
}

func TestGetInscriptionEntryAndSatpoint(t *testing.T) {
	s := openTestStore(t)
	r := New(s, nil)

	id := entry.InscriptionId{TxID: hashFromByte(1), Index: 0}
	entryRow := entry.InscriptionEntry{Fee: 100, Height: 5, Number: 0, Sat: 42, HasSat: true, Timestamp: 9999}
	sp := entry.SatPoint{OutPoint: entry.OutPoint{Hash: hashFromByte(1), Index: 0}, Offset: 0}

	if err := s.Update(func(w *store.WriteTx) error {
		if err := w.PutInscriptionEntry(id, entryRow); err != nil {
			return err
		}
		if err := w.PutInscriptionNumber(0, id); err != nil {
			return err
		}
		return w.PutInscriptionSatpoint(id, sp)
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, ok, err := r.GetInscriptionEntry(id)
	if err != nil || !ok {
		t.Fatalf("GetInscriptionEntry: (%v, %v, %v)", got, ok, err)
	}
	if *got != entryRow {
		t.Errorf("GetInscriptionEntry = %+v, want %+v", *got, entryRow)
	}

	gotSp, ok, err := r.GetInscriptionSatpointByID(id)
	if err != nil || !ok || gotSp != sp {
		t.Errorf("GetInscriptionSatpointByID = (%+v, %v, %v), want (%+v, true, nil)", gotSp, ok, err, sp)
	}

	missing := entry.InscriptionId{TxID: hashFromByte(99), Index: 0}
	if _, ok, err := r.GetInscriptionEntry(missing); err != nil || ok {
		t.Errorf("GetInscriptionEntry(missing) = (_, %v, %v), want (false, nil)", ok, err)
	}
}

func TestGetInscriptionByIDWithoutClient(t *testing.T) {
	s := openTestStore(t)
	r := New(s, nil)

	id := entry.InscriptionId{TxID: hashFromByte(3), Index: 0}
	entryRow := entry.InscriptionEntry{Fee: 0, Height: 0, Number: 0, HasSat: false}
	sp := entry.SatPoint{OutPoint: entry.OutPoint{Hash: hashFromByte(3), Index: 0}, Offset: 0}

	if err := s.Update(func(w *store.WriteTx) error {
		if err := w.PutInscriptionEntry(id, entryRow); err != nil {
			return err
		}
		return w.PutInscriptionSatpoint(id, sp)
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	ins, ok, err := r.GetInscriptionByID(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("GetInscriptionByID: (%v, %v, %v)", ins, ok, err)
	}
	if ins.Satpoint != sp {
		t.Errorf("Satpoint = %+v, want %+v", ins.Satpoint, sp)
	}
	if ins.Body != nil {
		t.Errorf("Body = %q, want nil (no client configured)", ins.Body)
	}
}

func TestGetLatestInscriptionsPagination(t *testing.T) {
	s := openTestStore(t)
	r := New(s, nil)

	const total = 5
	if err := s.Update(func(w *store.WriteTx) error {
		for i := uint64(0); i < total; i++ {
			id := entry.InscriptionId{TxID: hashFromByte(byte(i + 1)), Index: 0}
			if err := w.PutInscriptionEntry(id, entry.InscriptionEntry{Number: i}); err != nil {
				return err
			}
			if err := w.PutInscriptionNumber(i, id); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// from=nil starts at the highest number (4). prev walks toward older
	// numbers; next walks back toward newer ones — see
	// GetLatestInscriptions's doc comment for why the names run this way.
	ids, prev, next, err := r.GetLatestInscriptions(2, nil)
	if err != nil {
		t.Fatalf("GetLatestInscriptions: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("page 1 len = %d, want 2", len(ids))
	}
	if prev == nil || *prev != 2 {
		t.Fatalf("page 1 prev = %v, want 2", prev)
	}
	if next != nil {
		t.Errorf("page 1 next = %v, want nil (already at the newest)", *next)
	}

	ids2, prev2, next2, err := r.GetLatestInscriptions(2, prev)
	if err != nil {
		t.Fatalf("GetLatestInscriptions page 2: %v", err)
	}
	if len(ids2) != 2 {
		t.Fatalf("page 2 len = %d, want 2", len(ids2))
	}
	if prev2 == nil || *prev2 != 0 {
		t.Fatalf("page 2 prev = %v, want 0", prev2)
	}
	if next2 == nil || *next2 != 4 {
		t.Fatalf("page 2 next = %v, want 4", next2)
	}

	ids3, prev3, next3, err := r.GetLatestInscriptions(2, prev2)
	if err != nil {
		t.Fatalf("GetLatestInscriptions page 3: %v", err)
	}
	if len(ids3) != 1 {
		t.Fatalf("page 3 len = %d, want 1", len(ids3))
	}
	if prev3 != nil {
		t.Errorf("page 3 prev = %v, want nil (reached number 0)", *prev3)
	}
	if next3 == nil || *next3 != 2 {
		t.Fatalf("page 3 next = %v, want 2", next3)
	}

	if len(ids)+len(ids2)+len(ids3) != total {
		t.Errorf("total paginated = %d, want %d", len(ids)+len(ids2)+len(ids3), total)
	}
}

func TestListAndFind(t *testing.T) {
	s := openTestStore(t)
	r := New(s, nil)

	op := entry.OutPoint{Hash: hashFromByte(7), Index: 0}
	ranges := []entry.SatRange{{Start: 1000, End: 1100}}

	if err := s.Update(func(w *store.WriteTx) error {
		return w.PutOutpointSatRanges(op, ranges)
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	lr, err := r.List(context.Background(), op)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if lr.Spent {
		t.Error("List.Spent = true, want false")
	}
	if len(lr.Ranges) != 1 || lr.Ranges[0] != ranges[0] {
		t.Errorf("List.Ranges = %+v, want %+v", lr.Ranges, ranges)
	}

	sp, ok, err := r.Find(entry.Sat(1050))
	if err != nil || !ok {
		t.Fatalf("Find: (%v, %v, %v)", sp, ok, err)
	}
	want := entry.SatPoint{OutPoint: op, Offset: 50}
	if *sp != want {
		t.Errorf("Find = %+v, want %+v", *sp, want)
	}

	if _, ok, err := r.Find(entry.Sat(5000)); err != nil || ok {
		t.Errorf("Find(out of range) = (_, %v, %v), want (false, nil)", ok, err)
	}

	if err := s.Update(func(w *store.WriteTx) error {
		_, _, err := w.TakeOutpointSatRanges(op)
		return err
	}); err != nil {
		t.Fatalf("Update (spend): %v", err)
	}

	lr2, err := r.List(context.Background(), op)
	if err != nil {
		t.Fatalf("List after spend: %v", err)
	}
	if !lr2.Spent {
		t.Error("List.Spent = false after spending the outpoint, want true")
	}
}

// TestListUnknownOutpointWithoutClient pins down List's behavior for an
// outpoint this index has never recorded, when no node client is
// configured: there's no way to ask the chain whether it ever existed,
// so List falls back to reporting it Spent, same as a genuinely-spent
// outpoint.
func TestListUnknownOutpointWithoutClient(t *testing.T) {
	s := openTestStore(t)
	r := New(s, nil)

	op := entry.OutPoint{Hash: hashFromByte(42), Index: 0}
	lr, err := r.List(context.Background(), op)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !lr.Spent {
		t.Error("List.Spent = false for an outpoint absent from the index, want true (no client to disambiguate)")
	}
}

// TestListNoneWhenTransactionDoesNotExist confirms List distinguishes an
// outpoint whose transaction the node has never seen (None, a nil
// result) from one the index merely no longer tracks (Spent).
func TestListNoneWhenTransactionDoesNotExist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var rpcReq struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(req.Body).Decode(&rpcReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if rpcReq.Method != "getrawtransaction" {
			t.Fatalf("method = %q, want getrawtransaction", rpcReq.Method)
		}
		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      rpcReq.ID,
			"error":   map[string]interface{}{"code": -5, "message": "No such transaction"},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	s := openTestStore(t)
	client := rpcclient.New(rpcclient.Config{URL: srv.URL})
	r := New(s, client)

	op := entry.OutPoint{Hash: hashFromByte(42), Index: 0}
	lr, err := r.List(context.Background(), op)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if lr != nil {
		t.Errorf("List = %+v, want nil (None)", lr)
	}
}

func TestRareSatSatpoints(t *testing.T) {
	s := openTestStore(t)
	r := New(s, nil)

	sp := entry.SatPoint{OutPoint: entry.OutPoint{Hash: hashFromByte(9), Index: 0}, Offset: 0}
	if err := s.Update(func(w *store.WriteTx) error {
		return w.PutSatSatpoint(entry.Sat(0), sp)
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	all, err := r.RareSatSatpoints()
	if err != nil || len(all) != 1 || all[0] != sp {
		t.Fatalf("RareSatSatpoints = (%+v, %v), want ([%+v], nil)", all, err, sp)
	}

	got, ok, err := r.RareSatSatpoint(entry.Sat(0))
	if err != nil || !ok || *got != sp {
		t.Fatalf("RareSatSatpoint = (%+v, %v, %v), want (%+v, true, nil)", got, ok, err, sp)
	}

	if _, ok, err := r.RareSatSatpoint(entry.Sat(1)); err != nil || ok {
		t.Errorf("RareSatSatpoint(unset) = (_, %v, %v), want (false, nil)", ok, err)
	}
}

func TestInfo(t *testing.T) {
	s := openTestStore(t)
	r := New(s, nil)

	if err := s.Update(func(w *store.WriteTx) error {
		var hash [entry.BlockHashLength]byte
		return w.PutBlockHash(0, hash)
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	info, err := r.Info()
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if !info.IndexSats {
		t.Error("IndexSats = false, want true")
	}
	if info.FileSize <= 0 {
		t.Error("FileSize <= 0")
	}
	if got := info.TableCounts["HEIGHT_TO_BLOCK_HASH"]; got != 1 {
		t.Errorf("TableCounts[HEIGHT_TO_BLOCK_HASH] = %d, want 1", got)
	}
}
