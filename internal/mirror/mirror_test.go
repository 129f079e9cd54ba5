package mirror

import (
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"

	"github.com/ordindexer/ordindexer/internal/ordinal/entry"
)

func hashFromByte(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	return h
}

func openTestSink(t *testing.T) *Sink {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "mirror.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesSchema(t *testing.T) {
	s := openTestSink(t)

	var tableName string
	err := s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='inscription_locations'`).Scan(&tableName)
	if err != nil {
		t.Errorf("inscription_locations table not found: %v", err)
	}
}

func TestApplyAndLookup(t *testing.T) {
	s := openTestSink(t)

	id := entry.InscriptionId{TxID: hashFromByte(1), Index: 0}
	sp := entry.SatPoint{OutPoint: entry.OutPoint{Hash: hashFromByte(2), Index: 1}, Offset: 500}

	move := Move{InscriptionID: id, Satpoint: sp, Address: "bc1qtest"}
	if err := s.Apply([]Move{move}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	loc, ok, err := s.Lookup(id.String())
	if err != nil || !ok {
		t.Fatalf("Lookup: (%v, %v, %v)", loc, ok, err)
	}
	if loc.SatpointTxid != sp.OutPoint.Hash.String() {
		t.Errorf("SatpointTxid = %s, want %s", loc.SatpointTxid, sp.OutPoint.Hash.String())
	}
	if loc.SatpointVout != sp.OutPoint.Index {
		t.Errorf("SatpointVout = %d, want %d", loc.SatpointVout, sp.OutPoint.Index)
	}
	if loc.SatpointOffset != sp.Offset {
		t.Errorf("SatpointOffset = %d, want %d", loc.SatpointOffset, sp.Offset)
	}
	if loc.Address != "bc1qtest" {
		t.Errorf("Address = %s, want bc1qtest", loc.Address)
	}
}

func TestApplyUpsertsOnReplay(t *testing.T) {
	s := openTestSink(t)

	id := entry.InscriptionId{TxID: hashFromByte(3), Index: 0}
	first := Move{InscriptionID: id, Satpoint: entry.SatPoint{OutPoint: entry.OutPoint{Hash: hashFromByte(4)}, Offset: 0}}
	second := Move{InscriptionID: id, Satpoint: entry.SatPoint{OutPoint: entry.OutPoint{Hash: hashFromByte(5)}, Offset: 10}}

	if err := s.Apply([]Move{first}); err != nil {
		t.Fatalf("Apply first: %v", err)
	}
	// A replayed commit window (e.g. after a restart mid-window) upserts
	// rather than erroring on the existing primary key.
	if err := s.Apply([]Move{second}); err != nil {
		t.Fatalf("Apply second: %v", err)
	}

	loc, ok, err := s.Lookup(id.String())
	if err != nil || !ok {
		t.Fatalf("Lookup: (%v, %v, %v)", loc, ok, err)
	}
	if loc.SatpointTxid != hashFromByte(5).String() {
		t.Errorf("SatpointTxid = %s, want the second move's hash", loc.SatpointTxid)
	}
}

func TestLookupMissing(t *testing.T) {
	s := openTestSink(t)

	id := entry.InscriptionId{TxID: hashFromByte(9), Index: 0}
	if _, ok, err := s.Lookup(id.String()); err != nil || ok {
		t.Errorf("Lookup(missing) = (_, %v, %v), want (false, nil)", ok, err)
	}
}

func TestApplyEmptyIsNoop(t *testing.T) {
	s := openTestSink(t)
	if err := s.Apply(nil); err != nil {
		t.Errorf("Apply(nil) error = %v", err)
	}
}

func TestAddressFromPkScript(t *testing.T) {
	addr, err := btcutil.DecodeAddress("bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("DecodeAddress: %v", err)
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		t.Fatalf("PayToAddrScript: %v", err)
	}

	got, ok := AddressFromPkScript(pkScript, &chaincfg.MainNetParams)
	if !ok {
		t.Fatal("AddressFromPkScript: ok = false, want true")
	}
	if got != addr.EncodeAddress() {
		t.Errorf("AddressFromPkScript = %s, want %s", got, addr.EncodeAddress())
	}
}

func TestAddressFromPkScriptOpReturn(t *testing.T) {
	script, err := txscript.NullDataScript([]byte("hello"))
	if err != nil {
		t.Fatalf("NullDataScript: %v", err)
	}
	if _, ok := AddressFromPkScript(script, &chaincfg.MainNetParams); ok {
		t.Error("AddressFromPkScript(OP_RETURN) ok = true, want false")
	}
}

func TestExpandPath(t *testing.T) {
	if got := expandPath("/absolute/path"); got != "/absolute/path" {
		t.Errorf("expandPath(absolute) = %s, want unchanged", got)
	}
}
