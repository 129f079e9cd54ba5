package fetcher

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/ordindexer/ordindexer/internal/ordinal/entry"
	"github.com/ordindexer/ordindexer/internal/rpcclient"
)

// makeBlock builds a minimal, distinctly-hashing block for height h.
func makeBlock(h int32) *wire.MsgBlock {
	header := wire.BlockHeader{
		Version:   1,
		Timestamp: time.Unix(int64(h)*600, 0),
		Nonce:     uint32(h),
	}
	return wire.NewMsgBlock(&header)
}

func serializeBlock(t *testing.T, b *wire.MsgBlock) string {
	t.Helper()
	var buf bytes.Buffer
	if err := b.Serialize(&buf); err != nil {
		t.Fatalf("serialize block: %v", err)
	}
	return hex.EncodeToString(buf.Bytes())
}

// fakeNode serves getblockhash/getblock/getrawtransaction against an
// in-memory set of blocks and transactions, indexed by height and hash.
func fakeNode(t *testing.T, blocksByHeight map[int32]*wire.MsgBlock, txByHash map[chainhash.Hash]*wire.MsgTx) *httptest.Server {
	t.Helper()

	hashByHeight := make(map[int32]chainhash.Hash)
	for h, b := range blocksByHeight {
		hashByHeight[h] = b.Header.BlockHash()
	}
	blocksByHash := make(map[chainhash.Hash]*wire.MsgBlock)
	for h, b := range blocksByHeight {
		blocksByHash[hashByHeight[h]] = b
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		switch req.Method {
		case "getblockhash":
			var height int64
			json.Unmarshal(req.Params[0], &height)
			hash, ok := hashByHeight[int32(height)]
			if !ok {
				resp["error"] = map[string]interface{}{"code": -8, "message": "height out of range"}
				break
			}
			resp["result"] = hash.String()

		case "getblock":
			var hashStr string
			json.Unmarshal(req.Params[0], &hashStr)
			hash, err := chainhash.NewHashFromStr(hashStr)
			if err != nil {
				t.Fatalf("bad hash in request: %v", err)
			}
			block, ok := blocksByHash[*hash]
			if !ok {
				resp["error"] = map[string]interface{}{"code": -5, "message": "block not found"}
				break
			}
			resp["result"] = serializeBlock(t, block)

		case "getrawtransaction":
			var hashStr string
			json.Unmarshal(req.Params[0], &hashStr)
			hash, err := chainhash.NewHashFromStr(hashStr)
			if err != nil {
				t.Fatalf("bad hash in request: %v", err)
			}
			tx, ok := txByHash[*hash]
			if !ok {
				resp["error"] = map[string]interface{}{"code": -5, "message": "tx not found"}
				break
			}
			var buf bytes.Buffer
			if err := tx.Serialize(&buf); err != nil {
				t.Fatalf("serialize tx: %v", err)
			}
			resp["result"] = hex.EncodeToString(buf.Bytes())

		default:
			t.Fatalf("unexpected method %q", req.Method)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
}

func TestBlocksStreamsInOrder(t *testing.T) {
	const n = 10
	blocks := make(map[int32]*wire.MsgBlock, n)
	for h := int32(0); h < n; h++ {
		blocks[h] = makeBlock(h)
	}

	srv := fakeNode(t, blocks, nil)
	defer srv.Close()

	client := rpcclient.New(rpcclient.Config{URL: srv.URL})
	f := New(Config{Client: client, Concurrency: 4, Capacity: 4})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, errCh := f.Blocks(ctx, 0, n)

	var got []entry.Height
	for b := range out {
		got = append(got, b.Height)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Blocks error: %v", err)
		}
	default:
	}

	if len(got) != n {
		t.Fatalf("got %d blocks, want %d", len(got), n)
	}
	for i, h := range got {
		if h != entry.Height(i) {
			t.Fatalf("blocks out of order at index %d: height %d", i, h)
		}
	}
}

func TestMissingValuesPreservesRequestOrder(t *testing.T) {
	txs := make(map[chainhash.Hash]*wire.MsgTx)
	var hashes []chainhash.Hash
	for i := 0; i < 8; i++ {
		tx := wire.NewMsgTx(wire.TxVersion)
		tx.AddTxOut(wire.NewTxOut(int64(1000+i), nil))
		h := tx.TxHash()
		txs[h] = tx
		hashes = append(hashes, h)
	}

	srv := fakeNode(t, nil, txs)
	defer srv.Close()

	client := rpcclient.New(rpcclient.Config{URL: srv.URL})
	f := New(Config{Client: client, Concurrency: 4, Capacity: 4})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	requests := make(chan ValueRequest, len(hashes))
	for i, h := range hashes {
		requests <- ValueRequest{Outpoint: entry.OutPoint{Hash: h, Index: 0}, Seq: uint64(i)}
	}
	close(requests)

	out, errCh := f.MissingValues(ctx, requests)

	var got []ValueResult
	for r := range out {
		got = append(got, r)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("MissingValues error: %v", err)
		}
	default:
	}

	if len(got) != len(hashes) {
		t.Fatalf("got %d results, want %d", len(got), len(hashes))
	}
	for i, r := range got {
		if r.Seq != uint64(i) {
			t.Fatalf("result %d out of order: seq %d", i, r.Seq)
		}
		if r.Value != uint64(1000+i) {
			t.Fatalf("result %d value = %d, want %d", i, r.Value, 1000+i)
		}
	}
}
