package rpcclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testServer(t *testing.T, handler func(method string, params []json.RawMessage) (interface{}, *RPCError)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		result, rpcErr := handler(req.Method, req.Params)

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = map[string]interface{}{"code": rpcErr.Code, "message": rpcErr.Message}
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBlockCount(t *testing.T) {
	srv := testServer(t, func(method string, params []json.RawMessage) (interface{}, *RPCError) {
		if method != "getblockcount" {
			t.Fatalf("unexpected method %q", method)
		}
		return 840000, nil
	})

	c := New(Config{URL: srv.URL})
	height, err := c.BlockCount(context.Background())
	if err != nil {
		t.Fatalf("BlockCount: %v", err)
	}
	if height != 840000 {
		t.Errorf("BlockCount = %d, want 840000", height)
	}
}

func TestGetBlockHash(t *testing.T) {
	want := "000000000000000000024bead8df69990852c202db0e0097c1a12ea637d7e96"
	srv := testServer(t, func(method string, params []json.RawMessage) (interface{}, *RPCError) {
		return want, nil
	})

	c := New(Config{URL: srv.URL})
	hash, err := c.GetBlockHash(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetBlockHash: %v", err)
	}
	if hash.String() != want {
		t.Errorf("GetBlockHash = %s, want %s", hash, want)
	}
}

func TestCallNotFoundMapsToErrNotFound(t *testing.T) {
	srv := testServer(t, func(method string, params []json.RawMessage) (interface{}, *RPCError) {
		return nil, &RPCError{Code: -5, Message: "No such transaction"}
	})

	c := New(Config{URL: srv.URL})
	_, err := c.GetRawTransactionInfo(context.Background(), [32]byte{})
	if err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCallOtherRPCErrorPropagates(t *testing.T) {
	srv := testServer(t, func(method string, params []json.RawMessage) (interface{}, *RPCError) {
		return nil, &RPCError{Code: -1, Message: "parse error"}
	})

	c := New(Config{URL: srv.URL})
	_, err := c.BlockCount(context.Background())
	rpcErr, ok := err.(*RPCError)
	if !ok {
		t.Fatalf("err = %v (%T), want *RPCError", err, err)
	}
	if rpcErr.Code != -1 {
		t.Errorf("RPCError.Code = %d, want -1", rpcErr.Code)
	}
}

func TestWithRetryStopsOnSemanticError(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), 5, func() error {
		calls++
		return ErrNotFound
	})
	if err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1 (no retry on semantic not-found)", calls)
	}
}

func TestWithRetryRetriesTransientErrors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	calls := 0
	err := WithRetry(ctx, 0, func() error {
		calls++
		return context.DeadlineExceeded
	})
	if err == nil {
		t.Error("expected an error once the context deadline is exceeded")
	}
	if calls == 0 {
		t.Error("fn was never called")
	}
}

func TestBackoffSchedule(t *testing.T) {
	if got := backoff(0); got != 10*time.Second {
		t.Errorf("backoff(0) = %v, want 10s", got)
	}
	if got := backoff(1); got != 20*time.Second {
		t.Errorf("backoff(1) = %v, want 20s", got)
	}
	if got := backoff(10); got != 10*time.Minute {
		t.Errorf("backoff(10) = %v, want capped at 10m", got)
	}
}
