package solana_test

import (
	"OracleMirror/internal/solana"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testKey(b byte) solana.Pubkey {
	var pk solana.Pubkey
	for i := range pk {
		pk[i] = b
	}
	return pk
}

func TestPubkeyRoundTrip(t *testing.T) {
	key := testKey(7)
	parsed, err := solana.ParsePubkey(key.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != key {
		t.Errorf("round trip: got %s, want %s", parsed, key)
	}
}

func TestParsePubkeyRejectsWrongLength(t *testing.T) {
	if _, err := solana.ParsePubkey("3mJr7AoUXx2Wqd"); err == nil {
		t.Fatal("expected error for short key")
	}
	if _, err := solana.ParsePubkey("0OIl"); err == nil {
		t.Fatal("expected error for invalid base58")
	}
}

func TestSortPubkeys(t *testing.T) {
	keys := []solana.Pubkey{testKey(3), testKey(1), testKey(2)}
	solana.SortPubkeys(keys)
	for i, want := range []byte{1, 2, 3} {
		if keys[i] != testKey(want) {
			t.Errorf("keys[%d]: got %s, want %s", i, keys[i], testKey(want))
		}
	}
}

func rpcServer(t *testing.T, handle func(method string, params []json.RawMessage) interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp := handle(req.Method, req.Params)
		out := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr, ok := resp.(*solana.RPCError); ok {
			out["error"] = rpcErr
		} else {
			out["result"] = resp
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGetAccountData(t *testing.T) {
	key := testKey(9)
	payload := []byte{0xd4, 0xc3, 0xb2, 0xa1, 2, 0, 0, 0}

	srv := rpcServer(t, func(method string, params []json.RawMessage) interface{} {
		if method != "getAccountInfo" {
			t.Errorf("method: got %s, want getAccountInfo", method)
		}
		var gotKey string
		json.Unmarshal(params[0], &gotKey)
		if gotKey != key.String() {
			t.Errorf("key: got %s, want %s", gotKey, key)
		}
		var opts map[string]string
		json.Unmarshal(params[1], &opts)
		if opts["commitment"] != "confirmed" {
			t.Errorf("commitment: got %s, want confirmed", opts["commitment"])
		}
		return map[string]interface{}{
			"context": map[string]interface{}{"slot": 100},
			"value": map[string]interface{}{
				"data":     []string{base64.StdEncoding.EncodeToString(payload), "base64"},
				"lamports": 1,
				"owner":    testKey(1).String(),
			},
		}
	})

	client := solana.NewRPCClient(srv.URL, solana.CommitmentConfirmed, 5*time.Second)
	data, err := client.GetAccountData(context.Background(), key)
	if err != nil {
		t.Fatalf("get account data: %v", err)
	}
	if string(data) != string(payload) {
		t.Errorf("data: got %x, want %x", data, payload)
	}
}

func TestGetAccountDataNotFound(t *testing.T) {
	srv := rpcServer(t, func(string, []json.RawMessage) interface{} {
		return map[string]interface{}{
			"context": map[string]interface{}{"slot": 100},
			"value":   nil,
		}
	})

	client := solana.NewRPCClient(srv.URL, solana.CommitmentConfirmed, 5*time.Second)
	_, err := client.GetAccountData(context.Background(), testKey(4))
	if !errors.Is(err, solana.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestGetAccountDataRPCError(t *testing.T) {
	srv := rpcServer(t, func(string, []json.RawMessage) interface{} {
		return &solana.RPCError{Code: -32602, Message: "Invalid param"}
	})

	client := solana.NewRPCClient(srv.URL, solana.CommitmentFinalized, 5*time.Second)
	_, err := client.GetAccountData(context.Background(), testKey(4))

	var rpcErr *solana.RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *RPCError, got %v", err)
	}
	if rpcErr.Code != -32602 {
		t.Errorf("code: got %d, want -32602", rpcErr.Code)
	}
}

func TestParseCommitment(t *testing.T) {
	for _, name := range []string{"processed", "confirmed", "finalized"} {
		c, err := solana.ParseCommitment(name)
		if err != nil {
			t.Errorf("%s: %v", name, err)
		}
		if string(c) != name {
			t.Errorf("got %s, want %s", c, name)
		}
	}
	if _, err := solana.ParseCommitment("max"); err == nil {
		t.Error("expected error for unknown commitment")
	}
}
