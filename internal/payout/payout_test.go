package payout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRail(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-key", 5*time.Second)
}

func TestSend(t *testing.T) {
	var sendBody, broadcastBody map[string]string
	rail := newTestRail(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/skills/send":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&sendBody))
			json.NewEncoder(w).Encode(map[string]string{"tx": "0xrawtx"})
		case "/skills/broadcast":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&broadcastBody))
			json.NewEncoder(w).Encode(map[string]string{"txHash": "0xabc123"})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	hash, err := rail.Send(context.Background(), "0x1111111111111111111111111111111111111111", decimal.RequireFromString("0.3"), "USDC")
	require.NoError(t, err)
	assert.Equal(t, "0xabc123", hash)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", sendBody["to"])
	assert.Equal(t, "0.3", sendBody["amount"])
	assert.Equal(t, "USDC", sendBody["currency"])
	assert.Equal(t, "0xrawtx", broadcastBody["tx"])
}

func TestSendNoTx(t *testing.T) {
	rail := newTestRail(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	})

	_, err := rail.Send(context.Background(), "0x1", decimal.New(1, 0), "USDC")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no transaction")
}

func TestSendBroadcastFails(t *testing.T) {
	rail := newTestRail(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/skills/send" {
			json.NewEncoder(w).Encode(map[string]string{"tx": "0xrawtx"})
			return
		}
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{"error": "chain unavailable"})
	})

	hash, err := rail.Send(context.Background(), "0x1", decimal.New(1, 0), "USDC")
	require.Error(t, err)
	assert.Empty(t, hash)
	assert.Contains(t, err.Error(), "chain unavailable")
}

func TestSendBroadcastNoHash(t *testing.T) {
	rail := newTestRail(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/skills/send" {
			json.NewEncoder(w).Encode(map[string]string{"tx": "0xrawtx"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{})
	})

	_, err := rail.Send(context.Background(), "0x1", decimal.New(1, 0), "USDC")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no transaction hash")
}

func TestBalance(t *testing.T) {
	rail := newTestRail(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/skills/balance/0xdead", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"balances": map[string]string{"ETH": "1.5", "USDC": "42.0"},
		})
	})

	bal, err := rail.Balance(context.Background(), "0xdead")
	require.NoError(t, err)
	assert.Equal(t, "1.5", bal.ETH)
	assert.Equal(t, "42.0", bal.USDC)
}

func TestAddress(t *testing.T) {
	rail := newTestRail(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/skills/address", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"address": "0xtreasury"})
	})

	addr, err := rail.Address(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0xtreasury", addr)
}

func TestErrorWithoutBody(t *testing.T) {
	rail := newTestRail(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := rail.Balance(context.Background(), "0x1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
