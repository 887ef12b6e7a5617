package hyperliquid

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridpilot/pkg/market"
)

var solUSDC = market.Pair{Base: "SOL", Quote: "USDC"}

func newServer(t *testing.T, handle func(req infoRequest) (int, any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req infoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		code, body := handle(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_PriceAndDepth(t *testing.T) {
	srv := newServer(t, func(req infoRequest) (int, any) {
		switch req.Type {
		case "allMids":
			return http.StatusOK, map[string]string{"SOL": "151.25", "BTC": "64000", "BAD": "x"}
		case "l2Book":
			if req.Coin != "SOL" {
				return http.StatusOK, map[string]any{"coin": req.Coin, "levels": []any{}}
			}
			return http.StatusOK, map[string]any{
				"coin": "SOL",
				"time": 1700000000000,
				"levels": [][]map[string]any{
					{{"px": "151.2", "sz": "40", "n": 3}, {"px": "151.1", "sz": "0", "n": 1}, {"px": "151.0", "sz": "12.5", "n": 2}},
					{{"px": "151.3", "sz": "25", "n": 4}},
				},
			}
		}
		return http.StatusBadRequest, map[string]string{"error": "unknown"}
	})
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewClient(srv.URL, 0, WithClock(func() time.Time { return at }))
	ctx := context.Background()

	px, err := c.Price(ctx, solUSDC)
	require.NoError(t, err)
	assert.Equal(t, 151.25, px)

	_, err = c.Price(ctx, market.Pair{Base: "DOGE", Quote: "USDC"})
	assert.ErrorIs(t, err, ErrSymbolNotFound)

	snap, err := c.Depth(ctx, solUSDC)
	require.NoError(t, err)
	assert.Equal(t, []market.DepthEntry{{Price: 151.2, Size: 40}, {Price: 151.0, Size: 12.5}}, snap.Bids)
	assert.Equal(t, []market.DepthEntry{{Price: 151.3, Size: 25}}, snap.Asks)
	assert.Equal(t, at, snap.FetchedAt)
	assert.Equal(t, solUSDC, snap.Pair)

	_, err = c.Depth(ctx, market.Pair{Base: "ETH", Quote: "USDC"})
	assert.ErrorIs(t, err, ErrSymbolNotFound)
}

func TestClient_DepthLevelsCap(t *testing.T) {
	srv := newServer(t, func(infoRequest) (int, any) {
		return http.StatusOK, map[string]any{
			"coin": "SOL",
			"levels": [][]map[string]any{
				{{"px": "10", "sz": "1"}, {"px": "9", "sz": "1"}, {"px": "8", "sz": "1"}},
				{},
			},
		}
	})
	c := NewClient(srv.URL, 0, WithDepthLevels(2))
	snap, err := c.Depth(context.Background(), solUSDC)
	require.NoError(t, err)
	assert.Len(t, snap.Bids, 2)
	assert.Empty(t, snap.Asks)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, func(infoRequest) (int, any) {
		if calls.Add(1) < 3 {
			return http.StatusBadGateway, map[string]string{"error": "upstream"}
		}
		return http.StatusOK, map[string]string{"SOL": "150"}
	})
	c := NewClient(srv.URL, 3)
	px, err := c.Price(context.Background(), solUSDC)
	require.NoError(t, err)
	assert.Equal(t, 150.0, px)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, func(infoRequest) (int, any) {
		calls.Add(1)
		return http.StatusUnprocessableEntity, map[string]string{"error": "bad coin"}
	})
	c := NewClient(srv.URL, 3)
	_, err := c.Price(context.Background(), solUSDC)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_ContextCancelled(t *testing.T) {
	srv := newServer(t, func(infoRequest) (int, any) { return http.StatusOK, map[string]string{} })
	c := NewClient(srv.URL, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Mids(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}
