package rpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridpilot/pkg/execution"
	"gridpilot/pkg/ledger"
	"gridpilot/pkg/market"
	"gridpilot/pkg/quote"
)

type rpcCall struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	ID     int64             `json:"id"`
}

type node struct {
	mu      sync.Mutex
	calls   []rpcCall
	replies map[string]string
	status  int
}

func (n *node) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var call rpcCall
	_ = json.NewDecoder(r.Body).Decode(&call)
	n.mu.Lock()
	n.calls = append(n.calls, call)
	reply, ok := n.replies[call.Method]
	status := n.status
	n.mu.Unlock()
	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("node overloaded"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		reply = `"error":{"code":-32601,"message":"Method not found"}`
	}
	_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,` + reply + `}`))
}

func (n *node) last() rpcCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[len(n.calls)-1]
}

func newNode(t *testing.T, replies map[string]string) (*node, *httptest.Server) {
	t.Helper()
	n := &node{replies: replies}
	srv := httptest.NewServer(n)
	t.Cleanup(srv.Close)
	return n, srv
}

func TestFreshnessToken(t *testing.T) {
	issued := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	n, srv := newNode(t, map[string]string{
		"getLatestBlockhash": `"result":{"context":{"slot":2792},"value":{"blockhash":"EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N","lastValidBlockHeight":3090}}`,
	})
	c := NewClient(srv.URL, time.Second, WithClock(func() time.Time { return issued }), WithTokenValidity(60*time.Second))

	tok, err := c.FreshnessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N", tok.Value)
	assert.Equal(t, uint64(3090), tok.LastValidHeight)
	assert.Equal(t, issued, tok.IssuedAt)
	assert.Equal(t, 60*time.Second, tok.Validity)

	call := n.last()
	assert.Equal(t, "getLatestBlockhash", call.Method)
	require.Len(t, call.Params, 1)
	assert.JSONEq(t, `{"commitment":"confirmed"}`, string(call.Params[0]))
}

func TestFreshnessTokenEmpty(t *testing.T) {
	_, srv := newNode(t, map[string]string{
		"getLatestBlockhash": `"result":{"context":{"slot":1},"value":{"blockhash":"","lastValidBlockHeight":0}}`,
	})
	_, err := NewClient(srv.URL, time.Second).FreshnessToken(context.Background())
	require.Error(t, err)
}

func TestBroadcast(t *testing.T) {
	n, srv := newNode(t, map[string]string{
		"sendTransaction": `"result":"5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"`,
	})
	c := NewClient(srv.URL, time.Second)

	raw := []byte{0x01, 0x02, 0x03}
	id, err := c.Broadcast(context.Background(), execution.SignedTransaction{TxID: "tx-1", Signature: "local", Raw: raw})
	require.NoError(t, err)
	assert.Equal(t, "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW", id)

	call := n.last()
	require.Len(t, call.Params, 2)
	var encoded string
	require.NoError(t, json.Unmarshal(call.Params[0], &encoded))
	assert.Equal(t, base64.StdEncoding.EncodeToString(raw), encoded)
	assert.JSONEq(t, `{"encoding":"base64","maxRetries":0,"preflightCommitment":"confirmed"}`, string(call.Params[1]))
}

func TestBroadcastErrors(t *testing.T) {
	cases := []struct {
		name  string
		reply string
		class execution.Class
		is    error
	}{
		{
			name:  "stale blockhash",
			reply: `"error":{"code":-32002,"message":"Transaction simulation failed: Blockhash not found"}`,
			class: execution.ClassFreshnessExpired,
			is:    execution.ErrFreshnessExpired,
		},
		{
			name:  "insufficient funds",
			reply: `"error":{"code":-32002,"message":"Transaction simulation failed: Attempt to debit an account but found no record of a prior credit. insufficient funds"}`,
			class: execution.ClassInsufficientFunds,
			is:    execution.ErrInsufficientFunds,
		},
		{
			name:  "too large",
			reply: `"error":{"code":-32602,"message":"base64 encoded solana_sdk::transaction::versioned::VersionedTransaction too large: 1648 bytes (max: encoded/raw 1644/1232)"}`,
			class: execution.ClassOversizedPayload,
			is:    execution.ErrOversizedPayload,
		},
		{
			name:  "slippage",
			reply: `"error":{"code":-32002,"message":"custom program error: 0x1771 slippage tolerance exceeded"}`,
			class: execution.ClassSlippageExceeded,
			is:    execution.ErrSlippageExceeded,
		},
		{
			name:  "opaque",
			reply: `"error":{"code":-32005,"message":"Node is behind by 42 slots"}`,
			class: execution.ClassUnknown,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, srv := newNode(t, map[string]string{"sendTransaction": tc.reply})
			_, err := NewClient(srv.URL, time.Second).Broadcast(context.Background(), execution.SignedTransaction{Raw: []byte{1}})
			require.Error(t, err)
			var rpcErr *Error
			require.True(t, errors.As(err, &rpcErr))
			assert.Equal(t, tc.class, execution.Classify(err))
			if tc.is != nil {
				assert.ErrorIs(t, err, tc.is)
			}
		})
	}
}

func TestHTTPStatusIsTransient(t *testing.T) {
	n, srv := newNode(t, nil)
	n.status = http.StatusServiceUnavailable
	_, err := NewClient(srv.URL, time.Second).FreshnessToken(context.Background())
	require.Error(t, err)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode())
	assert.Equal(t, execution.ClassNetworkOrTimeout, execution.Classify(err))
}

func TestOutcome(t *testing.T) {
	cases := []struct {
		name       string
		commitment string
		value      string
		want       execution.Lookup
	}{
		{"unknown", "confirmed", `[null]`, execution.Lookup{Found: false}},
		{"processed", "confirmed", `[{"slot":72,"confirmations":0,"err":null,"confirmationStatus":"processed"}]`, execution.Lookup{Found: true, Status: execution.StatusPending}},
		{"confirmed", "confirmed", `[{"slot":72,"confirmations":10,"err":null,"confirmationStatus":"confirmed"}]`, execution.Lookup{Found: true, Status: execution.StatusConfirmed}},
		{"finalized", "confirmed", `[{"slot":72,"confirmations":null,"err":null,"confirmationStatus":"finalized"}]`, execution.Lookup{Found: true, Status: execution.StatusConfirmed}},
		{"awaiting finality", "finalized", `[{"slot":72,"confirmations":10,"err":null,"confirmationStatus":"confirmed"}]`, execution.Lookup{Found: true, Status: execution.StatusPending}},
		{"failed", "confirmed", `[{"slot":72,"confirmations":10,"err":{"InstructionError":[2,{"Custom":6001}]},"confirmationStatus":"confirmed"}]`, execution.Lookup{Found: true, Status: execution.StatusFailed, Reason: `{"InstructionError":[2,{"Custom":6001}]}`}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n, srv := newNode(t, map[string]string{
				"getSignatureStatuses": `"result":{"context":{"slot":82},"value":` + tc.value + `}`,
			})
			got, err := NewClient(srv.URL, time.Second, WithCommitment(tc.commitment)).Outcome(context.Background(), "sig-1")
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)

			call := n.last()
			require.Len(t, call.Params, 2)
			assert.JSONEq(t, `["sig-1"]`, string(call.Params[0]))
			assert.JSONEq(t, `{"searchTransactionHistory":true}`, string(call.Params[1]))
		})
	}
}

func TestCustomMethods(t *testing.T) {
	n, srv := newNode(t, map[string]string{
		"getRecentBlockhash": `"result":{"context":{"slot":1},"value":{"blockhash":"abc","lastValidBlockHeight":5}}`,
	})
	c := NewClient(srv.URL, time.Second, WithMethods(Methods{Token: "getRecentBlockhash"}))
	_, err := c.FreshnessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "getRecentBlockhash", n.last().Method)
}

func TestVenuePriceFromQuote(t *testing.T) {
	agg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"inputMint":"So11111111111111111111111111111111111111112","inAmount":"1000000000","outputMint":"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v","outAmount":"150250000","otherAmountThreshold":"150250000","slippageBps":0,"priceImpactPct":"0","routePlan":[],"contextSlot":9}`))
	}))
	t.Cleanup(agg.Close)
	_, node := newNode(t, nil)

	v := NewVenueWith(NewClient(node.URL, time.Second), quote.NewClient(agg.URL, time.Second), nil)
	price, err := v.Price(context.Background(), market.Pair{Base: "SOL", Quote: "USDC"})
	require.NoError(t, err)
	assert.InDelta(t, 150.25, price, 1e-9)

	_, err = v.Depth(context.Background(), market.Pair{Base: "SOL", Quote: "USDC"})
	assert.ErrorIs(t, err, market.ErrDepthUnavailable)
}

func TestVenuePriceSurvivesCancelledCaller(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	agg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"inputMint":"So11111111111111111111111111111111111111112","inAmount":"1000000000","outputMint":"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v","outAmount":"150250000","otherAmountThreshold":"150250000","slippageBps":0,"priceImpactPct":"0","routePlan":[],"contextSlot":9}`))
	}))
	t.Cleanup(agg.Close)
	_, node := newNode(t, nil)
	v := NewVenueWith(NewClient(node.URL, time.Second), quote.NewClient(agg.URL, 5*time.Second), nil)

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		price float64
		err   error
	}
	done := make(chan result, 1)
	go func() {
		price, err := v.Price(ctx, market.Pair{Base: "SOL", Quote: "USDC"})
		done <- result{price, err}
	}()
	<-entered
	cancel()
	close(release)

	got := <-done
	require.NoError(t, got.err)
	assert.InDelta(t, 150.25, got.price, 1e-9)
}

func TestRegisteredBuilder(t *testing.T) {
	cfg, err := ledger.LoadConfigFromReader(strings.NewReader(`
default: mainnet
venues:
  mainnet:
    type: rpc
    rpc_url: http://127.0.0.1:8899
    timeout: 2s
`))
	require.NoError(t, err)
	venue, err := cfg.Build("")
	require.NoError(t, err)
	_, ok := venue.(*Venue)
	assert.True(t, ok)
}
