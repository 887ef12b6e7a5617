package execution

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridpilot/pkg/market"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassNone},
		{"freshness", fmt.Errorf("wrap: %w", ErrFreshnessExpired), ClassFreshnessExpired},
		{"oversized", ErrOversizedPayload, ClassOversizedPayload},
		{"funds", ErrInsufficientFunds, ClassInsufficientFunds},
		{"slippage", ErrSlippageExceeded, ClassSlippageExceeded},
		{"transition", ErrInvalidTransition, ClassInvalid},
		{"cancelled", context.Canceled, ClassCancelled},
		{"deadline", context.DeadlineExceeded, ClassNetworkOrTimeout},
		{"413", httpStatusError(413), ClassOversizedPayload},
		{"429", httpStatusError(429), ClassNetworkOrTimeout},
		{"502", httpStatusError(502), ClassNetworkOrTimeout},
		{"net", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}, ClassNetworkOrTimeout},
		{"reason blockhash", errors.New("Blockhash not found"), ClassFreshnessExpired},
		{"reason funds", errors.New("insufficient lamports"), ClassInsufficientFunds},
		{"reason other", errors.New("program error 0x1771"), ClassUnknown},
		{"classified", &ClassifiedError{Class: ClassSlippageExceeded, Err: errors.New("x")}, ClassSlippageExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassRetryability(t *testing.T) {
	assert.True(t, ClassFreshnessExpired.Retryable())
	assert.True(t, ClassNetworkOrTimeout.Retryable())
	assert.True(t, ClassSlippageExceeded.Retryable())
	assert.True(t, ClassUnknown.Retryable())
	assert.False(t, ClassOversizedPayload.Retryable())
	assert.False(t, ClassInsufficientFunds.Retryable())
	assert.False(t, ClassCancelled.Retryable())
	assert.False(t, ClassInvalid.Retryable())
}

func TestRetryPolicy_Next(t *testing.T) {
	p := DefaultRetryPolicy()
	var got []time.Duration
	for attempt := 1; ; attempt++ {
		d, ok := p.Next(attempt, ClassNetworkOrTimeout)
		if !ok {
			break
		}
		got = append(got, d)
	}
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}, got)

	_, ok := p.Next(1, ClassInsufficientFunds)
	assert.False(t, ok)

	long := RetryPolicy{MaxRetries: 5, Backoff: []time.Duration{time.Second}}
	d, ok := long.Next(5, ClassFreshnessExpired)
	require.True(t, ok)
	assert.Equal(t, time.Second, d)
}

func TestTracker_OneShotClasses(t *testing.T) {
	tr := NewTracker(DefaultRetryPolicy())
	tr.Begin()
	_, ok := tr.Fail(ClassSlippageExceeded)
	assert.True(t, ok)
	tr.Begin()
	_, ok = tr.Fail(ClassNetworkOrTimeout)
	assert.True(t, ok)
	tr.Begin()
	_, ok = tr.Fail(ClassSlippageExceeded)
	assert.False(t, ok, "slippage is retried once")
	assert.Equal(t, 3, tr.Attempts())
	assert.Equal(t, ClassSlippageExceeded, tr.Last())
}

func TestTransitions(t *testing.T) {
	assert.True(t, CanTransition(StateIdle, StateQuoteRequested))
	assert.True(t, CanTransition(StateConfirming, StateUnknown))
	assert.True(t, CanTransition(StateFailed, StateBuildRequested))
	assert.False(t, CanTransition(StateIdle, StateBroadcast))
	assert.False(t, CanTransition(StateConfirmed, StateFailed))
	assert.False(t, CanTransition(StateQuoteReady, StateSignRequested))
	assert.True(t, StateConfirmed.Terminal())
	assert.False(t, StateConfirming.Terminal())

	clock := newFakeClock()
	m := newMachine(clock.Now)
	require.NoError(t, m.to(StateQuoteRequested))
	clock.Advance(200 * time.Millisecond)
	require.NoError(t, m.to(StateQuoteReady))
	err := m.to(StateBroadcast)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateQuoteReady, m.current())
	assert.Equal(t, 200*time.Millisecond, m.durations()[StateQuoteRequested])
	assert.NotContains(t, m.durations(), StateIdle)
}

func TestGate(t *testing.T) {
	g := NewGate()
	assert.True(t, g.TryAcquire("buy-1"))
	assert.False(t, g.TryAcquire("buy-1"))
	assert.True(t, g.TryAcquire("sell-1"))
	assert.Equal(t, 2, g.InFlight())
	g.Release("buy-1")
	assert.False(t, g.Busy("buy-1"))
	assert.True(t, g.TryAcquire("buy-1"))
}

func TestTokenGuard(t *testing.T) {
	clock := newFakeClock()
	g := newTokenGuard(clock.Now)
	exp := clock.Now().Add(90 * time.Second)
	assert.True(t, g.consume("tok-1", exp))
	assert.False(t, g.consume("tok-1", exp))
	assert.True(t, g.seen("tok-1"))

	clock.Advance(time.Hour)
	assert.True(t, g.consume("tok-2", clock.Now().Add(90*time.Second)))
	assert.False(t, g.seen("tok-1"), "expired entries are pruned")
}

func TestFreshnessToken_Stale(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tok := FreshnessToken{Value: "t", IssuedAt: now.Add(-10 * time.Second), Validity: 90 * time.Second}
	assert.False(t, tok.Stale(now, 5*time.Second))
	tok.IssuedAt = now.Add(-100 * time.Second)
	assert.True(t, tok.Stale(now, 5*time.Second))
	assert.True(t, FreshnessToken{IssuedAt: now, Validity: time.Minute}.Stale(now, 0), "empty value is never usable")
}

func TestConfig_Parse(t *testing.T) {
	c := Config{TokenValidityRaw: "60s", TokenMarginRaw: "3s", BackoffRaw: []string{"250ms", "1s"}}
	require.NoError(t, c.Parse())
	c.ApplyDefaults()
	require.NoError(t, c.Validate())
	assert.Equal(t, 60*time.Second, c.TokenValidity)
	assert.Equal(t, 3*time.Second, c.TokenMargin)
	assert.Equal(t, 30*time.Second, c.QuoteTTL)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, time.Second}, c.RetryPolicy().Backoff)

	bad := Config{ConfirmTimeoutRaw: "soon"}
	assert.Error(t, bad.Parse())

	c = DefaultConfig()
	c.TokenMargin = c.TokenValidity
	assert.Error(t, c.Validate())
	c = DefaultConfig()
	c.Backoff = []time.Duration{time.Second, time.Millisecond}
	assert.Error(t, c.Validate())
}

func TestRequest_Amounts(t *testing.T) {
	pair := market.Pair{Base: "SOL", Quote: "USDC"}
	buy := Request{Pair: pair, Side: market.Buy, Quantity: 0.25, Price: 101.5}
	assert.True(t, buy.InputAmount().Equal(decimal.RequireFromString("25.375")))
	in, out := buy.Assets()
	assert.Equal(t, "USDC", in)
	assert.Equal(t, "SOL", out)

	sell := Request{Pair: pair, Side: market.Sell, Quantity: 0.25, Price: 101.5}
	assert.True(t, sell.InputAmount().Equal(decimal.RequireFromString("0.25")))
	in, _ = sell.Assets()
	assert.Equal(t, "SOL", in)
}

func TestUnsignedTransaction_Immutable(t *testing.T) {
	msg := []byte("payload")
	tx := NewUnsignedTransaction("tx-1", "q-1", "wallet", msg, time.Time{})
	msg[0] = 'X'
	got := tx.Message()
	assert.Equal(t, "payload", string(got))
	got[0] = 'Y'
	assert.Equal(t, "payload", string(tx.Message()))
	assert.Equal(t, 7, tx.Size())
}
