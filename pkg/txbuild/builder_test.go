package txbuild

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"gridpilot/pkg/execution"
	"gridpilot/pkg/market"
)

func buyQuote() execution.Quote {
	return execution.Quote{
		ID:          "q-1",
		InputAsset:  "USDC",
		OutputAsset: "SOL",
		InAmount:    decimal.RequireFromString("50"),
		OutAmount:   decimal.RequireFromString("0.5"),
		SlippageBps: 50,
		Route:       []byte(`{"hops":["orca"]}`),
	}
}

func TestBuildUnsigned(t *testing.T) {
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	b := New(WithClock(func() time.Time { return at }))

	tx, err := b.BuildUnsigned(context.Background(), buyQuote(), "wallet-1")
	require.NoError(t, err)
	require.Equal(t, "q-1", tx.QuoteID())
	require.Equal(t, "wallet-1", tx.Account())
	require.Equal(t, at, tx.BuiltAt())
	require.LessOrEqual(t, tx.Size()+signatureOverhead, MaxPacketSize)

	msg, err := Decode(tx.Message())
	require.NoError(t, err)
	require.Equal(t, "50000000", msg.InAtomic)
	require.Equal(t, "497500000", msg.MinOutAtoms, "0.5 SOL less 50 bps")
	require.Equal(t, at.UnixMilli(), msg.BuiltAt)
	require.True(t, bytes.Equal([]byte(`{"hops":["orca"]}`), msg.Route))

	again, err := b.BuildUnsigned(context.Background(), buyQuote(), "wallet-1")
	require.NoError(t, err)
	require.NotEqual(t, tx.ID(), again.ID(), "every build is a new transaction")
}

func TestBuildUnsigned_Oversized(t *testing.T) {
	q := buyQuote()
	q.Route = bytes.Repeat([]byte("x"), 1500)

	_, err := New().BuildUnsigned(context.Background(), q, "wallet-1")
	require.ErrorIs(t, err, execution.ErrOversizedPayload)
	require.Equal(t, execution.ClassOversizedPayload, execution.Classify(err))

	_, err = New(WithMaxSize(150)).BuildUnsigned(context.Background(), buyQuote(), "wallet-1")
	require.ErrorIs(t, err, execution.ErrOversizedPayload)
}

func TestBuildUnsigned_Invalid(t *testing.T) {
	b := New()
	_, err := b.BuildUnsigned(context.Background(), buyQuote(), "")
	require.ErrorIs(t, err, execution.ErrInvalidRequest)

	q := buyQuote()
	q.OutAmount = decimal.Zero
	_, err = b.BuildUnsigned(context.Background(), q, "wallet-1")
	require.ErrorIs(t, err, execution.ErrInvalidRequest)

	q = buyQuote()
	q.OutputAsset = "BONK"
	_, err = b.BuildUnsigned(context.Background(), q, "wallet-1")
	require.Error(t, err)

	assets := market.DefaultAssets().Merge([]market.Asset{{Symbol: "bonk", Decimals: 5}})
	_, err = New(WithAssets(assets)).BuildUnsigned(context.Background(), q, "wallet-1")
	require.NoError(t, err)
}

func TestAtomic(t *testing.T) {
	b := New()
	units, err := b.Atomic("sol", decimal.RequireFromString("1.0000000019"))
	require.NoError(t, err)
	require.Equal(t, "1000000001", units.String())

	_, err = b.Atomic("USDC", decimal.RequireFromString("0.0000001"))
	require.Error(t, err)
}
