package market

import (
	"context"
	"errors"
)

// ErrDepthUnavailable is returned by providers that cannot serve order-book depth.
var ErrDepthUnavailable = errors.New("market: depth unavailable")

// PriceSource returns the current reference price for a pair.
type PriceSource interface {
	Price(ctx context.Context, pair Pair) (float64, error)
}

// DepthSource returns an order-book snapshot for a pair.
type DepthSource interface {
	Depth(ctx context.Context, pair Pair) (*DepthSnapshot, error)
}

// Provider exposes venue-agnostic market data.
type Provider interface {
	PriceSource
	DepthSource
}
