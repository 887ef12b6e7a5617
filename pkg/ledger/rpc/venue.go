package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/syncx"

	"gridpilot/pkg/execution"
	"gridpilot/pkg/ledger"
	"gridpilot/pkg/market"
	"gridpilot/pkg/quote"
)

// priceTimeout bounds a shared price quote independently of the callers.
const priceTimeout = 10 * time.Second

func init() {
	ledger.RegisterVenue("rpc", func(name string, cfg *ledger.VenueConfig) (ledger.Venue, error) {
		return NewVenue(cfg)
	})
}

// Venue pairs a ledger node with a swap aggregator. Reference prices come
// from a one-unit quote, so it has no order-book depth.
type Venue struct {
	*Client
	quotes *quote.Client
	assets market.Assets
	flight syncx.SingleFlight
}

// NewVenue builds the node and aggregator clients from cfg.
func NewVenue(cfg *ledger.VenueConfig) (*Venue, error) {
	if cfg == nil || cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc venue: rpc_url is required")
	}
	assets := cfg.AssetTable()
	client := NewClient(cfg.RPCURL, cfg.Timeout,
		WithMethods(Methods{Token: cfg.Methods.Token, Send: cfg.Methods.Send, Status: cfg.Methods.Status}),
		WithCommitment(cfg.Commitment),
		WithTokenValidity(cfg.TokenValidity),
	)
	quotes := quote.NewClient(cfg.QuoteURL, cfg.Timeout,
		quote.WithAssets(assets),
		quote.WithMaxRouteSteps(cfg.MaxRoute),
	)
	return NewVenueWith(client, quotes, assets), nil
}

// NewVenueWith assembles a venue from existing clients.
func NewVenueWith(client *Client, quotes *quote.Client, assets market.Assets) *Venue {
	if len(assets) == 0 {
		assets = market.DefaultAssets()
	}
	return &Venue{Client: client, quotes: quotes, assets: assets, flight: syncx.NewSingleFlight()}
}

// GetQuote delegates to the aggregator.
func (v *Venue) GetQuote(ctx context.Context, req execution.QuoteRequest) (execution.Quote, error) {
	return v.quotes.GetQuote(ctx, req)
}

// Price quotes one unit of the base asset. Concurrent calls for the same
// pair share a single request.
func (v *Venue) Price(ctx context.Context, pair market.Pair) (float64, error) {
	val, err := v.flight.Do(pair.String(), func() (any, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), priceTimeout)
		defer cancel()
		q, err := v.quotes.GetQuote(qctx, execution.QuoteRequest{
			InputAsset:  pair.Base,
			OutputAsset: pair.Quote,
			Amount:      decimal.NewFromInt(1),
			SlippageBps: 0,
		})
		if err != nil {
			return 0.0, err
		}
		if !q.InAmount.IsPositive() {
			return 0.0, fmt.Errorf("rpc venue: empty quote for %s", pair)
		}
		price, _ := q.OutAmount.Div(q.InAmount).Float64()
		return price, nil
	})
	if err != nil {
		return 0, err
	}
	return val.(float64), nil
}

// Depth is not served by an aggregator-backed venue.
func (v *Venue) Depth(context.Context, market.Pair) (*market.DepthSnapshot, error) {
	return nil, market.ErrDepthUnavailable
}

var _ ledger.Venue = (*Venue)(nil)
