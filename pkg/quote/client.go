package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"

	"gridpilot/pkg/execution"
	"gridpilot/pkg/market"
)

const (
	DefaultBaseURL = "https://quote-api.jup.ag/v6"
	defaultTimeout = 5 * time.Second
)

// ErrNoRoute is returned when the aggregator finds no route.
var ErrNoRoute = errors.New("quote: no route found")

// StatusError carries a non-2xx aggregator response. It satisfies
// execution.StatusCoder so the pipeline can classify it.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("quote: http %d: %s", e.Code, e.Message)
}

func (e *StatusError) StatusCode() int { return e.Code }

// Client queries a swap aggregator for routes.
type Client struct {
	http      *resty.Client
	hc        *http.Client
	assets    market.Assets
	maxRoutes int
	clock     func() time.Time
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient routes requests through hc (e.g. a recording transport).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithAssets replaces the asset table used to resolve mints and decimals.
func WithAssets(assets market.Assets) Option {
	return func(c *Client) {
		if len(assets) > 0 {
			c.assets = assets
		}
	}
}

// WithMaxRouteSteps rejects routes with more hops than n; complex routes
// produce payloads the ledger refuses.
func WithMaxRouteSteps(n int) Option {
	return func(c *Client) { c.maxRoutes = n }
}

// WithClock overrides the FetchedAt source.
func WithClock(clock func() time.Time) Option {
	return func(c *Client) { c.clock = clock }
}

// NewClient targets baseURL (DefaultBaseURL when empty).
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{assets: market.DefaultAssets(), clock: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if c.hc != nil {
		c.http = resty.NewWithClient(c.hc)
	} else {
		c.http = resty.New()
	}
	c.http.SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return c
}

type quoteResponse struct {
	InputMint            string          `json:"inputMint"`
	InAmount             string          `json:"inAmount"`
	OutputMint           string          `json:"outputMint"`
	OutAmount            string          `json:"outAmount"`
	OtherAmountThreshold string          `json:"otherAmountThreshold"`
	SlippageBps          int             `json:"slippageBps"`
	PriceImpactPct       string          `json:"priceImpactPct"`
	RoutePlan            json.RawMessage `json:"routePlan"`
	ContextSlot          uint64          `json:"contextSlot"`
}

type errorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode"`
}

// GetQuote prices req.Amount of req.InputAsset into req.OutputAsset.
func (c *Client) GetQuote(ctx context.Context, req execution.QuoteRequest) (execution.Quote, error) {
	in, err := c.assets.Lookup(req.InputAsset)
	if err != nil {
		return execution.Quote{}, fmt.Errorf("quote: %w", err)
	}
	out, err := c.assets.Lookup(req.OutputAsset)
	if err != nil {
		return execution.Quote{}, fmt.Errorf("quote: %w", err)
	}
	units := in.ToAtomic(req.Amount)
	if !units.IsPositive() {
		return execution.Quote{}, fmt.Errorf("%w: amount %s rounds to zero", execution.ErrInvalidRequest, req.Amount)
	}

	var body quoteResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"inputMint":   in.Mint,
			"outputMint":  out.Mint,
			"amount":      units.String(),
			"slippageBps": strconv.Itoa(req.SlippageBps),
		}).
		SetResult(&body).
		Get("/quote")
	if err != nil {
		return execution.Quote{}, fmt.Errorf("quote: request: %w", err)
	}
	if resp.IsError() {
		return execution.Quote{}, decodeError(resp)
	}

	inUnits, err := decimal.NewFromString(body.InAmount)
	if err != nil {
		return execution.Quote{}, fmt.Errorf("quote: parse inAmount %q: %w", body.InAmount, err)
	}
	outUnits, err := decimal.NewFromString(body.OutAmount)
	if err != nil {
		return execution.Quote{}, fmt.Errorf("quote: parse outAmount %q: %w", body.OutAmount, err)
	}
	if !outUnits.IsPositive() {
		return execution.Quote{}, ErrNoRoute
	}
	if c.maxRoutes > 0 {
		var steps []json.RawMessage
		if err := json.Unmarshal(body.RoutePlan, &steps); err == nil && len(steps) > c.maxRoutes {
			return execution.Quote{}, fmt.Errorf("%w: route has %d steps, limit %d", execution.ErrOversizedPayload, len(steps), c.maxRoutes)
		}
	}
	impact, _ := strconv.ParseFloat(body.PriceImpactPct, 64)

	q := execution.Quote{
		ID:             fmt.Sprintf("%s:%s:%s@%d", in.Symbol, out.Symbol, body.InAmount, body.ContextSlot),
		InputAsset:     in.Symbol,
		OutputAsset:    out.Symbol,
		InAmount:       in.FromAtomic(inUnits),
		OutAmount:      out.FromAtomic(outUnits),
		SlippageBps:    body.SlippageBps,
		PriceImpactPct: impact,
		Route:          body.RoutePlan,
		FetchedAt:      c.clock(),
	}
	logx.WithContext(ctx).Debugf("quote %s in=%s out=%s impact=%v", q.ID, q.InAmount, q.OutAmount, impact)
	return q, nil
}

func decodeError(resp *resty.Response) error {
	var e errorResponse
	msg := strings.TrimSpace(string(resp.Body()))
	if err := json.Unmarshal(resp.Body(), &e); err == nil && e.Error != "" {
		msg = e.Error
		if e.ErrorCode != "" {
			msg = e.ErrorCode + ": " + e.Error
		}
	}
	if strings.Contains(strings.ToUpper(msg), "ROUTE") && resp.StatusCode() < 500 {
		return fmt.Errorf("%w: %s", ErrNoRoute, msg)
	}
	return &StatusError{Code: resp.StatusCode(), Message: msg}
}
