package hyperliquid

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/zeromicro/go-zero/core/logx"

	"gridpilot/pkg/market"
)

const (
	DefaultBaseURL          = "https://api.hyperliquid.xyz/info"
	defaultHTTPTimeout      = 10 * time.Second
	defaultMaxRetries       = 3
	defaultRetryBackoffBase = 150 * time.Millisecond
	defaultDepthLevels      = 20
)

// ErrSymbolNotFound indicates that the requested coin is not listed.
var ErrSymbolNotFound = errors.New("hyperliquid: symbol not found")

var _ market.Provider = (*Client)(nil)

// Client reads mid prices and L2 books from the Hyperliquid info endpoint.
// It serves as a reference market for venues that expose no order book of
// their own. Quote assets are treated as USD.
type Client struct {
	url    string
	http   *resty.Client
	hc     *http.Client
	levels int
	clock  func() time.Time
}

// Option configures a new Client.
type Option func(*Client)

// WithHTTPClient injects a custom http.Client, e.g. a recording transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithDepthLevels caps how many book levels per side are kept.
func WithDepthLevels(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.levels = n
		}
	}
}

// WithClock overrides the FetchedAt source.
func WithClock(clock func() time.Time) Option {
	return func(c *Client) { c.clock = clock }
}

// NewClient targets baseURL (DefaultBaseURL when empty).
func NewClient(baseURL string, maxRetries int, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	c := &Client{url: baseURL, levels: defaultDepthLevels, clock: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if c.hc != nil {
		c.http = resty.NewWithClient(c.hc)
	} else {
		c.http = resty.New().SetTimeout(defaultHTTPTimeout)
	}
	c.http.SetHeader("Content-Type", "application/json").
		SetRetryCount(maxRetries).
		SetRetryWaitTime(defaultRetryBackoffBase).
		SetRetryMaxWaitTime(8 * defaultRetryBackoffBase).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError || r.StatusCode() == http.StatusTooManyRequests
		})
	return c
}

type infoRequest struct {
	Type string `json:"type"`
	Coin string `json:"coin,omitempty"`
}

type bookLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

type l2BookResponse struct {
	Coin   string        `json:"coin"`
	Time   int64         `json:"time"`
	Levels [][]bookLevel `json:"levels"` // [bids, asks]
}

func (c *Client) post(ctx context.Context, req infoRequest, result any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(result).
		Post(c.url)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("hyperliquid: %s: %w", req.Type, err)
	}
	if resp.IsError() {
		return fmt.Errorf("hyperliquid: %s: http status %d: %s", req.Type, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}

// Mids returns every listed coin's mid price.
func (c *Client) Mids(ctx context.Context) (map[string]float64, error) {
	raw := map[string]string{}
	if err := c.post(ctx, infoRequest{Type: "allMids"}, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(raw))
	for coin, v := range raw {
		px, err := strconv.ParseFloat(v, 64)
		if err != nil {
			logx.WithContext(ctx).Debugf("hyperliquid: skip mid coin=%s value=%q", coin, v)
			continue
		}
		out[strings.ToUpper(coin)] = px
	}
	return out, nil
}

// Price returns the mid price of pair.Base.
func (c *Client) Price(ctx context.Context, pair market.Pair) (float64, error) {
	mids, err := c.Mids(ctx)
	if err != nil {
		return 0, err
	}
	px, ok := mids[coin(pair)]
	if !ok || px <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrSymbolNotFound, pair.Base)
	}
	return px, nil
}

// Depth returns the L2 book of pair.Base, best levels first.
func (c *Client) Depth(ctx context.Context, pair market.Pair) (*market.DepthSnapshot, error) {
	var book l2BookResponse
	if err := c.post(ctx, infoRequest{Type: "l2Book", Coin: coin(pair)}, &book); err != nil {
		return nil, err
	}
	if len(book.Levels) != 2 {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, pair.Base)
	}
	snap := &market.DepthSnapshot{
		Pair:      pair,
		Bids:      c.entries(book.Levels[0]),
		Asks:      c.entries(book.Levels[1]),
		FetchedAt: c.clock(),
	}
	if len(snap.Bids) == 0 && len(snap.Asks) == 0 {
		return nil, market.ErrDepthUnavailable
	}
	return snap, nil
}

func (c *Client) entries(levels []bookLevel) []market.DepthEntry {
	if len(levels) > c.levels {
		levels = levels[:c.levels]
	}
	out := make([]market.DepthEntry, 0, len(levels))
	for _, l := range levels {
		px, err1 := strconv.ParseFloat(l.Px, 64)
		sz, err2 := strconv.ParseFloat(l.Sz, 64)
		if err1 != nil || err2 != nil || px <= 0 || sz <= 0 {
			continue
		}
		out = append(out, market.DepthEntry{Price: px, Size: sz})
	}
	return out
}

func coin(pair market.Pair) string {
	return strings.ToUpper(strings.TrimSpace(pair.Base))
}
