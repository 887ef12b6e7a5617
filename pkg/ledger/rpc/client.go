package rpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/zeromicro/go-zero/core/logx"

	"gridpilot/pkg/execution"
)

// Error is a JSON-RPC error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Unwrap returns the sentinel matching the ledger message, if any.
func (e *Error) Unwrap() error {
	switch execution.ClassifyReason(e.Message) {
	case execution.ClassFreshnessExpired:
		return execution.ErrFreshnessExpired
	case execution.ClassOversizedPayload:
		return execution.ErrOversizedPayload
	case execution.ClassInsufficientFunds:
		return execution.ErrInsufficientFunds
	case execution.ClassSlippageExceeded:
		return execution.ErrSlippageExceeded
	}
	return nil
}

// StatusError is a non-2xx transport response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string   { return fmt.Sprintf("rpc: http %d: %s", e.Code, e.Body) }
func (e *StatusError) StatusCode() int { return e.Code }

// Methods names the calls the client issues.
type Methods struct {
	Token  string
	Send   string
	Status string
}

// Client talks JSON-RPC 2.0 to a ledger node.
type Client struct {
	http       *resty.Client
	methods    Methods
	commitment string
	validity   time.Duration
	clock      func() time.Time
	seq        atomic.Int64
}

// Option customises a Client.
type Option func(*Client)

// WithMethods overrides the JSON-RPC method names.
func WithMethods(m Methods) Option {
	return func(c *Client) {
		if m.Token != "" {
			c.methods.Token = m.Token
		}
		if m.Send != "" {
			c.methods.Send = m.Send
		}
		if m.Status != "" {
			c.methods.Status = m.Status
		}
	}
}

// WithCommitment sets the commitment level a status must reach to count as
// confirmed ("confirmed" or "finalized").
func WithCommitment(level string) Option {
	return func(c *Client) {
		if level != "" {
			c.commitment = level
		}
	}
}

// WithTokenValidity sets the estimated freshness window of fetched tokens.
func WithTokenValidity(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.validity = d
		}
	}
}

// WithClock overrides the token issue timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(c *Client) { c.clock = clock }
}

// NewClient targets the node at url.
func NewClient(url string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		http: resty.New().
			SetBaseURL(strings.TrimSuffix(url, "/")).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
		methods:    Methods{Token: "getLatestBlockhash", Send: "sendTransaction", Status: "getSignatureStatuses"},
		commitment: "confirmed",
		validity:   90 * time.Second,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	var body response
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(request{JSONRPC: "2.0", ID: c.seq.Add(1), Method: method, Params: params}).
		SetResult(&body).
		Post("")
	if err != nil {
		return fmt.Errorf("rpc %s: %w", method, err)
	}
	if resp.IsError() {
		return &StatusError{Code: resp.StatusCode(), Body: strings.TrimSpace(string(resp.Body()))}
	}
	if body.Error != nil {
		return body.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body.Result, out); err != nil {
		return fmt.Errorf("rpc %s: decode result: %w", method, err)
	}
	return nil
}

type blockhashResult struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value struct {
		Blockhash            string `json:"blockhash"`
		LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	} `json:"value"`
}

// FreshnessToken fetches the latest blockhash.
func (c *Client) FreshnessToken(ctx context.Context) (execution.FreshnessToken, error) {
	var res blockhashResult
	if err := c.call(ctx, c.methods.Token, []any{map[string]string{"commitment": c.commitment}}, &res); err != nil {
		return execution.FreshnessToken{}, err
	}
	if res.Value.Blockhash == "" {
		return execution.FreshnessToken{}, fmt.Errorf("rpc %s: empty blockhash", c.methods.Token)
	}
	return execution.FreshnessToken{
		Value:           res.Value.Blockhash,
		IssuedAt:        c.clock(),
		Validity:        c.validity,
		LastValidHeight: res.Value.LastValidBlockHeight,
	}, nil
}

// Broadcast submits the signed transaction. The node echoes the signature,
// which doubles as the outcome id.
func (c *Client) Broadcast(ctx context.Context, tx execution.SignedTransaction) (string, error) {
	params := []any{
		base64.StdEncoding.EncodeToString(tx.Raw),
		map[string]any{"encoding": "base64", "maxRetries": 0, "preflightCommitment": c.commitment},
	}
	var sig string
	if err := c.call(ctx, c.methods.Send, params, &sig); err != nil {
		return "", err
	}
	if sig == "" {
		sig = tx.Signature
	}
	logx.WithContext(ctx).Infof("broadcast tx=%s outcome=%s", tx.TxID, sig)
	return sig, nil
}

type statusResult struct {
	Value []*struct {
		Slot               uint64          `json:"slot"`
		Confirmations      *uint64         `json:"confirmations"`
		Err                json.RawMessage `json:"err"`
		ConfirmationStatus string          `json:"confirmationStatus"`
	} `json:"value"`
}

// Outcome looks up a signature's status.
func (c *Client) Outcome(ctx context.Context, outcomeID string) (execution.Lookup, error) {
	params := []any{[]string{outcomeID}, map[string]bool{"searchTransactionHistory": true}}
	var res statusResult
	if err := c.call(ctx, c.methods.Status, params, &res); err != nil {
		return execution.Lookup{}, err
	}
	if len(res.Value) == 0 || res.Value[0] == nil {
		return execution.Lookup{Found: false}, nil
	}
	st := res.Value[0]
	if len(st.Err) > 0 && string(st.Err) != "null" {
		return execution.Lookup{Found: true, Status: execution.StatusFailed, Reason: string(st.Err)}, nil
	}
	if reached(st.ConfirmationStatus, c.commitment) {
		return execution.Lookup{Found: true, Status: execution.StatusConfirmed}, nil
	}
	return execution.Lookup{Found: true, Status: execution.StatusPending}, nil
}

var commitmentRank = map[string]int{"processed": 1, "confirmed": 2, "finalized": 3}

func reached(status, want string) bool {
	return commitmentRank[status] >= commitmentRank[want] && commitmentRank[status] > 0
}
