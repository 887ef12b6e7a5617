package execution

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"gridpilot/pkg/market"
	"gridpilot/pkg/risk"
)

// QuoteRequest asks the aggregator for a route.
type QuoteRequest struct {
	InputAsset  string
	OutputAsset string
	Amount      decimal.Decimal // input amount in asset units
	SlippageBps int
}

// Quote is a priced route. It belongs to the attempt that fetched it.
type Quote struct {
	ID             string          `json:"id"`
	InputAsset     string          `json:"input_asset"`
	OutputAsset    string          `json:"output_asset"`
	InAmount       decimal.Decimal `json:"in_amount"`
	OutAmount      decimal.Decimal `json:"out_amount"`
	SlippageBps    int             `json:"slippage_bps"`
	PriceImpactPct float64         `json:"price_impact_pct"`
	Route          json.RawMessage `json:"route,omitempty"`
	FetchedAt      time.Time       `json:"fetched_at"`
	TTL            time.Duration   `json:"ttl"`
}

// Expired reports whether the quote is past its TTL at now.
func (q Quote) Expired(now time.Time) bool {
	return q.TTL <= 0 || !now.Before(q.FetchedAt.Add(q.TTL))
}

// FreshnessToken authorises exactly one signed transaction within its
// estimated validity window.
type FreshnessToken struct {
	Value           string        `json:"value"`
	IssuedAt        time.Time     `json:"issued_at"`
	Validity        time.Duration `json:"validity"`
	LastValidHeight uint64        `json:"last_valid_height,omitempty"`
}

// Age is the time elapsed since issuance.
func (t FreshnessToken) Age(now time.Time) time.Duration { return now.Sub(t.IssuedAt) }

// ExpiresAt is the estimated end of the validity window.
func (t FreshnessToken) ExpiresAt() time.Time { return t.IssuedAt.Add(t.Validity) }

// Stale reports whether less than margin of the window remains at now.
func (t FreshnessToken) Stale(now time.Time, margin time.Duration) bool {
	return t.Value == "" || t.Age(now) >= t.Validity-margin
}

// UnsignedTransaction is an immutable built message. A new freshness token
// always requires a new UnsignedTransaction.
type UnsignedTransaction struct {
	id      string
	quoteID string
	account string
	message []byte
	builtAt time.Time
}

// NewUnsignedTransaction copies message into a new immutable value.
func NewUnsignedTransaction(id, quoteID, account string, message []byte, builtAt time.Time) *UnsignedTransaction {
	return &UnsignedTransaction{
		id:      id,
		quoteID: quoteID,
		account: account,
		message: append([]byte(nil), message...),
		builtAt: builtAt,
	}
}

func (u *UnsignedTransaction) ID() string         { return u.id }
func (u *UnsignedTransaction) QuoteID() string    { return u.quoteID }
func (u *UnsignedTransaction) Account() string    { return u.account }
func (u *UnsignedTransaction) BuiltAt() time.Time { return u.builtAt }
func (u *UnsignedTransaction) Size() int          { return len(u.message) }

// Message returns a copy of the encoded message.
func (u *UnsignedTransaction) Message() []byte { return append([]byte(nil), u.message...) }

// SignedTransaction is ready to broadcast. Signature doubles as the outcome
// id and is known before submission.
type SignedTransaction struct {
	Signature string
	TxID      string
	Token     FreshnessToken
	Raw       []byte
	SignedAt  time.Time
}

// Status is a ledger-side or terminal outcome status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusUnknown   Status = "unknown"
)

// Lookup is the ledger's answer for an outcome id. Found is false when the
// ledger has no record of it.
type Lookup struct {
	Found  bool
	Status Status
	Reason string
}

// Reservation is the exposure hold an execution settles exactly once.
type Reservation interface {
	Key() string
	Amount() float64
	Closes() string
	Release() bool
	Commit(fill risk.Fill) bool
}

// Request is one triggered level handed to the pipeline.
type Request struct {
	AttemptID   string
	LevelID     string
	Pair        market.Pair
	Side        market.Side
	Quantity    float64 // base units
	Price       float64 // level price
	Account     string
	Reservation Reservation
}

// InputAmount is what the route spends: quote currency for buys, base for
// sells.
func (r Request) InputAmount() decimal.Decimal {
	if r.Side == market.Buy {
		return decimal.NewFromFloat(r.Quantity * r.Price).Round(6)
	}
	return decimal.NewFromFloat(r.Quantity).Round(9)
}

// Assets returns the input and output asset symbols.
func (r Request) Assets() (in, out string) {
	if r.Side == market.Buy {
		return r.Pair.Quote, r.Pair.Base
	}
	return r.Pair.Base, r.Pair.Quote
}

// Outcome is the terminal report of an execution.
type Outcome struct {
	AttemptID  string                  `json:"attempt_id"`
	LevelID    string                  `json:"level_id"`
	OutcomeID  string                  `json:"outcome_id,omitempty"`
	Side       market.Side             `json:"side"`
	Status     Status                  `json:"status"`
	State      State                   `json:"state"`
	Class      Class                   `json:"class,omitempty"`
	Reason     string                  `json:"reason,omitempty"`
	Attempts   int                     `json:"attempts"`
	Broadcasts int                     `json:"broadcasts"`
	Parked     bool                    `json:"parked,omitempty"`
	Fill       *risk.Fill              `json:"fill,omitempty"`
	Stages     map[State]time.Duration `json:"stages"`
	StartedAt  time.Time               `json:"started_at"`
	FinishedAt time.Time               `json:"finished_at"`
	Err        error                   `json:"-"`
}

// Pending is a broadcast whose result could not be determined in time. Its
// reservation stays held until the reconciler settles it.
type Pending struct {
	OutcomeID    string      `msgpack:"outcome_id" json:"outcome_id"`
	AttemptID    string      `msgpack:"attempt_id" json:"attempt_id"`
	LevelID      string      `msgpack:"level_id" json:"level_id"`
	Side         market.Side `msgpack:"side" json:"side"`
	Amount       float64     `msgpack:"amount" json:"amount"`
	Closes       string      `msgpack:"closes" json:"closes,omitempty"`
	FillPrice    float64     `msgpack:"fill_price" json:"fill_price"`
	FillQuantity float64     `msgpack:"fill_quantity" json:"fill_quantity"`
	FillValue    float64     `msgpack:"fill_value" json:"fill_value,omitempty"`
	TokenExpiry  time.Time   `msgpack:"token_expiry" json:"token_expiry"`
	ParkedAt     time.Time   `msgpack:"parked_at" json:"parked_at"`
}

// Fill converts the parked attempt into a risk fill.
func (p Pending) Fill(at time.Time) risk.Fill {
	return risk.Fill{
		OutcomeID: p.OutcomeID,
		LevelID:   p.LevelID,
		Side:      p.Side,
		Quantity:  p.FillQuantity,
		Price:     p.FillPrice,
		Value:     p.FillValue,
		At:        at,
	}
}

// QuoteService prices a route.
type QuoteService interface {
	GetQuote(ctx context.Context, req QuoteRequest) (Quote, error)
}

// Builder builds a fresh unsigned transaction for a quote. It is invoked
// anew on every attempt.
type Builder interface {
	BuildUnsigned(ctx context.Context, q Quote, account string) (*UnsignedTransaction, error)
}

// Signer signs an unsigned transaction bound to a freshness token. Budget is
// the expected time from token fetch to signature; confirmation-gated
// signers declare a larger one.
type Signer interface {
	Sign(ctx context.Context, tx *UnsignedTransaction, token FreshnessToken) (SignedTransaction, error)
	Address() string
	Budget() time.Duration
	RequiresConfirmation() bool
}

// OutcomeSource answers outcome lookups.
type OutcomeSource interface {
	Outcome(ctx context.Context, outcomeID string) (Lookup, error)
}

// Endpoint is the ledger RPC surface.
type Endpoint interface {
	OutcomeSource
	FreshnessToken(ctx context.Context) (FreshnessToken, error)
	Broadcast(ctx context.Context, tx SignedTransaction) (string, error)
}

// PendingStore persists parked attempts across restarts.
type PendingStore interface {
	Put(ctx context.Context, p Pending) error
	Delete(ctx context.Context, outcomeID string) error
	List(ctx context.Context) ([]Pending, error)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
