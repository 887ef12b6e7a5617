package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gridpilot/pkg/execution"
	"gridpilot/pkg/ledger"
	"gridpilot/pkg/market"
	"gridpilot/pkg/signer"
	"gridpilot/pkg/txbuild"
)

const (
	defaultPrice    = 100.0
	defaultValidity = 90 * time.Second
	depthLevels     = 10
)

// Fault injection targets.
const (
	OpToken     = "token"
	OpBroadcast = "broadcast"
	OpOutcome   = "outcome"
	OpQuote     = "quote"
)

// ErrBadSignature is returned for broadcasts whose signature does not
// recover to the transaction's account.
var ErrBadSignature = errors.New("sim: transaction signature verification failure")

var quoteAssets = map[string]bool{"USDC": true, "USDT": true}

func init() {
	ledger.RegisterVenue("sim", func(name string, cfg *ledger.VenueConfig) (ledger.Venue, error) {
		return NewFromConfig(cfg)
	})
}

type txState struct {
	input   string
	output  string
	credit  decimal.Decimal
	lookups int
	dropped bool
	landed  bool
}

// Venue is an in-memory paper ledger. It issues freshness tokens, verifies
// signatures, moves balances and lands transactions after a configurable
// number of status lookups.
type Venue struct {
	mu sync.Mutex

	assets    market.Assets
	prices    map[string]float64
	fallback  float64
	spreadBps int
	validity  time.Duration
	landAfter int
	dropRate  float64

	balances map[string]decimal.Decimal
	tokens   map[string]time.Time
	txs      map[string]*txState
	faults   map[string][]error

	quoteSeq   int
	broadcasts int
	rng        *rand.Rand
	clock      func() time.Time
}

// Option customises a Venue.
type Option func(*Venue)

// WithAssets replaces the asset table.
func WithAssets(assets market.Assets) Option {
	return func(v *Venue) {
		if len(assets) > 0 {
			v.assets = assets
		}
	}
}

// WithClock overrides the venue clock.
func WithClock(clock func() time.Time) Option {
	return func(v *Venue) { v.clock = clock }
}

// WithSpread sets the quote spread in basis points around the mid price.
func WithSpread(bps int) Option {
	return func(v *Venue) { v.spreadBps = bps }
}

// WithTokenValidity sets how long issued tokens are accepted.
func WithTokenValidity(d time.Duration) Option {
	return func(v *Venue) {
		if d > 0 {
			v.validity = d
		}
	}
}

// WithLanding makes broadcasts stay pending for n lookups and silently drops
// the given fraction of them.
func WithLanding(n int, dropRate float64, seed int64) Option {
	return func(v *Venue) {
		v.landAfter = n
		v.dropRate = dropRate
		v.rng = rand.New(rand.NewSource(seed))
	}
}

// WithBalance credits account holdings of asset.
func WithBalance(asset string, amount float64) Option {
	return func(v *Venue) {
		v.balances[canonical(asset)] = decimal.NewFromFloat(amount)
	}
}

// New returns a venue quoting every pair at fallback until SetPrice is
// called.
func New(fallback float64, opts ...Option) *Venue {
	if fallback <= 0 {
		fallback = defaultPrice
	}
	v := &Venue{
		assets:   market.DefaultAssets(),
		prices:   make(map[string]float64),
		fallback: fallback,
		validity: defaultValidity,
		balances: make(map[string]decimal.Decimal),
		tokens:   make(map[string]time.Time),
		txs:      make(map[string]*txState),
		faults:   make(map[string][]error),
		rng:      rand.New(rand.NewSource(1)),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// NewFromConfig builds a venue from its YAML definition.
func NewFromConfig(cfg *ledger.VenueConfig) (*Venue, error) {
	if cfg == nil {
		return nil, fmt.Errorf("sim: nil config")
	}
	opts := []Option{
		WithAssets(cfg.AssetTable()),
		WithSpread(cfg.Sim.SpreadBps),
		WithTokenValidity(cfg.TokenValidity),
		WithLanding(cfg.Sim.LandAfter, cfg.Sim.DropRate, cfg.Sim.Seed),
	}
	for asset, amount := range cfg.Sim.Balances {
		if amount < 0 {
			return nil, fmt.Errorf("sim: negative balance for %s", asset)
		}
		opts = append(opts, WithBalance(asset, amount))
	}
	return New(cfg.Sim.Price, opts...), nil
}

func canonical(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

// SetPrice updates the mid price of pair.
func (v *Venue) SetPrice(pair market.Pair, price float64) error {
	if price <= 0 {
		return fmt.Errorf("sim: price must be positive")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prices[pairKey(pair.Base, pair.Quote)] = price
	return nil
}

// InjectFault queues err to be returned by the next call of op.
func (v *Venue) InjectFault(op string, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.faults[op] = append(v.faults[op], err)
}

// Balance returns the holdings of asset.
func (v *Venue) Balance(asset string) decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[canonical(asset)]
}

// Broadcasts counts accepted broadcasts.
func (v *Venue) Broadcasts() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.broadcasts
}

func pairKey(base, quote string) string { return canonical(base) + "/" + canonical(quote) }

func (v *Venue) faultLocked(op string) error {
	q := v.faults[op]
	if len(q) == 0 {
		return nil
	}
	v.faults[op] = q[1:]
	return q[0]
}

func (v *Venue) midLocked(base, quote string) float64 {
	if p, ok := v.prices[pairKey(base, quote)]; ok {
		return p
	}
	return v.fallback
}

// Price returns the mid price of pair.
func (v *Venue) Price(ctx context.Context, pair market.Pair) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.midLocked(pair.Base, pair.Quote), nil
}

// Depth synthesises a book around the mid price, one spread step per level.
func (v *Venue) Depth(ctx context.Context, pair market.Pair) (*market.DepthSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	mid := v.midLocked(pair.Base, pair.Quote)
	step := float64(v.spreadBps) / 10000
	now := v.clock()
	v.mu.Unlock()
	if step <= 0 {
		step = 0.0005
	}
	snap := &market.DepthSnapshot{Pair: pair, FetchedAt: now}
	for i := 1; i <= depthLevels; i++ {
		size := float64(i) * 10
		snap.Bids = append(snap.Bids, market.DepthEntry{Price: mid * (1 - step*float64(i)), Size: size})
		snap.Asks = append(snap.Asks, market.DepthEntry{Price: mid * (1 + step*float64(i)), Size: size})
	}
	return snap, nil
}

// outLocked prices amount of in into out at the current mid, paying half the
// spread.
func (v *Venue) outLocked(in, out string, amount decimal.Decimal) decimal.Decimal {
	half := decimal.NewFromInt(int64(v.spreadBps)).Div(decimal.NewFromInt(20000))
	if quoteAssets[canonical(in)] && !quoteAssets[canonical(out)] {
		mid := decimal.NewFromFloat(v.midLocked(out, in))
		return amount.Div(mid.Mul(decimal.NewFromInt(1).Add(half)))
	}
	mid := decimal.NewFromFloat(v.midLocked(in, out))
	return amount.Mul(mid.Mul(decimal.NewFromInt(1).Sub(half)))
}

// GetQuote prices req at the current mid.
func (v *Venue) GetQuote(ctx context.Context, req execution.QuoteRequest) (execution.Quote, error) {
	if err := ctx.Err(); err != nil {
		return execution.Quote{}, err
	}
	in, err := v.assets.Lookup(req.InputAsset)
	if err != nil {
		return execution.Quote{}, fmt.Errorf("sim: %w", err)
	}
	out, err := v.assets.Lookup(req.OutputAsset)
	if err != nil {
		return execution.Quote{}, fmt.Errorf("sim: %w", err)
	}
	if !req.Amount.IsPositive() {
		return execution.Quote{}, fmt.Errorf("%w: amount must be positive", execution.ErrInvalidRequest)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.faultLocked(OpQuote); err != nil {
		return execution.Quote{}, err
	}
	v.quoteSeq++
	return execution.Quote{
		ID:          fmt.Sprintf("sim-q-%d", v.quoteSeq),
		InputAsset:  in.Symbol,
		OutputAsset: out.Symbol,
		InAmount:    req.Amount,
		OutAmount:   v.outLocked(in.Symbol, out.Symbol, req.Amount).Truncate(out.Decimals),
		SlippageBps: req.SlippageBps,
		FetchedAt:   v.clock(),
	}, nil
}

// FreshnessToken issues a new token.
func (v *Venue) FreshnessToken(ctx context.Context) (execution.FreshnessToken, error) {
	if err := ctx.Err(); err != nil {
		return execution.FreshnessToken{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.faultLocked(OpToken); err != nil {
		return execution.FreshnessToken{}, err
	}
	now := v.clock()
	tok := uuid.NewString()
	v.tokens[tok] = now
	return execution.FreshnessToken{Value: tok, IssuedAt: now, Validity: v.validity}, nil
}

// Broadcast validates and accepts a signed transaction. The input side is
// debited immediately; the output is credited when the transaction lands.
func (v *Venue) Broadcast(ctx context.Context, tx execution.SignedTransaction) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	env, err := signer.DecodeEnvelope(tx.Raw)
	if err != nil {
		return "", err
	}
	addr, err := signer.Recover(env)
	if err != nil || !strings.EqualFold(addr, env.Account) {
		return "", ErrBadSignature
	}
	msg, err := txbuild.Decode(env.Message)
	if err != nil {
		return "", err
	}
	in, err := v.assets.Lookup(msg.InputAsset)
	if err != nil {
		return "", fmt.Errorf("sim: %w", err)
	}
	out, err := v.assets.Lookup(msg.OutputAsset)
	if err != nil {
		return "", fmt.Errorf("sim: %w", err)
	}
	inUnits, err := decimal.NewFromString(msg.InAtomic)
	if err != nil {
		return "", fmt.Errorf("sim: bad input amount %q: %w", msg.InAtomic, err)
	}
	minUnits, err := decimal.NewFromString(msg.MinOutAtoms)
	if err != nil {
		return "", fmt.Errorf("sim: bad min output %q: %w", msg.MinOutAtoms, err)
	}
	id := tx.Signature

	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.faultLocked(OpBroadcast); err != nil {
		return "", err
	}
	if _, dup := v.txs[id]; dup {
		return id, nil
	}
	issued, ok := v.tokens[env.Token]
	if !ok || !v.clock().Before(issued.Add(v.validity)) {
		return "", fmt.Errorf("%w: blockhash not found", execution.ErrFreshnessExpired)
	}
	amount := in.FromAtomic(inUnits)
	if v.balances[in.Symbol].LessThan(amount) {
		return "", fmt.Errorf("%w: have %s %s, need %s", execution.ErrInsufficientFunds,
			v.balances[in.Symbol], in.Symbol, amount)
	}
	credit := v.outLocked(in.Symbol, out.Symbol, amount).Truncate(out.Decimals)
	if credit.LessThan(out.FromAtomic(minUnits)) {
		return "", fmt.Errorf("%w: would receive %s %s, minimum %s", execution.ErrSlippageExceeded,
			credit, out.Symbol, out.FromAtomic(minUnits))
	}

	v.balances[in.Symbol] = v.balances[in.Symbol].Sub(amount)
	st := &txState{input: in.Symbol, output: out.Symbol, credit: credit}
	if v.dropRate > 0 && v.rng.Float64() < v.dropRate {
		st.dropped = true
	}
	v.txs[id] = st
	v.broadcasts++
	return id, nil
}

// Outcome reports pending until the transaction has been looked up
// landAfter times, then confirmed. Dropped transactions are never found.
func (v *Venue) Outcome(ctx context.Context, outcomeID string) (execution.Lookup, error) {
	if err := ctx.Err(); err != nil {
		return execution.Lookup{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.faultLocked(OpOutcome); err != nil {
		return execution.Lookup{}, err
	}
	st, ok := v.txs[outcomeID]
	if !ok || st.dropped {
		return execution.Lookup{Found: false}, nil
	}
	if !st.landed {
		if st.lookups < v.landAfter {
			st.lookups++
			return execution.Lookup{Found: true, Status: execution.StatusPending}, nil
		}
		st.landed = true
		v.balances[st.output] = v.balances[st.output].Add(st.credit)
	}
	return execution.Lookup{Found: true, Status: execution.StatusConfirmed}, nil
}

var _ ledger.Venue = (*Venue)(nil)
