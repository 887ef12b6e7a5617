package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"gridpilot/pkg/market"
	"gridpilot/pkg/risk"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeQuotes prices every route at 100 quote units per base unit.
type fakeQuotes struct {
	mu       sync.Mutex
	clock    *fakeClock
	errs     []error
	requests []QuoteRequest
}

func (f *fakeQuotes) GetQuote(_ context.Context, req QuoteRequest) (Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return Quote{}, err
		}
	}
	hundred := decimal.NewFromInt(100)
	out := req.Amount.Mul(hundred)
	if req.InputAsset == "USDC" {
		out = req.Amount.Div(hundred)
	}
	return Quote{
		ID:          fmt.Sprintf("q-%d", len(f.requests)),
		InputAsset:  req.InputAsset,
		OutputAsset: req.OutputAsset,
		InAmount:    req.Amount,
		OutAmount:   out,
		SlippageBps: req.SlippageBps,
		FetchedAt:   f.clock.Now(),
	}, nil
}

func (f *fakeQuotes) amounts() []decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]decimal.Decimal, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, r.Amount)
	}
	return out
}

type fakeBuilder struct {
	mu    sync.Mutex
	clock *fakeClock
	errs  []error
	built int
}

func (f *fakeBuilder) BuildUnsigned(_ context.Context, q Quote, account string) (*UnsignedTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	f.built++
	return NewUnsignedTransaction(fmt.Sprintf("tx-%d", f.built), q.ID, account, []byte("swap:"+q.ID), f.clock.Now()), nil
}

type fakeSigner struct {
	mu     sync.Mutex
	clock  *fakeClock
	budget time.Duration
	delay  time.Duration
	hook   func()
	tokens []string
}

func (f *fakeSigner) Sign(_ context.Context, tx *UnsignedTransaction, token FreshnessToken) (SignedTransaction, error) {
	f.clock.Advance(f.delay)
	if f.hook != nil {
		f.hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token.Value)
	return SignedTransaction{
		Signature: "sig-" + token.Value,
		TxID:      tx.ID(),
		Raw:       tx.Message(),
		SignedAt:  f.clock.Now(),
	}, nil
}

func (f *fakeSigner) Address() string            { return "wallet-1" }
func (f *fakeSigner) Budget() time.Duration      { return f.budget }
func (f *fakeSigner) RequiresConfirmation() bool { return false }

func (f *fakeSigner) signed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tokens...)
}

// fakeLedger lands every broadcast as confirmed unless onBroadcast or
// onOutcome say otherwise.
type fakeLedger struct {
	mu       sync.Mutex
	clock    *fakeClock
	fetches  int
	outcomes map[string]Lookup
	sent     []SignedTransaction
	lookups  int

	tokenFn     func(n int, now time.Time) FreshnessToken
	onBroadcast func(n int, tx SignedTransaction) (land *Lookup, err error)
	onOutcome   func(n int, id string) (Lookup, error)
}

func newFakeLedger(clock *fakeClock) *fakeLedger {
	return &fakeLedger{clock: clock, outcomes: make(map[string]Lookup)}
}

func (f *fakeLedger) FreshnessToken(context.Context) (FreshnessToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.fetches
	f.fetches++
	now := f.clock.Now()
	if f.tokenFn != nil {
		return f.tokenFn(n, now), nil
	}
	return FreshnessToken{Value: fmt.Sprintf("tok-%d", n), IssuedAt: now, Validity: 90 * time.Second}, nil
}

func (f *fakeLedger) Broadcast(_ context.Context, tx SignedTransaction) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	land := &Lookup{Found: true, Status: StatusConfirmed}
	var err error
	if f.onBroadcast != nil {
		land, err = f.onBroadcast(len(f.sent), tx)
	}
	if land != nil {
		f.outcomes[tx.Signature] = *land
	}
	if err != nil {
		return "", err
	}
	return tx.Signature, nil
}

func (f *fakeLedger) Outcome(_ context.Context, id string) (Lookup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.onOutcome != nil {
		return f.onOutcome(f.lookups, id)
	}
	return f.outcomes[id], nil
}

func (f *fakeLedger) set(id string, l Lookup) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[id] = l
}

func (f *fakeLedger) broadcasts() []SignedTransaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SignedTransaction(nil), f.sent...)
}

// fakeReservation counts settlement calls; only the first one takes effect.
type fakeReservation struct {
	mu       sync.Mutex
	key      string
	amount   float64
	closes   string
	releases int
	commits  int
	fill     *risk.Fill
}

func (r *fakeReservation) Key() string     { return r.key }
func (r *fakeReservation) Amount() float64 { return r.amount }
func (r *fakeReservation) Closes() string  { return r.closes }

func (r *fakeReservation) Release() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releases++
	return r.releases == 1 && r.commits == 0
}

func (r *fakeReservation) Commit(fill risk.Fill) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits++
	if r.commits == 1 && r.releases == 0 {
		r.fill = &fill
		return true
	}
	return false
}

func (r *fakeReservation) counts() (releases, commits int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.releases, r.commits
}

type memStore struct {
	mu    sync.Mutex
	items map[string]Pending
	err   error
}

func newMemStore() *memStore { return &memStore{items: make(map[string]Pending)} }

func (m *memStore) Put(_ context.Context, p Pending) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.items[p.OutcomeID] = p
	return nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

func (m *memStore) List(context.Context) ([]Pending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Pending, 0, len(m.items))
	for _, p := range m.items {
		out = append(out, p)
	}
	return out, nil
}

func buyRequest(level string, res Reservation) Request {
	return Request{
		AttemptID:   "attempt-" + level,
		LevelID:     level,
		Pair:        market.Pair{Base: "SOL", Quote: "USDC"},
		Side:        market.Buy,
		Quantity:    0.5,
		Price:       100,
		Reservation: res,
	}
}
