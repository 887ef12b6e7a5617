package risk

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/syncx"

	"gridpilot/pkg/market"
)

var (
	// ErrExposureLimit indicates a reservation would exceed the tier limit.
	ErrExposureLimit = errors.New("risk: exposure limit reached")
	// ErrBreakerOpen indicates the loss breaker blocks new exposure.
	ErrBreakerOpen = errors.New("risk: breaker open")
	// ErrDuplicateHold indicates a reservation with the same key is still live.
	ErrDuplicateHold = errors.New("risk: duplicate reservation")
	// ErrUnknownPosition indicates a closing reservation references no open position.
	ErrUnknownPosition = errors.New("risk: unknown position")
	// ErrInvalidAmount indicates a negative or non-finite amount.
	ErrInvalidAmount = errors.New("risk: invalid amount")
)

// TripListener is notified (outside the ledger lock) when the breaker trips.
type TripListener func(reason string)

// CloseListener is notified (outside the ledger lock) of every realised trade.
type CloseListener func(t ClosedTrade)

// Ledger is the single owner of capital and exposure state. Every mutation
// goes through its methods and is serialised by one mutex.
type Ledger struct {
	mu    sync.Mutex
	cfg   Config
	clock func() time.Time

	state     State
	holds     map[string]*Reservation
	positions map[string]*Position
	settled   map[string]struct{}
	started   time.Time

	tripped   *syncx.AtomicBool
	listeners []TripListener
	closers   []CloseListener
}

// LedgerOption customises a Ledger.
type LedgerOption func(*Ledger)

// WithClock overrides the time source (primarily for testing).
func WithClock(clock func() time.Time) LedgerOption {
	return func(l *Ledger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// NewLedger constructs a ledger funded with cfg.Capital.
func NewLedger(cfg Config, opts ...LedgerOption) *Ledger {
	cfg.ApplyDefaults()
	l := &Ledger{
		cfg:       cfg,
		clock:     time.Now,
		holds:     make(map[string]*Reservation),
		positions: make(map[string]*Position),
		settled:   make(map[string]struct{}),
		tripped:   syncx.NewAtomicBool(),
	}
	for _, opt := range opts {
		opt(l)
	}
	now := l.clock()
	l.started = now
	l.state.BaseCapital = cfg.Capital
	l.state.DayStart = startOfDay(now)
	return l
}

// OnTrip registers a breaker listener.
func (l *Ledger) OnTrip(fn TripListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// OnClose registers a listener for realised trades.
func (l *Ledger) OnClose(fn CloseListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closers = append(l.closers, fn)
}

// Tripped is a lock-free check of the breaker flag.
func (l *Ledger) Tripped() bool {
	return l.tripped.True()
}

// Limit returns the current exposure ceiling.
func (l *Ledger) Limit() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limitLocked()
}

func (l *Ledger) limitLocked() float64 {
	return l.cfg.Tiers.Limit(EffectiveCapital(l.state, l.cfg.compoundProfits()))
}

// Reserve optimistically books amount against the exposure limit.
func (l *Ledger) Reserve(amount float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollDayLocked()
	return l.reserveLocked(amount) == nil
}

func (l *Ledger) reserveLocked(amount float64) error {
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ErrInvalidAmount
	}
	if l.state.Breaker {
		return ErrBreakerOpen
	}
	if l.state.Reserved+l.state.Committed+amount > l.limitLocked()+1e-9 {
		return ErrExposureLimit
	}
	l.state.Reserved += amount
	return nil
}

// Release returns previously reserved exposure.
func (l *Ledger) Release(amount float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releaseLocked(amount)
}

func (l *Ledger) releaseLocked(amount float64) {
	if amount <= 0 {
		return
	}
	l.state.Reserved = math.Max(0, l.state.Reserved-amount)
}

// Commit converts reserved exposure into committed exposure.
func (l *Ledger) Commit(amount float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commitLocked(amount)
}

func (l *Ledger) commitLocked(amount float64) {
	if amount <= 0 {
		return
	}
	moved := math.Min(amount, l.state.Reserved)
	l.state.Reserved -= moved
	l.state.Committed += moved
}

// Hold reserves amount under key and returns a handle that settles exactly
// once. A non-empty closes references the open position the trade will
// close; closing holds bypass the breaker and book no new exposure.
func (l *Ledger) Hold(key string, amount float64, closes string) (*Reservation, error) {
	if key == "" {
		return nil, fmt.Errorf("risk: reservation key is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollDayLocked()

	if _, ok := l.holds[key]; ok {
		return nil, ErrDuplicateHold
	}
	if closes != "" {
		pos, ok := l.positions[closes]
		if !ok {
			return nil, ErrUnknownPosition
		}
		if pos.closing {
			return nil, ErrDuplicateHold
		}
		pos.closing = true
		r := &Reservation{ledger: l, key: key, closes: closes}
		l.holds[key] = r
		return r, nil
	}
	if err := l.reserveLocked(amount); err != nil {
		return nil, err
	}
	r := &Reservation{ledger: l, key: key, amount: amount}
	l.holds[key] = r
	return r, nil
}

// Settled reports whether an outcome id was already committed.
func (l *Ledger) Settled(outcomeID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.settled[outcomeID]
	return ok
}

// Snapshot returns a copy of the current state.
func (l *Ledger) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollDayLocked()
	return l.snapshotLocked()
}

func (l *Ledger) snapshotLocked() State {
	s := l.state
	s.Recent = append([]ClosedTrade(nil), l.state.Recent...)
	s.OpenPositions = make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		s.OpenPositions = append(s.OpenPositions, *p)
	}
	sortPositions(s.OpenPositions)
	return s
}

// Position returns a copy of an open position.
func (l *Ledger) Position(id string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[id]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Summary reports performance for status endpoints.
func (l *Ledger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollDayLocked()
	s := l.state
	capital := EffectiveCapital(s, l.cfg.compoundProfits())
	roi := 0.0
	if s.BaseCapital > 0 {
		roi = s.RealizedPnL / s.BaseCapital * 100
	}
	return Summary{
		TotalPnL:         s.RealizedPnL,
		DailyPnL:         s.DailyPnL,
		WinRate:          s.WinRate,
		TotalTrades:      s.TradeCount,
		OpenPositions:    len(l.positions),
		Exposure:         s.Exposure(),
		Reserved:         s.Reserved,
		Committed:        s.Committed,
		ExposureLimit:    l.cfg.Tiers.Limit(capital),
		EffectiveCapital: capital,
		MaxDrawdown:      s.MaxDrawdown,
		ROIPercent:       roi,
		SessionHours:     l.clock().Sub(l.started).Hours(),
		Breaker:          s.Breaker,
		BreakerReason:    s.BreakerReason,
	}
}

// Trip opens the breaker with reason.
func (l *Ledger) Trip(reason string) {
	l.mu.Lock()
	fire := l.tripLocked(reason)
	listeners := l.listeners
	l.mu.Unlock()
	notify(fire, reason, listeners)
}

// Resume closes the breaker regardless of reason.
func (l *Ledger) Resume() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.Breaker = false
	l.state.BreakerReason = ""
	l.tripped.Set(false)
}

// CheckStopLoss trips the breaker when any open position has moved against
// its entry by more than the stop-loss fraction. It returns the offending ids.
func (l *Ledger) CheckStopLoss(price float64) []string {
	if price <= 0 || l.cfg.StopLossPct <= 0 {
		return nil
	}
	l.mu.Lock()
	var hits []string
	for id, p := range l.positions {
		switch p.Side {
		case market.Buy:
			if price <= p.EntryPrice*(1-l.cfg.StopLossPct) {
				hits = append(hits, id)
			}
		case market.Sell:
			if price >= p.EntryPrice*(1+l.cfg.StopLossPct) {
				hits = append(hits, id)
			}
		}
	}
	fire := false
	if len(hits) > 0 {
		fire = l.tripLocked(ReasonStopLoss)
	}
	listeners := l.listeners
	l.mu.Unlock()
	notify(fire, ReasonStopLoss, listeners)
	sortStrings(hits)
	return hits
}

// Restore seeds performance counters from persisted history. It must be
// called before trading starts.
func (l *Ledger) Restore(h History) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range h.Trades {
		l.recordClosedLocked(t, false)
	}
	l.state.DailyPnL = h.DailyPnL
	l.state.DailyLoss = math.Max(0, -h.DailyPnL)
}

func (l *Ledger) tripLocked(reason string) bool {
	if l.state.Breaker {
		return false
	}
	l.state.Breaker = true
	l.state.BreakerReason = reason
	l.tripped.Set(true)
	return true
}

func notify(fire bool, reason string, listeners []TripListener) {
	if !fire {
		return
	}
	for _, fn := range listeners {
		fn(reason)
	}
}

// rollDayLocked resets the daily accumulator on a calendar boundary and
// clears day-scoped breaker trips.
func (l *Ledger) rollDayLocked() {
	day := startOfDay(l.clock())
	if !day.After(l.state.DayStart) {
		return
	}
	l.state.DayStart = day
	l.state.DailyPnL = 0
	l.state.DailyLoss = 0
	if l.state.Breaker && l.state.BreakerReason != ReasonMaxDrawdown && l.state.BreakerReason != ReasonManual {
		l.state.Breaker = false
		l.state.BreakerReason = ""
		l.tripped.Set(false)
	}
}

// recordClosedLocked folds a realised trade into the performance counters and
// reports whether a breaker condition tripped.
func (l *Ledger) recordClosedLocked(t ClosedTrade, checkBreaker bool) (string, bool) {
	s := &l.state
	s.RealizedPnL += t.PnL
	s.DailyPnL += t.PnL
	s.DailyLoss = math.Max(0, -s.DailyPnL)
	s.TradeCount++
	if t.PnL > 0 {
		s.Wins++
		s.GrossProfit += t.PnL
	} else {
		s.Losses++
	}
	s.WinRate = float64(s.Wins) / float64(s.TradeCount)
	if s.RealizedPnL < s.MaxDrawdown {
		s.MaxDrawdown = s.RealizedPnL
	}
	s.Recent = append(s.Recent, t)
	if n := l.cfg.HistoryWindow; n > 0 && len(s.Recent) > n {
		s.Recent = append([]ClosedTrade(nil), s.Recent[len(s.Recent)-n:]...)
	}
	if !checkBreaker {
		return "", false
	}
	if s.DailyLoss > 0 && s.DailyLoss >= s.BaseCapital*l.cfg.MaxDailyLossPct {
		return ReasonDailyLoss, l.tripLocked(ReasonDailyLoss)
	}
	if l.cfg.MaxDrawdownPct > 0 && -s.MaxDrawdown > s.BaseCapital*l.cfg.MaxDrawdownPct {
		return ReasonMaxDrawdown, l.tripLocked(ReasonMaxDrawdown)
	}
	return "", false
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
