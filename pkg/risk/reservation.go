package risk

import (
	"sort"

	"gridpilot/pkg/market"
)

// Reservation is a live exposure hold. Exactly one of Release or Commit takes
// effect; later calls are no-ops that report false.
type Reservation struct {
	ledger  *Ledger
	key     string
	amount  float64
	closes  string
	settled bool
}

// Key returns the reservation key.
func (r *Reservation) Key() string { return r.key }

// Amount returns the reserved exposure.
func (r *Reservation) Amount() float64 { return r.amount }

// Closes returns the position id a closing reservation targets.
func (r *Reservation) Closes() string { return r.closes }

// Settled reports whether the reservation was released or committed.
func (r *Reservation) Settled() bool {
	l := r.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	return r.settled
}

// Release returns the reserved exposure to the ledger.
func (r *Reservation) Release() bool {
	l := r.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	if r.settled {
		return false
	}
	r.settled = true
	delete(l.holds, r.key)
	if r.closes != "" {
		if pos, ok := l.positions[r.closes]; ok {
			pos.closing = false
		}
		return true
	}
	l.releaseLocked(r.amount)
	return true
}

// Commit books a confirmed fill. Opening fills become open positions worth
// the fill's value, and any unused part of the hold goes back to the ledger;
// closing fills realise pnl against the referenced position. A fill whose
// outcome id was already committed is ignored and the hold stays open for
// Release.
func (r *Reservation) Commit(fill Fill) bool {
	l := r.ledger
	l.mu.Lock()
	if r.settled {
		l.mu.Unlock()
		return false
	}
	if fill.OutcomeID != "" {
		if _, dup := l.settled[fill.OutcomeID]; dup {
			l.mu.Unlock()
			return false
		}
		l.settled[fill.OutcomeID] = struct{}{}
	}
	r.settled = true
	delete(l.holds, r.key)
	if fill.At.IsZero() {
		fill.At = l.clock()
	}
	l.rollDayLocked()

	var (
		reason string
		fire   bool
		closed *ClosedTrade
	)
	if r.closes == "" {
		value := r.amount
		if fill.Value > 0 && fill.Value < value {
			value = fill.Value
		}
		l.commitLocked(value)
		l.releaseLocked(r.amount - value)
		id := fill.OutcomeID
		if id == "" {
			id = r.key
		}
		l.positions[id] = &Position{
			ID:         id,
			LevelID:    fill.LevelID,
			Side:       fill.Side,
			Quantity:   fill.Quantity,
			EntryPrice: fill.Price,
			Value:      value,
			OpenedAt:   fill.At,
		}
	} else if pos, ok := l.positions[r.closes]; ok {
		delete(l.positions, r.closes)
		l.state.Committed = maxf(0, l.state.Committed-pos.Value)
		qty := pos.Quantity
		if fill.Quantity > 0 && fill.Quantity < qty {
			qty = fill.Quantity
		}
		pnl := (fill.Price - pos.EntryPrice) * qty
		if pos.Side == market.Sell {
			pnl = -pnl
		}
		closed = &ClosedTrade{
			ID:         pos.ID,
			Side:       pos.Side,
			Quantity:   qty,
			EntryPrice: pos.EntryPrice,
			ExitPrice:  fill.Price,
			PnL:        pnl,
			ClosedAt:   fill.At,
		}
		reason, fire = l.recordClosedLocked(*closed, true)
	}
	listeners, closers := l.listeners, l.closers
	l.mu.Unlock()
	if closed != nil {
		for _, fn := range closers {
			fn(*closed)
		}
	}
	notify(fire, reason, listeners)
	return true
}

func sortPositions(ps []Position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].OpenedAt.Equal(ps[j].OpenedAt) {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].OpenedAt.Before(ps[j].OpenedAt)
	})
}

func sortStrings(v []string) {
	sort.Strings(v)
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
