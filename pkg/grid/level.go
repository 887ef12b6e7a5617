package grid

import (
	"fmt"

	"gridpilot/pkg/execution"
	"gridpilot/pkg/market"
	"gridpilot/pkg/risk"
)

// Level is a planned price point. Plans are recomputed each cycle and
// replace their levels wholesale; a level value is never patched in place
// by the planner.
type Level struct {
	ID       string          `json:"id"`
	Side     market.Side     `json:"side"`
	Index    int             `json:"index"`
	Price    float64         `json:"price"`
	Quantity float64         `json:"quantity"`
	State    execution.State `json:"state"`
	Attempts int             `json:"attempts"`

	// Closes is the open position a paired level exits. Empty for planned
	// levels.
	Closes string `json:"closes,omitempty"`
}

// Crossed reports whether price has reached the level.
func (l Level) Crossed(price float64) bool {
	if price <= 0 {
		return false
	}
	if l.Side == market.Buy {
		return price <= l.Price
	}
	return price >= l.Price
}

// Paired reports whether the level closes an existing position.
func (l Level) Paired() bool { return l.Closes != "" }

// LevelID is the stable identifier of the i-th (1-based) level on side.
func LevelID(side market.Side, i int) string {
	return fmt.Sprintf("%s-%d", side, i)
}

// OppositeLevel builds the exit level for a filled position: a buy fill is
// paired with a sell one spacing above its entry and vice versa.
func OppositeLevel(pos risk.Position, spacing float64) Level {
	side := pos.Side.Opposite()
	price := pos.EntryPrice * (1 + spacing)
	if side == market.Buy {
		price = pos.EntryPrice * (1 - spacing)
	}
	return Level{
		ID:       "pair-" + pos.ID,
		Side:     side,
		Price:    price,
		Quantity: pos.Quantity,
		State:    execution.StateIdle,
		Closes:   pos.ID,
	}
}

// Plan is the output of one planning cycle.
type Plan struct {
	Price      float64   `json:"price"`
	Spacing    float64   `json:"spacing"`
	Volatility float64   `json:"volatility"`
	Tier       string    `json:"tier"`
	Weighted   bool      `json:"volume_weighted"`
	Buys       []Level   `json:"buys"`  // price descending
	Sells      []Level   `json:"sells"` // price ascending
	Analysis   *Analysis `json:"analysis,omitempty"`
}

// Levels returns buys followed by sells.
func (p Plan) Levels() []Level {
	out := make([]Level, 0, len(p.Buys)+len(p.Sells))
	out = append(out, p.Buys...)
	return append(out, p.Sells...)
}

// Level finds a level by id.
func (p Plan) Level(id string) (Level, bool) {
	for _, l := range p.Levels() {
		if l.ID == id {
			return l, true
		}
	}
	return Level{}, false
}
