package risk

import (
	"time"

	"gridpilot/pkg/market"
)

// Breaker trip reasons.
const (
	ReasonDailyLoss   = "daily_loss"
	ReasonStopLoss    = "stop_loss"
	ReasonMaxDrawdown = "max_drawdown"
	ReasonManual      = "manual"
)

// State is a point-in-time copy of the capital and performance book. Only
// the Ledger produces and mutates it.
type State struct {
	BaseCapital float64
	RealizedPnL float64
	GrossProfit float64 // sum of winning trade pnl, used for compounding
	Reserved    float64
	Committed   float64

	TradeCount int
	Wins       int
	Losses     int
	WinRate    float64

	DailyPnL    float64
	DailyLoss   float64
	DayStart    time.Time
	MaxDrawdown float64 // most negative cumulative pnl observed

	Breaker       bool
	BreakerReason string

	Recent        []ClosedTrade // oldest first, bounded by HistoryWindow
	OpenPositions []Position
}

// Exposure is reserved plus committed capital.
func (s State) Exposure() float64 {
	return s.Reserved + s.Committed
}

// EffectiveCapital is base capital plus compounded profit, capped at 2x base.
func EffectiveCapital(s State, compound bool) float64 {
	if !compound {
		return s.BaseCapital
	}
	credit := s.GrossProfit
	if credit > s.BaseCapital {
		credit = s.BaseCapital
	}
	if credit < 0 {
		credit = 0
	}
	return s.BaseCapital + credit
}

// ClosedTrade is a realised round trip.
type ClosedTrade struct {
	ID         string      `json:"id"`
	Side       market.Side `json:"side"` // side of the opening fill
	Quantity   float64     `json:"quantity"`
	EntryPrice float64     `json:"entry_price"`
	ExitPrice  float64     `json:"exit_price"`
	PnL        float64     `json:"pnl"`
	ClosedAt   time.Time   `json:"closed_at"`
}

// ReturnPct is |pnl| relative to the position value.
func (t ClosedTrade) ReturnPct() float64 {
	value := t.Quantity * t.EntryPrice
	if value <= 0 {
		return 0
	}
	pnl := t.PnL
	if pnl < 0 {
		pnl = -pnl
	}
	return pnl / value
}

// Position is an open fill awaiting its opposite level.
type Position struct {
	ID         string      `json:"id"`
	LevelID    string      `json:"level_id"`
	Side       market.Side `json:"side"`
	Quantity   float64     `json:"quantity"`
	EntryPrice float64     `json:"entry_price"`
	Value      float64     `json:"value"`
	OpenedAt   time.Time   `json:"opened_at"`
	closing    bool
}

// Fill describes a confirmed execution handed to Reservation.Commit.
type Fill struct {
	OutcomeID string
	LevelID   string
	Side      market.Side
	Quantity  float64
	Price     float64
	// Value is the exposure the fill actually carried. Zero books the whole
	// reservation.
	Value float64
	At    time.Time
}

// History seeds a fresh ledger from persisted trades.
type History struct {
	Trades   []ClosedTrade // oldest first
	DailyPnL float64
}

// Summary is a reporting view over State.
type Summary struct {
	TotalPnL         float64 `json:"total_pnl"`
	DailyPnL         float64 `json:"daily_pnl"`
	WinRate          float64 `json:"win_rate"`
	TotalTrades      int     `json:"total_trades"`
	OpenPositions    int     `json:"open_positions"`
	Exposure         float64 `json:"current_exposure"`
	Reserved         float64 `json:"reserved"`
	Committed        float64 `json:"committed"`
	ExposureLimit    float64 `json:"exposure_limit"`
	EffectiveCapital float64 `json:"effective_capital"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	ROIPercent       float64 `json:"roi_percent"`
	SessionHours     float64 `json:"session_duration_hours"`
	Breaker          bool    `json:"breaker"`
	BreakerReason    string  `json:"breaker_reason,omitempty"`
}
