package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/zeromicro/go-zero/core/logx"

	"gridpilot/pkg/bot"
	"gridpilot/pkg/events"
	"gridpilot/pkg/execution"
	"gridpilot/pkg/ledger/sim"
	"gridpilot/pkg/market"
	"gridpilot/pkg/market/indicators"
	"gridpilot/pkg/risk"
)

// Engine replays a Feeder through a bot trading against a paper venue. Every
// point moves the venue price, runs one planning cycle and waits for the
// executions it launched.
type Engine struct {
	Config *bot.Config
	Venue  *sim.Venue
	Signer execution.Signer
	Feeder Feeder

	// Sink receives the bot's lifecycle events in addition to the counters.
	Sink events.Sink

	// OutputPath, when set, receives the JSON report.
	OutputPath string
}

// Result summarizes a replay.
type Result struct {
	Steps        int           `json:"steps"`
	Triggered    int           `json:"triggered"`
	Confirmed    int           `json:"confirmed"`
	Failed       int           `json:"failed"`
	Rejected     int           `json:"rejected"`
	BreakerTrips int           `json:"breaker_trips"`
	Trades       int           `json:"trades"`
	Wins         int           `json:"wins"`
	WinRate      float64       `json:"win_rate"`
	RealizedPNL  float64       `json:"realized_pnl"`
	UnrealPNL    float64       `json:"unrealized_pnl"`
	TotalPNL     float64       `json:"total_pnl"`
	MaxDDPct     float64       `json:"max_drawdown_pct"`
	Sharpe       float64       `json:"sharpe"`
	EquityCurve  []float64     `json:"equity_curve"`
	Details      []TradeDetail `json:"trades_detail"`
	Summary      risk.Summary  `json:"summary"`
}

// TradeDetail records one realised round trip and the step that closed it.
type TradeDetail struct {
	Step       int         `json:"step"`
	Side       market.Side `json:"side"`
	Quantity   float64     `json:"quantity"`
	EntryPrice float64     `json:"entry_price"`
	ExitPrice  float64     `json:"exit_price"`
	PnL        float64     `json:"pnl"`
}

type counter struct {
	mu   sync.Mutex
	res  *Result
	step int
}

func (c *counter) Emit(_ context.Context, e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch e.Kind {
	case events.KindTriggered:
		c.res.Triggered++
	case events.KindRejected:
		c.res.Rejected++
	case events.KindBreaker:
		c.res.BreakerTrips++
	case events.KindOutcome:
		if e.Status == string(execution.StatusConfirmed) {
			c.res.Confirmed++
		} else {
			c.res.Failed++
		}
	}
}

func (c *counter) closed(t risk.ClosedTrade) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.res.Details = append(c.res.Details, TradeDetail{
		Step:       c.step,
		Side:       t.Side,
		Quantity:   t.Quantity,
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		PnL:        t.PnL,
	})
}

func (c *counter) setStep(n int) {
	c.mu.Lock()
	c.step = n
	c.mu.Unlock()
}

// Run replays the whole series. Tick errors on a single point are logged and
// the replay continues.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if e.Config == nil || e.Venue == nil || e.Signer == nil || e.Feeder == nil {
		return nil, errors.New("backtest: engine not fully configured")
	}
	res := &Result{}
	c := &counter{res: res}
	sink := events.Combine(c, e.Sink)

	b, err := bot.NewFromConfig(e.Config, e.Venue, e.Signer, nil, sink)
	if err != nil {
		return nil, err
	}
	defer b.Stop()
	book := b.Ledger()
	book.OnClose(c.closed)
	pair := e.Config.MarketPair()
	capital := book.Snapshot().BaseCapital

	for {
		p, ok, err := e.Feeder.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		res.Steps++
		c.setStep(res.Steps)
		if err := e.Venue.SetPrice(pair, p.Price); err != nil {
			return nil, err
		}
		if err := b.Tick(ctx); err != nil {
			logx.WithContext(ctx).Errorf("backtest: step=%d price=%.4f err=%v", res.Steps, p.Price, err)
		}
		b.Wait()
		res.EquityCurve = append(res.EquityCurve, capital+markToMarket(book.Snapshot(), p.Price))
	}

	state := book.Snapshot()
	res.Trades = state.TradeCount
	res.Wins = state.Wins
	res.WinRate = state.WinRate
	res.RealizedPNL = state.RealizedPnL
	if n := len(res.EquityCurve); n > 0 {
		res.TotalPNL = res.EquityCurve[n-1] - capital
		res.UnrealPNL = res.TotalPNL - res.RealizedPNL
	}
	res.MaxDDPct = maxDrawdownPct(append([]float64{capital}, res.EquityCurve...))
	res.Sharpe = sharpe(res.EquityCurve)
	res.Summary = book.Summary()

	if e.OutputPath != "" {
		if err := writeReport(e.OutputPath, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// markToMarket is realised pnl plus the paper pnl of open positions at px.
func markToMarket(s risk.State, px float64) float64 {
	total := s.RealizedPnL
	for _, pos := range s.OpenPositions {
		diff := (px - pos.EntryPrice) * pos.Quantity
		if pos.Side == market.Sell {
			diff = -diff
		}
		total += diff
	}
	return total
}

func maxDrawdownPct(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	peak := series[0]
	mdd := 0.0
	for _, v := range series {
		peak = math.Max(peak, v)
		if peak > 0 {
			mdd = math.Max(mdd, (peak-v)/peak)
		}
	}
	return mdd * 100
}

// sharpe is the per-step return mean over its deviation, scaled by the
// square root of the sample count. Flat curves score zero.
func sharpe(equity []float64) float64 {
	rets := indicators.Returns(equity)
	if len(rets) < 2 {
		return 0
	}
	sd := indicators.StdDev(rets)
	if sd == 0 || math.IsNaN(sd) {
		return 0
	}
	return indicators.Mean(rets) / sd * math.Sqrt(float64(len(rets)))
}

func writeReport(path string, r *Result) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("backtest: encode report: %w", err)
	}
	return os.WriteFile(path, b, 0o600)
}
