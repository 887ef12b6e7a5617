package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"

	"gridpilot/pkg/events"
	"gridpilot/pkg/execution"
	"gridpilot/pkg/grid"
	"gridpilot/pkg/ledger"
	"gridpilot/pkg/market"
	"gridpilot/pkg/risk"
	"gridpilot/pkg/txbuild"
)

// Rejection reasons reported on KindRejected events.
const (
	RejectZeroSize     = "zero_size"
	RejectBreaker      = "breaker_open"
	RejectExposure     = "exposure_limit"
	RejectAlreadyClose = "already_closing"
	RejectBusy         = "worker_pool_busy"
)

// Deps are the collaborators a Bot drives.
type Deps struct {
	Prices   market.PriceSource
	Depth    market.DepthSource
	Pipeline *execution.Pipeline
	Ledger   *risk.Ledger
	Sink     events.Sink
}

type levelStatus struct {
	state    execution.State
	attempts int
}

// Bot is the polling planning loop. Each tick it checks the previous plan
// for crossed levels, hands them to the execution pipeline on a bounded
// worker pool, and replans around the new price.
type Bot struct {
	cfg      Config
	pair     market.Pair
	prices   market.PriceSource
	depth    *market.CachedDepth
	planner  *grid.Planner
	vol      *grid.VolatilityEstimator
	book     *risk.Ledger
	pipeline *execution.Pipeline
	gate     *execution.Gate
	runner   *threading.TaskRunner
	sink     events.Sink

	mu        sync.RWMutex
	plan      grid.Plan
	planned   bool
	pairs     map[string]grid.Level
	status    map[string]levelStatus
	opening   map[string]context.CancelFunc
	lastSweep time.Time

	baseCtx  context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New wires a bot from an already prepared config.
func New(cfg *Config, deps Deps) (*Bot, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("bot: config is required")
	case deps.Prices == nil:
		return nil, errors.New("bot: price source is required")
	case deps.Pipeline == nil:
		return nil, errors.New("bot: execution pipeline is required")
	case deps.Ledger == nil:
		return nil, errors.New("bot: risk ledger is required")
	}
	pair := cfg.MarketPair()
	if pair.Base == "" {
		p, err := market.ParsePair(cfg.Pair)
		if err != nil {
			return nil, fmt.Errorf("bot: %w", err)
		}
		pair = p
	}
	sink := deps.Sink
	if sink == nil {
		sink = events.Discard
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		cfg:      *cfg,
		pair:     pair,
		prices:   deps.Prices,
		planner:  grid.NewPlanner(cfg.Grid, risk.NewSizer(cfg.Risk), cfg.BaseRisk),
		vol:      grid.NewVolatilityEstimator(cfg.Grid.Volatility),
		book:     deps.Ledger,
		pipeline: deps.Pipeline,
		gate:     execution.NewGate(),
		runner:   threading.NewTaskRunner(maxInt(cfg.MaxConcurrent, 1)),
		sink:     sink,
		pairs:    make(map[string]grid.Level),
		status:   make(map[string]levelStatus),
		opening:  make(map[string]context.CancelFunc),
		baseCtx:  ctx,
		cancel:   cancel,
		stopCh:   make(chan struct{}),
	}
	if deps.Depth != nil {
		ttl := cfg.DepthTTL
		if ttl <= 0 {
			ttl = 30 * time.Second
		}
		cd, err := market.NewCachedDepth(deps.Depth, market.WithDepthTTL(ttl), market.WithDepthCacheName("depth-"+pair.String()))
		if err != nil {
			cancel()
			return nil, err
		}
		b.depth = cd
	}
	b.book.OnTrip(b.onTrip)
	return b, nil
}

// NewFromConfig assembles the execution stack around venue and signer and
// returns the bot. store may be nil.
func NewFromConfig(cfg *Config, venue ledger.Venue, sign execution.Signer, store execution.PendingStore, sink events.Sink) (*Bot, error) {
	if venue == nil || sign == nil {
		return nil, errors.New("bot: venue and signer are required")
	}
	if sink == nil {
		sink = events.Discard
	}
	ec := cfg.Execution
	ec.ApplyDefaults()
	recOpts := []execution.ReconcilerOption{
		execution.WithReconcilerSink(sink),
		execution.WithReconcilerTiming(ec.PollInterval, ec.BroadcastTimeout, ec.ResolveGrace),
	}
	if store != nil {
		recOpts = append(recOpts, execution.WithPendingStore(store))
	}
	assets := market.DefaultAssets()
	if vc, ok := cfg.Ledger.Venues[cfg.VenueName()]; ok && vc != nil {
		assets = vc.AssetTable()
	}
	pipeline, err := execution.NewPipeline(ec, venue, txbuild.New(txbuild.WithAssets(assets)), sign, venue,
		execution.WithSink(sink),
		execution.WithReconciler(execution.NewReconciler(venue, recOpts...)),
	)
	if err != nil {
		return nil, err
	}
	var depth market.DepthSource = venue
	if ref := cfg.BuildReference(); ref != nil {
		depth = ref
	}
	return New(cfg, Deps{
		Prices:   venue,
		Depth:    depth,
		Pipeline: pipeline,
		Ledger:   risk.NewLedger(cfg.Risk),
		Sink:     sink,
	})
}

// VenueName is the configured venue, falling back to the ledger default.
func (c *Config) VenueName() string {
	if c.Venue != "" {
		return c.Venue
	}
	return c.Ledger.Default
}

// Ledger exposes the risk ledger.
func (b *Bot) Ledger() *risk.Ledger { return b.book }

// Pipeline exposes the execution pipeline.
func (b *Bot) Pipeline() *execution.Pipeline { return b.pipeline }

// Pair returns the traded pair.
func (b *Bot) Pair() market.Pair { return b.pair }

// RestorePending re-holds exposure for attempts parked before a restart so
// the reconciler can settle them.
func (b *Bot) RestorePending(ctx context.Context) (int, error) {
	return b.pipeline.Reconciler().Restore(ctx, func(p execution.Pending) (execution.Reservation, error) {
		res, err := b.book.Hold(p.AttemptID, p.Amount, p.Closes)
		if err != nil {
			return nil, err
		}
		return res, nil
	})
}

// Run ticks every poll interval until ctx is done or Stop is called.
func (b *Bot) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	b.tickLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.stopCh:
			return nil
		case <-ticker.C:
			b.tickLogged(ctx)
		}
	}
}

func (b *Bot) tickLogged(ctx context.Context) {
	start := time.Now()
	if err := b.Tick(ctx); err != nil {
		logx.WithContext(ctx).Errorf("bot: tick pair=%s err=%v", b.pair, err)
		return
	}
	if d := time.Since(start); d > b.cfg.PollInterval {
		logx.WithContext(ctx).Slowf("bot: tick pair=%s took %s", b.pair, d)
	}
}

// Stop ends Run and cancels attempts that have not broadcast yet.
func (b *Bot) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		b.cancel()
	})
}

// Wait blocks until every scheduled execution has finished.
func (b *Bot) Wait() { b.runner.Wait() }

// Tick runs one planning cycle.
func (b *Bot) Tick(ctx context.Context) error {
	price, err := b.prices.Price(ctx, b.pair)
	if err != nil {
		return fmt.Errorf("bot: price %s: %w", b.pair, err)
	}
	if price <= 0 {
		return fmt.Errorf("bot: non-positive price %v for %s", price, b.pair)
	}
	b.book.CheckStopLoss(price)
	b.sweep(ctx)

	for _, l := range b.crossed(price) {
		b.launch(ctx, l)
	}
	return b.replan(ctx, price)
}

func (b *Bot) sweep(ctx context.Context) {
	rec := b.pipeline.Reconciler()
	if len(rec.Parked()) == 0 {
		return
	}
	now := time.Now()
	b.mu.Lock()
	due := now.Sub(b.lastSweep) >= b.cfg.SweepInterval
	if due {
		b.lastSweep = now
	}
	b.mu.Unlock()
	if !due {
		return
	}
	for _, out := range rec.Sweep(ctx) {
		logx.WithContext(ctx).Infof("bot: reconciled outcome=%s level=%s status=%s", out.OutcomeID, out.LevelID, out.Status)
		b.settled(out)
	}
}

// crossed returns the levels of the previous plan and the paired exits that
// price has reached, skipping levels already in flight.
func (b *Bot) crossed(price float64) []grid.Level {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []grid.Level
	// Paired exits take pool slots before new openings.
	for _, l := range b.sortedPairs() {
		if l.Crossed(price) && !b.gate.Busy(l.ID) {
			out = append(out, l)
		}
	}
	if b.planned {
		for _, l := range b.plan.Levels() {
			if l.Crossed(price) && !b.gate.Busy(l.ID) {
				out = append(out, l)
			}
		}
	}
	return out
}

func (b *Bot) launch(ctx context.Context, l grid.Level) {
	if !b.gate.TryAcquire(l.ID) {
		return
	}
	amount := 0.0
	if !l.Paired() {
		if l.Quantity <= 0 {
			b.gate.Release(l.ID)
			b.reject(ctx, l, RejectZeroSize)
			return
		}
		amount = l.Quantity * l.Price
	}
	attemptID := uuid.NewString()
	res, err := b.book.Hold(attemptID, amount, l.Closes)
	if err != nil {
		b.gate.Release(l.ID)
		b.reject(ctx, l, rejectReason(err))
		return
	}

	actx, cancel := context.WithCancel(b.baseCtx)
	b.mu.Lock()
	if !l.Paired() {
		b.opening[attemptID] = cancel
	}
	b.status[l.ID] = levelStatus{state: execution.StateQuoteRequested}
	b.mu.Unlock()

	req := execution.Request{
		AttemptID:   attemptID,
		LevelID:     l.ID,
		Pair:        b.pair,
		Side:        l.Side,
		Quantity:    l.Quantity,
		Price:       l.Price,
		Account:     b.cfg.Account,
		Reservation: res,
	}
	b.sink.Emit(ctx, events.Event{
		Kind:      events.KindTriggered,
		At:        time.Now(),
		LevelID:   l.ID,
		AttemptID: attemptID,
		Side:      l.Side,
		Price:     l.Price,
		Quantity:  l.Quantity,
	})
	err = b.runner.ScheduleImmediately(func() {
		defer cancel()
		out := b.pipeline.Execute(actx, req)
		b.finish(l, attemptID, out)
	})
	if err != nil {
		cancel()
		res.Release()
		b.finish(l, attemptID, execution.Outcome{State: execution.StateIdle})
		b.reject(ctx, l, RejectBusy)
	}
}

func (b *Bot) finish(l grid.Level, attemptID string, out execution.Outcome) {
	b.mu.Lock()
	delete(b.opening, attemptID)
	b.status[l.ID] = levelStatus{state: out.State, attempts: out.Attempts}
	b.mu.Unlock()
	b.gate.Release(l.ID)
	if out.AttemptID != "" {
		logx.Infof("bot: level=%s side=%s status=%s attempts=%d outcome=%s", l.ID, l.Side, out.Status, out.Attempts, out.OutcomeID)
	}
	b.settled(out)
}

// settled drops the paired exit of a position once it has closed.
func (b *Bot) settled(out execution.Outcome) {
	if out.Status != execution.StatusConfirmed {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, l := range b.pairs {
		if l.ID == out.LevelID {
			delete(b.pairs, id)
		}
	}
}

func (b *Bot) replan(ctx context.Context, price float64) error {
	state := b.book.Snapshot()
	vol := b.vol.Estimate(state)
	var depth *market.DepthSnapshot
	if b.depth != nil {
		snap, err := b.depth.GetDepth(ctx, b.pair)
		switch {
		case err == nil:
			depth = snap
		case !errors.Is(err, market.ErrDepthUnavailable):
			logx.WithContext(ctx).Debugf("bot: depth %s unavailable: %v", b.pair, err)
		}
	}
	plan, err := b.planner.Plan(price, state, vol, depth)
	if err != nil {
		return err
	}

	b.mu.Lock()
	prev := b.plan
	hadPlan := b.planned
	var fresh []grid.Level
	pairs := make(map[string]grid.Level, len(state.OpenPositions))
	for _, pos := range state.OpenPositions {
		// A close may have settled since the snapshot.
		if _, open := b.book.Position(pos.ID); !open {
			continue
		}
		if l, ok := b.pairs[pos.ID]; ok {
			pairs[pos.ID] = l
			continue
		}
		l := grid.OppositeLevel(pos, plan.Spacing)
		pairs[pos.ID] = l
		fresh = append(fresh, l)
	}
	b.pairs = pairs
	b.plan = plan
	b.planned = true
	b.mu.Unlock()

	for _, l := range plan.Levels() {
		if hadPlan {
			if old, ok := prev.Level(l.ID); ok && old.Price == l.Price && old.Quantity == l.Quantity {
				continue
			}
		}
		fresh = append(fresh, l)
	}
	for _, l := range fresh {
		b.sink.Emit(ctx, events.Event{
			Kind:     events.KindPlanned,
			At:       time.Now(),
			LevelID:  l.ID,
			Side:     l.Side,
			Price:    l.Price,
			Quantity: l.Quantity,
		})
	}
	return nil
}

// Plan returns the latest plan.
func (b *Bot) Plan() grid.Plan {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.plan
}

// Levels returns the planned levels followed by paired exits, each carrying
// its latest execution state.
func (b *Bot) Levels() []grid.Level {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := b.plan.Levels()
	out = append(out, b.sortedPairs()...)
	for i := range out {
		if st, ok := b.status[out[i].ID]; ok {
			out[i].State = st.state
			out[i].Attempts = st.attempts
		}
	}
	return out
}

func (b *Bot) sortedPairs() []grid.Level {
	out := make([]grid.Level, 0, len(b.pairs))
	for _, l := range b.pairs {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// onTrip cancels every opening attempt that has not broadcast yet. Closing
// attempts keep running so positions can still be exited.
func (b *Bot) onTrip(reason string) {
	b.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(b.opening))
	for _, c := range b.opening {
		cancels = append(cancels, c)
	}
	b.mu.Unlock()
	for _, c := range cancels {
		c()
	}
	logx.Errorf("bot: breaker tripped pair=%s reason=%s cancelled=%d", b.pair, reason, len(cancels))
	b.sink.Emit(context.Background(), events.Event{Kind: events.KindBreaker, At: time.Now(), Reason: reason})
}

func (b *Bot) reject(ctx context.Context, l grid.Level, reason string) {
	b.sink.Emit(ctx, events.Event{
		Kind:     events.KindRejected,
		At:       time.Now(),
		LevelID:  l.ID,
		Side:     l.Side,
		Price:    l.Price,
		Quantity: l.Quantity,
		Reason:   reason,
	})
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, risk.ErrBreakerOpen):
		return RejectBreaker
	case errors.Is(err, risk.ErrExposureLimit):
		return RejectExposure
	case errors.Is(err, risk.ErrDuplicateHold), errors.Is(err, risk.ErrUnknownPosition):
		return RejectAlreadyClose
	default:
		return err.Error()
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
