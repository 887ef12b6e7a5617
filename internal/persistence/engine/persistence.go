package engine

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/zeromicro/go-zero/core/logx"
	gocache "github.com/zeromicro/go-zero/core/stores/cache"

	cachekeys "gridpilot/internal/cache"
	"gridpilot/internal/model"
	"gridpilot/pkg/events"
	"gridpilot/pkg/market"
	"gridpilot/pkg/risk"
)

const recentTradesCap = 50

var _ events.Sink = (*Service)(nil)

// Service mirrors execution outcomes and realised trades to Postgres, keeps
// the recent trades list warm in Redis and rehydrates risk history.
type Service struct {
	executions model.ExecutionsModel
	trades     model.ClosedTradesModel
	cache      gocache.Cache
	ttl        cachekeys.TTLSet
	pair       string
	timeout    time.Duration
}

// Config enumerates dependencies needed to persist bot activity.
type Config struct {
	Executions model.ExecutionsModel
	Trades     model.ClosedTradesModel
	Cache      gocache.Cache
	TTL        cachekeys.TTLSet
	Pair       string
	Timeout    time.Duration
}

// NewService returns a persistence service, or nil when no model is wired.
func NewService(cfg Config) *Service {
	if cfg.Executions == nil && cfg.Trades == nil {
		return nil
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &Service{
		executions: cfg.Executions,
		trades:     cfg.Trades,
		cache:      cfg.Cache,
		ttl:        cfg.TTL,
		pair:       strings.ToUpper(strings.TrimSpace(cfg.Pair)),
		timeout:    cfg.Timeout,
	}
}

// Emit stores terminal outcomes and late reconciliations. Failures are
// logged; the trading path never waits on a retry.
func (s *Service) Emit(ctx context.Context, e events.Event) {
	if s == nil || s.executions == nil {
		return
	}
	var err error
	switch e.Kind {
	case events.KindOutcome:
		err = s.recordOutcome(ctx, e)
	case events.KindReconciled:
		err = s.recordReconciled(ctx, e)
	default:
		return
	}
	if err != nil {
		logx.WithContext(ctx).Errorf("enginepersist: %s attempt=%s err=%v", e.Kind, e.AttemptID, err)
	}
}

func (s *Service) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
}

func (s *Service) recordOutcome(ctx context.Context, e events.Event) error {
	if strings.TrimSpace(e.AttemptID) == "" {
		return errors.New("missing attempt id")
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	row := &model.Executions{
		AttemptId:  e.AttemptID,
		LevelId:    e.LevelID,
		Pair:       s.pair,
		Side:       string(e.Side),
		Status:     e.Status,
		State:      e.State,
		Class:      e.Class,
		Reason:     e.Reason,
		OutcomeId:  toNullString(e.OutcomeID),
		Attempts:   int64(e.Attempts),
		Stages:     stageNames(e.StageMillis),
		FinishedAt: at.UTC(),
	}
	if e.Price > 0 && e.Quantity > 0 {
		row.Price = sql.NullFloat64{Float64: e.Price, Valid: true}
		row.Quantity = sql.NullFloat64{Float64: e.Quantity, Valid: true}
	}
	wctx, cancel := s.writeContext(ctx)
	defer cancel()
	return s.executions.Upsert(wctx, row)
}

func (s *Service) recordReconciled(ctx context.Context, e events.Event) error {
	if strings.TrimSpace(e.AttemptID) == "" {
		return errors.New("missing attempt id")
	}
	wctx, cancel := s.writeContext(ctx)
	defer cancel()
	return s.executions.UpdateStatus(wctx, e.AttemptID, e.Status, e.Reason)
}

// RecordClosedTrade persists a realised round trip once and prepends it to
// the cached recent list.
func (s *Service) RecordClosedTrade(ctx context.Context, t risk.ClosedTrade) error {
	if s == nil || s.trades == nil {
		return nil
	}
	wctx, cancel := s.writeContext(ctx)
	defer cancel()
	row := &model.ClosedTrades{
		Id:         t.ID,
		Pair:       s.pair,
		Side:       string(t.Side),
		Quantity:   t.Quantity,
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		Pnl:        t.PnL,
		ClosedAt:   t.ClosedAt.UTC(),
	}
	if err := s.trades.InsertIgnore(wctx, row); err != nil {
		return err
	}
	s.appendRecentTrade(wctx, t)
	return nil
}

// OnClose adapts RecordClosedTrade to a risk close listener.
func (s *Service) OnClose() risk.CloseListener {
	return func(t risk.ClosedTrade) {
		if err := s.RecordClosedTrade(context.Background(), t); err != nil {
			logx.Errorf("enginepersist: record closed trade id=%s err=%v", t.ID, err)
		}
	}
}

// LoadHistory reads up to window closed trades, oldest first, and the
// realised pnl of the current calendar day.
func (s *Service) LoadHistory(ctx context.Context, window int, now time.Time) (risk.History, error) {
	if s == nil || s.trades == nil {
		return risk.History{}, nil
	}
	rows, err := s.trades.ListByPair(ctx, s.pair, window)
	if err != nil {
		return risk.History{}, err
	}
	y, m, d := now.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, now.Location())

	h := risk.History{Trades: make([]risk.ClosedTrade, 0, len(rows))}
	for i := range rows {
		t := closedTrade(&rows[i])
		h.Trades = append(h.Trades, t)
		if !t.ClosedAt.Before(dayStart) {
			h.DailyPnL += t.PnL
		}
	}
	return h, nil
}

// RecentTrades returns the newest closed trades, newest first, from the
// cache when warm.
func (s *Service) RecentTrades(ctx context.Context, limit int) ([]risk.ClosedTrade, error) {
	if s == nil || s.trades == nil {
		return nil, nil
	}
	if limit <= 0 || limit > recentTradesCap {
		limit = recentTradesCap
	}
	if s.cache != nil {
		var cached []risk.ClosedTrade
		err := s.cache.GetCtx(ctx, cachekeys.TradesRecentKey(s.pair), &cached)
		switch {
		case err == nil:
			if len(cached) > limit {
				cached = cached[:limit]
			}
			return cached, nil
		case !s.cache.IsNotFound(err):
			logx.WithContext(ctx).Errorf("enginepersist: load trades cache pair=%s err=%v", s.pair, err)
		}
	}
	rows, err := s.trades.ListByPair(ctx, s.pair, recentTradesCap)
	if err != nil {
		return nil, err
	}
	out := make([]risk.ClosedTrade, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		out = append(out, closedTrade(&rows[i]))
	}
	s.persistTradeCache(ctx, out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Execution finds a persisted execution by attempt id or ledger outcome id.
func (s *Service) Execution(ctx context.Context, id string) (*model.ExecutionRecord, error) {
	if s == nil || s.executions == nil {
		return nil, model.ErrNotFound
	}
	row, err := s.executions.FindOne(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		row, err = s.executions.FindByOutcome(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	rec := model.BuildExecutionRecord(row)
	return &rec, nil
}

// Executions lists recent executions, optionally filtered by status.
func (s *Service) Executions(ctx context.Context, statuses []string, limit int) ([]model.ExecutionRecord, error) {
	if s == nil || s.executions == nil {
		return nil, nil
	}
	return s.executions.RecentByStatus(ctx, s.pair, statuses, limit)
}

// PublishSummary caches the latest risk summary for readers of other
// instances.
func (s *Service) PublishSummary(ctx context.Context, sum risk.Summary) {
	if s == nil || s.cache == nil {
		return
	}
	if err := s.cache.SetWithExpireCtx(ctx, cachekeys.SummaryKey(s.pair), sum, s.ttl.Summary()); err != nil {
		logx.WithContext(ctx).Errorf("enginepersist: set summary cache pair=%s err=%v", s.pair, err)
	}
}

func (s *Service) appendRecentTrade(ctx context.Context, t risk.ClosedTrade) {
	if s.cache == nil {
		return
	}
	key := cachekeys.TradesRecentKey(s.pair)
	var payload []risk.ClosedTrade
	if err := s.cache.GetCtx(ctx, key, &payload); err != nil {
		if !s.cache.IsNotFound(err) {
			logx.WithContext(ctx).Errorf("enginepersist: load trades cache key=%s err=%v", key, err)
		}
		// A cold list is rebuilt from Postgres on the next read.
		return
	}
	payload = append([]risk.ClosedTrade{t}, payload...)
	s.persistTradeCache(ctx, payload)
}

func (s *Service) persistTradeCache(ctx context.Context, entries []risk.ClosedTrade) {
	if s.cache == nil {
		return
	}
	if len(entries) > recentTradesCap {
		entries = entries[:recentTradesCap]
	}
	key := cachekeys.TradesRecentKey(s.pair)
	if err := s.cache.SetWithExpireCtx(ctx, key, entries, s.ttl.RecentTrades()); err != nil {
		logx.WithContext(ctx).Errorf("enginepersist: set trades cache key=%s err=%v", key, err)
	}
}

func closedTrade(row *model.ClosedTrades) risk.ClosedTrade {
	return risk.ClosedTrade{
		ID:         row.Id,
		Side:       market.Side(row.Side),
		Quantity:   row.Quantity,
		EntryPrice: row.EntryPrice,
		ExitPrice:  row.ExitPrice,
		PnL:        row.Pnl,
		ClosedAt:   row.ClosedAt,
	}
}

func stageNames(stages map[string]int64) pq.StringArray {
	names := make([]string, 0, len(stages))
	for name := range stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return pq.StringArray(names)
}

func toNullString(v string) sql.NullString {
	v = strings.TrimSpace(v)
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
