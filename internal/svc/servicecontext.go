package svc

import (
	"context"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/logx"
	gocache "github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
	"github.com/zeromicro/go-zero/core/syncx"
	"github.com/zeromicro/go-zero/core/threading"

	cachekeys "gridpilot/internal/cache"
	"gridpilot/internal/config"
	"gridpilot/internal/model"
	"gridpilot/internal/pendingstore"
	"gridpilot/internal/persistence/engine"
	"gridpilot/pkg/bot"
	"gridpilot/pkg/confkit"
	"gridpilot/pkg/events"
	"gridpilot/pkg/journal"
	"gridpilot/pkg/ledger"
	_ "gridpilot/pkg/ledger/rpc"
	_ "gridpilot/pkg/ledger/sim"
	"gridpilot/pkg/metrics"
	"gridpilot/pkg/signer"
)

type ServiceContext struct {
	Config config.Config

	Bot     *bot.Bot
	Venue   ledger.Venue
	Metrics *metrics.Collector
	Journal *journal.Writer
	Pending *pendingstore.Store
	Persist *engine.Service

	// Optional DB connection, only set when a DSN is provided.
	DBConn sqlx.SqlConn
}

// NewServiceContext assembles the bot and its sinks. The caller owns Close.
func NewServiceContext(c config.Config) (*ServiceContext, error) {
	if c.Bot.Value == nil {
		return nil, errors.New("svc: bot config not loaded")
	}
	botCfg := c.Bot.Value
	svc := &ServiceContext{
		Config:  c,
		Metrics: metrics.New(),
	}

	venue, err := botCfg.BuildVenue()
	if err != nil {
		return nil, fmt.Errorf("svc: build venue: %w", err)
	}
	svc.Venue = venue

	sign, err := signer.New(botCfg.Signer)
	if err != nil {
		return nil, fmt.Errorf("svc: build signer: %w", err)
	}

	svc.Pending, err = pendingstore.Open(pendingstore.OpenOptions{
		Path:     c.PendingDir(),
		InMemory: c.Pending.InMemory,
	})
	if err != nil {
		return nil, err
	}

	sinks := []events.Sink{events.LogSink{}, svc.Metrics}
	if botCfg.Journal.Path != "" {
		jc := botCfg.Journal
		jc.Path = confkit.ResolvePath(c.BaseDir(), jc.Path)
		svc.Journal, err = journal.NewWriter(jc)
		if err != nil {
			svc.Close()
			return nil, err
		}
		sinks = append(sinks, svc.Journal)
	}

	// Only inject DB models when DSN provided.
	if c.Postgres.DSN != "" {
		conn := sqlx.NewSqlConn("pgx", c.Postgres.DSN)
		if db, err := conn.RawDB(); err == nil {
			db.SetMaxOpenConns(c.Postgres.MaxOpen)
			db.SetMaxIdleConns(c.Postgres.MaxIdle)
		}
		svc.DBConn = conn
		cacheConf := c.CacheConf()
		ttl := cachekeys.NewTTLSet(c.TTL)
		rowExpiry := gocache.WithExpiry(ttl.Rows())
		svc.Persist = engine.NewService(engine.Config{
			Executions: model.NewExecutionsModel(conn, cacheConf, rowExpiry),
			Trades:     model.NewClosedTradesModel(conn, cacheConf, rowExpiry),
			Cache:      gocache.New(cacheConf, syncx.NewSingleFlight(), gocache.NewStat("gridpilot"), model.ErrNotFound),
			TTL:        ttl,
			Pair:       botCfg.Pair,
		})
		sinks = append(sinks, svc.Persist)
	}

	svc.Bot, err = bot.NewFromConfig(botCfg, venue, sign, svc.Pending, events.Combine(sinks...))
	if err != nil {
		svc.Close()
		return nil, err
	}
	if svc.Persist != nil {
		svc.Bot.Ledger().OnClose(svc.Persist.OnClose())
	}
	return svc, nil
}

// MustNewServiceContext is NewServiceContext that exits on failure.
func MustNewServiceContext(c config.Config) *ServiceContext {
	svc, err := NewServiceContext(c)
	logx.Must(err)
	return svc
}

// Restore seeds the risk ledger from persisted trades and re-holds every
// broadcast left unresolved by a previous run.
func (s *ServiceContext) Restore(ctx context.Context) error {
	if s.Persist != nil {
		window := s.Config.Bot.Value.Risk.HistoryWindow
		h, err := s.Persist.LoadHistory(ctx, window, time.Now())
		if err != nil {
			return fmt.Errorf("svc: load trade history: %w", err)
		}
		s.Bot.Ledger().Restore(h)
		logx.WithContext(ctx).Infof("svc: restored %d closed trades, daily pnl %.2f", len(h.Trades), h.DailyPnL)
	}
	n, err := s.Bot.RestorePending(ctx)
	if err != nil {
		return fmt.Errorf("svc: restore pending: %w", err)
	}
	if n > 0 {
		logx.WithContext(ctx).Infof("svc: re-held %d unresolved broadcasts", n)
	}
	return nil
}

// Run drives the bot until ctx is done, publishing the session summary on
// every poll interval.
func (s *ServiceContext) Run(ctx context.Context) error {
	if s.Persist != nil {
		threading.GoSafe(func() { s.publishSummaries(ctx) })
	}
	return s.Bot.Run(ctx)
}

func (s *ServiceContext) publishSummaries(ctx context.Context) {
	ticker := time.NewTicker(s.Config.Bot.Value.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Persist.PublishSummary(ctx, s.Bot.Ledger().Summary())
		}
	}
}

// Close stops the bot and releases local stores.
func (s *ServiceContext) Close() {
	if s.Bot != nil {
		s.Bot.Stop()
		s.Bot.Wait()
	}
	if s.Journal != nil {
		if err := s.Journal.Close(); err != nil {
			logx.Errorf("svc: close journal: %v", err)
		}
	}
	if s.Pending != nil {
		if err := s.Pending.Close(); err != nil {
			logx.Errorf("svc: close pending store: %v", err)
		}
	}
}
