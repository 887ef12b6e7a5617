package model

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

var _ ClosedTradesModel = (*customClosedTradesModel)(nil)

type (
	// ClosedTradesModel is an interface to be customized, add more methods here,
	// and implement the added methods in customClosedTradesModel.
	ClosedTradesModel interface {
		closedTradesModel
		InsertIgnore(ctx context.Context, data *ClosedTrades) error
		ListByPair(ctx context.Context, pair string, limit int) ([]ClosedTrades, error)
	}

	customClosedTradesModel struct {
		*defaultClosedTradesModel
	}
)

// NewClosedTradesModel returns a model for the database table.
func NewClosedTradesModel(conn sqlx.SqlConn, c cache.CacheConf, opts ...cache.Option) ClosedTradesModel {
	return &customClosedTradesModel{
		defaultClosedTradesModel: newClosedTradesModel(conn, c, opts...),
	}
}

// InsertIgnore writes a trade once; replays of the same position id are
// dropped.
func (m *customClosedTradesModel) InsertIgnore(ctx context.Context, data *ClosedTrades) error {
	query := fmt.Sprintf("insert into %s (%s) values ($1, $2, $3, $4, $5, $6, $7, $8) on conflict (id) do nothing", m.table, closedTradesRowsExpectAutoSet)
	_, err := m.ExecCtx(ctx, func(ctx context.Context, conn sqlx.SqlConn) (sql.Result, error) {
		return conn.ExecCtx(ctx, query, data.Id, data.Pair, data.Side, data.Quantity, data.EntryPrice, data.ExitPrice, data.Pnl, data.ClosedAt)
	}, m.formatPrimary(data.Id))
	if err != nil {
		return fmt.Errorf("closed_trades.InsertIgnore %s: %w", data.Id, err)
	}
	return nil
}

// ListByPair returns the newest limit trades of pair, oldest first. Limit
// defaults to 1000.
func (m *customClosedTradesModel) ListByPair(ctx context.Context, pair string, limit int) ([]ClosedTrades, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := fmt.Sprintf(`
SELECT %s FROM (
    SELECT * FROM public.closed_trades
    WHERE pair = $1
    ORDER BY closed_at DESC
    LIMIT $2
) recent
ORDER BY closed_at ASC`, closedTradesRows)

	var rows []ClosedTrades
	if err := m.QueryRowsNoCacheCtx(ctx, &rows, query, pair, limit); err != nil {
		return nil, fmt.Errorf("closed_trades.ListByPair query: %w", err)
	}
	return rows, nil
}
