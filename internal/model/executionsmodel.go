package model

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

var _ ExecutionsModel = (*customExecutionsModel)(nil)

// ExecutionRecord is the nullable-safe view of an executions row.
type ExecutionRecord struct {
	AttemptID  string    `json:"attempt_id"`
	LevelID    string    `json:"level_id"`
	Pair       string    `json:"pair"`
	Side       string    `json:"side"`
	Status     string    `json:"status"`
	State      string    `json:"state"`
	Class      string    `json:"class,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OutcomeID  *string   `json:"outcome_id,omitempty"`
	Attempts   int       `json:"attempts"`
	Price      *float64  `json:"price,omitempty"`
	Quantity   *float64  `json:"quantity,omitempty"`
	Stages     []string  `json:"stages,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

type (
	// ExecutionsModel is an interface to be customized, add more methods here,
	// and implement the added methods in customExecutionsModel.
	ExecutionsModel interface {
		executionsModel
		Upsert(ctx context.Context, data *Executions) error
		UpdateStatus(ctx context.Context, attemptID, status, reason string) error
		FindByOutcome(ctx context.Context, outcomeID string) (*Executions, error)
		RecentByStatus(ctx context.Context, pair string, statuses []string, limit int) ([]ExecutionRecord, error)
	}

	customExecutionsModel struct {
		*defaultExecutionsModel
	}
)

// NewExecutionsModel returns a model for the database table.
func NewExecutionsModel(conn sqlx.SqlConn, c cache.CacheConf, opts ...cache.Option) ExecutionsModel {
	return &customExecutionsModel{
		defaultExecutionsModel: newExecutionsModel(conn, c, opts...),
	}
}

// Upsert inserts the row or replaces every mutable column of an existing one.
func (m *customExecutionsModel) Upsert(ctx context.Context, data *Executions) error {
	const query = `
INSERT INTO public.executions (
    attempt_id, level_id, pair, side, status, state, class, reason,
    outcome_id, attempts, price, quantity, stages, finished_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (attempt_id) DO UPDATE SET
    status = EXCLUDED.status,
    state = EXCLUDED.state,
    class = EXCLUDED.class,
    reason = EXCLUDED.reason,
    outcome_id = COALESCE(EXCLUDED.outcome_id, executions.outcome_id),
    attempts = EXCLUDED.attempts,
    price = COALESCE(EXCLUDED.price, executions.price),
    quantity = COALESCE(EXCLUDED.quantity, executions.quantity),
    stages = EXCLUDED.stages,
    finished_at = EXCLUDED.finished_at,
    updated_at = NOW()`

	_, err := m.ExecCtx(ctx, func(ctx context.Context, conn sqlx.SqlConn) (sql.Result, error) {
		return conn.ExecCtx(ctx, query,
			data.AttemptId, data.LevelId, data.Pair, data.Side, data.Status, data.State, data.Class, data.Reason,
			data.OutcomeId, data.Attempts, data.Price, data.Quantity, data.Stages, data.FinishedAt)
	}, m.formatPrimary(data.AttemptId))
	if err != nil {
		return fmt.Errorf("executions.Upsert %s: %w", data.AttemptId, err)
	}
	return nil
}

// UpdateStatus records a late reconciliation result.
func (m *customExecutionsModel) UpdateStatus(ctx context.Context, attemptID, status, reason string) error {
	const query = `
UPDATE public.executions
SET status = $2, reason = $3, updated_at = NOW()
WHERE attempt_id = $1`

	_, err := m.ExecCtx(ctx, func(ctx context.Context, conn sqlx.SqlConn) (sql.Result, error) {
		return conn.ExecCtx(ctx, query, attemptID, status, reason)
	}, m.formatPrimary(attemptID))
	if err != nil {
		return fmt.Errorf("executions.UpdateStatus %s: %w", attemptID, err)
	}
	return nil
}

// FindByOutcome looks an execution up by its ledger outcome id.
func (m *customExecutionsModel) FindByOutcome(ctx context.Context, outcomeID string) (*Executions, error) {
	query := fmt.Sprintf("select %s from %s where outcome_id = $1 limit 1", executionsRows, m.table)
	var resp Executions
	switch err := m.QueryRowNoCacheCtx(ctx, &resp, query, outcomeID); err {
	case nil:
		return &resp, nil
	case sqlx.ErrNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("executions.FindByOutcome query: %w", err)
	}
}

// RecentByStatus returns the latest executions of pair whose status is one
// of statuses (all statuses when empty). Limit defaults to 100.
func (m *customExecutionsModel) RecentByStatus(ctx context.Context, pair string, statuses []string, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	args := []any{pair, limit}
	clause := ""
	if len(statuses) > 0 {
		clause = "AND status = ANY($3)"
		args = append(args, pq.Array(statuses))
	}
	query := fmt.Sprintf(`
SELECT %s
FROM public.executions
WHERE pair = $1
%s
ORDER BY finished_at DESC
LIMIT $2`, executionsRows, clause)

	var rows []Executions
	if err := m.QueryRowsNoCacheCtx(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("executions.RecentByStatus query: %w", err)
	}
	out := make([]ExecutionRecord, 0, len(rows))
	for i := range rows {
		out = append(out, BuildExecutionRecord(&rows[i]))
	}
	return out, nil
}

// BuildExecutionRecord converts a row into its nullable-safe view.
func BuildExecutionRecord(row *Executions) ExecutionRecord {
	rec := ExecutionRecord{
		AttemptID:  row.AttemptId,
		LevelID:    row.LevelId,
		Pair:       row.Pair,
		Side:       row.Side,
		Status:     row.Status,
		State:      row.State,
		Class:      row.Class,
		Reason:     row.Reason,
		Attempts:   int(row.Attempts),
		Stages:     []string(row.Stages),
		FinishedAt: row.FinishedAt,
	}
	if row.OutcomeId.Valid {
		value := row.OutcomeId.String
		rec.OutcomeID = &value
	}
	if row.Price.Valid {
		value := row.Price.Float64
		rec.Price = &value
	}
	if row.Quantity.Valid {
		value := row.Quantity.Float64
		rec.Quantity = &value
	}
	return rec
}
