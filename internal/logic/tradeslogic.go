package logic

import (
	"context"

	"github.com/zeromicro/go-zero/core/logx"

	"gridpilot/internal/svc"
	"gridpilot/internal/types"
	"gridpilot/pkg/risk"
)

type TradesLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewTradesLogic(ctx context.Context, svcCtx *svc.ServiceContext) *TradesLogic {
	return &TradesLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

// Trades serves persisted trades when a store is configured and the
// in-memory session otherwise.
func (l *TradesLogic) Trades(req *types.TradesRequest) (*types.TradesResponse, error) {
	if l.svcCtx.Persist != nil {
		trades, err := l.svcCtx.Persist.RecentTrades(l.ctx, req.Limit)
		if err != nil {
			return nil, err
		}
		return &types.TradesResponse{Trades: nonNil(trades)}, nil
	}
	recent := l.svcCtx.Bot.Ledger().Snapshot().Recent
	out := make([]risk.ClosedTrade, 0, len(recent))
	for i := len(recent) - 1; i >= 0 && (req.Limit <= 0 || len(out) < req.Limit); i-- {
		out = append(out, recent[i])
	}
	return &types.TradesResponse{Trades: out}, nil
}

func nonNil(v []risk.ClosedTrade) []risk.ClosedTrade {
	if v == nil {
		return []risk.ClosedTrade{}
	}
	return v
}
