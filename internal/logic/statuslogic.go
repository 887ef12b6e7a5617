package logic

import (
	"context"

	"github.com/zeromicro/go-zero/core/logx"

	"gridpilot/internal/svc"
	"gridpilot/internal/types"
)

type StatusLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewStatusLogic(ctx context.Context, svcCtx *svc.ServiceContext) *StatusLogic {
	return &StatusLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

func (l *StatusLogic) Status() (*types.StatusResponse, error) {
	b := l.svcCtx.Bot
	plan := b.Plan()
	parked := b.Pipeline().Reconciler().Parked()
	return &types.StatusResponse{
		Pair:    b.Pair().String(),
		Venue:   l.svcCtx.Config.Bot.Value.VenueName(),
		Signer:  b.Pipeline().Signer().Address(),
		Price:   plan.Price,
		Spacing: plan.Spacing,
		Tier:    plan.Tier,
		Parked:  len(parked),
		Summary: b.Ledger().Summary(),
		Pending: parked,
	}, nil
}
