package logic

import (
	"context"

	"github.com/zeromicro/go-zero/core/logx"

	"gridpilot/internal/svc"
	"gridpilot/internal/types"
)

type LevelsLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewLevelsLogic(ctx context.Context, svcCtx *svc.ServiceContext) *LevelsLogic {
	return &LevelsLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

func (l *LevelsLogic) Levels() (*types.LevelsResponse, error) {
	b := l.svcCtx.Bot
	return &types.LevelsResponse{
		Price:  b.Plan().Price,
		Levels: b.Levels(),
	}, nil
}
