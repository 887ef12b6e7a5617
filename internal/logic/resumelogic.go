package logic

import (
	"context"

	"github.com/zeromicro/go-zero/core/logx"

	"gridpilot/internal/svc"
	"gridpilot/internal/types"
)

type ResumeLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewResumeLogic(ctx context.Context, svcCtx *svc.ServiceContext) *ResumeLogic {
	return &ResumeLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

// Resume closes the circuit breaker. Opening trades resume on the next tick.
func (l *ResumeLogic) Resume() (*types.ResumeResponse, error) {
	book := l.svcCtx.Bot.Ledger()
	prev := book.Summary().BreakerReason
	book.Resume()
	l.svcCtx.Metrics.SetBreaker(false)
	if prev != "" {
		l.Infof("breaker resumed by operator, was %s", prev)
	}
	return &types.ResumeResponse{Breaker: book.Tripped(), Reason: prev}, nil
}
