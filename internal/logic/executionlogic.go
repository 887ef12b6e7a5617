package logic

import (
	"context"
	"errors"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"gridpilot/internal/model"
	"gridpilot/internal/svc"
	"gridpilot/internal/types"
)

var ErrExecutionNotFound = errors.New("execution not found")

type ExecutionLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewExecutionLogic(ctx context.Context, svcCtx *svc.ServiceContext) *ExecutionLogic {
	return &ExecutionLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

// Execution prefers the persisted record and falls back to asking the
// ledger, which only knows outcome ids.
func (l *ExecutionLogic) Execution(req *types.ExecutionRequest) (*types.ExecutionResponse, error) {
	id := strings.TrimSpace(req.Id)
	if id == "" {
		return nil, errors.New("id is required")
	}
	rec, err := l.svcCtx.Persist.Execution(l.ctx, id)
	switch {
	case err == nil:
		return &types.ExecutionResponse{Id: id, Status: rec.Status, Source: "store", Record: rec}, nil
	case !errors.Is(err, model.ErrNotFound):
		l.Errorf("execution lookup id=%s err=%v", id, err)
	}

	status, found, err := l.svcCtx.Bot.Pipeline().Reconciler().Lookup(l.ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrExecutionNotFound
	}
	return &types.ExecutionResponse{Id: id, Status: string(status), Source: "ledger"}, nil
}

func (l *ExecutionLogic) Executions(req *types.ExecutionsRequest) (*types.ExecutionsResponse, error) {
	var statuses []string
	for _, s := range strings.Split(req.Status, ",") {
		if s = strings.TrimSpace(s); s != "" {
			statuses = append(statuses, strings.ToLower(s))
		}
	}
	rows, err := l.svcCtx.Persist.Executions(l.ctx, statuses, req.Limit)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []model.ExecutionRecord{}
	}
	return &types.ExecutionsResponse{Executions: rows}, nil
}
