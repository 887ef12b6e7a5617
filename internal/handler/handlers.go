package handler

import (
	"errors"
	"net/http"

	"github.com/zeromicro/go-zero/rest/httpx"

	"gridpilot/internal/logic"
	"gridpilot/internal/svc"
	"gridpilot/internal/types"
)

func StatusHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l := logic.NewStatusLogic(r.Context(), svcCtx)
		resp, err := l.Status()
		respond(w, r, resp, err)
	}
}

func LevelsHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l := logic.NewLevelsLogic(r.Context(), svcCtx)
		resp, err := l.Levels()
		respond(w, r, resp, err)
	}
}

func ExecutionHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ExecutionRequest
		if err := httpx.Parse(r, &req); err != nil {
			httpx.ErrorCtx(r.Context(), w, err)
			return
		}
		l := logic.NewExecutionLogic(r.Context(), svcCtx)
		resp, err := l.Execution(&req)
		respond(w, r, resp, err)
	}
}

func ExecutionsHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ExecutionsRequest
		if err := httpx.Parse(r, &req); err != nil {
			httpx.ErrorCtx(r.Context(), w, err)
			return
		}
		l := logic.NewExecutionLogic(r.Context(), svcCtx)
		resp, err := l.Executions(&req)
		respond(w, r, resp, err)
	}
}

func TradesHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.TradesRequest
		if err := httpx.Parse(r, &req); err != nil {
			httpx.ErrorCtx(r.Context(), w, err)
			return
		}
		l := logic.NewTradesLogic(r.Context(), svcCtx)
		resp, err := l.Trades(&req)
		respond(w, r, resp, err)
	}
}

func ResumeHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l := logic.NewResumeLogic(r.Context(), svcCtx)
		resp, err := l.Resume()
		respond(w, r, resp, err)
	}
}

// MetricsHandler exposes the bot's Prometheus registry.
func MetricsHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return svcCtx.Metrics.Handler().ServeHTTP
}

type errorBody struct {
	Error string `json:"error"`
}

func respond(w http.ResponseWriter, r *http.Request, resp any, err error) {
	switch {
	case err == nil:
		httpx.OkJsonCtx(r.Context(), w, resp)
	case errors.Is(err, logic.ErrExecutionNotFound):
		httpx.WriteJsonCtx(r.Context(), w, http.StatusNotFound, errorBody{Error: err.Error()})
	default:
		httpx.ErrorCtx(r.Context(), w, err)
	}
}
