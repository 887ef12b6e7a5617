package events

import (
	"context"

	"github.com/zeromicro/go-zero/core/logx"
)

// LogSink renders events through logx. Terminal failures log at error level.
type LogSink struct{}

func (LogSink) Emit(ctx context.Context, e Event) {
	fields := []logx.LogField{
		logx.Field("kind", e.Kind),
	}
	add := func(k string, v any, ok bool) {
		if ok {
			fields = append(fields, logx.Field(k, v))
		}
	}
	add("level", e.LevelID, e.LevelID != "")
	add("attempt", e.AttemptID, e.AttemptID != "")
	add("side", e.Side, e.Side != "")
	add("price", e.Price, e.Price != 0)
	add("quantity", e.Quantity, e.Quantity != 0)
	add("state", e.State, e.State != "")
	add("status", e.Status, e.Status != "")
	add("class", e.Class, e.Class != "")
	add("outcome", e.OutcomeID, e.OutcomeID != "")
	add("reason", e.Reason, e.Reason != "")
	add("attempts", e.Attempts, e.Attempts != 0)
	add("delay_ms", e.Delay, e.Delay != 0)
	add("stage_ms", e.StageMillis, len(e.StageMillis) > 0)

	logger := logx.WithContext(ctx)
	switch {
	case e.Kind == KindOutcome && e.Status == "failed", e.Kind == KindBreaker:
		logger.Errorw("grid event", fields...)
	case e.Kind == KindPlanned:
		logger.Debugw("grid event", fields...)
	default:
		logger.Infow("grid event", fields...)
	}
}
