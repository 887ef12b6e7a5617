package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCombine(t *testing.T) {
	assert.Equal(t, Discard, Combine())
	assert.Equal(t, Discard, Combine(nil, nil))

	var a, b Recorder
	one := Combine(nil, &a)
	assert.Same(t, &a, one)

	both := Combine(&a, &b)
	both.Emit(context.Background(), Event{Kind: KindTriggered, LevelID: "buy-1"})
	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
}

func TestRecorder_OfKind(t *testing.T) {
	var r Recorder
	ctx := context.Background()
	r.Emit(ctx, Event{Kind: KindPlanned})
	r.Emit(ctx, Event{Kind: KindOutcome, Status: "confirmed"})
	r.Emit(ctx, Event{Kind: KindPlanned})

	assert.Len(t, r.OfKind(KindPlanned), 2)
	out := r.OfKind(KindOutcome)
	assert.Len(t, out, 1)
	assert.Equal(t, "confirmed", out[0].Status)
	assert.Empty(t, r.OfKind(KindBreaker))
}

func TestLogSink_DoesNotPanic(t *testing.T) {
	LogSink{}.Emit(context.Background(), Event{
		Kind:        KindOutcome,
		Status:      "failed",
		Class:       "insufficient_funds",
		StageMillis: map[string]int64{"QUOTE_REQUESTED": 12},
	})
}
