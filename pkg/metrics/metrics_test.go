package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridpilot/pkg/events"
	"gridpilot/pkg/market"
)

func TestCollectorCountsEvents(t *testing.T) {
	c := New()
	ctx := context.Background()

	c.Emit(ctx, events.Event{Kind: events.KindPlanned})
	c.Emit(ctx, events.Event{Kind: events.KindPlanned})
	c.Emit(ctx, events.Event{Kind: events.KindTriggered, Side: market.Buy})
	c.Emit(ctx, events.Event{Kind: events.KindRejected, Reason: "exposure_limit"})
	c.Emit(ctx, events.Event{Kind: events.KindRetry, Class: "freshness_expired"})
	c.Emit(ctx, events.Event{Kind: events.KindRetry, Class: "freshness_expired"})
	c.Emit(ctx, events.Event{Kind: events.KindBudget})
	c.Emit(ctx, events.Event{
		Kind:        events.KindOutcome,
		Status:      "confirmed",
		Attempts:    2,
		StageMillis: map[string]int64{"confirming": 1500, "quote_requested": 40},
	})
	c.Emit(ctx, events.Event{Kind: events.KindReconciled, Status: "failed"})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.planned))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.triggered.WithLabelValues("buy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rejected.WithLabelValues("exposure_limit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.retries.WithLabelValues("freshness_expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.overruns))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.outcomes.WithLabelValues("confirmed", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reconciled.WithLabelValues("failed")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.stages))
}

func TestBreakerGauge(t *testing.T) {
	c := New()
	c.Emit(context.Background(), events.Event{Kind: events.KindBreaker, Reason: "daily loss"})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.breaker))
	c.SetBreaker(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.breaker))
}

func TestHandlerExposesSeries(t *testing.T) {
	c := New()
	c.Emit(context.Background(), events.Event{Kind: events.KindPlanned})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "gridpilot_levels_planned_total 1")
}

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.Emit(context.Background(), events.Event{Kind: events.KindPlanned})
	assert.Equal(t, 1.0, testutil.ToFloat64(a.planned))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.planned))
}
