package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridpilot/pkg/market"
)

func newTestReconciler(clock *fakeClock, ledger *fakeLedger, store PendingStore) *Reconciler {
	sleep := func(ctx context.Context, d time.Duration) error {
		clock.Advance(d)
		return ctx.Err()
	}
	opts := []ReconcilerOption{WithReconcilerClock(clock.Now, sleep)}
	if store != nil {
		opts = append(opts, WithPendingStore(store))
	}
	return NewReconciler(ledger, opts...)
}

func TestReconciler_ResolveNotFoundAfterExpiry(t *testing.T) {
	clock := newFakeClock()
	r := newTestReconciler(clock, newFakeLedger(clock), nil)
	expiry := clock.Now().Add(10 * time.Second)

	l, err := r.Resolve(context.Background(), "sig-1", expiry)
	require.NoError(t, err)
	assert.False(t, l.Found)
	assert.True(t, clock.Now().After(expiry))
}

func TestReconciler_ResolvePendingPastGrace(t *testing.T) {
	clock := newFakeClock()
	ledger := newFakeLedger(clock)
	ledger.set("sig-1", Lookup{Found: true, Status: StatusPending})
	r := newTestReconciler(clock, ledger, nil)

	_, err := r.Resolve(context.Background(), "sig-1", clock.Now().Add(5*time.Second))
	require.ErrorIs(t, err, ErrUnresolved)
}

func TestReconciler_ResolveFinal(t *testing.T) {
	clock := newFakeClock()
	ledger := newFakeLedger(clock)
	ledger.set("sig-1", Lookup{Found: true, Status: StatusFailed, Reason: "insufficient lamports"})
	r := newTestReconciler(clock, ledger, nil)

	l, err := r.Resolve(context.Background(), "sig-1", clock.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, l.Status)
	assert.Equal(t, ClassInsufficientFunds, ClassifyReason(l.Reason))
}

func TestReconciler_LookupEmptyID(t *testing.T) {
	clock := newFakeClock()
	r := newTestReconciler(clock, newFakeLedger(clock), nil)
	_, _, err := r.Lookup(context.Background(), "")
	assert.Error(t, err)
}

func TestReconciler_SweepSettlesDefiniteAnswers(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	ledger := newFakeLedger(clock)
	store := newMemStore()
	r := newTestReconciler(clock, ledger, store)
	now := clock.Now()

	park := func(id string, expiry time.Time) *fakeReservation {
		res := &fakeReservation{key: id, amount: 50}
		require.NoError(t, r.Park(ctx, Pending{
			OutcomeID:    id,
			LevelID:      "level-" + id,
			Side:         market.Buy,
			Amount:       50,
			FillPrice:    100,
			FillQuantity: 0.5,
			TokenExpiry:  expiry,
		}, res))
		clock.Advance(time.Second)
		return res
	}
	confirmed := park("confirmed", now.Add(time.Minute))
	failed := park("failed", now.Add(time.Minute))
	expired := park("expired", now.Add(-time.Minute))
	waiting := park("waiting", now.Add(time.Hour))

	ledger.set("confirmed", Lookup{Found: true, Status: StatusConfirmed})
	ledger.set("failed", Lookup{Found: true, Status: StatusFailed, Reason: "slippage tolerance exceeded"})

	out := r.Sweep(ctx)
	require.Len(t, out, 3)
	assert.Equal(t, "confirmed", out[0].OutcomeID)
	assert.Equal(t, StatusConfirmed, out[0].Status)
	require.NotNil(t, out[0].Fill)
	assert.InDelta(t, 0.5, out[0].Fill.Quantity, 1e-12)
	assert.Equal(t, ClassSlippageExceeded, out[1].Class)
	assert.Equal(t, StatusFailed, out[2].Status)

	_, commits := confirmed.counts()
	assert.Equal(t, 1, commits)
	releases, _ := failed.counts()
	assert.Equal(t, 1, releases)
	releases, _ = expired.counts()
	assert.Equal(t, 1, releases)
	releases, commits = waiting.counts()
	assert.Zero(t, releases+commits)

	parked := r.Parked()
	require.Len(t, parked, 1)
	assert.Equal(t, "waiting", parked[0].OutcomeID)
	left, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "waiting", left[0].OutcomeID)

	assert.Empty(t, r.Sweep(ctx))
}

func TestReconciler_ParkKeepsAttemptWhenStoreFails(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore()
	store.err = errors.New("disk full")
	r := newTestReconciler(clock, newFakeLedger(clock), store)

	err := r.Park(context.Background(), Pending{OutcomeID: "sig-1"}, &fakeReservation{key: "k"})
	assert.Error(t, err)
	assert.Len(t, r.Parked(), 1)

	assert.Error(t, r.Park(context.Background(), Pending{}, nil))
}

func TestReconciler_Restore(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newMemStore()
	require.NoError(t, store.Put(ctx, Pending{OutcomeID: "sig-1", LevelID: "buy-1", Amount: 50}))
	require.NoError(t, store.Put(ctx, Pending{OutcomeID: "sig-2", LevelID: "buy-2", Amount: 5000}))
	r := newTestReconciler(clock, newFakeLedger(clock), store)

	n, err := r.Restore(ctx, func(p Pending) (Reservation, error) {
		if p.Amount > 1000 {
			return nil, errors.New("exposure limit")
		}
		return &fakeReservation{key: p.LevelID, amount: p.Amount}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	parked := r.Parked()
	require.Len(t, parked, 1)
	assert.Equal(t, "sig-1", parked[0].OutcomeID)

	none := newTestReconciler(clock, newFakeLedger(clock), nil)
	n, err = none.Restore(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// gatedSource holds every lookup until release is closed and fails it when
// the context it was handed is already done.
type gatedSource struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSource) Outcome(ctx context.Context, _ string) (Lookup, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	if err := ctx.Err(); err != nil {
		return Lookup{}, err
	}
	return Lookup{Found: true, Status: StatusConfirmed}, nil
}

func TestReconciler_SharedLookupOutlivesFirstCaller(t *testing.T) {
	src := &gatedSource{entered: make(chan struct{}, 1), release: make(chan struct{})}
	r := NewReconciler(src)

	type result struct {
		status Status
		found  bool
		err    error
	}
	lookup := func(ctx context.Context, out chan<- result) {
		status, found, err := r.Lookup(ctx, "sig-1")
		out <- result{status, found, err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan result, 1)
	go lookup(ctx, first)
	<-src.entered

	second := make(chan result, 1)
	go lookup(context.Background(), second)
	cancel()
	close(src.release)

	for _, ch := range []chan result{first, second} {
		got := <-ch
		require.NoError(t, got.err)
		assert.True(t, got.found)
		assert.Equal(t, StatusConfirmed, got.status)
	}
}
