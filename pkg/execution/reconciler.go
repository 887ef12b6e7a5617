package execution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/syncx"

	"gridpilot/pkg/events"
)

// Reconciler is the source of truth for ambiguous submissions. It answers
// outcome lookups (collapsing concurrent lookups of the same id), waits out
// token windows, and holds parked attempts until the ledger settles them.
type Reconciler struct {
	source OutcomeSource
	store  PendingStore
	sink   events.Sink
	clock  func() time.Time
	sleep  SleepFunc

	poll          time.Duration
	lookupTimeout time.Duration
	grace         time.Duration

	flight syncx.SingleFlight

	mu     sync.Mutex
	parked map[string]*parkedAttempt
}

type parkedAttempt struct {
	pending Pending
	res     Reservation
}

// ReconcilerOption customises a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithPendingStore persists parked attempts.
func WithPendingStore(store PendingStore) ReconcilerOption {
	return func(r *Reconciler) { r.store = store }
}

// WithReconcilerSink routes reconciliation events.
func WithReconcilerSink(sink events.Sink) ReconcilerOption {
	return func(r *Reconciler) {
		if sink != nil {
			r.sink = sink
		}
	}
}

// WithReconcilerClock overrides time and sleeping.
func WithReconcilerClock(clock func() time.Time, sleep SleepFunc) ReconcilerOption {
	return func(r *Reconciler) {
		if clock != nil {
			r.clock = clock
		}
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// WithReconcilerTiming sets the poll interval, per-lookup timeout and the
// grace period past token expiry.
func WithReconcilerTiming(poll, lookupTimeout, grace time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if poll > 0 {
			r.poll = poll
		}
		if lookupTimeout > 0 {
			r.lookupTimeout = lookupTimeout
		}
		if grace > 0 {
			r.grace = grace
		}
	}
}

// NewReconciler builds a reconciler over source.
func NewReconciler(source OutcomeSource, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		source:        source,
		sink:          events.Discard,
		clock:         time.Now,
		sleep:         sleepContext,
		poll:          time.Second,
		lookupTimeout: 5 * time.Second,
		grace:         30 * time.Second,
		flight:        syncx.NewSingleFlight(),
		parked:        make(map[string]*parkedAttempt),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lookup queries the ledger once. found is false when the ledger has no
// record of outcomeID.
func (r *Reconciler) Lookup(ctx context.Context, outcomeID string) (Status, bool, error) {
	l, err := r.lookup(ctx, outcomeID)
	if err != nil || !l.Found {
		return "", false, err
	}
	return l.Status, true, nil
}

func (r *Reconciler) lookup(ctx context.Context, outcomeID string) (Lookup, error) {
	if outcomeID == "" {
		return Lookup{}, errors.New("execution: empty outcome id")
	}
	v, err := r.flight.Do(outcomeID, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.lookupTimeout)
		defer cancel()
		return r.source.Outcome(lctx, outcomeID)
	})
	if err != nil {
		return Lookup{}, err
	}
	return v.(Lookup), nil
}

// Resolve polls until outcomeID reaches a final ledger status or its token
// window has provably closed. A not-found answer after tokenExpiry means the
// transaction can no longer land. ErrUnresolved is returned when neither is
// established before tokenExpiry plus the grace period.
func (r *Reconciler) Resolve(ctx context.Context, outcomeID string, tokenExpiry time.Time) (Lookup, error) {
	deadline := tokenExpiry.Add(r.grace)
	var lastErr error
	for {
		l, err := r.lookup(ctx, outcomeID)
		now := r.clock()
		switch {
		case err != nil:
			lastErr = err
			logx.WithContext(ctx).Errorf("reconcile lookup outcome=%s err=%v", outcomeID, err)
		case l.Found && l.Status != StatusPending:
			return l, nil
		case !l.Found && now.After(tokenExpiry):
			return l, nil
		}
		if now.After(deadline) {
			if lastErr == nil {
				lastErr = fmt.Errorf("still pending at %s", now.Format(time.RFC3339))
			}
			return Lookup{}, fmt.Errorf("%w: %s: %v", ErrUnresolved, outcomeID, lastErr)
		}
		if err := r.sleep(ctx, r.poll); err != nil {
			return Lookup{}, fmt.Errorf("%w: %s: %v", ErrUnresolved, outcomeID, err)
		}
	}
}

// Park keeps an unresolved attempt and its reservation until Sweep settles
// it. The attempt stays parked in memory even when persisting it fails.
func (r *Reconciler) Park(ctx context.Context, p Pending, res Reservation) error {
	if p.OutcomeID == "" {
		return errors.New("execution: parked attempt needs an outcome id")
	}
	if p.ParkedAt.IsZero() {
		p.ParkedAt = r.clock()
	}
	r.mu.Lock()
	r.parked[p.OutcomeID] = &parkedAttempt{pending: p, res: res}
	r.mu.Unlock()
	if r.store != nil {
		if err := r.store.Put(ctx, p); err != nil {
			return fmt.Errorf("execution: persist pending %s: %w", p.OutcomeID, err)
		}
	}
	return nil
}

// Restore reloads persisted attempts, re-holding each reservation through
// rehold. Attempts whose reservation cannot be re-held are dropped from the
// store and reported.
func (r *Reconciler) Restore(ctx context.Context, rehold func(Pending) (Reservation, error)) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	list, err := r.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("execution: list pending: %w", err)
	}
	restored := 0
	for _, p := range list {
		res, err := rehold(p)
		if err != nil {
			logx.WithContext(ctx).Errorf("restore pending outcome=%s level=%s err=%v", p.OutcomeID, p.LevelID, err)
			continue
		}
		r.mu.Lock()
		r.parked[p.OutcomeID] = &parkedAttempt{pending: p, res: res}
		r.mu.Unlock()
		restored++
	}
	return restored, nil
}

// Parked lists attempts awaiting reconciliation, oldest first.
func (r *Reconciler) Parked() []Pending {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Pending, 0, len(r.parked))
	for _, pa := range r.parked {
		out = append(out, pa.pending)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ParkedAt.Equal(out[j].ParkedAt) {
			return out[i].OutcomeID < out[j].OutcomeID
		}
		return out[i].ParkedAt.Before(out[j].ParkedAt)
	})
	return out
}

// Sweep checks every parked attempt once and settles those with a definite
// answer: confirmed commits, failed or expired-and-unseen releases.
func (r *Reconciler) Sweep(ctx context.Context) []Outcome {
	var out []Outcome
	for _, p := range r.Parked() {
		l, err := r.lookup(ctx, p.OutcomeID)
		if err != nil {
			logx.WithContext(ctx).Errorf("sweep lookup outcome=%s err=%v", p.OutcomeID, err)
			continue
		}
		now := r.clock()
		var status Status
		switch {
		case l.Found && l.Status == StatusConfirmed:
			status = StatusConfirmed
		case l.Found && l.Status == StatusFailed:
			status = StatusFailed
		case !l.Found && now.After(p.TokenExpiry):
			status = StatusFailed
			l.Reason = "token expired without landing"
		default:
			continue
		}
		if o, ok := r.settle(ctx, p, status, l.Reason); ok {
			out = append(out, o)
		}
	}
	return out
}

func (r *Reconciler) settle(ctx context.Context, p Pending, status Status, reason string) (Outcome, bool) {
	r.mu.Lock()
	pa, ok := r.parked[p.OutcomeID]
	if ok {
		delete(r.parked, p.OutcomeID)
	}
	r.mu.Unlock()
	if !ok {
		return Outcome{}, false
	}

	now := r.clock()
	o := Outcome{
		AttemptID:  p.AttemptID,
		LevelID:    p.LevelID,
		OutcomeID:  p.OutcomeID,
		Side:       p.Side,
		Status:     status,
		Reason:     reason,
		StartedAt:  p.ParkedAt,
		FinishedAt: now,
	}
	if status == StatusConfirmed {
		fill := p.Fill(now)
		o.State = StateConfirmed
		o.Fill = &fill
		if pa.res != nil && !pa.res.Commit(fill) {
			pa.res.Release()
		}
	} else {
		o.State = StateFailed
		o.Class = ClassifyReason(reason)
		if pa.res != nil {
			pa.res.Release()
		}
	}
	if r.store != nil {
		if err := r.store.Delete(ctx, p.OutcomeID); err != nil {
			logx.WithContext(ctx).Errorf("delete pending outcome=%s err=%v", p.OutcomeID, err)
		}
	}
	r.sink.Emit(ctx, events.Event{
		Kind:      events.KindReconciled,
		At:        now,
		LevelID:   p.LevelID,
		AttemptID: p.AttemptID,
		Side:      p.Side,
		Price:     p.FillPrice,
		Quantity:  p.FillQuantity,
		Status:    string(status),
		OutcomeID: p.OutcomeID,
		Reason:    reason,
	})
	return o, true
}
