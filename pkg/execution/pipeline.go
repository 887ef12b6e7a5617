package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"

	"gridpilot/pkg/events"
	"gridpilot/pkg/market"
	"gridpilot/pkg/risk"
)

// Pipeline drives one triggered level through quote, build, sign,
// broadcast and confirmation, retrying per the error taxonomy. It settles
// the request's reservation exactly once, or parks it with the reconciler
// when the outcome cannot be determined.
type Pipeline struct {
	cfg        Config
	quotes     QuoteService
	builder    Builder
	signer     Signer
	endpoint   Endpoint
	reconciler *Reconciler
	sink       events.Sink
	clock      func() time.Time
	sleep      SleepFunc
	tokens     *tokenGuard
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithSink routes lifecycle events.
func WithSink(sink events.Sink) Option {
	return func(p *Pipeline) {
		if sink != nil {
			p.sink = sink
		}
	}
}

// WithClock overrides time and sleeping (primarily for tests).
func WithClock(clock func() time.Time, sleep SleepFunc) Option {
	return func(p *Pipeline) {
		if clock != nil {
			p.clock = clock
		}
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// WithReconciler shares a reconciler, e.g. one backed by a pending store.
func WithReconciler(r *Reconciler) Option {
	return func(p *Pipeline) { p.reconciler = r }
}

// NewPipeline wires the collaborators.
func NewPipeline(cfg Config, quotes QuoteService, builder Builder, signer Signer, endpoint Endpoint, opts ...Option) (*Pipeline, error) {
	switch {
	case quotes == nil:
		return nil, errors.New("execution: quote service is required")
	case builder == nil:
		return nil, errors.New("execution: transaction builder is required")
	case signer == nil:
		return nil, errors.New("execution: signer is required")
	case endpoint == nil:
		return nil, errors.New("execution: ledger endpoint is required")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:      cfg,
		quotes:   quotes,
		builder:  builder,
		signer:   signer,
		endpoint: endpoint,
		sink:     events.Discard,
		clock:    time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.reconciler == nil {
		p.reconciler = NewReconciler(endpoint,
			WithReconcilerClock(p.clock, p.sleep),
			WithReconcilerTiming(cfg.PollInterval, cfg.BroadcastTimeout, cfg.ResolveGrace),
			WithReconcilerSink(p.sink),
		)
	}
	p.tokens = newTokenGuard(p.clock)
	return p, nil
}

// Reconciler returns the pipeline's reconciler.
func (p *Pipeline) Reconciler() *Reconciler { return p.reconciler }

// Signer returns the configured signer.
func (p *Pipeline) Signer() Signer { return p.signer }

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Execute runs req to a terminal outcome. Cancelling ctx aborts the attempt
// only while nothing has been broadcast; afterwards the pipeline keeps
// polling on a detached context until the outcome is known or parked.
func (p *Pipeline) Execute(ctx context.Context, req Request) Outcome {
	r := &run{
		p:       p,
		req:     req,
		m:       newMachine(p.clock),
		tracker: NewTracker(p.cfg.RetryPolicy()),
		amount:  req.InputAmount(),
	}
	r.out = Outcome{
		AttemptID: req.AttemptID,
		LevelID:   req.LevelID,
		Side:      req.Side,
		StartedAt: p.clock(),
	}
	if req.Reservation == nil {
		return r.fail(ctx, classify(StateIdle, ErrNoReservation))
	}
	if !req.Side.Valid() || req.Quantity <= 0 || req.Price <= 0 ||
		math.IsNaN(req.Quantity) || math.IsInf(req.Quantity, 0) {
		return r.fail(ctx, classify(StateIdle, fmt.Errorf("%w: side=%q quantity=%v price=%v",
			ErrInvalidRequest, req.Side, req.Quantity, req.Price)))
	}
	return r.loop(ctx)
}

// run is the state of a single Execute call.
type run struct {
	p       *Pipeline
	req     Request
	m       *machine
	tracker *Tracker
	out     Outcome

	amount  decimal.Decimal
	quote   *Quote
	requote bool

	signature   string
	tokenExpiry time.Time
}

type passResult struct {
	confirmed bool
	unknown   bool
	err       *ClassifiedError
}

func (r *run) loop(ctx context.Context) Outcome {
	p := r.p
	for {
		r.tracker.Begin()
		res := r.pass(ctx)
		if res.confirmed {
			return r.confirm(ctx)
		}
		if res.unknown {
			if err := r.m.to(StateUnknown); err != nil {
				return r.fail(ctx, classify(StateConfirming, err))
			}
			l, err := p.reconciler.Resolve(context.WithoutCancel(ctx), r.signature, r.tokenExpiry)
			if err != nil {
				return r.park(ctx, err)
			}
			if l.Found && l.Status == StatusConfirmed {
				return r.confirm(ctx)
			}
			res.err = r.ledgerFailure(StateUnknown, l)
		}

		ce := res.err
		if r.m.current() != StateFailed {
			if err := r.m.to(StateFailed); err != nil {
				return r.fail(ctx, classify(r.m.current(), err))
			}
		}
		if ce.Class == ClassCancelled || !ce.Class.Retryable() {
			return r.fail(ctx, ce)
		}
		if ce.Stage != StateUnknown && r.signature != "" {
			status, found, err := p.reconciler.Lookup(context.WithoutCancel(ctx), r.signature)
			if err != nil {
				logx.WithContext(ctx).Errorf("pre-retry lookup level=%s outcome=%s err=%v", r.req.LevelID, r.signature, err)
			} else if found && status == StatusConfirmed {
				return r.confirm(ctx)
			}
		}
		delay, ok := r.tracker.Fail(ce.Class)
		if !ok {
			return r.fail(ctx, ce)
		}
		p.sink.Emit(ctx, events.Event{
			Kind:      events.KindRetry,
			At:        p.clock(),
			LevelID:   r.req.LevelID,
			AttemptID: r.req.AttemptID,
			Side:      r.req.Side,
			State:     string(ce.Stage),
			Class:     string(ce.Class),
			OutcomeID: r.signature,
			Reason:    ce.Error(),
			Attempts:  r.tracker.Attempts(),
			Delay:     delay.Milliseconds(),
		})
		if err := p.sleep(ctx, delay); err != nil {
			return r.fail(ctx, classify(StateFailed, err))
		}
		if ce.Class == ClassSlippageExceeded {
			r.amount = r.amount.Mul(decimal.NewFromFloat(1 - p.cfg.SlippageReduction)).Round(9)
			r.requote = true
		}
	}
}

// pass runs the stages once. Only the broadcast boundary decides whether a
// failure is still cancellable.
func (r *run) pass(ctx context.Context) passResult {
	p := r.p
	r.signature = ""

	if err := ctx.Err(); err != nil {
		return failedAt(r.m.current(), err)
	}
	if r.quote != nil && !r.requote && !r.quote.Expired(p.clock()) && r.m.current() != StateIdle {
		if err := r.m.to(StateBuildRequested); err != nil {
			return failedAt(r.m.current(), err)
		}
	} else {
		if err := r.m.to(StateQuoteRequested); err != nil {
			return failedAt(r.m.current(), err)
		}
		q, err := r.fetchQuote(ctx)
		if err != nil {
			return failedAt(StateQuoteRequested, err)
		}
		r.quote, r.requote = &q, false
		if err := r.m.to(StateQuoteReady); err != nil {
			return failedAt(StateQuoteReady, err)
		}
		if err := r.m.to(StateBuildRequested); err != nil {
			return failedAt(StateQuoteReady, err)
		}
	}

	unsigned, err := r.build(ctx)
	if err != nil {
		return failedAt(StateBuildRequested, err)
	}
	if err := r.m.to(StateSignRequested); err != nil {
		return failedAt(StateBuildRequested, err)
	}
	token, fetchedAt, err := r.freshToken(ctx)
	if err != nil {
		return failedAt(StateSignRequested, err)
	}
	signed, err := r.sign(ctx, unsigned, token)
	if err != nil {
		return failedAt(StateSignRequested, err)
	}
	now := p.clock()
	if elapsed := now.Sub(fetchedAt); elapsed > p.signer.Budget() {
		logx.WithContext(ctx).Slowf("sign budget exceeded level=%s elapsed=%s budget=%s", r.req.LevelID, elapsed, p.signer.Budget())
		p.sink.Emit(ctx, events.Event{
			Kind:      events.KindBudget,
			At:        now,
			LevelID:   r.req.LevelID,
			AttemptID: r.req.AttemptID,
			Delay:     elapsed.Milliseconds(),
		})
	}
	if token.Stale(now, p.cfg.TokenMargin) {
		return failedAt(StateSignRequested, fmt.Errorf("%w: token age %s at broadcast exceeds window %s",
			ErrFreshnessExpired, token.Age(now), token.Validity))
	}
	if err := ctx.Err(); err != nil {
		return failedAt(StateSignRequested, err)
	}

	// Point of no return: from here on the attempt can only be resolved.
	if err := r.m.to(StateBroadcast); err != nil {
		return failedAt(StateSignRequested, err)
	}
	r.signature = signed.Signature
	r.tokenExpiry = token.ExpiresAt()
	detached := context.WithoutCancel(ctx)

	bctx, cancel := context.WithTimeout(detached, p.cfg.BroadcastTimeout)
	id, err := p.endpoint.Broadcast(bctx, signed)
	cancel()
	r.out.Broadcasts++
	if err != nil {
		ce := classify(StateBroadcast, err)
		if ce.Class.definitive() {
			return passResult{err: ce}
		}
		logx.WithContext(ctx).Errorf("ambiguous broadcast level=%s outcome=%s err=%v", r.req.LevelID, r.signature, err)
	} else if id != "" {
		r.signature = id
	}
	if err := r.m.to(StateConfirming); err != nil {
		return failedAt(StateBroadcast, err)
	}
	return r.confirmPoll(detached)
}

func failedAt(stage State, err error) passResult {
	return passResult{err: classify(stage, err)}
}

func (r *run) fetchQuote(ctx context.Context) (Quote, error) {
	p := r.p
	in, out := r.req.Assets()
	qctx, cancel := context.WithTimeout(ctx, p.cfg.QuoteTimeout)
	defer cancel()
	q, err := p.quotes.GetQuote(qctx, QuoteRequest{
		InputAsset:  in,
		OutputAsset: out,
		Amount:      r.amount,
		SlippageBps: p.cfg.SlippageBps,
	})
	if err != nil {
		return Quote{}, err
	}
	if q.FetchedAt.IsZero() {
		q.FetchedAt = p.clock()
	}
	if q.TTL <= 0 || q.TTL > p.cfg.QuoteTTL {
		q.TTL = p.cfg.QuoteTTL
	}
	return q, nil
}

func (r *run) build(ctx context.Context) (*UnsignedTransaction, error) {
	p := r.p
	account := r.req.Account
	if account == "" {
		account = p.signer.Address()
	}
	bctx, cancel := context.WithTimeout(ctx, p.cfg.BuildTimeout)
	defer cancel()
	return p.builder.BuildUnsigned(bctx, *r.quote, account)
}

// freshToken fetches a token with enough window left for the signer's
// declared budget, refetching stale or already-consumed values.
func (r *run) freshToken(ctx context.Context) (FreshnessToken, time.Time, error) {
	p := r.p
	need := p.cfg.TokenMargin + p.signer.Budget()
	for i := 0; i <= p.cfg.TokenRefetches; i++ {
		tctx, cancel := context.WithTimeout(ctx, p.cfg.TokenTimeout)
		tok, err := p.endpoint.FreshnessToken(tctx)
		cancel()
		if err != nil {
			return FreshnessToken{}, time.Time{}, err
		}
		now := p.clock()
		if tok.IssuedAt.IsZero() {
			tok.IssuedAt = now
		}
		if tok.Validity <= 0 || tok.Validity > p.cfg.TokenValidity {
			tok.Validity = p.cfg.TokenValidity
		}
		if tok.Stale(now, need) {
			logx.WithContext(ctx).Infof("refetch stale token level=%s age=%s window=%s", r.req.LevelID, tok.Age(now), tok.Validity)
			continue
		}
		if !p.tokens.consume(tok.Value, tok.ExpiresAt()) {
			logx.WithContext(ctx).Infof("refetch reused token level=%s", r.req.LevelID)
			continue
		}
		return tok, now, nil
	}
	return FreshnessToken{}, time.Time{}, fmt.Errorf("%w: no usable token after %d fetches", ErrFreshnessExpired, p.cfg.TokenRefetches+1)
}

func (r *run) sign(ctx context.Context, tx *UnsignedTransaction, token FreshnessToken) (SignedTransaction, error) {
	p := r.p
	timeout := p.cfg.SignTimeout
	if b := 2 * p.signer.Budget(); b > timeout {
		timeout = b
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	signed, err := p.signer.Sign(sctx, tx, token)
	if err != nil {
		return SignedTransaction{}, err
	}
	if signed.Signature == "" {
		return SignedTransaction{}, errors.New("execution: signer returned no signature")
	}
	signed.Token = token
	return signed, nil
}

// confirmPoll polls the outcome until it is final or the confirmation
// timeout elapses, in which case the pass ends UNKNOWN.
func (r *run) confirmPoll(ctx context.Context) passResult {
	p := r.p
	deadline := p.clock().Add(p.cfg.ConfirmTimeout)
	for {
		l, err := p.reconciler.lookup(ctx, r.signature)
		if err != nil {
			logx.WithContext(ctx).Debugf("confirm poll level=%s outcome=%s err=%v", r.req.LevelID, r.signature, err)
		} else if l.Found {
			switch l.Status {
			case StatusConfirmed:
				return passResult{confirmed: true}
			case StatusFailed:
				return passResult{err: r.ledgerFailure(StateConfirming, l)}
			}
		}
		if !p.clock().Before(deadline) {
			return passResult{unknown: true}
		}
		if err := p.sleep(ctx, p.cfg.PollInterval); err != nil {
			return passResult{unknown: true}
		}
	}
}

func (r *run) ledgerFailure(stage State, l Lookup) *ClassifiedError {
	if !l.Found {
		return &ClassifiedError{
			Class: ClassUnknown,
			Stage: stage,
			Err:   fmt.Errorf("outcome %s never landed before token expiry", r.signature),
		}
	}
	return &ClassifiedError{
		Class: ClassifyReason(l.Reason),
		Stage: stage,
		Err:   fmt.Errorf("ledger rejected %s: %s", r.signature, l.Reason),
	}
}

func (r *run) confirm(ctx context.Context) Outcome {
	if err := r.m.to(StateConfirmed); err != nil {
		logx.WithContext(ctx).Errorf("confirm transition level=%s err=%v", r.req.LevelID, err)
	}
	fill := r.fill(r.p.clock())
	if !r.req.Reservation.Commit(fill) {
		logx.WithContext(ctx).Infof("fill already settled level=%s outcome=%s", r.req.LevelID, r.signature)
		r.req.Reservation.Release()
	}
	r.out.Status = StatusConfirmed
	r.out.OutcomeID = r.signature
	r.out.Fill = &fill
	return r.finish(ctx)
}

func (r *run) fail(ctx context.Context, ce *ClassifiedError) Outcome {
	if r.m.current() != StateFailed {
		_ = r.m.to(StateFailed)
	}
	if r.req.Reservation != nil {
		r.req.Reservation.Release()
	}
	r.out.Status = StatusFailed
	if errors.Is(ce, context.DeadlineExceeded) {
		r.out.Status = StatusTimeout
	}
	r.out.OutcomeID = r.signature
	r.out.Class = ce.Class
	r.out.Reason = ce.Error()
	r.out.Err = ce
	return r.finish(ctx)
}

// park hands an unresolved broadcast to the reconciler with its reservation
// still held.
func (r *run) park(ctx context.Context, cause error) Outcome {
	fill := r.fill(time.Time{})
	pending := Pending{
		OutcomeID:    r.signature,
		AttemptID:    r.req.AttemptID,
		LevelID:      r.req.LevelID,
		Side:         r.req.Side,
		Amount:       r.req.Reservation.Amount(),
		Closes:       r.req.Reservation.Closes(),
		FillPrice:    fill.Price,
		FillQuantity: fill.Quantity,
		FillValue:    fill.Value,
		TokenExpiry:  r.tokenExpiry,
		ParkedAt:     r.p.clock(),
	}
	if err := r.p.reconciler.Park(ctx, pending, r.req.Reservation); err != nil {
		logx.WithContext(ctx).Errorf("park level=%s outcome=%s err=%v", r.req.LevelID, r.signature, err)
	}
	r.out.Status = StatusUnknown
	r.out.OutcomeID = r.signature
	r.out.Class = ClassUnknown
	r.out.Reason = cause.Error()
	r.out.Err = cause
	r.out.Parked = true
	return r.finish(ctx)
}

func (r *run) finish(ctx context.Context) Outcome {
	p := r.p
	r.out.State = r.m.current()
	r.out.Attempts = r.tracker.Attempts()
	r.out.Stages = r.m.durations()
	r.out.FinishedAt = p.clock()

	stages := make(map[string]int64, len(r.out.Stages))
	for k, v := range r.out.Stages {
		stages[string(k)] = v.Milliseconds()
	}
	e := events.Event{
		Kind:        events.KindOutcome,
		At:          r.out.FinishedAt,
		LevelID:     r.req.LevelID,
		AttemptID:   r.req.AttemptID,
		Side:        r.req.Side,
		Price:       r.req.Price,
		Quantity:    r.req.Quantity,
		State:       string(r.out.State),
		Status:      string(r.out.Status),
		Class:       string(r.out.Class),
		OutcomeID:   r.out.OutcomeID,
		Reason:      r.out.Reason,
		Attempts:    r.out.Attempts,
		StageMillis: stages,
	}
	if r.out.Fill != nil {
		e.Price = r.out.Fill.Price
		e.Quantity = r.out.Fill.Quantity
	}
	p.sink.Emit(ctx, e)
	return r.out
}

// fillFromQuote derives the executed quantity and price from the route:
// buys spend quote currency for base, sells the reverse.
// fill describes the broadcast attempt as a risk fill. A slippage retry
// trades less than was reserved, so the value shrinks by the same ratio.
func (r *run) fill(at time.Time) risk.Fill {
	f := fillFromQuote(r.quote, r.req, r.signature, at)
	f.Value = r.req.Reservation.Amount()
	if full := r.req.InputAmount(); full.IsPositive() && r.amount.LessThan(full) {
		f.Value *= r.amount.Div(full).InexactFloat64()
	}
	return f
}

func fillFromQuote(q *Quote, req Request, outcomeID string, at time.Time) risk.Fill {
	qty, price := req.Quantity, req.Price
	if q != nil && q.InAmount.IsPositive() && q.OutAmount.IsPositive() {
		if req.Side == market.Buy {
			qty = q.OutAmount.InexactFloat64()
			price = q.InAmount.DivRound(q.OutAmount, 12).InexactFloat64()
		} else {
			qty = q.InAmount.InexactFloat64()
			price = q.OutAmount.DivRound(q.InAmount, 12).InexactFloat64()
		}
	}
	return risk.Fill{
		OutcomeID: outcomeID,
		LevelID:   req.LevelID,
		Side:      req.Side,
		Quantity:  qty,
		Price:     price,
		At:        at,
	}
}
