package events

import (
	"context"
	"sync"
	"time"

	"gridpilot/pkg/market"
)

// Kind names a lifecycle event.
type Kind string

const (
	KindPlanned    Kind = "level_planned"
	KindTriggered  Kind = "trade_triggered"
	KindRejected   Kind = "trade_rejected"
	KindRetry      Kind = "retry_scheduled"
	KindBudget     Kind = "sign_budget_exceeded"
	KindOutcome    Kind = "outcome_terminal"
	KindReconciled Kind = "outcome_reconciled"
	KindBreaker    Kind = "breaker_tripped"
)

// Event is a structured lifecycle record. Fields irrelevant to a kind are
// left zero.
type Event struct {
	Kind      Kind        `json:"kind"`
	At        time.Time   `json:"at"`
	LevelID   string      `json:"level_id,omitempty"`
	AttemptID string      `json:"attempt_id,omitempty"`
	Side      market.Side `json:"side,omitempty"`
	Price     float64     `json:"price,omitempty"`
	Quantity  float64     `json:"quantity,omitempty"`
	State     string      `json:"state,omitempty"`
	Status    string      `json:"status,omitempty"`
	Class     string      `json:"class,omitempty"`
	OutcomeID string      `json:"outcome_id,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Attempts  int         `json:"attempts,omitempty"`
	Delay     int64       `json:"delay_ms,omitempty"`

	// StageMillis records wall-clock time spent per pipeline stage.
	StageMillis map[string]int64 `json:"stage_ms,omitempty"`
}

// Sink receives lifecycle events. Implementations must be safe for
// concurrent use and must not block for long.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event)

func (f SinkFunc) Emit(ctx context.Context, e Event) { f(ctx, e) }

type discard struct{}

func (discard) Emit(context.Context, Event) {}

// Discard drops every event.
var Discard Sink = discard{}

// Multi fans an event out to every sink in order.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, e)
		}
	}
}

// Combine returns a single sink over the non-nil sinks.
func Combine(sinks ...Sink) Sink {
	out := make(Multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	switch len(out) {
	case 0:
		return Discard
	case 1:
		return out[0]
	}
	return out
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfKind returns recorded events of kind k.
func (r *Recorder) OfKind(k Kind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}
