package execution

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Class is the error taxonomy driving retry decisions.
type Class string

const (
	ClassNone              Class = ""
	ClassFreshnessExpired  Class = "freshness_expired"
	ClassOversizedPayload  Class = "oversized_payload"
	ClassNetworkOrTimeout  Class = "network_or_timeout"
	ClassInsufficientFunds Class = "insufficient_funds"
	ClassSlippageExceeded  Class = "slippage_exceeded"
	ClassUnknown           Class = "unknown"
	ClassCancelled         Class = "cancelled"
	ClassInvalid           Class = "invalid"
)

// Retryable reports whether the class may be retried at all. Slippage and
// unknown errors are further limited to a single retry by Tracker.
func (c Class) Retryable() bool {
	switch c {
	case ClassFreshnessExpired, ClassNetworkOrTimeout, ClassSlippageExceeded, ClassUnknown:
		return true
	default:
		return false
	}
}

// oneShot classes are retried at most once.
func (c Class) oneShot() bool {
	return c == ClassSlippageExceeded || c == ClassUnknown
}

// definitive classes prove a submission was rejected before landing.
func (c Class) definitive() bool {
	switch c {
	case ClassFreshnessExpired, ClassOversizedPayload, ClassInsufficientFunds, ClassSlippageExceeded:
		return true
	default:
		return false
	}
}

var (
	ErrFreshnessExpired  = errors.New("execution: freshness token expired")
	ErrOversizedPayload  = errors.New("execution: transaction payload too large")
	ErrInsufficientFunds = errors.New("execution: insufficient funds")
	ErrSlippageExceeded  = errors.New("execution: slippage tolerance exceeded")
	ErrInvalidTransition = errors.New("execution: invalid state transition")
	ErrUnresolved        = errors.New("execution: outcome unresolved")
	ErrNoReservation     = errors.New("execution: exposure reservation required")
	ErrInvalidRequest    = errors.New("execution: invalid request")
)

// ClassifiedError carries the taxonomy class and the stage an error hit.
type ClassifiedError struct {
	Class Class
	Stage State
	Err   error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s during %s: %v", e.Class, e.Stage, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// classify wraps err with its class and stage.
func classify(stage State, err error) *ClassifiedError {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}
	return &ClassifiedError{Class: Classify(err), Stage: stage, Err: err}
}

// StatusCoder is implemented by transport errors carrying an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// Classify maps an error into the taxonomy.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	switch {
	case errors.Is(err, ErrFreshnessExpired):
		return ClassFreshnessExpired
	case errors.Is(err, ErrOversizedPayload):
		return ClassOversizedPayload
	case errors.Is(err, ErrInsufficientFunds):
		return ClassInsufficientFunds
	case errors.Is(err, ErrSlippageExceeded):
		return ClassSlippageExceeded
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNoReservation), errors.Is(err, ErrInvalidRequest):
		return ClassInvalid
	case errors.Is(err, context.Canceled):
		return ClassCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ClassNetworkOrTimeout
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		switch code := sc.StatusCode(); {
		case code == http.StatusRequestEntityTooLarge:
			return ClassOversizedPayload
		case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
			return ClassNetworkOrTimeout
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassNetworkOrTimeout
	}
	return ClassifyReason(err.Error())
}

// ClassifyReason maps a ledger or aggregator failure message into the
// taxonomy.
func ClassifyReason(reason string) Class {
	r := strings.ToLower(reason)
	switch {
	case r == "":
		return ClassUnknown
	case strings.Contains(r, "blockhash not found"), strings.Contains(r, "expired"), strings.Contains(r, "stale"):
		return ClassFreshnessExpired
	case strings.Contains(r, "too large"), strings.Contains(r, "oversized"):
		return ClassOversizedPayload
	case strings.Contains(r, "insufficient"):
		return ClassInsufficientFunds
	case strings.Contains(r, "slippage"):
		return ClassSlippageExceeded
	case strings.Contains(r, "timeout"), strings.Contains(r, "timed out"), strings.Contains(r, "connection"):
		return ClassNetworkOrTimeout
	default:
		return ClassUnknown
	}
}
