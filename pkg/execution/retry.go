package execution

import "time"

// RetryPolicy bounds retries and sets the escalating backoff schedule.
type RetryPolicy struct {
	MaxRetries int
	Backoff    []time.Duration
}

// DefaultRetryPolicy retries up to three times after 0.5s, 1s and 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Backoff:    []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second},
	}
}

// Next returns the delay before retrying after the given 1-based attempt
// failed with class, or false when no retry is allowed.
func (p RetryPolicy) Next(attempt int, class Class) (time.Duration, bool) {
	if !class.Retryable() || attempt < 1 || attempt > p.MaxRetries {
		return 0, false
	}
	if len(p.Backoff) == 0 {
		return 0, true
	}
	i := attempt - 1
	if i >= len(p.Backoff) {
		i = len(p.Backoff) - 1
	}
	return p.Backoff[i], true
}

// Tracker is the per-execution retry state: attempt count, last
// classification and how often each single-retry class has been seen.
type Tracker struct {
	policy   RetryPolicy
	attempts int
	last     Class
	seen     map[Class]int
}

// NewTracker starts a tracker with no attempts.
func NewTracker(policy RetryPolicy) *Tracker {
	return &Tracker{policy: policy, seen: make(map[Class]int)}
}

// Begin records the start of an attempt and returns its 1-based number.
func (t *Tracker) Begin() int {
	t.attempts++
	return t.attempts
}

// Fail records a failed attempt and decides whether another is allowed.
func (t *Tracker) Fail(class Class) (time.Duration, bool) {
	t.last = class
	t.seen[class]++
	if class.oneShot() && t.seen[class] > 1 {
		return 0, false
	}
	return t.policy.Next(t.attempts, class)
}

// Attempts returns how many attempts have begun.
func (t *Tracker) Attempts() int { return t.attempts }

// Last returns the most recent failure class.
func (t *Tracker) Last() Class { return t.last }
