package cache

import (
	"strings"
	"time"

	"gridpilot/internal/config"
)

// Namespace prefixes every key this service writes to Redis.
const Namespace = "gridpilot"

// TTLSet maps the short/medium/long config buckets onto the things the
// service caches. Summaries go stale fastest, row caches live longest.
type TTLSet struct {
	summary time.Duration
	trades  time.Duration
	rows    time.Duration
}

// NewTTLSet reads the bucket sizes, given in seconds. Zero selects the
// default and a negative value disables expiry.
func NewTTLSet(cfg config.CacheTTL) TTLSet {
	return TTLSet{
		summary: seconds(cfg.Short, 10*time.Second),
		trades:  seconds(cfg.Medium, time.Minute),
		rows:    seconds(cfg.Long, 5*time.Minute),
	}
}

func seconds(n int, fallback time.Duration) time.Duration {
	switch {
	case n < 0:
		return 0
	case n == 0:
		return fallback
	}
	return time.Duration(n) * time.Second
}

// Summary is the lifetime of a published risk summary.
func (t TTLSet) Summary() time.Duration { return t.summary }

// RecentTrades is the lifetime of the recent closed-trades list.
func (t TTLSet) RecentTrades() time.Duration { return t.trades }

// Rows is the expiry of model row caches.
func (t TTLSet) Rows() time.Duration { return t.rows }

func key(parts ...string) string {
	var b strings.Builder
	b.WriteString(Namespace)
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			b.WriteByte(':')
			b.WriteString(p)
		}
	}
	return b.String()
}

// TradesRecentKey holds the newest closed trades of a pair.
func TradesRecentKey(pair string) string {
	return key("trades", "recent", strings.ToUpper(pair))
}

// SummaryKey holds the last published risk summary of a pair.
func SummaryKey(pair string) string {
	return key("summary", strings.ToUpper(pair))
}
