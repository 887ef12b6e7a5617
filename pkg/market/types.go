package market

import (
	"fmt"
	"strings"
	"time"
)

// Side identifies the direction of a grid level or fill.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// Opposite returns the side that closes a position opened on s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Pair names a base/quote market, e.g. SOL/USDC.
type Pair struct {
	Base  string
	Quote string
}

// ParsePair parses "BASE/QUOTE" (also accepts "-" as separator).
func ParsePair(raw string) (Pair, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	sep := "/"
	if !strings.Contains(raw, sep) {
		sep = "-"
	}
	parts := strings.Split(raw, sep)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, fmt.Errorf("market: invalid pair %q", raw)
	}
	return Pair{Base: parts[0], Quote: parts[1]}, nil
}

func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// DepthEntry is a single aggregated order-book row.
type DepthEntry struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// DepthSnapshot is an order-book view. Bids are sorted best (highest) first,
// asks best (lowest) first.
type DepthSnapshot struct {
	Pair      Pair         `json:"pair"`
	Bids      []DepthEntry `json:"bids"`
	Asks      []DepthEntry `json:"asks"`
	FetchedAt time.Time    `json:"fetched_at"`
}

// Clone returns a deep copy so cached snapshots cannot be mutated by callers.
func (d *DepthSnapshot) Clone() *DepthSnapshot {
	if d == nil {
		return nil
	}
	out := *d
	out.Bids = append([]DepthEntry(nil), d.Bids...)
	out.Asks = append([]DepthEntry(nil), d.Asks...)
	return &out
}
