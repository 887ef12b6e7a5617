package execution

import (
	"sync"
	"time"
)

// tokenGuard remembers consumed freshness tokens until well past their
// expiry so no token value is ever signed twice.
type tokenGuard struct {
	mu    sync.Mutex
	clock func() time.Time
	used  map[string]time.Time
}

func newTokenGuard(clock func() time.Time) *tokenGuard {
	return &tokenGuard{clock: clock, used: make(map[string]time.Time)}
}

// consume marks value as used. It returns false if value was consumed
// before.
func (g *tokenGuard) consume(value string, expiry time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock()
	for v, exp := range g.used {
		if now.Sub(exp) > 10*time.Minute {
			delete(g.used, v)
		}
	}
	if _, ok := g.used[value]; ok {
		return false
	}
	g.used[value] = expiry
	return true
}

func (g *tokenGuard) seen(value string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.used[value]
	return ok
}
