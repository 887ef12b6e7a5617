package execution

import "sync"

// Gate allows at most one in-flight execution per level.
type Gate struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewGate returns an empty gate.
func NewGate() *Gate {
	return &Gate{active: make(map[string]struct{})}
}

// TryAcquire claims levelID, reporting false if it is already in flight.
func (g *Gate) TryAcquire(levelID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[levelID]; busy {
		return false
	}
	g.active[levelID] = struct{}{}
	return true
}

// Release frees levelID.
func (g *Gate) Release(levelID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, levelID)
}

// Busy reports whether levelID is in flight.
func (g *Gate) Busy(levelID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.active[levelID]
	return ok
}

// InFlight returns the number of claimed levels.
func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}
