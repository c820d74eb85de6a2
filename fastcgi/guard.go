package fastcgi

import "sync"

// requestGuard enforces that a Client has at most one in-flight request at
// a time. It reuses the acquire/release counter shape of a quota limiter,
// generalized from bytes-in-flight to requests-in-flight with a limit of
// exactly one, rather than a resettable byte budget.
type requestGuard struct {
	mu   sync.Mutex
	busy bool
}

func (g *requestGuard) acquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy {
		return false
	}
	g.busy = true
	return true
}

func (g *requestGuard) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.busy = false
}
