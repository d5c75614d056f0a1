package pipeline

import (
	"sync"

	"github.com/you/gnasty-alerts/internal/core"
)

// Transports records the most recent handshake of each platform transport.
type Transports struct {
	clock core.Clock

	mu        sync.RWMutex
	connected map[core.Platform]int64
}

func NewTransports(clock core.Clock) *Transports {
	if clock == nil {
		clock = core.SystemClock
	}
	return &Transports{clock: clock, connected: make(map[core.Platform]int64)}
}

// MarkConnected stamps platform as connected now and returns the stamp.
func (t *Transports) MarkConnected(p core.Platform) int64 {
	now := t.clock.NowMs()
	t.MarkConnectedAt(p, now)
	return now
}

func (t *Transports) MarkConnectedAt(p core.Platform, ms int64) {
	t.mu.Lock()
	t.connected[p] = ms
	t.mu.Unlock()
}

// Forget clears the handshake of p, for example after a disconnect.
func (t *Transports) Forget(p core.Platform) {
	t.mu.Lock()
	delete(t.connected, p)
	t.mu.Unlock()
}

func (t *Transports) ConnectionTime(p core.Platform) (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ms, ok := t.connected[p]
	return ms, ok
}

// Snapshot copies every known handshake time.
func (t *Transports) Snapshot() map[core.Platform]int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[core.Platform]int64, len(t.connected))
	for p, ms := range t.connected {
		out[p] = ms
	}
	return out
}
