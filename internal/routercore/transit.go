package routercore

import (
	"sync"
	"time"

	"github.com/go-i2p/i2pcore/internal/tunnel"
)

// TransitTable tracks every transit hop this router currently participates
// in as a middle, gateway, or endpoint (spec.md §4.H), keyed by the
// recv-tunnel-id the hop was installed under. Unlike tunnel.PendingTable it
// has no natural home in internal/tunnel: transit hops only exist once a
// build has already completed, and nothing under internal/tunnel otherwise
// needs to track them as a set.
type TransitTable struct {
	mu      sync.Mutex
	entries map[tunnel.TunnelID]*tunnel.TransitHop
}

// NewTransitTable returns an empty transit table.
func NewTransitTable() *TransitTable {
	return &TransitTable{entries: make(map[tunnel.TunnelID]*tunnel.TransitHop)}
}

// Add installs a newly admitted transit hop under its recv-tunnel-id.
func (t *TransitTable) Add(h *tunnel.TransitHop) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[h.RecvTunnelID] = h
}

// Get returns the transit hop receiving at id, if any.
func (t *TransitTable) Get(id tunnel.TunnelID) (*tunnel.TransitHop, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.entries[id]
	return h, ok
}

// Remove evicts the transit hop receiving at id.
func (t *TransitTable) Remove(id tunnel.TunnelID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

// Len reports how many transit hops are currently installed.
func (t *TransitTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// SweepExpired removes and returns every transit hop past its hard lifetime
// as of now (spec.md §9: "Transit-tunnel expiration is hard-coded at 10
// minutes; there is no grace window").
func (t *TransitTable) SweepExpired(now time.Time) []*tunnel.TransitHop {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []*tunnel.TransitHop
	for id, h := range t.entries {
		if h.Expired(now) {
			expired = append(expired, h)
			delete(t.entries, id)
		}
	}
	return expired
}
