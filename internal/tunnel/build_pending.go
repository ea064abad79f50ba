package tunnel

import (
	"sync"
	"time"
)

// State is a build/tunnel lifecycle state (spec.md §3 "Tunnel": "a state ∈
// {pending, build-reply-received, established, test-failed, build-failed,
// failed, expiring}").
type State int

const (
	StatePending State = iota
	StateBuildReplyReceived
	StateEstablished
	StateTestFailed
	StateBuildFailed
	StateFailed
	StateExpiring
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateBuildReplyReceived:
		return "build-reply-received"
	case StateEstablished:
		return "established"
	case StateTestFailed:
		return "test-failed"
	case StateBuildFailed:
		return "build-failed"
	case StateFailed:
		return "failed"
	case StateExpiring:
		return "expiring"
	default:
		return "unknown"
	}
}

// PendingBuild is one outstanding tunnel build, indexed by the msg-id the
// last hop's reply will carry (spec.md §4.G "Build pending table": "indexed
// by the last-hop reply msg-id. Entries time out after 30s").
type PendingBuild struct {
	ReplyMsgID uint32
	Direction  Direction
	Hops       []HopPlan
	Perm       []int
	CreatedAt  time.Time
	State      State
}

// PendingTable tracks outstanding builds this router originated. It is
// owned exclusively by the tunnel worker (spec.md §5: "Pending-tunnel and
// transit-tunnel maps are internal to this thread"); the mutex exists only
// to let tests and metrics readers peek in safely.
type PendingTable struct {
	mu      sync.Mutex
	entries map[uint32]*PendingBuild
}

// NewPendingTable returns an empty pending-build table.
func NewPendingTable() *PendingTable {
	return &PendingTable{entries: make(map[uint32]*PendingBuild)}
}

// Add registers a new pending build.
func (t *PendingTable) Add(p *PendingBuild) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[p.ReplyMsgID] = p
}

// Get returns the pending build for replyMsgID, if any.
func (t *PendingTable) Get(replyMsgID uint32) (*PendingBuild, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[replyMsgID]
	return p, ok
}

// Remove evicts a pending build once it has resolved (established or
// failed).
func (t *PendingTable) Remove(replyMsgID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, replyMsgID)
}

// SweepExpired removes and returns every pending build older than
// BuildTimeout as of now (spec.md §4.G: "Entries time out after 30s").
func (t *PendingTable) SweepExpired(now time.Time) []*PendingBuild {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []*PendingBuild
	for id, p := range t.entries {
		if now.Sub(p.CreatedAt) > BuildTimeout {
			p.State = StateFailed
			expired = append(expired, p)
			delete(t.entries, id)
		}
	}
	return expired
}

// Len reports how many builds are currently outstanding.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// InstallHopContexts builds the established Tunnel's per-hop decryption
// state from a pending build's hop plan (the peeled reply's outcomes are
// checked by the caller beforehand), installing them "in forward order for outbound, reverse for inbound"
// (spec.md §4.G "Reply processing").
func InstallHopContexts(p *PendingBuild, now time.Time) *Tunnel {
	contexts := make([]HopContext, len(p.Hops))
	for i, h := range p.Hops {
		contexts[i] = HopContext{
			Peer:         h.Peer,
			RecvTunnelID: h.RecvTunnelID,
			NextTunnelID: h.NextTunnelID,
			NextIdent:    h.NextIdent,
			LayerKey:     h.LayerKey,
			IVKey:        h.IVKey,
			Gateway:      h.Gateway,
			Endpoint:     h.Endpoint,
		}
	}
	if p.Direction == Inbound {
		for i, j := 0, len(contexts)-1; i < j; i, j = i+1, j-1 {
			contexts[i], contexts[j] = contexts[j], contexts[i]
		}
	}
	return &Tunnel{
		ID:        TunnelID(p.Hops[0].RecvTunnelID),
		Direction: p.Direction,
		Hops:      contexts,
		CreatedAt: now,
	}
}
