package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-i2p/i2pcore/internal/tunnel"
)

// Entry is one tunnel a Pool is tracking, alongside its pool-lifecycle
// bookkeeping (distinct from the tunnel's own build-lifecycle State, which
// Entry mirrors and extends with usage and test accounting).
type Entry struct {
	Tunnel       *tunnel.Tunnel
	State        tunnel.State
	CreatedAt    time.Time
	LastTestedAt time.Time
	UsageCount   uint64
}

func (e *Entry) expiring(now time.Time) bool {
	return now.Sub(e.CreatedAt) > tunnel.Lifetime-ExpiringWindow
}

// Pool maintains one destination's (or the exploratory pool's) inbound and
// outbound tunnel sets (spec.md §4.I).
type Pool struct {
	cfg Config

	mu       sync.Mutex
	outbound []*Entry
	inbound  []*Entry
}

// New returns an empty pool for cfg.
func New(cfg Config) *Pool {
	return &Pool{cfg: cfg}
}

// Config returns the pool's configuration.
func (p *Pool) Config() Config {
	return p.cfg
}

// AddOutbound registers a newly established outbound tunnel.
func (p *Pool) AddOutbound(t *tunnel.Tunnel, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outbound = append(p.outbound, &Entry{Tunnel: t, State: tunnel.StateEstablished, CreatedAt: now})
}

// AddInbound registers a newly established inbound tunnel.
func (p *Pool) AddInbound(t *tunnel.Tunnel, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inbound = append(p.inbound, &Entry{Tunnel: t, State: tunnel.StateEstablished, CreatedAt: now})
}

// Deficit reports how many more outbound and inbound tunnels must be built
// to reach the configured counts, counting only entries that are not
// already failed or expiring (spec.md §4.I: "maintain the requested tunnel
// counts").
func (p *Pool) Deficit() (wantOut, wantIn int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.TunnelsOut - countUsable(p.outbound), p.cfg.TunnelsIn - countUsable(p.inbound)
}

func countUsable(entries []*Entry) int {
	n := 0
	for _, e := range entries {
		if e.State == tunnel.StateEstablished || e.State == tunnel.StateBuildReplyReceived {
			n++
		}
	}
	return n
}

// SweepExpiry marks tunnels that have entered their 1-minute pre-expiry
// window as StateExpiring (so a caller knows to schedule a recreation
// clone) and removes tunnels past their hard lifetime entirely.
func (p *Pool) SweepExpiry(now time.Time) (expiring []*Entry, removed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outbound, expiring, removed = sweepOne(p.outbound, now, expiring, removed)
	p.inbound, expiring, removed = sweepOne(p.inbound, now, expiring, removed)
	return expiring, removed
}

func sweepOne(entries []*Entry, now time.Time, expiring []*Entry, removed int) ([]*Entry, []*Entry, int) {
	kept := entries[:0]
	for _, e := range entries {
		if e.Tunnel.Expired(now) {
			removed++
			continue
		}
		if e.State == tunnel.StateEstablished && e.expiring(now) {
			e.State = tunnel.StateExpiring
			expiring = append(expiring, e)
		}
		kept = append(kept, e)
	}
	return kept, expiring, removed
}

// GetNextOutbound returns the least-used established outbound tunnel,
// round-robin with a bias toward lightly-used entries (spec.md §4.I:
// "get-next-outbound ... round-robin-with-bias-toward-less-used").
func (p *Pool) GetNextOutbound() (*tunnel.Tunnel, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := pickLeastUsed(p.outbound)
	if e == nil {
		return nil, false
	}
	e.UsageCount++
	return e.Tunnel, true
}

// GetNextInbound returns the least-used established inbound tunnel.
func (p *Pool) GetNextInbound() (*tunnel.Tunnel, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := pickLeastUsed(p.inbound)
	if e == nil {
		return nil, false
	}
	e.UsageCount++
	return e.Tunnel, true
}

// FindOutbound returns the established outbound tunnel with the given ID,
// used to locate the full hop-chain keys when injecting a locally
// originated message into a specific tunnel (spec.md §4.H "TunnelGateway
// message").
func (p *Pool) FindOutbound(id tunnel.TunnelID) (*tunnel.Tunnel, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.outbound {
		if e.Tunnel.ID == id {
			return e.Tunnel, true
		}
	}
	return nil, false
}

func pickLeastUsed(entries []*Entry) *Entry {
	var best *Entry
	for _, e := range entries {
		if e.State != tunnel.StateEstablished {
			continue
		}
		if best == nil || e.UsageCount < best.UsageCount {
			best = e
		}
	}
	return best
}

// TestFunc sends a DeliveryStatus through out and waits to receive it back
// through in, returning an error if it does not arrive within ctx's
// deadline. The actual send/receive mechanics belong to the caller (the
// garlic/transport-wired router aggregate); Pool only decides when to run
// a test and records the outcome.
type TestFunc func(ctx context.Context, out, in *tunnel.Tunnel) error

// RunPairTest tests one (outbound, inbound) pair — the least recently
// tested established tunnel in each direction — and marks both
// test-failed on timeout/error (spec.md §4.I: "periodically test pairs of
// (out-tunnel, in-tunnel) ... tunnels failing their test enter
// test-failed").
func (p *Pool) RunPairTest(ctx context.Context, now time.Time, test TestFunc) error {
	p.mu.Lock()
	out := pickLeastTested(p.outbound)
	in := pickLeastTested(p.inbound)
	p.mu.Unlock()
	if out == nil || in == nil {
		return fmt.Errorf("pool: no established tunnel pair available to test")
	}

	ctx, cancel := context.WithTimeout(ctx, TestTimeout)
	defer cancel()
	err := test(ctx, out.Tunnel, in.Tunnel)

	p.mu.Lock()
	defer p.mu.Unlock()
	out.LastTestedAt = now
	in.LastTestedAt = now
	if err != nil {
		out.State = tunnel.StateTestFailed
		in.State = tunnel.StateTestFailed
		return err
	}
	return nil
}

func pickLeastTested(entries []*Entry) *Entry {
	var best *Entry
	for _, e := range entries {
		if e.State != tunnel.StateEstablished {
			continue
		}
		if best == nil || e.LastTestedAt.Before(best.LastTestedAt) {
			best = e
		}
	}
	return best
}
