package transport

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/go-i2p/i2pcore/internal/identity"
)

// PeerLimiter throttles inbound I2NP messages per producing peer, so a
// single noisy or hostile peer cannot starve the shared worker queues
// (spec.md §5 "Scheduling model": transports "must not block" the core, and
// a misbehaving peer must not be able to turn that into an amplification
// vector against it).
type PeerLimiter struct {
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	limiters map[identity.IdentHash]*rate.Limiter
}

// NewPeerLimiter returns a limiter allowing up to ratePerSec sustained
// messages per second per peer, with the given burst allowance.
func NewPeerLimiter(ratePerSec float64, burst int) *PeerLimiter {
	return &PeerLimiter{
		rate:     rate.Limit(ratePerSec),
		burst:    burst,
		limiters: make(map[identity.IdentHash]*rate.Limiter),
	}
}

func (p *PeerLimiter) limiterFor(peer identity.IdentHash) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[peer]
	if !ok {
		l = rate.NewLimiter(p.rate, p.burst)
		p.limiters[peer] = l
	}
	return l
}

// Allow reports whether an inbound message from peer may be accepted right
// now. Rejected messages are the caller's responsibility to drop-and-count
// (spec.md §7 error policy for malformed/flood input).
func (p *PeerLimiter) Allow(peer identity.IdentHash) bool {
	return p.limiterFor(peer).Allow()
}

// Forget drops a peer's limiter state, e.g. after its session closes, so the
// map does not grow unbounded across the lifetime of a long-running router.
func (p *PeerLimiter) Forget(peer identity.IdentHash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.limiters, peer)
}
