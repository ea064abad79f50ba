// Package rerr centralizes the router's "drop silently but count" error
// policy (spec §7 ERROR HANDLING DESIGN). Nothing in the core panics on
// remote input; malformed or hostile input increments a counter instead of
// propagating an error up the call stack.
package rerr

import (
	"sync"
	"sync/atomic"
)

// Kind identifies one of the error categories from the ERROR HANDLING
// DESIGN table.
type Kind int

const (
	MalformedMessage Kind = iota
	ExpiredMessage
	UnknownMessageType
	GarlicDecryptFailure
	TunnelBuildRejected
	TunnelTestFailure
	LookupTimeout
	SignatureVerifyFailure
	IncompatibleNetID
	QueueFull
	numKinds
)

func (k Kind) String() string {
	switch k {
	case MalformedMessage:
		return "malformed_message"
	case ExpiredMessage:
		return "expired_message"
	case UnknownMessageType:
		return "unknown_message_type"
	case GarlicDecryptFailure:
		return "garlic_decrypt_failure"
	case TunnelBuildRejected:
		return "tunnel_build_rejected"
	case TunnelTestFailure:
		return "tunnel_test_failure"
	case LookupTimeout:
		return "lookup_timeout"
	case SignatureVerifyFailure:
		return "signature_verify_failure"
	case IncompatibleNetID:
		return "incompatible_net_id"
	case QueueFull:
		return "queue_full"
	default:
		return "unknown"
	}
}

// Counters tracks per-kind and per-peer error counts without allocating on
// the hot path; each kind gets its own atomic counter.
type Counters struct {
	totals  [numKinds]atomic.Uint64
	perPeer sync.Map // map[string]*peerCounters
}

type peerCounters struct {
	counts [numKinds]atomic.Uint64
}

// NewCounters returns a ready-to-use Counters instance.
func NewCounters() *Counters { return &Counters{} }

// Incr records one occurrence of kind, optionally attributed to peer (empty
// peer means no per-peer tracking).
func (c *Counters) Incr(kind Kind, peer string) {
	if kind < 0 || kind >= numKinds {
		return
	}
	c.totals[kind].Add(1)
	if peer == "" {
		return
	}
	v, _ := c.perPeer.LoadOrStore(peer, &peerCounters{})
	v.(*peerCounters).counts[kind].Add(1)
}

// Total returns the process-wide count for kind.
func (c *Counters) Total(kind Kind) uint64 {
	if kind < 0 || kind >= numKinds {
		return 0
	}
	return c.totals[kind].Load()
}

// PeerTotal returns the count for kind attributed to peer, or zero if the
// peer has no recorded errors.
func (c *Counters) PeerTotal(peer string, kind Kind) uint64 {
	v, ok := c.perPeer.Load(peer)
	if !ok || kind < 0 || kind >= numKinds {
		return 0
	}
	return v.(*peerCounters).counts[kind].Load()
}

// PeerExceeds reports whether peer's count for kind is at or above
// threshold, the signal used to decide whether to drop a peer session
// ("may drop peer session after threshold", spec §7).
func (c *Counters) PeerExceeds(peer string, kind Kind, threshold uint64) bool {
	return c.PeerTotal(peer, kind) >= threshold
}
