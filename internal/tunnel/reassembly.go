package tunnel

import (
	"sync"
	"time"

	"github.com/go-i2p/i2pcore/internal/identity"
)

// ReassemblyTimeout bounds how long a partially-received message waits for
// its remaining fragments before being dropped (spec.md §4.H "Fragment
// reassembly invariants": "drop after a timeout"). Not specified
// numerically by the protocol description; chosen well inside BuildTimeout
// since stuck reassembly should not outlive the tunnel that carried it.
const ReassemblyTimeout = 10 * time.Second

// maxReassemblyWindow bounds how many out-of-order fragments a pending
// message may accumulate before it is dropped (spec.md: "or if out-of-order
// fragments exceed a bounded window"), matching the 6-bit fragment-number
// field's range.
const maxReassemblyWindow = maxFragmentNumber + 1

// Delivery is a fully reassembled inner I2NP message ready for dispatch.
type Delivery struct {
	Delivery   DeliveryType
	ToTunnel   TunnelID
	ToHash     identity.IdentHash
	MessageID  uint32
	Payload    []byte
}

type reassemblyKey struct {
	tunnel TunnelID
	msgID  uint32
}

type pendingMessage struct {
	delivery   DeliveryType
	toTunnel   TunnelID
	toHash     identity.IdentHash
	fragmented bool
	haveFirst  bool
	haveLast   bool
	lastNum    int
	parts      map[int][]byte
	createdAt  time.Time
}

// Reassembler holds in-flight fragmented messages, keyed per (tunnel-id,
// message-id) as spec.md requires.
type Reassembler struct {
	mu      sync.Mutex
	pending map[reassemblyKey]*pendingMessage
}

// NewReassembler returns an empty reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{pending: make(map[reassemblyKey]*pendingMessage)}
}

// AddFragment feeds one decoded fragment in for tunnelID. It returns a
// non-nil Delivery once the message's last fragment has arrived and every
// fragment number from 0 up to it is present.
func (r *Reassembler) AddFragment(now time.Time, tunnelID TunnelID, h fragmentHeader) (*Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := reassemblyKey{tunnel: tunnelID, msgID: h.messageID}
	pm, ok := r.pending[key]
	if !ok {
		pm = &pendingMessage{parts: make(map[int][]byte), createdAt: now}
		r.pending[key] = pm
	}

	if h.first {
		pm.delivery = h.delivery
		pm.toTunnel = h.toTunnel
		pm.toHash = h.toHash
		pm.fragmented = h.fragmented
		pm.haveFirst = true
		pm.parts[0] = h.payload
		if !h.fragmented {
			pm.haveLast = true
			pm.lastNum = 0
		}
	} else {
		pm.parts[h.fragNum] = h.payload
		if h.last {
			pm.haveLast = true
			pm.lastNum = h.fragNum
		}
	}

	if len(pm.parts) > maxReassemblyWindow {
		delete(r.pending, key)
		return nil, ErrFragmentWindowExceeded
	}

	if !pm.haveFirst || !pm.haveLast {
		return nil, nil
	}
	for i := 0; i <= pm.lastNum; i++ {
		if _, ok := pm.parts[i]; !ok {
			return nil, nil
		}
	}

	var out []byte
	for i := 0; i <= pm.lastNum; i++ {
		out = append(out, pm.parts[i]...)
	}
	delete(r.pending, key)
	return &Delivery{
		Delivery:  pm.delivery,
		ToTunnel:  pm.toTunnel,
		ToHash:    pm.toHash,
		MessageID: h.messageID,
		Payload:   out,
	}, nil
}

// Sweep drops any pending message older than ReassemblyTimeout.
func (r *Reassembler) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	dropped := 0
	for key, pm := range r.pending {
		if now.Sub(pm.createdAt) > ReassemblyTimeout {
			delete(r.pending, key)
			dropped++
		}
	}
	return dropped
}
