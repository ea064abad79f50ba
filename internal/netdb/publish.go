package netdb

import (
	"sync"
	"time"

	"github.com/go-i2p/i2pcore/internal/crypto"
	"github.com/go-i2p/i2pcore/internal/i2np"
	"github.com/go-i2p/i2pcore/internal/identity"
)

// PublishInterval is the steady-state republish cadence (spec.md §4.F:
// "every ~40 minutes (and on address change)"). A var, not a const, so
// cmd/i2prouterd can override it from pkg/config's netdb.republish_interval
// at startup.
var PublishInterval = 40 * time.Minute

// publishConfirmWindow bounds how long a publish attempt waits for its
// DeliveryStatus acknowledgment before being treated as failed and retried
// against the next-closest floodfill. spec.md does not name an exact value
// for this window (only the 40-minute republish cadence); resolved here as
// 10s, matching the order of magnitude of the lookup soft timer (§4.F step
// 1) since both describe "did a single floodfill round-trip in time".
const publishConfirmWindow = 10 * time.Second

// PublishAttempt is one outbound DatabaseStore sent as part of a publish
// cycle, paired with the floodfill it targets.
type PublishAttempt struct {
	Target identity.IdentHash
	Store  *i2np.DatabaseStore
}

type publishState struct {
	ri        *identity.RouterInfo
	target    identity.IdentHash
	sentAt    time.Time
	confirmed bool
}

// Publisher drives spec.md §4.F's publish cycle: send to the two closest
// floodfills with a reply token, treat a timely DeliveryStatus as success,
// retry with the next-closest floodfill on failure.
type Publisher struct {
	store   *Store
	ids     *i2np.IDGenerator
	localID identity.IdentHash

	mu      sync.Mutex
	pending map[uint32]*publishState
}

// NewPublisher returns a publisher bound to store.
func NewPublisher(store *Store, ids *i2np.IDGenerator, localID identity.IdentHash) *Publisher {
	return &Publisher{
		store:   store,
		ids:     ids,
		localID: localID,
		pending: make(map[uint32]*publishState),
	}
}

// Publish builds DatabaseStore messages to the two closest floodfills
// (excluding ourselves) for our RouterInfo, gzipping the body per spec.md
// §4.F's incoming-store handling ("if type == 0 (RouterInfo) gunzip the
// body").
func (p *Publisher) Publish(ri *identity.RouterInfo, now time.Time) ([]PublishAttempt, error) {
	excluded := map[identity.IdentHash]bool{p.localID: true}
	targets := p.store.ClosestFloodfills(ri.IdentHash(), excluded, 2, now)
	if len(targets) == 0 {
		return nil, ErrNoFloodfillAvailable
	}

	gzipped, err := crypto.GzipDeflate(ri.Serialize())
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	attempts := make([]PublishAttempt, 0, len(targets))
	for _, target := range targets {
		token := p.ids.Next()
		msg := &i2np.DatabaseStore{
			Key:        ri.IdentHash(),
			DataType:   i2np.DatabaseStoreRouterInfo,
			ReplyToken: token,
			Data:       gzipped,
		}
		p.pending[token] = &publishState{ri: ri, target: target, sentAt: now}
		attempts = append(attempts, PublishAttempt{Target: target, Store: msg})
	}
	return attempts, nil
}

// HandleDeliveryStatus removes the publish attempt identified by token and
// reports whether it is confirmed: an acknowledgment within the
// confirmation window confirms it, and a later one removes the attempt
// without confirming it.
func (p *Publisher) HandleDeliveryStatus(token uint32, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.pending[token]
	if !ok {
		return false
	}
	if now.Sub(st.sentAt) <= publishConfirmWindow {
		st.confirmed = true
	}
	delete(p.pending, token)
	return st.confirmed
}

// ManageTimers retries any publish attempt whose confirmation window has
// elapsed without an acknowledgment, targeting the next-closest floodfill
// not yet tried for that RouterInfo (spec.md §4.F: "else retry with the
// next closest floodfill").
func (p *Publisher) ManageTimers(now time.Time) []PublishAttempt {
	p.mu.Lock()
	defer p.mu.Unlock()

	var retries []PublishAttempt
	for token, st := range p.pending {
		if st.confirmed || now.Sub(st.sentAt) <= publishConfirmWindow {
			continue
		}
		delete(p.pending, token)

		excluded := map[identity.IdentHash]bool{p.localID: true, st.target: true}
		next := p.store.ClosestFloodfills(st.ri.IdentHash(), excluded, 1, now)
		if len(next) == 0 {
			continue
		}
		gzipped, err := crypto.GzipDeflate(st.ri.Serialize())
		if err != nil {
			continue
		}
		newToken := p.ids.Next()
		msg := &i2np.DatabaseStore{
			Key:        st.ri.IdentHash(),
			DataType:   i2np.DatabaseStoreRouterInfo,
			ReplyToken: newToken,
			Data:       gzipped,
		}
		p.pending[newToken] = &publishState{ri: st.ri, target: next[0], sentAt: now}
		retries = append(retries, PublishAttempt{Target: next[0], Store: msg})
	}
	return retries
}
