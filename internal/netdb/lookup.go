package netdb

import (
	"sync"
	"time"

	"github.com/go-i2p/i2pcore/internal/i2np"
	"github.com/go-i2p/i2pcore/internal/identity"
)

// Lookup kinds, mirroring i2np.LookupType for the records NetDB tracks.
type LookupKind uint8

const (
	LookupKindRouterInfo LookupKind = iota
	LookupKindLeaseSet
)

const (
	maxLookupAttempts = 7
	lookupSoftTimer   = 5 * time.Second
	lookupHardTimeout = 60 * time.Second
)

// LookupResult is delivered to every callback registered against a pending
// lookup once it completes, one way or another (spec.md §8 invariant 4:
// "exactly one completion callback fires within 60s").
type LookupResult struct {
	Found      bool
	RouterInfo *identity.RouterInfo
	LeaseSet   *identity.LeaseSet
	Err        error
}

type lookupKey struct {
	hash identity.IdentHash
	kind LookupKind
}

type pendingLookup struct {
	key        lookupKey
	excluded   map[identity.IdentHash]bool
	queried    []identity.IdentHash
	attempts   int
	createdAt  time.Time
	lastSentAt time.Time
	callbacks  []func(LookupResult)
}

// LookupManager drives spec.md §4.F's lookup state machine: created ->
// (search-reply -> re-send, up to 7 attempts) -> database-store match.
// It never sends bytes itself; callers use the returned DatabaseLookup
// messages and feed responses back in through HandleSearchReply/HandleStore.
type LookupManager struct {
	mu      sync.Mutex
	store   *Store
	ids     *i2np.IDGenerator
	localID identity.IdentHash
	pending map[lookupKey]*pendingLookup
}

// NewLookupManager returns a lookup manager bound to store, attributing
// outbound DatabaseLookup messages as coming from localID. ids is kept on
// the manager but not read by it; the msg-id of the I2NP message that
// carries a lookup is stamped by the caller that wraps it.
func NewLookupManager(store *Store, ids *i2np.IDGenerator, localID identity.IdentHash) *LookupManager {
	return &LookupManager{
		store:   store,
		ids:     ids,
		localID: localID,
		pending: make(map[lookupKey]*pendingLookup),
	}
}

// Lookup starts (or joins, if already pending) a lookup for key/kind. If a
// lookup is already pending, onComplete is queued as an additional callback
// and no new message needs to be sent. Otherwise it returns the first
// DatabaseLookup to send, targeting the closest floodfill not equal to the
// requester itself (spec.md §4.F: "lookups must never return the requester
// itself").
func (m *LookupManager) Lookup(key identity.IdentHash, kind LookupKind, now time.Time, onComplete func(LookupResult)) (*i2np.DatabaseLookup, identity.IdentHash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lk := lookupKey{hash: key, kind: kind}
	if existing, ok := m.pending[lk]; ok {
		if onComplete != nil {
			existing.callbacks = append(existing.callbacks, onComplete)
		}
		return nil, identity.IdentHash{}, nil
	}

	excluded := map[identity.IdentHash]bool{m.localID: true}
	target := m.store.ClosestFloodfills(key, excluded, 1, now)
	if len(target) == 0 {
		return nil, identity.IdentHash{}, ErrNoFloodfillAvailable
	}

	p := &pendingLookup{
		key:        lk,
		excluded:   excluded,
		queried:    []identity.IdentHash{target[0]},
		attempts:   1,
		createdAt:  now,
		lastSentAt: now,
	}
	if onComplete != nil {
		p.callbacks = append(p.callbacks, onComplete)
	}
	m.pending[lk] = p

	return m.buildLookup(key, kind), target[0], nil
}

func (m *LookupManager) buildLookup(key identity.IdentHash, kind LookupKind) *i2np.DatabaseLookup {
	t := i2np.LookupRouterInfo
	if kind == LookupKindLeaseSet {
		t = i2np.LookupLeaseSet
	}
	return &i2np.DatabaseLookup{
		Key:        key,
		From:       m.localID,
		LookupType: t,
	}
}

// HandleSearchReply processes a DatabaseSearchReply from `from`, one of the
// floodfills most recently queried. It adds `from` to the excluded set and
// re-sends to the next-closest floodfill, stopping (and failing every
// registered callback) after maxLookupAttempts (spec.md §4.F step 2).
func (m *LookupManager) HandleSearchReply(from identity.IdentHash, key identity.IdentHash, kind LookupKind, now time.Time) (*i2np.DatabaseLookup, identity.IdentHash, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lk := lookupKey{hash: key, kind: kind}
	p, ok := m.pending[lk]
	if !ok {
		return nil, identity.IdentHash{}, false
	}
	p.excluded[from] = true

	if p.attempts >= maxLookupAttempts {
		m.completeLocked(p, LookupResult{Err: ErrLookupExhausted})
		return nil, identity.IdentHash{}, false
	}

	next := m.store.ClosestFloodfills(key, p.excluded, 1, now)
	if len(next) == 0 {
		m.completeLocked(p, LookupResult{Err: ErrNoFloodfillAvailable})
		return nil, identity.IdentHash{}, false
	}

	p.attempts++
	p.lastSentAt = now
	p.queried = append(p.queried, next[0])
	return m.buildLookup(key, kind), next[0], true
}

// HandleStore completes a pending lookup successfully once a matching
// DatabaseStore arrives (spec.md §4.F step 3: "verify signature, insert
// into store, complete all registered completion callbacks with success").
// Admission (signature verification, insertion) is the caller's
// responsibility via Store.AdmitRouterInfo/AdmitLeaseSet before calling this.
func (m *LookupManager) HandleStore(key identity.IdentHash, kind LookupKind, result LookupResult) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	lk := lookupKey{hash: key, kind: kind}
	p, ok := m.pending[lk]
	if !ok {
		return false
	}
	result.Found = true
	m.completeLocked(p, result)
	return true
}

// ManageRequests is the NetDB worker's periodic tick (spec.md §5: "runs
// manage-requests every 15s"). It re-sends to the next-closest floodfill
// for any pending lookup whose soft timer elapsed without a reply, and
// fails any lookup whose hard deadline has passed.
func (m *LookupManager) ManageRequests(now time.Time) []struct {
	Msg    *i2np.DatabaseLookup
	Target identity.IdentHash
} {
	m.mu.Lock()
	defer m.mu.Unlock()

	var resends []struct {
		Msg    *i2np.DatabaseLookup
		Target identity.IdentHash
	}
	for lk, p := range m.pending {
		if now.Sub(p.createdAt) > lookupHardTimeout {
			m.completeLocked(p, LookupResult{Err: ErrLookupTimeout})
			continue
		}
		if now.Sub(p.lastSentAt) < lookupSoftTimer {
			continue
		}
		if p.attempts >= maxLookupAttempts {
			m.completeLocked(p, LookupResult{Err: ErrLookupExhausted})
			continue
		}
		last := p.queried[len(p.queried)-1]
		p.excluded[last] = true
		next := m.store.ClosestFloodfills(lk.hash, p.excluded, 1, now)
		if len(next) == 0 {
			m.completeLocked(p, LookupResult{Err: ErrNoFloodfillAvailable})
			continue
		}
		p.attempts++
		p.lastSentAt = now
		p.queried = append(p.queried, next[0])
		resends = append(resends, struct {
			Msg    *i2np.DatabaseLookup
			Target identity.IdentHash
		}{Msg: m.buildLookup(lk.hash, lk.kind), Target: next[0]})
	}
	return resends
}

// completeLocked fires every registered callback and removes the pending
// entry. Caller must hold m.mu.
func (m *LookupManager) completeLocked(p *pendingLookup, result LookupResult) {
	delete(m.pending, p.key)
	for _, cb := range p.callbacks {
		cb(result)
	}
}

// Pending reports how many lookups are currently in flight (test/metrics
// helper).
func (m *LookupManager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
