// Package netdb implements the distributed RouterInfo/LeaseSet directory:
// the in-memory store, floodfill selection, the lookup state machine, the
// periodic publish cycle, and incoming DatabaseStore/DatabaseLookup
// handling (spec.md §4.F).
package netdb

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-i2p/i2pcore/internal/identity"
	"github.com/go-i2p/i2pcore/internal/metrics"
)

// routerInfoTTL is how long a RouterInfo may sit in the store without being
// refreshed before it is considered stale (spec.md §4.F: "leaves when stale
// (> 72 h, tighter under memory pressure)").
const routerInfoTTL = 72 * time.Hour

// OurNetID is compared against a peer's declared "netId" RouterInfo option
// at store-admission time (SUPPLEMENTED FEATURES: NetID / network
// identifier check, resolved the way i2pd does it).
const OurNetID = "2"

type routerInfoEntry struct {
	info     *identity.RouterInfo
	storedAt time.Time
}

// Store holds the two independently-mutexed maps spec.md §4.F describes:
// IdentHash -> RouterInfo and IdentHash -> LeaseSet, plus a rebuilt-not-
// mutated floodfill vector.
type Store struct {
	netID string
	log   *logrus.Entry
	met   *metrics.Registry

	riMu sync.RWMutex
	ri   map[identity.IdentHash]routerInfoEntry

	ffMu sync.RWMutex
	ff   []identity.IdentHash

	lsMu sync.RWMutex
	ls   map[identity.IdentHash]*identity.LeaseSet
}

// New returns an empty store. netID is this router's own network
// identifier; RouterInfos declaring a different one are rejected outright.
func New(netID string, log *logrus.Entry, met *metrics.Registry) *Store {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{
		netID: netID,
		log:   log.WithField("component", "netdb"),
		met:   met,
		ri:    make(map[identity.IdentHash]routerInfoEntry),
		ls:    make(map[identity.IdentHash]*identity.LeaseSet),
	}
}

// AdmitRouterInfo validates and inserts ri, then rebuilds the floodfill
// vector (on every admission). It enforces spec.md §7's
// invariants: signature must verify, the RouterInfo must be fresh, and its
// netId option (if any) must match ours.
func (s *Store) AdmitRouterInfo(ri *identity.RouterInfo, now time.Time) error {
	if netID, ok := ri.Options["netId"]; ok && netID != s.netID {
		s.log.WithField("peer", ri.IdentHash().String()).Warn("rejecting router info with incompatible netId")
		return ErrIncompatibleNetID
	}
	ok, err := ri.Verify()
	if err != nil || !ok {
		s.log.WithField("peer", ri.IdentHash().String()).Warn("rejecting router info with invalid signature")
		return ErrSignatureInvalid
	}
	if !ri.IsFresh(now) {
		return ErrStaleRouterInfo
	}

	hash := ri.IdentHash()
	s.riMu.Lock()
	s.ri[hash] = routerInfoEntry{info: ri, storedAt: now}
	count := len(s.ri)
	s.riMu.Unlock()

	s.rebuildFloodfills()
	if s.met != nil {
		s.met.NetDBRouterInfos.Set(float64(count))
	}
	return nil
}

// RouterInfo returns the stored RouterInfo for hash, if present.
func (s *Store) RouterInfo(hash identity.IdentHash) (*identity.RouterInfo, bool) {
	s.riMu.RLock()
	defer s.riMu.RUnlock()
	entry, ok := s.ri[hash]
	if !ok {
		return nil, false
	}
	return entry.info, true
}

// AllRouterInfos returns a snapshot of every RouterInfo currently admitted,
// for periodic persistence to internal/store's on-disk netDb/ layout
// (spec.md §5 "save-updated every 60 s", §6 disk layout).
func (s *Store) AllRouterInfos() []*identity.RouterInfo {
	s.riMu.RLock()
	defer s.riMu.RUnlock()
	out := make([]*identity.RouterInfo, 0, len(s.ri))
	for _, entry := range s.ri {
		out = append(out, entry.info)
	}
	return out
}

// RemoveRouterInfo evicts hash, e.g. once marked unreachable.
func (s *Store) RemoveRouterInfo(hash identity.IdentHash) {
	s.riMu.Lock()
	delete(s.ri, hash)
	count := len(s.ri)
	s.riMu.Unlock()
	s.rebuildFloodfills()
	if s.met != nil {
		s.met.NetDBRouterInfos.Set(float64(count))
	}
}

// SweepStale removes RouterInfos older than routerInfoTTL relative to now
// and returns how many were evicted.
func (s *Store) SweepStale(now time.Time) int {
	s.riMu.Lock()
	evicted := 0
	for hash, entry := range s.ri {
		if now.Sub(entry.storedAt) > routerInfoTTL {
			delete(s.ri, hash)
			evicted++
		}
	}
	count := len(s.ri)
	s.riMu.Unlock()
	if evicted > 0 {
		s.rebuildFloodfills()
	}
	if s.met != nil {
		s.met.NetDBRouterInfos.Set(float64(count))
	}
	return evicted
}

// rebuildFloodfills recomputes the floodfill vector from scratch rather
// than mutating it in place (spec.md §5 "Shared-resource policy": "the
// floodfill vector is rebuilt, never mutated in place").
func (s *Store) rebuildFloodfills() {
	s.riMu.RLock()
	next := make([]identity.IdentHash, 0, len(s.ri))
	for hash, entry := range s.ri {
		if entry.info.IsFloodfill() {
			next = append(next, hash)
		}
	}
	s.riMu.RUnlock()

	s.ffMu.Lock()
	s.ff = next
	s.ffMu.Unlock()

	if s.met != nil {
		s.met.NetDBFloodfills.Set(float64(len(next)))
	}
}

// ClosestFloodfills returns up to n floodfills closest to target's routing
// key at instant now, excluding any hash in excluded (spec.md §4.F
// "Floodfill selection" and §8 invariant 5).
func (s *Store) ClosestFloodfills(target identity.IdentHash, excluded map[identity.IdentHash]bool, n int, now time.Time) []identity.IdentHash {
	s.ffMu.RLock()
	candidates := make([]identity.IdentHash, 0, len(s.ff))
	for _, hash := range s.ff {
		if excluded != nil && excluded[hash] {
			continue
		}
		candidates = append(candidates, hash)
	}
	s.ffMu.RUnlock()

	targetKey := RoutingKey(target, now)
	return closestN(targetKey, candidates, func(h identity.IdentHash) [32]byte {
		return RoutingKey(h, now)
	}, n)
}

// ClosestRouters returns up to n known router hashes closest to target's
// routing key, restricted to floodfills if onlyFloodfill is set and to
// non-floodfills otherwise (spec.md §4.F "Incoming DatabaseLookup": "for
// exploratory lookups return non-floodfill routers, for normal lookups
// return floodfills").
func (s *Store) ClosestRouters(target identity.IdentHash, excluded map[identity.IdentHash]bool, n int, now time.Time, onlyFloodfill bool) []identity.IdentHash {
	var candidates []identity.IdentHash
	if onlyFloodfill {
		candidates = s.Floodfills()
	} else {
		s.riMu.RLock()
		candidates = make([]identity.IdentHash, 0, len(s.ri))
		for hash, entry := range s.ri {
			if !entry.info.IsFloodfill() {
				candidates = append(candidates, hash)
			}
		}
		s.riMu.RUnlock()
	}

	filtered := candidates[:0:0]
	for _, hash := range candidates {
		if excluded != nil && excluded[hash] {
			continue
		}
		filtered = append(filtered, hash)
	}

	targetKey := RoutingKey(target, now)
	return closestN(targetKey, filtered, func(h identity.IdentHash) [32]byte {
		return RoutingKey(h, now)
	}, n)
}

// AdmitLeaseSet validates and inserts ls (spec.md §7 invariant 2: at least
// one lease must be unexpired).
func (s *Store) AdmitLeaseSet(ls *identity.LeaseSet, now time.Time) error {
	ok, err := ls.Verify()
	if err != nil || !ok {
		return ErrSignatureInvalid
	}
	if !ls.IsValid(now) {
		return ErrLeaseSetExpired
	}
	hash := ls.IdentHash()
	s.lsMu.Lock()
	s.ls[hash] = ls
	count := len(s.ls)
	s.lsMu.Unlock()
	if s.met != nil {
		s.met.NetDBLeaseSets.Set(float64(count))
	}
	return nil
}

// LeaseSet returns the stored LeaseSet for hash if it still has at least
// one unexpired lease; an all-expired LeaseSet is evicted and reported
// absent (spec.md §4.F: "leaves when all its leases expire").
func (s *Store) LeaseSet(hash identity.IdentHash, now time.Time) (*identity.LeaseSet, bool) {
	s.lsMu.Lock()
	defer s.lsMu.Unlock()
	ls, ok := s.ls[hash]
	if !ok {
		return nil, false
	}
	if !ls.IsValid(now) {
		delete(s.ls, hash)
		return nil, false
	}
	return ls, true
}

// Floodfills returns a snapshot of the current floodfill vector.
func (s *Store) Floodfills() []identity.IdentHash {
	s.ffMu.RLock()
	defer s.ffMu.RUnlock()
	return append([]identity.IdentHash(nil), s.ff...)
}

// IsFloodfill reports whether hash is currently in the floodfill vector.
func (s *Store) IsFloodfill(hash identity.IdentHash) bool {
	s.ffMu.RLock()
	defer s.ffMu.RUnlock()
	for _, h := range s.ff {
		if h == hash {
			return true
		}
	}
	return false
}
