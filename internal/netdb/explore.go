package netdb

import (
	"crypto/rand"

	"github.com/go-i2p/i2pcore/internal/identity"
)

// minExploreCount and maxExploreCount bound the exploratory probe count
// (spec.md §4.F "Exploratory probing": "clamp(800/known-routers, 1, 9)").
const (
	minExploreCount = 1
	maxExploreCount = 9
	exploreNumerator = 800
)

// ExploreCount computes how many exploratory lookups to issue this tick,
// given the number of routers currently known (RouterInfo count, not just
// floodfills).
func (s *Store) ExploreCount() int {
	s.riMu.RLock()
	known := len(s.ri)
	s.riMu.RUnlock()
	if known == 0 {
		return maxExploreCount
	}
	n := exploreNumerator / known
	if n < minExploreCount {
		return minExploreCount
	}
	if n > maxExploreCount {
		return maxExploreCount
	}
	return n
}

// RandomExploreKey returns a random 32-byte key to probe the keyspace with
// (spec.md §4.F: "issue that many exploratory lookups against random
// keys").
func RandomExploreKey() (identity.IdentHash, error) {
	var h identity.IdentHash
	if _, err := rand.Read(h[:]); err != nil {
		return h, err
	}
	return h, nil
}
