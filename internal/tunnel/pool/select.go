package pool

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-i2p/i2pcore/internal/identity"
	"github.com/go-i2p/i2pcore/internal/netdb"
)

// ErrNotEnoughHops is returned when the candidate set (after filters)
// cannot fill the requested hop count.
var ErrNotEnoughHops = errors.New("pool: not enough eligible hops available")

// Selector picks hop paths for new tunnels out of the known router set,
// preferring peers with a better build-accept history (SUPPLEMENTED
// FEATURE: peer profiles, spec.md §4.I hop selection).
type Selector struct {
	NetDB    *netdb.Store
	Profiles *netdb.ProfileStore
}

// candidateOversample is how many extra candidates to pull from the NetDB
// before filtering, so family/MTU rejection still leaves enough choice.
const candidateOversample = 6

// SelectHops returns count hop identities for a new tunnel, in gateway-to-
// endpoint chain order, honoring f's filters and excluding any hash in
// excluded.
func (s *Selector) SelectHops(count int, f Filters, excluded map[identity.IdentHash]bool, now time.Time) ([]identity.IdentHash, error) {
	if count <= 0 {
		return nil, nil
	}
	if len(f.ExplicitPeers) > 0 {
		if len(f.ExplicitPeers) < count {
			return nil, fmt.Errorf("pool: explicit peer list has %d entries, need %d", len(f.ExplicitPeers), count)
		}
		return append([]identity.IdentHash(nil), f.ExplicitPeers[:count]...), nil
	}

	merged := make(map[identity.IdentHash]bool, len(excluded))
	for k := range excluded {
		merged[k] = true
	}

	var target identity.IdentHash
	if _, err := rand.Read(target[:]); err != nil {
		return nil, err
	}
	candidates := s.NetDB.ClosestRouters(target, merged, count*candidateOversample, now, false)

	type scored struct {
		hash identity.IdentHash
		info *identity.RouterInfo
		rank float64
	}
	var pool []scored
	for _, h := range candidates {
		ri, ok := s.NetDB.RouterInfo(h)
		if !ok {
			continue
		}
		if f.MinMTU > 0 && !meetsMTU(ri, f.MinMTU) {
			continue
		}
		rank := 1.0
		if s.Profiles != nil {
			p := s.Profiles.Get(h)
			rank = p.AcceptRatio()*0.7 + p.TestPassRatio()*0.3
		}
		pool = append(pool, scored{hash: h, info: ri, rank: rank})
	}
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].rank > pool[j].rank })

	families := map[string]bool{}
	var chosen []identity.IdentHash
	for _, c := range pool {
		if len(chosen) == count {
			break
		}
		if f.AvoidSameFamily {
			if fam, ok := c.info.Options["family"]; ok && fam != "" {
				if families[fam] {
					continue
				}
			}
		}
		chosen = append(chosen, c.hash)
		if fam, ok := c.info.Options["family"]; ok && fam != "" {
			families[fam] = true
		}
	}
	if len(chosen) < count {
		return nil, ErrNotEnoughHops
	}
	return chosen, nil
}

func meetsMTU(ri *identity.RouterInfo, min int) bool {
	for _, addr := range ri.Addresses {
		v, ok := addr.Options["mtu"]
		if !ok {
			continue
		}
		var mtu int
		if _, err := fmt.Sscanf(v, "%d", &mtu); err != nil {
			continue
		}
		if mtu < min {
			return false
		}
	}
	return true
}
