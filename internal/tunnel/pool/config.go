// Package pool implements per-destination tunnel pools and the shared
// exploratory pool (spec.md §4.I): maintaining requested tunnel counts,
// expiry-triggered recreation, pairwise DeliveryStatus testing, hop
// selection subject to filters, and biased round-robin tunnel lookup.
package pool

import (
	"time"

	"github.com/go-i2p/i2pcore/internal/identity"
)

// Config is a pool's shape: how many hops per tunnel, how many tunnels to
// keep alive in each direction, and the filters hop selection must respect
// (spec.md §4.I: "{ num-hops-in, num-hops-out, num-tunnels-in,
// num-tunnels-out, filters }").
type Config struct {
	HopsIn     int
	HopsOut    int
	TunnelsIn  int
	TunnelsOut int
	Filters    Filters
}

// Filters constrains hop selection for a pool's tunnels (spec.md §4.I:
// "explicit peers, family constraints, MTU, excluded set containing
// already-used hops in the same tunnel").
type Filters struct {
	// ExplicitPeers, if non-empty, forces the exact hop path in order;
	// selection fails if it does not contain enough entries.
	ExplicitPeers []identity.IdentHash
	// AvoidSameFamily rejects a candidate whose declared "family" option
	// matches a hop already chosen for the same tunnel (SUPPLEMENTED
	// FEATURE: router family grouping).
	AvoidSameFamily bool
	// MinMTU, if nonzero, rejects a candidate whose advertised "mtu"
	// address option (if present) is smaller than this. Candidates with no
	// advertised MTU are never rejected on this basis, since wire transport
	// addresses are synthetic in this implementation (spec.md §1
	// Non-goals).
	MinMTU int
}

// DefaultExploratoryHops and DefaultExploratoryTunnels are the 2-hop/
//5-tunnel defaults spec.md §4.I names, used when pkg/config's
// tunnels.exploratory_hops/exploratory_count are unset (zero).
const (
	DefaultExploratoryHops    = 2
	DefaultExploratoryTunnels = 5
)

// ExploratoryConfig is the shared pool every NetDB lookup uses (spec.md
// §4.I: "The exploratory pool is a 2-hop / 5-tunnel pool owned by the
// router context"). hops and tunnels come from pkg/config's
// tunnels.exploratory_hops/exploratory_count; a zero value falls back to
// the spec.md default so callers that don't have a loaded config (tests)
// can still pass ExploratoryConfig(0, 0).
func ExploratoryConfig(hops, tunnels int) Config {
	if hops <= 0 {
		hops = DefaultExploratoryHops
	}
	if tunnels <= 0 {
		tunnels = DefaultExploratoryTunnels
	}
	return Config{
		HopsIn:     hops,
		HopsOut:    hops,
		TunnelsIn:  tunnels,
		TunnelsOut: tunnels,
		Filters:    Filters{AvoidSameFamily: true},
	}
}

// ExpiringWindow is how long before a tunnel's hard lifetime a pool
// schedules its replacement (spec.md §4.I: "when a tunnel enters expiring
// (1 min before TTL) schedule a recreation clone").
const ExpiringWindow = time.Minute

// TestTimeout bounds how long a pairwise tunnel test waits for its
// DeliveryStatus round trip (spec.md §4.I: "expecting it back ... within
// 5 s").
const TestTimeout = 5 * time.Second
