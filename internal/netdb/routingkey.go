package netdb

import (
	"math/big"
	"sort"
	"time"

	"github.com/go-i2p/i2pcore/internal/crypto"
	"github.com/go-i2p/i2pcore/internal/identity"
)

// RoutingKey returns the daily-rotating Kademlia key for hash at the given
// instant: SHA256(ident-hash || current-date-YYYYMMDD-UTC) (spec.md §4.F
// "Floodfill selection"). Implementations must recompute it at every
// midnight-UTC boundary; callers pass the instant they want the key valid
// for rather than always using time.Now so the rotation is testable.
func RoutingKey(hash identity.IdentHash, at time.Time) [32]byte {
	date := at.UTC().Format("20060102")
	buf := make([]byte, 0, 32+len(date))
	buf = append(buf, hash.Bytes()...)
	buf = append(buf, date...)
	return crypto.SHA256(buf)
}

func xorDistance(a, b [32]byte) *big.Int {
	var diff [32]byte
	for i := range diff {
		diff[i] = a[i] ^ b[i]
	}
	return new(big.Int).SetBytes(diff[:])
}

// closestN sorts candidates by XOR distance of their routing key from target
// and returns up to n of them, grounded on the teacher's Kademlia.Nearest
// (core/kademlia.go), which sorts a candidate slice with a math/big XOR
// distance comparator rather than maintaining full k-buckets.
func closestN(target [32]byte, candidates []identity.IdentHash, keyOf func(identity.IdentHash) [32]byte, n int) []identity.IdentHash {
	sorted := append([]identity.IdentHash(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool {
		di := xorDistance(keyOf(sorted[i]), target)
		dj := xorDistance(keyOf(sorted[j]), target)
		return di.Cmp(dj) < 0
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
