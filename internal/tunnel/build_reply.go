package tunnel

import (
	"fmt"

	"github.com/go-i2p/i2pcore/internal/crypto"
)

// ReorderToChain restores a wire-order VariableTunnelBuildReply to the
// chain (gateway-first) order the builder's []HopPlan used, undoing the
// permutation applied by VariableTunnelBuild.Marshal. perm maps wire
// position -> chain index, exactly as passed to Marshal.
func ReorderToChain(wire *VariableTunnelBuild, perm []int) (*VariableTunnelBuild, error) {
	n := len(wire.Records)
	if perm == nil {
		return wire, nil
	}
	if len(perm) != n {
		return nil, fmt.Errorf("tunnel: permutation length %d does not match record count %d", len(perm), n)
	}
	chain := make([]BuildRecord, n)
	for wirePos, chainIdx := range perm {
		if chainIdx < 0 || chainIdx >= n {
			return nil, fmt.Errorf("tunnel: permutation entry %d out of range", chainIdx)
		}
		chain[chainIdx] = wire.Records[wirePos]
	}
	return &VariableTunnelBuild{Records: chain}, nil
}

// PeelReply symmetrically undoes the layered AES encryption each hop
// applied while forwarding a build (spec.md §4.G "Reply processing"). reply
// must already be in chain (gateway-first) order, e.g. via ReorderToChain.
//
// The spec's prose ("for each hop from first to last, decrypt its own slot
// and every earlier slot") describes the overall peeling direction loosely;
// the concrete layer order that actually cancels follows from the forward
// pass: the pre-transmission cancellation in NewBuildRecords leaves no
// layer of hop h on records after h, and hop h's forward encrypt wraps
// every record at or before h on top of every earlier hop's layer, after
// which every later hop wraps it again. The last hop's layer is therefore
// the outermost on every record. Peeling must proceed from the last hop
// backward, at each step stripping that hop's layer off every record up to
// and including its own index — not a literal "first to last" sweep.
func PeelReply(reply *VariableTunnelBuild, hops []HopPlan) error {
	n := len(reply.Records)
	if n != len(hops) {
		return fmt.Errorf("tunnel: reply has %d records, expected %d hops", n, len(hops))
	}
	for h := n - 1; h >= 0; h-- {
		key := hops[h].ReplyKey[:]
		iv := hops[h].ReplyIV[:]
		for j := 0; j <= h; j++ {
			plain, err := crypto.AESCBCDecrypt(key, iv, reply.Records[j].Body[:])
			if err != nil {
				return fmt.Errorf("tunnel: peeling hop %d's layer off record %d: %w", h, j, err)
			}
			copy(reply.Records[j].Body[:], plain)
		}
	}
	return nil
}

// HopOutcome is one hop's accept/reject response, read after PeelReply.
type HopOutcome struct {
	Accepted bool
	Response byte
}

// ReadOutcomes reads every hop's response byte out of a fully-peeled reply
// in chain order.
func ReadOutcomes(reply *VariableTunnelBuild) []HopOutcome {
	out := make([]HopOutcome, len(reply.Records))
	for i, rec := range reply.Records {
		out[i] = HopOutcome{Accepted: rec.Body[0] == ResponseAccept, Response: rec.Body[0]}
	}
	return out
}

// AllAccepted reports whether every hop accepted (spec.md §4.G: "All-accept
// => state established; any reject => state build-failed").
func AllAccepted(outcomes []HopOutcome) bool {
	for _, o := range outcomes {
		if !o.Accepted {
			return false
		}
	}
	return true
}
