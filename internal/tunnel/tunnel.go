// Package tunnel implements the tunnel build protocol and data plane
// (spec.md §4.G, §4.H): onion-peeled VariableTunnelBuild records, the
// build-pending table, and the gateway/participant/endpoint transforms over
// fixed 1024-byte TunnelData payloads.
package tunnel

import (
	"errors"
	"time"

	"github.com/go-i2p/i2pcore/internal/identity"
)

// TunnelID is the locally-scoped 4-byte tunnel identifier a hop uses to
// address one of its tunnels on the wire.
type TunnelID uint32

// Direction distinguishes an outbound tunnel (we are the gateway, traffic
// flows away from us) from an inbound one (we are the endpoint, traffic
// flows toward us).
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// BuildTimeout is how long a pending build waits for its reply before the
// entry is swept (spec.md §5 "tunnel build: 30 s"). A package-level var
// rather than a const so cmd/i2prouterd can override it from
// pkg/config's tunnels.build_timeout at startup, before any tunnel is
// built; nothing reassigns it after that.
var BuildTimeout = 30 * time.Second

// Lifetime is the hard tunnel lifetime; there is no grace window (spec.md
// §9 open question: "Transit-tunnel expiration is hard-coded at 10 minutes;
// there is no grace window"). Overridable from pkg/config's
// tunnels.tunnel_lifetime the same way as BuildTimeout.
var Lifetime = 10 * time.Minute

// No function in this package returns the errors below; each names one
// tunnel failure case.
var (
	// ErrNotOurRecord names a VariableTunnelBuild in which no build record
	// carries our ident-hash prefix. ProcessAsHop reports that case as
	// ErrNoOwnRecord.
	ErrNotOurRecord = errors.New("tunnel: no build record addressed to us")
	// ErrBuildTimeout names a build that got no reply within BuildTimeout.
	// PendingTable.SweepExpired reports such builds by returning them.
	ErrBuildTimeout = errors.New("tunnel: build timed out")
	// ErrBuildRejected names a build in which some hop's response byte was
	// nonzero (spec.md §7: "do not retry with the same hop set").
	ErrBuildRejected = errors.New("tunnel: a hop rejected the build")
	// ErrUnknownBuildReply names a build reply whose msg-id does not match
	// any pending build.
	ErrUnknownBuildReply = errors.New("tunnel: build reply does not match a pending build")
	// ErrTunnelExpired names an operation that targets a tunnel past its
	// hard lifetime.
	ErrTunnelExpired = errors.New("tunnel: tunnel has expired")
	// ErrUnknownTunnel names a TunnelData/TunnelGateway message whose
	// tunnel-id we do not recognize.
	ErrUnknownTunnel = errors.New("tunnel: unknown tunnel id")
)

// HopContext is the per-hop symmetric state installed once a build
// establishes: the layer/iv keys used by the data-plane transforms, plus
// forwarding metadata (spec.md §4.G "Reply processing": "install the hop
// decryption contexts (layer-key + iv-key) ... in forward order for
// outbound, reverse for inbound").
type HopContext struct {
	Peer         identity.IdentHash
	RecvTunnelID TunnelID
	NextTunnelID TunnelID
	NextIdent    identity.IdentHash
	LayerKey     [32]byte
	IVKey        [32]byte
	Gateway      bool
	Endpoint     bool
}

// Tunnel is a locally-built tunnel (outbound or inbound) we own, with its
// full per-hop decryption context installed in processing order.
type Tunnel struct {
	ID        TunnelID
	Direction Direction
	Hops      []HopContext
	CreatedAt time.Time
}

// Expired reports whether t is past its hard lifetime as of now.
func (t *Tunnel) Expired(now time.Time) bool {
	return now.Sub(t.CreatedAt) > Lifetime
}

// FirstHop is the first hop to send data plane traffic to: the gateway for
// an outbound tunnel, or — for bookkeeping purposes on an inbound tunnel —
// the remote gateway that will eventually feed it.
func (t *Tunnel) FirstHop() identity.IdentHash {
	if len(t.Hops) == 0 {
		return identity.IdentHash{}
	}
	return t.Hops[0].Peer
}

// TransitHop is the per-hop state we hold for a tunnel built by someone
// else, in which we act as a middle participant, the gateway, or the
// endpoint (spec.md §4.H "Participant"/"Endpoint"/"Gateway").
type TransitHop struct {
	RecvTunnelID TunnelID
	NextTunnelID TunnelID
	NextIdent    identity.IdentHash
	LayerKey     [32]byte
	IVKey        [32]byte
	Gateway      bool
	Endpoint     bool
	CreatedAt    time.Time
}

// Expired reports whether h is past its hard transit lifetime (spec.md §9:
// "Transit-tunnel expiration is hard-coded at 10 minutes; there is no grace
// window").
func (h *TransitHop) Expired(now time.Time) bool {
	return now.Sub(h.CreatedAt) > Lifetime
}
