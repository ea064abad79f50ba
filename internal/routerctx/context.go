// Package routerctx holds the local router's identity, private keys,
// advertised capabilities, reachability status, and shutdown lifecycle
// (spec.md §4.J). It is the one place in the core allowed to mutate "who we
// are on the network"; every other component treats a *RouterContext as a
// read-mostly reference passed in at construction (spec.md §9: "a
// RouterCore aggregate created at startup, passed by reference to each
// worker; no globals").
package routerctx

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-i2p/i2pcore/internal/crypto"
	"github.com/go-i2p/i2pcore/internal/identity"
)

// RouterContext is the local router's identity and mutable self-description.
type RouterContext struct {
	identity identity.RouterIdentity
	encPriv  crypto.ElGamalPrivateKey
	sigPriv  []byte
	netID    string

	log *logrus.Entry

	mu        sync.RWMutex
	info      *identity.RouterInfo
	addresses []identity.TransportAddress
	tier      BandwidthTier
	status    Status

	acceptsTunnels atomic.Bool
	transitTunnels atomic.Int64
	maxTransit     int64

	changed chan struct{}
}

// New builds a RouterContext from a local identity and private key
// material, signs an initial RouterInfo, and returns it ready for use.
// Addresses is the transport address list to advertise; this core does not
// dial or listen itself (spec.md §1 Non-goals), so the caller supplies
// whatever the transport adapter reports as reachable. maxTransit is
// pkg/config's router.max_transit_tunnels; it tightens (never loosens) the
// bandwidth-tier's own transit cap when positive and lower than the tier's
// default, and is ignored (0 or negative) otherwise.
func New(id identity.RouterIdentity, encPriv crypto.ElGamalPrivateKey, sigPriv []byte, netID string, tier BandwidthTier, addresses []identity.TransportAddress, floodfill bool, maxTransit int64, log *logrus.Entry) (*RouterContext, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	rc := &RouterContext{
		identity:   id,
		encPriv:    encPriv,
		sigPriv:    sigPriv,
		netID:      netID,
		log:        log.WithField("component", "routerctx"),
		addresses:  addresses,
		tier:       tier,
		status:     StatusUnknown,
		maxTransit: maxTransit,
		changed:    make(chan struct{}, 1),
	}
	rc.acceptsTunnels.Store(true)
	if err := rc.rebuild(time.Now(), floodfill); err != nil {
		return nil, err
	}
	return rc, nil
}

// rebuild re-serializes the published RouterInfo's options from the current
// tier/status/floodfill state, bumps its timestamp, and re-signs it. Caller
// must hold no lock; rebuild takes mu itself.
func (rc *RouterContext) rebuild(now time.Time, floodfill bool) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	caps := rc.tier.String()
	if floodfill {
		caps += "f"
	}
	if letter := rc.status.capsLetter(); letter != 0 {
		caps += string(rune(letter))
	}

	ri := &identity.RouterInfo{
		Identity:  rc.identity,
		Timestamp: now,
		Addresses: append([]identity.TransportAddress(nil), rc.addresses...),
		Options: map[string]string{
			"caps":  caps,
			"netId": rc.netID,
		},
	}
	if err := ri.Sign(rc.sigPriv); err != nil {
		return err
	}
	rc.info = ri
	rc.signalChanged()
	return nil
}

// signalChanged performs a non-blocking notify on the republish trigger
// channel; a pending-but-unconsumed signal is enough, so a full channel is
// not an error. Caller must hold mu.
func (rc *RouterContext) signalChanged() {
	select {
	case rc.changed <- struct{}{}:
	default:
	}
}

// Changed returns the channel that fires whenever the published RouterInfo
// changes and a republish should be scheduled out of the normal 40-minute
// cycle (spec.md §4.J: "updates the published RouterInfo when any of these
// change and triggers a republish").
func (rc *RouterContext) Changed() <-chan struct{} {
	return rc.changed
}

// RouterInfo returns the currently published RouterInfo.
func (rc *RouterContext) RouterInfo() *identity.RouterInfo {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.info
}

// IdentHash is this router's own keyspace coordinate.
func (rc *RouterContext) IdentHash() identity.IdentHash {
	return rc.identity.IdentHash()
}

// Identity returns the local router identity.
func (rc *RouterContext) Identity() identity.RouterIdentity {
	return rc.identity
}

// EncryptionPrivateKey returns the local ElGamal private key, used to
// decrypt inbound garlic ElGamal blocks addressed to this router.
func (rc *RouterContext) EncryptionPrivateKey() crypto.ElGamalPrivateKey {
	return rc.encPriv
}

// BandwidthTier returns the currently advertised tier.
func (rc *RouterContext) BandwidthTier() BandwidthTier {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.tier
}

// SetBandwidthTier updates the advertised tier and republishes if it
// changed.
func (rc *RouterContext) SetBandwidthTier(tier BandwidthTier, now time.Time) error {
	rc.mu.RLock()
	unchanged := rc.tier == tier
	floodfill := rc.isFloodfillLocked()
	rc.mu.RUnlock()
	if unchanged {
		return nil
	}
	rc.mu.Lock()
	rc.tier = tier
	rc.mu.Unlock()
	return rc.rebuild(now, floodfill)
}

// Status returns the current reachability status.
func (rc *RouterContext) Status() Status {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.status
}

// SetStatus updates the reachability status and republishes if it changed
// (spec.md §4.J).
func (rc *RouterContext) SetStatus(status Status, now time.Time) error {
	rc.mu.RLock()
	unchanged := rc.status == status
	floodfill := rc.isFloodfillLocked()
	rc.mu.RUnlock()
	if unchanged {
		return nil
	}
	rc.log.WithField("status", status).Info("reachability status changed")
	rc.mu.Lock()
	rc.status = status
	rc.mu.Unlock()
	return rc.rebuild(now, floodfill)
}

// SetAddresses replaces the advertised transport address list and
// republishes (spec.md §4.F: republish "on address change").
func (rc *RouterContext) SetAddresses(addrs []identity.TransportAddress, now time.Time) error {
	rc.mu.RLock()
	floodfill := rc.isFloodfillLocked()
	rc.mu.RUnlock()
	rc.mu.Lock()
	rc.addresses = append([]identity.TransportAddress(nil), addrs...)
	rc.mu.Unlock()
	return rc.rebuild(now, floodfill)
}

func (rc *RouterContext) isFloodfillLocked() bool {
	return rc.info != nil && rc.info.IsFloodfill()
}

// AcceptsTunnels reports whether this router currently admits new transit
// tunnel build requests.
func (rc *RouterContext) AcceptsTunnels() bool {
	return rc.acceptsTunnels.Load()
}

// TransitTunnelCount returns the number of transit tunnels currently
// admitted.
func (rc *RouterContext) TransitTunnelCount() int64 {
	return rc.transitTunnels.Load()
}

// TryAdmitTransit attempts to admit one more transit tunnel, honoring both
// the accepts-tunnels flag and the bandwidth-tier cap (SUPPLEMENTED
// FEATURE: congestion/bandwidth-tier caps). Returns false if the build
// should be rejected.
func (rc *RouterContext) TryAdmitTransit() bool {
	if !rc.acceptsTunnels.Load() {
		return false
	}
	limit := rc.BandwidthTier().transitCap()
	if rc.maxTransit > 0 && rc.maxTransit < limit {
		limit = rc.maxTransit
	}
	for {
		cur := rc.transitTunnels.Load()
		if cur >= limit {
			return false
		}
		if rc.transitTunnels.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// ReleaseTransit decrements the transit tunnel count when one expires or is
// torn down.
func (rc *RouterContext) ReleaseTransit() {
	if rc.transitTunnels.Add(-1) < 0 {
		rc.transitTunnels.Store(0)
	}
}

// BeginShutdown immediately stops admitting new transit tunnels (spec.md §6
// "Shutdown contract": "stop accepting new transit tunnels"; §8 scenario 6:
// "accepts-tunnels to go false immediately").
func (rc *RouterContext) BeginShutdown() {
	rc.acceptsTunnels.Store(false)
	rc.log.Info("accepts-tunnels disabled, draining transit tunnels")
}

// drainPollInterval is how often Drain rechecks the transit tunnel count.
const drainPollInterval = 250 * time.Millisecond

// Drain blocks until no transit tunnels remain or deadline is reached,
// whichever comes first (spec.md §6: "wait until existing transit tunnels
// have expired (up to 10 min)"). It returns the number of transit tunnels
// still outstanding when it returned, which is zero on a clean drain.
func (rc *RouterContext) Drain(deadline time.Time) int64 {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for {
		if n := rc.transitTunnels.Load(); n == 0 || !time.Now().Before(deadline) {
			return n
		}
		<-ticker.C
	}
}
