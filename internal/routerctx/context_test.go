package routerctx

import (
	"testing"
	"time"

	"github.com/go-i2p/i2pcore/internal/crypto"
	"github.com/go-i2p/i2pcore/internal/identity"
)

func newTestContext(t *testing.T) *RouterContext {
	t.Helper()
	encPub, encPriv, err := crypto.GenerateElGamalKeyPair()
	if err != nil {
		t.Fatalf("GenerateElGamalKeyPair: %v", err)
	}
	kp, err := crypto.GenerateSigningKeyPair(crypto.SigTypeEdDSASHA512Ed25519)
	if err != nil {
		t.Fatalf("GenerateSigningKeyPair: %v", err)
	}
	id, err := identity.NewRouterIdentity(encPub, crypto.SigTypeEdDSASHA512Ed25519, kp.PublicKey)
	if err != nil {
		t.Fatalf("NewRouterIdentity: %v", err)
	}
	rc, err := New(id, encPriv, kp.PrivateKey, "2", TierOnline, nil, false, 0, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return rc
}

func TestNewPublishesVerifiableRouterInfo(t *testing.T) {
	rc := newTestContext(t)
	ri := rc.RouterInfo()
	ok, err := ri.Verify()
	if err != nil || !ok {
		t.Fatalf("expected a verifiable initial router info, got ok=%v err=%v", ok, err)
	}
	if ri.Options["caps"] != "O" {
		t.Fatalf("expected caps %q, got %q", "O", ri.Options["caps"])
	}
}

func TestSetStatusRepublishesAndUpdatesCaps(t *testing.T) {
	rc := newTestContext(t)
	first := rc.RouterInfo()

	drainChanged(rc)
	if err := rc.SetStatus(StatusFirewalled, time.Now()); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	select {
	case <-rc.Changed():
	default:
		t.Fatalf("expected a republish signal after a status change")
	}

	second := rc.RouterInfo()
	if second.Options["caps"] != "OU" {
		t.Fatalf("expected caps %q after going firewalled, got %q", "OU", second.Options["caps"])
	}
	if !second.Timestamp.After(first.Timestamp) && second.Timestamp != first.Timestamp {
		t.Fatalf("expected a refreshed timestamp")
	}

	drainChanged(rc)
	if err := rc.SetStatus(StatusFirewalled, time.Now()); err != nil {
		t.Fatalf("SetStatus (no-op): %v", err)
	}
	select {
	case <-rc.Changed():
		t.Fatalf("expected no republish signal for an unchanged status")
	default:
	}
}

func drainChanged(rc *RouterContext) {
	select {
	case <-rc.Changed():
	default:
	}
}

func TestTryAdmitTransitHonorsTierCapAndAcceptFlag(t *testing.T) {
	rc := newTestContext(t)
	if err := rc.SetBandwidthTier(TierLow, time.Now()); err != nil {
		t.Fatalf("SetBandwidthTier: %v", err)
	}

	admitted := 0
	for rc.TryAdmitTransit() {
		admitted++
		if admitted > 1000 {
			t.Fatalf("TryAdmitTransit never saturated")
		}
	}
	if int64(admitted) != TierLow.transitCap() {
		t.Fatalf("expected to admit exactly the tier cap (%d), admitted %d", TierLow.transitCap(), admitted)
	}

	rc.ReleaseTransit()
	if !rc.TryAdmitTransit() {
		t.Fatalf("expected a freed slot to be admittable again")
	}

	rc.BeginShutdown()
	if rc.AcceptsTunnels() {
		t.Fatalf("expected accepts-tunnels to go false immediately after BeginShutdown")
	}
	if rc.TryAdmitTransit() {
		t.Fatalf("expected TryAdmitTransit to reject once shutdown has begun")
	}
}

func TestDrainReturnsOnceTransitTunnelsReachZero(t *testing.T) {
	rc := newTestContext(t)
	rc.TryAdmitTransit()
	rc.BeginShutdown()

	go func() {
		time.Sleep(10 * time.Millisecond)
		rc.ReleaseTransit()
	}()

	remaining := rc.Drain(time.Now().Add(time.Second))
	if remaining != 0 {
		t.Fatalf("expected Drain to observe zero remaining transit tunnels, got %d", remaining)
	}
}

func TestDrainRespectsDeadline(t *testing.T) {
	rc := newTestContext(t)
	rc.TryAdmitTransit()
	rc.BeginShutdown()

	remaining := rc.Drain(time.Now().Add(20 * time.Millisecond))
	if remaining == 0 {
		t.Fatalf("expected Drain to time out with a transit tunnel still outstanding")
	}
}
