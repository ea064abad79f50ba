package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/go-i2p/i2pcore/internal/crypto"
	"github.com/go-i2p/i2pcore/internal/identity"
	"github.com/go-i2p/i2pcore/internal/metrics"
	"github.com/go-i2p/i2pcore/internal/netdb"
	"github.com/go-i2p/i2pcore/internal/tunnel"
)

func newTestRouterInfo(t *testing.T, family string) identity.IdentHash {
	t.Helper()
	encPub, _, err := crypto.GenerateElGamalKeyPair()
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
	opts := map[string]string{"netId": netdb.OurNetID}
	if family != "" {
		opts["family"] = family
	}
	ri := &identity.RouterInfo{Identity: id, Timestamp: time.Now(), Options: opts}
	if err := ri.Sign(kp.PrivateKey); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := store(t).AdmitRouterInfo(ri, time.Now()); err != nil {
		t.Fatalf("AdmitRouterInfo: %v", err)
	}
	return ri.IdentHash()
}

var sharedStore *netdb.Store

func store(t *testing.T) *netdb.Store {
	t.Helper()
	if sharedStore == nil {
		sharedStore = netdb.New(netdb.OurNetID, nil, metrics.New(prometheus.NewRegistry()))
	}
	return sharedStore
}

func TestSelectHopsAvoidsSameFamily(t *testing.T) {
	sharedStore = nil
	a := newTestRouterInfo(t, "alpha")
	b := newTestRouterInfo(t, "alpha")
	c := newTestRouterInfo(t, "")

	sel := &Selector{NetDB: store(t)}
	for i := 0; i < 20; i++ {
		hops, err := sel.SelectHops(2, Filters{AvoidSameFamily: true}, nil, time.Now())
		if err != nil {
			t.Fatalf("SelectHops: %v", err)
		}
		if hops[0] == a && hops[1] == b {
			t.Fatalf("selected two same-family hops")
		}
		if hops[0] == b && hops[1] == a {
			t.Fatalf("selected two same-family hops")
		}
	}
	_ = c
}

func TestSelectHopsExplicitPeers(t *testing.T) {
	sharedStore = nil
	sel := &Selector{NetDB: store(t)}
	explicit := []identity.IdentHash{{1}, {2}, {3}}
	hops, err := sel.SelectHops(2, Filters{ExplicitPeers: explicit}, nil, time.Now())
	if err != nil {
		t.Fatalf("SelectHops: %v", err)
	}
	if len(hops) != 2 || hops[0] != explicit[0] || hops[1] != explicit[1] {
		t.Fatalf("expected the first 2 explicit peers verbatim, got %v", hops)
	}
}

func TestSelectHopsNotEnough(t *testing.T) {
	sharedStore = nil
	sel := &Selector{NetDB: store(t)}
	if _, err := sel.SelectHops(3, Filters{}, nil, time.Now()); !errors.Is(err, ErrNotEnoughHops) {
		t.Fatalf("expected ErrNotEnoughHops, got %v", err)
	}
}

func TestPoolDeficitAndGetNext(t *testing.T) {
	p := New(Config{TunnelsOut: 2, TunnelsIn: 1})
	wantOut, wantIn := p.Deficit()
	if wantOut != 2 || wantIn != 1 {
		t.Fatalf("expected deficit (2,1), got (%d,%d)", wantOut, wantIn)
	}

	now := time.Now()
	t1 := &tunnel.Tunnel{ID: 1, CreatedAt: now}
	t2 := &tunnel.Tunnel{ID: 2, CreatedAt: now}
	p.AddOutbound(t1, now)
	p.AddOutbound(t2, now)

	wantOut, _ = p.Deficit()
	if wantOut != 0 {
		t.Fatalf("expected deficit 0 after adding 2 outbound tunnels, got %d", wantOut)
	}

	got1, ok := p.GetNextOutbound()
	if !ok {
		t.Fatalf("expected a tunnel from GetNextOutbound")
	}
	got2, ok := p.GetNextOutbound()
	if !ok || got2 == got1 {
		t.Fatalf("expected GetNextOutbound to bias toward the less-used tunnel")
	}
}

func TestPoolSweepExpiry(t *testing.T) {
	p := New(Config{TunnelsOut: 1})
	old := time.Now().Add(-(tunnel.Lifetime - 30*time.Second))
	p.AddOutbound(&tunnel.Tunnel{ID: 1, CreatedAt: old}, old)

	expiring, removed := p.SweepExpiry(time.Now())
	if len(expiring) != 1 || removed != 0 {
		t.Fatalf("expected 1 tunnel to enter expiring, got expiring=%d removed=%d", len(expiring), removed)
	}

	veryOld := time.Now().Add(-tunnel.Lifetime - time.Minute)
	p2 := New(Config{TunnelsOut: 1})
	p2.AddOutbound(&tunnel.Tunnel{ID: 2, CreatedAt: veryOld}, veryOld)
	_, removed = p2.SweepExpiry(time.Now())
	if removed != 1 {
		t.Fatalf("expected the hard-expired tunnel to be removed, got removed=%d", removed)
	}
}

func TestPoolRunPairTestMarksFailureOnTimeout(t *testing.T) {
	p := New(Config{TunnelsOut: 1, TunnelsIn: 1})
	now := time.Now()
	p.AddOutbound(&tunnel.Tunnel{ID: 1, CreatedAt: now}, now)
	p.AddInbound(&tunnel.Tunnel{ID: 2, CreatedAt: now}, now)

	err := p.RunPairTest(context.Background(), now, func(ctx context.Context, out, in *tunnel.Tunnel) error {
		return errors.New("no reply")
	})
	if err == nil {
		t.Fatalf("expected RunPairTest to propagate the test failure")
	}
	if p.outbound[0].State != tunnel.StateTestFailed || p.inbound[0].State != tunnel.StateTestFailed {
		t.Fatalf("expected both tunnels marked test-failed")
	}
}
