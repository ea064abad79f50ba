package identity

import (
	"testing"
	"time"

	"github.com/go-i2p/i2pcore/internal/crypto"
)

func newTestIdentity(t *testing.T, sigType crypto.SigType) (RouterIdentity, []byte) {
	t.Helper()
	encPub, _, err := crypto.GenerateElGamalKeyPair()
	if err != nil {
		t.Fatalf("GenerateElGamalKeyPair: %v", err)
	}
	kp, err := crypto.GenerateSigningKeyPair(sigType)
	if err != nil {
		t.Fatalf("GenerateSigningKeyPair: %v", err)
	}
	id, err := NewRouterIdentity(encPub, sigType, kp.PublicKey)
	if err != nil {
		t.Fatalf("NewRouterIdentity: %v", err)
	}
	return id, kp.PrivateKey
}

func TestRouterIdentityRoundTrip(t *testing.T) {
	id, _ := newTestIdentity(t, crypto.SigTypeEdDSASHA512Ed25519)
	serialized := id.Serialize()
	parsed, consumed, err := ParseRouterIdentity(serialized)
	if err != nil {
		t.Fatalf("ParseRouterIdentity: %v", err)
	}
	if consumed != len(serialized) {
		t.Fatalf("consumed %d bytes, want %d", consumed, len(serialized))
	}
	if parsed.IdentHash() != id.IdentHash() {
		t.Fatal("ident hash mismatch after round trip")
	}
}

func TestRouterInfoRoundTrip(t *testing.T) {
	id, priv := newTestIdentity(t, crypto.SigTypeEdDSASHA512Ed25519)

	ri := &RouterInfo{
		Identity:  id,
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
		Addresses: []TransportAddress{
			{
				Style:   "NTCP2",
				Host:    "203.0.113.5",
				Port:    12345,
				Options: map[string]string{"s": "abcdef"},
			},
			{
				Style:   "SSU",
				Host:    "203.0.113.5",
				Port:    54321,
				Options: map[string]string{"key": "zyxwvu"},
				Introducers: []Introducer{
					{Hash: IdentHash{1, 2, 3}, Host: "198.51.100.9", Port: 9999, Tag: 42},
				},
			},
		},
		Options: map[string]string{"caps": "LR"},
	}
	if err := ri.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	serialized := ri.Serialize()
	parsed, err := ParseRouterInfo(serialized)
	if err != nil {
		t.Fatalf("ParseRouterInfo: %v", err)
	}

	if !bytesEqual(parsed.Serialize(), serialized) {
		t.Fatal("re-serialized bytes differ from original")
	}
	if parsed.IdentHash() != ri.IdentHash() {
		t.Fatal("ident hash mismatch after round trip")
	}
	ok, err := parsed.Verify()
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("signature failed to verify after round trip")
	}
	if !parsed.HasCapability('L') || !parsed.HasCapability('R') {
		t.Fatal("expected caps LR to survive round trip")
	}
	if parsed.IsFloodfill() {
		t.Fatal("caps LR should not imply floodfill")
	}
}

func TestRouterInfoRejectsTamperedSignature(t *testing.T) {
	id, priv := newTestIdentity(t, crypto.SigTypeEdDSASHA512Ed25519)
	ri := &RouterInfo{Identity: id, Timestamp: time.Now().UTC(), Options: map[string]string{"caps": "f"}}
	if err := ri.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	ri.Signature[0] ^= 0xff
	ok, err := ri.Verify()
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("Verify accepted a tampered signature")
	}
	if !ri.IsFloodfill() {
		t.Fatal("caps f should imply floodfill")
	}
}

func TestRouterInfoFreshness(t *testing.T) {
	id, _ := newTestIdentity(t, crypto.SigTypeEdDSASHA512Ed25519)
	ri := &RouterInfo{Identity: id, Timestamp: time.Now().Add(-48 * time.Hour)}
	if ri.IsFresh(time.Now()) {
		t.Fatal("expected a 48h-old timestamp to fail the acceptance window")
	}
	ri.Timestamp = time.Now()
	if !ri.IsFresh(time.Now()) {
		t.Fatal("expected a current timestamp to pass the acceptance window")
	}
}

func TestLeaseSetRoundTrip(t *testing.T) {
	dest, priv := newTestIdentity(t, crypto.SigTypeEdDSASHA512Ed25519)
	encPub, _, err := crypto.GenerateElGamalKeyPair()
	if err != nil {
		t.Fatalf("GenerateElGamalKeyPair: %v", err)
	}

	future := time.Now().Add(10 * time.Minute).UTC().Truncate(time.Millisecond)
	ls := &LeaseSet{
		Destination:   dest,
		EncryptionKey: encPub,
		Leases: []Lease{
			{TunnelGateway: IdentHash{9}, TunnelID: 2, EndDate: future},
			{TunnelGateway: IdentHash{1}, TunnelID: 1, EndDate: future},
			{TunnelGateway: IdentHash{1}, TunnelID: 1, EndDate: future},
		},
	}
	if err := ls.NormalizeLeases(); err != nil {
		t.Fatalf("NormalizeLeases: %v", err)
	}
	if len(ls.Leases) != 2 {
		t.Fatalf("expected dedup to leave 2 leases, got %d", len(ls.Leases))
	}
	if err := ls.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	serialized := ls.Serialize()
	parsed, err := ParseLeaseSet(serialized)
	if err != nil {
		t.Fatalf("ParseLeaseSet: %v", err)
	}
	if !bytesEqual(parsed.Serialize(), serialized) {
		t.Fatal("re-serialized bytes differ from original")
	}
	ok, err := parsed.Verify()
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("lease set signature failed to verify after round trip")
	}
	if !parsed.IsValid(time.Now()) {
		t.Fatal("expected lease set with future end-dates to be valid")
	}
}

func TestLeaseSetRejectsTooManyLeases(t *testing.T) {
	dest, _ := newTestIdentity(t, crypto.SigTypeEdDSASHA512Ed25519)
	ls := &LeaseSet{Destination: dest}
	for i := 0; i < MaxLeases+1; i++ {
		ls.Leases = append(ls.Leases, Lease{TunnelID: uint32(i), EndDate: time.Now().Add(time.Minute)})
	}
	if err := ls.NormalizeLeases(); err == nil {
		t.Fatal("expected error for more than MaxLeases leases")
	}
}

func TestLeaseSetNotReadyWhenAllExpired(t *testing.T) {
	dest, _ := newTestIdentity(t, crypto.SigTypeEdDSASHA512Ed25519)
	ls := &LeaseSet{
		Destination: dest,
		Leases: []Lease{
			{TunnelID: 1, EndDate: time.Now().Add(-time.Minute)},
		},
	}
	if ls.IsValid(time.Now()) {
		t.Fatal("expected lease set with only expired leases to be invalid")
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
