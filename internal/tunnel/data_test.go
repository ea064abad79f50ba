package tunnel

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, 32)
	if _, err := rand.Read(k); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return k
}

func TestLayerForChainRoundTrip(t *testing.T) {
	hops := []HopKeys{
		{IVKey: randomKey(t), LayerKey: randomKey(t)},
		{IVKey: randomKey(t), LayerKey: randomKey(t)},
		{IVKey: randomKey(t), LayerKey: randomKey(t)},
	}

	var original [DataPayloadSize]byte
	if _, err := rand.Read(original[16:]); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	payload := original
	var ivSeed [16]byte
	if _, err := rand.Read(ivSeed[:]); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	if err := LayerForChain(&payload, ivSeed, hops); err != nil {
		t.Fatalf("LayerForChain: %v", err)
	}
	if bytes.Equal(payload[16:], original[16:]) {
		t.Fatalf("layering did not change the body")
	}

	var lastCBCIV []byte
	for i, h := range hops {
		iv, err := PeelOneLayer(&payload, h.IVKey, h.LayerKey)
		if err != nil {
			t.Fatalf("PeelOneLayer hop %d: %v", i, err)
		}
		lastCBCIV = iv
	}
	if !bytes.Equal(payload[16:], original[16:]) {
		t.Fatalf("peeled body does not match original plaintext")
	}

	want, err := ComputeEndpointIV(ivSeed, hops)
	if err != nil {
		t.Fatalf("ComputeEndpointIV: %v", err)
	}
	if !bytes.Equal(lastCBCIV, want) {
		t.Fatalf("ComputeEndpointIV disagrees with the endpoint's own derived CBC IV")
	}
}

func TestLayerForChainSingleHop(t *testing.T) {
	hops := []HopKeys{{IVKey: randomKey(t), LayerKey: randomKey(t)}}

	var original [DataPayloadSize]byte
	if _, err := rand.Read(original[16:]); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	payload := original
	var ivSeed [16]byte
	if _, err := rand.Read(ivSeed[:]); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	if err := LayerForChain(&payload, ivSeed, hops); err != nil {
		t.Fatalf("LayerForChain: %v", err)
	}
	if _, err := PeelOneLayer(&payload, hops[0].IVKey, hops[0].LayerKey); err != nil {
		t.Fatalf("PeelOneLayer: %v", err)
	}
	if !bytes.Equal(payload[16:], original[16:]) {
		t.Fatalf("single-hop round trip did not recover the original body")
	}
}

func TestDataMessageMarshalRoundTrip(t *testing.T) {
	var m DataMessage
	m.TunnelID = 0xdeadbeef
	if _, err := rand.Read(m.Payload[:]); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	wire := m.Marshal()
	got, err := ParseDataMessage(wire)
	if err != nil {
		t.Fatalf("ParseDataMessage: %v", err)
	}
	if got.TunnelID != m.TunnelID || !bytes.Equal(got.Payload[:], m.Payload[:]) {
		t.Fatalf("round trip mismatch")
	}
}

func TestGatewayMessageMarshalRoundTrip(t *testing.T) {
	m := &GatewayMessage{TunnelID: 7, Payload: []byte("hello tunnel")}
	wire, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := ParseGatewayMessage(wire)
	if err != nil {
		t.Fatalf("ParseGatewayMessage: %v", err)
	}
	if got.TunnelID != m.TunnelID || !bytes.Equal(got.Payload, m.Payload) {
		t.Fatalf("round trip mismatch")
	}
}
