package tunnel

import (
	"bytes"
	"testing"
	"time"

	"github.com/go-i2p/i2pcore/internal/identity"
)

func threeHopKeys(t *testing.T) []HopKeys {
	t.Helper()
	return []HopKeys{
		{IVKey: randomKey(t), LayerKey: randomKey(t)},
		{IVKey: randomKey(t), LayerKey: randomKey(t)},
		{IVKey: randomKey(t), LayerKey: randomKey(t)},
	}
}

// deliverThroughChain peels msg's layers for every hop but the last,
// simulating the two transit participants, and returns what the endpoint
// receives.
func deliverThroughChain(t *testing.T, msg *DataMessage, hops []HopKeys) *DataMessage {
	t.Helper()
	for i := 0; i < len(hops)-1; i++ {
		if _, err := PeelOneLayer(&msg.Payload, hops[i].IVKey, hops[i].LayerKey); err != nil {
			t.Fatalf("participant peel hop %d: %v", i, err)
		}
	}
	return msg
}

func TestGatewayEndpointSmallMessage(t *testing.T) {
	hops := threeHopKeys(t)
	inner := []byte("a small I2NP message")

	msgs, err := BuildGatewayMessages(TunnelID(1), hops, DeliveryLocal, 0, identity.IdentHash{}, 42, inner)
	if err != nil {
		t.Fatalf("BuildGatewayMessages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 fragment for a small message, got %d", len(msgs))
	}

	delivered := deliverThroughChain(t, msgs[0], hops)
	ep := NewEndpoint(hops[len(hops)-1].IVKey, hops[len(hops)-1].LayerKey)
	d, err := ep.Process(time.Now(), delivered)
	if err != nil {
		t.Fatalf("endpoint Process: %v", err)
	}
	if d == nil {
		t.Fatalf("expected a completed delivery for a single-fragment message")
	}
	if !bytes.Equal(d.Payload, inner) {
		t.Fatalf("delivered payload mismatch: got %q want %q", d.Payload, inner)
	}
	if d.Delivery != DeliveryLocal {
		t.Fatalf("expected local delivery type, got %v", d.Delivery)
	}
}

func TestGatewayEndpointBoundaryProducesTwoFragments(t *testing.T) {
	hops := threeHopKeys(t)
	firstCap := bodyCapacity(true, DeliveryLocal)
	// One byte past the first fragment's capacity forces exactly one
	// follow-on fragment.
	inner := bytes.Repeat([]byte{0xAB}, firstCap+1)

	msgs, err := BuildGatewayMessages(TunnelID(1), hops, DeliveryLocal, 0, identity.IdentHash{}, 99, inner)
	if err != nil {
		t.Fatalf("BuildGatewayMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected exactly 2 fragments at the capacity boundary, got %d", len(msgs))
	}

	ep := NewEndpoint(hops[len(hops)-1].IVKey, hops[len(hops)-1].LayerKey)
	var delivery *Delivery
	for _, m := range msgs {
		delivered := deliverThroughChain(t, m, hops)
		d, err := ep.Process(time.Now(), delivered)
		if err != nil {
			t.Fatalf("endpoint Process: %v", err)
		}
		if d != nil {
			delivery = d
		}
	}
	if delivery == nil {
		t.Fatalf("expected delivery to complete after the last fragment")
	}
	if !bytes.Equal(delivery.Payload, inner) {
		t.Fatalf("reassembled payload mismatch (len got=%d want=%d)", len(delivery.Payload), len(inner))
	}
}

func TestEndpointRejectsTamperedChecksum(t *testing.T) {
	hops := threeHopKeys(t)
	inner := []byte("tamper me")
	msgs, err := BuildGatewayMessages(TunnelID(1), hops, DeliveryRouter, 0, identity.IdentHash{1, 2, 3}, 1, inner)
	if err != nil {
		t.Fatalf("BuildGatewayMessages: %v", err)
	}
	delivered := deliverThroughChain(t, msgs[0], hops)
	delivered.Payload[DataPayloadSize-1] ^= 0xFF

	ep := NewEndpoint(hops[len(hops)-1].IVKey, hops[len(hops)-1].LayerKey)
	if _, err := ep.Process(time.Now(), delivered); err == nil {
		t.Fatalf("expected an error after tampering with the encrypted body")
	}
}

func TestReassemblerDropsAfterTimeout(t *testing.T) {
	r := NewReassembler()
	start := time.Now()
	h := fragmentHeader{first: true, delivery: DeliveryLocal, fragmented: true, messageID: 5, payload: []byte("x")}
	d, err := r.AddFragment(start, TunnelID(1), h)
	if err != nil {
		t.Fatalf("AddFragment: %v", err)
	}
	if d != nil {
		t.Fatalf("message should not be complete yet")
	}
	if dropped := r.Sweep(start.Add(ReassemblyTimeout + time.Second)); dropped != 1 {
		t.Fatalf("expected Sweep to drop 1 pending message, dropped %d", dropped)
	}
}
