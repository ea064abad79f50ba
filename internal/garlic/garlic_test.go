package garlic

import (
	"bytes"
	"testing"
	"time"

	icrypto "github.com/go-i2p/i2pcore/internal/crypto"
	"github.com/go-i2p/i2pcore/internal/identity"
)

func TestWrapUnwrapRoundTripFreshSession(t *testing.T) {
	pub, priv, err := icrypto.GenerateElGamalKeyPair()
	if err != nil {
		t.Fatalf("GenerateElGamalKeyPair: %v", err)
	}

	sender := NewSessionManager()
	destHash := identity.IdentHash{1, 2, 3}
	now := time.Now().UTC()

	cloves := []Clove{
		{
			Instructions:  DeliveryInstructions{Type: DeliveryLocal},
			InnerMessage:  []byte("inner i2np message bytes"),
			CloveID:       7,
			Expiration:    now.Add(time.Minute),
			MsgID:         42,
			MsgExpiration: now.Add(time.Minute),
		},
	}

	wrapped, err := sender.WrapOutbound(destHash, pub, cloves, now, 42)
	if err != nil {
		t.Fatalf("WrapOutbound: %v", err)
	}

	receiver := NewSessionManager()
	unwrapped, err := receiver.UnwrapInbound(wrapped, priv)
	if err != nil {
		t.Fatalf("UnwrapInbound: %v", err)
	}
	if len(unwrapped) != 1 {
		t.Fatalf("expected 1 clove, got %d", len(unwrapped))
	}
	if !bytes.Equal(unwrapped[0].InnerMessage, cloves[0].InnerMessage) {
		t.Fatal("inner message mismatch after round trip")
	}
	if unwrapped[0].CloveID != 7 || unwrapped[0].MsgID != 42 {
		t.Fatal("clove field mismatch after round trip")
	}
}

func TestWrapUnwrapRoundTripUsesSessionTagSecondTime(t *testing.T) {
	pub, priv, err := icrypto.GenerateElGamalKeyPair()
	if err != nil {
		t.Fatalf("GenerateElGamalKeyPair: %v", err)
	}

	sender := NewSessionManager()
	receiver := NewSessionManager()
	destHash := identity.IdentHash{9}
	now := time.Now().UTC()

	firstCloves := []Clove{{Instructions: DeliveryInstructions{Type: DeliveryLocal}, InnerMessage: []byte("first"), MsgID: 1, Expiration: now, MsgExpiration: now}}
	firstWrapped, err := sender.WrapOutbound(destHash, pub, firstCloves, now, 1)
	if err != nil {
		t.Fatalf("WrapOutbound (first): %v", err)
	}
	if _, err := receiver.UnwrapInbound(firstWrapped, priv); err != nil {
		t.Fatalf("UnwrapInbound (first): %v", err)
	}

	secondCloves := []Clove{{Instructions: DeliveryInstructions{Type: DeliveryLocal}, InnerMessage: []byte("second"), MsgID: 2, Expiration: now, MsgExpiration: now}}
	secondWrapped, err := sender.WrapOutbound(destHash, pub, secondCloves, now, 2)
	if err != nil {
		t.Fatalf("WrapOutbound (second): %v", err)
	}

	// The second wrap should be short enough to be a tag-based message
	// (32-byte tag) rather than a fresh 512-byte ElGamal handshake.
	if len(secondWrapped) >= len(firstWrapped) {
		t.Fatalf("expected tag-based wrap to be smaller than handshake wrap: second=%d first=%d", len(secondWrapped), len(firstWrapped))
	}

	cloves, err := receiver.UnwrapInbound(secondWrapped, priv)
	if err != nil {
		t.Fatalf("UnwrapInbound (second): %v", err)
	}
	if !bytes.Equal(cloves[0].InnerMessage, []byte("second")) {
		t.Fatal("inner message mismatch on tag-based round trip")
	}
}

func TestUnwrapRejectsCorruptedPayload(t *testing.T) {
	pub, priv, err := icrypto.GenerateElGamalKeyPair()
	if err != nil {
		t.Fatalf("GenerateElGamalKeyPair: %v", err)
	}
	sender := NewSessionManager()
	now := time.Now().UTC()
	cloves := []Clove{{Instructions: DeliveryInstructions{Type: DeliveryLocal}, InnerMessage: []byte("x"), Expiration: now, MsgExpiration: now}}
	wrapped, err := sender.WrapOutbound(identity.IdentHash{1}, pub, cloves, now, 1)
	if err != nil {
		t.Fatalf("WrapOutbound: %v", err)
	}
	wrapped[len(wrapped)-1] ^= 0xff

	receiver := NewSessionManager()
	if _, err := receiver.UnwrapInbound(wrapped, priv); err == nil {
		t.Fatal("expected corrupted payload to fail to unwrap")
	}
}

func TestAcknowledge(t *testing.T) {
	pub, _, err := icrypto.GenerateElGamalKeyPair()
	if err != nil {
		t.Fatalf("GenerateElGamalKeyPair: %v", err)
	}
	sender := NewSessionManager()
	now := time.Now().UTC()
	cloves := []Clove{{Instructions: DeliveryInstructions{Type: DeliveryLocal}, InnerMessage: []byte("x"), Expiration: now, MsgExpiration: now}}
	if _, err := sender.WrapOutbound(identity.IdentHash{5}, pub, cloves, now, 123); err != nil {
		t.Fatalf("WrapOutbound: %v", err)
	}
	if !sender.Acknowledge(123) {
		t.Fatal("expected Acknowledge to find the pending handshake")
	}
	if sender.Acknowledge(123) {
		t.Fatal("expected second Acknowledge for the same msg-id to report not-found")
	}
}

func TestDeliveryInstructionsRoundTripViaClove(t *testing.T) {
	now := time.Now().UTC()
	cloves := []Clove{
		{Instructions: DeliveryInstructions{Type: DeliveryTunnel, Hash: identity.IdentHash{1}, TunnelID: 99}, InnerMessage: []byte("a"), Expiration: now, MsgExpiration: now},
		{Instructions: DeliveryInstructions{Type: DeliveryRouter, Hash: identity.IdentHash{2}}, InnerMessage: []byte("b"), Expiration: now, MsgExpiration: now},
	}
	encoded := marshalCloves(cloves)
	decoded, err := parseCloves(encoded)
	if err != nil {
		t.Fatalf("parseCloves: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("expected 2 cloves, got %d", len(decoded))
	}
	if decoded[0].Instructions.Type != DeliveryTunnel || decoded[0].Instructions.TunnelID != 99 {
		t.Fatal("tunnel delivery instructions mismatch")
	}
	if decoded[1].Instructions.Type != DeliveryRouter || decoded[1].Instructions.Hash != (identity.IdentHash{2}) {
		t.Fatal("router delivery instructions mismatch")
	}
}
