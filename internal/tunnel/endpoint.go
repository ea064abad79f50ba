package tunnel

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/go-i2p/i2pcore/internal/crypto"
)

// ErrFragmentWindowExceeded is returned when a message accumulates more
// out-of-order fragments than maxReassemblyWindow allows (spec.md §4.H
// "Fragment reassembly invariants").
var ErrFragmentWindowExceeded = errors.New("tunnel: fragment window exceeded")

// ErrChecksumMismatch is returned when a tunnel-data body's checksum does
// not match its fragment data.
var ErrChecksumMismatch = errors.New("tunnel: fragment checksum mismatch")

// Endpoint applies the participant transform for this router's own final
// hop in a tunnel chain (inbound tunnel endpoint, or transit-tunnel
// endpoint), verifies the fragment checksum, and feeds fragments into a
// Reassembler (spec.md §4.H "Endpoint").
type Endpoint struct {
	IVKey    []byte
	LayerKey []byte
	Reassembler *Reassembler
}

// NewEndpoint returns an Endpoint using its own Reassembler.
func NewEndpoint(ivKey, layerKey []byte) *Endpoint {
	return &Endpoint{IVKey: ivKey, LayerKey: layerKey, Reassembler: NewReassembler()}
}

// Process peels the endpoint's own layer from msg, verifies the checksum,
// decodes every fragment in the body, and feeds each into the reassembler.
// It returns a Delivery once a complete message assembles, or nil if msg's
// fragment(s) only partially complete a still-pending message.
func (e *Endpoint) Process(now time.Time, msg *DataMessage) (*Delivery, error) {
	cbcIV, err := PeelOneLayer(&msg.Payload, e.IVKey, e.LayerKey)
	if err != nil {
		return nil, fmt.Errorf("tunnel: endpoint peel: %w", err)
	}
	body := msg.Payload[16:]

	checksum := body[0:4]
	i := 4
	for i < len(body) && body[i] != 0x00 {
		i++
	}
	if i >= len(body) {
		return nil, errors.New("tunnel: tunnel-data body has no padding delimiter")
	}
	fragData := body[i+1:]

	sum := crypto.SHA256(append(append([]byte(nil), cbcIV...), fragData...))
	if !bytes.Equal(sum[:4], checksum) {
		return nil, ErrChecksumMismatch
	}

	var delivery *Delivery
	for len(fragData) > 0 {
		h, n, err := decodeFragment(fragData)
		if err != nil {
			return nil, fmt.Errorf("tunnel: decoding fragment: %w", err)
		}
		d, err := e.Reassembler.AddFragment(now, msg.TunnelID, h)
		if err != nil {
			return nil, err
		}
		if d != nil {
			delivery = d
		}
		fragData = fragData[n:]
	}
	return delivery, nil
}
