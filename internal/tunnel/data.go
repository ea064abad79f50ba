package tunnel

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-i2p/i2pcore/internal/crypto"
)

// DataPayloadSize is the fixed size of a TunnelData message's payload
// (spec.md §4.H: "{ u32 tunnel-id, [u8;1024] payload }").
const DataPayloadSize = 1024

// DataBodySize is the portion of the payload that carries the CBC-chained
// body once the 16-byte IV-derivation block is set aside.
const DataBodySize = DataPayloadSize - 16

// DataMessage is one TunnelData message on the wire.
type DataMessage struct {
	TunnelID TunnelID
	Payload  [DataPayloadSize]byte
}

// Marshal encodes the message.
func (m *DataMessage) Marshal() []byte {
	out := make([]byte, 4+DataPayloadSize)
	binary.BigEndian.PutUint32(out[0:4], uint32(m.TunnelID))
	copy(out[4:], m.Payload[:])
	return out
}

// ParseDataMessage decodes a TunnelData message.
func ParseDataMessage(data []byte) (*DataMessage, error) {
	if len(data) != 4+DataPayloadSize {
		return nil, fmt.Errorf("tunnel: tunnel data message must be %d bytes, got %d", 4+DataPayloadSize, len(data))
	}
	m := &DataMessage{TunnelID: TunnelID(binary.BigEndian.Uint32(data[0:4]))}
	copy(m.Payload[:], data[4:])
	return m, nil
}

// GatewayMessage is a TunnelGateway message: an inner I2NP message handed
// directly into a downstream tunnel without the participant transform
// (spec.md §4.H "TunnelGateway message": "{ u32 tunnel-id, u16 length,
// payload[length] }").
type GatewayMessage struct {
	TunnelID TunnelID
	Payload  []byte
}

// Marshal encodes the message.
func (m *GatewayMessage) Marshal() ([]byte, error) {
	if len(m.Payload) > 0xFFFF {
		return nil, errors.New("tunnel: gateway message payload exceeds 65535 bytes")
	}
	out := make([]byte, 4+2+len(m.Payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(m.TunnelID))
	binary.BigEndian.PutUint16(out[4:6], uint16(len(m.Payload)))
	copy(out[6:], m.Payload)
	return out, nil
}

// ParseGatewayMessage decodes a TunnelGateway message.
func ParseGatewayMessage(data []byte) (*GatewayMessage, error) {
	if len(data) < 6 {
		return nil, errors.New("tunnel: truncated tunnel gateway message")
	}
	tid := TunnelID(binary.BigEndian.Uint32(data[0:4]))
	length := binary.BigEndian.Uint16(data[4:6])
	if len(data) != 6+int(length) {
		return nil, fmt.Errorf("tunnel: gateway message declares %d payload bytes but buffer has %d", length, len(data)-6)
	}
	return &GatewayMessage{TunnelID: tid, Payload: append([]byte(nil), data[6:]...)}, nil
}

// deriveIV computes the per-message IV used while peeling or layering a
// tunnel-data payload: AES-ECB-encrypting the buffer's current leading 16
// bytes under ivKey (spec.md §4.H: "derive a per-message IV by
// AES-ECB-encrypting the leading 16 bytes of the payload under this hop's
// iv-key").
func deriveIV(leading []byte, ivKey []byte) ([]byte, error) {
	return crypto.AESECBEncryptBlock(ivKey, leading)
}

// PeelOneLayer applies the I2P tunnel decryption rule for one hop: derive
// the IV by AES-ECB-encrypting the leading 16 bytes under ivKey,
// AES-CBC-decrypt the trailing DataBodySize bytes under layerKey with that
// IV, then AES-ECB-encrypt the derived IV a second time under ivKey to
// obtain the outgoing header (spec.md §4.H "Participant"). The header is
// therefore ECB-encrypted twice per hop: once to reproduce the CBC IV the
// sender used for this layer, once more to produce the value the next hop
// will see. Both transit participants and this router's own tunnel
// endpoint apply this same transform to every TunnelData payload. It
// returns the CBC IV it derived so an endpoint can verify the fragment
// checksum against the same value the gateway embedded it against (see
// ComputeEndpointIV).
func PeelOneLayer(payload *[DataPayloadSize]byte, ivKey, layerKey []byte) ([]byte, error) {
	cbcIV, err := deriveIV(payload[:16], ivKey)
	if err != nil {
		return nil, fmt.Errorf("tunnel: deriving participant iv: %w", err)
	}
	body, err := crypto.TunnelDecrypt(layerKey, cbcIV, payload[16:])
	if err != nil {
		return nil, fmt.Errorf("tunnel: participant layer decrypt: %w", err)
	}
	outgoing, err := deriveIV(cbcIV, ivKey)
	if err != nil {
		return nil, fmt.Errorf("tunnel: deriving outgoing header: %w", err)
	}
	copy(payload[16:], body)
	copy(payload[:16], outgoing)
	return cbcIV, nil
}

// HopKeys is the (iv-key, layer-key) pair a gateway needs for one hop in a
// tunnel's chain, in gateway-to-endpoint order.
type HopKeys struct {
	IVKey    []byte
	LayerKey []byte
}

// LayerForChain builds the on-wire TunnelData payload a gateway sends: it
// seeds the 16-byte header with ivSeed, precomputes the header value each
// successive hop will see by replaying the same double-ECB-encrypt
// PeelOneLayer performs, then AES-CBC-encrypts the body once per hop in
// reverse (endpoint-to-first-hop) order using the CBC IV computed for that
// hop (spec.md §4.H "Gateway": "AES-CBC-encrypt the block once per hop from
// endpoint backward"). Because every hop only ever re-derives its own
// header value from what it physically receives, the gateway does not need
// to touch the header field hop-by-hop as it layers the body — it only
// needs to know, in advance, the CBC IV each hop will independently compute
// once the message reaches it.
func LayerForChain(payload *[DataPayloadSize]byte, ivSeed [16]byte, hops []HopKeys) error {
	cbcIVs, err := precomputeChainIVs(ivSeed, hops)
	if err != nil {
		return err
	}
	body := append([]byte(nil), payload[16:]...)
	for k := len(hops) - 1; k >= 0; k-- {
		enc, err := crypto.TunnelEncrypt(hops[k].LayerKey, cbcIVs[k], body)
		if err != nil {
			return fmt.Errorf("tunnel: layering hop %d: %w", k, err)
		}
		body = enc
	}
	copy(payload[:16], ivSeed[:])
	copy(payload[16:], body)
	return nil
}

// precomputeChainIVs replays, hop by hop in chain order, the same
// double-ECB-encrypt derivation PeelOneLayer performs on receipt, returning
// each hop's CBC IV without touching any ciphertext. Used both by
// LayerForChain (to pick the per-hop CBC IVs up front) and by
// ComputeEndpointIV (to learn what the last hop's IV will be before any
// bytes are sent).
func precomputeChainIVs(ivSeed [16]byte, hops []HopKeys) ([][]byte, error) {
	n := len(hops)
	cbcIVs := make([][]byte, n)
	header := ivSeed[:]
	for k := 0; k < n; k++ {
		iv, err := deriveIV(header, hops[k].IVKey)
		if err != nil {
			return nil, fmt.Errorf("tunnel: precomputing hop %d cbc iv: %w", k, err)
		}
		cbcIVs[k] = iv
		next, err := deriveIV(iv, hops[k].IVKey)
		if err != nil {
			return nil, fmt.Errorf("tunnel: precomputing hop %d outgoing header: %w", k, err)
		}
		header = next
	}
	return cbcIVs, nil
}

// ComputeEndpointIV returns the CBC IV the chain's last hop (the endpoint)
// will derive for a message sent with ivSeed. The gateway uses this to
// embed the fragment checksum before layering; the endpoint's own
// PeelOneLayer call reproduces the identical value, letting it verify the
// checksum without any extra coordination.
func ComputeEndpointIV(ivSeed [16]byte, hops []HopKeys) ([]byte, error) {
	cbcIVs, err := precomputeChainIVs(ivSeed, hops)
	if err != nil {
		return nil, err
	}
	if len(cbcIVs) == 0 {
		return nil, errors.New("tunnel: empty hop chain")
	}
	return cbcIVs[len(cbcIVs)-1], nil
}
