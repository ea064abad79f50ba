package tunnel

import (
	"crypto/rand"
	"fmt"

	"github.com/go-i2p/i2pcore/internal/crypto"
	"github.com/go-i2p/i2pcore/internal/identity"
)

func headerOverhead(first bool, delivery DeliveryType) int {
	if !first {
		return 1 + 4 + 2
	}
	n := 1 + 4 + 2
	if delivery == DeliveryTunnel {
		n += 4
	}
	if delivery == DeliveryTunnel || delivery == DeliveryRouter {
		n += 32
	}
	return n
}

// bodyCapacity is how many raw fragment bytes (header + payload) fit in one
// TunnelData body once the 4-byte checksum and the mandatory single-byte
// padding delimiter are reserved.
func bodyCapacity(first bool, delivery DeliveryType) int {
	return DataBodySize - 4 - 1 - headerOverhead(first, delivery)
}

// BuildGatewayMessages fragments an inner I2NP message across as many
// TunnelData payloads as needed and layers each one for hops (spec.md §4.H
// "Gateway": fragment into 1008-byte blocks, insert padding and a checksum,
// then AES-CBC-encrypt once per hop from endpoint backward). hops must be in
// gateway-to-endpoint chain order; recvTunnelID is the first hop's
// recv-tunnel-id, the id placed on the wire DataMessage.
func BuildGatewayMessages(recvTunnelID TunnelID, hops []HopKeys, delivery DeliveryType, toTunnel TunnelID, toHash identity.IdentHash, messageID uint32, payload []byte) ([]*DataMessage, error) {
	if len(hops) == 0 {
		return nil, fmt.Errorf("tunnel: cannot build gateway message with no hops")
	}

	var chunks [][]byte
	remaining := payload
	firstCap := bodyCapacity(true, delivery)
	if firstCap <= 0 {
		return nil, fmt.Errorf("tunnel: delivery header leaves no room for fragment data")
	}
	first := remaining
	if len(first) > firstCap {
		first = remaining[:firstCap]
	}
	chunks = append(chunks, first)
	remaining = remaining[len(first):]

	followCap := bodyCapacity(false, DeliveryLocal)
	for len(remaining) > 0 {
		if len(chunks) > maxFragmentNumber {
			return nil, fmt.Errorf("tunnel: message requires more than %d fragments", maxFragmentNumber+1)
		}
		chunk := remaining
		if len(chunk) > followCap {
			chunk = remaining[:followCap]
		}
		chunks = append(chunks, chunk)
		remaining = remaining[len(chunk):]
	}

	messages := make([]*DataMessage, len(chunks))
	for i, chunk := range chunks {
		var raw []byte
		var err error
		if i == 0 {
			raw, err = encodeFirst(delivery, toTunnel, toHash, len(chunks) > 1, messageID, chunk)
		} else {
			raw, err = encodeFollowOn(i, i == len(chunks)-1, messageID, chunk)
		}
		if err != nil {
			return nil, err
		}

		var ivSeed [16]byte
		if _, err := rand.Read(ivSeed[:]); err != nil {
			return nil, fmt.Errorf("tunnel: generating tunnel-data iv seed: %w", err)
		}
		endpointIV, err := ComputeEndpointIV(ivSeed, hops)
		if err != nil {
			return nil, err
		}
		sum := crypto.SHA256(append(append([]byte(nil), endpointIV...), raw...))

		var body [DataBodySize]byte
		copy(body[0:4], sum[:4])
		padLen := DataBodySize - 4 - 1 - len(raw)
		if padLen < 0 {
			return nil, fmt.Errorf("tunnel: fragment %d does not fit in tunnel-data body", i)
		}
		if padLen > 0 {
			if _, err := rand.Read(body[4 : 4+padLen]); err != nil {
				return nil, err
			}
			for j := 4; j < 4+padLen; j++ {
				if body[j] == 0 {
					body[j] = 1
				}
			}
		}
		body[4+padLen] = 0x00
		copy(body[4+padLen+1:], raw)

		var full [DataPayloadSize]byte
		copy(full[16:], body[:])
		if err := LayerForChain(&full, ivSeed, hops); err != nil {
			return nil, err
		}
		messages[i] = &DataMessage{TunnelID: recvTunnelID, Payload: full}
	}
	return messages, nil
}
