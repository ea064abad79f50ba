package tunnel

import (
	"fmt"

	"github.com/go-i2p/i2pcore/internal/identity"
)

// Participant applies the single-layer re-encrypt a transit middle hop
// performs on every TunnelData message it forwards (spec.md §4.H
// "Participant").
type Participant struct {
	IVKey        []byte
	LayerKey     []byte
	NextTunnelID TunnelID
	NextIdent    identity.IdentHash
}

// Forwarded is the outcome of Participant.Process: a peeled message ready to
// hand to the transport layer addressed at NextIdent.
type Forwarded struct {
	NextIdent identity.IdentHash
	Message   *DataMessage
}

// Process peels this hop's layer from msg and re-addresses it to the next
// hop in the chain.
func (p *Participant) Process(msg *DataMessage) (*Forwarded, error) {
	if _, err := PeelOneLayer(&msg.Payload, p.IVKey, p.LayerKey); err != nil {
		return nil, fmt.Errorf("tunnel: participant peel: %w", err)
	}
	msg.TunnelID = p.NextTunnelID
	return &Forwarded{NextIdent: p.NextIdent, Message: msg}, nil
}

// ParticipantFromHop builds a Participant from an installed TransitHop.
func ParticipantFromHop(h *TransitHop) *Participant {
	return &Participant{
		IVKey:        h.IVKey[:],
		LayerKey:     h.LayerKey[:],
		NextTunnelID: h.NextTunnelID,
		NextIdent:    h.NextIdent,
	}
}
