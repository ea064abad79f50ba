package tunnel

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-i2p/i2pcore/internal/crypto"
	"github.com/go-i2p/i2pcore/internal/identity"
)

// RecordSize is one build record on the wire: a 16-byte to-peer-hash-prefix
// plus a 512-byte ElGamal-encrypted clear-text (spec.md §4.G).
const RecordSize = 16 + crypto.ElGamalEncryptedSize

// clearTextSize is the plaintext a build record's ElGamal block carries,
// matching crypto.ElGamalBlockSize exactly: 4 (recv-tunnel) + 32 (our-ident)
// + 4 (next-tunnel) + 32 (next-ident) + 32 (layer-key) + 32 (iv-key) + 32
// (reply-key) + 16 (reply-iv) + 1 (flag) + 4 (request-time-hours) + 4
// (next-msg-id) + 29 (padding) = 222.
const clearTextSize = crypto.ElGamalBlockSize

const (
	flagGateway uint8 = 1 << 7
	flagEndpoint uint8 = 1 << 6
)

// MaxHops is the largest number of records a VariableTunnelBuild may carry
// (spec.md §4.G: "n ∈ [1, 8]").
const MaxHops = 8

// HopPlan is the builder-side description of one hop in a tunnel under
// construction, supplying everything needed to produce that hop's build
// record cleartext.
type HopPlan struct {
	Peer             identity.IdentHash
	PeerEncKey       crypto.ElGamalPublicKey
	RecvTunnelID     TunnelID
	NextTunnelID     TunnelID
	NextIdent        identity.IdentHash
	LayerKey         [32]byte
	IVKey            [32]byte
	ReplyKey         [32]byte
	ReplyIV          [16]byte
	Gateway          bool
	Endpoint         bool
	RequestTimeHours uint32
	NextMsgID        uint32
}

func (h HopPlan) flag() uint8 {
	var f uint8
	if h.Gateway {
		f |= flagGateway
	}
	if h.Endpoint {
		f |= flagEndpoint
	}
	return f
}

// buildCleartext serializes the 222-byte cleartext block for h.
func (h HopPlan) buildCleartext() ([]byte, error) {
	out := make([]byte, clearTextSize)
	i := 0
	binary.BigEndian.PutUint32(out[i:], uint32(h.RecvTunnelID))
	i += 4
	copy(out[i:], h.Peer.Bytes())
	i += 32
	binary.BigEndian.PutUint32(out[i:], uint32(h.NextTunnelID))
	i += 4
	copy(out[i:], h.NextIdent.Bytes())
	i += 32
	copy(out[i:], h.LayerKey[:])
	i += 32
	copy(out[i:], h.IVKey[:])
	i += 32
	copy(out[i:], h.ReplyKey[:])
	i += 32
	copy(out[i:], h.ReplyIV[:])
	i += 16
	out[i] = h.flag()
	i++
	binary.BigEndian.PutUint32(out[i:], h.RequestTimeHours)
	i += 4
	binary.BigEndian.PutUint32(out[i:], h.NextMsgID)
	i += 4
	if _, err := rand.Read(out[i:]); err != nil {
		return nil, err
	}
	return out, nil
}

// buildRecordFields is the parsed cleartext of a build record, read by the
// hop it addresses.
type buildRecordFields struct {
	RecvTunnelID     TunnelID
	OurIdent         identity.IdentHash
	NextTunnelID     TunnelID
	NextIdent        identity.IdentHash
	LayerKey         [32]byte
	IVKey            [32]byte
	ReplyKey         [32]byte
	ReplyIV          [16]byte
	Gateway          bool
	Endpoint         bool
	RequestTimeHours uint32
	NextMsgID        uint32
}

func parseBuildRecordFields(data []byte) (buildRecordFields, error) {
	var f buildRecordFields
	if len(data) != clearTextSize {
		return f, fmt.Errorf("tunnel: build record cleartext must be %d bytes, got %d", clearTextSize, len(data))
	}
	i := 0
	f.RecvTunnelID = TunnelID(binary.BigEndian.Uint32(data[i:]))
	i += 4
	ourIdent, err := identity.IdentHashFromBytes(data[i : i+32])
	if err != nil {
		return f, err
	}
	f.OurIdent = ourIdent
	i += 32
	f.NextTunnelID = TunnelID(binary.BigEndian.Uint32(data[i:]))
	i += 4
	nextIdent, err := identity.IdentHashFromBytes(data[i : i+32])
	if err != nil {
		return f, err
	}
	f.NextIdent = nextIdent
	i += 32
	copy(f.LayerKey[:], data[i:i+32])
	i += 32
	copy(f.IVKey[:], data[i:i+32])
	i += 32
	copy(f.ReplyKey[:], data[i:i+32])
	i += 32
	copy(f.ReplyIV[:], data[i:i+16])
	i += 16
	flag := data[i]
	f.Gateway = flag&flagGateway != 0
	f.Endpoint = flag&flagEndpoint != 0
	i++
	f.RequestTimeHours = binary.BigEndian.Uint32(data[i:])
	i += 4
	f.NextMsgID = binary.BigEndian.Uint32(data[i:])
	return f, nil
}

// BuildRecord is one 528-byte slot of a VariableTunnelBuild message.
type BuildRecord struct {
	PeerHashPrefix [16]byte
	Body           [crypto.ElGamalEncryptedSize]byte
}

// Marshal encodes r to its 528-byte wire form.
func (r *BuildRecord) Marshal() []byte {
	out := make([]byte, RecordSize)
	copy(out[:16], r.PeerHashPrefix[:])
	copy(out[16:], r.Body[:])
	return out
}

// parseBuildRecord decodes one 528-byte record.
func parseBuildRecord(data []byte) (BuildRecord, error) {
	var r BuildRecord
	if len(data) != RecordSize {
		return r, fmt.Errorf("tunnel: build record must be %d bytes, got %d", RecordSize, len(data))
	}
	copy(r.PeerHashPrefix[:], data[:16])
	copy(r.Body[:], data[16:])
	return r, nil
}

// VariableTunnelBuild is the build message carrying 1-8 records (spec.md
// §4.G). The slice is kept in hop (chain) order internally; wire order is
// randomized only at Marshal time, matching "the record order in the wire
// message is randomized (record-index per hop is stored locally)".
type VariableTunnelBuild struct {
	Records []BuildRecord
}

var (
	// ErrTooFewHops is returned when a build is attempted with zero hops.
	ErrTooFewHops = errors.New("tunnel: build requires at least one hop")
	// ErrTooManyHops is returned when a build exceeds MaxHops.
	ErrTooManyHops = errors.New("tunnel: build exceeds the maximum hop count")
)

// Marshal encodes the message as { u8 count, count*528-byte record } with
// the record order permuted by perm (a permutation of [0,len) mapping wire
// position -> chain index; pass nil for identity order).
func (m *VariableTunnelBuild) Marshal(perm []int) ([]byte, error) {
	n := len(m.Records)
	if n == 0 {
		return nil, ErrTooFewHops
	}
	if n > MaxHops {
		return nil, ErrTooManyHops
	}
	out := make([]byte, 1+n*RecordSize)
	out[0] = byte(n)
	for wire := 0; wire < n; wire++ {
		chainIdx := wire
		if perm != nil {
			chainIdx = perm[wire]
		}
		copy(out[1+wire*RecordSize:], m.Records[chainIdx].Marshal())
	}
	return out, nil
}

// ParseVariableTunnelBuild decodes a VariableTunnelBuild message. The
// returned Records preserve wire order; callers that need chain order must
// match records by PeerHashPrefix against their own hop plan.
func ParseVariableTunnelBuild(data []byte) (*VariableTunnelBuild, error) {
	if len(data) < 1 {
		return nil, errors.New("tunnel: empty variable tunnel build message")
	}
	n := int(data[0])
	if n < 1 || n > MaxHops {
		return nil, ErrTooManyHops
	}
	if len(data) != 1+n*RecordSize {
		return nil, fmt.Errorf("tunnel: variable tunnel build declares %d records but buffer is %d bytes", n, len(data))
	}
	m := &VariableTunnelBuild{Records: make([]BuildRecord, n)}
	for i := 0; i < n; i++ {
		rec, err := parseBuildRecord(data[1+i*RecordSize : 1+(i+1)*RecordSize])
		if err != nil {
			return nil, err
		}
		m.Records[i] = rec
	}
	return m, nil
}

// randomPermutation returns a Fisher-Yates shuffle of [0,n) using
// crypto/rand, matching onion-routing's preference for unpredictable wire
// ordering over the deterministic math/rand used elsewhere for non-security
// bookkeeping (e.g. the fixed ElGamal modulus derivation).
func randomPermutation(n int) ([]int, error) {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	for i := n - 1; i > 0; i-- {
		jBig, err := cryptoRandInt(i + 1)
		if err != nil {
			return nil, err
		}
		perm[i], perm[jBig] = perm[jBig], perm[i]
	}
	return perm, nil
}

func cryptoRandInt(n int) (int, error) {
	if n <= 1 {
		return 0, nil
	}
	const maxUint32 = ^uint32(0)
	limit := maxUint32 - maxUint32%uint32(n)
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, err
		}
		v := binary.BigEndian.Uint32(buf[:])
		if v < limit {
			return int(v % uint32(n)), nil
		}
	}
}

// NewBuildRecords constructs the 528-byte records for hops (in chain order,
// gateway first) and applies the pre-transmission onion cancellation pass:
// "for each hop h from endpoint backward, AES-decrypt every later record
// under (h.reply-key, h.reply-iv)" (spec.md §4.G "Onion semantics").
func NewBuildRecords(hops []HopPlan) (*VariableTunnelBuild, error) {
	n := len(hops)
	if n == 0 {
		return nil, ErrTooFewHops
	}
	if n > MaxHops {
		return nil, ErrTooManyHops
	}

	records := make([]BuildRecord, n)
	for i, h := range hops {
		clear, err := h.buildCleartext()
		if err != nil {
			return nil, err
		}
		enc, err := crypto.ElGamalEncrypt(h.PeerEncKey, clear)
		if err != nil {
			return nil, fmt.Errorf("tunnel: encrypting build record for hop %d: %w", i, err)
		}
		var rec BuildRecord
		copy(rec.PeerHashPrefix[:], h.Peer.Bytes()[:16])
		copy(rec.Body[:], enc)
		records[i] = rec
	}

	for h := n - 1; h >= 0; h-- {
		for j := h + 1; j < n; j++ {
			plain, err := crypto.AESCBCDecrypt(hops[h].ReplyKey[:], hops[h].ReplyIV[:], records[j].Body[:])
			if err != nil {
				return nil, err
			}
			copy(records[j].Body[:], plain)
		}
	}

	return &VariableTunnelBuild{Records: records}, nil
}
