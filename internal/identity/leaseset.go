package identity

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/go-i2p/i2pcore/internal/crypto"
)

// MaxLeases is the upper bound on leases a single LeaseSet may carry
// (spec.md GLOSSARY: "an ordered list of up to 16 current Leases").
const MaxLeases = 16

// Lease is one tunnel-gateway entry point of a destination (spec.md
// GLOSSARY: "Lease").
type Lease struct {
	TunnelGateway IdentHash
	TunnelID      uint32
	EndDate       time.Time
}

func (l Lease) less(other Lease) bool {
	if l.TunnelID != other.TunnelID {
		return l.TunnelID < other.TunnelID
	}
	return bytes.Compare(l.TunnelGateway[:], other.TunnelGateway[:]) < 0
}

// LeaseSet is the network-visible address record of a destination (spec.md
// GLOSSARY: "LeaseSet").
type LeaseSet struct {
	Destination           Destination
	EncryptionKey         crypto.ElGamalPublicKey
	SigningKeyPlaceholder []byte
	Leases                []Lease
	Signature             []byte
}

// NormalizeLeases sorts and deduplicates the lease list in place and rejects
// more than MaxLeases entries (spec.md: "leases are sorted and
// deduplicated").
func (ls *LeaseSet) NormalizeLeases() error {
	sort.Slice(ls.Leases, func(i, j int) bool { return ls.Leases[i].less(ls.Leases[j]) })
	deduped := ls.Leases[:0]
	for i, lease := range ls.Leases {
		if i > 0 && lease.TunnelID == ls.Leases[i-1].TunnelID && lease.TunnelGateway == ls.Leases[i-1].TunnelGateway {
			continue
		}
		deduped = append(deduped, lease)
	}
	ls.Leases = deduped
	if len(ls.Leases) > MaxLeases {
		return fmt.Errorf("identity: lease set has %d leases, max is %d", len(ls.Leases), MaxLeases)
	}
	return nil
}

// IsValid reports whether at least one lease has not yet expired (spec.md
// §7 invariant 2 / §9: "A LeaseSet with zero unexpired leases is reported as
// not-ready").
func (ls *LeaseSet) IsValid(now time.Time) bool {
	for _, lease := range ls.Leases {
		if lease.EndDate.After(now) {
			return true
		}
	}
	return false
}

// IdentHash is the destination key this LeaseSet is stored and looked up
// under.
func (ls *LeaseSet) IdentHash() IdentHash {
	return ls.Destination.IdentHash()
}

// SerializeUnsigned encodes every field but the trailing signature.
func (ls *LeaseSet) SerializeUnsigned() []byte {
	var buf bytes.Buffer
	buf.Write(ls.Destination.Serialize())
	buf.Write(ls.EncryptionKey[:])

	var placeholderLen [2]byte
	binary.BigEndian.PutUint16(placeholderLen[:], uint16(len(ls.SigningKeyPlaceholder)))
	buf.Write(placeholderLen[:])
	buf.Write(ls.SigningKeyPlaceholder)

	buf.WriteByte(byte(len(ls.Leases)))
	for _, lease := range ls.Leases {
		buf.Write(lease.TunnelGateway[:])
		var idBuf [4]byte
		binary.BigEndian.PutUint32(idBuf[:], lease.TunnelID)
		buf.Write(idBuf[:])
		var endBuf [8]byte
		binary.BigEndian.PutUint64(endBuf[:], uint64(lease.EndDate.UnixMilli()))
		buf.Write(endBuf[:])
	}
	return buf.Bytes()
}

// Serialize encodes the full LeaseSet, including its signature.
func (ls *LeaseSet) Serialize() []byte {
	unsigned := ls.SerializeUnsigned()
	out := make([]byte, 0, len(unsigned)+len(ls.Signature))
	out = append(out, unsigned...)
	out = append(out, ls.Signature...)
	return out
}

// Sign computes and stores the signature over the unsigned form, using the
// destination identity's declared signature type (spec.md: "LeaseSet
// publish ... signed by the destination key").
func (ls *LeaseSet) Sign(priv []byte) error {
	sig, err := ls.Destination.Sign(priv, ls.SerializeUnsigned())
	if err != nil {
		return err
	}
	ls.Signature = sig
	return nil
}

// Verify checks the signature under the destination identity's signing key.
func (ls *LeaseSet) Verify() (bool, error) {
	return ls.Destination.Verify(ls.SerializeUnsigned(), ls.Signature)
}

// ParseLeaseSet decodes a LeaseSet previously produced by Serialize.
func ParseLeaseSet(data []byte) (*LeaseSet, error) {
	dest, consumed, err := ParseRouterIdentity(data)
	if err != nil {
		return nil, fmt.Errorf("identity: parsing destination: %w", err)
	}
	r := bytes.NewReader(data[consumed:])

	var encKey crypto.ElGamalPublicKey
	encKeyBuf := make([]byte, len(encKey))
	if _, err := io.ReadFull(r, encKeyBuf); err != nil {
		return nil, fmt.Errorf("identity: truncated lease set encryption key: %w", err)
	}
	copy(encKey[:], encKeyBuf)

	var placeholderLen uint16
	if err := binary.Read(r, binary.BigEndian, &placeholderLen); err != nil {
		return nil, fmt.Errorf("identity: truncated placeholder length: %w", err)
	}
	placeholder := make([]byte, placeholderLen)
	if placeholderLen > 0 {
		if _, err := io.ReadFull(r, placeholder); err != nil {
			return nil, fmt.Errorf("identity: truncated signing key placeholder: %w", err)
		}
	}

	leaseCount, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("identity: truncated lease count: %w", err)
	}
	if int(leaseCount) > MaxLeases {
		return nil, fmt.Errorf("identity: lease set declares %d leases, max is %d", leaseCount, MaxLeases)
	}
	leases := make([]Lease, 0, leaseCount)
	for i := 0; i < int(leaseCount); i++ {
		var lease Lease
		hashBuf := make([]byte, 32)
		if _, err := io.ReadFull(r, hashBuf); err != nil {
			return nil, fmt.Errorf("identity: truncated lease gateway: %w", err)
		}
		copy(lease.TunnelGateway[:], hashBuf)
		if err := binary.Read(r, binary.BigEndian, &lease.TunnelID); err != nil {
			return nil, fmt.Errorf("identity: truncated lease tunnel id: %w", err)
		}
		var endMillis uint64
		if err := binary.Read(r, binary.BigEndian, &endMillis); err != nil {
			return nil, fmt.Errorf("identity: truncated lease end date: %w", err)
		}
		lease.EndDate = time.UnixMilli(int64(endMillis)).UTC()
		leases = append(leases, lease)
	}

	sigType := dest.SigType()
	sig := make([]byte, sigType.SignatureSize())
	if _, err := io.ReadFull(r, sig); err != nil {
		return nil, fmt.Errorf("identity: truncated lease set signature: %w", err)
	}
	if r.Len() != 0 {
		return nil, errors.New("identity: trailing bytes after lease set")
	}

	return &LeaseSet{
		Destination:           dest,
		EncryptionKey:         encKey,
		SigningKeyPlaceholder: placeholder,
		Leases:                leases,
		Signature:             sig,
	}, nil
}
