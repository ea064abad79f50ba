// Package identity implements the router and destination identity model:
// IdentHash keyspace coordinates, RouterIdentity/Destination key bundles,
// RouterInfo peer records and LeaseSet destination records (spec.md §4.B).
//
// Wire-format interoperability with the real I2P network is an explicit
// Non-goal (spec.md §1), so the byte layouts here are a self-consistent,
// documented simplification of i2pd's format rather than a byte-for-byte
// reproduction of it: notably, the certificate is encoded immediately after
// the encryption key rather than at the end of the identity, which lets the
// signing-key length be read directly from the certificate's declared
// signature type instead of from the historical 128-byte-plus-overflow
// scheme real I2P uses.
package identity

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-i2p/i2pcore/internal/crypto"
)

// IdentHash is the 32-byte SHA-256 keyspace coordinate of a serialized
// identity (spec.md GLOSSARY).
type IdentHash [32]byte

// String renders the hash using I2P's base64 alphabet.
func (h IdentHash) String() string {
	return crypto.Base64Encode(h[:])
}

// Bytes returns the hash as a byte slice.
func (h IdentHash) Bytes() []byte {
	return h[:]
}

// IdentHashFromBytes validates and wraps a 32-byte hash.
func IdentHashFromBytes(b []byte) (IdentHash, error) {
	var h IdentHash
	if len(b) != len(h) {
		return h, fmt.Errorf("identity: ident hash must be %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// CertType enumerates the RouterIdentity certificate kinds. Only Null and
// Key are meaningfully distinct here; Hashcash/Hidden/Multiple are accepted
// on the wire (for forward compatibility with stored data) but carry no
// payload semantics in this router.
type CertType uint8

const (
	CertNull CertType = iota
	CertHashcash
	CertHidden
	CertSigned
	CertMultiple
	CertKey
)

// Certificate declares the signature and crypto type of the identity it is
// attached to. A CertKey certificate's payload is the two type codes; all
// other types carry no payload.
type Certificate struct {
	Type       CertType
	SigType    crypto.SigType
	CryptoType uint8
}

// defaultSigType is the signature type implied by a CertNull certificate,
// matching legacy I2P identities that predate the certificate-driven
// signature-type negotiation this router otherwise uses.
const defaultSigType = crypto.SigTypeDSASHA1

// effectiveSigType returns the signature type this certificate implies.
func (c Certificate) effectiveSigType() crypto.SigType {
	if c.Type == CertKey {
		return c.SigType
	}
	return defaultSigType
}

func (c Certificate) serialize() []byte {
	if c.Type != CertKey {
		return []byte{byte(c.Type), 0, 0}
	}
	out := make([]byte, 3+4)
	out[0] = byte(c.Type)
	binary.BigEndian.PutUint16(out[1:3], 4)
	binary.BigEndian.PutUint16(out[3:5], uint16(c.SigType))
	out[5] = c.CryptoType
	out[6] = 0
	return out
}

func parseCertificate(r *bytes.Reader) (Certificate, error) {
	var cert Certificate
	typeByte, err := r.ReadByte()
	if err != nil {
		return cert, fmt.Errorf("identity: truncated certificate type: %w", err)
	}
	cert.Type = CertType(typeByte)

	var length uint16
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return cert, fmt.Errorf("identity: truncated certificate length: %w", err)
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return cert, fmt.Errorf("identity: truncated certificate payload: %w", err)
		}
	}
	if cert.Type == CertKey {
		if length < 3 {
			return cert, errors.New("identity: key certificate payload too short")
		}
		cert.SigType = crypto.SigType(binary.BigEndian.Uint16(payload[0:2]))
		cert.CryptoType = payload[2]
	}
	return cert, nil
}

// RouterIdentity is a public-key bundle shared by RouterInfos and
// destinations (spec.md GLOSSARY: "RouterIdentity").
type RouterIdentity struct {
	EncryptionKey crypto.ElGamalPublicKey
	SigningKey    []byte
	Cert          Certificate
}

// NewRouterIdentity builds an identity from an ElGamal key pair and a
// signing key pair of the given type, tagging it with the matching
// certificate.
func NewRouterIdentity(encPub crypto.ElGamalPublicKey, sigType crypto.SigType, signingPub []byte) (RouterIdentity, error) {
	if len(signingPub) != sigType.PublicKeySize() {
		return RouterIdentity{}, fmt.Errorf("identity: signing key is %d bytes, want %d for %s", len(signingPub), sigType.PublicKeySize(), sigType)
	}
	cert := Certificate{Type: CertNull}
	if sigType != defaultSigType {
		cert = Certificate{Type: CertKey, SigType: sigType}
	}
	return RouterIdentity{EncryptionKey: encPub, SigningKey: append([]byte(nil), signingPub...), Cert: cert}, nil
}

// SigType reports the signature algorithm this identity signs and verifies
// with.
func (id RouterIdentity) SigType() crypto.SigType {
	return id.Cert.effectiveSigType()
}

// Serialize encodes the identity to its canonical byte form, the preimage
// of its IdentHash.
func (id RouterIdentity) Serialize() []byte {
	cert := id.Cert.serialize()
	out := make([]byte, 0, len(id.EncryptionKey)+len(cert)+len(id.SigningKey))
	out = append(out, id.EncryptionKey[:]...)
	out = append(out, cert...)
	out = append(out, id.SigningKey...)
	return out
}

// IdentHash computes the identity's keyspace coordinate.
func (id RouterIdentity) IdentHash() IdentHash {
	return IdentHash(crypto.SHA256(id.Serialize()))
}

// ParseRouterIdentity decodes an identity previously produced by Serialize.
func ParseRouterIdentity(data []byte) (RouterIdentity, int, error) {
	if len(data) < len(crypto.ElGamalPublicKey{}) {
		return RouterIdentity{}, 0, errors.New("identity: truncated encryption key")
	}
	var id RouterIdentity
	copy(id.EncryptionKey[:], data[:len(id.EncryptionKey)])

	r := bytes.NewReader(data[len(id.EncryptionKey):])
	cert, err := parseCertificate(r)
	if err != nil {
		return RouterIdentity{}, 0, err
	}
	id.Cert = cert

	sigType := cert.effectiveSigType()
	signingKey := make([]byte, sigType.PublicKeySize())
	if _, err := io.ReadFull(r, signingKey); err != nil {
		return RouterIdentity{}, 0, fmt.Errorf("identity: truncated signing key: %w", err)
	}
	id.SigningKey = signingKey

	consumed := len(data) - r.Len()
	return id, consumed, nil
}

// Sign produces a signature over msg using the supplied raw private key,
// whose type must match id.SigType().
func (id RouterIdentity) Sign(priv, msg []byte) ([]byte, error) {
	return crypto.Sign(id.SigType(), priv, msg)
}

// Verify checks a signature over msg under this identity's signing key.
func (id RouterIdentity) Verify(msg, sig []byte) (bool, error) {
	return crypto.Verify(id.SigType(), id.SigningKey, msg, sig)
}

// Destination is a RouterIdentity-shaped key bundle identifying a tunnel
// endpoint rather than a router (spec.md GLOSSARY: "LeaseSet").
type Destination = RouterIdentity
