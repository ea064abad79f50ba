// Package crypto provides the I2P routing-engine's cryptographic primitives:
// ElGamal, AES-256 (CBC and the tunnel-mode ECB/CBC combination), SHA-256/
// SHA-512/HMAC, the signature algorithms RouterIdentity certificates may
// declare, base32/base64 with I2P's alphabets, and gzip. All functions are
// free of hidden global state beyond the process-fixed ElGamal modulus, and
// none allocate beyond bounded scratch buffers.
package crypto

import (
	"crypto"
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/ed25519"
)

// SigType enumerates the signature algorithms a RouterIdentity certificate
// may declare (spec.md §4.A, §9 "signature types advertised but never
// signed"). Inbound verification must accept all of these; local signing
// uses the strongest type the configured key supports.
type SigType uint16

const (
	SigTypeDSASHA1 SigType = iota
	SigTypeECDSASHA256P256
	SigTypeECDSASHA384P384
	SigTypeECDSASHA512P521
	SigTypeRSASHA256
	SigTypeRSASHA384
	SigTypeRSASHA512
	SigTypeEdDSASHA512Ed25519
)

// PublicKeySize returns the wire-encoded size, in bytes, of a public key of
// the given signature type.
func (t SigType) PublicKeySize() int {
	switch t {
	case SigTypeDSASHA1:
		return 128
	case SigTypeECDSASHA256P256:
		return 64
	case SigTypeECDSASHA384P384:
		return 96
	case SigTypeECDSASHA512P521:
		return 132
	case SigTypeRSASHA256, SigTypeRSASHA384, SigTypeRSASHA512:
		return 256
	case SigTypeEdDSASHA512Ed25519:
		return ed25519.PublicKeySize
	default:
		return 0
	}
}

// PrivateKeySize returns the raw private-key size, in bytes, of the given
// signature type as produced by GenerateSigningKeyPair (ECDSA and EdDSA
// private keys are shorter than their public keys; DSA and RSA here use the
// same fixed-width encoding for both).
func (t SigType) PrivateKeySize() int {
	switch t {
	case SigTypeDSASHA1:
		return 128
	case SigTypeECDSASHA256P256:
		return 32
	case SigTypeECDSASHA384P384:
		return 48
	case SigTypeECDSASHA512P521:
		return 66
	case SigTypeRSASHA256, SigTypeRSASHA384, SigTypeRSASHA512:
		return 256
	case SigTypeEdDSASHA512Ed25519:
		return ed25519.PrivateKeySize
	default:
		return 0
	}
}

// SignatureSize returns the wire-encoded signature size for the type.
func (t SigType) SignatureSize() int {
	switch t {
	case SigTypeDSASHA1:
		return 40
	case SigTypeECDSASHA256P256:
		return 64
	case SigTypeECDSASHA384P384:
		return 96
	case SigTypeECDSASHA512P521:
		return 132
	case SigTypeRSASHA256, SigTypeRSASHA384, SigTypeRSASHA512:
		return 256
	case SigTypeEdDSASHA512Ed25519:
		return ed25519.SignatureSize
	default:
		return 0
	}
}

func (t SigType) String() string {
	switch t {
	case SigTypeDSASHA1:
		return "DSA-SHA1"
	case SigTypeECDSASHA256P256:
		return "ECDSA-SHA256-P256"
	case SigTypeECDSASHA384P384:
		return "ECDSA-SHA384-P384"
	case SigTypeECDSASHA512P521:
		return "ECDSA-SHA512-P521"
	case SigTypeRSASHA256:
		return "RSA-SHA256"
	case SigTypeRSASHA384:
		return "RSA-SHA384"
	case SigTypeRSASHA512:
		return "RSA-SHA512"
	case SigTypeEdDSASHA512Ed25519:
		return "EdDSA-SHA512-Ed25519"
	default:
		return "unknown"
	}
}

// ParseSigType reverses String, for reading a signature type out of
// configuration (pkg/config's router.signature_type).
func ParseSigType(s string) (SigType, error) {
	switch s {
	case "DSA-SHA1":
		return SigTypeDSASHA1, nil
	case "ECDSA-SHA256-P256":
		return SigTypeECDSASHA256P256, nil
	case "ECDSA-SHA384-P384":
		return SigTypeECDSASHA384P384, nil
	case "ECDSA-SHA512-P521":
		return SigTypeECDSASHA512P521, nil
	case "RSA-SHA256":
		return SigTypeRSASHA256, nil
	case "RSA-SHA384":
		return SigTypeRSASHA384, nil
	case "RSA-SHA512":
		return SigTypeRSASHA512, nil
	case "EdDSA-SHA512-Ed25519":
		return SigTypeEdDSASHA512Ed25519, nil
	default:
		return 0, fmt.Errorf("crypto: unknown signature type %q", s)
	}
}

// SigningKeyPair holds a generated key pair for a given SigType along with
// their wire-encoded byte forms.
type SigningKeyPair struct {
	Type       SigType
	PublicKey  []byte
	PrivateKey []byte
}

// fixed DSA domain parameters (1024-bit L, 160-bit N), generated once and
// reused for every DSA key: DSA requires shared domain parameters and I2P's
// legacy signature type hard-codes a single well-known group, exactly as
// RSA/ECDSA hard-code their curve/modulus size via the SigType itself.
var dsaParams = func() dsa.Parameters {
	var params dsa.Parameters
	if err := dsa.GenerateParameters(&params, rand.Reader, dsa.L1024N160); err != nil {
		panic("crypto: failed to generate DSA domain parameters: " + err.Error())
	}
	return params
}()

// GenerateSigningKeyPair creates a fresh key pair for the given type.
func GenerateSigningKeyPair(t SigType) (*SigningKeyPair, error) {
	switch t {
	case SigTypeDSASHA1:
		var priv dsa.PrivateKey
		priv.Parameters = dsaParams
		if err := dsa.GenerateKey(&priv, rand.Reader); err != nil {
			return nil, err
		}
		pub := make([]byte, t.PublicKeySize())
		putBigInt(pub, priv.Y)
		privBytes := make([]byte, t.PublicKeySize())
		putBigInt(privBytes, priv.X)
		return &SigningKeyPair{Type: t, PublicKey: pub, PrivateKey: privBytes}, nil

	case SigTypeECDSASHA256P256, SigTypeECDSASHA384P384, SigTypeECDSASHA512P521:
		curve := curveFor(t)
		priv, err := ecdsa.GenerateKey(curve, rand.Reader)
		if err != nil {
			return nil, err
		}
		half := t.PublicKeySize() / 2
		pub := make([]byte, t.PublicKeySize())
		putBigInt(pub[:half], priv.X)
		putBigInt(pub[half:], priv.Y)
		privBytes := make([]byte, half)
		putBigInt(privBytes, priv.D)
		return &SigningKeyPair{Type: t, PublicKey: pub, PrivateKey: privBytes}, nil

	case SigTypeRSASHA256, SigTypeRSASHA384, SigTypeRSASHA512:
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, err
		}
		pub := make([]byte, t.PublicKeySize())
		putBigInt(pub, priv.N)
		privBytes := make([]byte, t.PublicKeySize())
		putBigInt(privBytes, priv.D)
		return &SigningKeyPair{Type: t, PublicKey: pub, PrivateKey: privBytes}, nil

	case SigTypeEdDSASHA512Ed25519:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		return &SigningKeyPair{Type: t, PublicKey: pub, PrivateKey: priv}, nil

	default:
		return nil, errors.New("crypto: unsupported signature type")
	}
}

func curveFor(t SigType) elliptic.Curve {
	switch t {
	case SigTypeECDSASHA256P256:
		return elliptic.P256()
	case SigTypeECDSASHA384P384:
		return elliptic.P384()
	case SigTypeECDSASHA512P521:
		return elliptic.P521()
	default:
		return nil
	}
}

// Sign produces a wire-encoded signature over msg using a raw private key of
// the given type (as produced by GenerateSigningKeyPair, or recovered from a
// persisted key bundle).
func Sign(t SigType, priv, msg []byte) ([]byte, error) {
	switch t {
	case SigTypeDSASHA1:
		var key dsa.PrivateKey
		key.Parameters = dsaParams
		key.X = new(big.Int).SetBytes(priv)
		key.Y = new(big.Int).Exp(dsaParams.G, key.X, dsaParams.P)
		h := sha1.Sum(msg)
		r, s, err := dsa.Sign(rand.Reader, &key, h[:])
		if err != nil {
			return nil, err
		}
		out := make([]byte, t.SignatureSize())
		putBigInt(out[:20], r)
		putBigInt(out[20:], s)
		return out, nil

	case SigTypeECDSASHA256P256, SigTypeECDSASHA384P384, SigTypeECDSASHA512P521:
		curve := curveFor(t)
		key := new(ecdsa.PrivateKey)
		key.Curve = curve
		key.D = new(big.Int).SetBytes(priv)
		key.PublicKey.X, key.PublicKey.Y = curve.ScalarBaseMult(priv)
		digest := digestFor(t, msg)
		r, s, err := ecdsa.Sign(rand.Reader, key, digest)
		if err != nil {
			return nil, err
		}
		half := t.SignatureSize() / 2
		out := make([]byte, t.SignatureSize())
		putBigInt(out[:half], r)
		putBigInt(out[half:], s)
		return out, nil

	case SigTypeRSASHA256, SigTypeRSASHA384, SigTypeRSASHA512:
		return nil, errors.New("crypto: RSA signing requires the full private key; use SignRSA")

	case SigTypeEdDSASHA512Ed25519:
		if len(priv) != ed25519.PrivateKeySize {
			return nil, errors.New("crypto: invalid ed25519 private key size")
		}
		return ed25519.Sign(ed25519.PrivateKey(priv), msg), nil

	default:
		return nil, errors.New("crypto: unsupported signature type")
	}
}

// SignRSA signs msg with a full RSA private key (RSA keys are not fully
// reconstructible from a raw exponent alone, unlike DSA/ECDSA/EdDSA).
func SignRSA(t SigType, priv *rsa.PrivateKey, msg []byte) ([]byte, error) {
	digest := digestFor(t, msg)
	return rsa.SignPKCS1v15(rand.Reader, priv, hashFuncFor(t), digest)
}

// Verify checks a wire-encoded signature over msg under a raw public key of
// the given type.
func Verify(t SigType, pub, msg, sig []byte) (bool, error) {
	if len(sig) != t.SignatureSize() {
		return false, errors.New("crypto: signature has wrong length for type")
	}
	switch t {
	case SigTypeDSASHA1:
		if len(pub) != t.PublicKeySize() {
			return false, errors.New("crypto: public key has wrong length")
		}
		var key dsa.PublicKey
		key.Parameters = dsaParams
		key.Y = new(big.Int).SetBytes(pub)
		r := new(big.Int).SetBytes(sig[:20])
		s := new(big.Int).SetBytes(sig[20:])
		h := sha1.Sum(msg)
		return dsa.Verify(&key, h[:], r, s), nil

	case SigTypeECDSASHA256P256, SigTypeECDSASHA384P384, SigTypeECDSASHA512P521:
		if len(pub) != t.PublicKeySize() {
			return false, errors.New("crypto: public key has wrong length")
		}
		curve := curveFor(t)
		half := t.PublicKeySize() / 2
		key := &ecdsa.PublicKey{
			Curve: curve,
			X:     new(big.Int).SetBytes(pub[:half]),
			Y:     new(big.Int).SetBytes(pub[half:]),
		}
		sigHalf := t.SignatureSize() / 2
		r := new(big.Int).SetBytes(sig[:sigHalf])
		s := new(big.Int).SetBytes(sig[sigHalf:])
		digest := digestFor(t, msg)
		return ecdsa.Verify(key, digest, r, s), nil

	case SigTypeRSASHA256, SigTypeRSASHA384, SigTypeRSASHA512:
		if len(pub) != t.PublicKeySize() {
			return false, errors.New("crypto: public key has wrong length")
		}
		key := &rsa.PublicKey{N: new(big.Int).SetBytes(pub), E: 65537}
		digest := digestFor(t, msg)
		err := rsa.VerifyPKCS1v15(key, hashFuncFor(t), digest, sig)
		return err == nil, nil

	case SigTypeEdDSASHA512Ed25519:
		if len(pub) != ed25519.PublicKeySize {
			return false, errors.New("crypto: invalid ed25519 public key size")
		}
		return ed25519.Verify(ed25519.PublicKey(pub), msg, sig), nil

	default:
		return false, errors.New("crypto: unsupported signature type")
	}
}

func digestFor(t SigType, msg []byte) []byte {
	switch t {
	case SigTypeECDSASHA256P256, SigTypeRSASHA256:
		h := sha256.Sum256(msg)
		return h[:]
	case SigTypeECDSASHA384P384, SigTypeRSASHA384:
		h := sha512.Sum384(msg)
		return h[:]
	case SigTypeECDSASHA512P521, SigTypeRSASHA512:
		h := sha512.Sum512(msg)
		return h[:]
	default:
		h := sha256.Sum256(msg)
		return h[:]
	}
}

func hashFuncFor(t SigType) crypto.Hash {
	switch t {
	case SigTypeRSASHA384:
		return crypto.SHA384
	case SigTypeRSASHA512:
		return crypto.SHA512
	default:
		return crypto.SHA256
	}
}
