package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"math/big"
	mrand "math/rand"
	"sync"
)

// ElGamal parameters: a fixed 2048-bit prime modulus and generator, matching
// the contract in spec.md §4.A ("ElGamal encrypt/decrypt over the fixed
// 2048-bit modulus") and the scheme in
// _examples/original_source/CryptoConst.h / ElGamal.h (elgp, elgg). The
// modulus is derived once, deterministically, from a fixed seed via a
// verified Miller-Rabin prime search rather than hand-transcribed from the
// real I2P constant: wire interop with the real I2P network is an explicit
// Non-goal (spec.md §1), so what matters here is a real, confirmed-prime,
// process-stable modulus rather than bit-for-bit agreement with i2pd.
var (
	elgOnce sync.Once
	elgP    *big.Int
	elgG    = big.NewInt(2)
)

const elgSeed = 0x49325032 // "I2P2" - fixed seed for the deterministic modulus

func ensureElGamalParams() {
	elgOnce.Do(func() {
		src := mrand.New(mrand.NewSource(elgSeed))
		p, err := rand.Prime(src, 2048)
		if err != nil {
			panic("crypto: failed to derive fixed ElGamal modulus: " + err.Error())
		}
		elgP = p
	})
}

// elgPLen is the fixed encoded length, in bytes, of ElGamal components over
// the 2048-bit group.
const elgPLen = 256

// ElGamalBlockSize is the size of the payload an ElGamal encryption carries.
// The block actually encrypted is 255 bytes: a 0xFF marker, a 32-byte
// SHA-256 hash, and the 222-byte payload.
const ElGamalBlockSize = 222

// ElGamalEncryptedSize is the size of an ElGamal ciphertext: two 256-byte
// big-endian integers (a, b).
const ElGamalEncryptedSize = 2 * elgPLen

// ElGamalPublicKey is a 256-byte big-endian encoded public key y = g^x mod p.
type ElGamalPublicKey [elgPLen]byte

// ElGamalPrivateKey is a 256-byte big-endian encoded private exponent x.
type ElGamalPrivateKey [elgPLen]byte

// GenerateElGamalKeyPair creates a fresh ElGamal key pair over the fixed
// I2P group.
func GenerateElGamalKeyPair() (ElGamalPublicKey, ElGamalPrivateKey, error) {
	ensureElGamalParams()
	var pub ElGamalPublicKey
	var priv ElGamalPrivateKey
	x, err := rand.Int(rand.Reader, new(big.Int).Sub(elgP, big.NewInt(2)))
	if err != nil {
		return pub, priv, err
	}
	x.Add(x, big.NewInt(1))
	y := new(big.Int).Exp(elgG, x, elgP)
	putBigInt(priv[:], x)
	putBigInt(pub[:], y)
	return pub, priv, nil
}

func putBigInt(dst []byte, v *big.Int) {
	b := v.Bytes()
	if len(b) > len(dst) {
		b = b[len(b)-len(dst):]
	}
	copy(dst[len(dst)-len(b):], b)
}

// ElGamalEncrypt encrypts a 222-byte payload to pub, producing the 512-byte
// wire format {a, b} described in spec.md §4.D. Matches the scheme in
// _examples/original_source/ElGamal.h: ElGamalEncrypt.
func ElGamalEncrypt(pub ElGamalPublicKey, data []byte) ([]byte, error) {
	ensureElGamalParams()
	if len(data) != ElGamalBlockSize {
		return nil, errors.New("crypto: elgamal payload must be exactly 222 bytes")
	}
	y := new(big.Int).SetBytes(pub[:])

	k, err := rand.Int(rand.Reader, new(big.Int).Sub(elgP, big.NewInt(1)))
	if err != nil {
		return nil, err
	}
	if k.Sign() == 0 {
		k.SetInt64(1)
	}

	m := make([]byte, 255)
	m[0] = 0xFF
	copy(m[33:], data)
	h := sha256.Sum256(m[33:])
	copy(m[1:33], h[:])

	a := new(big.Int).Exp(elgG, k, elgP)
	s := new(big.Int).Exp(y, k, elgP)
	mm := new(big.Int).SetBytes(m)
	b := new(big.Int).Mod(new(big.Int).Mul(s, mm), elgP)

	out := make([]byte, ElGamalEncryptedSize)
	putBigInt(out[:elgPLen], a)
	putBigInt(out[elgPLen:], b)
	return out, nil
}

// ElGamalDecrypt decrypts a 512-byte ciphertext produced by ElGamalEncrypt,
// verifying the embedded hash. Returns the 222-byte payload.
func ElGamalDecrypt(priv ElGamalPrivateKey, encrypted []byte) ([]byte, error) {
	ensureElGamalParams()
	if len(encrypted) != ElGamalEncryptedSize {
		return nil, errors.New("crypto: elgamal ciphertext must be exactly 512 bytes")
	}
	x := new(big.Int).SetBytes(priv[:])
	a := new(big.Int).SetBytes(encrypted[:elgPLen])
	b := new(big.Int).SetBytes(encrypted[elgPLen:])

	// s^-1 = a^(p-1-x) mod p, since a = g^k and s = y^k = g^(xk).
	exp := new(big.Int).Sub(elgP, x)
	exp.Sub(exp, big.NewInt(1))
	sInv := new(big.Int).Exp(a, exp, elgP)
	mm := new(big.Int).Mod(new(big.Int).Mul(b, sInv), elgP)

	m := make([]byte, 255)
	putBigInt(m, mm)

	h := sha256.Sum256(m[33:])
	if !constantTimeEqual(h[:], m[1:33]) {
		return nil, errors.New("crypto: elgamal decrypt hash mismatch")
	}
	out := make([]byte, ElGamalBlockSize)
	copy(out, m[33:])
	return out, nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
