package crypto

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"testing"
)

func generateTestRSAKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, 2048)
}

func TestElGamalRoundTrip(t *testing.T) {
	pub, priv, err := GenerateElGamalKeyPair()
	if err != nil {
		t.Fatalf("GenerateElGamalKeyPair: %v", err)
	}

	msg := bytes.Repeat([]byte{0x42}, ElGamalBlockSize)
	enc, err := ElGamalEncrypt(pub, msg)
	if err != nil {
		t.Fatalf("ElGamalEncrypt: %v", err)
	}
	if len(enc) != ElGamalEncryptedSize {
		t.Fatalf("encrypted size = %d, want %d", len(enc), ElGamalEncryptedSize)
	}

	dec, err := ElGamalDecrypt(priv, enc)
	if err != nil {
		t.Fatalf("ElGamalDecrypt: %v", err)
	}
	if !bytes.Equal(dec, msg) {
		t.Fatalf("round trip mismatch")
	}
}

func TestElGamalRejectsWrongBlockSize(t *testing.T) {
	pub, _, err := GenerateElGamalKeyPair()
	if err != nil {
		t.Fatalf("GenerateElGamalKeyPair: %v", err)
	}
	if _, err := ElGamalEncrypt(pub, []byte("too short")); err == nil {
		t.Fatal("expected error for undersized plaintext")
	}
}

func TestElGamalDecryptDetectsCorruption(t *testing.T) {
	pub, priv, err := GenerateElGamalKeyPair()
	if err != nil {
		t.Fatalf("GenerateElGamalKeyPair: %v", err)
	}
	msg := bytes.Repeat([]byte{0x7a}, ElGamalBlockSize)
	enc, err := ElGamalEncrypt(pub, msg)
	if err != nil {
		t.Fatalf("ElGamalEncrypt: %v", err)
	}
	enc[0] ^= 0xff
	if _, err := ElGamalDecrypt(priv, enc); err == nil {
		t.Fatal("expected decrypt to reject a corrupted ciphertext")
	}
}

func TestAESCBCRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 32)
	iv := bytes.Repeat([]byte{0x22}, AESBlockSize)
	plaintext := bytes.Repeat([]byte{0x33}, 1024)

	ct, err := AESCBCEncrypt(key, iv, plaintext)
	if err != nil {
		t.Fatalf("AESCBCEncrypt: %v", err)
	}
	pt, err := AESCBCDecrypt(key, iv, ct)
	if err != nil {
		t.Fatalf("AESCBCDecrypt: %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Fatal("round trip mismatch")
	}
}

func TestAESECBBlockRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x44}, 32)
	block := bytes.Repeat([]byte{0x55}, AESBlockSize)

	ct, err := AESECBEncryptBlock(key, block)
	if err != nil {
		t.Fatalf("AESECBEncryptBlock: %v", err)
	}
	pt, err := AESECBDecryptBlock(key, ct)
	if err != nil {
		t.Fatalf("AESECBDecryptBlock: %v", err)
	}
	if !bytes.Equal(pt, block) {
		t.Fatal("round trip mismatch")
	}
}

func TestBase32RoundTrip(t *testing.T) {
	data := []byte("i2p tunnel build record payload")
	enc := Base32Encode(data)
	dec, err := Base32Decode(enc)
	if err != nil {
		t.Fatalf("Base32Decode: %v", err)
	}
	if !bytes.Equal(dec, data) {
		t.Fatal("round trip mismatch")
	}
}

func TestBase64RoundTrip(t *testing.T) {
	data := []byte{0x00, 0xff, 0x10, 0xab, 0x7e}
	enc := Base64Encode(data)
	for _, r := range enc {
		if r == '+' || r == '/' {
			t.Fatalf("base64 output %q used a standard-alphabet character", enc)
		}
	}
	dec, err := Base64Decode(enc)
	if err != nil {
		t.Fatalf("Base64Decode: %v", err)
	}
	if !bytes.Equal(dec, data) {
		t.Fatal("round trip mismatch")
	}
}

func TestGzipRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("routerinfo"), 50)
	deflated, err := GzipDeflate(data)
	if err != nil {
		t.Fatalf("GzipDeflate: %v", err)
	}
	inflated, err := GzipInflate(deflated)
	if err != nil {
		t.Fatalf("GzipInflate: %v", err)
	}
	if !bytes.Equal(inflated, data) {
		t.Fatal("round trip mismatch")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	msg := []byte("NetDB lookup reply over a 3-hop outbound tunnel")

	types := []SigType{
		SigTypeDSASHA1,
		SigTypeECDSASHA256P256,
		SigTypeECDSASHA384P384,
		SigTypeECDSASHA512P521,
		SigTypeEdDSASHA512Ed25519,
	}
	for _, typ := range types {
		typ := typ
		t.Run(typ.String(), func(t *testing.T) {
			kp, err := GenerateSigningKeyPair(typ)
			if err != nil {
				t.Fatalf("GenerateSigningKeyPair(%s): %v", typ, err)
			}
			if len(kp.PublicKey) != typ.PublicKeySize() {
				t.Fatalf("public key size = %d, want %d", len(kp.PublicKey), typ.PublicKeySize())
			}
			sig, err := Sign(typ, kp.PrivateKey, msg)
			if err != nil {
				t.Fatalf("Sign(%s): %v", typ, err)
			}
			if len(sig) != typ.SignatureSize() {
				t.Fatalf("signature size = %d, want %d", len(sig), typ.SignatureSize())
			}
			ok, err := Verify(typ, kp.PublicKey, msg, sig)
			if err != nil {
				t.Fatalf("Verify(%s): %v", typ, err)
			}
			if !ok {
				t.Fatalf("Verify(%s) rejected a genuine signature", typ)
			}

			tampered := append([]byte(nil), msg...)
			tampered[0] ^= 0xff
			ok, err = Verify(typ, kp.PublicKey, tampered, sig)
			if err != nil {
				t.Fatalf("Verify(%s) on tampered message: %v", typ, err)
			}
			if ok {
				t.Fatalf("Verify(%s) accepted a signature over a different message", typ)
			}
		})
	}
}

func TestRSASignVerifyRoundTrip(t *testing.T) {
	msg := []byte("DatabaseStore RouterInfo payload")
	for _, typ := range []SigType{SigTypeRSASHA256, SigTypeRSASHA384, SigTypeRSASHA512} {
		typ := typ
		t.Run(typ.String(), func(t *testing.T) {
			priv, err := generateTestRSAKey()
			if err != nil {
				t.Fatalf("generateTestRSAKey: %v", err)
			}
			sig, err := SignRSA(typ, priv, msg)
			if err != nil {
				t.Fatalf("SignRSA(%s): %v", typ, err)
			}
			pub := make([]byte, typ.PublicKeySize())
			putBigInt(pub, priv.N)
			ok, err := Verify(typ, pub, msg, sig)
			if err != nil {
				t.Fatalf("Verify(%s): %v", typ, err)
			}
			if !ok {
				t.Fatalf("Verify(%s) rejected a genuine RSA signature", typ)
			}
		})
	}
}
