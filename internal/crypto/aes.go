package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

// AESBlockSize is the AES block size in bytes.
const AESBlockSize = aes.BlockSize

// AESCBCEncrypt encrypts plaintext (which must be a multiple of the AES
// block size) under key/iv using AES-256-CBC.
func AESCBCEncrypt(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(plaintext)%AESBlockSize != 0 {
		return nil, errors.New("crypto: plaintext is not a multiple of the block size")
	}
	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plaintext)
	return out, nil
}

// AESCBCDecrypt decrypts ciphertext (which must be a multiple of the AES
// block size) under key/iv using AES-256-CBC.
func AESCBCDecrypt(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext)%AESBlockSize != 0 {
		return nil, errors.New("crypto: ciphertext is not a multiple of the block size")
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return out, nil
}

// AESECBEncryptBlock encrypts a single 16-byte block under key with no
// chaining. This is the raw block-cipher primitive the I2P tunnel data
// transform (spec.md §4.H) uses to derive per-message IVs: the leading
// 16 bytes of a tunnel-data payload are AES-ECB-encrypted under the hop's
// iv-key both before and after the CBC pass over the remaining 1008 bytes.
func AESECBEncryptBlock(key, block []byte) ([]byte, error) {
	if len(block) != AESBlockSize {
		return nil, errors.New("crypto: block must be exactly 16 bytes")
	}
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, AESBlockSize)
	c.Encrypt(out, block)
	return out, nil
}

// AESECBDecryptBlock is the inverse of AESECBEncryptBlock.
func AESECBDecryptBlock(key, block []byte) ([]byte, error) {
	if len(block) != AESBlockSize {
		return nil, errors.New("crypto: block must be exactly 16 bytes")
	}
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, AESBlockSize)
	c.Decrypt(out, block)
	return out, nil
}

// TunnelEncrypt implements the "tunnel mode" chaining from spec.md §4.A: CBC
// across 16-byte records with the IV for the whole buffer supplied
// explicitly. It is a thin, explicitly-named wrapper over AESCBCEncrypt for
// callers in the tunnel data plane, distinguishing the per-hop layer
// encryption use from generic CBC use elsewhere (e.g. garlic AES blocks).
func TunnelEncrypt(layerKey, iv, payload []byte) ([]byte, error) {
	return AESCBCEncrypt(layerKey, iv, payload)
}

// TunnelDecrypt is the inverse of TunnelEncrypt.
func TunnelDecrypt(layerKey, iv, payload []byte) ([]byte, error) {
	return AESCBCDecrypt(layerKey, iv, payload)
}
