package crypto

import "encoding/base32"
import "encoding/base64"

// i2pBase32Alphabet is RFC 4648 base32 with I2P's lowercase alphabet, used
// for .b32.i2p style addresses.
const i2pBase32Alphabet = "abcdefghijklmnopqrstuvwxyz234567"

// i2pBase64Alphabet is standard base64 with "-~" substituted for "+/", the
// alphabet I2P uses so encoded values are filesystem- and URL-safe.
const i2pBase64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-~"

var (
	base32Encoding = base32.NewEncoding(i2pBase32Alphabet).WithPadding(base32.NoPadding)
	base64Encoding = base64.NewEncoding(i2pBase64Alphabet)
)

// Base32Encode encodes data using the I2P base32 alphabet, unpadded.
func Base32Encode(data []byte) string {
	return base32Encoding.EncodeToString(data)
}

// Base32Decode decodes a string produced by Base32Encode.
func Base32Decode(s string) ([]byte, error) {
	return base32Encoding.DecodeString(s)
}

// Base64Encode encodes data using the I2P base64 alphabet ('-', '~' in place
// of '+', '/').
func Base64Encode(data []byte) string {
	return base64Encoding.EncodeToString(data)
}

// Base64Decode decodes a string produced by Base64Encode.
func Base64Decode(s string) ([]byte, error) {
	return base64Encoding.DecodeString(s)
}
