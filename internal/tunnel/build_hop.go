package tunnel

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/go-i2p/i2pcore/internal/crypto"
	"github.com/go-i2p/i2pcore/internal/identity"
)

// hopReplySize is the 512-byte reply payload a hop writes into its own
// record slot once it has processed it: a 1-byte response code, a 32-byte
// SHA-256 over the trailing padding, and the padding itself (spec.md §4.G
// "Onion semantics": "writes a 1-byte response (0 = accept, nonzero =
// reject) plus a SHA-256 over the remaining 512-byte reply padding").
const hopReplySize = crypto.ElGamalEncryptedSize

// ResponseAccept and ResponseReject are the two response byte values a hop
// writes into its build record slot.
const (
	ResponseAccept byte = 0
	ResponseReject byte = 1
)

// ErrNoOwnRecord is returned by ProcessAsHop when no record in the message
// carries this hop's ident-hash prefix (spec.md §4.G: records are matched
// "by the first 16 bytes of its ident hash").
var ErrNoOwnRecord = errors.New("tunnel: no build record addressed to this hop")

// HopProcessResult is what a hop learns from processing its own slot in an
// inbound VariableTunnelBuild, before deciding accept/reject and forwarding.
type HopProcessResult struct {
	OwnIndex int
	Fields   buildRecordFields
}

// ProcessAsHop locates the record addressed to localHash (by its first 16
// bytes) in msg, ElGamal-decrypts it under localPriv, and returns the
// parsed cleartext fields the hop needs to forward or terminate the tunnel
// (spec.md §4.G: "At each hop the peer ElGamal-decrypts its own record
// (identified by the first 16 bytes of its ident hash)").
func ProcessAsHop(localHash identity.IdentHash, localPriv crypto.ElGamalPrivateKey, msg *VariableTunnelBuild) (*HopProcessResult, error) {
	prefix := localHash.Bytes()[:16]
	for i, rec := range msg.Records {
		if !bytes.Equal(rec.PeerHashPrefix[:], prefix) {
			continue
		}
		clear, err := crypto.ElGamalDecrypt(localPriv, rec.Body[:])
		if err != nil {
			return nil, fmt.Errorf("tunnel: decrypting own build record: %w", err)
		}
		fields, err := parseBuildRecordFields(clear)
		if err != nil {
			return nil, err
		}
		return &HopProcessResult{OwnIndex: i, Fields: fields}, nil
	}
	return nil, ErrNoOwnRecord
}

// WriteHopReply overwrites msg.Records[ownIndex].Body with this hop's
// plaintext reply (response byte + SHA-256 over random padding), in
// preparation for the subsequent AES-encrypt-every-record pass.
func WriteHopReply(msg *VariableTunnelBuild, ownIndex int, response byte) error {
	if ownIndex < 0 || ownIndex >= len(msg.Records) {
		return errors.New("tunnel: hop reply index out of range")
	}
	var body [hopReplySize]byte
	if _, err := rand.Read(body[33:]); err != nil {
		return err
	}
	body[0] = response
	sum := crypto.SHA256(body[33:])
	copy(body[1:33], sum[:])
	msg.Records[ownIndex].Body = body
	return nil
}

// EncryptAllRecords AES-CBC-encrypts every record's 512-byte body under
// (replyKey, replyIV), the step each hop performs before forwarding (spec.md
// §4.G: "AES-encrypts every record under (reply-key, reply-iv), and
// forwards"). This both finalizes this hop's own reply slot and cancels one
// layer of the pre-transmission onion cancellation applied to every record
// belonging to a hop later in the chain (see build_reply.go for the
// matching peel on the builder side).
func EncryptAllRecords(msg *VariableTunnelBuild, replyKey, replyIV []byte) error {
	for i := range msg.Records {
		enc, err := crypto.AESCBCEncrypt(replyKey, replyIV, msg.Records[i].Body[:])
		if err != nil {
			return fmt.Errorf("tunnel: encrypting build record %d for forwarding: %w", i, err)
		}
		copy(msg.Records[i].Body[:], enc)
	}
	return nil
}

// HopResponseByte returns ResponseAccept unless the caller's admission
// policy rejects the hop (e.g. transit-tunnel bandwidth cap, SUPPLEMENTED
// FEATURES "Congestion / bandwidth-tier caps").
func HopResponseByte(accept bool) byte {
	if accept {
		return ResponseAccept
	}
	return ResponseReject
}
