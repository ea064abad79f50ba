package garlic

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	icrypto "github.com/go-i2p/i2pcore/internal/crypto"
	"github.com/go-i2p/i2pcore/internal/identity"
)

// TagsPerWrap is the default number of new session tags emitted with each
// outbound wrap (spec.md §4.D "Session tag economics": "emit ~40 new tags
// per wrap by default").
const TagsPerWrap = 40

// sessionTag is a one-time-use symmetric key substitute that lets a
// continuing garlic session skip the ElGamal public-key operation.
type sessionTag [32]byte

// OutboundSession is the per-destination outbound garlic state (spec.md
// GLOSSARY: "GarlicRoutingSession").
type OutboundSession struct {
	SessionKey   [32]byte
	tags         []sessionTag
	FirstMsgID   uint32
	Acknowledged bool
}

// HasTags reports whether the session has an unused tag to spend instead of
// a fresh ElGamal handshake.
func (s *OutboundSession) HasTags() bool {
	return len(s.tags) > 0
}

func (s *OutboundSession) consumeTag() (sessionTag, bool) {
	if len(s.tags) == 0 {
		return sessionTag{}, false
	}
	tag := s.tags[0]
	s.tags = s.tags[1:]
	return tag, true
}

// SessionManager tracks outbound sessions per destination and the
// process-wide inbound tag -> session-key mapping (spec.md GLOSSARY:
// "Inbound side: a process-wide mapping tag -> session-key").
type SessionManager struct {
	mu          sync.Mutex
	outbound    map[identity.IdentHash]*OutboundSession
	inboundTags map[sessionTag][32]byte
	pendingAcks map[uint32]identity.IdentHash
}

// NewSessionManager returns an empty session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		outbound:    make(map[identity.IdentHash]*OutboundSession),
		inboundTags: make(map[sessionTag][32]byte),
		pendingAcks: make(map[uint32]identity.IdentHash),
	}
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// WrapOutbound builds a garlic message carrying cloves to destHash, whose
// ElGamal encryption public key is destEncKey. It returns the I2NP Garlic
// message payload: { u32 block-size, elgamal-or-tag, aes-block } (spec.md
// §4.D "Outbound wrap").
func (m *SessionManager) WrapOutbound(destHash identity.IdentHash, destEncKey icrypto.ElGamalPublicKey, cloves []Clove, now time.Time, ackMsgID uint32) ([]byte, error) {
	m.mu.Lock()
	session, ok := m.outbound[destHash]
	m.mu.Unlock()

	var head []byte
	var sessionKey [32]byte
	var iv []byte
	usedTag := false

	if ok && session.HasTags() {
		m.mu.Lock()
		tag, has := session.consumeTag()
		m.mu.Unlock()
		if !has {
			return nil, errors.New("garlic: session tag race, no tags available")
		}
		sessionKey = session.SessionKey
		sum := icrypto.SHA256(tag[:])
		iv = sum[:16]
		head = append([]byte(nil), tag[:]...)
		usedTag = true
	} else {
		key, err := randomBytes(32)
		if err != nil {
			return nil, err
		}
		preIV, err := randomBytes(32)
		if err != nil {
			return nil, err
		}
		pad, err := randomBytes(icrypto.ElGamalBlockSize - 32 - 32)
		if err != nil {
			return nil, err
		}
		block := make([]byte, 0, icrypto.ElGamalBlockSize)
		block = append(block, key...)
		block = append(block, preIV...)
		block = append(block, pad...)

		encrypted, err := icrypto.ElGamalEncrypt(destEncKey, block)
		if err != nil {
			return nil, fmt.Errorf("garlic: elgamal handshake encrypt: %w", err)
		}
		copy(sessionKey[:], key)
		sum := icrypto.SHA256(preIV)
		iv = sum[:16]
		head = encrypted

		session = &OutboundSession{SessionKey: sessionKey, FirstMsgID: ackMsgID}
		m.mu.Lock()
		m.outbound[destHash] = session
		m.pendingAcks[ackMsgID] = destHash
		m.mu.Unlock()
	}

	newTags, err := randomBytes(TagsPerWrap * 32)
	if err != nil {
		return nil, err
	}
	if !usedTag {
		m.mu.Lock()
		for i := 0; i < TagsPerWrap; i++ {
			var tag sessionTag
			copy(tag[:], newTags[i*32:(i+1)*32])
			session.tags = append(session.tags, tag)
		}
		m.mu.Unlock()
	}

	payload := marshalCloves(cloves)
	payloadHash := icrypto.SHA256(payload)

	var aesBlock []byte
	var tagCountBuf [2]byte
	binary.BigEndian.PutUint16(tagCountBuf[:], uint16(TagsPerWrap))
	aesBlock = append(aesBlock, tagCountBuf[:]...)
	aesBlock = append(aesBlock, newTags...)

	var sizeBuf [4]byte
	binary.BigEndian.PutUint32(sizeBuf[:], uint32(len(payload)))
	aesBlock = append(aesBlock, sizeBuf[:]...)
	aesBlock = append(aesBlock, payloadHash[:]...)
	aesBlock = append(aesBlock, 0) // flag
	aesBlock = append(aesBlock, payload...)

	if rem := len(aesBlock) % icrypto.AESBlockSize; rem != 0 {
		padLen := icrypto.AESBlockSize - rem
		padding, err := randomBytes(padLen)
		if err != nil {
			return nil, err
		}
		aesBlock = append(aesBlock, padding...)
	}

	encryptedBlock, err := icrypto.AESCBCEncrypt(sessionKey[:], iv, aesBlock)
	if err != nil {
		return nil, fmt.Errorf("garlic: aes block encrypt: %w", err)
	}

	var out []byte
	var blockSizeBuf [4]byte
	binary.BigEndian.PutUint32(blockSizeBuf[:], uint32(len(encryptedBlock)))
	out = append(out, blockSizeBuf[:]...)
	out = append(out, head...)
	out = append(out, encryptedBlock...)
	return out, nil
}

// Acknowledge marks the outbound session whose handshake msg-id matches
// msgID as acknowledged (spec.md §4.D: "a session is 'acknowledged' when
// any delivery-status referencing one of its first-batch msg-ids is
// received").
func (m *SessionManager) Acknowledge(msgID uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	destHash, ok := m.pendingAcks[msgID]
	if !ok {
		return false
	}
	session, ok := m.outbound[destHash]
	if !ok {
		return false
	}
	session.Acknowledged = true
	delete(m.pendingAcks, msgID)
	return true
}

// UnwrapError classifies an inbound unwrap failure for the caller's
// silent-drop-and-count policy (spec.md §4.D "Failure semantics").
type UnwrapError struct {
	EvictTag bool
	Err      error
}

func (e *UnwrapError) Error() string { return e.Err.Error() }
func (e *UnwrapError) Unwrap() error { return e.Err }

// UnwrapInbound decodes a received Garlic I2NP payload, trying a session
// tag first and falling back to an ElGamal handshake (spec.md §4.D "Inbound
// unwrap").
func (m *SessionManager) UnwrapInbound(payload []byte, localPriv icrypto.ElGamalPrivateKey) ([]Clove, error) {
	if len(payload) < 4 {
		return nil, &UnwrapError{Err: errors.New("garlic: payload too short for block size")}
	}
	blockSize := binary.BigEndian.Uint32(payload[0:4])
	rest := payload[4:]

	var sessionKey [32]byte
	var iv []byte
	var aesBlockStart int

	if len(rest) >= 32 {
		var tag sessionTag
		copy(tag[:], rest[:32])
		m.mu.Lock()
		key, hit := m.inboundTags[tag]
		m.mu.Unlock()
		if hit && len(rest) >= 32+int(blockSize) {
			sessionKey = key
			sum := icrypto.SHA256(tag[:])
			iv = sum[:16]
			aesBlockStart = 32
			m.mu.Lock()
			delete(m.inboundTags, tag)
			m.mu.Unlock()
			return m.finishUnwrap(sessionKey, iv, rest[aesBlockStart:aesBlockStart+int(blockSize)], true, tag)
		}
	}

	if len(rest) < icrypto.ElGamalEncryptedSize {
		return nil, &UnwrapError{Err: errors.New("garlic: payload too short for elgamal handshake")}
	}
	decrypted, err := icrypto.ElGamalDecrypt(localPriv, rest[:icrypto.ElGamalEncryptedSize])
	if err != nil {
		return nil, &UnwrapError{Err: fmt.Errorf("garlic: elgamal handshake decrypt: %w", err)}
	}
	if len(decrypted) < 64 {
		return nil, &UnwrapError{Err: errors.New("garlic: decrypted handshake too short")}
	}
	copy(sessionKey[:], decrypted[:32])
	preIV := decrypted[32:64]
	sum := icrypto.SHA256(preIV)
	iv = sum[:16]

	aesBlockStart = icrypto.ElGamalEncryptedSize
	if len(rest) < aesBlockStart+int(blockSize) {
		return nil, &UnwrapError{Err: errors.New("garlic: payload too short for aes block")}
	}
	return m.finishUnwrap(sessionKey, iv, rest[aesBlockStart:aesBlockStart+int(blockSize)], false, sessionTag{})
}

func (m *SessionManager) finishUnwrap(sessionKey [32]byte, iv []byte, encryptedBlock []byte, wasTagHit bool, usedTag sessionTag) ([]Clove, error) {
	block, err := icrypto.AESCBCDecrypt(sessionKey[:], iv, encryptedBlock)
	if err != nil {
		return nil, &UnwrapError{EvictTag: wasTagHit, Err: fmt.Errorf("garlic: aes block decrypt: %w", err)}
	}
	if len(block) < 2 {
		return nil, &UnwrapError{EvictTag: wasTagHit, Err: errors.New("garlic: truncated aes block")}
	}
	tagCount := int(binary.BigEndian.Uint16(block[0:2]))
	offset := 2
	if len(block) < offset+tagCount*32+4+32+1 {
		return nil, &UnwrapError{EvictTag: wasTagHit, Err: errors.New("garlic: truncated aes block header")}
	}
	newTags := make([]sessionTag, tagCount)
	for i := 0; i < tagCount; i++ {
		copy(newTags[i][:], block[offset+i*32:offset+(i+1)*32])
	}
	offset += tagCount * 32

	payloadSize := binary.BigEndian.Uint32(block[offset : offset+4])
	offset += 4
	var payloadHash [32]byte
	copy(payloadHash[:], block[offset:offset+32])
	offset += 32
	offset++ // flag byte

	if len(block) < offset+int(payloadSize) {
		return nil, &UnwrapError{EvictTag: wasTagHit, Err: errors.New("garlic: truncated garlic payload")}
	}
	payload := block[offset : offset+int(payloadSize)]

	actualHash := icrypto.SHA256(payload)
	if actualHash != payloadHash {
		return nil, &UnwrapError{EvictTag: wasTagHit, Err: errors.New("garlic: payload hash mismatch")}
	}

	m.mu.Lock()
	for _, tag := range newTags {
		m.inboundTags[tag] = sessionKey
	}
	m.mu.Unlock()

	cloves, err := parseCloves(payload)
	if err != nil {
		return nil, &UnwrapError{EvictTag: wasTagHit, Err: err}
	}
	return cloves, nil
}
