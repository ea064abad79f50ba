// Package i2np implements the I2NP message codec: a tagged,
// integrity-checked envelope used for every router-to-router and
// end-to-end control message (spec.md §4.C). Multi-byte integers are
// big-endian throughout.
package i2np

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// Type identifies an I2NP message's payload shape.
type Type uint8

const (
	TypeDatabaseStore            Type = 1
	TypeDatabaseLookup           Type = 2
	TypeDatabaseSearchReply      Type = 3
	TypeDeliveryStatus           Type = 10
	TypeGarlic                   Type = 11
	TypeTunnelData               Type = 18
	TypeTunnelGateway            Type = 19
	TypeData                     Type = 20
	TypeTunnelBuild              Type = 21
	TypeTunnelBuildReply         Type = 22
	TypeVariableTunnelBuild      Type = 23
	TypeVariableTunnelBuildReply Type = 24
)

func (t Type) String() string {
	switch t {
	case TypeDatabaseStore:
		return "DatabaseStore"
	case TypeDatabaseLookup:
		return "DatabaseLookup"
	case TypeDatabaseSearchReply:
		return "DatabaseSearchReply"
	case TypeDeliveryStatus:
		return "DeliveryStatus"
	case TypeGarlic:
		return "Garlic"
	case TypeTunnelData:
		return "TunnelData"
	case TypeTunnelGateway:
		return "TunnelGateway"
	case TypeData:
		return "Data"
	case TypeTunnelBuild:
		return "TunnelBuild"
	case TypeTunnelBuildReply:
		return "TunnelBuildReply"
	case TypeVariableTunnelBuild:
		return "VariableTunnelBuild"
	case TypeVariableTunnelBuildReply:
		return "VariableTunnelBuildReply"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// HeaderSize is the fixed-size I2NP header: type(1) + msg-id(4) +
// expiration(8) + size(2) + checksum(1).
const HeaderSize = 16

// MaxPayloadSize is the largest payload the 16-bit size field can address.
const MaxPayloadSize = 0xFFFF

var (
	// ErrBufferTooShort is returned when a buffer is too small to hold an
	// I2NP header.
	ErrBufferTooShort = errors.New("i2np: buffer too short for header")
	// ErrSizeExceedsBuffer is returned when the header's declared size
	// does not fit in the remaining buffer (spec.md §4.C: "parse rejects
	// messages with size exceeding the buffer").
	ErrSizeExceedsBuffer = errors.New("i2np: declared size exceeds buffer")
	// ErrChecksumMismatch is returned when the payload's checksum byte
	// does not match.
	ErrChecksumMismatch = errors.New("i2np: checksum mismatch")
	// ErrExpired is returned when a message's expiration predates now by
	// more than the caller's slack window.
	ErrExpired = errors.New("i2np: message expired")
	// ErrPayloadTooLarge is returned by Marshal when the payload does not
	// fit in the 16-bit size field.
	ErrPayloadTooLarge = errors.New("i2np: payload exceeds 65535 bytes")
)

// Message is a parsed or to-be-built I2NP envelope.
type Message struct {
	Type       Type
	MsgID      uint32
	Expiration time.Time
	Payload    []byte
}

// IDGenerator stamps outbound messages with a monotonically increasing
// msg-id (spec.md §4.C: "Build stamps a monotonically increasing msg-id
// unless a reply-msg-id is supplied").
type IDGenerator struct {
	counter atomic.Uint32
}

// NewIDGenerator returns a generator whose counter starts at zero, so the
// first msg-id it hands out is 1; Seed moves the starting point.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{}
}

// Seed sets the counter to v, so the next value the generator hands out is
// v+1.
func (g *IDGenerator) Seed(v uint32) {
	g.counter.Store(v)
}

// Next returns the next msg-id, wrapping on overflow.
func (g *IDGenerator) Next() uint32 {
	return g.counter.Add(1)
}

// NewMessage builds an outbound message with a freshly stamped msg-id and
// an expiration ttl in the future from now.
func NewMessage(ids *IDGenerator, typ Type, payload []byte, now time.Time, ttl time.Duration) *Message {
	return &Message{
		Type:       typ,
		MsgID:      ids.Next(),
		Expiration: now.Add(ttl),
		Payload:    payload,
	}
}

// NewReply builds an outbound message carrying an explicit reply msg-id
// instead of a freshly stamped one (the tunnel-build reply case, spec.md
// §4.C).
func NewReply(typ Type, replyMsgID uint32, payload []byte, now time.Time, ttl time.Duration) *Message {
	return &Message{
		Type:       typ,
		MsgID:      replyMsgID,
		Expiration: now.Add(ttl),
		Payload:    payload,
	}
}

// checksum computes I2NP's checksum byte: the first byte of SHA-256 over
// the payload.
func checksum(payload []byte) byte {
	sum := sha256.Sum256(payload)
	return sum[0]
}

// Marshal encodes m into a header-plus-payload buffer, reserving `reserve`
// leading bytes so transport framing can prepend its own header without a
// copy (spec.md §4.C: "Messages carry a reservation of bytes before the
// header").
func (m *Message) Marshal(reserve int) ([]byte, error) {
	if len(m.Payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, reserve+HeaderSize+len(m.Payload))
	h := buf[reserve:]
	h[0] = byte(m.Type)
	binary.BigEndian.PutUint32(h[1:5], m.MsgID)
	binary.BigEndian.PutUint64(h[5:13], uint64(m.Expiration.UnixMilli()))
	binary.BigEndian.PutUint16(h[13:15], uint16(len(m.Payload)))
	h[15] = checksum(m.Payload)
	copy(h[HeaderSize:], m.Payload)
	return buf, nil
}

// Parse decodes a message starting at the beginning of buf (callers that
// reserved framing bytes on the wire must slice them off first). now and
// slack implement the hard-drop expiration check (spec.md §4.C: "expiration
// is a hard drop threshold for received messages").
func Parse(buf []byte, now time.Time, slack time.Duration) (*Message, error) {
	if len(buf) < HeaderSize {
		return nil, ErrBufferTooShort
	}
	typ := Type(buf[0])
	msgID := binary.BigEndian.Uint32(buf[1:5])
	expMillis := binary.BigEndian.Uint64(buf[5:13])
	size := binary.BigEndian.Uint16(buf[13:15])
	sum := buf[15]

	if int(size) > len(buf)-HeaderSize {
		return nil, ErrSizeExceedsBuffer
	}
	payload := buf[HeaderSize : HeaderSize+int(size)]
	if checksum(payload) != sum {
		return nil, ErrChecksumMismatch
	}

	expiration := time.UnixMilli(int64(expMillis)).UTC()
	if now.Sub(expiration) > slack {
		return nil, ErrExpired
	}

	return &Message{
		Type:       typ,
		MsgID:      msgID,
		Expiration: expiration,
		Payload:    append([]byte(nil), payload...),
	}, nil
}
