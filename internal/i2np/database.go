package i2np

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-i2p/i2pcore/internal/identity"
)

// DatabaseStoreType distinguishes the two record kinds a DatabaseStore
// payload may carry (spec.md: "If type == 0 (RouterInfo) gunzip the body;
// if type == 1 (LeaseSet) store as-is").
type DatabaseStoreType uint8

const (
	DatabaseStoreRouterInfo DatabaseStoreType = 0
	DatabaseStoreLeaseSet   DatabaseStoreType = 1
)

// DatabaseStore is the payload of a TypeDatabaseStore message (spec.md
// §4.F "Publish" / "Incoming DatabaseStore").
type DatabaseStore struct {
	Key           identity.IdentHash
	DataType      DatabaseStoreType
	ReplyToken    uint32
	ReplyTunnelID uint32
	ReplyGateway  identity.IdentHash
	Data          []byte
}

// Marshal encodes the DatabaseStore payload.
func (d *DatabaseStore) Marshal() []byte {
	var buf bytes.Buffer
	buf.Write(d.Key.Bytes())
	buf.WriteByte(byte(d.DataType))

	var tokBuf [4]byte
	binary.BigEndian.PutUint32(tokBuf[:], d.ReplyToken)
	buf.Write(tokBuf[:])
	if d.ReplyToken != 0 {
		var tunBuf [4]byte
		binary.BigEndian.PutUint32(tunBuf[:], d.ReplyTunnelID)
		buf.Write(tunBuf[:])
		buf.Write(d.ReplyGateway.Bytes())
	}

	var sizeBuf [2]byte
	binary.BigEndian.PutUint16(sizeBuf[:], uint16(len(d.Data)))
	buf.Write(sizeBuf[:])
	buf.Write(d.Data)
	return buf.Bytes()
}

// ParseDatabaseStore decodes a DatabaseStore payload.
func ParseDatabaseStore(data []byte) (*DatabaseStore, error) {
	r := bytes.NewReader(data)
	d := &DatabaseStore{}

	keyBuf := make([]byte, 32)
	if _, err := io.ReadFull(r, keyBuf); err != nil {
		return nil, fmt.Errorf("i2np: truncated database store key: %w", err)
	}
	key, err := identity.IdentHashFromBytes(keyBuf)
	if err != nil {
		return nil, err
	}
	d.Key = key

	typeByte, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("i2np: truncated database store type: %w", err)
	}
	d.DataType = DatabaseStoreType(typeByte)

	if err := binary.Read(r, binary.BigEndian, &d.ReplyToken); err != nil {
		return nil, fmt.Errorf("i2np: truncated reply token: %w", err)
	}
	if d.ReplyToken != 0 {
		if err := binary.Read(r, binary.BigEndian, &d.ReplyTunnelID); err != nil {
			return nil, fmt.Errorf("i2np: truncated reply tunnel id: %w", err)
		}
		gwBuf := make([]byte, 32)
		if _, err := io.ReadFull(r, gwBuf); err != nil {
			return nil, fmt.Errorf("i2np: truncated reply gateway: %w", err)
		}
		gw, err := identity.IdentHashFromBytes(gwBuf)
		if err != nil {
			return nil, err
		}
		d.ReplyGateway = gw
	}

	var size uint16
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return nil, fmt.Errorf("i2np: truncated database store payload size: %w", err)
	}
	payload := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("i2np: truncated database store payload: %w", err)
		}
	}
	d.Data = payload

	if r.Len() != 0 {
		return nil, errors.New("i2np: trailing bytes after database store")
	}
	return d, nil
}

// LookupType distinguishes what record a DatabaseLookup is asking for, and
// whether the search is exploratory (spec.md: "for exploratory lookups
// return non-floodfill routers, for normal lookups return floodfills").
type LookupType uint8

const (
	LookupRouterInfo  LookupType = 0
	LookupLeaseSet    LookupType = 1
	LookupExploration LookupType = 2
)

// DatabaseLookup is the payload of a TypeDatabaseLookup message (spec.md
// §4.F "Incoming DatabaseLookup").
type DatabaseLookup struct {
	Key           identity.IdentHash
	From          identity.IdentHash
	LookupType    LookupType
	ReplyTunnelID uint32
	Excluded      []identity.IdentHash
}

// Marshal encodes the DatabaseLookup payload.
func (d *DatabaseLookup) Marshal() []byte {
	var buf bytes.Buffer
	buf.Write(d.Key.Bytes())
	buf.Write(d.From.Bytes())
	buf.WriteByte(byte(d.LookupType))
	var tunBuf [4]byte
	binary.BigEndian.PutUint32(tunBuf[:], d.ReplyTunnelID)
	buf.Write(tunBuf[:])

	var countBuf [2]byte
	binary.BigEndian.PutUint16(countBuf[:], uint16(len(d.Excluded)))
	buf.Write(countBuf[:])
	for _, peer := range d.Excluded {
		buf.Write(peer.Bytes())
	}
	return buf.Bytes()
}

// ParseDatabaseLookup decodes a DatabaseLookup payload.
func ParseDatabaseLookup(data []byte) (*DatabaseLookup, error) {
	r := bytes.NewReader(data)
	d := &DatabaseLookup{}

	keyBuf := make([]byte, 32)
	if _, err := io.ReadFull(r, keyBuf); err != nil {
		return nil, fmt.Errorf("i2np: truncated lookup key: %w", err)
	}
	key, err := identity.IdentHashFromBytes(keyBuf)
	if err != nil {
		return nil, err
	}
	d.Key = key

	fromBuf := make([]byte, 32)
	if _, err := io.ReadFull(r, fromBuf); err != nil {
		return nil, fmt.Errorf("i2np: truncated lookup from: %w", err)
	}
	from, err := identity.IdentHashFromBytes(fromBuf)
	if err != nil {
		return nil, err
	}
	d.From = from

	typeByte, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("i2np: truncated lookup type: %w", err)
	}
	d.LookupType = LookupType(typeByte)

	if err := binary.Read(r, binary.BigEndian, &d.ReplyTunnelID); err != nil {
		return nil, fmt.Errorf("i2np: truncated lookup reply tunnel id: %w", err)
	}

	var count uint16
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("i2np: truncated excluded count: %w", err)
	}
	excluded := make([]identity.IdentHash, 0, count)
	for i := 0; i < int(count); i++ {
		peerBuf := make([]byte, 32)
		if _, err := io.ReadFull(r, peerBuf); err != nil {
			return nil, fmt.Errorf("i2np: truncated excluded peer: %w", err)
		}
		peer, err := identity.IdentHashFromBytes(peerBuf)
		if err != nil {
			return nil, err
		}
		excluded = append(excluded, peer)
	}
	d.Excluded = excluded

	if r.Len() != 0 {
		return nil, errors.New("i2np: trailing bytes after database lookup")
	}
	return d, nil
}

// DatabaseSearchReply lists peers closer to the requested key when the
// receiver does not hold the record itself (spec.md §4.F "Incoming
// DatabaseLookup").
type DatabaseSearchReply struct {
	Key   identity.IdentHash
	From  identity.IdentHash
	Peers []identity.IdentHash
}

// Marshal encodes the DatabaseSearchReply payload.
func (d *DatabaseSearchReply) Marshal() []byte {
	var buf bytes.Buffer
	buf.Write(d.Key.Bytes())
	buf.Write(d.From.Bytes())
	buf.WriteByte(byte(len(d.Peers)))
	for _, peer := range d.Peers {
		buf.Write(peer.Bytes())
	}
	return buf.Bytes()
}

// ParseDatabaseSearchReply decodes a DatabaseSearchReply payload.
func ParseDatabaseSearchReply(data []byte) (*DatabaseSearchReply, error) {
	r := bytes.NewReader(data)
	d := &DatabaseSearchReply{}

	keyBuf := make([]byte, 32)
	if _, err := io.ReadFull(r, keyBuf); err != nil {
		return nil, fmt.Errorf("i2np: truncated search reply key: %w", err)
	}
	key, err := identity.IdentHashFromBytes(keyBuf)
	if err != nil {
		return nil, err
	}
	d.Key = key

	fromBuf := make([]byte, 32)
	if _, err := io.ReadFull(r, fromBuf); err != nil {
		return nil, fmt.Errorf("i2np: truncated search reply from: %w", err)
	}
	from, err := identity.IdentHashFromBytes(fromBuf)
	if err != nil {
		return nil, err
	}
	d.From = from

	count, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("i2np: truncated search reply peer count: %w", err)
	}
	peers := make([]identity.IdentHash, 0, count)
	for i := 0; i < int(count); i++ {
		peerBuf := make([]byte, 32)
		if _, err := io.ReadFull(r, peerBuf); err != nil {
			return nil, fmt.Errorf("i2np: truncated search reply peer: %w", err)
		}
		peer, err := identity.IdentHashFromBytes(peerBuf)
		if err != nil {
			return nil, err
		}
		peers = append(peers, peer)
	}
	d.Peers = peers

	if r.Len() != 0 {
		return nil, errors.New("i2np: trailing bytes after database search reply")
	}
	return d, nil
}

// DeliveryStatus acks an earlier message by msg-id, carried end-to-end
// through garlic cloves or directly as a reply to a publish (spec.md §4.D,
// §4.F).
type DeliveryStatus struct {
	MsgID     uint32
	Timestamp time.Time
}

// Marshal encodes the DeliveryStatus payload.
func (d *DeliveryStatus) Marshal() []byte {
	out := make([]byte, 12)
	binary.BigEndian.PutUint32(out[0:4], d.MsgID)
	binary.BigEndian.PutUint64(out[4:12], uint64(d.Timestamp.UnixMilli()))
	return out
}

// ParseDeliveryStatus decodes a DeliveryStatus payload.
func ParseDeliveryStatus(data []byte) (*DeliveryStatus, error) {
	if len(data) != 12 {
		return nil, fmt.Errorf("i2np: delivery status must be 12 bytes, got %d", len(data))
	}
	msgID := binary.BigEndian.Uint32(data[0:4])
	millis := binary.BigEndian.Uint64(data[4:12])
	return &DeliveryStatus{MsgID: msgID, Timestamp: time.UnixMilli(int64(millis)).UTC()}, nil
}
