package tunnel

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-i2p/i2pcore/internal/identity"
)

// DeliveryType is the destination class a reassembled message is delivered
// to (spec.md §4.H "Endpoint": "delivery-type (local/tunnel/router)").
type DeliveryType byte

const (
	DeliveryLocal DeliveryType = iota
	DeliveryTunnel
	DeliveryRouter
)

func (d DeliveryType) String() string {
	switch d {
	case DeliveryLocal:
		return "local"
	case DeliveryTunnel:
		return "tunnel"
	case DeliveryRouter:
		return "router"
	default:
		return "unknown"
	}
}

const (
	flagFirst      = 0x80
	flagDeliveryShift = 5
	flagDeliveryMask  = 0x03
	flagFragmented    = 0x10
	flagFragNumShift  = 1
	flagFragNumMask   = 0x3F
	flagLast          = 0x01
)

// maxFragmentNumber is the largest follow-on fragment number the 6-bit
// field can carry.
const maxFragmentNumber = 63

// fragmentHeader is one decoded fragment, first or follow-on.
type fragmentHeader struct {
	first      bool
	delivery   DeliveryType
	fragmented bool
	fragNum    int
	last       bool
	toTunnel   TunnelID
	toHash     identity.IdentHash
	messageID  uint32
	payload    []byte
}

// encodeFirst writes a first-fragment header + payload.
func encodeFirst(delivery DeliveryType, toTunnel TunnelID, toHash identity.IdentHash, fragmented bool, messageID uint32, payload []byte) ([]byte, error) {
	if len(payload) > 0xFFFF {
		return nil, errors.New("tunnel: fragment payload exceeds 65535 bytes")
	}
	flag := byte(flagFirst) | (byte(delivery)&flagDeliveryMask)<<flagDeliveryShift
	if fragmented {
		flag |= flagFragmented
	}
	buf := []byte{flag}
	if delivery == DeliveryTunnel {
		var t [4]byte
		binary.BigEndian.PutUint32(t[:], uint32(toTunnel))
		buf = append(buf, t[:]...)
	}
	if delivery == DeliveryTunnel || delivery == DeliveryRouter {
		buf = append(buf, toHash.Bytes()...)
	}
	var rest [6]byte
	binary.BigEndian.PutUint32(rest[0:4], messageID)
	binary.BigEndian.PutUint16(rest[4:6], uint16(len(payload)))
	buf = append(buf, rest[:]...)
	buf = append(buf, payload...)
	return buf, nil
}

// encodeFollowOn writes a follow-on fragment header + payload.
func encodeFollowOn(fragNum int, last bool, messageID uint32, payload []byte) ([]byte, error) {
	if fragNum < 1 || fragNum > maxFragmentNumber {
		return nil, fmt.Errorf("tunnel: fragment number %d out of range", fragNum)
	}
	if len(payload) > 0xFFFF {
		return nil, errors.New("tunnel: fragment payload exceeds 65535 bytes")
	}
	flag := byte(fragNum&flagFragNumMask) << flagFragNumShift
	if last {
		flag |= flagLast
	}
	buf := []byte{flag}
	var rest [6]byte
	binary.BigEndian.PutUint32(rest[0:4], messageID)
	binary.BigEndian.PutUint16(rest[4:6], uint16(len(payload)))
	buf = append(buf, rest[:]...)
	buf = append(buf, payload...)
	return buf, nil
}

// decodeFragment reads one fragment header + payload from the front of buf,
// returning the header and the number of bytes consumed.
func decodeFragment(buf []byte) (fragmentHeader, int, error) {
	if len(buf) < 1 {
		return fragmentHeader{}, 0, errors.New("tunnel: empty fragment buffer")
	}
	flag := buf[0]
	off := 1
	var h fragmentHeader
	if flag&flagFirst != 0 {
		h.first = true
		h.delivery = DeliveryType((flag >> flagDeliveryShift) & flagDeliveryMask)
		h.fragmented = flag&flagFragmented != 0
		if h.delivery == DeliveryTunnel {
			if len(buf) < off+4 {
				return fragmentHeader{}, 0, errors.New("tunnel: truncated first-fragment tunnel-id")
			}
			h.toTunnel = TunnelID(binary.BigEndian.Uint32(buf[off : off+4]))
			off += 4
		}
		if h.delivery == DeliveryTunnel || h.delivery == DeliveryRouter {
			if len(buf) < off+32 {
				return fragmentHeader{}, 0, errors.New("tunnel: truncated first-fragment ident hash")
			}
			hash, err := identity.IdentHashFromBytes(buf[off : off+32])
			if err != nil {
				return fragmentHeader{}, 0, err
			}
			h.toHash = hash
			off += 32
		}
	} else {
		h.fragNum = int(flag>>flagFragNumShift) & flagFragNumMask
		h.last = flag&flagLast != 0
	}
	if len(buf) < off+6 {
		return fragmentHeader{}, 0, errors.New("tunnel: truncated fragment message-id/size")
	}
	h.messageID = binary.BigEndian.Uint32(buf[off : off+4])
	size := int(binary.BigEndian.Uint16(buf[off+4 : off+6]))
	off += 6
	if len(buf) < off+size {
		return fragmentHeader{}, 0, errors.New("tunnel: truncated fragment payload")
	}
	h.payload = append([]byte(nil), buf[off:off+size]...)
	off += size
	return h, off, nil
}
