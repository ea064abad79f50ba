package identity

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"
)

// Introducer is a helper router a firewalled peer uses to receive an
// incoming SSU connection (spec.md §4.F transport addresses).
type Introducer struct {
	Hash IdentHash
	Host string
	Port uint16
	Tag  uint32
}

// TransportAddress is one reachable address a RouterInfo advertises
// (spec.md GLOSSARY: "RouterInfo").
type TransportAddress struct {
	Style       string
	Host        string
	Port        uint16
	Options     map[string]string
	Introducers []Introducer
}

// RouterInfo is a RouterIdentity plus a signed timestamp, transport
// addresses, capability options, and a signature (spec.md GLOSSARY:
// "RouterInfo").
type RouterInfo struct {
	Identity  RouterIdentity
	Timestamp time.Time
	Addresses []TransportAddress
	Options   map[string]string
	Signature []byte
}

// IdentHash is the storage-path coordinate of this RouterInfo: the hash of
// its embedded identity (spec.md: "identity hash determines storage path").
func (ri *RouterInfo) IdentHash() IdentHash {
	return ri.Identity.IdentHash()
}

func writeString(buf *bytes.Buffer, s string) {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	buf.Write(lenBuf[:])
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var length uint16
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return "", err
	}
	b := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, b); err != nil {
			return "", err
		}
	}
	return string(b), nil
}

func writeOptions(buf *bytes.Buffer, opts map[string]string) {
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var countBuf [2]byte
	binary.BigEndian.PutUint16(countBuf[:], uint16(len(keys)))
	buf.Write(countBuf[:])
	for _, k := range keys {
		writeString(buf, k)
		writeString(buf, opts[k])
	}
}

func readOptions(r *bytes.Reader) (map[string]string, error) {
	var count uint16
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, err
	}
	opts := make(map[string]string, count)
	for i := 0; i < int(count); i++ {
		k, err := readString(r)
		if err != nil {
			return nil, err
		}
		v, err := readString(r)
		if err != nil {
			return nil, err
		}
		opts[k] = v
	}
	return opts, nil
}

// SerializeUnsigned encodes every field except the signature: the canonical
// byte range the signature covers.
func (ri *RouterInfo) SerializeUnsigned() []byte {
	var buf bytes.Buffer
	buf.Write(ri.Identity.Serialize())

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(ri.Timestamp.UnixMilli()))
	buf.Write(tsBuf[:])

	var addrCount [2]byte
	binary.BigEndian.PutUint16(addrCount[:], uint16(len(ri.Addresses)))
	buf.Write(addrCount[:])
	for _, addr := range ri.Addresses {
		writeString(&buf, addr.Style)
		writeString(&buf, addr.Host)
		var portBuf [2]byte
		binary.BigEndian.PutUint16(portBuf[:], addr.Port)
		buf.Write(portBuf[:])
		writeOptions(&buf, addr.Options)

		var introCount [2]byte
		binary.BigEndian.PutUint16(introCount[:], uint16(len(addr.Introducers)))
		buf.Write(introCount[:])
		for _, intro := range addr.Introducers {
			buf.Write(intro.Hash[:])
			writeString(&buf, intro.Host)
			binary.BigEndian.PutUint16(portBuf[:], intro.Port)
			buf.Write(portBuf[:])
			var tagBuf [4]byte
			binary.BigEndian.PutUint32(tagBuf[:], intro.Tag)
			buf.Write(tagBuf[:])
		}
	}

	writeOptions(&buf, ri.Options)
	return buf.Bytes()
}

// Serialize encodes the full RouterInfo, including the trailing signature.
func (ri *RouterInfo) Serialize() []byte {
	unsigned := ri.SerializeUnsigned()
	out := make([]byte, 0, len(unsigned)+len(ri.Signature))
	out = append(out, unsigned...)
	out = append(out, ri.Signature...)
	return out
}

// Sign computes and stores the signature over the unsigned form using the
// identity's declared signature type.
func (ri *RouterInfo) Sign(priv []byte) error {
	sig, err := ri.Identity.Sign(priv, ri.SerializeUnsigned())
	if err != nil {
		return err
	}
	ri.Signature = sig
	return nil
}

// Verify checks the signature under the embedded identity's signing key
// (spec.md §7 invariant 1).
func (ri *RouterInfo) Verify() (bool, error) {
	return ri.Identity.Verify(ri.SerializeUnsigned(), ri.Signature)
}

// HasCapability reports whether the RouterInfo's options advertise the given
// capability letter (e.g. "f" for floodfill), matching i2pd's packed "caps"
// option string.
func (ri *RouterInfo) HasCapability(letter byte) bool {
	caps, ok := ri.Options["caps"]
	if !ok {
		return false
	}
	return bytes.IndexByte([]byte(caps), letter) >= 0
}

// IsFloodfill reports whether this RouterInfo declares the floodfill
// capability (spec.md §4.F).
func (ri *RouterInfo) IsFloodfill() bool {
	return ri.HasCapability('f')
}

// ParseRouterInfo decodes a RouterInfo previously produced by Serialize.
func ParseRouterInfo(data []byte) (*RouterInfo, error) {
	identity, consumed, err := ParseRouterIdentity(data)
	if err != nil {
		return nil, fmt.Errorf("identity: parsing router identity: %w", err)
	}
	r := bytes.NewReader(data[consumed:])

	var tsMillis uint64
	if err := binary.Read(r, binary.BigEndian, &tsMillis); err != nil {
		return nil, fmt.Errorf("identity: truncated timestamp: %w", err)
	}

	var addrCount uint16
	if err := binary.Read(r, binary.BigEndian, &addrCount); err != nil {
		return nil, fmt.Errorf("identity: truncated address count: %w", err)
	}
	addresses := make([]TransportAddress, 0, addrCount)
	for i := 0; i < int(addrCount); i++ {
		var addr TransportAddress
		if addr.Style, err = readString(r); err != nil {
			return nil, fmt.Errorf("identity: truncated address style: %w", err)
		}
		if addr.Host, err = readString(r); err != nil {
			return nil, fmt.Errorf("identity: truncated address host: %w", err)
		}
		if err := binary.Read(r, binary.BigEndian, &addr.Port); err != nil {
			return nil, fmt.Errorf("identity: truncated address port: %w", err)
		}
		if addr.Options, err = readOptions(r); err != nil {
			return nil, fmt.Errorf("identity: truncated address options: %w", err)
		}

		var introCount uint16
		if err := binary.Read(r, binary.BigEndian, &introCount); err != nil {
			return nil, fmt.Errorf("identity: truncated introducer count: %w", err)
		}
		for j := 0; j < int(introCount); j++ {
			var intro Introducer
			hashBuf := make([]byte, 32)
			if _, err := io.ReadFull(r, hashBuf); err != nil {
				return nil, fmt.Errorf("identity: truncated introducer hash: %w", err)
			}
			copy(intro.Hash[:], hashBuf)
			if intro.Host, err = readString(r); err != nil {
				return nil, fmt.Errorf("identity: truncated introducer host: %w", err)
			}
			if err := binary.Read(r, binary.BigEndian, &intro.Port); err != nil {
				return nil, fmt.Errorf("identity: truncated introducer port: %w", err)
			}
			if err := binary.Read(r, binary.BigEndian, &intro.Tag); err != nil {
				return nil, fmt.Errorf("identity: truncated introducer tag: %w", err)
			}
			addr.Introducers = append(addr.Introducers, intro)
		}
		addresses = append(addresses, addr)
	}

	options, err := readOptions(r)
	if err != nil {
		return nil, fmt.Errorf("identity: truncated options: %w", err)
	}

	sigType := identity.SigType()
	sig := make([]byte, sigType.SignatureSize())
	if _, err := io.ReadFull(r, sig); err != nil {
		return nil, fmt.Errorf("identity: truncated signature: %w", err)
	}

	if r.Len() != 0 {
		return nil, errors.New("identity: trailing bytes after router info")
	}

	return &RouterInfo{
		Identity:  identity,
		Timestamp: time.UnixMilli(int64(tsMillis)).UTC(),
		Addresses: addresses,
		Options:   options,
		Signature: sig,
	}, nil
}

// acceptanceWindow bounds how far a RouterInfo's timestamp may diverge from
// now and still be treated as fresh (spec.md: "timestamp is within an
// acceptance window (fresh RouterInfos only)").
const acceptanceWindow = 24 * time.Hour

// IsFresh reports whether the RouterInfo's timestamp falls within the
// acceptance window around now.
func (ri *RouterInfo) IsFresh(now time.Time) bool {
	delta := now.Sub(ri.Timestamp)
	if delta < 0 {
		delta = -delta
	}
	return delta <= acceptanceWindow
}
