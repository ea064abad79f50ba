// Package garlic implements the ElGamal-AES end-to-end session layer:
// outbound wrap/inbound unwrap of one or more cloves under a hybrid
// public-key-plus-session-tag scheme, with session-tag amortization
// (spec.md §4.D).
package garlic

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-i2p/i2pcore/internal/identity"
)

// DeliveryInstructionType selects where a clove's inner message is
// delivered once unwrapped (spec.md §4.D: "Delivery instructions select
// {local, destination, router, tunnel}").
type DeliveryInstructionType uint8

const (
	DeliveryLocal DeliveryInstructionType = iota
	DeliveryDestination
	DeliveryRouter
	DeliveryTunnel
)

// DeliveryInstructions tells the receiver what to do with a clove's inner
// I2NP message.
type DeliveryInstructions struct {
	Type     DeliveryInstructionType
	Hash     identity.IdentHash // set for Destination, Router, Tunnel
	TunnelID uint32             // set for Tunnel
}

func (di DeliveryInstructions) marshal(buf *bytes.Buffer) {
	buf.WriteByte(byte(di.Type))
	switch di.Type {
	case DeliveryDestination, DeliveryRouter:
		buf.Write(di.Hash.Bytes())
	case DeliveryTunnel:
		buf.Write(di.Hash.Bytes())
		var idBuf [4]byte
		binary.BigEndian.PutUint32(idBuf[:], di.TunnelID)
		buf.Write(idBuf[:])
	}
}

func parseDeliveryInstructions(r *bytes.Reader) (DeliveryInstructions, error) {
	var di DeliveryInstructions
	typeByte, err := r.ReadByte()
	if err != nil {
		return di, fmt.Errorf("garlic: truncated delivery instructions: %w", err)
	}
	di.Type = DeliveryInstructionType(typeByte)
	switch di.Type {
	case DeliveryDestination, DeliveryRouter:
		hashBuf := make([]byte, 32)
		if _, err := io.ReadFull(r, hashBuf); err != nil {
			return di, fmt.Errorf("garlic: truncated delivery hash: %w", err)
		}
		hash, err := identity.IdentHashFromBytes(hashBuf)
		if err != nil {
			return di, err
		}
		di.Hash = hash
	case DeliveryTunnel:
		hashBuf := make([]byte, 32)
		if _, err := io.ReadFull(r, hashBuf); err != nil {
			return di, fmt.Errorf("garlic: truncated delivery hash: %w", err)
		}
		hash, err := identity.IdentHashFromBytes(hashBuf)
		if err != nil {
			return di, err
		}
		di.Hash = hash
		if err := binary.Read(r, binary.BigEndian, &di.TunnelID); err != nil {
			return di, fmt.Errorf("garlic: truncated delivery tunnel id: %w", err)
		}
	case DeliveryLocal:
		// no further fields
	default:
		return di, fmt.Errorf("garlic: unknown delivery instruction type %d", di.Type)
	}
	return di, nil
}

// Clove is one inner I2NP message carried inside a garlic payload (spec.md
// §4.D: "{ delivery-instructions, inner-i2np-message, u32 clove-id, u64
// expiration, 3-byte clove-cert, 3-byte msg-cert, u32 msg-id, u64
// msg-expiration }").
type Clove struct {
	Instructions  DeliveryInstructions
	InnerMessage  []byte
	CloveID       uint32
	Expiration    time.Time
	CloveCert     [3]byte
	MsgCert       [3]byte
	MsgID         uint32
	MsgExpiration time.Time
}

func (c Clove) marshal(buf *bytes.Buffer) {
	c.Instructions.marshal(buf)

	var sizeBuf [4]byte
	binary.BigEndian.PutUint32(sizeBuf[:], uint32(len(c.InnerMessage)))
	buf.Write(sizeBuf[:])
	buf.Write(c.InnerMessage)

	var idBuf [4]byte
	binary.BigEndian.PutUint32(idBuf[:], c.CloveID)
	buf.Write(idBuf[:])

	var expBuf [8]byte
	binary.BigEndian.PutUint64(expBuf[:], uint64(c.Expiration.UnixMilli()))
	buf.Write(expBuf[:])

	buf.Write(c.CloveCert[:])
	buf.Write(c.MsgCert[:])

	binary.BigEndian.PutUint32(idBuf[:], c.MsgID)
	buf.Write(idBuf[:])

	binary.BigEndian.PutUint64(expBuf[:], uint64(c.MsgExpiration.UnixMilli()))
	buf.Write(expBuf[:])
}

func parseClove(r *bytes.Reader) (Clove, error) {
	var c Clove
	instr, err := parseDeliveryInstructions(r)
	if err != nil {
		return c, err
	}
	c.Instructions = instr

	var size uint32
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return c, fmt.Errorf("garlic: truncated clove inner message size: %w", err)
	}
	inner := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(r, inner); err != nil {
			return c, fmt.Errorf("garlic: truncated clove inner message: %w", err)
		}
	}
	c.InnerMessage = inner

	if err := binary.Read(r, binary.BigEndian, &c.CloveID); err != nil {
		return c, fmt.Errorf("garlic: truncated clove id: %w", err)
	}
	var expMillis uint64
	if err := binary.Read(r, binary.BigEndian, &expMillis); err != nil {
		return c, fmt.Errorf("garlic: truncated clove expiration: %w", err)
	}
	c.Expiration = time.UnixMilli(int64(expMillis)).UTC()

	if _, err := io.ReadFull(r, c.CloveCert[:]); err != nil {
		return c, fmt.Errorf("garlic: truncated clove cert: %w", err)
	}
	if _, err := io.ReadFull(r, c.MsgCert[:]); err != nil {
		return c, fmt.Errorf("garlic: truncated msg cert: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &c.MsgID); err != nil {
		return c, fmt.Errorf("garlic: truncated msg id: %w", err)
	}
	var msgExpMillis uint64
	if err := binary.Read(r, binary.BigEndian, &msgExpMillis); err != nil {
		return c, fmt.Errorf("garlic: truncated msg expiration: %w", err)
	}
	c.MsgExpiration = time.UnixMilli(int64(msgExpMillis)).UTC()

	return c, nil
}

func marshalCloves(cloves []Clove) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(len(cloves)))
	for _, c := range cloves {
		c.marshal(&buf)
	}
	return buf.Bytes()
}

func parseCloves(data []byte) ([]Clove, error) {
	r := bytes.NewReader(data)
	count, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("garlic: truncated clove count: %w", err)
	}
	cloves := make([]Clove, 0, count)
	for i := 0; i < int(count); i++ {
		c, err := parseClove(r)
		if err != nil {
			return nil, err
		}
		cloves = append(cloves, c)
	}
	if r.Len() != 0 {
		return nil, errors.New("garlic: trailing bytes after clove set")
	}
	return cloves, nil
}
