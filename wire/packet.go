// Package wire defines the on-the-wire layout of MLT's two framing types:
// the 20-byte GradPacket header carried on UDP datagrams, and the
// length-prefixed control signal frames carried on the TCP side channel.
//
// Both layouts are little-endian and packed with no padding; they must be
// reproduced bit-exactly across implementations, so encoding goes through
// encoding/binary rather than an unsafe struct overlay.
package wire

import (
	"encoding/binary"
	"errors"
)

// HeaderSize is the fixed size of a GradPacket header on the wire.
const HeaderSize = 20

// ErrShortHeader is returned when a buffer is too small to hold a GradPacket header.
var ErrShortHeader = errors.New("wire: buffer shorter than header size")

// ErrShortFrame is returned when a buffer is too small to hold a declared frame length.
var ErrShortFrame = errors.New("wire: buffer shorter than frame length")

// Header is the fixed 20-byte GradPacket header. Field order and widths
// mirror linux's __attribute__((packed)) layout documented in spec §3:
// msg_id, offset, seq, len, dst_comm_id, src_comm_id, tos, is_last.
type Header struct {
	MsgID     uint32
	Offset    uint32
	Seq       uint32
	Len       uint16
	DstCommID uint16
	SrcCommID uint16
	ToS       uint8
	IsLast    uint8
}

// Packet is a GradPacket as held in memory: the wire header plus a pointer
// into the payload region it was sliced from. GradPtr is never transmitted;
// only Header and the grad_bytes = Header.Len - HeaderSize bytes reachable
// from GradPtr go over the wire.
type Packet struct {
	Header  Header
	GradPtr []byte
}

// PutHeader encodes h into buf[:HeaderSize]. buf must have length >= HeaderSize.
func PutHeader(buf []byte, h Header) {
	binary.LittleEndian.PutUint32(buf[0:4], h.MsgID)
	binary.LittleEndian.PutUint32(buf[4:8], h.Offset)
	binary.LittleEndian.PutUint32(buf[8:12], h.Seq)
	binary.LittleEndian.PutUint16(buf[12:14], h.Len)
	binary.LittleEndian.PutUint16(buf[14:16], h.DstCommID)
	binary.LittleEndian.PutUint16(buf[16:18], h.SrcCommID)
	buf[18] = h.ToS
	buf[19] = h.IsLast
}

// ParseHeader decodes a GradPacket header from the front of buf.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	return Header{
		MsgID:     binary.LittleEndian.Uint32(buf[0:4]),
		Offset:    binary.LittleEndian.Uint32(buf[4:8]),
		Seq:       binary.LittleEndian.Uint32(buf[8:12]),
		Len:       binary.LittleEndian.Uint16(buf[12:14]),
		DstCommID: binary.LittleEndian.Uint16(buf[14:16]),
		SrcCommID: binary.LittleEndian.Uint16(buf[16:18]),
		ToS:       buf[18],
		IsLast:    buf[19],
	}, nil
}

// GradBytes returns the payload length implied by the header: Len is
// header-plus-payload, per spec §3.
func (h Header) GradBytes() int {
	return int(h.Len) - HeaderSize
}
