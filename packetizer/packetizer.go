// Package packetizer implements spec §4.2: splitting an outgoing message
// into fixed-MTU packets, and rebuilding any individual packet by sequence
// number for retransmission.
package packetizer

import (
	"github.com/mlt-io/mlt/config"
	"github.com/mlt-io/mlt/msg"
	"github.com/mlt-io/mlt/wire"
)

// Packetizer carries the MTU-derived sizing for one connection/endpoint set.
type Packetizer struct {
	payloadBound int
}

// New builds a Packetizer from cfg's MTU.
func New(cfg config.Config) Packetizer {
	return Packetizer{payloadBound: cfg.PayloadBound()}
}

// PayloadBound is the maximum grad-bytes carried by one packet.
func (p Packetizer) PayloadBound() int { return p.payloadBound }

// GetMaxSeqNum returns the highest sequence number a message of the given
// size will use.
func (p Packetizer) GetMaxSeqNum(size uint32) uint32 {
	if size == 0 {
		return 0
	}
	n := (int(size) + p.payloadBound - 1) / p.payloadBound
	return uint32(n - 1)
}

// PartitionOne consumes the next PayloadBound() bytes from m.BytesSent,
// builds the packet header, advances m.BytesSent, and reports the packet.
// is_last is set iff this packet completes the message.
func (p Packetizer) PartitionOne(destCommID, srcCommID uint16, m *msg.Send) wire.Packet {
	offset := m.BytesSent
	return p.buildAt(destCommID, srcCommID, m.MsgID, m.Buf, m.Size, offset, m.Prio, &m.BytesSent)
}

// PartitionOneBySeq rebuilds the packet at offset = seq*PayloadBound(),
// read-only over m (used to serve retransmission requests).
func (p Packetizer) PartitionOneBySeq(destCommID, srcCommID uint16, m *msg.Send, seq uint32) wire.Packet {
	offset := seq * uint32(p.payloadBound)
	return p.buildAt(destCommID, srcCommID, m.MsgID, m.Buf, m.Size, offset, m.Prio, nil)
}

func (p Packetizer) buildAt(destCommID, srcCommID uint16, msgID uint32, buf []byte, size, offset uint32, prio msg.PriorityFunc, advance *uint32) wire.Packet {
	remaining := size - offset
	gradBytes := uint32(p.payloadBound)
	if remaining < gradBytes {
		gradBytes = remaining
	}
	seq := offset / uint32(p.payloadBound)
	isLast := uint8(0)
	if offset+gradBytes >= size {
		isLast = 1
	}
	pkt := wire.Packet{
		Header: wire.Header{
			MsgID:     msgID,
			Offset:    offset,
			Seq:       seq,
			Len:       uint16(wire.HeaderSize) + uint16(gradBytes),
			DstCommID: destCommID,
			SrcCommID: srcCommID,
			IsLast:    isLast,
		},
		GradPtr: buf[offset : offset+gradBytes],
	}
	if prio != nil {
		pkt.Header.ToS = prio(pkt)
	}
	if advance != nil {
		*advance = offset + gradBytes
	}
	return pkt
}
