// Package msg holds the message views and owned message state shared by
// the send and receive paths (spec §3: LtMessage, LtMessageExt).
package msg

import (
	"github.com/mlt-io/mlt/gaptracker"
	"github.com/mlt-io/mlt/wire"
)

// PriorityFunc computes the DSCP||ECN-encoded ToS for an outgoing packet
// (spec §4.2). It may inspect the packet's payload, e.g. to steer
// high-magnitude chunks to a high-priority queue; the only contract is
// that the returned ToS must be a pre-registered endpoint.
type PriorityFunc func(pkt wire.Packet) uint8

// LtMessage is the caller-owned view of a message to send or receive.
type LtMessage struct {
	MsgID uint32
	Buf   []byte
	Size  uint32
}

// Send is the channel-owned extension of an outgoing LtMessage (spec §3).
// It is mutated only by the Priority Channel thread.
type Send struct {
	LtMessage
	BytesSent uint32
	Prio      PriorityFunc
}

// Done reports whether the whole message has been partitioned into packets.
func (s *Send) Done() bool {
	return s.BytesSent >= s.Size
}

// Recv is the channel-owned extension of an incoming LtMessage (spec §3).
// It is mutated only by the Receiving Channel thread.
//
// Invariants: BytesReceived <= Size; Bound <= Size; Stopped transitions
// false->true at most once.
type Recv struct {
	LtMessage
	BytesReceived uint32
	Bound         uint32
	Stopped       bool
	Tracker       gaptracker.Tracker
	MaxSeq        uint32
	HaveMaxSeq    bool
}

// AlignUp rounds size up to the next multiple of elem (spec glossary:
// "Bound: align_up(elem, size*(1-loss_ratio))"). elem == 0 is treated as 1.
func AlignUp(elem, size uint32) uint32 {
	if elem == 0 {
		elem = 1
	}
	rem := size % elem
	if rem == 0 {
		return size
	}
	return size + (elem - rem)
}
