// Package connmeta holds ConnMeta, the per-peer state spec §3 and §5
// describe as partitioned by owning thread: each field is mutated by
// exactly one channel, except sending_rate which crosses threads and is
// therefore accessed atomically. Factored into its own package (rather
// than living inside comm) so prioritychan and recvchan can share the
// type without importing the Communicator that owns the id_conn index.
package connmeta

import (
	"math"
	"net"
	"sync/atomic"

	"github.com/mlt-io/mlt/config"
	"github.com/mlt-io/mlt/msg"
	"github.com/mlt-io/mlt/wire"
)

// RetransmitCursor tracks progress through a RetransmitRequest's block
// list (spec §4.5 step 5: a cursor {block_idx, seq}).
type RetransmitCursor struct {
	Req     wire.RetransmitRequest
	Block   int
	Seq     uint32
}

// Done reports whether every block in the request has been replayed.
func (c *RetransmitCursor) Done() bool {
	return c.Block >= len(c.Req.Blocks)
}

// BacklogEntry is one datagram buffered by the Receiving Channel because
// no PostRecv had registered the message yet (spec §4.6 step 5).
type BacklogEntry struct {
	Offset uint32
	Data   []byte
	IsLast uint8
}

// ConnMeta is one peer's connection state, as described by spec §3/§5.
//
// Ownership by field (no internal mutex needed, per spec §5):
//   - SendingMsgs, RetransmittingMsgs, RetransmitReqs: Priority Channel only.
//   - RecvMsgs, Backlog: Receiving Channel only.
//   - SendingRate: atomic; Priority loads, Reliable stores.
//
// The FlowStart->FlowFinish max_seq handoff (spec §4.4) is Reliable
// Channel-local bookkeeping, not part of this struct: reliablechan.Channel
// holds each max_seq until the matching FlowFinish, then passes it to the
// Receiving Channel in the FinishFlow notification.
type ConnMeta struct {
	CommID   int32
	PeerAddr *net.UDPAddr

	sendingRateBits uint64 // atomic, see LoadSendingRate/StoreSendingRate

	SendWindow float64

	SendingMsgs        map[uint32]*msg.Send
	RetransmittingMsgs map[uint32]*msg.Send
	RetransmitReqs     map[uint32]*RetransmitCursor

	RecvMsgs map[uint32]*msg.Recv
	Backlog  map[uint32][]BacklogEntry

	TxMeter *RateMeter
	RxMeter *RateMeter
}

// New builds a ConnMeta with its initial sending rate/window per cfg
// (spec §6 defaults).
func New(commID int32, peerAddr *net.UDPAddr, cfg config.Config) *ConnMeta {
	c := &ConnMeta{
		CommID:             commID,
		PeerAddr:           peerAddr,
		SendWindow:         cfg.InitialSendWindow,
		SendingMsgs:        make(map[uint32]*msg.Send),
		RetransmittingMsgs: make(map[uint32]*msg.Send),
		RetransmitReqs:     make(map[uint32]*RetransmitCursor),
		RecvMsgs:           make(map[uint32]*msg.Recv),
		Backlog:            make(map[uint32][]BacklogEntry),
		TxMeter:            NewRateMeter(cfg.RateMonitorInterval),
		RxMeter:            NewRateMeter(cfg.RateMonitorInterval),
	}
	c.StoreSendingRate(cfg.InitialSendingRateBytesPerSec)
	return c
}

// LoadSendingRate atomically reads the connection's current sending rate.
func (c *ConnMeta) LoadSendingRate() float64 {
	return math.Float64frombits(atomic.LoadUint64(&c.sendingRateBits))
}

// StoreSendingRate atomically sets the connection's sending rate.
func (c *ConnMeta) StoreSendingRate(rate float64) {
	atomic.StoreUint64(&c.sendingRateBits, math.Float64bits(rate))
}
