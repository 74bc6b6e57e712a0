// Package prioritychan implements the Priority Channel of spec §4.5: the
// single thread that owns every UDP endpoint's transmit side, paces
// sends against each connection's sending_rate, and drives the
// retransmission protocol. Grounded on the teacher's ticker-driven
// collector.Run loop (collector/collector.go), generalized from a fixed
// netlink-poll interval to the three in-queue/drain/pace/retransmit
// phases spec §4.5 requires.
package prioritychan

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/mlt-io/mlt/completion"
	"github.com/mlt-io/mlt/config"
	"github.com/mlt-io/mlt/connmeta"
	"github.com/mlt-io/mlt/control"
	"github.com/mlt-io/mlt/metrics"
	"github.com/mlt-io/mlt/msg"
	"github.com/mlt-io/mlt/packetizer"
	"github.com/mlt-io/mlt/udpendpoint"
	"github.com/mlt-io/mlt/wire"
)

// SendRequest is one entry on sr_queue: a message newly handed to the
// Priority Channel by PostSend (spec §4.5 step 3).
type SendRequest struct {
	CommID int32
	Msg    *msg.Send
}

// Channel is the Priority Channel's reactor state. All fields below
// srQueue/notificationQueue are mutated only from the Run goroutine.
type Channel struct {
	cfg         config.Config
	localCommID int32
	packetizer  packetizer.Packetizer
	endpoints   map[uint8]*udpendpoint.Endpoint

	conns map[int32]*connmeta.ConnMeta

	srQueue           chan SendRequest
	notificationQueue chan control.PriorityNotification

	outbound    chan<- control.OutboundFrame
	completions chan<- completion.Completion

	terminated int32
}

// New builds a Priority Channel over the given priority-class endpoints,
// keyed by the ToS value each was created with. localCommID identifies
// this process's own connections on the wire (wire.Header.SrcCommID).
func New(cfg config.Config, localCommID int32, pktz packetizer.Packetizer, endpoints map[uint8]*udpendpoint.Endpoint, outbound chan<- control.OutboundFrame, completions chan<- completion.Completion) *Channel {
	return &Channel{
		cfg:               cfg,
		localCommID:       localCommID,
		packetizer:        pktz,
		endpoints:         endpoints,
		conns:             make(map[int32]*connmeta.ConnMeta),
		srQueue:           make(chan SendRequest, 256),
		notificationQueue: make(chan control.PriorityNotification, 256),
		outbound:          outbound,
		completions:       completions,
	}
}

// PostSend enqueues a new outgoing message (spec §4.8's PostSend).
func (c *Channel) PostSend(req SendRequest) {
	c.srQueue <- req
}

// Notify enqueues a cross-thread notification (spec §4.5's notification_queue).
func (c *Channel) Notify(n control.PriorityNotification) {
	c.notificationQueue <- n
}

// Stop requests the reactor loop exit at the top of its next iteration.
func (c *Channel) Stop() {
	atomic.StoreInt32(&c.terminated, 1)
}

// Run is the reactor loop (spec §4.5's six-step iteration). It blocks
// until ctx is canceled or Stop is called, and is meant to run in its own
// goroutine as the Priority Channel's dedicated OS thread.
func (c *Channel) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for atomic.LoadInt32(&c.terminated) == 0 && ctx.Err() == nil {
		start := time.Now()

		c.drainEndpoints()
		c.drainSendRequests()
		c.pacingRounds()
		c.retransmitPass()
		c.drainNotifications()

		metrics.LoopIntervalHistogram.WithLabelValues("priority").Observe(time.Since(start).Seconds())

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// step 2: drain every endpoint that has queued packets.
func (c *Channel) drainEndpoints() {
	for tos, ep := range c.endpoints {
		if ep.QueueLen() == 0 {
			continue
		}
		start := time.Now()
		sent := ep.Drain(c.cfg.EpollTimeout)
		metrics.DrainHistogram.WithLabelValues("priority").Observe(time.Since(start).Seconds())
		if sent > 0 {
			metrics.PacketsSent.WithLabelValues(tosLabel(tos)).Add(float64(sent))
		}
		if ep.Degraded() {
			metrics.ErrorCount.WithLabelValues("endpoint_degraded").Inc()
		}
	}
}

// step 3: move newly posted messages into their connection's sending_msgs.
func (c *Channel) drainSendRequests() {
	for {
		select {
		case req := <-c.srQueue:
			conn, ok := c.conns[req.CommID]
			if !ok {
				log.Printf("prioritychan: PostSend for unknown comm_id %d, dropping", req.CommID)
				continue
			}
			conn.SendingMsgs[req.Msg.MsgID] = req.Msg
		default:
			return
		}
	}
}

// step 4: up to RetransmitRoundsPerIteration rounds of rate-paced sends.
func (c *Channel) pacingRounds() {
	now := time.Now()
	for round := 0; round < c.cfg.RetransmitRoundsPerIteration; round++ {
		progressed := false
		for _, conn := range c.conns {
			for msgID, m := range conn.SendingMsgs {
				if m.Done() {
					delete(conn.SendingMsgs, msgID)
					conn.RetransmittingMsgs[msgID] = m
					continue
				}
				size := c.nextPacketSize(m)
				if !conn.TxMeter.TryBytesPerSecond(size, conn.LoadSendingRate(), now) {
					continue
				}
				pkt := c.packetizer.PartitionOne(uint16(conn.CommID), uint16(c.localCommID), m)
				c.routePacket(conn, pkt, m.Done())
				conn.TxMeter.Add(size, now)
				if rate, sampled := conn.TxMeter.SampleIfElapsed(now); sampled {
					metrics.SendRateHistogram.Observe(rate)
				}
				progressed = true
				if m.Done() {
					delete(conn.SendingMsgs, msgID)
					conn.RetransmittingMsgs[msgID] = m
				}
			}
		}
		if !progressed {
			return
		}
	}
}

func (c *Channel) nextPacketSize(m *msg.Send) uint32 {
	remaining := m.Size - m.BytesSent
	bound := uint32(c.packetizer.PayloadBound())
	if remaining < bound {
		return remaining
	}
	return bound
}

// step 5: advance each connection's active retransmit cursors.
func (c *Channel) retransmitPass() {
	now := time.Now()
	for _, conn := range c.conns {
		for msgID, cur := range conn.RetransmitReqs {
			if cur.Done() {
				delete(conn.RetransmitReqs, msgID)
				continue
			}
			m, ok := conn.RetransmittingMsgs[msgID]
			if !ok {
				delete(conn.RetransmitReqs, msgID)
				continue
			}
			block := cur.Req.Blocks[cur.Block]
			if cur.Seq < block.First {
				cur.Seq = block.First
			}
			bound := uint32(c.packetizer.PayloadBound())
			if !conn.TxMeter.TryBytesPerSecond(bound, conn.LoadSendingRate(), now) {
				continue
			}
			pkt := c.packetizer.PartitionOneBySeq(uint16(conn.CommID), uint16(c.localCommID), m, cur.Seq)
			c.routePacket(conn, pkt, false)
			conn.TxMeter.Add(bound, now)
			cur.Seq++
			if cur.Seq >= block.Last {
				cur.Block++
				if cur.Block < len(cur.Req.Blocks) {
					cur.Seq = cur.Req.Blocks[cur.Block].First
				}
			}
		}
	}
}

// routePacket implements spec §4.2's RoutePacket: dispatch to the
// endpoint matching the packet's ToS, and emit FlowFinish when the
// message is complete.
func (c *Channel) routePacket(conn *connmeta.ConnMeta, pkt wire.Packet, isFinished bool) {
	ep, ok := c.endpoints[pkt.Header.ToS]
	if !ok {
		log.Fatalf("prioritychan: no UDP endpoint registered for ToS 0x%02x", pkt.Header.ToS)
	}
	ep.Enqueue(conn.PeerAddr, pkt)
	if isFinished {
		frame := wire.EncodeFlowFinish(wire.FlowFinish{MsgID: int32(pkt.Header.MsgID)})
		c.outbound <- control.OutboundFrame{DestCommID: conn.CommID, Frame: frame}
	}
}

// step 6: apply cross-thread notifications.
func (c *Channel) drainNotifications() {
	for {
		select {
		case n := <-c.notificationQueue:
			c.applyNotification(n)
		default:
			return
		}
	}
}

func (c *Channel) applyNotification(n control.PriorityNotification) {
	switch n.Kind {
	case control.AddConnection:
		c.conns[n.CommID] = n.Conn
	case control.RemoveConnection:
		delete(c.conns, n.CommID)
		if n.RemoveDoneChan != nil {
			close(n.RemoveDoneChan)
		}
	case control.StopFlow:
		c.stopFlow(n.CommID, n.MsgID)
	case control.RequestRetransmit:
		conn, ok := c.conns[n.CommID]
		if !ok {
			return
		}
		metrics.RetransmitRequestsSent.Inc()
		if len(n.RetransmitBuf.Blocks) == 0 {
			return
		}
		conn.RetransmitReqs[n.MsgID] = &connmeta.RetransmitCursor{
			Req: n.RetransmitBuf,
			Seq: n.RetransmitBuf.Blocks[0].First,
		}
	}
}

func (c *Channel) stopFlow(commID int32, msgID uint32) {
	conn, ok := c.conns[commID]
	if !ok {
		return
	}
	var bytesSent uint32
	if m, ok := conn.SendingMsgs[msgID]; ok {
		bytesSent = m.BytesSent
		delete(conn.SendingMsgs, msgID)
	} else if m, ok := conn.RetransmittingMsgs[msgID]; ok {
		bytesSent = m.BytesSent
		delete(conn.RetransmittingMsgs, msgID)
	}
	delete(conn.RetransmitReqs, msgID)

	frame := wire.EncodeStopConfirm(wire.StopConfirm{MsgID: int32(msgID)})
	c.outbound <- control.OutboundFrame{DestCommID: commID, Frame: frame}

	metrics.CompletionsEmitted.WithLabelValues("send").Inc()
	c.completions <- completion.Completion{MsgID: msgID, Type: completion.Send, RemoteCommID: commID, Bytes: bytesSent}
}

func tosLabel(tos uint8) string {
	const hextable = "0123456789abcdef"
	return string([]byte{'0', 'x', hextable[tos>>4], hextable[tos&0xf]})
}
