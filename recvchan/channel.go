// Package recvchan implements the Receiving Channel of spec §4.6: the
// single thread that owns the listening UDP sockets' read side, matches
// arriving datagrams to posted receives, tracks gaps, and drives the
// sender-throttling and retransmit-request signaling. Grounded on the
// teacher's collector.Run ticker loop (collector/collector.go), and on
// cache/cache.go's per-cycle bookkeeping for the backlog/recv_msgs
// partitioning idiom.
package recvchan

import (
	"fmt"
	"log"
	"net"
	"sync/atomic"
	"time"

	"github.com/m-lab/go/rtx"

	"github.com/mlt-io/mlt/completion"
	"github.com/mlt-io/mlt/config"
	"github.com/mlt-io/mlt/connmeta"
	"github.com/mlt-io/mlt/control"
	"github.com/mlt-io/mlt/gaptracker"
	"github.com/mlt-io/mlt/metrics"
	"github.com/mlt-io/mlt/msg"
	"github.com/mlt-io/mlt/udpendpoint"
	"github.com/mlt-io/mlt/wire"
)

// PostRecvRequest is one user-posted receive (spec §4.6's PollReceiveRequest).
type PostRecvRequest struct {
	CommID      int32
	MsgID       uint32
	Buf         []byte
	Size        uint32
	ElementSize uint32
	LossRatio   float64
	NewTracker  func() gaptracker.Tracker
}

// Channel is the Receiving Channel's reactor state. Only the Run goroutine
// touches conns' RecvMsgs/Backlog fields, per spec §5.
type Channel struct {
	cfg         config.Config
	localCommID int32
	endpoints   map[uint8]*udpendpoint.Endpoint

	conns map[int32]*connmeta.ConnMeta

	postRecv      chan PostRecvRequest
	notifications chan control.RecvNotification

	reliableOutbound chan<- control.OutboundFrame
	completions      chan<- completion.Completion

	readBuf    []byte
	terminated int32
}

// New builds a Receiving Channel over the shared per-ToS UDP endpoints
// (the same sockets the Priority Channel writes to; UDP sockets carry both
// directions).
func New(cfg config.Config, localCommID int32, endpoints map[uint8]*udpendpoint.Endpoint, reliableOutbound chan<- control.OutboundFrame, completions chan<- completion.Completion) *Channel {
	return &Channel{
		cfg:              cfg,
		localCommID:      localCommID,
		endpoints:        endpoints,
		conns:            make(map[int32]*connmeta.ConnMeta),
		postRecv:         make(chan PostRecvRequest, 256),
		notifications:    make(chan control.RecvNotification, 256),
		reliableOutbound: reliableOutbound,
		completions:      completions,
		readBuf:          make([]byte, cfg.MaxSegment()),
	}
}

// PostRecv enqueues a user-posted receive.
func (c *Channel) PostRecv(req PostRecvRequest) {
	c.postRecv <- req
}

// Notify enqueues a cross-thread notification.
func (c *Channel) Notify(n control.RecvNotification) {
	c.notifications <- n
}

// Stop requests the reactor loop exit at the top of its next iteration.
func (c *Channel) Stop() {
	atomic.StoreInt32(&c.terminated, 1)
}

// Run is the reactor loop: non-blocking recvfrom over every endpoint, then
// drain the two queues, repeated until Stop or stopCh closes. Each
// iteration's recvfrom pass is bounded by a read deadline of
// cfg.EpollTimeout (see drainDatagrams), which paces the loop the way the
// spec's epoll timeout paces the teacher's readiness wait.
func (c *Channel) Run(stopCh <-chan struct{}) {
	for atomic.LoadInt32(&c.terminated) == 0 {
		select {
		case <-stopCh:
			return
		default:
		}

		start := time.Now()

		c.drainDatagrams()
		c.drainPostRecv()
		c.drainNotifications()

		metrics.LoopIntervalHistogram.WithLabelValues("receiving").Observe(time.Since(start).Seconds())
	}
}

// step: pull every ready datagram off every endpoint, bounded by
// EpollMaxEvents per endpoint per iteration so one noisy socket cannot
// starve the others.
func (c *Channel) drainDatagrams() {
	deadline := time.Now().Add(c.cfg.EpollTimeout)
	for _, ep := range c.endpoints {
		ep.SetReadDeadline(deadline)
		for i := 0; i < c.cfg.EpollMaxEvents; i++ {
			n, from, ok, err := ep.ReadFrom(c.readBuf)
			if err != nil {
				metrics.ErrorCount.WithLabelValues("recvfrom_error").Inc()
				break
			}
			if !ok {
				break
			}
			c.handleDatagram(c.readBuf[:n], from)
		}
	}
}

func (c *Channel) handleDatagram(buf []byte, from *net.UDPAddr) {
	hdr, err := wire.ParseHeader(buf)
	if err != nil {
		log.Printf("recvchan: malformed datagram from %s: %v", from, err)
		metrics.ErrorCount.WithLabelValues("malformed_datagram").Inc()
		return
	}
	if hdr.DstCommID != uint16(c.localCommID) {
		metrics.PacketsReceived.WithLabelValues("wrong_dst").Inc()
		return
	}
	conn, ok := c.conns[int32(hdr.SrcCommID)]
	if !ok {
		metrics.PacketsReceived.WithLabelValues("unknown_conn").Inc()
		return
	}
	grad := buf[wire.HeaderSize:]
	now := time.Now()
	conn.RxMeter.Add(uint32(len(grad)), now)
	if rate, sampled := conn.RxMeter.SampleIfElapsed(now); sampled {
		metrics.ReceiveRateHistogram.Observe(rate)
		frame := wire.EncodeRateAdjustment(wire.RateAdjustment{SendingRate: float32(rate)})
		c.reliableOutbound <- control.OutboundFrame{DestCommID: conn.CommID, Frame: frame}
	}

	if m, ok := conn.RecvMsgs[hdr.MsgID]; ok {
		c.copyGradients(m, hdr, grad)
		metrics.PacketsReceived.WithLabelValues("merged").Inc()
		c.maybeStop(conn, m)
		return
	}
	if c.stageBacklog(conn, hdr, grad) {
		metrics.PacketsReceived.WithLabelValues("backlogged").Inc()
	} else {
		metrics.PacketsReceived.WithLabelValues("dropped").Inc()
	}
}

// copyGradients implements spec §4.6's CopyGradients.
func (c *Channel) copyGradients(m *msg.Recv, hdr wire.Header, grad []byte) uint32 {
	if hdr.Seq >= m.Tracker.Size() {
		m.Tracker.Resize(hdr.Seq + 1)
	}
	if m.Tracker.Check(hdr.Seq) {
		return 0
	}
	m.Tracker.Take(hdr.Seq)
	gradBytes := uint32(len(grad))
	rtx.Must(boundsCheck(hdr.Offset, gradBytes, m.Size), "recvchan: packet offset+grad_bytes exceeds message size for msg_id %d", m.MsgID)
	n := copy(m.Buf[hdr.Offset:], grad)
	m.BytesReceived += uint32(n)
	return uint32(n)
}

func boundsCheck(offset, gradBytes, size uint32) error {
	if offset+gradBytes > size {
		return fmt.Errorf("offset %d + grad_bytes %d > size %d", offset, gradBytes, size)
	}
	return nil
}

// maybeStop implements spec §4.6 step 6: once enough of the message has
// arrived, ask the sender to stop.
func (c *Channel) maybeStop(conn *connmeta.ConnMeta, m *msg.Recv) {
	if m.Stopped || m.BytesReceived < m.Bound {
		return
	}
	m.Stopped = true
	frame := wire.EncodeStopRequest(wire.StopRequest{
		MsgID:       int32(m.MsgID),
		CommID:      c.localCommID,
		SendingRate: float32(conn.LoadSendingRate()),
	})
	c.reliableOutbound <- control.OutboundFrame{DestCommID: conn.CommID, Frame: frame}
}

// stageBacklog buffers a datagram for a msg_id with no posted receive yet
// (spec §4.6 step 5). Reports whether the datagram was kept.
func (c *Channel) stageBacklog(conn *connmeta.ConnMeta, hdr wire.Header, grad []byte) bool {
	used := backlogBytesUsed(conn)
	if used+len(grad) > c.cfg.BacklogBufferSize {
		return false
	}
	cp := make([]byte, len(grad))
	copy(cp, grad)
	conn.Backlog[hdr.MsgID] = append(conn.Backlog[hdr.MsgID], connmeta.BacklogEntry{
		Offset: hdr.Offset,
		Data:   cp,
		IsLast: hdr.IsLast,
	})
	return true
}

func backlogBytesUsed(conn *connmeta.ConnMeta) int {
	total := 0
	for _, entries := range conn.Backlog {
		for _, e := range entries {
			total += len(e.Data)
		}
	}
	return total
}

// drainPostRecv implements PollReceiveRequest: register the caller's
// buffer and drain any backlog already staged for it.
func (c *Channel) drainPostRecv() {
	for {
		select {
		case req := <-c.postRecv:
			c.applyPostRecv(req)
		default:
			return
		}
	}
}

func (c *Channel) applyPostRecv(req PostRecvRequest) {
	conn, ok := c.conns[req.CommID]
	if !ok {
		log.Printf("recvchan: PostRecv for unknown comm_id %d, dropping", req.CommID)
		return
	}
	newTracker := req.NewTracker
	if newTracker == nil {
		newTracker = func() gaptracker.Tracker { return gaptracker.NewBitmap(0) }
	}
	m := &msg.Recv{
		LtMessage: msg.LtMessage{MsgID: req.MsgID, Buf: req.Buf, Size: req.Size},
		Bound:     msg.AlignUp(req.ElementSize, uint32(float64(req.Size)*(1-req.LossRatio))),
		Tracker:   newTracker(),
	}
	conn.RecvMsgs[req.MsgID] = m
	for _, entry := range conn.Backlog[req.MsgID] {
		seq := entry.Offset / uint32(c.cfg.PayloadBound())
		hdr := wire.Header{MsgID: req.MsgID, Offset: entry.Offset, Seq: seq, IsLast: entry.IsLast}
		c.copyGradients(m, hdr, entry.Data)
	}
	delete(conn.Backlog, req.MsgID)
	c.maybeStop(conn, m)
}

func (c *Channel) drainNotifications() {
	for {
		select {
		case n := <-c.notifications:
			c.applyNotification(n)
		default:
			return
		}
	}
}

func (c *Channel) applyNotification(n control.RecvNotification) {
	switch n.Kind {
	case control.RecvAddConnection:
		c.conns[n.CommID] = n.Conn
	case control.RecvRemoveConnection:
		delete(c.conns, n.CommID)
		if n.RemoveDoneChan != nil {
			close(n.RemoveDoneChan)
		}
	case control.FinishFlow:
		c.finishFlow(n.CommID, n.MsgID, n.MaxSeq)
	case control.ConfirmStop:
		c.confirmStop(n.CommID, n.MsgID)
	}
}

// finishFlow implements spec §4.6's FINISH_FLOW.
func (c *Channel) finishFlow(commID int32, msgID, maxSeq uint32) {
	conn, ok := c.conns[commID]
	if !ok {
		return
	}
	m, ok := conn.RecvMsgs[msgID]
	if !ok {
		blocks := []wire.Block{{First: 0, Last: maxSeq + 1}}
		c.sendRetransmitRequest(conn, msgID, blocks)
		return
	}
	if maxSeq+1 > m.Tracker.Size() {
		m.Tracker.Resize(maxSeq + 1)
	}
	if m.Tracker.ByteSize() == 0 {
		return
	}
	c.sendRetransmitRequest(conn, msgID, gaptracker.MissingRanges(m.Tracker))
}

func (c *Channel) sendRetransmitRequest(conn *connmeta.ConnMeta, msgID uint32, blocks []wire.Block) {
	frame := wire.EncodeRetransmitRequest(wire.RetransmitRequest{
		MsgID:     int32(msgID),
		CommID:    c.localCommID,
		NumBlocks: uint32(len(blocks)),
		Blocks:    blocks,
	})
	c.reliableOutbound <- control.OutboundFrame{DestCommID: conn.CommID, Frame: frame}
}

// confirmStop implements spec §4.6's CONFIRM_STOP.
func (c *Channel) confirmStop(commID int32, msgID uint32) {
	conn, ok := c.conns[commID]
	if !ok {
		return
	}
	m, ok := conn.RecvMsgs[msgID]
	if !ok {
		return
	}
	metrics.CompletionsEmitted.WithLabelValues("recv").Inc()
	c.completions <- completion.Completion{MsgID: msgID, Type: completion.Recv, RemoteCommID: commID, Bytes: m.BytesReceived}
	delete(conn.RecvMsgs, msgID)
}
