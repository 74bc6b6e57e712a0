// Package reliablechan implements the Reliable Channel of spec §4.7: the
// single thread owning the listening TCP control socket and one
// reliable.Endpoint per peer, dispatching decoded signals per the table in
// spec §4.4. Grounded on the teacher's eventsocket server's accept-loop and
// client-map idiom (eventsocket/server.go), generalized from a pub-sub
// unix-socket broadcaster to a per-peer signal dispatcher.
package reliablechan

import (
	"log"
	"net"
	"sync/atomic"
	"time"

	"github.com/mlt-io/mlt/completion"
	"github.com/mlt-io/mlt/config"
	"github.com/mlt-io/mlt/connmeta"
	"github.com/mlt-io/mlt/control"
	"github.com/mlt-io/mlt/metrics"
	"github.com/mlt-io/mlt/reliable"
	"github.com/mlt-io/mlt/wire"
)

type dialedConn struct {
	peerCommID int32
	conn       net.Conn
}

// Channel is the Reliable Channel's reactor state. endpoints, conns and
// flowMaxSeq are touched only by the Run goroutine; outbound, accepted,
// dialed and notifications are the queues that feed it from other
// goroutines.
type Channel struct {
	cfg         config.Config
	localCommID int32
	listener    net.Listener

	endpoints map[int32]*reliable.Endpoint
	conns     map[int32]*connmeta.ConnMeta

	// flowMaxSeq holds each peer's in-flight FlowStart max_seq_num until
	// the matching FlowFinish arrives (spec §4.4's FlowStart row).
	flowMaxSeq map[int32]map[uint32]uint32

	outbound chan control.OutboundFrame
	accepted chan net.Conn
	dialed   chan dialedConn

	notifications chan control.ReliableNotification
	priorityNotify chan<- control.PriorityNotification
	recvNotify     chan<- control.RecvNotification
	metaQueue      chan<- control.MetaMessage
	completions    chan<- completion.Completion

	readBuf []byte

	terminated int32
}

// New builds a Reliable Channel listening on laddr.
func New(cfg config.Config, localCommID int32, laddr string, priorityNotify chan<- control.PriorityNotification, recvNotify chan<- control.RecvNotification, metaQueue chan<- control.MetaMessage, completions chan<- completion.Completion) (*Channel, error) {
	l, err := net.Listen("tcp", laddr)
	if err != nil {
		return nil, err
	}
	return &Channel{
		cfg:            cfg,
		localCommID:    localCommID,
		listener:       l,
		endpoints:      make(map[int32]*reliable.Endpoint),
		conns:          make(map[int32]*connmeta.ConnMeta),
		flowMaxSeq:     make(map[int32]map[uint32]uint32),
		outbound:       make(chan control.OutboundFrame, 256),
		accepted:       make(chan net.Conn, 64),
		dialed:         make(chan dialedConn, 64),
		notifications:  make(chan control.ReliableNotification, 256),
		priorityNotify: priorityNotify,
		recvNotify:     recvNotify,
		metaQueue:      metaQueue,
		completions:    completions,
		readBuf:        make([]byte, 64*1024),
	}, nil
}

// LocalAddr returns the listener's bound address.
func (c *Channel) LocalAddr() net.Addr { return c.listener.Addr() }

// Enqueue queues a control frame for transmission to one peer (spec §4.7's
// thread-safe outbound queue, fed by the Priority and Receiving Channels).
func (c *Channel) Enqueue(f control.OutboundFrame) {
	c.outbound <- f
}

// Notify enqueues a connection lifecycle notification.
func (c *Channel) Notify(n control.ReliableNotification) {
	c.notifications <- n
}

// Stop requests the reactor loop and the accept loop exit.
func (c *Channel) Stop() {
	atomic.StoreInt32(&c.terminated, 1)
	c.listener.Close()
}

// AcceptLoop blocks on listener.Accept in its own goroutine (the listener's
// Accept has no non-blocking mode), handing each connection to Run via the
// accepted channel, exactly as the teacher's eventsocket server's Serve
// loop feeds addClient.
func (c *Channel) AcceptLoop() {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			if atomic.LoadInt32(&c.terminated) != 0 {
				return
			}
			log.Printf("reliablechan: accept error: %v", err)
			continue
		}
		c.accepted <- conn
	}
}

// Run is the reactor loop: accept new peers, drive each endpoint's
// send/receive state machine, and apply lifecycle notifications.
func (c *Channel) Run(stopCh <-chan struct{}) {
	for atomic.LoadInt32(&c.terminated) == 0 {
		select {
		case <-stopCh:
			return
		default:
		}

		start := time.Now()

		c.drainNotifications()
		c.drainAccepted()
		c.drainDialed()
		c.driveEndpoints()
		c.gcDeadEndpoints()

		metrics.LoopIntervalHistogram.WithLabelValues("reliable").Observe(time.Since(start).Seconds())
	}
}

func (c *Channel) drainAccepted() {
	for {
		select {
		case conn := <-c.accepted:
			c.completeAccept(conn)
		default:
			return
		}
	}
}

func (c *Channel) drainDialed() {
	for {
		select {
		case d := <-c.dialed:
			c.registerEndpoint(d.peerCommID, d.conn)
		default:
			return
		}
	}
}

func (c *Channel) completeAccept(conn net.Conn) {
	peerCommID, err := reliable.ReadCommID(conn)
	if err != nil {
		log.Printf("reliablechan: handshake failed from %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		metrics.ErrorCount.WithLabelValues("handshake_failed").Inc()
		return
	}
	if err := reliable.SendCommID(conn, c.localCommID); err != nil {
		log.Printf("reliablechan: handshake reply failed to %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	c.registerEndpoint(peerCommID, conn)
}

// RegisterOutbound is the dial-side equivalent of completeAccept: the
// Communicator calls this after it has dialed out and exchanged comm_ids
// with a peer, which it does when its own comm_id is the smaller of the
// two (spec §4.8's AddConnection). The
// ConnMeta itself is created and registered by the Communicator via
// Notify(ReliableAddConnection) beforehand, so this only needs to wire up
// the TCP endpoint; it hands off through the dialed queue rather than
// touching c.endpoints directly, since this method runs on the
// Communicator's calling goroutine, not the Run goroutine.
func (c *Channel) RegisterOutbound(peerCommID int32, conn net.Conn) {
	c.dialed <- dialedConn{peerCommID: peerCommID, conn: conn}
}

func (c *Channel) registerEndpoint(peerCommID int32, conn net.Conn) {
	if err := reliable.SetDSCP(conn, c.cfg.ReliableDSCP); err != nil {
		log.Printf("reliablechan: SetDSCP for peer %d: %v", peerCommID, err)
	}
	ep := reliable.New(conn, peerCommID)
	c.endpoints[peerCommID] = ep
	c.flowMaxSeq[peerCommID] = make(map[uint32]uint32)
}

func (c *Channel) driveEndpoints() {
	writeDeadline := time.Now().Add(c.cfg.EpollTimeout)
	readDeadline := time.Now().Add(c.cfg.EpollTimeout)
	for peerCommID, ep := range c.endpoints {
		c.fillOutbox(peerCommID, ep)
		if err := ep.Drain(writeDeadline); err != nil {
			metrics.ErrorCount.WithLabelValues("reliable_write_error").Inc()
		}
		frames, err := ep.Poll(c.readBuf, readDeadline)
		if err != nil {
			metrics.ErrorCount.WithLabelValues("reliable_read_error").Inc()
		}
		for _, f := range frames {
			c.dispatch(peerCommID, f)
		}
	}
}

// fillOutbox moves any outbound frames destined for this peer from the
// shared MPSC queue onto the peer's own endpoint queue. Frames for peers
// not yet registered are requeued for a later iteration.
func (c *Channel) fillOutbox(peerCommID int32, ep *reliable.Endpoint) {
	var requeue []control.OutboundFrame
	for {
		select {
		case f := <-c.outbound:
			if f.DestCommID == peerCommID {
				ep.Enqueue(f.Frame)
			} else {
				requeue = append(requeue, f)
			}
		default:
			for _, f := range requeue {
				c.outbound <- f
			}
			return
		}
	}
}

func (c *Channel) gcDeadEndpoints() {
	for peerCommID, ep := range c.endpoints {
		if ep.Dead() {
			ep.Close()
			delete(c.endpoints, peerCommID)
			delete(c.flowMaxSeq, peerCommID)
		}
	}
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

func (c *Channel) applyNotification(n control.ReliableNotification) {
	switch n.Kind {
	case control.ReliableAddConnection:
		c.conns[n.CommID] = n.Conn
	case control.ReliableRemoveConnection:
		delete(c.conns, n.CommID)
		if ep, ok := c.endpoints[n.CommID]; ok {
			ep.Close()
			delete(c.endpoints, n.CommID)
			delete(c.flowMaxSeq, n.CommID)
		}
		if n.RemoveDoneChan != nil {
			close(n.RemoveDoneChan)
		}
	}
}

// dispatch applies spec §4.4's per-signal table.
func (c *Channel) dispatch(peerCommID int32, f wire.Frame) {
	switch f.Type {
	case wire.SignalUserData:
		c.metaQueue <- control.MetaMessage{SrcCommID: peerCommID, Payload: append([]byte(nil), f.Payload...)}

	case wire.SignalFlowStart:
		s, err := wire.DecodeFlowStart(f.Payload)
		if err != nil {
			c.dropMalformed("FlowStart")
			return
		}
		if _, ok := c.flowMaxSeq[peerCommID]; !ok {
			c.flowMaxSeq[peerCommID] = make(map[uint32]uint32)
		}
		c.flowMaxSeq[peerCommID][uint32(s.MsgID)] = s.MaxSeqNum

	case wire.SignalFlowFinish:
		s, err := wire.DecodeFlowFinish(f.Payload)
		if err != nil {
			c.dropMalformed("FlowFinish")
			return
		}
		msgID := uint32(s.MsgID)
		maxSeq := c.flowMaxSeq[peerCommID][msgID]
		delete(c.flowMaxSeq[peerCommID], msgID)
		c.recvNotify <- control.RecvNotification{Kind: control.FinishFlow, CommID: peerCommID, MsgID: msgID, MaxSeq: maxSeq}

	case wire.SignalRateAdjustment:
		s, err := wire.DecodeRateAdjustment(f.Payload)
		if err != nil {
			c.dropMalformed("RateAdjustment")
			return
		}
		c.applyRateAdjustment(peerCommID, float64(s.SendingRate))

	case wire.SignalRetransmitRequest:
		s, err := wire.DecodeRetransmitRequest(f.Payload)
		if err != nil {
			c.dropMalformed("RetransmitRequest")
			return
		}
		metrics.RetransmitRequestsSent.Inc()
		c.priorityNotify <- control.PriorityNotification{Kind: control.RequestRetransmit, CommID: peerCommID, MsgID: uint32(s.MsgID), RetransmitBuf: s}

	case wire.SignalStopRequest:
		s, err := wire.DecodeStopRequest(f.Payload)
		if err != nil {
			c.dropMalformed("StopRequest")
			return
		}
		c.priorityNotify <- control.PriorityNotification{Kind: control.StopFlow, CommID: peerCommID, MsgID: uint32(s.MsgID)}

	case wire.SignalStopConfirm:
		s, err := wire.DecodeStopConfirm(f.Payload)
		if err != nil {
			c.dropMalformed("StopConfirm")
			return
		}
		c.recvNotify <- control.RecvNotification{Kind: control.ConfirmStop, CommID: peerCommID, MsgID: uint32(s.MsgID)}

	default:
		c.dropMalformed(f.Type.String())
	}
}

func (c *Channel) dropMalformed(kind string) {
	log.Printf("reliablechan: dropping malformed %s frame", kind)
	metrics.ErrorCount.WithLabelValues("malformed_frame").Inc()
}

// applyRateAdjustment implements spec §4.4's RateAdjustment rule: if the
// connection's current sending_rate exceeds the received throttle, clamp
// to it; otherwise double, floored at the connection's initial rate.
func (c *Channel) applyRateAdjustment(peerCommID int32, throttle float64) {
	conn, ok := c.conns[peerCommID]
	if !ok {
		return
	}
	current := conn.LoadSendingRate()
	if current > throttle {
		conn.StoreSendingRate(throttle)
		return
	}
	next := current * 2
	if next < c.cfg.InitialSendingRateBytesPerSec {
		next = c.cfg.InitialSendingRateBytesPerSec
	}
	conn.StoreSendingRate(next)
}
