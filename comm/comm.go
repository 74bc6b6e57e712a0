// Package comm implements the Communicator façade of spec §4.8: the
// top-level entry point that starts the three channel reactors, owns the
// shared id_conn index, and exposes the blocking/async operations
// (PostSend, PostRecv, SendMetaAsync, RecvMeta, AddConnection,
// RemoveConnection). Grounded on the teacher's main.go wiring style
// (prometheusx.MustStartPrometheus, log.SetFlags at init) and on
// eventsocket/client.go's rtx.Must-guarded dial.
package comm

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/m-lab/go/anonymize"
	"github.com/m-lab/go/prometheusx"

	"github.com/mlt-io/mlt/audit"
	"github.com/mlt-io/mlt/completion"
	"github.com/mlt-io/mlt/config"
	"github.com/mlt-io/mlt/connmeta"
	"github.com/mlt-io/mlt/control"
	"github.com/mlt-io/mlt/gaptracker"
	"github.com/mlt-io/mlt/idgen"
	"github.com/mlt-io/mlt/msg"
	"github.com/mlt-io/mlt/packetizer"
	"github.com/mlt-io/mlt/pmtu"
	"github.com/mlt-io/mlt/prioritychan"
	"github.com/mlt-io/mlt/recvchan"
	"github.com/mlt-io/mlt/reliable"
	"github.com/mlt-io/mlt/reliablechan"
	"github.com/mlt-io/mlt/udpendpoint"
	"github.com/mlt-io/mlt/wire"
)

// Communicator is the top-level façade of spec §4.8.
//
// The id_conn map is the sole construction point for every ConnMeta
// (spec §3/§5): AddConnection builds one, stores it under mu, and hands
// the same pointer to all three channels' Add notifications, so
// ConnMeta.sending_rate's cross-thread atomic field is genuinely shared
// rather than triplicated.
type Communicator struct {
	cfg         config.Config
	localCommID int32

	mu      sync.Mutex
	idConn  map[int32]*connmeta.ConnMeta
	anon    anonymize.IPAnonymizer

	endpoints map[uint8]*udpendpoint.Endpoint
	pktz      packetizer.Packetizer

	priority *prioritychan.Channel
	recv     *recvchan.Channel
	reliable *reliablechan.Channel

	outbound      chan control.OutboundFrame
	rawCompletions chan completion.Completion
	completions   chan completion.Completion
	metaQueue     chan control.MetaMessage

	auditMu sync.Mutex
	audit   *audit.Writer

	promSrv interface{ Shutdown(context.Context) error }

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Communicator identified by localCommID on the wire
// (wire.Header.SrcCommID, and the handshake's comm_id exchange).
func New(cfg config.Config, localCommID int32) *Communicator {
	return &Communicator{
		cfg:         cfg,
		localCommID: localCommID,
		idConn:      make(map[int32]*connmeta.ConnMeta),
		anon:        anonymize.New(anonymize.Netblock),
		endpoints:   make(map[uint8]*udpendpoint.Endpoint),
		pktz:           packetizer.New(cfg),
		outbound:       make(chan control.OutboundFrame, 1024),
		rawCompletions: make(chan completion.Completion, 1024),
		completions:    make(chan completion.Completion, 1024),
		metaQueue:      make(chan control.MetaMessage, 256),
		stopCh:         make(chan struct{}),
	}
}

// EnableAudit turns on the in-memory completion audit ring (spec §C),
// keeping only the most recent capacity records. Must be called before
// Start.
func (c *Communicator) EnableAudit(capacity int) {
	c.auditMu.Lock()
	defer c.auditMu.Unlock()
	c.audit = &audit.Writer{Cap: capacity}
}

// FlushAudit writes the buffered audit records as CSV to w and clears the
// ring. Returns an error if auditing was never enabled via EnableAudit.
func (c *Communicator) FlushAudit(w io.Writer) error {
	c.auditMu.Lock()
	defer c.auditMu.Unlock()
	if c.audit == nil {
		return fmt.Errorf("comm: audit log not enabled, call EnableAudit first")
	}
	return c.audit.Flush(w)
}

// Start builds and starts the three channels (spec §4.8): one UDP endpoint
// per priority class, the TCP control listener, and the outbound-frame
// forwarder that moves Priority/Receiving Channel control traffic onto
// the Reliable Channel's per-peer queues.
func (c *Communicator) Start(udpHost string, reliableAddr string) error {
	for i := 0; i < c.cfg.NumPriorityQueues; i++ {
		tos := uint8(i)
		ep, err := udpendpoint.New(fmt.Sprintf("%s:0", udpHost), tos)
		if err != nil {
			return fmt.Errorf("comm: udpendpoint for ToS 0x%02x: %w", tos, err)
		}
		c.endpoints[tos] = ep
	}

	c.priority = prioritychan.New(c.cfg, c.localCommID, c.pktz, c.endpoints, c.outbound, c.rawCompletions)

	recvOutbound := make(chan control.OutboundFrame, 1024)
	c.recv = recvchan.New(c.cfg, c.localCommID, c.endpoints, recvOutbound, c.rawCompletions)

	priorityNotify := make(chan control.PriorityNotification, 256)
	recvNotify := make(chan control.RecvNotification, 256)
	reliable, err := reliablechan.New(c.cfg, c.localCommID, reliableAddr, priorityNotify, recvNotify, c.metaQueue, c.rawCompletions)
	if err != nil {
		return fmt.Errorf("comm: reliablechan.New: %w", err)
	}
	c.reliable = reliable

	if c.cfg.MetricsAddr != "" {
		c.promSrv = prometheusx.MustStartPrometheus(c.cfg.MetricsAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.wg.Add(8)
	go func() { defer c.wg.Done(); c.fanOutCompletions(c.stopCh) }()
	go func() { defer c.wg.Done(); c.priority.Run(ctx) }()
	go func() { defer c.wg.Done(); c.recv.Run(c.stopCh) }()
	go func() { defer c.wg.Done(); c.reliable.AcceptLoop() }()
	go func() { defer c.wg.Done(); c.reliable.Run(c.stopCh) }()
	go func() {
		defer c.wg.Done()
		forwardOutbound(c.outbound, recvOutbound, c.reliable, c.stopCh)
	}()
	go func() {
		defer c.wg.Done()
		forwardPriorityNotifications(priorityNotify, c.priority, c.stopCh)
	}()
	go func() {
		defer c.wg.Done()
		forwardRecvNotifications(recvNotify, c.recv, c.stopCh)
	}()

	go func() {
		<-c.stopCh
		cancel()
	}()

	log.Printf("comm: Communicator %d listening udp=%s reliable=%s", c.localCommID, udpHost, c.reliable.LocalAddr())
	return nil
}

// forwardOutbound merges the Priority and Receiving Channels' outbound
// control frames onto the Reliable Channel's single Enqueue entry point.
func forwardOutbound(priorityOut, recvOut <-chan control.OutboundFrame, r *reliablechan.Channel, stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case f := <-priorityOut:
			r.Enqueue(f)
		case f := <-recvOut:
			r.Enqueue(f)
		}
	}
}

// forwardPriorityNotifications relays the Reliable Channel's
// StopFlow/RequestRetransmit dispatch (spec §4.4's table) onto the
// Priority Channel's own notification queue.
func forwardPriorityNotifications(in <-chan control.PriorityNotification, p *prioritychan.Channel, stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case n := <-in:
			p.Notify(n)
		}
	}
}

// forwardRecvNotifications relays the Reliable Channel's
// FinishFlow/ConfirmStop dispatch onto the Receiving Channel's own
// notification queue.
func forwardRecvNotifications(in <-chan control.RecvNotification, r *recvchan.Channel, stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case n := <-in:
			r.Notify(n)
		}
	}
}

// fanOutCompletions relays each channel's raw completion into the
// application-facing queue and, if EnableAudit was called, into the audit
// ring (spec §C).
func (c *Communicator) fanOutCompletions(stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case comp := <-c.rawCompletions:
			c.auditMu.Lock()
			if c.audit != nil {
				c.audit.Append(audit.NewRecord(comp, time.Now()))
			}
			c.auditMu.Unlock()
			c.completions <- comp
		}
	}
}

// Stop tears down all three channel reactors and waits for their
// goroutines to exit.
func (c *Communicator) Stop() {
	close(c.stopCh)
	c.priority.Stop()
	c.recv.Stop()
	c.reliable.Stop()
	c.wg.Wait()
	if c.promSrv != nil {
		c.promSrv.Shutdown(context.Background())
	}
}

// ReliableAddr returns the address the Reliable Channel's TCP listener is
// bound to.
func (c *Communicator) ReliableAddr() net.Addr {
	return c.reliable.LocalAddr()
}

// AddConnection implements spec §4.8's AddConnection: the side with the
// smaller comm_id initiates the TCP connect and sends its comm_id first;
// the other side waits for the Reliable Channel's accept loop to complete
// the handshake (both sides must call AddConnection with each other's
// reliable-control address, out of band, before either side's datapath
// traffic for that peer is meaningful).
func (c *Communicator) AddConnection(peerCommID int32, udpHost string, udpPort int, reliableAddr string) error {
	peerUDPAddr := &net.UDPAddr{IP: net.ParseIP(udpHost), Port: udpPort}
	if peerUDPAddr.IP == nil {
		resolved, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", udpHost, udpPort))
		if err != nil {
			return fmt.Errorf("comm: resolving peer UDP address %s:%d: %w", udpHost, udpPort, err)
		}
		peerUDPAddr = resolved
	}

	if mtu, err := pmtu.Discover(peerUDPAddr.IP); err == nil && mtu != c.cfg.MTU {
		log.Printf("comm: path MTU to %s discovered as %d (configured MTU %d)", anonymizedIP(c.anon, peerUDPAddr.IP), mtu, c.cfg.MTU)
	}

	conn := connmeta.New(peerCommID, peerUDPAddr, c.cfg)

	c.mu.Lock()
	c.idConn[peerCommID] = conn
	c.mu.Unlock()

	c.priority.Notify(control.PriorityNotification{Kind: control.AddConnection, CommID: peerCommID, Conn: conn})
	c.recv.Notify(control.RecvNotification{Kind: control.RecvAddConnection, CommID: peerCommID, Conn: conn})
	c.reliable.Notify(control.ReliableNotification{Kind: control.ReliableAddConnection, CommID: peerCommID, Conn: conn})

	if c.localCommID < peerCommID {
		tcpConn, err := net.Dial("tcp", reliableAddr)
		if err != nil {
			return fmt.Errorf("comm: dialing reliable control socket at %s: %w", reliableAddr, err)
		}
		// Dial side of the handshake (spec §4.7): send our comm_id first,
		// then read the peer's, mirroring the accept side's read-then-send
		// order in reliablechan.completeAccept.
		if err := reliable.SendCommID(tcpConn, c.localCommID); err != nil {
			tcpConn.Close()
			return fmt.Errorf("comm: sending comm_id to %s: %w", reliableAddr, err)
		}
		if _, err := reliable.ReadCommID(tcpConn); err != nil {
			tcpConn.Close()
			return fmt.Errorf("comm: reading peer comm_id from %s: %w", reliableAddr, err)
		}
		corrID, idErr := correlationID(c.localCommID, peerCommID, tcpConn)
		if idErr == nil {
			log.Printf("comm: connection %d<->%d established (%s), correlation id %s", c.localCommID, peerCommID, anonymizedIP(c.anon, peerUDPAddr.IP), corrID)
		}
		c.reliable.RegisterOutbound(peerCommID, tcpConn)
	}
	return nil
}

func correlationID(localCommID, peerCommID int32, conn net.Conn) (string, error) {
	if tc, ok := conn.(*net.TCPConn); ok {
		return idgen.FromTCPConn(localCommID, peerCommID, tc)
	}
	return "", fmt.Errorf("comm: not a *net.TCPConn")
}

func anonymizedIP(anon anonymize.IPAnonymizer, ip net.IP) net.IP {
	cp := append(net.IP(nil), ip...)
	anon.IP(cp)
	return cp
}

// RemoveConnection implements spec §4.8's RemoveConnection: notify every
// channel, wait for each to confirm, then release the Communicator's own
// owning pointer (spec §4.4's REMOVE_CONNECTION step, generalized to the
// Communicator-initiated path).
func (c *Communicator) RemoveConnection(peerCommID int32) {
	pDone := make(chan struct{})
	rDone := make(chan struct{})
	relDone := make(chan struct{})

	c.priority.Notify(control.PriorityNotification{Kind: control.RemoveConnection, CommID: peerCommID, RemoveDoneChan: pDone})
	c.recv.Notify(control.RecvNotification{Kind: control.RecvRemoveConnection, CommID: peerCommID, RemoveDoneChan: rDone})
	c.reliable.Notify(control.ReliableNotification{Kind: control.ReliableRemoveConnection, CommID: peerCommID, RemoveDoneChan: relDone})

	<-pDone
	<-rDone
	<-relDone

	c.mu.Lock()
	delete(c.idConn, peerCommID)
	c.mu.Unlock()
}

// PostSend implements spec §4.8's PostSend: a FlowStart control signal
// goes out over the Reliable Channel, and the message descriptor is
// handed to the Priority Channel for packetizing and pacing.
func (c *Communicator) PostSend(peerCommID int32, msgID uint32, buf []byte, prio msg.PriorityFunc) error {
	c.mu.Lock()
	_, ok := c.idConn[peerCommID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("comm: PostSend for unknown comm_id %d", peerCommID)
	}

	size := uint32(len(buf))
	maxSeq := c.pktz.GetMaxSeqNum(size)
	frame := wire.EncodeFlowStart(wire.FlowStart{MsgID: int32(msgID), FlowSize: size, MaxSeqNum: maxSeq})
	c.reliable.Enqueue(control.OutboundFrame{DestCommID: peerCommID, Frame: frame})

	c.priority.PostSend(prioritychan.SendRequest{
		CommID: peerCommID,
		Msg: &msg.Send{
			LtMessage: msg.LtMessage{MsgID: msgID, Buf: buf, Size: size},
			Prio:      prio,
		},
	})
	return nil
}

// PostRecv implements spec §4.8's PostRecv.
func (c *Communicator) PostRecv(peerCommID int32, msgID uint32, buf []byte, elementSize uint32, lossRatio float64, newTracker func() gaptracker.Tracker) error {
	c.mu.Lock()
	_, ok := c.idConn[peerCommID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("comm: PostRecv for unknown comm_id %d", peerCommID)
	}
	c.recv.PostRecv(recvchan.PostRecvRequest{
		CommID:      peerCommID,
		MsgID:       msgID,
		Buf:         buf,
		Size:        uint32(len(buf)),
		ElementSize: elementSize,
		LossRatio:   lossRatio,
		NewTracker:  newTracker,
	})
	return nil
}

// SendMetaAsync implements spec §4.8's SendMetaAsync: frame payload behind
// a UserData header and hand it to the Reliable Channel's outbound queue.
func (c *Communicator) SendMetaAsync(peerCommID int32, payload []byte) {
	frame := wire.EncodeUserData(payload)
	c.reliable.Enqueue(control.OutboundFrame{DestCommID: peerCommID, Frame: frame})
}

// RecvMeta implements spec §4.8's RecvMeta: block on the meta queue until
// a UserData signal arrives or ctx is canceled.
func (c *Communicator) RecvMeta(ctx context.Context) (control.MetaMessage, error) {
	select {
	case m := <-c.metaQueue:
		return m, nil
	case <-ctx.Done():
		return control.MetaMessage{}, ctx.Err()
	}
}

// Completions exposes the completion queue (spec §6) for callers to drain
// Send/Recv completions as they arrive.
func (c *Communicator) Completions() <-chan completion.Completion {
	return c.completions
}
