// Package udpendpoint implements the per-ToS UDP socket of spec §4.3: one
// non-blocking socket per DSCP/ECN priority class, fixed at creation, with
// a FIFO transmit queue that is drained whenever the Priority Channel
// observes the socket writable.
//
// net.UDPConn does not expose a true non-blocking mode, so "non-blocking"
// here is emulated the usual Go way: a read/write deadline (the timeout
// the caller passes, cfg.EpollTimeout in the channels) is set before each
// syscall, and a resulting timeout is treated as EAGAIN.
package udpendpoint

import (
	"errors"
	"log"
	"net"
	"time"

	"github.com/mlt-io/mlt/wire"
)

// ErrDegraded names the state Degraded reports: the endpoint has hit a
// non-EAGAIN send error (spec §4.3). No method returns it; a degraded
// endpoint still accepts Enqueue, and a later Drain tries its queue again.
var ErrDegraded = errors.New("udpendpoint: endpoint degraded")

// Endpoint owns one UDP socket bound to a single ToS value.
type Endpoint struct {
	ToS      uint8
	conn     *net.UDPConn
	queue    []queued
	degraded bool
}

type queued struct {
	dest   *net.UDPAddr
	header wire.Header
	grad   []byte
}

// New creates a UDP socket on laddr (host:port, host may be empty) tagged
// with tos via IP_TOS/IPV6_TCLASS, per spec §4.3.
func New(laddr string, tos uint8) (*Endpoint, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	if err := setToS(conn, tos); err != nil {
		log.Printf("udpendpoint: could not set ToS 0x%02x on %s: %v (continuing without it)", tos, laddr, err)
	}
	return &Endpoint{ToS: tos, conn: conn}, nil
}

// LocalAddr returns the endpoint's bound local address.
func (e *Endpoint) LocalAddr() net.Addr {
	return e.conn.LocalAddr()
}

// Close releases the underlying socket.
func (e *Endpoint) Close() error {
	return e.conn.Close()
}

// Enqueue appends a packet to the tx queue; it is sent on a later Drain.
func (e *Endpoint) Enqueue(dest *net.UDPAddr, pkt wire.Packet) {
	e.queue = append(e.queue, queued{dest: dest, header: pkt.Header, grad: pkt.GradPtr})
}

// QueueLen reports how many packets are pending transmission.
func (e *Endpoint) QueueLen() int { return len(e.queue) }

// Degraded reports whether this endpoint has hit a fatal send error.
func (e *Endpoint) Degraded() bool { return e.degraded }

// Drain sends as many queued packets as the kernel accepts, stopping on
// EAGAIN (spec §4.3). Each send is bounded by timeout (spec §6's
// EpollTimeout, mirroring the epoll readiness wait the non-blocking
// sockets emulate). It returns the number of packets actually sent.
func (e *Endpoint) Drain(timeout time.Duration) int {
	sent := 0
	for len(e.queue) > 0 {
		q := e.queue[0]
		e.conn.SetWriteDeadline(time.Now().Add(timeout))
		err := sendOne(e.conn, q.dest, q.header, q.grad)
		if err != nil {
			if isEAGAIN(err) {
				break
			}
			log.Printf("udpendpoint: send error on ToS 0x%02x, marking degraded: %v", e.ToS, err)
			e.degraded = true
			break
		}
		e.queue = e.queue[1:]
		sent++
	}
	return sent
}

// SetReadDeadline bounds the next ReadFrom call(s), mirroring the epoll
// timeout of spec §4.6/§6.
func (e *Endpoint) SetReadDeadline(t time.Time) error {
	return e.conn.SetReadDeadline(t)
}

// ReadFrom does one recvfrom, bounded by the most recent SetReadDeadline.
// It returns ok=false, err=nil on a timeout (the EAGAIN case).
func (e *Endpoint) ReadFrom(buf []byte) (n int, from *net.UDPAddr, ok bool, err error) {
	n, from, err = e.conn.ReadFromUDP(buf)
	if err != nil {
		if isEAGAIN(err) {
			return 0, nil, false, nil
		}
		return 0, nil, false, err
	}
	return n, from, true, nil
}

func isEAGAIN(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
