// Package reliable implements the per-peer TCP framer of spec §4.4: a
// length-prefixed send/receive state machine layered over one net.Conn,
// with a FIFO outbound queue so a partially-written frame survives across
// readiness events.
package reliable

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/mlt-io/mlt/wire"
)

// ErrDead names the state Dead reports: the endpoint has observed a 0-read
// or a fatal socket error. Drain and Poll do not return it; they return
// the underlying socket error (io.EOF for a 0-read) when the endpoint dies.
var ErrDead = errors.New("reliable: endpoint dead")

// Endpoint is one peer's TCP control connection.
type Endpoint struct {
	conn       net.Conn
	peerCommID int32

	outbox []outboxEntry
	reader wire.FrameReader

	dead bool
}

type outboxEntry struct {
	buf    []byte
	cursor int
}

// New wraps conn, already handshaken with peerCommID (spec §4.7: the 4-byte
// comm_id read immediately after accept/connect).
func New(conn net.Conn, peerCommID int32) *Endpoint {
	return &Endpoint{conn: conn, peerCommID: peerCommID}
}

// PeerCommID is the remote side's connection id.
func (e *Endpoint) PeerCommID() int32 { return e.peerCommID }

// Dead reports whether this endpoint has been torn down.
func (e *Endpoint) Dead() bool { return e.dead }

// Close releases the underlying socket.
func (e *Endpoint) Close() error { return e.conn.Close() }

// Enqueue appends an already-length-prefixed frame to the send queue.
func (e *Endpoint) Enqueue(frame []byte) {
	e.outbox = append(e.outbox, outboxEntry{buf: frame})
}

// QueueLen reports the number of outbound frames not yet fully sent.
func (e *Endpoint) QueueLen() int { return len(e.outbox) }

// Drain sends as much of the outbound queue as the kernel accepts,
// advancing a partially-sent buffer's cursor rather than re-sending it
// from the start, and stopping on EAGAIN (spec §4.4).
func (e *Endpoint) Drain(deadline time.Time) error {
	e.conn.SetWriteDeadline(deadline)
	for len(e.outbox) > 0 {
		head := &e.outbox[0]
		n, err := e.conn.Write(head.buf[head.cursor:])
		head.cursor += n
		if head.cursor >= len(head.buf) {
			e.outbox = e.outbox[1:]
		}
		if err != nil {
			if isTimeout(err) {
				return nil
			}
			e.dead = true
			return err
		}
	}
	return nil
}

// Poll reads available bytes (bounded by deadline) and returns every
// control frame completed as a result, in arrival order.
func (e *Endpoint) Poll(buf []byte, deadline time.Time) ([]wire.Frame, error) {
	e.conn.SetReadDeadline(deadline)
	n, err := e.conn.Read(buf)
	if n > 0 {
		payloads := e.reader.Feed(buf[:n])
		frames := make([]wire.Frame, 0, len(payloads))
		for _, p := range payloads {
			f, ferr := wire.DecodeFrame(p)
			if ferr != nil {
				continue // malformed frame: drop per spec §7
			}
			frames = append(frames, f)
		}
		if err != nil && !isTimeout(err) {
			e.dead = true
			return frames, err
		}
		return frames, nil
	}
	if err != nil {
		if isTimeout(err) {
			return nil, nil
		}
		e.dead = true
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	return nil, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
