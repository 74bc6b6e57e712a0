package recvchan

import (
	"net"
	"testing"
	"time"

	"github.com/mlt-io/mlt/completion"
	"github.com/mlt-io/mlt/config"
	"github.com/mlt-io/mlt/connmeta"
	"github.com/mlt-io/mlt/control"
	"github.com/mlt-io/mlt/udpendpoint"
	"github.com/mlt-io/mlt/wire"
)

func newTestChannel(t *testing.T) (*Channel, *udpendpoint.Endpoint, chan control.OutboundFrame, chan completion.Completion) {
	t.Helper()
	cfg := config.Default()

	ep, err := udpendpoint.New("127.0.0.1:0", 0x00)
	if err != nil {
		t.Fatalf("udpendpoint.New: %v", err)
	}
	t.Cleanup(func() { ep.Close() })

	outbound := make(chan control.OutboundFrame, 16)
	completions := make(chan completion.Completion, 16)

	ch := New(cfg, 1, map[uint8]*udpendpoint.Endpoint{0x00: ep}, outbound, completions)
	ch.Notify(control.RecvNotification{Kind: control.RecvAddConnection, CommID: 9, Conn: connmeta.New(9, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}, cfg)})
	ch.drainNotifications()
	return ch, ep, outbound, completions
}

func sendDatagram(t *testing.T, tx *udpendpoint.Endpoint, dest *net.UDPAddr, hdr wire.Header, grad []byte) {
	t.Helper()
	tx.Enqueue(dest, wire.Packet{Header: hdr, GradPtr: grad})
	if sent := tx.Drain(time.Second); sent != 1 {
		t.Fatalf("Drain() sent = %d, want 1", sent)
	}
}

func TestPostRecvThenDatagramMergesDirectly(t *testing.T) {
	ch, rx, _, _ := newTestChannel(t)
	rxAddr := rx.LocalAddr().(*net.UDPAddr)

	tx, err := udpendpoint.New("127.0.0.1:0", 0x00)
	if err != nil {
		t.Fatalf("udpendpoint.New(tx): %v", err)
	}
	defer tx.Close()

	out := make([]byte, 16)
	ch.PostRecv(PostRecvRequest{CommID: 9, MsgID: 7, Buf: out, Size: 16, ElementSize: 1, LossRatio: 0})
	ch.drainPostRecv()

	grad := []byte("0123456789012345")
	sendDatagram(t, tx, rxAddr, wire.Header{MsgID: 7, Offset: 0, Seq: 0, Len: uint16(wire.HeaderSize + len(grad)), DstCommID: 1, SrcCommID: 9, IsLast: 1}, grad)

	ch.drainDatagrams()

	if string(out) != string(grad) {
		t.Errorf("out = %q, want %q", out, grad)
	}
	conn := ch.conns[9]
	if conn.RecvMsgs[7].BytesReceived != 16 {
		t.Errorf("BytesReceived = %d, want 16", conn.RecvMsgs[7].BytesReceived)
	}
}

func TestDatagramBacklogsWithoutPostRecv(t *testing.T) {
	ch, rx, _, _ := newTestChannel(t)
	rxAddr := rx.LocalAddr().(*net.UDPAddr)

	tx, err := udpendpoint.New("127.0.0.1:0", 0x00)
	if err != nil {
		t.Fatalf("udpendpoint.New(tx): %v", err)
	}
	defer tx.Close()

	grad := []byte("hello")
	sendDatagram(t, tx, rxAddr, wire.Header{MsgID: 3, Offset: 0, Seq: 0, Len: uint16(wire.HeaderSize + len(grad)), DstCommID: 1, SrcCommID: 9}, grad)
	ch.drainDatagrams()

	conn := ch.conns[9]
	if len(conn.Backlog[3]) != 1 {
		t.Fatalf("Backlog[3] len = %d, want 1", len(conn.Backlog[3]))
	}

	out := make([]byte, 5)
	ch.PostRecv(PostRecvRequest{CommID: 9, MsgID: 3, Buf: out, Size: 5, ElementSize: 1, LossRatio: 0})
	ch.drainPostRecv()

	if string(out) != "hello" {
		t.Errorf("out = %q, want %q", out, "hello")
	}
	if len(conn.Backlog[3]) != 0 {
		t.Errorf("Backlog[3] should have been drained")
	}
}

func TestFinishFlowWithoutRecvEmitsFullRangeRetransmitRequest(t *testing.T) {
	ch, _, outbound, _ := newTestChannel(t)

	ch.Notify(control.RecvNotification{Kind: control.FinishFlow, CommID: 9, MsgID: 5, MaxSeq: 2})
	ch.drainNotifications()

	select {
	case f := <-outbound:
		frame, err := wire.DecodeFrame(f.Frame[4:])
		if err != nil {
			t.Fatalf("DecodeFrame: %v", err)
		}
		if frame.Type != wire.SignalRetransmitRequest {
			t.Fatalf("frame type = %v, want RetransmitRequest", frame.Type)
		}
		req, err := wire.DecodeRetransmitRequest(frame.Payload)
		if err != nil {
			t.Fatalf("DecodeRetransmitRequest: %v", err)
		}
		if len(req.Blocks) != 1 || req.Blocks[0].First != 0 || req.Blocks[0].Last != 3 {
			t.Errorf("blocks = %+v, want [{0 3}]", req.Blocks)
		}
	case <-time.After(time.Second):
		t.Fatal("expected an outbound RetransmitRequest frame")
	}
}

func TestConfirmStopEmitsRecvCompletion(t *testing.T) {
	ch, _, _, completions := newTestChannel(t)

	out := make([]byte, 8)
	ch.PostRecv(PostRecvRequest{CommID: 9, MsgID: 11, Buf: out, Size: 8, ElementSize: 1, LossRatio: 0})
	ch.drainPostRecv()
	ch.conns[9].RecvMsgs[11].BytesReceived = 8

	ch.Notify(control.RecvNotification{Kind: control.ConfirmStop, CommID: 9, MsgID: 11})
	ch.drainNotifications()

	select {
	case c := <-completions:
		if c.MsgID != 11 || c.Bytes != 8 || c.Type != completion.Recv {
			t.Errorf("completion = %+v, want msg_id=11 bytes=8 type=Recv", c)
		}
	default:
		t.Fatal("expected a completion to be emitted")
	}
	if _, ok := ch.conns[9].RecvMsgs[11]; ok {
		t.Error("recv entry should have been erased")
	}
}
