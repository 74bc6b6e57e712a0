package udpendpoint

import (
	"net"
	"testing"
	"time"

	"github.com/mlt-io/mlt/wire"
)

func TestEnqueueAndDrainRoundTrip(t *testing.T) {
	rx, err := New("127.0.0.1:0", 0)
	if err != nil {
		t.Fatalf("New(rx) error: %v", err)
	}
	defer rx.Close()

	tx, err := New("127.0.0.1:0", 0)
	if err != nil {
		t.Fatalf("New(tx) error: %v", err)
	}
	defer tx.Close()

	dest := rx.LocalAddr().(*net.UDPAddr)
	pkt := wire.Packet{
		Header: wire.Header{MsgID: 7, Offset: 0, Seq: 0, Len: uint16(wire.HeaderSize) + 4, DstCommID: 2, SrcCommID: 1, IsLast: 1},
		GradPtr: []byte{1, 2, 3, 4},
	}
	tx.Enqueue(dest, pkt)
	if tx.QueueLen() != 1 {
		t.Fatalf("QueueLen = %d, want 1", tx.QueueLen())
	}
	if sent := tx.Drain(time.Second); sent != 1 {
		t.Fatalf("Drain() = %d, want 1", sent)
	}
	if tx.QueueLen() != 0 {
		t.Fatalf("QueueLen after drain = %d, want 0", tx.QueueLen())
	}
	if tx.Degraded() {
		t.Fatal("endpoint unexpectedly degraded")
	}

	rx.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1500)
	n, _, ok, err := rx.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom error: %v", err)
	}
	if !ok {
		t.Fatal("ReadFrom reported no datagram within deadline")
	}
	hdr, err := wire.ParseHeader(buf[:n])
	if err != nil {
		t.Fatalf("ParseHeader error: %v", err)
	}
	if hdr.MsgID != 7 || hdr.IsLast != 1 {
		t.Errorf("got header %+v, want MsgID=7 IsLast=1", hdr)
	}
	gradPtr := buf[wire.HeaderSize:n]
	if string(gradPtr) != string([]byte{1, 2, 3, 4}) {
		t.Errorf("got grad bytes %v, want [1 2 3 4]", gradPtr)
	}
}

func TestReadFromTimesOutWithoutData(t *testing.T) {
	rx, err := New("127.0.0.1:0", 0)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer rx.Close()

	rx.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
	buf := make([]byte, 64)
	_, _, ok, err := rx.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom error: %v", err)
	}
	if ok {
		t.Fatal("ReadFrom reported a datagram that was never sent")
	}
}
