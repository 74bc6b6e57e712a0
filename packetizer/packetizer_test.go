package packetizer

import (
	"testing"

	"github.com/mlt-io/mlt/config"
	"github.com/mlt-io/mlt/msg"
)

func testPacketizer() Packetizer {
	cfg := config.Default()
	return New(cfg)
}

func TestGetMaxSeqNum(t *testing.T) {
	p := testPacketizer()
	bound := p.PayloadBound()

	cases := []struct {
		size uint32
		want uint32
	}{
		{0, 0},
		{1, 0},
		{uint32(bound), 0},
		{uint32(bound) + 1, 1},
		{uint32(bound) * 10, 9},
	}
	for _, c := range cases {
		if got := p.GetMaxSeqNum(c.size); got != c.want {
			t.Errorf("GetMaxSeqNum(%d) = %d, want %d", c.size, got, c.want)
		}
	}
}

func TestPartitionOneCoversWholeMessage(t *testing.T) {
	p := testPacketizer()
	bound := p.PayloadBound()
	size := bound*3 + 17
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(i)
	}
	m := &msg.Send{LtMessage: msg.LtMessage{MsgID: 1, Buf: buf, Size: uint32(size)}}

	var packets []uint32
	for !m.Done() {
		pkt := p.PartitionOne(2, 1, m)
		packets = append(packets, pkt.Header.Seq)
		if pkt.Header.Offset+uint32(len(pkt.GradPtr)) > uint32(size) {
			t.Fatalf("packet overruns message: offset=%d len=%d size=%d", pkt.Header.Offset, len(pkt.GradPtr), size)
		}
	}
	if len(packets) != 4 {
		t.Fatalf("got %d packets, want 4", len(packets))
	}
	last := packets[len(packets)-1]
	if last != p.GetMaxSeqNum(uint32(size)) {
		t.Errorf("last seq = %d, want %d", last, p.GetMaxSeqNum(uint32(size)))
	}
}

func TestPartitionOneSetsIsLast(t *testing.T) {
	p := testPacketizer()
	bound := p.PayloadBound()
	size := bound * 2
	buf := make([]byte, size)
	m := &msg.Send{LtMessage: msg.LtMessage{MsgID: 1, Buf: buf, Size: uint32(size)}}

	first := p.PartitionOne(2, 1, m)
	if first.Header.IsLast != 0 {
		t.Error("first packet should not be last")
	}
	second := p.PartitionOne(2, 1, m)
	if second.Header.IsLast != 1 {
		t.Error("second packet should be last")
	}
}

func TestPartitionOneBySeqMatchesForwardPartition(t *testing.T) {
	p := testPacketizer()
	bound := p.PayloadBound()
	size := bound*2 + 5
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(i)
	}
	m := &msg.Send{LtMessage: msg.LtMessage{MsgID: 9, Buf: buf, Size: uint32(size)}}

	var forward []wireHeaderSnapshot
	for !m.Done() {
		pkt := p.PartitionOne(2, 1, m)
		forward = append(forward, wireHeaderSnapshot{pkt.Header.Seq, pkt.Header.Offset, len(pkt.GradPtr), pkt.Header.IsLast})
	}

	for _, want := range forward {
		pkt := p.PartitionOneBySeq(2, 1, m, want.seq)
		if pkt.Header.Offset != want.offset || len(pkt.GradPtr) != want.gradLen || pkt.Header.IsLast != want.isLast {
			t.Errorf("PartitionOneBySeq(%d) = {offset:%d len:%d last:%d}, want %+v", want.seq, pkt.Header.Offset, len(pkt.GradPtr), pkt.Header.IsLast, want)
		}
	}
}

type wireHeaderSnapshot struct {
	seq, offset uint32
	gradLen     int
	isLast      uint8
}
