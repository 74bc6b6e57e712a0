package wire

import (
	"testing"

	"github.com/go-test/deep"
)

func TestSignalRoundTrip(t *testing.T) {
	fr := &FrameReader{}

	cases := []struct {
		name  string
		frame []byte
		typ   SignalType
	}{
		{"FlowStart", EncodeFlowStart(FlowStart{MsgID: 7, FlowSize: 14000, MaxSeqNum: 9}), SignalFlowStart},
		{"FlowFinish", EncodeFlowFinish(FlowFinish{MsgID: 7}), SignalFlowFinish},
		{"RateAdjustment", EncodeRateAdjustment(RateAdjustment{SendingRate: 12345.5}), SignalRateAdjustment},
		{"RetransmitRequest", EncodeRetransmitRequest(RetransmitRequest{
			MsgID: 7, CommID: 2,
			Blocks: []Block{{First: 3, Last: 4}, {First: 7, Last: 8}},
		}), SignalRetransmitRequest},
		{"StopRequest", EncodeStopRequest(StopRequest{MsgID: 7, CommID: 2, SendingRate: 99}), SignalStopRequest},
		{"StopConfirm", EncodeStopConfirm(StopConfirm{MsgID: 7}), SignalStopConfirm},
		{"UserData", EncodeUserData([]byte("hello")), SignalUserData},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			frames := fr.Feed(c.frame)
			if len(frames) != 1 {
				t.Fatalf("got %d frames, want 1", len(frames))
			}
			f, err := DecodeFrame(frames[0])
			if err != nil {
				t.Fatal(err)
			}
			if f.Type != c.typ {
				t.Fatalf("type = %v, want %v", f.Type, c.typ)
			}
		})
	}
}

func TestFrameReaderPartialFeed(t *testing.T) {
	fr := &FrameReader{}
	full := EncodeFlowFinish(FlowFinish{MsgID: 42})

	// Feed one byte at a time; only the final byte should complete the frame.
	var frames [][]byte
	for i := range full {
		frames = append(frames, fr.Feed(full[i:i+1])...)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	f, err := DecodeFrame(frames[0])
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeFlowFinish(f.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(got, FlowFinish{MsgID: 42}); diff != nil {
		t.Error(diff)
	}
}

func TestFrameReaderMultipleFramesInOneFeed(t *testing.T) {
	fr := &FrameReader{}
	buf := append(EncodeFlowFinish(FlowFinish{MsgID: 1}), EncodeFlowFinish(FlowFinish{MsgID: 2})...)
	frames := fr.Feed(buf)
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
}

func TestBlockRoundTrip(t *testing.T) {
	blocks := []Block{{First: 0, Last: 1}, {First: 5, Last: 10}}
	buf := make([]byte, len(blocks)*BlockSize)
	PutBlocks(buf, blocks)
	got := ParseBlocks(buf, len(blocks))
	if diff := deep.Equal(got, blocks); diff != nil {
		t.Error(diff)
	}
}
