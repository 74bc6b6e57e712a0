package comm

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/mlt-io/mlt/completion"
	"github.com/mlt-io/mlt/config"
)

// newPair starts two Communicators with distinct comm_ids and connects
// them, covering spec §4.8's AddConnection (smaller comm_id dials).
func newPair(t *testing.T) (lo, hi *Communicator) {
	t.Helper()
	cfg := config.Default()
	cfg.RetransmitRoundsPerIteration = 50

	lo = New(cfg, 1)
	if err := lo.Start("127.0.0.1", "127.0.0.1:0"); err != nil {
		t.Fatalf("lo.Start: %v", err)
	}
	t.Cleanup(lo.Stop)

	hi = New(cfg, 2)
	if err := hi.Start("127.0.0.1", "127.0.0.1:0"); err != nil {
		t.Fatalf("hi.Start: %v", err)
	}
	t.Cleanup(hi.Stop)

	loUDP := lo.endpoints[0].LocalAddr().(*net.UDPAddr)
	hiUDP := hi.endpoints[0].LocalAddr().(*net.UDPAddr)

	if err := hi.AddConnection(1, loUDP.IP.String(), loUDP.Port, lo.ReliableAddr().String()); err != nil {
		t.Fatalf("hi.AddConnection: %v", err)
	}
	if err := lo.AddConnection(2, hiUDP.IP.String(), hiUDP.Port, hi.ReliableAddr().String()); err != nil {
		t.Fatalf("lo.AddConnection: %v", err)
	}

	// lo has the smaller comm_id, so its AddConnection call above dialed
	// out; give the accept side a moment to complete the handshake.
	time.Sleep(50 * time.Millisecond)
	return lo, hi
}

func TestPostSendThenPostRecvDeliversMessage(t *testing.T) {
	lo, hi := newPair(t)

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := lo.PostSend(2, 100, payload, nil); err != nil {
		t.Fatalf("PostSend: %v", err)
	}

	out := make([]byte, len(payload))
	if err := hi.PostRecv(1, 100, out, 1, 0, nil); err != nil {
		t.Fatalf("PostRecv: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case c := <-hi.Completions():
			if c.Type != completion.Recv || c.MsgID != 100 {
				t.Fatalf("completion = %+v, want recv msg_id=100", c)
			}
			if string(out) != string(payload) {
				t.Error("received payload does not match sent payload")
			}
			return
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	t.Fatal("timed out waiting for recv completion")
}

func TestEnableAuditRecordsCompletions(t *testing.T) {
	cfg := config.Default()
	cfg.RetransmitRoundsPerIteration = 50

	lo := New(cfg, 1)
	lo.EnableAudit(8)
	if err := lo.Start("127.0.0.1", "127.0.0.1:0"); err != nil {
		t.Fatalf("lo.Start: %v", err)
	}
	t.Cleanup(lo.Stop)

	hi := New(cfg, 2)
	if err := hi.Start("127.0.0.1", "127.0.0.1:0"); err != nil {
		t.Fatalf("hi.Start: %v", err)
	}
	t.Cleanup(hi.Stop)

	loUDP := lo.endpoints[0].LocalAddr().(*net.UDPAddr)
	hiUDP := hi.endpoints[0].LocalAddr().(*net.UDPAddr)
	if err := hi.AddConnection(1, loUDP.IP.String(), loUDP.Port, lo.ReliableAddr().String()); err != nil {
		t.Fatalf("hi.AddConnection: %v", err)
	}
	if err := lo.AddConnection(2, hiUDP.IP.String(), hiUDP.Port, hi.ReliableAddr().String()); err != nil {
		t.Fatalf("lo.AddConnection: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	payload := []byte("audit me")
	if err := lo.PostSend(2, 7, payload, nil); err != nil {
		t.Fatalf("PostSend: %v", err)
	}
	out := make([]byte, len(payload))
	if err := hi.PostRecv(1, 7, out, 1, 0, nil); err != nil {
		t.Fatalf("PostRecv: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var buf bytes.Buffer
		if err := lo.FlushAudit(&buf); err != nil {
			t.Fatalf("FlushAudit: %v", err)
		}
		if strings.Contains(buf.String(), "Send") && strings.Contains(buf.String(), "7") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for audit record of the send completion")
}

func TestSendMetaAsyncThenRecvMetaDeliversPayload(t *testing.T) {
	lo, hi := newPair(t)

	lo.SendMetaAsync(2, []byte("hello from lo"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m, err := hi.RecvMeta(ctx)
	if err != nil {
		t.Fatalf("RecvMeta: %v", err)
	}
	if m.SrcCommID != 1 || string(m.Payload) != "hello from lo" {
		t.Errorf("meta = %+v, want src=1 payload=%q", m, "hello from lo")
	}
}
