package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mlt-io/mlt/metrics"
)

func TestCountersIncrement(t *testing.T) {
	metrics.ErrorCount.Reset()
	metrics.ErrorCount.WithLabelValues("malformed_datagram").Inc()
	metrics.ErrorCount.WithLabelValues("malformed_datagram").Inc()

	if got := testutil.ToFloat64(metrics.ErrorCount.WithLabelValues("malformed_datagram")); got != 2 {
		t.Errorf("ErrorCount = %v, want 2", got)
	}
}

func TestPacketsSentLabeledByToS(t *testing.T) {
	metrics.PacketsSent.Reset()
	metrics.PacketsSent.WithLabelValues("0xfe").Inc()

	if got := testutil.ToFloat64(metrics.PacketsSent.WithLabelValues("0xfe")); got != 1 {
		t.Errorf("PacketsSent = %v, want 1", got)
	}
}

func TestConnectionsActiveGauge(t *testing.T) {
	metrics.ConnectionsActive.Set(0)
	metrics.ConnectionsActive.Inc()
	metrics.ConnectionsActive.Inc()
	metrics.ConnectionsActive.Dec()

	if got := testutil.ToFloat64(metrics.ConnectionsActive); got != 1 {
		t.Errorf("ConnectionsActive = %v, want 1", got)
	}
}
