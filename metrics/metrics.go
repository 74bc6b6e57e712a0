// Package metrics defines prometheus metric types and provides convenience
// methods to add accounting to various parts of the pipeline.
//
// When defining new operations or metrics, these are helpful values to track:
//  - things coming into or go out of the system: packets, connections, completions.
//  - the success or error status of any of the above.
//  - the distribution of processing latency.
package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DrainHistogram tracks how long one endpoint's Drain() call takes,
	// labeled by channel. Only the Priority Channel observes it, under
	// "priority".
	DrainHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "mlt_drain_time_seconds",
			Help: "endpoint drain latency distribution (seconds)",
			Buckets: []float64{
				0.00001, 0.0000125, 0.000016, 0.00002, 0.000025, 0.000032, 0.00004, 0.00005, 0.000063, 0.000079,
				0.0001, 0.000125, 0.00016, 0.0002, 0.00025, 0.00032, 0.0004, 0.0005, 0.00063, 0.00079,
				0.001, 0.00125, 0.0016, 0.002, 0.0025, 0.0032, 0.004, 0.005,
			},
		},
		[]string{"channel"})

	// LoopIntervalHistogram tracks the interval between reactor loop
	// iterations, labeled by channel.
	LoopIntervalHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mlt_loop_interval_seconds",
			Help:    "reactor loop iteration interval distribution (seconds)",
			Buckets: prometheus.LinearBuckets(0, .001, 20),
		},
		[]string{"channel"})

	// PacketsSent counts GradPackets transmitted, labeled by ToS.
	PacketsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mlt_packets_sent_total",
			Help: "Number of GradPackets sent, by ToS.",
		}, []string{"tos"})

	// PacketsReceived counts GradPackets accepted by the Receiving Channel,
	// labeled by outcome (merged, backlogged, dropped).
	PacketsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mlt_packets_received_total",
			Help: "Number of GradPackets accepted, by outcome.",
		}, []string{"outcome"})

	// RetransmitRequestsSent counts RetransmitRequest signals emitted by
	// the Receiving Channel.
	RetransmitRequestsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mlt_retransmit_requests_total",
			Help: "Number of RetransmitRequest signals emitted.",
		},
	)

	// ErrorCount measures the number of recoverable errors observed by any
	// channel thread, labeled by kind (see spec §7's error kinds).
	//
	// Example usage:
	//    metrics.ErrorCount.With(prometheus.Labels{"type": "malformed_datagram"}).Inc()
	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mlt_error_total",
			Help: "The total number of recoverable errors encountered, by kind.",
		}, []string{"type"})

	// SendRateHistogram tracks each connection's tx_meter sample (bytes/sec).
	SendRateHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "mlt_send_rate_bytes_per_second",
			Help: "send rate histogram sampled from tx_meter",
			Buckets: []float64{
				0, 1000, 10000, 100000, 400000, 1000000, 4000000, 10000000, 40000000, 100000000,
			},
		})

	// ReceiveRateHistogram tracks each connection's rx_meter sample (bytes/sec).
	ReceiveRateHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "mlt_receive_rate_bytes_per_second",
			Help: "receive rate histogram sampled from rx_meter",
			Buckets: []float64{
				0, 1000, 10000, 100000, 400000, 1000000, 4000000, 10000000, 40000000, 100000000,
			},
		})

	// CompletionsEmitted counts Send/Recv completions pushed to the
	// application's completion queue, labeled by kind.
	CompletionsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mlt_completions_total",
			Help: "Number of completions emitted, by kind (send, recv).",
		}, []string{"kind"})

	// ConnectionsActive is a gauge for the number of registered peer
	// connections. Neither the Communicator nor the channels update it;
	// it changes only when a caller sets it.
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mlt_connections_active",
			Help: "Number of peer connections currently registered.",
		},
	)
)

// init() prints a log message to let the user know that the package has been
// loaded and the metrics registered. The metrics are auto-registered, which
// means they are registered as soon as this package is loaded, and the exact
// time this occurs (and whether this occurs at all in a given context) can be
// opaque.
func init() {
	log.Println("Prometheus metrics in mlt.metrics are registered.")
}
