// Package config holds the process-wide configuration value described in
// spec §9 as "Global singleton MLTGlobal": constructed once before Start
// and copied by value into each component, never mutated after that. It replaces
// the original's global with a plain struct; loading it from flags or the
// environment is explicitly out of scope (spec §1).
package config

import "time"

// Config carries the knobs from spec §6, with the documented defaults.
type Config struct {
	// MTU is the assumed path MTU in bytes; the packetizer is sized from
	// it (pmtu's discovered MTU is only logged, never stored here).
	// MaxSegment = MTU - 28 (IP+UDP overhead).
	MTU int

	// NumPriorityQueues is the number of DSCP/ECN priority classes
	// (and therefore UDP endpoints) the Priority Channel maintains.
	NumPriorityQueues int

	// InitialSendingRateBytesPerSec is a connection's sending_rate at
	// creation (spec §6: "BDP", default 400 KiB/s).
	InitialSendingRateBytesPerSec float64

	// InitialSendWindow is a connection's send_window at creation
	// (spec §6: BDP * 1e4).
	InitialSendWindow float64

	// RateMonitorInterval is the sampling interval for tx_meter/rx_meter.
	RateMonitorInterval time.Duration

	// BacklogBufferSize is the size in bytes of each connection's
	// pre-allocated backlog segment pool.
	BacklogBufferSize int

	// ReliableDSCP is the DSCP value used for the TCP control socket.
	ReliableDSCP uint8

	// EpollTimeout bounds how long the Priority/Receiving Channels'
	// readiness wait blocks per iteration.
	EpollTimeout time.Duration

	// EpollMaxEvents bounds how many readiness events are drained per
	// iteration.
	EpollMaxEvents int

	// RetransmitRoundsPerIteration bounds how many send-pacing rounds
	// the Priority Channel performs per loop iteration (spec §4.5 step 4).
	RetransmitRoundsPerIteration int

	// MetricsAddr, if non-empty, is the address prometheusx listens on
	// for metrics export. Ambient observability, not CLI parsing.
	MetricsAddr string
}

// BDP is the default bandwidth-delay product assumption used to derive
// the initial sending rate and send window (spec §6).
const BDP = 400 * 1024

// HeaderSize is the fixed GradPacket header size (spec §3); duplicated
// here (rather than importing wire) to keep config dependency-free.
const HeaderSize = 20

// IPUDPOverhead is the bytes of IP+UDP framing subtracted from MTU to get
// the max UDP payload (spec §4.2).
const IPUDPOverhead = 28

// Default returns a Config populated with the spec §6 defaults.
func Default() Config {
	return Config{
		MTU:                            1500,
		NumPriorityQueues:              8,
		InitialSendingRateBytesPerSec:  BDP,
		InitialSendWindow:              BDP * 1e4,
		RateMonitorInterval:            100 * time.Microsecond,
		BacklogBufferSize:              1 << 20,
		ReliableDSCP:                   0xfe,
		EpollTimeout:                   1000 * time.Millisecond,
		EpollMaxEvents:                 1024,
		RetransmitRoundsPerIteration:   100,
		MetricsAddr:                    "",
	}
}

// MaxSegment returns MTU - IPUDPOverhead: the maximum UDP datagram payload
// (header + grad bytes) this Config allows.
func (c Config) MaxSegment() int {
	return c.MTU - IPUDPOverhead
}

// PayloadBound returns the maximum grad-bytes per packet: MaxSegment minus
// the GradPacket header.
func (c Config) PayloadBound() int {
	return c.MaxSegment() - HeaderSize
}
