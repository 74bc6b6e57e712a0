package packetizer

import (
	"math"

	"github.com/mlt-io/mlt/wire"
)

// DefaultPriority maps a packet's payload to one of numQueues DSCP classes
// by magnitude: it samples the payload as float32 gradient elements and
// buckets the mean absolute value into numQueues logarithmic bands (see
// bucket), so
// high-magnitude chunks are steered to high-priority queues.
//
// spec §9 flags the original's randomized-ToS fallback as debug code and
// asks for the magnitude-based scheme it had commented out; this is that
// scheme, not the random one.
func DefaultPriority(numQueues int) func(pkt wire.Packet) uint8 {
	if numQueues < 1 {
		numQueues = 1
	}
	return func(pkt wire.Packet) uint8 {
		mean := meanAbsFloat32(pkt.GradPtr)
		band := bucket(mean, numQueues)
		return uint8(band)
	}
}

// meanAbsFloat32 interprets buf as a (possibly truncated) run of float32
// elements and returns the mean absolute value. An empty or too-short
// buffer reports 0.
func meanAbsFloat32(buf []byte) float64 {
	n := len(buf) / 4
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		bits := uint32(buf[i*4]) | uint32(buf[i*4+1])<<8 | uint32(buf[i*4+2])<<16 | uint32(buf[i*4+3])<<24
		f := math.Float32frombits(bits)
		v := float64(f)
		if v < 0 {
			v = -v
		}
		sum += v
	}
	return sum / float64(n)
}

// bucket maps a non-negative magnitude into [0, numQueues) using a
// logarithmic scale so that both small-gradient and large-gradient
// training runs spread across the available queues.
func bucket(mag float64, numQueues int) int {
	if mag <= 0 {
		return 0
	}
	// log1p keeps the mapping monotone and bounded for mag in (0, inf).
	scaled := math.Log1p(mag) / math.Log1p(1e4) // 1e4 chosen as a typical large-gradient magnitude
	if scaled > 1 {
		scaled = 1
	}
	b := int(scaled * float64(numQueues))
	if b >= numQueues {
		b = numQueues - 1
	}
	return b
}
