// Package gaptracker implements the "gap tracker" from spec §4.1: the
// structure that records which sequence numbers within [0, size) have
// already arrived for a single in-flight message, and enumerates the
// still-missing ranges for a RetransmitRequest.
//
// Two interchangeable implementations exist, both satisfying Tracker:
// Bitmap (a dense bit array) and IntervalSet (an ordered set of missing
// ranges). Neither is safe for concurrent use; per spec §3 a message's
// gap tracker is only ever touched by the Receiving Channel thread.
package gaptracker

import "github.com/mlt-io/mlt/wire"

// Tracker is the gap-tracker capability (spec §9: "resize, check, take,
// free_length, byte_size, serialize").
type Tracker interface {
	// Resize grows the tracked range to [0, n). Shrinking is not
	// supported; Resize(n) with n <= Size() is a no-op.
	Resize(n uint32)

	// Size returns the current tracked range size (one past the
	// largest valid sequence number).
	Size() uint32

	// Check reports whether seq has already been Taken. Out-of-range
	// seq (>= Size()) is reported as not taken.
	Check(seq uint32) bool

	// Take records seq as received. An out-of-range seq (>= Size())
	// first grows the tracked range to seq+1. It returns true if this
	// is the first time seq was taken (freshly taken), false if seq was
	// already taken.
	Take(seq uint32) bool

	// ByteSize returns the number of bytes SerializeToBuffer will
	// write: the count of missing ranges within [0, Size()) times
	// wire.BlockSize.
	ByteSize() int

	// SerializeToBuffer writes the missing ranges within [0, Size()),
	// in ascending order, as wire.Block records into buf. buf must be
	// at least ByteSize() bytes. It returns the number of bytes
	// written (always ByteSize()).
	SerializeToBuffer(buf []byte) int
}

// MissingRanges is a convenience built on SerializeToBuffer + wire.ParseBlocks,
// useful for tests and for small trackers where an allocation per call is
// not a concern.
func MissingRanges(t Tracker) []wire.Block {
	n := t.ByteSize()
	if n == 0 {
		return nil
	}
	buf := make([]byte, n)
	t.SerializeToBuffer(buf)
	return wire.ParseBlocks(buf, n/wire.BlockSize)
}
