package gaptracker

import (
	"sort"

	"github.com/mlt-io/mlt/wire"
)

// IntervalSet is the interval-tree gap-tracker variant (spec §4.1): an
// ordered set of wire.Block intervals representing the sequence numbers
// still *missing*, initialized to {[0, size)}. It is implemented as a
// sorted slice rather than a balanced tree — Go's standard library has no
// ordered-map primitive, and the number of gaps in a loss-tolerant
// transport is small relative to message size, so a slice with binary
// search is the appropriate "tree" here.
type IntervalSet struct {
	missing []wire.Block // sorted ascending, disjoint
	size    uint32
}

// NewIntervalSet creates an IntervalSet tracking sequence numbers [0, size).
func NewIntervalSet(size uint32) *IntervalSet {
	s := &IntervalSet{}
	s.Resize(size)
	return s
}

// Resize implements Tracker. If the current tail interval abuts the new
// region it is extended in place; otherwise a new tail interval covering
// [oldSize, n) is appended.
func (s *IntervalSet) Resize(n uint32) {
	if n <= s.size {
		return
	}
	if len(s.missing) > 0 && s.missing[len(s.missing)-1].Last == s.size {
		s.missing[len(s.missing)-1].Last = n
	} else {
		s.missing = append(s.missing, wire.Block{First: s.size, Last: n})
	}
	s.size = n
}

// Size implements Tracker.
func (s *IntervalSet) Size() uint32 { return s.size }

// indexCovering returns the index of the missing interval covering seq, or
// -1 if seq is not within any missing interval (i.e. already taken, or out
// of range).
func (s *IntervalSet) indexCovering(seq uint32) int {
	i := sort.Search(len(s.missing), func(i int) bool {
		return s.missing[i].Last > seq
	})
	if i < len(s.missing) && s.missing[i].First <= seq && seq < s.missing[i].Last {
		return i
	}
	return -1
}

// Check implements Tracker.
func (s *IntervalSet) Check(seq uint32) bool {
	if seq >= s.size {
		return false
	}
	return s.indexCovering(seq) == -1
}

// Take implements Tracker.
func (s *IntervalSet) Take(seq uint32) bool {
	if seq >= s.size {
		s.Resize(seq + 1)
	}
	i := s.indexCovering(seq)
	if i == -1 {
		return false
	}
	blk := s.missing[i]
	switch {
	case blk.First == seq && blk.Last == seq+1:
		// Whole interval consumed: erase it.
		s.missing = append(s.missing[:i], s.missing[i+1:]...)
	case blk.First == seq:
		// Trim from the front.
		s.missing[i].First = seq + 1
	case blk.Last == seq+1:
		// Trim from the back.
		s.missing[i].Last = seq
	default:
		// Split into two intervals.
		left := wire.Block{First: blk.First, Last: seq}
		right := wire.Block{First: seq + 1, Last: blk.Last}
		s.missing = append(s.missing[:i], append([]wire.Block{left, right}, s.missing[i+1:]...)...)
	}
	return true
}

// ByteSize implements Tracker.
func (s *IntervalSet) ByteSize() int {
	return len(s.missing) * wire.BlockSize
}

// SerializeToBuffer implements Tracker.
func (s *IntervalSet) SerializeToBuffer(buf []byte) int {
	wire.PutBlocks(buf, s.missing)
	return len(s.missing) * wire.BlockSize
}
