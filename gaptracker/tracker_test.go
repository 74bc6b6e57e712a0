package gaptracker

import (
	"math/rand"
	"testing"

	"github.com/go-test/deep"
	"github.com/mlt-io/mlt/wire"
)

func newTrackers(size uint32) map[string]Tracker {
	return map[string]Tracker{
		"bitmap":   NewBitmap(size),
		"interval": NewIntervalSet(size),
	}
}

func TestEmptyTrackerByteSizeZero(t *testing.T) {
	for name, tr := range newTrackers(0) {
		t.Run(name, func(t *testing.T) {
			if tr.ByteSize() != 0 {
				t.Errorf("ByteSize() = %d, want 0", tr.ByteSize())
			}
		})
	}
}

func TestFullyMissingIsOneRange(t *testing.T) {
	for name, tr := range newTrackers(10) {
		t.Run(name, func(t *testing.T) {
			want := []wire.Block{{First: 0, Last: 10}}
			got := MissingRanges(tr)
			if diff := deep.Equal(got, want); diff != nil {
				t.Error(diff)
			}
		})
	}
}

func TestTakeMakesCheckTrue(t *testing.T) {
	for name, tr := range newTrackers(10) {
		t.Run(name, func(t *testing.T) {
			if !tr.Take(3) {
				t.Fatal("first Take(3) should report freshly taken")
			}
			if tr.Take(3) {
				t.Fatal("second Take(3) should report not freshly taken")
			}
			for k := uint32(0); k < 10; k++ {
				want := k == 3
				if got := tr.Check(k); got != want {
					t.Errorf("Check(%d) = %v, want %v", k, got, want)
				}
			}
		})
	}
}

func TestTakeLastNeverTouchesNeighbors(t *testing.T) {
	for name, tr := range newTrackers(10) {
		t.Run(name, func(t *testing.T) {
			tr.Take(9)
			if tr.Check(8) {
				t.Error("Check(8) should remain false")
			}
			want := []wire.Block{{First: 0, Last: 9}}
			if diff := deep.Equal(MissingRanges(tr), want); diff != nil {
				t.Error(diff)
			}
		})
	}
}

func TestResizeNoOpWhenSmaller(t *testing.T) {
	for name, tr := range newTrackers(10) {
		t.Run(name, func(t *testing.T) {
			tr.Take(2)
			tr.Resize(10)
			tr.Resize(5)
			if tr.Size() != 10 {
				t.Errorf("Size() = %d, want 10 (Resize with n<=size must be a no-op)", tr.Size())
			}
			if !tr.Check(2) {
				t.Error("Resize must preserve prior Take state")
			}
		})
	}
}

func TestScatteredLossSerializesToCorrectGaps(t *testing.T) {
	// S2/S3-style scenario: drop seqs {3, 7} out of 10.
	for name, tr := range newTrackers(10) {
		t.Run(name, func(t *testing.T) {
			for _, seq := range []uint32{0, 1, 2, 4, 5, 6, 8, 9} {
				tr.Take(seq)
			}
			want := []wire.Block{{First: 3, Last: 4}, {First: 7, Last: 8}}
			got := MissingRanges(tr)
			if diff := deep.Equal(got, want); diff != nil {
				t.Error(diff)
			}
			if tr.ByteSize() != len(want)*wire.BlockSize {
				t.Errorf("ByteSize() = %d, want %d", tr.ByteSize(), len(want)*wire.BlockSize)
			}
		})
	}
}

func TestEvenSeqsMissing(t *testing.T) {
	for name, tr := range newTrackers(10) {
		t.Run(name, func(t *testing.T) {
			for _, seq := range []uint32{1, 3, 5, 7, 9} {
				tr.Take(seq)
			}
			want := []wire.Block{{First: 0, Last: 1}, {First: 2, Last: 3}, {First: 4, Last: 5}, {First: 6, Last: 7}, {First: 8, Last: 9}}
			got := MissingRanges(tr)
			if diff := deep.Equal(got, want); diff != nil {
				t.Error(diff)
			}
		})
	}
}

func TestAllTakenByteSizeZero(t *testing.T) {
	for name, tr := range newTrackers(4) {
		t.Run(name, func(t *testing.T) {
			for seq := uint32(0); seq < 4; seq++ {
				tr.Take(seq)
			}
			if tr.ByteSize() != 0 {
				t.Errorf("ByteSize() = %d, want 0", tr.ByteSize())
			}
		})
	}
}

// TestRandomizedAgreement checks invariant 1/2: for random Take sequences,
// Check() matches what was Taken, and the serialized missing ranges union
// to exactly the complement of the taken set.
func TestRandomizedAgreement(t *testing.T) {
	const size = 500
	rng := rand.New(rand.NewSource(42))
	taken := make([]bool, size)
	var seqs []uint32
	for i := 0; i < size*2; i++ {
		seqs = append(seqs, uint32(rng.Intn(size)))
	}

	for name, tr := range newTrackers(size) {
		t.Run(name, func(t *testing.T) {
			local := make([]bool, size)
			for _, seq := range seqs {
				tr.Take(seq)
				local[seq] = true
			}
			copy(taken, local)
			for k := uint32(0); k < size; k++ {
				if got, want := tr.Check(k), local[k]; got != want {
					t.Fatalf("Check(%d) = %v, want %v", k, got, want)
				}
			}
			missing := MissingRanges(tr)
			covered := make([]bool, size)
			var prevLast uint32
			for i, b := range missing {
				if b.First >= b.Last {
					t.Fatalf("block %d has First>=Last: %+v", i, b)
				}
				if i > 0 && b.First < prevLast {
					t.Fatalf("blocks not ascending/disjoint: %+v then %+v", missing[i-1], b)
				}
				for k := b.First; k < b.Last; k++ {
					covered[k] = true
				}
				prevLast = b.Last
			}
			for k := uint32(0); k < size; k++ {
				wantMissing := !local[k]
				if covered[k] != wantMissing {
					t.Fatalf("index %d: covered=%v, want %v (taken=%v)", k, covered[k], wantMissing, local[k])
				}
			}
		})
	}
}

func TestBitmapSegmentsTracksRuns(t *testing.T) {
	b := NewBitmap(10)
	b.Take(5)
	if b.Segments() != 1 {
		t.Fatalf("Segments() = %d, want 1", b.Segments())
	}
	b.Take(6)
	if b.Segments() != 1 {
		t.Fatalf("after adjacent take, Segments() = %d, want 1", b.Segments())
	}
	b.Take(1)
	if b.Segments() != 2 {
		t.Fatalf("after isolated take, Segments() = %d, want 2", b.Segments())
	}
	b.Take(4)
	if b.Segments() != 2 {
		t.Fatalf("after extending left, Segments() = %d, want 2", b.Segments())
	}
	// Bridge between [1,2) and [4,7) by taking seq 2 and 3.
	b.Take(2)
	b.Take(3)
	if b.Segments() != 1 {
		t.Fatalf("after bridging runs, Segments() = %d, want 1", b.Segments())
	}
}
