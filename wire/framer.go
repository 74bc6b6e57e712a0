package wire

// FrameReader implements the two-state frame assembly described in spec
// §4.4: (A) expect a 4-byte length, (B) expect that many payload bytes.
// Partial reads are retained across Feed calls, mirroring the way
// LoadRawNetlinkMessage in the teacher's netlink package retains a partial
// header/body across reads from a stream.
type FrameReader struct {
	lenBuf  [lengthPrefixSize]byte
	lenHave int
	want    uint32
	body    []byte
	bodyHave int
	inBody  bool
}

// Feed consumes all of p and returns the payload (everything after the
// length prefix) of every frame that p completed, in arrival order. Bytes
// of a frame still incomplete at the end of p are retained for the next
// Feed call.
func (r *FrameReader) Feed(p []byte) (frames [][]byte) {
	for len(p) > 0 {
		if !r.inBody {
			n := copy(r.lenBuf[r.lenHave:], p)
			r.lenHave += n
			p = p[n:]
			if r.lenHave < lengthPrefixSize {
				return frames
			}
			r.want = leUint32(r.lenBuf[:])
			r.body = make([]byte, r.want)
			r.bodyHave = 0
			r.lenHave = 0
			r.inBody = true
		}
		if r.inBody {
			n := copy(r.body[r.bodyHave:], p)
			r.bodyHave += n
			p = p[n:]
			if uint32(r.bodyHave) < r.want {
				return frames
			}
			frames = append(frames, r.body)
			r.body = nil
			r.bodyHave = 0
			r.inBody = false
		}
	}
	return frames
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
