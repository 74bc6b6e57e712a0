package wire

import "encoding/binary"

// BlockSize is the wire size of a single Block record: two little-endian u32s.
const BlockSize = 8

// Block is a half-open interval [First, Last) of sequence numbers, ordered
// by First. It is used both as the in-memory gap-tracker record and as the
// wire record enumerating missing ranges in a RetransmitRequest payload.
type Block struct {
	First uint32
	Last  uint32
}

// Len returns the number of sequence numbers covered by the block.
func (b Block) Len() uint32 {
	return b.Last - b.First
}

// PutBlock encodes b into buf[:BlockSize].
func PutBlock(buf []byte, b Block) {
	binary.LittleEndian.PutUint32(buf[0:4], b.First)
	binary.LittleEndian.PutUint32(buf[4:8], b.Last)
}

// ParseBlock decodes a Block from the front of buf.
func ParseBlock(buf []byte) Block {
	return Block{
		First: binary.LittleEndian.Uint32(buf[0:4]),
		Last:  binary.LittleEndian.Uint32(buf[4:8]),
	}
}

// PutBlocks encodes blocks back-to-back into buf, which must be at least
// len(blocks)*BlockSize bytes.
func PutBlocks(buf []byte, blocks []Block) {
	for i, b := range blocks {
		PutBlock(buf[i*BlockSize:], b)
	}
}

// ParseBlocks decodes n consecutive Block records from the front of buf.
func ParseBlocks(buf []byte, n int) []Block {
	blocks := make([]Block, n)
	for i := 0; i < n; i++ {
		blocks[i] = ParseBlock(buf[i*BlockSize:])
	}
	return blocks
}
