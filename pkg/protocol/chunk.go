package protocol

import (
	"encoding/binary"
	"fmt"
)

// Chunk payload header inside a DATA packet, big-endian:
// frame_id(4) | total_frags(2) | frag_index(2)
const ChunkHeaderSize = 8

// FragmentsPerFrame bounds fragment indices per frame. Chunk ids are
// positional: frame_id*1000 + frag_index, so a chunk id is globally unique
// and immutable for the lifetime of the stream.
const FragmentsPerFrame = 1000

// ChunkPayload is one fragment of one frame, as carried inside DATA.
type ChunkPayload struct {
	FrameID    uint32
	TotalFrags uint16
	FragIndex  uint16
	Data       []byte
}

func (c ChunkPayload) Encode() []byte {
	buf := make([]byte, ChunkHeaderSize+len(c.Data))
	binary.BigEndian.PutUint32(buf[0:4], c.FrameID)
	binary.BigEndian.PutUint16(buf[4:6], c.TotalFrags)
	binary.BigEndian.PutUint16(buf[6:8], c.FragIndex)
	copy(buf[ChunkHeaderSize:], c.Data)
	return buf
}

// DecodeChunkPayload parses the chunk header and takes the rest as fragment
// bytes. A zero-length fragment is legal (empty frame).
func DecodeChunkPayload(data []byte) (ChunkPayload, error) {
	if len(data) < ChunkHeaderSize {
		return ChunkPayload{}, fmt.Errorf("%w: %d bytes, chunk header needs %d", ErrMalformed, len(data), ChunkHeaderSize)
	}
	c := ChunkPayload{
		FrameID:    binary.BigEndian.Uint32(data[0:4]),
		TotalFrags: binary.BigEndian.Uint16(data[4:6]),
		FragIndex:  binary.BigEndian.Uint16(data[6:8]),
	}
	if len(data) > ChunkHeaderSize {
		c.Data = make([]byte, len(data)-ChunkHeaderSize)
		copy(c.Data, data[ChunkHeaderSize:])
	}
	return c, nil
}

// ChunkID derives the globally unique chunk id for a fragment position.
func ChunkID(frameID uint32, fragIndex uint16) uint32 {
	return frameID*FragmentsPerFrame + uint32(fragIndex)
}

// FrameOf returns the frame a chunk id belongs to.
func FrameOf(chunkID uint32) uint32 {
	return chunkID / FragmentsPerFrame
}

// IndexOf returns the fragment index encoded in a chunk id.
func IndexOf(chunkID uint32) uint16 {
	return uint16(chunkID % FragmentsPerFrame)
}
