package fragment

import (
	"zhiminhu/p2p-stream/pkg/logger"
	"zhiminhu/p2p-stream/pkg/protocol"
)

// MaxFragmentSize keeps chunk header + fragment + wire header under the path
// MTU, so the network layer never fragments our datagrams itself.
const MaxFragmentSize = 1000

// HorizonFrames is how far behind the newest frame the origin keeps chunk
// payloads before eviction. At ~20 fps this is about 50 seconds of history
// for late joiners and repair pulls.
const HorizonFrames = 1000

// Chunk is one transport-sized piece of a frame. Payload is the encoded
// chunk header plus data slice, ready to ship inside a DATA packet.
type Chunk struct {
	ID      uint32
	Payload []byte
}

// MaxFrameSize is the largest frame Split can carry: fragment indices live
// inside one frame's slice of the positional id space, so a frame may never
// need more than FragmentsPerFrame fragments.
const MaxFrameSize = MaxFragmentSize * protocol.FragmentsPerFrame

// Split fragments an opaque frame buffer into chunks. An empty frame still
// produces a single zero-length fragment so the frame id is observable.
// Frames over MaxFrameSize are truncated with a warning; an index past
// FragmentsPerFrame would collide with the next frame's chunk ids.
func Split(frameID uint32, frame []byte) []Chunk {
	if len(frame) > MaxFrameSize {
		logger.Sugar.Warnf("[Fragment] frame %d is %d bytes, truncating to %d", frameID, len(frame), MaxFrameSize)
		frame = frame[:MaxFrameSize]
	}

	total := (len(frame) + MaxFragmentSize - 1) / MaxFragmentSize
	if total == 0 {
		total = 1
	}

	chunks := make([]Chunk, 0, total)
	for i := 0; i < total; i++ {
		start := i * MaxFragmentSize
		end := start + MaxFragmentSize
		if end > len(frame) {
			end = len(frame)
		}

		payload := protocol.ChunkPayload{
			FrameID:    frameID,
			TotalFrags: uint16(total),
			FragIndex:  uint16(i),
			Data:       frame[start:end],
		}
		chunks = append(chunks, Chunk{
			ID:      protocol.ChunkID(frameID, uint16(i)),
			Payload: payload.Encode(),
		})
	}
	return chunks
}
