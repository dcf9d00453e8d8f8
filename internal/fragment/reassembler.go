package fragment

import (
	"zhiminhu/p2p-stream/pkg/protocol"
)

// HealthSink receives the buffered-but-unemitted frame count after every
// accepted fragment. Satisfied by stats.Collector.
type HealthSink interface {
	UpdateBufferHealth(frames int)
}

type assembly struct {
	total uint16
	frags map[uint16][]byte
	size  int
}

// Reassembler reconstitutes frames from chunk payloads arriving in any
// order. Playback is forward-only live streaming: once a frame is emitted,
// fragments for that frame or any older one are dropped, and buffers that
// can never complete are garbage-collected when a newer frame emits. Not
// internally synchronized; lives on the node's event-loop goroutine.
type Reassembler struct {
	buffers     map[uint32]*assembly
	lastEmitted int64 // -1 until the first frame emits
	sink        HealthSink
}

func NewReassembler(sink HealthSink) *Reassembler {
	return &Reassembler{
		buffers:     make(map[uint32]*assembly),
		lastEmitted: -1,
		sink:        sink,
	}
}

// Accept feeds one chunk payload in. It returns the completed frame bytes
// when this fragment finishes a frame, nil otherwise. Malformed payloads
// surface as an error; stale fragments are a silent nil (expected under loss
// and reorder, not exceptional).
func (r *Reassembler) Accept(payload []byte) ([]byte, error) {
	chunk, err := protocol.DecodeChunkPayload(payload)
	if err != nil {
		return nil, err
	}

	if int64(chunk.FrameID) <= r.lastEmitted {
		return nil, nil
	}
	if chunk.TotalFrags == 0 || chunk.FragIndex >= chunk.TotalFrags {
		return nil, protocol.ErrMalformed
	}

	buf, ok := r.buffers[chunk.FrameID]
	if !ok {
		buf = &assembly{total: chunk.TotalFrags, frags: make(map[uint16][]byte)}
		r.buffers[chunk.FrameID] = buf
	}
	if _, dup := buf.frags[chunk.FragIndex]; !dup {
		buf.frags[chunk.FragIndex] = chunk.Data
		buf.size += len(chunk.Data)
	}

	if r.sink != nil {
		r.sink.UpdateBufferHealth(len(r.buffers))
	}

	if len(buf.frags) < int(buf.total) {
		return nil, nil
	}

	frame := make([]byte, 0, buf.size)
	for i := uint16(0); i < buf.total; i++ {
		frame = append(frame, buf.frags[i]...)
	}

	// Completion supersedes every in-flight frame at or below this id.
	for fid := range r.buffers {
		if fid <= chunk.FrameID {
			delete(r.buffers, fid)
		}
	}
	r.lastEmitted = int64(chunk.FrameID)

	if r.sink != nil {
		r.sink.UpdateBufferHealth(len(r.buffers))
	}
	return frame, nil
}

// Buffered reports how many frames are partially assembled.
func (r *Reassembler) Buffered() int {
	return len(r.buffers)
}

// LastEmitted returns the newest emitted frame id; ok is false before any
// frame has completed.
func (r *Reassembler) LastEmitted() (uint32, bool) {
	if r.lastEmitted < 0 {
		return 0, false
	}
	return uint32(r.lastEmitted), true
}
