package fragment

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zhiminhu/p2p-stream/pkg/protocol"
)

func TestSplitSizesAndIDs(t *testing.T) {
	frame := bytes.Repeat([]byte("x"), MaxFragmentSize*2+5)
	chunks := Split(9, frame)

	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, protocol.ChunkID(9, uint16(i)), c.ID)
		payload, err := protocol.DecodeChunkPayload(c.Payload)
		require.NoError(t, err)
		assert.Equal(t, uint32(9), payload.FrameID)
		assert.Equal(t, uint16(3), payload.TotalFrags)
		assert.Equal(t, uint16(i), payload.FragIndex)
		assert.LessOrEqual(t, len(payload.Data), MaxFragmentSize)
	}
}

func TestSplitCapsOversizedFrame(t *testing.T) {
	// One byte past MaxFrameSize would need fragment index 1000, whose chunk
	// id belongs to frame 8. The frame is truncated instead.
	frame := bytes.Repeat([]byte("y"), MaxFrameSize+5)
	chunks := Split(7, frame)

	require.Len(t, chunks, protocol.FragmentsPerFrame)
	for _, c := range chunks {
		assert.Equal(t, uint32(7), protocol.FrameOf(c.ID))
	}

	last, err := protocol.DecodeChunkPayload(chunks[len(chunks)-1].Payload)
	require.NoError(t, err)
	assert.Equal(t, uint16(protocol.FragmentsPerFrame), last.TotalFrags)
	assert.Equal(t, uint16(protocol.FragmentsPerFrame-1), last.FragIndex)
}

func TestSplitEmptyFrame(t *testing.T) {
	chunks := Split(1, nil)
	require.Len(t, chunks, 1)

	payload, err := protocol.DecodeChunkPayload(chunks[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), payload.TotalFrags)
	assert.Empty(t, payload.Data)
}

func TestRoundTripInOrder(t *testing.T) {
	frame := make([]byte, 4321)
	_, err := rand.New(rand.NewSource(1)).Read(frame)
	require.NoError(t, err)

	r := NewReassembler(nil)
	var got []byte
	for _, c := range Split(5, frame) {
		out, err := r.Accept(c.Payload)
		require.NoError(t, err)
		if out != nil {
			got = out
		}
	}
	assert.Equal(t, frame, got)
	assert.Zero(t, r.Buffered())
}

func TestShuffleInvariance(t *testing.T) {
	frame := make([]byte, MaxFragmentSize*7+123)
	rng := rand.New(rand.NewSource(42))
	_, err := rng.Read(frame)
	require.NoError(t, err)

	chunks := Split(3, frame)

	for trial := 0; trial < 25; trial++ {
		perm := rng.Perm(len(chunks))
		r := NewReassembler(nil)

		var got []byte
		emissions := 0
		for _, idx := range perm {
			out, err := r.Accept(chunks[idx].Payload)
			require.NoError(t, err)
			if out != nil {
				got = out
				emissions++
			}
		}
		assert.Equal(t, 1, emissions, "permutation %d", trial)
		assert.Equal(t, frame, got, "permutation %d", trial)
	}
}

func TestStaleFramesRejected(t *testing.T) {
	r := NewReassembler(nil)

	newer := Split(10, []byte("newer frame"))
	older := Split(9, []byte("older frame"))

	out, err := r.Accept(newer[0].Payload)
	require.NoError(t, err)
	require.NotNil(t, out)

	// Fragments for frame ids <= 10 arriving afterwards never resurface.
	for _, c := range older {
		out, err := r.Accept(c.Payload)
		require.NoError(t, err)
		assert.Nil(t, out)
	}
	out, err = r.Accept(newer[0].Payload)
	require.NoError(t, err)
	assert.Nil(t, out, "already-emitted frame must not emit twice")

	last, ok := r.LastEmitted()
	require.True(t, ok)
	assert.Equal(t, uint32(10), last)
}

func TestIncompleteFrameGarbageCollected(t *testing.T) {
	r := NewReassembler(nil)

	// Frame 4 will never complete: only one of two fragments delivered.
	lossy := Split(4, bytes.Repeat([]byte("a"), MaxFragmentSize+1))
	_, err := r.Accept(lossy[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Buffered())

	// Completing a newer frame sweeps the dead buffer.
	out, err := r.Accept(Split(5, []byte("tiny"))[0].Payload)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Zero(t, r.Buffered())

	// The late second half of frame 4 is now stale.
	out, err = r.Accept(lossy[1].Payload)
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Zero(t, r.Buffered())
}

func TestDuplicateFragmentIgnored(t *testing.T) {
	r := NewReassembler(nil)
	chunks := Split(2, bytes.Repeat([]byte("b"), MaxFragmentSize+10))

	_, err := r.Accept(chunks[0].Payload)
	require.NoError(t, err)
	_, err = r.Accept(chunks[0].Payload)
	require.NoError(t, err)

	out, err := r.Accept(chunks[1].Payload)
	require.NoError(t, err)
	assert.NotNil(t, out)
}

type healthRecorder struct{ last int }

func (h *healthRecorder) UpdateBufferHealth(frames int) { h.last = frames }

func TestBufferHealthReported(t *testing.T) {
	rec := &healthRecorder{}
	r := NewReassembler(rec)

	chunks := Split(1, bytes.Repeat([]byte("c"), MaxFragmentSize+1))
	_, err := r.Accept(chunks[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.last)

	_, err = r.Accept(chunks[1].Payload)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.last, "completion empties the buffer")
}
