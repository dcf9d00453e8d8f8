package node

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zhiminhu/p2p-stream/pkg/protocol"
)

// hurry shrinks the loop periods so a scenario converges in well under a
// second of wall time.
func hurry(n *Node) {
	n.heartbeatEvery = 50 * time.Millisecond
	n.bitmapEvery = 30 * time.Millisecond
	n.pruneEvery = 50 * time.Millisecond
	n.tickEvery = 20 * time.Millisecond
	n.pexEvery = 50 * time.Millisecond
}

func startNode(t *testing.T, ctx context.Context, role, policy string) *Node {
	t.Helper()
	n, err := New(Config{ListenAddr: "127.0.0.1:0", Role: role, Policy: policy})
	require.NoError(t, err)
	hurry(n)
	require.NoError(t, n.Start(ctx))
	t.Cleanup(n.Stop)
	return n
}

// onLoop runs fn on the node's event-loop goroutine and waits for it, so a
// test can poke at loop-owned state without racing the loop.
func onLoop(n *Node, fn func()) {
	done := make(chan struct{})
	n.cmds <- func() { fn(); close(done) }
	<-done
}

func recvFrame(t *testing.T, n *Node, timeout time.Duration) []byte {
	t.Helper()
	select {
	case f := <-n.Frames():
		return f
	case <-time.After(timeout):
		t.Fatalf("node %s: no frame within %v", n.Addr(), timeout)
		return nil
	}
}

// Two viewers join an origin; the origin splits one frame across them, and
// the swarm redistributes until both can play it back.
func TestSwarmConvergesOnInjectedFrame(t *testing.T) {
	if testing.Short() {
		t.Skip("loopback swarm test")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	origin := startNode(t, ctx, protocol.RoleOrigin, "")
	b := startNode(t, ctx, protocol.RoleViewer, "rarest")
	c := startNode(t, ctx, protocol.RoleViewer, "edf")

	b.Connect(origin.Addr())
	c.Connect(origin.Addr())

	// Give the handshakes a moment so both viewers are on the roster.
	time.Sleep(200 * time.Millisecond)

	frame := bytes.Repeat([]byte{0xAB, 0xCD}, 1250) // 2500 bytes, 3 chunks
	origin.InjectFrame(frame)

	assert.Equal(t, frame, recvFrame(t, b, 5*time.Second))
	assert.Equal(t, frame, recvFrame(t, c, 5*time.Second))
}

// With a single roster member the round-robin degenerates to direct
// delivery: the lone viewer receives every chunk and plays the frame back.
func TestLoneViewerReceivesWholeFrame(t *testing.T) {
	if testing.Short() {
		t.Skip("loopback swarm test")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	origin := startNode(t, ctx, protocol.RoleOrigin, "")
	v := startNode(t, ctx, protocol.RoleViewer, "edf")

	v.Connect(origin.Addr())
	time.Sleep(200 * time.Millisecond)

	frame := bytes.Repeat([]byte{0x42}, 4096) // 5 chunks
	origin.InjectFrame(frame)

	got := recvFrame(t, v, 5*time.Second)
	assert.Equal(t, frame, got)

	snap := v.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.FramesEmitted)
	assert.GreaterOrEqual(t, snap.ChunksStored, int64(5))
}

func TestSilentPeerIsPruned(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n, err := New(Config{ListenAddr: "127.0.0.1:0", Role: protocol.RoleViewer, Policy: "rarest"})
	require.NoError(t, err)
	hurry(n)
	n.deadAfter = 100 * time.Millisecond
	require.NoError(t, n.Start(ctx))
	t.Cleanup(n.Stop)

	// A peer that sent one datagram and then went quiet.
	onLoop(n, func() { n.reg.Touch("203.0.113.9:4000") })

	require.Eventually(t, func() bool {
		var left int
		onLoop(n, func() { left = n.reg.Len() })
		return left == 0
	}, 2*time.Second, 25*time.Millisecond, "silent peer should be evicted")
}

// A DATA packet whose sequence field disagrees with the chunk header it
// carries must not be stored, advertised, or re-served under either id.
func TestDataWithMismatchedSequenceDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := startNode(t, ctx, protocol.RoleViewer, "rarest")

	payload := protocol.ChunkPayload{
		FrameID:    1,
		TotalFrags: 2,
		FragIndex:  0,
		Data:       []byte("fragment"),
	}.Encode()
	honest := protocol.ChunkID(1, 0)

	forged := protocol.Packet{
		Ver:     protocol.Version,
		Type:    protocol.TypeData,
		Seq:     999, // claims a different position than the header
		Payload: payload,
	}
	onLoop(n, func() { n.onData(forged, "203.0.113.7:4000") })
	onLoop(n, func() {
		assert.False(t, n.store.Has(999))
		assert.False(t, n.store.Has(honest))
	})

	genuine := forged
	genuine.Seq = honest
	onLoop(n, func() { n.onData(genuine, "203.0.113.7:4000") })
	onLoop(n, func() {
		assert.True(t, n.store.Has(honest))
		assert.False(t, n.store.Has(999))
	})
}

func TestStatusLineMentionsRoleAndPolicy(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := startNode(t, ctx, protocol.RoleViewer, "edf")
	status := n.GetStatus()
	assert.Contains(t, status, "viewer")
	assert.Contains(t, status, "edf")
}
