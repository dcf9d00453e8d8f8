package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zhiminhu/p2p-stream/pkg/protocol"
)

func TestTouchAdmitsUnknownPeer(t *testing.T) {
	r := New()

	p := r.Touch("127.0.0.1:9001")
	require.NotNil(t, p)
	assert.Equal(t, protocol.RoleViewer, p.Role, "unknown peers default to viewer")
	assert.Equal(t, 1, r.Len())

	// Touching again reuses the entry.
	again := r.Touch("127.0.0.1:9001")
	assert.Same(t, p, again)
	assert.Equal(t, 1, r.Len())
}

func TestSetIdentity(t *testing.T) {
	r := New()
	r.SetIdentity("127.0.0.1:9000", "node-a", protocol.RoleOrigin)

	p, ok := r.Get("127.0.0.1:9000")
	require.True(t, ok)
	assert.Equal(t, "node-a", p.ID)
	assert.Equal(t, protocol.RoleOrigin, p.Role)

	// Empty fields leave the previous identity intact.
	r.SetIdentity("127.0.0.1:9000", "", "")
	assert.Equal(t, "node-a", p.ID)
	assert.Equal(t, protocol.RoleOrigin, p.Role)
}

func TestUpdateBitmapLatestWins(t *testing.T) {
	r := New()

	r.UpdateBitmap("127.0.0.1:9001", map[uint32]struct{}{1: {}, 2: {}, 3: {}})
	r.UpdateBitmap("127.0.0.1:9001", map[uint32]struct{}{4: {}})

	p, ok := r.Get("127.0.0.1:9001")
	require.True(t, ok)
	assert.False(t, p.Has(1), "wholesale replace, no merge")
	assert.True(t, p.Has(4))
}

func TestPruneDead(t *testing.T) {
	r := New()
	r.Touch("127.0.0.1:9001")
	r.Touch("127.0.0.1:9002")

	// Nobody is stale yet.
	assert.Empty(t, r.PruneDead(time.Now(), DeadPeerThreshold))
	assert.Equal(t, 2, r.Len())

	// Viewed from far enough in the future, everyone is dead.
	future := time.Now().Add(DeadPeerThreshold + time.Second)
	dead := r.PruneDead(future, DeadPeerThreshold)
	assert.Equal(t, []string{"127.0.0.1:9001", "127.0.0.1:9002"}, dead)
	assert.Zero(t, r.Len())
}

func TestPruneSparesRecentlySeen(t *testing.T) {
	r := New()
	now := time.Now()
	r.Touch("127.0.0.1:9001").LastSeen = now.Add(-DeadPeerThreshold - time.Second)
	r.Touch("127.0.0.1:9002").LastSeen = now.Add(-time.Second)

	dead := r.PruneDead(now, DeadPeerThreshold)
	assert.Equal(t, []string{"127.0.0.1:9001"}, dead)

	_, ok := r.Get("127.0.0.1:9002")
	assert.True(t, ok)
}

func TestSnapshotSorted(t *testing.T) {
	r := New()
	r.Touch("c:3")
	r.Touch("a:1")
	r.Touch("b:2")

	var addrs []string
	for _, p := range r.Snapshot() {
		addrs = append(addrs, p.Addr)
	}
	assert.Equal(t, []string{"a:1", "b:2", "c:3"}, addrs)
	assert.Equal(t, addrs, r.Addrs())
}
