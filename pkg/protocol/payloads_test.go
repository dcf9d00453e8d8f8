package protocol

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitmapRoundTrip(t *testing.T) {
	set := map[uint32]struct{}{
		1: {}, 2: {}, 3: {},
		10: {}, 11: {},
		100: {},
	}

	got, err := DecodeBitmap(EncodeBitmap(set))
	require.NoError(t, err)
	assert.Equal(t, set, got)
}

func TestBitmapEmpty(t *testing.T) {
	assert.Equal(t, "[]", string(EncodeBitmap(nil)))

	got, err := DecodeBitmap([]byte("[]"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBitmapRangeCapKeepsNewest(t *testing.T) {
	// 60 isolated ids produce 60 ranges; only the newest 50 survive.
	set := make(map[uint32]struct{})
	for i := 0; i < 60; i++ {
		set[uint32(i*10)] = struct{}{}
	}

	got, err := DecodeBitmap(EncodeBitmap(set))
	require.NoError(t, err)
	assert.Len(t, got, 50)
	assert.Contains(t, got, uint32(590))
	assert.NotContains(t, got, uint32(0))
}

func TestBitmapFlatListAccepted(t *testing.T) {
	got, err := DecodeBitmap([]byte("[5, 9, 12]"))
	require.NoError(t, err)
	assert.Equal(t, map[uint32]struct{}{5: {}, 9: {}, 12: {}}, got)
}

func TestBitmapRangeEndingAtMaxUint32(t *testing.T) {
	// The loop counter must not wrap past the top of the uint32 id space.
	got, err := DecodeBitmap([]byte("[[4294967290, 4294967295]]"))
	require.NoError(t, err)
	assert.Len(t, got, 6)
	assert.Contains(t, got, uint32(4294967295))
}

func TestBitmapOverwideExpansionRejected(t *testing.T) {
	for _, payload := range []string{
		"[[0, 4294967295]]",
		"[[0, 2000000]]",
		"[[0, 900000], [1000000, 1900000]]",
	} {
		_, err := DecodeBitmap([]byte(payload))
		assert.ErrorIs(t, err, ErrMalformed, payload)
	}
}

func TestBitmapGarbageRejected(t *testing.T) {
	_, err := DecodeBitmap([]byte("{nope"))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestHandshakeRoundTrip(t *testing.T) {
	h := Handshake{ID: "node-1", Role: RoleOrigin}
	got := DecodeHandshake(h.Encode())
	assert.Equal(t, h, got)
}

func TestHandshakeLiberalDecode(t *testing.T) {
	assert.Equal(t, RoleViewer, DecodeHandshake(nil).Role)
	assert.Equal(t, RoleViewer, DecodeHandshake([]byte("not json")).Role)
	assert.Equal(t, RoleViewer, DecodeHandshake([]byte(`{"id":"x"}`)).Role)
}

func TestPeerListRoundTrip(t *testing.T) {
	peers := []PeerInfo{
		{Addr: "127.0.0.1:9001", Role: RoleViewer},
		{Addr: "127.0.0.1:9000", Role: RoleOrigin},
	}

	got, err := DecodePeerList(EncodePeerList(peers))
	require.NoError(t, err)
	assert.Equal(t, peers, got)
}

func TestRequestRoundTrip(t *testing.T) {
	for _, id := range []uint32{0, 1, 42007, 4294967295} {
		t.Run(fmt.Sprint(id), func(t *testing.T) {
			got, err := DecodeRequest(EncodeRequest(id))
			require.NoError(t, err)
			assert.Equal(t, id, got)
		})
	}

	_, err := DecodeRequest([]byte("-3"))
	assert.ErrorIs(t, err, ErrMalformed)
}
