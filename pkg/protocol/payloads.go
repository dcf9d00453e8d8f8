package protocol

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Roles a node can announce in its handshake.
const (
	RoleOrigin = "origin"
	RoleViewer = "viewer"
)

// maxBitmapRanges caps the bitmap payload so it stays well under the path
// MTU. 50 ranges of "[nnnnnn,nnnnnn]" is roughly 750 bytes; the newest
// ranges matter most for a live stream, so older ones are shed first.
const maxBitmapRanges = 50

// maxBitmapIDs bounds how many chunk ids one BITMAP payload may expand to:
// a full 1000-frame playback horizon at 1000 fragments per frame. Anything
// wider is a forged or corrupt advertisement, not a plausible bitmap.
const maxBitmapIDs = 1000 * FragmentsPerFrame

// Handshake identifies a joining node.
type Handshake struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

func (h Handshake) Encode() []byte {
	b, _ := json.Marshal(h)
	return b
}

// DecodeHandshake is liberal: an empty or unparseable payload admits the
// sender as an anonymous viewer rather than rejecting the handshake.
func DecodeHandshake(payload []byte) Handshake {
	h := Handshake{Role: RoleViewer}
	if len(payload) == 0 {
		return h
	}
	if err := json.Unmarshal(payload, &h); err != nil || h.Role == "" {
		h.Role = RoleViewer
	}
	return h
}

// PeerInfo is one entry of a PEER_LIST payload.
type PeerInfo struct {
	Addr string `json:"addr"`
	Role string `json:"role"`
}

func EncodePeerList(peers []PeerInfo) []byte {
	b, _ := json.Marshal(peers)
	return b
}

func DecodePeerList(payload []byte) ([]PeerInfo, error) {
	var peers []PeerInfo
	if err := json.Unmarshal(payload, &peers); err != nil {
		return nil, fmt.Errorf("%w: peer list: %v", ErrMalformed, err)
	}
	return peers, nil
}

// EncodeBitmap run-length compresses a chunk id set into JSON
// [[start, end], ...] inclusive ranges, keeping only the newest
// maxBitmapRanges ranges.
func EncodeBitmap(set map[uint32]struct{}) []byte {
	if len(set) == 0 {
		return []byte("[]")
	}

	ids := make([]uint32, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var ranges [][2]uint32
	start, prev := ids[0], ids[0]
	for _, id := range ids[1:] {
		if id == prev+1 {
			prev = id
			continue
		}
		ranges = append(ranges, [2]uint32{start, prev})
		start, prev = id, id
	}
	ranges = append(ranges, [2]uint32{start, prev})

	if len(ranges) > maxBitmapRanges {
		ranges = ranges[len(ranges)-maxBitmapRanges:]
	}

	b, _ := json.Marshal(ranges)
	return b
}

// DecodeBitmap expands a bitmap payload back into a chunk id set. Both the
// range form [[s, e], ...] and a flat id list [a, b, c] are accepted.
func DecodeBitmap(payload []byte) (map[uint32]struct{}, error) {
	set := make(map[uint32]struct{})

	var ranges [][2]uint32
	if err := json.Unmarshal(payload, &ranges); err == nil {
		// Validate the total expansion before building anything: the id
		// arithmetic runs in uint64 so a range ending at MaxUint32 cannot
		// wrap the loop counter.
		var total uint64
		for _, r := range ranges {
			if r[1] < r[0] {
				return nil, fmt.Errorf("%w: bitmap range [%d, %d]", ErrMalformed, r[0], r[1])
			}
			total += uint64(r[1]) - uint64(r[0]) + 1
			if total > maxBitmapIDs {
				return nil, fmt.Errorf("%w: bitmap expands to over %d ids", ErrMalformed, maxBitmapIDs)
			}
		}
		for _, r := range ranges {
			for id := uint64(r[0]); id <= uint64(r[1]); id++ {
				set[uint32(id)] = struct{}{}
			}
		}
		return set, nil
	}

	var flat []uint32
	if err := json.Unmarshal(payload, &flat); err != nil {
		return nil, fmt.Errorf("%w: bitmap: %v", ErrMalformed, err)
	}
	for _, id := range flat {
		set[id] = struct{}{}
	}
	return set, nil
}

func EncodeRequest(chunkID uint32) []byte {
	return []byte(strconv.FormatUint(uint64(chunkID), 10))
}

func DecodeRequest(payload []byte) (uint32, error) {
	id, err := strconv.ParseUint(string(payload), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: request: %v", ErrMalformed, err)
	}
	return uint32(id), nil
}
