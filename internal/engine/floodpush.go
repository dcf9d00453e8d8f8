package engine

import (
	"zhiminhu/p2p-stream/internal/registry"
)

// FloodPush is the baseline policy: purely passive. New chunks fan out to
// every neighbor via the push queues, but nothing is ever requested, so loss
// is never repaired by this policy alone.
type FloodPush struct{}

func NewFloodPush() *FloodPush {
	return &FloodPush{}
}

func (f *FloodPush) Name() string { return "flood" }

func (f *FloodPush) SelectNextPull(map[uint32]struct{}, []*registry.Peer, uint32) (string, uint32, bool) {
	return "", 0, false
}
