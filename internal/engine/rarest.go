package engine

import (
	"math/rand"
	"time"

	"zhiminhu/p2p-stream/internal/registry"
)

// RarestFirst pulls the missing chunk held by the fewest neighbors inside
// the scheduling window. Spreading the scarcest piece first keeps any single
// piece from vanishing network-wide when its last holder churns.
type RarestFirst struct {
	rng *rand.Rand
}

func NewRarestFirst() *RarestFirst {
	return &RarestFirst{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (r *RarestFirst) Name() string { return "rarest" }

func (r *RarestFirst) SelectNextPull(local map[uint32]struct{}, peers []*registry.Peer, cursor uint32) (string, uint32, bool) {
	// Scarcity comparison happens inside the near window. When that window
	// has no candidate at all, fall back to a plain forward scan so a hole
	// deep inside a large frame still gets pulled.
	if addr, chunk, ok := r.selectIn(local, peers, cursor, cursor+PullWindow); ok {
		return addr, chunk, ok
	}
	return r.selectIn(local, peers, cursor+PullWindow, cursor+scanAhead)
}

func (r *RarestFirst) selectIn(local map[uint32]struct{}, peers []*registry.Peer, lo, hi uint32) (string, uint32, bool) {
	var (
		bestChunk  uint32
		bestOwners []string
	)

	for id := lo; id < hi; id++ {
		if _, held := local[id]; held {
			continue
		}
		own := owners(peers, id)
		if len(own) == 0 {
			continue
		}
		// Strictly-less keeps the lowest id on availability ties.
		if bestOwners == nil || len(own) < len(bestOwners) {
			bestChunk = id
			bestOwners = own
		}
	}

	if bestOwners == nil {
		return "", 0, false
	}
	return bestOwners[r.rng.Intn(len(bestOwners))], bestChunk, true
}
