package engine

import (
	"math/rand"
	"time"

	"zhiminhu/p2p-stream/internal/registry"
)

// EDF (earliest-deadline-first) pulls the first missing, peer-held chunk at
// or after the playback cursor. It minimizes imminent stall risk and ignores
// scarcity entirely.
type EDF struct {
	rng *rand.Rand
}

func NewEDF() *EDF {
	return &EDF{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (e *EDF) Name() string { return "edf" }

func (e *EDF) SelectNextPull(local map[uint32]struct{}, peers []*registry.Peer, cursor uint32) (string, uint32, bool) {
	for id := cursor; id < cursor+scanAhead; id++ {
		if _, held := local[id]; held {
			continue
		}
		own := owners(peers, id)
		if len(own) == 0 {
			continue
		}
		// First qualifying candidate wins; scarcity is not considered.
		return own[e.rng.Intn(len(own))], id, true
	}
	return "", 0, false
}
