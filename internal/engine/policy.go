package engine

import (
	"fmt"

	"zhiminhu/p2p-stream/internal/registry"
)

// PullWindow is how many chunk ids ahead of the playback cursor the pull
// policies consider first.
const PullWindow = 16

// scanAhead bounds how far past the near window a policy may keep scanning
// when the window itself holds no candidate. Without it a frame larger than
// PullWindow fragments could leave a hole the cursor never advances past.
const scanAhead = 10 * PullWindow

// Policy decides, for one scheduling tick, which missing chunk to request
// from which neighbor. Implementations are stateless with respect to node
// state: everything they need arrives as arguments, which keeps each policy
// independently testable.
type Policy interface {
	Name() string
	SelectNextPull(local map[uint32]struct{}, peers []*registry.Peer, cursor uint32) (addr string, chunkID uint32, ok bool)
}

// NewPolicy maps a CLI policy name to an implementation.
func NewPolicy(name string) (Policy, error) {
	switch name {
	case "flood":
		return NewFloodPush(), nil
	case "rarest":
		return NewRarestFirst(), nil
	case "edf":
		return NewEDF(), nil
	default:
		return nil, fmt.Errorf("unknown scheduling policy %q", name)
	}
}

// owners collects the addresses of peers advertising a chunk.
func owners(peers []*registry.Peer, chunkID uint32) []string {
	var out []string
	for _, p := range peers {
		if p.Has(chunkID) {
			out = append(out, p.Addr)
		}
	}
	return out
}
