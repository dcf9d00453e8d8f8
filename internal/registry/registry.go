package registry

import (
	"sort"
	"time"

	"zhiminhu/p2p-stream/pkg/protocol"
)

// DeadPeerThreshold is how long a peer may stay silent before a prune pass
// evicts it. Heartbeats run well inside this window.
const DeadPeerThreshold = 5 * time.Second

// Peer is one known neighbor. RemoteBitmap is soft state: refreshed wholesale
// by periodic BITMAP advertisements and possibly stale in between.
type Peer struct {
	Addr         string
	ID           string
	Role         string
	LastSeen     time.Time
	RemoteBitmap map[uint32]struct{}
}

// Has reports whether the peer's last advertisement claimed this chunk.
func (p *Peer) Has(chunkID uint32) bool {
	_, ok := p.RemoteBitmap[chunkID]
	return ok
}

// Registry tracks known neighbors and their liveness. It exclusively owns
// peer lifecycle and remote bitmap snapshots. Not internally synchronized;
// all access happens on the node's event-loop goroutine.
type Registry struct {
	peers map[string]*Peer
}

func New() *Registry {
	return &Registry{peers: make(map[string]*Peer)}
}

// Touch updates last-seen for the address, admitting it implicitly if
// unknown: any message from a fresh address is treated as a handshake rather
// than an error.
func (r *Registry) Touch(addr string) *Peer {
	p, ok := r.peers[addr]
	if !ok {
		p = &Peer{
			Addr:         addr,
			Role:         protocol.RoleViewer,
			RemoteBitmap: make(map[uint32]struct{}),
		}
		r.peers[addr] = p
	}
	p.LastSeen = time.Now()
	return p
}

// SetIdentity records what the peer announced about itself in its handshake.
func (r *Registry) SetIdentity(addr, id, role string) {
	p := r.Touch(addr)
	if id != "" {
		p.ID = id
	}
	if role != "" {
		p.Role = role
	}
}

// UpdateBitmap replaces the peer's remote bitmap wholesale, latest-wins.
// A datagram reordered behind a newer advertisement can briefly regress the
// snapshot; the next periodic advertisement repairs it. Known risk, left as
// the protocol defines it.
func (r *Registry) UpdateBitmap(addr string, set map[uint32]struct{}) {
	p := r.Touch(addr)
	p.RemoteBitmap = set
}

func (r *Registry) Get(addr string) (*Peer, bool) {
	p, ok := r.peers[addr]
	return p, ok
}

func (r *Registry) Len() int {
	return len(r.peers)
}

// Snapshot returns the peers sorted by address for deterministic iteration.
func (r *Registry) Snapshot() []*Peer {
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

func (r *Registry) Addrs() []string {
	addrs := make([]string, 0, len(r.peers))
	for addr := range r.peers {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

// PruneDead removes every peer silent for longer than threshold and returns
// the evicted addresses so the scheduling engine can drop their queues.
func (r *Registry) PruneDead(now time.Time, threshold time.Duration) []string {
	var dead []string
	for addr, p := range r.peers {
		if now.Sub(p.LastSeen) > threshold {
			dead = append(dead, addr)
		}
	}
	for _, addr := range dead {
		delete(r.peers, addr)
	}
	sort.Strings(dead)
	return dead
}
