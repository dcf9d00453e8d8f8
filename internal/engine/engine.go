package engine

import (
	"time"

	"golang.org/x/time/rate"

	"zhiminhu/p2p-stream/internal/registry"
	"zhiminhu/p2p-stream/internal/store"
	"zhiminhu/p2p-stream/pkg/logger"
)

const (
	// maxRequestsPerTick caps how many pulls one tick may issue.
	maxRequestsPerTick = 5
	// maxPushesPerTick drains the push queues gradually so one hot chunk
	// cannot monopolize a send opportunity.
	maxPushesPerTick = 5
	// inflightTTL is how long an issued request suppresses re-requesting
	// the same chunk. Expiry is the open-loop retry: the next tick is free
	// to pick the same target again.
	inflightTTL = 2 * time.Second

	// Outbound REQUEST pacing. The burst covers one full tick.
	requestsPerSecond = 50
	requestBurst      = maxRequestsPerTick
)

// Outbound is what the engine needs from the node to move data: fire a DATA
// packet or a REQUEST packet at a neighbor. Implementations must not block.
type Outbound interface {
	SendData(addr string, chunkID uint32)
	SendRequest(addr string, chunkID uint32)
}

// peerQueues are the two outbound lanes for a single neighbor.
// pendingPull holds chunks the neighbor explicitly requested (service
// obligations); pendingPush holds chunks we proactively forward.
type peerQueues struct {
	pendingPull []uint32
	pendingPush []uint32
}

func contains(q []uint32, id uint32) bool {
	for _, v := range q {
		if v == id {
			return true
		}
	}
	return false
}

func remove(q []uint32, id uint32) []uint32 {
	out := q[:0]
	for _, v := range q {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Engine owns every per-peer queue and applies the selection policy each
// tick. Queue mutation happens nowhere else. All methods run on the node's
// event-loop goroutine, so no locking.
type Engine struct {
	policy Policy
	store  *store.Store
	reg    *registry.Registry
	out    Outbound

	queues   map[string]*peerQueues
	inflight map[uint32]time.Time
	limiter  *rate.Limiter

	// drainOffset rotates which peer drains first each tick, so the shared
	// push budget is not eaten by the same peers every time.
	drainOffset int
}

func New(policy Policy, st *store.Store, reg *registry.Registry, out Outbound) *Engine {
	return &Engine{
		policy:   policy,
		store:    st,
		reg:      reg,
		out:      out,
		queues:   make(map[string]*peerQueues),
		inflight: make(map[uint32]time.Time),
		limiter:  rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
	}
}

func (e *Engine) PolicyName() string {
	return e.policy.Name()
}

func (e *Engine) queuesFor(addr string) *peerQueues {
	q, ok := e.queues[addr]
	if !ok {
		q = &peerQueues{}
		e.queues[addr] = q
	}
	return q
}

// OnChunkReceived fans a freshly stored chunk out to every neighbor except
// the one it came from. Neighbors whose last advertisement already claims
// the chunk are skipped, and a chunk never sits twice in the same queue.
func (e *Engine) OnChunkReceived(chunkID uint32, from string) {
	for _, p := range e.reg.Snapshot() {
		if p.Addr == from || p.Has(chunkID) {
			continue
		}
		q := e.queuesFor(p.Addr)
		if contains(q.pendingPush, chunkID) || contains(q.pendingPull, chunkID) {
			continue
		}
		q.pendingPush = append(q.pendingPush, chunkID)
	}
}

// OnRequest services an explicit pull from a neighbor. If the chunk is also
// sitting in that neighbor's push queue it is removed there first, so the
// chunk travels exactly once, via the pull lane.
func (e *Engine) OnRequest(chunkID uint32, from string) {
	q := e.queuesFor(from)
	q.pendingPush = remove(q.pendingPush, chunkID)

	if !e.store.Has(chunkID) {
		logger.Sugar.Warnf("[Engine] peer %s requested chunk %d we do not hold", from, chunkID)
		return
	}
	if contains(q.pendingPull, chunkID) {
		return
	}
	q.pendingPull = append(q.pendingPull, chunkID)
}

// OnBitmap reconciles a neighbor's fresh advertisement with its queues:
// anything the neighbor now confirms holding is dropped and never re-queued.
func (e *Engine) OnBitmap(addr string, set map[uint32]struct{}) {
	q, ok := e.queues[addr]
	if !ok {
		return
	}
	filter := func(in []uint32) []uint32 {
		out := in[:0]
		for _, id := range in {
			if _, held := set[id]; !held {
				out = append(out, id)
			}
		}
		return out
	}
	q.pendingPush = filter(q.pendingPush)
	q.pendingPull = filter(q.pendingPull)
}

// DropPeer discards all queued work for a vanished neighbor.
func (e *Engine) DropPeer(addr string) {
	delete(e.queues, addr)
}

// Tick runs one scheduling round: issue pull requests according to the
// policy, then drain send queues, pull lane strictly first.
func (e *Engine) Tick(cursor uint32) {
	e.schedulePulls(cursor)
	e.drainQueues()
}

func (e *Engine) schedulePulls(cursor uint32) {
	now := time.Now()
	for id, issued := range e.inflight {
		if now.Sub(issued) > inflightTTL {
			delete(e.inflight, id)
		}
	}

	peers := e.reg.Snapshot()
	if len(peers) == 0 {
		return
	}

	// The policy sees in-flight requests as held, bounding duplicate
	// requests under loss without per-request timers.
	local := e.store.Bitmap()
	for id := range e.inflight {
		local[id] = struct{}{}
	}

	for i := 0; i < maxRequestsPerTick; i++ {
		if !e.limiter.Allow() {
			return
		}
		addr, chunkID, ok := e.policy.SelectNextPull(local, peers, cursor)
		if !ok {
			return
		}
		e.out.SendRequest(addr, chunkID)
		e.inflight[chunkID] = now
		local[chunkID] = struct{}{}
	}
}

func (e *Engine) drainQueues() {
	pushBudget := maxPushesPerTick

	peers := e.reg.Snapshot()
	if len(peers) == 0 {
		return
	}
	start := e.drainOffset % len(peers)
	e.drainOffset++
	rotated := make([]*registry.Peer, 0, len(peers))
	rotated = append(rotated, peers[start:]...)
	rotated = append(rotated, peers[:start]...)

	for _, p := range rotated {
		q, ok := e.queues[p.Addr]
		if !ok {
			continue
		}

		// Service obligations first, fully.
		for _, id := range q.pendingPull {
			e.out.SendData(p.Addr, id)
		}
		q.pendingPull = q.pendingPull[:0]

		for pushBudget > 0 && len(q.pendingPush) > 0 {
			id := q.pendingPush[0]
			q.pendingPush = q.pendingPush[1:]
			if p.Has(id) {
				continue
			}
			e.out.SendData(p.Addr, id)
			pushBudget--
		}
	}
}
