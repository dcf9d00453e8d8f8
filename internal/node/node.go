package node

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"zhiminhu/p2p-stream/internal/engine"
	"zhiminhu/p2p-stream/internal/fragment"
	"zhiminhu/p2p-stream/internal/registry"
	"zhiminhu/p2p-stream/internal/store"
	"zhiminhu/p2p-stream/pkg/logger"
	"zhiminhu/p2p-stream/pkg/protocol"
	"zhiminhu/p2p-stream/pkg/stats"
	"zhiminhu/p2p-stream/pkg/transport"
	"zhiminhu/p2p-stream/pkg/transport/udp"
)

// Reference periods for the node's background loops. Heartbeats run well
// inside the dead-peer threshold so one lost datagram cannot get a live
// neighbor pruned.
const (
	heartbeatPeriod = 2 * time.Second
	bitmapPeriod    = 1 * time.Second
	prunePeriod     = 5 * time.Second
	tickPeriod      = 250 * time.Millisecond
	pexPeriod       = 5 * time.Second

	frameBuffer = 32
)

// Config carries everything needed to construct a node.
type Config struct {
	ListenAddr string
	Role       string // protocol.RoleOrigin or protocol.RoleViewer
	Policy     string // flood, rarest or edf; ignored for the origin
}

// Node ties transport, registry, store, reassembly and scheduling together.
// Every piece of mutable state below the transport lives on one event-loop
// goroutine: packets, timers and external commands are all funneled through
// loop(), so the registry, store, engine and reassembler need no locks.
type Node struct {
	id    string
	role  string
	stats *stats.Collector
	tr    transport.Transport
	reg   *registry.Registry
	store *store.Store
	eng   *engine.Engine
	asm   *fragment.Reassembler
	dist  *distributor

	frameSeq uint32
	frames   chan []byte
	cmds     chan func()

	// Loop periods, fixed at construction. Tests shrink these.
	heartbeatEvery time.Duration
	bitmapEvery    time.Duration
	pruneEvery     time.Duration
	tickEvery      time.Duration
	pexEvery       time.Duration
	deadAfter      time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config) (*Node, error) {
	policyName := cfg.Policy
	if cfg.Role == protocol.RoleOrigin {
		// The origin only ever pushes; it has nobody to pull from.
		policyName = "flood"
	} else if policyName == "" {
		policyName = "rarest"
	}
	policy, err := engine.NewPolicy(policyName)
	if err != nil {
		return nil, err
	}

	n := &Node{
		id:     uuid.NewString(),
		role:   cfg.Role,
		stats:  stats.NewCollector(),
		reg:    registry.New(),
		store:  store.New(),
		dist:   &distributor{},
		frames: make(chan []byte, frameBuffer),
		cmds:   make(chan func()),

		heartbeatEvery: heartbeatPeriod,
		bitmapEvery:    bitmapPeriod,
		pruneEvery:     prunePeriod,
		tickEvery:      tickPeriod,
		pexEvery:       pexPeriod,
		deadAfter:      registry.DeadPeerThreshold,

		done: make(chan struct{}),
	}
	n.asm = fragment.NewReassembler(n.stats)
	n.tr = udp.NewUDPTransport(cfg.ListenAddr, n.stats)
	n.eng = engine.New(policy, n.store, n.reg, n)
	return n, nil
}

// Start binds the socket and launches the event loop.
func (n *Node) Start(ctx context.Context) error {
	if err := n.tr.Listen(); err != nil {
		return fmt.Errorf("node listen: %w", err)
	}
	ctx, n.cancel = context.WithCancel(ctx)
	logger.Sugar.Infof("[Node] %s up as %s on %s, policy %s", n.id[:8], n.role, n.tr.Addr(), n.eng.PolicyName())
	go n.loop(ctx)
	return nil
}

// Stop shuts the event loop down and closes the socket. Safe to call once
// after a successful Start.
func (n *Node) Stop() {
	n.cancel()
	<-n.done
}

func (n *Node) ID() string              { return n.id }
func (n *Node) Role() string            { return n.role }
func (n *Node) Addr() string            { return n.tr.Addr() }
func (n *Node) PolicyName() string      { return n.eng.PolicyName() }
func (n *Node) Stats() *stats.Collector { return n.stats }

// Frames delivers completed frames in playback order for a render adapter.
// When no consumer keeps up, the oldest buffered frame is dropped; a live
// stream never blocks on its viewer.
func (n *Node) Frames() <-chan []byte { return n.frames }

// Connect introduces this node to a remote peer by sending a handshake.
// The peer is admitted into the registry once it answers.
func (n *Node) Connect(addr string) {
	n.sendHandshake(addr)
}

// InjectFrame hands one encoded frame to the node for fragmentation and
// distribution. It is the capture-side entry point on an origin and is safe
// to call from any goroutine.
func (n *Node) InjectFrame(frame []byte) {
	data := append([]byte(nil), frame...)
	select {
	case n.cmds <- func() { n.injectFrame(data) }:
	case <-n.done:
	}
}

// GetStatus renders a one-shot human-readable summary for the shell.
func (n *Node) GetStatus() string {
	ch := make(chan string, 1)
	select {
	case n.cmds <- func() { ch <- n.statusLine() }:
		return <-ch
	case <-n.done:
		return "node stopped"
	}
}

func (n *Node) loop(ctx context.Context) {
	defer close(n.done)

	heartbeat := time.NewTicker(n.heartbeatEvery)
	bitmap := time.NewTicker(n.bitmapEvery)
	prune := time.NewTicker(n.pruneEvery)
	tick := time.NewTicker(n.tickEvery)
	pex := time.NewTicker(n.pexEvery)
	defer heartbeat.Stop()
	defer bitmap.Stop()
	defer prune.Stop()
	defer tick.Stop()
	defer pex.Stop()

	for {
		select {
		case <-ctx.Done():
			n.tr.Close()
			return
		case rpc, ok := <-n.tr.Consume():
			if !ok {
				return
			}
			n.handlePacket(rpc)
		case fn := <-n.cmds:
			fn()
		case <-heartbeat.C:
			n.sendHeartbeats()
		case <-bitmap.C:
			n.advertiseBitmap()
		case <-prune.C:
			n.prunePeers()
		case <-tick.C:
			n.eng.Tick(n.cursor())
		case <-pex.C:
			n.gossipPeers()
		}
	}
}

func (n *Node) handlePacket(rpc transport.RPC) {
	from := rpc.From
	pkt := rpc.Packet

	// Any datagram from a peer proves liveness and implicitly admits a
	// fresh address.
	n.reg.Touch(from)

	switch pkt.Type {
	case protocol.TypeHandshake:
		n.onHandshake(pkt.Payload, from)
	case protocol.TypeHeartbeat:
		// Touch above was the whole job.
	case protocol.TypeBitmap:
		set, err := protocol.DecodeBitmap(pkt.Payload)
		if err != nil {
			logger.Sugar.Debugf("[Node] bad bitmap from %s: %v", from, err)
			return
		}
		n.reg.UpdateBitmap(from, set)
		n.eng.OnBitmap(from, set)
	case protocol.TypeRequest:
		chunkID, err := protocol.DecodeRequest(pkt.Payload)
		if err != nil {
			logger.Sugar.Debugf("[Node] bad request from %s: %v", from, err)
			return
		}
		n.eng.OnRequest(chunkID, from)
	case protocol.TypeData:
		n.onData(pkt, from)
	case protocol.TypePeerList:
		n.onPeerList(pkt.Payload, from)
	default:
		logger.Sugar.Debugf("[Node] unknown packet type 0x%02x from %s", pkt.Type, from)
	}
}

func (n *Node) onHandshake(payload []byte, from string) {
	hs := protocol.DecodeHandshake(payload)
	n.reg.SetIdentity(from, hs.ID, hs.Role)
	logger.Sugar.Infof("[Node] handshake from %s (%s)", from, hs.Role)

	// Answer with our bitmap so the joiner can start pulling immediately.
	n.send(from, protocol.TypeBitmap, 0, protocol.EncodeBitmap(n.store.Bitmap()))

	if n.role == protocol.RoleOrigin {
		// Bootstrap the joiner with the current neighbor set, then put it
		// on the seeding roster.
		n.sendPeerList(from)
		n.dist.add(from)
	}
}

func (n *Node) onData(pkt protocol.Packet, from string) {
	cp, err := protocol.DecodeChunkPayload(pkt.Payload)
	if err != nil {
		logger.Sugar.Debugf("[Node] bad chunk from %s: %v", from, err)
		return
	}

	// The id is positional, derived from the chunk header. A sequence field
	// that disagrees is a forged or corrupt packet; storing under it would
	// advertise and re-serve another position's bytes.
	chunkID := protocol.ChunkID(cp.FrameID, cp.FragIndex)
	if chunkID != pkt.Seq {
		logger.Sugar.Debugf("[Node] chunk id mismatch from %s: seq=%d, header says %d", from, pkt.Seq, chunkID)
		return
	}

	if !n.store.Put(chunkID, pkt.Payload) {
		return
	}
	n.stats.AddChunkStored()
	n.eng.OnChunkReceived(chunkID, from)

	frame, err := n.asm.Accept(pkt.Payload)
	if err != nil {
		logger.Sugar.Debugf("[Node] reassembly of chunk %d: %v", chunkID, err)
		return
	}
	if frame != nil {
		n.emitFrame(frame)
	}
}

func (n *Node) onPeerList(payload []byte, from string) {
	infos, err := protocol.DecodePeerList(payload)
	if err != nil {
		logger.Sugar.Debugf("[Node] bad peer list from %s: %v", from, err)
		return
	}
	self := n.tr.Addr()
	for _, info := range infos {
		if info.Addr == self || info.Addr == from {
			continue
		}
		if _, known := n.reg.Get(info.Addr); known {
			continue
		}
		logger.Sugar.Infof("[Node] learned peer %s from %s", info.Addr, from)
		n.sendHandshake(info.Addr)
	}
}

func (n *Node) emitFrame(frame []byte) {
	n.stats.AddFrameEmitted()

	if emitted, ok := n.asm.LastEmitted(); ok && emitted > fragment.HorizonFrames {
		n.store.EvictFramesBefore(emitted - fragment.HorizonFrames)
	}

	select {
	case n.frames <- frame:
		return
	default:
	}
	select {
	case <-n.frames:
	default:
	}
	select {
	case n.frames <- frame:
	default:
	}
}

func (n *Node) injectFrame(frame []byte) {
	n.frameSeq++
	chunks := fragment.Split(n.frameSeq, frame)
	for _, c := range chunks {
		if n.store.Put(c.ID, c.Payload) {
			n.stats.AddChunkStored()
		}
		// Initial seeding: each chunk goes to exactly one roster member;
		// the swarm redistributes from there.
		if addr, ok := n.dist.next(); ok {
			n.send(addr, protocol.TypeData, c.ID, c.Payload)
		}
	}
	if n.frameSeq > fragment.HorizonFrames {
		n.store.EvictFramesBefore(n.frameSeq - fragment.HorizonFrames)
	}
}

func (n *Node) sendHeartbeats() {
	addrs := n.reg.Addrs()
	for _, addr := range addrs {
		n.send(addr, protocol.TypeHeartbeat, 0, nil)
	}
	n.stats.UpdatePeers(addrs)
}

func (n *Node) advertiseBitmap() {
	payload := protocol.EncodeBitmap(n.store.Bitmap())
	for _, addr := range n.reg.Addrs() {
		n.send(addr, protocol.TypeBitmap, 0, payload)
	}
	n.stats.UpdateBitmap(n.bitmapSummary())
}

func (n *Node) prunePeers() {
	for _, addr := range n.reg.PruneDead(time.Now(), n.deadAfter) {
		logger.Sugar.Infof("[Node] pruned dead peer %s", addr)
		n.eng.DropPeer(addr)
		n.dist.remove(addr)
	}
}

func (n *Node) gossipPeers() {
	for _, addr := range n.reg.Addrs() {
		n.sendPeerList(addr)
	}
}

func (n *Node) sendPeerList(to string) {
	var infos []protocol.PeerInfo
	for _, p := range n.reg.Snapshot() {
		if p.Addr == to {
			continue
		}
		infos = append(infos, protocol.PeerInfo{Addr: p.Addr, Role: p.Role})
	}
	if len(infos) == 0 {
		return
	}
	n.send(to, protocol.TypePeerList, 0, protocol.EncodePeerList(infos))
}

func (n *Node) sendHandshake(addr string) {
	hs := protocol.Handshake{ID: n.id, Role: n.role}
	n.send(addr, protocol.TypeHandshake, 0, hs.Encode())
}

func (n *Node) send(addr string, typ uint8, seq uint32, payload []byte) {
	p := protocol.Packet{
		Ver:       protocol.Version,
		Type:      typ,
		Seq:       seq,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Payload:   payload,
	}
	if err := n.tr.SendPacket(p, addr); err != nil {
		logger.Sugar.Debugf("[Node] send type 0x%02x to %s: %v", typ, addr, err)
	}
}

// SendData ships a held chunk to a neighbor. Chunks evicted between queueing
// and sending are silently skipped.
func (n *Node) SendData(addr string, chunkID uint32) {
	payload, err := n.store.Get(chunkID)
	if err != nil {
		logger.Sugar.Debugf("[Node] chunk %d gone before send to %s", chunkID, addr)
		return
	}
	n.send(addr, protocol.TypeData, chunkID, payload)
}

// SendRequest asks a neighbor for a chunk.
func (n *Node) SendRequest(addr string, chunkID uint32) {
	n.send(addr, protocol.TypeRequest, chunkID, protocol.EncodeRequest(chunkID))
}

// cursor estimates the playback position the scheduling window anchors on.
// Once a frame has emitted the cursor is the first chunk of the next frame;
// before that it falls back to the newest local data, then to the oldest
// chunk any neighbor advertises.
func (n *Node) cursor() uint32 {
	if f, ok := n.asm.LastEmitted(); ok {
		return protocol.ChunkID(f+1, 0)
	}
	if min, max, ok := n.store.Range(); ok {
		if max >= min+engine.PullWindow {
			return max - engine.PullWindow
		}
		return min
	}

	var lowest uint32
	found := false
	for _, p := range n.reg.Snapshot() {
		for id := range p.RemoteBitmap {
			if !found || id < lowest {
				lowest = id
				found = true
			}
		}
	}
	if found {
		return lowest
	}
	return 0
}

func (n *Node) bitmapSummary() string {
	min, max, ok := n.store.Range()
	if !ok {
		return "empty"
	}
	return fmt.Sprintf("%d chunks (%d-%d)", n.store.Len(), min, max)
}

func (n *Node) statusLine() string {
	var b strings.Builder
	fmt.Fprintf(&b, "node %s (%s) on %s\n", n.id[:8], n.role, n.tr.Addr())
	fmt.Fprintf(&b, "  policy: %s\n", n.eng.PolicyName())
	fmt.Fprintf(&b, "  peers:  %d\n", n.reg.Len())
	fmt.Fprintf(&b, "  store:  %s\n", n.bitmapSummary())
	fmt.Fprintf(&b, "  buffer: %d frames assembling", n.asm.Buffered())
	if n.role == protocol.RoleOrigin {
		fmt.Fprintf(&b, "\n  roster: %d viewers", n.dist.size())
	}
	return b.String()
}
