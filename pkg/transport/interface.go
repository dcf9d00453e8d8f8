package transport

import "zhiminhu/p2p-stream/pkg/protocol"

// RPC is one successfully decoded datagram, tagged with the sender address.
type RPC struct {
	From   string
	Packet protocol.Packet
}

// Sink receives traffic counters. The transport reports every datagram it
// moves; the sink must never block.
type Sink interface {
	AddUpload(n int)
	AddDownload(n int, source string)
}

// Transport handles the network layer. Datagram semantics: no connections,
// no delivery guarantee, malformed datagrams silently dropped after logging.
type Transport interface {
	Listen() error
	SendPacket(p protocol.Packet, addr string) error
	Consume() <-chan RPC
	Close() error
	Addr() string
}
