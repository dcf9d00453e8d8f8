package udp

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"zhiminhu/p2p-stream/pkg/logger"
	"zhiminhu/p2p-stream/pkg/protocol"
	"zhiminhu/p2p-stream/pkg/transport"
)

// maxDatagramSize comfortably exceeds any packet this protocol produces
// (wire header + chunk header + 1000-byte fragment).
const maxDatagramSize = 65535

// UDPTransport implements transport.Transport over a single bound socket.
type UDPTransport struct {
	listenAddr string
	conn       *net.UDPConn
	rpcCh      chan transport.RPC
	sink       transport.Sink

	mu     sync.Mutex
	closed bool
}

// NewUDPTransport binds nothing yet; call Listen before sending. sink may be
// nil if nobody wants traffic counters.
func NewUDPTransport(addr string, sink transport.Sink) *UDPTransport {
	return &UDPTransport{
		listenAddr: addr,
		rpcCh:      make(chan transport.RPC, 1024),
		sink:       sink,
	}
}

func (t *UDPTransport) Listen() error {
	udpAddr, err := net.ResolveUDPAddr("udp", t.listenAddr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", t.listenAddr, err)
	}

	t.conn, err = net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", t.listenAddr, err)
	}

	go t.readLoop()
	return nil
}

func (t *UDPTransport) readLoop() {
	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed && !errors.Is(err, net.ErrClosed) {
				logger.Sugar.Errorf("[UDPTransport] read error: listen=%s err=%v", t.Addr(), err)
			}
			close(t.rpcCh)
			return
		}

		if t.sink != nil {
			t.sink.AddDownload(n, from.String())
		}

		pkt, err := protocol.Decode(buf[:n])
		if err != nil {
			// Malformed datagrams are expected under corruption; drop, no reply.
			logger.Sugar.Debugf("[UDPTransport] dropping datagram: from=%s err=%v", from, err)
			continue
		}

		select {
		case t.rpcCh <- transport.RPC{From: from.String(), Packet: pkt}:
		default:
			// Consumer is behind. UDP is lossy anyway; shedding here keeps
			// the read loop from stalling the socket buffer.
			logger.Sugar.Warnf("[UDPTransport] rpc channel full, dropping packet: from=%s type=%d", from, pkt.Type)
		}
	}
}

func (t *UDPTransport) SendPacket(p protocol.Packet, addr string) error {
	if t.conn == nil {
		return fmt.Errorf("transport not listening")
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", addr, err)
	}

	data := p.Encode()
	n, err := t.conn.WriteToUDP(data, udpAddr)
	if err != nil {
		return fmt.Errorf("send to %s: %w", addr, err)
	}

	if t.sink != nil {
		t.sink.AddUpload(n)
	}
	return nil
}

func (t *UDPTransport) Consume() <-chan transport.RPC {
	return t.rpcCh
}

func (t *UDPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if t.conn == nil {
		close(t.rpcCh)
		return nil
	}
	return t.conn.Close()
}

// Addr returns the bound address, which is the resolved one once listening.
// Useful when the configured port was 0.
func (t *UDPTransport) Addr() string {
	if t.conn != nil {
		return t.conn.LocalAddr().String()
	}
	return t.listenAddr
}
