// Package transport implements the datagram transport of spec.md §4.2:
// a single UDP socket multiplexed across many peers, each with its own
// reliability state (nonce/ack bookkeeping, retransmission, dedup,
// RTT estimation, keepalive). The accept loop is grounded on
// ServerusSnap-curtjs-nodetunnel-go-server's StartUDPServer, and each
// peer's send/receive loops are grounded on server/session_ws.go's
// processOutgoing/Consume idiom (outgoingCh, a dedicated ping timer,
// mutex-guarded conn access) translated from a per-connection TCP
// socket onto a shared UDP socket keyed by remote address.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/harborlight/roomkeeper/internal/wire"
)

// ErrClosed is returned by operations attempted after the transport has
// been shut down.
var ErrClosed = errors.New("transport: closed")

// Handler receives events from the transport. A Worker (C6) implements
// this to route Hello/packet/disconnect events into room/connection
// logic without the transport knowing about rooms at all.
type Handler interface {
	// OnHello is called the first time a peer is heard from, before any
	// Peer is registered for it. Returning false refuses the connection
	// (no Peer is created, nothing is sent back automatically).
	OnHello(addr *net.UDPAddr, payload []byte) bool

	// OnConnect fires once, immediately after a Peer accepted by OnHello
	// is registered and before its run loop starts. This is the hook a
	// caller uses to attach its own identity (e.g. a Connection) via
	// p.SetUserData, since the Peer does not exist yet when OnHello runs.
	OnConnect(p *Peer)

	// OnPacket delivers one already-deduplicated packet payload from an
	// established peer. kind distinguishes reliable from unreliable so
	// the caller can skip ordering guarantees on the unreliable path.
	OnPacket(p *Peer, kind wire.PacketKind, payload []byte)

	// OnDisconnect fires exactly once per peer, however it ends:
	// explicit Disconnect packet, timeout, or local shutdown.
	OnDisconnect(p *Peer, reason wire.DisconnectReason)
}

// Config holds the transport's tunable timing parameters. Zero-value
// fields are replaced by DefaultConfig's values by New.
type Config struct {
	// ReadBufferSize bounds a single UDP datagram read.
	ReadBufferSize int
	// KeepaliveInterval is how often an idle peer is pinged.
	KeepaliveInterval time.Duration
	// Timeout is how long without any received packet before a peer is
	// declared dead (spec.md §4.2).
	Timeout time.Duration
	// DrainGrace is defaulted by New but read by nothing in the
	// transport: a peer is removed as soon as its run loop exits, so no
	// in-flight retransmission is acked after a Disconnect.
	DrainGrace time.Duration
}

// DefaultConfig returns the timings spec.md §4.2 and §7 describe.
func DefaultConfig() Config {
	return Config{
		ReadBufferSize:    2048,
		KeepaliveInterval: 3 * time.Second,
		Timeout:           10 * time.Second,
		DrainGrace:        500 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = d.KeepaliveInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.DrainGrace <= 0 {
		c.DrainGrace = d.DrainGrace
	}
	return c
}

// Transport owns the UDP socket and the registry of live peers.
type Transport struct {
	logger  *zap.Logger
	config  Config
	handler Handler

	conn *net.UDPConn

	mu    sync.RWMutex
	peers map[string]*Peer

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	sweepStop chan struct{}
}

// Listen opens a UDP socket on addr and returns a Transport ready to
// Serve. Grounded on StartUDPServer's net.ListenUDP call.
func Listen(logger *zap.Logger, addr string, handler Handler, config Config) (*Transport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %q: %w", addr, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		logger:    logger,
		config:    config.withDefaults(),
		handler:   handler,
		conn:      conn,
		peers:     make(map[string]*Peer),
		ctx:       ctx,
		cancel:    cancel,
		sweepStop: make(chan struct{}),
	}
	return t, nil
}

// LocalAddr reports the socket's bound address.
func (t *Transport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// Serve runs the accept loop until Shutdown is called. It blocks the
// calling goroutine, mirroring StartUDPServer's for{} loop.
func (t *Transport) Serve() error {
	t.wg.Add(1)
	go t.sweepLoop()

	buf := make([]byte, t.config.ReadBufferSize)
	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.ctx.Done():
				return nil
			default:
			}
			t.logger.Warn("failed to read from udp", zap.Error(err))
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		t.handleDatagram(addr, data)
	}
}

func (t *Transport) handleDatagram(addr *net.UDPAddr, data []byte) {
	if len(data) == 0 {
		return
	}
	kind := wire.PacketKind(data[0])
	payload := data[1:]

	key := addr.String()
	t.mu.RLock()
	p, ok := t.peers[key]
	t.mu.RUnlock()

	if !ok {
		if kind != wire.PacketHello {
			return
		}
		if !t.handler.OnHello(addr, payload) {
			return
		}
		p = t.newPeer(addr)
		t.mu.Lock()
		t.peers[key] = p
		t.mu.Unlock()
		t.handler.OnConnect(p)
		t.wg.Add(1)
		go t.runPeer(p)
		p.noteRecv()
		return
	}

	p.noteRecv()
	p.dispatchIncoming(kind, payload)
}

func (t *Transport) newPeer(addr *net.UDPAddr) *Peer {
	return newPeer(t, addr, t.logger.With(zap.String("peer", addr.String())))
}

func (t *Transport) runPeer(p *Peer) {
	defer t.wg.Done()
	p.run(t.ctx)
	t.removePeer(p)
}

func (t *Transport) removePeer(p *Peer) {
	t.mu.Lock()
	if cur, ok := t.peers[p.addr.String()]; ok && cur == p {
		delete(t.peers, p.addr.String())
	}
	t.mu.Unlock()
}

func (t *Transport) writeTo(addr *net.UDPAddr, data []byte) error {
	_, err := t.conn.WriteToUDP(data, addr)
	return err
}

// sweepLoop periodically checks every peer for the §4.2 timeout
// condition, rather than relying solely on per-peer timers, so one
// slow peer's goroutine scheduling cannot delay another's eviction.
func (t *Transport) sweepLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.config.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.mu.RLock()
			peers := make([]*Peer, 0, len(t.peers))
			for _, p := range t.peers {
				peers = append(peers, p)
			}
			t.mu.RUnlock()
			now := time.Now()
			for _, p := range peers {
				p.checkTimeout(now, t.config.Timeout)
			}
		}
	}
}

// Peers returns a snapshot of the currently registered peers.
func (t *Transport) Peers() []*Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p)
	}
	return out
}

// Shutdown stops the accept loop, disconnects every peer and waits for
// their goroutines to exit or ctx to expire.
func (t *Transport) Shutdown(ctx context.Context) error {
	t.mu.RLock()
	peers := make([]*Peer, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	t.mu.RUnlock()
	for _, p := range peers {
		p.Disconnect(wire.DisconnectServerRequest)
	}

	t.cancel()
	_ = t.conn.Close()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
