package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/harborlight/roomkeeper/internal/codec"
	"github.com/harborlight/roomkeeper/internal/wire"
)

// PeerState tracks where a Peer sits in the connect/drain/close
// lifecycle (spec.md §4.2).
type PeerState int32

const (
	PeerConnecting PeerState = iota
	PeerConnected
	PeerDraining
	PeerClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerConnecting:
		return "Connecting"
	case PeerConnected:
		return "Connected"
	case PeerDraining:
		return "Draining"
	case PeerClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

const dedupWindowSize = 128

// Peer is one remote endpoint's reliability state atop the shared UDP
// socket. The Lock-guarded mutable fields plus a dedicated outgoing
// channel and ping timer mirror server/session_ws.go's sessionWS, with
// the websocket connection replaced by (transport, addr) and TCP's
// ordering replaced by the nonce/ack/dedup machinery of reliability.go.
type Peer struct {
	sync.Mutex

	t      *Transport
	addr   *net.UDPAddr
	logger *zap.Logger

	state PeerState

	sendNonce uint16
	pending   map[uint16]*pendingSend

	recv dedupWindow
	rtt  rttEstimator

	lastRecv atomic.Int64 // unix nanos
	lastSend atomic.Int64

	outgoingCh chan outboundPacket
	closeCh    chan struct{}
	closeOnce  sync.Once
	closed     atomic.Bool

	pendingDisconnectReason wire.DisconnectReason

	userData any
}

type outboundPacket struct {
	kind    wire.PacketKind
	payload []byte
	reliable bool
}

func newPeer(t *Transport, addr *net.UDPAddr, logger *zap.Logger) *Peer {
	p := &Peer{
		t:          t,
		addr:       addr,
		logger:     logger,
		state:      PeerConnecting,
		pending:    make(map[uint16]*pendingSend),
		recv:       *newDedupWindow(dedupWindowSize),
		outgoingCh: make(chan outboundPacket, 64),
		closeCh:    make(chan struct{}),
	}
	p.lastRecv.Store(time.Now().UnixNano())
	return p
}

// Addr returns the peer's remote UDP address.
func (p *Peer) Addr() *net.UDPAddr { return p.addr }

// RTT returns the current smoothed round-trip estimate.
func (p *Peer) RTT() time.Duration {
	p.Lock()
	defer p.Unlock()
	return p.rtt.get()
}

// State returns the peer's current lifecycle state.
func (p *Peer) State() PeerState {
	p.Lock()
	defer p.Unlock()
	return p.state
}

// SetUserData attaches caller-owned data (e.g. a *connection.Connection)
// to the peer, mirroring how nakama's Session carries runtime state
// alongside its socket plumbing.
func (p *Peer) SetUserData(v any) {
	p.Lock()
	p.userData = v
	p.Unlock()
}

// UserData returns whatever SetUserData last attached.
func (p *Peer) UserData() any {
	p.Lock()
	defer p.Unlock()
	return p.userData
}

func (p *Peer) noteRecv() { p.lastRecv.Store(time.Now().UnixNano()) }

func (p *Peer) checkTimeout(now time.Time, timeout time.Duration) {
	last := time.Unix(0, p.lastRecv.Load())
	if now.Sub(last) > timeout {
		p.timeoutNow()
	}
}

func (p *Peer) timeoutNow() {
	p.closeOnce.Do(func() {
		p.logger.Info("peer timed out")
		p.Lock()
		p.pendingDisconnectReason = wire.DisconnectTimeout
		p.Unlock()
		close(p.closeCh)
	})
}

// Disconnect sends a Disconnect control packet and tears the peer down.
func (p *Peer) Disconnect(reason wire.DisconnectReason) {
	w := codec.NewWriter(1)
	w.Byte(byte(reason))
	_ = p.writeRaw(wire.PacketDisconnect, w.Bytes())
	p.Lock()
	p.pendingDisconnectReason = reason
	p.Unlock()
	p.closeOnce.Do(func() { close(p.closeCh) })
}

// SendReliable queues payload for reliable delivery: it will be
// retransmitted with exponential backoff until acked or
// retransmitMaxAttempts is exhausted (spec.md §4.2).
func (p *Peer) SendReliable(payload []byte) {
	select {
	case p.outgoingCh <- outboundPacket{kind: wire.PacketReliable, payload: payload, reliable: true}:
	case <-p.closeCh:
	}
}

// SendUnreliable queues payload for best-effort, unacked delivery.
func (p *Peer) SendUnreliable(payload []byte) {
	select {
	case p.outgoingCh <- outboundPacket{kind: wire.PacketUnreliable, payload: payload}:
	case <-p.closeCh:
	}
}

func (p *Peer) writeRaw(kind wire.PacketKind, payload []byte) error {
	buf := make([]byte, 1+len(payload))
	buf[0] = byte(kind)
	copy(buf[1:], payload)
	p.lastSend.Store(time.Now().UnixNano())
	return p.t.writeTo(p.addr, buf)
}

func (p *Peer) sendAck(nonce uint16) {
	w := codec.NewWriter(2)
	w.Uint16BE(nonce)
	_ = p.writeRaw(wire.PacketAck, w.Bytes())
}

func (p *Peer) sendPing() {
	_ = p.writeRaw(wire.PacketPing, nil)
}

func (p *Peer) sendPong() {
	_ = p.writeRaw(wire.PacketPong, nil)
}

// run drives the peer's send/retransmit/keepalive loop, mirroring
// sessionWS.processOutgoing's select over ctx.Done / pingTimer.C /
// outgoingCh, plus a retransmit ticker for reliability.go's backoff.
func (p *Peer) run(ctx context.Context) {
	p.Lock()
	p.state = PeerConnected
	p.Unlock()

	pingTicker := time.NewTicker(p.t.config.KeepaliveInterval)
	retransmitTicker := time.NewTicker(200 * time.Millisecond)
	defer pingTicker.Stop()
	defer retransmitTicker.Stop()

	p.Lock()
	p.pendingDisconnectReason = wire.DisconnectServerRequest
	p.Unlock()

	for {
		select {
		case <-ctx.Done():
			p.finish(wire.DisconnectServerRequest)
			return
		case <-p.closeCh:
			p.Lock()
			reason := p.pendingDisconnectReason
			p.Unlock()
			p.finish(reason)
			return
		case <-pingTicker.C:
			p.sendPing()
		case <-retransmitTicker.C:
			if dead := p.retransmitDue(); dead {
				p.Lock()
				p.pendingDisconnectReason = wire.DisconnectTimeout
				p.Unlock()
				p.closeOnce.Do(func() { close(p.closeCh) })
			}
		case out := <-p.outgoingCh:
			p.send(out)
		}
	}
}

func (p *Peer) send(out outboundPacket) {
	if !out.reliable {
		_ = p.writeRaw(out.kind, out.payload)
		return
	}

	p.Lock()
	nonce := p.sendNonce
	p.sendNonce++
	p.Unlock()

	w := codec.NewWriter(2 + len(out.payload))
	w.Uint16BE(nonce)
	w.FixedBytes(out.payload)
	packet := w.Bytes()

	now := time.Now()
	p.Lock()
	p.pending[nonce] = &pendingSend{
		nonce:     nonce,
		packet:    packet,
		attempts:  1,
		sentAt:    now,
		nextRetry: now.Add(retransmitDelay(1)),
	}
	p.Unlock()

	_ = p.writeRaw(wire.PacketReliable, packet)
}

// retransmitDue resends any pending reliable packet whose backoff has
// elapsed, and reports whether the peer has exhausted its retry budget
// on any single packet (which means it should be considered dead).
func (p *Peer) retransmitDue() bool {
	now := time.Now()
	p.Lock()
	defer p.Unlock()
	for _, ps := range p.pending {
		if now.Before(ps.nextRetry) {
			continue
		}
		if ps.attempts >= retransmitMaxAttempts {
			return true
		}
		ps.attempts++
		ps.sentAt = now
		ps.nextRetry = now.Add(retransmitDelay(ps.attempts))
		_ = p.writeRaw(wire.PacketReliable, ps.packet)
	}
	return false
}

func (p *Peer) ackReceived(nonce uint16) {
	p.Lock()
	ps, ok := p.pending[nonce]
	if ok {
		delete(p.pending, nonce)
		p.rtt.sample(time.Since(ps.sentAt))
	}
	p.Unlock()
}

// dispatchIncoming routes one decoded datagram to the appropriate
// control handling or up to the transport's Handler.
func (p *Peer) dispatchIncoming(kind wire.PacketKind, payload []byte) {
	switch kind {
	case wire.PacketHello:
		// Already connected; a repeated Hello is ignored (no Hello is
		// ever acked, so nothing is resent).
	case wire.PacketDisconnect:
		reason := wire.DisconnectExitGame
		if len(payload) >= 1 {
			reason = wire.DisconnectReason(payload[0])
		}
		p.Lock()
		p.pendingDisconnectReason = reason
		p.Unlock()
		p.closeOnce.Do(func() { close(p.closeCh) })
	case wire.PacketAck:
		r := codec.NewReader(payload)
		nonce, err := r.Uint16BE()
		if err != nil {
			return
		}
		p.ackReceived(nonce)
	case wire.PacketPing:
		p.sendPong()
	case wire.PacketPong:
		// lastRecv already bumped by the caller; nothing more to do.
	case wire.PacketReliable:
		r := codec.NewReader(payload)
		nonce, err := r.Uint16BE()
		if err != nil {
			return
		}
		p.sendAck(nonce)
		p.Lock()
		accept := p.recv.accept(nonce)
		p.Unlock()
		if !accept {
			return
		}
		p.t.handler.OnPacket(p, wire.PacketReliable, r.Remaining())
	case wire.PacketUnreliable:
		p.t.handler.OnPacket(p, wire.PacketUnreliable, payload)
	}
}

func (p *Peer) finish(reason wire.DisconnectReason) {
	p.Lock()
	if p.state == PeerClosed {
		p.Unlock()
		return
	}
	p.state = PeerClosed
	p.Unlock()
	if p.closed.CompareAndSwap(false, true) {
		p.t.handler.OnDisconnect(p, reason)
	}
}
