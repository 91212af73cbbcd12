package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/harborlight/roomkeeper/internal/codec"
	"github.com/harborlight/roomkeeper/internal/wire"
)

type recordingHandler struct {
	helloCh    chan []byte
	packetCh   chan []byte
	disconnect chan wire.DisconnectReason
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		helloCh:    make(chan []byte, 8),
		packetCh:   make(chan []byte, 8),
		disconnect: make(chan wire.DisconnectReason, 8),
	}
}

func (h *recordingHandler) OnHello(addr *net.UDPAddr, payload []byte) bool {
	h.helloCh <- payload
	return true
}

func (h *recordingHandler) OnConnect(p *Peer) {}

func (h *recordingHandler) OnPacket(p *Peer, kind wire.PacketKind, payload []byte) {
	h.packetCh <- payload
}

func (h *recordingHandler) OnDisconnect(p *Peer, reason wire.DisconnectReason) {
	h.disconnect <- reason
}

func startTestTransport(t *testing.T, handler Handler) *Transport {
	t.Helper()
	tr, err := Listen(zap.NewNop(), "127.0.0.1:0", handler, Config{})
	require.NoError(t, err)
	go func() { _ = tr.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = tr.Shutdown(ctx)
	})
	return tr
}

func dialTestClient(t *testing.T, serverAddr net.Addr) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, serverAddr.(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestTransportHelloEstablishesPeer(t *testing.T) {
	h := newRecordingHandler()
	tr := startTestTransport(t, h)
	client := dialTestClient(t, tr.LocalAddr())

	_, err := client.Write(append([]byte{byte(wire.PacketHello)}, []byte("hi")...))
	require.NoError(t, err)

	select {
	case payload := <-h.helloCh:
		require.Equal(t, "hi", string(payload))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for hello")
	}

	require.Eventually(t, func() bool { return len(tr.Peers()) == 1 }, time.Second, 10*time.Millisecond)
}

func TestTransportReliableDeliversAndAcks(t *testing.T) {
	h := newRecordingHandler()
	tr := startTestTransport(t, h)
	client := dialTestClient(t, tr.LocalAddr())

	_, err := client.Write([]byte{byte(wire.PacketHello)})
	require.NoError(t, err)
	<-h.helloCh
	require.Eventually(t, func() bool { return len(tr.Peers()) == 1 }, time.Second, 10*time.Millisecond)

	w := codec.NewWriter(4)
	w.Uint16BE(0)
	w.WriteString("ping")
	_, err = client.Write(append([]byte{byte(wire.PacketReliable)}, w.Bytes()...))
	require.NoError(t, err)

	select {
	case payload := <-h.packetCh:
		r := codec.NewReader(payload)
		s, err := r.String()
		require.NoError(t, err)
		require.Equal(t, "ping", s)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reliable payload")
	}

	client.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 64)
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.Equal(t, byte(wire.PacketAck), buf[0])
	ackReader := codec.NewReader(buf[1:n])
	nonce, err := ackReader.Uint16BE()
	require.NoError(t, err)
	require.EqualValues(t, 0, nonce)
}

func TestTransportDisconnectNotifiesHandler(t *testing.T) {
	h := newRecordingHandler()
	tr := startTestTransport(t, h)
	client := dialTestClient(t, tr.LocalAddr())

	_, err := client.Write([]byte{byte(wire.PacketHello)})
	require.NoError(t, err)
	<-h.helloCh
	require.Eventually(t, func() bool { return len(tr.Peers()) == 1 }, time.Second, 10*time.Millisecond)

	_, err = client.Write([]byte{byte(wire.PacketDisconnect), byte(wire.DisconnectExitGame)})
	require.NoError(t, err)

	select {
	case reason := <-h.disconnect:
		require.Equal(t, wire.DisconnectExitGame, reason)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for disconnect")
	}
}
