package worker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/harborlight/roomkeeper/internal/codec"
	"github.com/harborlight/roomkeeper/internal/config"
	"github.com/harborlight/roomkeeper/internal/transport"
	"github.com/harborlight/roomkeeper/internal/wire"
)

// testClient is a bare-bones datagram-protocol client used to exercise
// a real Worker over a real loopback UDP socket, the way
// transport_test.go's dialTestClient exercises the transport layer one
// level down.
type testClient struct {
	conn  *net.UDPConn
	nonce uint16
}

func newTestClient(t *testing.T, addr net.Addr) *testClient {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, addr.(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{conn: conn}
}

func (c *testClient) sendHello(name string) {
	payload := wire.EncodeHello(wire.Hello{ProtocolVersion: wire.ProtocolVersion, Name: name})
	_, _ = c.conn.Write(append([]byte{byte(wire.PacketHello)}, payload...))
}

func (c *testClient) sendReliable(tag byte, payload []byte) {
	inner := append([]byte{tag}, payload...)
	w := codec.NewWriter(2 + len(inner))
	w.Uint16BE(c.nonce)
	c.nonce++
	w.FixedBytes(inner)
	buf := append([]byte{byte(wire.PacketReliable)}, w.Bytes()...)
	_, _ = c.conn.Write(buf)
}

// readPacket reads datagrams until it finds one worth returning to the
// caller: Ping is answered with Pong and skipped, Ack is consumed
// silently, and a Reliable packet is acked before its (already
// nonce-stripped) payload is returned.
func (c *testClient) readPacket(t *testing.T, timeout time.Duration) (wire.PacketKind, []byte) {
	t.Helper()
	buf := make([]byte, 2048)
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatal("timed out waiting for a packet")
		}
		require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(remaining)))
		n, err := c.conn.Read(buf)
		require.NoError(t, err)
		kind := wire.PacketKind(buf[0])
		switch kind {
		case wire.PacketPing:
			_, _ = c.conn.Write([]byte{byte(wire.PacketPong)})
		case wire.PacketAck:
			// nothing to do
		case wire.PacketReliable:
			r := codec.NewReader(buf[1:n])
			nonce, err := r.Uint16BE()
			require.NoError(t, err)
			aw := codec.NewWriter(2)
			aw.Uint16BE(nonce)
			_, _ = c.conn.Write(append([]byte{byte(wire.PacketAck)}, aw.Bytes()...))
			return wire.PacketReliable, append([]byte(nil), r.Remaining()...)
		case wire.PacketUnreliable:
			return wire.PacketUnreliable, append([]byte(nil), buf[1:n]...)
		case wire.PacketDisconnect:
			return wire.PacketDisconnect, append([]byte(nil), buf[1:n]...)
		default:
			// ignore anything else
		}
	}
}

// readRoot reads the next application packet and splits its leading
// root-tag byte from the remaining payload.
func (c *testClient) readRoot(t *testing.T, timeout time.Duration) (byte, []byte) {
	t.Helper()
	kind, payload := c.readPacket(t, timeout)
	require.Contains(t, []wire.PacketKind{wire.PacketReliable, wire.PacketUnreliable}, kind)
	require.NotEmpty(t, payload)
	return payload[0], payload[1:]
}

func startTestWorker(t *testing.T) (*Worker, *transport.Transport) {
	t.Helper()
	cfg := config.Default()
	cfg.CreateTimeoutSec = 1
	w := New(zap.NewNop(), cfg, nil)
	tr, err := w.Listen()
	require.NoError(t, err)
	go func() { _ = tr.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = w.Shutdown(ctx)
		_ = tr.Shutdown(ctx)
	})
	return w, tr
}

func TestWorkerHostJoinAndStart(t *testing.T) {
	_, tr := startTestWorker(t)

	host := newTestClient(t, tr.LocalAddr())
	host.sendHello("Red")
	host.sendReliable(byte(wire.RootHostGame), wire.EncodeHostGame(wire.HostGame{Settings: wire.DefaultGameSettings()}))

	tag, payload := host.readRoot(t, time.Second)
	require.Equal(t, byte(wire.RootHostGame), tag)
	hg, err := wire.DecodeHostGame(payload)
	require.NoError(t, err)
	require.NotZero(t, hg.Code)

	host.sendReliable(byte(wire.RootJoinGame), wire.EncodeJoinGame(wire.JoinGame{Code: hg.Code, Name: "Red"}))
	tag, payload = host.readRoot(t, time.Second)
	require.Equal(t, byte(wire.RootJoinedGame), tag)
	jg, err := wire.DecodeJoinedGame(payload)
	require.NoError(t, err)
	require.EqualValues(t, 1, jg.ClientID)
	require.EqualValues(t, 1, jg.HostID)
	require.Empty(t, jg.Peers)
	tag, _ = host.readRoot(t, time.Second)
	require.Equal(t, byte(wire.RootAlterGame), tag)

	joiner := newTestClient(t, tr.LocalAddr())
	joiner.sendHello("Blue")
	joiner.sendReliable(byte(wire.RootJoinGame), wire.EncodeJoinGame(wire.JoinGame{Code: hg.Code, Name: "Blue"}))

	tag, payload = joiner.readRoot(t, time.Second)
	require.Equal(t, byte(wire.RootJoinedGame), tag)
	jjg, err := wire.DecodeJoinedGame(payload)
	require.NoError(t, err)
	require.EqualValues(t, 2, jjg.ClientID)
	require.EqualValues(t, 1, jjg.HostID)
	require.Equal(t, []uint32{1}, jjg.Peers)
	tag, _ = joiner.readRoot(t, time.Second)
	require.Equal(t, byte(wire.RootAlterGame), tag)

	tag, payload = host.readRoot(t, time.Second)
	require.Equal(t, byte(wire.RootJoinGame), tag)
	joinBroadcast, err := wire.DecodeJoinGame(payload)
	require.NoError(t, err)
	require.EqualValues(t, 2, joinBroadcast.ClientID)

	host.sendReliable(byte(wire.RootStartGame), wire.EncodeStartGame(wire.StartGame{Code: hg.Code}))

	tag, payload = host.readRoot(t, time.Second)
	require.Equal(t, byte(wire.RootStartGame), tag)
	tag, payload = joiner.readRoot(t, time.Second)
	require.Equal(t, byte(wire.RootStartGame), tag)
}

func TestWorkerRejectsJoinToUnknownCode(t *testing.T) {
	_, tr := startTestWorker(t)

	client := newTestClient(t, tr.LocalAddr())
	client.sendHello("Nowhere")
	client.sendReliable(byte(wire.RootJoinGame), wire.EncodeJoinGame(wire.JoinGame{Code: 999999, Name: "Nowhere"}))

	kind, payload := client.readPacket(t, time.Second)
	require.Equal(t, wire.PacketDisconnect, kind)
	require.Equal(t, byte(wire.DisconnectGameNotFound), payload[0])
}

func TestWorkerKickWithBanDisconnectsAndBlocksRejoin(t *testing.T) {
	_, tr := startTestWorker(t)

	host := newTestClient(t, tr.LocalAddr())
	host.sendHello("Red")
	host.sendReliable(byte(wire.RootHostGame), wire.EncodeHostGame(wire.HostGame{Settings: wire.DefaultGameSettings()}))
	_, payload := host.readRoot(t, time.Second)
	hg, err := wire.DecodeHostGame(payload)
	require.NoError(t, err)

	host.sendReliable(byte(wire.RootJoinGame), wire.EncodeJoinGame(wire.JoinGame{Code: hg.Code, Name: "Red"}))
	host.readRoot(t, time.Second)
	tag, _ := host.readRoot(t, time.Second)
	require.Equal(t, byte(wire.RootAlterGame), tag)

	joiner := newTestClient(t, tr.LocalAddr())
	joiner.sendHello("Blue")
	joiner.sendReliable(byte(wire.RootJoinGame), wire.EncodeJoinGame(wire.JoinGame{Code: hg.Code, Name: "Blue"}))
	joiner.readRoot(t, time.Second)
	tag, _ = joiner.readRoot(t, time.Second)
	require.Equal(t, byte(wire.RootAlterGame), tag)
	host.readRoot(t, time.Second) // join broadcast

	host.sendReliable(byte(wire.RootKickPlayer), wire.EncodeKickPlayerRequest(wire.KickPlayerRequest{TargetClientID: 2, Ban: true}))

	kind, disc := joiner.readPacket(t, time.Second)
	require.Equal(t, wire.PacketDisconnect, kind)
	require.Equal(t, byte(wire.DisconnectBanned), disc[0])

	host.readRoot(t, time.Second) // RemovePlayer broadcast for the kicked joiner

	// Wait for the joiner's old peer to actually be torn down before
	// reusing its socket for a fresh Hello, otherwise the transport may
	// still treat the address as belonging to the dying peer.
	require.Eventually(t, func() bool { return len(tr.Peers()) == 1 }, time.Second, 5*time.Millisecond)

	joiner.sendHello("Blue")
	joiner.sendReliable(byte(wire.RootJoinGame), wire.EncodeJoinGame(wire.JoinGame{Code: hg.Code, Name: "Blue"}))
	kind, disc = joiner.readPacket(t, time.Second)
	require.Equal(t, wire.PacketDisconnect, kind)
	require.Equal(t, byte(wire.DisconnectBanned), disc[0])
}

func TestWorkerAdminCreateAndDestroyRoom(t *testing.T) {
	w, _ := startTestWorker(t)

	code, err := w.AdminCreateRoom(wire.DefaultGameSettings())
	require.NoError(t, err)
	require.Len(t, code, 6)

	status, ok := w.AdminRoomStatus(code)
	require.True(t, ok)
	require.Equal(t, code, status.Code)
	require.Equal(t, 0, status.PlayerCount)

	require.Len(t, w.AdminListRooms(), 1)

	require.True(t, w.AdminDestroyRoom(code))
	_, ok = w.AdminRoomStatus(code)
	require.False(t, ok)
	require.False(t, w.AdminDestroyRoom(code))
}
