package connection

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/harborlight/roomkeeper/internal/transport"
	"github.com/harborlight/roomkeeper/internal/wire"
)

// attachingHandler wraps every newly connected peer in a Connection and
// hands it to the test over a channel, mirroring how worker.OnConnect
// does it in production.
type attachingHandler struct {
	connected chan *Connection
}

func (h *attachingHandler) OnHello(addr *net.UDPAddr, payload []byte) bool { return true }

func (h *attachingHandler) OnConnect(p *transport.Peer) {
	h.connected <- New(p, zap.NewNop(), 1, "Red")
}

func (h *attachingHandler) OnPacket(p *transport.Peer, kind wire.PacketKind, payload []byte) {}

func (h *attachingHandler) OnDisconnect(p *transport.Peer, reason wire.DisconnectReason) {}

func startConnectionTestServer(t *testing.T) (*transport.Transport, *attachingHandler) {
	t.Helper()
	h := &attachingHandler{connected: make(chan *Connection, 1)}
	tr, err := transport.Listen(zap.NewNop(), "127.0.0.1:0", h, transport.Config{})
	require.NoError(t, err)
	go func() { _ = tr.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = tr.Shutdown(ctx)
	})
	return tr, h
}

type fakeRoomHandle struct {
	code      int32
	leftID    uint32
	leftReasn wire.DisconnectReason
	left      chan struct{}
}

func (f *fakeRoomHandle) Code() int32 { return f.code }
func (f *fakeRoomHandle) HandleLeave(clientID uint32, reason wire.DisconnectReason) {
	f.leftID = clientID
	f.leftReasn = reason
	close(f.left)
}

func TestConnectionRoomLifecycle(t *testing.T) {
	tr, h := startConnectionTestServer(t)
	client, err := net.DialUDP("udp", nil, tr.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.Write([]byte{byte(wire.PacketHello)})
	require.NoError(t, err)

	var c *Connection
	select {
	case c = <-h.connected:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for connection")
	}

	require.EqualValues(t, 1, c.ClientID())
	require.Equal(t, "Red", c.Name())
	require.Nil(t, c.Room())

	rh := &fakeRoomHandle{code: 1234, left: make(chan struct{})}
	c.JoinRoom(rh)
	require.Equal(t, rh, c.Room())

	c.SetRoomClientID(7)
	require.EqualValues(t, 7, c.RoomClientID())

	c.HandleTransportDisconnect(wire.DisconnectTimeout)
	select {
	case <-rh.left:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for HandleLeave")
	}
	require.EqualValues(t, 7, rh.leftID)
	require.Equal(t, wire.DisconnectTimeout, rh.leftReasn)

	c.LeaveRoom(rh)
	require.Nil(t, c.Room())
}

func TestConnectionFromPeerRoundTrip(t *testing.T) {
	tr, h := startConnectionTestServer(t)
	client, err := net.DialUDP("udp", nil, tr.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.Write([]byte{byte(wire.PacketHello)})
	require.NoError(t, err)

	var c *Connection
	select {
	case c = <-h.connected:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for connection")
	}

	got, ok := FromPeer(c.Peer())
	require.True(t, ok)
	require.Same(t, c, got)
}
