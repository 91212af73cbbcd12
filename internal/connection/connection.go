// Package connection wraps one transport.Peer with protocol identity
// (client id, display name) and a pointer to whichever room the client
// currently occupies, the way server/session_ws.go's sessionWS wraps a
// websocket with nakama's user/session identity. It is the seam
// between the transport's nonce/ack world and the worker/room's
// root-message world.
package connection

import (
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/harborlight/roomkeeper/internal/transport"
	"github.com/harborlight/roomkeeper/internal/wire"
)

// RoomHandle is the subset of *room.Room a Connection needs, expressed
// as an interface so this package does not import room (which in turn
// depends on connection), avoiding an import cycle.
type RoomHandle interface {
	Code() int32
	HandleLeave(clientID uint32, reason wire.DisconnectReason)
}

// Connection is one authenticated client's view of the server: its
// transport peer, its assigned client id within whatever room it has
// joined, and the room it currently belongs to (nil while in the
// lobby/pre-join state).
type Connection struct {
	mu sync.RWMutex

	peer   *transport.Peer
	logger *zap.Logger

	clientID     uint32
	roomClientID uint32
	name         string

	room RoomHandle
}

// New wraps peer with a fresh, room-less Connection and attaches it as
// the peer's user data so transport callbacks can recover it.
func New(peer *transport.Peer, logger *zap.Logger, clientID uint32, name string) *Connection {
	c := &Connection{
		peer:     peer,
		logger:   logger.With(zap.Uint32("client_id", clientID)),
		clientID: clientID,
		name:     name,
	}
	peer.SetUserData(c)
	return c
}

// FromPeer recovers the Connection previously attached via New, if any.
func FromPeer(peer *transport.Peer) (*Connection, bool) {
	c, ok := peer.UserData().(*Connection)
	return c, ok
}

func (c *Connection) ClientID() uint32 { return c.clientID }
func (c *Connection) Name() string     { return c.name }
func (c *Connection) Peer() *transport.Peer { return c.peer }
func (c *Connection) Logger() *zap.Logger   { return c.logger }

// RemoteAddr returns the underlying peer's remote address as a string,
// the key rooms use for the banned-address set (spec.md §3).
func (c *Connection) RemoteAddr() string { return c.peer.Addr().String() }

// ConnectionID identifies this connection to AuthAPI (spec.md §4.7's
// "getConnectionUser(connection)" collaborator). The worker-assigned
// ClientID is stable for the lifetime of the connection, so it doubles
// as the cache key AuthAPI's client keys its per-connection cache on.
func (c *Connection) ConnectionID() string { return strconv.FormatUint(uint64(c.clientID), 10) }

// Ping returns the connection's current smoothed round-trip estimate,
// recorded on anti-cheat infractions as spec.md §3's playerPing field.
func (c *Connection) Ping() time.Duration { return c.peer.RTT() }

// Room returns the room this connection currently belongs to, or nil.
func (c *Connection) Room() RoomHandle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.room
}

// JoinRoom attaches r as the connection's current room.
func (c *Connection) JoinRoom(r RoomHandle) {
	c.mu.Lock()
	c.room = r
	c.mu.Unlock()
}

// LeaveRoom clears the connection's current room, if it still matches r.
// The pointer comparison guards against a stale leave racing a rejoin.
func (c *Connection) LeaveRoom(r RoomHandle) {
	c.mu.Lock()
	if c.room == r {
		c.room = nil
	}
	c.mu.Unlock()
}

// SetRoomClientID records the id the current room assigned this
// connection on Join, distinct from the worker-assigned ClientID
// established at Hello. Ownership and RPC targeting inside a room are
// always keyed on this id.
func (c *Connection) SetRoomClientID(id uint32) {
	c.mu.Lock()
	c.roomClientID = id
	c.mu.Unlock()
}

// RoomClientID returns the id last set by SetRoomClientID, or zero if
// the connection has never joined a room.
func (c *Connection) RoomClientID() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomClientID
}

// SendReliable queues a reliable root-message frame for this client.
func (c *Connection) SendReliable(tag byte, payload []byte) {
	c.peer.SendReliable(frame(tag, payload))
}

// SendUnreliable queues an unreliable root-message frame for this client,
// used for high-frequency movement updates (spec.md §4.6's fast path).
func (c *Connection) SendUnreliable(tag byte, payload []byte) {
	c.peer.SendUnreliable(frame(tag, payload))
}

func frame(tag byte, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = tag
	copy(out[1:], payload)
	return out
}

// HandleTransportDisconnect is the transport.Handler callback path:
// when the peer disconnects or times out, notify whatever room the
// connection currently belongs to so it can run its leave protocol.
func (c *Connection) HandleTransportDisconnect(reason wire.DisconnectReason) {
	c.mu.RLock()
	r := c.room
	roomClientID := c.roomClientID
	c.mu.RUnlock()
	if r != nil {
		r.HandleLeave(roomClientID, reason)
	}
}
