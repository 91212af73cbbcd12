package anticheat

import (
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/harborlight/roomkeeper/internal/netobject"
	"github.com/harborlight/roomkeeper/internal/room"
	"github.com/harborlight/roomkeeper/internal/wire"
)

type fakeConn struct{}

func (fakeConn) SendReliable(tag byte, payload []byte)   {}
func (fakeConn) SendUnreliable(tag byte, payload []byte) {}
func (fakeConn) RemoteAddr() string                      { return "127.0.0.1:0" }
func (fakeConn) ConnectionID() string                    { return "127.0.0.1:0" }
func (fakeConn) Ping() time.Duration                     { return 20 * time.Millisecond }

type fakeSink struct {
	batches [][]byte
}

func (f *fakeSink) FlushInfractions(batch []byte) error {
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeSink) CurrentGameID(roomCode int32) uuid.UUID {
	return uuid.Nil
}

func newTestRoomWithPlayer(t *testing.T) (*room.Room, uint32) {
	t.Helper()
	r := room.New(1, wire.DefaultGameSettings(), room.ClassicHost, zap.NewNop())
	r.Graph().RegisterPrefab(netobject.Prefab{
		Name:      netobject.SpawnType(1),
		NewObject: func() []netobject.Component { return []netobject.Component{&netobject.PlayerControl{}} },
	})
	joined, err := r.Join(fakeConn{}, "Alice", false)
	require.NoError(t, err)
	return r, joined.ClientID
}

func TestReviewRejectsUnknownTarget(t *testing.T) {
	r, clientID := newTestRoomWithPlayer(t)
	g := New(zap.NewNop(), nil)

	err := g.Review(r, clientID, wire.RpcMessage{NetID: 999, RpcTag: wire.RpcCheckColor})
	require.ErrorIs(t, err, ErrUnknownTarget)
}

func TestReviewRejectsHostOnlyFromNonHost(t *testing.T) {
	r, hostID := newTestRoomWithPlayer(t)
	other, err := r.Join(fakeConn{}, "Bob", false)
	require.NoError(t, err)
	require.NotEqual(t, hostID, other.ClientID)

	_, err = r.Graph().Spawn(wire.SpawnMessage{NetID: 1, SpawnType: 1, OwnerID: int32(other.ClientID)})
	require.NoError(t, err)

	g := New(zap.NewNop(), nil)
	err = g.Review(r, other.ClientID, wire.RpcMessage{NetID: 1, RpcTag: wire.RpcMurderPlayer})
	require.ErrorIs(t, err, ErrHostOnly)
}

func TestReviewAllowsHostOnlyFromHost(t *testing.T) {
	r, hostID := newTestRoomWithPlayer(t)
	_, err := r.Graph().Spawn(wire.SpawnMessage{NetID: 1, SpawnType: 1, OwnerID: int32(hostID)})
	require.NoError(t, err)

	g := New(zap.NewNop(), nil)
	err = g.Review(r, hostID, wire.RpcMessage{NetID: 1, RpcTag: wire.RpcMurderPlayer})
	require.NoError(t, err)
}

func TestReviewRejectsCosmeticOnUnownedObject(t *testing.T) {
	r, hostID := newTestRoomWithPlayer(t)
	other, err := r.Join(fakeConn{}, "Bob", false)
	require.NoError(t, err)

	_, err = r.Graph().Spawn(wire.SpawnMessage{NetID: 1, SpawnType: 1, OwnerID: int32(hostID)})
	require.NoError(t, err)

	g := New(zap.NewNop(), nil)
	err = g.Review(r, other.ClientID, wire.RpcMessage{NetID: 1, RpcTag: wire.RpcSetHat, Payload: []byte{1}})
	require.ErrorIs(t, err, ErrNotOwner)
}

func TestReviewRejectsComponentClassMismatch(t *testing.T) {
	r, hostID := newTestRoomWithPlayer(t)
	_, err := r.Graph().Spawn(wire.SpawnMessage{NetID: 1, SpawnType: 1, OwnerID: int32(hostID)})
	require.NoError(t, err)

	g := New(zap.NewNop(), nil)
	err = g.Review(r, hostID, wire.RpcMessage{NetID: 1, RpcTag: wire.RpcUpdatePosition})
	require.ErrorIs(t, err, ErrComponentClassMismatch)
}

func TestReviewRejectsNonHostSpawnAndDespawn(t *testing.T) {
	r, hostID := newTestRoomWithPlayer(t)
	other, err := r.Join(fakeConn{}, "Bob", false)
	require.NoError(t, err)

	g := New(zap.NewNop(), nil)
	err = g.Review(r, other.ClientID, wire.SpawnMessage{NetID: 2, SpawnType: 1})
	require.ErrorIs(t, err, ErrHostOnly)

	err = g.Review(r, hostID, wire.SpawnMessage{NetID: 2, SpawnType: 1})
	require.NoError(t, err)
}

func TestInfractionsFlushAtThreshold(t *testing.T) {
	r, hostID := newTestRoomWithPlayer(t)
	other, err := r.Join(fakeConn{}, "Bob", false)
	require.NoError(t, err)
	_ = hostID

	sink := &fakeSink{}
	g := New(zap.NewNop(), sink)

	for i := 0; i < flushThreshold; i++ {
		_ = g.Review(r, other.ClientID, wire.RpcMessage{NetID: 999, RpcTag: wire.RpcCheckColor})
	}

	require.NotEmpty(t, sink.batches)
}

func TestForceFlushShipsPartialBatch(t *testing.T) {
	r, _ := newTestRoomWithPlayer(t)
	other, err := r.Join(fakeConn{}, "Bob", false)
	require.NoError(t, err)

	sink := &fakeSink{}
	g := New(zap.NewNop(), sink)
	_ = g.Review(r, other.ClientID, wire.RpcMessage{NetID: 999, RpcTag: wire.RpcCheckColor})

	g.ForceFlush()
	require.Len(t, sink.batches, 1)
}
