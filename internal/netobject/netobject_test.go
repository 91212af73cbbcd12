package netobject

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/harborlight/roomkeeper/internal/wire"
)

const spawnTypePlayer SpawnType = 1

func newTestGraph() *Graph {
	g := NewGraph(zap.NewNop(), UnknownSpawnReject)
	g.RegisterPrefab(Prefab{
		Name: spawnTypePlayer,
		NewObject: func() []Component {
			return []Component{&PlayerControl{}, &PlayerPhysics{}}
		},
	})
	return g
}

func TestAllocateNetIDIsMonotonic(t *testing.T) {
	g := newTestGraph()
	a := g.AllocateNetID()
	b := g.AllocateNetID()
	require.Less(t, a, b)
}

func TestSpawnRunsAwakeAndInitialDeserialize(t *testing.T) {
	g := newTestGraph()
	colorPayload, _ := (&PlayerControl{Color: 3}).Serialize(nil, true)
	physicsPayload, _ := (&PlayerPhysics{X: 1, Y: 2}).Serialize(nil, true)

	obj, err := g.Spawn(wire.SpawnMessage{
		NetID:      10,
		SpawnType:  uint32(spawnTypePlayer),
		OwnerID:    5,
		Components: [][]byte{colorPayload, physicsPayload},
	})
	require.NoError(t, err)
	require.True(t, g.Exists(10))

	pc := obj.Components()[0].(*PlayerControl)
	require.EqualValues(t, 3, pc.Color)
	phys := obj.Components()[1].(*PlayerPhysics)
	require.InDelta(t, 1, phys.X, 0.01)
}

func TestSpawnUnknownTypeRejected(t *testing.T) {
	g := newTestGraph()
	_, err := g.Spawn(wire.SpawnMessage{NetID: 1, SpawnType: 999})
	require.ErrorIs(t, err, ErrUnknownSpawnType)
}

func TestSpawnUnknownTypePassthrough(t *testing.T) {
	g := NewGraph(zap.NewNop(), UnknownSpawnPassthrough)
	obj, err := g.Spawn(wire.SpawnMessage{NetID: 1, SpawnType: 999})
	require.NoError(t, err)
	require.Len(t, obj.Components(), 1)
	require.IsType(t, &Unknown{}, obj.Components()[0])
	require.True(t, g.Exists(1))
}

func TestDespawnIsIdempotent(t *testing.T) {
	g := newTestGraph()
	_, err := g.Spawn(wire.SpawnMessage{NetID: 1, SpawnType: uint32(spawnTypePlayer)})
	require.NoError(t, err)
	g.Despawn(1)
	require.False(t, g.Exists(1))
	require.NotPanics(t, func() { g.Despawn(1) })
}

func TestObserveNetIDAdvancesAllocator(t *testing.T) {
	g := newTestGraph()
	g.ObserveNetID(100)
	require.Equal(t, uint32(101), g.AllocateNetID())
}

func TestGraphDeserializeMultiComponentIndexesCorrectly(t *testing.T) {
	g := newTestGraph()
	obj, err := g.Spawn(wire.SpawnMessage{NetID: 1, SpawnType: uint32(spawnTypePlayer)})
	require.NoError(t, err)

	physPayload, _ := (&PlayerPhysics{X: 7, Y: 8}).Serialize(nil, true)
	framed := append([]byte{1}, physPayload...)
	require.NoError(t, g.Deserialize(wire.DataMessage{NetID: 1, Payload: framed}))

	phys := obj.Components()[1].(*PlayerPhysics)
	require.InDelta(t, 7, phys.X, 0.01)
}

func TestCollectDirtyClearsAfterRead(t *testing.T) {
	g := newTestGraph()
	obj, err := g.Spawn(wire.SpawnMessage{NetID: 1, SpawnType: uint32(spawnTypePlayer)})
	require.NoError(t, err)

	obj.MarkDirty()
	msgs := g.CollectDirty()
	require.NotEmpty(t, msgs)

	msgsAgain := g.CollectDirty()
	require.Empty(t, msgsAgain)
}

func TestDispatchRoutesRpcToOwningComponent(t *testing.T) {
	g := newTestGraph()
	_, err := g.Spawn(wire.SpawnMessage{NetID: 1, SpawnType: uint32(spawnTypePlayer)})
	require.NoError(t, err)

	handled, err := g.Dispatch(1, wire.RpcCheckColor, []byte{4})
	require.NoError(t, err)
	require.True(t, handled)

	obj, _ := g.Get(1)
	pc := obj.Components()[0].(*PlayerControl)
	require.EqualValues(t, 4, pc.Color)
}

func TestDispatchUnknownNetIDErrors(t *testing.T) {
	g := newTestGraph()
	_, err := g.Dispatch(999, wire.RpcCheckColor, nil)
	require.Error(t, err)
}
