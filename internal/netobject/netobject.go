// Package netobject implements the replicated object graph of
// spec.md §4.4: networked objects identified by a monotonic net id,
// built from prefab templates into an ordered list of components, each
// of which gets Awake/FixedUpdate/Serialize/Deserialize/HandleRpc
// lifecycle hooks. The interface-based component model and dirty-bit
// tracking are grounded on the Awake/tick hook shape oriumgames-pecs
// gives its components, adapted away from that package's bitmask
// storage onto plain maps, matching the simpler object models the
// teacher repo favors elsewhere (sessionRegistry, matchRegistry).
package netobject

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/harborlight/roomkeeper/internal/wire"
)

// Component is one networked behavior attached to an Object. Concrete
// component types (PlayerControl, PlayerPhysics, CustomNetworkTransform,
// ShipStatus, MeetingHud, GameData, LobbyBehaviour, VoteBanSystem) live
// in components.go and all satisfy this interface.
type Component interface {
	// Awake runs once, immediately after the component is attached to
	// its Object, before the first FixedUpdate.
	Awake(o *Object)
	// FixedUpdate runs once per server tick while the object is alive.
	FixedUpdate(o *Object, dt float64)
	// Serialize appends the component's current wire state to payload
	// and reports whether anything meaningful was written. initial is
	// true the first time a component is serialized (on spawn), which
	// some components use to emit a larger snapshot than a delta.
	Serialize(o *Object, initial bool) (payload []byte, ok bool)
	// Deserialize applies an incoming state update.
	Deserialize(o *Object, payload []byte) error
	// HandleRpc processes a GameData RPC addressed to this object's net
	// id, classified by tag. Components that don't care about the tag
	// return false so the caller can treat it as unhandled.
	HandleRpc(o *Object, tag wire.RpcTag, payload []byte) (handled bool, err error)
}

// SpawnType names a prefab registered in a Graph's prefab table.
type SpawnType uint32

// Prefab describes how to build the component list for one SpawnType.
type Prefab struct {
	Name       SpawnType
	NewObject  func() []Component
}

// Object is one node in the replicated graph: a net id, an owning
// client (or -1 for server-owned), and its live component instances.
type Object struct {
	NetID     uint32
	SpawnType SpawnType
	OwnerID   int32
	Flags     byte

	mu         sync.Mutex
	components []Component
	dirty      bool
}

// Components returns the object's component list in spawn order.
func (o *Object) Components() []Component {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Component(nil), o.components...)
}

// MarkDirty flags the object for inclusion in the next serialize sweep.
func (o *Object) MarkDirty() {
	o.mu.Lock()
	o.dirty = true
	o.mu.Unlock()
}

func (o *Object) takeDirty() bool {
	o.mu.Lock()
	d := o.dirty
	o.dirty = false
	o.mu.Unlock()
	return d
}

// UnknownSpawnPolicy controls what a Graph does with a SpawnMessage
// whose SpawnType has no registered Prefab (spec.md §4.4's "unknown
// spawn type" edge case, advanced.unknownObjects in config).
type UnknownSpawnPolicy int

const (
	// UnknownSpawnReject drops the spawn and reports an error.
	UnknownSpawnReject UnknownSpawnPolicy = iota
	// UnknownSpawnPassthrough creates a placeholder Object holding a
	// single Unknown component that keeps the raw component bytes, so
	// despawn/ownership bookkeeping still works.
	UnknownSpawnPassthrough
)

// Graph owns one room's live Object set and net id allocation.
type Graph struct {
	logger *zap.Logger
	policy UnknownSpawnPolicy

	mu       sync.RWMutex
	prefabs  map[SpawnType]Prefab
	objects  map[uint32]*Object
	nextID   uint32
	maxSeen  uint32
}

// NewGraph creates an empty object graph.
func NewGraph(logger *zap.Logger, policy UnknownSpawnPolicy) *Graph {
	return &Graph{
		logger:  logger,
		policy:  policy,
		prefabs: make(map[SpawnType]Prefab),
		objects: make(map[uint32]*Object),
		nextID:  1,
	}
}

// RegisterPrefab adds a spawnable template to the graph.
func (g *Graph) RegisterPrefab(p Prefab) {
	g.mu.Lock()
	g.prefabs[p.Name] = p
	g.mu.Unlock()
}

// AllocateNetID hands out the next monotonic net id, grounded on the
// teacher's match_id.go allocation idiom (an always-incrementing
// counter, no reuse, no holes).
func (g *Graph) AllocateNetID() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextID
	g.nextID++
	if id > g.maxSeen {
		g.maxSeen = id
	}
	return id
}

// ObserveNetID bumps the allocator past id if a spawn arrives carrying
// a higher net id than this graph has ever issued, which happens after
// a host migration hands authority to a server that did not allocate
// the original ids (spec.md §4.4).
func (g *Graph) ObserveNetID(id uint32) {
	g.mu.Lock()
	if id >= g.nextID {
		g.nextID = id + 1
	}
	if id > g.maxSeen {
		g.maxSeen = id
	}
	g.mu.Unlock()
}

// ErrUnknownSpawnType is returned (or just logged, under
// UnknownSpawnPassthrough) when a SpawnMessage names an unregistered
// SpawnType.
var ErrUnknownSpawnType = fmt.Errorf("netobject: unknown spawn type")

// Spawn instantiates an Object from m, running Awake on every component.
func (g *Graph) Spawn(m wire.SpawnMessage) (*Object, error) {
	spawnType := SpawnType(m.SpawnType)

	g.mu.RLock()
	prefab, ok := g.prefabs[spawnType]
	g.mu.RUnlock()

	var comps []Component
	if !ok {
		switch g.policy {
		case UnknownSpawnPassthrough:
			g.logger.Warn("spawning unknown type as passthrough", zap.Uint32("spawn_type", m.SpawnType))
			comps = []Component{&Unknown{Raw: m.Components}}
		default:
			return nil, fmt.Errorf("%w: %d", ErrUnknownSpawnType, m.SpawnType)
		}
	} else {
		comps = prefab.NewObject()
	}

	obj := &Object{
		NetID:     m.NetID,
		SpawnType: spawnType,
		OwnerID:   m.OwnerID,
		Flags:     m.Flags,
	}
	obj.components = comps

	g.mu.Lock()
	g.objects[obj.NetID] = obj
	g.mu.Unlock()

	g.ObserveNetID(obj.NetID)

	var deserializeErr error
	for i, c := range comps {
		c.Awake(obj)
		if i < len(m.Components) {
			deserializeErr = multierr.Append(deserializeErr, c.Deserialize(obj, m.Components[i]))
		}
	}
	if deserializeErr != nil {
		g.logger.Warn("initial deserialize failed", zap.Uint32("net_id", obj.NetID), zap.Error(deserializeErr))
	}
	return obj, nil
}

// Despawn removes an Object from the graph. It is not an error to
// despawn an id that is already gone (spec.md §4.4 edge case).
func (g *Graph) Despawn(netID uint32) {
	g.mu.Lock()
	delete(g.objects, netID)
	g.mu.Unlock()
}

// Get looks up a live Object by net id.
func (g *Graph) Get(netID uint32) (*Object, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	o, ok := g.objects[netID]
	return o, ok
}

// Exists reports whether netID currently names a live Object, the
// check anti-cheat uses before trusting any message that references one.
func (g *Graph) Exists(netID uint32) bool {
	_, ok := g.Get(netID)
	return ok
}

// Snapshot returns every live Object, for host-migration handoff or
// a late joiner's full-state catch-up.
func (g *Graph) Snapshot() []*Object {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Object, 0, len(g.objects))
	for _, o := range g.objects {
		out = append(out, o)
	}
	return out
}

// Deserialize applies an incoming DataMessage to whichever component at
// that index is willing to accept it. Objects with only one component
// accept on that component directly; objects with several expect the
// first byte of payload to carry a component index (spec.md §4.4 wire
// format of DataMsg for multi-component objects).
func (g *Graph) Deserialize(m wire.DataMessage) error {
	obj, ok := g.Get(m.NetID)
	if !ok {
		return fmt.Errorf("netobject: deserialize: unknown net id %d", m.NetID)
	}
	comps := obj.Components()
	if len(comps) == 0 {
		return nil
	}
	if len(comps) == 1 {
		return comps[0].Deserialize(obj, m.Payload)
	}
	if len(m.Payload) == 0 {
		return fmt.Errorf("netobject: deserialize: empty payload for multi-component object %d", m.NetID)
	}
	idx := int(m.Payload[0])
	if idx < 0 || idx >= len(comps) {
		return fmt.Errorf("netobject: deserialize: component index %d out of range for object %d", idx, m.NetID)
	}
	return comps[idx].Deserialize(obj, m.Payload[1:])
}

// Dispatch routes an RPC to the first component on netID's object that
// claims to handle tag.
func (g *Graph) Dispatch(netID uint32, tag wire.RpcTag, payload []byte) (handled bool, err error) {
	obj, ok := g.Get(netID)
	if !ok {
		return false, fmt.Errorf("netobject: dispatch: unknown net id %d", netID)
	}
	for _, c := range obj.Components() {
		h, err := c.HandleRpc(obj, tag, payload)
		if err != nil {
			return false, err
		}
		if h {
			return true, nil
		}
	}
	return false, nil
}

// FixedUpdate runs FixedUpdate on every component of every live object,
// in the deterministic order objects were spawned would be nicer but
// Go map iteration is unordered; callers that need determinism should
// sort Snapshot() themselves.
func (g *Graph) FixedUpdate(dt float64) {
	for _, o := range g.Snapshot() {
		for _, c := range o.Components() {
			c.FixedUpdate(o, dt)
		}
	}
}

// CollectDirty serializes every dirty object's components into
// DataMessages and clears their dirty bits, feeding the fixed-tick
// broadcast step (spec.md §4.5 step 2).
func (g *Graph) CollectDirty() []wire.GameDataMsg {
	var out []wire.GameDataMsg
	for _, o := range g.Snapshot() {
		if !o.takeDirty() {
			continue
		}
		comps := o.Components()
		if len(comps) == 1 {
			if payload, ok := comps[0].Serialize(o, false); ok {
				out = append(out, wire.DataMessage{NetID: o.NetID, Payload: payload})
			}
			continue
		}
		for idx, c := range comps {
			payload, ok := c.Serialize(o, false)
			if !ok {
				continue
			}
			framed := make([]byte, 1+len(payload))
			framed[0] = byte(idx)
			copy(framed[1:], payload)
			out = append(out, wire.DataMessage{NetID: o.NetID, Payload: framed})
		}
	}
	return out
}
