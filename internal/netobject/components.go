package netobject

import (
	"github.com/harborlight/roomkeeper/internal/codec"
	"github.com/harborlight/roomkeeper/internal/wire"
)

// PlayerControl carries a player's identity-facing state: color, name,
// hat/pet/skin cosmetics, and infected/dead flags. It is the component
// the cosmetic and host-only RPC checks (spec.md §4.7) are usually
// classified against.
type PlayerControl struct {
	PlayerID   byte
	IsNew      bool
	Color      byte
	HatID      uint32
	PetID      uint32
	SkinID     uint32
	IsDead     bool
	IsInfected bool
	IsImpostor bool
	Tasks      []byte
}

func (c *PlayerControl) Awake(o *Object)               {}
func (c *PlayerControl) FixedUpdate(o *Object, dt float64) {}

func (c *PlayerControl) Serialize(o *Object, initial bool) ([]byte, bool) {
	w := codec.NewWriter(16)
	w.Byte(c.PlayerID)
	w.Byte(c.Color)
	w.PackedUint32(c.HatID)
	w.PackedUint32(c.PetID)
	w.PackedUint32(c.SkinID)
	w.Bool(c.IsDead)
	w.Bool(c.IsInfected)
	w.Bool(c.IsImpostor)
	w.PackedUint32(uint32(len(c.Tasks)))
	for _, taskID := range c.Tasks {
		w.Byte(taskID)
	}
	return w.Bytes(), true
}

func (c *PlayerControl) Deserialize(o *Object, payload []byte) error {
	r := codec.NewReader(payload)
	var err error
	if c.PlayerID, err = r.Byte(); err != nil {
		return err
	}
	if c.Color, err = r.Byte(); err != nil {
		return err
	}
	if c.HatID, err = r.PackedUint32(); err != nil {
		return err
	}
	if c.PetID, err = r.PackedUint32(); err != nil {
		return err
	}
	if c.SkinID, err = r.PackedUint32(); err != nil {
		return err
	}
	if c.IsDead, err = r.Bool(); err != nil {
		return err
	}
	if c.IsInfected, err = r.Bool(); err != nil {
		return err
	}
	if c.IsImpostor, err = r.Bool(); err != nil {
		return err
	}
	n, err := r.PackedUint32()
	if err != nil {
		return err
	}
	tasks := make([]byte, 0, n)
	for i := uint32(0); i < n; i++ {
		taskID, err := r.Byte()
		if err != nil {
			return err
		}
		tasks = append(tasks, taskID)
	}
	c.Tasks = tasks
	o.MarkDirty()
	return nil
}

func (c *PlayerControl) HandleRpc(o *Object, tag wire.RpcTag, payload []byte) (bool, error) {
	switch tag {
	case wire.RpcCheckColor:
		if len(payload) >= 1 {
			c.Color = payload[0]
		}
	case wire.RpcSetHat:
		if v, err := codec.NewReader(payload).PackedUint32(); err == nil {
			c.HatID = v
		}
	case wire.RpcSetPet:
		if v, err := codec.NewReader(payload).PackedUint32(); err == nil {
			c.PetID = v
		}
	case wire.RpcSetSkin:
		if v, err := codec.NewReader(payload).PackedUint32(); err == nil {
			c.SkinID = v
		}
	case wire.RpcSetInfected:
		c.IsInfected = true
	case wire.RpcMurderPlayer:
		c.IsDead = true
	default:
		return false, nil
	}
	o.MarkDirty()
	return true, nil
}

// PlayerPhysics carries a player's physics-body position. The movement
// fast path's vision checks read CustomNetworkTransform, not this.
type PlayerPhysics struct {
	X, Y float32
}

func (c *PlayerPhysics) Awake(o *Object)                   {}
func (c *PlayerPhysics) FixedUpdate(o *Object, dt float64) {}

func (c *PlayerPhysics) Serialize(o *Object, initial bool) ([]byte, bool) {
	w := codec.NewWriter(4)
	w.Vector2(c.X, c.Y)
	return w.Bytes(), true
}

func (c *PlayerPhysics) Deserialize(o *Object, payload []byte) error {
	x, y, err := codec.NewReader(payload).Vector2()
	if err != nil {
		return err
	}
	c.X, c.Y = x, y
	o.MarkDirty()
	return nil
}

// PlayerPhysics is where vent movement RPCs land, not ShipStatus: a
// vent traversal moves this player's own physics body, and the
// impostor-only gate on EnterVent needs a component that carries a
// per-player owner to check against.
func (c *PlayerPhysics) HandleRpc(o *Object, tag wire.RpcTag, payload []byte) (bool, error) {
	switch tag {
	case wire.RpcEnterVent, wire.RpcExitVent, wire.RpcBootFromVent:
		return true, nil
	default:
		return false, nil
	}
}

// CustomNetworkTransform is the high-frequency position/velocity
// component updated by RpcUpdatePosition and the unreliable movement
// fast path. Unlike PlayerPhysics its updates never mark the object
// dirty, so it reaches the reliable DataMsg path only when another
// component on the same object does.
type CustomNetworkTransform struct {
	X, Y       float32
	VelX, VelY float32
	SequenceID uint16

	// MoveCount counts movement-fast-path updates whose magnitude
	// exceeded 0.5 player units, the qualifying-packet counter
	// room.HandleMovement increments to implement
	// config.optimizations.movement.updateRate (spec.md §4.6).
	MoveCount uint32
}

func (c *CustomNetworkTransform) Awake(o *Object)                   {}
func (c *CustomNetworkTransform) FixedUpdate(o *Object, dt float64) {}

func (c *CustomNetworkTransform) Serialize(o *Object, initial bool) ([]byte, bool) {
	w := codec.NewWriter(10)
	w.Vector2(c.X, c.Y)
	w.Vector2(c.VelX, c.VelY)
	w.Uint16LE(c.SequenceID)
	return w.Bytes(), true
}

func (c *CustomNetworkTransform) Deserialize(o *Object, payload []byte) error {
	r := codec.NewReader(payload)
	x, y, err := r.Vector2()
	if err != nil {
		return err
	}
	vx, vy, err := r.Vector2()
	if err != nil {
		return err
	}
	seq, err := r.Uint16LE()
	if err != nil {
		return err
	}
	c.X, c.Y, c.VelX, c.VelY, c.SequenceID = x, y, vx, vy, seq
	return nil
}

func (c *CustomNetworkTransform) HandleRpc(o *Object, tag wire.RpcTag, payload []byte) (bool, error) {
	if tag != wire.RpcUpdatePosition {
		return false, nil
	}
	return true, c.Deserialize(o, payload)
}

// ShipStatus represents the map-level singleton. It carries only the
// map id, set once at spawn and never mutated, so Serialize reports no
// further changes after the initial snapshot.
type ShipStatus struct {
	MapID byte
}

func (c *ShipStatus) Awake(o *Object)                   {}
func (c *ShipStatus) FixedUpdate(o *Object, dt float64) {}

func (c *ShipStatus) Serialize(o *Object, initial bool) ([]byte, bool) {
	if !initial {
		return nil, false
	}
	w := codec.NewWriter(1)
	w.Byte(c.MapID)
	return w.Bytes(), true
}

func (c *ShipStatus) Deserialize(o *Object, payload []byte) error {
	b, err := codec.NewReader(payload).Byte()
	if err != nil {
		return err
	}
	c.MapID = b
	return nil
}

func (c *ShipStatus) HandleRpc(o *Object, tag wire.RpcTag, payload []byte) (bool, error) {
	return false, nil
}

// MeetingHud tracks an in-progress emergency meeting: who has voted and
// for whom, gated behind the RpcCastVote/RpcVotingComplete pair.
type MeetingHud struct {
	Votes map[byte]byte // voter player id -> target player id (255 = skip)
}

func (c *MeetingHud) Awake(o *Object) {
	if c.Votes == nil {
		c.Votes = make(map[byte]byte)
	}
}

func (c *MeetingHud) FixedUpdate(o *Object, dt float64) {}

func (c *MeetingHud) Serialize(o *Object, initial bool) ([]byte, bool) {
	w := codec.NewWriter(4 + 2*len(c.Votes))
	w.PackedUint32(uint32(len(c.Votes)))
	for voter, target := range c.Votes {
		w.Byte(voter)
		w.Byte(target)
	}
	return w.Bytes(), true
}

func (c *MeetingHud) Deserialize(o *Object, payload []byte) error {
	r := codec.NewReader(payload)
	n, err := r.PackedUint32()
	if err != nil {
		return err
	}
	votes := make(map[byte]byte, n)
	for i := uint32(0); i < n; i++ {
		voter, err := r.Byte()
		if err != nil {
			return err
		}
		target, err := r.Byte()
		if err != nil {
			return err
		}
		votes[voter] = target
	}
	c.Votes = votes
	o.MarkDirty()
	return nil
}

func (c *MeetingHud) HandleRpc(o *Object, tag wire.RpcTag, payload []byte) (bool, error) {
	if tag != wire.RpcCastVote {
		return false, nil
	}
	if len(payload) < 2 {
		return true, nil
	}
	if c.Votes == nil {
		c.Votes = make(map[byte]byte)
	}
	c.Votes[payload[0]] = payload[1]
	o.MarkDirty()
	return true, nil
}

// GameData is the room-wide roster: every player's id, name and
// connection state, kept in sync with the room's own membership table
// so late joiners can fully rebuild client-side state from a single
// object's snapshot.
type GameData struct {
	Players map[byte]string
}

func (c *GameData) Awake(o *Object) {
	if c.Players == nil {
		c.Players = make(map[byte]string)
	}
}

func (c *GameData) FixedUpdate(o *Object, dt float64) {}

func (c *GameData) Serialize(o *Object, initial bool) ([]byte, bool) {
	w := codec.NewWriter(8)
	w.PackedUint32(uint32(len(c.Players)))
	for id, name := range c.Players {
		w.Byte(id)
		w.WriteString(name)
	}
	return w.Bytes(), true
}

func (c *GameData) Deserialize(o *Object, payload []byte) error {
	r := codec.NewReader(payload)
	n, err := r.PackedUint32()
	if err != nil {
		return err
	}
	players := make(map[byte]string, n)
	for i := uint32(0); i < n; i++ {
		id, err := r.Byte()
		if err != nil {
			return err
		}
		name, err := r.String()
		if err != nil {
			return err
		}
		players[id] = name
	}
	c.Players = players
	o.MarkDirty()
	return nil
}

func (c *GameData) HandleRpc(o *Object, tag wire.RpcTag, payload []byte) (bool, error) {
	return false, nil
}

// LobbyBehaviour exists only in the pre-game lobby; it despawns the
// moment StartGame fires.
type LobbyBehaviour struct{}

func (c *LobbyBehaviour) Awake(o *Object)                   {}
func (c *LobbyBehaviour) FixedUpdate(o *Object, dt float64) {}
func (c *LobbyBehaviour) Serialize(o *Object, initial bool) ([]byte, bool) {
	return nil, false
}
func (c *LobbyBehaviour) Deserialize(o *Object, payload []byte) error { return nil }
func (c *LobbyBehaviour) HandleRpc(o *Object, tag wire.RpcTag, payload []byte) (bool, error) {
	return false, nil
}

// VoteBanSystem tracks in-progress kick votes, a server-authoritative
// moderation feature independent of meeting votes.
type VoteBanSystem struct {
	Votes map[byte]map[byte]bool // target player id -> set of voters
}

func (c *VoteBanSystem) Awake(o *Object) {
	if c.Votes == nil {
		c.Votes = make(map[byte]map[byte]bool)
	}
}

func (c *VoteBanSystem) FixedUpdate(o *Object, dt float64) {}

func (c *VoteBanSystem) Serialize(o *Object, initial bool) ([]byte, bool) {
	w := codec.NewWriter(8)
	w.PackedUint32(uint32(len(c.Votes)))
	for target, voters := range c.Votes {
		w.Byte(target)
		w.PackedUint32(uint32(len(voters)))
		for voter := range voters {
			w.Byte(voter)
		}
	}
	return w.Bytes(), true
}

func (c *VoteBanSystem) Deserialize(o *Object, payload []byte) error {
	r := codec.NewReader(payload)
	n, err := r.PackedUint32()
	if err != nil {
		return err
	}
	votes := make(map[byte]map[byte]bool, n)
	for i := uint32(0); i < n; i++ {
		target, err := r.Byte()
		if err != nil {
			return err
		}
		vn, err := r.PackedUint32()
		if err != nil {
			return err
		}
		voters := make(map[byte]bool, vn)
		for j := uint32(0); j < vn; j++ {
			voter, err := r.Byte()
			if err != nil {
				return err
			}
			voters[voter] = true
		}
		votes[target] = voters
	}
	c.Votes = votes
	o.MarkDirty()
	return nil
}

func (c *VoteBanSystem) HandleRpc(o *Object, tag wire.RpcTag, payload []byte) (bool, error) {
	return false, nil
}

// Unknown is the passthrough component attached to an Object spawned
// under UnknownSpawnPassthrough: it stores the raw bytes it was spawned
// with and refuses every RPC, so anti-cheat's component-class check
// correctly treats every RPC against it as unclassifiable.
type Unknown struct {
	Raw [][]byte
}

func (c *Unknown) Awake(o *Object)                   {}
func (c *Unknown) FixedUpdate(o *Object, dt float64) {}
func (c *Unknown) Serialize(o *Object, initial bool) ([]byte, bool) {
	return nil, false
}
func (c *Unknown) Deserialize(o *Object, payload []byte) error { return nil }
func (c *Unknown) HandleRpc(o *Object, tag wire.RpcTag, payload []byte) (bool, error) {
	return false, nil
}
