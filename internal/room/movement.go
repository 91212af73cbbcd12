package room

import (
	"math"

	"github.com/harborlight/roomkeeper/internal/codec"
	"github.com/harborlight/roomkeeper/internal/netobject"
	"github.com/harborlight/roomkeeper/internal/wire"
)

// movementEpsilon bounds the minimum position delta worth relaying, the
// dedup-by-magnitude optimization spec.md §4.6 calls for so a
// stationary player stops generating unreliable traffic.
const movementEpsilon = 0.01

// updateRateThreshold is the magnitude, in player units, above which a
// movement update counts against config.optimizations.movement.
// updateRate's qualifying-packet counter (spec.md §4.6).
const updateRateThreshold = 0.5

// visionDistance is the Euclidean distance, in player units, beyond
// which config.optimizations.movement.visionChecks stops relaying a
// mover's position to a given recipient (spec.md §4.6).
const visionDistance = 7.0

// HandleMovement applies an unreliable RpcUpdatePosition-style update
// to netID's CustomNetworkTransform and relays it to other members,
// unless the position hasn't moved meaningfully, the target object
// doesn't exist, the sender is dead and vision rules hide dead players
// from the living, or the configured updateRate skips this packet
// (spec.md §4.6's movement fast path).
func (r *Room) HandleMovement(fromClientID uint32, netID uint32, x, y float32) {
	obj, ok := r.graph.Get(netID)
	if !ok {
		return
	}

	var transform *netobject.CustomNetworkTransform
	for _, c := range obj.Components() {
		if t, ok := c.(*netobject.CustomNetworkTransform); ok {
			transform = t
			break
		}
	}
	if transform == nil {
		return
	}

	dx := float64(x - transform.X)
	dy := float64(y - transform.Y)
	magnitude := math.Hypot(dx, dy)
	if magnitude < movementEpsilon {
		return
	}

	forward := true
	if magnitude > updateRateThreshold {
		transform.MoveCount++
		rate := r.movementCfg.UpdateRate
		if rate < 1 {
			rate = 1
		}
		forward = transform.MoveCount%uint32(rate) == 0
	}

	transform.X, transform.Y = x, y
	if !forward {
		return
	}

	moverDead := r.movementCfg.DeadChecks && r.isDeadAndHidden(obj)

	msg := wire.DataMessage{NetID: netID, Payload: r.encodeVector2(x, y)}
	r.broadcastMovementUnreliable(fromClientID, x, y, moverDead, []wire.GameDataMsg{msg})
}

// isDeadAndHidden reports whether obj's owner is dead, in which case
// its movement is only relayed to other dead players (a ghost-vision
// rule), a vision check spec.md §4.6 calls out explicitly.
func (r *Room) isDeadAndHidden(obj *netobject.Object) bool {
	for _, c := range obj.Components() {
		if pc, ok := c.(*netobject.PlayerControl); ok {
			return pc.IsDead
		}
	}
	return false
}

// broadcastMovementUnreliable relays a movement fast-path message from
// a mover positioned at (fx, fy). moverDead restricts delivery to
// other dead recipients (ghost vision); recipients farther than
// visionDistance units away are also skipped when
// config.optimizations.movement.visionChecks is enabled (spec.md
// §4.6).
func (r *Room) broadcastMovementUnreliable(fromClientID uint32, fx, fy float32, moverDead bool, msgs []wire.GameDataMsg) {
	r.mu.RLock()
	visionChecks := r.movementCfg.VisionChecks
	code := r.code
	recipients := make([]*member, 0, len(r.members))
	for id, m := range r.members {
		if id != fromClientID && m.conn != nil {
			recipients = append(recipients, m)
		}
	}
	r.mu.RUnlock()

	payload := wire.EncodeGameData(code, msgs)
	for _, m := range recipients {
		if moverDead && !r.isMemberDead(m) {
			continue
		}
		if visionChecks && !r.withinVisionRange(m, fx, fy) {
			continue
		}
		m.conn.SendUnreliable(byte(wire.RootGameData), payload)
	}
}

// isMemberDead reports whether m's own spawned player is currently
// dead. A recipient with no spawned player yet is treated as alive,
// since ghost vision only makes sense once a game is in progress.
func (r *Room) isMemberDead(m *member) bool {
	if !m.hasPlayerID {
		return false
	}
	obj, ok := r.graph.Get(m.netID)
	if !ok {
		return false
	}
	for _, c := range obj.Components() {
		if pc, ok := c.(*netobject.PlayerControl); ok {
			return pc.IsDead
		}
	}
	return false
}

// withinVisionRange reports whether recipient m's own player position
// is within visionDistance of (fx, fy). A recipient with no spawned
// player yet, or whose transform can't be found, is always in range,
// since vision rules only make sense once a game is in progress.
func (r *Room) withinVisionRange(m *member, fx, fy float32) bool {
	if !m.hasPlayerID {
		return true
	}
	obj, ok := r.graph.Get(m.netID)
	if !ok {
		return true
	}
	for _, c := range obj.Components() {
		if t, ok := c.(*netobject.CustomNetworkTransform); ok {
			dx := float64(fx - t.X)
			dy := float64(fy - t.Y)
			return math.Hypot(dx, dy) <= visionDistance
		}
	}
	return true
}

// encodeVector2 serializes a CustomNetworkTransform position update,
// reusing r's scratch codec.Writer across calls when
// config.optimizations.movement.reuseBuffer is enabled instead of
// allocating a fresh Writer per movement packet.
func (r *Room) encodeVector2(x, y float32) []byte {
	if !r.movementCfg.ReuseBuffer {
		t := &netobject.CustomNetworkTransform{X: x, Y: y}
		payload, _ := t.Serialize(nil, false)
		return payload
	}

	r.movementBufMu.Lock()
	defer r.movementBufMu.Unlock()
	if r.movementBuf == nil {
		r.movementBuf = codec.NewWriter(10)
	}
	r.movementBuf.Reset()
	r.movementBuf.Vector2(x, y)
	r.movementBuf.Vector2(0, 0)
	r.movementBuf.Uint16LE(0)
	out := make([]byte, len(r.movementBuf.Bytes()))
	copy(out, r.movementBuf.Bytes())
	return out
}
