package room

import (
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/harborlight/roomkeeper/internal/netobject"
	"github.com/harborlight/roomkeeper/internal/wire"
)

// startReadyTimeout bounds how long checkStartReady waits for every
// in-room player to send Ready after Start (spec.md §4.5).
const startReadyTimeout = 3 * time.Second

// HandleReady records that clientID has sent Ready during the
// start-readiness wait (spec.md §4.5), applied from broadcast.go's
// GameData dispatch instead of relayed through the object graph, since
// readiness is room state rather than a networked component.
func (r *Room) HandleReady(clientID uint32) {
	r.mu.Lock()
	if m := r.members[clientID]; m != nil {
		m.ready = true
	}
	r.mu.Unlock()
}

// checkStartReady is polled once per tick by runTickLoop (spec.md §12's
// REDESIGN FLAG: a state field checked on tick, not an awaited
// coroutine/future). Once every joined player has sent Ready, or
// startReadyTimeout has elapsed, it force-removes anyone still
// un-ready and runs finishStart exactly once.
func (r *Room) checkStartReady() {
	r.mu.Lock()
	if r.startFinished || r.startReadyDeadline.IsZero() {
		r.mu.Unlock()
		return
	}

	allReady := true
	for _, id := range r.joinOrder {
		if m := r.members[id]; m != nil && !m.ready {
			allReady = false
			break
		}
	}
	deadlinePassed := !time.Now().Before(r.startReadyDeadline)
	if !allReady && !deadlinePassed {
		r.mu.Unlock()
		return
	}

	var notReady []uint32
	if !allReady {
		for _, id := range r.joinOrder {
			if m := r.members[id]; m != nil && !m.ready {
				notReady = append(notReady, id)
			}
		}
	}
	r.startFinished = true
	r.startReadyDeadline = time.Time{}
	r.mu.Unlock()

	for _, id := range notReady {
		r.HandleLeave(id, wire.DisconnectError)
	}
	r.finishStart()
}

// finishStart runs the rest of spec.md §4.5's start sequence once every
// remaining player is ready: despawn LobbyBehaviour, spawn the map's
// ShipStatus variant, assign impostors, and spawn each player on the
// ship. No tasks are assigned.
func (r *Room) finishStart() {
	r.mu.RLock()
	mapID := r.settings.MapID
	impostorCount := r.settings.ImpostorCount
	memberIDs := append([]uint32(nil), r.joinOrder...)
	r.mu.RUnlock()

	for _, obj := range r.graph.Snapshot() {
		for _, c := range obj.Components() {
			if _, ok := c.(*netobject.LobbyBehaviour); ok {
				r.despawnAndBroadcast(obj.NetID)
				break
			}
		}
	}

	r.spawnAndBroadcast(netobject.ShipStatusSpawnTypeForMap(mapID), -1, 0)

	impostors := chooseImpostors(memberIDs, impostorCount)
	for i, clientID := range memberIDs {
		r.spawnPlayer(clientID, byte(i), impostors[clientID])
	}
}

// spawnPlayer spawns clientID's Player object, assigns its player id
// and impostor flag, and records the assignment on its member entry so
// PlayerIDFor/IsPlayerAlive can answer anti-cheat's CastVote checks.
func (r *Room) spawnPlayer(clientID uint32, playerID byte, isImpostor bool) {
	obj := r.spawnAndBroadcast(netobject.SpawnPlayer, int32(clientID), 0)
	if obj == nil {
		return
	}
	for _, c := range obj.Components() {
		if pc, ok := c.(*netobject.PlayerControl); ok {
			pc.PlayerID = playerID
			pc.IsImpostor = isImpostor
			obj.MarkDirty()
			break
		}
	}
	r.mu.Lock()
	if m := r.members[clientID]; m != nil {
		m.hasPlayerID = true
		m.playerID = playerID
		m.netID = obj.NetID
	}
	r.mu.Unlock()
}

// chooseImpostors picks min(count, len(memberIDs)) members at random to
// be impostors (spec.md §4.5's "assign impostors and tasks").
func chooseImpostors(memberIDs []uint32, count byte) map[uint32]bool {
	n := int(count)
	if n > len(memberIDs) {
		n = len(memberIDs)
	}
	shuffled := append([]uint32(nil), memberIDs...)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	out := make(map[uint32]bool, n)
	for i := 0; i < n; i++ {
		out[shuffled[i]] = true
	}
	return out
}

// spawnAndBroadcast allocates a fresh net id, spawns spawnType into the
// object graph and relays the spawn to every member, the server-
// authored half of the join protocol's normal client-authored spawns.
func (r *Room) spawnAndBroadcast(spawnType netobject.SpawnType, ownerID int32, flags byte) *netobject.Object {
	netID := r.graph.AllocateNetID()
	msg := wire.SpawnMessage{NetID: netID, SpawnType: uint32(spawnType), OwnerID: ownerID, Flags: flags}
	obj, err := r.graph.Spawn(msg)
	if err != nil {
		r.logger.Warn("game-start spawn failed", zap.Uint32("spawn_type", uint32(spawnType)), zap.Error(err))
		return nil
	}

	r.mu.RLock()
	targets := r.otherConnections(0)
	code := r.code
	r.mu.RUnlock()

	payload := wire.EncodeGameData(code, []wire.GameDataMsg{msg})
	for _, c := range targets {
		c.SendReliable(byte(wire.RootGameData), payload)
	}
	return obj
}

// despawnAndBroadcast removes netID from the object graph and relays
// the despawn to every member.
func (r *Room) despawnAndBroadcast(netID uint32) {
	r.graph.Despawn(netID)

	r.mu.RLock()
	targets := r.otherConnections(0)
	code := r.code
	r.mu.RUnlock()

	payload := wire.EncodeGameData(code, []wire.GameDataMsg{wire.DespawnMessage{NetID: netID}})
	for _, c := range targets {
		c.SendReliable(byte(wire.RootGameData), payload)
	}
}
