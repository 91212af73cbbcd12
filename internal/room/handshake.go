package room

import (
	"github.com/harborlight/roomkeeper/internal/wire"
)

// observeActingHostHandshake watches for the two RPCs that drive the
// acting-host handshake of spec.md §4.5: the server holds host
// authority for a newly promoted acting host until its initial
// settings are exchanged. CheckName, sent once a client finishes
// loading into the room, triggers the one-time
// JoinGame(Temp)+GameDataTo(SceneChange("OnlineGame")) pair that lets
// an acting host's own client believe it is the room's host.
// SyncSettings, that acting host's first settings push, adopts the
// settings and completes the handshake; after that,
// hostViewForLocked starts showing the client its own id instead of
// wire.ServerHostID.
func (r *Room) observeActingHostHandshake(fromClientID uint32, m wire.GameDataMsg) {
	rpc, ok := m.(wire.RpcMessage)
	if !ok {
		return
	}
	switch rpc.RpcTag {
	case wire.RpcCheckName:
		r.handleActingHostCheckName(fromClientID)
	case wire.RpcSyncSettings:
		r.handleActingHostSyncSettings(fromClientID, rpc.Payload)
	}
}

// handleActingHostCheckName sends clientID the JoinGame(Temp)+
// GameDataTo(SceneChange) pair exactly once, latched by
// finishedActingHostTransactionRoutine, if clientID is an acting host
// that hasn't received it yet.
func (r *Room) handleActingHostCheckName(clientID uint32) {
	r.mu.Lock()
	if r.policy != ServerAsHost || !r.actingHostIDs[clientID] || r.finishedActingHostTransactionRoutine[clientID] {
		r.mu.Unlock()
		return
	}
	r.finishedActingHostTransactionRoutine[clientID] = true
	m := r.members[clientID]
	code := r.code
	r.mu.Unlock()
	if m == nil || m.conn == nil {
		return
	}

	joinPayload := wire.EncodeJoinGame(wire.JoinGame{Code: code, ClientID: clientID, Name: m.name, Temp: true})
	m.conn.SendReliable(byte(wire.RootJoinGame), joinPayload)

	scenePayload := wire.EncodeGameDataTo(code, clientID, []wire.GameDataMsg{wire.SceneChangeMessage{Scene: "OnlineGame"}})
	m.conn.SendReliable(byte(wire.RootGameDataTo), scenePayload)
}

// handleActingHostSyncSettings adopts payload as the room's settings
// and removes clientID from actingHostWaitingFor, completing the
// handshake, provided clientID is still pending one.
func (r *Room) handleActingHostSyncSettings(clientID uint32, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.policy != ServerAsHost || !r.inActingHostWaitingForLocked(clientID) {
		return
	}
	settings, err := wire.DecodeSettings(payload)
	if err != nil {
		return
	}
	r.settings = settings
	r.removeFromActingHostWaitingForLocked(clientID)
}
