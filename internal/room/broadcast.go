package room

import (
	"strings"

	"go.uber.org/zap"

	"github.com/harborlight/roomkeeper/internal/codec"
	"github.com/harborlight/roomkeeper/internal/wire"
)

// AntiCheat lets the anticheat package veto a GameDataMsg before the
// room applies it, without room importing anticheat (anticheat imports
// room's types to classify messages, so the dependency must run the
// other way).
type AntiCheat interface {
	Review(r *Room, clientID uint32, msg wire.GameDataMsg) error
}

// SetAntiCheat installs the gatekeeper consulted by HandleGameData. A
// nil AntiCheat (the default) applies every message unchecked, which is
// only appropriate for tests.
func (r *Room) SetAntiCheat(ac AntiCheat) {
	r.mu.Lock()
	r.antiCheat = ac
	r.mu.Unlock()
}

// HandleGameData applies a batch of GameDataMsg from one client,
// running each through anti-cheat review before mutating the object
// graph (spec.md §4.4/§4.7).
func (r *Room) HandleGameData(fromClientID uint32, msgs []wire.GameDataMsg) {
	r.mu.RLock()
	ac := r.antiCheat
	r.mu.RUnlock()

	var applied []wire.GameDataMsg
	for _, m := range msgs {
		if r.dispatchChatCommand(fromClientID, m) {
			continue
		}
		r.observeActingHostHandshake(fromClientID, m)
		if ac != nil {
			if err := ac.Review(r, fromClientID, m); err != nil {
				r.logger.Debug("game data message rejected by anti-cheat",
					zap.Uint32("client_id", fromClientID), zap.Error(err))
				continue
			}
		}
		r.applyGameDataMsg(fromClientID, m)
		applied = append(applied, m)
	}
	if len(applied) == 0 {
		return
	}
	r.relay(fromClientID, applied)
}

// HandleGameDataTo applies and forwards a batch of GameDataMsg from one
// client to a single target member, the point-to-point variant of
// HandleGameData used for things like a private meeting-hud vote reveal
// (spec.md §6's GameDataTo root message). Messages still run through
// anti-cheat review and still mutate the shared object graph; only the
// relay fan-out is narrowed to one recipient.
func (r *Room) HandleGameDataTo(fromClientID, targetClientID uint32, msgs []wire.GameDataMsg) {
	r.mu.RLock()
	ac := r.antiCheat
	r.mu.RUnlock()

	var applied []wire.GameDataMsg
	for _, m := range msgs {
		if r.dispatchChatCommand(fromClientID, m) {
			continue
		}
		if ac != nil {
			if err := ac.Review(r, fromClientID, m); err != nil {
				r.logger.Debug("targeted game data message rejected by anti-cheat",
					zap.Uint32("client_id", fromClientID), zap.Error(err))
				continue
			}
		}
		r.applyGameDataMsg(fromClientID, m)
		applied = append(applied, m)
	}
	if len(applied) == 0 {
		return
	}

	target, ok := r.ConnectionFor(targetClientID)
	if !ok {
		return
	}
	code := r.Code()
	payload := wire.EncodeGameDataTo(code, targetClientID, applied)
	target.SendReliable(byte(wire.RootGameDataTo), payload)
}

// serverChatNetID is the pseudo net id server-authored chat messages
// carry; it never resolves to a real object in the graph, since the
// client only reads RpcSendChat payloads for their text, not their
// target.
const serverChatNetID uint32 = 0

// SendServerChat delivers a server-authored chat line to one member,
// the delivery primitive spec.md §7 calls for when surfacing
// chat-command errors back to the invoking player.
func (r *Room) SendServerChat(toClientID uint32, text string) {
	target, ok := r.ConnectionFor(toClientID)
	if !ok {
		return
	}
	w := codec.NewWriter(len(text) + 4)
	w.WriteString(text)
	msg := wire.RpcMessage{NetID: serverChatNetID, RpcTag: wire.RpcSendChat, Payload: w.Bytes()}
	payload := wire.EncodeGameData(r.Code(), []wire.GameDataMsg{msg})
	target.SendReliable(byte(wire.RootGameData), payload)
}

// dispatchChatCommand inspects m for a chat RPC starting with the
// room's configured slash prefix and, if found, offers it to every
// EventObserver in turn (chatcmd's dispatcher normally being the only
// one that answers). It reports whether some observer claimed the
// message, in which case the caller must not apply or relay it, since
// the dispatcher is expected to have already sent its own reply.
func (r *Room) dispatchChatCommand(fromClientID uint32, m wire.GameDataMsg) bool {
	rpc, ok := m.(wire.RpcMessage)
	if !ok || rpc.RpcTag != wire.RpcSendChat {
		return false
	}
	r.mu.RLock()
	prefix := r.chatPrefix
	observers := append([]EventObserver(nil), r.observers...)
	r.mu.RUnlock()
	if prefix == "" {
		return false
	}
	text, err := codec.NewReader(rpc.Payload).String()
	if err != nil || !strings.HasPrefix(text, prefix) {
		return false
	}
	fields := strings.Fields(strings.TrimPrefix(text, prefix))
	if len(fields) == 0 {
		return false
	}
	cmd, args := fields[0], fields[1:]
	for _, o := range observers {
		if o.OnChatCommand(r, fromClientID, cmd, args) {
			return true
		}
	}
	return false
}

func (r *Room) applyGameDataMsg(fromClientID uint32, m wire.GameDataMsg) {
	switch v := m.(type) {
	case wire.DataMessage:
		if err := r.graph.Deserialize(v); err != nil {
			r.logger.Debug("deserialize failed", zap.Error(err))
		}
	case wire.RpcMessage:
		if _, err := r.graph.Dispatch(v.NetID, v.RpcTag, v.Payload); err != nil {
			r.logger.Debug("rpc dispatch failed", zap.Error(err))
		}
	case wire.SpawnMessage:
		if _, err := r.graph.Spawn(v); err != nil {
			r.logger.Debug("spawn failed", zap.Error(err))
		}
	case wire.DespawnMessage:
		r.graph.Despawn(v.NetID)
	case wire.ReadyMessage:
		r.HandleReady(fromClientID)
	case wire.SceneChangeMessage:
		// Server-authored only; a client sending one back has nothing
		// for the room to act on.
	}
}

// relay re-broadcasts a client's already-applied GameDataMsg batch to
// every other member, the fan-out half of spec.md §4.5 step 3.
func (r *Room) relay(fromClientID uint32, msgs []wire.GameDataMsg) {
	r.mu.RLock()
	targets := r.otherConnectionsByID(fromClientID)
	observers := append([]EventObserver(nil), r.observers...)
	code := r.code
	r.mu.RUnlock()

	r.deliverGameData(targets, code, msgs, observers, true)
}

// BroadcastDirty flushes the object graph's dirty-bit sweep to every
// member, called once per tick (spec.md §4.5 step 2).
func (r *Room) BroadcastDirty() {
	msgs := r.graph.CollectDirty()
	if len(msgs) == 0 {
		return
	}
	r.mu.RLock()
	targets := r.otherConnectionsByID(0)
	observers := append([]EventObserver(nil), r.observers...)
	code := r.code
	r.mu.RUnlock()

	r.deliverGameData(targets, code, msgs, observers, true)
}

// BroadcastUnreliable sends a GameDataTo-free unreliable GameData batch
// to every member except fromClientID, through deliverGameData. The
// movement fast path (movement.go) does not use it; it sends through
// broadcastMovementUnreliable instead.
func (r *Room) BroadcastUnreliable(fromClientID uint32, msgs []wire.GameDataMsg) {
	r.mu.RLock()
	targets := r.otherConnectionsByID(fromClientID)
	observers := append([]EventObserver(nil), r.observers...)
	code := r.code
	r.mu.RUnlock()

	r.deliverGameData(targets, code, msgs, observers, false)
}
