package anticheat

import (
	"github.com/harborlight/roomkeeper/internal/room"
	"github.com/harborlight/roomkeeper/internal/wire"
)

// Gatekeeper also satisfies room.EventObserver so a room can register
// it once and get both message review and an end-of-game infraction
// flush (spec.md §4.7's "batched flush ... game-end or room-destroy
// triggers").
var _ room.EventObserver = (*Gatekeeper)(nil)

func (g *Gatekeeper) OnJoin(r *room.Room, clientID uint32, name string) {}

func (g *Gatekeeper) OnLeave(r *room.Room, clientID uint32, reason wire.DisconnectReason) {}

func (g *Gatekeeper) OnStart(r *room.Room) {}

// OnGameEnded flushes any batched infractions as soon as the game
// reaches an outcome, not just when the room is torn down (spec.md
// §4.7's "batched flush ... game-end or room-destroy triggers").
func (g *Gatekeeper) OnGameEnded(r *room.Room, intent room.EndGameIntent) {
	g.ForceFlush()
}

func (g *Gatekeeper) OnEnd(r *room.Room, intent room.EndGameIntent) {
	g.ForceFlush()
}

func (g *Gatekeeper) OnSelectHost(r *room.Room, candidateID uint32) bool { return false }

func (g *Gatekeeper) OnEndGameIntent(r *room.Room, intent room.EndGameIntent) bool { return false }

func (g *Gatekeeper) OnClientBroadcast(r *room.Room, recipientID uint32, msgs []wire.GameDataMsg) []wire.GameDataMsg {
	return msgs
}

func (g *Gatekeeper) OnChatCommand(r *room.Room, clientID uint32, cmd string, args []string) bool {
	return false
}
