package room

import "github.com/harborlight/roomkeeper/internal/wire"

// NoopObserver is embeddable by packages that only care about one or
// two EventObserver callbacks (e.g. chatcmd only implements
// OnChatCommand), the way the teacher's hooks.go lets a runtime module
// register only the specific event functions it needs.
type NoopObserver struct{}

func (NoopObserver) OnJoin(r *Room, clientID uint32, name string)                   {}
func (NoopObserver) OnLeave(r *Room, clientID uint32, reason wire.DisconnectReason) {}
func (NoopObserver) OnStart(r *Room)                                               {}
func (NoopObserver) OnGameEnded(r *Room, intent EndGameIntent)                     {}
func (NoopObserver) OnEnd(r *Room, intent EndGameIntent)                           {}
func (NoopObserver) OnSelectHost(r *Room, candidateID uint32) bool                 { return false }
func (NoopObserver) OnEndGameIntent(r *Room, intent EndGameIntent) bool            { return false }
func (NoopObserver) OnClientBroadcast(r *Room, recipientID uint32, msgs []wire.GameDataMsg) []wire.GameDataMsg {
	return msgs
}
func (NoopObserver) OnChatCommand(r *Room, clientID uint32, cmd string, args []string) bool {
	return false
}
