package wire

import "fmt"

// RpcTag enumerates the remote-procedure-call names spec.md §4.7
// classifies for anti-cheat purposes, plus a handful of supporting tags
// a complete implementation needs (EnterVent/ExitVent, UpdatePosition,
// SyncSettingsAck, SendChat).
// Unknown tags decode fine (the payload is opaque); only the anti-cheat
// component-class check rejects a tag it cannot place.
type RpcTag byte

const (
	RpcUnknown RpcTag = iota

	// Host-only tags: any client-originated use outside server-as-host
	// acting-host context is Critical (spec.md §4.7 bullet 3).
	RpcClose
	RpcExiled
	RpcMurderPlayer
	RpcSetInfected
	RpcSetTasks
	RpcStartMeeting
	RpcSyncSettings
	RpcVotingComplete
	RpcBootFromVent
	RpcSetStartCounter

	// Voting.
	RpcCastVote

	// Cosmetic.
	RpcCheckColor
	RpcCheckName
	RpcSetHat
	RpcSetPet
	RpcSetSkin

	// Movement / ship interaction.
	RpcSnapTo
	RpcEnterVent
	RpcExitVent
	RpcUpdatePosition

	// Lifecycle.
	RpcSyncSettingsAck

	// Chat. Payload is a single packed-length-prefixed string.
	RpcSendChat
)

var hostOnlyTags = map[RpcTag]bool{
	RpcClose:           true,
	RpcExiled:          true,
	RpcMurderPlayer:    true,
	RpcSetInfected:     true,
	RpcSetTasks:        true,
	RpcStartMeeting:    true,
	RpcSyncSettings:    true,
	RpcVotingComplete:  true,
	RpcBootFromVent:    true,
	RpcSetStartCounter: true,
}

// IsHostOnly reports whether tag may only be issued in a host (or
// server-as-host acting-host) context.
func IsHostOnly(tag RpcTag) bool { return hostOnlyTags[tag] }

var cosmeticTags = map[RpcTag]bool{
	RpcCheckColor: true,
	RpcCheckName:  true,
	RpcSetHat:     true,
	RpcSetPet:     true,
	RpcSetSkin:    true,
}

// IsCosmetic reports whether tag is subject to the cosmetic-inventory /
// display-name ownership check.
func IsCosmetic(tag RpcTag) bool { return cosmeticTags[tag] }

func (t RpcTag) String() string {
	switch t {
	case RpcClose:
		return "Close"
	case RpcExiled:
		return "Exiled"
	case RpcMurderPlayer:
		return "MurderPlayer"
	case RpcSetInfected:
		return "SetInfected"
	case RpcSetTasks:
		return "SetTasks"
	case RpcStartMeeting:
		return "StartMeeting"
	case RpcSyncSettings:
		return "SyncSettings"
	case RpcVotingComplete:
		return "VotingComplete"
	case RpcBootFromVent:
		return "BootFromVent"
	case RpcSetStartCounter:
		return "SetStartCounter"
	case RpcCastVote:
		return "CastVote"
	case RpcCheckColor:
		return "CheckColor"
	case RpcCheckName:
		return "CheckName"
	case RpcSetHat:
		return "SetHat"
	case RpcSetPet:
		return "SetPet"
	case RpcSetSkin:
		return "SetSkin"
	case RpcSnapTo:
		return "SnapTo"
	case RpcEnterVent:
		return "EnterVent"
	case RpcExitVent:
		return "ExitVent"
	case RpcUpdatePosition:
		return "UpdatePosition"
	case RpcSyncSettingsAck:
		return "SyncSettingsAck"
	case RpcSendChat:
		return "SendChat"
	default:
		return fmt.Sprintf("RpcTag(%d)", byte(t))
	}
}
