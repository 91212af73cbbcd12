// Package wire defines the on-the-wire message vocabulary above the raw
// codec primitives: packet kinds, disconnect reasons, root messages,
// game-data sub-messages and RPC tags. Every type here either encodes
// itself with internal/codec or is encoded/decoded by a function in this
// package, the way evr/core_packet.go's Message interface and SymbolTypes
// registry give every wire type a Stream method plus a tag.
package wire

import "fmt"

// PacketKind is the first byte of every datagram (spec.md §6).
type PacketKind byte

const (
	PacketUnreliable  PacketKind = 0
	PacketReliable    PacketKind = 1
	PacketHello       PacketKind = 8
	PacketDisconnect  PacketKind = 9
	PacketAck         PacketKind = 10
	PacketPing        PacketKind = 12
	// PacketPong is an extension beyond the literal table in spec.md §6:
	// §4.2's prose requires a Pong control packet but the table omits it.
	// Decided in DESIGN.md's Open Questions: Pong gets the next free kind.
	PacketPong PacketKind = 13
)

func (k PacketKind) String() string {
	switch k {
	case PacketUnreliable:
		return "Unreliable"
	case PacketReliable:
		return "Reliable"
	case PacketHello:
		return "Hello"
	case PacketDisconnect:
		return "Disconnect"
	case PacketAck:
		return "Ack"
	case PacketPing:
		return "Ping"
	case PacketPong:
		return "Pong"
	default:
		return fmt.Sprintf("PacketKind(%d)", byte(k))
	}
}

// DisconnectReason values are bit-exact for client compatibility
// (spec.md §6) and must never be renumbered.
type DisconnectReason byte

const (
	DisconnectExitGame         DisconnectReason = 0
	DisconnectGameFull         DisconnectReason = 1
	DisconnectGameStarted      DisconnectReason = 2
	DisconnectGameNotFound     DisconnectReason = 3
	DisconnectIncorrectVersion DisconnectReason = 5
	DisconnectBanned           DisconnectReason = 6
	DisconnectKicked           DisconnectReason = 7
	DisconnectCustom           DisconnectReason = 8
	DisconnectDestroy          DisconnectReason = 16
	DisconnectError            DisconnectReason = 17
	DisconnectServerRequest    DisconnectReason = 19
	// DisconnectTimeout is not in spec.md's literal enum table but is
	// required by §4.2 ("the peer is declared dead with reason Timeout")
	// and §7 (Timeout error kind -> leave flow). It is assigned the next
	// free value above the documented range; see DESIGN.md.
	DisconnectTimeout DisconnectReason = 20
)

func (r DisconnectReason) String() string {
	switch r {
	case DisconnectExitGame:
		return "ExitGame"
	case DisconnectGameFull:
		return "GameFull"
	case DisconnectGameStarted:
		return "GameStarted"
	case DisconnectGameNotFound:
		return "GameNotFound"
	case DisconnectIncorrectVersion:
		return "IncorrectVersion"
	case DisconnectBanned:
		return "Banned"
	case DisconnectKicked:
		return "Kicked"
	case DisconnectCustom:
		return "Custom"
	case DisconnectDestroy:
		return "Destroy"
	case DisconnectError:
		return "Error"
	case DisconnectServerRequest:
		return "ServerRequest"
	case DisconnectTimeout:
		return "Timeout"
	default:
		return fmt.Sprintf("DisconnectReason(%d)", byte(r))
	}
}
