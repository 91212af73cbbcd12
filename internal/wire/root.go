package wire

import (
	"github.com/harborlight/roomkeeper/internal/codec"
)

// RootTag identifies a nested root message (the RootMsg grammar of
// spec.md §6): the things a Connection hands to either the Worker's
// global decoder (join/host/alter-game) or a Room's per-room decoder
// (GameData/GameDataTo). Numbering is an internal choice — spec.md never
// enumerates it — recorded as an Open Question resolution in DESIGN.md.
type RootTag byte

const (
	RootHostGame RootTag = iota
	RootJoinGame
	RootStartGame
	RootRemovePlayer
	RootGameData
	RootGameDataTo
	RootJoinedGame
	RootEndGame
	RootGetGameList
	RootAlterGame
	RootKickPlayer
	RootWaitForHost
	RootRedirect
	RootReselectServer
)

// ServerHostID is the sentinel client id a connection sees as its host
// under ServerAsHost whenever it is not itself an acting host (spec.md
// §4.5 invariant I2: "the host that c sees equals Server iff SaaH and c
// is not an acting host"). No real client is ever assigned this id.
const ServerHostID uint32 = 0

// AlterGameTag distinguishes the sub-reason carried by an AlterGame root
// message (currently only a privacy flip is modeled).
type AlterGameTag byte

const (
	AlterGamePrivacyPublic  AlterGameTag = 0
	AlterGamePrivacyPrivate AlterGameTag = 1
)

// HostGame is sent by a client proposing settings for a new room, and by
// the server in reply with the allocated room code.
type HostGame struct {
	Code     int32
	Settings GameSettings
}

func (HostGame) WireTag() byte { return byte(RootHostGame) }

// EncodeHostGame encodes a HostGame message.
func EncodeHostGame(m HostGame) []byte {
	w := codec.NewWriter(64)
	w.Int32LE(m.Code)
	EncodeSettingsInto(w, m.Settings)
	return w.Bytes()
}

// DecodeHostGame decodes a HostGame message.
func DecodeHostGame(payload []byte) (HostGame, error) {
	r := codec.NewReader(payload)
	code, err := r.Int32LE()
	if err != nil {
		return HostGame{}, err
	}
	settings, err := DecodeSettingsFrom(r)
	if err != nil {
		return HostGame{}, err
	}
	return HostGame{Code: code, Settings: settings}, nil
}

// JoinGame is broadcast to existing peers when a new player joins, and
// is reused (with Temp=true) as half of the paired JoinGame(Temp) +
// RemovePlayer(Temp) host-view-update idiom of spec.md §4.5.
type JoinGame struct {
	Code     int32
	ClientID uint32
	Name     string
	Temp     bool
}

func (JoinGame) WireTag() byte { return byte(RootJoinGame) }

// EncodeJoinGame encodes a JoinGame message.
func EncodeJoinGame(m JoinGame) []byte {
	w := codec.NewWriter(32)
	w.Int32LE(m.Code)
	w.PackedUint32(m.ClientID)
	w.WriteString(m.Name)
	w.Bool(m.Temp)
	return w.Bytes()
}

// DecodeJoinGame decodes a JoinGame message.
func DecodeJoinGame(payload []byte) (JoinGame, error) {
	r := codec.NewReader(payload)
	code, err := r.Int32LE()
	if err != nil {
		return JoinGame{}, err
	}
	clientID, err := r.PackedUint32()
	if err != nil {
		return JoinGame{}, err
	}
	name, err := r.String()
	if err != nil {
		return JoinGame{}, err
	}
	temp, err := r.Bool()
	if err != nil {
		return JoinGame{}, err
	}
	return JoinGame{Code: code, ClientID: clientID, Name: name, Temp: temp}, nil
}

// JoinedGame is the reply sent to the joiner, listing current peers and
// the host they should see.
type JoinedGame struct {
	Code     int32
	ClientID uint32
	HostID   uint32
	Peers    []uint32
}

func (JoinedGame) WireTag() byte { return byte(RootJoinedGame) }

// EncodeJoinedGame encodes a JoinedGame message.
func EncodeJoinedGame(m JoinedGame) []byte {
	w := codec.NewWriter(32 + 4*len(m.Peers))
	w.Int32LE(m.Code)
	w.PackedUint32(m.ClientID)
	w.PackedUint32(m.HostID)
	w.PackedUint32(uint32(len(m.Peers)))
	for _, p := range m.Peers {
		w.PackedUint32(p)
	}
	return w.Bytes()
}

// DecodeJoinedGame decodes a JoinedGame message.
func DecodeJoinedGame(payload []byte) (JoinedGame, error) {
	r := codec.NewReader(payload)
	code, err := r.Int32LE()
	if err != nil {
		return JoinedGame{}, err
	}
	clientID, err := r.PackedUint32()
	if err != nil {
		return JoinedGame{}, err
	}
	hostID, err := r.PackedUint32()
	if err != nil {
		return JoinedGame{}, err
	}
	n, err := r.PackedUint32()
	if err != nil {
		return JoinedGame{}, err
	}
	peers := make([]uint32, 0, n)
	for i := uint32(0); i < n; i++ {
		p, err := r.PackedUint32()
		if err != nil {
			return JoinedGame{}, err
		}
		peers = append(peers, p)
	}
	return JoinedGame{Code: code, ClientID: clientID, HostID: hostID, Peers: peers}, nil
}

// RemovePlayer is broadcast on leave and reused (Temp=true) as the
// second half of the host-view-update idiom.
type RemovePlayer struct {
	Code     int32
	ClientID uint32
	HostID   uint32
	Reason   DisconnectReason
	Temp     bool
}

func (RemovePlayer) WireTag() byte { return byte(RootRemovePlayer) }

// EncodeRemovePlayer encodes a RemovePlayer message.
func EncodeRemovePlayer(m RemovePlayer) []byte {
	w := codec.NewWriter(16)
	w.Int32LE(m.Code)
	w.PackedUint32(m.ClientID)
	w.PackedUint32(m.HostID)
	w.Byte(byte(m.Reason))
	w.Bool(m.Temp)
	return w.Bytes()
}

// DecodeRemovePlayer decodes a RemovePlayer message.
func DecodeRemovePlayer(payload []byte) (RemovePlayer, error) {
	r := codec.NewReader(payload)
	code, err := r.Int32LE()
	if err != nil {
		return RemovePlayer{}, err
	}
	clientID, err := r.PackedUint32()
	if err != nil {
		return RemovePlayer{}, err
	}
	hostID, err := r.PackedUint32()
	if err != nil {
		return RemovePlayer{}, err
	}
	reason, err := r.Byte()
	if err != nil {
		return RemovePlayer{}, err
	}
	temp, err := r.Bool()
	if err != nil {
		return RemovePlayer{}, err
	}
	return RemovePlayer{Code: code, ClientID: clientID, HostID: hostID, Reason: DisconnectReason(reason), Temp: temp}, nil
}

// StartGame carries no payload beyond the room code; it signals the
// host-declared start.
type StartGame struct {
	Code int32
}

func (StartGame) WireTag() byte { return byte(RootStartGame) }

func EncodeStartGame(m StartGame) []byte {
	w := codec.NewWriter(4)
	w.Int32LE(m.Code)
	return w.Bytes()
}

func DecodeStartGame(payload []byte) (StartGame, error) {
	r := codec.NewReader(payload)
	code, err := r.Int32LE()
	return StartGame{Code: code}, err
}

// AlterGame flips the room's advertised privacy.
type AlterGame struct {
	Code    int32
	Privacy AlterGameTag
}

func (AlterGame) WireTag() byte { return byte(RootAlterGame) }

func EncodeAlterGame(m AlterGame) []byte {
	w := codec.NewWriter(8)
	w.Int32LE(m.Code)
	w.Byte(byte(m.Privacy))
	return w.Bytes()
}

func DecodeAlterGame(payload []byte) (AlterGame, error) {
	r := codec.NewReader(payload)
	code, err := r.Int32LE()
	if err != nil {
		return AlterGame{}, err
	}
	priv, err := r.Byte()
	if err != nil {
		return AlterGame{}, err
	}
	return AlterGame{Code: code, Privacy: AlterGameTag(priv)}, nil
}

// WaitForHost tells a joiner that the room has ended and they must wait
// for the returning host (spec.md §4.5 "Join protocol" step 5).
type WaitForHost struct {
	Code     int32
	ClientID uint32
}

func (WaitForHost) WireTag() byte { return byte(RootWaitForHost) }

func EncodeWaitForHost(m WaitForHost) []byte {
	w := codec.NewWriter(8)
	w.Int32LE(m.Code)
	w.PackedUint32(m.ClientID)
	return w.Bytes()
}

func DecodeWaitForHost(payload []byte) (WaitForHost, error) {
	r := codec.NewReader(payload)
	code, err := r.Int32LE()
	if err != nil {
		return WaitForHost{}, err
	}
	clientID, err := r.PackedUint32()
	if err != nil {
		return WaitForHost{}, err
	}
	return WaitForHost{Code: code, ClientID: clientID}, nil
}

// KickPlayerRequest is sent by the host to remove another player,
// optionally banning their remote address from rejoining.
type KickPlayerRequest struct {
	TargetClientID uint32
	Ban            bool
}

func (KickPlayerRequest) WireTag() byte { return byte(RootKickPlayer) }

func EncodeKickPlayerRequest(m KickPlayerRequest) []byte {
	w := codec.NewWriter(8)
	w.PackedUint32(m.TargetClientID)
	w.Bool(m.Ban)
	return w.Bytes()
}

func DecodeKickPlayerRequest(payload []byte) (KickPlayerRequest, error) {
	r := codec.NewReader(payload)
	target, err := r.PackedUint32()
	if err != nil {
		return KickPlayerRequest{}, err
	}
	ban, err := r.Bool()
	if err != nil {
		return KickPlayerRequest{}, err
	}
	return KickPlayerRequest{TargetClientID: target, Ban: ban}, nil
}

// EndGame is broadcast to every remaining connection when a room's game
// ends, carrying the reason (spec.md §4.5's endGameIntents drain).
type EndGame struct {
	Code   int32
	Reason byte
}

func (EndGame) WireTag() byte { return byte(RootEndGame) }

func EncodeEndGame(m EndGame) []byte {
	w := codec.NewWriter(8)
	w.Int32LE(m.Code)
	w.Byte(m.Reason)
	return w.Bytes()
}

func DecodeEndGame(payload []byte) (EndGame, error) {
	r := codec.NewReader(payload)
	code, err := r.Int32LE()
	if err != nil {
		return EndGame{}, err
	}
	reason, err := r.Byte()
	if err != nil {
		return EndGame{}, err
	}
	return EndGame{Code: code, Reason: reason}, nil
}

// GameDataEnvelope wraps a list of GameDataMsg frames addressed to an
// entire room (code i32le . GameDataMsg+, spec.md §6).
type GameDataEnvelope struct {
	Code     int32
	Messages []GameDataMsg
}

func (GameDataEnvelope) WireTag() byte { return byte(RootGameData) }

// EncodeGameData encodes a GameData root message.
func EncodeGameData(code int32, msgs []GameDataMsg) []byte {
	w := codec.NewWriter(64)
	w.Int32LE(code)
	for _, m := range msgs {
		WriteGameDataMsg(w, m)
	}
	return w.Bytes()
}

// DecodeGameData decodes a GameData root message.
func DecodeGameData(payload []byte) (int32, []GameDataMsg, error) {
	r := codec.NewReader(payload)
	code, err := r.Int32LE()
	if err != nil {
		return 0, nil, err
	}
	msgs, err := ReadGameDataMsgs(r)
	return code, msgs, err
}

// GameDataToEnvelope wraps a list of GameDataMsg frames addressed to a
// single target client within a room (spec.md §6's GameDataTo).
type GameDataToEnvelope struct {
	Code           int32
	TargetClientID uint32
	Messages       []GameDataMsg
}

func (GameDataToEnvelope) WireTag() byte { return byte(RootGameDataTo) }

// EncodeGameDataTo encodes a GameDataTo root message, addressed to a
// single target client (code i32le . packedU32 targetClientId .
// GameDataMsg+).
func EncodeGameDataTo(code int32, targetClientID uint32, msgs []GameDataMsg) []byte {
	w := codec.NewWriter(64)
	w.Int32LE(code)
	w.PackedUint32(targetClientID)
	for _, m := range msgs {
		WriteGameDataMsg(w, m)
	}
	return w.Bytes()
}

// DecodeGameDataTo decodes a GameDataTo root message.
func DecodeGameDataTo(payload []byte) (code int32, target uint32, msgs []GameDataMsg, err error) {
	r := codec.NewReader(payload)
	if code, err = r.Int32LE(); err != nil {
		return
	}
	if target, err = r.PackedUint32(); err != nil {
		return
	}
	msgs, err = ReadGameDataMsgs(r)
	return
}
