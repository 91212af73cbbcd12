package wire

import (
	"fmt"

	"github.com/harborlight/roomkeeper/internal/codec"
)

// GameDataTag identifies one entry in a GameData/GameDataTo envelope's
// message list.
type GameDataTag byte

const (
	GameDataData GameDataTag = iota // component state update
	GameDataRpc                     // RpcMsg (netId . rpcTag . payload)
	GameDataSpawn
	GameDataDespawn
	GameDataSceneChange
	GameDataReady
)

// GameDataMsg is one typed entry inside a GameData envelope.
type GameDataMsg interface {
	GameDataTag() GameDataTag
}

// DataMessage carries a fresh serialization of one networked component,
// queued by the object graph's dirty-bit sweep (spec.md §4.5 fixed-tick
// loop step 2).
type DataMessage struct {
	NetID   uint32
	Payload []byte
}

func (DataMessage) GameDataTag() GameDataTag { return GameDataData }

// RpcMessage is the wire's RpcMsg: packedU32 netId . tag u8 . payload.
type RpcMessage struct {
	NetID   uint32
	RpcTag  RpcTag
	Payload []byte
}

func (RpcMessage) GameDataTag() GameDataTag { return GameDataRpc }

// SpawnMessage is the wire's SpawnMsg: packedU32 spawnType . packedI32
// ownerId . flags u8 . packedU32 compCount . Component+, where each
// Component is itself a packed-length-prefixed byte blob (its own
// internal layout is owned by the component subtype).
type SpawnMessage struct {
	NetID      uint32
	SpawnType  uint32
	OwnerID    int32
	Flags      byte
	Components [][]byte
}

func (SpawnMessage) GameDataTag() GameDataTag { return GameDataSpawn }

// DespawnMessage removes one networked component.
type DespawnMessage struct {
	NetID uint32
}

func (DespawnMessage) GameDataTag() GameDataTag { return GameDataDespawn }

// SceneChangeMessage tells a client (usually an acting host) to load a
// named scene, used by the acting-host handshake (spec.md §4.5).
type SceneChangeMessage struct {
	Scene string
}

func (SceneChangeMessage) GameDataTag() GameDataTag { return GameDataSceneChange }

// ReadyMessage marks a player ready during the start-readiness wait.
type ReadyMessage struct{}

func (ReadyMessage) GameDataTag() GameDataTag { return GameDataReady }

// WriteGameDataMsg encodes one GameDataMsg into w, framed as
// [len:u16][tag:u8][payload] per the nested-message convention.
func WriteGameDataMsg(w *codec.Writer, m GameDataMsg) {
	inner := codec.NewWriter(32)
	switch v := m.(type) {
	case DataMessage:
		inner.PackedUint32(v.NetID)
		inner.FixedBytes(v.Payload)
	case RpcMessage:
		inner.PackedUint32(v.NetID)
		inner.Byte(byte(v.RpcTag))
		inner.FixedBytes(v.Payload)
	case SpawnMessage:
		inner.PackedUint32(v.NetID)
		inner.PackedUint32(v.SpawnType)
		inner.PackedInt32(v.OwnerID)
		inner.Byte(v.Flags)
		inner.PackedUint32(uint32(len(v.Components)))
		for _, c := range v.Components {
			inner.WriteBytes(c)
		}
	case DespawnMessage:
		inner.PackedUint32(v.NetID)
	case SceneChangeMessage:
		inner.WriteString(v.Scene)
	case ReadyMessage:
		// no payload
	default:
		panic(fmt.Sprintf("wire: unknown GameDataMsg type %T", m))
	}
	codec.WriteFrame(w, byte(m.GameDataTag()), inner.Bytes())
}

// ReadGameDataMsgs decodes every GameDataMsg frame remaining in r.
func ReadGameDataMsgs(r *codec.Reader) ([]GameDataMsg, error) {
	var out []GameDataMsg
	for r.Len() > 0 {
		f, err := codec.ReadFrame(r)
		if err != nil {
			return out, err
		}
		msg, err := decodeGameDataMsg(GameDataTag(f.Tag), f.Payload)
		if err != nil {
			return out, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func decodeGameDataMsg(tag GameDataTag, payload []byte) (GameDataMsg, error) {
	r := codec.NewReader(payload)
	switch tag {
	case GameDataData:
		netID, err := r.PackedUint32()
		if err != nil {
			return nil, err
		}
		return DataMessage{NetID: netID, Payload: append([]byte(nil), r.Remaining()...)}, nil
	case GameDataRpc:
		netID, err := r.PackedUint32()
		if err != nil {
			return nil, err
		}
		rpcTag, err := r.Byte()
		if err != nil {
			return nil, err
		}
		return RpcMessage{NetID: netID, RpcTag: RpcTag(rpcTag), Payload: append([]byte(nil), r.Remaining()...)}, nil
	case GameDataSpawn:
		netID, err := r.PackedUint32()
		if err != nil {
			return nil, err
		}
		spawnType, err := r.PackedUint32()
		if err != nil {
			return nil, err
		}
		ownerID, err := r.PackedInt32()
		if err != nil {
			return nil, err
		}
		flags, err := r.Byte()
		if err != nil {
			return nil, err
		}
		n, err := r.PackedUint32()
		if err != nil {
			return nil, err
		}
		comps := make([][]byte, 0, n)
		for i := uint32(0); i < n; i++ {
			c, err := r.Bytes()
			if err != nil {
				return nil, err
			}
			comps = append(comps, c)
		}
		return SpawnMessage{NetID: netID, SpawnType: spawnType, OwnerID: ownerID, Flags: flags, Components: comps}, nil
	case GameDataDespawn:
		netID, err := r.PackedUint32()
		if err != nil {
			return nil, err
		}
		return DespawnMessage{NetID: netID}, nil
	case GameDataSceneChange:
		scene, err := r.String()
		if err != nil {
			return nil, err
		}
		return SceneChangeMessage{Scene: scene}, nil
	case GameDataReady:
		return ReadyMessage{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown game-data tag %d", codec.ErrMalformed, tag)
	}
}
