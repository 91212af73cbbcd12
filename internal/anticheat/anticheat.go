// Package anticheat implements the gatekeeper of spec.md §4.7: every
// inbound GameData message is checked for target existence, ownership,
// and RPC classification before the room is allowed to apply it.
// Rejections are recorded as severity-tiered infractions and flushed in
// batches to an external Metrics collaborator, grounded on
// server/evr_metrics.go's pattern of buffering small events and
// flushing them through the Metrics interface rather than emitting one
// call per event.
package anticheat

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/harborlight/roomkeeper/internal/authapi"
	"github.com/harborlight/roomkeeper/internal/codec"
	"github.com/harborlight/roomkeeper/internal/netobject"
	"github.com/harborlight/roomkeeper/internal/room"
	"github.com/harborlight/roomkeeper/internal/wire"
)

// Role distinguishes a client's standing for the exception table below
// (spec.md §4.7 "per-role exception table").
type Role int

const (
	RolePlayer Role = iota
	RoleHost
	RoleActingHost
	RoleModerator
)

// RoleResolver looks up the calling client's Role for a given room,
// letting the host/acting-host determination stay inside room while
// anticheat stays ignorant of room's internal membership bookkeeping.
type RoleResolver func(r *room.Room, clientID uint32) Role

// DefaultRoleResolver treats the room's current host (or acting host)
// as RoleHost/RoleActingHost and everyone else as RolePlayer.
func DefaultRoleResolver(r *room.Room, clientID uint32) Role {
	if clientID != r.HostID() {
		return RolePlayer
	}
	if r.Policy() == room.ServerAsHost {
		return RoleActingHost
	}
	return RoleHost
}

// exception maps a (Role, RpcTag) pair to whether that role is allowed
// to issue that tag despite the default classification, the "per-role
// exception table" spec.md §4.7 calls for. ServerAsHost's acting host
// is granted the same exceptions as a classic host because it is the
// client surface that presents the host UI, even though it never holds
// real authority.
type exception struct {
	role Role
	tag  wire.RpcTag
}

var defaultExceptions = map[exception]bool{
	{RoleActingHost, wire.RpcCastVote}: true,
}

// Gatekeeper is the room.AntiCheat implementation wired into each room.
type Gatekeeper struct {
	logger  *zap.Logger
	resolve RoleResolver
	batch   *batcher
	excepts map[exception]bool
	auth    authapi.AuthAPI
}

// New builds a Gatekeeper. sink may be nil to discard infractions
// (only appropriate for tests).
func New(logger *zap.Logger, sink InfractionSink) *Gatekeeper {
	g := &Gatekeeper{
		logger:  logger,
		resolve: DefaultRoleResolver,
		excepts: defaultExceptions,
	}
	g.batch = newBatcher(logger, sink)
	return g
}

// SetRoleResolver overrides how a calling client's Role is determined.
func (g *Gatekeeper) SetRoleResolver(fn RoleResolver) { g.resolve = fn }

// SetAuthAPI wires the cosmetic-ownership/display-name authority spec.md
// §4.7's cosmetic rule needs. A nil AuthAPI (the default) skips the
// authenticated-identity check entirely, leaving the ownership-of-the-
// target-object check as the only cosmetic guard.
func (g *Gatekeeper) SetAuthAPI(a authapi.AuthAPI) { g.auth = a }

var _ room.AntiCheat = (*Gatekeeper)(nil)

// Review implements room.AntiCheat.
func (g *Gatekeeper) Review(r *room.Room, clientID uint32, msg wire.GameDataMsg) error {
	switch v := msg.(type) {
	case wire.RpcMessage:
		return g.reviewRpc(r, clientID, v)
	case wire.DataMessage:
		return g.reviewData(r, clientID, v)
	case wire.DespawnMessage:
		return g.reviewDespawn(r, clientID, v)
	case wire.SpawnMessage:
		return g.reviewSpawn(r, clientID, v)
	default:
		return nil
	}
}

func (g *Gatekeeper) role(r *room.Room, clientID uint32) Role {
	return g.resolve(r, clientID)
}

func (g *Gatekeeper) allowedException(role Role, tag wire.RpcTag) bool {
	return g.excepts[exception{role, tag}]
}

// reviewRpc applies existence, host-only, cosmetic-ownership and
// component-class checks to one RpcMessage (spec.md §4.7 bullets 1-4).
func (g *Gatekeeper) reviewRpc(r *room.Room, clientID uint32, v wire.RpcMessage) error {
	obj, ok := r.Graph().Get(v.NetID)
	if !ok {
		g.record(r, clientID, SeverityMedium, fmt.Sprintf("rpc %s against nonexistent net id %d", v.RpcTag, v.NetID))
		return ErrUnknownTarget
	}

	role := g.role(r, clientID)
	isHost := role == RoleHost || role == RoleActingHost

	if obj.OwnerID != -1 && obj.OwnerID != int32(clientID) && !isHost {
		g.record(r, clientID, SeverityCritical, fmt.Sprintf("rpc %s issued against object %d not owned by sender", v.RpcTag, v.NetID))
		return ErrNotOwner
	}

	if wire.IsHostOnly(v.RpcTag) {
		if !isHost && !g.allowedException(role, v.RpcTag) {
			g.record(r, clientID, SeverityCritical, fmt.Sprintf("non-host issued host-only rpc %s", v.RpcTag))
			return ErrHostOnly
		}
	}

	if wire.IsCosmetic(v.RpcTag) {
		if err := g.reviewCosmeticIdentity(r, clientID, v); err != nil {
			return err
		}
	}

	if v.RpcTag == wire.RpcCastVote {
		if err := g.reviewCastVote(r, clientID, obj, v); err != nil {
			return err
		}
	}

	if v.RpcTag == wire.RpcSnapTo && r.Settings().MapID != netobject.AirshipMapID {
		g.record(r, clientID, SeverityHigh, fmt.Sprintf("SnapTo issued on map %d, not the Airship", r.Settings().MapID))
		return ErrWrongMap
	}

	if v.RpcTag == wire.RpcSetStartCounter && r.Policy() == room.ServerAsHost && role != RoleActingHost {
		g.record(r, clientID, SeverityCritical, "SetStartCounter issued by a non-acting-host under server-as-host")
		return ErrNotActingHost
	}

	if v.RpcTag == wire.RpcEnterVent && !isImpostorOwner(obj, clientID) {
		g.record(r, clientID, SeverityHigh, "ForbiddenRpcVent")
		return ErrForbiddenVent
	}

	if !rpcMatchesComponentClass(obj, v.RpcTag) {
		g.record(r, clientID, SeverityCritical, fmt.Sprintf("rpc %s sent to object %d with no matching component", v.RpcTag, v.NetID))
		return ErrComponentClassMismatch
	}

	return nil
}

// reviewCastVote enforces spec.md §4.7's CastVote validity rules: the
// voter field must name the sender's own player, a player may not vote
// twice in the same meeting, and the suspect must be a living player or
// the 255 "skip" sentinel.
func (g *Gatekeeper) reviewCastVote(r *room.Room, clientID uint32, obj *netobject.Object, v wire.RpcMessage) error {
	if len(v.Payload) < 2 {
		g.record(r, clientID, SeverityHigh, "malformed CastVote payload")
		return ErrInvalidVote
	}
	voterID, suspectID := v.Payload[0], v.Payload[1]

	playerID, ok := r.PlayerIDFor(clientID)
	if !ok || voterID != playerID {
		g.record(r, clientID, SeverityHigh, "CastVote voter does not match sender's own player")
		return ErrInvalidVote
	}

	for _, c := range obj.Components() {
		if mh, ok := c.(*netobject.MeetingHud); ok {
			if _, already := mh.Votes[voterID]; already {
				g.record(r, clientID, SeverityHigh, "duplicate CastVote in the same meeting")
				return ErrInvalidVote
			}
			break
		}
	}

	if suspectID != 255 && !r.IsPlayerAlive(suspectID) {
		g.record(r, clientID, SeverityHigh, "CastVote names a dead or unknown suspect")
		return ErrInvalidVote
	}
	return nil
}

// reviewCosmeticIdentity checks a cosmetic RPC's payload against the
// caller's authenticated identity (spec.md §4.7: "name must match
// authenticated display name", cosmetic ids must be in the caller's
// owned_cosmetics). A nil AuthAPI (no auth service configured) skips
// this entirely.
func (g *Gatekeeper) reviewCosmeticIdentity(r *room.Room, clientID uint32, v wire.RpcMessage) error {
	if g.auth == nil {
		return nil
	}
	conn, ok := r.ConnectionFor(clientID)
	if !ok {
		return nil
	}
	user, err := g.auth.GetConnectionUser(context.Background(), conn.ConnectionID())
	if err != nil || user == nil {
		return nil
	}

	switch v.RpcTag {
	case wire.RpcCheckName:
		name, err := codec.NewReader(v.Payload).String()
		if err != nil {
			return nil
		}
		if name != user.DisplayName {
			g.record(r, clientID, SeverityCritical, fmt.Sprintf("CheckName %q does not match authenticated display name", name))
			return ErrCosmeticMismatch
		}
	case wire.RpcSetHat, wire.RpcSetPet, wire.RpcSetSkin:
		id, err := codec.NewReader(v.Payload).PackedUint32()
		if err != nil {
			return nil
		}
		if !user.OwnsCosmetic(id) {
			g.record(r, clientID, SeverityCritical, fmt.Sprintf("%s uses unowned cosmetic %d", v.RpcTag, id))
			return ErrCosmeticMismatch
		}
	}
	return nil
}

// isImpostorOwner reports whether clientID owns obj and that owner's
// PlayerControl is marked as an impostor, the gate spec.md §4.7 puts on
// EnterVent (its own worked example of a "forbidden rpc").
func isImpostorOwner(obj *netobject.Object, clientID uint32) bool {
	if obj.OwnerID != int32(clientID) {
		return false
	}
	for _, c := range obj.Components() {
		if pc, ok := c.(*netobject.PlayerControl); ok {
			return pc.IsImpostor
		}
	}
	return false
}

// reviewData checks that a DataMsg targets a real, owned object (the
// object's owner is normally the only client allowed to push state for
// it; the host is always exempt since it may correct any object).
func (g *Gatekeeper) reviewData(r *room.Room, clientID uint32, v wire.DataMessage) error {
	obj, ok := r.Graph().Get(v.NetID)
	if !ok {
		g.record(r, clientID, SeverityMedium, fmt.Sprintf("data update against nonexistent net id %d", v.NetID))
		return ErrUnknownTarget
	}
	role := g.role(r, clientID)
	if role == RoleHost || role == RoleActingHost {
		return nil
	}
	if obj.OwnerID != int32(clientID) {
		g.record(r, clientID, SeverityHigh, fmt.Sprintf("data update against unowned object %d", v.NetID))
		return ErrNotOwner
	}
	return nil
}

// reviewDespawn only a host may despawn (spec.md §4.7 bullet 1 extends
// naturally to object lifecycle, not just RPCs).
func (g *Gatekeeper) reviewDespawn(r *room.Room, clientID uint32, v wire.DespawnMessage) error {
	role := g.role(r, clientID)
	if role != RoleHost && role != RoleActingHost {
		g.record(r, clientID, SeverityCritical, fmt.Sprintf("non-host despawned object %d", v.NetID))
		return ErrHostOnly
	}
	return nil
}

// reviewSpawn only a host may spawn new objects.
func (g *Gatekeeper) reviewSpawn(r *room.Room, clientID uint32, v wire.SpawnMessage) error {
	role := g.role(r, clientID)
	if role != RoleHost && role != RoleActingHost {
		g.record(r, clientID, SeverityCritical, fmt.Sprintf("non-host spawned type %d", v.SpawnType))
		return ErrHostOnly
	}
	return nil
}

// rpcMatchesComponentClass reports whether obj carries a component that
// plausibly owns tag, a coarse defense against RPCs aimed at an object
// of the wrong type (spec.md §4.7 "component-class match").
func rpcMatchesComponentClass(obj *netobject.Object, tag wire.RpcTag) bool {
	for _, c := range obj.Components() {
		switch c.(type) {
		case *netobject.PlayerControl:
			switch tag {
			case wire.RpcCheckColor, wire.RpcCheckName, wire.RpcSetHat, wire.RpcSetPet, wire.RpcSetSkin,
				wire.RpcSetInfected, wire.RpcMurderPlayer, wire.RpcExiled, wire.RpcClose:
				return true
			}
		case *netobject.CustomNetworkTransform:
			if tag == wire.RpcUpdatePosition || tag == wire.RpcSnapTo {
				return true
			}
		case *netobject.PlayerPhysics:
			switch tag {
			case wire.RpcEnterVent, wire.RpcExitVent, wire.RpcBootFromVent:
				return true
			}
		case *netobject.MeetingHud:
			switch tag {
			case wire.RpcCastVote, wire.RpcVotingComplete, wire.RpcStartMeeting:
				return true
			}
		case *netobject.Unknown:
			// Never matches; an unrecognized spawn type carries no
			// known component surface to validate against.
		}
	}
	return false
}
