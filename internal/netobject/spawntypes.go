package netobject

// The canonical prefab ids a room registers by default (spec.md §4.4's
// example: Player -> [PlayerControl, PlayerPhysics, CustomNetworkTransform]).
// Numbering is an internal choice; spec.md never enumerates one.
const (
	SpawnPlayer SpawnType = iota
	SpawnShipStatusSkeld
	SpawnShipStatusMiraHQ
	SpawnShipStatusPolus
	SpawnShipStatusAirship
	SpawnMeetingHud
	SpawnLobbyBehaviour
	SpawnGameData
	SpawnVoteBanSystem
)

// AirshipMapID is the GameSettings.MapID value for the Airship map, the
// only map SnapTo is valid on (spec.md §4.7).
const AirshipMapID byte = 3

// ShipStatusSpawnTypeForMap returns the SpawnType of the ShipStatus
// variant matching mapID, used at game start to spawn the right map
// (spec.md §4.5's "spawn the map-appropriate ShipStatus variant").
func ShipStatusSpawnTypeForMap(mapID byte) SpawnType {
	switch mapID {
	case 1:
		return SpawnShipStatusMiraHQ
	case 2:
		return SpawnShipStatusPolus
	case AirshipMapID:
		return SpawnShipStatusAirship
	default:
		return SpawnShipStatusSkeld
	}
}

// PlayerPrefab builds the component list spec.md §4.4 gives as its
// worked example.
func PlayerPrefab() Prefab {
	return Prefab{
		Name: SpawnPlayer,
		NewObject: func() []Component {
			return []Component{&PlayerControl{}, &PlayerPhysics{}, &CustomNetworkTransform{}}
		},
	}
}

// ShipStatusPrefab builds a single-component ShipStatus object for one
// of the four map-specific spawn types.
func ShipStatusPrefab(spawnType SpawnType, mapID byte) Prefab {
	return Prefab{
		Name: spawnType,
		NewObject: func() []Component {
			return []Component{&ShipStatus{MapID: mapID}}
		},
	}
}

// MeetingHudPrefab, LobbyBehaviourPrefab, GameDataPrefab and
// VoteBanSystemPrefab each build a single-component singleton object.
func MeetingHudPrefab() Prefab {
	return Prefab{Name: SpawnMeetingHud, NewObject: func() []Component { return []Component{&MeetingHud{}} }}
}

func LobbyBehaviourPrefab() Prefab {
	return Prefab{Name: SpawnLobbyBehaviour, NewObject: func() []Component { return []Component{&LobbyBehaviour{}} }}
}

func GameDataPrefab() Prefab {
	return Prefab{Name: SpawnGameData, NewObject: func() []Component { return []Component{&GameData{}} }}
}

func VoteBanSystemPrefab() Prefab {
	return Prefab{Name: SpawnVoteBanSystem, NewObject: func() []Component { return []Component{&VoteBanSystem{}} }}
}

// RegisterDefaultPrefabs installs every standard prefab spec.md §4.4/§4.5
// names into g: Player, the four map ShipStatus variants, and every
// singleton. A room that wants to override one (a custom Player
// component list, say) can call g.RegisterPrefab again afterward, since
// RegisterPrefab simply overwrites the map entry for that SpawnType.
func RegisterDefaultPrefabs(g *Graph) {
	g.RegisterPrefab(PlayerPrefab())
	g.RegisterPrefab(ShipStatusPrefab(SpawnShipStatusSkeld, 0))
	g.RegisterPrefab(ShipStatusPrefab(SpawnShipStatusMiraHQ, 1))
	g.RegisterPrefab(ShipStatusPrefab(SpawnShipStatusPolus, 2))
	g.RegisterPrefab(ShipStatusPrefab(SpawnShipStatusAirship, 3))
	g.RegisterPrefab(MeetingHudPrefab())
	g.RegisterPrefab(LobbyBehaviourPrefab())
	g.RegisterPrefab(GameDataPrefab())
	g.RegisterPrefab(VoteBanSystemPrefab())
}
