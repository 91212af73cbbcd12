// Package room implements the nucleus of spec.md §4: one room per
// lobby/match, owning the host-authority state machine, the join/leave/
// start protocols, the fixed-tick simulation loop and the replicated
// object graph for that room. The lifecycle method shape (Init-style
// construction, a Join gate, a Leave handler, a periodic Loop, a
// Terminate) is grounded on backend/match.go's NEVRMatch, translated
// from nakama's runtime.Match interface (driven by the Nakama runtime's
// own scheduler) onto a locally owned *time.Ticker, since this server
// has no host runtime to delegate tick scheduling to.
package room

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/harborlight/roomkeeper/internal/codec"
	"github.com/harborlight/roomkeeper/internal/config"
	"github.com/harborlight/roomkeeper/internal/connection"
	"github.com/harborlight/roomkeeper/internal/netobject"
	"github.com/harborlight/roomkeeper/internal/roomcode"
	"github.com/harborlight/roomkeeper/internal/wire"
)

var (
	ErrRoomFull         = errors.New("room: full")
	ErrGameStarted      = errors.New("room: game already started")
	ErrNotHost          = errors.New("room: caller is not the host")
	ErrNotFound         = errors.New("room: player not found")
	ErrAlreadyStarted   = errors.New("room: already started")
	ErrNotEnoughPlayers = errors.New("room: not enough players to start")
	ErrBanned           = errors.New("room: remote address is banned")
)

// EventObserver lets external packages (chatcmd, anticheat, metrics)
// react to room lifecycle events without the room importing them,
// mirroring the teacher's hooks.go event-callback registration.
type EventObserver interface {
	OnJoin(r *Room, clientID uint32, name string)
	OnLeave(r *Room, clientID uint32, reason wire.DisconnectReason)
	OnStart(r *Room)
	// OnGameEnded fires when a game-outcome intent transitions the room
	// to Ended (spec.md §4.5's endGameIntents drain); the room persists
	// for the waiting-for-host rejoin flow. Distinct from OnEnd, which
	// only fires on a genuine teardown.
	OnGameEnded(r *Room, intent EndGameIntent)
	// OnEnd fires once, from Destroy, when the room's simulation loop
	// and registry entry are being torn down for good.
	OnEnd(r *Room, intent EndGameIntent)
	// OnSelectHost fires whenever the room is about to designate
	// candidateID as host, whether by first-join selection or
	// migration on leave/Ended-rejoin. Returning true vetoes the
	// candidate; the room tries the next one in join order.
	OnSelectHost(r *Room, candidateID uint32) bool
	// OnEndGameIntent fires once per queued EndGameIntent, in the order
	// queued, during the tick loop's drain (spec.md §4.5 step 3).
	// Returning true cancels that intent; the first intent no observer
	// cancels wins and ends the game.
	OnEndGameIntent(r *Room, intent EndGameIntent) bool
	// OnClientBroadcast lets a listener rewrite the GameDataMsg batch
	// about to be sent to one recipient (spec.md §4.5 Broadcast's
	// "alteredGameData" per-recipient hook).
	OnClientBroadcast(r *Room, recipientID uint32, msgs []wire.GameDataMsg) []wire.GameDataMsg
	// OnChatCommand is given a chance to handle a slash command before
	// it is otherwise treated as opaque chat data; returning true stops
	// further processing of the message.
	OnChatCommand(r *Room, clientID uint32, cmd string, args []string) bool
}

// EndGameIntent enumerates why a room's game ended (spec.md §4.5's
// "endGameIntents"), used both as the reason drained by the tick
// loop's endGame(reason) and as Destroy's teardown reason. Draining an
// intent always transitions the room to Ended; a room only becomes
// Destroyed once its connection count reaches zero (spec.md §5
// invariant I1), so a caller that wants outright teardown (host
// disconnect, admin action, idle sweep) calls Destroy directly instead
// of queuing an intent.
type EndGameIntent int

const (
	EndGameNone EndGameIntent = iota
	EndGameCrewmatesWin
	EndGameImpostorsWin
	EndGameSabotage
	EndGameHostEnded
	EndGameEveryoneDisconnected
)

// RoomState is the room's lifecycle stage (spec.md §3's Room.state).
type RoomState int

const (
	RoomNotStarted RoomState = iota
	RoomStarted
	RoomEnded
	RoomDestroyed
)

func (s RoomState) String() string {
	switch s {
	case RoomNotStarted:
		return "NotStarted"
	case RoomStarted:
		return "Started"
	case RoomEnded:
		return "Ended"
	case RoomDestroyed:
		return "Destroyed"
	default:
		return "Unknown"
	}
}

// Connection is the subset of *connection.Connection the room needs to
// deliver messages to a joined player, expressed as an interface so
// tests can exercise room logic with a lightweight fake instead of a
// real transport.Peer.
type Connection interface {
	SendReliable(tag byte, payload []byte)
	SendUnreliable(tag byte, payload []byte)
	RemoteAddr() string
	// ConnectionID identifies this connection to AuthAPI, spec.md §4.7's
	// "getConnectionUser(connection)" collaborator.
	ConnectionID() string
	// Ping returns the current smoothed round-trip estimate, recorded on
	// each anti-cheat infraction as spec.md §3's playerPing field.
	Ping() time.Duration
}

var _ Connection = (*connection.Connection)(nil)

// member is one joined player's bookkeeping, separate from the
// Connection interface so the room can track players who have a
// temporary grace-period absence (spec.md §4.2 drain window) without
// holding a live connection for them.
type member struct {
	clientID uint32
	name     string
	conn     Connection
	joinedAt time.Time

	// hasPlayerID/playerID/netID are set once this member's Player
	// object is spawned at game start (spec.md §4.5 step "spawn each
	// player on the ship"); zero values before that point.
	hasPlayerID bool
	playerID    byte
	netID       uint32

	ready bool
}

// Room is one lobby/match and its simulation state.
type Room struct {
	mu sync.RWMutex

	code     int32
	settings wire.GameSettings
	policy   HostPolicy
	logger   *zap.Logger
	graph    *netobject.Graph

	members       map[uint32]*member
	joinOrder     []uint32
	hostID        uint32
	actingHostIDs map[uint32]bool
	nextClient    uint32

	// actingHostWaitingFor and finishedActingHostTransactionRoutine
	// implement the acting-host handshake of spec.md §4.5: a newly
	// promoted acting host is appended here on Join, and every
	// recipient's host view is forced to Server while the list is
	// non-empty. finishedActingHostTransactionRoutine latches the
	// one-time JoinGame(Temp)+GameDataTo(SceneChange) send per client so
	// a duplicate CheckName never re-sends it.
	actingHostWaitingFor                  []uint32
	finishedActingHostTransactionRoutine  map[uint32]bool

	privacyPrivate bool
	state          RoomState
	bannedAddrs    map[string]bool

	// waitingForHost holds clientIds parked mid-Join because the room
	// is Ended and they are not the reclaiming host (spec.md §4.5 join
	// step 5). Released back into normal play once the room returns to
	// NotStarted.
	waitingForHost map[uint32]bool

	// endGameIntents is drained once per tick by runTickLoop (spec.md
	// §4.5 step 3); QueueEndGameIntent appends to it.
	endGameIntents []EndGameIntent

	// startReadyDeadline is set by Start and checked once per tick by
	// checkStartReady (spec.md §12's REDESIGN FLAG: state fields checked
	// on tick, not an awaited coroutine). Zero means no readiness wait
	// is in progress.
	startReadyDeadline time.Time
	startFinished      bool

	movementCfg   config.MovementOptimizations
	movementBufMu sync.Mutex
	movementBuf   *codec.Writer

	observers  []EventObserver
	antiCheat  AntiCheat
	chatPrefix string

	tickInterval time.Duration
	stopTick     chan struct{}
	tickWG       sync.WaitGroup
}

// New creates a room for the given 6-character lobby code. The default
// object-graph prefab table is registered immediately (spec.md §4.4);
// unknownPolicy governs spawn types outside that table
// (config.advanced.unknownObjects).
func New(code int32, settings wire.GameSettings, policy HostPolicy, logger *zap.Logger) *Room {
	return NewWithUnknownPolicy(code, settings, policy, netobject.UnknownSpawnReject, logger)
}

// NewWithUnknownPolicy is New with an explicit unknown-spawn-type policy,
// used by the worker when config.advanced.unknownObjects requests
// passthrough handling instead of the default reject.
func NewWithUnknownPolicy(code int32, settings wire.GameSettings, policy HostPolicy, unknownPolicy netobject.UnknownSpawnPolicy, logger *zap.Logger) *Room {
	graph := netobject.NewGraph(logger, unknownPolicy)
	netobject.RegisterDefaultPrefabs(graph)
	return &Room{
		code:                                 code,
		settings:                             settings,
		policy:                               policy,
		logger:                               logger.With(zap.String("room", roomcode.Int2Code(code))),
		graph:                                graph,
		members:                              make(map[uint32]*member),
		actingHostIDs:                        make(map[uint32]bool),
		finishedActingHostTransactionRoutine: make(map[uint32]bool),
		bannedAddrs:                          make(map[string]bool),
		waitingForHost:                       make(map[uint32]bool),
		nextClient:                           1,
		tickInterval:                         50 * time.Millisecond,
		chatPrefix:                           "/",
	}
}

// SetMovementOptimizations installs the config.optimizations.movement
// values the movement fast path reads (spec.md §4.6): updateRate,
// visionChecks and deadChecks. Not safe to call after the room has
// started accepting movement traffic from other goroutines.
func (r *Room) SetMovementOptimizations(cfg config.MovementOptimizations) {
	r.mu.Lock()
	r.movementCfg = cfg
	r.mu.Unlock()
}

// SetChatPrefix changes the slash-command prefix chat text must start
// with for dispatchChatCommand to treat it as a command instead of
// ordinary chat. An empty prefix disables command dispatch entirely,
// matching config.chatCommands.enabled == false.
func (r *Room) SetChatPrefix(prefix string) {
	r.mu.Lock()
	r.chatPrefix = prefix
	r.mu.Unlock()
}

func (r *Room) Code() int32             { return r.code }
func (r *Room) Policy() HostPolicy      { return r.policy }
func (r *Room) Graph() *netobject.Graph { return r.graph }

// AddObserver registers an EventObserver. Not safe to call after the
// room has started accepting traffic from other goroutines.
func (r *Room) AddObserver(o EventObserver) {
	r.mu.Lock()
	r.observers = append(r.observers, o)
	r.mu.Unlock()
}

// Settings returns a copy of the room's current settings.
func (r *Room) Settings() wire.GameSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

// IsPrivate reports the room's current advertised privacy.
func (r *Room) IsPrivate() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.privacyPrivate
}

// PlayerCount returns the number of currently joined members.
func (r *Room) PlayerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Started reports whether the room's game is currently in progress.
// False both before the first Start and again once the game reaches
// Ended.
func (r *Room) Started() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state == RoomStarted
}

// State returns the room's current lifecycle stage (spec.md §3).
func (r *Room) State() RoomState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// IsWaitingForHost reports whether clientID is parked pending the
// Ended-room rejoin flow (spec.md §4.5 join step 5), having already
// been assigned a client id but not yet sent JoinedGame.
func (r *Room) IsWaitingForHost(clientID uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waitingForHost[clientID]
}

// QueueEndGameIntent appends intent to the queue runTickLoop drains
// once per tick (spec.md §4.5 step 3). Safe to call from any
// goroutine, including anti-cheat or chat-command handlers deciding a
// game outcome mid-tick.
func (r *Room) QueueEndGameIntent(intent EndGameIntent) {
	r.mu.Lock()
	r.endGameIntents = append(r.endGameIntents, intent)
	r.mu.Unlock()
}

// HostID returns the current authoritative host's client id under
// ClassicHost, or a representative acting host under ServerAsHost
// (the earliest-joined one still in actingHostIDs). Most callers that
// need per-connection accuracy under ServerAsHost should use
// hostViewForLocked instead (spec.md §4.5 invariant I2); HostID exists
// for authority checks like Start/AlterGame/KickPlayer where any one
// acting host is as good as another.
func (r *Room) HostID() uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.effectiveHostLocked()
}

// IsHost reports whether clientID currently holds room authority:
// the sole host under ClassicHost, or any acting host under
// ServerAsHost.
func (r *Room) IsHost(clientID uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.policy == ServerAsHost {
		return r.actingHostIDs[clientID]
	}
	return clientID == r.hostID
}

// IsActingHost reports whether clientID is a promoted acting host,
// regardless of whether its handshake has finished. Only meaningful
// under ServerAsHost; always false under ClassicHost.
func (r *Room) IsActingHost(clientID uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policy == ServerAsHost && r.actingHostIDs[clientID]
}

// PlayerIDFor returns the in-game player id assigned to clientID at
// game start, spec.md §4.7's voter-identity check for CastVote.
func (r *Room) PlayerIDFor(clientID uint32) (byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[clientID]
	if !ok || !m.hasPlayerID {
		return 0, false
	}
	return m.playerID, true
}

// IsPlayerAlive reports whether playerID names a currently living
// player, used by CastVote's suspect validity check (spec.md §4.7).
// An unknown playerID is treated as not alive.
func (r *Room) IsPlayerAlive(playerID byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.joinOrder {
		m := r.members[id]
		if !m.hasPlayerID || m.playerID != playerID {
			continue
		}
		obj, ok := r.graph.Get(m.netID)
		if !ok {
			return false
		}
		for _, c := range obj.Components() {
			if pc, ok := c.(*netobject.PlayerControl); ok {
				return !pc.IsDead
			}
		}
		return true
	}
	return false
}

// hostViewForLocked returns the host client id recipientID should see
// right now, per spec.md §4.5 invariant I2: under ClassicHost every
// recipient sees the same room.hostID; under ServerAsHost a recipient
// sees its own id only once it is a fully handshaked acting host,
// otherwise it sees wire.ServerHostID. Must be called with r.mu held.
func (r *Room) hostViewForLocked(recipientID uint32) uint32 {
	if r.policy != ServerAsHost {
		return r.hostID
	}
	if r.actingHostIDs[recipientID] && !r.inActingHostWaitingForLocked(recipientID) {
		return recipientID
	}
	return wire.ServerHostID
}

func (r *Room) inActingHostWaitingForLocked(clientID uint32) bool {
	for _, id := range r.actingHostWaitingFor {
		if id == clientID {
			return true
		}
	}
	return false
}

// removeFromActingHostWaitingForLocked drops clientID from the pending
// handshake list, called once its SyncSettings adoption completes it.
func (r *Room) removeFromActingHostWaitingForLocked(clientID uint32) {
	for i, id := range r.actingHostWaitingFor {
		if id == clientID {
			r.actingHostWaitingFor = append(r.actingHostWaitingFor[:i], r.actingHostWaitingFor[i+1:]...)
			return
		}
	}
}

// selectHostLocked returns the first of candidates not vetoed by any
// observer's OnSelectHost (spec.md §4.5: "select host per policy",
// subject to a RoomSelectHost event veto), or 0 if candidates is empty
// or every candidate is vetoed. Must be called with r.mu held; none of
// this package's observers call back into the room, so running them
// under the lock is safe.
func (r *Room) selectHostLocked(candidates []uint32) uint32 {
	for _, id := range candidates {
		vetoed := false
		for _, o := range r.observers {
			if o.OnSelectHost(r, id) {
				vetoed = true
				break
			}
		}
		if !vetoed {
			return id
		}
	}
	return 0
}

// releasedJoiner is the per-recipient JoinGame/JoinedGame send a
// waiting-for-host release owes a previously parked member, prepared
// while r.mu is held and sent after it is released.
type releasedJoiner struct {
	clientID uint32
	name     string
	conn     Connection
	joinMsg  wire.JoinGame
	joined   wire.JoinedGame
}

// releaseWaitingForHostLocked transitions the room to NotStarted and
// prepares the JoinGame/JoinedGame sends every member parked in
// waitingForHost is owed (spec.md §4.5 join step 4's
// "_joinOtherClients"). Must be called with r.mu held; the caller must
// unlock before sending the returned messages via sendReleasedJoiners.
func (r *Room) releaseWaitingForHostLocked() []releasedJoiner {
	r.state = RoomNotStarted
	if len(r.waitingForHost) == 0 {
		return nil
	}

	ids := make([]uint32, 0, len(r.waitingForHost))
	for id := range r.waitingForHost {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]releasedJoiner, 0, len(ids))
	for _, id := range ids {
		m := r.members[id]
		if m == nil {
			continue
		}
		peers := make([]uint32, 0, len(r.joinOrder)-1)
		for _, pid := range r.joinOrder {
			if pid != id {
				peers = append(peers, pid)
			}
		}
		out = append(out, releasedJoiner{
			clientID: id,
			name:     m.name,
			conn:     m.conn,
			joinMsg:  wire.JoinGame{Code: r.code, ClientID: id, Name: m.name},
			joined:   wire.JoinedGame{Code: r.code, ClientID: id, HostID: r.hostViewForLocked(id), Peers: peers},
		})
	}
	r.waitingForHost = make(map[uint32]bool)
	return out
}

// sendReleasedJoiners delivers the messages releaseWaitingForHostLocked
// prepared: every other current member learns of each released joiner
// via JoinGame, each released joiner finally receives its JoinedGame,
// and OnJoin fires for each as if it were joining for the first time.
func (r *Room) sendReleasedJoiners(released []releasedJoiner, observers []EventObserver) {
	if len(released) == 0 {
		return
	}

	r.mu.RLock()
	allConns := make(map[uint32]Connection, len(r.members))
	for id, m := range r.members {
		if m.conn != nil {
			allConns[id] = m.conn
		}
	}
	r.mu.RUnlock()

	for _, rel := range released {
		payload := wire.EncodeJoinGame(rel.joinMsg)
		for id, c := range allConns {
			if id == rel.clientID {
				continue
			}
			c.SendReliable(byte(wire.RootJoinGame), payload)
		}
		if rel.conn != nil {
			rel.conn.SendReliable(byte(wire.RootJoinedGame), wire.EncodeJoinedGame(rel.joined))
		}
	}
	for _, rel := range released {
		for _, o := range observers {
			o.OnJoin(r, rel.clientID, rel.name)
		}
	}
}

// Join admits a new connection to the room, assigning it a client id
// and broadcasting its arrival to existing members (spec.md §4.5 join
// protocol). temp mirrors the wire JoinGame.Temp flag used by the
// host-view-update idiom when a reconnecting player rejoins briefly
// before the server decides whether to treat it as a fresh join.
func (r *Room) Join(conn Connection, name string, temp bool) (wire.JoinedGame, error) {
	r.mu.Lock()

	if r.bannedAddrs[conn.RemoteAddr()] {
		r.mu.Unlock()
		return wire.JoinedGame{}, ErrBanned
	}
	if r.state == RoomStarted && r.policy == ClassicHost {
		r.mu.Unlock()
		return wire.JoinedGame{}, ErrGameStarted
	}
	if uint8(len(r.members)) >= r.settings.MaxPlayers {
		r.mu.Unlock()
		return wire.JoinedGame{}, ErrRoomFull
	}

	// spec.md §4.5's Ended state only gates joins under ClassicHost: a
	// vacant host slot needs a rejoin protocol, but the server is
	// always host under ServerAsHost, so an Ended room there returns
	// straight to NotStarted with no parking.
	if r.policy == ServerAsHost && r.state == RoomEnded {
		r.state = RoomNotStarted
	}

	clientID := r.nextClient
	r.nextClient++

	m := &member{clientID: clientID, name: name, conn: conn, joinedAt: time.Now()}
	r.members[clientID] = m
	r.joinOrder = append(r.joinOrder, clientID)

	isFirst := len(r.joinOrder) == 1
	hostVacant := r.policy == ClassicHost && r.members[r.hostID] == nil
	reclaimsHost := r.policy == ClassicHost && r.state == RoomEnded && hostVacant

	switch {
	case r.policy == ClassicHost && (isFirst || reclaimsHost):
		if h := r.selectHostLocked([]uint32{clientID}); h != 0 {
			r.hostID = h
		}
	case r.policy == ServerAsHost && len(r.actingHostIDs) == 0:
		// spec.md §4.5: the server becomes host for a new client until
		// initial settings are exchanged. Promotion happens here; the
		// handshake that hands the client its own host view runs off
		// its first CheckName/SyncSettings RPCs (handshake.go).
		if h := r.selectHostLocked([]uint32{clientID}); h != 0 {
			r.actingHostIDs[h] = true
			r.actingHostWaitingFor = append(r.actingHostWaitingFor, h)
		}
	}

	if r.policy == ClassicHost && r.state == RoomEnded {
		if r.hostID == clientID {
			return r.finishJoinReleasingWaitersLocked(clientID, name, temp)
		}
		r.waitingForHost[clientID] = true
		code := r.code
		r.mu.Unlock()
		conn.SendReliable(byte(wire.RootWaitForHost), wire.EncodeWaitForHost(wire.WaitForHost{Code: code, ClientID: clientID}))
		return wire.JoinedGame{Code: code, ClientID: clientID}, nil
	}

	peers := make([]uint32, 0, len(r.joinOrder)-1)
	existingRecipients := make([]uint32, 0, len(r.joinOrder)-1)
	for _, id := range r.joinOrder {
		if id != clientID {
			peers = append(peers, id)
			existingRecipients = append(existingRecipients, id)
		}
	}
	hostView := r.hostViewForLocked(clientID)

	joinMsg := wire.JoinGame{Code: r.code, ClientID: clientID, Name: name, Temp: temp}
	observers := append([]EventObserver(nil), r.observers...)
	existing := make(map[uint32]Connection, len(existingRecipients))
	for _, id := range existingRecipients {
		if rm := r.members[id]; rm != nil && rm.conn != nil {
			existing[id] = rm.conn
		}
	}
	r.mu.Unlock()

	for _, other := range existing {
		other.SendReliable(byte(wire.RootJoinGame), wire.EncodeJoinGame(joinMsg))
	}

	for _, o := range observers {
		o.OnJoin(r, clientID, name)
	}

	return wire.JoinedGame{Code: r.code, ClientID: clientID, HostID: hostView, Peers: peers}, nil
}

// finishJoinReleasingWaitersLocked runs join step 4: the reclaiming
// host is welcomed the normal way and every member parked in
// waitingForHost is released back into play. Must be called with r.mu
// held; it always unlocks before returning.
func (r *Room) finishJoinReleasingWaitersLocked(clientID uint32, name string, temp bool) (wire.JoinedGame, error) {
	released := r.releaseWaitingForHostLocked()
	observers := append([]EventObserver(nil), r.observers...)

	peers := make([]uint32, 0, len(r.joinOrder)-1)
	existingRecipients := make([]uint32, 0, len(r.joinOrder)-1)
	for _, id := range r.joinOrder {
		if id != clientID {
			peers = append(peers, id)
			existingRecipients = append(existingRecipients, id)
		}
	}
	hostView := r.hostViewForLocked(clientID)
	joinMsg := wire.JoinGame{Code: r.code, ClientID: clientID, Name: name, Temp: temp}
	existing := make(map[uint32]Connection, len(existingRecipients))
	for _, id := range existingRecipients {
		if rm := r.members[id]; rm != nil && rm.conn != nil {
			existing[id] = rm.conn
		}
	}
	code := r.code
	r.mu.Unlock()

	for _, other := range existing {
		other.SendReliable(byte(wire.RootJoinGame), wire.EncodeJoinGame(joinMsg))
	}
	r.sendReleasedJoiners(released, observers)
	for _, o := range observers {
		o.OnJoin(r, clientID, name)
	}

	return wire.JoinedGame{Code: code, ClientID: clientID, HostID: hostView, Peers: peers}, nil
}

// otherConnections returns the connections of every member except
// exceptID, called with r.mu held.
func (r *Room) otherConnections(exceptID uint32) []Connection {
	return lo.FilterMap(lo.Values(r.members), func(m *member, _ int) (Connection, bool) {
		if m.clientID == exceptID || m.conn == nil {
			return nil, false
		}
		return m.conn, true
	})
}

// otherConnectionsByID is otherConnections keyed by client id, needed
// wherever a per-recipient hook like OnClientBroadcast must know who
// it's addressing. Called with r.mu held.
func (r *Room) otherConnectionsByID(exceptID uint32) map[uint32]Connection {
	out := make(map[uint32]Connection, len(r.members))
	for id, m := range r.members {
		if id != exceptID && m.conn != nil {
			out[id] = m.conn
		}
	}
	return out
}

// deliverGameData sends msgs to every recipient in targets, first
// running it through each observer's OnClientBroadcast so a listener
// can rewrite the batch per recipient (spec.md §4.5 Broadcast's
// "alteredGameData" hook).
func (r *Room) deliverGameData(targets map[uint32]Connection, code int32, msgs []wire.GameDataMsg, observers []EventObserver, reliable bool) {
	for id, c := range targets {
		out := msgs
		for _, o := range observers {
			out = o.OnClientBroadcast(r, id, out)
		}
		payload := wire.EncodeGameData(code, out)
		if reliable {
			c.SendReliable(byte(wire.RootGameData), payload)
		} else {
			c.SendUnreliable(byte(wire.RootGameData), payload)
		}
	}
}

// HandleLeave removes a client from the room, migrating host authority
// under ClassicHost if necessary (spec.md §4.3), and destroys the room
// once empty.
func (r *Room) HandleLeave(clientID uint32, reason wire.DisconnectReason) {
	r.mu.Lock()

	if _, ok := r.members[clientID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.members, clientID)
	for i, id := range r.joinOrder {
		if id == clientID {
			r.joinOrder = append(r.joinOrder[:i], r.joinOrder[i+1:]...)
			break
		}
	}

	wasHost := clientID == r.hostID
	wasActingHost := r.policy == ServerAsHost && r.actingHostIDs[clientID]
	var released []releasedJoiner
	if wasHost && r.policy == ClassicHost && len(r.joinOrder) > 0 {
		// spec.md §4.5 "Host leaves in Classic mode": pick a new host
		// per policy, subject to the same RoomSelectHost veto as Join;
		// if the game is Ended and the new host was one of the members
		// parked in waitingForHost, the room comes back to life.
		if newHost := r.selectHostLocked(append([]uint32(nil), r.joinOrder...)); newHost != 0 {
			r.hostID = newHost
			if r.state == RoomEnded && r.waitingForHost[newHost] {
				delete(r.waitingForHost, newHost)
				released = r.releaseWaitingForHostLocked()
			}
		}
	}
	if wasActingHost {
		delete(r.actingHostIDs, clientID)
		r.removeFromActingHostWaitingForLocked(clientID)
		delete(r.finishedActingHostTransactionRoutine, clientID)
		// its disconnect never interrupts play (ServerAsHost keeps
		// simulation authority server-side); a replacement is only
		// promoted for presentation purposes, same rule as Join.
		if len(r.actingHostIDs) == 0 && len(r.joinOrder) > 0 {
			next := r.joinOrder[0]
			r.actingHostIDs[next] = true
			r.actingHostWaitingFor = append(r.actingHostWaitingFor, next)
		}
	}

	observers := append([]EventObserver(nil), r.observers...)
	remaining := make(map[uint32]Connection, len(r.joinOrder))
	removeMsgFor := make(map[uint32]wire.RemovePlayer, len(r.joinOrder))
	for _, id := range r.joinOrder {
		rm := r.members[id]
		if rm == nil || rm.conn == nil {
			continue
		}
		remaining[id] = rm.conn
		removeMsgFor[id] = wire.RemovePlayer{Code: r.code, ClientID: clientID, HostID: r.hostViewForLocked(id), Reason: reason}
	}
	empty := len(r.members) == 0
	r.mu.Unlock()

	for id, other := range remaining {
		other.SendReliable(byte(wire.RootRemovePlayer), wire.EncodeRemovePlayer(removeMsgFor[id]))
	}
	r.sendReleasedJoiners(released, observers)
	for _, o := range observers {
		o.OnLeave(r, clientID, reason)
	}

	if empty {
		r.Destroy(EndGameEveryoneDisconnected)
	}
}

// effectiveHostLocked returns a single representative host id, used
// where per-recipient accuracy doesn't matter (authority checks).
// Must be called with r.mu held.
func (r *Room) effectiveHostLocked() uint32 {
	if r.policy == ServerAsHost {
		for _, id := range r.joinOrder {
			if r.actingHostIDs[id] {
				return id
			}
		}
		return 0
	}
	return r.hostID
}

// Start marks the room as started, provided the caller is the host and
// the lobby has enough players (spec.md §4.5). It broadcasts StartGame
// and opens the readiness wait checkStartReady polls on every tick;
// Started() flips true immediately, before that wait resolves.
func (r *Room) Start(callerID uint32) error {
	r.mu.Lock()
	if callerID != r.effectiveHostLocked() {
		r.mu.Unlock()
		return ErrNotHost
	}
	if r.state != RoomNotStarted {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	if len(r.members) < 1 {
		r.mu.Unlock()
		return ErrNotEnoughPlayers
	}
	r.state = RoomStarted
	r.startFinished = false
	for _, m := range r.members {
		m.ready = false
	}
	r.startReadyDeadline = time.Now().Add(startReadyTimeout)
	conns := r.otherConnections(0)
	observers := append([]EventObserver(nil), r.observers...)
	r.mu.Unlock()

	startMsg := wire.EncodeStartGame(wire.StartGame{Code: r.code})
	for _, c := range conns {
		c.SendReliable(byte(wire.RootStartGame), startMsg)
	}
	for _, o := range observers {
		o.OnStart(r)
	}

	r.tickWG.Add(1)
	r.mu.Lock()
	r.stopTick = make(chan struct{})
	stop := r.stopTick
	r.mu.Unlock()
	go r.runTickLoop(stop)

	return nil
}

// AlterGame flips the room's advertised privacy; only the host may do
// this (spec.md §4.5).
func (r *Room) AlterGame(callerID uint32, tag wire.AlterGameTag) error {
	r.mu.Lock()
	if callerID != r.effectiveHostLocked() {
		r.mu.Unlock()
		return ErrNotHost
	}
	r.privacyPrivate = tag == wire.AlterGamePrivacyPrivate
	conns := r.otherConnections(0)
	r.mu.Unlock()

	msg := wire.EncodeAlterGame(wire.AlterGame{Code: r.code, Privacy: tag})
	for _, c := range conns {
		c.SendReliable(byte(wire.RootAlterGame), msg)
	}
	return nil
}

// KickPlayer removes targetID from the room on the host's command. When
// ban is true the target's remote address is added to this room's ban
// list (spec.md §3's Room.bannedAddresses), rejected by future Joins.
func (r *Room) KickPlayer(callerID, targetID uint32, ban bool) error {
	r.mu.RLock()
	isHost := callerID == r.effectiveHostLocked()
	target, ok := r.members[targetID]
	r.mu.RUnlock()
	if !isHost {
		return ErrNotHost
	}
	if !ok {
		return ErrNotFound
	}
	reason := wire.DisconnectKicked
	if ban {
		reason = wire.DisconnectBanned
		r.mu.Lock()
		r.bannedAddrs[target.conn.RemoteAddr()] = true
		r.mu.Unlock()
	}
	r.HandleLeave(targetID, reason)
	return nil
}

// Destroy ends the room's simulation loop and fires OnEnd on every
// observer. Safe to call more than once.
func (r *Room) Destroy(intent EndGameIntent) {
	r.mu.Lock()
	if r.state == RoomDestroyed {
		r.mu.Unlock()
		return
	}
	r.state = RoomDestroyed
	stop := r.stopTick
	r.stopTick = nil
	observers := append([]EventObserver(nil), r.observers...)
	r.mu.Unlock()

	if stop != nil {
		close(stop)
		r.tickWG.Wait()
	}
	for _, o := range observers {
		o.OnEnd(r, intent)
	}
}

// endGame transitions a Started room to Ended (spec.md §4.5 step 3's
// endGame(reason)): the current tick loop iteration is the last one
// (the caller, runTickLoop, returns right after), EndGame is broadcast
// to every member, and OnGameEnded fires. Unlike Destroy this never
// closes stopTick or waits on tickWG itself, since it always runs from
// inside the tick loop's own goroutine; Start launches a fresh loop
// the next time the room leaves Ended. The room is never removed from
// a worker's registry by this transition alone (spec.md §5 invariant
// I1 ties Destroyed to an empty connection count, not a game outcome).
func (r *Room) endGame(reason EndGameIntent) {
	r.mu.Lock()
	if r.state != RoomStarted {
		r.mu.Unlock()
		return
	}
	r.state = RoomEnded
	conns := r.otherConnections(0)
	code := r.code
	observers := append([]EventObserver(nil), r.observers...)
	r.mu.Unlock()

	msg := wire.EncodeEndGame(wire.EndGame{Code: code, Reason: byte(reason)})
	for _, c := range conns {
		c.SendReliable(byte(wire.RootEndGame), msg)
	}
	for _, o := range observers {
		o.OnGameEnded(r, reason)
	}
}

// drainEndGameIntents runs spec.md §4.5 step 3: every queued intent
// fires OnEndGameIntent on each observer, in order; the first intent
// no observer cancels wins and calls endGame, and any intents queued
// after it are discarded. It reports whether the game ended, so
// runTickLoop knows to stop ticking.
func (r *Room) drainEndGameIntents() bool {
	r.mu.Lock()
	intents := r.endGameIntents
	r.endGameIntents = nil
	observers := append([]EventObserver(nil), r.observers...)
	r.mu.Unlock()

	for _, intent := range intents {
		cancelled := false
		for _, o := range observers {
			if o.OnEndGameIntent(r, intent) {
				cancelled = true
				break
			}
		}
		if cancelled {
			continue
		}
		r.endGame(intent)
		return true
	}
	return false
}

// ConnectionFor returns the live connection for a member, if any, used
// by anticheat's existence/ownership checks and by chatcmd replies.
func (r *Room) ConnectionFor(clientID uint32) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[clientID]
	if !ok || m.conn == nil {
		return nil, false
	}
	return m.conn, true
}

// MemberIDs returns a snapshot of currently joined client ids.
func (r *Room) MemberIDs() []uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]uint32, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	return out
}

func (r *Room) String() string {
	return fmt.Sprintf("Room(%s)", roomcode.Int2Code(r.code))
}
