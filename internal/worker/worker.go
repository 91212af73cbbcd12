// Package worker implements the process-wide coordinator of spec.md
// §4.6: it owns the transport, the room registry keyed by lobby code,
// and the routing between the two. It is the transport.Handler that
// turns raw datagrams into calls against connection and room, the way
// server/evr_matchmaker_registry.go and service/A_broadcaster_registry.go
// sit between Nakama's runtime and each individual match/broadcaster,
// except this registry is entirely in-process rather than backed by a
// distributed actor runtime.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/harborlight/roomkeeper/internal/anticheat"
	"github.com/harborlight/roomkeeper/internal/authapi"
	"github.com/harborlight/roomkeeper/internal/chatcmd"
	"github.com/harborlight/roomkeeper/internal/codec"
	"github.com/harborlight/roomkeeper/internal/config"
	"github.com/harborlight/roomkeeper/internal/connection"
	"github.com/harborlight/roomkeeper/internal/netobject"
	"github.com/harborlight/roomkeeper/internal/room"
	"github.com/harborlight/roomkeeper/internal/roomcode"
	"github.com/harborlight/roomkeeper/internal/transport"
	"github.com/harborlight/roomkeeper/internal/wire"
)

var _ transport.Handler = (*Worker)(nil)

// maxCodeGenerationAttempts bounds the retry loop against a code
// collision; with 26^6 possible codes a collision inside this many
// tries would indicate the registry is nearly saturated.
const maxCodeGenerationAttempts = 20

// Worker is the process-wide transport.Handler: one instance per
// listening socket, holding every room that socket's clients have
// created.
type Worker struct {
	logger *zap.Logger
	cfg    *config.Config
	sink   anticheat.InfractionSink
	auth   authapi.AuthAPI

	registry *codec.Registry

	nextConnID atomic.Uint32

	mu           sync.RWMutex
	pendingHello map[string]wire.Hello
	rooms        map[int32]*room.Room
	roomCreated  map[int32]time.Time

	wg        sync.WaitGroup
	sweepStop chan struct{}
}

// New builds a Worker. sink may be nil to discard anti-cheat
// infractions, which is only appropriate for tests.
func New(logger *zap.Logger, cfg *config.Config, sink anticheat.InfractionSink) *Worker {
	var auth authapi.AuthAPI
	if cfg.AuthAPIBaseURL != "" {
		auth = authapi.New(cfg.AuthAPIBaseURL)
	}
	return &Worker{
		logger:       logger,
		cfg:          cfg,
		sink:         sink,
		auth:         auth,
		registry:     buildRootRegistry(),
		pendingHello: make(map[string]wire.Hello),
		rooms:        make(map[int32]*room.Room),
		roomCreated:  make(map[int32]time.Time),
		sweepStop:    make(chan struct{}),
	}
}

// newRoom builds a *room.Room with the gatekeeper, chat dispatcher, movement
// optimizations, and registry observer every room-creation call site needs,
// the shared setup handleHostGame and AdminCreateRoom both delegate to.
func (w *Worker) newRoom(code int32, settings wire.GameSettings) *room.Room {
	policy := room.ClassicHost
	if w.cfg.ServerAsHost {
		policy = room.ServerAsHost
	}
	unknownPolicy := netobject.UnknownSpawnReject
	if w.cfg.Advanced.UnknownObjects != config.UnknownObjectsReject {
		unknownPolicy = netobject.UnknownSpawnPassthrough
	}

	r := room.NewWithUnknownPolicy(code, settings, policy, unknownPolicy, w.logger)
	r.SetMovementOptimizations(w.cfg.Optimizations.Movement)

	gk := anticheat.New(w.logger, w.sink)
	if w.auth != nil {
		gk.SetAuthAPI(w.auth)
	}
	r.SetAntiCheat(gk)
	r.AddObserver(gk)
	r.AddObserver(&registryObserver{w: w})

	if w.cfg.ChatCommands.Enabled {
		r.SetChatPrefix(w.cfg.ChatCommands.Prefix)
		r.AddObserver(chatcmd.New(w.logger))
	} else {
		r.SetChatPrefix("")
	}
	return r
}

// buildRootRegistry installs a Decoder for every client-originated root
// message tag, exercising codec.Registry as the tag -> constructor
// table spec.md §4.1 describes rather than switching on the tag byte by
// hand in OnPacket.
func buildRootRegistry() *codec.Registry {
	reg := codec.NewRegistry()
	reg.Register(byte(wire.RootHostGame), func(payload []byte) (any, error) {
		return wire.DecodeHostGame(payload)
	})
	reg.Register(byte(wire.RootJoinGame), func(payload []byte) (any, error) {
		return wire.DecodeJoinGame(payload)
	})
	reg.Register(byte(wire.RootStartGame), func(payload []byte) (any, error) {
		return wire.DecodeStartGame(payload)
	})
	reg.Register(byte(wire.RootAlterGame), func(payload []byte) (any, error) {
		return wire.DecodeAlterGame(payload)
	})
	reg.Register(byte(wire.RootKickPlayer), func(payload []byte) (any, error) {
		return wire.DecodeKickPlayerRequest(payload)
	})
	reg.Register(byte(wire.RootGameData), func(payload []byte) (any, error) {
		code, msgs, err := wire.DecodeGameData(payload)
		if err != nil {
			return nil, err
		}
		return wire.GameDataEnvelope{Code: code, Messages: msgs}, nil
	})
	reg.Register(byte(wire.RootGameDataTo), func(payload []byte) (any, error) {
		code, target, msgs, err := wire.DecodeGameDataTo(payload)
		if err != nil {
			return nil, err
		}
		return wire.GameDataToEnvelope{Code: code, TargetClientID: target, Messages: msgs}, nil
	})
	return reg
}

// Listen opens a UDP socket and returns a Transport configured with w
// as its Handler. The caller is responsible for calling Serve on the
// result.
func (w *Worker) Listen() (*transport.Transport, error) {
	return transport.Listen(w.logger, w.cfg.ListenAddr, w, transport.DefaultConfig())
}

// StartSweep launches the background goroutine that destroys rooms
// nobody joined within config.createTimeout (spec.md §4.6).
func (w *Worker) StartSweep() {
	w.wg.Add(1)
	go w.sweepLoop()
}

func (w *Worker) sweepLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-w.sweepStop:
			return
		case <-ticker.C:
			w.sweepEmptyRooms()
		}
	}
}

func (w *Worker) sweepEmptyRooms() {
	deadline := w.cfg.CreateTimeout()
	now := time.Now()

	w.mu.RLock()
	var expired []*room.Room
	for code, r := range w.rooms {
		if r.PlayerCount() > 0 {
			continue
		}
		if now.Sub(w.roomCreated[code]) > deadline {
			expired = append(expired, r)
		}
	}
	w.mu.RUnlock()

	for _, r := range expired {
		w.logger.Info("destroying unjoined room past create timeout", zap.String("room", roomcode.Int2Code(r.Code())))
		r.Destroy(room.EndGameEveryoneDisconnected)
	}
}

// Shutdown stops the sweep loop and disconnects every room's members,
// firing OnEnd for each room in the process (spec.md §12 point 5).
func (w *Worker) Shutdown(ctx context.Context) error {
	close(w.sweepStop)

	w.mu.RLock()
	rooms := make([]*room.Room, 0, len(w.rooms))
	for _, r := range w.rooms {
		rooms = append(rooms, r)
	}
	w.mu.RUnlock()

	for _, r := range rooms {
		r.Destroy(room.EndGameHostEnded)
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnHello validates the handshake and stashes it, keyed by remote
// address, for OnConnect to pick up once the Peer exists.
func (w *Worker) OnHello(addr *net.UDPAddr, payload []byte) bool {
	hello, err := wire.DecodeHello(payload)
	if err != nil {
		w.logger.Debug("malformed hello", zap.Stringer("addr", addr), zap.Error(err))
		return false
	}
	if hello.ProtocolVersion != wire.ProtocolVersion {
		w.logger.Debug("hello with wrong protocol version",
			zap.Stringer("addr", addr), zap.Uint32("version", hello.ProtocolVersion))
		return false
	}
	w.mu.Lock()
	w.pendingHello[addr.String()] = hello
	w.mu.Unlock()
	return true
}

// OnConnect attaches a *connection.Connection to the newly created peer,
// consuming the Hello stashed by OnHello.
func (w *Worker) OnConnect(p *transport.Peer) {
	key := p.Addr().String()
	w.mu.Lock()
	hello := w.pendingHello[key]
	delete(w.pendingHello, key)
	w.mu.Unlock()

	id := w.nextConnID.Inc()
	connection.New(p, w.logger, id, hello.Name)
}

// OnPacket decodes the packet's root message and dispatches it.
func (w *Worker) OnPacket(p *transport.Peer, kind wire.PacketKind, payload []byte) {
	conn, ok := connection.FromPeer(p)
	if !ok || len(payload) == 0 {
		return
	}
	tag, inner := payload[0], payload[1:]
	msg, err := w.registry.Decode(tag, inner)
	if err != nil {
		w.logger.Debug("failed to decode root message", zap.Uint8("tag", tag), zap.Error(err))
		return
	}
	w.dispatch(conn, msg, kind)
}

// OnDisconnect notifies whatever room the connection belonged to.
func (w *Worker) OnDisconnect(p *transport.Peer, reason wire.DisconnectReason) {
	conn, ok := connection.FromPeer(p)
	if !ok {
		return
	}
	conn.HandleTransportDisconnect(reason)
}

func (w *Worker) dispatch(conn *connection.Connection, msg any, kind wire.PacketKind) {
	switch v := msg.(type) {
	case wire.HostGame:
		w.handleHostGame(conn, v)
	case wire.JoinGame:
		w.handleJoinGame(conn, v)
	case wire.StartGame:
		w.handleStartGame(conn, v)
	case wire.AlterGame:
		w.handleAlterGame(conn, v)
	case wire.KickPlayerRequest:
		w.handleKickPlayer(conn, v)
	case wire.GameDataEnvelope:
		w.handleGameData(conn, v, kind)
	case wire.GameDataToEnvelope:
		w.handleGameDataTo(conn, v)
	default:
		w.logger.Debug("unhandled root message type", zap.String("type", fmt.Sprintf("%T", v)))
	}
}

// roomForConn resolves the *room.Room a connection currently belongs
// to. conn.Room() only exposes the narrow connection.RoomHandle
// interface (to avoid an import cycle); the code it reports is enough
// to look the concrete *room.Room back up in the registry.
func (w *Worker) roomForConn(conn *connection.Connection) (*room.Room, bool) {
	rh := conn.Room()
	if rh == nil {
		return nil, false
	}
	w.mu.RLock()
	r, ok := w.rooms[rh.Code()]
	w.mu.RUnlock()
	return r, ok
}

func (w *Worker) handleHostGame(conn *connection.Connection, v wire.HostGame) {
	settings := v.Settings
	w.cfg.EnforceSettings.Apply(&settings)
	if err := settings.Validate(); err != nil {
		w.logger.Debug("rejecting hostGame with invalid settings", zap.Error(err))
		conn.Peer().Disconnect(wire.DisconnectError)
		return
	}

	code, err := w.allocateCode()
	if err != nil {
		w.logger.Warn("failed to allocate room code", zap.Error(err))
		conn.Peer().Disconnect(wire.DisconnectError)
		return
	}

	r := w.newRoom(code, settings)

	w.mu.Lock()
	w.rooms[code] = r
	w.roomCreated[code] = time.Now()
	w.mu.Unlock()

	conn.SendReliable(byte(wire.RootHostGame), wire.EncodeHostGame(wire.HostGame{Code: code, Settings: settings}))
}

// RoomStatus is the admin-facing snapshot of one room, returned by
// AdminListRooms/AdminRoomStatus for internal/adminhttp to serialize.
type RoomStatus struct {
	Code        string `json:"code"`
	PlayerCount int    `json:"player_count"`
	HostID      uint32 `json:"host_id"`
	Started     bool   `json:"started"`
	Private     bool   `json:"private"`
}

func statusOf(r *room.Room) RoomStatus {
	return RoomStatus{
		Code:        roomcode.Int2Code(r.Code()),
		PlayerCount: r.PlayerCount(),
		HostID:      r.HostID(),
		Started:     r.Started(),
		Private:     r.IsPrivate(),
	}
}

// AdminCreateRoom builds a room the way handleHostGame does but on the
// admin API's behalf rather than a connecting client's (spec.md §4.5:
// "created by a HostGame root message or by admin API"). It returns the
// allocated code.
func (w *Worker) AdminCreateRoom(settings wire.GameSettings) (string, error) {
	w.cfg.EnforceSettings.Apply(&settings)
	if err := settings.Validate(); err != nil {
		return "", fmt.Errorf("worker: invalid settings: %w", err)
	}
	code, err := w.allocateCode()
	if err != nil {
		return "", err
	}

	r := w.newRoom(code, settings)

	w.mu.Lock()
	w.rooms[code] = r
	w.roomCreated[code] = time.Now()
	w.mu.Unlock()

	return roomcode.Int2Code(code), nil
}

// AdminDestroyRoom ends the named room, if it exists, reporting whether
// it was found.
func (w *Worker) AdminDestroyRoom(codeStr string) bool {
	code, err := roomcode.Code2Int(codeStr)
	if err != nil {
		return false
	}
	w.mu.RLock()
	r, ok := w.rooms[code]
	w.mu.RUnlock()
	if !ok {
		return false
	}
	r.Destroy(room.EndGameHostEnded)
	return true
}

// AdminRoomStatus reports one room's status, if it exists.
func (w *Worker) AdminRoomStatus(codeStr string) (RoomStatus, bool) {
	code, err := roomcode.Code2Int(codeStr)
	if err != nil {
		return RoomStatus{}, false
	}
	w.mu.RLock()
	r, ok := w.rooms[code]
	w.mu.RUnlock()
	if !ok {
		return RoomStatus{}, false
	}
	return statusOf(r), true
}

// AdminListRooms reports the status of every room currently registered.
func (w *Worker) AdminListRooms() []RoomStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]RoomStatus, 0, len(w.rooms))
	for _, r := range w.rooms {
		out = append(out, statusOf(r))
	}
	return out
}

func (w *Worker) allocateCode() (int32, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for i := 0; i < maxCodeGenerationAttempts; i++ {
		code := roomcode.Generate()
		if _, taken := w.rooms[code]; !taken {
			return code, nil
		}
	}
	return 0, errors.New("worker: exhausted room code generation attempts")
}

func (w *Worker) handleJoinGame(conn *connection.Connection, v wire.JoinGame) {
	w.mu.RLock()
	r, ok := w.rooms[v.Code]
	w.mu.RUnlock()
	if !ok {
		conn.Peer().Disconnect(wire.DisconnectGameNotFound)
		return
	}

	joined, err := r.Join(conn, v.Name, v.Temp)
	if err != nil {
		conn.Peer().Disconnect(joinErrorReason(err))
		return
	}

	conn.SetRoomClientID(joined.ClientID)
	conn.JoinRoom(r)

	w.mu.Lock()
	delete(w.roomCreated, v.Code)
	w.mu.Unlock()

	if r.IsWaitingForHost(joined.ClientID) {
		// Join already sent WaitForHost directly; the joiner isn't
		// really in the game yet (spec.md §4.5 join step 5).
		return
	}

	conn.SendReliable(byte(wire.RootJoinedGame), wire.EncodeJoinedGame(joined))

	privacy := wire.AlterGamePrivacyPublic
	if r.IsPrivate() {
		privacy = wire.AlterGamePrivacyPrivate
	}
	alterMsg := wire.EncodeAlterGame(wire.AlterGame{Code: v.Code, Privacy: privacy})
	conn.SendReliable(byte(wire.RootAlterGame), alterMsg)
}

func joinErrorReason(err error) wire.DisconnectReason {
	switch {
	case errors.Is(err, room.ErrRoomFull):
		return wire.DisconnectGameFull
	case errors.Is(err, room.ErrGameStarted):
		return wire.DisconnectGameStarted
	case errors.Is(err, room.ErrBanned):
		return wire.DisconnectBanned
	default:
		return wire.DisconnectError
	}
}

func (w *Worker) handleStartGame(conn *connection.Connection, v wire.StartGame) {
	r, ok := w.roomForConn(conn)
	if !ok || r.Code() != v.Code {
		return
	}
	if err := r.Start(conn.RoomClientID()); err != nil {
		w.logger.Debug("startGame rejected", zap.Error(err))
	}
}

func (w *Worker) handleAlterGame(conn *connection.Connection, v wire.AlterGame) {
	r, ok := w.roomForConn(conn)
	if !ok || r.Code() != v.Code {
		return
	}
	if err := r.AlterGame(conn.RoomClientID(), v.Privacy); err != nil {
		w.logger.Debug("alterGame rejected", zap.Error(err))
	}
}

// handleKickPlayer removes the target from the room's membership via
// r.KickPlayer, then separately tears down the target's transport-level
// peer: room only ever sees connections through the narrow
// room.Connection interface, so it cannot itself send the terminating
// Disconnect control packet a kicked client needs to actually stop
// retrying.
func (w *Worker) handleKickPlayer(conn *connection.Connection, v wire.KickPlayerRequest) {
	r, ok := w.roomForConn(conn)
	if !ok {
		return
	}
	targetConn, hadTarget := r.ConnectionFor(v.TargetClientID)

	if err := r.KickPlayer(conn.RoomClientID(), v.TargetClientID, v.Ban); err != nil {
		w.logger.Debug("kickPlayer rejected", zap.Error(err))
		return
	}
	if !hadTarget {
		return
	}
	tc, ok := targetConn.(*connection.Connection)
	if !ok {
		return
	}
	reason := wire.DisconnectKicked
	if v.Ban {
		reason = wire.DisconnectBanned
	}
	tc.Peer().Disconnect(reason)
}

// handleGameData routes a GameData envelope either through the anti-cheat
// reviewed path or, for unreliable RpcUpdatePosition traffic, straight
// to the room's movement fast path (spec.md §4.6), which trades
// anti-cheat review for the cheap, frequent, low-stakes nature of
// position updates.
func (w *Worker) handleGameData(conn *connection.Connection, v wire.GameDataEnvelope, kind wire.PacketKind) {
	r, ok := w.roomForConn(conn)
	if !ok || r.Code() != v.Code {
		return
	}
	if kind == wire.PacketUnreliable {
		for _, m := range v.Messages {
			rpc, ok := m.(wire.RpcMessage)
			if !ok || rpc.RpcTag != wire.RpcUpdatePosition {
				continue
			}
			x, y, err := codec.NewReader(rpc.Payload).Vector2()
			if err != nil {
				continue
			}
			r.HandleMovement(conn.RoomClientID(), rpc.NetID, x, y)
		}
		return
	}
	r.HandleGameData(conn.RoomClientID(), v.Messages)
}

func (w *Worker) handleGameDataTo(conn *connection.Connection, v wire.GameDataToEnvelope) {
	r, ok := w.roomForConn(conn)
	if !ok || r.Code() != v.Code {
		return
	}
	r.HandleGameDataTo(conn.RoomClientID(), v.TargetClientID, v.Messages)
}

// registryObserver removes a room from the worker's registry once it
// ends, so the sweep loop and future JoinGame lookups stop seeing it.
type registryObserver struct {
	room.NoopObserver
	w *Worker
}

func (o *registryObserver) OnEnd(r *room.Room, intent room.EndGameIntent) {
	o.w.mu.Lock()
	delete(o.w.rooms, r.Code())
	delete(o.w.roomCreated, r.Code())
	o.w.mu.Unlock()
}
