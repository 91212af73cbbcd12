// Package chatcmd implements the slash-command dispatcher spec.md's
// config surface (`chatCommands: bool | {prefix: string}`) and §7's
// "chat-command errors are surfaced to the invoking player via a
// server-authored chat message" imply but never fully specify. It is a
// room.EventObserver, grounded on the same hooks-registration idiom
// anticheat.Gatekeeper uses (embed room.NoopObserver, override only the
// callback of interest).
package chatcmd

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/harborlight/roomkeeper/internal/room"
)

// Handler is one registered command's implementation. It returns the
// text to send back to the invoking player, or an error whose message
// is sent back instead (spec.md §7's chat-command error surfacing).
type Handler func(r *room.Room, clientID uint32, args []string) (string, error)

// Dispatcher is a room.EventObserver that answers OnChatCommand for the
// commands it knows and replies "unknown command" to any other.
type Dispatcher struct {
	room.NoopObserver

	logger   *zap.Logger
	mu       sync.RWMutex
	commands map[string]Handler
}

// New builds a Dispatcher pre-registered with the built-in command
// table (help, mute, unmute); callers can Register additional commands
// before attaching the Dispatcher to a room.
func New(logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{logger: logger, commands: make(map[string]Handler)}
	d.Register("help", d.handleHelp)
	d.Register("mute", handleMute)
	d.Register("unmute", handleUnmute)
	return d
}

// Register adds or replaces a command handler by name (case-insensitive).
func (d *Dispatcher) Register(name string, h Handler) {
	d.mu.Lock()
	d.commands[strings.ToLower(name)] = h
	d.mu.Unlock()
}

// OnChatCommand implements room.EventObserver. It always returns true
// (message consumed): an unregistered cmd gets an "unknown command"
// reply, and a registered one is consumed whether or not its handler
// succeeded.
func (d *Dispatcher) OnChatCommand(r *room.Room, clientID uint32, cmd string, args []string) bool {
	d.mu.RLock()
	h, ok := d.commands[strings.ToLower(cmd)]
	d.mu.RUnlock()
	if !ok {
		r.SendServerChat(clientID, fmt.Sprintf("unknown command: %s", cmd))
		return true
	}

	reply, err := h(r, clientID, args)
	if err != nil {
		d.logger.Debug("chat command failed",
			zap.String("cmd", cmd), zap.Uint32("client_id", clientID), zap.Error(err))
		r.SendServerChat(clientID, err.Error())
		return true
	}
	if reply != "" {
		r.SendServerChat(clientID, reply)
	}
	return true
}

func (d *Dispatcher) handleHelp(r *room.Room, clientID uint32, args []string) (string, error) {
	d.mu.RLock()
	names := make([]string, 0, len(d.commands))
	for name := range d.commands {
		names = append(names, name)
	}
	d.mu.RUnlock()
	return "available commands: " + strings.Join(names, ", "), nil
}

// mutedPlayers tracks server-side text mute state, keyed by room code
// and target client id. It lives at package scope since Handler has no
// receiver to hold state on; a real deployment with plugin-provided
// commands would carry this on Dispatcher instead, but the built-in
// mute/unmute pair never needs anything richer than a process-wide set.
var (
	mutedMu sync.Mutex
	muted   = make(map[int32]map[uint32]bool)
)

func handleMute(r *room.Room, clientID uint32, args []string) (string, error) {
	if r.HostID() != clientID {
		return "", fmt.Errorf("only the host can mute players")
	}
	target, err := parseClientID(args)
	if err != nil {
		return "", err
	}
	mutedMu.Lock()
	if muted[r.Code()] == nil {
		muted[r.Code()] = make(map[uint32]bool)
	}
	muted[r.Code()][target] = true
	mutedMu.Unlock()
	return fmt.Sprintf("muted client %d", target), nil
}

func handleUnmute(r *room.Room, clientID uint32, args []string) (string, error) {
	if r.HostID() != clientID {
		return "", fmt.Errorf("only the host can unmute players")
	}
	target, err := parseClientID(args)
	if err != nil {
		return "", err
	}
	mutedMu.Lock()
	delete(muted[r.Code()], target)
	mutedMu.Unlock()
	return fmt.Sprintf("unmuted client %d", target), nil
}

// IsMuted reports whether clientID has been muted in room code. Nothing
// in the room or worker chat relay calls it, so ordinary (non-command)
// chat from a muted client is still relayed.
func IsMuted(code int32, clientID uint32) bool {
	mutedMu.Lock()
	defer mutedMu.Unlock()
	return muted[code][clientID]
}

func parseClientID(args []string) (uint32, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("usage: mute|unmute <clientId>")
	}
	var id uint32
	if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
		return 0, fmt.Errorf("invalid client id %q", args[0])
	}
	return id, nil
}
