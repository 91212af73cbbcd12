package chatcmd

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/harborlight/roomkeeper/internal/codec"
	"github.com/harborlight/roomkeeper/internal/room"
	"github.com/harborlight/roomkeeper/internal/wire"
)

type fakeConn struct {
	mu       sync.Mutex
	reliable [][]byte
}

func (f *fakeConn) SendReliable(tag byte, payload []byte) {
	f.mu.Lock()
	f.reliable = append(f.reliable, payload)
	f.mu.Unlock()
}
func (f *fakeConn) SendUnreliable(tag byte, payload []byte) { f.SendReliable(tag, payload) }
func (f *fakeConn) RemoteAddr() string                      { return fmt.Sprintf("%p", f) }
func (f *fakeConn) ConnectionID() string                    { return fmt.Sprintf("%p", f) }
func (f *fakeConn) Ping() time.Duration                      { return 20 * time.Millisecond }

func (f *fakeConn) lastChatText(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.reliable)
	code, msgs, err := wire.DecodeGameData(f.reliable[len(f.reliable)-1])
	require.NoError(t, err)
	_ = code
	require.Len(t, msgs, 1)
	rpc, ok := msgs[0].(wire.RpcMessage)
	require.True(t, ok)
	require.Equal(t, wire.RpcSendChat, rpc.RpcTag)
	text, err := codec.NewReader(rpc.Payload).String()
	require.NoError(t, err)
	return text
}

func newTestRoomWithDispatcher(t *testing.T) (*room.Room, *fakeConn) {
	t.Helper()
	r := room.New(123456, wire.DefaultGameSettings(), room.ClassicHost, zap.NewNop())
	r.AddObserver(New(zap.NewNop()))
	c := &fakeConn{}
	_, err := r.Join(c, "Alice", false)
	require.NoError(t, err)
	return r, c
}

func sendChat(r *room.Room, fromClientID uint32, text string) {
	w := codec.NewWriter(len(text) + 4)
	w.WriteString(text)
	r.HandleGameData(fromClientID, []wire.GameDataMsg{
		wire.RpcMessage{NetID: 1, RpcTag: wire.RpcSendChat, Payload: w.Bytes()},
	})
}

func TestUnknownCommandRepliesWithError(t *testing.T) {
	r, c := newTestRoomWithDispatcher(t)
	sendChat(r, 1, "/nope")
	require.Contains(t, c.lastChatText(t), "unknown command")
}

func TestHelpListsCommands(t *testing.T) {
	r, c := newTestRoomWithDispatcher(t)
	sendChat(r, 1, "/help")
	require.Contains(t, c.lastChatText(t), "available commands")
}

func TestMuteRequiresHost(t *testing.T) {
	r := room.New(123456, wire.DefaultGameSettings(), room.ClassicHost, zap.NewNop())
	r.AddObserver(New(zap.NewNop()))
	host := &fakeConn{}
	_, err := r.Join(host, "Alice", false)
	require.NoError(t, err)
	guest := &fakeConn{}
	_, err = r.Join(guest, "Bob", false)
	require.NoError(t, err)

	sendChat(r, 2, "/mute 1")
	require.Contains(t, guest.lastChatText(t), "only the host")
}

func TestOrdinaryChatIsNotConsumed(t *testing.T) {
	r, host := newTestRoomWithDispatcher(t)
	guest := &fakeConn{}
	_, err := r.Join(guest, "Bob", false)
	require.NoError(t, err)

	_ = host
	sendChat(r, 1, "hello everyone")

	// Not a command: dispatchChatCommand declines, so HandleGameData
	// relays it to the other member instead of the dispatcher replying
	// to the sender.
	require.Equal(t, "hello everyone", guest.lastChatText(t))
}
