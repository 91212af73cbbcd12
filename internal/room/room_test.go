package room

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/harborlight/roomkeeper/internal/netobject"
	"github.com/harborlight/roomkeeper/internal/wire"
)

type fakeConn struct {
	mu       sync.Mutex
	reliable [][]byte
	tags     []byte
}

func (f *fakeConn) SendReliable(tag byte, payload []byte) {
	f.mu.Lock()
	f.tags = append(f.tags, tag)
	f.reliable = append(f.reliable, payload)
	f.mu.Unlock()
}

func (f *fakeConn) SendUnreliable(tag byte, payload []byte) {
	f.SendReliable(tag, payload)
}

func (f *fakeConn) RemoteAddr() string {
	return fmt.Sprintf("%p", f)
}

func (f *fakeConn) ConnectionID() string {
	return fmt.Sprintf("%p", f)
}

func (f *fakeConn) Ping() time.Duration {
	return 20 * time.Millisecond
}

func (f *fakeConn) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reliable)
}

func newTestRoom(policy HostPolicy) *Room {
	settings := wire.DefaultGameSettings()
	return New(123456, settings, policy, zap.NewNop())
}

func TestJoinAssignsHostToFirstPlayer(t *testing.T) {
	r := newTestRoom(ClassicHost)
	c1 := &fakeConn{}
	joined, err := r.Join(c1, "Alice", false)
	require.NoError(t, err)
	require.EqualValues(t, 1, joined.ClientID)
	require.Equal(t, joined.ClientID, r.HostID())
}

func TestJoinBroadcastsToExistingMembers(t *testing.T) {
	r := newTestRoom(ClassicHost)
	c1 := &fakeConn{}
	_, err := r.Join(c1, "Alice", false)
	require.NoError(t, err)

	c2 := &fakeConn{}
	_, err = r.Join(c2, "Bob", false)
	require.NoError(t, err)

	require.Equal(t, 1, c1.count())
}

func TestJoinRejectsWhenFull(t *testing.T) {
	settings := wire.DefaultGameSettings()
	settings.MaxPlayers = 1
	r := New(1, settings, ClassicHost, zap.NewNop())

	_, err := r.Join(&fakeConn{}, "Alice", false)
	require.NoError(t, err)

	_, err = r.Join(&fakeConn{}, "Bob", false)
	require.ErrorIs(t, err, ErrRoomFull)
}

func TestHostMigratesOnLeaveUnderClassicHost(t *testing.T) {
	r := newTestRoom(ClassicHost)
	j1, _ := r.Join(&fakeConn{}, "Alice", false)
	j2, _ := r.Join(&fakeConn{}, "Bob", false)
	require.Equal(t, j1.ClientID, r.HostID())

	r.HandleLeave(j1.ClientID, wire.DisconnectExitGame)
	require.Equal(t, j2.ClientID, r.HostID())
}

func TestRoomDestroyedWhenEmpty(t *testing.T) {
	r := newTestRoom(ClassicHost)
	j1, _ := r.Join(&fakeConn{}, "Alice", false)
	r.HandleLeave(j1.ClientID, wire.DisconnectExitGame)
	require.Zero(t, r.PlayerCount())
	require.Equal(t, RoomDestroyed, r.State())
}

func TestStartRequiresHost(t *testing.T) {
	r := newTestRoom(ClassicHost)
	j1, _ := r.Join(&fakeConn{}, "Alice", false)
	j2, _ := r.Join(&fakeConn{}, "Bob", false)

	err := r.Start(j2.ClientID)
	require.ErrorIs(t, err, ErrNotHost)

	err = r.Start(j1.ClientID)
	require.NoError(t, err)
	require.True(t, r.Started())

	r.Destroy(EndGameHostEnded)
}

func TestStartTwiceErrors(t *testing.T) {
	r := newTestRoom(ClassicHost)
	j1, _ := r.Join(&fakeConn{}, "Alice", false)
	require.NoError(t, r.Start(j1.ClientID))
	require.ErrorIs(t, r.Start(j1.ClientID), ErrAlreadyStarted)
	r.Destroy(EndGameHostEnded)
}

func TestAlterGameRequiresHost(t *testing.T) {
	r := newTestRoom(ClassicHost)
	j1, _ := r.Join(&fakeConn{}, "Alice", false)
	j2, _ := r.Join(&fakeConn{}, "Bob", false)

	require.ErrorIs(t, r.AlterGame(j2.ClientID, wire.AlterGamePrivacyPrivate), ErrNotHost)
	require.NoError(t, r.AlterGame(j1.ClientID, wire.AlterGamePrivacyPrivate))
	require.True(t, r.IsPrivate())
}

func TestKickPlayerRequiresHost(t *testing.T) {
	r := newTestRoom(ClassicHost)
	j1, _ := r.Join(&fakeConn{}, "Alice", false)
	j2, _ := r.Join(&fakeConn{}, "Bob", false)

	require.ErrorIs(t, r.KickPlayer(j2.ClientID, j1.ClientID, false), ErrNotHost)
	require.NoError(t, r.KickPlayer(j1.ClientID, j2.ClientID, false))
	require.Equal(t, 1, r.PlayerCount())
}

func TestServerAsHostDisconnectDoesNotBlockPlay(t *testing.T) {
	r := newTestRoom(ServerAsHost)
	j1, _ := r.Join(&fakeConn{}, "Alice", false)
	j2, _ := r.Join(&fakeConn{}, "Bob", false)
	require.Equal(t, j1.ClientID, r.HostID())

	r.HandleLeave(j1.ClientID, wire.DisconnectExitGame)
	require.Equal(t, j2.ClientID, r.HostID())
	require.NoError(t, r.Start(j2.ClientID))
	r.Destroy(EndGameHostEnded)
}

func TestKickPlayerWithBanRejectsRejoin(t *testing.T) {
	r := newTestRoom(ClassicHost)
	j1, _ := r.Join(&fakeConn{}, "Alice", false)
	c2 := &fakeConn{}
	j2, err := r.Join(c2, "Bob", false)
	require.NoError(t, err)

	require.NoError(t, r.KickPlayer(j1.ClientID, j2.ClientID, true))

	_, err = r.Join(c2, "Bob", false)
	require.ErrorIs(t, err, ErrBanned)
}

func TestHandleGameDataSpawnAndRelay(t *testing.T) {
	r := newTestRoom(ClassicHost)
	r.Graph().RegisterPrefab(netobject.Prefab{
		Name:      netobject.SpawnType(0),
		NewObject: func() []netobject.Component { return nil },
	})
	j1, _ := r.Join(&fakeConn{}, "Alice", false)
	c2 := &fakeConn{}
	_, err := r.Join(c2, "Bob", false)
	require.NoError(t, err)

	spawn := wire.SpawnMessage{NetID: 1, SpawnType: 0, OwnerID: int32(j1.ClientID)}
	before := c2.count()
	r.HandleGameData(j1.ClientID, []wire.GameDataMsg{spawn})

	require.True(t, r.Graph().Exists(1))
	require.Greater(t, c2.count(), before)
}
