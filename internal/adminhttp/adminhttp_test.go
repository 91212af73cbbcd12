package adminhttp

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/harborlight/roomkeeper/internal/wire"
	"github.com/harborlight/roomkeeper/internal/worker"
)

type fakeRooms struct {
	created  wire.GameSettings
	statuses map[string]worker.RoomStatus
	destroy  []string
}

func (f *fakeRooms) AdminCreateRoom(settings wire.GameSettings) (string, error) {
	f.created = settings
	return "ABCDEF", nil
}
func (f *fakeRooms) AdminDestroyRoom(code string) bool {
	f.destroy = append(f.destroy, code)
	_, ok := f.statuses[code]
	return ok
}
func (f *fakeRooms) AdminRoomStatus(code string) (worker.RoomStatus, bool) {
	s, ok := f.statuses[code]
	return s, ok
}
func (f *fakeRooms) AdminListRooms() []worker.RoomStatus {
	out := make([]worker.RoomStatus, 0, len(f.statuses))
	for _, s := range f.statuses {
		out = append(out, s)
	}
	return out
}

func newTestServer() (*Server, *fakeRooms) {
	rooms := &fakeRooms{statuses: map[string]worker.RoomStatus{
		"ABCDEF": {Code: "ABCDEF", PlayerCount: 2, HostID: 1},
	}}
	return New(zap.NewNop(), rooms, nil), rooms
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateRoom(t *testing.T) {
	srv, rooms := newTestServer()
	body := bytes.NewBufferString(`{"settings":{"maxPlayers":10}}`)
	req := httptest.NewRequest(http.MethodPost, "/rooms", body)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp createRoomResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ABCDEF", resp.Code)
	require.EqualValues(t, 10, rooms.created.MaxPlayers)
}

func TestRoomStatusNotFound(t *testing.T) {
	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/rooms/ZZZZZZ", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDestroyRoom(t *testing.T) {
	srv, rooms := newTestServer()
	req := httptest.NewRequest(http.MethodDelete, "/rooms/ABCDEF", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, []string{"ABCDEF"}, rooms.destroy)
}
