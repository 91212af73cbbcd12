package authapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
)

func TestGetConnectionUserDecodesAndCaches(t *testing.T) {
	id := uuid.Must(uuid.NewV4())
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(User{ID: id, DisplayName: "Red", OwnedCosmetics: []uint32{1, 2}})
	}))
	defer srv.Close()

	c := New(srv.URL)
	u, err := c.GetConnectionUser(context.Background(), "conn-1")
	require.NoError(t, err)
	require.Equal(t, id, u.ID)
	require.Equal(t, "Red", u.DisplayName)
	require.True(t, u.OwnsCosmetic(2))
	require.False(t, u.OwnsCosmetic(99))

	_, err = c.GetConnectionUser(context.Background(), "conn-1")
	require.NoError(t, err)
	require.Equal(t, 1, calls, "second call must be served from cache")
}

func TestGetConnectionUserCachesNotFound(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL)
	u, err := c.GetConnectionUser(context.Background(), "conn-missing")
	require.NoError(t, err)
	require.Nil(t, u)

	u, err = c.GetConnectionUser(context.Background(), "conn-missing")
	require.NoError(t, err)
	require.Nil(t, u)
	require.Equal(t, 1, calls, "second lookup of a missing user must be served from cache")
}

func TestOwnsCosmeticOnNilUser(t *testing.T) {
	var u *User
	require.False(t, u.OwnsCosmetic(1))
}
