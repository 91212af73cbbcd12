// Package authapi models the out-of-scope "HTTP account/cosmetics/
// bundle/auth service" collaborator spec.md §1/§7 calls `AuthAPI`: a
// contract interface plus a thin HTTP client implementation, grounded
// on the teacher's own external-service HTTP clients
// (service/auth_discord.go builds a plain *http.Client, sets a JSON
// content type, and decodes the response body directly into a typed
// struct).
package authapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
)

// User is the account record AuthAPI.getConnectionUser returns
// (spec.md §7: "User{id, display_name, owned_cosmetics[]}").
type User struct {
	ID             uuid.UUID `json:"id"`
	DisplayName    string    `json:"display_name"`
	OwnedCosmetics []uint32  `json:"owned_cosmetics"`
}

// OwnsCosmetic reports whether id appears in the user's cosmetic
// inventory, the check anticheat's cosmetic-RPC classification needs.
func (u *User) OwnsCosmetic(id uint32) bool {
	if u == nil {
		return false
	}
	for _, c := range u.OwnedCosmetics {
		if c == id {
			return true
		}
	}
	return false
}

// AuthAPI is the collaborator contract spec.md §7 names. getConnectionUser
// must be idempotent and cacheable per-connection; Client below adds
// that caching on top of a bare HTTP round trip.
type AuthAPI interface {
	GetConnectionUser(ctx context.Context, connectionID string) (*User, error)
}

// Client is the concrete HTTP-backed AuthAPI implementation. A nil User
// with a nil error means the auth service affirmatively reported no
// account for that connection (spec.md's "User | null").
type Client struct {
	baseURL string
	http    *http.Client

	cacheMu sync.RWMutex
	cache   map[string]*User
}

// New builds a Client against baseURL (e.g. "https://accounts.internal").
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
		cache:   make(map[string]*User),
	}
}

// GetConnectionUser implements AuthAPI, caching the result (including a
// nil "no such user" result) for the lifetime of the Client so repeated
// anti-cheat ownership checks against the same connection don't each
// cost a round trip.
func (c *Client) GetConnectionUser(ctx context.Context, connectionID string) (*User, error) {
	c.cacheMu.RLock()
	if u, ok := c.cache[connectionID]; ok {
		c.cacheMu.RUnlock()
		return u, nil
	}
	c.cacheMu.RUnlock()

	endpoint := fmt.Sprintf("%s/connections/%s/user", c.baseURL, url.PathEscape(connectionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("authapi: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("authapi: request connection %s: %w", connectionID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.cacheMu.Lock()
		c.cache[connectionID] = nil
		c.cacheMu.Unlock()
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("authapi: connection %s: unexpected status %d", connectionID, resp.StatusCode)
	}

	var u User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("authapi: decode response for %s: %w", connectionID, err)
	}

	c.cacheMu.Lock()
	c.cache[connectionID] = &u
	c.cacheMu.Unlock()
	return &u, nil
}
