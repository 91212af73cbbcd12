package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/harborlight/roomkeeper/internal/wire"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, validate.Struct(cfg))
	require.Equal(t, 10, cfg.CreateTimeoutSec)
	require.True(t, cfg.ChatCommands.Enabled)
	require.Equal(t, UnknownObjectsReject, cfg.Advanced.UnknownObjects)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listenAddr: \":9999\"\nserverAsHost: true\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.ListenAddr)
	require.True(t, cfg.ServerAsHost)
	require.Equal(t, 10, cfg.CreateTimeoutSec, "unset fields keep Default()'s value")
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listenAddr: \"\"\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestEnforceSettingsConfigApply(t *testing.T) {
	settings := wire.DefaultGameSettings()
	original := settings

	var nilEnforce *EnforceSettingsConfig
	nilEnforce.Apply(&settings)
	require.Equal(t, original, settings, "a nil receiver must leave settings untouched")

	maxPlayers := byte(4)
	confirmEjects := true
	enforce := &EnforceSettingsConfig{MaxPlayers: &maxPlayers, ConfirmEjects: &confirmEjects}
	enforce.Apply(&settings)

	require.EqualValues(t, 4, settings.MaxPlayers)
	require.True(t, settings.ConfirmEjects)
	require.Equal(t, original.ImpostorCount, settings.ImpostorCount, "unpinned fields stay untouched")
}

func TestConfigCloneIsIndependent(t *testing.T) {
	cfg := Default()
	maxPlayers := byte(4)
	cfg.EnforceSettings = &EnforceSettingsConfig{MaxPlayers: &maxPlayers}

	clone := cfg.Clone()
	*clone.EnforceSettings.MaxPlayers = 10

	require.EqualValues(t, 4, *cfg.EnforceSettings.MaxPlayers, "cloning must deep-copy the pointer field")
}
