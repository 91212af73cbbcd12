// Package config loads the room-option surface of spec.md §6 from YAML,
// following the teacher's config_cluster.go idiom: a plain struct with
// yaml/json/usage tags, a NewXConfig constructor carrying defaults, and
// GetX accessors that convert raw fields (seconds, string enums) into
// the types callers actually want.
package config

import (
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/harborlight/roomkeeper/internal/wire"
)

var validate = validator.New()

// ChatCommandsConfig models spec.md §6's `chatCommands: bool |
// {prefix: string}` union as a struct with an Enabled flag, since YAML
// has no native sum type for "bool or object".
type ChatCommandsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Prefix  string `yaml:"prefix" json:"prefix" validate:"omitempty,min=1,max=4"`
}

// UnknownObjectsMode is spec.md §6's `advanced.unknownObjects ∈ {false,
// true, "all", list<spawnTypeId|name>}` union, modeled the same way.
type UnknownObjectsMode string

const (
	UnknownObjectsReject UnknownObjectsMode = "false"
	UnknownObjectsAll    UnknownObjectsMode = "all"
	UnknownObjectsList   UnknownObjectsMode = "list"
)

type AdvancedConfig struct {
	UnknownObjects     UnknownObjectsMode `yaml:"unknownObjects" json:"unknownObjects" validate:"omitempty,oneof=false all list"`
	UnknownObjectsList []uint32           `yaml:"unknownObjectsList" json:"unknownObjectsList"`
}

// MovementOptimizations is spec.md §6's `optimizations.movement` block.
type MovementOptimizations struct {
	UpdateRate    int  `yaml:"updateRate" json:"updateRate" validate:"min=0"`
	VisionChecks  bool `yaml:"visionChecks" json:"visionChecks"`
	DeadChecks    bool `yaml:"deadChecks" json:"deadChecks"`
	ReuseBuffer   bool `yaml:"reuseBuffer" json:"reuseBuffer"`
}

type OptimizationsConfig struct {
	Movement MovementOptimizations `yaml:"movement" json:"movement"`
}

// ServerPlayerConfig is the cosmetic identity the server uses when it
// speaks in chat as the acting host (spec.md §6).
type ServerPlayerConfig struct {
	Name  string `yaml:"name" json:"name" validate:"required"`
	Color byte   `yaml:"color" json:"color"`
	Hat   uint32 `yaml:"hat" json:"hat"`
	Skin  uint32 `yaml:"skin" json:"skin"`
}

// LoggingFormatConfig picks which struct fields a room/player-scoped
// zap.Logger attaches, per spec.md §6's `logging.rooms.format` /
// `logging.players.format`.
type LoggingFormatConfig struct {
	Rooms struct {
		Format []string `yaml:"format" json:"format"`
	} `yaml:"rooms" json:"rooms"`
	Players struct {
		Format []string `yaml:"format" json:"format"`
	} `yaml:"players" json:"players"`
}

// Config is the full recognized room-option surface of spec.md §6, plus
// the ambient logging/listener settings the binary needs.
type Config struct {
	ListenAddr string `yaml:"listenAddr" json:"listenAddr" validate:"required"`
	AdminAddr  string `yaml:"adminAddr" json:"adminAddr"`

	ServerAsHost      bool                  `yaml:"serverAsHost" json:"serverAsHost"`
	CreateTimeoutSec  int                   `yaml:"createTimeout" json:"createTimeout" validate:"min=1"`
	ChatCommands      ChatCommandsConfig    `yaml:"chatCommands" json:"chatCommands"`
	EnforceSettings   *EnforceSettingsConfig `yaml:"enforceSettings" json:"enforceSettings"`
	Advanced          AdvancedConfig        `yaml:"advanced" json:"advanced"`
	Optimizations     OptimizationsConfig   `yaml:"optimizations" json:"optimizations"`
	ServerPlayer      ServerPlayerConfig    `yaml:"serverPlayer" json:"serverPlayer"`
	Logging           LoggingFormatConfig   `yaml:"logging" json:"logging"`

	// AuthAPIBaseURL, when non-empty, points at the identity service the
	// anti-cheat cosmetic check calls to confirm a display name or
	// cosmetic id against the caller's authenticated account (spec.md
	// §4.7). Left empty, cosmetic RPCs get only the general
	// object-ownership check; no identity check runs, and no check
	// against a list of valid cosmetic ids exists either way.
	AuthAPIBaseURL string `yaml:"authApiBaseUrl" json:"authApiBaseUrl"`

	LogPath    string `yaml:"logPath" json:"logPath"`
	LogMaxSize int    `yaml:"logMaxSizeMB" json:"logMaxSizeMB" validate:"min=1"`
}

// EnforceSettingsConfig lets an operator pin some or all GameSettings
// fields regardless of what a client's HostGame proposes; a nil pointer
// field on the struct leaves that setting client-controlled.
type EnforceSettingsConfig struct {
	MapID               *byte   `yaml:"mapId" json:"mapId"`
	MaxPlayers          *byte   `yaml:"maxPlayers" json:"maxPlayers"`
	ImpostorCount       *byte   `yaml:"impostorCount" json:"impostorCount"`
	EmergencyMeetings   *byte   `yaml:"emergencyMeetings" json:"emergencyMeetings"`
	DiscussionSeconds   *uint16 `yaml:"discussionSeconds" json:"discussionSeconds"`
	VotingSeconds       *uint16 `yaml:"votingSeconds" json:"votingSeconds"`
	KillCooldownSeconds *uint16 `yaml:"killCooldownSeconds" json:"killCooldownSeconds"`
	PlayerSpeedPercent  *uint16 `yaml:"playerSpeedPercent" json:"playerSpeedPercent"`
	VisionPercent       *uint16 `yaml:"visionPercent" json:"visionPercent"`
	ConfirmEjects       *bool   `yaml:"confirmEjects" json:"confirmEjects"`
	AnonymousVotes      *bool   `yaml:"anonymousVotes" json:"anonymousVotes"`
	TaskBarUpdates      *byte   `yaml:"taskBarUpdates" json:"taskBarUpdates"`
}

// Default returns a Config with the defaults spec.md §6 documents.
func Default() *Config {
	return &Config{
		ListenAddr:       ":22023",
		AdminAddr:        ":8085",
		ServerAsHost:     false,
		CreateTimeoutSec: 10,
		ChatCommands:     ChatCommandsConfig{Enabled: true, Prefix: "/"},
		Advanced:         AdvancedConfig{UnknownObjects: UnknownObjectsReject},
		Optimizations: OptimizationsConfig{
			Movement: MovementOptimizations{UpdateRate: 1, VisionChecks: true, DeadChecks: true, ReuseBuffer: true},
		},
		ServerPlayer: ServerPlayerConfig{Name: "Server"},
		LogMaxSize:   100,
	}
}

// Load reads and validates a YAML config file, filling any zero-valued
// field left unset by the file with Default()'s value. Grounded on the
// teacher's config loading convention of defaults-then-overlay rather
// than requiring every field to be present on disk.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return cfg, nil
}

// CreateTimeout returns CreateTimeoutSec as a time.Duration.
func (c *Config) CreateTimeout() time.Duration {
	return time.Duration(c.CreateTimeoutSec) * time.Second
}

// Apply overwrites any field of settings this operator-pinned
// enforcement block sets, regardless of what a client's HostGame
// proposed. A nil receiver leaves settings untouched, so callers can
// invoke it unconditionally on Config.EnforceSettings.
func (e *EnforceSettingsConfig) Apply(settings *wire.GameSettings) {
	if e == nil {
		return
	}
	if e.MapID != nil {
		settings.MapID = *e.MapID
	}
	if e.MaxPlayers != nil {
		settings.MaxPlayers = *e.MaxPlayers
	}
	if e.ImpostorCount != nil {
		settings.ImpostorCount = *e.ImpostorCount
	}
	if e.EmergencyMeetings != nil {
		settings.EmergencyMeetings = *e.EmergencyMeetings
	}
	if e.DiscussionSeconds != nil {
		settings.DiscussionSeconds = *e.DiscussionSeconds
	}
	if e.VotingSeconds != nil {
		settings.VotingSeconds = *e.VotingSeconds
	}
	if e.KillCooldownSeconds != nil {
		settings.KillCooldownSeconds = *e.KillCooldownSeconds
	}
	if e.PlayerSpeedPercent != nil {
		settings.PlayerSpeedPercent = *e.PlayerSpeedPercent
	}
	if e.VisionPercent != nil {
		settings.VisionPercent = *e.VisionPercent
	}
	if e.ConfirmEjects != nil {
		settings.ConfirmEjects = *e.ConfirmEjects
	}
	if e.AnonymousVotes != nil {
		settings.AnonymousVotes = *e.AnonymousVotes
	}
	if e.TaskBarUpdates != nil {
		settings.TaskBarUpdates = *e.TaskBarUpdates
	}
}

// Clone returns a deep-enough copy for safe concurrent reads while the
// original is reloaded, mirroring ClusterConfig.Clone.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cp := *c
	if c.EnforceSettings != nil {
		es := *c.EnforceSettings
		v := reflect.ValueOf(&es).Elem()
		for i := 0; i < v.NumField(); i++ {
			if f := v.Field(i); !f.IsNil() {
				dup := reflect.New(f.Type().Elem())
				dup.Elem().Set(f.Elem())
				f.Set(dup)
			}
		}
		cp.EnforceSettings = &es
	}
	return &cp
}
