package wire

import (
	"github.com/go-playground/validator/v10"
	"github.com/harborlight/roomkeeper/internal/codec"
)

// settingsValidate is shared process-wide the way evr/core_stream.go
// shares a single package-level *validator.Validate instance.
var settingsValidate = validator.New()

// GameSettings is the room's map/player-count/impostor-count/timing
// configuration (spec.md §3, "settings: GameSettings"). Every field is
// encoded exactly (no lossy float packing) so the round-trip law R1
// (decode(encode(g)) == g) holds without tolerance.
type GameSettings struct {
	MapID               byte   `yaml:"map_id" validate:"min=0,max=3"`
	MaxPlayers          byte   `yaml:"max_players" validate:"min=4,max=15"`
	ImpostorCount       byte   `yaml:"impostor_count" validate:"min=1,max=3"`
	EmergencyMeetings   byte   `yaml:"emergency_meetings" validate:"min=0,max=9"`
	DiscussionSeconds   uint16 `yaml:"discussion_seconds"`
	VotingSeconds       uint16 `yaml:"voting_seconds"`
	KillCooldownSeconds uint16 `yaml:"kill_cooldown_seconds"`
	PlayerSpeedPercent  uint16 `yaml:"player_speed_percent"`
	VisionPercent       uint16 `yaml:"vision_percent"`
	ConfirmEjects       bool   `yaml:"confirm_ejects"`
	AnonymousVotes      bool   `yaml:"anonymous_votes"`
	TaskBarUpdates      byte   `yaml:"task_bar_updates" validate:"min=0,max=2"`
}

// Validate checks the struct tag constraints above via
// go-playground/validator, grounded on evr/core_stream.go's ValidateStruct.
func (g GameSettings) Validate() error {
	return settingsValidate.Struct(g)
}

// DefaultGameSettings mirrors a conservative default lobby configuration.
func DefaultGameSettings() GameSettings {
	return GameSettings{
		MapID:               0,
		MaxPlayers:          10,
		ImpostorCount:       2,
		EmergencyMeetings:   1,
		DiscussionSeconds:   15,
		VotingSeconds:       120,
		KillCooldownSeconds: 30,
		PlayerSpeedPercent:  100,
		VisionPercent:       100,
		ConfirmEjects:       true,
		AnonymousVotes:      false,
		TaskBarUpdates:      1,
	}
}

// EncodeSettingsInto appends the wire encoding of g to w.
func EncodeSettingsInto(w *codec.Writer, g GameSettings) {
	w.Byte(g.MapID)
	w.Byte(g.MaxPlayers)
	w.Byte(g.ImpostorCount)
	w.Byte(g.EmergencyMeetings)
	w.Uint16LE(g.DiscussionSeconds)
	w.Uint16LE(g.VotingSeconds)
	w.Uint16LE(g.KillCooldownSeconds)
	w.Uint16LE(g.PlayerSpeedPercent)
	w.Uint16LE(g.VisionPercent)
	w.Bool(g.ConfirmEjects)
	w.Bool(g.AnonymousVotes)
	w.Byte(g.TaskBarUpdates)
}

// EncodeSettings returns the standalone wire encoding of g.
func EncodeSettings(g GameSettings) []byte {
	w := codec.NewWriter(24)
	EncodeSettingsInto(w, g)
	return w.Bytes()
}

// DecodeSettingsFrom decodes a GameSettings value from r.
func DecodeSettingsFrom(r *codec.Reader) (GameSettings, error) {
	var g GameSettings
	var err error
	if g.MapID, err = r.Byte(); err != nil {
		return g, err
	}
	if g.MaxPlayers, err = r.Byte(); err != nil {
		return g, err
	}
	if g.ImpostorCount, err = r.Byte(); err != nil {
		return g, err
	}
	if g.EmergencyMeetings, err = r.Byte(); err != nil {
		return g, err
	}
	if g.DiscussionSeconds, err = r.Uint16LE(); err != nil {
		return g, err
	}
	if g.VotingSeconds, err = r.Uint16LE(); err != nil {
		return g, err
	}
	if g.KillCooldownSeconds, err = r.Uint16LE(); err != nil {
		return g, err
	}
	if g.PlayerSpeedPercent, err = r.Uint16LE(); err != nil {
		return g, err
	}
	if g.VisionPercent, err = r.Uint16LE(); err != nil {
		return g, err
	}
	if g.ConfirmEjects, err = r.Bool(); err != nil {
		return g, err
	}
	if g.AnonymousVotes, err = r.Bool(); err != nil {
		return g, err
	}
	if g.TaskBarUpdates, err = r.Byte(); err != nil {
		return g, err
	}
	return g, nil
}

// DecodeSettings decodes a standalone GameSettings payload.
func DecodeSettings(payload []byte) (GameSettings, error) {
	return DecodeSettingsFrom(codec.NewReader(payload))
}
