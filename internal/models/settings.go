package models

import (
	"fmt"
	"time"
)

// Theme is the UI color scheme.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// AccentColor is one of the named accent presets.
type AccentColor string

const (
	AccentBlue   AccentColor = "blue"
	AccentGreen  AccentColor = "green"
	AccentPurple AccentColor = "purple"
	AccentOrange AccentColor = "orange"
	AccentRose   AccentColor = "rose"
)

// SoundType selects the synthesized notification tone.
type SoundType string

const (
	SoundNone    SoundType = "none"
	SoundSubtle  SoundType = "subtle"
	SoundClassic SoundType = "classic"
	SoundModern  SoundType = "modern"
)

// QuietHours is a daily time-of-day window during which notifications are
// suppressed. Overnight windows (Start > End) wrap past midnight.
type QuietHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"` // "HH:MM"
	End     string `json:"end"`   // "HH:MM"
}

// Contains reports whether t falls inside the window. Always false when
// the window is disabled or malformed.
func (q QuietHours) Contains(t time.Time) bool {
	if !q.Enabled {
		return false
	}
	start, err := parseClock(q.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(q.End)
	if err != nil {
		return false
	}
	now := t.Hour()*60 + t.Minute()
	if start <= end {
		return now >= start && now < end
	}
	// Overnight: window spans midnight.
	return now >= start || now < end
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, err
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock out of range: %q", s)
	}
	return h*60 + m, nil
}

// ChannelNotification holds per-channel notification overrides.
type ChannelNotification struct {
	Muted       bool      `json:"muted"`
	CustomSound SoundType `json:"custom_sound,omitempty"`
}

// NotificationSettings is the fixed set of recognized notification options.
// Construct through DefaultSettings / Normalize rather than a bare literal
// so missing fields pick up defaults instead of zero values.
type NotificationSettings struct {
	SoundEnabled         bool                           `json:"sound_enabled"`
	SoundVolume          int                            `json:"sound_volume"` // 0-100
	SoundType            SoundType                      `json:"sound_type"`
	DesktopNotifications bool                           `json:"desktop_notifications"`
	AllMessages          bool                           `json:"all_messages"`
	DirectMessages       bool                           `json:"direct_messages"`
	Mentions             bool                           `json:"mentions"`
	Keywords             []string                       `json:"keywords,omitempty"`
	ChannelSettings      map[string]ChannelNotification `json:"channel_settings,omitempty"`
	DoNotDisturb         bool                           `json:"do_not_disturb"`
	DoNotDisturbUntil    int64                          `json:"do_not_disturb_until,omitempty"` // Unix ms; once passed, disturb resumes
	QuietHours           QuietHours                     `json:"quiet_hours"`
}

// Settings is a user's persisted preference record (user_settings row).
type Settings struct {
	ID            string               `json:"id"` // user ID
	Theme         Theme                `json:"theme"`
	Accent        AccentColor          `json:"accent"`
	Notifications NotificationSettings `json:"notifications"`
}

// DefaultSettings returns the settings applied to users with no stored
// record, and the base the fill-missing-fields rule merges onto.
func DefaultSettings(userID string) Settings {
	return Settings{
		ID:     userID,
		Theme:  ThemeDark,
		Accent: AccentBlue,
		Notifications: NotificationSettings{
			SoundEnabled:         true,
			SoundVolume:          70,
			SoundType:            SoundSubtle,
			DesktopNotifications: false,
			AllMessages:          false,
			DirectMessages:       true,
			Mentions:             true,
			QuietHours:           QuietHours{Start: "22:00", End: "08:00"},
		},
	}
}

// Normalize fills unrecognized or missing enum fields with defaults.
// Booleans persist as stored; only closed enums and ranges are corrected.
func (s Settings) Normalize() Settings {
	if s.Theme != ThemeLight && s.Theme != ThemeDark {
		s.Theme = ThemeDark
	}
	switch s.Accent {
	case AccentBlue, AccentGreen, AccentPurple, AccentOrange, AccentRose:
	default:
		s.Accent = AccentBlue
	}
	switch s.Notifications.SoundType {
	case SoundNone, SoundSubtle, SoundClassic, SoundModern:
	default:
		s.Notifications.SoundType = SoundSubtle
	}
	if s.Notifications.SoundVolume < 0 {
		s.Notifications.SoundVolume = 0
	}
	if s.Notifications.SoundVolume > 100 {
		s.Notifications.SoundVolume = 100
	}
	return s
}
