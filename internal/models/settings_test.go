package models

import (
	"testing"
	"time"
)

func clock(t *testing.T, hhmm string) time.Time {
	t.Helper()
	parsed, err := time.Parse("15:04", hhmm)
	if err != nil {
		t.Fatal(err)
	}
	return parsed
}

func TestQuietHoursSameDay(t *testing.T) {
	q := QuietHours{Enabled: true, Start: "09:00", End: "17:00"}

	tests := []struct {
		at   string
		want bool
	}{
		{"08:59", false},
		{"09:00", true},
		{"12:30", true},
		{"16:59", true},
		{"17:00", false}, // end is exclusive
		{"23:00", false},
	}
	for _, tt := range tests {
		if got := q.Contains(clock(t, tt.at)); got != tt.want {
			t.Errorf("Contains(%s) = %v, want %v", tt.at, got, tt.want)
		}
	}
}

func TestQuietHoursOvernight(t *testing.T) {
	q := QuietHours{Enabled: true, Start: "22:00", End: "08:00"}

	tests := []struct {
		at   string
		want bool
	}{
		{"23:30", true},
		{"00:00", true},
		{"06:00", true},
		{"07:59", true},
		{"08:00", false},
		{"12:00", false},
		{"21:59", false},
		{"22:00", true},
	}
	for _, tt := range tests {
		if got := q.Contains(clock(t, tt.at)); got != tt.want {
			t.Errorf("Contains(%s) = %v, want %v", tt.at, got, tt.want)
		}
	}
}

func TestQuietHoursDisabledOrMalformed(t *testing.T) {
	if (QuietHours{Enabled: false, Start: "00:00", End: "23:59"}).Contains(clock(t, "12:00")) {
		t.Fatal("disabled window should never contain")
	}
	if (QuietHours{Enabled: true, Start: "half past", End: "08:00"}).Contains(clock(t, "12:00")) {
		t.Fatal("malformed start should never contain")
	}
	if (QuietHours{Enabled: true, Start: "25:00", End: "08:00"}).Contains(clock(t, "12:00")) {
		t.Fatal("out-of-range start should never contain")
	}
}

func TestNormalizeFillsUnknownEnums(t *testing.T) {
	s := Settings{
		ID:     "u1",
		Theme:  "sepia",
		Accent: "chartreuse",
	}
	s.Notifications.SoundType = "airhorn"
	s.Notifications.SoundVolume = 250

	n := s.Normalize()
	if n.Theme != ThemeDark {
		t.Fatalf("theme not defaulted: %q", n.Theme)
	}
	if n.Accent != AccentBlue {
		t.Fatalf("accent not defaulted: %q", n.Accent)
	}
	if n.Notifications.SoundType != SoundSubtle {
		t.Fatalf("sound type not defaulted: %q", n.Notifications.SoundType)
	}
	if n.Notifications.SoundVolume != 100 {
		t.Fatalf("volume not clamped: %d", n.Notifications.SoundVolume)
	}
}

func TestNormalizeKeepsValidValues(t *testing.T) {
	s := DefaultSettings("u1")
	s.Theme = ThemeLight
	s.Accent = AccentRose
	s.Notifications.SoundType = SoundModern
	s.Notifications.DoNotDisturb = true

	n := s.Normalize()
	if n.Theme != ThemeLight || n.Accent != AccentRose {
		t.Fatalf("valid appearance values changed: %+v", n)
	}
	if n.Notifications.SoundType != SoundModern || !n.Notifications.DoNotDisturb {
		t.Fatalf("valid notification values changed: %+v", n.Notifications)
	}
}
