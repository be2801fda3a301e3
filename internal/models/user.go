package models

// Status is a user's presence status. There is no persisted "offline":
// absence from a presence scope is offline.
type Status string

const (
	StatusActive Status = "active"
	StatusAway   Status = "away"
	StatusBusy   Status = "busy"
)

// Valid reports whether s is a recognized status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusAway, StatusBusy:
		return true
	}
	return false
}

// User represents a chat user. The same shape doubles as the presence
// payload broadcast on presence channels.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
	Status   Status `json:"status"`
	LastSeen int64  `json:"last_seen"` // Unix ms
}
