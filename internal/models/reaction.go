package models

// Reaction is a raw reaction row: one user, one emoji, one message.
// At most one row exists per (message_id, user_id, emoji) triple; the UI
// never consumes rows directly, only ReactionGroup aggregates.
type Reaction struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
	Timestamp int64  `json:"ts"` // Unix ms
}

// ReactionGroup is the per-emoji aggregate of a message's reactions.
type ReactionGroup struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// Clone returns a copy with its own Users slice.
func (g ReactionGroup) Clone() ReactionGroup {
	c := g
	c.Users = append([]string(nil), g.Users...)
	return c
}

// HasUser reports whether the user is part of the group.
func (g ReactionGroup) HasUser(userID string) bool {
	for _, u := range g.Users {
		if u == userID {
			return true
		}
	}
	return false
}
