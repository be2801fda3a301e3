package models

import (
	"strings"
	"unicode"
)

// GeneralChannel is the protected default channel. It can never be deleted
// from the client; deleting the active channel navigates back to it.
const GeneralChannel = "general"

// dmPrefix is the naming convention for direct-message channels.
const dmPrefix = "dm-"

// Channel represents a chat channel. The ID is a slug derived from the
// name at creation time.
type Channel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedBy   string `json:"created_by,omitempty"`
	CreatedAt   int64  `json:"created_at,omitempty"` // Unix ms
}

// IsDirect reports whether the channel is a direct-message channel.
func (c Channel) IsDirect() bool {
	return strings.HasPrefix(c.ID, dmPrefix)
}

// Slugify derives a channel ID from user input: lowercase, whitespace to
// hyphens, everything outside [a-z0-9-] stripped.
func Slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte('-')
		}
	}
	return b.String()
}
