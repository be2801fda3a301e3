package models

import "strings"

// PendingIDPrefix marks client-generated provisional message IDs. Server
// IDs are bare ULIDs, so the prefix can never collide with one.
const PendingIDPrefix = "pending-"

// Message represents a chat message. Reactions and ReplyCount are derived
// views maintained by the state layer, not columns of the messages table.
type Message struct {
	ID           string          `json:"id"` // ULID, or pending-<ULID> before confirmation
	Content      string          `json:"content"`
	AuthorID     string          `json:"author_id"`
	AuthorName   string          `json:"author_name,omitempty"`
	AuthorAvatar string          `json:"author_avatar,omitempty"`
	ChannelID    string          `json:"channel_id"`
	ThreadID     string          `json:"thread_id,omitempty"` // set when the message is a reply
	Timestamp    int64           `json:"ts"`                  // Unix ms
	Edited       bool            `json:"edited,omitempty"`
	EditedAt     int64           `json:"edited_at,omitempty"` // Unix ms
	Attachments  []Attachment    `json:"attachments,omitempty"`
	Reactions    []ReactionGroup `json:"-"`
	ReplyCount   int             `json:"-"`
}

// Attachment is a reference to an uploaded file carried by a message.
type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	Size int64  `json:"size,omitempty"`
	URL  string `json:"url"`
}

// IsReply reports whether the message belongs to a thread. Threading is
// single-level: a reply never has replies of its own.
func (m *Message) IsReply() bool {
	return m.ThreadID != ""
}

// Pending reports whether the message still carries a provisional
// client-generated ID.
func (m *Message) Pending() bool {
	return strings.HasPrefix(m.ID, PendingIDPrefix)
}

// Clone returns a deep copy, safe to hold as a rollback snapshot while the
// original keeps mutating.
func (m *Message) Clone() *Message {
	c := *m
	if m.Attachments != nil {
		c.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.Reactions != nil {
		c.Reactions = make([]ReactionGroup, len(m.Reactions))
		for i, g := range m.Reactions {
			c.Reactions[i] = g.Clone()
		}
	}
	return &c
}
