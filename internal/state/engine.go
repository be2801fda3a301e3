package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/metrics"
	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/models"
	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/store"
)

// maxMessageLen caps message bodies, comfortably below what any backend's
// event payload can carry.
const maxMessageLen = 4096

// Mutation preconditions, checked client-side before any remote call.
var (
	ErrEmptyMessage       = errors.New("state: message is empty")
	ErrMessageTooLong     = errors.New("state: message too long")
	ErrBadThread          = errors.New("state: thread parent not found or nested")
	ErrNotOwner           = errors.New("state: not the author")
	ErrInvalidChannelName = errors.New("state: channel name yields an empty slug")
	ErrChannelExists      = errors.New("state: channel already exists")
	ErrProtectedChannel   = errors.New("state: the general channel cannot be deleted")
)

// Engine applies user mutations optimistically: local state first, remote
// call second, rollback (or refetch) when the remote call fails.
type Engine struct {
	store store.RemoteStore
	cache *Cache
	self  models.User
	log   zerolog.Logger
}

// NewEngine creates a mutation engine acting as the given user.
func NewEngine(st store.RemoteStore, cache *Cache, self models.User, log zerolog.Logger) *Engine {
	return &Engine{store: st, cache: cache, self: self, log: log.With().Str("component", "engine").Logger()}
}

// Self returns the acting user.
func (e *Engine) Self() models.User { return e.self }

// SendMessage inserts a message optimistically and reconciles it with the
// authoritative row. The provisional entry is visible in the cache before
// the remote insert resolves and is replaced in place on success.
func (e *Engine) SendMessage(ctx context.Context, content, channelID, threadID string, attachments []models.Attachment) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" && len(attachments) == 0 {
		return models.Message{}, ErrEmptyMessage
	}
	if len(content) > maxMessageLen {
		return models.Message{}, ErrMessageTooLong
	}
	if threadID != "" {
		parent, ok := e.cache.Message(threadID)
		if !ok || parent.IsReply() {
			// Single-level threading only.
			return models.Message{}, ErrBadThread
		}
	}

	provisional := models.Message{
		ID:           models.PendingIDPrefix + ulid.Make().String(),
		Content:      content,
		AuthorID:     e.self.ID,
		AuthorName:   e.self.Name,
		AuthorAvatar: e.self.Avatar,
		ChannelID:    channelID,
		ThreadID:     threadID,
		Timestamp:    time.Now().UnixMilli(),
		Attachments:  attachments,
	}

	e.cache.mu.Lock()
	e.cache.appendLocked(provisional.Clone())
	e.cache.mu.Unlock()

	// The row goes out without the provisional ID; the store assigns one.
	outbound := provisional
	outbound.ID = ""
	row, err := e.store.Insert(ctx, store.TableMessages, encodeRow(outbound))
	if err != nil {
		e.cache.mu.Lock()
		e.cache.removeLocked(provisional.ID)
		e.cache.mu.Unlock()
		metrics.OptimisticRollbacks.WithLabelValues("send").Inc()
		e.log.Warn().Err(err).Str("channel", channelID).Msg("send failed, provisional entry removed")
		return models.Message{}, fmt.Errorf("send message: %w", err)
	}

	confirmed, err := decodeMessage(row)
	if err != nil {
		return models.Message{}, fmt.Errorf("send message: %w", err)
	}

	e.cache.mu.Lock()
	e.cache.replaceLocked(provisional.ID, confirmed)
	e.cache.mu.Unlock()

	metrics.MessagesSent.Inc()
	return confirmed, nil
}

// ToggleReaction flips the acting user's reaction on a message. Remote
// failure falls back to a full refetch of the channel rather than a
// precise rollback: toggles are idempotent, so reconverging is safe.
func (e *Engine) ToggleReaction(ctx context.Context, messageID, emoji string) error {
	e.cache.mu.Lock()
	m, ok := e.cache.index[messageID]
	if !ok {
		e.cache.mu.Unlock()
		return fmt.Errorf("toggle reaction: %w", store.ErrNotFound)
	}
	channelID := m.ChannelID
	var had bool
	for _, g := range m.Reactions {
		if g.Emoji == emoji && g.HasUser(e.self.ID) {
			had = true
			break
		}
	}
	if had {
		m.Reactions, _ = removeFromGroups(m.Reactions, emoji, e.self.ID)
	} else {
		m.Reactions, _ = addToGroups(m.Reactions, emoji, e.self.ID)
	}
	e.cache.mu.Unlock()

	metrics.ReactionsToggled.Inc()

	var err error
	if had {
		err = e.deleteReactionRow(ctx, messageID, emoji)
	} else {
		_, err = e.store.Insert(ctx, store.TableReactions, encodeRow(models.Reaction{
			MessageID: messageID,
			UserID:    e.self.ID,
			Emoji:     emoji,
			Timestamp: time.Now().UnixMilli(),
		}))
		if errors.Is(err, store.ErrConflict) {
			// The row already exists server-side; the toggle converges.
			err = nil
		}
	}
	if err != nil {
		metrics.RefetchFallbacks.Inc()
		e.log.Warn().Err(err).Str("message", messageID).Msg("reaction toggle failed, refetching channel")
		if refErr := e.RefetchMessages(ctx, channelID); refErr != nil {
			e.log.Error().Err(refErr).Str("channel", channelID).Msg("refetch after failed toggle also failed")
		}
		return fmt.Errorf("toggle reaction: %w", err)
	}
	return nil
}

// deleteReactionRow finds and deletes the raw reaction row matching the
// (message, self, emoji) triple.
func (e *Engine) deleteReactionRow(ctx context.Context, messageID, emoji string) error {
	rows, err := e.store.Select(ctx, store.TableReactions, store.Filter{
		"message_id": messageID,
		"user_id":    e.self.ID,
		"emoji":      emoji,
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil // already gone remotely
	}
	r, err := decodeReaction(rows[0])
	if err != nil {
		return err
	}
	err = e.store.Delete(ctx, store.TableReactions, r.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// EditMessage changes a message's content. Only the author may edit; the
// exact prior snapshot is restored when the remote update fails.
func (e *Engine) EditMessage(ctx context.Context, messageID, newContent string) error {
	newContent = strings.TrimSpace(newContent)
	if newContent == "" {
		return ErrEmptyMessage
	}
	if len(newContent) > maxMessageLen {
		return ErrMessageTooLong
	}

	e.cache.mu.Lock()
	m, ok := e.cache.index[messageID]
	if !ok {
		e.cache.mu.Unlock()
		return fmt.Errorf("edit message: %w", store.ErrNotFound)
	}
	if m.AuthorID != e.self.ID {
		e.cache.mu.Unlock()
		return ErrNotOwner
	}
	snapshot := m.Clone()
	m.Content = newContent
	m.Edited = true
	m.EditedAt = time.Now().UnixMilli()
	patch := encodeRow(map[string]any{
		"content":   m.Content,
		"edited":    true,
		"edited_at": m.EditedAt,
	})
	e.cache.mu.Unlock()

	if _, err := e.store.Update(ctx, store.TableMessages, messageID, patch); err != nil {
		e.cache.mu.Lock()
		if cur, ok := e.cache.index[messageID]; ok {
			*cur = *snapshot
		}
		e.cache.mu.Unlock()
		metrics.OptimisticRollbacks.WithLabelValues("edit").Inc()
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

// DeleteMessage removes a message and cascades to its thread replies.
// A complete snapshot of the root and every cascaded reply is captured
// before mutating, so a remote failure restores all of it.
func (e *Engine) DeleteMessage(ctx context.Context, messageID string) error {
	type removed struct {
		msg *models.Message
		pos int
	}

	e.cache.mu.Lock()
	m, ok := e.cache.index[messageID]
	if !ok {
		e.cache.mu.Unlock()
		return fmt.Errorf("delete message: %w", store.ErrNotFound)
	}
	if m.AuthorID != e.self.ID {
		e.cache.mu.Unlock()
		return ErrNotOwner
	}

	var cascade []removed
	for _, reply := range e.cache.repliesLocked(messageID) {
		r, pos := e.cache.removeLocked(reply.ID)
		cascade = append(cascade, removed{msg: r, pos: pos})
	}
	root, rootPos := e.cache.removeLocked(messageID)
	e.cache.mu.Unlock()

	restore := func() {
		e.cache.mu.Lock()
		e.cache.insertAtLocked(root, rootPos)
		for i := len(cascade) - 1; i >= 0; i-- {
			e.cache.insertAtLocked(cascade[i].msg, cascade[i].pos)
		}
		e.cache.mu.Unlock()
	}

	// Replies first so a mid-cascade failure never orphans a reply row.
	for _, r := range cascade {
		if err := e.remoteDeleteMessage(ctx, r.msg.ID); err != nil {
			restore()
			metrics.OptimisticRollbacks.WithLabelValues("delete").Inc()
			return fmt.Errorf("delete message: %w", err)
		}
	}
	if err := e.remoteDeleteMessage(ctx, messageID); err != nil {
		restore()
		metrics.OptimisticRollbacks.WithLabelValues("delete").Inc()
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// remoteDeleteMessage deletes a message row, tolerating rows that never
// reached the server (provisional) or were already deleted.
func (e *Engine) remoteDeleteMessage(ctx context.Context, id string) error {
	if strings.HasPrefix(id, models.PendingIDPrefix) {
		return nil
	}
	err := e.store.Delete(ctx, store.TableMessages, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// CreateChannel derives a slug from the name and creates the channel
// remotely. No optimistic insert: the change stream delivers the
// confirmed row. Returns the new channel's ID for navigation.
func (e *Engine) CreateChannel(ctx context.Context, name, description string) (string, error) {
	slug := models.Slugify(name)
	if slug == "" {
		return "", ErrInvalidChannelName
	}

	ch := models.Channel{
		ID:          slug,
		Name:        name,
		Description: description,
		CreatedBy:   e.self.ID,
		CreatedAt:   time.Now().UnixMilli(),
	}
	if _, err := e.store.Insert(ctx, store.TableChannels, encodeRow(ch)); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return "", ErrChannelExists
		}
		return "", fmt.Errorf("create channel: %w", err)
	}
	return slug, nil
}

// UpdateChannel changes a channel's name or description. Only the creator
// may update; the prior value is restored when the remote call fails.
func (e *Engine) UpdateChannel(ctx context.Context, id, name, description string) error {
	ch, ok := e.cache.Channel(id)
	if !ok {
		return fmt.Errorf("update channel: %w", store.ErrNotFound)
	}
	if ch.CreatedBy != e.self.ID {
		return ErrNotOwner
	}

	updated := ch
	updated.Name = name
	updated.Description = description

	e.cache.mu.Lock()
	for i := range e.cache.channels {
		if e.cache.channels[i].ID == id {
			e.cache.channels[i] = updated
			break
		}
	}
	e.cache.mu.Unlock()

	patch := encodeRow(map[string]any{"name": name, "description": description})
	if _, err := e.store.Update(ctx, store.TableChannels, id, patch); err != nil {
		e.cache.mu.Lock()
		for i := range e.cache.channels {
			if e.cache.channels[i].ID == id {
				e.cache.channels[i] = ch
				break
			}
		}
		e.cache.mu.Unlock()
		metrics.OptimisticRollbacks.WithLabelValues("channel_update").Inc()
		return fmt.Errorf("update channel: %w", err)
	}
	return nil
}

// DeleteChannel deletes a channel. The general channel is refused
// unconditionally; removal from local state arrives via the change
// stream, which also signals navigation when the active channel dies.
func (e *Engine) DeleteChannel(ctx context.Context, id string) error {
	if id == models.GeneralChannel {
		return ErrProtectedChannel
	}
	ch, ok := e.cache.Channel(id)
	if !ok {
		return fmt.Errorf("delete channel: %w", store.ErrNotFound)
	}
	if ch.CreatedBy != e.self.ID {
		return ErrNotOwner
	}
	if err := e.store.Delete(ctx, store.TableChannels, id); err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	return nil
}

// RefetchMessages rebuilds one channel's local state from the store.
// Used at bootstrap and as the reaction error-recovery fallback.
func (e *Engine) RefetchMessages(ctx context.Context, channelID string) error {
	rows, err := e.store.Select(ctx, store.TableMessages, store.Filter{"channel_id": channelID})
	if err != nil {
		return fmt.Errorf("refetch messages: %w", err)
	}
	msgs := make([]models.Message, 0, len(rows))
	ids := make(map[string]bool, len(rows))
	for _, row := range rows {
		m, err := decodeMessage(row)
		if err != nil {
			continue
		}
		msgs = append(msgs, m)
		ids[m.ID] = true
	}

	reactionRows, err := e.store.Select(ctx, store.TableReactions, nil)
	if err != nil {
		return fmt.Errorf("refetch reactions: %w", err)
	}
	var reactions []models.Reaction
	for _, row := range reactionRows {
		r, err := decodeReaction(row)
		if err != nil || !ids[r.MessageID] {
			continue
		}
		reactions = append(reactions, r)
	}

	e.cache.LoadMessages(channelID, msgs, reactions)
	return nil
}
