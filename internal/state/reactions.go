package state

import "github.com/abhi-singhs/slackhub-messenger-sub000/internal/models"

// Reaction aggregation: raw (message, user, emoji) rows fold into
// per-emoji groups. Groups keep emoji insertion order; user lists keep
// arrival order. A group vanishes when its user set empties.

// addToGroups adds a user to an emoji group, creating the group when
// absent. Reports whether anything changed (a duplicate add is a no-op).
func addToGroups(groups []models.ReactionGroup, emoji, userID string) ([]models.ReactionGroup, bool) {
	for i := range groups {
		if groups[i].Emoji != emoji {
			continue
		}
		if groups[i].HasUser(userID) {
			return groups, false
		}
		groups[i].Users = append(groups[i].Users, userID)
		groups[i].Count = len(groups[i].Users)
		return groups, true
	}
	return append(groups, models.ReactionGroup{
		Emoji: emoji,
		Count: 1,
		Users: []string{userID},
	}), true
}

// removeFromGroups removes a user from an emoji group, dropping the group
// entirely when it empties. Reports whether anything changed.
func removeFromGroups(groups []models.ReactionGroup, emoji, userID string) ([]models.ReactionGroup, bool) {
	for i := range groups {
		if groups[i].Emoji != emoji {
			continue
		}
		for j, u := range groups[i].Users {
			if u != userID {
				continue
			}
			groups[i].Users = append(groups[i].Users[:j], groups[i].Users[j+1:]...)
			groups[i].Count = len(groups[i].Users)
			if groups[i].Count == 0 {
				groups = append(groups[:i], groups[i+1:]...)
			}
			return groups, true
		}
		return groups, false
	}
	return groups, false
}

// buildGroups folds raw reaction rows into aggregates, preserving row
// order. Duplicate (user, emoji) pairs collapse.
func buildGroups(rows []models.Reaction) []models.ReactionGroup {
	var groups []models.ReactionGroup
	for _, r := range rows {
		groups, _ = addToGroups(groups, r.Emoji, r.UserID)
	}
	return groups
}
