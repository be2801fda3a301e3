// Package notify decides whether an incoming message should alert the
// user and dispatches the resulting sound, desktop notification and
// in-app toast.
package notify

import (
	"strings"
	"time"

	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/models"
)

// Decision is the outcome of the suppression/allow pipeline.
type Decision struct {
	Allow bool
	Rule  string           // the rule that decided, e.g. "channel_muted", "mention"
	Sound models.SoundType // effective sound, after per-channel override
}

// Rule names, in evaluation order.
const (
	RuleOwnMessage   = "own_message"
	RuleDoNotDisturb = "do_not_disturb"
	RuleQuietHours   = "quiet_hours"
	RuleChannelMuted = "channel_muted"
	RuleDirect       = "direct_message"
	RuleMention      = "mention"
	RuleKeyword      = "keyword"
	RuleAllMessages  = "all_messages"
	RuleNone         = "no_rule"
)

// Decide runs the decision pipeline over an incoming message. Pure:
// the caller supplies the clock. Rules short-circuit in order; suppress
// rules are checked before allow rules, so a muted channel beats
// AllMessages.
func Decide(msg models.Message, self models.User, ns models.NotificationSettings, channels []models.Channel, now time.Time) Decision {
	sound := ns.SoundType
	var channel models.Channel
	for _, ch := range channels {
		if ch.ID == msg.ChannelID {
			channel = ch
			break
		}
	}
	if cs, ok := ns.ChannelSettings[msg.ChannelID]; ok && cs.CustomSound != "" {
		sound = cs.CustomSound
	}

	suppress := func(rule string) Decision { return Decision{Rule: rule, Sound: sound} }
	allow := func(rule string) Decision { return Decision{Allow: true, Rule: rule, Sound: sound} }

	// 1. Never notify on own messages.
	if msg.AuthorID == self.ID {
		return suppress(RuleOwnMessage)
	}

	// 2. Do-not-disturb, explicit or until a deadline.
	if ns.DoNotDisturb {
		return suppress(RuleDoNotDisturb)
	}
	if ns.DoNotDisturbUntil != 0 && now.UnixMilli() < ns.DoNotDisturbUntil {
		return suppress(RuleDoNotDisturb)
	}

	// 3. Quiet hours, overnight windows included.
	if ns.QuietHours.Contains(now) {
		return suppress(RuleQuietHours)
	}

	// 4. Per-channel mute beats every allow rule.
	if cs, ok := ns.ChannelSettings[msg.ChannelID]; ok && cs.Muted {
		return suppress(RuleChannelMuted)
	}

	// 5. Direct messages.
	if channel.IsDirect() && ns.DirectMessages {
		return allow(RuleDirect)
	}

	// 6. Literal @-mention of the display name.
	content := strings.ToLower(msg.Content)
	if ns.Mentions && self.Name != "" &&
		strings.Contains(content, strings.ToLower("@"+self.Name)) {
		return allow(RuleMention)
	}

	// 7. Configured keywords, case-insensitive substring.
	for _, kw := range ns.Keywords {
		if kw != "" && strings.Contains(content, strings.ToLower(kw)) {
			return allow(RuleKeyword)
		}
	}

	// 8. Everything else only when the firehose is on.
	if ns.AllMessages {
		return allow(RuleAllMessages)
	}

	return suppress(RuleNone)
}
