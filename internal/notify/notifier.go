package notify

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/metrics"
	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/models"
)

// Player plays a synthesized tone. Implementations own the audio device.
type Player interface {
	Play(Tone)
}

// Desktop raises OS-level notifications. Granted reports whether the
// user previously granted permission; Show is only called when it did.
type Desktop interface {
	Granted() bool
	Show(title, body, icon string) error
}

// ToastSink receives transient in-app toasts.
type ToastSink interface {
	Toast(title, body string)
}

// Config holds the notifier's behavior switches.
type Config struct {
	// ToastFollowsSuppression gates the in-app toast behind the same
	// decision pipeline as sound and desktop notifications. Off by
	// default: the toast acts as a low-priority always-on feed and fires
	// for every foreign message.
	ToastFollowsSuppression bool
}

// Notifier runs the decision pipeline over incoming messages and
// dispatches the configured alerts.
type Notifier struct {
	cfg     Config
	player  Player
	desktop Desktop
	toasts  ToastSink
	log     zerolog.Logger
}

// NewNotifier creates a notifier. Any sink may be nil to disable that
// output.
func NewNotifier(cfg Config, player Player, desktop Desktop, toasts ToastSink, log zerolog.Logger) *Notifier {
	return &Notifier{
		cfg:     cfg,
		player:  player,
		desktop: desktop,
		toasts:  toasts,
		log:     log.With().Str("component", "notify").Logger(),
	}
}

// HandleMessage evaluates one incoming message and fires the alerts the
// decision allows. Returns the decision for observability.
func (n *Notifier) HandleMessage(msg models.Message, self models.User, settings models.NotificationSettings, channels []models.Channel) Decision {
	d := Decide(msg, self, settings, channels, time.Now())

	if !d.Allow {
		metrics.NotificationsSuppressed.WithLabelValues(d.Rule).Inc()
		// Own messages never alert anywhere, toast included.
		if msg.AuthorID != self.ID && !n.cfg.ToastFollowsSuppression {
			n.toast(msg)
		}
		return d
	}

	n.log.Debug().Str("rule", d.Rule).Str("message", msg.ID).Msg("alerting")

	if settings.SoundEnabled && n.player != nil && d.Sound != models.SoundNone {
		n.player.Play(Synthesize(d.Sound, settings.SoundVolume))
		metrics.NotificationsDispatched.WithLabelValues("sound").Inc()
	}

	if settings.DesktopNotifications && n.desktop != nil && n.desktop.Granted() {
		title := msg.AuthorName
		if title == "" {
			title = "New message"
		}
		if err := n.desktop.Show(title, msg.Content, msg.AuthorAvatar); err != nil {
			n.log.Warn().Err(err).Msg("desktop notification failed")
		} else {
			metrics.NotificationsDispatched.WithLabelValues("desktop").Inc()
		}
	}

	n.toast(msg)
	return d
}

func (n *Notifier) toast(msg models.Message) {
	if n.toasts == nil {
		return
	}
	title := msg.AuthorName
	if title == "" {
		title = "New message"
	}
	n.toasts.Toast(title, msg.Content)
	metrics.NotificationsDispatched.WithLabelValues("toast").Inc()
}
