package notify

import "github.com/rs/zerolog"

// LogSinks emit alerts to the structured log. They stand in for the
// audio device, OS notification center and in-app toast stack when the
// daemon runs headless.

type LogPlayer struct {
	Log zerolog.Logger
}

func (p LogPlayer) Play(t Tone) {
	p.Log.Info().Int("samples", len(t.Samples)).Float64("duration_s", t.Duration()).Msg("notification sound")
}

type LogDesktop struct {
	Log zerolog.Logger
	// Permitted mirrors the user's grant for OS notifications.
	Permitted bool
}

func (d LogDesktop) Granted() bool { return d.Permitted }

func (d LogDesktop) Show(title, body, icon string) error {
	d.Log.Info().Str("title", title).Str("body", body).Msg("desktop notification")
	return nil
}

type LogToasts struct {
	Log zerolog.Logger
}

func (t LogToasts) Toast(title, body string) {
	t.Log.Info().Str("title", title).Str("body", body).Msg("toast")
}
