package notify

import (
	"math"

	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/models"
)

// SampleRate of synthesized tones, samples per second.
const SampleRate = 44100

// Tone is a short synthesized notification sound: mono PCM samples in
// [-1, 1]. Playback is the embedder's concern.
type Tone struct {
	SampleRate int
	Samples    []float32
}

// Duration of the tone in seconds.
func (t Tone) Duration() float64 {
	if t.SampleRate == 0 {
		return 0
	}
	return float64(len(t.Samples)) / float64(t.SampleRate)
}

// Synthesize builds the tone for a sound type at a volume of 0-100.
// Each type is a distinct frequency envelope, not sample playback:
// subtle is a single soft decaying note, classic a two-note chime,
// modern a rising chirp.
func Synthesize(st models.SoundType, volume int) Tone {
	if volume <= 0 || st == models.SoundNone {
		return Tone{SampleRate: SampleRate}
	}
	if volume > 100 {
		volume = 100
	}
	amp := float64(volume) / 100

	switch st {
	case models.SoundSubtle:
		return subtleTone(amp)
	case models.SoundClassic:
		return classicTone(amp)
	case models.SoundModern:
		return modernTone(amp)
	default:
		return subtleTone(amp)
	}
}

// subtleTone: one 660 Hz note with an exponential decay, 180 ms.
func subtleTone(amp float64) Tone {
	n := SampleRate * 180 / 1000
	samples := make([]float32, n)
	for i := range samples {
		ts := float64(i) / SampleRate
		env := math.Exp(-12 * ts)
		samples[i] = float32(amp * 0.5 * env * math.Sin(2*math.Pi*660*ts))
	}
	return Tone{SampleRate: SampleRate, Samples: samples}
}

// classicTone: two sequential notes (880 then 1175 Hz), 120 ms each,
// linear attack/release per note.
func classicTone(amp float64) Tone {
	const noteLen = SampleRate * 120 / 1000
	freqs := []float64{880, 1175}
	samples := make([]float32, noteLen*len(freqs))
	for ni, f := range freqs {
		for i := 0; i < noteLen; i++ {
			ts := float64(i) / SampleRate
			pos := float64(i) / noteLen
			env := 1.0
			if pos < 0.1 {
				env = pos / 0.1
			} else if pos > 0.7 {
				env = (1 - pos) / 0.3
			}
			samples[ni*noteLen+i] = float32(amp * 0.6 * env * math.Sin(2*math.Pi*f*ts))
		}
	}
	return Tone{SampleRate: SampleRate, Samples: samples}
}

// modernTone: a 250 ms chirp sweeping 440→990 Hz under a raised-cosine
// envelope.
func modernTone(amp float64) Tone {
	n := SampleRate * 250 / 1000
	samples := make([]float32, n)
	phase := 0.0
	for i := range samples {
		pos := float64(i) / float64(n)
		freq := 440 + 550*pos
		phase += 2 * math.Pi * freq / SampleRate
		env := 0.5 * (1 - math.Cos(2*math.Pi*pos))
		samples[i] = float32(amp * 0.5 * env * math.Sin(phase))
	}
	return Tone{SampleRate: SampleRate, Samples: samples}
}
