package notify

import (
	"math"
	"testing"

	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/models"
)

func peak(t Tone) float64 {
	var max float64
	for _, s := range t.Samples {
		if v := math.Abs(float64(s)); v > max {
			max = v
		}
	}
	return max
}

func TestSynthesizeDurations(t *testing.T) {
	tests := []struct {
		st   models.SoundType
		want float64 // seconds
	}{
		{models.SoundSubtle, 0.180},
		{models.SoundClassic, 0.240},
		{models.SoundModern, 0.250},
	}
	for _, tt := range tests {
		tone := Synthesize(tt.st, 70)
		if math.Abs(tone.Duration()-tt.want) > 0.005 {
			t.Errorf("%s: duration %.3fs, want ~%.3fs", tt.st, tone.Duration(), tt.want)
		}
		if peak(tone) == 0 {
			t.Errorf("%s: silent tone", tt.st)
		}
		if peak(tone) > 1 {
			t.Errorf("%s: clipping, peak %.3f", tt.st, peak(tone))
		}
	}
}

func TestSynthesizeNoneAndMuted(t *testing.T) {
	if got := Synthesize(models.SoundNone, 70); len(got.Samples) != 0 {
		t.Fatalf("none produced %d samples", len(got.Samples))
	}
	if got := Synthesize(models.SoundSubtle, 0); len(got.Samples) != 0 {
		t.Fatalf("zero volume produced %d samples", len(got.Samples))
	}
}

func TestSynthesizeVolumeScales(t *testing.T) {
	quiet := peak(Synthesize(models.SoundClassic, 10))
	loud := peak(Synthesize(models.SoundClassic, 100))
	if quiet >= loud {
		t.Fatalf("volume does not scale: quiet %.3f >= loud %.3f", quiet, loud)
	}
	over := peak(Synthesize(models.SoundClassic, 500))
	if math.Abs(over-loud) > 1e-6 {
		t.Fatalf("volume not clamped at 100: %.3f vs %.3f", over, loud)
	}
}

func TestSubtleToneDecays(t *testing.T) {
	tone := Synthesize(models.SoundSubtle, 100)
	n := len(tone.Samples)
	head := tone.Samples[:n/4]
	tail := tone.Samples[3*n/4:]

	var headPeak, tailPeak float64
	for _, s := range head {
		if v := math.Abs(float64(s)); v > headPeak {
			headPeak = v
		}
	}
	for _, s := range tail {
		if v := math.Abs(float64(s)); v > tailPeak {
			tailPeak = v
		}
	}
	if tailPeak >= headPeak/2 {
		t.Fatalf("no decay: head %.4f tail %.4f", headPeak, tailPeak)
	}
}
