package audio

import (
	"fmt"
	"math"

	"github.com/algo-boyz/speakerprint/pkg/features"
	resampling "github.com/tphakala/go-audio-resampling"
)

// Resample converts a mono clip to rate. The output holds exactly
// round(len * rate / clip.SampleRate) samples. Equal rates return the clip
// unchanged.
func Resample(clip Clip, rate int) (Clip, error) {
	if rate <= 0 || clip.SampleRate <= 0 {
		return Clip{}, fmt.Errorf("cannot resample %d Hz to %d Hz", clip.SampleRate, rate)
	}
	if clip.SampleRate == rate || len(clip.Samples) == 0 {
		clip.SampleRate = rate
		return clip, nil
	}
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(clip.SampleRate),
		OutputRate: float64(rate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return Clip{}, fmt.Errorf("failed to create resampler: %w", err)
	}
	input := make([]float64, len(clip.Samples))
	for i, s := range clip.Samples {
		input[i] = float64(s)
	}
	output, err := r.Process(input)
	if err != nil {
		return Clip{}, fmt.Errorf("failed to resample %d Hz to %d Hz: %w", clip.SampleRate, rate, err)
	}
	want := int(math.Round(float64(len(clip.Samples)) * float64(rate) / float64(clip.SampleRate)))
	samples := make([]float32, want)
	for i := 0; i < want && i < len(output); i++ {
		samples[i] = float32(output[i])
	}
	return Clip{SampleRate: rate, Channels: clip.Channels, Samples: samples}, nil
}

// Buffer resamples clip to rate and wraps it for the feature extractor. A
// positive target pads or truncates the resampled audio to that many samples.
func Buffer(clip Clip, rate, target int) (features.AudioBuffer, error) {
	resampled, err := Resample(clip, rate)
	if err != nil {
		return features.AudioBuffer{}, err
	}
	samples := resampled.Samples
	if target > 0 {
		samples = Fit(samples, target)
	}
	return features.NewAudioBuffer(resampled.SampleRate, samples), nil
}
