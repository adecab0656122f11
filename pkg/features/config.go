package features

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is returned for audio the extractor refuses to guess about:
// a sample rate other than the configured one, a buffer shorter than one frame,
// or an invalid Config.
var ErrInvalidInput = errors.New("features: invalid input")

// Config describes the log-mel front-end. It is a plain value: copy it freely.
type Config struct {
	SampleRate int     `yaml:"sample_rate"`
	FFTSize    int     `yaml:"fft_size"`
	HopSize    int     `yaml:"hop_size"`
	NumMelBins int     `yaml:"num_mel_bins"`
	FMin       float64 `yaml:"f_min"`
	FMax       float64 `yaml:"f_max"`
	LogFloorDb float64 `yaml:"log_floor_db"`
}

// DefaultConfig matches the 80-bin fbank front-end used by WeSpeaker style models.
func DefaultConfig() Config {
	return Config{
		SampleRate: 16000,
		FFTSize:    400, // 25ms
		HopSize:    160, // 10ms
		NumMelBins: 80,
		FMin:       0,
		FMax:       8000,
		LogFloorDb: -80,
	}
}

func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate %d must be positive", ErrInvalidInput, c.SampleRate)
	case c.FFTSize < 2:
		return fmt.Errorf("%w: fft size %d must be at least 2", ErrInvalidInput, c.FFTSize)
	case c.HopSize <= 0 || c.HopSize > c.FFTSize:
		return fmt.Errorf("%w: hop size %d must be in (0, %d]", ErrInvalidInput, c.HopSize, c.FFTSize)
	case c.NumMelBins < 1:
		return fmt.Errorf("%w: num mel bins %d must be at least 1", ErrInvalidInput, c.NumMelBins)
	case c.FMin < 0 || c.FMin >= c.FMax:
		return fmt.Errorf("%w: f_min %.1f must be in [0, f_max=%.1f)", ErrInvalidInput, c.FMin, c.FMax)
	case c.FMax > float64(c.SampleRate)/2:
		return fmt.Errorf("%w: f_max %.1f exceeds nyquist %.1f", ErrInvalidInput, c.FMax, float64(c.SampleRate)/2)
	case c.LogFloorDb >= 0:
		return fmt.Errorf("%w: log floor %.1f dB must be negative", ErrInvalidInput, c.LogFloorDb)
	}
	return nil
}

// NumBins is the length of the one-sided power spectrum.
func (c Config) NumBins() int {
	return c.FFTSize/2 + 1
}

// FrameCount returns how many full frames fit into n samples, or 0.
func (c Config) FrameCount(n int) int {
	if n < c.FFTSize || c.HopSize <= 0 {
		return 0
	}
	return (n-c.FFTSize)/c.HopSize + 1
}
