// Package features turns mono PCM into log-mel filterbank energies.
//
// The output is referenced to the loudest mel cell of the whole buffer
// (power-to-dB with max reference), so a recording and its gain-scaled copy
// produce the same matrix. Values are clamped at Config.LogFloorDb.
package features

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"
)

// amin keeps log10 away from zero energy.
const amin = 1e-10

// AudioBuffer is mono audio at a known sample rate. The samples are copied on
// construction and never handed out by reference.
type AudioBuffer struct {
	sampleRate int
	samples    []float32
}

func NewAudioBuffer(sampleRate int, samples []float32) AudioBuffer {
	return AudioBuffer{
		sampleRate: sampleRate,
		samples:    append([]float32(nil), samples...),
	}
}

func (b AudioBuffer) SampleRate() int { return b.sampleRate }

func (b AudioBuffer) Len() int { return len(b.samples) }

func (b AudioBuffer) Samples() []float32 {
	return append([]float32(nil), b.samples...)
}

func (b AudioBuffer) Duration() time.Duration {
	if b.sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.samples)) * time.Second / time.Duration(b.sampleRate)
}

// Extractor holds the precomputed pieces of one Config. It is safe for
// concurrent use; every Extract call owns its FFT plan and scratch buffers.
type Extractor struct {
	cfg        Config
	window     []float64
	filterbank *mat.Dense
}

// New validates cfg and fetches its filterbank and window from the shared cache.
func New(cfg Config) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Extractor{
		cfg:        cfg,
		window:     cache.hann(cfg.FFTSize),
		filterbank: cache.filterbank(cfg),
	}, nil
}

func (e *Extractor) Config() Config { return e.cfg }

// Extract is shorthand for New(cfg) followed by Extract(buf).
func Extract(buf AudioBuffer, cfg Config) (*Matrix, error) {
	e, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return e.Extract(buf)
}

// Extract computes the log-mel matrix of buf. The trailing partial frame is
// dropped, so the result has Config.FrameCount(buf.Len()) rows.
func (e *Extractor) Extract(buf AudioBuffer) (*Matrix, error) {
	cfg := e.cfg
	if buf.sampleRate != cfg.SampleRate {
		return nil, fmt.Errorf("%w: sample rate %d Hz, extractor expects %d Hz (resample first)",
			ErrInvalidInput, buf.sampleRate, cfg.SampleRate)
	}
	numFrames := cfg.FrameCount(len(buf.samples))
	if numFrames == 0 {
		return nil, fmt.Errorf("%w: %d samples is shorter than one %d-sample frame",
			ErrInvalidInput, len(buf.samples), cfg.FFTSize)
	}

	for i, v := range buf.samples {
		if f := float64(v); math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: sample %d is %v", ErrInvalidInput, i, v)
		}
	}

	var (
		numBins  = cfg.NumBins()
		numMels  = cfg.NumMelBins
		plan     = fourier.NewFFT(cfg.FFTSize)
		frame    = make([]float64, cfg.FFTSize)
		coeffs   = make([]complex128, numBins)
		power    = make([]float64, numBins)
		powerVec = mat.NewVecDense(numBins, power)
		melVec   = mat.NewVecDense(numMels, nil)
		energies = make([]float64, numFrames*numMels)
		ref      float64
	)
	for t := 0; t < numFrames; t++ {
		start := t * cfg.HopSize
		for i := range frame {
			frame[i] = float64(buf.samples[start+i]) * e.window[i]
		}
		coeffs = plan.Coefficients(coeffs, frame)
		for k, c := range coeffs {
			re, im := real(c), imag(c)
			power[k] = re*re + im*im
		}
		melVec.MulVec(e.filterbank, powerVec)
		row := energies[t*numMels : (t+1)*numMels]
		copy(row, melVec.RawVector().Data)
		for _, v := range row {
			if v > ref {
				ref = v
			}
		}
	}

	data := make([]float32, len(energies))
	floor := float32(cfg.LogFloorDb)
	if ref <= amin {
		// digital silence: nothing to reference against
		for i := range data {
			data[i] = floor
		}
		return &Matrix{data: data, frames: numFrames, bins: numMels}, nil
	}
	refDb := 10 * math.Log10(ref)
	for i, v := range energies {
		db := 10*math.Log10(math.Max(v, amin)) - refDb
		if db < cfg.LogFloorDb {
			db = cfg.LogFloorDb
		}
		data[i] = float32(db)
	}
	return &Matrix{data: data, frames: numFrames, bins: numMels}, nil
}
