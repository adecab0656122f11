package features

import (
	"fmt"
	"math"
)

// Matrix is a row-major [frames x mel bins] grid of dB values.
type Matrix struct {
	data   []float32
	frames int
	bins   int
}

// NewMatrix copies rows into a Matrix. Every row must have the same length.
func NewMatrix(rows [][]float32) (*Matrix, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("%w: empty feature matrix", ErrInvalidInput)
	}
	bins := len(rows[0])
	data := make([]float32, 0, len(rows)*bins)
	for i, row := range rows {
		if len(row) != bins {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", ErrInvalidInput, i, len(row), bins)
		}
		data = append(data, row...)
	}
	return &Matrix{data: data, frames: len(rows), bins: bins}, nil
}

func (m *Matrix) FrameCount() int { return m.frames }

func (m *Matrix) NumMelBins() int { return m.bins }

func (m *Matrix) At(frame, bin int) float32 {
	return m.data[frame*m.bins+bin]
}

// Frame returns a copy of one row.
func (m *Matrix) Frame(i int) []float32 {
	return append([]float32(nil), m.data[i*m.bins:(i+1)*m.bins]...)
}

func (m *Matrix) Frames() [][]float32 {
	rows := make([][]float32, m.frames)
	for i := range rows {
		rows[i] = m.Frame(i)
	}
	return rows
}

// Flatten returns the [frames*bins] row-major copy used to fill a
// [1, frames, bins] inference tensor.
func (m *Matrix) Flatten() []float32 {
	return append([]float32(nil), m.data...)
}

// Stats summarizes the matrix values.
type Stats struct {
	Min, Max, Mean float64
}

func (m *Matrix) Stats() Stats {
	s := Stats{Min: math.Inf(1), Max: math.Inf(-1)}
	var sum float64
	for _, v := range m.data {
		f := float64(v)
		s.Min = math.Min(s.Min, f)
		s.Max = math.Max(s.Max, f)
		sum += f
	}
	s.Mean = sum / float64(len(m.data))
	return s
}

// CMVN returns a copy with every mel bin shifted to zero mean and scaled to
// unit variance across frames. Bins with no variance are only centred.
func CMVN(m *Matrix) *Matrix {
	out := &Matrix{data: make([]float32, len(m.data)), frames: m.frames, bins: m.bins}
	n := float64(m.frames)
	for b := 0; b < m.bins; b++ {
		var sum float64
		for t := 0; t < m.frames; t++ {
			sum += float64(m.At(t, b))
		}
		mean := sum / n
		var sq float64
		for t := 0; t < m.frames; t++ {
			d := float64(m.At(t, b)) - mean
			sq += d * d
		}
		std := math.Sqrt(sq / n)
		if std < 1e-10 {
			std = 1
		}
		for t := 0; t < m.frames; t++ {
			out.data[t*m.bins+b] = float32((float64(m.At(t, b)) - mean) / std)
		}
	}
	return out
}
