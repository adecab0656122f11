// Package embedding turns feature matrices into speaker embeddings through a
// pluggable Inferencer and decides whether two embeddings belong to the same
// speaker.
package embedding

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrShapeMismatch means the features or the model output do not have the
	// shape the ModelSpec declares.
	ErrShapeMismatch = errors.New("embedding: shape mismatch")
	// ErrDimensionMismatch means two embeddings of different length were compared.
	ErrDimensionMismatch = errors.New("embedding: dimension mismatch")
	// ErrDegenerateEmbedding means an embedding has (near) zero norm, usually
	// because the segment was silence or garbage. Re-segment and retry.
	ErrDegenerateEmbedding = errors.New("embedding: degenerate embedding")
	// ErrNonFinite means an embedding holds NaN or Inf.
	ErrNonFinite = errors.New("embedding: non-finite value")
)

// Embedding is a fixed-length speaker vector.
type Embedding []float32

func (e Embedding) Dim() int { return len(e) }

// Norm is the L2 norm, accumulated in float64.
func (e Embedding) Norm() float64 {
	var sum float64
	for _, v := range e {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// Validate rejects empty embeddings and non-finite values.
func (e Embedding) Validate() error {
	if len(e) == 0 {
		return fmt.Errorf("%w: empty embedding", ErrShapeMismatch)
	}
	for i, v := range e {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: element %d is %v", ErrNonFinite, i, v)
		}
	}
	return nil
}

// Normalized returns a unit-length copy. A vector whose norm is below
// DefaultEpsilon is returned unchanged (copied).
func (e Embedding) Normalized() Embedding {
	out := make(Embedding, len(e))
	norm := e.Norm()
	if norm < DefaultEpsilon {
		copy(out, e)
		return out
	}
	for i, v := range e {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// Mean averages embeddings element-wise. Each input is normalized first so a
// loud enrollment clip does not dominate the centroid.
func Mean(es ...Embedding) (Embedding, error) {
	if len(es) == 0 {
		return nil, fmt.Errorf("%w: no embeddings to average", ErrShapeMismatch)
	}
	dim := len(es[0])
	sum := make([]float64, dim)
	for i, e := range es {
		if len(e) != dim {
			return nil, fmt.Errorf("%w: embedding %d has %d values, want %d", ErrDimensionMismatch, i, len(e), dim)
		}
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if e.Norm() < DefaultEpsilon {
			return nil, fmt.Errorf("%w: embedding %d", ErrDegenerateEmbedding, i)
		}
		for j, v := range e.Normalized() {
			sum[j] += float64(v)
		}
	}
	out := make(Embedding, dim)
	for j, s := range sum {
		out[j] = float32(s / float64(len(es)))
	}
	return out, nil
}
