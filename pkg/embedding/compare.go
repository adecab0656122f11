package embedding

import (
	"fmt"
	"math"
)

// DefaultEpsilon is the smallest norm Compare accepts.
const DefaultEpsilon = 1e-8

// Label is the decision band a similarity falls into.
type Label int

const (
	DifferentSpeakers Label = iota
	Uncertain
	LikelySameSpeaker
	SameSpeaker
)

func (l Label) String() string {
	switch l {
	case SameSpeaker:
		return "same speaker"
	case LikelySameSpeaker:
		return "likely same speaker"
	case Uncertain:
		return "uncertain"
	case DifferentSpeakers:
		return "different speakers"
	default:
		return fmt.Sprintf("Label(%d)", int(l))
	}
}

// Thresholds are the inclusive lower bounds of the upper three bands.
// Anything below Uncertain is DifferentSpeakers.
type Thresholds struct {
	Same      float64 `yaml:"same"`
	Likely    float64 `yaml:"likely"`
	Uncertain float64 `yaml:"uncertain"`
}

// DefaultThresholds were picked empirically on ECAPA/ResNet style models.
func DefaultThresholds() Thresholds {
	return Thresholds{Same: 0.7, Likely: 0.5, Uncertain: 0.3}
}

func (t Thresholds) Validate() error {
	if t.Same > 1 || t.Uncertain < -1 {
		return fmt.Errorf("thresholds must lie in [-1, 1]: %+v", t)
	}
	if !(t.Same >= t.Likely && t.Likely >= t.Uncertain) {
		return fmt.Errorf("thresholds must satisfy same >= likely >= uncertain: %+v", t)
	}
	return nil
}

// Classify maps a similarity onto a Label.
func (t Thresholds) Classify(similarity float64) Label {
	switch {
	case similarity >= t.Same:
		return SameSpeaker
	case similarity >= t.Likely:
		return LikelySameSpeaker
	case similarity >= t.Uncertain:
		return Uncertain
	default:
		return DifferentSpeakers
	}
}

// Result of comparing two embeddings.
type Result struct {
	Similarity float64
	Label      Label
}

// Comparator scores embedding pairs. The zero value uses zero thresholds;
// start from NewComparator.
type Comparator struct {
	Thresholds Thresholds
	Epsilon    float64
}

func NewComparator(t Thresholds) Comparator {
	return Comparator{Thresholds: t, Epsilon: DefaultEpsilon}
}

// Compare computes the cosine similarity of a and b and classifies it.
func (c Comparator) Compare(a, b Embedding) (Result, error) {
	sim, err := c.Similarity(a, b)
	if err != nil {
		return Result{}, err
	}
	return Result{Similarity: sim, Label: c.Thresholds.Classify(sim)}, nil
}

// Similarity is the cosine of a and b, clamped to [-1, 1].
func (c Comparator) Similarity(a, b Embedding) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	eps := c.Epsilon
	if eps <= 0 {
		eps = DefaultEpsilon
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	na, nb = math.Sqrt(na), math.Sqrt(nb)
	if math.IsNaN(dot) || math.IsInf(dot, 0) || math.IsNaN(na*nb) || math.IsInf(na*nb, 0) {
		return 0, fmt.Errorf("%w: cannot score", ErrNonFinite)
	}
	if na < eps || nb < eps {
		return 0, fmt.Errorf("%w: norms %.3g and %.3g, epsilon %.3g", ErrDegenerateEmbedding, na, nb, eps)
	}
	return math.Max(-1, math.Min(1, dot/(na*nb))), nil
}
