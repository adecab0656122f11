package embedding

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/algo-boyz/speakerprint/pkg/features"
)

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Elements is the product of Shape.
func (t Tensor) Elements() int64 {
	if len(t.Shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Inferencer runs one fixed-shape forward pass with named inputs and outputs.
// Implementations must be safe for concurrent use.
type Inferencer interface {
	Infer(ctx context.Context, inputs map[string]Tensor) (map[string]Tensor, error)
}

// ModelSpec is the tensor contract of a speaker model.
type ModelSpec struct {
	InputName    string `yaml:"input_name"`
	OutputName   string `yaml:"output_name"`
	FeatureWidth int    `yaml:"feature_width"`
	// Dimension is the expected embedding length. Zero accepts any length.
	Dimension int `yaml:"dimension"`
}

func DefaultModelSpec() ModelSpec {
	return ModelSpec{InputName: "feats", OutputName: "embedding", FeatureWidth: 80}
}

type Options struct {
	// Normalize L2-normalizes every embedding before returning it.
	Normalize bool
	Logger    *slog.Logger
}

// Embedder feeds feature matrices to an Inferencer.
type Embedder struct {
	infer Inferencer
	spec  ModelSpec
	opts  Options
	log   *slog.Logger
}

func NewEmbedder(infer Inferencer, spec ModelSpec, opts Options) (*Embedder, error) {
	if infer == nil {
		return nil, fmt.Errorf("embedder needs an inferencer")
	}
	if spec.InputName == "" || spec.OutputName == "" {
		return nil, fmt.Errorf("embedder needs input and output tensor names, got %q/%q", spec.InputName, spec.OutputName)
	}
	if spec.FeatureWidth <= 0 {
		return nil, fmt.Errorf("embedder feature width must be positive, got %d", spec.FeatureWidth)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Embedder{
		infer: infer,
		spec:  spec,
		opts:  opts,
		log:   log.With("component", "embedder"),
	}, nil
}

func (e *Embedder) Spec() ModelSpec { return e.spec }

// Embed runs m through the model as a [1, frames, bins] tensor.
func (e *Embedder) Embed(ctx context.Context, m *features.Matrix) (Embedding, error) {
	if m.NumMelBins() != e.spec.FeatureWidth {
		return nil, fmt.Errorf("%w: features have %d mel bins, model %q expects %d",
			ErrShapeMismatch, m.NumMelBins(), e.spec.InputName, e.spec.FeatureWidth)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	input := Tensor{
		Shape: []int64{1, int64(m.FrameCount()), int64(m.NumMelBins())},
		Data:  m.Flatten(),
	}
	outputs, err := e.infer.Infer(ctx, map[string]Tensor{e.spec.InputName: input})
	if err != nil {
		return nil, fmt.Errorf("failed to run inference: %w", err)
	}
	out, ok := outputs[e.spec.OutputName]
	if !ok {
		return nil, fmt.Errorf("%w: model returned no %q output", ErrShapeMismatch, e.spec.OutputName)
	}
	emb, err := e.fromOutput(out)
	if err != nil {
		return nil, err
	}
	e.log.Debug("embedded", "frames", m.FrameCount(), "dim", emb.Dim(), "norm", emb.Norm())
	if e.opts.Normalize {
		return emb.Normalized(), nil
	}
	return emb, nil
}

func (e *Embedder) fromOutput(out Tensor) (Embedding, error) {
	var dim int64
	switch {
	case len(out.Shape) == 2 && out.Shape[0] == 1:
		dim = out.Shape[1]
	case len(out.Shape) == 1:
		dim = out.Shape[0]
	default:
		return nil, fmt.Errorf("%w: output shape %v, want [1, D]", ErrShapeMismatch, out.Shape)
	}
	if dim <= 0 || int64(len(out.Data)) != dim {
		return nil, fmt.Errorf("%w: output shape %v holds %d values", ErrShapeMismatch, out.Shape, len(out.Data))
	}
	if e.spec.Dimension > 0 && int(dim) != e.spec.Dimension {
		return nil, fmt.Errorf("%w: embedding has %d values, model spec says %d", ErrShapeMismatch, dim, e.spec.Dimension)
	}
	emb := Embedding(append([]float32(nil), out.Data...))
	if err := emb.Validate(); err != nil {
		return nil, err
	}
	return emb, nil
}
