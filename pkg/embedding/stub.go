package embedding

import (
	"context"
	"fmt"
	"math"
)

// StubInferencer is a deterministic statistics-pooling "model": the embedding
// is the per-bin mean over time followed by the per-bin standard deviation.
// It stands in for a real network in tests and dry runs.
type StubInferencer struct {
	InputName  string
	OutputName string
}

func NewStubInferencer(spec ModelSpec) StubInferencer {
	return StubInferencer{InputName: spec.InputName, OutputName: spec.OutputName}
}

// StubSpec is the ModelSpec of a StubInferencer over width mel bins.
func StubSpec(width int) ModelSpec {
	spec := DefaultModelSpec()
	spec.FeatureWidth = width
	spec.Dimension = 2 * width
	return spec
}

func (s StubInferencer) Infer(ctx context.Context, inputs map[string]Tensor) (map[string]Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	in, ok := inputs[s.InputName]
	if !ok {
		return nil, fmt.Errorf("stub: missing input %q", s.InputName)
	}
	if len(in.Shape) != 3 || in.Shape[0] != 1 || in.Elements() != int64(len(in.Data)) {
		return nil, fmt.Errorf("stub: input shape %v with %d values", in.Shape, len(in.Data))
	}
	frames, width := int(in.Shape[1]), int(in.Shape[2])
	if frames == 0 {
		return nil, fmt.Errorf("stub: no frames")
	}
	out := make([]float32, 2*width)
	for b := 0; b < width; b++ {
		var sum, sq float64
		for t := 0; t < frames; t++ {
			v := float64(in.Data[t*width+b])
			sum += v
			sq += v * v
		}
		mean := sum / float64(frames)
		out[b] = float32(mean)
		out[width+b] = float32(math.Sqrt(math.Max(0, sq/float64(frames)-mean*mean)))
	}
	return map[string]Tensor{
		s.OutputName: {Shape: []int64{1, int64(len(out))}, Data: out},
	}, nil
}
