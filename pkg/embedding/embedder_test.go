package embedding

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/algo-boyz/speakerprint/pkg/features"
	"github.com/stretchr/testify/require"
)

type fixedInferencer struct {
	out    map[string]Tensor
	err    error
	inputs map[string]Tensor
}

func (f *fixedInferencer) Infer(_ context.Context, inputs map[string]Tensor) (map[string]Tensor, error) {
	f.inputs = inputs
	return f.out, f.err
}

func matrix(t *testing.T, frames, bins int) *features.Matrix {
	rows := make([][]float32, frames)
	for i := range rows {
		rows[i] = make([]float32, bins)
		for j := range rows[i] {
			rows[i][j] = float32(-(i*bins + j) % 37)
		}
	}
	m, err := features.NewMatrix(rows)
	require.NoError(t, err)
	return m
}

func TestEmbedSendsBatchTimeFeatureTensor(t *testing.T) {
	inf := &fixedInferencer{out: map[string]Tensor{
		"embedding": {Shape: []int64{1, 3}, Data: []float32{3, 0, 4}},
	}}
	e, err := NewEmbedder(inf, ModelSpec{InputName: "feats", OutputName: "embedding", FeatureWidth: 4, Dimension: 3}, Options{})
	require.NoError(t, err)

	emb, err := e.Embed(context.Background(), matrix(t, 5, 4))
	require.NoError(t, err)
	require.Equal(t, Embedding{3, 0, 4}, emb)

	in := inf.inputs["feats"]
	require.Equal(t, []int64{1, 5, 4}, in.Shape)
	require.Len(t, in.Data, 20)
	require.Equal(t, float32(-5), in.Data[5])
}

func TestEmbedNormalizes(t *testing.T) {
	inf := &fixedInferencer{out: map[string]Tensor{
		"out": {Shape: []int64{2}, Data: []float32{3, 4}},
	}}
	e, err := NewEmbedder(inf, ModelSpec{InputName: "audio", OutputName: "out", FeatureWidth: 2}, Options{Normalize: true})
	require.NoError(t, err)
	emb, err := e.Embed(context.Background(), matrix(t, 3, 2))
	require.NoError(t, err)
	require.InDelta(t, 1.0, emb.Norm(), 1e-6)
}

func TestEmbedShapeErrors(t *testing.T) {
	spec := ModelSpec{InputName: "feats", OutputName: "embedding", FeatureWidth: 4, Dimension: 3}
	tests := []struct {
		name string
		out  map[string]Tensor
		want error
	}{
		{"missing output", map[string]Tensor{"other": {Shape: []int64{1, 3}, Data: []float32{1, 2, 3}}}, ErrShapeMismatch},
		{"batch of two", map[string]Tensor{"embedding": {Shape: []int64{2, 3}, Data: make([]float32, 6)}}, ErrShapeMismatch},
		{"wrong dimension", map[string]Tensor{"embedding": {Shape: []int64{1, 2}, Data: []float32{1, 2}}}, ErrShapeMismatch},
		{"short data", map[string]Tensor{"embedding": {Shape: []int64{1, 3}, Data: []float32{1}}}, ErrShapeMismatch},
		{"nan", map[string]Tensor{"embedding": {Shape: []int64{1, 3}, Data: []float32{1, float32(math.NaN()), 3}}}, ErrNonFinite},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			e, err := NewEmbedder(&fixedInferencer{out: test.out}, spec, Options{})
			require.NoError(t, err)
			_, err = e.Embed(context.Background(), matrix(t, 2, 4))
			require.ErrorIs(t, err, test.want)
		})
	}
}

func TestEmbedRejectsFeatureWidth(t *testing.T) {
	inf := &fixedInferencer{}
	e, err := NewEmbedder(inf, ModelSpec{InputName: "feats", OutputName: "embedding", FeatureWidth: 80}, Options{})
	require.NoError(t, err)
	_, err = e.Embed(context.Background(), matrix(t, 10, 64))
	require.ErrorIs(t, err, ErrShapeMismatch)
	require.Nil(t, inf.inputs, "inference must not run on mismatched features")
}

func TestEmbedPropagatesInferenceError(t *testing.T) {
	boom := errors.New("backend down")
	e, err := NewEmbedder(&fixedInferencer{err: boom}, StubSpec(4), Options{})
	require.NoError(t, err)
	_, err = e.Embed(context.Background(), matrix(t, 2, 4))
	require.ErrorIs(t, err, boom)
}

func TestEmbedHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e, err := NewEmbedder(NewStubInferencer(StubSpec(4)), StubSpec(4), Options{})
	require.NoError(t, err)
	_, err = e.Embed(ctx, matrix(t, 2, 4))
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewEmbedderValidatesSpec(t *testing.T) {
	_, err := NewEmbedder(nil, StubSpec(4), Options{})
	require.Error(t, err)
	_, err = NewEmbedder(NewStubInferencer(StubSpec(4)), ModelSpec{InputName: "feats", FeatureWidth: 4}, Options{})
	require.Error(t, err)
	_, err = NewEmbedder(NewStubInferencer(StubSpec(4)), ModelSpec{InputName: "feats", OutputName: "embedding"}, Options{})
	require.Error(t, err)
}

func TestStubPipelineSeparatesSignals(t *testing.T) {
	cfg := features.DefaultConfig()
	spec := StubSpec(cfg.NumMelBins)
	e, err := NewEmbedder(NewStubInferencer(spec), spec, Options{Normalize: true})
	require.NoError(t, err)

	embed := func(freq float64) Embedding {
		samples := make([]float32, cfg.SampleRate)
		for i := range samples {
			samples[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(cfg.SampleRate)))
		}
		m, err := features.Extract(features.NewAudioBuffer(cfg.SampleRate, samples), cfg)
		require.NoError(t, err)
		emb, err := e.Embed(context.Background(), m)
		require.NoError(t, err)
		require.Equal(t, 2*cfg.NumMelBins, emb.Dim())
		return emb
	}

	c := NewComparator(DefaultThresholds())
	a := embed(300)
	same, err := c.Compare(a, embed(300))
	require.NoError(t, err)
	require.InDelta(t, 1.0, same.Similarity, 1e-6)

	other, err := c.Compare(a, embed(3000))
	require.NoError(t, err)
	require.Less(t, other.Similarity, same.Similarity)
}
