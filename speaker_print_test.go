package main

import (
	"testing"

	"github.com/algo-boyz/speakerprint/pkg/config"
	"github.com/algo-boyz/speakerprint/pkg/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindSpec(t *testing.T) {
	tests := []struct {
		name          string
		input, output string
		dimension     int
		declared      int
		boundIn       string
		boundOut      string
		want          embedding.ModelSpec
		wantErr       error
	}{
		{
			name:     "stub keeps configured defaults",
			declared: 160,
			want:     embedding.ModelSpec{InputName: "feats", OutputName: "embedding", FeatureWidth: 80, Dimension: 160},
		},
		{
			name:     "model names fill empty config",
			boundIn:  "fbank",
			boundOut: "embs",
			declared: 256,
			want:     embedding.ModelSpec{InputName: "fbank", OutputName: "embs", FeatureWidth: 80, Dimension: 256},
		},
		{
			name:     "configured names matching the model",
			input:    "fbank",
			output:   "embs",
			boundIn:  "fbank",
			boundOut: "embs",
			want:     embedding.ModelSpec{InputName: "fbank", OutputName: "embs", FeatureWidth: 80},
		},
		{
			name:    "configured input the model does not have",
			input:   "audio",
			boundIn: "fbank",
			wantErr: embedding.ErrShapeMismatch,
		},
		{
			name:     "configured output the model does not have",
			output:   "logits",
			boundOut: "embs",
			wantErr:  embedding.ErrShapeMismatch,
		},
		{
			name:      "pinned dimension over a dynamic axis",
			dimension: 192,
			boundIn:   "fbank",
			boundOut:  "embs",
			want:      embedding.ModelSpec{InputName: "fbank", OutputName: "embs", FeatureWidth: 80, Dimension: 192},
		},
		{
			name:      "pinned dimension disagreeing with the model",
			dimension: 192,
			declared:  256,
			wantErr:   embedding.ErrDimensionMismatch,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Model.InputName = test.input
			cfg.Model.OutputName = test.output
			cfg.Model.Dimension = test.dimension

			spec, err := bindSpec(cfg, test.boundIn, test.boundOut, test.declared)
			if test.wantErr != nil {
				require.ErrorIs(t, err, test.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.want, spec)
		})
	}
}
