package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"testing"

	"github.com/algo-boyz/speakerprint/pkg/embedding"
	"github.com/algo-boyz/speakerprint/pkg/features"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loader(env, files map[string]string) Loader {
	return Loader{
		Lookup: func(key string) (string, bool) {
			v, ok := env[key]
			return v, ok
		},
		ReadFile: func(path string) ([]byte, error) {
			if b, ok := files[path]; ok {
				return []byte(b), nil
			}
			return nil, fs.ErrNotExist
		},
	}
}

func TestLoaderDefaults(t *testing.T) {
	cfg, err := loader(nil, nil).Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, features.DefaultConfig(), cfg.Features)
	assert.Equal(t, embedding.DefaultThresholds(), cfg.Thresholds)
	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.True(t, cfg.Model.Normalize)
	assert.Empty(t, cfg.Model.Path)
}

func TestLoaderYAML(t *testing.T) {
	files := map[string]string{"sp.yaml": `
log_level: debug
features:
  num_mel_bins: 64
  log_floor_db: -100
model:
  path: models/ecapa.onnx
  input_name: audio
  dimension: 192
thresholds:
  same: 0.8
workers: 2
`}
	cfg, err := loader(nil, files).Load("sp.yaml")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 64, cfg.Features.NumMelBins)
	assert.Equal(t, -100.0, cfg.Features.LogFloorDb)
	// untouched keys keep their defaults
	assert.Equal(t, 400, cfg.Features.FFTSize)
	assert.Equal(t, 0.5, cfg.Thresholds.Likely)
	assert.Equal(t, 0.8, cfg.Thresholds.Same)
	assert.Equal(t, 2, cfg.Workers)

	spec := cfg.ModelSpec()
	assert.Equal(t, "audio", spec.InputName)
	assert.Equal(t, "embedding", spec.OutputName)
	assert.Equal(t, 64, spec.FeatureWidth)
	assert.Equal(t, 192, spec.Dimension)
}

func TestLoaderEnvOverridesFile(t *testing.T) {
	env := map[string]string{
		PathEnv:                         "sp.yaml",
		"SPEAKERPRINT_WORKERS":          "8",
		"SPEAKERPRINT_THRESHOLD_SAME":   " 0.75 ",
		"SPEAKERPRINT_MODEL":            "other.onnx",
		"SPEAKERPRINT_NORMALIZE":        "false",
		"SPEAKERPRINT_ORT_LIB":          "/opt/ort/libonnxruntime.so",
		"SPEAKERPRINT_LOG_LEVEL":        "",
		"SPEAKERPRINT_NUM_MEL_BINS":     "40",
		"SPEAKERPRINT_THRESHOLD_LIKELY": "0.6",
		"SPEAKERPRINT_TARGET_SAMPLES":   "48000",
	}
	files := map[string]string{"sp.yaml": "workers: 2\nlog_level: warn\nmodel:\n  path: a.onnx\n"}
	cfg, err := loader(env, files).Load("")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 0.75, cfg.Thresholds.Same)
	assert.Equal(t, 0.6, cfg.Thresholds.Likely)
	assert.Equal(t, "other.onnx", cfg.Model.Path)
	assert.False(t, cfg.Model.Normalize)
	assert.Equal(t, "/opt/ort/libonnxruntime.so", cfg.Model.LibPath)
	assert.Equal(t, "warn", cfg.LogLevel, "blank env values are ignored")
	assert.Equal(t, 40, cfg.Features.NumMelBins)
	assert.Equal(t, 48000, cfg.Model.TargetSamples)
}

func TestLoaderErrors(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		files map[string]string
		path  string
	}{
		{"missing file", nil, nil, "nope.yaml"},
		{"unknown key", nil, map[string]string{"c.yaml": "wokers: 3\n"}, "c.yaml"},
		{"bad yaml", nil, map[string]string{"c.yaml": "workers: [\n"}, "c.yaml"},
		{"bad int", map[string]string{"SPEAKERPRINT_WORKERS": "many"}, nil, ""},
		{"bad float", map[string]string{"SPEAKERPRINT_THRESHOLD_SAME": "high"}, nil, ""},
		{"bad bool", map[string]string{"SPEAKERPRINT_NORMALIZE": "sometimes"}, nil, ""},
		{"zero workers", map[string]string{"SPEAKERPRINT_WORKERS": "0"}, nil, ""},
		{"unordered thresholds", map[string]string{"SPEAKERPRINT_THRESHOLD_UNCERTAIN": "0.9"}, nil, ""},
		{"bad level", map[string]string{"SPEAKERPRINT_LOG_LEVEL": "loud"}, nil, ""},
		{"invalid features", nil, map[string]string{"c.yaml": "features:\n  hop_size: 0\n"}, "c.yaml"},
		{"negative target", map[string]string{"SPEAKERPRINT_TARGET_SAMPLES": "-1"}, nil, ""},
		{"target shorter than a frame", map[string]string{"SPEAKERPRINT_TARGET_SAMPLES": "100"}, nil, ""},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := loader(test.env, test.files).Load(test.path)
			require.Error(t, err)
		})
	}
}

func TestInvalidFeaturesUnwrap(t *testing.T) {
	cfg := Default()
	cfg.Features.FMax = 1e6
	require.True(t, errors.Is(cfg.Validate(), features.ErrInvalidInput))
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseLevel("")
	require.Error(t, err)
}
