// Package config assembles the speakerprint configuration from defaults, an
// optional YAML file and SPEAKERPRINT_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/algo-boyz/speakerprint/pkg/embedding"
	"github.com/algo-boyz/speakerprint/pkg/features"
	"github.com/algo-boyz/speakerprint/pkg/onnx"
)

const (
	DefaultLogLevel = "info"
	DefaultWorkers  = 4
)

type Config struct {
	LogLevel   string               `yaml:"log_level"`
	Features   features.Config      `yaml:"features"`
	Model      Model                `yaml:"model"`
	Thresholds embedding.Thresholds `yaml:"thresholds"`
	Store      Store                `yaml:"store"`
	// Workers bounds concurrent inference calls in batch commands.
	Workers int `yaml:"workers"`
}

// Model selects the embedding network. An empty Path runs the built-in
// statistics-pooling stub instead of ONNX Runtime.
type Model struct {
	Path       string `yaml:"path"`
	InputName  string `yaml:"input_name"`
	OutputName string `yaml:"output_name"`
	// Dimension pins the expected embedding length; 0 trusts the model.
	Dimension int `yaml:"dimension"`
	// TargetSamples pads or truncates resampled audio to a fixed length
	// before extraction; 0 keeps every clip at its own length.
	TargetSamples  int    `yaml:"target_samples"`
	Normalize      bool   `yaml:"normalize"`
	CMVN           bool   `yaml:"cmvn"`
	LibPath        string `yaml:"lib_path"`
	RuntimeVersion string `yaml:"runtime_version"`
	RuntimeDir     string `yaml:"runtime_dir"`
	IntraOpThreads int    `yaml:"intra_op_threads"`
	UseCoreML      bool   `yaml:"use_coreml"`
}

type Store struct {
	Dir string `yaml:"dir"`
}

func Default() Config {
	home, _ := os.UserHomeDir()
	rt := onnx.DefaultRuntime()
	return Config{
		LogLevel: DefaultLogLevel,
		Features: features.DefaultConfig(),
		Model: Model{
			Normalize:      true,
			RuntimeVersion: rt.Version,
			RuntimeDir:     rt.Dir,
		},
		Thresholds: embedding.DefaultThresholds(),
		Store:      Store{Dir: filepath.Join(home, ".local", "share", "speakerprint")},
		Workers:    DefaultWorkers,
	}
}

func (c Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if err := c.Features.Validate(); err != nil {
		return fmt.Errorf("config: features: %w", err)
	}
	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Workers < 1 {
		return fmt.Errorf("config: workers must be at least 1, got %d", c.Workers)
	}
	if c.Model.Dimension < 0 || c.Model.IntraOpThreads < 0 || c.Model.TargetSamples < 0 {
		return fmt.Errorf("config: model dimension, target_samples and intra_op_threads must not be negative")
	}
	if t := c.Model.TargetSamples; t > 0 && t < c.Features.FFTSize {
		return fmt.Errorf("config: target_samples %d is shorter than one %d-sample frame", t, c.Features.FFTSize)
	}
	return nil
}

// ParseLevel accepts debug, info, warn and error in any case.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: invalid log level %q", s)
	}
	return level, nil
}

// ModelSpec is the tensor contract the embedder checks model output against.
func (c Config) ModelSpec() embedding.ModelSpec {
	spec := embedding.DefaultModelSpec()
	if c.Model.InputName != "" {
		spec.InputName = c.Model.InputName
	}
	if c.Model.OutputName != "" {
		spec.OutputName = c.Model.OutputName
	}
	spec.FeatureWidth = c.Features.NumMelBins
	spec.Dimension = c.Model.Dimension
	return spec
}

func (c Config) Runtime() onnx.Runtime {
	return onnx.Runtime{Version: c.Model.RuntimeVersion, Dir: c.Model.RuntimeDir}
}
