package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/algo-boyz/speakerprint/pkg/onnx"
	"gopkg.in/yaml.v3"
)

// PathEnv names the config file when Load gets no explicit path.
const PathEnv = "SPEAKERPRINT_CONFIG"

// Loader reads defaults, then the YAML file, then environment overrides.
// Tests can override Lookup and ReadFile to inject deterministic inputs.
type Loader struct {
	Lookup   func(string) (string, bool)
	ReadFile func(string) ([]byte, error)
}

func (l Loader) Load(path string) (Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}
	if l.ReadFile == nil {
		l.ReadFile = os.ReadFile
	}

	cfg := Default()
	if path == "" {
		if v, ok := l.Lookup(PathEnv); ok {
			path = strings.TrimSpace(v)
		}
	}
	if path != "" {
		raw, err := l.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err = applyYAML(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	if err := l.applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyYAML(raw []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (l Loader) applyEnv(cfg *Config) error {
	overrideString(l.Lookup, "SPEAKERPRINT_LOG_LEVEL", &cfg.LogLevel)
	overrideString(l.Lookup, "SPEAKERPRINT_MODEL", &cfg.Model.Path)
	overrideString(l.Lookup, "SPEAKERPRINT_INPUT_NAME", &cfg.Model.InputName)
	overrideString(l.Lookup, "SPEAKERPRINT_OUTPUT_NAME", &cfg.Model.OutputName)
	overrideString(l.Lookup, onnx.LibPathEnv, &cfg.Model.LibPath)
	overrideString(l.Lookup, "SPEAKERPRINT_STORE_DIR", &cfg.Store.Dir)
	for _, o := range []struct {
		key    string
		target *int
	}{
		{"SPEAKERPRINT_WORKERS", &cfg.Workers},
		{"SPEAKERPRINT_SAMPLE_RATE", &cfg.Features.SampleRate},
		{"SPEAKERPRINT_NUM_MEL_BINS", &cfg.Features.NumMelBins},
		{"SPEAKERPRINT_DIMENSION", &cfg.Model.Dimension},
		{"SPEAKERPRINT_TARGET_SAMPLES", &cfg.Model.TargetSamples},
	} {
		if err := overrideInt(l.Lookup, o.key, o.target); err != nil {
			return err
		}
	}
	for _, o := range []struct {
		key    string
		target *float64
	}{
		{"SPEAKERPRINT_THRESHOLD_SAME", &cfg.Thresholds.Same},
		{"SPEAKERPRINT_THRESHOLD_LIKELY", &cfg.Thresholds.Likely},
		{"SPEAKERPRINT_THRESHOLD_UNCERTAIN", &cfg.Thresholds.Uncertain},
	} {
		if err := overrideFloat(l.Lookup, o.key, o.target); err != nil {
			return err
		}
	}
	return overrideBool(l.Lookup, "SPEAKERPRINT_NORMALIZE", &cfg.Model.Normalize)
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideFloat(lookup func(string) (string, bool), key string, target *float64) error {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("config: invalid value for %s: %w", key, err)
		}
		*target = parsed
	}
	return nil
}

func overrideInt(lookup func(string) (string, bool), key string, target *int) error {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("config: invalid value for %s: %w", key, err)
		}
		*target = parsed
	}
	return nil
}

func overrideBool(lookup func(string) (string, bool), key string, target *bool) error {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("config: invalid value for %s: %w", key, err)
		}
		*target = parsed
	}
	return nil
}
