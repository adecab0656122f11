// Package onnx runs speaker embedding models through ONNX Runtime and manages
// the runtime's shared library.
package onnx

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/algo-boyz/speakerprint/pkg/embedding"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
)

var (
	envOnce sync.Once
	envErr  error
	envMu   sync.Mutex
)

// Init loads the shared library and creates the ORT environment. Only the
// first call does any work; later calls return its result.
func Init(libPath string) error {
	envOnce.Do(func() {
		envMu.Lock()
		defer envMu.Unlock()
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			envErr = fmt.Errorf("failed to init onnx lib %s: %w", libPath, err)
		}
	})
	return envErr
}

// Shutdown destroys the ORT environment. Call it once, after every Session
// is closed.
func Shutdown() error {
	envMu.Lock()
	defer envMu.Unlock()
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

type SessionConfig struct {
	ModelPath string
	// InputName and OutputName select the tensors to bind. Empty means the
	// model's first input or output.
	InputName      string
	OutputName     string
	IntraOpThreads int
	UseCoreML      bool
	Logger         *slog.Logger
}

// Session is an embedding.Inferencer backed by an ORT session. Every Infer
// call allocates its own tensors, so a Session is safe for concurrent use.
type Session struct {
	session *ort.DynamicAdvancedSession
	options *ort.SessionOptions
	input   ort.InputOutputInfo
	output  ort.InputOutputInfo
	log     *slog.Logger
}

var _ embedding.Inferencer = (*Session)(nil)

// NewSession opens cfg.ModelPath. Init must have succeeded first.
func NewSession(cfg SessionConfig) (s *Session, err error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "onnx", "model", cfg.ModelPath)

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get net info for %s: %w", cfg.ModelPath, err)
	}
	input, err := pickIO(inputs, cfg.InputName, "input")
	if err != nil {
		return nil, err
	}
	output, err := pickIO(outputs, cfg.OutputName, "output")
	if err != nil {
		return nil, err
	}
	if input.DataType != ort.TensorElementDataTypeFloat || output.DataType != ort.TensorElementDataTypeFloat {
		return nil, fmt.Errorf("%w: %s is %s and %s is %s, want float32 tensors",
			embedding.ErrShapeMismatch, input.Name, input.DataType, output.Name, output.DataType)
	}

	options, err := newOptions(cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, options.Destroy())
		}
	}()
	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{input.Name}, []string{output.Name}, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create onnx session: %w", err)
	}
	log.Info("model loaded", "input", input.String(), "output", output.String())
	return &Session{
		session: session,
		options: options,
		input:   input,
		output:  output,
		log:     log,
	}, nil
}

func newOptions(cfg SessionConfig) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create onnx session options: %w", err)
	}
	if cfg.IntraOpThreads > 0 {
		if err = options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			return nil, multierr.Append(fmt.Errorf("failed to set intra-op threads: %w", err), options.Destroy())
		}
	}
	if cfg.UseCoreML {
		if err = options.AppendExecutionProviderCoreML(0); err != nil {
			return nil, multierr.Append(fmt.Errorf("failed to enable CoreML: %w", err), options.Destroy())
		}
	}
	return options, nil
}

func (s *Session) InputName() string  { return s.input.Name }
func (s *Session) OutputName() string { return s.output.Name }

// Dimension is the embedding length declared by the model, or 0 when the
// output's last axis is dynamic.
func (s *Session) Dimension() int { return dimensionOf(s.output) }

func (s *Session) Infer(ctx context.Context, inputs map[string]embedding.Tensor) (out map[string]embedding.Tensor, err error) {
	if err = ctx.Err(); err != nil {
		return nil, err
	}
	in, ok := inputs[s.input.Name]
	if !ok {
		return nil, fmt.Errorf("%w: no tensor for model input %q", embedding.ErrShapeMismatch, s.input.Name)
	}
	if err = checkShape(in.Shape, s.input.Dimensions); err != nil {
		return nil, fmt.Errorf("input %q: %w", s.input.Name, err)
	}
	tensor, err := ort.NewTensor(ort.NewShape(in.Shape...), in.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() {
		err = multierr.Append(err, tensor.Destroy())
	}()
	results := []ort.Value{nil}
	if err = s.session.Run([]ort.Value{tensor}, results); err != nil {
		return nil, fmt.Errorf("failed to run %s: %w", s.output.Name, err)
	}
	defer func() {
		err = multierr.Append(err, results[0].Destroy())
	}()
	result, ok := results[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("%w: output %q is %T", embedding.ErrShapeMismatch, s.output.Name, results[0])
	}
	return map[string]embedding.Tensor{
		s.output.Name: {
			Shape: append([]int64(nil), result.GetShape()...),
			Data:  append([]float32(nil), result.GetData()...),
		},
	}, nil
}

func (s *Session) Close() error {
	s.log.Debug("closing session")
	return multierr.Combine(s.session.Destroy(), s.options.Destroy())
}

func pickIO(infos []ort.InputOutputInfo, name, kind string) (ort.InputOutputInfo, error) {
	if len(infos) == 0 {
		return ort.InputOutputInfo{}, fmt.Errorf("%w: model has no %ss", embedding.ErrShapeMismatch, kind)
	}
	if name == "" {
		return infos[0], nil
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		if info.Name == name {
			return info, nil
		}
		names[i] = info.Name
	}
	return ort.InputOutputInfo{}, fmt.Errorf("%w: model has no %s %q (have %v)", embedding.ErrShapeMismatch, kind, name, names)
}

func dimensionOf(info ort.InputOutputInfo) int {
	if len(info.Dimensions) == 0 {
		return 0
	}
	if d := info.Dimensions[len(info.Dimensions)-1]; d > 0 {
		return int(d)
	}
	return 0
}

// checkShape compares a concrete shape against a model shape in which
// negative dimensions are dynamic.
func checkShape(shape []int64, declared ort.Shape) error {
	if len(declared) == 0 {
		return nil
	}
	if len(shape) != len(declared) {
		return fmt.Errorf("%w: rank %d, model expects %v", embedding.ErrShapeMismatch, len(shape), declared)
	}
	for i, d := range declared {
		if d > 0 && shape[i] != d {
			return fmt.Errorf("%w: shape %v, model expects %v", embedding.ErrShapeMismatch, shape, declared)
		}
	}
	return nil
}
