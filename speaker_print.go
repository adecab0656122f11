package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/algo-boyz/speakerprint/pkg/audio"
	"github.com/algo-boyz/speakerprint/pkg/config"
	"github.com/algo-boyz/speakerprint/pkg/embedding"
	"github.com/algo-boyz/speakerprint/pkg/features"
	"github.com/algo-boyz/speakerprint/pkg/onnx"
	"github.com/algo-boyz/speakerprint/pkg/profile"
	"github.com/algo-boyz/speakerprint/pkg/state"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sync/errgroup"
)

// SpeakerPrint runs audio files through feature extraction and the
// embedding model and compares the results.
type SpeakerPrint struct {
	cfg        config.Config
	ctx        state.Context
	log        *slog.Logger
	extractor  *features.Extractor
	embedder   *embedding.Embedder
	comparator embedding.Comparator
	// progress receives batch progress bars; nil hides them.
	progress io.Writer
}

func NewSpeakerPrint(ctx state.Context, cfg config.Config, log *slog.Logger) (*SpeakerPrint, error) {
	if log == nil {
		log = slog.Default()
	}
	extractor, err := features.New(cfg.Features)
	if err != nil {
		return nil, err
	}
	infer, spec, err := openModel(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	embedder, err := embedding.NewEmbedder(infer, spec, embedding.Options{
		Normalize: cfg.Model.Normalize,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}
	bound := embedder.Spec()
	log.Info("embedder ready", "model", cfg.Model.Path, "input", bound.InputName,
		"output", bound.OutputName, "width", bound.FeatureWidth, "dimension", bound.Dimension)
	return &SpeakerPrint{
		cfg:        cfg,
		ctx:        ctx,
		log:        log,
		extractor:  extractor,
		embedder:   embedder,
		comparator: embedding.NewComparator(cfg.Thresholds),
	}, nil
}

// openModel binds the configured ONNX model, or the statistics-pooling stub
// when no model path is set. Sessions are closed when ctx exits.
func openModel(ctx state.Context, cfg config.Config, log *slog.Logger) (embedding.Inferencer, embedding.ModelSpec, error) {
	if cfg.Model.Path == "" {
		spec, err := bindSpec(cfg, "", "", embedding.StubSpec(cfg.Features.NumMelBins).Dimension)
		if err != nil {
			return nil, embedding.ModelSpec{}, fmt.Errorf("statistics pooling: %w", err)
		}
		log.Warn("no model configured, using statistics pooling", "dimension", spec.Dimension)
		return embedding.NewStubInferencer(spec), spec, nil
	}

	libPath, err := onnx.ResolveLibPath(cfg.Model.LibPath, cfg.Runtime())
	if err != nil {
		return nil, embedding.ModelSpec{}, fmt.Errorf("path to onnx runtime is required: %w", err)
	}
	if err = onnx.Init(libPath); err != nil {
		return nil, embedding.ModelSpec{}, err
	}
	ctx.Defer(onnx.Shutdown)

	session, err := onnx.NewSession(onnx.SessionConfig{
		ModelPath:      cfg.Model.Path,
		InputName:      cfg.Model.InputName,
		OutputName:     cfg.Model.OutputName,
		IntraOpThreads: cfg.Model.IntraOpThreads,
		UseCoreML:      cfg.Model.UseCoreML,
		Logger:         log,
	})
	if err != nil {
		return nil, embedding.ModelSpec{}, err
	}
	ctx.Defer(session.Close)

	spec, err := bindSpec(cfg, session.InputName(), session.OutputName(), session.Dimension())
	if err != nil {
		return nil, embedding.ModelSpec{}, fmt.Errorf("model %s: %w", cfg.Model.Path, err)
	}
	return session, spec, nil
}

// bindSpec merges the configured tensor contract with what the model
// declares. Empty bound names keep the configured ones, configured names must
// match the bound ones, and a pinned dimension must agree with a declared one.
func bindSpec(cfg config.Config, input, output string, declared int) (embedding.ModelSpec, error) {
	spec := cfg.ModelSpec()
	if input != "" {
		if cfg.Model.InputName != "" && cfg.Model.InputName != input {
			return embedding.ModelSpec{}, fmt.Errorf("%w: model input is %q, config wants %q",
				embedding.ErrShapeMismatch, input, cfg.Model.InputName)
		}
		spec.InputName = input
	}
	if output != "" {
		if cfg.Model.OutputName != "" && cfg.Model.OutputName != output {
			return embedding.ModelSpec{}, fmt.Errorf("%w: model output is %q, config wants %q",
				embedding.ErrShapeMismatch, output, cfg.Model.OutputName)
		}
		spec.OutputName = output
	}
	switch {
	case spec.Dimension == 0:
		spec.Dimension = declared
	case declared > 0 && declared != spec.Dimension:
		return embedding.ModelSpec{}, fmt.Errorf("%w: model declares %d-dim embeddings, config wants %d",
			embedding.ErrDimensionMismatch, declared, spec.Dimension)
	}
	return spec, nil
}

func (s *SpeakerPrint) Comparator() embedding.Comparator { return s.comparator }

// Features decodes the file at path, resamples it to the extractor's rate,
// fits it to Model.TargetSamples when set and returns its log-mel matrix.
func (s *SpeakerPrint) Features(path string) (*features.Matrix, error) {
	clip, err := audio.Load(path)
	if err != nil {
		return nil, err
	}
	buf, err := audio.Buffer(clip, s.extractor.Config().SampleRate, s.cfg.Model.TargetSamples)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m, err := s.extractor.Extract(buf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.log.Debug("extracted features", "path", path, "duration", clip.Duration(),
		"frames", m.FrameCount(), "bins", m.NumMelBins())
	return m, nil
}

func (s *SpeakerPrint) Embed(ctx context.Context, path string) (embedding.Embedding, error) {
	m, err := s.Features(path)
	if err != nil {
		return nil, err
	}
	if s.cfg.Model.CMVN {
		m = features.CMVN(m)
	}
	e, err := s.embedder.Embed(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return e, nil
}

// EmbedAll embeds paths with at most cfg.Workers files in flight. The
// result keeps the order of paths.
func (s *SpeakerPrint) EmbedAll(ctx context.Context, paths []string) ([]embedding.Embedding, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	out := make([]embedding.Embedding, len(paths))
	p := mpb.NewWithContext(ctx, mpb.WithOutput(s.progress), mpb.WithWidth(64))
	bar := p.AddBar(int64(len(paths)),
		mpb.PrependDecorators(
			decor.Name("Embedding: "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.EwmaETA(decor.ET_STYLE_GO, 30),
		),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, path := range paths {
		g.Go(func() error {
			start := time.Now()
			e, err := s.Embed(gctx, path)
			if err != nil {
				return err
			}
			out[i] = e
			bar.EwmaIncrement(time.Since(start))
			return nil
		})
	}
	err := g.Wait()
	if err != nil {
		bar.Abort(false)
	}
	p.Wait()
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Compare embeds both files and scores them against each other.
func (s *SpeakerPrint) Compare(ctx context.Context, a, b string) (embedding.Result, error) {
	es, err := s.EmbedAll(ctx, []string{a, b})
	if err != nil {
		return embedding.Result{}, err
	}
	return s.comparator.Compare(es[0], es[1])
}

// Identify embeds the file at path and ranks every stored profile against it.
func (s *SpeakerPrint) Identify(ctx context.Context, store profile.Store, path string) ([]profile.Match, error) {
	query, err := s.Embed(ctx, path)
	if err != nil {
		return nil, err
	}
	return profile.Identify(ctx, store, s.comparator, query)
}

// OpenStore opens the badger profile store under cfg.Store.Dir. It is closed
// when ctx exits.
func OpenStore(ctx state.Context, cfg config.Config, log *slog.Logger) (profile.Store, error) {
	store, err := profile.OpenBadger(profile.BadgerOptions{Dir: cfg.Store.Dir, Logger: log})
	if err != nil {
		return nil, err
	}
	ctx.Defer(store.Close)
	return store, nil
}
