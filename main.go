package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/algo-boyz/speakerprint/pkg/config"
	"github.com/algo-boyz/speakerprint/pkg/state"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	logLevel   string
	model      string
	workers    int
	progress   bool
	loader     config.Loader
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "speakerprint",
		Short: "Speaker embeddings from audio files",
		Long: `speakerprint turns speech recordings into log-mel features and speaker
embeddings, compares embeddings by cosine similarity and keeps a local
store of enrolled speakers.

Without a model (--model or SPEAKERPRINT_MODEL) a statistics-pooling
embedding is used, which is enough to try the pipeline end to end.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML config file (default $"+config.PathEnv+")")
	flags.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	flags.StringVarP(&opts.model, "model", "m", "", "ONNX speaker embedding model")
	flags.IntVarP(&opts.workers, "workers", "w", 0, "files embedded concurrently")
	flags.BoolVar(&opts.progress, "progress", false, "show progress bars on stderr")

	cmd.AddCommand(
		newFeaturesCmd(opts),
		newEmbedCmd(opts),
		newCompareCmd(opts),
		newEnrollCmd(opts),
		newIdentifyCmd(opts),
		newProfilesCmd(opts),
		newInspectCmd(opts),
		newFetchRuntimeCmd(opts),
	)
	return cmd
}

// app is what a command run needs: the merged config, a logger and a
// state.Context that owns every resource opened during the run.
type app struct {
	cfg config.Config
	ctx state.Context
	log *slog.Logger
	out io.Writer
	// progress is nil unless --progress was given.
	progress io.Writer
}

func (o *rootOptions) start(cmd *cobra.Command) (*app, error) {
	cfg, err := o.loader.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.model != "" {
		cfg.Model.Path = o.model
	}
	if o.workers != 0 {
		cfg.Workers = o.workers
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	a := &app{cfg: cfg, ctx: state.NewContext(parent, log), log: log, out: cmd.OutOrStdout()}
	if o.progress {
		a.progress = cmd.ErrOrStderr()
	}
	return a, nil
}

// exit releases everything the run opened and folds close errors into err.
func (a *app) exit(err *error) {
	*err = multierr.Append(*err, a.ctx.Exit())
}

func (a *app) speakerPrint() (*SpeakerPrint, error) {
	sp, err := NewSpeakerPrint(a.ctx, a.cfg, a.log)
	if err != nil {
		return nil, err
	}
	sp.progress = a.progress
	return sp, nil
}
