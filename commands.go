package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/algo-boyz/speakerprint/pkg/embedding"
	"github.com/algo-boyz/speakerprint/pkg/features"
	"github.com/algo-boyz/speakerprint/pkg/onnx"
	"github.com/algo-boyz/speakerprint/pkg/profile"
	"github.com/spf13/cobra"
)

func newFeaturesCmd(opts *rootOptions) *cobra.Command {
	var (
		cmvn bool
		dump bool
	)
	cmd := &cobra.Command{
		Use:   "features <file>",
		Short: "Extract the log-mel feature matrix of an audio file",
		Long: `Decode a WAV or MP3 file, resample it to the configured rate and print
the shape and value range of its log-mel spectrogram. With --dump every
frame is printed as one comma separated row.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := opts.start(cmd)
			if err != nil {
				return err
			}
			defer a.exit(&err)

			extractor, err := features.New(a.cfg.Features)
			if err != nil {
				return err
			}
			sp := &SpeakerPrint{cfg: a.cfg, ctx: a.ctx, log: a.log, extractor: extractor}
			m, err := sp.Features(args[0])
			if err != nil {
				return err
			}
			if cmvn {
				m = features.CMVN(m)
			}
			if dump {
				for _, frame := range m.Frames() {
					row := make([]string, len(frame))
					for i, v := range frame {
						row[i] = strconv.FormatFloat(float64(v), 'f', 4, 32)
					}
					fmt.Fprintln(a.out, strings.Join(row, ","))
				}
				return nil
			}
			stats := m.Stats()
			fmt.Fprintf(a.out, "%s: %d frames x %d mel bins, min %.2f max %.2f mean %.2f\n",
				args[0], m.FrameCount(), m.NumMelBins(), stats.Min, stats.Max, stats.Mean)
			cache := features.ReadCacheStats()
			a.log.Debug("filterbank cache", "hits", cache.Hits, "misses", cache.Misses, "hit_rate", cache.HitRate())
			return nil
		},
	}
	cmd.Flags().BoolVar(&cmvn, "cmvn", false, "normalize every mel bin to zero mean and unit variance")
	cmd.Flags().BoolVar(&dump, "dump", false, "print the matrix as CSV")
	return cmd
}

func newEmbedCmd(opts *rootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "embed <file>...",
		Short: "Compute speaker embeddings and write them as a references file",
		Long: `Embed every file and write {"embeddings": [[...], ...]} to stdout or
--out. The result can be enrolled with "enroll --references" or scored
against with "identify --references".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := opts.start(cmd)
			if err != nil {
				return err
			}
			defer a.exit(&err)

			sp, err := a.speakerPrint()
			if err != nil {
				return err
			}
			es, err := sp.EmbedAll(a.ctx, args)
			if err != nil {
				return err
			}
			if out == "" {
				return profile.WriteReferences(a.out, es)
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err = profile.WriteReferences(f, es); err != nil {
				f.Close()
				return err
			}
			a.log.Info("wrote embeddings", "path", out, "count", len(es))
			return f.Close()
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to this file instead of stdout")
	return cmd
}

func newCompareCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "compare <a> <b>",
		Short: "Score whether two recordings share a speaker",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := opts.start(cmd)
			if err != nil {
				return err
			}
			defer a.exit(&err)

			sp, err := a.speakerPrint()
			if err != nil {
				return err
			}
			r, err := sp.Compare(a.ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if asJSON {
				return json.NewEncoder(a.out).Encode(struct {
					Similarity float64 `json:"similarity"`
					Label      string  `json:"label"`
				}{r.Similarity, r.Label.String()})
			}
			printResult(a.out, r)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func newEnrollCmd(opts *rootOptions) *cobra.Command {
	var references string
	cmd := &cobra.Command{
		Use:   "enroll <name> [file]...",
		Short: "Add recordings of a speaker to the profile store",
		Long: `Embed every file and add it to the named profile, creating the profile
on first use. --references adds the embeddings of a references file.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			name, files := args[0], args[1:]
			if len(files) == 0 && references == "" {
				return fmt.Errorf("enroll %s: no audio files or --references given", name)
			}
			a, err := opts.start(cmd)
			if err != nil {
				return err
			}
			defer a.exit(&err)

			var es []embedding.Embedding
			if references != "" {
				if es, err = profile.LoadReferences(references); err != nil {
					return err
				}
			}
			if len(files) > 0 {
				sp, err := a.speakerPrint()
				if err != nil {
					return err
				}
				embedded, err := sp.EmbedAll(a.ctx, files)
				if err != nil {
					return err
				}
				es = append(es, embedded...)
			}

			store, err := OpenStore(a.ctx, a.cfg, a.log)
			if err != nil {
				return err
			}
			var p profile.Profile
			for _, e := range es {
				if p, err = profile.Enroll(a.ctx, store, name, e); err != nil {
					return err
				}
			}
			fmt.Fprintf(a.out, "enrolled %s (%s), %d clips\n", nameStyle.Render(p.Name), p.ID, len(p.Embeddings))
			return nil
		},
	}
	cmd.Flags().StringVarP(&references, "references", "r", "", "references file with precomputed embeddings")
	return cmd
}

func newIdentifyCmd(opts *rootOptions) *cobra.Command {
	var (
		references string
		top        int
	)
	cmd := &cobra.Command{
		Use:   "identify <file>",
		Short: "Rank enrolled speakers by similarity to a recording",
		Long: `Embed the file and score it against the centroid of every enrolled
profile, best match first. With --references the file is scored against
each embedding of a references file instead and only the best is shown.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := opts.start(cmd)
			if err != nil {
				return err
			}
			defer a.exit(&err)

			sp, err := a.speakerPrint()
			if err != nil {
				return err
			}
			if references != "" {
				refs, err := profile.LoadReferences(references)
				if err != nil {
					return err
				}
				query, err := sp.Embed(a.ctx, args[0])
				if err != nil {
					return err
				}
				best, idx, err := profile.BestReference(sp.Comparator(), refs, query)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "reference %d  ", idx)
				printResult(a.out, best)
				return nil
			}

			store, err := OpenStore(a.ctx, a.cfg, a.log)
			if err != nil {
				return err
			}
			matches, err := sp.Identify(a.ctx, store, args[0])
			if err != nil {
				return err
			}
			if top > 0 && len(matches) > top {
				matches = matches[:top]
			}
			printMatches(a.out, matches)
			return nil
		},
	}
	cmd.Flags().StringVarP(&references, "references", "r", "", "score against a references file instead of the store")
	cmd.Flags().IntVarP(&top, "top", "n", 0, "show at most this many matches")
	return cmd
}

func newProfilesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List enrolled speakers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := opts.start(cmd)
			if err != nil {
				return err
			}
			defer a.exit(&err)

			store, err := OpenStore(a.ctx, a.cfg, a.log)
			if err != nil {
				return err
			}
			ps, err := store.List(a.ctx)
			if err != nil {
				return err
			}
			printProfiles(a.out, ps)
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "rm <name>",
		Short: "Delete an enrolled speaker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := opts.start(cmd)
			if err != nil {
				return err
			}
			defer a.exit(&err)

			store, err := OpenStore(a.ctx, a.cfg, a.log)
			if err != nil {
				return err
			}
			p, err := profile.FindByName(a.ctx, store, args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if err = store.Delete(a.ctx, p.ID); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "deleted %s\n", nameStyle.Render(p.Name))
			return nil
		},
	})
	return cmd
}

func newInspectCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <model.onnx>",
		Short: "Print the inputs and outputs of an ONNX model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := opts.start(cmd)
			if err != nil {
				return err
			}
			defer a.exit(&err)

			libPath, err := onnx.ResolveLibPath(a.cfg.Model.LibPath, a.cfg.Runtime())
			if err != nil {
				return fmt.Errorf("path to onnx runtime is required: %w", err)
			}
			if err = onnx.Init(libPath); err != nil {
				return err
			}
			a.ctx.Defer(onnx.Shutdown)

			info, err := onnx.Inspect(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, nameStyle.Render(info.Path))
			for _, t := range info.Inputs {
				fmt.Fprintf(a.out, "  input   %-20s %-8s %v\n", t.Name, t.DataType, t.Shape)
			}
			for _, t := range info.Outputs {
				fmt.Fprintf(a.out, "  output  %-20s %-8s %v\n", t.Name, t.DataType, t.Shape)
			}
			if d := info.Dimension(); d > 0 {
				fmt.Fprintf(a.out, "  embedding dimension %d\n", d)
			} else {
				fmt.Fprintln(a.out, dimStyle.Render("  embedding dimension is dynamic"))
			}
			return nil
		},
	}
}

func newFetchRuntimeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch-runtime",
		Short: "Download the ONNX Runtime shared library for this platform",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := opts.start(cmd)
			if err != nil {
				return err
			}
			defer a.exit(&err)

			rt := a.cfg.Runtime()
			rt.Logger = a.log
			path, err := rt.Fetch(a.ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, path)
			return nil
		},
	}
}
