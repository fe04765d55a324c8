package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"idt/internal/gallery"
	"idt/internal/media"
	"idt/internal/provider"
	"idt/internal/workflow"
)

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("provider", "p", "", "description provider ("+fmt.Sprint(provider.Names())+")")
	f.StringP("model", "m", "", "model name; defaults per provider")
	f.StringP("prompt-style", "s", "", "prompt style, e.g. detailed, concise, narrative")
	f.StringP("output", "o", "", "directory that receives run directories")
	f.Bool("no-cache", false, "do not read or write the description cache")
	f.Uint("max-width", 0, "downscale images wider than this before describing")
	f.Bool("recursive", true, "scan subdirectories of the input")
	f.String("video-mode", "", "frame extraction mode (interval, scene, positions)")
}

func newWorkflowCmd(a *app) *cobra.Command {
	var resume string
	cmd := &cobra.Command{
		Use:   "workflow [input]",
		Short: "Run extract, convert, describe and gallery steps over a directory",
		Long: `Run the full pipeline over a directory of photos and videos.

Every run writes into <output>/wf_<provider>_<model>_<style>_<timestamp>/.
An interrupted run continues where it stopped with --resume <run dir>:
completed steps are skipped and images already described are not sent
to the provider again.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if resume != "" {
				return a.resumeRun(cmd, resume, nil, nil)
			}
			if len(args) == 0 {
				return errors.New("an input directory or --resume is required")
			}
			steps, err := workflow.ParseSteps(a.cfg.Steps)
			if err != nil {
				return err
			}
			return a.newRun(cmd, args[0], steps)
		},
	}
	addRunFlags(cmd)
	cmd.Flags().StringSlice("steps", nil, "steps to run: video, convert, describe, html")
	cmd.Flags().StringVar(&resume, "resume", "", "resume the run in this directory")
	return cmd
}

func newStepCmd(a *app, name, short string, steps ...workflow.Step) *cobra.Command {
	cmd := &cobra.Command{
		Use:   name + " <input>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.newRun(cmd, args[0], steps)
		},
	}
	addRunFlags(cmd)
	return cmd
}

func newGalleryCmd(a *app) *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "gallery <run dir>",
		Short: "Render the HTML gallery of a run from its descriptions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if title != "" {
				a.cfg.Gallery.Title = title
			}
			html := []workflow.Step{workflow.StepHTML}
			return a.resumeRun(cmd, args[0], html, html)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "gallery page title")
	return cmd
}

func (a *app) runOptions() workflow.Options {
	return workflow.Options{
		OutputDir:   a.cfg.OutputDir,
		Recursive:   a.cfg.Recursive,
		PromptStyle: a.cfg.Prompt.Style,
		MaxWidth:    a.cfg.Describe.MaxWidth,
		Gallery: gallery.Options{
			Title:      a.cfg.Gallery.Title,
			ThumbWidth: a.cfg.Gallery.ThumbWidth,
		},
		Progress: a.progress(),
	}
}

func (a *app) baseDeps() workflow.Deps {
	return workflow.Deps{
		Extractor: a.extractor(),
		Converter: media.NewHEICConverter(a.cfg.Convert.Quality),
		Logger:    a.logger,
	}
}

// describer wires the provider, prompt, cache and capture metadata reader a
// describe step needs. The returned func releases the cache and exiftool.
func (a *app) describer(deps *workflow.Deps, opts *workflow.Options, name, model, style string) (func() error, error) {
	p, err := a.newProvider(name, model)
	if err != nil {
		return nil, err
	}
	prompt, err := provider.NewPrompts(a.cfg.Prompt.Custom).Get(style)
	if err != nil {
		return nil, err
	}
	c, closeCache, err := a.openCache()
	if err != nil {
		return nil, err
	}
	capture, err := media.NewCaptureReader()
	if err != nil {
		a.logger.Warn("HEIC photos will be dated by file time", zap.Error(err))
	}
	deps.Provider, deps.Cache, deps.Capture = p, c, capture
	opts.Prompt = prompt
	return func() error {
		return errors.Join(closeCache(), capture.Close())
	}, nil
}

func (a *app) newRun(cmd *cobra.Command, input string, steps []workflow.Step) error {
	opts := a.runOptions()
	opts.InputDir = input
	opts.Steps = steps
	opts.Provider = a.cfg.Provider.Name
	opts.Model = lo.CoalesceOrEmpty(a.cfg.Provider.Model, provider.DefaultModel(a.cfg.Provider.Name))
	deps := a.baseDeps()

	if lo.Contains(steps, workflow.StepDescribe) {
		closeCache, err := a.describer(&deps, &opts, a.cfg.Provider.Name, a.cfg.Provider.Model, opts.PromptStyle)
		if err != nil {
			return err
		}
		defer closeCache()
	}

	r, err := workflow.New(opts, deps)
	if err != nil {
		return err
	}
	return a.run(cmd, r)
}

// resumeRun reopens dir. rerun steps are executed again even if completed;
// when only is set no other step runs.
func (a *app) resumeRun(cmd *cobra.Command, dir string, rerun, only []workflow.Step) error {
	meta, err := workflow.LoadMetadata(dir)
	if err != nil {
		return err
	}
	pending := lo.Filter(lo.Union(meta.Steps, rerun), func(s workflow.Step, _ int) bool {
		if len(only) > 0 && !lo.Contains(only, s) {
			return false
		}
		return lo.Contains(rerun, s) || !lo.Contains(meta.Completed, s)
	})

	opts := a.runOptions()
	deps := a.baseDeps()
	if lo.Contains(pending, workflow.StepDescribe) {
		closeCache, err := a.describer(&deps, &opts, meta.Provider, meta.Model, meta.PromptStyle)
		if err != nil {
			return err
		}
		defer closeCache()
	}

	r, err := workflow.Resume(dir, rerun, opts, deps)
	if err != nil {
		return err
	}
	if len(only) > 0 {
		r.Only(only...)
	}
	return a.run(cmd, r)
}

func (a *app) run(cmd *cobra.Command, r *workflow.Runner) error {
	sum, err := r.Run(cmd.Context())
	printSummary(cmd.OutOrStdout(), r.Layout().Root, sum)
	return err
}

func printSummary(w io.Writer, runDir string, sum workflow.Summary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Run directory:\t%s\n", runDir)
	fmt.Fprintf(tw, "Images found:\t%d (HEIC %d, converted %d)\n", sum.ImagesFound, sum.HEICFound, sum.Converted)
	fmt.Fprintf(tw, "Videos found:\t%d (frames %d)\n", sum.VideosFound, sum.FramesExtracted)
	fmt.Fprintf(tw, "To describe:\t%d\n", sum.Total)
	fmt.Fprintf(tw, "Described:\t%d (from cache %d)\n", sum.Described, sum.FromCache)
	fmt.Fprintf(tw, "Already described:\t%d\n", sum.Skipped)
	fmt.Fprintf(tw, "Failed:\t%d\n", sum.Failed)
	fmt.Fprintf(tw, "Pending:\t%d\n", sum.Pending)
	fmt.Fprintf(tw, "Duration:\t%s\n", sum.Duration)
	tw.Flush()
}
