// Package workflow runs the batch pipeline over an input directory: extract
// video frames, convert HEIC photos, describe every image and render a
// gallery, all inside one run directory that can be resumed.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/schollz/progressbar/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"idt/internal/cache"
	"idt/internal/descriptions"
	"idt/internal/gallery"
	"idt/internal/media"
	"idt/internal/metrics"
	"idt/internal/provider"
)

var ErrStepUnavailable = errors.New("step cannot run without its dependency")

// Extractor pulls frames out of one video into outDir.
type Extractor interface {
	Extract(ctx context.Context, videoPath, outDir string) ([]media.Frame, error)
}

// Converter turns one HEIC file into a JPEG at dst.
type Converter interface {
	Convert(ctx context.Context, src, dst string) (bool, error)
}

// CaptureReader dates an image or video and names the camera.
type CaptureReader interface {
	Read(ctx context.Context, path string) (media.CaptureInfo, error)
}

// Cache remembers descriptions across runs.
type Cache interface {
	Lookup(ctx context.Context, k cache.Key) (string, bool, error)
	Store(ctx context.Context, k cache.Key, description string) error
}

type Options struct {
	InputDir    string
	OutputDir   string
	Recursive   bool
	Steps       []Step
	Provider    string // naming fallback when Deps.Provider is nil
	Model       string
	PromptStyle string
	Prompt      string
	MaxWidth    uint
	Gallery     gallery.Options
	Progress    io.Writer // nil hides progress bars
}

// Deps are the collaborators a run needs. Only the ones its steps use must be
// set: the video step needs Extractor, convert needs Converter and describe
// needs Provider. Cache, Capture and Logger are optional; without Capture
// HEIC photos are dated by modification time.
type Deps struct {
	Provider  provider.Provider
	Extractor Extractor
	Converter Converter
	Cache     Cache
	Capture   CaptureReader
	Logger    *zap.Logger
}

type Runner struct {
	layout Layout
	meta   *Metadata
	opts   Options
	deps   Deps
	stats  *Stats
	files  []media.File
	logger *zap.Logger
	tracer trace.Tracer
	close  func() error
	only   []Step
}

// New creates a fresh run directory under opts.OutputDir.
func New(opts Options, deps Deps) (*Runner, error) {
	input, err := filepath.Abs(opts.InputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve input '%s': %w", opts.InputDir, err)
	}
	if _, err := os.Stat(input); err != nil {
		return nil, fmt.Errorf("input not found: %w", err)
	}
	steps := opts.Steps
	if len(steps) == 0 {
		steps = AllSteps
	}

	name, model := lo.CoalesceOrEmpty(opts.Provider, "none"), opts.Model
	if deps.Provider != nil {
		name, model = deps.Provider.Name(), deps.Provider.Model()
	}
	started := time.Now()
	base, err := filepath.Abs(filepath.Join(opts.OutputDir, RunName(name, model, opts.PromptStyle, started)))
	if err != nil {
		return nil, err
	}
	root := base
	for i := 2; ; i++ {
		if _, err := os.Stat(root); os.IsNotExist(err) {
			break
		}
		root = fmt.Sprintf("%s_%d", base, i)
	}

	layout := Layout{Root: root}
	if err := layout.create(); err != nil {
		return nil, err
	}
	meta := &Metadata{
		RunID:       uuid.New(),
		InputDir:    input,
		Provider:    name,
		Model:       model,
		PromptStyle: opts.PromptStyle,
		Steps:       steps,
		Completed:   []Step{},
		StartedAt:   started,
	}
	if err := saveJSON(layout.MetadataPath(), meta); err != nil {
		return nil, err
	}
	return newRunner(layout, meta, opts, deps)
}

// Resume reopens the run at dir. Steps already completed are skipped unless
// listed in rerun, which also adds steps the run did not originally request.
func Resume(dir string, rerun []Step, opts Options, deps Deps) (*Runner, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	meta, err := LoadMetadata(root)
	if err != nil {
		return nil, err
	}
	layout := Layout{Root: root}
	if err := layout.create(); err != nil {
		return nil, err
	}

	want := append(append([]Step{}, meta.Steps...), rerun...)
	meta.Steps = lo.Filter(AllSteps, func(s Step, _ int) bool { return lo.Contains(want, s) })
	meta.Completed = lo.Filter(meta.Completed, func(s Step, _ int) bool { return !lo.Contains(rerun, s) })
	meta.FinishedAt = nil
	opts.PromptStyle = meta.PromptStyle
	return newRunner(layout, meta, opts, deps)
}

func newRunner(layout Layout, meta *Metadata, opts Options, deps Deps) (*Runner, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Capture == nil {
		deps.Capture = &media.CaptureReader{}
	}
	logger, closeLog, err := teeToFile(logger, layout.LogPath())
	if err != nil {
		return nil, err
	}
	return &Runner{
		layout: layout,
		meta:   meta,
		opts:   opts,
		deps:   deps,
		stats:  NewStats(),
		logger: logger.With(zap.String("run", layout.Name()), zap.String("run_id", meta.RunID.String())),
		tracer: otel.Tracer("idt/workflow"),
		close:  closeLog,
	}, nil
}

// teeToFile mirrors every log entry as JSON into the run's log file.
func teeToFile(logger *zap.Logger, path string) (*zap.Logger, func() error, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(f),
		zapcore.DebugLevel,
	)
	tee := logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	}))
	return tee, f.Close, nil
}

func (r *Runner) Layout() Layout      { return r.layout }
func (r *Runner) Metadata() *Metadata { return r.meta }

// Only limits the next Run to the given steps. Other pending steps stay
// pending in the metadata.
func (r *Runner) Only(steps ...Step) { r.only = steps }

// Run executes every requested step that has not completed yet. Statistics
// and metadata are saved after each step, so an interrupted run keeps its
// progress and can be resumed.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	defer r.close()

	ctx, span := r.tracer.Start(ctx, "workflow", trace.WithAttributes(
		attribute.String("run", r.layout.Name()),
		attribute.String("provider", r.meta.Provider),
		attribute.String("model", r.meta.Model),
	))
	defer span.End()

	r.logger.Info("workflow starting",
		zap.String("input", r.meta.InputDir),
		zap.String("output", r.layout.Root),
		zap.Any("steps", r.meta.Steps),
		zap.Any("completed", r.meta.Completed),
	)
	if err := r.scan(); err != nil {
		return r.stats.Summary(), err
	}

	for _, step := range r.meta.Steps {
		if r.meta.completed(step) {
			r.logger.Info("step already completed, skipping", zap.String("step", string(step)))
			continue
		}
		if len(r.only) > 0 && !lo.Contains(r.only, step) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return r.finish(span, err)
		}
		if err := r.runStep(ctx, step); err != nil {
			return r.finish(span, fmt.Errorf("step %s: %w", step, err))
		}
		r.meta.markCompleted(step)
		if err := r.save(); err != nil {
			return r.finish(span, err)
		}
	}

	if lo.Every(r.meta.Completed, r.meta.Steps) {
		finished := time.Now()
		r.meta.FinishedAt = &finished
	}
	return r.finish(span, nil)
}

func (r *Runner) finish(span trace.Span, runErr error) (Summary, error) {
	sum := r.stats.Summary()
	if err := r.save(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		r.logger.Warn("workflow stopped", append(sum.Fields(), zap.Error(runErr))...)
		return sum, runErr
	}
	r.logger.Info("workflow finished", sum.Fields()...)
	return sum, nil
}

func (r *Runner) save() error {
	if err := saveJSON(r.layout.MetadataPath(), r.meta); err != nil {
		return err
	}
	return saveJSON(r.layout.StatisticsPath(), r.stats.Summary())
}

func (r *Runner) runStep(ctx context.Context, step Step) error {
	ctx, span := r.tracer.Start(ctx, "step."+string(step))
	defer span.End()
	logger := r.logger.With(zap.String("step", string(step)))
	logger.Info("step starting")
	start := time.Now()

	var err error
	switch step {
	case StepVideo:
		err = r.extractFrames(ctx, logger)
	case StepConvert:
		err = r.convertImages(ctx, logger)
	case StepDescribe:
		err = r.describeImages(ctx, logger)
	case StepHTML:
		err = r.buildGallery(logger)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownStep, step)
	}

	metrics.StepDuration.WithLabelValues(string(step)).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	logger.Info("step finished", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// scan lists the input and seeds the statistics. Conversions, frames and
// descriptions left by an earlier attempt of this run are counted again here.
// Descriptions the saved statistics recorded stay described; others count as
// skipped.
func (r *Runner) scan() error {
	files, err := media.Scan(r.meta.InputDir, r.opts.Recursive)
	if err != nil {
		return fmt.Errorf("failed to scan input: %w", err)
	}
	r.files = files
	for _, f := range files {
		switch f.Kind {
		case media.KindImage:
			r.stats.AddImage(f.Path, false)
		case media.KindHEIC:
			r.stats.AddImage(f.Path, true)
			if _, err := os.Stat(r.convertedPath(f)); err == nil {
				r.stats.MarkConverted(f.Path)
			}
		case media.KindVideo:
			r.stats.AddVideo(f.Path)
		}
	}
	frames, err := r.loadFrames()
	if err != nil {
		return err
	}
	for _, fr := range frames {
		r.stats.AddFrame(r.layout.Rel(fr.Path))
	}

	entries, err := loadEntries(r.layout)
	if err != nil {
		return err
	}
	prev, err := LoadSummary(r.layout.Root)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		r.logger.Warn("ignoring unreadable statistics", zap.Error(err))
	}
	for _, e := range entries {
		r.stats.Restore(prev, entryKey(e))
	}
	return nil
}

// entryKey maps a descriptions entry back to its statistics key. Converted
// images are keyed by their HEIC source.
func entryKey(e descriptions.Entry) string {
	if strings.HasPrefix(e.File, convertedDir+"/") && e.Source != "" {
		return e.Source
	}
	return e.File
}

func (r *Runner) filesOf(kind media.Kind) []media.File {
	return lo.Filter(r.files, func(f media.File, _ int) bool { return f.Kind == kind })
}

func (r *Runner) convertedPath(f media.File) string {
	return filepath.Join(r.layout.ConvertedDir(), media.ConvertedName(f.Rel))
}

func (r *Runner) progress(n int, desc string) *progressbar.ProgressBar {
	w := r.opts.Progress
	if w == nil {
		w = io.Discard
	}
	return progressbar.NewOptions(n,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowCount(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionClearOnFinish(),
	)
}

func (r *Runner) extractFrames(ctx context.Context, logger *zap.Logger) error {
	videos := r.filesOf(media.KindVideo)
	if len(videos) == 0 {
		logger.Info("no videos found")
		return nil
	}
	if r.deps.Extractor == nil {
		return fmt.Errorf("%w: frame extractor", ErrStepUnavailable)
	}

	known, err := r.loadFrames()
	if err != nil {
		return err
	}
	byVideo := lo.GroupBy(known, func(f media.Frame) string { return f.Video })

	bar := r.progress(len(videos), "extracting frames")
	defer bar.Finish()
	for _, v := range videos {
		if err := ctx.Err(); err != nil {
			return err
		}
		vlog := logger.With(zap.String("video", v.Rel))
		if len(byVideo[v.Path]) > 0 {
			vlog.Debug("frames already extracted")
			_ = bar.Add(1)
			continue
		}

		frames, err := r.deps.Extractor.Extract(ctx, v.Path, filepath.Join(r.layout.FramesDir(), filepath.Dir(v.Rel)))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			vlog.Warn("frame extraction failed", zap.Error(err))
			_ = bar.Add(1)
			continue
		}
		byVideo[v.Path] = frames
		known = append(known, frames...)
		for _, fr := range frames {
			r.stats.AddFrame(r.layout.Rel(fr.Path))
		}
		metrics.FramesExtractedTotal.Add(float64(len(frames)))
		vlog.Info("frames extracted", zap.Int("frames", len(frames)))
		if err := r.saveFrames(known); err != nil {
			return err
		}
		_ = bar.Add(1)
	}
	return r.saveFrames(known)
}

// loadFrames reads the frame manifest, resolving paths against the run root.
func (r *Runner) loadFrames() ([]media.Frame, error) {
	var frames []media.Frame
	data, err := os.ReadFile(r.layout.FramesManifest())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read frame manifest: %w", err)
	}
	if err := json.Unmarshal(data, &frames); err != nil {
		return nil, fmt.Errorf("failed to parse frame manifest: %w", err)
	}
	for i := range frames {
		if !filepath.IsAbs(frames[i].Path) {
			frames[i].Path = filepath.Join(r.layout.Root, filepath.FromSlash(frames[i].Path))
		}
	}
	return frames, nil
}

func (r *Runner) saveFrames(frames []media.Frame) error {
	rel := lo.Map(frames, func(f media.Frame, _ int) media.Frame {
		f.Path = r.layout.Rel(f.Path)
		return f
	})
	return saveJSON(r.layout.FramesManifest(), rel)
}

func (r *Runner) convertImages(ctx context.Context, logger *zap.Logger) error {
	heics := r.filesOf(media.KindHEIC)
	if len(heics) == 0 {
		logger.Info("no HEIC images found")
		return nil
	}
	if r.deps.Converter == nil {
		return fmt.Errorf("%w: HEIC converter", ErrStepUnavailable)
	}

	bar := r.progress(len(heics), "converting HEIC")
	defer bar.Finish()
	for _, f := range heics {
		if err := ctx.Err(); err != nil {
			return err
		}
		converted, err := r.deps.Converter.Convert(ctx, f.Path, r.convertedPath(f))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("conversion failed", zap.String("file", f.Rel), zap.Error(err))
			_ = bar.Add(1)
			continue
		}
		r.stats.MarkConverted(f.Path)
		if converted {
			metrics.ImagesConvertedTotal.Inc()
			logger.Debug("converted", zap.String("file", f.Rel))
		}
		_ = bar.Add(1)
	}
	return nil
}

func (r *Runner) buildGallery(logger *zap.Logger) error {
	entries, err := loadEntries(r.layout)
	if err != nil {
		return err
	}
	sum := r.stats.Summary()
	facts := []gallery.Fact{
		{Label: "Provider", Value: r.meta.Provider},
		{Label: "Model", Value: r.meta.Model},
		{Label: "Prompt style", Value: r.meta.PromptStyle},
		{Label: "Images found", Value: fmt.Sprint(sum.ImagesFound)},
		{Label: "Video frames", Value: fmt.Sprint(sum.FramesExtracted)},
		{Label: "Descriptions", Value: fmt.Sprint(len(entries))},
		{Label: "Started", Value: r.meta.StartedAt.Format("2006-01-02 15:04")},
	}
	opts := r.opts.Gallery
	if opts.Title == "" {
		opts.Title = "Image Descriptions"
	}

	res, err := gallery.Generate(r.layout.Root, r.layout.HTMLDir(), entries, facts, opts)
	if err != nil {
		return err
	}
	if len(res.Missing) > 0 {
		logger.Warn("images missing from gallery", zap.Strings("files", res.Missing))
	}
	logger.Info("gallery written", zap.String("index", res.Index), zap.Int("cards", res.Cards))
	return nil
}
