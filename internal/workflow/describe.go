package workflow

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"idt/internal/cache"
	"idt/internal/descriptions"
	"idt/internal/media"
	"idt/internal/metrics"
	"idt/internal/provider"
)

// describeItem is one image the describe step sends to the provider.
type describeItem struct {
	key    string // statistics key: the input file, or the frame relative to the run
	path   string // file read and described
	file   string // File of the descriptions entry
	source string
	dateOf string // file whose capture time dates the entry
	offset time.Duration
}

// describeItems lists input images, converted HEIC images and extracted
// frames. A HEIC image is only ever represented by its converted JPEG.
func (r *Runner) describeItems(ctx context.Context, logger *zap.Logger) ([]describeItem, error) {
	var items []describeItem
	for _, f := range r.files {
		switch f.Kind {
		case media.KindImage:
			items = append(items, describeItem{key: f.Path, path: f.Path, file: f.Path, dateOf: f.Path})
		case media.KindHEIC:
			conv := r.convertedPath(f)
			if _, err := os.Stat(conv); err != nil {
				logger.Warn("HEIC image has no converted copy; run the convert step", zap.String("file", f.Rel))
				r.stats.MarkFailed(f.Path)
				continue
			}
			items = append(items, describeItem{key: f.Path, path: conv, file: r.layout.Rel(conv), source: f.Path, dateOf: f.Path})
		}
	}

	frames, err := r.loadFrames()
	if err != nil {
		return nil, err
	}
	for _, fr := range frames {
		rel := r.layout.Rel(fr.Path)
		r.stats.AddFrame(rel)
		it := describeItem{key: rel, path: fr.Path, file: rel, source: fr.Video, dateOf: fr.Video}
		if fr.Offset >= 0 {
			it.source = fmt.Sprintf("%s @ %s", fr.Video, fr.Offset.Round(time.Millisecond))
			it.offset = fr.Offset
		}
		items = append(items, it)
	}
	return items, ctx.Err()
}

func (r *Runner) describeImages(ctx context.Context, logger *zap.Logger) error {
	if r.deps.Provider == nil {
		return fmt.Errorf("%w: description provider", ErrStepUnavailable)
	}
	items, err := r.describeItems(ctx, logger)
	if err != nil {
		return err
	}
	entries, err := loadEntries(r.layout)
	if err != nil {
		return err
	}
	done := descriptions.Described(entries)
	name := r.deps.Provider.Name()

	bar := r.progress(len(items), "describing")
	defer bar.Finish()
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if done[it.file] {
			r.stats.MarkSkipped(it.key)
			metrics.ImagesTotal.WithLabelValues(name, metrics.OutcomeSkipped).Inc()
			_ = bar.Add(1)
			continue
		}

		ilog := logger.With(zap.String("file", it.file))
		fromCache, err := r.describeOne(ctx, it)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ilog.Warn("description failed", zap.Error(err))
			r.stats.MarkFailed(it.key)
			metrics.ImagesTotal.WithLabelValues(name, metrics.OutcomeFailed).Inc()
			_ = bar.Add(1)
			continue
		}

		outcome := metrics.OutcomeDescribed
		if fromCache {
			outcome = metrics.OutcomeCached
		}
		r.stats.MarkDescribed(it.key, fromCache)
		metrics.ImagesTotal.WithLabelValues(name, outcome).Inc()
		ilog.Debug("described", zap.Bool("cached", fromCache))
		done[it.file] = true
		_ = bar.Add(1)
	}
	return nil
}

// describeOne describes a single image and appends it to the descriptions
// file, reusing a cached description for identical image bytes.
func (r *Runner) describeOne(ctx context.Context, it describeItem) (fromCache bool, err error) {
	p := r.deps.Provider
	ctx, span := r.tracer.Start(ctx, "describe", trace.WithAttributes(
		attribute.String("file", it.file),
		attribute.String("provider", p.Name()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	data, err := os.ReadFile(it.path)
	if err != nil {
		return false, fmt.Errorf("failed to read image: %w", err)
	}

	key := cache.NewKey(data, p.Name(), p.Model(), r.meta.PromptStyle)
	var text string
	if r.deps.Cache != nil {
		cached, ok, err := r.deps.Cache.Lookup(ctx, key)
		if err != nil {
			r.logger.Warn("cache lookup failed", zap.String("file", it.file), zap.Error(err))
		}
		if ok {
			text, fromCache = cached, true
		}
	}

	if !fromCache {
		img, err := media.Downscale(data, r.opts.MaxWidth)
		if err != nil {
			return false, err
		}
		start := time.Now()
		text, err = p.Describe(ctx, provider.Request{Image: img, Prompt: r.opts.Prompt})
		metrics.DescribeDuration.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
		if err != nil {
			return false, err
		}
		if r.deps.Cache != nil {
			if err := r.deps.Cache.Store(ctx, key, text); err != nil {
				r.logger.Warn("cache store failed", zap.String("file", it.file), zap.Error(err))
			}
		}
	}
	span.SetAttributes(attribute.Bool("cached", fromCache))

	entry := descriptions.Entry{
		File:        it.file,
		Source:      it.source,
		Provider:    p.Name(),
		Model:       p.Model(),
		PromptStyle: r.meta.PromptStyle,
		Timestamp:   time.Now(),
		Description: text,
	}
	if info, err := r.deps.Capture.Read(ctx, it.dateOf); err == nil {
		entry.PhotoDate = info.Taken.Add(it.offset)
		entry.Camera = info.Camera
		entry.Location = info.Location()
	}
	if err := descriptions.Append(r.layout.DescriptionsPath(), entry); err != nil {
		return false, err
	}
	return fromCache, nil
}

func loadEntries(l Layout) ([]descriptions.Entry, error) {
	return descriptions.Load(l.DescriptionsPath())
}
