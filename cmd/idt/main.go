package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"idt/internal/cache"
	"idt/internal/config"
	"idt/internal/logging"
	"idt/internal/media"
	"idt/internal/metrics"
	"idt/internal/provider"
	"idt/internal/tracing"
	"idt/internal/workflow"
)

// app carries what every command shares once the root command has resolved
// configuration and logging.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	quiet    bool
	shutdown []func(context.Context) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	a.close()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	var (
		configPath   string
		logLevel     string
		logFormat    string
		metricsAddr  string
		otlpEndpoint string
	)

	root := &cobra.Command{
		Use:   "idt",
		Short: "Describe photos and video frames with vision models and build HTML galleries",
		Long: `idt turns a directory of photos and videos into AI-written descriptions.

The workflow extracts frames from videos, converts HEIC photos to JPEG,
describes every image with the selected provider (ollama, openai,
huggingface) and renders an HTML gallery, all inside one resumable run
directory.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if flags.Changed("log-format") {
				cfg.Log.Format = logFormat
			}
			if flags.Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}
			if flags.Changed("otlp-endpoint") {
				cfg.OTLPEndpoint = otlpEndpoint
			}
			if err := applyCommandFlags(cmd, cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			a.cfg, a.logger = cfg, logger

			if cfg.MetricsAddr != "" {
				srv := metrics.StartServer(cfg.MetricsAddr, logger)
				a.shutdown = append(a.shutdown, srv.Shutdown)
			}
			if cfg.OTLPEndpoint != "" {
				tp, err := tracing.Init(cmd.Context(), cfg.OTLPEndpoint)
				if err != nil {
					return err
				}
				a.shutdown = append(a.shutdown, tp.Shutdown)
				logger.Debug("tracing enabled", zap.String("endpoint", cfg.OTLPEndpoint))
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "idt.yaml", "path to the YAML configuration file")
	pf.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "console", "log format (console, json)")
	pf.BoolVarP(&a.quiet, "quiet", "q", false, "hide progress bars")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	pf.StringVar(&otlpEndpoint, "otlp-endpoint", "", "export traces to this OTLP/HTTP endpoint")

	root.AddCommand(
		newWorkflowCmd(a),
		newStepCmd(a, "extract", "Extract frames from every video in a directory", workflow.StepVideo),
		newStepCmd(a, "convert", "Convert HEIC photos in a directory to JPEG", workflow.StepConvert),
		newStepCmd(a, "describe", "Describe the photos in a directory, converting HEIC first", workflow.StepConvert, workflow.StepDescribe),
		newGalleryCmd(a),
		newProvidersCmd(a),
		newServeCmd(a),
		newPublishCmd(a),
		newStatsCmd(a),
	)
	return root
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, fn := range a.shutdown {
		if err := fn(ctx); err != nil && a.logger != nil {
			a.logger.Warn("shutdown failed", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// applyCommandFlags copies the per-command flags that shadow configuration
// values. Commands register only the flags they use.
func applyCommandFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	var err error
	set := func(name string, apply func()) {
		if err == nil && flags.Lookup(name) != nil && flags.Changed(name) {
			apply()
		}
	}
	str := func(name string) string {
		v, e := flags.GetString(name)
		if e != nil && err == nil {
			err = e
		}
		return v
	}

	set("provider", func() { cfg.Provider.Name = str("provider") })
	set("model", func() { cfg.Provider.Model = str("model") })
	set("prompt-style", func() { cfg.Prompt.Style = str("prompt-style") })
	set("output", func() { cfg.OutputDir = str("output") })
	set("video-mode", func() { cfg.Video.Mode = str("video-mode") })
	set("steps", func() {
		steps, e := flags.GetStringSlice("steps")
		if e != nil {
			err = e
		}
		cfg.Steps = steps
	})
	set("no-cache", func() { cfg.Cache.Enabled = false })
	set("max-width", func() {
		v, e := flags.GetUint("max-width")
		if e != nil {
			err = e
		}
		cfg.Describe.MaxWidth = v
	})
	set("recursive", func() {
		v, e := flags.GetBool("recursive")
		if e != nil {
			err = e
		}
		cfg.Recursive = v
	})
	return err
}

func (a *app) newProvider(name, model string) (provider.Provider, error) {
	p := a.cfg.Provider
	return provider.New(name, provider.Options{
		Model:         model,
		OllamaHost:    p.OllamaHost,
		OpenAIKey:     p.OpenAIKey,
		OpenAIBaseURL: p.OpenAIBaseURL,
		HFToken:       p.HFToken,
		HFBaseURL:     p.HFBaseURL,
		Timeout:       p.Timeout,
		KeepAlive:     p.KeepAlive,
		MaxTokens:     p.MaxTokens,
		Attempts:      p.Attempts,
		RetryDelay:    p.RetryDelay,
	})
}

// openCache returns a nil Cache when caching is disabled.
func (a *app) openCache() (workflow.Cache, func() error, error) {
	if !a.cfg.Cache.Enabled {
		return nil, func() error { return nil }, nil
	}
	c, err := cache.Open(a.cfg.Cache.Path)
	if err != nil {
		return nil, nil, err
	}
	if n, err := c.Count(context.Background()); err == nil {
		a.logger.Debug("description cache opened", zap.String("path", a.cfg.Cache.Path), zap.Int("entries", n))
	}
	return c, c.Close, nil
}

func (a *app) extractor() *media.FrameExtractor {
	v := a.cfg.Video
	return media.NewFrameExtractor(media.ExtractOptions{
		Mode:           media.ExtractMode(v.Mode),
		Interval:       time.Duration(v.IntervalSec * float64(time.Second)),
		SceneThreshold: v.SceneThreshold,
		Positions:      v.Positions,
		MaxFrames:      v.MaxFrames,
	})
}

func (a *app) progress() io.Writer {
	if a.quiet {
		return nil
	}
	return os.Stderr
}
