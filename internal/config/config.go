package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full toolkit configuration. Values are resolved in order:
// built-in defaults, YAML file, environment, command line flags.
type Config struct {
	OutputDir string   `yaml:"output_dir" env:"IDT_OUTPUT_DIR"`
	Steps     []string `yaml:"steps" env:"IDT_STEPS" envSeparator:","`
	Recursive bool     `yaml:"recursive" env:"IDT_RECURSIVE"`

	Provider ProviderConfig `yaml:"provider"`
	Prompt   PromptConfig   `yaml:"prompt"`
	Video    VideoConfig    `yaml:"video"`
	Convert  ConvertConfig  `yaml:"convert"`
	Describe DescribeConfig `yaml:"describe"`
	Gallery  GalleryConfig  `yaml:"gallery"`
	Cache    CacheConfig    `yaml:"cache"`
	Publish  PublishConfig  `yaml:"publish"`
	Log      LogConfig      `yaml:"log"`

	MetricsAddr  string `yaml:"metrics_addr" env:"IDT_METRICS_ADDR"`
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"IDT_OTLP_ENDPOINT"`
}

type ProviderConfig struct {
	Name  string `yaml:"name" env:"IDT_PROVIDER"`
	Model string `yaml:"model" env:"IDT_MODEL"`

	OllamaHost    string `yaml:"ollama_host" env:"OLLAMA_HOST"`
	OpenAIKey     string `yaml:"openai_api_key" env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `yaml:"openai_base_url" env:"OPENAI_BASE_URL"`
	HFToken       string `yaml:"hf_token" env:"HF_TOKEN"`
	HFBaseURL     string `yaml:"hf_base_url" env:"IDT_HF_BASE_URL"`

	Timeout    time.Duration `yaml:"timeout" env:"IDT_PROVIDER_TIMEOUT"`
	KeepAlive  time.Duration `yaml:"keep_alive" env:"IDT_KEEP_ALIVE"`
	Attempts   uint          `yaml:"attempts" env:"IDT_ATTEMPTS"`
	RetryDelay time.Duration `yaml:"retry_delay" env:"IDT_RETRY_DELAY"`
	MaxTokens  int           `yaml:"max_tokens" env:"IDT_MAX_TOKENS"`
}

type PromptConfig struct {
	Style  string            `yaml:"style" env:"IDT_PROMPT_STYLE"`
	Custom map[string]string `yaml:"custom"`
}

type VideoConfig struct {
	Mode           string    `yaml:"mode" env:"IDT_VIDEO_MODE"`
	IntervalSec    float64   `yaml:"interval_seconds" env:"IDT_VIDEO_INTERVAL"`
	SceneThreshold float64   `yaml:"scene_threshold" env:"IDT_VIDEO_SCENE_THRESHOLD"`
	Positions      []float64 `yaml:"positions"`
	MaxFrames      int       `yaml:"max_frames" env:"IDT_VIDEO_MAX_FRAMES"`
}

type ConvertConfig struct {
	Quality int `yaml:"quality" env:"IDT_CONVERT_QUALITY"`
}

type DescribeConfig struct {
	MaxWidth uint `yaml:"max_width" env:"IDT_MAX_WIDTH"`
}

type GalleryConfig struct {
	Title      string `yaml:"title" env:"IDT_GALLERY_TITLE"`
	ThumbWidth uint   `yaml:"thumb_width" env:"IDT_THUMB_WIDTH"`
}

type CacheConfig struct {
	Enabled bool   `yaml:"enabled" env:"IDT_CACHE"`
	Path    string `yaml:"path" env:"IDT_CACHE_PATH"`
}

type PublishConfig struct {
	Endpoint  string `yaml:"endpoint" env:"IDT_S3_ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"IDT_S3_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"IDT_S3_SECRET_KEY"`
	UseSSL    bool   `yaml:"use_ssl" env:"IDT_S3_USE_SSL"`
	Bucket    string `yaml:"bucket" env:"IDT_S3_BUCKET"`
	Prefix    string `yaml:"prefix" env:"IDT_S3_PREFIX"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"IDT_LOG_LEVEL"`
	Format string `yaml:"format" env:"IDT_LOG_FORMAT"`
}

var (
	ErrInvalidVideoMode = errors.New("invalid video extraction mode")
	ErrInvalidQuality   = errors.New("convert quality must be between 1 and 100")
)

// Default returns the configuration used when nothing else is given.
func Default() *Config {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		cacheDir = os.TempDir()
	}
	return &Config{
		OutputDir: "./idt-output",
		Steps:     []string{"video", "convert", "describe", "html"},
		Recursive: true,
		Provider: ProviderConfig{
			Name:       "ollama",
			Timeout:    2 * time.Minute,
			KeepAlive:  5 * time.Minute,
			Attempts:   3,
			RetryDelay: 500 * time.Millisecond,
			MaxTokens:  600,
			HFBaseURL:  "https://router.huggingface.co/v1",
		},
		Prompt: PromptConfig{Style: "detailed"},
		Video: VideoConfig{
			Mode:           "interval",
			IntervalSec:    5,
			SceneThreshold: 0.3,
			Positions:      []float64{0.3, 0.5, 0.7},
		},
		Convert:  ConvertConfig{Quality: 95},
		Describe: DescribeConfig{MaxWidth: 1200},
		Gallery:  GalleryConfig{Title: "Image Descriptions", ThumbWidth: 400},
		Cache: CacheConfig{
			Enabled: true,
			Path:    filepath.Join(cacheDir, "idt", "descriptions.db"),
		},
		Publish: PublishConfig{Prefix: "idt"},
		Log:     LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads configPath over the defaults and applies the environment.
// A missing file is not an error when configPath is empty or does not exist.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file '%s': %w", configPath, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	return cfg, nil
}

// Validate checks values that cannot be caught by the YAML decoder.
func (c *Config) Validate() error {
	switch c.Video.Mode {
	case "interval":
		if c.Video.IntervalSec <= 0 {
			return fmt.Errorf("%w: interval_seconds must be positive", ErrInvalidVideoMode)
		}
	case "scene":
		if c.Video.SceneThreshold <= 0 || c.Video.SceneThreshold >= 1 {
			return fmt.Errorf("%w: scene_threshold must be between 0 and 1", ErrInvalidVideoMode)
		}
	case "positions":
		if len(c.Video.Positions) == 0 {
			return fmt.Errorf("%w: positions must not be empty", ErrInvalidVideoMode)
		}
		for _, p := range c.Video.Positions {
			if p < 0 || p > 1 {
				return fmt.Errorf("%w: position %v outside [0,1]", ErrInvalidVideoMode, p)
			}
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidVideoMode, c.Video.Mode)
	}
	if c.Video.MaxFrames < 0 {
		return errors.New("max_frames must not be negative")
	}
	if c.Convert.Quality < 1 || c.Convert.Quality > 100 {
		return ErrInvalidQuality
	}
	if c.Describe.MaxWidth == 0 {
		return errors.New("describe max_width must be positive")
	}
	if c.Provider.Attempts == 0 {
		return errors.New("provider attempts must be at least 1")
	}
	if c.Provider.Name == "" {
		return errors.New("provider name is required")
	}
	if c.Prompt.Style == "" {
		return errors.New("prompt style is required")
	}
	if len(c.Steps) == 0 {
		return errors.New("at least one workflow step is required")
	}
	return nil
}
