// Package provider turns an image into a text description through one of
// several AI backends. Concrete backends are only reachable through New.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Request is one description call.
type Request struct {
	Image  []byte // JPEG, PNG or WebP bytes
	Prompt string
}

// Provider produces a text description for an image.
type Provider interface {
	Name() string
	Model() string
	Describe(ctx context.Context, req Request) (string, error)
	// Models lists the models the backend offers, when it can tell.
	Models(ctx context.Context) ([]string, error)
}

// Options configures every provider; each backend reads the fields it needs.
type Options struct {
	Model string

	OllamaHost    string
	OpenAIKey     string
	OpenAIBaseURL string
	HFToken       string
	HFBaseURL     string

	Timeout    time.Duration
	KeepAlive  time.Duration
	MaxTokens  int
	Attempts   uint
	RetryDelay time.Duration
}

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrMissingAPIKey   = errors.New("missing API key")
	ErrNoDescription   = errors.New("provider returned no description")
)

type factory struct {
	defaultModel string
	build        func(opts Options) (Provider, error)
}

var factories = map[string]factory{
	"ollama":      {defaultModel: "llava:latest", build: newOllama},
	"openai":      {defaultModel: "gpt-4o-mini", build: newOpenAI},
	"huggingface": {defaultModel: "Qwen/Qwen2.5-VL-7B-Instruct", build: newHuggingFace},
}

// Names lists the registered provider names in alphabetical order.
func Names() []string {
	names := lo.Keys(factories)
	sort.Strings(names)
	return names
}

// DefaultModel is the model used when none is configured for name.
func DefaultModel(name string) string {
	return factories[strings.ToLower(name)].defaultModel
}

// New builds the provider registered under name.
func New(name string, opts Options) (Provider, error) {
	f, ok := factories[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w %q (known: %s)", ErrUnknownProvider, name, strings.Join(Names(), ", "))
	}
	if opts.Model == "" {
		opts.Model = f.defaultModel
	}
	if opts.Attempts == 0 {
		opts.Attempts = 1
	}
	return f.build(opts)
}
