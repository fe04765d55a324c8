package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	ollapi "github.com/ollama/ollama/api"
	"github.com/samber/lo"
)

// ollamaProvider talks to a local or remote Ollama runtime.
type ollamaProvider struct {
	client *ollapi.Client
	opts   Options
}

func newOllama(opts Options) (Provider, error) {
	var (
		oll *ollapi.Client
		err error
	)
	if opts.OllamaHost != "" {
		host := opts.OllamaHost
		if !strings.Contains(host, "://") {
			host = "http://" + host
		}
		parsedURL, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Ollama endpoint URL: %w", err)
		}
		oll = ollapi.NewClient(parsedURL, http.DefaultClient)
	} else {
		// honours OLLAMA_HOST, defaults to localhost:11434
		oll, err = ollapi.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
	}
	if opts.KeepAlive == 0 {
		opts.KeepAlive = 5 * time.Minute
	}
	return &ollamaProvider{client: oll, opts: opts}, nil
}

func (o *ollamaProvider) Name() string  { return "ollama" }
func (o *ollamaProvider) Model() string { return o.opts.Model }

func (o *ollamaProvider) Describe(ctx context.Context, req Request) (string, error) {
	return describeWithRetry(ctx, o.opts, func(ctx context.Context) (string, error) {
		genReq := &ollapi.GenerateRequest{
			Model:     o.opts.Model,
			Prompt:    req.Prompt,
			Stream:    lo.ToPtr(false),
			KeepAlive: lo.ToPtr(ollapi.Duration{Duration: o.opts.KeepAlive}),
			Images:    []ollapi.ImageData{req.Image},
		}
		if o.opts.MaxTokens > 0 {
			genReq.Options = map[string]any{"num_predict": o.opts.MaxTokens}
		}

		var out strings.Builder
		err := o.client.Generate(ctx, genReq, func(resp ollapi.GenerateResponse) error {
			out.WriteString(resp.Response)
			return nil
		})
		if err != nil {
			return "", err
		}
		return out.String(), nil
	})
}

func (o *ollamaProvider) Models(ctx context.Context) ([]string, error) {
	resp, err := o.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list Ollama models: %w", err)
	}
	return lo.Map(resp.Models, func(m ollapi.ListModelResponse, _ int) string {
		return m.Name
	}), nil
}
