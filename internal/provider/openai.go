package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/samber/lo"
	"github.com/sashabaranov/go-openai"
)

// openaiProvider covers OpenAI itself and any OpenAI-compatible endpoint.
type openaiProvider struct {
	name   string
	client *openai.Client
	opts   Options
}

func newOpenAI(opts Options) (Provider, error) {
	if opts.OpenAIKey == "" && opts.OpenAIBaseURL == "" {
		return nil, fmt.Errorf("%w: set OPENAI_API_KEY or provider.openai_api_key", ErrMissingAPIKey)
	}
	return newOpenAICompatible("openai", opts.OpenAIKey, opts.OpenAIBaseURL, opts), nil
}

// newHuggingFace uses the HuggingFace inference router, which speaks the
// OpenAI chat completions protocol.
func newHuggingFace(opts Options) (Provider, error) {
	if opts.HFToken == "" {
		return nil, fmt.Errorf("%w: set HF_TOKEN or provider.hf_token", ErrMissingAPIKey)
	}
	return newOpenAICompatible("huggingface", opts.HFToken, opts.HFBaseURL, opts), nil
}

func newOpenAICompatible(name, apiKey, baseURL string, opts Options) *openaiProvider {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	config.HTTPClient = &http.Client{}
	return &openaiProvider{name: name, client: openai.NewClientWithConfig(config), opts: opts}
}

func (o *openaiProvider) Name() string  { return o.name }
func (o *openaiProvider) Model() string { return o.opts.Model }

func (o *openaiProvider) Describe(ctx context.Context, req Request) (string, error) {
	base64Image := base64.StdEncoding.EncodeToString(req.Image)
	mime := http.DetectContentType(req.Image)

	return describeWithRetry(ctx, o.opts, func(ctx context.Context) (string, error) {
		resp, err := o.client.CreateChatCompletion(
			ctx,
			openai.ChatCompletionRequest{
				Model:     o.opts.Model,
				MaxTokens: o.opts.MaxTokens,
				Messages: []openai.ChatCompletionMessage{
					{
						Role: openai.ChatMessageRoleUser,
						MultiContent: []openai.ChatMessagePart{
							{
								Type: openai.ChatMessagePartTypeText,
								Text: req.Prompt,
							},
							{
								Type: openai.ChatMessagePartTypeImageURL,
								ImageURL: &openai.ChatMessageImageURL{
									URL:    "data:" + mime + ";base64," + base64Image,
									Detail: openai.ImageURLDetailAuto,
								},
							},
						},
					},
				},
			},
		)
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("no response from " + o.name)
		}
		return resp.Choices[0].Message.Content, nil
	})
}

func (o *openaiProvider) Models(ctx context.Context) ([]string, error) {
	list, err := o.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s models: %w", o.name, err)
	}
	return lo.Map(list.Models, func(m openai.Model, _ int) string {
		return m.ID
	}), nil
}
