// Package openai provides a text generator backed by the official OpenAI Go
// SDK. It also works against OpenAI-compatible servers (vLLM, llama.cpp,
// LM Studio) via WithBaseURL.
package openai

import (
	"context"
	"fmt"
	"net/http"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/stimme-dev/stimme/pkg/provider/llm"
)

// Generator implements llm.Generator using the OpenAI chat completions API.
type Generator struct {
	client oai.Client
	model  shared.ChatModel
}

var _ llm.Generator = (*Generator)(nil)

// Options configures the OpenAI generator.
type Options struct {
	baseURL      string
	organization string
	httpClient   *http.Client
}

// Option customizes a Generator.
type Option func(*Options)

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(o *Options) { o.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID.
func WithOrganization(org string) Option {
	return func(o *Options) { o.organization = org }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Options) { o.httpClient = c }
}

// New creates a Generator for the given model. apiKey may be empty when the
// target server does not require authentication.
func New(apiKey string, model string, opts ...Option) (*Generator, error) {
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	var options Options
	for _, opt := range opts {
		opt(&options)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if options.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(options.baseURL))
	}
	if options.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(options.organization))
	}
	if options.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(options.httpClient))
	}

	return &Generator{
		client: oai.NewClient(reqOpts...),
		model:  shared.ChatModel(model),
	}, nil
}

// GenerateStream implements llm.Generator.
func (g *Generator) GenerateStream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	params := g.buildParams(req)
	stream := g.client.Chat.Completions.NewStreaming(ctx, params)

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			out := llm.Chunk{
				Text:         choice.Delta.Content,
				FinishReason: choice.FinishReason,
			}

			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case ch <- llm.Chunk{FinishReason: llm.FinishReasonError, Err: fmt.Errorf("openai: stream: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// buildParams converts an llm.Request into OpenAI chat completion params.
func (g *Generator) buildParams(req llm.Request) oai.ChatCompletionNewParams {
	var messages []oai.ChatCompletionMessageParamUnion

	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, oai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, oai.AssistantMessage(m.Content))
		default:
			messages = append(messages, oai.UserMessage(m.Content))
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    g.model,
		Messages: messages,
	}

	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}

	return params
}
