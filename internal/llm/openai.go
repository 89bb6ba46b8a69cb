package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"milo/internal/config"
	"milo/internal/logging"
)

// openaiProvider speaks the OpenAI chat-completions API, which also covers
// every compatible gateway when pointed at a custom endpoint.
type openaiProvider struct {
	name   string
	cfg    config.ProviderConfig
	client *openai.Client
	log    logging.Logger
}

func newOpenAIProvider(name string, cfg config.ProviderConfig, apiKey string) *openaiProvider {
	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.Endpoint, "/")
	}
	return &openaiProvider{
		name:   name,
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientCfg),
		log:    logging.NewComponentLogger(fmt.Sprintf("llm[%s]", name)),
	}
}

func (p *openaiProvider) Name() string { return p.name }

func (p *openaiProvider) Call(ctx context.Context, req Request) (*Result, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       p.cfg.Model,
		Temperature: float32(p.cfg.Temperature),
		TopP:        float32(p.cfg.TopP),
		MaxTokens:   p.cfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Task},
		},
	}
	if req.Stream {
		return p.callStreaming(ctx, chatReq, req.OnChunk)
	}
	return p.callBlocking(ctx, chatReq)
}

func (p *openaiProvider) callBlocking(ctx context.Context, chatReq openai.ChatCompletionRequest) (*Result, error) {
	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("provider %s returned no choices", p.name)
	}
	return &Result{
		Text: resp.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func (p *openaiProvider) callStreaming(ctx context.Context, chatReq openai.ChatCompletionRequest, onChunk func(string)) (*Result, error) {
	chatReq.Stream = true
	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("provider %s: open stream: %w", p.name, err)
	}
	defer stream.Close()

	var text strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("provider %s: stream: %w", p.name, err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		text.WriteString(delta)
		if onChunk != nil {
			onChunk(delta)
		}
	}
	return &Result{Text: text.String()}, nil
}

// Validate issues a minimal models listing to verify the endpoint and key.
func (p *openaiProvider) Validate(ctx context.Context) error {
	if _, err := p.client.ListModels(ctx); err != nil {
		return fmt.Errorf("provider %s unreachable: %w", p.name, err)
	}
	return nil
}
