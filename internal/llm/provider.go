// Package llm defines the provider abstraction and its adapters: an
// OpenAI-compatible HTTP adapter and a local (ollama-style) adapter that
// supports cached prompt continuation tokens.
package llm

import (
	"context"
	"fmt"

	"milo/internal/config"
)

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Request is one provider invocation. When Stream is set, OnChunk is invoked
// synchronously for every raw text chunk as it arrives. Continuation carries
// cached prompt context tokens for providers that support them; adapters
// without continuation support ignore it.
type Request struct {
	System       string
	Task         string
	Stream       bool
	OnChunk      func(chunk string)
	Continuation []int
}

// Result is the provider's completed answer.
type Result struct {
	Text         string
	Thinking     string
	Usage        Usage
	Continuation []int
}

// Provider is a single configured model backend.
type Provider interface {
	// Name returns the configured provider name.
	Name() string
	// Call performs one completion, streaming through req.OnChunk when
	// req.Stream is set.
	Call(ctx context.Context, req Request) (*Result, error)
	// Validate checks reachability and credentials without side effects.
	Validate(ctx context.Context) error
}

// New builds the adapter for the named provider from config. The designated
// local provider gets the continuation-capable adapter; everything else is
// treated as OpenAI-compatible.
func New(name string, cfg config.ProviderConfig, apiKey string) (Provider, error) {
	if name == config.LocalProvider {
		return newLocalProvider(name, cfg), nil
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("provider %s has no endpoint configured", name)
	}
	return newOpenAIProvider(name, cfg, apiKey), nil
}
