// Package llm provides chat completion clients for the supported providers.
package llm

import (
	"context"
	"fmt"

	"github.com/fabfab/ragchat/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry in a chat completion request.
type Message struct {
	Role    string
	Content string
}

// Client produces a full completion for an ordered message sequence.
type Client interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// StreamClient additionally delivers the completion incrementally. onDelta
// receives each text fragment as it arrives; the returned string is the
// concatenation of all fragments.
type StreamClient interface {
	Client
	GenerateStream(ctx context.Context, messages []Message, onDelta func(string)) (string, error)
}

// Options configures a provider client.
type Options struct {
	Provider    string
	Model       string
	Temperature float32
	MaxTokens   int

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

// NewClient builds the chat client selected by the configuration. Both
// providers implement StreamClient.
func NewClient(cfg *config.Config) (StreamClient, error) {
	opts := Options{
		Provider:      cfg.LLM.Provider,
		Model:         cfg.LLM.Model,
		Temperature:   cfg.LLM.Temperature,
		MaxTokens:     cfg.LLM.MaxTokens,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}

	switch opts.Provider {
	case config.ProviderOllama:
		return NewOllamaClient(opts), nil
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}
}
