// Package llm provides the chat-completion clients used to explain
// generated SQL in plain language.
package llm

import (
	"context"
	"errors"
)

// ErrNoProvider is returned when no provider API key is configured.
var ErrNoProvider = errors.New("no LLM provider configured")

// CompletionRequest represents a completion request. System is optional
// instruction text sent ahead of Messages.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	Name() string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NewClient creates a new LLM client based on provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	default:
		return NewAnthropicClient(apiKey)
	}
}

// FromKeys picks the first provider with a key, Anthropic before OpenAI.
func FromKeys(anthropicKey, openAIKey string) (Client, error) {
	switch {
	case anthropicKey != "":
		return NewClient(ProviderAnthropic, anthropicKey)
	case openAIKey != "":
		return NewClient(ProviderOpenAI, openAIKey)
	default:
		return nil, ErrNoProvider
	}
}
