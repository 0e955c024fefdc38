package llm

import (
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"

	"relay/internal/chat"
)

type Provider string

const (
	ProviderOllama           Provider = "ollama"
	ProviderOpenAI           Provider = "openai"
	ProviderOpenAICompatible Provider = "openai_compatible"
	ProviderAnthropic        Provider = "anthropic"
	ProviderGemini           Provider = "gemini"
)

// Options configures an adapter. Authentication is a bearer token plus a
// base URL; an empty APIKey falls back to the provider's usual env var.
type Options struct {
	Model      string
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o Options) apiKey(envs ...string) string {
	if o.APIKey != "" {
		return o.APIKey
	}
	for _, env := range envs {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return ""
}

func NewAdapter(provider Provider, opts Options) (chat.Adapter, error) {
	switch provider {
	case ProviderOllama:
		return NewOllamaAdapter(opts)
	case ProviderOpenAI, ProviderOpenAICompatible:
		return NewOpenAIAdapter(provider, opts)
	case ProviderAnthropic:
		return NewAnthropicAdapter(opts)
	case ProviderGemini:
		return NewGeminiAdapter(opts)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}
