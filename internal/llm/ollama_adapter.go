package llm

import (
	"fmt"

	"github.com/tmc/langchaingo/llms/ollama"

	"relay/internal/chat"
)

func NewOllamaAdapter(opts Options) (chat.Adapter, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("ollama: %w", errNoModel)
	}
	ollamaOpts := []ollama.Option{ollama.WithModel(opts.Model)}
	if opts.BaseURL != "" {
		ollamaOpts = append(ollamaOpts, ollama.WithServerURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		ollamaOpts = append(ollamaOpts, ollama.WithHTTPClient(opts.HTTPClient))
	}
	client, err := ollama.New(ollamaOpts...)
	if err != nil {
		return nil, err
	}
	return &langchainAdapter{
		name:   string(ProviderOllama),
		llm:    client,
		model:  opts.Model,
		logger: opts.logger(),
	}, nil
}
