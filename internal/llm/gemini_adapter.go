package llm

import (
	"context"

	"github.com/tmc/langchaingo/llms/googleai"

	"relay/internal/chat"
)

func NewGeminiAdapter(opts Options) (chat.Adapter, error) {
	name := opts.Model
	if name == "" {
		name = googleai.DefaultOptions().DefaultModel
	}

	gOpts := []googleai.Option{googleai.WithDefaultModel(name)}
	if key := opts.apiKey("RELAY_GOOGLE_API_KEY", "GOOGLE_API_KEY", "GEMINI_API_KEY"); key != "" {
		gOpts = append(gOpts, googleai.WithAPIKey(key))
	}
	// a custom client or endpoint only applies to the REST transport
	if opts.BaseURL != "" || opts.HTTPClient != nil {
		gOpts = append(gOpts, googleai.WithRest())
	}
	if opts.HTTPClient != nil {
		gOpts = append(gOpts, googleai.WithHTTPClient(opts.HTTPClient))
	}

	client, err := googleai.New(context.Background(), gOpts...)
	if err != nil {
		return nil, err
	}
	return &langchainAdapter{
		name:   string(ProviderGemini),
		llm:    client,
		model:  name,
		logger: opts.logger(),
		mapErr: googleai.MapError,
	}, nil
}
