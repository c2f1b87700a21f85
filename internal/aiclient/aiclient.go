// Package aiclient builds the configured model client. Both binaries
// select the adapter the same way, so the switch lives here.
package aiclient

import (
	"github.com/caselight/backend/internal/config"
	"github.com/caselight/backend/pkg/ai"
	oai "github.com/caselight/backend/pkg/ai/ollama"
	gai "github.com/caselight/backend/pkg/ai/openai"
)

// New creates the model client named by cfg.AIAdapter. Anything other
// than "ollama" selects the OpenAI-compatible adapter.
func New(cfg config.Config) (ai.ModelClient, error) {
	if cfg.AIAdapter == "ollama" {
		return oai.NewArchiveOllamaClient(oai.NewArchiveOllamaClientParams{
			EmbeddingModel:  cfg.EmbedModel,
			ChatModel:       cfg.ChatModel,
			ExtractionModel: cfg.ExtractionModel,
			VisionModel:     cfg.VisionModel,

			BaseURL: cfg.ChatURL,
			ApiKey:  cfg.ChatKey,
		})
	}

	return gai.NewArchiveOpenAIClient(gai.NewArchiveOpenAIClientParams{
		EmbeddingModel:  cfg.EmbedModel,
		ChatModel:       cfg.ChatModel,
		ExtractionModel: cfg.ExtractionModel,
		VisionModel:     cfg.VisionModel,

		EmbeddingURL: cfg.EmbedURL,
		EmbeddingKey: cfg.EmbedKey,
		ChatURL:      cfg.ChatURL,
		ChatKey:      cfg.ChatKey,
		VisionURL:    cfg.VisionURL,
		VisionKey:    cfg.VisionKey,
	}), nil
}

// NewLimited wraps the configured client in the typed capability layer
// with the configured request rate.
func NewLimited(cfg config.Config) (ai.ModelClient, *ai.Capabilities, error) {
	client, err := New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return client, ai.NewCapabilities(client, config.RateLimiter(cfg)), nil
}
