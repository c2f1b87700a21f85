package ollama

import (
	"context"

	"github.com/ollama/ollama/api"
)

const imageDescribePrompt = `Describe this document page image for search indexing. State the
document type, visible names, dates, locations, and any tables or
signatures. Be literal and complete.`

// GenerateImageDescription sends a vision chat request with raw image
// bytes and returns the model's textual description.
func (c *ArchiveOllamaClient) GenerateImageDescription(
	ctx context.Context,
	image []byte,
) (string, error) {
	stream := false

	req := &api.ChatRequest{
		Model: c.visionModel,
		Messages: []api.Message{
			{Role: "system", Content: imageDescribePrompt},
			{
				Role:    "user",
				Content: "",
				Images:  []api.ImageData{image},
			},
		},
		Stream: &stream,
	}

	return c.chat(ctx, req)
}

// GenerateImageEmbedding describes a page image with the vision model and
// embeds the description, so image vectors live in the same space as text
// vectors.
func (c *ArchiveOllamaClient) GenerateImageEmbedding(ctx context.Context, image []byte) ([]float32, error) {
	description, err := c.GenerateImageDescription(ctx, image)
	if err != nil {
		return nil, err
	}
	return c.GenerateEmbedding(ctx, []byte(description))
}
