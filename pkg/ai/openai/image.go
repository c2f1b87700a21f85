package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/caselight/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
)

const imageDescribePrompt = `Describe this document page image for search indexing. State the
document type, visible names, dates, locations, and any tables or
signatures. Be literal and complete.`

// GenerateImageDescription sends a vision request with a base64-encoded
// image and returns the model's textual description.
func (c *ArchiveOpenAIClient) GenerateImageDescription(
	ctx context.Context,
	image []byte,
) (string, error) {
	client := c.VisionClient
	if client == nil {
		return "", fmt.Errorf("no vision client configured")
	}

	url := fmt.Sprintf("data:image/png;base64,%s", base64.StdEncoding.EncodeToString(image))
	body := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.visionModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(imageDescribePrompt),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: url,
				}),
			}),
		},
	}

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.reqLock.Release(1)

	start := time.Now()
	response, err := client.Chat.Completions.New(ctx, body)
	if err != nil {
		return "", err
	}
	duration := time.Since(start).Milliseconds()

	metrics := ai.ModelMetrics{
		InputTokens:  int(response.Usage.PromptTokens),
		OutputTokens: int(response.Usage.CompletionTokens),
		TotalTokens:  int(response.Usage.TotalTokens),
		DurationMs:   duration,
	}
	c.modifyMetrics(metrics)

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no choices in response from model")
	}
	return response.Choices[0].Message.Content, nil
}

// GenerateImageEmbedding describes a page image with the vision model and
// embeds the description, so image vectors live in the same space as text
// vectors.
func (c *ArchiveOpenAIClient) GenerateImageEmbedding(ctx context.Context, image []byte) ([]float32, error) {
	description, err := c.GenerateImageDescription(ctx, image)
	if err != nil {
		return nil, err
	}
	return c.GenerateEmbedding(ctx, []byte(description))
}
