package openai

import (
	"sync"

	"github.com/caselight/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

// ArchiveOpenAIClient talks to OpenAI-compatible APIs for the extraction
// pipeline. It manages separate clients for embeddings, chat/extraction,
// and vision so each can point at a different endpoint.
//
// An ArchiveOpenAIClient should be created using NewArchiveOpenAIClient.
type ArchiveOpenAIClient struct {
	embeddingModel  string
	chatModel       string
	extractionModel string
	visionModel     string

	embeddingURL string
	embeddingKey string
	chatURL      string
	chatKey      string
	visionURL    string
	visionKey    string

	reqLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
	VisionClient    *openai.Client
}

// NewArchiveOpenAIClientParams defines the configuration for creating a
// new ArchiveOpenAIClient.
//
// EmbeddingModel specifies the model used for embeddings.
// ChatModel specifies the model used for summaries and free-text output.
// ExtractionModel specifies the model used for structured extraction.
// VisionModel specifies the model used for page image description.
// Each concern has its own URL and key so endpoints can be mixed.
type NewArchiveOpenAIClientParams struct {
	EmbeddingModel  string
	ChatModel       string
	ExtractionModel string
	VisionModel     string

	EmbeddingURL string
	EmbeddingKey string
	ChatURL      string
	ChatKey      string
	VisionURL    string
	VisionKey    string

	MaxConcurrentRequests int64
}

// NewArchiveOpenAIClient creates and returns a new ArchiveOpenAIClient
// configured with the provided parameters.
//
// Example:
//
//	params := openai.NewArchiveOpenAIClientParams{
//		EmbeddingModel:  "text-embedding-3-small",
//		ChatModel:       "gpt-4o-mini",
//		ExtractionModel: "gpt-4o-mini",
//		ChatKey:         os.Getenv("OPENAI_API_KEY"),
//		EmbeddingKey:    os.Getenv("OPENAI_API_KEY"),
//	}
//	client := openai.NewArchiveOpenAIClient(params)
func NewArchiveOpenAIClient(
	params NewArchiveOpenAIClientParams,
) *ArchiveOpenAIClient {
	chatClient := newOpenaiClient(params.ChatURL, params.ChatKey)
	embedClient := newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey)
	visionClient := newOpenaiClient(params.VisionURL, params.VisionKey)

	maxReq := params.MaxConcurrentRequests
	if maxReq <= 0 {
		maxReq = 4
	}

	return &ArchiveOpenAIClient{
		embeddingModel:  params.EmbeddingModel,
		chatModel:       params.ChatModel,
		extractionModel: params.ExtractionModel,
		visionModel:     params.VisionModel,

		chatURL:      params.ChatURL,
		chatKey:      params.ChatKey,
		embeddingURL: params.EmbeddingURL,
		embeddingKey: params.EmbeddingKey,
		visionURL:    params.VisionURL,
		visionKey:    params.VisionKey,

		reqLock: semaphore.NewWeighted(maxReq),

		metricsLock: sync.Mutex{},
		metrics: ai.ModelMetrics{
			InputTokens:  0,
			OutputTokens: 0,
			TotalTokens:  0,
			DurationMs:   0,
		},

		ChatClient:      chatClient,
		EmbeddingClient: embedClient,
		VisionClient:    visionClient,
	}
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}
