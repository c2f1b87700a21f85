package ollama

import (
	"net/http"
	"net/url"
	"sync"

	"github.com/caselight/backend/pkg/ai"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

// ArchiveOllamaClient implements the ai.ModelClient interface using Ollama
// as the backend. It supports text generation, embeddings, and page image
// description via locally-hosted models.
type ArchiveOllamaClient struct {
	embeddingModel  string
	chatModel       string
	extractionModel string
	visionModel     string

	reqLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client

	Client *api.Client
}

// NewArchiveOllamaClientParams contains configuration options for creating
// a new ArchiveOllamaClient.
type NewArchiveOllamaClientParams struct {
	EmbeddingModel  string
	ChatModel       string
	ExtractionModel string
	VisionModel     string

	BaseURL string
	ApiKey  string

	MaxConcurrentRequests int64
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone so original request isn't modified
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewArchiveOllamaClient creates a new Ollama-based AI client with the
// specified configuration. It connects to the Ollama server at the given
// BaseURL (or the default if empty) and uses the configured models for
// the different pipeline operations.
func NewArchiveOllamaClient(
	params NewArchiveOllamaClientParams,
) (*ArchiveOllamaClient, error) {
	var (
		u   *url.URL
		err error
	)

	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	httpClient := &http.Client{
		Transport: &headerTransport{
			headers: map[string]string{
				"Authorization": "Bearer " + params.ApiKey,
			},
			rt: http.DefaultTransport,
		},
	}

	cli := api.NewClient(u, httpClient)

	maxReq := params.MaxConcurrentRequests
	if maxReq <= 0 {
		maxReq = 2
	}

	return &ArchiveOllamaClient{
		embeddingModel:  params.EmbeddingModel,
		chatModel:       params.ChatModel,
		extractionModel: params.ExtractionModel,
		visionModel:     params.VisionModel,

		reqLock: semaphore.NewWeighted(maxReq),

		metricsLock: sync.Mutex{},
		metrics: ai.ModelMetrics{
			InputTokens:  0,
			OutputTokens: 0,
			TotalTokens:  0,
			DurationMs:   0,
		},

		baseURL:    u,
		apiKey:     params.ApiKey,
		httpClient: httpClient,

		Client: cli,
	}, nil
}
