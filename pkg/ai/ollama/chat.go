package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"

	"github.com/caselight/backend/pkg/ai"

	"github.com/ollama/ollama/api"
	"github.com/pkoukk/tiktoken-go"
)

// Ollama defaults to a small context window. Requests larger than this
// must raise num_ctx or the prompt gets silently truncated.
const defaultNumCtx = 4096

func contextSize(prompt string) (int, error) {
	enc, err := tiktoken.GetEncoding("o200k_base")
	if err != nil {
		return 0, err
	}
	// Headroom for system prompts and the response itself.
	return len(enc.Encode(prompt, nil, nil)) + 1024, nil
}

func buildMessages(prompt string, systemPrompts []string) []api.Message {
	msgs := make([]api.Message, 0, len(systemPrompts)+1)
	for _, sp := range systemPrompts {
		msgs = append(msgs, api.Message{Role: "system", Content: sp})
	}
	msgs = append(msgs, api.Message{Role: "user", Content: prompt})
	return msgs
}

func (c *ArchiveOllamaClient) chat(ctx context.Context, req *api.ChatRequest) (string, error) {
	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.reqLock.Release(1)

	var final api.ChatResponse
	if err := c.Client.Chat(ctx, req, func(cr api.ChatResponse) error {
		final.Message.Content += cr.Message.Content
		if cr.Done {
			final.Done = true
			final.Metrics = cr.Metrics
		}
		return nil
	}); err != nil {
		return "", err
	}

	metrics := ai.ModelMetrics{
		InputTokens:  final.Metrics.PromptEvalCount,
		OutputTokens: final.Metrics.EvalCount,
		TotalTokens:  final.Metrics.PromptEvalCount + final.Metrics.EvalCount,
		DurationMs:   final.Metrics.TotalDuration.Milliseconds(),
	}
	c.modifyMetrics(metrics)

	return final.Message.Content, nil
}

// GenerateCompletion sends a single-turn prompt and returns assistant text.
func (c *ArchiveOllamaClient) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	options := ai.GenerateOptions{
		Model:       c.chatModel,
		Temperature: 0.3,
	}
	for _, o := range opts {
		o(&options)
	}

	stream := false
	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: buildMessages(prompt, options.SystemPrompts),
		Stream:   &stream,
		Options:  map[string]any{"temperature": options.Temperature},
	}

	tokens, err := contextSize(prompt)
	if err != nil {
		return "", err
	}
	if tokens > defaultNumCtx {
		req.Options["num_ctx"] = tokens
	}

	return c.chat(ctx, req)
}

// GenerateCompletionWithFormat enforces a JSON schema and unmarshals the
// response into out.
func (c *ArchiveOllamaClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	if out == nil {
		return errors.New("out must be a non-nil pointer")
	}
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New("out must be a non-nil pointer")
	}

	schemaObj := ai.GenerateSchema(out)
	formatBytes, err := json.Marshal(schemaObj)
	if err != nil {
		return err
	}
	var format json.RawMessage = formatBytes

	options := ai.GenerateOptions{
		Model:       c.extractionModel,
		Temperature: 0.1,
	}
	for _, o := range opts {
		o(&options)
	}

	stream := false
	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: buildMessages(prompt, options.SystemPrompts),
		Stream:   &stream,
		Format:   format,
		Options:  map[string]any{"temperature": options.Temperature},
	}

	tokens, err := contextSize(prompt)
	if err != nil {
		return err
	}
	if tokens > defaultNumCtx {
		req.Options["num_ctx"] = tokens
	}

	message, err := c.chat(ctx, req)
	if err != nil {
		return err
	}
	if message == "" {
		return errors.New("empty response from model")
	}
	return ai.UnmarshalFlexible(message, out)
}
