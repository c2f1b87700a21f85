package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator"
	"golang.org/x/time/rate"

	"github.com/caselight/backend/pkg/logger"
)

// ExtractedEntity is a single entity mention returned by the model.
type ExtractedEntity struct {
	Name        string   `json:"name" validate:"required"`
	Type        string   `json:"type" validate:"required"`
	Aliases     []string `json:"aliases"`
	Confidence  float64  `json:"confidence" validate:"gte=0,lte=1"`
	MentionType string   `json:"mention_type"`
	MentionText string   `json:"mention_text"`
	Context     string   `json:"context"`
}

// ExtractedRelationship is a single relationship returned by the model.
// Source and target name entities from the list the caller supplied.
type ExtractedRelationship struct {
	SourceEntity string  `json:"source_entity" validate:"required"`
	TargetEntity string  `json:"target_entity" validate:"required"`
	Type         string  `json:"type" validate:"required"`
	Confidence   float64 `json:"confidence" validate:"gte=0,lte=1"`
	Description  string  `json:"description"`
}

// DocumentClass is the model's classification of a document.
type DocumentClass struct {
	PrimaryType   string   `json:"primary_type" validate:"required"`
	Confidence    float64  `json:"confidence" validate:"gte=0,lte=1"`
	SecondaryTags []string `json:"secondary_tags"`
}

// TimelineEvent is a dated event extracted from a document.
type TimelineEvent struct {
	Date        string   `json:"date" validate:"required"`
	Description string   `json:"description" validate:"required"`
	Entities    []string `json:"entities"`
	Confidence  float64  `json:"confidence" validate:"gte=0,lte=1"`
}

// DetectedRedaction describes one redacted passage found in a document.
type DetectedRedaction struct {
	Type            string `json:"type" validate:"required"`
	EstimatedLength int    `json:"estimated_length" validate:"gte=0"`
	SurroundingText string `json:"surrounding_text"`
	PageNumber      int    `json:"page_number"`
}

// FinancialTransaction is a transaction extracted from a financial record.
type FinancialTransaction struct {
	Payer      string  `json:"payer"`
	Payee      string  `json:"payee"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
	Date       string  `json:"date"`
	Purpose    string  `json:"purpose"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
}

// EmailRecord is an email reconstructed from document text.
type EmailRecord struct {
	Sender     string   `json:"sender"`
	Recipients []string `json:"recipients"`
	Date       string   `json:"date"`
	Subject    string   `json:"subject"`
	Summary    string   `json:"summary"`
}

// CriminalIndicator flags a passage describing potential criminal conduct.
type CriminalIndicator struct {
	Category   string   `json:"category" validate:"required"`
	Entities   []string `json:"entities"`
	Quote      string   `json:"quote"`
	Confidence float64  `json:"confidence" validate:"gte=0,lte=1"`
}

type entityList struct {
	Entities []ExtractedEntity `json:"entities"`
}

type relationshipList struct {
	Relationships []ExtractedRelationship `json:"relationships"`
}

type timelineList struct {
	Events []TimelineEvent `json:"events"`
}

type redactionList struct {
	Redactions []DetectedRedaction `json:"redactions"`
}

type transactionList struct {
	Transactions []FinancialTransaction `json:"transactions"`
}

type emailList struct {
	Emails []EmailRecord `json:"emails"`
}

type indicatorList struct {
	Indicators []CriminalIndicator `json:"indicators"`
}

// Capabilities wraps a ModelClient with the typed extraction operations the
// pipeline stages call. All calls share one rate limiter so a batch run
// cannot exceed the provider's request budget, and all structured results
// are validated before they reach storage. Parse and validation failures
// degrade to empty results; transport failures return an error so the
// caller can retry.
//
// Example:
//
//	caps := ai.NewCapabilities(client, rate.NewLimiter(rate.Limit(5), 10))
//	entities, err := caps.ExtractEntities(ctx, chunkText)
type Capabilities struct {
	client   ModelClient
	limiter  *rate.Limiter
	validate *validator.Validate
}

// NewCapabilities creates a Capabilities layer over the given client.
// A nil limiter disables rate limiting.
func NewCapabilities(client ModelClient, limiter *rate.Limiter) *Capabilities {
	return &Capabilities{
		client:   client,
		limiter:  limiter,
		validate: validator.New(),
	}
}

func (c *Capabilities) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// degraded absorbs unparseable-response errors so a garbled model reply
// yields an empty result instead of failing the document's stage.
// Transport errors pass through and stay retryable.
func degraded(call string, err error) bool {
	if !errors.Is(err, ErrUnparseable) {
		return false
	}
	logger.Warn("Unparseable model response, degrading to empty result", "call", call, "err", err)
	return true
}

// Classify determines the document type from its text.
func (c *Capabilities) Classify(ctx context.Context, text string) (*DocumentClass, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	var result DocumentClass
	err := c.client.GenerateCompletionWithFormat(
		ctx,
		"document_classification",
		"Classification of a document into a primary type with secondary tags",
		text,
		&result,
		WithSystemPrompts(classifySystemPrompt),
	)
	if err != nil {
		if degraded("classify", err) {
			return nil, nil
		}
		return nil, fmt.Errorf("classify document: %w", err)
	}

	if err := c.validate.Struct(&result); err != nil {
		logger.Warn("Dropping invalid classification", "err", err)
		return nil, nil
	}
	return &result, nil
}

// ExtractEntities extracts entity mentions from a chunk of text. Entities
// with unknown types or missing names are dropped rather than failing the
// whole chunk.
func (c *Capabilities) ExtractEntities(ctx context.Context, text string) ([]ExtractedEntity, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	var result entityList
	err := c.client.GenerateCompletionWithFormat(
		ctx,
		"entity_extraction",
		"Named entities found in the text with mention details",
		text,
		&result,
		WithSystemPrompts(entitySystemPrompt),
	)
	if err != nil {
		if degraded("extract_entities", err) {
			return nil, nil
		}
		return nil, fmt.Errorf("extract entities: %w", err)
	}

	valid := result.Entities[:0]
	for _, e := range result.Entities {
		if err := c.validate.Struct(&e); err != nil {
			logger.Warn("Dropping invalid entity", "name", e.Name, "err", err)
			continue
		}
		valid = append(valid, e)
	}
	return valid, nil
}

// ExtractRelationships extracts relationships between the given entities
// from a chunk of text.
func (c *Capabilities) ExtractRelationships(ctx context.Context, text string, entityNames []string) ([]ExtractedRelationship, error) {
	if len(entityNames) < 2 {
		return nil, nil
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf("Entities present in the text:\n%s\n\nText:\n%s",
		strings.Join(entityNames, "\n"), text)

	var result relationshipList
	err := c.client.GenerateCompletionWithFormat(
		ctx,
		"relationship_extraction",
		"Relationships between the listed entities supported by the text",
		prompt,
		&result,
		WithSystemPrompts(relationshipSystemPrompt),
	)
	if err != nil {
		if degraded("extract_relationships", err) {
			return nil, nil
		}
		return nil, fmt.Errorf("extract relationships: %w", err)
	}

	valid := result.Relationships[:0]
	for _, r := range result.Relationships {
		if err := c.validate.Struct(&r); err != nil {
			logger.Warn("Dropping invalid relationship", "source", r.SourceEntity, "target", r.TargetEntity, "err", err)
			continue
		}
		if r.SourceEntity == r.TargetEntity {
			continue
		}
		valid = append(valid, r)
	}
	return valid, nil
}

// DetectRedactions finds redacted passages in document text.
func (c *Capabilities) DetectRedactions(ctx context.Context, text string) ([]DetectedRedaction, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	var result redactionList
	err := c.client.GenerateCompletionWithFormat(
		ctx,
		"redaction_detection",
		"Redacted passages in the text with estimated content details",
		text,
		&result,
		WithSystemPrompts(redactionSystemPrompt),
	)
	if err != nil {
		if degraded("detect_redactions", err) {
			return nil, nil
		}
		return nil, fmt.Errorf("detect redactions: %w", err)
	}

	valid := result.Redactions[:0]
	for _, r := range result.Redactions {
		if err := c.validate.Struct(&r); err != nil {
			logger.Warn("Dropping invalid redaction", "err", err)
			continue
		}
		valid = append(valid, r)
	}
	return valid, nil
}

// ExtractTimeline extracts dated events from document text.
func (c *Capabilities) ExtractTimeline(ctx context.Context, text string) ([]TimelineEvent, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	var result timelineList
	err := c.client.GenerateCompletionWithFormat(
		ctx,
		"timeline_extraction",
		"Dated events found in the text",
		text,
		&result,
		WithSystemPrompts(timelineSystemPrompt),
	)
	if err != nil {
		if degraded("extract_timeline", err) {
			return nil, nil
		}
		return nil, fmt.Errorf("extract timeline: %w", err)
	}

	valid := result.Events[:0]
	for _, e := range result.Events {
		if err := c.validate.Struct(&e); err != nil {
			logger.Warn("Dropping invalid timeline event", "err", err)
			continue
		}
		valid = append(valid, e)
	}
	return valid, nil
}

// Summarize produces a short factual summary of document text.
func (c *Capabilities) Summarize(ctx context.Context, text string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}

	summary, err := c.client.GenerateCompletion(ctx, text,
		WithSystemPrompts(summarySystemPrompt))
	if err != nil {
		return "", fmt.Errorf("summarize document: %w", err)
	}
	return strings.TrimSpace(summary), nil
}

// ContextHeader produces a one-sentence situating header for a chunk,
// given the whole document's summary.
func (c *Capabilities) ContextHeader(ctx context.Context, docSummary, chunkText string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}

	prompt := fmt.Sprintf("Document summary:\n%s\n\nChunk:\n%s", docSummary, chunkText)
	header, err := c.client.GenerateCompletion(ctx, prompt,
		WithSystemPrompts(contextHeaderSystemPrompt))
	if err != nil {
		return "", fmt.Errorf("generate context header: %w", err)
	}
	return strings.TrimSpace(header), nil
}

// ExtractFinancial extracts transactions from financial record text.
func (c *Capabilities) ExtractFinancial(ctx context.Context, text string) ([]FinancialTransaction, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	var result transactionList
	err := c.client.GenerateCompletionWithFormat(
		ctx,
		"financial_extraction",
		"Financial transactions stated in the text",
		text,
		&result,
		WithSystemPrompts(financialSystemPrompt),
	)
	if err != nil {
		if degraded("extract_financial", err) {
			return nil, nil
		}
		return nil, fmt.Errorf("extract financial records: %w", err)
	}

	valid := result.Transactions[:0]
	for _, tx := range result.Transactions {
		if err := c.validate.Struct(&tx); err != nil {
			logger.Warn("Dropping invalid transaction", "err", err)
			continue
		}
		valid = append(valid, tx)
	}
	return valid, nil
}

// ExtractEmails extracts email records from document text.
func (c *Capabilities) ExtractEmails(ctx context.Context, text string) ([]EmailRecord, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	var result emailList
	err := c.client.GenerateCompletionWithFormat(
		ctx,
		"email_extraction",
		"Email records present in the text",
		text,
		&result,
		WithSystemPrompts(emailSystemPrompt),
	)
	if err != nil {
		if degraded("extract_emails", err) {
			return nil, nil
		}
		return nil, fmt.Errorf("extract emails: %w", err)
	}
	return result.Emails, nil
}

// ExtractCriminalIndicators flags passages describing potential criminal
// conduct.
func (c *Capabilities) ExtractCriminalIndicators(ctx context.Context, text string) ([]CriminalIndicator, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	var result indicatorList
	err := c.client.GenerateCompletionWithFormat(
		ctx,
		"criminal_indicators",
		"Passages describing potential criminal conduct",
		text,
		&result,
		WithSystemPrompts(criminalSystemPrompt),
	)
	if err != nil {
		if degraded("extract_criminal_indicators", err) {
			return nil, nil
		}
		return nil, fmt.Errorf("extract criminal indicators: %w", err)
	}

	valid := result.Indicators[:0]
	for _, ind := range result.Indicators {
		if err := c.validate.Struct(&ind); err != nil {
			logger.Warn("Dropping invalid indicator", "err", err)
			continue
		}
		valid = append(valid, ind)
	}
	return valid, nil
}

// Embed returns the embedding vector for the given text.
func (c *Capabilities) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.client.GenerateEmbedding(ctx, []byte(text))
}

// EmbedImage returns an embedding for a page image in the same vector
// space as text embeddings.
func (c *Capabilities) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.client.GenerateImageEmbedding(ctx, image)
}

// Metrics returns accumulated token usage from the underlying client.
func (c *Capabilities) Metrics() ModelMetrics {
	return c.client.GetMetrics()
}
