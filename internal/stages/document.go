package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/caselight/backend/internal/storage"
	"github.com/caselight/backend/internal/util"
	"github.com/caselight/backend/pkg/ai"
	"github.com/caselight/backend/pkg/common"
	"github.com/caselight/backend/pkg/logger"
)

// maxPromptChars bounds how much document text goes into a single
// whole-document AI call.
const maxPromptChars = 24000

func (d Deps) ocrSatisfied(ctx context.Context, doc *common.Document) (bool, error) {
	return strings.TrimSpace(doc.Text) != "", nil
}

// runOCR fetches the OCR text the ingestion side stored next to the
// original document. Actual character recognition happens at ingestion;
// this stage only pulls the result into the database.
func (d Deps) runOCR(ctx context.Context, doc *common.Document) error {
	if d.S3 == nil {
		return fmt.Errorf("no object store client configured")
	}
	if doc.StorageKey == "" {
		return fmt.Errorf("document %d has no storage key", doc.ID)
	}

	text, err := storage.GetDocumentText(ctx, d.S3, doc.StorageKey)
	if err != nil {
		return fmt.Errorf("fetch text for document %d: %w", doc.ID, err)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("document %d has no recognizable text", doc.ID)
	}

	if err := d.Storage.SetText(ctx, doc.ID, text); err != nil {
		return err
	}
	doc.Text = text
	return nil
}

func (d Deps) classifySatisfied(ctx context.Context, doc *common.Document) (bool, error) {
	return doc.Classification.PrimaryType != "", nil
}

func (d Deps) runClassify(ctx context.Context, doc *common.Document) error {
	prompt := fmt.Sprintf("Filename: %s\n\n%s", doc.Filename, util.Truncate(doc.Text, maxPromptChars))
	class, err := d.Caps.Classify(ctx, prompt)
	if err != nil {
		return err
	}
	if class == nil {
		logger.Warn("[Stages] Classification came back invalid, marking as other", "document", doc.ID)
		class = &ai.DocumentClass{PrimaryType: "other"}
	}

	classification := common.Classification{
		PrimaryType:   class.PrimaryType,
		Confidence:    class.Confidence,
		SecondaryTags: class.SecondaryTags,
	}
	if err := d.Storage.SetClassification(ctx, doc.ID, classification); err != nil {
		return err
	}
	doc.Classification = classification
	return nil
}

func (d Deps) summarizeSatisfied(ctx context.Context, doc *common.Document) (bool, error) {
	return strings.TrimSpace(doc.Summary) != "", nil
}

func (d Deps) runSummarize(ctx context.Context, doc *common.Document) error {
	summary, err := d.Caps.Summarize(ctx, util.Truncate(doc.Text, maxPromptChars))
	if err != nil {
		return err
	}
	if err := d.Storage.SetSummary(ctx, doc.ID, summary); err != nil {
		return err
	}
	doc.Summary = summary
	return nil
}

func (d Deps) runTimelineExtract(ctx context.Context, doc *common.Document) error {
	events, err := d.Caps.ExtractTimeline(ctx, util.Truncate(doc.Text, maxPromptChars))
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	return d.Storage.SetPayload(ctx, doc.ID, string(common.StageTimelineExtract), events)
}

func (d Deps) runEmailExtract(ctx context.Context, doc *common.Document) error {
	if doc.Classification.PrimaryType != "correspondence" {
		return nil
	}
	emails, err := d.Caps.ExtractEmails(ctx, util.Truncate(doc.Text, maxPromptChars))
	if err != nil {
		return err
	}
	if len(emails) == 0 {
		return nil
	}
	return d.Storage.SetPayload(ctx, doc.ID, string(common.StageEmailExtract), emails)
}

func (d Deps) runFinancialExtract(ctx context.Context, doc *common.Document) error {
	switch doc.Classification.PrimaryType {
	case "financial_record", "flight_log":
	default:
		return nil
	}
	transactions, err := d.Caps.ExtractFinancial(ctx, util.Truncate(doc.Text, maxPromptChars))
	if err != nil {
		return err
	}
	if len(transactions) == 0 {
		return nil
	}
	return d.Storage.SetPayload(ctx, doc.ID, string(common.StageFinancialExtract), transactions)
}

func (d Deps) runCriminalIndicators(ctx context.Context, doc *common.Document) error {
	indicators, err := d.Caps.ExtractCriminalIndicators(ctx, util.Truncate(doc.Text, maxPromptChars))
	if err != nil {
		return err
	}
	if len(indicators) == 0 {
		return nil
	}
	return d.Storage.SetPayload(ctx, doc.ID, string(common.StageCriminalIndicators), indicators)
}
