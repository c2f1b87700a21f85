package common

// Stage names one named step of document processing.
type Stage string

const (
	StageOCR                Stage = "ocr"
	StageClassify           Stage = "classify"
	StageChunk              Stage = "chunk"
	StageContextualHeaders  Stage = "contextual_headers"
	StageEmbed              Stage = "embed"
	StageVisualEmbed        Stage = "visual_embed"
	StageEntityExtract      Stage = "entity_extract"
	StageRelationshipMap    Stage = "relationship_map"
	StageRedactionDetect    Stage = "redaction_detect"
	StageTimelineExtract    Stage = "timeline_extract"
	StageSummarize          Stage = "summarize"
	StageEmailExtract       Stage = "email_extract"
	StageFinancialExtract   Stage = "financial_extract"
	StageCriminalIndicators Stage = "criminal_indicators"

	// Global stages run over the whole corpus and are never recorded in a
	// document's completed set.
	StageCoFlightLinks      Stage = "co_flight_links"
	StageSubpoenaExtract    Stage = "subpoena_extract"
	StageCongressionalScore Stage = "congressional_score"
	StageNetworkMetrics     Stage = "network_metrics"
	StageRiskScore          Stage = "risk_score"
)

// PerDocumentOrder is the strict sequential order a single document moves
// through. A stage never starts before its predecessor has recorded
// completion for that document.
var PerDocumentOrder = []Stage{
	StageOCR,
	StageClassify,
	StageChunk,
	StageContextualHeaders,
	StageEmbed,
	StageVisualEmbed,
	StageEntityExtract,
	StageRelationshipMap,
	StageRedactionDetect,
	StageTimelineExtract,
	StageSummarize,
	StageEmailExtract,
	StageFinancialExtract,
	StageCriminalIndicators,
}

// GlobalStages are corpus-wide batch jobs driven from the CLI.
var GlobalStages = []Stage{
	StageCoFlightLinks,
	StageSubpoenaExtract,
	StageCongressionalScore,
	StageNetworkMetrics,
	StageRiskScore,
}

// IsGlobal reports whether s operates over the whole corpus rather than a
// single document.
func (s Stage) IsGlobal() bool {
	for _, g := range GlobalStages {
		if s == g {
			return true
		}
	}
	return false
}

// KnownStage reports whether s is any recognised stage name.
func KnownStage(s Stage) bool {
	for _, k := range PerDocumentOrder {
		if s == k {
			return true
		}
	}
	return s.IsGlobal()
}

// HasStage reports whether stage is present in the completed set.
func HasStage(completed []Stage, stage Stage) bool {
	for _, c := range completed {
		if c == stage {
			return true
		}
	}
	return false
}

// UnionStages returns completed with stage added, preserving order and
// ignoring duplicates. The grow-only union is the system's defense against
// concurrent writers racing on completed_stages.
func UnionStages(completed []Stage, stage Stage) []Stage {
	if HasStage(completed, stage) {
		return completed
	}
	out := make([]Stage, 0, len(completed)+1)
	out = append(out, completed...)
	return append(out, stage)
}
