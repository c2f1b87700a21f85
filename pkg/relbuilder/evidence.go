package relbuilder

import (
	"strings"

	"github.com/caselight/backend/pkg/common"
)

// Tier grades a document's probative value. Sworn testimony outweighs
// everything; a contact list barely counts.
type Tier string

const (
	TierSworn         Tier = "sworn"
	TierCourt         Tier = "court"
	TierInvestigative Tier = "investigative"
	TierMedia         Tier = "media"
	TierPeripheral    Tier = "peripheral"
)

// These two tables drive risk scoring downstream. Changing a value here
// changes every evidence weight in the corpus, so treat them as fixed.
var tierWeights = map[Tier]float64{
	TierSworn:         1.0,
	TierCourt:         0.8,
	TierInvestigative: 0.6,
	TierMedia:         0.3,
	TierPeripheral:    0.1,
}

var mentionTypeWeights = map[common.MentionType]float64{
	common.MentionDirect:       1.0,
	common.MentionIndirect:     0.7,
	common.MentionImplied:      0.4,
	common.MentionCooccurrence: 0.15,
}

// TierForClassification maps a classified document type onto its
// probative tier. Unrecognized types land on the peripheral tier rather
// than erroring: a weight of 0.1 is the safe default for evidence of
// unknown provenance.
func TierForClassification(primaryType string) Tier {
	switch strings.ToLower(strings.TrimSpace(primaryType)) {
	case "deposition":
		return TierSworn
	case "court_filing", "government_report":
		return TierCourt
	case "flight_log", "financial_record", "correspondence":
		return TierInvestigative
	case "news_article":
		return TierMedia
	default:
		return TierPeripheral
	}
}

// TierWeight returns the probative weight of a tier.
func TierWeight(tier Tier) float64 {
	if w, ok := tierWeights[tier]; ok {
		return w
	}
	return tierWeights[TierPeripheral]
}

// MentionTypeWeight returns the directness weight of a mention type.
func MentionTypeWeight(mentionType common.MentionType) float64 {
	if w, ok := mentionTypeWeights[mentionType]; ok {
		return w
	}
	return mentionTypeWeights[common.MentionCooccurrence]
}

// EvidenceWeight combines document tier, mention directness, and
// extraction confidence into one scalar.
func EvidenceWeight(tier Tier, mentionType common.MentionType, confidence float64) float64 {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return TierWeight(tier) * MentionTypeWeight(mentionType) * confidence
}
