package relbuilder

import (
	"math"
	"testing"

	"github.com/caselight/backend/pkg/common"
)

func TestEvidenceWeight(t *testing.T) {
	tests := []struct {
		name        string
		tier        Tier
		mentionType common.MentionType
		confidence  float64
		want        float64
	}{
		{"sworn direct", TierSworn, common.MentionDirect, 0.9, 0.9},
		{"peripheral co-occurrence", TierPeripheral, common.MentionCooccurrence, 1.0, 0.015},
		{"court indirect", TierCourt, common.MentionIndirect, 0.5, 0.28},
		{"investigative implied", TierInvestigative, common.MentionImplied, 1.0, 0.24},
		{"zero confidence", TierSworn, common.MentionDirect, 0, 0},
		{"confidence clamped high", TierSworn, common.MentionDirect, 1.5, 1.0},
		{"unknown tier falls to peripheral", Tier("mystery"), common.MentionDirect, 1.0, 0.1},
		{"unknown mention type falls to co-occurrence", TierSworn, common.MentionType("glance"), 1.0, 0.15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvidenceWeight(tt.tier, tt.mentionType, tt.confidence)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("EvidenceWeight(%v, %v, %v) = %v, want %v", tt.tier, tt.mentionType, tt.confidence, got, tt.want)
			}
		})
	}
}

func TestTierForClassification(t *testing.T) {
	tests := []struct {
		primaryType string
		want        Tier
	}{
		{"deposition", TierSworn},
		{"court_filing", TierCourt},
		{"government_report", TierCourt},
		{"flight_log", TierInvestigative},
		{"financial_record", TierInvestigative},
		{"correspondence", TierInvestigative},
		{"news_article", TierMedia},
		{"contact_list", TierPeripheral},
		{"photo_description", TierPeripheral},
		{"other", TierPeripheral},
		{"", TierPeripheral},
		{"Deposition", TierSworn},
	}

	for _, tt := range tests {
		if got := TierForClassification(tt.primaryType); got != tt.want {
			t.Errorf("TierForClassification(%q) = %v, want %v", tt.primaryType, got, tt.want)
		}
	}
}
