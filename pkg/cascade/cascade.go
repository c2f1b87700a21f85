// Package cascade drives redaction cascade confirmation. Confirming one
// redaction's resolved text triggers a server-side search for other
// unsolved redactions with the same type, a similar context, and a
// matching estimated length; each match receives a proposal citing the
// confirmed redaction as its evidence. The whole check-find-propose
// sequence is atomic in storage so two concurrent confirmations cannot
// race into overlapping proposal sets; this package only invokes it and
// interprets the outcome.
package cascade

import (
	"context"
	"fmt"
	"strings"

	"github.com/caselight/backend/pkg/logger"
	"github.com/caselight/backend/pkg/store"
)

const (
	// DefaultSimilarityThreshold is the minimum context similarity for a
	// cascade match.
	DefaultSimilarityThreshold = 0.80

	// DefaultLengthTolerance is how far a candidate's estimated length may
	// deviate from the solved text's length.
	DefaultLengthTolerance = 3
)

// Engine confirms redaction resolutions and cascades them to lookalike
// redactions.
type Engine struct {
	storage store.RedactionStore
}

// NewEngine creates an Engine over the given storage.
func NewEngine(storage store.RedactionStore) *Engine {
	return &Engine{storage: storage}
}

// Outcome reports what one confirmation did.
type Outcome struct {
	RedactionID  int64  `json:"redaction_id"`
	Confirmed    bool   `json:"confirmed"`
	CascadeCount int    `json:"cascade_count"`
	Reason       string `json:"reason,omitempty"`
}

// Confirm marks a redaction as confirmed with the given solved text and
// cascades proposals to matching unsolved redactions. A rejected
// confirmation is not an error; the Outcome carries the reason.
func (e *Engine) Confirm(ctx context.Context, redactionID int64, solvedText string) (*Outcome, error) {
	solvedText = strings.TrimSpace(solvedText)
	if solvedText == "" {
		return nil, fmt.Errorf("confirm redaction %d: empty solved text", redactionID)
	}

	result, err := e.storage.ConfirmRedactionCascade(ctx, store.CascadeParams{
		RedactionID:         redactionID,
		SolvedText:          solvedText,
		SimilarityThreshold: DefaultSimilarityThreshold,
		LengthTolerance:     DefaultLengthTolerance,
	})
	if err != nil {
		return nil, fmt.Errorf("confirm redaction %d: %w", redactionID, err)
	}

	outcome := &Outcome{
		RedactionID:  redactionID,
		Confirmed:    result.Confirmed,
		CascadeCount: result.CascadeCount,
		Reason:       result.Reason,
	}
	if !result.Confirmed {
		logger.Warn("[Cascade] Confirmation rejected", "redaction", redactionID, "reason", result.Reason)
		return outcome, nil
	}

	logger.Info("[Cascade] Redaction confirmed", "redaction", redactionID, "cascaded", result.CascadeCount)
	return outcome, nil
}
