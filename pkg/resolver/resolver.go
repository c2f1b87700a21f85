// Package resolver turns raw extracted entity mentions into canonical
// entity rows. Resolution is conservative: names are normalized, junk is
// filtered, and find-or-create runs against the (normalized name, type)
// key so the same person in two documents lands on one row. Duplicate
// detection only ever reports candidates; merging is a separate, explicit
// operation.
package resolver

import (
	"context"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/caselight/backend/pkg/ai"
	"github.com/caselight/backend/pkg/common"
	"github.com/caselight/backend/pkg/logger"
	"github.com/caselight/backend/pkg/store"
)

const defaultMinConfidence = 0.5

// Storage is the persistence surface the resolver needs.
type Storage interface {
	store.EntityStore
	store.Capabilities
}

// Resolver resolves extracted mentions to canonical entities.
//
// Example:
//
//	r := resolver.New(storage)
//	resolved, err := r.Resolve(ctx, "dataset-1", extracted)
type Resolver struct {
	storage       Storage
	minConfidence float64
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMinConfidence sets the confidence below which mentions are dropped.
func WithMinConfidence(min float64) Option {
	return func(r *Resolver) {
		r.minConfidence = min
	}
}

// New creates a Resolver over the given storage.
func New(storage Storage, opts ...Option) *Resolver {
	r := &Resolver{
		storage:       storage,
		minConfidence: defaultMinConfidence,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolved pairs an extraction result with the canonical entity it
// resolved to.
type Resolved struct {
	Entity    common.Entity
	Extracted ai.ExtractedEntity
}

// Resolve maps extracted entities onto canonical rows, creating rows
// that do not exist yet. Low-confidence, unknown-type, and junk mentions
// are dropped with a debug log, never an error: one bad extraction must
// not fail the chunk.
func (r *Resolver) Resolve(ctx context.Context, datasetID string, extracted []ai.ExtractedEntity) ([]Resolved, error) {
	resolved := make([]Resolved, 0, len(extracted))

	for _, ex := range extracted {
		if ex.Confidence < r.minConfidence {
			logger.Debug("[Resolver] Dropping low confidence mention", "name", ex.Name, "confidence", ex.Confidence)
			continue
		}

		entityType := common.EntityType(strings.ToLower(strings.TrimSpace(ex.Type)))
		if !knownEntityType(entityType) {
			logger.Debug("[Resolver] Dropping unknown entity type", "name", ex.Name, "type", ex.Type)
			continue
		}

		name := strings.TrimSpace(ex.Name)
		if IsJunkName(name) {
			logger.Debug("[Resolver] Dropping junk name", "name", ex.Name)
			continue
		}

		normalized := NormalizeName(name)
		if normalized == "" {
			continue
		}

		entity, err := r.storage.FindOrCreateEntity(ctx, common.Entity{
			DatasetID:      datasetID,
			Name:           name,
			NormalizedName: normalized,
			Type:           entityType,
			Aliases:        cleanAliases(ex.Aliases, name),
		})
		if err != nil {
			return nil, err
		}

		resolved = append(resolved, Resolved{Entity: *entity, Extracted: ex})
	}

	return resolved, nil
}

func knownEntityType(t common.EntityType) bool {
	for _, known := range common.KnownEntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

func cleanAliases(aliases []string, name string) []string {
	normalizedName := NormalizeName(name)
	out := make([]string, 0, len(aliases))
	for _, a := range aliases {
		a = strings.TrimSpace(a)
		if a == "" || IsJunkName(a) {
			continue
		}
		if NormalizeName(a) == normalizedName {
			continue
		}
		out = append(out, a)
	}
	return out
}

var junkNames = map[string]struct{}{
	"unknown": {}, "n/a": {}, "na": {}, "none": {}, "redacted": {},
	"unnamed": {}, "anonymous": {}, "tbd": {}, "unclear": {},
	"the": {}, "a": {}, "an": {}, "it": {}, "he": {}, "she": {},
	"they": {}, "various": {}, "others": {}, "misc": {}, "other": {},
	"individual": {}, "person": {}, "people": {}, "entity": {},
	"someone": {}, "somebody": {},
}

// IsJunkName reports whether a name is too generic or degenerate to be
// an entity: too short, no letters, or a placeholder word.
func IsJunkName(name string) bool {
	name = strings.TrimSpace(name)
	if len([]rune(name)) < 2 {
		return true
	}

	hasLetter := false
	for _, r := range name {
		if unicode.IsLetter(r) {
			hasLetter = true
			break
		}
	}
	if !hasLetter {
		return true
	}

	_, junk := junkNames[strings.ToLower(name)]
	return junk
}

var diacriticStripper = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// NormalizeName produces the canonical dedup key for a name: lowercase,
// diacritics stripped, punctuation dropped, whitespace collapsed.
func NormalizeName(name string) string {
	stripped, _, err := transform.String(diacriticStripper, name)
	if err != nil {
		stripped = name
	}

	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(stripped) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || r == '-' || r == '.' || r == ',' || r == '\'':
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
