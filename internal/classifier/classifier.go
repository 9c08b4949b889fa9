// Package classifier defines the text-understanding capability the pipelines
// depend on: type and category classification, structured extraction, and
// canonical-name comparison. Orchestrators consume the interface; the
// Anthropic-backed implementation lives in this package too.
package classifier

import (
	"context"

	"github.com/vitalhub/topicsync/internal/topic"
)

// NameInput is one entry of a type-classification batch.
type NameInput struct {
	Name    string
	Snippet string
}

// CategoryInput is one entry of a category-classification batch.
type CategoryInput struct {
	Name      string
	TopicType string
	Snippet   string
}

// CompareOutcome is the result kind of a canonical-name comparison.
type CompareOutcome int

const (
	// CompareMerge means both names denote the same subject and the
	// existing record's name stays canonical.
	CompareMerge CompareOutcome = iota
	// CompareReplace means the same subject, but the existing record should
	// be renamed to the preferred name.
	CompareReplace
	// CompareDistinct means the names denote different subjects; never merge.
	CompareDistinct
)

// NameComparison is the tri-state outcome of comparing a discovered name
// against an existing record.
type NameComparison struct {
	Outcome   CompareOutcome
	Preferred string
}

// Classifier is the capability contract consumed by the ingestion, refresh,
// and backfill orchestrators. Implementations return partial results rather
// than failing whole runs: a name absent from a result map simply was not
// classified.
type Classifier interface {
	// ClassifyNames assigns a topic type to each name, in batches. Names
	// judged non-medical or ambiguous are mapped to their reject sentinel
	// types; names dropped by a failed batch are omitted.
	ClassifyNames(ctx context.Context, inputs []NameInput) (map[string]string, error)

	// ClassifyCategories assigns a category to each name, enforcing the
	// mandatory type-to-category table.
	ClassifyCategories(ctx context.Context, inputs []CategoryInput) (map[string]string, error)

	// Extract derives a structured topic from merged raw text. Returns
	// (nil, nil) when the type is excluded from extraction by policy, or
	// when extraction produced nothing usable.
	Extract(ctx context.Context, rawText, topicType, discoveredName string) (*topic.Topic, error)

	// CompareNames decides whether a discovered name and an existing record
	// denote the same subject, and which name is canonical.
	CompareNames(ctx context.Context, candidate string, existing *topic.Topic) (NameComparison, error)

	// MatchLegacyNames maps canonicalized names back to raw provider names.
	// Unmatched entries are omitted.
	MatchLegacyNames(ctx context.Context, normalized, candidates []string) (map[string]string, error)

	// ShouldProcess reports whether topics of this type go through
	// structured extraction.
	ShouldProcess(topicType string) bool
}
