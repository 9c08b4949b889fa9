// Package topic defines the canonical knowledge-base record and the helpers
// shared by the ingestion, refresh, and backfill pipelines.
package topic

import (
	"time"

	"github.com/google/uuid"
)

// Topic is the canonical knowledge-base entry for one real-world subject.
type Topic struct {
	ID   uuid.UUID `json:"id" db:"id"`
	Name string    `json:"name" db:"name"`

	// OriginalName is the name a provider used before canonicalization.
	// It is what we query providers with on refresh.
	OriginalName *string `json:"-" db:"original_name"`

	Summary      string   `json:"summary" db:"summary"`
	Observations []string `json:"observations" db:"observations"`
	Factors      []string `json:"factors" db:"factors"`
	Actions      []string `json:"actions" db:"actions"`
	Citations    []string `json:"citations" db:"citations"`
	Tags         []string `json:"tags" db:"tags"`

	Category  *string `json:"category,omitempty" db:"category"`
	TopicType *string `json:"topic_type,omitempty" db:"topic_type"`

	RawSource         string     `json:"-" db:"raw_source"`
	SourceHash        string     `json:"-" db:"source_hash"`
	LastSourceRefresh *time.Time `json:"-" db:"last_source_refresh"`
	NeedsReprocessing bool       `json:"-" db:"needs_reprocessing"`

	LastUpdated time.Time `json:"last_updated" db:"last_updated"`
	Version     int       `json:"version" db:"version"`
}

// Clone returns a deep copy of the topic. Used for change-tracking snapshots.
func (t *Topic) Clone() *Topic {
	c := *t
	c.OriginalName = clonePtr(t.OriginalName)
	c.Category = clonePtr(t.Category)
	c.TopicType = clonePtr(t.TopicType)
	c.LastSourceRefresh = clonePtr(t.LastSourceRefresh)
	c.Observations = cloneSlice(t.Observations)
	c.Factors = cloneSlice(t.Factors)
	c.Actions = cloneSlice(t.Actions)
	c.Citations = cloneSlice(t.Citations)
	c.Tags = cloneSlice(t.Tags)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneSlice(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// Seen-topic triage statuses.
const (
	SeenAccepted       = "Accepted"
	SeenNonMedical     = "NonMedical"
	SeenUnclassifiable = "Unclassifiable"
)

// SeenTopic is a write-once ledger record of a past triage decision for a
// discovered name. It is never updated. Names already judged, even rejected
// ones, are excluded from future classification calls.
type SeenTopic struct {
	Name      string    `json:"name" db:"name"`
	Status    string    `json:"status" db:"status"`
	TopicType string    `json:"topic_type" db:"topic_type"`
	FirstSeen time.Time `json:"first_seen" db:"first_seen"`
}

// RawTopicData is one provider's evidence for one subject. Ephemeral; never
// persisted directly.
type RawTopicData struct {
	TopicName  string
	RawText    string
	SourceName string
	// Groups are provider-side context labels (e.g. index group names).
	Groups []string
	// ContentHash, when supplied by the provider, is preferred over hashing
	// the merged text so unchanged topics are cheap to detect.
	ContentHash string
}

// TypeCount pairs a topic type with the number of topics carrying it.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}
