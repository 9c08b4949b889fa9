// Package store is the pipelines' view of persistence: targeted selection
// queries, tracked mutation primitives with revert, and the read-side
// queries the catalog fronts with its cache.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/vitalhub/topicsync/internal/topic"
)

// ListParams bounds and filters a paginated read.
type ListParams struct {
	Type   string
	Offset int
	Limit  int
}

// TopicMapping is the lightweight projection stale removal works from. It is
// never tracked.
type TopicMapping struct {
	Name              string
	OriginalName      *string
	LastSourceRefresh *time.Time
}

// Store is implemented by both database engines. Entities returned by the
// targeted queries are change-tracked: mutate them in place, then Save.
// Read-side queries return untracked copies.
type Store interface {
	// Targeted queries (tracked results).
	TopicNames(ctx context.Context) ([]string, error)
	SeenTopicNames(ctx context.Context) ([]string, error)
	TopicsNeedingRefresh(ctx context.Context, cutoff time.Time) ([]*topic.Topic, error)
	TopicsNeedingReprocessing(ctx context.Context, refreshedSince time.Time) ([]*topic.Topic, error)
	UncategorizedTopics(ctx context.Context) ([]*topic.Topic, error)
	UnclassifiedTopics(ctx context.Context) ([]*topic.Topic, error)
	TopicByName(ctx context.Context, name string) (*topic.Topic, error)
	TopicsByNames(ctx context.Context, names []string) ([]*topic.Topic, error)
	TopicsWithoutOriginalName(ctx context.Context) ([]*topic.Topic, error)
	TopicMappings(ctx context.Context) ([]TopicMapping, error)

	// Tracked mutation primitives.
	Add(t *topic.Topic)
	RemoveRange(ts []*topic.Topic)
	Save(ctx context.Context) error
	HasPendingChanges() bool
	Revert()

	// Ledger writes (write-once, duplicates ignored).
	AddSeenTopics(ctx context.Context, seen []topic.SeenTopic) error

	// Read-side queries (untracked results).
	ListTopics(ctx context.Context, params ListParams) ([]*topic.Topic, error)
	CountTopics(ctx context.Context, typeFilter string) (int, error)
	GetTopicByName(ctx context.Context, name string) (*topic.Topic, error)
	SearchTopics(ctx context.Context, query string, params ListParams) ([]*topic.Topic, error)
	SearchTopicCount(ctx context.Context, query string) (int, error)
	DistinctTypes(ctx context.Context) ([]topic.TypeCount, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open builds a Store for the configured driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite", "":
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, dsn)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}
