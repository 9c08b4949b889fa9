// Package refresh re-validates existing topics in three phases: re-fetch
// source material from providers, re-extract structured content where the
// source changed, and categorize anything still missing a category.
// Fetches and classifier calls fan out with bounded concurrency; all store
// mutations are applied sequentially afterwards.
package refresh

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vitalhub/topicsync/internal/classifier"
	"github.com/vitalhub/topicsync/internal/provider"
	"github.com/vitalhub/topicsync/internal/store"
	"github.com/vitalhub/topicsync/internal/topic"
)

const (
	// fetchConcurrency bounds concurrent provider fetches in phase 1.
	fetchConcurrency = 5
	// extractConcurrency bounds concurrent re-extractions in phase 2. Lower
	// than phase 1 since classifier calls are slower and costlier.
	extractConcurrency = 3

	// fetchFlushEvery and extractFlushEvery bound unsaved work per phase.
	fetchFlushEvery   = 25
	extractFlushEvery = 10

	// reprocessWindow bounds phase 2 to recently-refreshed topics, so a
	// permanently low-quality topic whose source never changes is not
	// re-extracted forever.
	reprocessWindow = 2 * 24 * time.Hour
)

// CacheInvalidator is the read-side cache hook. Satisfied by
// catalog.Catalog.
type CacheInvalidator interface {
	InvalidateCache()
}

// Stats summarizes one refresh run.
type Stats struct {
	Refreshed   int
	Changed     int
	Reprocessed int
	Categorized int
}

// Refresher runs refresh passes. Construct with New.
type Refresher struct {
	providers  []provider.Provider
	store      store.Store
	classifier classifier.Classifier
	cache      CacheInvalidator

	now func() time.Time
}

// New creates a Refresher.
func New(providers []provider.Provider, st store.Store, cl classifier.Classifier, cache CacheInvalidator) *Refresher {
	return &Refresher{
		providers:  providers,
		store:      st,
		classifier: cl,
		cache:      cache,
		now:        time.Now,
	}
}

// Run executes one full refresh pass. Cancellation between phases is
// honored, but work already computed is always flushed.
func (r *Refresher) Run(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	if err := r.refreshSources(ctx, stats); err != nil {
		return stats, err
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	if err := r.reprocess(ctx, stats); err != nil {
		return stats, err
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	if err := r.categorize(ctx, stats); err != nil {
		zap.L().Warn("refresh: category classification failed", zap.Error(err))
	}

	if stats.Reprocessed > 0 || stats.Categorized > 0 {
		r.cache.InvalidateCache()
	}

	zap.L().Info("refresh: run complete",
		zap.Int("refreshed", stats.Refreshed),
		zap.Int("changed", stats.Changed),
		zap.Int("reprocessed", stats.Reprocessed),
		zap.Int("categorized", stats.Categorized))
	return stats, nil
}

type fetchResult struct {
	topic   *topic.Topic
	sources []topic.RawTopicData
	err     error
}

// refreshSources is phase 1: re-fetch provider evidence for every topic not
// refreshed today and apply source deltas.
func (r *Refresher) refreshSources(ctx context.Context, stats *Stats) error {
	log := zap.L()

	today := r.now().UTC().Truncate(24 * time.Hour)
	toRefresh, err := r.store.TopicsNeedingRefresh(ctx, today)
	if err != nil {
		return eris.Wrap(err, "refresh: load topics needing refresh")
	}
	log.Info("refresh: phase 1, provider refresh", zap.Int("count", len(toRefresh)))

	results := make([]fetchResult, len(toRefresh))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for idx, t := range toRefresh {
		g.Go(func() error {
			sources, err := r.fetchAllProviders(gctx, t)
			results[idx] = fetchResult{topic: t, sources: sources, err: err}
			return nil
		})
	}
	g.Wait() //nolint:errcheck // errors are captured per result

	now := r.now().UTC()
	for _, res := range results {
		if res.err != nil {
			log.Warn("refresh: fetch failed, will retry next run",
				zap.String("name", res.topic.Name), zap.Error(res.err))
			continue
		}
		if len(res.sources) == 0 {
			log.Warn("refresh: no provider returned data, will retry next run",
				zap.String("name", res.topic.Name))
			continue
		}

		newSource := topic.BuildMergedRawSource(res.sources)
		newHash := topic.SourceHash(res.sources, newSource)

		t := res.topic
		if t.SourceHash != newHash {
			t.RawSource = newSource
			t.SourceHash = newHash
			t.NeedsReprocessing = true
			stats.Changed++
		} else if t.RawSource != newSource {
			// A supplementary source changed without moving the canonical
			// hash. Keep the fresher text but skip re-extraction.
			t.RawSource = newSource
		}
		refreshedAt := now
		t.LastSourceRefresh = &refreshedAt
		stats.Refreshed++

		if stats.Refreshed%fetchFlushEvery == 0 && r.store.HasPendingChanges() {
			if err := r.store.Save(ctx); err != nil {
				r.store.Revert()
				return eris.Wrap(err, "refresh: flush source batch")
			}
		}
	}

	// Completed fetch work survives shutdown.
	if r.store.HasPendingChanges() {
		if err := r.store.Save(context.WithoutCancel(ctx)); err != nil {
			r.store.Revert()
			return eris.Wrap(err, "refresh: final source flush")
		}
	}

	log.Info("refresh: phase 1 complete",
		zap.Int("refreshed", stats.Refreshed), zap.Int("changed", stats.Changed))
	return nil
}

// fetchAllProviders queries every provider for one topic, trying the
// original provider-side name first. Provider errors are isolated.
func (r *Refresher) fetchAllProviders(ctx context.Context, t *topic.Topic) ([]topic.RawTopicData, error) {
	results := make([]*topic.RawTopicData, len(r.providers))

	g, gctx := errgroup.WithContext(ctx)
	for idx, p := range r.providers {
		g.Go(func() error {
			results[idx] = r.fetchWithFallback(gctx, p, t)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var sources []topic.RawTopicData
	for _, res := range results {
		if res != nil {
			sources = append(sources, *res)
		}
	}
	return sources, nil
}

func (r *Refresher) fetchWithFallback(ctx context.Context, p provider.Provider, t *topic.Topic) *topic.RawTopicData {
	if t.OriginalName != nil {
		data, err := p.Fetch(ctx, *t.OriginalName)
		if err != nil {
			zap.L().Warn("refresh: provider fetch failed",
				zap.String("provider", p.SourceName()),
				zap.String("name", *t.OriginalName), zap.Error(err))
			return nil
		}
		if data != nil {
			return data
		}
	}

	if t.OriginalName != nil && strings.EqualFold(t.Name, *t.OriginalName) {
		return nil
	}

	data, err := p.Fetch(ctx, t.Name)
	if err != nil {
		zap.L().Warn("refresh: provider fetch failed",
			zap.String("provider", p.SourceName()),
			zap.String("name", t.Name), zap.Error(err))
		return nil
	}
	return data
}

type extractResult struct {
	topic      *topic.Topic
	structured *topic.Topic
	skip       bool
	err        error
}

// reprocess is phase 2: re-extract structured content for topics flagged by
// a source change, applying results sequentially with the rename guard.
func (r *Refresher) reprocess(ctx context.Context, stats *Stats) error {
	log := zap.L()

	since := r.now().UTC().Add(-reprocessWindow)
	toReprocess, err := r.store.TopicsNeedingReprocessing(ctx, since)
	if err != nil {
		return eris.Wrap(err, "refresh: load topics needing reprocessing")
	}
	log.Info("refresh: phase 2, re-extraction", zap.Int("count", len(toReprocess)))

	results := make([]extractResult, len(toReprocess))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(extractConcurrency)
	for idx, t := range toReprocess {
		if len(strings.TrimSpace(t.RawSource)) < topic.MinSourceLength {
			results[idx] = extractResult{topic: t, skip: true}
			continue
		}
		g.Go(func() error {
			structured, err := r.classifier.Extract(gctx, t.RawSource, typeOrOther(t), t.Name)
			results[idx] = extractResult{topic: t, structured: structured, err: err}
			return nil
		})
	}
	g.Wait() //nolint:errcheck // errors are captured per result

	for _, res := range results {
		r.applyExtract(ctx, res, stats)
	}

	// Completed classifier work survives shutdown.
	if r.store.HasPendingChanges() {
		if err := r.store.Save(context.WithoutCancel(ctx)); err != nil {
			r.store.Revert()
			return eris.Wrap(err, "refresh: final reprocess flush")
		}
	}

	log.Info("refresh: phase 2 complete", zap.Int("reprocessed", stats.Reprocessed))
	return nil
}

func (r *Refresher) applyExtract(ctx context.Context, res extractResult, stats *Stats) {
	log := zap.L().With(zap.String("name", res.topic.Name))
	t := res.topic

	if res.skip {
		log.Info("refresh: source too short to reprocess, clearing flag")
		t.NeedsReprocessing = false
		return
	}
	if res.err != nil {
		log.Warn("refresh: re-extraction failed, flag stays for retry", zap.Error(res.err))
		return
	}
	if res.structured == nil {
		log.Warn("refresh: extraction produced nothing usable, clearing flag")
		t.NeedsReprocessing = false
		return
	}

	// The classifier may only correct casing. Any other rename is discarded
	// to prevent runaway renaming across refresh cycles.
	if strings.EqualFold(t.Name, res.structured.Name) {
		t.Name = res.structured.Name
	} else {
		log.Warn("refresh: rename attempt rejected",
			zap.String("returned", res.structured.Name))
	}

	t.Summary = res.structured.Summary
	t.Observations = res.structured.Observations
	t.Factors = res.structured.Factors
	t.Actions = res.structured.Actions
	t.Citations = res.structured.Citations
	t.Tags = res.structured.Tags
	if res.structured.Category != nil {
		t.Category = res.structured.Category
	}
	t.LastUpdated = r.now().UTC()
	t.Version++

	if issue := topic.CheckQuality(t); issue != "" {
		log.Info("refresh: still low quality after reprocessing", zap.String("issue", issue))
	} else {
		t.NeedsReprocessing = false
	}

	stats.Reprocessed++

	if stats.Reprocessed%extractFlushEvery == 0 {
		if err := r.store.Save(ctx); err != nil {
			log.Warn("refresh: flush failed, reverting batch", zap.Error(err))
			r.store.Revert()
		}
	}
}

// categorize is phase 3: batch-classify a category for every topic missing
// one. Failure reverts and defers to the next run.
func (r *Refresher) categorize(ctx context.Context, stats *Stats) error {
	uncategorized, err := r.store.UncategorizedTopics(ctx)
	if err != nil {
		return eris.Wrap(err, "refresh: load uncategorized topics")
	}
	if len(uncategorized) == 0 {
		return nil
	}

	zap.L().Info("refresh: phase 3, categorization", zap.Int("count", len(uncategorized)))

	inputs := make([]classifier.CategoryInput, 0, len(uncategorized))
	for _, t := range uncategorized {
		inputs = append(inputs, classifier.CategoryInput{
			Name:      t.Name,
			TopicType: typeOrOther(t),
			Snippet:   t.Summary,
		})
	}

	categoryMap, err := r.classifier.ClassifyCategories(ctx, inputs)
	if err != nil {
		r.store.Revert()
		return eris.Wrap(err, "refresh: classify categories")
	}

	for _, t := range uncategorized {
		if cat, ok := categoryMap[t.Name]; ok {
			t.Category = &cat
			stats.Categorized++
		}
	}

	if err := r.store.Save(ctx); err != nil {
		r.store.Revert()
		stats.Categorized = 0
		return eris.Wrap(err, "refresh: save categories")
	}
	return nil
}

func typeOrOther(t *topic.Topic) string {
	if t.TopicType != nil && *t.TopicType != "" {
		return *t.TopicType
	}
	return topic.TypeOther
}
