// Package ingest discovers new subjects across providers, triages them
// through the classifier, resolves synonym collisions against the existing
// knowledge base, and persists accepted topics. A run ends with the repair
// passes and stale removal, then invalidates the read cache when anything
// changed.
package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vitalhub/topicsync/internal/backfill"
	"github.com/vitalhub/topicsync/internal/classifier"
	"github.com/vitalhub/topicsync/internal/provider"
	"github.com/vitalhub/topicsync/internal/store"
	"github.com/vitalhub/topicsync/internal/topic"
)

// flushEvery bounds how many unsaved additions accumulate before a
// durability flush.
const flushEvery = 10

// CacheInvalidator is the read-side cache hook. Satisfied by
// catalog.Catalog.
type CacheInvalidator interface {
	InvalidateCache()
}

// Stats summarizes one ingestion run.
type Stats struct {
	Discovered          int
	Added               int
	Merged              int
	Removed             int
	BackfilledTypes     int
	BackfilledOriginals int
	Categorized         int
}

func (s Stats) changedAnything() bool {
	return s.Added > 0 || s.Merged > 0 || s.Removed > 0 ||
		s.BackfilledTypes > 0 || s.BackfilledOriginals > 0 || s.Categorized > 0
}

// Ingestor runs discovery passes. Construct with New.
type Ingestor struct {
	providers  []provider.Provider
	store      store.Store
	classifier classifier.Classifier
	backfill   *backfill.Backfiller
	cache      CacheInvalidator

	now func() time.Time
}

// New creates an Ingestor.
func New(providers []provider.Provider, st store.Store, cl classifier.Classifier, bf *backfill.Backfiller, cache CacheInvalidator) *Ingestor {
	return &Ingestor{
		providers:  providers,
		store:      st,
		classifier: cl,
		backfill:   bf,
		cache:      cache,
		now:        time.Now,
	}
}

// nameGroup collects every provider's evidence for one discovered name.
type nameGroup struct {
	name    string // first-seen casing
	sources []topic.RawTopicData
}

// Run executes one full ingestion pass.
func (i *Ingestor) Run(ctx context.Context) (*Stats, error) {
	log := zap.L()
	stats := &Stats{}

	seenNames, err := i.store.SeenTopicNames(ctx)
	if err != nil {
		return stats, eris.Wrap(err, "ingest: load seen names")
	}
	existingNames, err := i.store.TopicNames(ctx)
	if err != nil {
		return stats, eris.Wrap(err, "ingest: load topic names")
	}

	existingSet := lowerSet(existingNames)
	exclude := lowerSet(seenNames)
	for name := range existingSet {
		exclude[name] = struct{}{}
	}

	log.Info("ingest: starting discovery",
		zap.Int("providers", len(i.providers)),
		zap.Int("seen", len(seenNames)),
		zap.Int("existing", len(existingNames)))

	discoveries := i.discoverAll(ctx, exclude)
	stats.Discovered = len(discoveries)
	log.Info("ingest: discovery complete", zap.Int("raw_discoveries", len(discoveries)))

	groups := groupByName(discoveries, existingSet)

	typed, err := i.classifyNewNames(ctx, groups)
	if err != nil {
		return stats, err
	}

	if err := i.recordDecisions(ctx, typed); err != nil {
		return stats, err
	}

	typeMap := make(map[string]string, len(typed))
	for name, typ := range typed {
		typeMap[strings.ToLower(name)] = typ
	}

	log.Info("ingest: processing new topics", zap.Int("count", len(groups)))

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if _, ok := existingSet[strings.ToLower(g.name)]; ok {
			log.Info("ingest: skipping, already added this run", zap.String("name", g.name))
			continue
		}
		if err := i.processGroup(ctx, g, typeMap, existingSet, stats); err != nil {
			if ctx.Err() != nil {
				return stats, err
			}
			log.Warn("ingest: failed to process topic", zap.String("name", g.name), zap.Error(err))
		}
	}

	if i.store.HasPendingChanges() {
		if err := i.store.Save(ctx); err != nil {
			i.store.Revert()
			return stats, eris.Wrap(err, "ingest: final flush")
		}
	}

	knownNames := i.fetchKnownNames(ctx)

	// Original names first: stale removal's pre-filter relies on them.
	if n, err := i.backfill.OriginalNames(ctx, knownNames); err != nil {
		log.Warn("ingest: original-name backfill failed", zap.Error(err))
	} else {
		stats.BackfilledOriginals = n
	}

	removed, err := i.removeStale(ctx, knownNames)
	if err != nil {
		log.Warn("ingest: stale removal failed", zap.Error(err))
	}
	stats.Removed = removed

	if n, err := i.backfill.Types(ctx); err != nil {
		log.Warn("ingest: type backfill failed", zap.Error(err))
	} else {
		stats.BackfilledTypes = n
	}

	if n, err := i.backfill.Categories(ctx); err != nil {
		log.Warn("ingest: category backfill failed", zap.Error(err))
	} else {
		stats.Categorized = n
	}

	if stats.changedAnything() {
		i.cache.InvalidateCache()
	}

	log.Info("ingest: run complete",
		zap.Int("added", stats.Added),
		zap.Int("merged", stats.Merged),
		zap.Int("removed", stats.Removed),
		zap.Int("backfilled_types", stats.BackfilledTypes),
		zap.Int("backfilled_originals", stats.BackfilledOriginals),
		zap.Int("categorized", stats.Categorized))
	return stats, nil
}

// discoverAll fans out discovery to every provider. A provider failure is
// isolated: it contributes nothing and the run continues.
func (i *Ingestor) discoverAll(ctx context.Context, exclude map[string]struct{}) []topic.RawTopicData {
	results := make([][]topic.RawTopicData, len(i.providers))

	g, gctx := errgroup.WithContext(ctx)
	for idx, p := range i.providers {
		g.Go(func() error {
			found, err := p.Discover(gctx, exclude)
			if err != nil {
				zap.L().Warn("ingest: discovery failed",
					zap.String("provider", p.SourceName()), zap.Error(err))
				return nil
			}
			zap.L().Info("ingest: provider discovered topics",
				zap.String("provider", p.SourceName()), zap.Int("count", len(found)))
			results[idx] = found
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors

	var all []topic.RawTopicData
	for _, r := range results {
		all = append(all, r...)
	}
	return all
}

// groupByName buckets discoveries case-insensitively, preserving first-seen
// casing and order, and drops names already accepted in the store.
func groupByName(discoveries []topic.RawTopicData, existingSet map[string]struct{}) []nameGroup {
	index := make(map[string]int)
	var groups []nameGroup

	for _, d := range discoveries {
		key := strings.ToLower(d.TopicName)
		if _, exists := existingSet[key]; exists {
			continue
		}
		pos, ok := index[key]
		if !ok {
			pos = len(groups)
			index[key] = pos
			groups = append(groups, nameGroup{name: d.TopicName})
		}
		groups[pos].sources = append(groups[pos].sources, d)
	}
	return groups
}

// classifyNewNames batch-classifies a topic type for every new name. The
// returned map is keyed by the discovered name as passed in; names dropped
// by a failed batch are absent and get re-discovered next run.
func (i *Ingestor) classifyNewNames(ctx context.Context, groups []nameGroup) (map[string]string, error) {
	if len(groups) == 0 {
		return map[string]string{}, nil
	}

	inputs := make([]classifier.NameInput, 0, len(groups))
	for _, g := range groups {
		inputs = append(inputs, classifier.NameInput{Name: g.name, Snippet: g.sources[0].RawText})
	}

	zap.L().Info("ingest: classifying topic types", zap.Int("count", len(inputs)))

	typed, err := i.classifier.ClassifyNames(ctx, inputs)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: classify names")
	}
	return typed, nil
}

// recordDecisions writes every classification outcome to the seen-topic
// ledger so the name is never re-triaged, accepted or not.
func (i *Ingestor) recordDecisions(ctx context.Context, typeMap map[string]string) error {
	if len(typeMap) == 0 {
		return nil
	}

	now := i.now().UTC()
	seen := make([]topic.SeenTopic, 0, len(typeMap))
	for name, typ := range typeMap {
		seen = append(seen, topic.SeenTopic{
			Name:      name,
			Status:    topic.SeenStatusFor(typ),
			TopicType: typ,
			FirstSeen: now,
		})
	}

	if err := i.store.AddSeenTopics(ctx, seen); err != nil {
		return eris.Wrap(err, "ingest: record classification decisions")
	}
	zap.L().Info("ingest: recorded classification decisions", zap.Int("count", len(seen)))
	return nil
}

// processGroup takes one discovered name through extraction, collision
// resolution, and persistence.
func (i *Ingestor) processGroup(ctx context.Context, g nameGroup, typeMap map[string]string, existingSet map[string]struct{}, stats *Stats) error {
	log := zap.L().With(zap.String("name", g.name))

	topicType, ok := typeMap[strings.ToLower(g.name)]
	if !ok {
		topicType = topic.TypeOther
	}

	switch {
	case strings.EqualFold(topicType, topic.TypeNonMedical):
		log.Info("ingest: skipping non-medical topic")
		return nil
	case strings.EqualFold(topicType, topic.TypeOther):
		log.Info("ingest: skipping unclassifiable topic")
		return nil
	case !i.classifier.ShouldProcess(topicType):
		log.Info("ingest: skipping filtered type", zap.String("type", topicType))
		return nil
	}

	merged := topic.BuildMergedRawSource(g.sources)
	if len(merged) < topic.MinSourceLength {
		log.Info("ingest: skipping, source too short", zap.Int("length", len(merged)))
		return nil
	}

	structured, err := i.classifier.Extract(ctx, merged, topicType, g.name)
	if err != nil {
		return eris.Wrapf(err, "ingest: extract %q", g.name)
	}
	if structured == nil {
		log.Warn("ingest: extraction produced nothing usable", zap.String("type", topicType))
		return nil
	}

	if _, collision := existingSet[strings.ToLower(structured.Name)]; collision {
		return i.resolveCollision(ctx, g, merged, structured.Name, existingSet, stats)
	}

	if issue := topic.CheckQuality(structured); issue != "" {
		log.Info("ingest: low quality, flagging for reprocessing", zap.String("issue", issue))
		structured.NeedsReprocessing = true
	}

	now := i.now().UTC()
	original := g.name
	structured.RawSource = merged
	structured.SourceHash = topic.SourceHash(g.sources, merged)
	structured.LastSourceRefresh = &now
	structured.TopicType = &topicType
	structured.OriginalName = &original
	structured.LastUpdated = now
	structured.Version = 1

	i.store.Add(structured)
	existingSet[strings.ToLower(structured.Name)] = struct{}{}
	stats.Added++

	if stats.Added%flushEvery == 0 {
		if err := i.store.Save(ctx); err != nil {
			i.store.Revert()
			return eris.Wrap(err, "ingest: flush batch")
		}
	}

	log.Info("ingest: added topic",
		zap.String("canonical", structured.Name),
		zap.String("type", topicType),
		zap.Int("sources", len(g.sources)))
	return nil
}

// resolveCollision handles a discovered name whose canonical form already
// exists. The discovered topic is never inserted separately: depending on
// the comparison it renames the existing record, merges new evidence into
// it, or is dropped as a distinct subject.
func (i *Ingestor) resolveCollision(ctx context.Context, g nameGroup, merged, canonical string, existingSet map[string]struct{}, stats *Stats) error {
	log := zap.L().With(zap.String("name", g.name), zap.String("canonical", canonical))

	existing, err := i.store.TopicByName(ctx, canonical)
	if err != nil {
		return eris.Wrapf(err, "ingest: load collision target %q", canonical)
	}
	if existing == nil {
		log.Warn("ingest: collision target missing from store, skipping")
		return nil
	}

	cmp, err := i.classifier.CompareNames(ctx, g.name, existing)
	if err != nil {
		return eris.Wrapf(err, "ingest: compare %q with %q", g.name, existing.Name)
	}

	now := i.now().UTC()

	switch cmp.Outcome {
	case classifier.CompareReplace:
		log.Info("ingest: renaming existing topic to broader name",
			zap.String("from", existing.Name), zap.String("to", cmp.Preferred))

		existing.Name = cmp.Preferred
		if existing.OriginalName == nil {
			original := g.name
			existing.OriginalName = &original
		}
		combined := topic.AppendRawSource(merged, existing.RawSource)
		existing.RawSource = combined
		existing.SourceHash = topic.SourceHash(g.sources, combined)
		existing.NeedsReprocessing = true
		existing.LastSourceRefresh = &now
		existingSet[strings.ToLower(cmp.Preferred)] = struct{}{}
		stats.Merged++

		if err := i.store.Save(ctx); err != nil {
			i.store.Revert()
			return eris.Wrap(err, "ingest: save renamed topic")
		}

	case classifier.CompareDistinct:
		log.Info("ingest: distinct subject, not merging")

	case classifier.CompareMerge:
		if existing.OriginalName == nil {
			original := g.name
			existing.OriginalName = &original
		}
		if existing.RawSource != "" && strings.Contains(existing.RawSource, merged) {
			log.Info("ingest: synonym resolved, no new source data")
			return nil
		}

		log.Info("ingest: merging synonym evidence into existing topic")
		combined := topic.AppendRawSource(existing.RawSource, merged)
		existing.RawSource = combined
		existing.SourceHash = topic.SourceHash(g.sources, combined)
		existing.NeedsReprocessing = true
		existing.LastSourceRefresh = &now
		stats.Merged++

		if err := i.store.Save(ctx); err != nil {
			i.store.Revert()
			return eris.Wrap(err, "ingest: save merged topic")
		}
	}

	return nil
}

// fetchKnownNames unions every provider's current index. A provider failure
// contributes an empty set; the caller guards against a fully empty union.
func (i *Ingestor) fetchKnownNames(ctx context.Context) map[string]struct{} {
	results := make([]map[string]struct{}, len(i.providers))

	g, gctx := errgroup.WithContext(ctx)
	for idx, p := range i.providers {
		g.Go(func() error {
			names, err := p.KnownNames(gctx)
			if err != nil {
				zap.L().Warn("ingest: known-name fetch failed",
					zap.String("provider", p.SourceName()), zap.Error(err))
				return nil
			}
			results[idx] = names
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors

	union := make(map[string]struct{})
	for _, names := range results {
		for name := range names {
			union[name] = struct{}{}
		}
	}
	return union
}

func lowerSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[strings.ToLower(n)] = struct{}{}
	}
	return set
}
