// Package backfill repairs legacy records that predate a schema field:
// missing topic types, missing original provider names, and missing
// categories. Each pass is idempotent and retry-safe, reverting tracked
// changes on failure so the next scheduled run picks the work up again.
package backfill

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vitalhub/topicsync/internal/classifier"
	"github.com/vitalhub/topicsync/internal/store"
	"github.com/vitalhub/topicsync/internal/topic"
)

// Backfiller runs the repair passes. Callers treat a pass failure as
// non-fatal: the pass reverts its in-memory changes and returns the error
// for logging.
type Backfiller struct {
	store      store.Store
	classifier classifier.Classifier
}

// New creates a Backfiller.
func New(st store.Store, cl classifier.Classifier) *Backfiller {
	return &Backfiller{store: st, classifier: cl}
}

// Types classifies topics whose type is missing or unresolved. Topics newly
// judged non-medical are removed outright. Returns the number of topics
// examined.
func (b *Backfiller) Types(ctx context.Context) (int, error) {
	unclassified, err := b.store.UnclassifiedTopics(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "backfill: load unclassified topics")
	}
	if len(unclassified) == 0 {
		return 0, nil
	}

	zap.L().Info("backfill: classifying topic types", zap.Int("count", len(unclassified)))

	inputs := make([]classifier.NameInput, 0, len(unclassified))
	for _, t := range unclassified {
		inputs = append(inputs, classifier.NameInput{Name: t.Name, Snippet: t.Summary})
	}

	typeMap, err := b.classifier.ClassifyNames(ctx, inputs)
	if err != nil {
		b.store.Revert()
		return 0, eris.Wrap(err, "backfill: classify types")
	}

	var nonMedical []*topic.Topic
	for _, t := range unclassified {
		newType, ok := typeMap[t.Name]
		if !ok {
			newType = topic.TypeOther
		}
		if strings.EqualFold(newType, topic.TypeNonMedical) {
			nonMedical = append(nonMedical, t)
			continue
		}
		t.TopicType = &newType
	}

	if len(nonMedical) > 0 {
		names := make([]string, 0, len(nonMedical))
		for _, t := range nonMedical {
			names = append(names, t.Name)
		}
		zap.L().Info("backfill: removing non-medical topics", zap.Strings("names", names))
		b.store.RemoveRange(nonMedical)
	}

	if err := b.store.Save(ctx); err != nil {
		b.store.Revert()
		return 0, eris.Wrap(err, "backfill: save types")
	}

	zap.L().Info("backfill: topic types done",
		zap.Int("reclassified", len(unclassified)-len(nonMedical)),
		zap.Int("removed", len(nonMedical)))
	return len(unclassified), nil
}

// OriginalNames derives the provider-side name for topics missing one.
// Names that are themselves on a provider index match trivially; the rest
// are matched by the classifier against provider names not yet claimed by
// any topic. knownNames holds lowercased provider names.
func (b *Backfiller) OriginalNames(ctx context.Context, knownNames map[string]struct{}) (int, error) {
	topics, err := b.store.TopicsWithoutOriginalName(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "backfill: load topics without original name")
	}
	if len(topics) == 0 {
		return 0, nil
	}

	zap.L().Info("backfill: deriving original names", zap.Int("count", len(topics)))

	trivial := 0
	var remaining []*topic.Topic
	for _, t := range topics {
		if _, ok := knownNames[strings.ToLower(t.Name)]; ok {
			name := t.Name
			t.OriginalName = &name
			trivial++
		} else {
			remaining = append(remaining, t)
		}
	}

	matched := 0
	if len(remaining) > 0 {
		unclaimed, err := b.unclaimedProviderNames(ctx, knownNames)
		if err != nil {
			b.store.Revert()
			return 0, err
		}

		if len(unclaimed) > 0 {
			normalized := make([]string, 0, len(remaining))
			for _, t := range remaining {
				normalized = append(normalized, t.Name)
			}

			matches, err := b.classifier.MatchLegacyNames(ctx, normalized, unclaimed)
			if err != nil {
				b.store.Revert()
				return 0, eris.Wrap(err, "backfill: match original names")
			}

			for _, t := range remaining {
				if orig, ok := matches[t.Name]; ok {
					t.OriginalName = &orig
					matched++
				}
			}
		}
	}

	if trivial > 0 || matched > 0 {
		if err := b.store.Save(ctx); err != nil {
			b.store.Revert()
			return 0, eris.Wrap(err, "backfill: save original names")
		}
	}

	zap.L().Info("backfill: original names done",
		zap.Int("trivial", trivial), zap.Int("matched", matched))
	return trivial + matched, nil
}

// Categories assigns a category to topics missing one. Returns the number
// assigned.
func (b *Backfiller) Categories(ctx context.Context) (int, error) {
	uncategorized, err := b.store.UncategorizedTopics(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "backfill: load uncategorized topics")
	}
	if len(uncategorized) == 0 {
		return 0, nil
	}

	zap.L().Info("backfill: classifying categories", zap.Int("count", len(uncategorized)))

	inputs := make([]classifier.CategoryInput, 0, len(uncategorized))
	for _, t := range uncategorized {
		inputs = append(inputs, classifier.CategoryInput{
			Name:      t.Name,
			TopicType: typeOrOther(t),
			Snippet:   t.Summary,
		})
	}

	categoryMap, err := b.classifier.ClassifyCategories(ctx, inputs)
	if err != nil {
		b.store.Revert()
		return 0, eris.Wrap(err, "backfill: classify categories")
	}

	assigned := 0
	for _, t := range uncategorized {
		if cat, ok := categoryMap[t.Name]; ok {
			t.Category = &cat
			assigned++
		}
	}

	if err := b.store.Save(ctx); err != nil {
		b.store.Revert()
		return 0, eris.Wrap(err, "backfill: save categories")
	}

	zap.L().Info("backfill: categories done", zap.Int("assigned", assigned))
	return assigned, nil
}

// unclaimedProviderNames returns provider names not yet used as any topic's
// name or original name.
func (b *Backfiller) unclaimedProviderNames(ctx context.Context, knownNames map[string]struct{}) ([]string, error) {
	mappings, err := b.store.TopicMappings(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "backfill: load name mappings")
	}

	used := make(map[string]struct{}, len(mappings)*2)
	for _, m := range mappings {
		used[strings.ToLower(m.Name)] = struct{}{}
		if m.OriginalName != nil {
			used[strings.ToLower(*m.OriginalName)] = struct{}{}
		}
	}

	var unclaimed []string
	for name := range knownNames {
		if _, ok := used[name]; !ok {
			unclaimed = append(unclaimed, name)
		}
	}
	return unclaimed, nil
}

func typeOrOther(t *topic.Topic) string {
	if t.TopicType != nil && *t.TopicType != "" {
		return *t.TopicType
	}
	return topic.TypeOther
}
