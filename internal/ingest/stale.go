package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vitalhub/topicsync/internal/topic"
)

// staleGracePeriod is how long a topic may be absent from every provider
// index before removal. Absorbs index flakiness: a topic briefly missing is
// not evidence it no longer exists.
const staleGracePeriod = 7 * 24 * time.Hour

// removeStale hard-deletes topics whose name and original name are both
// absent from the provider-wide known-name union and whose last refresh is
// older than the grace period. This is the only path that deletes topics.
func (i *Ingestor) removeStale(ctx context.Context, knownNames map[string]struct{}) (int, error) {
	log := zap.L()

	// A fully empty union means every provider failed. Treating that as
	// "everything disappeared" would mass-delete the knowledge base.
	if len(knownNames) == 0 {
		log.Warn("ingest: no known names from any provider, skipping stale removal")
		return 0, nil
	}

	mappings, err := i.store.TopicMappings(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "ingest: load name mappings")
	}

	var candidates []string
	for _, m := range mappings {
		if knownByProvider(m.Name, m.OriginalName, knownNames) {
			continue
		}
		candidates = append(candidates, m.Name)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	cutoff := i.now().UTC().Add(-staleGracePeriod)

	topics, err := i.store.TopicsByNames(ctx, candidates)
	if err != nil {
		return 0, eris.Wrap(err, "ingest: load stale candidates")
	}

	var stale []*topic.Topic
	inGrace := 0
	for _, t := range topics {
		if knownByProvider(t.Name, t.OriginalName, knownNames) {
			continue
		}
		if t.LastSourceRefresh != nil && t.LastSourceRefresh.After(cutoff) {
			inGrace++
			continue
		}
		stale = append(stale, t)
	}

	if inGrace > 0 {
		log.Info("ingest: topics missing from indexes but within grace period, keeping",
			zap.Int("count", inGrace))
	}
	if len(stale) == 0 {
		return 0, nil
	}

	names := make([]string, 0, len(stale))
	for _, t := range stale {
		names = append(names, t.Name)
	}
	log.Info("ingest: removing stale topics", zap.Strings("names", names))

	i.store.RemoveRange(stale)
	if err := i.store.Save(ctx); err != nil {
		i.store.Revert()
		return 0, eris.Wrap(err, "ingest: save stale removal")
	}
	return len(stale), nil
}

func knownByProvider(name string, originalName *string, knownNames map[string]struct{}) bool {
	if _, ok := knownNames[strings.ToLower(name)]; ok {
		return true
	}
	if originalName != nil {
		if _, ok := knownNames[strings.ToLower(*originalName)]; ok {
			return true
		}
	}
	return false
}
