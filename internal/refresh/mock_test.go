package refresh

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vitalhub/topicsync/internal/classifier"
	"github.com/vitalhub/topicsync/internal/topic"
)

// fakeClassifier is a function-field fake. Unset fields behave as benign
// no-ops.
type fakeClassifier struct {
	classifyCategories func(ctx context.Context, inputs []classifier.CategoryInput) (map[string]string, error)
	extract            func(ctx context.Context, rawText, topicType, discoveredName string) (*topic.Topic, error)

	extractCalls atomic.Int32
}

func (f *fakeClassifier) ClassifyNames(ctx context.Context, inputs []classifier.NameInput) (map[string]string, error) {
	return map[string]string{}, nil
}

func (f *fakeClassifier) ClassifyCategories(ctx context.Context, inputs []classifier.CategoryInput) (map[string]string, error) {
	if f.classifyCategories == nil {
		return map[string]string{}, nil
	}
	return f.classifyCategories(ctx, inputs)
}

func (f *fakeClassifier) Extract(ctx context.Context, rawText, topicType, discoveredName string) (*topic.Topic, error) {
	f.extractCalls.Add(1)
	if f.extract == nil {
		return nil, nil
	}
	return f.extract(ctx, rawText, topicType, discoveredName)
}

func (f *fakeClassifier) CompareNames(ctx context.Context, candidate string, existing *topic.Topic) (classifier.NameComparison, error) {
	return classifier.NameComparison{Outcome: classifier.CompareMerge, Preferred: existing.Name}, nil
}

func (f *fakeClassifier) MatchLegacyNames(ctx context.Context, normalized, candidates []string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (f *fakeClassifier) ShouldProcess(topicType string) bool {
	return topic.ShouldProcess(topicType)
}

// fakeProvider serves point lookups from a fixed set of entries, matching
// names case-insensitively like the real sources do.
type fakeProvider struct {
	name    string
	entries []topic.RawTopicData

	mu         sync.Mutex
	fetchCalls []string
}

func (f *fakeProvider) SourceName() string { return f.name }

func (f *fakeProvider) Discover(ctx context.Context, exclude map[string]struct{}) ([]topic.RawTopicData, error) {
	return nil, nil
}

func (f *fakeProvider) Fetch(ctx context.Context, name string) (*topic.RawTopicData, error) {
	f.mu.Lock()
	f.fetchCalls = append(f.fetchCalls, name)
	f.mu.Unlock()
	for _, e := range f.entries {
		if strings.EqualFold(e.TopicName, name) {
			return &e, nil
		}
	}
	return nil, nil
}

func (f *fakeProvider) KnownNames(ctx context.Context) (map[string]struct{}, error) {
	names := make(map[string]struct{}, len(f.entries))
	for _, e := range f.entries {
		names[strings.ToLower(e.TopicName)] = struct{}{}
	}
	return names, nil
}

type fakeCache struct {
	invalidations int
}

func (f *fakeCache) InvalidateCache() { f.invalidations++ }
