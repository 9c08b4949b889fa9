package ingest

import (
	"context"
	"strings"

	"github.com/vitalhub/topicsync/internal/classifier"
	"github.com/vitalhub/topicsync/internal/topic"
)

// fakeClassifier is a function-field fake. Unset fields behave as benign
// no-ops.
type fakeClassifier struct {
	classifyNames      func(ctx context.Context, inputs []classifier.NameInput) (map[string]string, error)
	classifyCategories func(ctx context.Context, inputs []classifier.CategoryInput) (map[string]string, error)
	extract            func(ctx context.Context, rawText, topicType, discoveredName string) (*topic.Topic, error)
	compareNames       func(ctx context.Context, candidate string, existing *topic.Topic) (classifier.NameComparison, error)

	classifyCalls int
	extractCalls  int
	compareCalls  int
}

func (f *fakeClassifier) ClassifyNames(ctx context.Context, inputs []classifier.NameInput) (map[string]string, error) {
	f.classifyCalls++
	if f.classifyNames == nil {
		return map[string]string{}, nil
	}
	return f.classifyNames(ctx, inputs)
}

func (f *fakeClassifier) ClassifyCategories(ctx context.Context, inputs []classifier.CategoryInput) (map[string]string, error) {
	if f.classifyCategories == nil {
		return map[string]string{}, nil
	}
	return f.classifyCategories(ctx, inputs)
}

func (f *fakeClassifier) Extract(ctx context.Context, rawText, topicType, discoveredName string) (*topic.Topic, error) {
	f.extractCalls++
	if f.extract == nil {
		return nil, nil
	}
	return f.extract(ctx, rawText, topicType, discoveredName)
}

func (f *fakeClassifier) CompareNames(ctx context.Context, candidate string, existing *topic.Topic) (classifier.NameComparison, error) {
	f.compareCalls++
	if f.compareNames == nil {
		return classifier.NameComparison{Outcome: classifier.CompareMerge, Preferred: existing.Name}, nil
	}
	return f.compareNames(ctx, candidate, existing)
}

func (f *fakeClassifier) MatchLegacyNames(ctx context.Context, normalized, candidates []string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (f *fakeClassifier) ShouldProcess(topicType string) bool {
	return topic.ShouldProcess(topicType)
}

// fakeProvider serves a fixed index the way a real discovery source would:
// Discover honors the exclusion set and KnownNames lowercases its index.
type fakeProvider struct {
	name        string
	entries     []topic.RawTopicData
	discoverErr error
	knownErr    error
}

func (f *fakeProvider) SourceName() string { return f.name }

func (f *fakeProvider) Discover(ctx context.Context, exclude map[string]struct{}) ([]topic.RawTopicData, error) {
	if f.discoverErr != nil {
		return nil, f.discoverErr
	}
	var out []topic.RawTopicData
	for _, e := range f.entries {
		if _, seen := exclude[strings.ToLower(e.TopicName)]; seen {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeProvider) Fetch(ctx context.Context, name string) (*topic.RawTopicData, error) {
	for _, e := range f.entries {
		if strings.EqualFold(e.TopicName, name) {
			return &e, nil
		}
	}
	return nil, nil
}

func (f *fakeProvider) KnownNames(ctx context.Context) (map[string]struct{}, error) {
	if f.knownErr != nil {
		return nil, f.knownErr
	}
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
