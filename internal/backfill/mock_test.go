package backfill

import (
	"context"

	"github.com/vitalhub/topicsync/internal/classifier"
	"github.com/vitalhub/topicsync/internal/topic"
)

// fakeClassifier is a function-field fake. Unset fields behave as benign
// no-ops.
type fakeClassifier struct {
	classifyNames      func(ctx context.Context, inputs []classifier.NameInput) (map[string]string, error)
	classifyCategories func(ctx context.Context, inputs []classifier.CategoryInput) (map[string]string, error)
	matchLegacyNames   func(ctx context.Context, normalized, candidates []string) (map[string]string, error)

	matchCalls int
}

func (f *fakeClassifier) ClassifyNames(ctx context.Context, inputs []classifier.NameInput) (map[string]string, error) {
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
	return nil, nil
}

func (f *fakeClassifier) CompareNames(ctx context.Context, candidate string, existing *topic.Topic) (classifier.NameComparison, error) {
	return classifier.NameComparison{Outcome: classifier.CompareMerge, Preferred: existing.Name}, nil
}

func (f *fakeClassifier) MatchLegacyNames(ctx context.Context, normalized, candidates []string) (map[string]string, error) {
	f.matchCalls++
	if f.matchLegacyNames == nil {
		return map[string]string{}, nil
	}
	return f.matchLegacyNames(ctx, normalized, candidates)
}

func (f *fakeClassifier) ShouldProcess(topicType string) bool {
	return topic.ShouldProcess(topicType)
}
