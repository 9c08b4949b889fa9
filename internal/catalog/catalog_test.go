package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalhub/topicsync/internal/store"
	"github.com/vitalhub/topicsync/internal/topic"
)

// fakeReader counts store hits so tests can tell cached reads from fetches.
type fakeReader struct {
	topics []*topic.Topic
	calls  int
}

func (f *fakeReader) ListTopics(ctx context.Context, params store.ListParams) ([]*topic.Topic, error) {
	f.calls++
	return f.topics, nil
}

func (f *fakeReader) CountTopics(ctx context.Context, typeFilter string) (int, error) {
	f.calls++
	return len(f.topics), nil
}

func (f *fakeReader) GetTopicByName(ctx context.Context, name string) (*topic.Topic, error) {
	f.calls++
	for _, t := range f.topics {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, nil
}

func (f *fakeReader) SearchTopics(ctx context.Context, query string, params store.ListParams) ([]*topic.Topic, error) {
	f.calls++
	return f.topics, nil
}

func (f *fakeReader) SearchTopicCount(ctx context.Context, query string) (int, error) {
	f.calls++
	return len(f.topics), nil
}

func (f *fakeReader) DistinctTypes(ctx context.Context) ([]topic.TypeCount, error) {
	f.calls++
	return []topic.TypeCount{{Type: topic.TypeDisease, Count: len(f.topics)}}, nil
}

func newTestCatalog(reader Reader) (*Catalog, *time.Time) {
	c := New(reader)
	now := time.Now()
	c.now = func() time.Time { return now }
	return c, &now
}

func TestCatalog_ListCachesByParameterTuple(t *testing.T) {
	reader := &fakeReader{topics: []*topic.Topic{{Name: "Asthma"}}}
	c, _ := newTestCatalog(reader)
	ctx := context.Background()

	_, err := c.List(ctx, store.ListParams{Limit: 10})
	require.NoError(t, err)
	_, err = c.List(ctx, store.ListParams{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, reader.calls)

	// A different page is a different key.
	_, err = c.List(ctx, store.ListParams{Limit: 10, Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, reader.calls)
}

func TestCatalog_PositiveTTLExpiry(t *testing.T) {
	reader := &fakeReader{}
	c, now := newTestCatalog(reader)
	ctx := context.Background()

	_, err := c.Count(ctx, "")
	require.NoError(t, err)
	_, err = c.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, reader.calls)

	*now = now.Add(positiveTTL + time.Second)
	_, err = c.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, reader.calls)
}

func TestCatalog_NegativeCacheHasShorterTTL(t *testing.T) {
	reader := &fakeReader{}
	c, now := newTestCatalog(reader)
	ctx := context.Background()

	got, err := c.GetByName(ctx, "Nope")
	require.NoError(t, err)
	assert.Nil(t, got)

	// The miss itself is cached.
	_, err = c.GetByName(ctx, "Nope")
	require.NoError(t, err)
	assert.Equal(t, 1, reader.calls)

	// But only for the negative TTL, not the positive one.
	*now = now.Add(negativeTTL + time.Second)
	_, err = c.GetByName(ctx, "Nope")
	require.NoError(t, err)
	assert.Equal(t, 2, reader.calls)
}

func TestCatalog_PositiveGetUsesPositiveTTL(t *testing.T) {
	reader := &fakeReader{topics: []*topic.Topic{{Name: "Asthma"}}}
	c, now := newTestCatalog(reader)
	ctx := context.Background()

	_, err := c.GetByName(ctx, "Asthma")
	require.NoError(t, err)

	*now = now.Add(negativeTTL + time.Second)
	got, err := c.GetByName(ctx, "Asthma")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, reader.calls)
}

func TestCatalog_InvalidateExpiresEverythingBeforeTTL(t *testing.T) {
	reader := &fakeReader{topics: []*topic.Topic{{Name: "Asthma"}}}
	c, _ := newTestCatalog(reader)
	ctx := context.Background()

	_, err := c.Search(ctx, "asthma", store.ListParams{Limit: 10})
	require.NoError(t, err)
	_, err = c.Types(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, reader.calls)

	c.InvalidateCache()

	// Both keys miss and recompute even though no TTL elapsed.
	_, err = c.Search(ctx, "asthma", store.ListParams{Limit: 10})
	require.NoError(t, err)
	_, err = c.Types(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, reader.calls)
}

func TestCatalog_SearchCount(t *testing.T) {
	reader := &fakeReader{topics: []*topic.Topic{{Name: "Asthma"}}}
	c, _ := newTestCatalog(reader)

	n, err := c.SearchCount(context.Background(), "asthma")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
