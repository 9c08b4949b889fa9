package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeHash_DeterministicAndShort(t *testing.T) {
	a := ComputeHash("some source text")
	b := ComputeHash("some source text")
	c := ComputeHash("different text")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}

func TestSourceHash_PrefersProviderHash(t *testing.T) {
	sources := []RawTopicData{
		{SourceName: "PubMed", RawText: "abstract"},
		{SourceName: "MedlinePlus", RawText: "summary", ContentHash: "mp-hash-1"},
	}
	assert.Equal(t, "mp-hash-1", SourceHash(sources, "merged text"))
}

func TestSourceHash_FallsBackToMergedHash(t *testing.T) {
	sources := []RawTopicData{
		{SourceName: "PubMed", RawText: "abstract"},
	}
	assert.Equal(t, ComputeHash("merged text"), SourceHash(sources, "merged text"))
}
