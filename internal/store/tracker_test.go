package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalhub/topicsync/internal/topic"
)

func TestTracker_RemoveUnsavedAddDropsIt(t *testing.T) {
	tr := newTracker()

	tp := testTopic("Asthma")
	tr.add(tp)
	tr.remove([]*topic.Topic{tp})

	adds, updates, deletes := tr.pending()
	assert.Empty(t, adds)
	assert.Empty(t, updates)
	assert.Empty(t, deletes)
	assert.False(t, tr.hasPending())
}

func TestTracker_AddAssignsIdentity(t *testing.T) {
	tr := newTracker()

	tp := &topic.Topic{Name: "Asthma"}
	tr.add(tp)
	assert.NotEqual(t, [16]byte{}, [16]byte(tp.ID))
}

func TestTracker_RevertReTracksRemovals(t *testing.T) {
	tr := newTracker()

	tp := testTopic("Asthma")
	tr.attach(tp)
	tr.remove([]*topic.Topic{tp})
	require.True(t, tr.hasPending())

	tr.revert()
	assert.False(t, tr.hasPending())

	// The entity is tracked again; mutations show up as updates.
	tp.Version = 9
	_, updates, _ := tr.pending()
	require.Len(t, updates, 1)
	assert.Equal(t, "Asthma", updates[0].Name)
}

func TestTracker_CommitRefreshesSnapshots(t *testing.T) {
	tr := newTracker()

	tp := testTopic("Asthma")
	tr.attach(tp)
	tp.Version = 2
	require.True(t, tr.hasPending())

	tr.commit()
	assert.False(t, tr.hasPending())

	tp.Version = 3
	assert.True(t, tr.hasPending())
}
