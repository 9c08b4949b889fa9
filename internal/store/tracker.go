package store

import (
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/vitalhub/topicsync/internal/topic"
)

// tracker is the unit-of-work shared by both store engines. Entities loaded
// by targeted queries are registered with a last-saved snapshot; Save diffs
// every tracked entity against its snapshot and flushes adds, updates, and
// deletes together. Revert restores tracked entities in place, so pointers
// held by an orchestrator see the restored values.
type tracker struct {
	mu      sync.Mutex
	tracked map[uuid.UUID]*trackedTopic
	added   map[uuid.UUID]*topic.Topic
	removed map[uuid.UUID]*topic.Topic
}

type trackedTopic struct {
	current  *topic.Topic
	snapshot *topic.Topic
}

func newTracker() *tracker {
	return &tracker{
		tracked: make(map[uuid.UUID]*trackedTopic),
		added:   make(map[uuid.UUID]*topic.Topic),
		removed: make(map[uuid.UUID]*topic.Topic),
	}
}

// attach registers an entity loaded from the database. If the same ID is
// already tracked, the tracked instance wins: every caller in a run mutates
// one shared copy.
func (tr *tracker) attach(t *topic.Topic) *topic.Topic {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.attachLocked(t)
}

func (tr *tracker) attachLocked(t *topic.Topic) *topic.Topic {
	if tt, ok := tr.tracked[t.ID]; ok {
		return tt.current
	}
	if pending, ok := tr.added[t.ID]; ok {
		return pending
	}
	tr.tracked[t.ID] = &trackedTopic{current: t, snapshot: t.Clone()}
	return t
}

func (tr *tracker) attachAll(ts []*topic.Topic) []*topic.Topic {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for i := range ts {
		ts[i] = tr.attachLocked(ts[i])
	}
	return ts
}

// add schedules an insert, assigning identity if the entity has none.
func (tr *tracker) add(t *topic.Topic) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	tr.added[t.ID] = t
}

// remove schedules deletes. Removing a not-yet-saved add just drops it.
func (tr *tracker) remove(ts []*topic.Topic) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for _, t := range ts {
		if _, ok := tr.added[t.ID]; ok {
			delete(tr.added, t.ID)
			continue
		}
		if tt, ok := tr.tracked[t.ID]; ok {
			delete(tr.tracked, t.ID)
			tr.removed[t.ID] = tt.current
			continue
		}
		tr.removed[t.ID] = t
	}
}

// pending returns the change set in deterministic name order.
func (tr *tracker) pending() (adds, updates, deletes []*topic.Topic) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	for _, t := range tr.added {
		adds = append(adds, t)
	}
	for _, tt := range tr.tracked {
		if !reflect.DeepEqual(tt.current, tt.snapshot) {
			updates = append(updates, tt.current)
		}
	}
	for _, t := range tr.removed {
		deletes = append(deletes, t)
	}

	byName := func(ts []*topic.Topic) {
		sort.Slice(ts, func(i, j int) bool { return ts[i].Name < ts[j].Name })
	}
	byName(adds)
	byName(updates)
	byName(deletes)
	return adds, updates, deletes
}

func (tr *tracker) hasPending() bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if len(tr.added) > 0 || len(tr.removed) > 0 {
		return true
	}
	for _, tt := range tr.tracked {
		if !reflect.DeepEqual(tt.current, tt.snapshot) {
			return true
		}
	}
	return false
}

// commit promotes pending adds to tracked entities and refreshes every
// snapshot. Called after a successful flush.
func (tr *tracker) commit() {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	for id, t := range tr.added {
		tr.tracked[id] = &trackedTopic{current: t, snapshot: t.Clone()}
	}
	tr.added = make(map[uuid.UUID]*topic.Topic)
	tr.removed = make(map[uuid.UUID]*topic.Topic)

	for _, tt := range tr.tracked {
		tt.snapshot = tt.current.Clone()
	}
}

// revert discards unsaved changes: pending adds are dropped, pending
// removals are re-tracked, and every tracked entity is restored in place
// from its snapshot.
func (tr *tracker) revert() {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.added = make(map[uuid.UUID]*topic.Topic)
	for id, t := range tr.removed {
		if _, ok := tr.tracked[id]; !ok {
			tr.tracked[id] = &trackedTopic{current: t, snapshot: t.Clone()}
		}
	}
	tr.removed = make(map[uuid.UUID]*topic.Topic)

	for _, tt := range tr.tracked {
		*tt.current = *tt.snapshot.Clone()
	}
}
