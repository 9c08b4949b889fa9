package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalhub/topicsync/internal/topic"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit
// testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s := &PostgresStore{pool: mock, tracker: newTracker()}
	return s, mock
}

func TestPostgresStore_TopicNames(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT name FROM topics ORDER BY name`).
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("Asthma").AddRow("Diabetes"))

	names, err := s.TopicNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Asthma", "Diabetes"}, names)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountTopics_WithTypeFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM topics WHERE topic_type = \$1`).
		WithArgs(topic.TypeDisease).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))

	count, err := s.CountTopics(context.Background(), topic.TypeDisease)
	require.NoError(t, err)
	assert.Equal(t, 7, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AddSeenTopics_ConflictIgnored(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO seen_topics .* ON CONFLICT \(name\) DO NOTHING`).
		WithArgs("Jogging", topic.SeenNonMedical, "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := s.AddSeenTopics(context.Background(), []topic.SeenTopic{
		{Name: "Jogging", Status: topic.SeenNonMedical, FirstSeen: time.Now()},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Save_FlushesAddsUpdatesDeletes(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	added := testTopic("Added")
	tracked := testTopic("Tracked")
	s.tracker.attach(tracked)
	tracked.Version = 2
	doomed := testTopic("Doomed")
	s.tracker.attach(doomed)

	s.Add(added)
	s.RemoveRange([]*topic.Topic{doomed})

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO topics`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE topics SET`).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`DELETE FROM topics WHERE id = \$1`).
		WithArgs(doomed.ID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	require.NoError(t, s.Save(context.Background()))
	assert.False(t, s.HasPendingChanges())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Save_NoChangesSkipsTransaction(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	require.NoError(t, s.Save(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Save_FailureKeepsPendingChanges(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	s.Add(testTopic("Asthma"))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO topics`).WillReturnError(errors.New("connection lost"))
	mock.ExpectRollback()

	err := s.Save(context.Background())
	require.Error(t, err)
	assert.True(t, s.HasPendingChanges())

	s.Revert()
	assert.False(t, s.HasPendingChanges())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DistinctTypes(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT topic_type, COUNT\(\*\) FROM topics`).
		WillReturnRows(pgxmock.NewRows([]string{"topic_type", "count"}).
			AddRow(topic.TypeDisease, 4).
			AddRow(topic.TypeSymptom, 2))

	types, err := s.DistinctTypes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []topic.TypeCount{
		{Type: topic.TypeDisease, Count: 4},
		{Type: topic.TypeSymptom, Count: 2},
	}, types)
	assert.NoError(t, mock.ExpectationsWereMet())
}
