package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/vitalhub/topicsync/internal/db"
	"github.com/vitalhub/topicsync/internal/topic"
)

// PostgresStore implements Store using pgxpool behind the db.Pool interface,
// so unit tests can substitute pgxmock.
type PostgresStore struct {
	pool    db.Pool
	tracker *tracker
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, tracker: newTracker()}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS topics (
	id                  UUID PRIMARY KEY,
	name                TEXT NOT NULL,
	original_name       TEXT,
	summary             TEXT NOT NULL DEFAULT '',
	observations        JSONB NOT NULL DEFAULT '[]',
	factors             JSONB NOT NULL DEFAULT '[]',
	actions             JSONB NOT NULL DEFAULT '[]',
	citations           JSONB NOT NULL DEFAULT '[]',
	tags                JSONB NOT NULL DEFAULT '[]',
	category            TEXT,
	topic_type          TEXT,
	raw_source          TEXT NOT NULL DEFAULT '',
	source_hash         TEXT NOT NULL DEFAULT '',
	last_source_refresh TIMESTAMPTZ,
	needs_reprocessing  BOOLEAN NOT NULL DEFAULT false,
	last_updated        TIMESTAMPTZ NOT NULL,
	version             INTEGER NOT NULL DEFAULT 1
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_topics_name ON topics(lower(name));
CREATE INDEX IF NOT EXISTS idx_topics_type ON topics(topic_type);
CREATE INDEX IF NOT EXISTS idx_topics_reprocessing ON topics(needs_reprocessing);
CREATE INDEX IF NOT EXISTS idx_topics_refresh ON topics(last_source_refresh);

CREATE TABLE IF NOT EXISTS seen_topics (
	name       TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	topic_type TEXT NOT NULL DEFAULT '',
	first_seen TIMESTAMPTZ NOT NULL
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Targeted queries (tracked) ---

func (s *PostgresStore) TopicNames(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `SELECT name FROM topics ORDER BY name`)
}

func (s *PostgresStore) SeenTopicNames(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `SELECT name FROM seen_topics ORDER BY name`)
}

func (s *PostgresStore) TopicsNeedingRefresh(ctx context.Context, cutoff time.Time) ([]*topic.Topic, error) {
	ts, err := s.queryTopics(ctx,
		`WHERE last_source_refresh IS NULL OR last_source_refresh < $1`, cutoff.UTC())
	if err != nil {
		return nil, eris.Wrap(err, "postgres: topics needing refresh")
	}
	return s.tracker.attachAll(ts), nil
}

func (s *PostgresStore) TopicsNeedingReprocessing(ctx context.Context, refreshedSince time.Time) ([]*topic.Topic, error) {
	ts, err := s.queryTopics(ctx,
		`WHERE needs_reprocessing AND last_source_refresh IS NOT NULL AND last_source_refresh >= $1`,
		refreshedSince.UTC())
	if err != nil {
		return nil, eris.Wrap(err, "postgres: topics needing reprocessing")
	}
	return s.tracker.attachAll(ts), nil
}

func (s *PostgresStore) UncategorizedTopics(ctx context.Context) ([]*topic.Topic, error) {
	ts, err := s.queryTopics(ctx, `WHERE category IS NULL OR category = ''`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: uncategorized topics")
	}
	return s.tracker.attachAll(ts), nil
}

func (s *PostgresStore) UnclassifiedTopics(ctx context.Context) ([]*topic.Topic, error) {
	ts, err := s.queryTopics(ctx,
		`WHERE topic_type IS NULL OR topic_type = '' OR topic_type = $1`, topic.TypeOther)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: unclassified topics")
	}
	return s.tracker.attachAll(ts), nil
}

func (s *PostgresStore) TopicByName(ctx context.Context, name string) (*topic.Topic, error) {
	ts, err := s.queryTopics(ctx, `WHERE lower(name) = lower($1)`, name)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: topic by name %q", name)
	}
	if len(ts) == 0 {
		return nil, nil
	}
	return s.tracker.attach(ts[0]), nil
}

func (s *PostgresStore) TopicsByNames(ctx context.Context, names []string) ([]*topic.Topic, error) {
	if len(names) == 0 {
		return nil, nil
	}
	lowered := make([]string, len(names))
	for i, n := range names {
		lowered[i] = strings.ToLower(n)
	}
	ts, err := s.queryTopics(ctx, `WHERE lower(name) = ANY($1)`, lowered)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: topics by names")
	}
	return s.tracker.attachAll(ts), nil
}

func (s *PostgresStore) TopicsWithoutOriginalName(ctx context.Context) ([]*topic.Topic, error) {
	ts, err := s.queryTopics(ctx, `WHERE original_name IS NULL OR original_name = ''`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: topics without original name")
	}
	return s.tracker.attachAll(ts), nil
}

func (s *PostgresStore) TopicMappings(ctx context.Context) ([]TopicMapping, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, original_name, last_source_refresh FROM topics`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: topic mappings")
	}
	defer rows.Close()

	var out []TopicMapping
	for rows.Next() {
		var m TopicMapping
		if err := rows.Scan(&m.Name, &m.OriginalName, &m.LastSourceRefresh); err != nil {
			return nil, eris.Wrap(err, "postgres: scan topic mapping")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Tracked mutation primitives ---

func (s *PostgresStore) Add(t *topic.Topic)            { s.tracker.add(t) }
func (s *PostgresStore) RemoveRange(ts []*topic.Topic) { s.tracker.remove(ts) }
func (s *PostgresStore) HasPendingChanges() bool       { return s.tracker.hasPending() }
func (s *PostgresStore) Revert()                       { s.tracker.revert() }

func (s *PostgresStore) Save(ctx context.Context) error {
	adds, updates, deletes := s.tracker.pending()
	if len(adds) == 0 && len(updates) == 0 && len(deletes) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, t := range adds {
		if _, err := tx.Exec(ctx,
			`INSERT INTO topics (id, name, original_name, summary, observations, factors, actions,
				citations, tags, category, topic_type, raw_source, source_hash, last_source_refresh,
				needs_reprocessing, last_updated, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			postgresArgs(t)...); err != nil {
			return eris.Wrapf(err, "postgres: insert topic %q", t.Name)
		}
	}
	for _, t := range updates {
		args := append(postgresArgs(t)[1:], t.ID)
		if _, err := tx.Exec(ctx,
			`UPDATE topics SET name = $1, original_name = $2, summary = $3, observations = $4,
				factors = $5, actions = $6, citations = $7, tags = $8, category = $9, topic_type = $10,
				raw_source = $11, source_hash = $12, last_source_refresh = $13, needs_reprocessing = $14,
				last_updated = $15, version = $16
			WHERE id = $17`, args...); err != nil {
			return eris.Wrapf(err, "postgres: update topic %q", t.Name)
		}
	}
	for _, t := range deletes {
		if _, err := tx.Exec(ctx, `DELETE FROM topics WHERE id = $1`, t.ID); err != nil {
			return eris.Wrapf(err, "postgres: delete topic %q", t.Name)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit save")
	}
	s.tracker.commit()
	return nil
}

func (s *PostgresStore) AddSeenTopics(ctx context.Context, seen []topic.SeenTopic) error {
	if len(seen) == 0 {
		return nil
	}
	for _, st := range seen {
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO seen_topics (name, status, topic_type, first_seen)
			VALUES ($1, $2, $3, $4) ON CONFLICT (name) DO NOTHING`,
			st.Name, st.Status, st.TopicType, st.FirstSeen.UTC()); err != nil {
			return eris.Wrapf(err, "postgres: insert seen topic %q", st.Name)
		}
	}
	return nil
}

// --- Read-side queries (untracked) ---

func (s *PostgresStore) ListTopics(ctx context.Context, params ListParams) ([]*topic.Topic, error) {
	var ts []*topic.Topic
	var err error
	if params.Type == "" {
		ts, err = s.queryTopics(ctx, `ORDER BY name LIMIT $1 OFFSET $2`, params.Limit, params.Offset)
	} else {
		ts, err = s.queryTopics(ctx,
			`WHERE topic_type = $1 ORDER BY name LIMIT $2 OFFSET $3`,
			params.Type, params.Limit, params.Offset)
	}
	return ts, eris.Wrap(err, "postgres: list topics")
}

func (s *PostgresStore) CountTopics(ctx context.Context, typeFilter string) (int, error) {
	var count int
	var err error
	if typeFilter == "" {
		err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM topics`).Scan(&count)
	} else {
		err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM topics WHERE topic_type = $1`, typeFilter).Scan(&count)
	}
	return count, eris.Wrap(err, "postgres: count topics")
}

func (s *PostgresStore) GetTopicByName(ctx context.Context, name string) (*topic.Topic, error) {
	ts, err := s.queryTopics(ctx, `WHERE lower(name) = lower($1)`, name)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get topic %q", name)
	}
	if len(ts) == 0 {
		return nil, nil
	}
	return ts[0], nil
}

func (s *PostgresStore) SearchTopics(ctx context.Context, query string, params ListParams) ([]*topic.Topic, error) {
	pattern := "%" + query + "%"
	ts, err := s.queryTopics(ctx,
		`WHERE name ILIKE $1 OR summary ILIKE $1 ORDER BY name LIMIT $2 OFFSET $3`,
		pattern, params.Limit, params.Offset)
	return ts, eris.Wrap(err, "postgres: search topics")
}

func (s *PostgresStore) SearchTopicCount(ctx context.Context, query string) (int, error) {
	pattern := "%" + query + "%"
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM topics WHERE name ILIKE $1 OR summary ILIKE $1`, pattern).Scan(&count)
	return count, eris.Wrap(err, "postgres: search topic count")
}

func (s *PostgresStore) DistinctTypes(ctx context.Context) ([]topic.TypeCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT topic_type, COUNT(*) FROM topics
		WHERE topic_type IS NOT NULL AND topic_type != ''
		GROUP BY topic_type ORDER BY topic_type`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: distinct types")
	}
	defer rows.Close()

	var out []topic.TypeCount
	for rows.Next() {
		var tc topic.TypeCount
		if err := rows.Scan(&tc.Type, &tc.Count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan type count")
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// --- helpers ---

func (s *PostgresStore) queryStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query strings")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrap(err, "postgres: scan string")
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) queryTopics(ctx context.Context, where string, args ...any) ([]*topic.Topic, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM topics %s`, topicColumns, where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*topic.Topic
	for rows.Next() {
		t, err := scanPostgresTopic(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanPostgresTopic(rows pgx.Rows) (*topic.Topic, error) {
	var t topic.Topic
	var id uuid.UUID
	var obs, factors, actions, citations, tags []byte

	if err := rows.Scan(&id, &t.Name, &t.OriginalName, &t.Summary, &obs, &factors, &actions,
		&citations, &tags, &t.Category, &t.TopicType, &t.RawSource, &t.SourceHash,
		&t.LastSourceRefresh, &t.NeedsReprocessing, &t.LastUpdated, &t.Version); err != nil {
		return nil, eris.Wrap(err, "postgres: scan topic")
	}
	t.ID = id

	for _, col := range []struct {
		raw  []byte
		dest *[]string
	}{
		{obs, &t.Observations}, {factors, &t.Factors}, {actions, &t.Actions},
		{citations, &t.Citations}, {tags, &t.Tags},
	} {
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.dest); err != nil {
			return nil, eris.Wrap(err, "postgres: decode list column")
		}
	}
	return &t, nil
}

// postgresArgs returns insert arguments in topicColumns order.
func postgresArgs(t *topic.Topic) []any {
	var refresh any
	if t.LastSourceRefresh != nil {
		refresh = t.LastSourceRefresh.UTC()
	}
	return []any{
		t.ID, t.Name, t.OriginalName, t.Summary,
		marshalList(t.Observations), marshalList(t.Factors), marshalList(t.Actions),
		marshalList(t.Citations), marshalList(t.Tags),
		t.Category, t.TopicType, t.RawSource, t.SourceHash,
		refresh, t.NeedsReprocessing, t.LastUpdated.UTC(), t.Version,
	}
}
