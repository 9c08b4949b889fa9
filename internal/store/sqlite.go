package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/vitalhub/topicsync/internal/topic"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db      *sql.DB
	tracker *tracker
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, tracker: newTracker()}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS topics (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	original_name       TEXT,
	summary             TEXT NOT NULL DEFAULT '',
	observations        TEXT NOT NULL DEFAULT '[]',
	factors             TEXT NOT NULL DEFAULT '[]',
	actions             TEXT NOT NULL DEFAULT '[]',
	citations           TEXT NOT NULL DEFAULT '[]',
	tags                TEXT NOT NULL DEFAULT '[]',
	category            TEXT,
	topic_type          TEXT,
	raw_source          TEXT NOT NULL DEFAULT '',
	source_hash         TEXT NOT NULL DEFAULT '',
	last_source_refresh DATETIME,
	needs_reprocessing  INTEGER NOT NULL DEFAULT 0,
	last_updated        DATETIME NOT NULL,
	version             INTEGER NOT NULL DEFAULT 1
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_topics_name ON topics(lower(name));
CREATE INDEX IF NOT EXISTS idx_topics_type ON topics(topic_type);
CREATE INDEX IF NOT EXISTS idx_topics_reprocessing ON topics(needs_reprocessing);
CREATE INDEX IF NOT EXISTS idx_topics_refresh ON topics(last_source_refresh);

CREATE TABLE IF NOT EXISTS seen_topics (
	name       TEXT PRIMARY KEY COLLATE NOCASE,
	status     TEXT NOT NULL,
	topic_type TEXT NOT NULL DEFAULT '',
	first_seen DATETIME NOT NULL
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const topicColumns = `id, name, original_name, summary, observations, factors, actions, citations, tags,
	category, topic_type, raw_source, source_hash, last_source_refresh, needs_reprocessing, last_updated, version`

// --- Targeted queries (tracked) ---

func (s *SQLiteStore) TopicNames(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `SELECT name FROM topics ORDER BY name`)
}

func (s *SQLiteStore) SeenTopicNames(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `SELECT name FROM seen_topics ORDER BY name`)
}

func (s *SQLiteStore) TopicsNeedingRefresh(ctx context.Context, cutoff time.Time) ([]*topic.Topic, error) {
	ts, err := s.queryTopics(ctx,
		`WHERE last_source_refresh IS NULL OR last_source_refresh < ?`, cutoff.UTC())
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: topics needing refresh")
	}
	return s.tracker.attachAll(ts), nil
}

func (s *SQLiteStore) TopicsNeedingReprocessing(ctx context.Context, refreshedSince time.Time) ([]*topic.Topic, error) {
	ts, err := s.queryTopics(ctx,
		`WHERE needs_reprocessing = 1 AND last_source_refresh IS NOT NULL AND last_source_refresh >= ?`,
		refreshedSince.UTC())
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: topics needing reprocessing")
	}
	return s.tracker.attachAll(ts), nil
}

func (s *SQLiteStore) UncategorizedTopics(ctx context.Context) ([]*topic.Topic, error) {
	ts, err := s.queryTopics(ctx, `WHERE category IS NULL OR category = ''`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: uncategorized topics")
	}
	return s.tracker.attachAll(ts), nil
}

func (s *SQLiteStore) UnclassifiedTopics(ctx context.Context) ([]*topic.Topic, error) {
	ts, err := s.queryTopics(ctx,
		`WHERE topic_type IS NULL OR topic_type = '' OR topic_type = ?`, topic.TypeOther)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: unclassified topics")
	}
	return s.tracker.attachAll(ts), nil
}

func (s *SQLiteStore) TopicByName(ctx context.Context, name string) (*topic.Topic, error) {
	ts, err := s.queryTopics(ctx, `WHERE lower(name) = lower(?)`, name)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: topic by name %q", name)
	}
	if len(ts) == 0 {
		return nil, nil
	}
	return s.tracker.attach(ts[0]), nil
}

func (s *SQLiteStore) TopicsByNames(ctx context.Context, names []string) ([]*topic.Topic, error) {
	if len(names) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("lower(?),", len(names)), ",")
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}
	ts, err := s.queryTopics(ctx,
		fmt.Sprintf(`WHERE lower(name) IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: topics by names")
	}
	return s.tracker.attachAll(ts), nil
}

func (s *SQLiteStore) TopicsWithoutOriginalName(ctx context.Context) ([]*topic.Topic, error) {
	ts, err := s.queryTopics(ctx, `WHERE original_name IS NULL OR original_name = ''`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: topics without original name")
	}
	return s.tracker.attachAll(ts), nil
}

func (s *SQLiteStore) TopicMappings(ctx context.Context) ([]TopicMapping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, original_name, last_source_refresh FROM topics`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: topic mappings")
	}
	defer rows.Close()

	var out []TopicMapping
	for rows.Next() {
		var m TopicMapping
		var orig sql.NullString
		var refresh sql.NullTime
		if err := rows.Scan(&m.Name, &orig, &refresh); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan topic mapping")
		}
		if orig.Valid {
			m.OriginalName = &orig.String
		}
		if refresh.Valid {
			t := refresh.Time
			m.LastSourceRefresh = &t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Tracked mutation primitives ---

func (s *SQLiteStore) Add(t *topic.Topic)            { s.tracker.add(t) }
func (s *SQLiteStore) RemoveRange(ts []*topic.Topic) { s.tracker.remove(ts) }
func (s *SQLiteStore) HasPendingChanges() bool       { return s.tracker.hasPending() }
func (s *SQLiteStore) Revert()                       { s.tracker.revert() }

// Save flushes the tracked change set in one transaction.
func (s *SQLiteStore) Save(ctx context.Context) error {
	adds, updates, deletes := s.tracker.pending()
	if len(adds) == 0 && len(updates) == 0 && len(deletes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, t := range adds {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO topics (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, topicColumns),
			sqliteArgs(t)...); err != nil {
			return eris.Wrapf(err, "sqlite: insert topic %q", t.Name)
		}
	}
	for _, t := range updates {
		args := append(sqliteArgs(t)[1:], t.ID.String())
		if _, err := tx.ExecContext(ctx,
			`UPDATE topics SET name = ?, original_name = ?, summary = ?, observations = ?, factors = ?,
				actions = ?, citations = ?, tags = ?, category = ?, topic_type = ?, raw_source = ?,
				source_hash = ?, last_source_refresh = ?, needs_reprocessing = ?, last_updated = ?, version = ?
			WHERE id = ?`, args...); err != nil {
			return eris.Wrapf(err, "sqlite: update topic %q", t.Name)
		}
	}
	for _, t := range deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM topics WHERE id = ?`, t.ID.String()); err != nil {
			return eris.Wrapf(err, "sqlite: delete topic %q", t.Name)
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit save")
	}
	s.tracker.commit()
	return nil
}

func (s *SQLiteStore) AddSeenTopics(ctx context.Context, seen []topic.SeenTopic) error {
	if len(seen) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin seen topics")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, st := range seen {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO seen_topics (name, status, topic_type, first_seen) VALUES (?, ?, ?, ?)`,
			st.Name, st.Status, st.TopicType, st.FirstSeen.UTC()); err != nil {
			return eris.Wrapf(err, "sqlite: insert seen topic %q", st.Name)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit seen topics")
}

// --- Read-side queries (untracked) ---

func (s *SQLiteStore) ListTopics(ctx context.Context, params ListParams) ([]*topic.Topic, error) {
	where, args := listFilter(params.Type)
	args = append(args, params.Limit, params.Offset)
	ts, err := s.queryTopics(ctx, where+` ORDER BY name LIMIT ? OFFSET ?`, args...)
	return ts, eris.Wrap(err, "sqlite: list topics")
}

func (s *SQLiteStore) CountTopics(ctx context.Context, typeFilter string) (int, error) {
	where, args := listFilter(typeFilter)
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM topics `+where, args...).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count topics")
}

func (s *SQLiteStore) GetTopicByName(ctx context.Context, name string) (*topic.Topic, error) {
	ts, err := s.queryTopics(ctx, `WHERE lower(name) = lower(?)`, name)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get topic %q", name)
	}
	if len(ts) == 0 {
		return nil, nil
	}
	return ts[0], nil
}

func (s *SQLiteStore) SearchTopics(ctx context.Context, query string, params ListParams) ([]*topic.Topic, error) {
	pattern := "%" + query + "%"
	ts, err := s.queryTopics(ctx,
		`WHERE name LIKE ? OR summary LIKE ? ORDER BY name LIMIT ? OFFSET ?`,
		pattern, pattern, params.Limit, params.Offset)
	return ts, eris.Wrap(err, "sqlite: search topics")
}

func (s *SQLiteStore) SearchTopicCount(ctx context.Context, query string) (int, error) {
	pattern := "%" + query + "%"
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM topics WHERE name LIKE ? OR summary LIKE ?`, pattern, pattern).Scan(&count)
	return count, eris.Wrap(err, "sqlite: search topic count")
}

func (s *SQLiteStore) DistinctTypes(ctx context.Context) ([]topic.TypeCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT topic_type, COUNT(*) FROM topics
		WHERE topic_type IS NOT NULL AND topic_type != ''
		GROUP BY topic_type ORDER BY topic_type`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: distinct types")
	}
	defer rows.Close()

	var out []topic.TypeCount
	for rows.Next() {
		var tc topic.TypeCount
		if err := rows.Scan(&tc.Type, &tc.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan type count")
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// --- helpers ---

func listFilter(typeFilter string) (string, []any) {
	if typeFilter == "" {
		return "", nil
	}
	return `WHERE topic_type = ?`, []any{typeFilter}
}

func (s *SQLiteStore) queryStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query strings")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan string")
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) queryTopics(ctx context.Context, where string, args ...any) ([]*topic.Topic, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM topics %s`, topicColumns, where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*topic.Topic
	for rows.Next() {
		t, err := scanSQLiteTopic(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanSQLiteTopic(rows *sql.Rows) (*topic.Topic, error) {
	var t topic.Topic
	var id string
	var obs, factors, actions, citations, tags string
	var orig, category, topicType sql.NullString
	var refresh sql.NullTime
	var reprocess int

	if err := rows.Scan(&id, &t.Name, &orig, &t.Summary, &obs, &factors, &actions, &citations, &tags,
		&category, &topicType, &t.RawSource, &t.SourceHash, &refresh, &reprocess, &t.LastUpdated, &t.Version); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan topic")
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: parse topic id %q", id)
	}
	t.ID = parsed

	for _, col := range []struct {
		raw  string
		dest *[]string
	}{
		{obs, &t.Observations}, {factors, &t.Factors}, {actions, &t.Actions},
		{citations, &t.Citations}, {tags, &t.Tags},
	} {
		if err := json.Unmarshal([]byte(col.raw), col.dest); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode list column")
		}
	}

	if orig.Valid {
		t.OriginalName = &orig.String
	}
	if category.Valid && category.String != "" {
		t.Category = &category.String
	}
	if topicType.Valid && topicType.String != "" {
		t.TopicType = &topicType.String
	}
	if refresh.Valid {
		ts := refresh.Time
		t.LastSourceRefresh = &ts
	}
	t.NeedsReprocessing = reprocess != 0
	return &t, nil
}

// sqliteArgs returns insert arguments in topicColumns order.
func sqliteArgs(t *topic.Topic) []any {
	var refresh any
	if t.LastSourceRefresh != nil {
		refresh = t.LastSourceRefresh.UTC()
	}
	reprocess := 0
	if t.NeedsReprocessing {
		reprocess = 1
	}
	return []any{
		t.ID.String(), t.Name, nullable(t.OriginalName), t.Summary,
		marshalList(t.Observations), marshalList(t.Factors), marshalList(t.Actions),
		marshalList(t.Citations), marshalList(t.Tags),
		nullable(t.Category), nullable(t.TopicType), t.RawSource, t.SourceHash,
		refresh, reprocess, t.LastUpdated.UTC(), t.Version,
	}
}

func nullable(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func marshalList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}
