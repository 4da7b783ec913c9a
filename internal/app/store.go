package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"
)

// Storage keys, kept compatible with the browser extension's key-value
// layout so an exported settings dump round-trips.
const (
	thresholdKey      = "thresholdSeconds"
	clipSettingsKey   = "clipFilterSettings"
	followSettingsKey = "followWhitelistSettings"
)

// SQLiteStore persists settings and the decision log. Settings live in a
// key → JSON table and always pass through the normalizers on read, so a
// malformed or missing value degrades to the documented default instead
// of failing.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS decision_records (
			id TEXT NOT NULL,
			result TEXT NOT NULL,
			title TEXT,
			author TEXT,
			duration_seconds INTEGER,
			reason TEXT,
			timestamp INTEGER NOT NULL,
			PRIMARY KEY (id, result)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_decision_records_timestamp ON decision_records(timestamp DESC);`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// readRawSetting returns the decoded JSON value for a key, or nil when
// the key is missing or unreadable.
func (s *SQLiteStore) readRawSetting(ctx context.Context, key string) any {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return nil
	}
	var decoded any
	if err := json.Unmarshal([]byte(value), &decoded); err != nil {
		return nil
	}
	return decoded
}

func (s *SQLiteStore) writeSetting(ctx context.Context, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO settings (key, value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	value = excluded.value,
	updated_at = excluded.updated_at;`, key, string(encoded), time.Now().UTC())
	return err
}

// ReadThreshold returns the normalized duration threshold in seconds.
func (s *SQLiteStore) ReadThreshold(ctx context.Context) int {
	return NormalizeThreshold(s.readRawSetting(ctx, thresholdKey))
}

// SaveThreshold normalizes and persists the duration threshold.
func (s *SQLiteStore) SaveThreshold(ctx context.Context, value any) error {
	return s.writeSetting(ctx, thresholdKey, NormalizeThreshold(value))
}

// ReadClipSettings returns the normalized clip rule settings.
func (s *SQLiteStore) ReadClipSettings(ctx context.Context) ClipSettings {
	return NormalizeClipSettings(s.readRawSetting(ctx, clipSettingsKey))
}

// SaveClipSettings normalizes and persists clip rule settings from a raw
// decoded-JSON value.
func (s *SQLiteStore) SaveClipSettings(ctx context.Context, raw any) error {
	return s.writeSetting(ctx, clipSettingsKey, NormalizeClipSettings(raw))
}

// ReadFollowSettings returns the normalized follow-whitelist settings.
func (s *SQLiteStore) ReadFollowSettings(ctx context.Context) FollowSettings {
	return NormalizeFollowSettings(s.readRawSetting(ctx, followSettingsKey))
}

// SaveFollowSettings persists follow-whitelist settings.
func (s *SQLiteStore) SaveFollowSettings(ctx context.Context, settings FollowSettings) error {
	return s.writeSetting(ctx, followSettingsKey, settings)
}

// SaveDecisionRecord appends one decision to the durable log. The
// (id, result) pair is the log key: recording the same pair again
// replaces the older entry. After the write the log is pruned to the
// DecisionRecordLimit newest entries by timestamp.
func (s *SQLiteStore) SaveDecisionRecord(ctx context.Context, record DecisionRecord) error {
	if record.ID == "" {
		return nil
	}
	if record.Timestamp == 0 {
		record.Timestamp = time.Now().UnixMilli()
	}
	var duration any
	if record.DurationSeconds != nil {
		duration = *record.DurationSeconds
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO decision_records (id, result, title, author, duration_seconds, reason, timestamp)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id, result) DO UPDATE SET
	title = excluded.title,
	author = excluded.author,
	duration_seconds = excluded.duration_seconds,
	reason = excluded.reason,
	timestamp = excluded.timestamp;`,
		record.ID, string(record.Result), record.Title, record.Author,
		duration, record.Reason, record.Timestamp)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
DELETE FROM decision_records
WHERE (id, result) NOT IN (
	SELECT id, result FROM decision_records
	ORDER BY timestamp DESC
	LIMIT ?
);`, DecisionRecordLimit)
	return err
}

// DeleteDecisionRecord removes one (id, result) entry.
func (s *SQLiteStore) DeleteDecisionRecord(ctx context.Context, id string, result Result) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM decision_records WHERE id = ? AND result = ?`, id, string(result))
	return err
}

// ListDecisionRecords returns the decision log newest-first.
func (s *SQLiteStore) ListDecisionRecords(ctx context.Context) ([]DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, result, title, author, duration_seconds, reason, timestamp
FROM decision_records ORDER BY timestamp DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []DecisionRecord
	for rows.Next() {
		var r DecisionRecord
		var title, author, reason sql.NullString
		var duration sql.NullInt64
		var result string
		if err := rows.Scan(&r.ID, &result, &title, &author, &duration, &reason, &r.Timestamp); err != nil {
			return nil, err
		}
		r.Result = ResultBlock
		if result == string(ResultAllow) {
			r.Result = ResultAllow
		}
		r.Title = title.String
		r.Author = author.String
		r.Reason = reason.String
		if duration.Valid {
			d := int(duration.Int64)
			r.DurationSeconds = &d
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ClearDecisionRecords empties the decision log.
func (s *SQLiteStore) ClearDecisionRecords(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM decision_records`)
	return err
}

// DecisionLogStats aggregates the decision log for the stats command.
type DecisionLogStats struct {
	Total    int
	Blocked  int
	Allowed  int
	ByReason map[string]int
}

// GetDecisionLogStats returns counts by result and reason.
func (s *SQLiteStore) GetDecisionLogStats(ctx context.Context) (*DecisionLogStats, error) {
	stats := &DecisionLogStats{ByReason: make(map[string]int)}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM decision_records`).Scan(&stats.Total); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM decision_records WHERE result = 'block'`).Scan(&stats.Blocked); err != nil {
		return nil, err
	}
	stats.Allowed = stats.Total - stats.Blocked

	rows, err := s.db.QueryContext(ctx, `SELECT COALESCE(reason, ''), COUNT(*) FROM decision_records GROUP BY reason`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var reason string
		var count int
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, err
		}
		stats.ByReason[reason] = count
	}
	return stats, rows.Err()
}
