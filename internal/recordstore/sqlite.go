// Package recordstore provides persistent storage for memory records and the
// provider factory that selects an implementation.
package recordstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// timeLayout is RFC 3339 with fixed-width nanoseconds. Fixed width keeps the
// TEXT column ordering identical to chronological ordering, which the
// last_updated sort relies on.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements memory.Store using SQLite.
//
// Merges are a single INSERT .. ON CONFLICT DO UPDATE statement, so the
// evidence increment is atomic inside the engine; concurrent writers can
// never read a stale count.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id             TEXT PRIMARY KEY,
		subject_id     TEXT NOT NULL,
		layer          TEXT NOT NULL,
		key            TEXT NOT NULL,
		content        TEXT NOT NULL,
		status         TEXT NOT NULL,
		confidence     TEXT NOT NULL,
		evidence_count INTEGER NOT NULL DEFAULT 1,
		first_observed TEXT NOT NULL,
		last_updated   TEXT NOT NULL,
		last_confirmed TEXT,
		expires_at     TEXT,
		UNIQUE (subject_id, layer, key)
	);
	CREATE INDEX IF NOT EXISTS idx_records_subject ON records(subject_id, last_updated DESC);
	CREATE INDEX IF NOT EXISTS idx_records_sweep ON records(layer, status, expires_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

const upsertSQL = `
INSERT INTO records (id, subject_id, layer, key, content, status, confidence,
                     evidence_count, first_observed, last_updated, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
ON CONFLICT(subject_id, layer, key) DO UPDATE SET
	content        = excluded.content,
	confidence     = excluded.confidence,
	evidence_count = evidence_count + 1,
	last_updated   = excluded.last_updated,
	expires_at     = COALESCE(excluded.expires_at, expires_at)
RETURNING id, subject_id, layer, key, content, status, confidence,
          evidence_count, first_observed, last_updated, last_confirmed, expires_at`

// Upsert atomically creates or merges a record for the triple. The ON
// CONFLICT clause leaves status and first_observed alone, so merging into a
// terminal record keeps it terminal.
func (s *SQLiteStore) Upsert(ctx context.Context, params memory.UpsertParams) (rec *memory.Record, created bool, err error) {
	defer func(start time.Time) { recordOperation("upsert", start, err) }(time.Now())

	content, err := json.Marshal(params.Content)
	if err != nil {
		return nil, false, fmt.Errorf("marshal content: %w", err)
	}

	var expiresAt *string
	if params.ExpiresAt != nil {
		v := params.ExpiresAt.UTC().Format(timeLayout)
		expiresAt = &v
	}

	row := s.db.QueryRowContext(ctx, upsertSQL,
		uuid.New().String(),
		params.SubjectID,
		string(params.Layer),
		params.Key,
		string(content),
		string(params.CreateStatus),
		string(params.Confidence),
		memory.DayOf(params.Now).Format(timeLayout),
		params.Now.UTC().Format(timeLayout),
		expiresAt,
	)

	rec, err = scanRecord(row)
	if err != nil {
		return nil, false, fmt.Errorf("upsert record: %w", err)
	}

	return rec, rec.EvidenceCount == 1, nil
}

// Get returns a record by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (rec *memory.Record, err error) {
	defer func(start time.Time) { recordOperation("get", start, err) }(time.Now())

	row := s.db.QueryRowContext(ctx,
		`SELECT id, subject_id, layer, key, content, status, confidence,
		        evidence_count, first_observed, last_updated, last_confirmed, expires_at
		 FROM records WHERE id = ?`, id)

	rec, err = scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memory.ErrStoreNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// List returns matching records ordered by last_updated descending.
func (s *SQLiteStore) List(ctx context.Context, filter memory.ListFilter) (records []*memory.Record, err error) {
	defer func(start time.Time) { recordOperation("list", start, err) }(time.Now())

	var where []string
	var args []interface{}

	if filter.SubjectID != "" {
		where = append(where, "subject_id = ?")
		args = append(args, filter.SubjectID)
	}
	if filter.Layer != "" {
		where = append(where, "layer = ?")
		args = append(args, string(filter.Layer))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.KeySubstring != "" {
		// instr is a byte match, which keeps the filter case-sensitive
		// (LIKE folds ASCII case).
		where = append(where, "instr(key, ?) > 0")
		args = append(args, filter.KeySubstring)
	}
	if filter.MinConfidence != "" {
		grades := gradesAtOrAbove(filter.MinConfidence)
		placeholders := make([]string, len(grades))
		for i, g := range grades {
			placeholders[i] = "?"
			args = append(args, g)
		}
		where = append(where, fmt.Sprintf("confidence IN (%s)", strings.Join(placeholders, ",")))
	}
	if !filter.UpdatedBefore.IsZero() {
		where = append(where, "last_updated < ?")
		args = append(args, filter.UpdatedBefore.UTC().Format(timeLayout))
	}

	query := `SELECT id, subject_id, layer, key, content, status, confidence,
	                 evidence_count, first_observed, last_updated, last_confirmed, expires_at
	          FROM records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY last_updated DESC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	return records, nil
}

// ApplyTransition conditionally mutates one record. The guard travels in the
// WHERE clause, so the check and the write are one statement; zero affected
// rows distinguishes a missing record from a lost race on re-fetch.
func (s *SQLiteStore) ApplyTransition(ctx context.Context, id string, guard memory.TransitionGuard, set memory.TransitionSet) (rec *memory.Record, err error) {
	defer func(start time.Time) { recordOperation("transition", start, err) }(time.Now())

	assign := []string{"last_updated = ?"}
	args := []interface{}{set.Now.UTC().Format(timeLayout)}

	if set.Layer != "" {
		assign = append(assign, "layer = ?")
		args = append(args, string(set.Layer))
	}
	if set.Status != "" {
		assign = append(assign, "status = ?")
		args = append(args, string(set.Status))
	}
	if set.Confidence != "" {
		assign = append(assign, "confidence = ?")
		args = append(args, string(set.Confidence))
	}
	if set.ClearExpiry {
		assign = append(assign, "expires_at = NULL")
	}
	if set.LastConfirmed != nil {
		assign = append(assign, "last_confirmed = ?")
		args = append(args, set.LastConfirmed.UTC().Format(timeLayout))
	}

	cond := []string{"id = ?", "layer = ?", "status = ?"}
	args = append(args, id, string(guard.Layer), string(guard.Status))
	if guard.Confidence != "" {
		cond = append(cond, "confidence = ?")
		args = append(args, string(guard.Confidence))
	}
	if !guard.UpdatedBefore.IsZero() {
		cond = append(cond, "last_updated < ?")
		args = append(args, guard.UpdatedBefore.UTC().Format(timeLayout))
	}

	query := fmt.Sprintf("UPDATE records SET %s WHERE %s",
		strings.Join(assign, ", "), strings.Join(cond, " AND "))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("apply transition: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("apply transition: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, id); errors.Is(getErr, memory.ErrStoreNotFound) {
			return nil, memory.ErrStoreNotFound
		}
		return nil, memory.ErrStateConflict
	}

	return s.Get(ctx, id)
}

// SweepExpired marks overdue active ephemeral records expired.
func (s *SQLiteStore) SweepExpired(ctx context.Context, now time.Time) (changed int64, err error) {
	defer func(start time.Time) { recordOperation("sweep", start, err) }(time.Now())

	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET status = ?, last_updated = ?
		 WHERE layer = ? AND status = ? AND expires_at IS NOT NULL AND expires_at < ?`,
		string(memory.StatusExpired),
		now.UTC().Format(timeLayout),
		string(memory.LayerEphemeral),
		string(memory.StatusActive),
		now.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep expired: %w", err)
	}

	changed, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep expired: %w", err)
	}
	if changed > 0 {
		RecordsSweptTotal.Add(float64(changed))
	}
	return changed, nil
}

// ListSubjects returns the distinct subject IDs, sorted.
func (s *SQLiteStore) ListSubjects(ctx context.Context) (subjects []string, err error) {
	defer func(start time.Time) { recordOperation("subjects", start, err) }(time.Now())

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT subject_id FROM records ORDER BY subject_id`)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		subjects = append(subjects, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}

	return subjects, nil
}

// Ping reports database availability.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*memory.Record, error) {
	var rec memory.Record
	var layer, status, confidence, content string
	var firstObserved, lastUpdated string
	var lastConfirmed, expiresAt sql.NullString

	err := row.Scan(
		&rec.ID, &rec.SubjectID, &layer, &rec.Key, &content, &status, &confidence,
		&rec.EvidenceCount, &firstObserved, &lastUpdated, &lastConfirmed, &expiresAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Layer = memory.Layer(layer)
	rec.Status = memory.Status(status)
	rec.Confidence = memory.Confidence(confidence)

	if err := json.Unmarshal([]byte(content), &rec.Content); err != nil {
		return nil, fmt.Errorf("unmarshal content: %w", err)
	}

	if rec.FirstObserved, err = time.Parse(timeLayout, firstObserved); err != nil {
		return nil, fmt.Errorf("parse first_observed: %w", err)
	}
	if rec.LastUpdated, err = time.Parse(timeLayout, lastUpdated); err != nil {
		return nil, fmt.Errorf("parse last_updated: %w", err)
	}
	if lastConfirmed.Valid {
		t, err := time.Parse(timeLayout, lastConfirmed.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_confirmed: %w", err)
		}
		rec.LastConfirmed = &t
	}
	if expiresAt.Valid {
		t, err := time.Parse(timeLayout, expiresAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse expires_at: %w", err)
		}
		rec.ExpiresAt = &t
	}

	return &rec, nil
}

var _ memory.Store = (*SQLiteStore)(nil)

// gradesAtOrAbove expands a confidence floor into the explicit grade set the
// IN clause matches against.
func gradesAtOrAbove(min memory.Confidence) []string {
	all := []memory.Confidence{memory.ConfidenceLow, memory.ConfidenceMedium, memory.ConfidenceHigh}
	var out []string
	for _, g := range all {
		if g.AtLeast(min) {
			out = append(out, string(g))
		}
	}
	return out
}
