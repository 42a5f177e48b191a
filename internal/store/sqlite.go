package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/amishk599/jobtracker/internal/model"
)

// sqliteChunk keeps IN lists under SQLite's bound-parameter limit.
const sqliteChunk = 500

const sqliteSchema = `CREATE TABLE IF NOT EXISTS job_records (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id   TEXT    NOT NULL CHECK (external_id <> ''),
	title         TEXT    NOT NULL,
	organisation  TEXT    NOT NULL,
	department    TEXT    NOT NULL DEFAULT '',
	grade         TEXT    NOT NULL,
	locations     TEXT    NOT NULL DEFAULT '[]',
	pay_min       REAL    NOT NULL,
	pay_max       REAL    NOT NULL,
	start_date    TEXT    NOT NULL,
	close_date    TEXT    NOT NULL,
	duration_days INTEGER NOT NULL,
	source_uri    TEXT    NOT NULL,
	fetched_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_job_records_external_id ON job_records (external_id);`

const sqliteColumns = `id, external_id, title, organisation, department, grade, locations,
	pay_min, pay_max, start_date, close_date, duration_days, source_uri, fetched_at`

// SQLiteStore persists job records in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ model.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures the
// job_records table exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// One writer at a time; concurrent cycles queue instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating job_records table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// InsertMany writes each record in its own statement. A record the database
// rejects is reported in Failed and the rest are still written.
func (s *SQLiteStore) InsertMany(ctx context.Context, records []model.JobRecord) (model.InsertResult, error) {
	stmt, err := s.db.PrepareContext(ctx, `INSERT INTO job_records (
		external_id, title, organisation, department, grade, locations,
		pay_min, pay_max, start_date, close_date, duration_days, source_uri, fetched_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return model.InsertResult{}, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	var res model.InsertResult
	for _, r := range records {
		locs, err := json.Marshal(nonNil(r.Locations))
		if err != nil {
			res.Failed = append(res.Failed, model.InsertFailure{ExternalID: r.ExternalID, Err: err})
			continue
		}
		out, err := stmt.ExecContext(ctx,
			r.ExternalID, r.Title, r.Organisation, r.Department, r.Grade, string(locs),
			r.Remuneration.Min, r.Remuneration.Max, r.StartDate, r.CloseDate, r.DurationDays,
			r.SourceURI, r.FetchedAt.UnixMilli(),
		)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, fmt.Errorf("inserting records: %w", ctxErr)
			}
			res.Failed = append(res.Failed, model.InsertFailure{ExternalID: r.ExternalID, Err: err})
			continue
		}
		id, err := out.LastInsertId()
		if err != nil {
			return res, fmt.Errorf("reading id for %s: %w", r.ExternalID, err)
		}
		r.Locations = nonNil(r.Locations)
		res.Inserted = append(res.Inserted, model.StoredRecord{ID: formatRowID(id), JobRecord: r})
	}
	return res, nil
}

// DuplicateGroups returns every external id stored more than once, with
// members in id order.
func (s *SQLiteStore) DuplicateGroups(ctx context.Context) ([]model.DuplicateGroup, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, external_id, fetched_at FROM job_records
		WHERE external_id IN (
			SELECT external_id FROM job_records GROUP BY external_id HAVING COUNT(*) > 1
		)
		ORDER BY external_id, id`)
	if err != nil {
		return nil, fmt.Errorf("grouping duplicates: %w", err)
	}
	defer rows.Close()

	var groups []model.DuplicateGroup
	for rows.Next() {
		var (
			id        int64
			external  string
			fetchedMs int64
		)
		if err := rows.Scan(&id, &external, &fetchedMs); err != nil {
			return nil, fmt.Errorf("scanning duplicate group: %w", err)
		}
		if len(groups) == 0 || groups[len(groups)-1].ExternalID != external {
			groups = append(groups, model.DuplicateGroup{ExternalID: external})
		}
		g := &groups[len(groups)-1]
		g.Members = append(g.Members, model.GroupMember{ID: formatRowID(id), FetchedAt: time.UnixMilli(fetchedMs).UTC()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("grouping duplicates: %w", err)
	}
	return groups, nil
}

// DeleteMany removes the given ids in a single transaction. Ids that are
// already gone are skipped.
func (s *SQLiteStore) DeleteMany(ctx context.Context, ids []model.RecordID) (int64, error) {
	rowIDs := parseRowIDs(ids)
	if len(rowIDs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning delete: %w", err)
	}
	defer tx.Rollback()

	var deleted int64
	for _, chunk := range chunkArgs(rowIDs, sqliteChunk) {
		res, err := tx.ExecContext(ctx, "DELETE FROM job_records WHERE id IN ("+placeholders(len(chunk))+")", chunk...)
		if err != nil {
			return 0, fmt.Errorf("deleting %d records: %w", len(chunk), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("counting deleted records: %w", err)
		}
		deleted += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing delete: %w", err)
	}
	return deleted, nil
}

func (s *SQLiteStore) Find(ctx context.Context, ids []model.RecordID) ([]model.StoredRecord, error) {
	rowIDs := parseRowIDs(ids)
	var out []model.StoredRecord
	for _, chunk := range chunkArgs(rowIDs, sqliteChunk) {
		found, err := s.query(ctx, "SELECT "+sqliteColumns+" FROM job_records WHERE id IN ("+placeholders(len(chunk))+") ORDER BY id", chunk...)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

// List returns every stored record in id order.
func (s *SQLiteStore) List(ctx context.Context) ([]model.StoredRecord, error) {
	return s.query(ctx, "SELECT "+sqliteColumns+" FROM job_records ORDER BY id")
}

// Wipe deletes every record and reports how many were removed.
func (s *SQLiteStore) Wipe(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM job_records")
	if err != nil {
		return 0, fmt.Errorf("wiping job_records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting wiped records: %w", err)
	}
	return n, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]model.StoredRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying job_records: %w", err)
	}
	defer rows.Close()

	var out []model.StoredRecord
	for rows.Next() {
		var (
			rec       model.StoredRecord
			id        int64
			locs      string
			fetchedMs int64
		)
		err := rows.Scan(&id, &rec.ExternalID, &rec.Title, &rec.Organisation, &rec.Department, &rec.Grade, &locs,
			&rec.Remuneration.Min, &rec.Remuneration.Max, &rec.StartDate, &rec.CloseDate, &rec.DurationDays,
			&rec.SourceURI, &fetchedMs)
		if err != nil {
			return nil, fmt.Errorf("scanning job record: %w", err)
		}
		if err := json.Unmarshal([]byte(locs), &rec.Locations); err != nil {
			return nil, fmt.Errorf("decoding locations of record %d: %w", id, err)
		}
		rec.ID = formatRowID(id)
		rec.FetchedAt = time.UnixMilli(fetchedMs).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading job_records: %w", err)
	}
	return out, nil
}

func formatRowID(id int64) model.RecordID {
	return model.RecordID(strconv.FormatInt(id, 10))
}

// parseRowIDs drops ids that are not row numbers; no such row can exist.
func parseRowIDs(ids []model.RecordID) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		n, err := strconv.ParseInt(string(id), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

func chunkArgs(ids []int64, size int) [][]any {
	var chunks [][]any
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunk := make([]any, 0, end-start)
		for _, id := range ids[start:end] {
			chunk = append(chunk, id)
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
