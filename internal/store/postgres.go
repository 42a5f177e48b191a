package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amishk599/jobtracker/internal/model"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS job_records (
		id            BIGSERIAL PRIMARY KEY,
		external_id   TEXT        NOT NULL CHECK (external_id <> ''),
		title         TEXT        NOT NULL,
		organisation  TEXT        NOT NULL,
		department    TEXT        NOT NULL DEFAULT '',
		grade         TEXT        NOT NULL,
		locations     TEXT[]      NOT NULL DEFAULT '{}',
		pay_min       DOUBLE PRECISION NOT NULL,
		pay_max       DOUBLE PRECISION NOT NULL,
		start_date    DATE        NOT NULL,
		close_date    DATE        NOT NULL,
		duration_days INTEGER     NOT NULL,
		source_uri    TEXT        NOT NULL,
		fetched_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_records_external_id ON job_records (external_id)`,
}

const postgresColumns = `id, external_id, title, organisation, department, grade, locations,
	pay_min, pay_max, to_char(start_date, 'YYYY-MM-DD'), to_char(close_date, 'YYYY-MM-DD'),
	duration_days, source_uri, fetched_at`

// PostgresStore persists job records in PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ model.Store = (*PostgresStore)(nil)

// NewPostgresPool creates and verifies a pgxpool connection pool.
func NewPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	return pool, nil
}

// NewPostgresStore connects to databaseURL and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := NewPostgresPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("creating job_records schema: %w", err)
		}
	}
	return &PostgresStore{pool: pool}, nil
}

// InsertMany runs one INSERT per record outside any transaction, so a record
// the database rejects never rolls back its neighbours.
func (s *PostgresStore) InsertMany(ctx context.Context, records []model.JobRecord) (model.InsertResult, error) {
	var res model.InsertResult
	for _, r := range records {
		r.Locations = nonNil(r.Locations)
		var id int64
		err := s.pool.QueryRow(ctx, `INSERT INTO job_records (
			external_id, title, organisation, department, grade, locations,
			pay_min, pay_max, start_date, close_date, duration_days, source_uri, fetched_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::date, $10::date, $11, $12, $13)
		RETURNING id`,
			r.ExternalID, r.Title, r.Organisation, r.Department, r.Grade, r.Locations,
			r.Remuneration.Min, r.Remuneration.Max, r.StartDate, r.CloseDate, r.DurationDays,
			r.SourceURI, r.FetchedAt,
		).Scan(&id)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, fmt.Errorf("inserting records: %w", ctxErr)
			}
			res.Failed = append(res.Failed, model.InsertFailure{ExternalID: r.ExternalID, Err: err})
			continue
		}
		res.Inserted = append(res.Inserted, model.StoredRecord{ID: formatRowID(id), JobRecord: r})
	}
	return res, nil
}

func (s *PostgresStore) DuplicateGroups(ctx context.Context) ([]model.DuplicateGroup, error) {
	rows, err := s.pool.Query(ctx, `SELECT external_id,
			array_agg(id ORDER BY id),
			array_agg(fetched_at ORDER BY id)
		FROM job_records
		GROUP BY external_id
		HAVING count(*) > 1
		ORDER BY external_id`)
	if err != nil {
		return nil, fmt.Errorf("grouping duplicates: %w", err)
	}
	defer rows.Close()

	var groups []model.DuplicateGroup
	for rows.Next() {
		var (
			external string
			ids      []int64
			fetched  []time.Time
		)
		if err := rows.Scan(&external, &ids, &fetched); err != nil {
			return nil, fmt.Errorf("scanning duplicate group: %w", err)
		}
		if len(ids) != len(fetched) {
			return nil, fmt.Errorf("duplicate group %s: %d ids but %d timestamps", external, len(ids), len(fetched))
		}
		g := model.DuplicateGroup{ExternalID: external, Members: make([]model.GroupMember, len(ids))}
		for i := range ids {
			g.Members[i] = model.GroupMember{ID: formatRowID(ids[i]), FetchedAt: fetched[i].UTC()}
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("grouping duplicates: %w", err)
	}
	return groups, nil
}

// DeleteMany removes the given ids with a single statement.
func (s *PostgresStore) DeleteMany(ctx context.Context, ids []model.RecordID) (int64, error) {
	rowIDs := parseRowIDs(ids)
	if len(rowIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, "DELETE FROM job_records WHERE id = ANY($1)", rowIDs)
	if err != nil {
		return 0, fmt.Errorf("deleting %d records: %w", len(rowIDs), err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Find(ctx context.Context, ids []model.RecordID) ([]model.StoredRecord, error) {
	rowIDs := parseRowIDs(ids)
	if len(rowIDs) == 0 {
		return nil, nil
	}
	return s.query(ctx, "SELECT "+postgresColumns+" FROM job_records WHERE id = ANY($1) ORDER BY id", rowIDs)
}

func (s *PostgresStore) List(ctx context.Context) ([]model.StoredRecord, error) {
	return s.query(ctx, "SELECT "+postgresColumns+" FROM job_records ORDER BY id")
}

func (s *PostgresStore) Wipe(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM job_records")
	if err != nil {
		return 0, fmt.Errorf("wiping job_records: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]model.StoredRecord, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying job_records: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.StoredRecord, error) {
		var (
			rec model.StoredRecord
			id  int64
		)
		err := row.Scan(&id, &rec.ExternalID, &rec.Title, &rec.Organisation, &rec.Department, &rec.Grade,
			&rec.Locations, &rec.Remuneration.Min, &rec.Remuneration.Max, &rec.StartDate, &rec.CloseDate,
			&rec.DurationDays, &rec.SourceURI, &rec.FetchedAt)
		rec.ID = formatRowID(id)
		rec.FetchedAt = rec.FetchedAt.UTC()
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("reading job_records: %w", err)
	}
	return out, nil
}
