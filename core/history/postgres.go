package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS scm_cycles (
    id BIGSERIAL PRIMARY KEY,
    ts TIMESTAMPTZ NOT NULL,
    cycle_id TEXT NOT NULL,
    grp TEXT NOT NULL,
    outcome TEXT NOT NULL,
    record JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS scm_cycles_ts ON scm_cycles (ts);`

// PostgresStore persists records to PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and ensures schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Append writes the record to the database.
func (s *PostgresStore) Append(ctx context.Context, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO scm_cycles (ts, cycle_id, grp, outcome, record) VALUES ($1, $2, $3, $4, $5)`,
		rec.Timestamp, rec.CycleID, rec.Group, rec.Outcome, b)
	return err
}

// Query returns records matching q. The session filter runs on the JSONB
// document so Limit applies after it.
func (s *PostgresStore) Query(ctx context.Context, q Query) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if !q.Start.IsZero() {
		add("ts >= $%d", q.Start)
	}
	if !q.End.IsZero() {
		add("ts <= $%d", q.End)
	}
	if q.Group != "" {
		add("grp = $%d", q.Group)
	}
	if q.Outcome != "" {
		add("outcome = $%d", q.Outcome)
	}
	if q.SessionID != "" {
		add("(record->'profiles' @> jsonb_build_array(jsonb_build_object('session_id', $%[1]d::text)) OR record->'unmet_wh' ? $%[1]d::text)", q.SessionID)
	}
	query := `SELECT record FROM scm_cycles`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY ts, id`
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, q.Limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var data []byte
		if err := row.Scan(&data); err != nil {
			return Record{}, err
		}
		var r Record
		if err := json.Unmarshal(data, &r); err != nil {
			return Record{}, fmt.Errorf("unmarshal record: %w", err)
		}
		return r, nil
	})
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
