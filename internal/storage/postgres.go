package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"doorguard/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/doorguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return newPostgresWithDB(db), nil
}

func newPostgresWithDB(db *sql.DB) *postgresStore {
	return &postgresStore{baseStore{db: db}}
}

func (s *postgresStore) Init(ctx context.Context) error {
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS readings (
			id BIGSERIAL PRIMARY KEY,
			recorded_at TIMESTAMPTZ NOT NULL,
			door_status TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_recorded_at ON readings(recorded_at)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value JSONB NOT NULL
		)`,
	})
}

func (s *postgresStore) InsertReading(ctx context.Context, r model.Reading) (model.Reading, error) {
	r, err := normalizeInsert(r)
	if err != nil {
		return r, err
	}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO readings (recorded_at, door_status, source) VALUES ($1, $2, $3) RETURNING id`,
		r.RecordedAt, string(r.DoorStatus), r.Source).Scan(&r.ID)
	return r, err
}

func (s *postgresStore) LatestReading(ctx context.Context, since time.Time) (*model.Reading, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, recorded_at, door_status, source FROM readings
		WHERE recorded_at >= $1 ORDER BY recorded_at DESC, id DESC LIMIT 1`,
		since.UTC())
	r, err := scanPostgresReading(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *postgresStore) ReadingsInWindow(ctx context.Context, since time.Time, pageSize, offset int) ([]model.Reading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, recorded_at, door_status, source FROM readings
		WHERE recorded_at >= $1 ORDER BY recorded_at ASC, id ASC LIMIT $2 OFFSET $3`,
		since.UTC(), pageSize, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Reading, 0, pageSize)
	for rows.Next() {
		r, err := scanPostgresReading(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *postgresStore) GetSetting(ctx context.Context, key string) ([]byte, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value::text FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(value), true, nil
}

func (s *postgresStore) PutSetting(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2::jsonb)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, string(value))
	return err
}

func scanPostgresReading(scan func(dest ...any) error) (model.Reading, error) {
	var (
		r      model.Reading
		status string
	)
	if err := scan(&r.ID, &r.RecordedAt, &status, &r.Source); err != nil {
		return r, err
	}
	r.RecordedAt = r.RecordedAt.UTC()
	r.DoorStatus = model.DoorStatus(status)
	return r, nil
}
