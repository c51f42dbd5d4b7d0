package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"doorguard/internal/model"
)

// recorded_at is kept as unix milliseconds so ordering and range scans stay numeric.
type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:doorguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			recorded_at INTEGER NOT NULL,
			door_status TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_recorded_at ON readings(recorded_at)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	})
}

func (s *sqliteStore) InsertReading(ctx context.Context, r model.Reading) (model.Reading, error) {
	r, err := normalizeInsert(r)
	if err != nil {
		return r, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO readings (recorded_at, door_status, source) VALUES (?, ?, ?)`,
		r.RecordedAt.UnixMilli(), string(r.DoorStatus), r.Source)
	if err != nil {
		return r, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return r, err
	}
	r.ID = id
	r.RecordedAt = time.UnixMilli(r.RecordedAt.UnixMilli()).UTC()
	return r, nil
}

func (s *sqliteStore) LatestReading(ctx context.Context, since time.Time) (*model.Reading, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, recorded_at, door_status, source FROM readings
		WHERE recorded_at >= ? ORDER BY recorded_at DESC, id DESC LIMIT 1`,
		since.UTC().UnixMilli())
	r, err := scanSQLiteReading(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *sqliteStore) ReadingsInWindow(ctx context.Context, since time.Time, pageSize, offset int) ([]model.Reading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, recorded_at, door_status, source FROM readings
		WHERE recorded_at >= ? ORDER BY recorded_at ASC, id ASC LIMIT ? OFFSET ?`,
		since.UTC().UnixMilli(), pageSize, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Reading, 0, pageSize)
	for rows.Next() {
		r, err := scanSQLiteReading(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetSetting(ctx context.Context, key string) ([]byte, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(value), true, nil
}

func (s *sqliteStore) PutSetting(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, string(value))
	return err
}

func scanSQLiteReading(scan func(dest ...any) error) (model.Reading, error) {
	var (
		r      model.Reading
		millis int64
		status string
	)
	if err := scan(&r.ID, &millis, &status, &r.Source); err != nil {
		return r, err
	}
	r.RecordedAt = time.UnixMilli(millis).UTC()
	r.DoorStatus = model.DoorStatus(status)
	return r, nil
}
