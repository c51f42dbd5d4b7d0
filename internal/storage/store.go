package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"doorguard/internal/config"
	"doorguard/internal/model"
)

var ErrUnsupportedDriver = errors.New("unsupported storage driver")

// Store is the reading store plus a small key/value table for settings.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	InsertReading(ctx context.Context, r model.Reading) (model.Reading, error)
	// LatestReading returns nil when nothing was recorded since the cutoff.
	LatestReading(ctx context.Context, since time.Time) (*model.Reading, error)
	// ReadingsInWindow pages ascending by recorded_at then id.
	ReadingsInWindow(ctx context.Context, since time.Time, pageSize, offset int) ([]model.Reading, error)
	GetSetting(ctx context.Context, key string) ([]byte, bool, error)
	PutSetting(ctx context.Context, key string, value []byte) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) exec(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func normalizeInsert(r model.Reading) (model.Reading, error) {
	switch r.DoorStatus {
	case model.DoorOpen, model.DoorClosed:
	default:
		return r, fmt.Errorf("door_status must be OPEN or CLOSED, got %q", r.DoorStatus)
	}
	if r.RecordedAt.IsZero() {
		r.RecordedAt = nowUTC()
	}
	r.RecordedAt = r.RecordedAt.UTC()
	return r, nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
