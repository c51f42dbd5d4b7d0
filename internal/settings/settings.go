package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"doorguard/internal/security"
)

const DefaultKey = "security_settings"

var ErrInvalidDuration = errors.New("max_open_duration_seconds must be positive")

// KV is the persistence behind the settings record.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Patch is a partial update. Nil fields keep their current value.
type Patch struct {
	NightModeStart         *string `json:"night_mode_start,omitempty"`
	NightModeEnd           *string `json:"night_mode_end,omitempty"`
	MaxOpenDurationSeconds *int    `json:"max_open_duration_seconds,omitempty"`
}

type Store struct {
	kv      KV
	key     string
	logger  *slog.Logger
	current atomic.Value

	// saveMu serialises read-merge-persist so concurrent patches do not drop fields.
	saveMu sync.Mutex
}

func NewStore(kv KV, key string, logger *slog.Logger) *Store {
	if key == "" {
		key = DefaultKey
	}
	s := &Store{kv: kv, key: key, logger: logger}
	s.current.Store(security.DefaultConfig())
	return s
}

func (s *Store) Current() security.Config {
	return s.current.Load().(security.Config)
}

// Load reads the persisted record. It never fails: an absent, unreadable or
// corrupt record yields defaults, and a bad field falls back on its own.
func (s *Store) Load(ctx context.Context) security.Config {
	cfg := security.DefaultConfig()
	if s.kv == nil {
		s.current.Store(cfg)
		return cfg
	}
	raw, ok, err := s.kv.Get(ctx, s.key)
	switch {
	case err != nil:
		s.warn("settings read failed, using defaults", err)
	case ok:
		cfg = decode(raw, s)
	}
	s.current.Store(cfg)
	return cfg
}

// Save merges patch into the current value, validates it and persists the
// result. The in-memory value only changes once persistence succeeds.
func (s *Store) Save(ctx context.Context, patch Patch) (security.Config, error) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	next := s.Current()
	if patch.NightModeStart != nil {
		next.NightModeStart = *patch.NightModeStart
	}
	if patch.NightModeEnd != nil {
		next.NightModeEnd = *patch.NightModeEnd
	}
	if patch.MaxOpenDurationSeconds != nil {
		if *patch.MaxOpenDurationSeconds <= 0 {
			return s.Current(), ErrInvalidDuration
		}
		next.MaxOpenDurationSeconds = *patch.MaxOpenDurationSeconds
	}
	if err := next.Validate(); err != nil {
		return s.Current(), err
	}
	next = next.Canonical().Clamped()
	if s.kv != nil {
		data, err := json.Marshal(next)
		if err != nil {
			return s.Current(), err
		}
		if err := s.kv.Set(ctx, s.key, data); err != nil {
			return s.Current(), fmt.Errorf("persist settings: %w", err)
		}
	}
	s.current.Store(next)
	if s.logger != nil {
		s.logger.Info("security settings saved",
			"night_mode_start", next.NightModeStart,
			"night_mode_end", next.NightModeEnd,
			"max_open_duration_seconds", next.MaxOpenDurationSeconds)
	}
	return next, nil
}

type storedRecord struct {
	NightModeStart         *string      `json:"night_mode_start"`
	NightModeEnd           *string      `json:"night_mode_end"`
	MaxOpenDurationSeconds *json.Number `json:"max_open_duration_seconds"`
}

func decode(raw []byte, s *Store) security.Config {
	cfg := security.DefaultConfig()
	var rec storedRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		s.warn("settings record malformed, using defaults", err)
		return cfg
	}
	if rec.NightModeStart != nil {
		if _, err := security.ParseClock(*rec.NightModeStart); err == nil {
			cfg.NightModeStart = *rec.NightModeStart
		}
	}
	if rec.NightModeEnd != nil {
		if _, err := security.ParseClock(*rec.NightModeEnd); err == nil {
			cfg.NightModeEnd = *rec.NightModeEnd
		}
	}
	if rec.MaxOpenDurationSeconds != nil {
		if v, err := rec.MaxOpenDurationSeconds.Int64(); err == nil && v > 0 {
			cfg.MaxOpenDurationSeconds = int(v)
		}
	}
	return cfg.Canonical().Clamped()
}

func (s *Store) warn(msg string, err error) {
	if s.logger != nil {
		s.logger.Warn(msg, "key", s.key, "error", err)
	}
}
