package security

import (
	"time"

	"doorguard/internal/model"
)

const (
	DefaultNightStart      = "23:00"
	DefaultNightEnd        = "06:00"
	DefaultMaxOpenDuration = 300

	MinOpenDuration = 30
	MaxOpenDuration = 3600
)

// Config holds the operator-tunable thresholds. Bounds are HH:MM strings.
type Config struct {
	NightModeStart         string `json:"night_mode_start"`
	NightModeEnd           string `json:"night_mode_end"`
	MaxOpenDurationSeconds int    `json:"max_open_duration_seconds"`
}

func DefaultConfig() Config {
	return Config{
		NightModeStart:         DefaultNightStart,
		NightModeEnd:           DefaultNightEnd,
		MaxOpenDurationSeconds: DefaultMaxOpenDuration,
	}
}

func (c Config) Validate() error {
	if _, err := ParseClock(c.NightModeStart); err != nil {
		return err
	}
	if _, err := ParseClock(c.NightModeEnd); err != nil {
		return err
	}
	return nil
}

// Canonical rewrites parseable bounds in their zero-padded HH:MM form.
func (c Config) Canonical() Config {
	if v, err := ParseClock(c.NightModeStart); err == nil {
		c.NightModeStart = v.String()
	}
	if v, err := ParseClock(c.NightModeEnd); err == nil {
		c.NightModeEnd = v.String()
	}
	return c
}

// Clamped returns c with MaxOpenDurationSeconds pulled into the supported range.
func (c Config) Clamped() Config {
	switch {
	case c.MaxOpenDurationSeconds < MinOpenDuration:
		c.MaxOpenDurationSeconds = MinOpenDuration
	case c.MaxOpenDurationSeconds > MaxOpenDuration:
		c.MaxOpenDurationSeconds = MaxOpenDuration
	}
	return c
}

func (c Config) MaxOpen() time.Duration {
	return time.Duration(c.MaxOpenDurationSeconds) * time.Second
}

// InNightMode falls back to the default window if a bound fails to parse.
func (c Config) InNightMode(now time.Time) bool {
	start, err := ParseClock(c.NightModeStart)
	if err != nil {
		start = MustClock(DefaultNightStart)
	}
	end, err := ParseClock(c.NightModeEnd)
	if err != nil {
		end = MustClock(DefaultNightEnd)
	}
	return IsWithinNightMode(now, start, end)
}

// Evaluate classifies the door. Night mode wins over the duration threshold.
// Any status other than OPEN is secure.
func Evaluate(status model.DoorStatus, openFor time.Duration, now time.Time, cfg Config) model.Evaluation {
	if status != model.DoorOpen {
		return model.Evaluation{Status: model.PostureSecure}
	}
	if cfg.InNightMode(now) {
		return model.Evaluation{Status: model.PostureIntrusion, IsRedAlert: true}
	}
	if cfg.MaxOpenDurationSeconds > 0 && openFor >= cfg.MaxOpen() {
		return model.Evaluation{Status: model.PostureDoorOpenTooLong, IsRedAlert: true}
	}
	return model.Evaluation{Status: model.PostureDoorOpen, IsAmberWarning: true}
}

// AlertFor maps a posture to the alert it should raise, if any.
func AlertFor(p model.Posture) (model.AlertKind, bool) {
	switch p {
	case model.PostureIntrusion:
		return model.AlertIntrusion, true
	case model.PostureDoorOpenTooLong:
		return model.AlertDoorOpenTooLong, true
	}
	return "", false
}
