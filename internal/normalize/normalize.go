package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"doorguard/internal/model"
)

// ReadingFields is a reading as it arrives on the wire, before validation.
type ReadingFields struct {
	ID         string
	RecordedAt string
	DoorStatus string
	Source     string
}

// Normalize validates fields into a reading. A missing timestamp means now;
// timestamps without a zone are read in loc.
func Normalize(fields ReadingFields, loc *time.Location) (model.Reading, error) {
	if loc == nil {
		loc = time.UTC
	}
	status, err := ParseDoorStatus(fields.DoorStatus)
	if err != nil {
		return model.Reading{}, err
	}
	var id int64
	if v := strings.TrimSpace(fields.ID); v != "" {
		id, err = strconv.ParseInt(v, 10, 64)
		if err != nil || id < 0 {
			return model.Reading{}, fmt.Errorf("invalid reading id %q", fields.ID)
		}
	}
	ts := time.Now().UTC()
	if fields.RecordedAt != "" {
		parsed, err := ParseTimestamp(fields.RecordedAt, loc)
		if err != nil {
			return model.Reading{}, fmt.Errorf("parse recorded_at: %w", err)
		}
		ts = parsed.UTC()
	}
	return model.Reading{
		ID:         id,
		RecordedAt: ts,
		DoorStatus: status,
		Source:     strings.TrimSpace(fields.Source),
	}, nil
}

func ParseDoorStatus(value string) (model.DoorStatus, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "open", "opened", "1", "true", "on":
		return model.DoorOpen, nil
	case "closed", "close", "shut", "0", "false", "off":
		return model.DoorClosed, nil
	}
	return "", fmt.Errorf("unknown door status %q", value)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
}

func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

// parseUnix treats 13 or more digits as milliseconds.
func parseUnix(value string) (time.Time, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if len(value) >= 13 {
		return time.UnixMilli(n).UTC(), nil
	}
	return time.Unix(n, 0).UTC(), nil
}
