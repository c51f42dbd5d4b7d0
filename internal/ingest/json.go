package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"doorguard/internal/normalize"
)

func ParseJSONBytes(data []byte) (*normalize.ReadingFields, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

// ParseJSONMap accepts a few common spellings for each field.
func ParseJSONMap(obj map[string]interface{}) *normalize.ReadingFields {
	extras := make(map[string]string, len(obj))
	for key, val := range obj {
		if val == nil {
			continue
		}
		extras[strings.ToLower(key)] = fmt.Sprint(val)
	}
	return &normalize.ReadingFields{
		ID:         firstNonEmpty(extras, "id", "reading_id"),
		RecordedAt: firstNonEmpty(extras, "recorded_at", "recordedat", "timestamp", "time", "ts"),
		DoorStatus: firstNonEmpty(extras, "door_status", "doorstatus", "status", "state"),
	}
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}
