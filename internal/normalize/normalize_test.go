package normalize

import (
	"testing"
	"time"

	"doorguard/internal/model"
)

func TestNormalizeReading(t *testing.T) {
	r, err := Normalize(ReadingFields{ID: "17", RecordedAt: "2024-03-01T23:15:00Z", DoorStatus: "OPEN", Source: "mqtt"}, time.UTC)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if r.ID != 17 || r.DoorStatus != model.DoorOpen || r.Source != "mqtt" {
		t.Fatalf("unexpected reading %+v", r)
	}
	if !r.RecordedAt.Equal(time.Date(2024, 3, 1, 23, 15, 0, 0, time.UTC)) {
		t.Fatalf("timestamp: %v", r.RecordedAt)
	}
}

func TestNormalizeLocalTimestampUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	r, err := Normalize(ReadingFields{RecordedAt: "2024-03-01 23:15:00", DoorStatus: "closed"}, loc)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !r.RecordedAt.Equal(time.Date(2024, 3, 1, 21, 15, 0, 0, time.UTC)) {
		t.Fatalf("expected zone-adjusted time, got %v", r.RecordedAt)
	}
}

func TestNormalizeRejectsBadInput(t *testing.T) {
	bad := []ReadingFields{
		{DoorStatus: "ajar"},
		{DoorStatus: "OPEN", ID: "x"},
		{DoorStatus: "OPEN", RecordedAt: "yesterday"},
	}
	for _, f := range bad {
		if _, err := Normalize(f, time.UTC); err == nil {
			t.Fatalf("expected error for %+v", f)
		}
	}
}

func TestParseTimestampUnix(t *testing.T) {
	sec, err := ParseTimestamp("1709334900", time.UTC)
	if err != nil {
		t.Fatalf("seconds: %v", err)
	}
	ms, err := ParseTimestamp("1709334900000", time.UTC)
	if err != nil {
		t.Fatalf("millis: %v", err)
	}
	if !sec.Equal(ms) {
		t.Fatalf("seconds and millis disagree: %v %v", sec, ms)
	}
}

func TestParseDoorStatus(t *testing.T) {
	cases := map[string]model.DoorStatus{
		"OPEN": model.DoorOpen, " opened ": model.DoorOpen, "1": model.DoorOpen,
		"CLOSED": model.DoorClosed, "shut": model.DoorClosed, "false": model.DoorClosed,
	}
	for in, want := range cases {
		got, err := ParseDoorStatus(in)
		if err != nil || got != want {
			t.Fatalf("%q: got %q err %v", in, got, err)
		}
	}
}
