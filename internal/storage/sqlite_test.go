package storage

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"doorguard/internal/config"
	"doorguard/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:test_%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", name)
	st, err := NewSQLite(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return st
}

func TestSQLiteReadingsPaginateAscending(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLite(t)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	statuses := []model.DoorStatus{model.DoorClosed, model.DoorOpen, model.DoorClosed, model.DoorOpen, model.DoorClosed}
	for i, status := range statuses {
		if _, err := st.InsertReading(ctx, model.Reading{RecordedAt: base.Add(time.Duration(i) * time.Second), DoorStatus: status}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	page1, err := st.ReadingsInWindow(ctx, base, 2, 0)
	if err != nil {
		t.Fatalf("page1: %v", err)
	}
	page3, err := st.ReadingsInWindow(ctx, base, 2, 4)
	if err != nil {
		t.Fatalf("page3: %v", err)
	}
	if len(page1) != 2 || len(page3) != 1 {
		t.Fatalf("unexpected page sizes %d %d", len(page1), len(page3))
	}
	if !page1[0].RecordedAt.Equal(base) || page1[1].DoorStatus != model.DoorOpen {
		t.Fatalf("page1 out of order: %+v", page1)
	}
	if !page3[0].RecordedAt.Equal(base.Add(4 * time.Second)) {
		t.Fatalf("page3 wrong row: %+v", page3[0])
	}
	windowed, err := st.ReadingsInWindow(ctx, base.Add(3*time.Second), 10, 0)
	if err != nil {
		t.Fatalf("windowed: %v", err)
	}
	if len(windowed) != 2 {
		t.Fatalf("expected 2 readings since cutoff, got %d", len(windowed))
	}
}

func TestSQLiteLatestReading(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLite(t)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	latest, err := st.LatestReading(ctx, base)
	if err != nil || latest != nil {
		t.Fatalf("empty store: %+v %v", latest, err)
	}
	if _, err := st.InsertReading(ctx, model.Reading{RecordedAt: base, DoorStatus: model.DoorClosed}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	inserted, err := st.InsertReading(ctx, model.Reading{RecordedAt: base.Add(time.Second), DoorStatus: model.DoorOpen})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	latest, err = st.LatestReading(ctx, base)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || latest.ID != inserted.ID || latest.DoorStatus != model.DoorOpen {
		t.Fatalf("unexpected latest: %+v", latest)
	}
	latest, err = st.LatestReading(ctx, base.Add(time.Minute))
	if err != nil || latest != nil {
		t.Fatalf("cutoff should hide old readings: %+v %v", latest, err)
	}
}

func TestSQLiteRejectsUnknownStatus(t *testing.T) {
	st := newTestSQLite(t)
	if _, err := st.InsertReading(context.Background(), model.Reading{DoorStatus: "AJAR"}); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func TestSQLiteSettingsUpsert(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLite(t)
	if _, ok, err := st.GetSetting(ctx, "k"); err != nil || ok {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}
	if err := st.PutSetting(ctx, "k", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := st.PutSetting(ctx, "k", []byte(`{"a":2}`)); err != nil {
		t.Fatalf("put again: %v", err)
	}
	val, ok, err := st.GetSetting(ctx, "k")
	if err != nil || !ok || string(val) != `{"a":2}` {
		t.Fatalf("get: %s %v %v", val, ok, err)
	}
}

func TestNewStoreUnsupportedDriver(t *testing.T) {
	if _, err := NewStore(config.StorageConfig{Driver: "oracle"}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}
