package metrics

import (
	"errors"
	"testing"
	"time"

	"doorguard/internal/model"
)

func TestUpdateDiscardsOlderSnapshot(t *testing.T) {
	s := NewStore()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if !s.Update(model.Snapshot{LastUpdated: now, TotalEntriesInWindow: 3}) {
		t.Fatalf("first update rejected")
	}
	if s.Update(model.Snapshot{LastUpdated: now.Add(-time.Second), TotalEntriesInWindow: 1}) {
		t.Fatalf("older snapshot accepted")
	}
	snap, ok := s.Get()
	if !ok || snap.TotalEntriesInWindow != 3 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if st := s.Stats(); st.Refreshes != 1 || st.Stale != 1 {
		t.Fatalf("stats %+v", st)
	}
}

func TestRecordFailureKeepsSnapshot(t *testing.T) {
	s := NewStore()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Update(model.Snapshot{LastUpdated: now, CurrentDoorStatus: model.DoorClosed})
	s.RecordFailure(errors.New("store unreachable"), now.Add(time.Second))
	snap, _ := s.Get()
	if snap.CurrentDoorStatus != model.DoorClosed {
		t.Fatalf("snapshot lost after failure")
	}
	if st := s.Stats(); st.Failures != 1 || st.LastError != "store unreachable" {
		t.Fatalf("stats %+v", st)
	}
	s.Clear()
	if _, ok := s.Get(); ok {
		t.Fatalf("clear left a snapshot")
	}
}
